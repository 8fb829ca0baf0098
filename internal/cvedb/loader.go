package cvedb

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"Fenrir/internal/model"
	"Fenrir/internal/utils"
)

var packageLogger = utils.NewLogger("cvedb-loader")

// LoadReport 一次批量导入的统计
type LoadReport struct {
	Source  string `json:"source"`
	Loaded  int    `json:"loaded"`
	Skipped int    `json:"skipped"`
}

// BulkLoad 批量写入记录，格式错误的记录逐条跳过，导入继续进行
func (s *Store) BulkLoad(records []model.VulnerabilityRecord) (LoadReport, error) {
	report, err := s.bulkLoad(records, 0)
	if err != nil {
		return report, err
	}
	report.Source = "bulk"
	s.recordUpdate(report.Source, report)
	return report, nil
}

func (s *Store) bulkLoad(records []model.VulnerabilityRecord, skipped int) (LoadReport, error) {
	report := LoadReport{Skipped: skipped}

	tx, err := s.db.Begin()
	if err != nil {
		return report, fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	for _, record := range records {
		if err := record.Validate(); err != nil {
			s.logger.Warn("跳过格式错误的记录: %v", err)
			report.Skipped++
			continue
		}
		if err := putRecord(tx, record); err != nil {
			return report, err
		}
		report.Loaded++
	}

	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("提交事务失败: %w", err)
	}
	return report, nil
}

// LoadFeedFile 导入本地数据文件
// 支持 NVD JSON 数据文件（1.1 与 2.0 版）以及 YAML/JSON 记录列表，可为 .gz 或 .zip 压缩
func (s *Store) LoadFeedFile(path string) (LoadReport, error) {
	s.logger.Info("开始导入数据文件: %s", path)

	data, name, err := readFeedFile(path)
	if err != nil {
		return LoadReport{Source: path}, err
	}

	records, skipped, err := parseFeed(name, data)
	if err != nil {
		return LoadReport{Source: path}, err
	}
	report, err := s.bulkLoad(records, skipped)
	report.Source = filepath.Base(path)
	if err != nil {
		return report, err
	}

	s.recordUpdate(report.Source, report)
	s.logger.Info("导入完成 %s: 成功 %d 条, 跳过 %d 条", report.Source, report.Loaded, report.Skipped)
	return report, nil
}

// readFeedFile 读取文件并按扩展名解压，返回内容与解压后的文件名
func readFeedFile(path string) ([]byte, string, error) {
	name := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(name))

	switch ext {
	case ".zip":
		return extractZip(path)
	case ".gz":
		f, err := os.Open(path)
		if err != nil {
			return nil, "", fmt.Errorf("打开文件失败: %w", err)
		}
		defer f.Close()

		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, "", fmt.Errorf("解压失败 %s: %w", name, err)
		}
		defer gz.Close()

		data, err := io.ReadAll(gz)
		if err != nil {
			return nil, "", fmt.Errorf("解压失败 %s: %w", name, err)
		}
		return data, strings.TrimSuffix(name, filepath.Ext(name)), nil
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("读取文件失败: %w", err)
		}
		return data, name, nil
	}
}

// extractZip 读取ZIP中的第一个JSON或YAML文件
func extractZip(zipPath string) ([]byte, string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, "", fmt.Errorf("打开ZIP失败: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		ext := strings.ToLower(filepath.Ext(f.Name))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, "", err
		}
		defer rc.Close()

		content, err := io.ReadAll(rc)
		if err != nil {
			return nil, "", err
		}
		return content, f.Name, nil
	}
	return nil, "", fmt.Errorf("%s 中未找到JSON或YAML文件", filepath.Base(zipPath))
}

// parseFeed 解析数据内容，返回有效记录与解析阶段跳过的条目数
func parseFeed(name string, data []byte) ([]model.VulnerabilityRecord, int, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".yaml" || ext == ".yml" {
		var items []interface{}
		if err := yaml.Unmarshal(data, &items); err != nil {
			return nil, 0, fmt.Errorf("解析YAML失败 %s: %w", name, err)
		}
		return recordsFromList(items)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []interface{}
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, 0, fmt.Errorf("解析JSON失败 %s: %w", name, err)
		}
		return recordsFromList(items)
	}

	var feed nvdFeed
	if err := json.Unmarshal(trimmed, &feed); err != nil {
		return nil, 0, fmt.Errorf("解析JSON失败 %s: %w", name, err)
	}
	if feed.CVEItems == nil && feed.Vulnerabilities == nil {
		return nil, 0, fmt.Errorf("%s: 无法识别的数据格式", name)
	}
	return recordsFromFeed(feed)
}

func recordsFromFeed(feed nvdFeed) ([]model.VulnerabilityRecord, int, error) {
	records := make([]model.VulnerabilityRecord, 0, len(feed.CVEItems)+len(feed.Vulnerabilities))
	skipped := 0

	for _, item := range feed.CVEItems {
		record, err := item.convert()
		if err != nil {
			packageLogger.Warn("跳过格式错误的条目: %v", err)
			skipped++
			continue
		}
		records = append(records, record)
	}
	for _, vuln := range feed.Vulnerabilities {
		record, err := vuln.convert()
		if err != nil {
			packageLogger.Warn("跳过格式错误的条目: %v", err)
			skipped++
			continue
		}
		records = append(records, record)
	}
	return records, skipped, nil
}

func recordsFromList(items []interface{}) ([]model.VulnerabilityRecord, int, error) {
	records := make([]model.VulnerabilityRecord, 0, len(items))
	skipped := 0
	for i, item := range items {
		record, err := recordFromMap(item)
		if err != nil {
			packageLogger.Warn("跳过第 %d 条记录: %v", i+1, err)
			skipped++
			continue
		}
		records = append(records, record)
	}
	return records, skipped, nil
}

// recordFromMap 宽松地将键值对转换为漏洞记录，类型不符的字段视为格式错误
func recordFromMap(item interface{}) (model.VulnerabilityRecord, error) {
	m, err := cast.ToStringMapE(item)
	if err != nil {
		return model.VulnerabilityRecord{}, fmt.Errorf("记录不是键值对: %w", err)
	}

	record := model.VulnerabilityRecord{
		ID:          strings.TrimSpace(cast.ToString(firstOf(m, "id", "cve_id"))),
		Description: cast.ToString(m["description"]),
	}

	if v := m["cvss_v3_score"]; v != nil {
		score, err := cast.ToFloat64E(v)
		if err != nil {
			return model.VulnerabilityRecord{}, fmt.Errorf("%s: 无效的CVSS分数: %v", record.ID, v)
		}
		record.CVSSV3Score = model.Score(score)
	}

	severity := strings.ToUpper(strings.TrimSpace(cast.ToString(m["severity"])))
	switch {
	case severity != "":
		record.Severity = model.Severity(severity)
	case record.CVSSV3Score != nil:
		record.Severity = model.SeverityFromScore(*record.CVSSV3Score)
	default:
		record.Severity = model.SeverityUnknown
	}

	if v := firstOf(m, "published_date", "published"); v != nil {
		if t, err := cast.ToTimeE(v); err == nil {
			record.PublishedDate = t.UTC()
		} else {
			record.PublishedDate = parseDate(cast.ToString(v))
		}
	}

	return record, record.Validate()
}

func firstOf(m map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}
