package cvedb

import (
	"errors"
	"fmt"

	"Fenrir/internal/model"
)

// ErrInvalidSeverity 严重等级阈值无法识别
var ErrInvalidSeverity = errors.New("无效的严重等级")

// severityRankSQL 与 model 中的排序表一致，未知取值按 0 处理
const severityRankSQL = `CASE upper(severity)
		WHEN 'MEDIUM' THEN 1
		WHEN 'HIGH' THEN 2
		WHEN 'CRITICAL' THEN 3
		ELSE 0 END`

// Lookup 在描述中做不区分大小写的子串匹配，并按严重等级阈值过滤
// 结果按等级降序、分数降序（无分数排最后）、ID升序排列
func (s *Store) Lookup(keyword, minSeverity string) ([]model.VulnerabilityRecord, error) {
	threshold, err := model.ParseSeverity(minSeverity)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSeverity, minSeverity)
	}

	query := `
	SELECT cve_id, description, cvss_v3_score, severity, published_date
	FROM vulnerabilities
	WHERE instr(lower(description), lower(?)) > 0
	AND ` + severityRankSQL + ` >= ?
	ORDER BY ` + severityRankSQL + ` DESC,
		cvss_v3_score IS NULL,
		cvss_v3_score DESC,
		cve_id ASC
	`

	rows, err := s.db.Query(query, keyword, threshold.Rank())
	if err != nil {
		return nil, fmt.Errorf("查询漏洞失败: %w", err)
	}
	defer rows.Close()

	records := []model.VulnerabilityRecord{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.logger.Debug("关键词 %q (>= %s) 命中 %d 条记录", keyword, threshold, len(records))
	return records, nil
}
