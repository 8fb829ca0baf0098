package cvedb

import (
	"fmt"
	"strings"
	"time"

	"Fenrir/internal/model"
)

// nvdFeed NVD JSON 数据文件，兼容 1.1 版 (CVE_Items) 与 2.0 版 (vulnerabilities)
type nvdFeed struct {
	CVEItems        []nvdItem          `json:"CVE_Items"`
	Vulnerabilities []nvdVulnerability `json:"vulnerabilities"`
}

// nvdItem 1.1 版数据条目
type nvdItem struct {
	CVE *struct {
		CVEDataMeta *struct {
			ID string `json:"ID"`
		} `json:"CVE_data_meta"`
		Description *struct {
			DescriptionData []struct {
				Lang  string `json:"lang"`
				Value string `json:"value"`
			} `json:"description_data"`
		} `json:"description"`
	} `json:"cve"`
	Impact *struct {
		BaseMetricV3 *struct {
			CVSSV3 struct {
				BaseScore    float64 `json:"baseScore"`
				BaseSeverity string  `json:"baseSeverity"`
			} `json:"cvssV3"`
		} `json:"baseMetricV3"`
		BaseMetricV2 *struct {
			Severity string `json:"severity"`
		} `json:"baseMetricV2"`
	} `json:"impact"`
	PublishedDate string `json:"publishedDate"`
}

type cvssV3Metric struct {
	CvssData struct {
		BaseScore    float64 `json:"baseScore"`
		BaseSeverity string  `json:"baseSeverity"`
	} `json:"cvssData"`
}

// nvdVulnerability 2.0 版数据条目
type nvdVulnerability struct {
	CVE struct {
		ID           string `json:"id"`
		Published    string `json:"published"`
		Descriptions []struct {
			Lang  string `json:"lang"`
			Value string `json:"value"`
		} `json:"descriptions"`
		Metrics struct {
			CvssMetricV31 []cvssV3Metric `json:"cvssMetricV31"`
			CvssMetricV30 []cvssV3Metric `json:"cvssMetricV30"`
			CvssMetricV2  []struct {
				BaseSeverity string `json:"baseSeverity"`
			} `json:"cvssMetricV2"`
		} `json:"metrics"`
	} `json:"cve"`
}

// convert 将1.1版条目转换为漏洞记录
// 缺少ID或描述的条目视为格式错误；优先使用 CVSS v3，否则取 v2 的严重等级
func (item nvdItem) convert() (model.VulnerabilityRecord, error) {
	if item.CVE == nil || item.CVE.CVEDataMeta == nil || item.CVE.CVEDataMeta.ID == "" {
		return model.VulnerabilityRecord{}, fmt.Errorf("条目缺少 CVE_data_meta.ID")
	}
	id := item.CVE.CVEDataMeta.ID
	if item.CVE.Description == nil || len(item.CVE.Description.DescriptionData) == 0 {
		return model.VulnerabilityRecord{}, fmt.Errorf("%s: 条目缺少描述", id)
	}

	record := model.VulnerabilityRecord{
		ID:            id,
		Description:   item.CVE.Description.DescriptionData[0].Value,
		Severity:      model.SeverityUnknown,
		PublishedDate: parseDate(item.PublishedDate),
	}

	if item.Impact != nil {
		if v3 := item.Impact.BaseMetricV3; v3 != nil {
			record.CVSSV3Score = model.Score(v3.CVSSV3.BaseScore)
			record.Severity = feedSeverity(v3.CVSSV3.BaseSeverity)
		} else if v2 := item.Impact.BaseMetricV2; v2 != nil {
			record.Severity = feedSeverity(v2.Severity)
		}
	}
	return record, record.Validate()
}

// convert 将2.0版条目转换为漏洞记录，优先使用英文描述
func (v nvdVulnerability) convert() (model.VulnerabilityRecord, error) {
	if v.CVE.ID == "" {
		return model.VulnerabilityRecord{}, fmt.Errorf("条目缺少 cve.id")
	}
	if len(v.CVE.Descriptions) == 0 {
		return model.VulnerabilityRecord{}, fmt.Errorf("%s: 条目缺少描述", v.CVE.ID)
	}

	record := model.VulnerabilityRecord{
		ID:            v.CVE.ID,
		Description:   v.CVE.Descriptions[0].Value,
		Severity:      model.SeverityUnknown,
		PublishedDate: parseDate(v.CVE.Published),
	}
	for _, desc := range v.CVE.Descriptions {
		if desc.Lang == "en" {
			record.Description = desc.Value
			break
		}
	}

	metrics := v.CVE.Metrics
	switch {
	case len(metrics.CvssMetricV31) > 0:
		record.CVSSV3Score = model.Score(metrics.CvssMetricV31[0].CvssData.BaseScore)
		record.Severity = feedSeverity(metrics.CvssMetricV31[0].CvssData.BaseSeverity)
	case len(metrics.CvssMetricV30) > 0:
		record.CVSSV3Score = model.Score(metrics.CvssMetricV30[0].CvssData.BaseScore)
		record.Severity = feedSeverity(metrics.CvssMetricV30[0].CvssData.BaseSeverity)
	case len(metrics.CvssMetricV2) > 0:
		record.Severity = feedSeverity(metrics.CvssMetricV2[0].BaseSeverity)
	}
	return record, record.Validate()
}

// feedSeverity 规范化数据源中的严重等级，NONE 与空值记为 UNKNOWN
func feedSeverity(s string) model.Severity {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" || s == "NONE" {
		return model.SeverityUnknown
	}
	return model.Severity(s)
}

// dateLayouts NVD 各版本使用的日期格式
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04Z",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseDate 解析日期，无法识别时返回零值
func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
