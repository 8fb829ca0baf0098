package model

import (
	"fmt"
	"strings"
	"time"
)

// Severity 漏洞严重等级
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
	SeverityUnknown  Severity = "UNKNOWN"
)

// severityRank 严重等级排序表，UNKNOWN 与 LOW 同级
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
	SeverityUnknown:  0,
}

// Rank 返回严重等级的序数，未知取值按 UNKNOWN 处理
func (s Severity) Rank() int {
	return severityRank[Severity(strings.ToUpper(string(s)))]
}

// ParseSeverity 解析严重等级字符串，空串视为 LOW 阈值
func ParseSeverity(s string) (Severity, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return SeverityLow, nil
	}
	sev := Severity(s)
	if _, ok := severityRank[sev]; !ok {
		return "", fmt.Errorf("无效的严重等级: %q", s)
	}
	return sev, nil
}

// SeverityFromScore 根据CVSS v3分数推导严重等级
func SeverityFromScore(score float64) Severity {
	switch {
	case score >= 9.0:
		return SeverityCritical
	case score >= 7.0:
		return SeverityHigh
	case score >= 4.0:
		return SeverityMedium
	case score > 0:
		return SeverityLow
	default:
		return SeverityUnknown
	}
}

// VulnerabilityRecord 漏洞记录，ID 为主键
type VulnerabilityRecord struct {
	ID            string    `json:"id" yaml:"id"`
	Description   string    `json:"description" yaml:"description"`
	CVSSV3Score   *float64  `json:"cvss_v3_score,omitempty" yaml:"cvss_v3_score,omitempty"`
	Severity      Severity  `json:"severity" yaml:"severity"`
	PublishedDate time.Time `json:"published_date" yaml:"published_date"`
}

// Validate 校验记录字段
func (r VulnerabilityRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("记录缺少ID")
	}
	if r.CVSSV3Score != nil && (*r.CVSSV3Score < 0 || *r.CVSSV3Score > 10) {
		return fmt.Errorf("%s: CVSS分数超出范围: %.1f", r.ID, *r.CVSSV3Score)
	}
	if _, ok := severityRank[r.Severity]; !ok {
		return fmt.Errorf("%s: 无效的严重等级: %q", r.ID, r.Severity)
	}
	return nil
}

// Score 便于构造可选CVSS分数
func Score(v float64) *float64 {
	return &v
}
