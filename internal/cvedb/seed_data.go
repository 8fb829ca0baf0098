package cvedb

import (
	"time"

	"Fenrir/internal/model"
)

// SeedRecords 内置的示例漏洞记录
func SeedRecords() []model.VulnerabilityRecord {
	return []model.VulnerabilityRecord{
		{
			ID:            "CVE-2021-23017",
			Description:   "nginx DNS解析器存在差一错误，可导致拒绝服务攻击",
			CVSSV3Score:   model.Score(7.7),
			Severity:      model.SeverityHigh,
			PublishedDate: time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:            "CVE-2021-40438",
			Description:   "Apache HTTP Server mod_proxy 服务端请求伪造漏洞",
			CVSSV3Score:   model.Score(9.0),
			Severity:      model.SeverityCritical,
			PublishedDate: time.Date(2021, 9, 16, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:            "CVE-2022-3602",
			Description:   "OpenSSL X.509证书验证缓冲区溢出漏洞",
			CVSSV3Score:   model.Score(7.5),
			Severity:      model.SeverityHigh,
			PublishedDate: time.Date(2022, 11, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:            "CVE-2024-6387",
			Description:   "OpenSSH sshd 信号处理竞争条件漏洞 (regreSSHion)，可导致远程代码执行",
			CVSSV3Score:   model.Score(8.1),
			Severity:      model.SeverityHigh,
			PublishedDate: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:            "CVE-2023-38408",
			Description:   "OpenSSH ssh-agent PKCS#11 远程代码执行漏洞",
			CVSSV3Score:   model.Score(9.8),
			Severity:      model.SeverityCritical,
			PublishedDate: time.Date(2023, 7, 20, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:            "CVE-2011-2523",
			Description:   "vsftpd 2.3.4 后门，用户名包含 :) 时开启命令 shell",
			CVSSV3Score:   model.Score(9.8),
			Severity:      model.SeverityCritical,
			PublishedDate: time.Date(2019, 11, 27, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:            "CVE-2022-0543",
			Description:   "Redis Lua 沙箱逃逸漏洞 (Debian 打包问题)",
			CVSSV3Score:   model.Score(10.0),
			Severity:      model.SeverityCritical,
			PublishedDate: time.Date(2022, 2, 18, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:            "CVE-2016-6210",
			Description:   "OpenSSH 用户名枚举漏洞，基于密码哈希的时间差",
			CVSSV3Score:   model.Score(5.9),
			Severity:      model.SeverityMedium,
			PublishedDate: time.Date(2017, 2, 13, 0, 0, 0, 0, time.UTC),
		},
	}
}

// Seed 写入内置示例数据
func (s *Store) Seed() (LoadReport, error) {
	s.logger.Info("初始化示例漏洞数据...")

	report, err := s.bulkLoad(SeedRecords(), 0)
	if err != nil {
		return report, err
	}
	report.Source = "seed"
	s.recordUpdate(report.Source, report)

	s.logger.Info("示例漏洞数据初始化完成，成功插入 %d 条记录", report.Loaded)
	return report, nil
}
