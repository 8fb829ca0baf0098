package coordinator

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"Fenrir/internal/utils"
)

// StageName 流水线阶段名
type StageName string

const (
	StageDiscovery     StageName = "discovery"
	StageScan          StageName = "scan"
	StageVulnLookup    StageName = "vuln_lookup"
	StageExploitLookup StageName = "exploit_lookup"
)

// ErrUnknownStage 无法识别的阶段名
var ErrUnknownStage = errors.New("未知的模块")

// CanonicalOrder 阶段的固定执行顺序
var CanonicalOrder = []StageName{StageDiscovery, StageScan, StageVulnLookup, StageExploitLookup}

// stageAliases 兼容旧配置中的模块名
var stageAliases = map[string]StageName{
	"discovery":                StageDiscovery,
	"host_discovery":           StageDiscovery,
	"scan":                     StageScan,
	"port_scanner":             StageScan,
	"portscan":                 StageScan,
	"vuln_lookup":              StageVulnLookup,
	"vuln-lookup":              StageVulnLookup,
	"vuln":                     StageVulnLookup,
	"vulnidentifier":           StageVulnLookup,
	"vulnerability_identifier": StageVulnLookup,
	"exploit_lookup":           StageExploitLookup,
	"exploit-lookup":           StageExploitLookup,
	"exploit_finder":           StageExploitLookup,
	"exploitfinder":            StageExploitLookup,
}

// legacyModules 旧配置中存在但不再提供的模块，配置中出现时只记录警告
var legacyModules = map[string]bool{
	"web_scanner":         true,
	"web":                 true,
	"threat_intelligence": true,
	"threatintel":         true,
	"threat":              true,
	"penetration_tester":  true,
	"customexploit":       true,
	"metasploit":          true,
	"shodan":              true,
	"iot":                 true,
	"iot_scanner":         true,
	"mobile":              true,
	"mobile_scanner":      true,
	"drone":               true,
	"drone_scanner":       true,
	"cloud":               true,
	"cloud_scanner":       true,
	"ml":                  true,
}

func (s StageName) order() int {
	for i, name := range CanonicalOrder {
		if name == s {
			return i
		}
	}
	return len(CanonicalOrder)
}

// ParseStageName 解析阶段名，大小写不敏感
func ParseStageName(name string) (StageName, error) {
	stage, ok := stageAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
	return stage, nil
}

// ParseStageNames 解析并去重，按固定顺序返回，与调用方给出的顺序无关
func ParseStageNames(names []string) ([]StageName, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: 未选择任何模块", ErrUnknownStage)
	}

	seen := make(map[StageName]bool, len(names))
	stages := make([]StageName, 0, len(names))
	for _, name := range names {
		stage, err := ParseStageName(name)
		if err != nil {
			return nil, err
		}
		if !seen[stage] {
			seen[stage] = true
			stages = append(stages, stage)
		}
	}

	sort.Slice(stages, func(i, j int) bool {
		return stages[i].order() < stages[j].order()
	})
	return stages, nil
}

// EnabledStages 将模块开关表转换为阶段列表
// 关闭的模块不做校验，已停用的旧模块名记录警告后忽略
func EnabledStages(modules map[string]bool) ([]string, error) {
	var names []string
	var ignored []string
	for name, enabled := range modules {
		if !enabled {
			continue
		}
		if _, err := ParseStageName(name); err != nil {
			if legacyModules[strings.ToLower(strings.TrimSpace(name))] {
				ignored = append(ignored, name)
				continue
			}
			return nil, err
		}
		names = append(names, name)
	}
	if len(ignored) > 0 {
		sort.Strings(ignored)
		utils.NewLogger("coordinator").Warn("忽略不支持的模块: %s", strings.Join(ignored, ", "))
	}
	sort.Strings(names)
	return names, nil
}
