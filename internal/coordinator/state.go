package coordinator

import (
	"bytes"
	"encoding/json"

	"Fenrir/internal/model"
)

// PipelineState 单个目标一次流水线运行的累积结果，仅由该次运行持有
type PipelineState struct {
	RunID  string
	Target string

	Discovery       *model.HostDiscoveryResult
	Scan            *model.ScanResult
	Vulnerabilities map[string][]model.VulnerabilityRecord
	Exploits        map[string][]model.ExploitRecord

	// Errors 各阶段的错误信息，出现错误后后续阶段不再执行
	Errors map[StageName]string

	down bool
}

func newState(runID, target string) *PipelineState {
	return &PipelineState{
		RunID:  runID,
		Target: target,
		Errors: make(map[StageName]string),
	}
}

// Down 主机发现判定离线
func (s *PipelineState) Down() bool {
	return s.down
}

// Has 阶段是否产生了结果或错误
func (s *PipelineState) Has(stage StageName) bool {
	if s.down {
		return false
	}
	if _, ok := s.Errors[stage]; ok {
		return true
	}
	switch stage {
	case StageDiscovery:
		return s.Discovery != nil
	case StageScan:
		return s.Scan != nil
	case StageVulnLookup:
		return s.Vulnerabilities != nil
	case StageExploitLookup:
		return s.Exploits != nil
	}
	return false
}

// Failed 返回第一个失败的阶段
func (s *PipelineState) Failed() (StageName, string, bool) {
	for _, stage := range CanonicalOrder {
		if msg, ok := s.Errors[stage]; ok {
			return stage, msg, true
		}
	}
	return "", "", false
}

func (s *PipelineState) fail(stage StageName, err error) {
	s.Errors[stage] = err.Error()
}

func (s *PipelineState) result(stage StageName) interface{} {
	switch stage {
	case StageDiscovery:
		return s.Discovery
	case StageScan:
		return s.Scan
	case StageVulnLookup:
		return s.Vulnerabilities
	case StageExploitLookup:
		return s.Exploits
	}
	return nil
}

type stageError struct {
	Error string `json:"error"`
}

// MarshalJSON 序列化为 阶段名 -> 结果 或 {"error": ...} 的映射，按固定顺序输出
// 离线主机序列化为 {"status":"down"}
func (s *PipelineState) MarshalJSON() ([]byte, error) {
	if s.down {
		return []byte(`{"status":"down"}`), nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, stage := range CanonicalOrder {
		if !s.Has(stage) {
			continue
		}

		var value interface{} = s.result(stage)
		if msg, ok := s.Errors[stage]; ok {
			value = stageError{Error: msg}
		}

		data, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		key, _ := json.Marshal(string(stage))

		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(data)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Results 目标 -> 流水线结果
type Results map[string]*PipelineState
