package model

import "time"

// PortState 端口状态
type PortState string

const (
	PortOpen     PortState = "open"
	PortClosed   PortState = "closed"
	PortFiltered PortState = "filtered" // 超时无响应
)

// IsOpen closed 与 filtered 都属于未开放
func (s PortState) IsOpen() bool {
	return s == PortOpen
}

// HostStatus 主机存活状态
type HostStatus string

const (
	HostUp   HostStatus = "up"
	HostDown HostStatus = "down"
)

// OSGuess 基于TTL等特征的操作系统猜测
type OSGuess struct {
	Name       string `json:"name"`
	Confidence int    `json:"confidence"` // 百分比
}

// HostDiscoveryResult 主机发现结果，创建后不再修改
type HostDiscoveryResult struct {
	Target   string        `json:"target"`
	Status   HostStatus    `json:"status"`
	OSGuess  *OSGuess      `json:"os_guess,omitempty"`
	Hostname string        `json:"hostname,omitempty"`
	Latency  time.Duration `json:"latency,omitempty"`
	TTL      int           `json:"ttl,omitempty"`
}

// Up 主机是否在线
func (r HostDiscoveryResult) Up() bool {
	return r.Status == HostUp
}

// ScanResult 单个目标的端口扫描结果
type ScanResult struct {
	Target   string       `json:"target"`
	Hostname string       `json:"hostname,omitempty"`
	Ports    []PortRecord `json:"ports"`
	Error    string       `json:"error,omitempty"`
}

// OpenPorts 返回开放端口记录
func (r ScanResult) OpenPorts() []PortRecord {
	var open []PortRecord
	for _, p := range r.Ports {
		if p.State == PortOpen {
			open = append(open, p)
		}
	}
	return open
}

// PortRecord 端口扫描记录
type PortRecord struct {
	Port      int       `json:"port"`
	Protocol  string    `json:"protocol"`
	State     PortState `json:"state"`
	Name      string    `json:"name"`
	Product   string    `json:"product,omitempty"`
	Version   string    `json:"version,omitempty"`
	ExtraInfo string    `json:"extra_info,omitempty"`
	Banner    string    `json:"banner,omitempty"`
}

// ServiceInfo 服务信息
type ServiceInfo struct {
	Name    string `json:"name"`
	Product string `json:"product"`
	Version string `json:"version"`
	Extra   string `json:"extra"`
}

// Known 服务是否已识别
func (s ServiceInfo) Known() bool {
	return s.Name != "" && s.Name != UnknownService
}
