package scanner

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"Fenrir/internal/model"
)

// ErrInvalidPortSpec 端口范围格式错误
var ErrInvalidPortSpec = errors.New("无效的端口范围")

const (
	minPort = 1
	maxPort = 65535
)

// PortSet 升序且无重复的端口集合
type PortSet []int

// ParsePortSpec 解析端口范围
// 空串、common、default 表示常见端口，all 表示 1-65535，其余为逗号分隔的端口与 a-b 区间
func ParsePortSpec(spec string) (PortSet, error) {
	spec = strings.TrimSpace(spec)
	switch strings.ToLower(spec) {
	case "", "common", "default":
		return PortSet(model.CommonPortsList()), nil
	case "all":
		ports := make(PortSet, 0, maxPort)
		for port := minPort; port <= maxPort; port++ {
			ports = append(ports, port)
		}
		return ports, nil
	}

	var ports []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "-") {
			rangeParts := strings.Split(part, "-")
			if len(rangeParts) != 2 {
				return nil, fmt.Errorf("%w: %s", ErrInvalidPortSpec, part)
			}
			start, err := parsePort(rangeParts[0])
			if err != nil {
				return nil, err
			}
			end, err := parsePort(rangeParts[1])
			if err != nil {
				return nil, err
			}
			if start > end {
				return nil, fmt.Errorf("%w: 起始端口不能大于结束端口: %s", ErrInvalidPortSpec, part)
			}
			for port := start; port <= end; port++ {
				ports = append(ports, port)
			}
			continue
		}

		port, err := parsePort(part)
		if err != nil {
			return nil, err
		}
		ports = append(ports, port)
	}

	if len(ports) == 0 {
		return nil, fmt.Errorf("%w: %q 不包含任何端口", ErrInvalidPortSpec, spec)
	}
	return normalize(ports), nil
}

func parsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: 无效的端口号: %q", ErrInvalidPortSpec, s)
	}
	if port < minPort || port > maxPort {
		return 0, fmt.Errorf("%w: 端口号必须在 1-65535 之间: %d", ErrInvalidPortSpec, port)
	}
	return port, nil
}

// normalize 去重并排序
func normalize(ports []int) PortSet {
	seen := make(map[int]bool, len(ports))
	unique := make(PortSet, 0, len(ports))
	for _, port := range ports {
		if !seen[port] {
			seen[port] = true
			unique = append(unique, port)
		}
	}
	sort.Ints(unique)
	return unique
}

// String 将连续端口合并为区间，仅用于展示；结果可被 ParsePortSpec 重新解析为同一集合
func (ps PortSet) String() string {
	if len(ps) == 0 {
		return ""
	}

	var b strings.Builder
	start, prev := ps[0], ps[0]
	flush := func() {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		if start == prev {
			b.WriteString(strconv.Itoa(start))
		} else {
			fmt.Fprintf(&b, "%d-%d", start, prev)
		}
	}

	for _, port := range ps[1:] {
		if port == prev+1 {
			prev = port
			continue
		}
		flush()
		start, prev = port, port
	}
	flush()
	return b.String()
}

// Contains 是否包含端口
func (ps PortSet) Contains(port int) bool {
	i := sort.SearchInts(ps, port)
	return i < len(ps) && ps[i] == port
}
