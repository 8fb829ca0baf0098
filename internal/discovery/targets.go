package discovery

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidTarget 目标格式无法解析
var ErrInvalidTarget = errors.New("无效的目标")

// MaxExpandedHosts 单个目标展开的主机上限（/16）
const MaxExpandedHosts = 1 << 16

var hostnamePattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,62}[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]{0,62}[A-Za-z0-9])?)*\.?$`)

// ExpandTargets 展开目标：单个地址、主机名、IPv4范围（10.0.0.1-10.0.0.9 或 10.0.0.1-9）或CIDR
// CIDR 前缀短于 /31 时不包含网络地址与广播地址；IPv6 CIDR 只支持 /128
func ExpandTargets(target string) ([]string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("%w: 目标为空", ErrInvalidTarget)
	}

	switch {
	case strings.Contains(target, "/"):
		return expandCIDR(target)
	case strings.Contains(target, "-") && net.ParseIP(strings.SplitN(target, "-", 2)[0]) != nil:
		return expandRange(target)
	}

	if ip := net.ParseIP(target); ip != nil {
		return []string{ip.String()}, nil
	}
	if hostnamePattern.MatchString(target) {
		return []string{target}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
}

// ExpandAll 依次展开多个目标，去除重复项并保持首次出现的顺序
func ExpandAll(targets []string) ([]string, error) {
	seen := make(map[string]bool)
	var hosts []string
	for _, t := range targets {
		expanded, err := ExpandTargets(t)
		if err != nil {
			return nil, err
		}
		for _, h := range expanded {
			if !seen[h] {
				seen[h] = true
				hosts = append(hosts, h)
			}
		}
	}
	return hosts, nil
}

func expandCIDR(target string) ([]string, error) {
	_, ipnet, err := net.ParseCIDR(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidTarget, target, err)
	}

	ones, bits := ipnet.Mask.Size()
	if bits != 32 {
		// IPv6 只接受单主机前缀
		if ones == bits {
			return []string{ipnet.IP.String()}, nil
		}
		return nil, fmt.Errorf("%w: IPv6 CIDR 仅支持 /128 单主机前缀: %q", ErrInvalidTarget, target)
	}
	size := uint64(1) << uint(bits-ones)
	if size > MaxExpandedHosts {
		return nil, fmt.Errorf("%w: %q 展开后主机数 %d 超过上限 %d", ErrInvalidTarget, target, size, MaxExpandedHosts)
	}

	first := binary.BigEndian.Uint32(ipnet.IP.To4())
	last := first + uint32(size) - 1
	if ones < 31 {
		first++
		last--
	}

	hosts := make([]string, 0, last-first+1)
	for n := uint64(first); n <= uint64(last); n++ {
		hosts = append(hosts, uint32ToIP(uint32(n)).String())
	}
	return hosts, nil
}

func expandRange(target string) ([]string, error) {
	parts := strings.SplitN(target, "-", 2)
	start := net.ParseIP(strings.TrimSpace(parts[0])).To4()
	if start == nil {
		return nil, fmt.Errorf("%w: 范围起始地址无效: %q", ErrInvalidTarget, target)
	}

	endPart := strings.TrimSpace(parts[1])
	var end net.IP
	if n, err := strconv.Atoi(endPart); err == nil {
		// 简写形式 10.0.0.1-9
		if n < 0 || n > 255 {
			return nil, fmt.Errorf("%w: 范围结束值无效: %q", ErrInvalidTarget, target)
		}
		end = net.IPv4(start[0], start[1], start[2], byte(n)).To4()
	} else {
		end = net.ParseIP(endPart).To4()
	}
	if end == nil {
		return nil, fmt.Errorf("%w: 范围结束地址无效: %q", ErrInvalidTarget, target)
	}

	a := binary.BigEndian.Uint32(start)
	b := binary.BigEndian.Uint32(end)
	if a > b {
		return nil, fmt.Errorf("%w: 范围起始大于结束: %q", ErrInvalidTarget, target)
	}
	if uint64(b-a)+1 > MaxExpandedHosts {
		return nil, fmt.Errorf("%w: %q 展开后主机数超过上限 %d", ErrInvalidTarget, target, MaxExpandedHosts)
	}

	hosts := make([]string, 0, b-a+1)
	for n := uint64(a); n <= uint64(b); n++ {
		hosts = append(hosts, uint32ToIP(uint32(n)).String())
	}
	return hosts, nil
}

func uint32ToIP(n uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, n)
	return ip
}
