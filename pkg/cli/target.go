package cli

import (
	"net/url"
	"strings"
)

// normalizeTarget 从 URL 形式的目标中提取主机名，其余形式原样返回
func normalizeTarget(target string) string {
	target = strings.TrimSpace(target)
	if !strings.Contains(target, "://") {
		return target
	}
	parsed, err := url.Parse(target)
	if err != nil || parsed.Hostname() == "" {
		return target
	}
	return parsed.Hostname()
}
