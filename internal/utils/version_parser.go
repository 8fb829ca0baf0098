package utils

import (
	"regexp"
	"strings"
)

var (
	versionTokenRe = regexp.MustCompile(`\d+(?:\.\d+)*[a-z]?\d*`)
	versionPrefix  = []string{"version", "Version", "ver", "v", "V"}
)

// NormalizeVersion 标准化版本号，如 "v1.18.0"、"version 2.4" -> "1.18.0"、"2.4"
// 保留 OpenSSH 风格的字母后缀 (8.9p1)
func NormalizeVersion(version string) string {
	version = strings.TrimSpace(version)
	for _, p := range versionPrefix {
		if strings.HasPrefix(version, p) {
			version = strings.TrimSpace(strings.TrimPrefix(version, p))
			break
		}
	}
	version = strings.TrimLeft(version, ":/_ ")

	if m := versionTokenRe.FindString(version); m != "" {
		return m
	}
	return version
}
