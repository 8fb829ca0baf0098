package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "common", cfg.PortRange)
	assert.Equal(t, 100, cfg.Concurrency)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.False(t, cfg.ICMP.Enabled)
	assert.Equal(t, "LOW", cfg.MinSeverity)

	stages, err := cfg.Stages()
	require.NoError(t, err)
	assert.Len(t, stages, 4)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fenrir.yaml")
	content := `
port_range: "1-1024"
thread_count: 50
timeout: 3
min_severity: medium
icmp:
  enabled: true
modules:
  port_scanner: true
  vulnerability_identifier: true
  exploit_finder: false
database:
  path: /tmp/fenrir.db
log:
  level: debug
  format: json
scan_types: [tcp_connect]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "1-1024", cfg.PortRange)
	assert.Equal(t, 50, cfg.Concurrency)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, "MEDIUM", cfg.MinSeverity)
	assert.True(t, cfg.ICMP.Enabled)
	assert.Equal(t, "/tmp/fenrir.db", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	stages, err := cfg.Stages()
	require.NoError(t, err)
	assert.Equal(t, []string{"port_scanner", "vulnerability_identifier"}, stages)
}

func TestLoadLegacyDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
  "api_keys": {"alienvault": "", "virustotal": ""},
  "default_scan_settings": {
    "port_range": "1-65535",
    "thread_count": 100,
    "output_folder": "reports/output"
  },
  "modules": {
    "port_scanner": true,
    "vulnerability_identifier": true,
    "exploit_finder": true,
    "web_scanner": true,
    "threat_intelligence": true
  }
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "1-65535", cfg.PortRange)
	assert.Equal(t, 100, cfg.Concurrency)

	stages, err := cfg.Stages()
	require.NoError(t, err)
	assert.Equal(t, []string{"exploit_finder", "port_scanner", "vulnerability_identifier"}, stages)
}

func TestLoadDefaultScanSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"default_scan_settings":{"port_range":"1-1024","thread_count":7}}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "1-1024", cfg.PortRange)
	assert.Equal(t, 7, cfg.Concurrency)

	// 顶层键优先于旧键
	path = filepath.Join(t.TempDir(), "fenrir.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port_range: \"22,80\"\ndefault_scan_settings:\n  port_range: \"1-1024\"\n"), 0644))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "22,80", cfg.PortRange)

	cfg, err = FromMap(map[string]interface{}{
		"default_scan_settings": map[string]interface{}{"port_range": "1-10", "thread_count": 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "1-10", cfg.PortRange)
	assert.Equal(t, 3, cfg.Concurrency)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FENRIR_PORT_RANGE", "22,80")
	t.Setenv("FENRIR_ICMP_ENABLED", "true")
	t.Setenv("FENRIR_TIMEOUT", "500ms")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "22,80", cfg.PortRange)
	assert.True(t, cfg.ICMP.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Timeout)
}

func TestFromMapCoercion(t *testing.T) {
	cfg, err := FromMap(map[string]interface{}{
		"thread_count":           "20",
		"timeout":                "1.5",
		"banner_timeout":         "750ms",
		"rate":                   "200",
		"icmp.enabled":           "true",
		"min_severity":           "high",
		"modules.exploit_lookup": false,
	})
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Concurrency)
	assert.Equal(t, 1500*time.Millisecond, cfg.Timeout)
	assert.Equal(t, 750*time.Millisecond, cfg.BannerTimeout)
	assert.Equal(t, 200.0, cfg.Rate)
	assert.True(t, cfg.ICMP.Enabled)
	assert.Equal(t, "HIGH", cfg.MinSeverity)
	assert.False(t, cfg.Modules["exploit_lookup"])
	assert.True(t, cfg.Modules["scan"])

	opts := cfg.ProbeOptions()
	assert.True(t, opts.ICMP)
	assert.Equal(t, 200.0, opts.Rate)
}

func TestFromMapInvalid(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]interface{}
	}{
		{"零并发", map[string]interface{}{"concurrency": 0}},
		{"负并发", map[string]interface{}{"thread_count": -5}},
		{"端口范围", map[string]interface{}{"port_range": "abc"}},
		{"反向范围", map[string]interface{}{"port_range": "100-1"}},
		{"严重等级", map[string]interface{}{"min_severity": "SEVERE"}},
		{"超时格式", map[string]interface{}{"timeout": "soon"}},
		{"超时过长", map[string]interface{}{"timeout": 120}},
		{"未知模块", map[string]interface{}{"modules": map[string]interface{}{"teleport": true}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromMap(tt.values)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
