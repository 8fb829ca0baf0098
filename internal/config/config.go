package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"Fenrir/internal/coordinator"
	"Fenrir/internal/model"
	"Fenrir/internal/probe"
	"Fenrir/internal/scanner"
	"Fenrir/internal/utils"
)

// EnvPrefix 环境变量前缀，如 FENRIR_PORT_RANGE、FENRIR_ICMP_ENABLED
const EnvPrefix = "FENRIR"

// ErrInvalidConfig 配置值不合法
var ErrInvalidConfig = errors.New("配置无效")

type ICMPConfig struct {
	Enabled    bool
	Privileged bool
}

type DatabaseConfig struct {
	Path string
}

type ExploitDBConfig struct {
	Path string
}

// Config 扫描器完整配置
type Config struct {
	PortRange         string
	Concurrency       int
	TargetConcurrency int
	Timeout           time.Duration
	BannerTimeout     time.Duration
	Rate              float64
	MinSeverity       string
	ServiceDetection  bool

	ICMP      ICMPConfig
	Modules   map[string]bool
	Database  DatabaseConfig
	ExploitDB ExploitDBConfig
	Log       utils.LogConfig
}

// Default 默认配置：常见端口，全部模块启用
func Default() *Config {
	return &Config{
		PortRange:         "common",
		Concurrency:       100,
		TargetConcurrency: 4,
		Timeout:           probe.DefaultTimeout,
		BannerTimeout:     scanner.DefaultBannerTimeout,
		MinSeverity:       string(model.SeverityLow),
		ServiceDetection:  true,
		Modules: map[string]bool{
			"discovery":      true,
			"scan":           true,
			"vuln_lookup":    true,
			"exploit_lookup": true,
		},
		Database:  DatabaseConfig{Path: "database/cve_data.db"},
		ExploitDB: ExploitDBConfig{Path: "database/files_exploits.csv"},
		Log: utils.LogConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

// defaults 写入 viper 的默认值，环境变量只对已知键生效
func defaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("port_range", d.PortRange)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("target_concurrency", d.TargetConcurrency)
	v.SetDefault("timeout", d.Timeout.String())
	v.SetDefault("banner_timeout", d.BannerTimeout.String())
	v.SetDefault("rate", d.Rate)
	v.SetDefault("min_severity", d.MinSeverity)
	v.SetDefault("service_detection", d.ServiceDetection)
	v.SetDefault("icmp.enabled", d.ICMP.Enabled)
	v.SetDefault("icmp.privileged", d.ICMP.Privileged)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("exploitdb.path", d.ExploitDB.Path)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output", d.Log.Output)
	v.SetDefault("log.file", d.Log.FilePath)
	v.SetDefault("log.max_size", d.Log.MaxSize)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age", d.Log.MaxAge)
	v.SetDefault("log.compress", d.Log.Compress)
}

// NewViper 创建带默认值和环境变量绑定的 viper 实例，命令行参数可再绑定到其上
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	defaults(v)
	return v
}

// ReadFile 读取配置文件；path 为空时在当前目录和 configs/ 下查找 fenrir.yaml，找不到不报错
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("fenrir")
	v.AddConfigPath(".")
	v.AddConfigPath("configs")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("读取配置文件失败: %w", err)
	}
	return nil
}

// Load 读取配置文件和环境变量并校验
func Load(path string) (*Config, error) {
	v := NewViper()
	if err := ReadFile(v, path); err != nil {
		return nil, err
	}
	return FromViper(v)
}

// legacyKeys 旧配置 default_scan_settings 下的键及其对应的顶层键
var legacyKeys = map[string]string{
	"default_scan_settings.port_range":   "port_range",
	"default_scan_settings.thread_count": "concurrency",
}

// FromViper 从 viper 当前的合并结果构造配置
func FromViper(v *viper.Viper) (*Config, error) {
	// 旧键只替换默认值，顶层键、环境变量和命令行参数仍然优先
	for legacy, key := range legacyKeys {
		if v.IsSet(legacy) {
			v.SetDefault(key, v.Get(legacy))
		}
	}
	return FromMap(v.AllSettings())
}

// FromMap 从键值表构造配置，键可以是扁平的 "icmp.enabled" 或嵌套的 map
func FromMap(values map[string]interface{}) (*Config, error) {
	cfg := Default()
	flat := make(map[string]interface{})
	flatten("", values, flat)

	// 排序保证 modules 整表先于 modules.<name> 单项
	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := flat[key]
		if err := cfg.set(key, value); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func flatten(prefix string, in map[string]interface{}, out map[string]interface{}) {
	for k, v := range in {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		// modules 保持为开关表
		if key == "modules" {
			out[key] = v
			continue
		}
		switch nested := v.(type) {
		case map[string]interface{}:
			flatten(key, nested, out)
		case map[interface{}]interface{}:
			flatten(key, cast.ToStringMap(nested), out)
		default:
			out[key] = v
		}
	}
}

func (c *Config) set(key string, value interface{}) error {
	var err error
	switch key {
	case "port_range", "ports", "default_scan_settings.port_range":
		c.PortRange, err = cast.ToStringE(value)
	case "thread_count", "concurrency", "threads", "default_scan_settings.thread_count":
		c.Concurrency, err = cast.ToIntE(value)
	case "target_concurrency":
		c.TargetConcurrency, err = cast.ToIntE(value)
	case "timeout":
		c.Timeout, err = toDuration(value)
	case "banner_timeout":
		c.BannerTimeout, err = toDuration(value)
	case "rate":
		c.Rate, err = cast.ToFloat64E(value)
	case "min_severity":
		var s string
		s, err = cast.ToStringE(value)
		c.MinSeverity = strings.ToUpper(strings.TrimSpace(s))
	case "service_detection":
		c.ServiceDetection, err = cast.ToBoolE(value)
	case "icmp.enabled":
		c.ICMP.Enabled, err = cast.ToBoolE(value)
	case "icmp.privileged":
		c.ICMP.Privileged, err = cast.ToBoolE(value)
	case "modules":
		c.Modules, err = cast.ToStringMapBoolE(value)
	case "database.path":
		c.Database.Path, err = cast.ToStringE(value)
	case "exploitdb.path":
		c.ExploitDB.Path, err = cast.ToStringE(value)
	case "log.level":
		c.Log.Level, err = cast.ToStringE(value)
	case "log.format":
		c.Log.Format, err = cast.ToStringE(value)
	case "log.output":
		c.Log.Output, err = cast.ToStringE(value)
	case "log.file":
		c.Log.FilePath, err = cast.ToStringE(value)
	case "log.max_size":
		c.Log.MaxSize, err = cast.ToIntE(value)
	case "log.max_backups":
		c.Log.MaxBackups, err = cast.ToIntE(value)
	case "log.max_age":
		c.Log.MaxAge, err = cast.ToIntE(value)
	case "log.compress":
		c.Log.Compress, err = cast.ToBoolE(value)
	default:
		if strings.HasPrefix(key, "modules.") {
			var on bool
			on, err = cast.ToBoolE(value)
			if c.Modules == nil {
				c.Modules = make(map[string]bool)
			}
			c.Modules[strings.TrimPrefix(key, "modules.")] = on
		}
		// 其余键忽略，兼容旧配置中的无关字段
	}
	return err
}

// toDuration 纯数字按秒处理，字符串按 Go 时长格式解析
func toDuration(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case int, int32, int64, uint, uint32, uint64, float32, float64:
		secs, err := cast.ToFloat64E(v)
		if err != nil {
			return 0, err
		}
		return time.Duration(secs * float64(time.Second)), nil
	case string:
		if secs, err := cast.ToFloat64E(v); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
	}
	return cast.ToDurationE(value)
}

// Validate 校验配置，端口范围和严重等级使用与扫描时相同的解析器
func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: concurrency 必须大于 0", ErrInvalidConfig)
	}
	if c.TargetConcurrency <= 0 {
		return fmt.Errorf("%w: target_concurrency 必须大于 0", ErrInvalidConfig)
	}
	if c.Timeout <= 0 || c.Timeout > probe.MaxTimeout {
		return fmt.Errorf("%w: timeout 必须在 (0, %s] 内", ErrInvalidConfig, probe.MaxTimeout)
	}
	if c.BannerTimeout < 0 {
		return fmt.Errorf("%w: banner_timeout 不能为负数", ErrInvalidConfig)
	}
	if c.Rate < 0 {
		return fmt.Errorf("%w: rate 不能为负数", ErrInvalidConfig)
	}
	if _, err := scanner.ParsePortSpec(c.PortRange); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := model.ParseSeverity(c.MinSeverity); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := c.Stages(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Stages 已启用的模块名
func (c *Config) Stages() ([]string, error) {
	return coordinator.EnabledStages(c.Modules)
}

// ProbeOptions 探测引擎配置
func (c *Config) ProbeOptions() probe.Options {
	return probe.Options{
		Timeout:    c.Timeout,
		ICMP:       c.ICMP.Enabled,
		Privileged: c.ICMP.Privileged,
		Rate:       c.Rate,
	}
}
