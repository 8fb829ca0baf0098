package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"Fenrir/internal/coordinator"
	"Fenrir/internal/cvedb"
	"Fenrir/internal/discovery"
	"Fenrir/internal/exploitdb"
	"Fenrir/internal/probe"
	"Fenrir/internal/scanner"
	"Fenrir/internal/utils"
)

// scanOptions 仅命令行使用的扫描参数，其余参数经 viper 合并进配置
type scanOptions struct {
	targets    []string
	modules    []string
	format     string
	outputFile string
	reverseDNS bool
	quiet      bool
}

func newScanCmd(a *app) *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan [目标...]",
		Short: "对目标执行扫描流水线",
		Long: `对一个或多个目标依次执行 discovery、scan、vuln_lookup、exploit_lookup 模块。
目标支持 IP、主机名、CIDR (192.168.1.0/24) 和范围 (192.168.1.10-20)。
URL 形式的目标会提取其中的主机名。`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.targets = append(opts.targets, args...)
			return a.runScan(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVarP(&opts.targets, "target", "t", nil, "扫描目标，可重复或以逗号分隔")
	flags.StringSliceVarP(&opts.modules, "modules", "m", nil, "启用的模块 (discovery,scan,vuln_lookup,exploit_lookup)，默认取配置")
	flags.StringVarP(&opts.format, "format", "f", "text", "输出格式 (text, json)")
	flags.StringVarP(&opts.outputFile, "output", "o", "", "输出文件")
	flags.BoolVar(&opts.reverseDNS, "reverse-dns", false, "主机发现时反向解析主机名")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "不显示进度")

	flags.StringP("ports", "p", "", "端口范围 (如: 1-1000,80,443；common 或 all)")
	flags.Int("threads", 0, "单个主机的并发探测数")
	flags.Int("target-concurrency", 0, "同时扫描的主机数")
	flags.Duration("timeout", 0, "连接超时时间")
	flags.Duration("banner-timeout", 0, "服务识别读取超时时间")
	flags.Float64("rate", 0, "每秒探测数上限，0 表示不限速")
	flags.Bool("icmp", false, "主机发现时使用 ICMP")
	flags.Bool("privileged", false, "ICMP 使用原始套接字")
	flags.Bool("service-detect", true, "启用服务版本识别")
	flags.String("min-severity", "", "漏洞查询的最低严重等级 (LOW, MEDIUM, HIGH, CRITICAL)")

	a.v.BindPFlag("port_range", flags.Lookup("ports"))
	a.v.BindPFlag("concurrency", flags.Lookup("threads"))
	a.v.BindPFlag("target_concurrency", flags.Lookup("target-concurrency"))
	a.v.BindPFlag("timeout", flags.Lookup("timeout"))
	a.v.BindPFlag("banner_timeout", flags.Lookup("banner-timeout"))
	a.v.BindPFlag("rate", flags.Lookup("rate"))
	a.v.BindPFlag("icmp.enabled", flags.Lookup("icmp"))
	a.v.BindPFlag("icmp.privileged", flags.Lookup("privileged"))
	a.v.BindPFlag("service_detection", flags.Lookup("service-detect"))
	a.v.BindPFlag("min_severity", flags.Lookup("min-severity"))

	return cmd
}

func (a *app) runScan(parent context.Context, opts *scanOptions) error {
	logger := utils.NewLogger("main")
	cfg := a.cfg

	targets := make([]string, 0, len(opts.targets))
	for _, t := range opts.targets {
		targets = append(targets, normalizeTarget(t))
	}
	if len(targets) == 0 {
		return errors.New("必须指定目标地址 (-t)")
	}

	selected := opts.modules
	explicit := len(selected) > 0
	if !explicit {
		var err error
		if selected, err = cfg.Stages(); err != nil {
			return err
		}
	}
	stages, err := coordinator.ParseStageNames(selected)
	if err != nil {
		return err
	}

	// 输入错误在任何网络活动之前返回
	hosts, err := discovery.ExpandAll(targets)
	if err != nil {
		return err
	}
	if _, err := scanner.ParsePortSpec(cfg.PortRange); err != nil {
		return err
	}

	engine := probe.NewEngine(cfg.ProbeOptions())
	handlers := coordinator.Handlers{
		Discovery: discovery.NewDiscoverer(engine, discovery.WithReverseDNS(opts.reverseDNS)),
		Scanner: scanner.NewPortScanner(engine,
			scanner.WithBannerTimeout(cfg.BannerTimeout),
			scanner.WithServiceDetection(cfg.ServiceDetection),
		),
	}

	for _, stage := range stages {
		switch stage {
		case coordinator.StageVulnLookup:
			store, err := openStore(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			handlers.Vulns = store
		case coordinator.StageExploitLookup:
			corpus, err := exploitdb.LoadCSV(cfg.ExploitDB.Path)
			if err != nil && explicit {
				return fmt.Errorf("加载 Exploit-DB 索引失败: %w", err)
			}
			if err != nil {
				// 模块来自默认配置时，缺少索引文件只跳过该模块
				logger.Warn("加载 Exploit-DB 索引失败，跳过 exploit_lookup: %v", err)
				selected = dropStage(selected, coordinator.StageExploitLookup)
				continue
			}
			handlers.Exploits = corpus
		}
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := make(chan coordinator.Event, 64)
	coord := coordinator.New(handlers, coordinator.Options{
		Concurrency:       cfg.Concurrency,
		TargetConcurrency: cfg.TargetConcurrency,
		MinSeverity:       cfg.MinSeverity,
	}, coordinator.WithEvents(events))

	done := make(chan struct{})
	go func() {
		defer close(done)
		renderProgress(a.stderr, events, len(hosts), opts.quiet)
	}()

	logger.Info("启动 Fenrir 扫描: %d 个目标, 端口 %s", len(hosts), cfg.PortRange)
	start := time.Now()
	results, err := coord.RunAll(ctx, targets, selected, cfg.PortRange)
	close(events)
	<-done
	if err != nil {
		return err
	}
	logger.Info("扫描完成，总耗时: %v", time.Since(start))

	formatter := NewOutputFormatter(opts.format, a.stdout)
	return formatter.PrintResults(results, hosts, opts.outputFile)
}

// openStore 打开漏洞库，空库时写入内置种子数据
func openStore(path string) (*cvedb.Store, error) {
	store, err := cvedb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("初始化漏洞库失败: %w", err)
	}
	count, err := store.Count()
	if err != nil {
		store.Close()
		return nil, err
	}
	if count == 0 {
		utils.NewLogger("main").Info("漏洞库为空，初始化内置数据...")
		if _, err := store.Seed(); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store, nil
}

func dropStage(names []string, stage coordinator.StageName) []string {
	kept := make([]string, 0, len(names))
	for _, name := range names {
		if parsed, err := coordinator.ParseStageName(name); err == nil && parsed == stage {
			continue
		}
		kept = append(kept, name)
	}
	return kept
}
