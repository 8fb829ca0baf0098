package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"Fenrir/internal/discovery"
	"Fenrir/internal/model"
	"Fenrir/internal/scanner"
	"Fenrir/internal/utils"
)

const (
	DefaultConcurrency       = 100
	DefaultTargetConcurrency = 4
)

var (
	// ErrStageUnavailable 选择了未配置处理器的阶段
	ErrStageUnavailable = errors.New("模块不可用")
	// ErrNoTargets 未提供目标
	ErrNoTargets = errors.New("未指定扫描目标")
)

// HostDiscoverer 主机发现阶段
type HostDiscoverer interface {
	Discover(ctx context.Context, target string, concurrency int) ([]model.HostDiscoveryResult, error)
}

// PortScanner 端口扫描阶段
type PortScanner interface {
	Scan(ctx context.Context, host string, ports scanner.PortSet, concurrency int) (model.ScanResult, error)
}

// VulnerabilityStore 漏洞查询阶段
type VulnerabilityStore interface {
	Lookup(keyword, minSeverity string) ([]model.VulnerabilityRecord, error)
}

// ExploitFinder 利用查询阶段
type ExploitFinder interface {
	FindExploits(terms []string) map[string][]model.ExploitRecord
}

// Handlers 各阶段处理器，未配置的阶段不可被选择
type Handlers struct {
	Discovery HostDiscoverer
	Scanner   PortScanner
	Vulns     VulnerabilityStore
	Exploits  ExploitFinder
}

// Options 协调器配置
type Options struct {
	Concurrency       int    // 单个主机内的并发探测数
	TargetConcurrency int    // 同时运行的目标流水线数
	MinSeverity       string // 漏洞查询的严重等级阈值
}

// Coordinator 按固定顺序执行各阶段，并在阶段间传递结果
type Coordinator struct {
	handlers Handlers
	opts     Options
	events   chan<- Event
	logger   *utils.Logger
}

// Option Coordinator 可选配置
type Option func(*Coordinator)

// WithEvents 设置进度事件通道，发送在通道可写或上下文取消前阻塞
func WithEvents(ch chan<- Event) Option {
	return func(c *Coordinator) {
		c.events = ch
	}
}

func New(handlers Handlers, opts Options, options ...Option) *Coordinator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.TargetConcurrency <= 0 {
		opts.TargetConcurrency = DefaultTargetConcurrency
	}
	c := &Coordinator{
		handlers: handlers,
		opts:     opts,
		logger:   utils.NewLogger("coordinator"),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// plan 一次运行的已校验输入
type plan struct {
	stages []StageName
	ports  scanner.PortSet
}

// validate 在任何网络活动之前同步校验输入
func (c *Coordinator) validate(selected []string, portSpec string) (plan, error) {
	stages, err := ParseStageNames(selected)
	if err != nil {
		return plan{}, err
	}
	for _, stage := range stages {
		if !c.available(stage) {
			return plan{}, fmt.Errorf("%w: %s", ErrStageUnavailable, stage)
		}
	}

	ports, err := scanner.ParsePortSpec(portSpec)
	if err != nil {
		return plan{}, err
	}
	if _, err := model.ParseSeverity(c.opts.MinSeverity); err != nil {
		return plan{}, err
	}
	return plan{stages: stages, ports: ports}, nil
}

func (c *Coordinator) available(stage StageName) bool {
	switch stage {
	case StageDiscovery:
		return c.handlers.Discovery != nil
	case StageScan:
		return c.handlers.Scanner != nil
	case StageVulnLookup:
		return c.handlers.Vulns != nil
	case StageExploitLookup:
		return c.handlers.Exploits != nil
	}
	return false
}

// Run 对单个主机执行流水线；输入错误同步返回，阶段错误记录在结果中
func (c *Coordinator) Run(ctx context.Context, target string, selected []string, portSpec string) (*PipelineState, error) {
	p, err := c.validate(selected, portSpec)
	if err != nil {
		return nil, err
	}
	hosts, err := discovery.ExpandTargets(target)
	if err != nil {
		return nil, err
	}
	if len(hosts) != 1 {
		return nil, fmt.Errorf("%w: %q 展开为 %d 个主机", discovery.ErrInvalidTarget, target, len(hosts))
	}
	return c.runPipeline(ctx, hosts[0], p), nil
}

// RunAll 展开所有目标并发执行流水线，每个展开后的目标都有且仅有一条结果
func (c *Coordinator) RunAll(ctx context.Context, targets []string, selected []string, portSpec string) (Results, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	p, err := c.validate(selected, portSpec)
	if err != nil {
		return nil, err
	}
	hosts, err := discovery.ExpandAll(targets)
	if err != nil {
		return nil, err
	}

	c.logger.Info("开始执行: %d 个目标, 模块 %v, 端口 %s", len(hosts), p.stages, p.ports)

	var (
		mu      sync.Mutex
		results = make(Results, len(hosts))
		g       errgroup.Group
	)
	g.SetLimit(c.opts.TargetConcurrency)

	for _, host := range hosts {
		g.Go(func() error {
			state := c.runPipeline(ctx, host, p)
			mu.Lock()
			results[host] = state
			mu.Unlock()
			return nil
		})
	}
	// 各目标之间相互隔离，不返回错误
	_ = g.Wait()

	return results, nil
}

// runPipeline 顺序执行各阶段；阶段失败时记录错误并停止该目标后续阶段
func (c *Coordinator) runPipeline(ctx context.Context, host string, p plan) *PipelineState {
	state := newState(uuid.NewString(), host)
	defer c.emit(ctx, Event{RunID: state.RunID, Target: host, Type: EventTargetDone})

	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			state.fail(stage, err)
			c.emit(ctx, Event{RunID: state.RunID, Target: host, Stage: stage, Type: EventStageFailed, Err: err.Error()})
			return state
		}

		c.emit(ctx, Event{RunID: state.RunID, Target: host, Stage: stage, Type: EventStageStarted})
		if err := c.runStage(ctx, stage, state, p); err != nil {
			c.logger.Error("目标 %s 模块 %s 失败: %v", host, stage, err)
			state.fail(stage, err)
			c.emit(ctx, Event{RunID: state.RunID, Target: host, Stage: stage, Type: EventStageFailed, Err: err.Error()})
			return state
		}
		c.emit(ctx, Event{RunID: state.RunID, Target: host, Stage: stage, Type: EventStageCompleted})

		if state.down {
			c.logger.Info("目标 %s 离线，跳过后续模块", host)
			c.emit(ctx, Event{RunID: state.RunID, Target: host, Stage: stage, Type: EventHostDown})
			return state
		}
	}
	return state
}

func (c *Coordinator) runStage(ctx context.Context, stage StageName, state *PipelineState, p plan) error {
	switch stage {
	case StageDiscovery:
		return c.runDiscovery(ctx, state)
	case StageScan:
		return c.runScan(ctx, state, p.ports)
	case StageVulnLookup:
		return c.runVulnLookup(state)
	case StageExploitLookup:
		return c.runExploitLookup(state)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}
}

func (c *Coordinator) runDiscovery(ctx context.Context, state *PipelineState) error {
	results, err := c.handlers.Discovery.Discover(ctx, state.Target, c.opts.Concurrency)
	if err != nil {
		return err
	}
	if len(results) != 1 {
		return fmt.Errorf("主机发现返回 %d 条结果，期望 1 条", len(results))
	}
	result := results[0]
	if !result.Up() {
		state.down = true
		return nil
	}
	state.Discovery = &result
	return nil
}

func (c *Coordinator) runScan(ctx context.Context, state *PipelineState, ports scanner.PortSet) error {
	result, err := c.handlers.Scanner.Scan(ctx, state.Target, ports, c.opts.Concurrency)
	if err != nil {
		return err
	}
	if state.Discovery != nil && result.Hostname == "" {
		result.Hostname = state.Discovery.Hostname
	}
	state.Scan = &result
	return nil
}

func (c *Coordinator) runVulnLookup(state *PipelineState) error {
	vulns := make(map[string][]model.VulnerabilityRecord)
	for _, term := range ServiceTerms(state.Scan) {
		records, err := c.handlers.Vulns.Lookup(term, c.opts.MinSeverity)
		if err != nil {
			return fmt.Errorf("查询 %q 失败: %w", term, err)
		}
		vulns[term] = records
	}
	state.Vulnerabilities = vulns
	return nil
}

func (c *Coordinator) runExploitLookup(state *PipelineState) error {
	terms := ServiceTerms(state.Scan)
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		seen[t] = true
	}

	var ids []string
	for _, records := range state.Vulnerabilities {
		for _, r := range records {
			if !seen[r.ID] {
				seen[r.ID] = true
				ids = append(ids, r.ID)
			}
		}
	}
	sort.Strings(ids)

	state.Exploits = c.handlers.Exploits.FindExploits(append(terms, ids...))
	return nil
}

// ServiceTerms 从开放端口提取查询关键词：优先产品名，否则服务名，忽略 unknown，去重后排序
func ServiceTerms(scan *model.ScanResult) []string {
	if scan == nil {
		return []string{}
	}
	seen := make(map[string]bool)
	terms := []string{}
	for _, port := range scan.OpenPorts() {
		term := port.Product
		if term == "" {
			term = port.Name
		}
		if term == "" || term == model.UnknownService || seen[term] {
			continue
		}
		seen[term] = true
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}
