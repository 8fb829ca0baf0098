package discovery

import (
	"context"
	"net"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"Fenrir/internal/model"
	"Fenrir/internal/probe"
	"Fenrir/internal/utils"
)

// DefaultConcurrency 默认并发探测数
const DefaultConcurrency = 100

// Prober 主机存活探测所需的能力
type Prober interface {
	CheckTransport() error
	ProbeLiveness(ctx context.Context, host string) (probe.Liveness, error)
}

type lookupAddrFunc func(ctx context.Context, addr string) ([]string, error)

// Discoverer 主机发现
type Discoverer struct {
	prober       Prober
	resolveNames bool
	lookupAddr   lookupAddrFunc
	dnsTimeout   time.Duration
	logger       *utils.Logger
}

// Option Discoverer 可选配置
type Option func(*Discoverer)

// WithReverseDNS 在线主机执行反向解析获取主机名
func WithReverseDNS(enabled bool) Option {
	return func(d *Discoverer) {
		d.resolveNames = enabled
	}
}

func NewDiscoverer(prober Prober, opts ...Option) *Discoverer {
	d := &Discoverer{
		prober:     prober,
		lookupAddr: net.DefaultResolver.LookupAddr,
		dnsTimeout: time.Second,
		logger:     utils.NewLogger("discovery"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Discover 展开目标并并发探测存活，每个展开后的主机都有且仅有一条结果，顺序与展开顺序一致
func (d *Discoverer) Discover(ctx context.Context, target string, concurrency int) ([]model.HostDiscoveryResult, error) {
	hosts, err := ExpandTargets(target)
	if err != nil {
		return nil, err
	}
	if err := d.prober.CheckTransport(); err != nil {
		d.logger.Error("探测传输初始化失败: %v", err)
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	d.logger.Info("开始主机发现: %s (%d 个主机, 并发 %d)", target, len(hosts), concurrency)

	results := make([]model.HostDiscoveryResult, len(hosts))
	transportFailures := make([]error, len(hosts))
	sem := semaphore.NewWeighted(int64(concurrency))

	for i, host := range hosts {
		// 取消后不再启动新的探测
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		go func(i int, host string) {
			defer sem.Release(1)
			results[i], transportFailures[i] = d.discoverHost(ctx, host)
		}(i, host)
	}

	// 等待进行中的探测结束
	if err := sem.Acquire(context.Background(), int64(concurrency)); err == nil {
		sem.Release(int64(concurrency))
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var lastTransportErr error
	failed := 0
	for _, e := range transportFailures {
		if e != nil {
			failed++
			lastTransportErr = e
		}
	}
	// 所有主机都因传输故障无法探测时，视为传输不可用
	if failed == len(hosts) {
		return nil, lastTransportErr
	}

	up := 0
	for _, r := range results {
		if r.Up() {
			up++
		}
	}
	d.logger.Info("主机发现完成: %s, 在线 %d/%d", target, up, len(hosts))
	return results, nil
}

func (d *Discoverer) discoverHost(ctx context.Context, host string) (model.HostDiscoveryResult, error) {
	result := model.HostDiscoveryResult{Target: host, Status: model.HostDown}

	live, err := d.prober.ProbeLiveness(ctx, host)
	if err != nil {
		if probe.IsTransportError(err) {
			d.logger.Warn("主机 %s 探测失败: %v", host, err)
			return result, err
		}
		return result, nil
	}
	if !live.Up {
		return result, nil
	}

	result.Status = model.HostUp
	result.Latency = live.RTT
	result.TTL = live.TTL
	result.OSGuess = GuessOS(live.TTL)
	if d.resolveNames {
		result.Hostname = d.reverseLookup(ctx, host)
	}
	return result, nil
}

func (d *Discoverer) reverseLookup(ctx context.Context, host string) string {
	if net.ParseIP(host) == nil {
		return host
	}
	lctx, cancel := context.WithTimeout(ctx, d.dnsTimeout)
	defer cancel()

	names, err := d.lookupAddr(lctx, host)
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}

// GuessOS 根据回复TTL猜测操作系统，TTL 未知时返回 nil
func GuessOS(ttl int) *model.OSGuess {
	switch {
	case ttl <= 0:
		return nil
	case ttl <= 64:
		return &model.OSGuess{Name: "Linux/Unix", Confidence: 60}
	case ttl <= 128:
		return &model.OSGuess{Name: "Windows", Confidence: 70}
	case ttl <= 255:
		return &model.OSGuess{Name: "Network Device", Confidence: 50}
	default:
		return nil
	}
}
