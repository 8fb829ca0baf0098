package scanner

import (
	"context"
	"sort"
	"sync"
	"time"

	"Fenrir/internal/model"
	"Fenrir/internal/probe"
	"Fenrir/internal/utils"
)

// DefaultConcurrency 默认并发数
const DefaultConcurrency = 100

// PortProber 单端口探测
type PortProber interface {
	Probe(ctx context.Context, host string, port int) (model.PortState, error)
}

// PortScanner 端口扫描与服务识别
type PortScanner struct {
	prober        PortProber
	bannerTimeout time.Duration
	identify      bool
	logger        *utils.Logger
}

// Option PortScanner 可选配置
type Option func(*PortScanner)

// WithBannerTimeout 设置服务识别的读取超时
func WithBannerTimeout(d time.Duration) Option {
	return func(ps *PortScanner) {
		if d > 0 {
			ps.bannerTimeout = d
		}
	}
}

// WithServiceDetection 是否对开放端口做服务识别，关闭时仅按端口表命名
func WithServiceDetection(enabled bool) Option {
	return func(ps *PortScanner) {
		ps.identify = enabled
	}
}

func NewPortScanner(prober PortProber, opts ...Option) *PortScanner {
	ps := &PortScanner{
		prober:        prober,
		bannerTimeout: DefaultBannerTimeout,
		identify:      true,
		logger:        utils.NewLogger("scanner"),
	}
	for _, opt := range opts {
		opt(ps)
	}
	return ps
}

// Scan 并发扫描单个主机的端口集合，只返回开放端口，按端口升序排列
// 任一探测出现传输错误时取消整个扫描并返回该错误
func (ps *PortScanner) Scan(ctx context.Context, host string, ports PortSet, concurrency int) (model.ScanResult, error) {
	result := model.ScanResult{Target: host, Ports: []model.PortRecord{}}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if concurrency > len(ports) {
		concurrency = len(ports)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ps.logger.Info("开始扫描 %s: %d 个端口, 并发 %d", host, len(ports), concurrency)
	start := time.Now()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
		once     sync.Once
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	portChan := make(chan int)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for port := range portChan {
				record, open, err := ps.scanPort(ctx, host, port)
				if err != nil {
					fail(err)
					continue
				}
				if open {
					mu.Lock()
					result.Ports = append(result.Ports, record)
					mu.Unlock()
				}
			}
		}()
	}

feed:
	for _, port := range ports {
		select {
		case portChan <- port:
		case <-ctx.Done():
			break feed
		}
	}
	close(portChan)
	wg.Wait()

	if firstErr != nil {
		ps.logger.Error("扫描 %s 失败: %v", host, firstErr)
		return model.ScanResult{Target: host, Ports: []model.PortRecord{}}, firstErr
	}
	if err := ctx.Err(); err != nil {
		return model.ScanResult{Target: host, Ports: []model.PortRecord{}}, err
	}

	result.Ports = sortUnique(result.Ports)
	ps.logger.Info("扫描 %s 完成: %d 个开放端口, 耗时 %v", host, len(result.Ports), time.Since(start).Round(time.Millisecond))
	return result, nil
}

func (ps *PortScanner) scanPort(ctx context.Context, host string, port int) (model.PortRecord, bool, error) {
	if ctx.Err() != nil {
		return model.PortRecord{}, false, nil
	}

	state, err := ps.prober.Probe(ctx, host, port)
	if err != nil {
		if probe.IsTransportError(err) {
			return model.PortRecord{}, false, err
		}
		// 取消由 Scan 统一处理
		return model.PortRecord{}, false, nil
	}
	if !state.IsOpen() {
		return model.PortRecord{}, false, nil
	}

	if !ps.identify {
		svc := model.LookupService(port)
		return model.PortRecord{Port: port, Protocol: "tcp", State: model.PortOpen, Name: svc.Name}, true, nil
	}
	return identify(ctx, host, port, ps.bannerTimeout, ps.logger), true, nil
}

// sortUnique 按端口升序排列并去除重复端口
func sortUnique(records []model.PortRecord) []model.PortRecord {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Port < records[j].Port
	})
	out := records[:0]
	for i, r := range records {
		if i > 0 && r.Port == records[i-1].Port {
			continue
		}
		out = append(out, r)
	}
	return out
}
