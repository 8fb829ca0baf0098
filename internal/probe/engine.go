package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/time/rate"

	"Fenrir/internal/model"
	"Fenrir/internal/utils"
)

const (
	DefaultTimeout = 2 * time.Second
	MaxTimeout     = 30 * time.Second
)

// DefaultLivenessPorts TCP存活探测使用的端口
var DefaultLivenessPorts = []int{80, 443, 22, 445, 3389}

// Options 探测引擎配置
type Options struct {
	Timeout       time.Duration
	ICMP          bool // 是否使用ICMP回显探测
	Privileged    bool // ICMP是否使用原始套接字
	LivenessPorts []int
	Rate          float64 // 每秒探测数，0 表示不限速
}

// DefaultOptions 默认配置
func DefaultOptions() Options {
	return Options{
		Timeout:       DefaultTimeout,
		LivenessPorts: DefaultLivenessPorts,
	}
}

// Liveness 存活探测结果
type Liveness struct {
	Up     bool
	RTT    time.Duration
	TTL    int
	Method string // icmp / tcp
}

type pingFunc func(ctx context.Context, host string, timeout time.Duration, privileged bool) (Liveness, error)

type listenFunc func(network, address string) (io.Closer, error)

// Engine 单主机/端口探测引擎，不做内部重试
type Engine struct {
	opts    Options
	limiter *rate.Limiter
	ping    pingFunc
	listen  listenFunc
	logger  *utils.Logger
}

func NewEngine(opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Timeout > MaxTimeout {
		opts.Timeout = MaxTimeout
	}
	if len(opts.LivenessPorts) == 0 {
		opts.LivenessPorts = DefaultLivenessPorts
	}

	e := &Engine{
		opts:   opts,
		ping:   icmpPing,
		listen: listenICMP,
		logger: utils.NewLogger("probe"),
	}
	if opts.Rate > 0 {
		burst := int(opts.Rate)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}
	return e
}

// Timeout 返回连接超时
func (e *Engine) Timeout() time.Duration {
	return e.opts.Timeout
}

func (e *Engine) wait(ctx context.Context) error {
	if e.limiter == nil {
		return ctx.Err()
	}
	return e.limiter.Wait(ctx)
}

// Probe 对 host:port 发起一次TCP连接探测
// 连接拒绝返回 closed；超时返回 filtered，与 closed 同属未开放的结果，不是错误。
// 网络不可达、DNS 失败等传输故障返回 TransportError
func (e *Engine) Probe(ctx context.Context, host string, port int) (model.PortState, error) {
	if err := e.wait(ctx); err != nil {
		return model.PortClosed, err
	}
	return e.dial(ctx, host, port)
}

func (e *Engine) dial(ctx context.Context, host string, port int) (model.PortState, error) {
	dctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err == nil {
		conn.Close()
		return model.PortOpen, nil
	}
	return classifyDialError(ctx, host, port, err)
}

func classifyDialError(ctx context.Context, host string, port int, err error) (model.PortState, error) {
	switch {
	case ctx.Err() != nil:
		// 调用方取消，而非本次探测超时
		return model.PortClosed, ctx.Err()
	case isTransportFault(err):
		return model.PortClosed, &TransportError{Op: "connect", Host: net.JoinHostPort(host, strconv.Itoa(port)), Err: err}
	case isTimeout(err):
		return model.PortFiltered, nil
	case isRefused(err):
		return model.PortClosed, nil
	default:
		return model.PortClosed, nil
	}
}

// ProbeLiveness 判断主机是否在线
// ICMP 与 TCP 探测并发进行，任一响应即视为在线；TCP 连接被拒绝同样说明主机在线
func (e *Engine) ProbeLiveness(ctx context.Context, host string) (Liveness, error) {
	if err := e.wait(ctx); err != nil {
		return Liveness{}, err
	}

	pctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	type attempt struct {
		live Liveness
		err  error
	}

	total := len(e.opts.LivenessPorts)
	if e.opts.ICMP {
		total++
	}
	results := make(chan attempt, total)

	if e.opts.ICMP {
		go func() {
			live, err := e.ping(pctx, host, e.opts.Timeout, e.opts.Privileged)
			live.Method = "icmp"
			results <- attempt{live: live, err: err}
		}()
	}
	for _, port := range e.opts.LivenessPorts {
		go func(port int) {
			start := time.Now()
			state, err := e.dial(pctx, host, port)
			live := Liveness{Method: "tcp"}
			if err == nil && (state == model.PortOpen || state == model.PortClosed) {
				live.Up = true
				live.RTT = time.Since(start)
			}
			results <- attempt{live: live, err: err}
		}(port)
	}

	var transportErr error
	failures := 0
	for i := 0; i < total; i++ {
		a := <-results
		if a.live.Up {
			return a.live, nil
		}
		if a.err != nil && IsTransportError(a.err) {
			failures++
			transportErr = a.err
		}
	}

	if ctx.Err() != nil {
		return Liveness{}, ctx.Err()
	}
	if failures == total {
		return Liveness{}, transportErr
	}
	e.logger.Debug("主机 %s 无响应", host)
	return Liveness{}, nil
}

// CheckTransport 检查ICMP传输能否打开，仅在启用ICMP时生效
func (e *Engine) CheckTransport() error {
	if !e.opts.ICMP {
		return nil
	}
	network := "udp4"
	if e.opts.Privileged {
		network = "ip4:icmp"
	}
	c, err := e.listen(network, "0.0.0.0")
	if err != nil {
		return &TransportError{Op: "icmp-listen " + network, Err: fmt.Errorf("%w: %v", ErrTransportUnavailable, err)}
	}
	return c.Close()
}

func listenICMP(network, address string) (io.Closer, error) {
	return icmp.ListenPacket(network, address)
}
