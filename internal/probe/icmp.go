package probe

import (
	"context"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// icmpPing 使用 pro-bing 发送一次 ICMP 回显请求
func icmpPing(ctx context.Context, host string, timeout time.Duration, privileged bool) (Liveness, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return Liveness{}, &TransportError{Op: "icmp-resolve", Host: host, Err: err}
	}

	pinger.Count = 1
	pinger.Timeout = timeout
	// Windows 下只能使用特权模式
	pinger.SetPrivileged(privileged || runtime.GOOS == "windows")

	var ttl int
	pinger.OnRecv = func(pkt *probing.Packet) {
		ttl = pkt.TTL
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-done:
		}
	}()

	if err := pinger.Run(); err != nil {
		if ctx.Err() != nil {
			return Liveness{}, ctx.Err()
		}
		return Liveness{}, &TransportError{Op: "icmp", Host: host, Err: err}
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return Liveness{}, nil
	}
	return Liveness{Up: true, RTT: stats.AvgRtt, TTL: ttl}, nil
}
