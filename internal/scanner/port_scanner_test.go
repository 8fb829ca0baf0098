package scanner

import (
	"context"
	"net"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Fenrir/internal/model"
	"Fenrir/internal/probe"
)

type fakeProber struct {
	open      map[int]bool
	failOn    int
	calls     atomic.Int32
	probeWait time.Duration
}

func (f *fakeProber) Probe(ctx context.Context, host string, port int) (model.PortState, error) {
	f.calls.Add(1)
	if f.probeWait > 0 {
		time.Sleep(f.probeWait)
	}
	if port == f.failOn {
		return model.PortClosed, &probe.TransportError{Op: "connect", Host: host, Err: syscall.EMFILE}
	}
	if f.open[port] {
		return model.PortOpen, nil
	}
	return model.PortClosed, nil
}

func TestParsePortSpec(t *testing.T) {
	tests := []struct {
		spec string
		want PortSet
	}{
		{"20-22,21", PortSet{20, 21, 22}},
		{"443,80,22", PortSet{22, 80, 443}},
		{" 8080 , 8080-8081 ", PortSet{8080, 8081}},
		{"1", PortSet{1}},
		{"65535", PortSet{65535}},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParsePortSpec(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePortSpecKeywords(t *testing.T) {
	common, err := ParsePortSpec("")
	require.NoError(t, err)
	assert.Equal(t, PortSet(model.CommonPortsList()), common)

	def, err := ParsePortSpec("default")
	require.NoError(t, err)
	assert.Equal(t, common, def)

	all, err := ParsePortSpec("ALL")
	require.NoError(t, err)
	assert.Len(t, all, 65535)
	assert.Equal(t, "1-65535", all.String())
}

func TestParsePortSpecInvalid(t *testing.T) {
	for _, spec := range []string{"0", "65536", "22-20", "abc", "1-2-3", "80,", ",", "-5", "10-"} {
		_, err := ParsePortSpec(spec)
		if spec == "80," {
			assert.NoError(t, err, "尾部逗号应被忽略")
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidPortSpec, "端口范围 %q 应被拒绝", spec)
	}
}

func TestPortSetStringRoundTrip(t *testing.T) {
	for _, spec := range []string{"20-22,21", "1,3,5-9,100", "common", "8080"} {
		ps, err := ParsePortSpec(spec)
		require.NoError(t, err)

		again, err := ParsePortSpec(ps.String())
		require.NoError(t, err)
		assert.Equal(t, ps, again, "解析结果应可往返: %s", spec)
	}

	ps, _ := ParsePortSpec("1,3,5-9,100")
	assert.Equal(t, "1,3,5-9,100", ps.String())
	assert.True(t, ps.Contains(7))
	assert.False(t, ps.Contains(4))
}

func TestScanSortedOpenOnly(t *testing.T) {
	prober := &fakeProber{open: map[int]bool{443: true, 22: true, 80: true}}
	ps := NewPortScanner(prober, WithServiceDetection(false))

	ports, err := ParsePortSpec("1-1000")
	require.NoError(t, err)

	result, err := ps.Scan(context.Background(), "192.0.2.10", ports, 50)
	require.NoError(t, err)
	require.Len(t, result.Ports, 3)

	assert.Equal(t, 22, result.Ports[0].Port)
	assert.Equal(t, "ssh", result.Ports[0].Name)
	assert.Equal(t, 80, result.Ports[1].Port)
	assert.Equal(t, 443, result.Ports[2].Port)
	for _, p := range result.Ports {
		assert.Equal(t, model.PortOpen, p.State)
		assert.Equal(t, "tcp", p.Protocol)
	}
	assert.EqualValues(t, 1000, prober.calls.Load())
}

func TestScanTransportErrorCancels(t *testing.T) {
	prober := &fakeProber{open: map[int]bool{22: true}, failOn: 5, probeWait: time.Millisecond}
	ps := NewPortScanner(prober, WithServiceDetection(false))

	ports, _ := ParsePortSpec("1-5000")
	result, err := ps.Scan(context.Background(), "192.0.2.10", ports, 4)
	require.Error(t, err)
	assert.True(t, probe.IsTransportError(err))
	assert.Empty(t, result.Ports)
	assert.Less(t, int(prober.calls.Load()), 5000, "传输错误后应停止派发端口")
}

func TestScanCancelled(t *testing.T) {
	ps := NewPortScanner(&fakeProber{}, WithServiceDetection(false))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ports, _ := ParsePortSpec("1-100")
	_, err := ps.Scan(ctx, "192.0.2.10", ports, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

// serveBanner 启动一个发送固定banner的本地服务
func serveBanner(t *testing.T, banner string) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Write([]byte(banner))
			conn.Close()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestScanIdentifiesSSH(t *testing.T) {
	port := serveBanner(t, "SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.1\r\n")
	ps := NewPortScanner(probe.NewEngine(probe.Options{Timeout: time.Second}), WithBannerTimeout(time.Second))

	result, err := ps.Scan(context.Background(), "127.0.0.1", PortSet{port}, 1)
	require.NoError(t, err)
	require.Len(t, result.Ports, 1)

	rec := result.Ports[0]
	assert.Equal(t, port, rec.Port)
	assert.Equal(t, "ssh", rec.Name)
	assert.Equal(t, "OpenSSH", rec.Product)
	assert.Equal(t, "8.9p1", rec.Version)
	assert.Equal(t, "Ubuntu-3ubuntu0.1", rec.ExtraInfo)
	assert.Equal(t, "SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.1", rec.Banner)
}

func TestScanSilentServiceFallsBack(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				time.Sleep(500 * time.Millisecond)
				conn.Close()
			}()
		}
	}()
	port := ln.Addr().(*net.TCPAddr).Port

	ps := NewPortScanner(probe.NewEngine(probe.Options{Timeout: time.Second}), WithBannerTimeout(100*time.Millisecond))
	result, err := ps.Scan(context.Background(), "127.0.0.1", PortSet{port}, 1)
	require.NoError(t, err)
	require.Len(t, result.Ports, 1, "识别失败的端口不应被丢弃")
	assert.Equal(t, model.LookupService(port).Name, result.Ports[0].Name)
	assert.Empty(t, result.Ports[0].Banner)
}

func TestMatchSignature(t *testing.T) {
	tests := []struct {
		name    string
		banner  string
		service string
		product string
		version string
	}{
		{"nginx", "HTTP/1.1 200 OK\r\nServer: nginx/1.18.0 (Ubuntu)\r\n\r\n", "http", "nginx", "1.18.0"},
		{"无Server头", "HTTP/1.0 404 Not Found\r\n\r\n", "http", "", ""},
		{"vsftpd", "220 (vsFTPd 3.0.3)\r\n", "ftp", "vsFTPd", "3.0.3"},
		{"postfix", "220 mail.example.com ESMTP Postfix\r\n", "smtp", "Postfix", ""},
		{"redis", "+PONG\r\n", "redis", "Redis", ""},
		{"mysql", "J\x00\x00\x00\n8.0.33\x00rest", "mysql", "MySQL", "8.0.33"},
		{"vnc", "RFB 003.008\n", "vnc", "VNC", "003.008"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, ok := matchSignature(tt.banner)
			require.True(t, ok)
			assert.Equal(t, tt.service, info.Name)
			assert.Equal(t, tt.product, info.Product)
			assert.Equal(t, tt.version, info.Version)
		})
	}

	_, ok := matchSignature("garbage\x00\x01")
	assert.False(t, ok)
}

func TestSanitizeBannerMultiByte(t *testing.T) {
	got := sanitizeBanner(strings.Repeat("中", 300) + "\r\n" + strings.Repeat("文", 300))
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, utf8.RuneCountInString(got), maxBannerLen)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.True(t, strings.HasPrefix(got, strings.Repeat("中", 300)+" 文"))

	short := sanitizeBanner("220 \x00欢迎\tFTP\r\n")
	assert.Equal(t, "220 欢迎 FTP", short)
}
