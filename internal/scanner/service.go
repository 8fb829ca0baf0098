package scanner

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/dlclark/regexp2"

	"Fenrir/internal/model"
	"Fenrir/internal/utils"
)

// DefaultBannerTimeout 服务识别时读取banner的超时
const DefaultBannerTimeout = 1500 * time.Millisecond

const maxBannerLen = 500

// signature 一条banner指纹规则，命名分组 product/version/extra 用于提取版本信息
type signature struct {
	service string
	product string // 分组未捕获时使用的默认产品名
	pattern *regexp2.Regexp
}

func mustSignature(service, product, pattern string) signature {
	re := regexp2.MustCompile(pattern, regexp2.None)
	re.MatchTimeout = 100 * time.Millisecond
	return signature{service: service, product: product, pattern: re}
}

// signatures 按顺序匹配，先匹配者优先
var signatures = []signature{
	mustSignature("ssh", "", `^SSH-[\d.]+-(?<product>[A-Za-z]+)[_-](?<version>[\w.]+)(?:[ \t]+(?<extra>[^\r\n]+))?`),
	mustSignature("ssh", "", `^SSH-[\d.]+-(?<product>[^\s\r\n]+)`),
	mustSignature("http", "", `(?im)^Server:[ \t]*(?<product>[^/\s]+)(?:/(?<version>[\w.\-]+))?(?:[ \t]+\((?<extra>[^)\r\n]+)\))?`),
	mustSignature("http", "", `^HTTP/[\d.]+ \d{3}`),
	mustSignature("smtp", "", `^220[ -](?<extra>\S+)[ \t]+E?SMTP(?:[ \t]+(?<product>Postfix|Exim|Sendmail))?(?:[ \t]+(?<version>\d[\w.]*))?`),
	mustSignature("ftp", "", `^220[ -].*?(?<product>vsFTPd|ProFTPD|Pure-FTPd|FileZilla Server)[ \t]*(?<version>\d[\w.]*)?`),
	mustSignature("ftp", "", `(?i)^220[ -].*ftp`),
	mustSignature("redis", "Redis", `^(?:\+PONG|-NOAUTH|-ERR operation not permitted)`),
	mustSignature("mysql", "MySQL", `(?s)^.{4}\n(?<version>\d+\.\d+\.\d+[\w.\-]*)`),
	mustSignature("pop3", "", `^\+OK`),
	mustSignature("imap", "", `^\* OK`),
	mustSignature("vnc", "VNC", `^RFB (?<version>\d{3}\.\d{3})`),
}

// webPorts 发送 HEAD 请求的端口
var webPorts = map[int]bool{
	80: true, 81: true, 443: true, 591: true, 3000: true, 5000: true,
	8000: true, 8008: true, 8080: true, 8081: true, 8088: true, 8443: true, 8888: true, 9000: true,
}

// probePayload 根据端口选择主动发送的探测数据，banner优先的协议不发送
func probePayload(port int) []byte {
	switch {
	case webPorts[port]:
		return []byte("HEAD / HTTP/1.0\r\n\r\n")
	case port == 6379:
		return []byte("PING\r\n")
	default:
		return nil
	}
}

// identify 对开放端口重新建立连接，读取banner并识别服务
// 识别失败时回退到常见端口表，端口本身不会被丢弃
func identify(ctx context.Context, host string, port int, timeout time.Duration, logger *utils.Logger) model.PortRecord {
	record := model.PortRecord{
		Port:     port,
		Protocol: "tcp",
		State:    model.PortOpen,
	}

	raw := grabBanner(ctx, host, port, timeout)
	record.Banner = sanitizeBanner(raw)

	svc, ok := matchSignature(raw)
	if !ok {
		svc = model.LookupService(port)
		svc.Extra = ""
	}
	if svc.Name == "" {
		svc.Name = model.UnknownService
	}

	record.Name = svc.Name
	record.Product = svc.Product
	record.Version = svc.Version
	record.ExtraInfo = svc.Extra

	if raw != "" {
		logger.Debug("端口 %d 识别为 %s %s %s", port, record.Name, record.Product, record.Version)
	}
	return record
}

// grabBanner 读取banner，失败返回空串
func grabBanner(ctx context.Context, host string, port int, timeout time.Duration) string {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return ""
	}
	defer conn.Close()

	deadline, _ := dctx.Deadline()
	conn.SetDeadline(deadline)

	if payload := probePayload(port); payload != nil {
		if _, err := conn.Write(payload); err != nil {
			return ""
		}
	}

	buffer := make([]byte, 2048)
	n, _ := conn.Read(buffer)
	if n <= 0 {
		return ""
	}
	return string(buffer[:n])
}

// matchSignature 按指纹表识别服务
func matchSignature(banner string) (model.ServiceInfo, bool) {
	if banner == "" {
		return model.ServiceInfo{}, false
	}
	for _, sig := range signatures {
		m, err := sig.pattern.FindStringMatch(banner)
		if err != nil || m == nil {
			continue
		}
		info := model.ServiceInfo{
			Name:    sig.service,
			Product: groupValue(m, "product"),
			Version: utils.NormalizeVersion(groupValue(m, "version")),
			Extra:   strings.TrimSpace(groupValue(m, "extra")),
		}
		if info.Product == "" {
			info.Product = sig.product
		}
		return info, true
	}
	return model.ServiceInfo{}, false
}

func groupValue(m *regexp2.Match, name string) string {
	g := m.GroupByName(name)
	if g == nil {
		return ""
	}
	return g.String()
}

// sanitizeBanner 去除不可打印字符并限制长度
func sanitizeBanner(raw string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '\r' || r == '\n' || r == '\t':
			return ' '
		case r == unicode.ReplacementChar || !unicode.IsPrint(r):
			return -1
		default:
			return r
		}
	}, raw)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	// 按字符截断，总长度含省略号不超过 maxBannerLen
	if runes := []rune(cleaned); len(runes) > maxBannerLen {
		cleaned = string(runes[:maxBannerLen-3]) + "..."
	}
	return cleaned
}
