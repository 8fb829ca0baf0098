package probe

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrTransportUnavailable 探测传输无法初始化（如缺少原始套接字权限）
var ErrTransportUnavailable = errors.New("探测传输不可用")

// TransportError 探测无法进行的传输层错误，区别于端口关闭、主机离线
type TransportError struct {
	Op   string
	Host string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Host == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Host, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError 判断是否为传输层错误
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// transportErrnos 视为传输故障的系统错误
var transportErrnos = []syscall.Errno{
	syscall.ENETUNREACH,
	syscall.EHOSTUNREACH,
	syscall.EMFILE,
	syscall.ENFILE,
	syscall.EACCES,
	syscall.EPERM,
	syscall.EADDRNOTAVAIL,
}

func isTransportFault(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	for _, errno := range transportErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}
