package model

import "sort"

// UnknownService 未识别服务名
const UnknownService = "unknown"

// CommonPorts 常见端口映射
var CommonPorts = map[int]ServiceInfo{
	20:    {Name: "ftp-data", Extra: "文件传输协议数据"},
	21:    {Name: "ftp", Extra: "文件传输协议"},
	22:    {Name: "ssh", Extra: "安全外壳协议"},
	23:    {Name: "telnet", Extra: "远程登录协议"},
	25:    {Name: "smtp", Extra: "简单邮件传输协议"},
	53:    {Name: "domain", Extra: "域名系统"},
	69:    {Name: "tftp", Extra: "简单文件传输协议"},
	80:    {Name: "http", Extra: "网页服务器"},
	110:   {Name: "pop3", Extra: "邮局协议第3版"},
	111:   {Name: "rpcbind", Extra: "远程过程调用"},
	135:   {Name: "msrpc", Extra: "微软远程过程调用"},
	139:   {Name: "netbios-ssn", Extra: "NetBIOS会话服务"},
	143:   {Name: "imap", Extra: "互联网消息访问协议"},
	161:   {Name: "snmp", Extra: "简单网络管理协议"},
	389:   {Name: "ldap", Extra: "轻量级目录访问协议"},
	443:   {Name: "https", Extra: "安全网页服务器"},
	445:   {Name: "microsoft-ds", Extra: "服务器消息块"},
	465:   {Name: "smtps", Extra: "基于SSL的SMTP"},
	514:   {Name: "syslog", Extra: "系统日志服务"},
	587:   {Name: "submission", Extra: "邮件提交"},
	993:   {Name: "imaps", Extra: "基于SSL的IMAP"},
	995:   {Name: "pop3s", Extra: "基于SSL的POP3"},
	1433:  {Name: "ms-sql-s", Extra: "微软SQL Server"},
	1521:  {Name: "oracle", Extra: "Oracle数据库"},
	2049:  {Name: "nfs", Extra: "网络文件系统"},
	3306:  {Name: "mysql", Extra: "数据库"},
	3389:  {Name: "ms-wbt-server", Extra: "远程桌面协议"},
	5432:  {Name: "postgresql", Extra: "数据库"},
	5900:  {Name: "vnc", Extra: "虚拟网络计算"},
	6379:  {Name: "redis", Extra: "数据库"},
	8000:  {Name: "http-alt", Extra: "备用HTTP"},
	8080:  {Name: "http-proxy", Extra: "备用HTTP"},
	8443:  {Name: "https-alt", Extra: "备用HTTPS"},
	9200:  {Name: "elasticsearch", Extra: "搜索与分析引擎"},
	11211: {Name: "memcached", Extra: "缓存服务"},
	27017: {Name: "mongodb", Extra: "NoSQL数据库"},
}

// CommonPortsList 返回排序后的常见端口列表
func CommonPortsList() []int {
	ports := make([]int, 0, len(CommonPorts))
	for p := range CommonPorts {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}

// LookupService 按端口查找常见服务，未收录返回 unknown
func LookupService(port int) ServiceInfo {
	if s, ok := CommonPorts[port]; ok {
		return s
	}
	return ServiceInfo{Name: UnknownService}
}
