package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"Fenrir/internal/coordinator"
	"Fenrir/internal/model"
)

type OutputFormatter struct {
	format string
	out    io.Writer
}

func NewOutputFormatter(format string, out io.Writer) *OutputFormatter {
	return &OutputFormatter{format: strings.ToLower(format), out: out}
}

// PrintResults 按 order 中的目标顺序输出结果，outputFile 非空时写入文件
func (of *OutputFormatter) PrintResults(results coordinator.Results, order []string, outputFile string) error {
	var output string
	switch of.format {
	case "json":
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("序列化结果失败: %w", err)
		}
		output = string(data) + "\n"
	case "", "text":
		output = of.formatText(results, order)
	default:
		return fmt.Errorf("不支持的输出格式: %s", of.format)
	}

	if outputFile != "" {
		return os.WriteFile(outputFile, []byte(output), 0644)
	}
	_, err := io.WriteString(of.out, output)
	return err
}

func (of *OutputFormatter) formatText(results coordinator.Results, order []string) string {
	var builder strings.Builder

	for _, target := range orderedTargets(results, order) {
		state := results[target]
		builder.WriteString(strings.Repeat("═", 60) + "\n")
		builder.WriteString(fmt.Sprintf("目标: %s\n", target))

		if state.Down() {
			builder.WriteString("状态: 离线\n\n")
			continue
		}
		writeDiscovery(&builder, state.Discovery)

		if state.Scan != nil {
			writePorts(&builder, state.Scan)
		}
		if state.Vulnerabilities != nil {
			writeVulnerabilities(&builder, state.Vulnerabilities)
		}
		if state.Exploits != nil {
			writeExploits(&builder, state.Exploits)
		}

		if stage, msg, failed := state.Failed(); failed {
			builder.WriteString(fmt.Sprintf("\n⚠️  模块 %s 失败: %s\n", stage, msg))
		}
		builder.WriteString("\n")
	}
	return builder.String()
}

// orderedTargets 先按 order 输出，order 之外的目标按字母序追加
func orderedTargets(results coordinator.Results, order []string) []string {
	seen := make(map[string]bool, len(results))
	targets := make([]string, 0, len(results))
	for _, t := range order {
		if _, ok := results[t]; ok && !seen[t] {
			seen[t] = true
			targets = append(targets, t)
		}
	}
	var rest []string
	for t := range results {
		if !seen[t] {
			rest = append(rest, t)
		}
	}
	sort.Strings(rest)
	return append(targets, rest...)
}

func writeDiscovery(b *strings.Builder, d *model.HostDiscoveryResult) {
	if d == nil {
		return
	}
	b.WriteString("状态: 在线")
	if d.Latency > 0 {
		b.WriteString(fmt.Sprintf(" (延迟 %s)", d.Latency.Round(100*time.Microsecond)))
	}
	b.WriteString("\n")
	if d.Hostname != "" {
		b.WriteString(fmt.Sprintf("主机名: %s\n", d.Hostname))
	}
	if d.OSGuess != nil {
		b.WriteString(fmt.Sprintf("系统猜测: %s (%d%%)\n", d.OSGuess.Name, d.OSGuess.Confidence))
	}
}

func writePorts(b *strings.Builder, scan *model.ScanResult) {
	if len(scan.Ports) == 0 {
		b.WriteString("\n❌ 未发现开放端口\n")
		return
	}

	b.WriteString(fmt.Sprintf("\n🔍 开放端口 (%d):\n", len(scan.Ports)))
	w := tabwriter.NewWriter(b, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "端口\t状态\t服务\t版本\t附加信息")
	for _, port := range scan.Ports {
		product := port.Product
		if port.Version != "" {
			product = strings.TrimSpace(product + " " + port.Version)
		}
		fmt.Fprintf(w, "%d/%s\t%s\t%s\t%s\t%s\n",
			port.Port, port.Protocol, port.State, port.Name, dash(product), dash(port.ExtraInfo))
	}
	w.Flush()
}

func writeVulnerabilities(b *strings.Builder, vulns map[string][]model.VulnerabilityRecord) {
	total := 0
	for _, records := range vulns {
		total += len(records)
	}
	if total == 0 {
		b.WriteString("\n✅ 未发现已知漏洞\n")
		return
	}

	b.WriteString(fmt.Sprintf("\n⚠️  发现 %d 个漏洞:\n", total))
	w := tabwriter.NewWriter(b, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "服务\t编号\t等级\tCVSS\t描述")
	for _, term := range sortedKeys(vulns) {
		for _, v := range vulns[term] {
			score := "-"
			if v.CVSSV3Score != nil {
				score = fmt.Sprintf("%.1f", *v.CVSSV3Score)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", term, v.ID, v.Severity, score, truncate(v.Description, 80))
		}
	}
	w.Flush()
}

func writeExploits(b *strings.Builder, exploits map[string][]model.ExploitRecord) {
	total := 0
	for _, records := range exploits {
		total += len(records)
	}
	if total == 0 {
		return
	}

	b.WriteString(fmt.Sprintf("\n🔸 相关公开利用 (%d):\n", total))
	w := tabwriter.NewWriter(b, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "关键词\tEDB-ID\t类型\t平台\t标题")
	for _, term := range sortedKeys(exploits) {
		for _, e := range exploits[term] {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", term, e.EDBID, e.Type, e.Platform, truncate(e.Title, 80))
		}
	}
	w.Flush()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
