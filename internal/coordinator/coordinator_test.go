package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Fenrir/internal/discovery"
	"Fenrir/internal/model"
	"Fenrir/internal/probe"
	"Fenrir/internal/scanner"
)

type fakeDiscoverer struct {
	down map[string]bool
	err  error
}

func (f *fakeDiscoverer) Discover(ctx context.Context, target string, concurrency int) ([]model.HostDiscoveryResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	status := model.HostUp
	if f.down[target] {
		status = model.HostDown
	}
	return []model.HostDiscoveryResult{{Target: target, Status: status, TTL: 64}}, nil
}

type fakeScanner struct {
	mu    sync.Mutex
	ports []model.PortRecord
	err   error
	calls []string
}

func (f *fakeScanner) Scan(ctx context.Context, host string, ports scanner.PortSet, concurrency int) (model.ScanResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, host)
	f.mu.Unlock()
	if f.err != nil {
		return model.ScanResult{}, f.err
	}
	return model.ScanResult{Target: host, Ports: f.ports}, nil
}

type fakeVulns struct {
	mu      sync.Mutex
	records map[string][]model.VulnerabilityRecord
	queries []string
}

func (f *fakeVulns) Lookup(keyword, minSeverity string) ([]model.VulnerabilityRecord, error) {
	f.mu.Lock()
	f.queries = append(f.queries, keyword)
	f.mu.Unlock()
	if records, ok := f.records[keyword]; ok {
		return records, nil
	}
	return []model.VulnerabilityRecord{}, nil
}

type fakeExploits struct {
	terms []string
}

func (f *fakeExploits) FindExploits(terms []string) map[string][]model.ExploitRecord {
	f.terms = terms
	out := make(map[string][]model.ExploitRecord, len(terms))
	for _, t := range terms {
		out[t] = []model.ExploitRecord{}
	}
	if _, ok := out["CVE-2011-2523"]; ok {
		out["CVE-2011-2523"] = []model.ExploitRecord{{EDBID: "49757", Title: "vsftpd 2.3.4 - Backdoor Command Execution"}}
	}
	return out
}

var allStages = []string{"discovery", "scan", "vuln_lookup", "exploit_lookup"}

func newFakeCoordinator() (*Coordinator, *fakeScanner, *fakeVulns, *fakeExploits) {
	sc := &fakeScanner{ports: []model.PortRecord{
		{Port: 21, Protocol: "tcp", State: model.PortOpen, Name: "ftp", Product: "vsftpd", Version: "2.3.4"},
		{Port: 22, Protocol: "tcp", State: model.PortOpen, Name: "ssh", Product: "OpenSSH"},
		{Port: 9999, Protocol: "tcp", State: model.PortOpen, Name: model.UnknownService},
	}}
	vulns := &fakeVulns{records: map[string][]model.VulnerabilityRecord{
		"vsftpd": {{ID: "CVE-2011-2523", Description: "vsftpd backdoor", Severity: model.SeverityCritical}},
	}}
	exploits := &fakeExploits{}
	c := New(Handlers{
		Discovery: &fakeDiscoverer{},
		Scanner:   sc,
		Vulns:     vulns,
		Exploits:  exploits,
	}, Options{Concurrency: 10})
	return c, sc, vulns, exploits
}

func TestParseStageNamesCanonicalOrder(t *testing.T) {
	stages, err := ParseStageNames([]string{"exploit_finder", "SCAN", "vuln-lookup", "discovery", "port_scanner"})
	require.NoError(t, err)
	assert.Equal(t, CanonicalOrder, stages)

	_, err = ParseStageNames([]string{"scan", "brute_force"})
	assert.ErrorIs(t, err, ErrUnknownStage)

	_, err = ParseStageNames(nil)
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestEnabledStages(t *testing.T) {
	names, err := EnabledStages(map[string]bool{"port_scanner": true, "vulnerability_identifier": true, "exploit_finder": false})
	require.NoError(t, err)
	assert.Equal(t, []string{"port_scanner", "vulnerability_identifier"}, names)

	_, err = EnabledStages(map[string]bool{"teleport": true})
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestEnabledStagesLegacyModules(t *testing.T) {
	names, err := EnabledStages(map[string]bool{
		"port_scanner":        true,
		"web_scanner":         true,
		"threat_intelligence": true,
		"teleport":            false,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"port_scanner"}, names)

	names, err = EnabledStages(map[string]bool{"drone_scanner": true})
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestParseStageNameCoordinatorAliases(t *testing.T) {
	tests := map[string]StageName{
		"portscan":       StageScan,
		"vulnidentifier": StageVulnLookup,
		"vuln":           StageVulnLookup,
		"exploitfinder":  StageExploitLookup,
		" PortScan ":     StageScan,
	}
	for in, want := range tests {
		got, err := ParseStageName(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	stages, err := ParseStageNames([]string{"exploitfinder", "portscan", "vulnidentifier"})
	require.NoError(t, err)
	assert.Equal(t, []StageName{StageScan, StageVulnLookup, StageExploitLookup}, stages)

	_, err = ParseStageNames([]string{"web_scanner"})
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestRunFullPipeline(t *testing.T) {
	c, _, vulns, exploits := newFakeCoordinator()

	state, err := c.Run(context.Background(), "10.0.0.5", []string{"exploit_lookup", "vuln_lookup", "scan", "discovery"}, "21-22")
	require.NoError(t, err)
	require.NotNil(t, state)

	assert.NotEmpty(t, state.RunID)
	assert.Empty(t, state.Errors)
	require.NotNil(t, state.Discovery)
	require.NotNil(t, state.Scan)
	assert.Len(t, state.Scan.Ports, 3)

	// unknown 不参与查询，关键词按字母序
	assert.Equal(t, []string{"OpenSSH", "vsftpd"}, vulns.queries)
	assert.Len(t, state.Vulnerabilities["vsftpd"], 1)
	assert.Empty(t, state.Vulnerabilities["OpenSSH"])

	assert.Equal(t, []string{"OpenSSH", "vsftpd", "CVE-2011-2523"}, exploits.terms)
	assert.Len(t, state.Exploits["CVE-2011-2523"], 1)
}

func TestRunFailFast(t *testing.T) {
	c, sc, vulns, exploits := newFakeCoordinator()
	sc.err = &probe.TransportError{Op: "connect", Host: "10.0.0.5", Err: syscall.EMFILE}

	state, err := c.Run(context.Background(), "10.0.0.5", allStages, "1-100")
	require.NoError(t, err)

	assert.True(t, state.Has(StageDiscovery))
	assert.True(t, state.Has(StageScan))
	assert.Contains(t, state.Errors[StageScan], "connect")
	assert.False(t, state.Has(StageVulnLookup), "失败后不应执行后续模块")
	assert.False(t, state.Has(StageExploitLookup))
	assert.Empty(t, vulns.queries)
	assert.Nil(t, exploits.terms)

	stage, _, failed := state.Failed()
	assert.True(t, failed)
	assert.Equal(t, StageScan, stage)

	data, err := json.Marshal(state)
	require.NoError(t, err)
	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded, 2)
	assert.JSONEq(t, `{"error":"connect 10.0.0.5: too many open files"}`, string(decoded["scan"]))
}

func TestRunHostDown(t *testing.T) {
	c, sc, _, _ := newFakeCoordinator()
	c.handlers.Discovery = &fakeDiscoverer{down: map[string]bool{"10.0.0.9": true}}

	state, err := c.Run(context.Background(), "10.0.0.9", allStages, "")
	require.NoError(t, err)
	assert.True(t, state.Down())
	assert.Empty(t, sc.calls, "离线主机不应扫描")

	data, err := json.Marshal(state)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"down"}`, string(data))
}

func TestRunDiscoveryTransportError(t *testing.T) {
	c, sc, _, _ := newFakeCoordinator()
	c.handlers.Discovery = &fakeDiscoverer{err: &probe.TransportError{Op: "icmp-listen", Err: probe.ErrTransportUnavailable}}

	state, err := c.Run(context.Background(), "10.0.0.5", allStages, "")
	require.NoError(t, err)
	assert.Contains(t, state.Errors[StageDiscovery], "icmp-listen")
	assert.Empty(t, sc.calls)
}

func TestRunWithoutDiscoveryAssumesUp(t *testing.T) {
	c, sc, _, _ := newFakeCoordinator()

	state, err := c.Run(context.Background(), "10.0.0.5", []string{"scan"}, "22")
	require.NoError(t, err)
	assert.False(t, state.Has(StageDiscovery))
	assert.True(t, state.Has(StageScan))
	assert.Equal(t, []string{"10.0.0.5"}, sc.calls)
}

func TestRunRejectsMalformedInput(t *testing.T) {
	c, sc, _, _ := newFakeCoordinator()
	ctx := context.Background()

	_, err := c.Run(ctx, "10.0.0.5", []string{"scan", "teleport"}, "22")
	assert.ErrorIs(t, err, ErrUnknownStage)

	_, err = c.Run(ctx, "10.0.0.5", []string{"scan"}, "22-10")
	assert.ErrorIs(t, err, scanner.ErrInvalidPortSpec)

	_, err = c.Run(ctx, "10.0.0.0/30", []string{"scan"}, "22")
	assert.ErrorIs(t, err, discovery.ErrInvalidTarget)

	_, err = c.RunAll(ctx, []string{"10.0.0.1", "not a host"}, []string{"scan"}, "22")
	assert.ErrorIs(t, err, discovery.ErrInvalidTarget)

	_, err = c.RunAll(ctx, nil, []string{"scan"}, "22")
	assert.ErrorIs(t, err, ErrNoTargets)

	assert.Empty(t, sc.calls, "输入错误时不应有任何网络活动")
}

func TestRunStageUnavailable(t *testing.T) {
	c := New(Handlers{Scanner: &fakeScanner{}}, Options{})
	_, err := c.Run(context.Background(), "10.0.0.5", []string{"scan", "vuln_lookup"}, "22")
	assert.ErrorIs(t, err, ErrStageUnavailable)
}

func TestRunCancelled(t *testing.T) {
	c, sc, _, _ := newFakeCoordinator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := c.Run(ctx, "10.0.0.5", allStages, "22")
	require.NoError(t, err)
	assert.Equal(t, context.Canceled.Error(), state.Errors[StageDiscovery])
	assert.False(t, state.Has(StageScan))
	assert.Empty(t, sc.calls)
}

func TestRunAllOneEntryPerTarget(t *testing.T) {
	c, _, _, _ := newFakeCoordinator()
	c.handlers.Discovery = &fakeDiscoverer{down: map[string]bool{"10.0.0.2": true}}
	c.handlers.Scanner = &fakeScanner{err: errors.New("boom")}
	c.opts.TargetConcurrency = 2

	results, err := c.RunAll(context.Background(), []string{"10.0.0.0/29", "10.0.0.1"}, allStages, "22")
	require.NoError(t, err)
	require.Len(t, results, 6)

	for host, state := range results {
		assert.Equal(t, host, state.Target)
		if host == "10.0.0.2" {
			assert.True(t, state.Down())
			continue
		}
		assert.Equal(t, "boom", state.Errors[StageScan], "目标 %s", host)
	}
}

func TestRunAllCancelledStillReportsEveryTarget(t *testing.T) {
	c, _, _, _ := newFakeCoordinator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := c.RunAll(ctx, []string{"10.0.0.1-4"}, allStages, "22")
	require.NoError(t, err)
	require.Len(t, results, 4)
	for _, state := range results {
		_, msg, failed := state.Failed()
		assert.True(t, failed)
		assert.Equal(t, context.Canceled.Error(), msg)
	}
}

func TestEvents(t *testing.T) {
	events := make(chan Event, 64)
	c, _, _, _ := newFakeCoordinator()
	c.events = events

	_, err := c.Run(context.Background(), "10.0.0.5", []string{"discovery", "scan"}, "22")
	require.NoError(t, err)
	close(events)

	var types []EventType
	for ev := range events {
		assert.Equal(t, "10.0.0.5", ev.Target)
		types = append(types, ev.Type)
	}
	assert.Equal(t, []EventType{
		EventStageStarted, EventStageCompleted,
		EventStageStarted, EventStageCompleted,
		EventTargetDone,
	}, types)
}

func TestServiceTerms(t *testing.T) {
	assert.Empty(t, ServiceTerms(nil))
	scan := &model.ScanResult{Ports: []model.PortRecord{
		{Port: 80, State: model.PortOpen, Name: "http", Product: "nginx"},
		{Port: 8080, State: model.PortOpen, Name: "http", Product: "nginx"},
		{Port: 443, State: model.PortOpen, Name: "https"},
		{Port: 5000, State: model.PortOpen, Name: model.UnknownService},
		{Port: 25, State: model.PortFiltered, Name: "smtp"},
	}}
	assert.Equal(t, []string{"https", "nginx"}, ServiceTerms(scan))
}

// 本机回环地址的完整场景：发现在线，扫描端口范围得到 ssh
func TestRunLoopbackScenario(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Write([]byte("SSH-2.0-OpenSSH_8.9p1\r\n"))
			conn.Close()
		}
	}()
	port := ln.Addr().(*net.TCPAddr).Port

	engine := probe.NewEngine(probe.Options{Timeout: time.Second, LivenessPorts: []int{port}})
	c := New(Handlers{
		Discovery: discovery.NewDiscoverer(engine),
		Scanner:   scanner.NewPortScanner(engine, scanner.WithBannerTimeout(time.Second)),
	}, Options{Concurrency: 3})

	spec := fmt.Sprintf("%d-%d", port-2, port)
	results, err := c.RunAll(context.Background(), []string{"127.0.0.1"}, []string{"scan", "discovery"}, spec)
	require.NoError(t, err)
	require.Contains(t, results, "127.0.0.1")

	state := results["127.0.0.1"]
	require.Empty(t, state.Errors)
	require.NotNil(t, state.Discovery)
	assert.Equal(t, model.HostUp, state.Discovery.Status)
	require.NotEmpty(t, state.Scan.Ports)

	var found *model.PortRecord
	for i := range state.Scan.Ports {
		if state.Scan.Ports[i].Port == port {
			found = &state.Scan.Ports[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, model.PortOpen, found.State)
	assert.Equal(t, "ssh", found.Name)
	assert.Equal(t, "OpenSSH", found.Product)

	data, err := json.Marshal(results)
	require.NoError(t, err)
	var decoded map[string]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded["127.0.0.1"], "discovery")
	assert.Contains(t, decoded["127.0.0.1"], "scan")
}
