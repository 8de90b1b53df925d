package report

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/ventana-link/connection"
	"github.com/user/ventana-link/reconnect"
	"github.com/user/ventana-link/session"
)

func writeLog(t *testing.T, dir, address string, exhausted bool) {
	t.Helper()
	log := session.NewLifecycleLog(filepath.Join(dir, address))
	now := time.Now()
	log.LogTransition(address, connection.Transition{From: connection.StateDisconnected, To: connection.StateConnecting, Event: connection.EventConnectRequested, At: now}, nil)
	if exhausted {
		log.LogReconnect(address, reconnect.Decision{Action: reconnect.ActionScheduled, Attempt: 1, Delay: time.Second}, errors.New("link lost"))
		log.LogReconnect(address, reconnect.Decision{Action: reconnect.ActionExhausted, Attempt: 3}, errors.New("link lost"))
		return
	}
	log.LogTransition(address, connection.Transition{From: connection.StateServiceDiscovery, To: connection.StateReady, At: now.Add(time.Millisecond)}, nil)
	log.LogTeardown(address, "user")
}

func TestSummarizeHealthyDevice(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "AA-BB", false)

	devices, issues, err := Summarize(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 1 {
		t.Fatalf("Expected 1 device, got %d", len(devices))
	}
	d := devices[0]
	if d.Address != "AA-BB" || d.ReadyCount != 1 || d.Teardowns != 1 || d.LastState != "ready" {
		t.Errorf("Unexpected summary %+v", d)
	}
	if len(issues) != 0 {
		t.Errorf("Expected no issues, got %+v", issues)
	}
}

func TestSummarizeExhaustedDevice(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "CC-DD", true)

	_, issues, err := Summarize(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 2 {
		t.Fatalf("Expected exhaustion and never-ready issues, got %+v", issues)
	}
	if issues[0].Severity != "ERROR" || !strings.Contains(issues[0].Description, "gave up") {
		t.Errorf("Unexpected issue %+v", issues[0])
	}
	if len(issues[0].Timeline) != 2 || !strings.Contains(issues[0].Timeline[0], "attempt 1") {
		t.Errorf("Unexpected timeline %v", issues[0].Timeline)
	}
}

func TestGenerateWritesMarkdown(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "AA-BB", false)
	os.MkdirAll(filepath.Join(dir, "empty"), 0755)

	path, err := Generate(dir)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "| AA-BB | 3 | 1 | 0 | 0 | 1 | ready |") {
		t.Errorf("Unexpected report:\n%s", data)
	}
}

func TestGenerateWithoutLogs(t *testing.T) {
	if _, err := Generate(t.TempDir()); err == nil {
		t.Error("Expected error for an empty data directory")
	}
}
