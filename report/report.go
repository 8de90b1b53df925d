// Package report summarizes the connection_events.jsonl logs under the data directory.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/user/ventana-link/connection"
	"github.com/user/ventana-link/session"
	"github.com/user/ventana-link/util"
)

// Device holds what one device's lifecycle log says about its link
type Device struct {
	Dir         string
	Address     string
	Events      int
	Transitions int
	ReadyCount  int
	Retries     int
	Exhaustions int
	Teardowns   int
	LastState   string
	First, Last time.Time
	Errors      []string
}

// Issue is a problem found in a device log
type Issue struct {
	Severity    string // "ERROR" or "WARNING"
	Device      string
	Description string
	Timeline    []string
}

// Summarize reads every device directory under dataDir
func Summarize(dataDir string) ([]Device, []Issue, error) {
	devices, err := discoverDevices(dataDir)
	if err != nil {
		return nil, nil, err
	}
	var issues []Issue
	for _, d := range devices {
		issues = append(issues, detectIssues(d, dataDir)...)
	}
	return devices, issues, nil
}

// Generate writes a markdown report into dataDir and returns its path
func Generate(dataDir string) (string, error) {
	if dataDir == "" {
		dataDir = util.DataDir()
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	reportPath := filepath.Join(dataDir, fmt.Sprintf("link_report_%s.md", timestamp))

	devices, issues, err := Summarize(dataDir)
	if err != nil {
		return "", err
	}
	if len(devices) == 0 {
		return "", errors.Errorf("no device logs found in %s", dataDir)
	}

	if err := os.WriteFile(reportPath, []byte(render(timestamp, devices, issues)), 0644); err != nil {
		return "", errors.Wrap(err, "error writing report")
	}

	fmt.Printf("✅ Report written to: %s\n", reportPath)
	if len(issues) > 0 {
		fmt.Printf("\n❌ Found %d issues:\n", len(issues))
		for _, issue := range issues {
			fmt.Printf("  [%s] %s\n", issue.Severity, issue.Description)
		}
	} else {
		fmt.Printf("\n✅ No link problems found\n")
	}
	return reportPath, nil
}

func discoverDevices(dataDir string) ([]Device, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, errors.Wrap(err, "error discovering devices")
	}

	var devices []Device
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		d := Device{Dir: entry.Name()}
		found, err := scan(filepath.Join(dataDir, entry.Name()), func(ev session.LifecycleEvent) {
			d.add(ev)
		})
		if err != nil {
			return nil, err
		}
		if found {
			devices = append(devices, d)
		}
	}
	return devices, nil
}

// scan calls fn for every parsable line of dir's lifecycle log
func scan(dir string, fn func(session.LifecycleEvent)) (bool, error) {
	f, err := os.Open(filepath.Join(dir, session.LifecycleFile))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev session.LifecycleEvent
		if json.Unmarshal(scanner.Bytes(), &ev) == nil {
			fn(ev)
		}
	}
	return true, scanner.Err()
}

func (d *Device) add(ev session.LifecycleEvent) {
	at := time.Unix(0, ev.Timestamp)
	if d.First.IsZero() || at.Before(d.First) {
		d.First = at
	}
	if at.After(d.Last) {
		d.Last = at
	}
	if ev.Address != "" {
		d.Address = ev.Address
	}
	d.Events++

	switch ev.Event {
	case "transition":
		d.Transitions++
		d.LastState = ev.To
		if ev.To == connection.StateReady.String() {
			d.ReadyCount++
		}
	case "reconnect_scheduled":
		d.Retries++
	case "reconnect_exhausted":
		d.Exhaustions++
	case "teardown":
		d.Teardowns++
	}
	if ev.Error != "" {
		d.Errors = append(d.Errors, ev.Error)
	}
}

func detectIssues(d Device, dataDir string) []Issue {
	var issues []Issue
	name := d.Address
	if name == "" {
		name = d.Dir
	}

	if d.Exhaustions > 0 {
		issues = append(issues, Issue{
			Severity:    "ERROR",
			Device:      name,
			Description: fmt.Sprintf("%s gave up reconnecting %d time(s)", name, d.Exhaustions),
			Timeline:    timeline(d, dataDir),
		})
	}
	if d.ReadyCount == 0 {
		issues = append(issues, Issue{
			Severity:    "ERROR",
			Device:      name,
			Description: fmt.Sprintf("%s never became ready", name),
			Timeline:    timeline(d, dataDir),
		})
	}
	if d.Retries > 0 && d.Exhaustions == 0 {
		issues = append(issues, Issue{
			Severity:    "WARNING",
			Device:      name,
			Description: fmt.Sprintf("%s needed %d reconnect attempt(s)", name, d.Retries),
		})
	}
	return issues
}

// timeline lists the failures and reconnect decisions of a device
func timeline(d Device, dataDir string) []string {
	var lines []string
	scan(filepath.Join(dataDir, d.Dir), func(ev session.LifecycleEvent) {
		if ev.Error == "" && !strings.HasPrefix(ev.Event, "reconnect_") {
			return
		}
		desc := fmt.Sprintf("%s - %s", time.Unix(0, ev.Timestamp).Format("15:04:05.000"), ev.Event)
		if ev.From != "" {
			desc += fmt.Sprintf(" %s -> %s", ev.From, ev.To)
		}
		if ev.Attempt > 0 {
			desc += fmt.Sprintf(" (attempt %d)", ev.Attempt)
		}
		if ev.Error != "" {
			desc += fmt.Sprintf(" (error: %s)", ev.Error)
		}
		lines = append(lines, desc)
	})
	if len(lines) == 0 {
		lines = append(lines, "No relevant events found in logs")
	}
	return lines
}

func render(timestamp string, devices []Device, issues []Issue) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Link Report: %s\n\n", timestamp))

	sb.WriteString("## Devices\n\n")
	sb.WriteString("| Device | Events | Ready | Retries | Exhausted | Teardowns | Last state |\n")
	sb.WriteString("|--------|--------|-------|---------|-----------|-----------|------------|\n")
	for _, d := range devices {
		name := d.Address
		if name == "" {
			name = d.Dir
		}
		sb.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %d | %d | %s |\n",
			name, d.Events, d.ReadyCount, d.Retries, d.Exhaustions, d.Teardowns, d.LastState))
	}
	sb.WriteString("\n")

	sb.WriteString("## Issues\n\n")
	if len(issues) == 0 {
		sb.WriteString("None.\n")
		return sb.String()
	}
	for _, issue := range issues {
		sb.WriteString(fmt.Sprintf("### [%s] %s\n\n", issue.Severity, issue.Description))
		for _, line := range issue.Timeline {
			sb.WriteString(fmt.Sprintf("- %s\n", line))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
