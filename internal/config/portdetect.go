package config

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ansiEscape matches terminal color and cursor sequences. Dev servers run
// under a PTY print them around the URL.
var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// PortDetector finds the port a wrapped dev server listens on.
type PortDetector struct {
	patterns []*regexp.Regexp
	exclude  []int
}

// NewPortDetector creates a detector with common dev-server patterns.
// Ports in exclude, typically flycli's own, are never reported.
func NewPortDetector(exclude ...int) *PortDetector {
	return &PortDetector{
		exclude: exclude,
		patterns: []*regexp.Regexp{
			// Vite: "Local: http://localhost:5173/"
			regexp.MustCompile(`Local:\s*https?://[^\s:/]+:(\d+)`),
			// Next.js: "- Local: http://localhost:3000", "started server on 0.0.0.0:3000"
			regexp.MustCompile(`(?:localhost|127\.0\.0\.1|0\.0\.0\.0|\[::\]):(\d+)`),
			// Generic: "listening on port 3000"
			regexp.MustCompile(`(?i)listening\s+(?:on\s+)?port\s+(\d+)`),
			// Generic: "server running at http://..."
			regexp.MustCompile(`(?i)(?:server|app)\s+(?:is\s+)?running\s+(?:at|on)\s+https?://[^:]+:(\d+)`),
			// Generic: "started on port 3000"
			regexp.MustCompile(`(?i)started\s+(?:on\s+)?port\s+(\d+)`),
		},
	}
}

func (pd *PortDetector) accept(port int) bool {
	return port > 0 && port < 65536 && !slices.Contains(pd.exclude, port)
}

// DetectFromOutput scans output text for port patterns and returns the
// first acceptable port, or 0.
func (pd *PortDetector) DetectFromOutput(output string) int {
	output = ansiEscape.ReplaceAllString(output, "")
	for _, pattern := range pd.patterns {
		for _, m := range pattern.FindAllStringSubmatch(output, -1) {
			if port, err := strconv.Atoi(m[1]); err == nil && pd.accept(port) {
				return port
			}
		}
	}
	return 0
}

// DetectFromPID finds listening TCP ports for a process using ss or lsof.
func (pd *PortDetector) DetectFromPID(ctx context.Context, pid int) []int {
	ports := pd.detectWithSs(ctx, pid)
	if len(ports) > 0 {
		return ports
	}
	return pd.detectWithLsof(ctx, pid)
}

func (pd *PortDetector) detectWithSs(ctx context.Context, pid int) []int {
	// ss -tlnp: TCP, listening, numeric, show processes
	output, err := exec.CommandContext(ctx, "ss", "-tlnp").Output()
	if err != nil {
		return nil
	}
	return pd.parseSs(string(output), pid)
}

// parseSs extracts local ports from ss lines owned by pid, e.g.
// LISTEN 0 511 *:3000 *:* users:(("node",pid=42,fd=20))
func (pd *PortDetector) parseSs(output string, pid int) []int {
	var ports []int
	pidStr := fmt.Sprintf("pid=%d,", pid)
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, pidStr) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		local := fields[3]
		idx := strings.LastIndex(local, ":")
		if idx == -1 {
			continue
		}
		if port, err := strconv.Atoi(local[idx+1:]); err == nil && pd.accept(port) && !slices.Contains(ports, port) {
			ports = append(ports, port)
		}
	}
	return ports
}

var lsofPort = regexp.MustCompile(`:(\d+)\s+\(LISTEN\)`)

func (pd *PortDetector) detectWithLsof(ctx context.Context, pid int) []int {
	output, err := exec.CommandContext(ctx, "lsof", "-iTCP", "-sTCP:LISTEN", "-p", strconv.Itoa(pid), "-n", "-P").Output()
	if err != nil {
		return nil
	}
	var ports []int
	for _, line := range strings.Split(string(output), "\n") {
		if m := lsofPort.FindStringSubmatch(line); len(m) > 1 {
			if port, err := strconv.Atoi(m[1]); err == nil && pd.accept(port) && !slices.Contains(ports, port) {
				ports = append(ports, port)
			}
		}
	}
	return ports
}

// WaitForPort polls the process output, then its sockets, until a port is
// found. It returns 0 if ctx ends or timeout expires first.
func (pd *PortDetector) WaitForPort(ctx context.Context, pid int, getOutput func() string, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		if output := getOutput(); output != "" {
			if port := pd.DetectFromOutput(output); port > 0 {
				return port
			}
		}
		if pid > 0 {
			if ports := pd.DetectFromPID(ctx, pid); len(ports) > 0 {
				return ports[0]
			}
		}
		select {
		case <-ctx.Done():
			return 0
		case <-ticker.C:
		}
	}
}
