// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/randomizedcoder/go-fakecam/internal/config"
	"github.com/randomizedcoder/go-fakecam/internal/stream"
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// Options describes what the run will need.
type Options struct {
	OutputDir        string
	MetricsAddr      string
	Streams          []config.StreamSpec
	BuffersPerStream int

	// MeminfoPath overrides /proc/meminfo (tests).
	MeminfoPath string
}

// RunAll executes all preflight checks.
func RunAll(opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 4),
		Passed: true,
	}
	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	add(checkFileDescriptors(len(opts.Streams)))
	add(checkOutputDir(opts.OutputDir))
	add(checkMetricsPort(opts.MetricsAddr))

	meminfo := opts.MeminfoPath
	if meminfo == "" {
		meminfo = "/proc/meminfo"
	}
	add(checkStreamBudget(opts.Streams, opts.BuffersPerStream, meminfo))

	return result
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(streams int) Check {
	var limit syscall.Rlimit
	syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit)

	// Metrics server, preview websockets, saved files and logging.
	required := streams*8 + 64
	actual := int(limit.Cur)

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d streams)", actual, required, streams),
	}
}

// checkOutputDir verifies the output directory can be created and written.
func checkOutputDir(dir string) Check {
	if dir == "" {
		return Check{Name: "output_dir", Passed: true, Message: "disabled"}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Check{Name: "output_dir", Passed: false, Message: err.Error()}
	}
	f, err := os.CreateTemp(dir, ".preflight-*")
	if err != nil {
		return Check{Name: "output_dir", Passed: false, Message: fmt.Sprintf("not writable: %v", err)}
	}
	name := f.Name()
	f.Close()
	os.Remove(name)

	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return Check{Name: "output_dir", Passed: true, Message: abs + " writable"}
}

// checkMetricsPort verifies the metrics address can be bound.
func checkMetricsPort(addr string) Check {
	if addr == "" {
		return Check{Name: "metrics_port", Passed: true, Message: "disabled"}
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return Check{Name: "metrics_port", Passed: false, Message: fmt.Sprintf("cannot bind %s: %v", addr, err)}
	}
	ln.Close()
	return Check{Name: "metrics_port", Passed: true, Message: addr + " available"}
}

// BufferBytes returns the memory the stream buffer pools will hold.
func BufferBytes(streams []config.StreamSpec, perStream int) int {
	total := 0
	for _, s := range streams {
		format := s.Format
		if format == stream.FormatOpaque {
			// Opaque resolves to the widest processed format.
			format = stream.FormatRGBA8888
		}
		total += format.BufferSize(s.Width, s.Height) * perStream
	}
	return total
}

// checkStreamBudget compares buffer pool memory with available memory.
func checkStreamBudget(streams []config.StreamSpec, perStream int, meminfo string) Check {
	if perStream <= 0 {
		perStream = stream.DefaultMaxBuffers
	}
	const mib = 1 << 20
	required := (BufferBytes(streams, perStream) + mib - 1) / mib

	available, err := readMemAvailable(meminfo)
	if err != nil {
		return Check{
			Name:    "stream_budget",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("%d MiB of buffers; unable to read available memory (non-Linux?)", required),
		}
	}
	actual := available / mib

	return Check{
		Name:     "stream_budget",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Warning:  actual < required*4,
		Message:  fmt.Sprintf("%d MiB of buffers for %d streams, %d MiB available", required, len(streams), actual),
	}
}

// readMemAvailable parses the MemAvailable line (in kB) of a meminfo file.
func readMemAvailable(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		var kb int
		if _, err := fmt.Sscanf(strings.TrimPrefix(line, "MemAvailable:"), "%d", &kb); err != nil {
			return 0, fmt.Errorf("parsing %q: %w", line, err)
		}
		return kb * 1024, nil
	}
	return 0, fmt.Errorf("MemAvailable not found in %s", path)
}

// PrintResults prints the preflight check results.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	case "output_dir":
		return "choose a writable -output-dir or omit it"
	case "metrics_port":
		return "pick a free -metrics address or stop the other listener"
	case "stream_budget":
		return "configure fewer or smaller streams"
	default:
		return "see documentation"
	}
}
