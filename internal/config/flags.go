package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// streamList is a custom flag type for repeatable -stream flags. The first
// -stream replaces the defaults (or the config file's list).
type streamList struct {
	values *[]string
	set    bool
}

func (s *streamList) String() string {
	if s.values == nil {
		return ""
	}
	return strings.Join(*s.values, ", ")
}

func (s *streamList) Set(value string) error {
	if _, err := ParseStreamSpec(value); err != nil {
		return err
	}
	if !s.set {
		*s.values = nil
		s.set = true
	}
	*s.values = append(*s.values, value)
	return nil
}

// ParseFlags parses os.Args and returns a Config.
func ParseFlags() (*Config, error) {
	return ParseArgs(os.Args[1:], os.Stderr)
}

// ParseArgs builds a Config from defaults, then the -config YAML file if
// one is named, then the remaining flags. Usage and parse errors go to
// output.
func ParseArgs(args []string, output io.Writer) (*Config, error) {
	cfg := DefaultConfig()

	if path := configFileArg(args); path != "" {
		if err := LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	fs := flag.NewFlagSet("go-fakecam", flag.ContinueOnError)
	fs.SetOutput(output)
	streams := &streamList{values: &cfg.Streams}

	// Custom usage message
	fs.Usage = func() {
		fmt.Fprintf(output, `go-fakecam - simulated camera capture pipeline

Usage:
  go-fakecam [flags]

Camera:
`)
		// Print flags by category
		printFlagCategory(fs, output, []string{"facing", "stream"})

		fmt.Fprintf(output, "\nRequests:\n")
		printFlagCategory(fs, output, []string{"requests", "request-rate", "request-jitter", "duration"})

		fmt.Fprintf(output, "\nCapture Settings:\n")
		printFlagCategory(fs, output, []string{"template", "exposure", "frame-duration", "sensitivity", "hour", "metadata-mode"})

		fmt.Fprintf(output, "\nPipeline:\n")
		printFlagCategory(fs, output, []string{"inflight-queue", "poll-interval"})

		fmt.Fprintf(output, "\nOutput:\n")
		printFlagCategory(fs, output, []string{"output-dir", "jpeg-quality"})

		fmt.Fprintf(output, "\nObservability:\n")
		printFlagCategory(fs, output, []string{"metrics", "v", "log-format", "tui"})

		fmt.Fprintf(output, "\nDiagnostics:\n")
		printFlagCategory(fs, output, []string{"config", "print-info", "skip-preflight"})

		fmt.Fprintf(output, `
Stream Format:
  kind:WxH[:format] where kind is raw, processed or jpeg.
  Processed streams may name rgba, yv12, nv21 or opaque (default).

Examples:
  # 30 fps preview with a JPEG stream, saving JPEGs
  go-fakecam -stream processed:640x480:rgba -stream jpeg:640x480 -output-dir ./frames

  # Front camera, 100 still captures, no dashboard
  go-fakecam -facing front -template still -requests 100 -stream jpeg:320x240 -tui=false

`)
	}

	// Camera
	fs.StringVar(&cfg.Facing, "facing", cfg.Facing, `Camera facing: "back" or "front"`)
	fs.Var(streams, "stream", "Output stream kind:WxH[:format] (can repeat)")

	// Requests
	fs.IntVar(&cfg.Requests, "requests", cfg.Requests, "Requests to submit (0 = until duration or signal)")
	fs.IntVar(&cfg.RequestRate, "request-rate", cfg.RequestRate, "Requests to submit per second")
	fs.DurationVar(&cfg.RequestJitter, "request-jitter", cfg.RequestJitter, "Random jitter per request submission")
	fs.DurationVar(&cfg.Duration, "duration", cfg.Duration, "Run duration (0 = forever)")

	// Capture settings
	fs.StringVar(&cfg.Template, "template", cfg.Template, `Request template: "preview", "still", "record", "snapshot", "zsl"`)
	fs.DurationVar(&cfg.ExposureTime, "exposure", cfg.ExposureTime, "Sensor exposure time")
	fs.DurationVar(&cfg.FrameDuration, "frame-duration", cfg.FrameDuration, "Sensor frame duration")
	fs.IntVar(&cfg.Sensitivity, "sensitivity", cfg.Sensitivity, "Sensor sensitivity (ISO)")
	fs.IntVar(&cfg.Hour, "hour", cfg.Hour, "Scene hour of day 0-23 (-1 = leave unset)")
	fs.StringVar(&cfg.MetadataMode, "metadata-mode", cfg.MetadataMode, `Result metadata: "none" or "full"`)

	// Pipeline
	fs.IntVar(&cfg.InFlightQueue, "inflight-queue", cfg.InFlightQueue, "Readout queue slots (holds slots-1 requests)")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Stage worker wait bound")

	// Output
	fs.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "Save delivered frames to this directory")
	fs.IntVar(&cfg.JPEGQuality, "jpeg-quality", cfg.JPEGQuality, "JPEG quality 1-100")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics address")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable live terminal dashboard (use -tui=false to disable)")

	// Diagnostics
	configFile := cfg.ConfigFile
	fs.StringVar(&configFile, "config", configFile, "YAML config file applied before flags")
	fs.BoolVar(&cfg.PrintInfo, "print-info", cfg.PrintInfo, "Print static camera info and effective config, then exit")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	return cfg, nil
}

// configFileArg finds -config/--config before flags are parsed so the file
// can supply defaults that flags then override.
func configFileArg(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			return ""
		}
		name := strings.TrimLeft(a, "-")
		if len(name) == len(a) {
			continue
		}
		if v, ok := strings.CutPrefix(name, "config="); ok {
			return v
		}
		if name == "config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	fs.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" && f.DefValue != "[]" {
					fmt.Fprintf(w, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(w)
				return
			}
		}
	})
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	// Infer type from default value format
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	// Check if it looks like a duration
	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	// Check if numeric
	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
