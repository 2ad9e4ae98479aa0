// Package main provides the go-fakecam CLI entry point.
//
// go-fakecam drives a simulated camera: it submits capture requests at a
// fixed rate through a two-stage capture pipeline and consumes the resulting
// frames, metadata and JPEGs.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/randomizedcoder/go-fakecam/internal/config"
	"github.com/randomizedcoder/go-fakecam/internal/logging"
	"github.com/randomizedcoder/go-fakecam/internal/orchestrator"
	"github.com/randomizedcoder/go-fakecam/internal/sensor"
	"github.com/randomizedcoder/go-fakecam/internal/stream"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-fakecam
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("go-fakecam %s\n", version)
			return 0
		}
	}

	// Parse command-line flags
	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	// Initialize logger
	// When TUI is enabled, only the retained warn/error records are kept so
	// log output does not interfere with TUI rendering.
	var w io.Writer = os.Stderr
	if cfg.TUIEnabled {
		w = io.Discard
	}
	logger, recent := logging.NewLoggerWithRecent(w, cfg.LogFormat, "info", cfg.Verbose)
	logging.SetDefault(logger)

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	// Handle -print-info mode
	if cfg.PrintInfo {
		if err := printInfo(os.Stdout, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	// Log startup
	logger.Info("starting",
		"version", version,
		"facing", cfg.Facing,
		"streams", cfg.Streams,
		"template", cfg.Template,
		"requests", cfg.Requests,
		"request_rate", cfg.RequestRate,
		"metrics_addr", cfg.MetricsAddr,
		"config_file", cfg.ConfigFile,
	)

	// Print startup banner
	if !cfg.TUIEnabled {
		printBanner(cfg)
	}

	// Create and run orchestrator
	orch, err := orchestrator.New(cfg, logger, orchestrator.Options{
		Version: version,
		Recent:  recent,
	})
	if err != nil {
		logger.Error("orchestrator_init_failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := orch.Run(context.Background()); err != nil {
		logger.Error("orchestrator_failed", "error", err)
		if cfg.TUIEnabled {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}

	return 0
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config) {
	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                          go-fakecam                               ║")
	fmt.Println("║          Simulated Camera Capture Pipeline                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Camera:      %s, %s template\n", cfg.Facing, cfg.Template)
	for _, s := range cfg.Streams {
		fmt.Printf("  Stream:      %s\n", s)
	}
	if cfg.Requests > 0 {
		fmt.Printf("  Requests:    %d at %d/sec\n", cfg.Requests, cfg.RequestRate)
	} else {
		fmt.Printf("  Requests:    unbounded at %d/sec\n", cfg.RequestRate)
	}
	if cfg.OutputDir != "" {
		fmt.Printf("  Output:      %s\n", cfg.OutputDir)
	}
	if cfg.MetricsAddr != "" {
		fmt.Printf("  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
		fmt.Printf("  Preview:     ws://%s/preview\n", cfg.MetricsAddr)
	}
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()
}

// printInfo prints the camera's static info and the effective configuration.
func printInfo(w io.Writer, cfg *config.Config) error {
	facing, err := stream.ParseFacing(cfg.Facing)
	if err != nil {
		return err
	}
	info, err := sensor.StaticInfo(facing)
	if err != nil {
		return fmt.Errorf("building static info: %w", err)
	}

	fmt.Fprintf(w, "# Static info (%s camera)\n", facing)
	info.Dump(w)

	data, err := config.Encode(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# Effective configuration")
	_, err = w.Write(data)
	return err
}
