// Package config provides configuration management for go-fakecam.
package config

import "time"

// Config holds all configuration options for the orchestrator.
type Config struct {
	// Camera
	Facing  string   `yaml:"facing"`  // back, front
	Streams []string `yaml:"streams"` // kind:WxH[:format]

	// Request submission
	Requests      int           `yaml:"requests"`     // 0 = until duration or signal
	RequestRate   int           `yaml:"request_rate"` // requests per second
	RequestJitter time.Duration `yaml:"request_jitter"`
	Duration      time.Duration `yaml:"duration"` // 0 = forever

	// Capture settings
	Template      string        `yaml:"template"` // preview, still, record, snapshot, zsl
	ExposureTime  time.Duration `yaml:"exposure"`
	FrameDuration time.Duration `yaml:"frame_duration"`
	Sensitivity   int           `yaml:"sensitivity"`
	Hour          int           `yaml:"hour"`          // scene hour of day, -1 = template default
	MetadataMode  string        `yaml:"metadata_mode"` // none, full

	// Pipeline
	InFlightQueue int           `yaml:"inflight_queue"`
	PollInterval  time.Duration `yaml:"poll_interval"`

	// Output
	OutputDir   string `yaml:"output_dir"` // empty = don't save
	JPEGQuality int    `yaml:"jpeg_quality"`

	// Observability
	MetricsAddr string `yaml:"metrics_addr"`
	Verbose     bool   `yaml:"verbose"`
	LogFormat   string `yaml:"log_format"` // json, text
	TUIEnabled  bool   `yaml:"tui"`

	// Diagnostic modes
	PrintInfo     bool `yaml:"print_info"`
	SkipPreflight bool `yaml:"skip_preflight"`

	// ConfigFile is the YAML overlay that was applied, if any.
	ConfigFile string `yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Camera
		Facing:  "back",
		Streams: []string{"processed:640x480:rgba", "jpeg:640x480"},

		// Request submission
		Requests:      0, // until duration or signal
		RequestRate:   30,
		RequestJitter: 5 * time.Millisecond,
		Duration:      0, // Forever

		// Capture settings
		Template:      "preview",
		ExposureTime:  10 * time.Millisecond,
		FrameDuration: 33333333 * time.Nanosecond,
		Sensitivity:   100,
		Hour:          -1,
		MetadataMode:  "full",

		// Pipeline
		InFlightQueue: 4,
		PollInterval:  10 * time.Millisecond,

		// Output
		JPEGQuality: 80,

		// Observability
		MetricsAddr: "0.0.0.0:17092",
		Verbose:     false,
		LogFormat:   "json",
		TUIEnabled:  true,
	}
}
