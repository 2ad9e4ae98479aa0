package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/randomizedcoder/go-fakecam/internal/metadata"
	"github.com/randomizedcoder/go-fakecam/internal/stream"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing the problem.
func Validate(cfg *Config) error {
	var errs []error

	facing, err := stream.ParseFacing(cfg.Facing)
	if err != nil {
		errs = append(errs, ValidationError{Field: "facing", Message: err.Error()})
	}

	// Streams: at least one, each parseable, sizes from the facing's tables,
	// per-category limits respected.
	if len(cfg.Streams) == 0 {
		errs = append(errs, ValidationError{
			Field:   "streams",
			Message: "at least one stream is required",
		})
	}
	perCategory := make(map[stream.Category]int)
	for _, s := range cfg.Streams {
		spec, err := ParseStreamSpec(s)
		if err != nil {
			errs = append(errs, ValidationError{Field: "streams", Message: err.Error()})
			continue
		}
		if !stream.SizeSupported(spec.Format, facing, spec.Width, spec.Height) {
			errs = append(errs, ValidationError{
				Field:   "streams",
				Message: fmt.Sprintf("%dx%d is not supported for %s on the %s camera (supported: %v)", spec.Width, spec.Height, stream.CategoryOf(spec.Format), facing, stream.SupportedSizes(spec.Format, facing)),
			})
		}
		cat := stream.CategoryOf(spec.Format)
		perCategory[cat]++
		if perCategory[cat] == cat.Limit()+1 {
			errs = append(errs, ValidationError{
				Field:   "streams",
				Message: fmt.Sprintf("at most %d %s stream(s) allowed", cat.Limit(), cat),
			})
		}
	}

	if cfg.Requests < 0 {
		errs = append(errs, ValidationError{
			Field:   "requests",
			Message: "must be >= 0",
		})
	}

	// Request rate must be positive
	if cfg.RequestRate < 1 {
		errs = append(errs, ValidationError{
			Field:   "request_rate",
			Message: "must be at least 1",
		})
	}
	if cfg.RequestJitter < 0 {
		errs = append(errs, ValidationError{
			Field:   "request_jitter",
			Message: "must be >= 0",
		})
	}
	if cfg.Duration < 0 {
		errs = append(errs, ValidationError{
			Field:   "duration",
			Message: "must be >= 0",
		})
	}

	if _, err := metadata.ParseTemplate(cfg.Template); err != nil {
		errs = append(errs, ValidationError{Field: "template", Message: err.Error()})
	}

	if cfg.ExposureTime <= 0 {
		errs = append(errs, ValidationError{
			Field:   "exposure",
			Message: "must be positive",
		})
	}
	if cfg.FrameDuration <= 0 {
		errs = append(errs, ValidationError{
			Field:   "frame_duration",
			Message: "must be positive",
		})
	}
	if cfg.Sensitivity <= 0 {
		errs = append(errs, ValidationError{
			Field:   "sensitivity",
			Message: "must be positive",
		})
	}
	if cfg.Hour < -1 || cfg.Hour > 23 {
		errs = append(errs, ValidationError{
			Field:   "hour",
			Message: fmt.Sprintf("must be -1 or 0-23 (got %d)", cfg.Hour),
		})
	}

	validModes := map[string]bool{"none": true, "full": true}
	if !validModes[cfg.MetadataMode] {
		errs = append(errs, ValidationError{
			Field:   "metadata_mode",
			Message: fmt.Sprintf("must be 'none' or 'full' (got %q)", cfg.MetadataMode),
		})
	}

	// A ring of N slots holds N-1 requests.
	if cfg.InFlightQueue < 2 {
		errs = append(errs, ValidationError{
			Field:   "inflight_queue",
			Message: "must be at least 2",
		})
	}
	if cfg.PollInterval < time.Millisecond {
		errs = append(errs, ValidationError{
			Field:   "poll_interval",
			Message: "must be at least 1ms",
		})
	}

	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		errs = append(errs, ValidationError{
			Field:   "jpeg_quality",
			Message: fmt.Sprintf("must be 1-100 (got %d)", cfg.JPEGQuality),
		})
	}

	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics_addr",
				Message: err.Error(),
			})
		}
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// FrameInterval returns the submission interval implied by RequestRate.
func (c *Config) FrameInterval() time.Duration {
	if c.RequestRate <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.RequestRate)
}
