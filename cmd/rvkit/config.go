package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/rvkit/rvkit/log"
)

// Config holds the resolved command-line configuration.
type Config struct {
	// RAMMiB is the machine's RAM size in MiB.
	RAMMiB int

	// ClockHz is the machine timer frequency.
	ClockHz uint64

	// TickMs is the periodic timer interval in milliseconds.
	TickMs int

	// Image is an optional Intel HEX image to load into RAM before the
	// reset trampoline runs.
	Image string

	// Vectored selects the vectored trap mode instead of direct.
	Vectored bool

	// Console attaches an interactive terminal to the UART.
	Console bool

	// RunForTicks stops the run after this many serviced timer ticks.
	// Zero means run until the console quits or a signal arrives.
	RunForTicks uint64

	// Verbosity is the log level, 0-5.
	Verbosity int

	// LogLevelName, when set, names the log level directly ("debug",
	// "info", "warn", "error") and overrides Verbosity.
	LogLevelName string

	// Metrics prints the metrics registry at exit.
	Metrics bool
}

// DefaultConfig returns the defaults: a 16 MiB machine at the 10 MHz
// timebase with a 100 ms housekeeping tick.
func DefaultConfig() Config {
	return Config{
		RAMMiB:    16,
		ClockHz:   10_000_000,
		TickMs:    100,
		Verbosity: 3,
	}
}

// Validate checks the configuration for values no machine can be built
// from.
func (c *Config) Validate() error {
	if c.RAMMiB <= 0 {
		return fmt.Errorf("ram must be positive, got %d MiB", c.RAMMiB)
	}
	if c.ClockHz == 0 {
		return fmt.Errorf("clock frequency must be nonzero")
	}
	if c.TickMs <= 0 {
		return fmt.Errorf("tick interval must be positive, got %d ms", c.TickMs)
	}
	if c.Verbosity < 0 || c.Verbosity > 5 {
		return fmt.Errorf("verbosity must be 0-5, got %d", c.Verbosity)
	}
	return nil
}

// TickPeriod returns the timer period as a duration.
func (c *Config) TickPeriod() time.Duration {
	return time.Duration(c.TickMs) * time.Millisecond
}

// LogLevel maps the configuration onto a slog level. A named level
// wins over the numeric verbosity scale.
func (c *Config) LogLevel() slog.Level {
	if c.LogLevelName != "" {
		return log.LevelFromString(c.LogLevelName).Slog()
	}
	switch {
	case c.Verbosity <= 1:
		return slog.LevelError
	case c.Verbosity == 2:
		return slog.LevelWarn
	case c.Verbosity == 3:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
