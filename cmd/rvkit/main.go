// Command rvkit boots a simulated single-hart machine-mode RISC-V
// machine: reset trampoline, runtime initialization, trap vector
// install, periodic machine timer and a WFI idle loop, with an
// optional interactive console on the UART.
//
// Usage:
//
//	rvkit [flags]
//
// Flags:
//
//	--ram        RAM size in MiB (default: 16)
//	--clock      Machine timer frequency in Hz (default: 10000000)
//	--tick       Periodic timer interval in ms (default: 100)
//	--image      Intel HEX image to load before reset
//	--vectored   Use the vectored trap mode (default: direct)
//	--console    Attach an interactive console to the UART
//	--run-ticks  Halt after this many timer ticks (default: run until quit)
//	--verbosity  Log level 0-5 (default: 3)
//	--metrics    Print metrics at exit (default: false)
//	--version    Print version and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rvkit/rvkit/boot"
	"github.com/rvkit/rvkit/csr"
	"github.com/rvkit/rvkit/hart"
	"github.com/rvkit/rvkit/image"
	"github.com/rvkit/rvkit/log"
	"github.com/rvkit/rvkit/metrics"
	"github.com/rvkit/rvkit/mtimer"
	"github.com/rvkit/rvkit/trap"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	cfg, exit, code := parseFlags(args)
	if exit {
		return code
	}

	log.SetDefault(log.NewText(os.Stderr, cfg.LogLevel()))
	logger := log.Default()

	trapMode := "direct"
	if cfg.Vectored {
		trapMode = "vectored"
	}
	logger.Info("rvkit starting",
		"version", version,
		"ram_mib", cfg.RAMMiB,
		"clock_hz", cfg.ClockHz,
		"tick_ms", cfg.TickMs,
		"trap_mode", trapMode,
		"image", cfg.Image,
		"console", cfg.Console)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		return 1
	}

	m := hart.New(hart.Config{
		RAMSize: uint64(cfg.RAMMiB) << 20,
		ClockHz: cfg.ClockHz,
	})

	if cfg.Image != "" {
		if _, err := image.LoadFile(cfg.Image, m.Bus()); err != nil {
			logger.Error("image load failed", "err", err)
			return 1
		}
	}

	d := trap.New(m.Hart())
	tmr := mtimer.New(m)

	d.OnTimer(tmr.Service)
	d.OnExternal(func() { drainConsole(m) })
	// The software interrupt is level-triggered from msip; the handler
	// must retract it or the trap refires forever.
	d.OnSoftware(func() { m.Bus().Write32(hart.ClintBase+hart.ClintMsipOff, 0) })

	ramTop := hart.RAMBase + uint64(cfg.RAMMiB)<<20
	prog := &boot.Program{
		Link: boot.LinkMap{
			StackTop:      ramTop,
			GlobalPointer: hart.RAMBase + 0x800,
			BSS: []boot.Region{
				{Start: hart.RAMBase + 0x1000, End: hart.RAMBase + 0x2000},
			},
		},
		Main: func() int { return idle(m, tmr, cfg.RunForTicks) },
	}
	prog.Startup.Register("trap-vector", 10, func() {
		if cfg.Vectored {
			d.InstallVectored()
		} else {
			d.InstallDirect()
		}
	})
	prog.Startup.Register("timer", 20, func() {
		tmr.Arm(cfg.TickPeriod())
		d.Enable(csr.MIE_MTIE | csr.MIE_MSIE)
	})
	prog.Startup.Register("console", 30, func() {
		d.Enable(csr.MIE_MEIE)
	})
	prog.Startup.Register("interrupts", 40, d.EnableGlobal)
	prog.Teardown.Register("interrupts", 10, d.DisableGlobal)
	prog.Teardown.Register("timer", 20, tmr.Disarm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.DriveClock(ctx, time.Millisecond)

	if cfg.Metrics {
		rep := metrics.NewReporter(metrics.DefaultRegistry, 10*time.Second)
		rep.AddBackend(logBackend{logger.Module("metrics")})
		rep.Start()
		defer rep.Stop()
	}

	// Wait for SIGINT or SIGTERM to initiate shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			m.Stop()
		case <-ctx.Done():
		}
	}()

	if cfg.Console {
		go func() {
			if err := runConsole(m); err != nil {
				logger.Warn("console unavailable", "err", err)
			}
		}()
	}

	code = boot.Reset(m, prog)
	if ec, ok := m.ExitStatus(); ok {
		code = ec
	}
	logger.Info("machine halted", "code", code, "mtime", m.Now())

	if cfg.Metrics {
		fmt.Print(metrics.DefaultRegistry.Dump())
	}
	return code
}

// idle is the application main loop: park at WFI, let the trap
// dispatcher service whatever woke us, and watch the tick count the
// timer handler publishes.
func idle(m *hart.Machine, tmr *mtimer.Driver, runFor uint64) int {
	logger := log.Default().Module("idle")
	h := m.Hart()
	var seen uint64
	for !m.Stopped() {
		h.Wfi()
		n := tmr.TickCount()
		if n == seen {
			continue
		}
		seen = n
		if n%10 == 0 {
			ticks, stamp := tmr.Stamp()
			logger.Debug("heartbeat", "ticks", ticks, "mtime", stamp)
		}
		if runFor != 0 && n >= runFor {
			return 0
		}
	}
	return 0
}

// drainConsole is the external interrupt body: drain the UART receive
// buffer and echo it back. Runs in trap context, so it counts instead
// of logging.
func drainConsole(m *hart.Machine) {
	bus := m.Bus()
	for bus.Read8(hart.UARTBase+hart.UARTLsrOff)&hart.LSRDataReady != 0 {
		b := bus.Read8(hart.UARTBase + hart.UARTRbrOff)
		bus.Write8(hart.UARTBase+hart.UARTRbrOff, b)
		metrics.ConsoleRx.Inc()
	}
}

// logBackend surfaces periodic metric snapshots through the logger
// during long interactive runs.
type logBackend struct{ l *log.Logger }

func (b logBackend) Report(snap map[string]int64) error {
	b.l.Info("metrics snapshot",
		"trap_timer", snap["trap.timer"],
		"trap_external", snap["trap.external"],
		"timer_ticks", snap["timer.ticks"],
		"console_rx", snap["console.rx_bytes"])
	return nil
}

// parseFlags parses CLI arguments into a Config. Returns the config,
// whether the caller should exit immediately, and the exit code.
func parseFlags(args []string) (Config, bool, int) {
	cfg := DefaultConfig()
	fs := newFlagSet(&cfg)

	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cfg, true, 2
	}

	if *showVersion {
		fmt.Printf("rvkit %s (commit %s)\n", version, commit)
		return cfg, true, 0
	}

	return cfg, false, 0
}

// newFlagSet creates a flag.FlagSet that binds all CLI flags to the
// given Config.
func newFlagSet(cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("rvkit", flag.ContinueOnError)
	fs.IntVar(&cfg.RAMMiB, "ram", cfg.RAMMiB, "RAM size in MiB")
	fs.Uint64Var(&cfg.ClockHz, "clock", cfg.ClockHz, "machine timer frequency in Hz")
	fs.IntVar(&cfg.TickMs, "tick", cfg.TickMs, "periodic timer interval in milliseconds")
	fs.StringVar(&cfg.Image, "image", cfg.Image, "Intel HEX image to load before reset")
	fs.BoolVar(&cfg.Vectored, "vectored", cfg.Vectored, "use the vectored trap mode")
	fs.BoolVar(&cfg.Console, "console", cfg.Console, "attach an interactive console to the UART")
	fs.Uint64Var(&cfg.RunForTicks, "run-ticks", cfg.RunForTicks, "halt after this many timer ticks (0 = run until quit)")
	fs.IntVar(&cfg.Verbosity, "verbosity", cfg.Verbosity, "log level 0-5 (0=silent, 5=trace)")
	fs.StringVar(&cfg.LogLevelName, "log-level", cfg.LogLevelName, "named log level (debug, info, warn, error), overrides verbosity")
	fs.BoolVar(&cfg.Metrics, "metrics", cfg.Metrics, "print metrics at exit")
	return fs
}
