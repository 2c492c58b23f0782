package hart

import (
	"context"
	"io"
	"os"
	"sync"
	"time"
)

// Power-off device, modelled on the SiFive test finisher QEMU maps at
// this address. Writing a status word here is how the terminal halt
// records its informational exit code.
const (
	FinisherBase uint64 = 0x0010_0000
	finisherSize uint64 = 0x1000

	FinisherPass uint32 = 0x5555
	FinisherFail uint32 = 0x3333
)

// RAMBase is where RAM is mapped, the conventional load address for
// the virt board.
const RAMBase uint64 = 0x8000_0000

// Config holds the machine's construction parameters.
type Config struct {
	// RAMSize is the size of the RAM window in bytes.
	RAMSize uint64

	// ClockHz is the machine timer frequency: how many mtime ticks one
	// second represents.
	ClockHz uint64

	// ConsoleOut receives UART transmit bytes. Defaults to stdout.
	ConsoleOut io.Writer
}

// DefaultConfig returns a Config matching the QEMU virt board defaults:
// 16 MiB of RAM and the 10 MHz CLINT timebase.
func DefaultConfig() Config {
	return Config{
		RAMSize: 16 << 20,
		ClockHz: 10_000_000,
	}
}

// Machine is one hart plus its platform: RAM, the CLINT, a console
// UART and the power-off device, all on one bus. The lock and condition
// variable order every cross-goroutine touch of pending-interrupt
// state; the hart itself stays single-threaded.
type Machine struct {
	mu   sync.Mutex
	cond *sync.Cond

	hart  *Hart
	bus   Bus
	ram   *RAM
	clint *CLINT
	uart  *UART

	clockHz uint64

	stopped  bool
	exited   bool
	exitCode int
}

// New builds a powered-on machine in its reset state.
func New(cfg Config) *Machine {
	if cfg.RAMSize == 0 {
		cfg.RAMSize = DefaultConfig().RAMSize
	}
	if cfg.ClockHz == 0 {
		cfg.ClockHz = DefaultConfig().ClockHz
	}
	if cfg.ConsoleOut == nil {
		cfg.ConsoleOut = os.Stdout
	}

	m := &Machine{clockHz: cfg.ClockHz}
	m.cond = sync.NewCond(&m.mu)
	m.hart = newHart(m, 0)
	m.ram = NewRAM(cfg.RAMSize)
	m.clint = newCLINT(m)
	m.uart = newUART(m, cfg.ConsoleOut)

	m.bus.Map(RAMBase, m.ram)
	m.bus.Map(ClintBase, m.clint)
	m.bus.Map(UARTBase, m.uart)
	m.bus.Map(FinisherBase, finisher{m})
	return m
}

// Hart returns the machine's single hart.
func (m *Machine) Hart() *Hart { return m.hart }

// Bus returns the system bus.
func (m *Machine) Bus() *Bus { return &m.bus }

// UART returns the console device.
func (m *Machine) UART() *UART { return m.uart }

// ClockHz returns the timer frequency the machine was built with.
func (m *Machine) ClockHz() uint64 { return m.clockHz }

// Now returns the current mtime value.
func (m *Machine) Now() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clint.mtime
}

// AdvanceTime moves the machine timer forward by the given number of
// ticks and raises MTIP if a programmed deadline elapsed. This is the
// deterministic time source tests drive.
func (m *Machine) AdvanceTime(ticks uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clint.advance(ticks)
}

// DriveClock advances mtime in wall-clock steps until ctx is cancelled
// or the machine powers down. It is the interactive counterpart of
// AdvanceTime and runs on its own goroutine.
func (m *Machine) DriveClock(ctx context.Context, step time.Duration) {
	ticksPerStep := uint64(step.Nanoseconds()) * m.clockHz / uint64(time.Second)
	if ticksPerStep == 0 {
		ticksPerStep = 1
	}
	t := time.NewTicker(step)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if m.Stopped() {
				return
			}
			m.AdvanceTime(ticksPerStep)
		}
	}
}

// Stop powers the machine off without recording an exit status. Used
// by the host harness (e.g. on console quit); firmware halts through
// the finisher device instead.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.cond.Broadcast()
}

// Stopped reports whether the machine has powered down or been stopped.
func (m *Machine) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// ExitStatus returns the exit code the finisher device recorded, and
// whether a halt happened at all.
func (m *Machine) ExitStatus() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exitCode, m.exited
}

// finisher is the power-off device. The status word encodes pass/fail
// in the low half and the exit code in the high half, the test-finisher
// convention.
type finisher struct{ m *Machine }

func (f finisher) Size() uint64 { return finisherSize }

func (f finisher) Read(off uint64, size int) uint64 { return 0 }

func (f finisher) Write(off uint64, size int, val uint64) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()

	switch uint32(val) & 0xFFFF {
	case FinisherPass:
		f.m.exitCode = 0
	case FinisherFail:
		f.m.exitCode = int(val >> 16)
	default:
		return
	}
	f.m.exited = true
	f.m.stopped = true
	f.m.cond.Broadcast()
}
