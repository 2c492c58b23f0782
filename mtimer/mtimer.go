// Package mtimer drives the machine timer: the free-running 64-bit
// mtime counter and its mtimecmp compare register in the core-local
// interruptor. The driver programs deadlines, converts between ticks
// and wall durations, and services the periodic interrupt.
//
// Both registers are wider than a single bus access on 32-bit
// implementations, so every read and write goes through a torn-access
// discipline: mtime is read high half, low half, high half again and
// retried on a carry; mtimecmp is written with the low half parked at
// all-ones first so no intermediate value is ever in the past.
package mtimer

import (
	"time"

	"github.com/rvkit/rvkit/csr"
	"github.com/rvkit/rvkit/hart"
	"github.com/rvkit/rvkit/log"
	"github.com/rvkit/rvkit/metrics"
)

// Register halves, addressed as 32-bit words.
const (
	mtimeLo    = hart.ClintBase + hart.ClintMtimeOff
	mtimeHi    = hart.ClintBase + hart.ClintMtimeOff + 4
	mtimecmpLo = hart.ClintBase + hart.ClintMtimecmpOff
	mtimecmpHi = hart.ClintBase + hart.ClintMtimecmpOff + 4
)

// noDeadline is the mtimecmp reset value: a compare so far in the
// future it never fires.
const noDeadline = ^uint64(0)

// Driver owns the machine timer. Arm it once with a period, then call
// Service from the machine-timer trap handler; every expiry rearms the
// next one.
type Driver struct {
	bus     *hart.Bus
	f       *csr.File
	clockHz uint64
	logger  *log.Logger

	periodTicks uint64
	tick        func()

	// ticks and lastStamp are written only by Service, which runs with
	// interrupts masked. ticks is a single aligned word, so the idle
	// loop may read it raw; lastStamp pairs with ticks only when both
	// are read under a masked critical section.
	ticks     uint64
	lastStamp uint64
}

// New returns a driver bound to the machine's timer.
func New(m *hart.Machine) *Driver {
	return &Driver{
		bus:     m.Bus(),
		f:       csr.Bind(m.Hart()),
		clockHz: m.ClockHz(),
		logger:  log.Default().Module("mtimer"),
	}
}

// RawTime reads the full 64-bit mtime counter. On a 32-bit bus the two
// halves cannot be read atomically, so the high half is sampled before
// and after the low half and the read retried if a carry rippled
// through between the samples.
func (d *Driver) RawTime() uint64 {
	for {
		hi := d.bus.Read32(mtimeHi)
		lo := d.bus.Read32(mtimeLo)
		if d.bus.Read32(mtimeHi) == hi {
			return uint64(hi)<<32 | uint64(lo)
		}
	}
}

// SetCompare programs the next timer deadline. The low half is parked
// at all-ones before the high half is written, so the register never
// transiently holds a smaller value than either the old or the new
// deadline. A transiently small compare would fire a spurious
// interrupt.
func (d *Driver) SetCompare(deadline uint64) {
	d.bus.Write32(mtimecmpLo, 0xFFFF_FFFF)
	d.bus.Write32(mtimecmpHi, uint32(deadline>>32))
	d.bus.Write32(mtimecmpLo, uint32(deadline))
	metrics.TimerDeadline.Set(int64(deadline))
}

// TicksFor converts a wall duration to timer ticks, rounding down.
// Whole seconds convert exactly; only the sub-second remainder goes
// through the scaled multiply, so long durations do not wrap.
func (d *Driver) TicksFor(dur time.Duration) uint64 {
	ns := uint64(dur.Nanoseconds())
	sec := ns / uint64(time.Second)
	rem := ns % uint64(time.Second)
	return sec*d.clockHz + rem*d.clockHz/uint64(time.Second)
}

// DurationFor converts timer ticks to a wall duration, with the same
// split as TicksFor so large tick counts convert without wrapping.
func (d *Driver) DurationFor(ticks uint64) time.Duration {
	sec := ticks / d.clockHz
	rem := ticks % d.clockHz
	return time.Duration(sec)*time.Second +
		time.Duration(rem*uint64(time.Second)/d.clockHz)
}

// OnTick registers a function Service calls on every expiry, after the
// bookkeeping and the rearm. It runs in trap context.
func (d *Driver) OnTick(fn func()) { d.tick = fn }

// Arm starts the periodic timer with the given period. The first
// deadline is one period from now.
func (d *Driver) Arm(period time.Duration) {
	d.ArmTicks(d.TicksFor(period))
}

// ArmTicks starts the periodic timer with the period given directly in
// timer ticks.
func (d *Driver) ArmTicks(periodTicks uint64) {
	if periodTicks == 0 {
		periodTicks = 1
	}
	d.periodTicks = periodTicks
	now := d.RawTime()
	d.SetCompare(now + periodTicks)
	d.logger.Info("timer armed", "period_ticks", periodTicks, "now", now)
}

// Disarm retracts the deadline. A pending expiry that has not been
// serviced yet is withdrawn too, since the interrupt is level-triggered
// on the comparison.
func (d *Driver) Disarm() {
	d.periodTicks = 0
	d.SetCompare(noDeadline)
}

// Service is the machine-timer interrupt body. It stamps the expiry,
// rearms relative to the current counter and runs the user tick, if
// any.
//
// Rearming from now rather than from the previous deadline means the
// period is measured from service time: late servicing stretches the
// interval instead of bunching catch-up interrupts. Tick counts drift
// from wall time under load, which is the right trade for a periodic
// housekeeping timer.
func (d *Driver) Service() {
	now := d.RawTime()
	d.ticks++
	d.lastStamp = now
	if d.periodTicks != 0 {
		d.SetCompare(now + d.periodTicks)
	} else {
		d.SetCompare(noDeadline)
	}
	metrics.TimerTicks.Inc()
	if d.tick != nil {
		d.tick()
	}
}

// TickCount returns the number of expiries serviced so far. It is a
// single aligned word written only from the masked Service path, so
// the idle loop reads it without further ceremony.
func (d *Driver) TickCount() uint64 { return d.ticks }

// Stamp returns the tick count and the mtime stamp of the most recent
// expiry as a consistent pair. The two words cannot be read atomically
// together, so the read runs under a masked critical section.
func (d *Driver) Stamp() (ticks, mtime uint64) {
	d.f.Critical(func() {
		ticks = d.ticks
		mtime = d.lastStamp
	})
	return ticks, mtime
}
