// Package trap implements machine-mode trap dispatch. A Dispatcher
// owns the trap-vector base register: it links its entry stubs into
// the text window, points mtvec at them in either direct or vectored
// mode, and routes each cause to the handler registered for it.
//
// The routing policy is a fixed table over a bounded set of variants:
// machine timer, machine software, machine external, synchronous
// exception, and unrecognized. Unrecognized is a real variant, not a
// fallthrough: an unserviced but harmless source must not take the
// system down, so it is counted and control returns from the trap.
//
// Install order matters: mtvec must hold a valid entry before the
// corresponding mie bits are set, otherwise a pending interrupt
// dispatches to an undefined location. Enable enforces that ordering.
package trap

import (
	"github.com/rvkit/rvkit/csr"
	"github.com/rvkit/rvkit/hart"
	"github.com/rvkit/rvkit/log"
	"github.com/rvkit/rvkit/metrics"
)

// Mode is the dispatcher's installation state.
type Mode int

const (
	// Uninstalled means mtvec has not been programmed; taking any trap
	// now is undefined.
	Uninstalled Mode = iota
	// Direct sends every trap to one shared entry point that decodes
	// mcause itself.
	Direct
	// Vectored indexes interrupts through a per-cause table; all
	// synchronous exceptions share the slot at the table base.
	Vectored
)

// String returns a human-readable name for the mode.
func (m Mode) String() string {
	switch m {
	case Uninstalled:
		return "uninstalled"
	case Direct:
		return "direct"
	case Vectored:
		return "vectored"
	default:
		return "unknown"
	}
}

// numVectors is the size of the local-interrupt cause space the
// vectored table covers.
const numVectors = 16

// vectorAlign is the required alignment of the vector table base. The
// mode bits live in mtvec's low bits, and the hardware fans out to
// base + 4*cause, so the base must hold the whole table without its
// low-index entries aliasing the mode field.
const vectorAlign = numVectors * hart.InstrBytes

// Handler is one trap handler. Handlers run to completion with the
// global interrupt enable cleared: no nesting, no blocking, and any
// state shared with the main thread of control must be a single
// aligned word or read back under a masked critical section.
type Handler func()

// Dispatcher decodes mcause and transfers control to registered
// handlers. It is bound to one hart and must be driven from that
// hart's single thread of control.
type Dispatcher struct {
	h      *hart.Hart
	f      *csr.File
	logger *log.Logger

	mode Mode

	timer     Handler
	software  Handler
	external  Handler
	exception Handler
}

// New returns an uninstalled Dispatcher for the given hart.
func New(h *hart.Hart) *Dispatcher {
	return &Dispatcher{
		h:      h,
		f:      csr.Bind(h),
		logger: log.Default().Module("trap"),
	}
}

// Mode returns the dispatcher's installation state.
func (d *Dispatcher) Mode() Mode { return d.mode }

// OnTimer registers the machine-timer interrupt handler.
func (d *Dispatcher) OnTimer(fn Handler) { d.timer = fn }

// OnSoftware registers the machine-software interrupt handler.
func (d *Dispatcher) OnSoftware(fn Handler) { d.software = fn }

// OnExternal registers the machine-external interrupt handler.
func (d *Dispatcher) OnExternal(fn Handler) { d.external = fn }

// OnException registers the handler for all synchronous exceptions.
// For an environment call the dispatcher has already advanced the
// saved return address past the ecall when this runs.
func (d *Dispatcher) OnException(fn Handler) { d.exception = fn }

// InstallDirect points mtvec at a single shared entry stub.
func (d *Dispatcher) InstallDirect() {
	base := d.h.AllocText(hart.InstrBytes, hart.InstrBytes)
	d.h.MapText(base, d.dispatch)
	d.f.MTVEC.Write(base | hart.TvecModeDirect)
	d.mode = Direct
	d.logger.Info("trap vector installed", "mode", d.mode.String(), "base", base)
}

// InstallVectored links the per-cause table and points mtvec at its
// base with the vectored mode tag.
func (d *Dispatcher) InstallVectored() {
	base := d.h.AllocText(numVectors*hart.InstrBytes, vectorAlign)

	// Slot 0 doubles as the synchronous-exception entry: exceptions
	// always enter at the base, and interrupt cause 0 is not a
	// machine-level source.
	d.h.MapText(base, d.vectorBase)
	for code := uint64(1); code < numVectors; code++ {
		d.h.MapText(base+code*hart.InstrBytes, d.vectorStub(code))
	}

	d.f.MTVEC.Write(base | hart.TvecModeVectored)
	d.mode = Vectored
	d.logger.Info("trap vector installed", "mode", d.mode.String(), "base", base)
}

// Enable sets interrupt-enable bits in mie. It refuses to run before a
// vector is installed: that ordering violation is exactly how a
// pending interrupt ends up dispatched to an undefined location.
func (d *Dispatcher) Enable(mask uint64) {
	if d.mode == Uninstalled {
		panic("trap: Enable called before a vector was installed")
	}
	d.f.MIE.SetBits(mask)
}

// Disable clears interrupt-enable bits in mie.
func (d *Dispatcher) Disable(mask uint64) {
	d.f.MIE.ClearBits(mask)
}

// EnableGlobal sets the global machine interrupt enable.
func (d *Dispatcher) EnableGlobal() {
	if d.mode == Uninstalled {
		panic("trap: EnableGlobal called before a vector was installed")
	}
	d.f.MSTATUS.SetBits(csr.MSTATUS_MIE)
}

// DisableGlobal clears the global machine interrupt enable.
func (d *Dispatcher) DisableGlobal() {
	d.f.MSTATUS.ClearBits(csr.MSTATUS_MIE)
}

// dispatch is the direct-mode entry: one stub for every cause, routed
// by decoding mcause.
func (d *Dispatcher) dispatch() {
	c := csr.DecodeCause(d.f.MCAUSE.Read())
	if !c.Interrupt {
		d.serviceException(c.Code)
		return
	}
	switch c.Code {
	case csr.MachineSoftwareInterrupt:
		d.serviceSoftware()
	case csr.MachineTimerInterrupt:
		d.serviceTimer()
	case csr.MachineExternalInterrupt:
		d.serviceExternal()
	default:
		d.ignore()
	}
}

// vectorBase is the stub at the table base: all synchronous
// exceptions, plus interrupt cause 0, which no machine-level source
// generates.
func (d *Dispatcher) vectorBase() {
	c := csr.DecodeCause(d.f.MCAUSE.Read())
	if c.Interrupt {
		d.ignore()
		return
	}
	d.serviceException(c.Code)
}

// vectorStub returns the per-cause stub for one interrupt slot.
func (d *Dispatcher) vectorStub(code uint64) func() {
	switch code {
	case csr.MachineSoftwareInterrupt:
		return d.serviceSoftware
	case csr.MachineTimerInterrupt:
		return d.serviceTimer
	case csr.MachineExternalInterrupt:
		return d.serviceExternal
	default:
		return d.ignore
	}
}

func (d *Dispatcher) serviceTimer() {
	metrics.TrapsTimer.Inc()
	if d.timer != nil {
		d.timer()
	}
}

func (d *Dispatcher) serviceSoftware() {
	metrics.TrapsSoftware.Inc()
	if d.software != nil {
		d.software()
	}
}

func (d *Dispatcher) serviceExternal() {
	metrics.TrapsExternal.Inc()
	if d.external != nil {
		d.external()
	}
}

// serviceException routes a synchronous exception. An environment call
// must advance the saved return address past the trapping instruction
// before returning: mret resumes at mepc, and leaving it pointed at
// the ecall re-executes it forever.
func (d *Dispatcher) serviceException(code uint64) {
	if code == csr.EnvCallFromMachineMode {
		d.f.MEPC.Write(d.f.MEPC.Read() + hart.InstrBytes)
		metrics.TrapsEcall.Inc()
		if d.exception != nil {
			d.exception()
		}
		return
	}
	if d.exception != nil {
		metrics.TrapsException.Inc()
		d.exception()
		return
	}
	d.ignore()
}

// ignore is the unrecognized variant: deliberately a no-op apart from
// the audit counter.
func (d *Dispatcher) ignore() {
	metrics.TrapsUnrecognized.Inc()
}
