// Package hart models a single-hart machine-mode RISC-V processor and
// its core-local devices. The hart executes no instruction stream of
// its own: the runtime layers above it run as ordinary Go code and use
// the hart for the pieces of machine state that matter to bring-up:
// CSRs, the trap entry/return sequence, the synthetic program counter,
// and the wait-for-interrupt suspension point. Time is explicit, so
// every trap and timer behavior is reproducible under test.
//
// The hart is permanently in machine mode. There is no second hart, no
// privilege transition, and no delegation.
package hart

import "fmt"

// ResetVector is where the pack-in-flash reset trampoline sits. The
// synthetic program counter starts here.
const ResetVector uint64 = 0x8000_0000

// textWindow is the synthetic address range handler stubs are linked
// into. It sits below RAM so the two can never collide.
const textWindow uint64 = 0x4000_0000

// Hart is one hardware thread of execution. It must only ever be
// driven from a single goroutine: the execution model is one
// logical thread of control, suspended only at WFI and resumed by a
// trap. Devices may poke pending bits from other goroutines; those
// paths go through the machine lock.
type Hart struct {
	m   *Machine
	csr csrFile

	// pc is the synthetic program counter. Every modelled instruction
	// (wfi, ecall, nop) retires exactly one instruction width.
	pc uint64

	// SP and GP mirror the stack-pointer and global-pointer registers.
	// They are undefined out of reset; the reset trampoline must
	// establish both before anything stack- or global-relative runs.
	SP uint64
	GP uint64

	// text maps synthetic addresses to handler stubs, standing in for
	// the linked text segment the trap vector points into.
	text    map[uint64]func()
	textEnd uint64
}

func newHart(m *Machine, hartID uint64) *Hart {
	h := &Hart{
		m:       m,
		pc:      ResetVector,
		text:    make(map[uint64]func()),
		textEnd: textWindow,
	}
	h.csr.mhartid = hartID
	h.csr.mstatus = MstatusMPP
	return h
}

// PC returns the synthetic program counter.
func (h *Hart) PC() uint64 { return h.pc }

// CSRRead returns the current value of a CSR.
func (h *Hart) CSRRead(num uint16) uint64 {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	return h.csr.read(num)
}

// CSRWrite stores a CSR, applying the register's writability mask.
func (h *Hart) CSRWrite(num uint16, val uint64) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	h.csr.write(num, val)
	h.m.cond.Broadcast()
}

// CSRSetBits ORs mask into a CSR as one uninterruptible operation, the
// csrrs form. The machine lock makes it atomic with respect to
// device-driven mip updates.
func (h *Hart) CSRSetBits(num uint16, mask uint64) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	h.csr.setBits(num, mask)
	h.m.cond.Broadcast()
}

// CSRClearBits AND-NOTs mask out of a CSR as one uninterruptible
// operation, the csrrc form.
func (h *Hart) CSRClearBits(num uint16, mask uint64) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	h.csr.clearBits(num, mask)
}

// AllocText reserves a block in the synthetic text window, aligned as
// requested, and returns its base address. The trap dispatcher links
// its entry stubs here; vectored tables need the base aligned at least
// to the size of the largest per-cause stub.
func (h *Hart) AllocText(size, align uint64) uint64 {
	base := (h.textEnd + align - 1) &^ (align - 1)
	h.textEnd = base + size
	return base
}

// MapText binds a stub to a synthetic text address.
func (h *Hart) MapText(addr uint64, fn func()) {
	h.text[addr] = fn
}

// Nop retires one instruction and opens an interrupt window, the
// between-instructions point at which hardware samples pending
// interrupts.
func (h *Hart) Nop() {
	h.pc += InstrBytes
	h.ServicePending()
}

// Wfi suspends until some enabled interrupt is pending, services it if
// the global enable allows, and returns. Per the architecture, wfi
// wakes on a pending enabled interrupt even when mstatus.MIE is clear;
// in that case the trap is not taken and control simply resumes, which
// is how drain-style wait loops are written.
//
// Wfi returns immediately if the machine has powered down, so a parked
// idle loop unwinds when the run ends.
func (h *Hart) Wfi() {
	h.pc += InstrBytes

	h.m.mu.Lock()
	for h.csr.mip&h.csr.mie == 0 && !h.m.stopped {
		h.m.cond.Wait()
	}
	h.m.mu.Unlock()

	h.ServicePending()
}

// ServicePending takes every pending enabled interrupt in priority
// order (external, then software, then timer, per the architecture)
// until none remain or the global enable is off. Each trap runs to
// completion before the next is sampled, so simultaneously pending
// causes are dispatched strictly one at a time to their own handlers.
func (h *Hart) ServicePending() {
	for {
		cause, ok := h.pendingCause()
		if !ok {
			return
		}
		h.takeTrap(cause, 0)
	}
}

// pendingCause picks the highest-priority pending enabled interrupt.
func (h *Hart) pendingCause() (uint64, bool) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	if h.csr.mstatus&MstatusMIE == 0 {
		return 0, false
	}
	pending := h.csr.mip & h.csr.mie
	switch {
	case pending&MipMEIP != 0:
		return CauseMExternalInt, true
	case pending&MipMSIP != 0:
		return CauseMSoftwareInt, true
	case pending&MipMTIP != 0:
		return CauseMTimerInt, true
	}
	return 0, false
}

// EnvCall executes an ecall instruction. mret resumes at mepc, and
// hardware saves mepc pointing at the ecall itself. Unless the
// handler advances the saved address past the instruction, it traps
// again immediately. The loop below is that re-execution.
func (h *Hart) EnvCall() {
	for {
		at := h.pc
		h.takeTrap(CauseEcallM, 0)
		if h.pc != at {
			return
		}
	}
}

// Raise executes an instruction that faults synchronously with the
// given cause code, e.g. an illegal instruction. Like EnvCall it
// re-executes until the saved return address moves; for causes the
// dispatch policy ignores, callers advance mepc themselves or accept
// the single dispatch Step semantics of RaiseOnce.
func (h *Hart) Raise(code, tval uint64) {
	for {
		at := h.pc
		h.takeTrap(code, tval)
		if h.pc != at {
			return
		}
	}
}

// RaiseOnce performs a single trap entry/return cycle for a
// synchronous cause without the re-execution loop. Tests use it to
// observe what one dispatch did to the saved state.
func (h *Hart) RaiseOnce(code, tval uint64) {
	h.takeTrap(code, tval)
}

// takeTrap performs the hardware trap entry sequence, transfers
// control through mtvec, and applies mret when the handler returns.
func (h *Hart) takeTrap(cause, tval uint64) {
	h.m.mu.Lock()

	// Entry: stack the interrupt enable and record where we were.
	h.csr.mepc = h.pc
	h.csr.mcause = cause
	h.csr.mtval = tval
	if h.csr.mstatus&MstatusMIE != 0 {
		h.csr.mstatus |= MstatusMPIE
	} else {
		h.csr.mstatus &^= MstatusMPIE
	}
	h.csr.mstatus &^= MstatusMIE

	// Resolve the entry point the way mtvec does: direct mode uses the
	// base for everything, vectored mode indexes interrupts by cause.
	base := h.csr.mtvec &^ tvecModeMask
	mode := h.csr.mtvec & tvecModeMask
	target := base
	if mode == TvecModeVectored && cause&CauseInterrupt != 0 {
		target = base + InstrBytes*(cause&^CauseInterrupt)
	}
	fn := h.text[target]
	h.m.mu.Unlock()

	if fn == nil {
		// A pending trap with no vector installed dispatches to an
		// undefined location on hardware. Fail loudly instead.
		panic(fmt.Sprintf("hart: trap (mcause %#x) to unmapped vector %#x", cause, target))
	}

	// The handler runs to completion with MIE clear: no nesting, no
	// same-or-lower-priority preemption.
	fn()

	// mret: unstack the enable and resume at the saved address, which
	// the handler may have advanced.
	h.m.mu.Lock()
	if h.csr.mstatus&MstatusMPIE != 0 {
		h.csr.mstatus |= MstatusMIE
	}
	h.csr.mstatus |= MstatusMPIE
	h.pc = h.csr.mepc
	h.m.mu.Unlock()
}
