// Package csr is the control/status register access layer: typed
// handles over the machine-mode CSRs with atomic read, write, set-bits
// and clear-bits operations. Each named register is an independent
// bitfield; the set/clear forms map to the single-instruction
// csrrs/csrrc sequences, so they are safe to use inside or adjacent to
// trap context. No operation here can fail; an invalid mask is a
// caller contract violation, not a signalled error.
package csr

import "github.com/rvkit/rvkit/hart"

// Bit masks, re-exported in the names driver code reads naturally.
const (
	MSTATUS_MIE  = hart.MstatusMIE
	MSTATUS_MPIE = hart.MstatusMPIE

	MIE_MSIE = hart.MipMSIP
	MIE_MTIE = hart.MipMTIP
	MIE_MEIE = hart.MipMEIP

	MIP_MSIP = hart.MipMSIP
	MIP_MTIP = hart.MipMTIP
	MIP_MEIP = hart.MipMEIP
)

// Interrupt cause codes (the low bits of mcause when the interrupt
// flag is set).
const (
	MachineSoftwareInterrupt uint64 = 3
	MachineTimerInterrupt    uint64 = 7
	MachineExternalInterrupt uint64 = 11
)

// Synchronous exception cause codes.
const (
	IllegalInstruction     uint64 = 2
	Breakpoint             uint64 = 3
	EnvCallFromMachineMode uint64 = 11
)

// Register is a handle to one named CSR of a hart.
type Register struct {
	h   *hart.Hart
	num uint16
}

// Read returns the register's current value.
func (r Register) Read() uint64 { return r.h.CSRRead(r.num) }

// Write replaces the register's value.
func (r Register) Write(v uint64) { r.h.CSRWrite(r.num, v) }

// SetBits ORs mask into the register in one uninterruptible operation.
func (r Register) SetBits(mask uint64) { r.h.CSRSetBits(r.num, mask) }

// ClearBits AND-NOTs mask out of the register in one uninterruptible
// operation.
func (r Register) ClearBits(mask uint64) { r.h.CSRClearBits(r.num, mask) }

// File is the set of register handles for one hart.
type File struct {
	MSTATUS  Register
	MIE      Register
	MIP      Register
	MTVEC    Register
	MSCRATCH Register
	MEPC     Register
	MCAUSE   Register
	MTVAL    Register
	MHARTID  Register
}

// Bind returns the register file of the given hart.
func Bind(h *hart.Hart) *File {
	return &File{
		MSTATUS:  Register{h, hart.CSRMstatus},
		MIE:      Register{h, hart.CSRMie},
		MIP:      Register{h, hart.CSRMip},
		MTVEC:    Register{h, hart.CSRMtvec},
		MSCRATCH: Register{h, hart.CSRMscratch},
		MEPC:     Register{h, hart.CSRMepc},
		MCAUSE:   Register{h, hart.CSRMcause},
		MTVAL:    Register{h, hart.CSRMtval},
		MHARTID:  Register{h, hart.CSRMhartid},
	}
}

// Cause is a decoded mcause value. It exists only for the duration of
// one dispatch.
type Cause struct {
	Interrupt bool
	Code      uint64
}

// DecodeCause splits an mcause value into the interrupt flag and the
// cause code.
func DecodeCause(v uint64) Cause {
	return Cause{
		Interrupt: v&hart.CauseInterrupt != 0,
		Code:      v &^ hart.CauseInterrupt,
	}
}

// Critical runs fn with the global interrupt enable cleared, restoring
// the previous enable state afterwards. Masking the enable bit is the
// only mutual-exclusion primitive this system has: multi-word state a
// handler writes (such as a 64-bit timestamp) must be read under it to
// avoid observing a torn update.
func (f *File) Critical(fn func()) {
	was := f.MSTATUS.Read() & MSTATUS_MIE
	f.MSTATUS.ClearBits(MSTATUS_MIE)
	fn()
	if was != 0 {
		f.MSTATUS.SetBits(MSTATUS_MIE)
	}
}
