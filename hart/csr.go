package hart

// Machine-mode CSR numbers. Only the registers a machine-mode-only hart
// actually exposes are modelled; everything else is an illegal access.
const (
	CSRMstatus  uint16 = 0x300
	CSRMie      uint16 = 0x304
	CSRMtvec    uint16 = 0x305
	CSRMscratch uint16 = 0x340
	CSRMepc     uint16 = 0x341
	CSRMcause   uint16 = 0x342
	CSRMtval    uint16 = 0x343
	CSRMip      uint16 = 0x344
	CSRMhartid  uint16 = 0xF14
)

// mstatus bits.
const (
	MstatusMIE  uint64 = 1 << 3 // machine interrupt enable
	MstatusMPIE uint64 = 1 << 7 // previous MIE, stacked on trap entry
	MstatusMPP  uint64 = 3 << 11
)

// mip/mie bits. The same bit positions are used in both registers.
const (
	MipMSIP uint64 = 1 << 3  // machine software interrupt
	MipMTIP uint64 = 1 << 7  // machine timer interrupt
	MipMEIP uint64 = 1 << 11 // machine external interrupt
)

// mcause values. The top bit distinguishes asynchronous interrupts from
// synchronous exceptions; the low bits carry the cause code.
const (
	CauseInterrupt uint64 = 1 << 63

	CauseMSoftwareInt uint64 = CauseInterrupt | 3
	CauseMTimerInt    uint64 = CauseInterrupt | 7
	CauseMExternalInt uint64 = CauseInterrupt | 11

	CauseIllegalInsn uint64 = 2
	CauseBreakpoint  uint64 = 3
	CauseEcallM      uint64 = 11
)

// mtvec mode field (low two bits of the register).
const (
	TvecModeDirect   uint64 = 0
	TvecModeVectored uint64 = 1
	tvecModeMask     uint64 = 3
)

// InstrBytes is the width of one uncompressed instruction. The saved
// return address of a synchronous trap advances by this much to step
// past the trapping instruction.
const InstrBytes = 4

// csrFile holds the machine-mode CSR state of one hart. All accesses go
// through the owning machine's lock so that read-modify-write sequences
// are atomic with respect to device-driven mip updates, mirroring the
// single-instruction csrrs/csrrc forms of the hardware.
type csrFile struct {
	mstatus  uint64
	mie      uint64
	mip      uint64
	mtvec    uint64
	mscratch uint64
	mepc     uint64
	mcause   uint64
	mtval    uint64
	mhartid  uint64
}

// read returns the value of a CSR. Caller holds the machine lock.
func (f *csrFile) read(num uint16) uint64 {
	switch num {
	case CSRMstatus:
		return f.mstatus
	case CSRMie:
		return f.mie
	case CSRMip:
		return f.mip
	case CSRMtvec:
		return f.mtvec
	case CSRMscratch:
		return f.mscratch
	case CSRMepc:
		return f.mepc
	case CSRMcause:
		return f.mcause
	case CSRMtval:
		return f.mtval
	case CSRMhartid:
		return f.mhartid
	}
	panic(illegalCSR(num))
}

// write stores a CSR value, applying the per-register writability
// masks. Caller holds the machine lock.
func (f *csrFile) write(num uint16, val uint64) {
	switch num {
	case CSRMstatus:
		// MPP is hardwired to machine mode; only the enable stack moves.
		const mask = MstatusMIE | MstatusMPIE
		f.mstatus = (f.mstatus &^ mask) | (val & mask) | MstatusMPP
	case CSRMie:
		f.mie = val & (MipMSIP | MipMTIP | MipMEIP)
	case CSRMip:
		// The machine-level pending bits are owned by the interrupt
		// sources (CLINT, external line); stores from the hart's own
		// instruction stream are dropped.
	case CSRMtvec:
		f.mtvec = val
	case CSRMscratch:
		f.mscratch = val
	case CSRMepc:
		f.mepc = val &^ 1
	case CSRMcause:
		f.mcause = val
	case CSRMtval:
		f.mtval = val
	case CSRMhartid:
		// Read-only.
	default:
		panic(illegalCSR(num))
	}
}

func (f *csrFile) setBits(num uint16, mask uint64) {
	f.write(num, f.read(num)|mask)
}

func (f *csrFile) clearBits(num uint16, mask uint64) {
	f.write(num, f.read(num)&^mask)
}
