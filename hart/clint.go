package hart

// CLINT register offsets within the device window, per the SiFive
// core-local interruptor layout that QEMU's virt board replicates.
const (
	ClintBase uint64 = 0x0200_0000
	ClintSize uint64 = 0x0001_0000

	ClintMsipOff     uint64 = 0x0000
	ClintMtimecmpOff uint64 = 0x4000
	ClintMtimeOff    uint64 = 0xBFF8
)

// CLINT is the core-local interruptor: the free-running machine timer,
// its compare register, and the software-interrupt pending register.
// It owns the MTIP and MSIP bits of the hart's mip.
//
// mtime only moves when the machine advances it, so tests control time
// exactly; the wall-clock driver in Machine.DriveClock feeds it for
// interactive runs.
type CLINT struct {
	m *Machine

	msip     uint32
	mtime    uint64
	mtimecmp uint64
}

func newCLINT(m *Machine) *CLINT {
	return &CLINT{
		m: m,
		// No interrupt until software programs a deadline.
		mtimecmp: ^uint64(0),
	}
}

// Size implements Device.
func (c *CLINT) Size() uint64 { return ClintSize }

// Read implements Device. mtime and mtimecmp are readable as a full
// 64-bit word or as split 32-bit halves.
func (c *CLINT) Read(off uint64, size int) uint64 {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()

	switch {
	case off >= ClintMsipOff && off < ClintMsipOff+4:
		return uint64(c.msip)
	case off >= ClintMtimecmpOff && off < ClintMtimecmpOff+8:
		return readHalf(c.mtimecmp, off-ClintMtimecmpOff, size)
	case off >= ClintMtimeOff && off < ClintMtimeOff+8:
		return readHalf(c.mtime, off-ClintMtimeOff, size)
	}
	return 0
}

// Write implements Device.
func (c *CLINT) Write(off uint64, size int, val uint64) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()

	switch {
	case off >= ClintMsipOff && off < ClintMsipOff+4:
		if val&1 != 0 {
			c.msip = 1
		} else {
			c.msip = 0
		}
	case off >= ClintMtimecmpOff && off < ClintMtimecmpOff+8:
		c.mtimecmp = writeHalf(c.mtimecmp, off-ClintMtimecmpOff, size, val)
	}
	c.syncLocked()
}

// advance moves mtime forward and re-evaluates the pending bits.
// Caller holds the machine lock.
func (c *CLINT) advance(ticks uint64) {
	c.mtime += ticks
	c.syncLocked()
}

// syncLocked derives MTIP and MSIP from the device state. MTIP is
// level-triggered: writing a compare value beyond mtime retracts it.
func (c *CLINT) syncLocked() {
	if c.mtime >= c.mtimecmp {
		c.m.hart.csr.mip |= MipMTIP
	} else {
		c.m.hart.csr.mip &^= MipMTIP
	}
	if c.msip != 0 {
		c.m.hart.csr.mip |= MipMSIP
	} else {
		c.m.hart.csr.mip &^= MipMSIP
	}
	c.m.cond.Broadcast()
}

// readHalf extracts a size-wide slice of a 64-bit register at the given
// byte offset into it.
func readHalf(reg, off uint64, size int) uint64 {
	v := reg >> (8 * off)
	if size < 8 {
		v &= (uint64(1) << (8 * size)) - 1
	}
	return v
}

// writeHalf merges a size-wide store at the given byte offset into a
// 64-bit register.
func writeHalf(reg, off uint64, size int, val uint64) uint64 {
	if size >= 8 {
		return val
	}
	mask := ((uint64(1) << (8 * size)) - 1) << (8 * off)
	return (reg &^ mask) | ((val << (8 * off)) & mask)
}
