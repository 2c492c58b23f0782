package hart

import "io"

// UART register offsets, the 16550 subset QEMU's virt board exposes.
const (
	UARTBase uint64 = 0x1000_0000
	UARTSize uint64 = 0x100

	UARTRbrOff uint64 = 0 // read: receive buffer / write: transmit hold
	UARTLsrOff uint64 = 5 // line status

	LSRDataReady byte = 1 << 0
	LSRTxEmpty   byte = 1 << 5
)

// UART is the console device. Transmitted bytes go straight to the
// configured writer. Received bytes queue until the hart drains them;
// a non-empty receive queue drives the machine-external interrupt line,
// which is how console input wakes the idle loop.
type UART struct {
	m  *Machine
	tx io.Writer
	rx []byte
}

func newUART(m *Machine, tx io.Writer) *UART {
	return &UART{m: m, tx: tx}
}

// Size implements Device.
func (u *UART) Size() uint64 { return UARTSize }

// Read implements Device.
func (u *UART) Read(off uint64, size int) uint64 {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()

	switch off {
	case UARTRbrOff:
		if len(u.rx) == 0 {
			return 0
		}
		b := u.rx[0]
		u.rx = u.rx[1:]
		u.syncLocked()
		return uint64(b)
	case UARTLsrOff:
		v := LSRTxEmpty
		if len(u.rx) > 0 {
			v |= LSRDataReady
		}
		return uint64(v)
	}
	return 0
}

// Write implements Device.
func (u *UART) Write(off uint64, size int, val uint64) {
	if off == UARTRbrOff && u.tx != nil {
		u.tx.Write([]byte{byte(val)})
	}
}

// Push queues host-side input bytes and raises the external interrupt
// line. Safe to call from any goroutine.
func (u *UART) Push(data ...byte) {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	u.rx = append(u.rx, data...)
	u.syncLocked()
}

// syncLocked drives MEIP from the receive queue. Caller holds the
// machine lock.
func (u *UART) syncLocked() {
	if len(u.rx) > 0 {
		u.m.hart.csr.mip |= MipMEIP
	} else {
		u.m.hart.csr.mip &^= MipMEIP
	}
	u.m.cond.Broadcast()
}
