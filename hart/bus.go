package hart

import "fmt"

// Device is a memory-mapped peripheral. Offsets are relative to the
// device's base address on the bus. Access widths are 1, 2, 4 or 8
// bytes; devices may ignore widths they do not support.
type Device interface {
	Read(off uint64, size int) uint64
	Write(off uint64, size int, val uint64)
	Size() uint64
}

type mapping struct {
	base uint64
	dev  Device
}

// Bus routes loads and stores to the device claiming the address. An
// access outside every mapped window is a link-time contract violation
// in the real system; the simulated bus makes it loud instead of
// letting it wander.
type Bus struct {
	maps []mapping
}

// Map attaches a device at the given base address. Windows must not
// overlap; the bus does not check because mappings are fixed at
// machine construction.
func (b *Bus) Map(base uint64, dev Device) {
	b.maps = append(b.maps, mapping{base: base, dev: dev})
}

func (b *Bus) find(addr uint64) (Device, uint64) {
	for _, m := range b.maps {
		if addr >= m.base && addr < m.base+m.dev.Size() {
			return m.dev, addr - m.base
		}
	}
	panic(fmt.Sprintf("hart: bus access to unmapped address %#x", addr))
}

// Read performs a load of the given width.
func (b *Bus) Read(addr uint64, size int) uint64 {
	dev, off := b.find(addr)
	return dev.Read(off, size)
}

// Write performs a store of the given width.
func (b *Bus) Write(addr uint64, size int, val uint64) {
	dev, off := b.find(addr)
	dev.Write(off, size, val)
}

func (b *Bus) Read8(addr uint64) byte    { return byte(b.Read(addr, 1)) }
func (b *Bus) Read32(addr uint64) uint32 { return uint32(b.Read(addr, 4)) }
func (b *Bus) Read64(addr uint64) uint64 { return b.Read(addr, 8) }

func (b *Bus) Write8(addr uint64, v byte)    { b.Write(addr, 1, uint64(v)) }
func (b *Bus) Write32(addr uint64, v uint32) { b.Write(addr, 4, uint64(v)) }
func (b *Bus) Write64(addr uint64, v uint64) { b.Write(addr, 8, v) }

// RAM is a flat little-endian memory window.
type RAM struct {
	data []byte
}

// NewRAM allocates size bytes of zeroed memory.
func NewRAM(size uint64) *RAM {
	return &RAM{data: make([]byte, size)}
}

// Size implements Device.
func (r *RAM) Size() uint64 { return uint64(len(r.data)) }

// Read implements Device.
func (r *RAM) Read(off uint64, size int) uint64 {
	var v uint64
	for i := 0; i < size; i++ {
		v |= uint64(r.data[off+uint64(i)]) << (8 * i)
	}
	return v
}

// Write implements Device.
func (r *RAM) Write(off uint64, size int, val uint64) {
	for i := 0; i < size; i++ {
		r.data[off+uint64(i)] = byte(val >> (8 * i))
	}
}

func illegalCSR(num uint16) string {
	return fmt.Sprintf("hart: access to unimplemented CSR %#x", num)
}
