package boot

import "github.com/rvkit/rvkit/hart"

// Region is one address range the image initializer touches: a
// zero-fill target, or a copy destination paired with its load-image
// source bytes. Start is inclusive, End exclusive.
type Region struct {
	// Src holds the bytes to copy into the region. Nil for zero-fill
	// regions. When set, its length must equal Size().
	Src []byte

	Start uint64
	End   uint64
}

// Size returns the region length in bytes.
func (r Region) Size() uint64 { return r.End - r.Start }

// ZeroRegion clears the region through the bus. An empty region is a
// no-op, which is what a link map with no uninitialized data produces.
func ZeroRegion(bus *hart.Bus, r Region) {
	addr := r.Start
	for ; addr+8 <= r.End; addr += 8 {
		bus.Write64(addr, 0)
	}
	for ; addr < r.End; addr++ {
		bus.Write8(addr, 0)
	}
}

// CopyRegion copies the region's source bytes to its destination
// through the bus. An empty region is a no-op.
func CopyRegion(bus *hart.Bus, r Region) {
	if uint64(len(r.Src)) != r.Size() {
		panic("boot: copy region source length does not match region size")
	}
	for i, b := range r.Src {
		bus.Write8(r.Start+uint64(i), b)
	}
}
