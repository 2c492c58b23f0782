// Package boot carries the machine from the reset vector to a running
// program and back down to power-off. It is the pieces a crt0 and its
// runtime initializer perform: establish the stack and global pointers,
// zero uninitialized data, copy initialized data and relocated code
// from the load image, run the startup callback table, call main, run
// the teardown table and halt.
//
// Nothing here may touch the stack or globals before the trampoline
// establishes the pointers, and nothing may take an interrupt before a
// startup callback installs a trap vector. The sequence below is that
// ordering, made explicit.
package boot

import (
	"github.com/rvkit/rvkit/hart"
	"github.com/rvkit/rvkit/log"
	"github.com/rvkit/rvkit/metrics"
)

// LinkMap is the linker-provided geometry of the loaded image: where
// the stack and global-pointer anchors sit and which regions the
// initializer must zero or copy.
type LinkMap struct {
	// StackTop is the initial stack pointer, the high end of the stack
	// region.
	StackTop uint64

	// GlobalPointer anchors global-relative addressing.
	GlobalPointer uint64

	// BSS regions are zero-filled. Src is ignored.
	BSS []Region

	// Data regions are copied from their load-image source bytes.
	Data []Region

	// FastCode regions are code copied out of the load image into RAM,
	// the way time-critical routines are moved out of slow flash.
	FastCode []Region
}

// Program is everything the runtime initializer needs to run an
// application: the image geometry, the lifecycle tables and the entry
// point.
type Program struct {
	Link     LinkMap
	Startup  Table
	Teardown Table

	// Main is the application entry point. Its return value becomes the
	// exit code recorded at halt.
	Main func() int
}

// Reset is the reset trampoline plus runtime initializer. The hardware
// hands control here with nothing established: no stack, no globals,
// interrupts disabled. The trampoline plants the global pointer first
// and the stack pointer second, then tail-calls the initializer proper.
//
// Reset drives the machine to power-off and returns the exit code the
// program produced. On hardware the final halt never returns; the
// return value here is the host harness reading the finisher status.
func Reset(m *hart.Machine, p *Program) int {
	if p.Main == nil {
		panic("boot: program has no entry point")
	}
	h := m.Hart()

	// Global pointer before stack pointer. gp-relative addressing must
	// not be relaxed for this one assignment, since gp itself is not
	// valid yet.
	h.GP = p.Link.GlobalPointer
	h.SP = p.Link.StackTop

	return initialize(m, p)
}

// initialize is the runtime initializer: everything after the
// trampoline has made a stack available.
func initialize(m *hart.Machine, p *Program) int {
	logger := log.Default().Module("boot")
	bus := m.Bus()

	for _, r := range p.Link.BSS {
		ZeroRegion(bus, r)
	}
	for _, r := range p.Link.Data {
		CopyRegion(bus, r)
	}
	for _, r := range p.Link.FastCode {
		CopyRegion(bus, r)
	}
	logger.Info("image initialized",
		"bss_regions", len(p.Link.BSS),
		"data_regions", len(p.Link.Data),
		"fastcode_regions", len(p.Link.FastCode))

	p.Startup.run(logger, "startup", metrics.BootCallbacks)

	code := p.Main()

	p.Teardown.run(logger, "teardown", metrics.ShutdownCallbacks)

	logger.Info("halting", "code", code)
	Halt(bus, code)
	return code
}

// Halt powers the machine off through the finisher device, encoding
// the exit code in the status word. The finisher carries the code in a
// 16-bit field, so codes outside 0..65535 (negative ones included) are
// truncated to their low 16 bits. On hardware the store does not
// return; treat everything after a Halt call as unreachable.
func Halt(bus *hart.Bus, code int) {
	var status uint32
	if code == 0 {
		status = hart.FinisherPass
	} else {
		status = uint32(code)<<16 | hart.FinisherFail
	}
	bus.Write32(hart.FinisherBase, status)
}
