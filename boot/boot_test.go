package boot

import (
	"reflect"
	"testing"

	"github.com/rvkit/rvkit/hart"
)

func newTestMachine() *hart.Machine {
	return hart.New(hart.Config{RAMSize: 1 << 20, ClockHz: 1_000_000})
}

// ---------------------------------------------------------------------------
// Regions
// ---------------------------------------------------------------------------

func TestZeroRegion(t *testing.T) {
	m := newTestMachine()
	bus := m.Bus()

	// Dirty the target first so the zero-fill is observable.
	for i := uint64(0); i < 32; i++ {
		bus.Write8(hart.RAMBase+i, 0xFF)
	}
	// Odd size forces the byte tail after the word loop.
	ZeroRegion(bus, Region{Start: hart.RAMBase + 1, End: hart.RAMBase + 28})

	if b := bus.Read8(hart.RAMBase); b != 0xFF {
		t.Fatalf("byte before region zeroed: %#x", b)
	}
	for i := uint64(1); i < 28; i++ {
		if b := bus.Read8(hart.RAMBase + i); b != 0 {
			t.Fatalf("byte %d in region = %#x, want 0", i, b)
		}
	}
	if b := bus.Read8(hart.RAMBase + 28); b != 0xFF {
		t.Fatalf("byte after region zeroed: %#x", b)
	}
}

func TestZeroRegion_EmptyIsNoop(t *testing.T) {
	m := newTestMachine()
	bus := m.Bus()

	bus.Write8(hart.RAMBase, 0xAB)
	ZeroRegion(bus, Region{Start: hart.RAMBase, End: hart.RAMBase})
	if b := bus.Read8(hart.RAMBase); b != 0xAB {
		t.Fatalf("empty region touched memory: %#x", b)
	}
}

func TestCopyRegion(t *testing.T) {
	m := newTestMachine()
	bus := m.Bus()

	src := []byte{1, 2, 3, 4, 5}
	CopyRegion(bus, Region{Src: src, Start: hart.RAMBase + 64, End: hart.RAMBase + 69})

	for i, want := range src {
		if b := bus.Read8(hart.RAMBase + 64 + uint64(i)); b != want {
			t.Fatalf("byte %d = %#x, want %#x", i, b, want)
		}
	}
}

func TestCopyRegion_EmptyIsNoop(t *testing.T) {
	m := newTestMachine()
	CopyRegion(m.Bus(), Region{Start: hart.RAMBase, End: hart.RAMBase})
}

func TestCopyRegion_SizeMismatchPanics(t *testing.T) {
	m := newTestMachine()
	defer func() {
		if recover() == nil {
			t.Fatal("mismatched source length did not panic")
		}
	}()
	CopyRegion(m.Bus(), Region{Src: []byte{1, 2}, Start: hart.RAMBase, End: hart.RAMBase + 5})
}

// ---------------------------------------------------------------------------
// Callback tables
// ---------------------------------------------------------------------------

func TestTable_AscendingPriority(t *testing.T) {
	var tab Table
	var order []string
	tab.Register("late", 300, func() { order = append(order, "late") })
	tab.Register("early", 100, func() { order = append(order, "early") })
	tab.Register("middle", 200, func() { order = append(order, "middle") })

	m := newTestMachine()
	p := &Program{Startup: tab, Main: func() int { return 0 }}
	Reset(m, p)

	want := []string{"early", "middle", "late"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("callback order = %v, want %v", order, want)
	}
}

func TestTable_EqualPriorityKeepsRegistrationOrder(t *testing.T) {
	var tab Table
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		n := name
		tab.Register(n, 100, func() { order = append(order, n) })
	}

	m := newTestMachine()
	Reset(m, &Program{Startup: tab, Main: func() int { return 0 }})

	if !reflect.DeepEqual(order, []string{"a", "b", "c"}) {
		t.Fatalf("equal-priority order = %v, want [a b c]", order)
	}
}

// ---------------------------------------------------------------------------
// Reset sequence
// ---------------------------------------------------------------------------

func TestReset_FullSequence(t *testing.T) {
	m := newTestMachine()
	h := m.Hart()
	bus := m.Bus()

	// Dirty the future BSS so the zero-fill is visible.
	bus.Write64(hart.RAMBase+0x100, ^uint64(0))

	var order []string
	p := &Program{
		Link: LinkMap{
			StackTop:      hart.RAMBase + (1 << 20),
			GlobalPointer: hart.RAMBase + 0x800,
			BSS:           []Region{{Start: hart.RAMBase + 0x100, End: hart.RAMBase + 0x110}},
			Data: []Region{{
				Src:   []byte("boot"),
				Start: hart.RAMBase + 0x200,
				End:   hart.RAMBase + 0x204,
			}},
		},
		Main: func() int {
			order = append(order, "main")
			// The trampoline must have established the pointers and the
			// initializer must have prepared memory before main runs.
			if h.SP != hart.RAMBase+(1<<20) {
				t.Errorf("SP in main = %#x", h.SP)
			}
			if h.GP != hart.RAMBase+0x800 {
				t.Errorf("GP in main = %#x", h.GP)
			}
			if got := bus.Read64(hart.RAMBase + 0x100); got != 0 {
				t.Errorf("BSS not zeroed before main: %#x", got)
			}
			if got := bus.Read8(hart.RAMBase + 0x200); got != 'b' {
				t.Errorf("data not copied before main: %#x", got)
			}
			return 0
		},
	}
	p.Startup.Register("first", 101, func() { order = append(order, "startup-101") })
	p.Startup.Register("second", 102, func() { order = append(order, "startup-102") })
	p.Teardown.Register("second", 102, func() { order = append(order, "teardown-102") })
	p.Teardown.Register("first", 101, func() { order = append(order, "teardown-101") })

	code := Reset(m, p)

	want := []string{"startup-101", "startup-102", "main", "teardown-101", "teardown-102"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("sequence = %v, want %v", order, want)
	}
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	ec, exited := m.ExitStatus()
	if !exited || ec != 0 {
		t.Fatalf("finisher status = (%d, %v), want (0, true)", ec, exited)
	}
	if !m.Stopped() {
		t.Fatal("machine still running after halt")
	}
}

func TestReset_NonzeroExitCode(t *testing.T) {
	m := newTestMachine()

	teardownRan := false
	p := &Program{Main: func() int { return 7 }}
	p.Teardown.Register("always", 100, func() { teardownRan = true })

	code := Reset(m, p)
	if code != 7 {
		t.Fatalf("exit code = %d, want 7", code)
	}
	// Teardown runs on failure exits too.
	if !teardownRan {
		t.Fatal("teardown skipped on nonzero exit")
	}
	ec, exited := m.ExitStatus()
	if !exited || ec != 7 {
		t.Fatalf("finisher status = (%d, %v), want (7, true)", ec, exited)
	}
}

func TestReset_NilMainPanics(t *testing.T) {
	m := newTestMachine()
	defer func() {
		if recover() == nil {
			t.Fatal("program without entry point did not panic")
		}
	}()
	Reset(m, &Program{})
}

func TestHalt_EncodesStatus(t *testing.T) {
	m := newTestMachine()
	Halt(m.Bus(), 5)
	ec, exited := m.ExitStatus()
	if !exited || ec != 5 {
		t.Fatalf("ExitStatus = (%d, %v), want (5, true)", ec, exited)
	}
}

func TestHalt_TruncatesWideCodes(t *testing.T) {
	// The finisher's code field is 16 bits; anything outside it comes
	// back as its low 16 bits, negative codes included.
	m := newTestMachine()
	Halt(m.Bus(), -1)
	ec, exited := m.ExitStatus()
	if !exited || ec != 0xFFFF {
		t.Fatalf("ExitStatus after Halt(-1) = (%d, %v), want (65535, true)", ec, exited)
	}

	m2 := newTestMachine()
	Halt(m2.Bus(), 0x12345)
	ec, exited = m2.ExitStatus()
	if !exited || ec != 0x2345 {
		t.Fatalf("ExitStatus after Halt(0x12345) = (%#x, %v), want (0x2345, true)", ec, exited)
	}
}
