package trap

import (
	"testing"

	"github.com/rvkit/rvkit/csr"
	"github.com/rvkit/rvkit/hart"
	"github.com/rvkit/rvkit/metrics"
)

func newTestMachine() (*hart.Machine, *Dispatcher) {
	m := hart.New(hart.Config{RAMSize: 1 << 20, ClockHz: 1_000_000})
	return m, New(m.Hart())
}

// disarmTimer retracts the level-triggered timer line so a serviced
// trap does not refire on return.
func disarmTimer(m *hart.Machine) {
	m.Bus().Write64(hart.ClintBase+hart.ClintMtimecmpOff, ^uint64(0))
}

func TestDispatcher_ModeTransitions(t *testing.T) {
	_, d := newTestMachine()
	if d.Mode() != Uninstalled {
		t.Fatalf("new dispatcher mode = %v, want %v", d.Mode(), Uninstalled)
	}
	d.InstallDirect()
	if d.Mode() != Direct {
		t.Fatalf("mode after InstallDirect = %v, want %v", d.Mode(), Direct)
	}

	_, d2 := newTestMachine()
	d2.InstallVectored()
	if d2.Mode() != Vectored {
		t.Fatalf("mode after InstallVectored = %v, want %v", d2.Mode(), Vectored)
	}
}

func TestEnable_BeforeInstallPanics(t *testing.T) {
	_, d := newTestMachine()
	defer func() {
		if recover() == nil {
			t.Fatal("Enable before install did not panic")
		}
	}()
	d.Enable(csr.MIE_MTIE)
}

func TestDispatcher_DirectTimerRouting(t *testing.T) {
	m, d := newTestMachine()
	h := m.Hart()

	fired := 0
	d.OnTimer(func() {
		fired++
		disarmTimer(m)
	})
	d.InstallDirect()
	d.Enable(csr.MIE_MTIE)
	d.EnableGlobal()

	before := metrics.TrapsTimer.Value()
	m.Bus().Write64(hart.ClintBase+hart.ClintMtimecmpOff, 10)
	m.AdvanceTime(10)
	h.Nop()

	if fired != 1 {
		t.Fatalf("timer handler ran %d times, want 1", fired)
	}
	if got := metrics.TrapsTimer.Value() - before; got != 1 {
		t.Fatalf("trap.timer delta = %d, want 1", got)
	}
}

func TestDispatcher_EcallAdvancesMEPC(t *testing.T) {
	m, d := newTestMachine()
	h := m.Hart()

	handled := 0
	d.OnException(func() { handled++ })
	d.InstallDirect()

	before := metrics.TrapsEcall.Value()
	pc := h.PC()
	h.EnvCall()

	if h.PC() != pc+hart.InstrBytes {
		t.Fatalf("pc after ecall = %#x, want %#x", h.PC(), pc+hart.InstrBytes)
	}
	if handled != 1 {
		t.Fatalf("exception handler ran %d times, want 1", handled)
	}
	if got := metrics.TrapsEcall.Value() - before; got != 1 {
		t.Fatalf("trap.ecall delta = %d, want 1", got)
	}
}

func TestDispatcher_EcallWithoutHandlerStillAdvances(t *testing.T) {
	m, d := newTestMachine()
	h := m.Hart()
	d.InstallDirect()

	// Advancing the saved address is the dispatcher's job, not the
	// handler's; without it the ecall re-executes forever.
	pc := h.PC()
	h.EnvCall()
	if h.PC() != pc+hart.InstrBytes {
		t.Fatalf("pc after ecall = %#x, want %#x", h.PC(), pc+hart.InstrBytes)
	}
}

func TestDispatcher_ExceptionRouting(t *testing.T) {
	m, d := newTestMachine()
	h := m.Hart()

	var seen uint64
	d.OnException(func() { seen = csr.Bind(h).MCAUSE.Read() })
	d.InstallDirect()

	before := metrics.TrapsException.Value()
	h.RaiseOnce(hart.CauseIllegalInsn, 0)

	if seen != hart.CauseIllegalInsn {
		t.Fatalf("exception handler saw mcause %#x, want %#x", seen, hart.CauseIllegalInsn)
	}
	if got := metrics.TrapsException.Value() - before; got != 1 {
		t.Fatalf("trap.exception delta = %d, want 1", got)
	}
}

func TestDispatcher_UnrecognizedInterruptIgnored(t *testing.T) {
	_, d := newTestMachine()
	d.InstallDirect()
	h := d.h

	// Interrupt cause 5 is nothing the routing table knows. The trap
	// must return silently, leaving only the audit counter behind.
	before := metrics.TrapsUnrecognized.Value()
	h.RaiseOnce(hart.CauseInterrupt|5, 0)

	if got := metrics.TrapsUnrecognized.Value() - before; got != 1 {
		t.Fatalf("trap.unrecognized delta = %d, want 1", got)
	}
}

func TestDispatcher_UnrecognizedExceptionIgnored(t *testing.T) {
	_, d := newTestMachine()
	d.InstallDirect()
	h := d.h

	// No exception handler registered: a non-ecall exception falls to
	// the unrecognized variant.
	before := metrics.TrapsUnrecognized.Value()
	h.RaiseOnce(hart.CauseIllegalInsn, 0)

	if got := metrics.TrapsUnrecognized.Value() - before; got != 1 {
		t.Fatalf("trap.unrecognized delta = %d, want 1", got)
	}
}

func TestDispatcher_VectoredDistinctSlots(t *testing.T) {
	m, d := newTestMachine()
	h := m.Hart()
	bus := m.Bus()

	timerHits, externalHits := 0, 0
	d.OnTimer(func() {
		timerHits++
		disarmTimer(m)
	})
	d.OnExternal(func() {
		externalHits++
		// Drain the receive queue to drop the external line.
		for bus.Read8(hart.UARTBase+hart.UARTLsrOff)&hart.LSRDataReady != 0 {
			bus.Read8(hart.UARTBase + hart.UARTRbrOff)
		}
	})
	d.InstallVectored()
	d.Enable(csr.MIE_MTIE | csr.MIE_MEIE)
	d.EnableGlobal()

	// Raise both sources, then open one interrupt window: each cause
	// must land in its own slot, one dispatch apiece.
	bus.Write64(hart.ClintBase+hart.ClintMtimecmpOff, 10)
	m.AdvanceTime(10)
	m.UART().Push('x')
	h.Nop()

	if timerHits != 1 {
		t.Fatalf("timer slot hit %d times, want 1", timerHits)
	}
	if externalHits != 1 {
		t.Fatalf("external slot hit %d times, want 1", externalHits)
	}
}

func TestDispatcher_VectoredExceptionEntersBase(t *testing.T) {
	m, d := newTestMachine()
	h := m.Hart()

	handled := 0
	d.OnException(func() { handled++ })
	d.InstallVectored()

	pc := h.PC()
	h.EnvCall()

	if handled != 1 {
		t.Fatalf("exception handler ran %d times, want 1", handled)
	}
	if h.PC() != pc+hart.InstrBytes {
		t.Fatalf("pc after vectored ecall = %#x, want %#x", h.PC(), pc+hart.InstrBytes)
	}
}

func TestDispatcher_SoftwareRouting(t *testing.T) {
	m, d := newTestMachine()
	h := m.Hart()
	bus := m.Bus()

	fired := 0
	d.OnSoftware(func() {
		fired++
		bus.Write32(hart.ClintBase+hart.ClintMsipOff, 0)
	})
	d.InstallDirect()
	d.Enable(csr.MIE_MSIE)
	d.EnableGlobal()

	bus.Write32(hart.ClintBase+hart.ClintMsipOff, 1)
	h.Nop()

	if fired != 1 {
		t.Fatalf("software handler ran %d times, want 1", fired)
	}
}

func TestDisable_MasksSource(t *testing.T) {
	m, d := newTestMachine()
	h := m.Hart()

	fired := 0
	d.OnTimer(func() {
		fired++
		disarmTimer(m)
	})
	d.InstallDirect()
	d.Enable(csr.MIE_MTIE)
	d.EnableGlobal()
	d.Disable(csr.MIE_MTIE)

	m.Bus().Write64(hart.ClintBase+hart.ClintMtimecmpOff, 10)
	m.AdvanceTime(10)
	h.Nop()

	if fired != 0 {
		t.Fatalf("masked timer dispatched %d times, want 0", fired)
	}
}

func TestMode_String(t *testing.T) {
	tests := []struct {
		mode Mode
		want string
	}{
		{Uninstalled, "uninstalled"},
		{Direct, "direct"},
		{Vectored, "vectored"},
		{Mode(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.want {
			t.Errorf("Mode(%d).String() = %q, want %q", int(tt.mode), got, tt.want)
		}
	}
}
