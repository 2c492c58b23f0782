package metrics

// Pre-defined metrics for the runtime. All metrics live in
// DefaultRegistry so they are globally accessible without passing a
// registry around. Trap handlers in particular have nowhere to thread
// one through.

var (
	// ---- Trap dispatch metrics ----

	// TrapsTimer counts machine-timer interrupts dispatched.
	TrapsTimer = DefaultRegistry.Counter("trap.timer")
	// TrapsSoftware counts machine-software interrupts dispatched.
	TrapsSoftware = DefaultRegistry.Counter("trap.software")
	// TrapsExternal counts machine-external interrupts dispatched.
	TrapsExternal = DefaultRegistry.Counter("trap.external")
	// TrapsEcall counts environment-call exceptions dispatched.
	TrapsEcall = DefaultRegistry.Counter("trap.ecall")
	// TrapsException counts synchronous exceptions other than ecall
	// that reached a registered handler.
	TrapsException = DefaultRegistry.Counter("trap.exception")
	// TrapsUnrecognized counts causes the dispatch policy deliberately
	// ignores. A nonzero value is not an error, it is an audit trail of
	// the silently-unserviced sources.
	TrapsUnrecognized = DefaultRegistry.Counter("trap.unrecognized")

	// ---- Timer driver metrics ----

	// TimerTicks counts periodic timer expirations serviced.
	TimerTicks = DefaultRegistry.Counter("timer.ticks")
	// TimerDeadline tracks the most recently programmed compare value.
	TimerDeadline = DefaultRegistry.Gauge("timer.deadline")

	// ---- Bring-up metrics ----

	// BootCallbacks counts startup-table callbacks executed.
	BootCallbacks = DefaultRegistry.Counter("boot.startup_callbacks")
	// ShutdownCallbacks counts teardown-table callbacks executed.
	ShutdownCallbacks = DefaultRegistry.Counter("boot.teardown_callbacks")

	// ---- Console metrics ----

	// ConsoleRx counts bytes drained from the UART receive buffer.
	ConsoleRx = DefaultRegistry.Counter("console.rx_bytes")
)
