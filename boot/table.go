package boot

import (
	"sort"

	"github.com/rvkit/rvkit/log"
	"github.com/rvkit/rvkit/metrics"
)

// Callback is one entry in a startup or teardown table: a named
// function with an ordering priority. Lower priorities run first.
type Callback struct {
	Name     string
	Priority int
	Fn       func()
}

// Table is an ordered set of lifecycle callbacks. Registration order
// only matters between entries that share a priority, where it is
// preserved.
type Table struct {
	entries []Callback
}

// Register appends a callback to the table.
func (t *Table) Register(name string, priority int, fn func()) {
	t.entries = append(t.entries, Callback{Name: name, Priority: priority, Fn: fn})
}

// Len returns the number of registered callbacks.
func (t *Table) Len() int { return len(t.entries) }

// run executes every callback in ascending priority order. The sort is
// stable so equal priorities keep registration order.
func (t *Table) run(logger *log.Logger, phase string, count *metrics.Counter) {
	ordered := make([]Callback, len(t.entries))
	copy(ordered, t.entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	for _, cb := range ordered {
		logger.Debug("running callback", "phase", phase, "name", cb.Name, "priority", cb.Priority)
		cb.Fn()
		count.Inc()
	}
}
