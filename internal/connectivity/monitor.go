package connectivity

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultSignal is the signal name used by Report.
const DefaultSignal = "platform"

// Monitor tracks the online state derived from one or more named signals.
//
// Thread-safety: all methods are safe for concurrent use. Transition
// callbacks run synchronously, in subscription order, on the goroutine whose
// report caused the edge; they must not call Report or ReportSignal.
type Monitor struct {
	mu       sync.Mutex
	signals  map[string]bool
	expected []string
	online   bool
	subs     []subscription
	nextID   int

	// deliver serializes reports so callbacks observe edges in order.
	deliver sync.Mutex
}

type subscription struct {
	id int
	fn func(online bool)
}

// NewMonitor returns an Offline monitor expecting the named signals.
// With no names it expects DefaultSignal.
func NewMonitor(signals ...string) *Monitor {
	m := &Monitor{signals: make(map[string]bool)}
	if len(signals) == 0 {
		signals = []string{DefaultSignal}
	}
	for _, name := range signals {
		m.expect(name)
	}
	return m
}

// Expect adds a signal that must report true before the monitor goes Online.
// Adding a signal while Online takes the monitor Offline until it reports.
func (m *Monitor) Expect(name string) {
	m.deliver.Lock()
	defer m.deliver.Unlock()

	m.mu.Lock()
	m.expect(name)
	changed, subs := m.recompute()
	m.mu.Unlock()

	m.notify(changed, subs)
}

func (m *Monitor) expect(name string) {
	if !slices.Contains(m.expected, name) {
		m.expected = append(m.expected, name)
	}
}

// IsOnline returns the current best-known state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Signals returns a copy of the last reported value of every signal.
func (m *Monitor) Signals() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.expected))
	for _, name := range m.expected {
		out[name] = m.signals[name]
	}
	return out
}

// Report sets DefaultSignal.
func (m *Monitor) Report(online bool) {
	m.ReportSignal(DefaultSignal, online)
}

// ReportSignal records the value of one signal. A report that does not change
// the overall state fires no event. Unknown signal names become expected.
func (m *Monitor) ReportSignal(name string, online bool) {
	m.deliver.Lock()
	defer m.deliver.Unlock()

	m.mu.Lock()
	m.expect(name)
	m.signals[name] = online
	changed, subs := m.recompute()
	m.mu.Unlock()

	m.notify(changed, subs)
}

// OnTransition subscribes fn to Offline->Online and Online->Offline edges.
// The returned function unsubscribes; it is safe to call more than once.
func (m *Monitor) OnTransition(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, subscription{id: id, fn: fn})

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.subs = slices.DeleteFunc(m.subs, func(s subscription) bool { return s.id == id })
	}
}

// Run starts every source and feeds their reports into the monitor until ctx
// ends. Source names become expected signals before any source starts.
// A source that returns an error is logged and its signal is left as last
// reported; the other sources keep running.
func (m *Monitor) Run(ctx context.Context, sources ...Source) error {
	for _, src := range sources {
		m.Expect(src.Name())
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		g.Go(func() error {
			name := src.Name()
			err := src.Run(ctx, func(online bool) {
				m.ReportSignal(name, online)
			})
			if err != nil && ctx.Err() == nil {
				slog.Warn("connectivity source stopped", "source", name, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Refresh reads every Checker among sources once and reports its value.
// Sources that cannot be checked are left as last reported.
func (m *Monitor) Refresh(ctx context.Context, sources ...Source) {
	for _, src := range sources {
		c, ok := src.(Checker)
		if !ok {
			m.Expect(src.Name())
			continue
		}
		m.ReportSignal(c.Name(), c.Check(ctx))
	}
}

// recompute derives the overall state. Caller holds mu. Returns whether the
// state flipped and, if so, the subscribers to notify.
func (m *Monitor) recompute() (bool, []subscription) {
	online := len(m.expected) > 0
	for _, name := range m.expected {
		if !m.signals[name] {
			online = false
			break
		}
	}
	if online == m.online {
		return false, nil
	}
	m.online = online
	return true, slices.Clone(m.subs)
}

func (m *Monitor) notify(changed bool, subs []subscription) {
	if !changed {
		return
	}
	online := m.IsOnline()
	slog.Info("connectivity changed", "online", online)
	for _, s := range subs {
		s.fn(online)
	}
}
