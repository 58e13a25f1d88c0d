package nonos

import (
	"context"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Metrics keys.
const (
	MetricReadyTasks    = metricz.Key("kernel.tasks.ready")
	MetricWaitingTasks  = metricz.Key("kernel.tasks.waiting")
	MetricDispatchTotal = metricz.Key("kernel.dispatch.total")
	MetricHeapFreeBytes = metricz.Key("kernel.heap.free_bytes")
	MetricDeferredWakes = metricz.Key("kernel.delay.deferred_wakes")
)

// Span keys.
const (
	SpanDispatch  = tracez.Key("kernel.dispatch")
	SpanDelayTick = tracez.Key("kernel.delay_tick")
)

// Tags.
const (
	TagPriority = tracez.Tag("priority")
	TagOutcome  = tracez.Tag("outcome")
	TagTicks    = tracez.Tag("ticks")
)

// Hook event keys.
const (
	HookWake    = hookz.Key("kernel.wake")
	HookTimeout = hookz.Key("kernel.timeout")
	HookOOM     = hookz.Key("kernel.oom")
)

// WakeEvent is emitted whenever a task transitions from waiting to ready.
type WakeEvent struct {
	Priority  int
	Reason    string // "semaphore", "message", "timeout", "event-deleted", "deferred"
	Timestamp float64
}

// TimeoutFiredEvent is emitted whenever a task's wait on an event times out.
type TimeoutFiredEvent struct {
	Priority  int
	Timestamp float64
}

// OOMEvent is emitted whenever the backing heap cannot satisfy an
// allocation needed by task or event bookkeeping.
type OOMEvent struct {
	RequestedBytes int
	FreeBytes      int
	Timestamp      float64
}

func newMetrics() *metricz.Registry {
	m := metricz.New()
	m.Gauge(MetricReadyTasks)
	m.Gauge(MetricWaitingTasks)
	m.Counter(MetricDispatchTotal)
	m.Gauge(MetricHeapFreeBytes)
	m.Gauge(MetricDeferredWakes)
	return m
}

// WithClock sets a custom clock, used by tests to get deterministic
// timestamps on observability events. Tick accounting itself is always
// purely logical and unaffected by this clock.
func (m *Manager) WithClock(clock clockz.Clock) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
	return m
}

func (m *Manager) getClock() clockz.Clock {
	if m.clock == nil {
		return clockz.RealClock
	}
	return m.clock
}

// Metrics returns the metrics registry for this kernel instance.
func (m *Manager) Metrics() *metricz.Registry {
	return m.metrics
}

// Tracer returns the tracer for this kernel instance.
func (m *Manager) Tracer() *tracez.Tracer {
	return m.tracer
}

// OnWake registers a handler invoked whenever a waiting task becomes ready.
func (m *Manager) OnWake(handler func(context.Context, WakeEvent) error) error {
	_, err := m.wakeHooks.Hook(HookWake, handler)
	return err
}

// OnTimeout registers a handler invoked whenever a waiting task's timeout
// fires before the event it was waiting for arrived.
func (m *Manager) OnTimeout(handler func(context.Context, TimeoutFiredEvent) error) error {
	_, err := m.timeoutHooks.Hook(HookTimeout, handler)
	return err
}

// OnOOM registers a handler invoked whenever the backing heap cannot
// satisfy an allocation needed by task or event bookkeeping.
func (m *Manager) OnOOM(handler func(context.Context, OOMEvent) error) error {
	_, err := m.oomHooks.Hook(HookOOM, handler)
	return err
}

func (m *Manager) emitWake(prio int, reason string) {
	ts := nowUnix(m.getClock())
	_ = m.wakeHooks.Emit(context.Background(), HookWake, WakeEvent{Priority: prio, Reason: reason, Timestamp: ts}) //nolint:errcheck
}

func (m *Manager) emitTimeout(prio int) {
	ts := nowUnix(m.getClock())
	_ = m.timeoutHooks.Emit(context.Background(), HookTimeout, TimeoutFiredEvent{Priority: prio, Timestamp: ts}) //nolint:errcheck
}

// emitOOM reports a failed heap allocation both as a hookz event (for
// programmatic handlers) and a capitan signal (for structured logs),
// mirroring how other kernel transitions carry both channels.
func (m *Manager) emitOOM(requested int) {
	free := 0
	if m.heap != nil {
		free = m.heap.FreeSum()
	}
	ts := nowUnix(m.getClock())

	capitan.Info(context.Background(), SignalHeapExhausted,
		FieldFreeBytes.Field(free),
		FieldTimestamp.Field(ts),
	)
	_ = m.oomHooks.Emit(context.Background(), HookOOM, OOMEvent{RequestedBytes: requested, FreeBytes: free, Timestamp: ts}) //nolint:errcheck
}

// Close gracefully shuts down this kernel instance's observability
// components. Close is idempotent.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		if m.tracer != nil {
			m.tracer.Close()
		}
		m.wakeHooks.Close()
		m.timeoutHooks.Close()
		m.oomHooks.Close()
	})
	return nil
}
