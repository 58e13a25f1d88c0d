package nonos

import (
	"context"
	"fmt"
	"strconv"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/metricz"
)

// RunReadyTask dispatches the highest-priority ready task, runs it until it
// either pends (calls a Wait* method) or returns, and reports which
// priority it ran and whether there was anything to run. Mirrors
// NOS_runReadyTask: pop the ready heap's root, dispatch, and — regardless
// of which of the two outcomes occurred — ensure the task ends up parked
// in the waiting region (moveCurrentToWaiting's idempotency guard makes
// the trailing call here a no-op on the pend path, where the task already
// moved itself).
func (m *Manager) RunReadyTask() (prio int, ok bool) {
	m.mu.Lock()
	if len(m.ready) == 0 {
		m.mu.Unlock()
		return 0, false
	}

	t := m.ready[0]
	last := len(m.ready) - 1
	m.ready[0] = m.ready[last]
	m.ready = m.ready[:last]
	if len(m.ready) > 0 {
		siftDown(m.ready, 0)
	}
	m.current = t
	m.updateGauges()
	m.mu.Unlock()

	ctx, span := m.tracer.StartSpan(context.Background(), SpanDispatch)
	span.SetTag(TagPriority, strconv.Itoa(t.prio))
	capitan.Info(ctx, SignalTaskDispatched, FieldPriority.Field(t.prio))

	t.resumeCh <- struct{}{}
	msg := <-t.yieldCh

	m.metrics.Counter(MetricDispatchTotal).Inc()

	m.mu.Lock()
	if msg.pended {
		span.SetTag(TagOutcome, "pended")
		capitan.Info(ctx, SignalTaskPended, FieldPriority.Field(t.prio))
	} else {
		t.finished = true
		t.status = msg.status
		t.evtWait = nil
		t.tickToWait = 0
		span.SetTag(TagOutcome, "finished")
		capitan.Info(ctx, SignalTaskFinished,
			FieldPriority.Field(t.prio),
			FieldErrorCode.Field(msg.status.Error()),
		)
	}
	m.moveCurrentToWaiting(t)
	m.updateGauges()
	m.mu.Unlock()

	span.Finish()
	return t.prio, true
}

// OnIdle is called by the host loop when RunReadyTask finds nothing ready.
// It mirrors the original's idle hook point (the call site just past
// NOS_runReadyTask returning NOS_ERROR_NotInList in the firmware's main
// loop): recompute every known task's CPU-usage ratio as
// 100 * task.tick_count / kernel.tick_count, publish it as a per-priority
// gauge, then invoke an optional user callback for power-saving or similar.
func (m *Manager) OnIdle(userFn func()) {
	m.mu.Lock()
	tickCount := m.tickCount
	allTasks := append(append([]*tcb{}, m.ready...), m.waiting...)
	if m.current != nil {
		allTasks = append(allTasks, m.current)
	}
	for _, t := range allTasks {
		pct := 0
		if tickCount > 0 {
			pct = int(100 * uint64(t.tickCnt) / tickCount)
			if pct > 255 {
				pct = 255
			}
		}
		t.cpuUsageRatio = uint8(pct)
		m.metrics.Gauge(cpuUsageMetricKey(t.prio)).Set(float64(pct))
	}
	readyCount := len(m.ready)
	waitingCount := len(m.waiting)
	m.mu.Unlock()

	capitan.Info(context.Background(), SignalIdle,
		FieldReadyCount.Field(readyCount),
		FieldWaitingCount.Field(waitingCount),
		FieldTimestamp.Field(nowUnix(m.getClock())),
	)
	if userFn != nil {
		userFn()
	}
}

// cpuUsageMetricKey is the per-task CPU-usage-percent gauge key for
// priority prio, dynamically keyed since the task table's priority range
// is only known at NewManager time.
func cpuUsageMetricKey(prio int) metricz.Key {
	return metricz.Key(fmt.Sprintf("kernel.task.cpu_pct.%d", prio))
}

// DelayTick busy-loops the scheduler for n system ticks, continuing to run
// ready tasks while it waits (OnSysTick must still be driven by the
// caller during the delay) but deferring every event-driven wake that
// arrives mid-delay until the delay completes. Mirrors NOS_delayTick,
// including its rejection from ISR context (forbidden alongside
// create_task/delete_task). The optional userFn runs once per loop
// iteration, standing in for the original's caller-supplied idle/
// background work argument.
func (m *Manager) DelayTick(n int, userFn func()) ErrorCode {
	if n <= 0 {
		return ErrNone
	}

	m.mu.Lock()
	if m.intNested > 0 {
		m.mu.Unlock()
		return ErrInvalidOper
	}
	m.pendingDelay = true
	m.delayTicks = n
	m.mu.Unlock()

	ctx, span := m.tracer.StartSpan(context.Background(), SpanDelayTick)
	span.SetTag(TagTicks, strconv.Itoa(n))
	defer span.Finish()

	capitan.Info(ctx, SignalDelayStarted, FieldTickCount.Field(float64(n)))

	for {
		m.mu.Lock()
		remaining := m.delayTicks
		m.mu.Unlock()
		if remaining <= 0 {
			break
		}
		if userFn != nil {
			userFn()
		}
		if _, ran := m.RunReadyTask(); !ran {
			m.OnIdle(nil)
		}
	}

	m.mu.Lock()
	m.pendingDelay = false
	woken := m.deferredWakes
	m.deferredWakes = nil
	for _, t := range woken {
		m.wakeupTask(t)
	}
	m.updateGauges()
	m.mu.Unlock()

	for _, t := range woken {
		m.emitWake(t.prio, "deferred")
	}
	capitan.Info(ctx, SignalDelayEnded)
	return ErrNone
}

// OnSysTick advances the kernel's tick count by one and resolves every
// pending tick-based wait: the active delay countdown (if any), the
// current task's own usage counter, and every waiting task's timeout
// countdown. Mirrors NOS_onSysTick, including its nested-interrupt
// bracketing (intNested here stands in for the original's ISR nesting
// depth, used elsewhere to reject operations like DeleteTask that cannot
// safely run from within tick processing).
func (m *Manager) OnSysTick() {
	m.mu.Lock()
	m.intNested++
	m.tickCount++

	if m.current != nil {
		m.current.tickCnt++
	}

	if m.pendingDelay && m.delayTicks > 0 {
		m.delayTicks--
	}

	var timedOut []*tcb
	for _, t := range m.waiting {
		if t.tickToWait <= 0 {
			continue
		}
		t.tickToWait--
		if t.tickToWait == 0 {
			timedOut = append(timedOut, t)
		}
	}
	var eventTimeouts []int
	for _, t := range timedOut {
		if t.evtWait != nil {
			t.evtWait.fireTimeout(t.prio)
			eventTimeouts = append(eventTimeouts, t.prio)
		}
		m.runWakeupTask(t, "timeout")
	}
	m.intNested--
	m.mu.Unlock()

	for _, prio := range eventTimeouts {
		m.emitTimeout(prio)
	}
}

