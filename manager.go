package nonos

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"

	"github.com/betterRunner/NonPreemptive-OS/kheap"
)

// DefaultMaxTasks is the default task table capacity, mirroring the
// original firmware's NOS_MAX_TASKNUM.
const DefaultMaxTasks = 10

// tcbFootprint is the number of heap bytes a task's bookkeeping consumes.
// It has no Go struct mapped onto it; it exists purely so CreateTask
// exercises the same capacity/fragmentation contract the heap promises,
// the way the original's Mem_calloc(sizeof(struct NOS_Tcb_t)) did.
const tcbFootprint = 64

// TaskFunc is a task's entry point. Unlike the original's NOS_Task, which
// was re-entered on every dispatch and jumped back into the middle of
// itself via a stored code line, a TaskFunc runs on its own goroutine and
// is called exactly once per task; its calls to WaitTick/WaitSemaphore/
// WaitMessageBox on the TaskCtx block that goroutine until the scheduler
// redispatches it, with Go's own stack and locals preserved across the
// block. A TaskFunc that returns at all (rather than looping with
// periodic waits) leaves its task parked in the waiting region with no
// wake source, exactly as the original leaves a non-pending task's TCB in
// the array's waiting partition after NOS_runReadyTask's trailing
// pushTaskBackToArray.
type TaskFunc func(ctx *TaskCtx, user any) ErrorCode

type tcbState int

const (
	tcbReady tcbState = iota
	tcbWaiting
	tcbDone
)

type yieldMsg struct {
	pended   bool
	finished bool
	status   ErrorCode
}

type tcb struct {
	prio          int
	cpuUsageRatio uint8
	tickCnt       int
	tickToWait    int
	evtWait       *Event
	heapPtr       kheap.Ptr

	state    tcbState
	finished bool
	status   ErrorCode

	resumeCh  chan struct{}
	yieldCh   chan yieldMsg
	cancelled bool
}

// Manager is one kernel instance: a fixed-capacity priority task table, the
// event/wait subsystem and the scheduler, all backed by one kheap.Allocator.
// It is the Go analogue of struct NOS_InnerMgr_t, but explicitly
// constructed rather than a lazily-initialized package-level singleton —
// tests construct as many independent kernels as they need.
type Manager struct {
	mu sync.Mutex

	maxTasks int
	ready    []*tcb
	waiting  []*tcb
	current  *tcb

	tickCount     uint64
	intNested     int
	running       bool
	pendingDelay  bool
	delayTicks    int
	deferredWakes []*tcb

	heap *kheap.Allocator

	clock        clockz.Clock
	metrics      *metricz.Registry
	tracer       *tracez.Tracer
	wakeHooks    *hookz.Hooks[WakeEvent]
	timeoutHooks *hookz.Hooks[TimeoutFiredEvent]
	oomHooks     *hookz.Hooks[OOMEvent]
	closeOnce    sync.Once
}

// NewManager constructs a kernel instance with its own backing heap of
// poolSize bytes. maxTasks of 0 defaults to DefaultMaxTasks.
func NewManager(poolSize int, maxTasks int) (*Manager, error) {
	if maxTasks <= 0 {
		maxTasks = DefaultMaxTasks
	}
	h, err := kheap.Init(poolSize, 0)
	if err != nil {
		return nil, err
	}
	return &Manager{
		maxTasks:     maxTasks,
		heap:         h,
		metrics:      newMetrics(),
		tracer:       tracez.New(),
		wakeHooks:    hookz.New[WakeEvent](),
		timeoutHooks: hookz.New[TimeoutFiredEvent](),
		oomHooks:     hookz.New[OOMEvent](),
	}, nil
}

func (m *Manager) updateGauges() {
	m.metrics.Gauge(MetricReadyTasks).Set(float64(len(m.ready)))
	m.metrics.Gauge(MetricWaitingTasks).Set(float64(len(m.waiting)))
	m.metrics.Gauge(MetricHeapFreeBytes).Set(float64(m.heap.FreeSum()))
	m.metrics.Gauge(MetricDeferredWakes).Set(float64(len(m.deferredWakes)))
}

// siftUp restores the min-heap property for an element just appended at
// the tail, walking toward the root. Mirrors nos_adjustTaskArrayFromTail.
func siftUp(arr []*tcb, i int) {
	for i > 0 {
		parent := (i - 1) >> 1
		if arr[parent].prio <= arr[i].prio {
			break
		}
		arr[parent], arr[i] = arr[i], arr[parent]
		i = parent
	}
}

// siftDown restores the min-heap property for the element at i, walking
// toward the leaves. Mirrors nos_adjustTaskArrayFromHead, expressed as a
// single descent from the affected index rather than a full-array re-sift,
// since a plain Go slice lets us pop/push without the combined
// ready+waiting array layout the original needed.
func siftDown(arr []*tcb, i int) {
	n := len(arr)
	for {
		left := 2*i + 1
		if left >= n {
			return
		}
		min := i
		if arr[left].prio < arr[min].prio {
			min = left
		}
		if right := left + 1; right < n && arr[right].prio < arr[min].prio {
			min = right
		}
		if min == i {
			return
		}
		arr[i], arr[min] = arr[min], arr[i]
		i = min
	}
}

func indexOfTcb(arr []*tcb, t *tcb) int {
	for i, v := range arr {
		if v == t {
			return i
		}
	}
	return -1
}

func indexOfPriority(arr []*tcb, prio int) int {
	for i, v := range arr {
		if v.prio == prio {
			return i
		}
	}
	return -1
}

// wakeupTask moves t from the waiting region into the ready heap. A no-op
// if t is already ready or already the current task. Mirrors
// nos_wakeupTask's nInx >= nTaskRdy guard against waking an already-ready
// task twice.
func (m *Manager) wakeupTask(t *tcb) {
	if t.state != tcbWaiting {
		return
	}
	idx := indexOfTcb(m.waiting, t)
	if idx < 0 {
		return
	}
	last := len(m.waiting) - 1
	m.waiting[idx] = m.waiting[last]
	m.waiting = m.waiting[:last]

	t.state = tcbReady
	m.ready = append(m.ready, t)
	siftUp(m.ready, len(m.ready)-1)
}

// runWakeupTask wakes t immediately, or — if NOS_delayTick's busy-loop is
// currently suspending the scheduler — defers the wake until the delay
// completes, deduping against tasks already queued for that deferred wake.
// Mirrors nos_runWakeupTask.
func (m *Manager) runWakeupTask(t *tcb, reason string) {
	if !m.pendingDelay {
		m.wakeupTask(t)
		m.emitWake(t.prio, reason)
		return
	}
	for _, d := range m.deferredWakes {
		if d == t {
			return
		}
	}
	m.deferredWakes = append(m.deferredWakes, t)
}

// moveCurrentToWaiting parks the current task in the waiting region. It is
// idempotent: a task that already moved itself (inside WaitTick/waitEvent,
// under the same lock, before suspending) leaves current == nil, so the
// scheduler's own trailing call after a normal return is a no-op — exactly
// the pCurTcb != NULL guard in __nos_pushTaskBackToArray.
func (m *Manager) moveCurrentToWaiting(t *tcb) {
	if m.current == nil {
		return
	}
	t.state = tcbWaiting
	m.waiting = append(m.waiting, t)
	m.current = nil
}

// CreateTask registers a new task at the given priority (0 is highest) and
// starts its goroutine parked until the scheduler first dispatches it. The
// task is immediately placed in the ready heap, exactly as
// NOS_createTask does.
func (m *Manager) CreateTask(fn TaskFunc, user any, prio int) ErrorCode {
	if fn == nil {
		return ErrNullTaskFunc
	}
	if prio < 0 || prio >= m.maxTasks {
		return ErrWrongPrio
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.intNested > 0 {
		return ErrInvalidOper
	}

	if len(m.ready)+len(m.waiting) >= m.maxTasks {
		return ErrFullTaskList
	}

	ptr, err := m.heap.Malloc(tcbFootprint)
	if err != nil {
		m.emitOOM(tcbFootprint)
		return ErrNullMemory
	}

	t := &tcb{
		prio:     prio,
		heapPtr:  ptr,
		state:    tcbReady,
		resumeCh: make(chan struct{}),
		yieldCh:  make(chan yieldMsg),
	}
	ctx := &TaskCtx{mgr: m, tcb: t}

	go func() {
		<-t.resumeCh
		if t.cancelled {
			runtime.Goexit()
		}
		status := fn(ctx, user)
		t.yieldCh <- yieldMsg{finished: true, status: status}
	}()

	m.ready = append(m.ready, t)
	siftUp(m.ready, len(m.ready)-1)
	m.updateGauges()

	capitan.Info(context.Background(), SignalTaskCreated,
		FieldPriority.Field(prio),
		FieldTaskCount.Field(len(m.ready)+len(m.waiting)),
	)
	return ErrNone
}

// DeleteTask removes the task at the given priority from the table. It
// cannot be called from within an ISR (OnSysTick) or by the task deleting
// itself, matching NOS_deleteTask's two InvalidOper guards. The deleted
// task's goroutine is released via a closed resumeCh so it never leaks.
func (m *Manager) DeleteTask(prio int) ErrorCode {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.intNested > 0 {
		return ErrInvalidOper
	}
	if m.current != nil && m.current.prio == prio {
		return ErrInvalidOper
	}

	if idx := indexOfPriority(m.ready, prio); idx >= 0 {
		t := m.ready[idx]
		last := len(m.ready) - 1
		m.ready[idx] = m.ready[last]
		m.ready = m.ready[:last]
		if idx < len(m.ready) {
			siftDown(m.ready, idx)
		}
		m.removeTask(t)
	} else if idx := indexOfPriority(m.waiting, prio); idx >= 0 {
		t := m.waiting[idx]
		last := len(m.waiting) - 1
		m.waiting[idx] = m.waiting[last]
		m.waiting = m.waiting[:last]
		m.removeTask(t)
	} else {
		return ErrWrongPrio
	}

	m.updateGauges()
	capitan.Info(context.Background(), SignalTaskDeleted, FieldPriority.Field(prio))
	return ErrNone
}

func (m *Manager) removeTask(t *tcb) {
	t.cancelled = true
	close(t.resumeCh)
	_ = m.heap.Free(t.heapPtr) //nolint:errcheck
}

// TaskStatus reports whether the task at prio has run its TaskFunc to
// completion, and with what status, for tests and diagnostics that need
// to observe the "finished but never reaped" parked state described on
// TaskFunc.
func (m *Manager) TaskStatus(prio int) (finished bool, status ErrorCode, found bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range append(append([]*tcb{}, m.ready...), m.waiting...) {
		if t.prio == prio {
			return t.finished, t.status, true
		}
	}
	if m.current != nil && m.current.prio == prio {
		return m.current.finished, m.current.status, true
	}
	return false, ErrNone, false
}

// ReadyCount and WaitingCount expose the task table's two partitions.
func (m *Manager) ReadyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ready)
}

func (m *Manager) WaitingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiting)
}

// TickCount returns the number of ticks OnSysTick has processed.
func (m *Manager) TickCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tickCount
}

// HeapFreeBytes reports the backing allocator's free byte count.
func (m *Manager) HeapFreeBytes() int {
	return m.heap.FreeSum()
}

// CPUUsagePercent reports the task at prio's CPU-usage ratio as last
// computed by OnIdle (100 * task.tick_count / kernel.tick_count), and
// whether a task at that priority was found.
func (m *Manager) CPUUsagePercent(prio int) (pct int, found bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range append(append([]*tcb{}, m.ready...), m.waiting...) {
		if t.prio == prio {
			return int(t.cpuUsageRatio), true
		}
	}
	if m.current != nil && m.current.prio == prio {
		return int(m.current.cpuUsageRatio), true
	}
	return 0, false
}

func nowUnix(clock clockz.Clock) float64 {
	return float64(clock.Now().UnixNano()) / float64(time.Second)
}
