package nonos

import (
	"context"

	"github.com/zoobzio/capitan"

	"github.com/betterRunner/NonPreemptive-OS/kheap"
)

// EventKind distinguishes the two synchronization primitives the kernel
// supports, mirroring enum NOS_EvtType_e (NOS_EVT_None has no Go
// counterpart: a nil *Event already expresses "no event").
type EventKind int

const (
	EventSemaphore EventKind = iota
	EventMessageBox
)

func (k EventKind) String() string {
	switch k {
	case EventSemaphore:
		return "semaphore"
	case EventMessageBox:
		return "messagebox"
	default:
		return "unknown"
	}
}

// MsgKind tells the message-box machinery who owns a sent payload's
// memory, mirroring enum NOS_Msg_e.
type MsgKind int

const (
	MsgNoFree   MsgKind = iota // sender retains ownership.
	MsgSendFree                // sender frees after all receivers read.
	MsgRecvFree                // last receiver frees the payload on receive.
)

// Message is one receiver's own, independently allocated copy of a sent
// payload, returned by WaitMessageBox. Mirrors the Mem_malloc(nLength) +
// memmove pair nos_waitEvt performs for every waiter — each waiter gets
// its own copy, never a shared pointer to the sender's buffer.
type Message struct {
	Kind MsgKind
	Data []byte
}

// pendingMessage is one entry of a message box's pending-send stack: the
// kernel-owned list node wrapping a sender's payload, tracking how many of
// the tasks it woke still need to consume it before it is discarded.
// Mirrors struct NOS_Evt_MsgBox_t, which is itself Mem_calloc'd at send
// time and Mem_free'd once drained — msgNodeFootprint's heapPtr exercises
// that same allocate/free pair here.
type pendingMessage struct {
	kind      MsgKind
	payload   []byte
	remaining int
	heapPtr   kheap.Ptr
}

// msgNodeFootprint is the heap cost of queuing one pending send, standing
// in for sizeof(struct NOS_Evt_MsgBox_t).
const msgNodeFootprint = 32

// timeoutEntry records whether prio's wait on this event has timed out.
// The actual tick countdown lives on the tcb itself (OnSysTick decrements
// tcb.tickToWait); this entry only remembers the fact of expiry until
// checkAndClearTimeout consumes it. Mirrors struct NOS_Evt_Timeout_t,
// Mem_calloc'd by nos_renewEvtTimeoutList and Mem_free'd once observed or
// on event teardown.
type timeoutEntry struct {
	isTimeout bool
	heapPtr   kheap.Ptr
}

// timeoutEntryFootprint is the heap cost of arming one timeout element,
// standing in for sizeof(struct NOS_Evt_Timeout_t).
const timeoutEntryFootprint = 16

// Event is a created semaphore or message box, together with the set of
// tasks currently timing out their wait on it. Unlike NOS_createEvt's
// struct NOS_Evt_t **pEvtAddr convention (which nils the caller's own
// pointer variable on delete), CreateEvent/DeleteEvent here just return
// and accept a *Event: a Go caller holding that pointer can clear its own
// variable itself, and threading a **Event through is not how Go code
// expresses "output parameter." See DESIGN.md's Open Questions.
type Event struct {
	kind    EventKind
	heapPtr kheap.Ptr

	semFree uint8

	msgQueue []*pendingMessage

	timeouts map[int]*timeoutEntry
}

const eventFootprint = 48

// CreateEvent allocates a new event of the given kind. For EventSemaphore,
// initArg is the initial free count. EventMessageBox ignores initArg.
func (m *Manager) CreateEvent(kind EventKind, initArg int) (*Event, ErrorCode) {
	if kind != EventSemaphore && kind != EventMessageBox {
		return nil, ErrWrongParm
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ptr, err := m.heap.Malloc(eventFootprint)
	if err != nil {
		m.emitOOM(eventFootprint)
		return nil, ErrNullMemory
	}

	e := &Event{
		kind:     kind,
		heapPtr:  ptr,
		timeouts: make(map[int]*timeoutEntry),
	}
	if kind == EventSemaphore {
		if initArg < 0 {
			initArg = 0
		}
		if initArg > 255 {
			initArg = 255
		}
		e.semFree = uint8(initArg)
	}

	m.updateGauges()
	capitan.Info(context.Background(), SignalEventCreated, FieldEventKind.Field(kind.String()))
	return e, ErrNone
}

// DeleteEvent wakes every task currently waiting on e (each sees its wait
// resolve as if the event had simply never arrived — ErrNullEvt, not a
// distinct "deleted" code, since the original draws no such distinction
// either), frees every pending message and timeout-list element without
// applying the recv-free policy (the event is being torn down, not
// drained by a receiver), and releases e's own backing memory. Mirrors
// NOS_deleteEvt, including the message-box queue walk saving next before
// freeing each node — the order the original's release_event got
// backward, causing its use-after-free.
func (m *Manager) DeleteEvent(e *Event) ErrorCode {
	if e == nil {
		return ErrNullPointer
	}

	m.mu.Lock()
	for _, t := range append([]*tcb{}, m.waiting...) {
		if t.evtWait == e {
			m.wakeupTask(t)
			t.evtWait = nil
			m.emitWake(t.prio, "event-deleted")
		}
	}

	for _, node := range e.msgQueue {
		_ = m.heap.Free(node.heapPtr) //nolint:errcheck
	}
	e.msgQueue = nil

	for _, ent := range e.timeouts {
		_ = m.heap.Free(ent.heapPtr) //nolint:errcheck
	}
	e.timeouts = nil

	m.updateGauges()
	m.mu.Unlock()

	_ = m.heap.Free(e.heapPtr) //nolint:errcheck

	capitan.Info(context.Background(), SignalEventDeleted, FieldEventKind.Field(e.kind.String()))
	return ErrNone
}

// SendSemaphore wakes one waiting task (if any) and saturating-increments
// the semaphore's free count, mirroring nos_sendEvt's NOS_EVT_Sem case.
func (m *Manager) SendSemaphore(e *Event) ErrorCode {
	if e == nil {
		return ErrNullPointer
	}
	if e.kind != EventSemaphore {
		return ErrWrongParm
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if t := m.firstWaiterOn(e); t != nil {
		m.runWakeupTask(t, "semaphore")
	}
	if e.semFree < 255 {
		e.semFree++
	}
	m.updateGauges()
	capitan.Info(context.Background(), SignalSemaphoreSent, FieldWaiterCount.Field(len(m.waiting)))
	return ErrNone
}

// SendMessageBox wakes every task currently waiting on e and, if at least
// one was waiting, enqueues exactly one pending message of the given kind
// that can be received once per woken task. The queued message is not
// tied to the tasks it woke: any WaitMessageBox call on e takes a unit
// from the front of the queue, whichever task makes it. kind governs who is responsible for the payload once every
// receiver has read it: MsgNoFree leaves data entirely to the caller,
// MsgSendFree means the caller frees data itself after this call returns,
// and MsgRecvFree means the kernel drops its own reference to data once
// the last receiver has read it (see popMessage in wait.go), the Go
// analogue of the original's Mem_free(pData) on last receive. Mirrors
// nos_sendEvt's NOS_EVT_MsgBox case: a send with no waiters drops the
// message entirely.
func (m *Manager) SendMessageBox(e *Event, kind MsgKind, data []byte) ErrorCode {
	if e == nil {
		return ErrNullPointer
	}
	if e.kind != EventMessageBox {
		return ErrWrongParm
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	waitCount := 0
	for {
		t := m.firstWaiterOn(e)
		if t == nil {
			break
		}
		m.runWakeupTask(t, "message")
		waitCount++
	}

	if waitCount == 0 {
		return ErrNone
	}

	ptr, err := m.heap.Malloc(msgNodeFootprint)
	if err != nil {
		m.emitOOM(msgNodeFootprint)
		return ErrNullMemory
	}

	node := &pendingMessage{kind: kind, payload: data, remaining: waitCount, heapPtr: ptr}
	e.msgQueue = append([]*pendingMessage{node}, e.msgQueue...)
	m.updateGauges()
	capitan.Info(context.Background(), SignalMessageBoxSent, FieldWaiterCount.Field(waitCount))
	return ErrNone
}

// firstWaiterOn returns some task in the waiting region whose evtWait is
// e, or nil. Mirrors nos_getWaittingTaskIndex.
func (m *Manager) firstWaiterOn(e *Event) *tcb {
	for _, t := range m.waiting {
		if t.evtWait == e {
			return t
		}
	}
	return nil
}

// renewTimeout (re)arms prio's timeout flag for a fresh wait, mirroring
// nos_renewEvtTimeoutList's reset-on-rewait behavior. An allocation
// failure here is silent and leaves no timeout armed, exactly as
// nos_renewEvtTimeoutList drops the new element on a failed Mem_calloc
// without surfacing an error to its caller.
func (m *Manager) renewTimeout(e *Event, prio int, ticks int) {
	capitan.Info(context.Background(), SignalTimeoutArmed, FieldPriority.Field(prio), FieldTimeoutTicks.Field(ticks))
	if ent, ok := e.timeouts[prio]; ok {
		ent.isTimeout = false
		return
	}
	ptr, err := m.heap.Malloc(timeoutEntryFootprint)
	if err != nil {
		m.emitOOM(timeoutEntryFootprint)
		return
	}
	e.timeouts[prio] = &timeoutEntry{heapPtr: ptr}
}

// fireTimeout marks prio's wait on this event as having expired. Called
// by OnSysTick when a waiting task's tick countdown reaches zero.
func (e *Event) fireTimeout(prio int) {
	if ent, ok := e.timeouts[prio]; ok {
		ent.isTimeout = true
	}
}

// checkAndClearTimeout reports and consumes prio's timeout flag, freeing
// the timeout-list element's backing memory, mirroring
// nos_isEvtReachTimeout (which deletes and frees the list element once
// observed).
func (m *Manager) checkAndClearTimeout(e *Event, prio int) bool {
	ent, ok := e.timeouts[prio]
	if !ok || !ent.isTimeout {
		return false
	}
	delete(e.timeouts, prio)
	_ = m.heap.Free(ent.heapPtr) //nolint:errcheck
	return true
}
