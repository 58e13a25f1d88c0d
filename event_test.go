package nonos

import (
	"bytes"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(4096, DefaultMaxTasks)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestCreateEventRejectsUnknownKind(t *testing.T) {
	m := newTestManager(t)
	if _, code := m.CreateEvent(EventKind(99), 0); code != ErrWrongParm {
		t.Fatalf("got %v, want ErrWrongParm", code)
	}
}

func TestSemaphoreSendWithoutWaiterAddsOneUnit(t *testing.T) {
	m := newTestManager(t)
	e, code := m.CreateEvent(EventSemaphore, 0)
	if code != ErrNone {
		t.Fatalf("CreateEvent: %v", code)
	}
	if code := m.SendSemaphore(e); code != ErrNone {
		t.Fatalf("SendSemaphore: %v", code)
	}
	if e.semFree != 1 {
		t.Fatalf("semFree = %d, want 1", e.semFree)
	}
}

func TestSemaphoreSaturatesAt255(t *testing.T) {
	m := newTestManager(t)
	e, _ := m.CreateEvent(EventSemaphore, 255)
	m.SendSemaphore(e)
	if e.semFree != 255 {
		t.Fatalf("semFree = %d, want 255 (saturated)", e.semFree)
	}
}

func TestMessageBoxSendWithNoWaitersDropsMessage(t *testing.T) {
	m := newTestManager(t)
	e, _ := m.CreateEvent(EventMessageBox, 0)
	if code := m.SendMessageBox(e, MsgNoFree, []byte("hello")); code != ErrNone {
		t.Fatalf("SendMessageBox: %v", code)
	}
	if len(e.msgQueue) != 0 {
		t.Fatalf("expected no queued message when nobody was waiting, got %d", len(e.msgQueue))
	}
}

func TestDeleteEventFreesHeapBlock(t *testing.T) {
	m := newTestManager(t)
	before := m.HeapFreeBytes()
	e, code := m.CreateEvent(EventSemaphore, 0)
	if code != ErrNone {
		t.Fatalf("CreateEvent: %v", code)
	}
	if m.HeapFreeBytes() == before {
		t.Fatalf("expected heap usage to drop after CreateEvent")
	}
	if code := m.DeleteEvent(e); code != ErrNone {
		t.Fatalf("DeleteEvent: %v", code)
	}
	if m.HeapFreeBytes() != before {
		t.Fatalf("HeapFreeBytes after delete = %d, want %d", m.HeapFreeBytes(), before)
	}
}

func TestDeleteEventRejectsNil(t *testing.T) {
	m := newTestManager(t)
	if code := m.DeleteEvent(nil); code != ErrNullPointer {
		t.Fatalf("got %v, want ErrNullPointer", code)
	}
}

func TestPopMessageIsLIFO(t *testing.T) {
	m := newTestManager(t)
	e := &Event{kind: EventMessageBox, timeouts: make(map[int]*timeoutEntry)}
	e.msgQueue = append([]*pendingMessage{{kind: MsgNoFree, payload: []byte("second"), remaining: 1}}, e.msgQueue...)
	e.msgQueue = append([]*pendingMessage{{kind: MsgNoFree, payload: []byte("first"), remaining: 1}}, e.msgQueue...)

	got := m.popMessage(e)
	if got == nil || string(got.Data) != "first" {
		t.Fatalf("expected most-recently-pushed message first, got %#v", got)
	}
	got = m.popMessage(e)
	if got == nil || string(got.Data) != "second" {
		t.Fatalf("expected second message next, got %#v", got)
	}
	if m.popMessage(e) != nil {
		t.Fatalf("expected nil once queue is drained")
	}
}

// TestPopMessageReturnsIndependentCopies confirms each receiver gets its
// own allocation rather than aliasing the sender's buffer or each other's,
// mirroring nos_waitEvt's per-waiter Mem_malloc(nLength) + memmove.
func TestPopMessageReturnsIndependentCopies(t *testing.T) {
	m := newTestManager(t)
	payload := []byte("shared")
	e := &Event{kind: EventMessageBox, timeouts: make(map[int]*timeoutEntry)}
	e.msgQueue = append(e.msgQueue, &pendingMessage{kind: MsgRecvFree, payload: payload, remaining: 2})

	first := m.popMessage(e)
	second := m.popMessage(e)
	if first == nil || second == nil {
		t.Fatalf("expected two deliveries, got %#v, %#v", first, second)
	}
	if !bytes.Equal(first.Data, second.Data) {
		t.Fatalf("copies should have equal content")
	}
	if &first.Data[0] == &second.Data[0] {
		t.Fatalf("expected independently allocated copies, got the same backing array")
	}
	first.Data[0] = 'X'
	if second.Data[0] == 'X' {
		t.Fatalf("mutating one receiver's copy should not affect the other's")
	}
}

// TestSendMessageBoxRecvFreeFreesHeapOnLastReceive is scenario S4: two
// tasks wait on a message box, a RecvFree send wakes both, and the
// kernel's list-node wrapper is only released once the second (last)
// receiver has consumed its copy.
func TestSendMessageBoxRecvFreeFreesHeapOnLastReceive(t *testing.T) {
	m := newTestManager(t)
	box, code := m.CreateEvent(EventMessageBox, 0)
	if code != ErrNone {
		t.Fatalf("CreateEvent: %v", code)
	}

	var t1, t2 *TaskCtx
	gotT1 := make(chan *Message, 1)
	gotT2 := make(chan *Message, 1)

	code = m.CreateTask(func(ctx *TaskCtx, _ any) ErrorCode {
		t1 = ctx
		msg, code := ctx.WaitMessageBox(box, -1)
		if code != ErrNone {
			return code
		}
		gotT1 <- msg
		return ErrNone
	}, nil, 1)
	if code != ErrNone {
		t.Fatalf("CreateTask t1: %v", code)
	}

	code = m.CreateTask(func(ctx *TaskCtx, _ any) ErrorCode {
		t2 = ctx
		msg, code := ctx.WaitMessageBox(box, -1)
		if code != ErrNone {
			return code
		}
		gotT2 <- msg
		return ErrNone
	}, nil, 2)
	if code != ErrNone {
		t.Fatalf("CreateTask t2: %v", code)
	}
	_ = t1
	_ = t2

	m.RunReadyTask()
	m.RunReadyTask()

	before := m.HeapFreeBytes()
	payload := make([]byte, 8)
	if code := m.SendMessageBox(box, MsgRecvFree, payload); code != ErrNone {
		t.Fatalf("SendMessageBox: %v", code)
	}
	afterSend := m.HeapFreeBytes()
	if afterSend == before {
		t.Fatalf("expected heap usage to drop after queuing the message")
	}

	m.RunReadyTask()
	if m.HeapFreeBytes() != afterSend {
		t.Fatalf("list node should not be freed after only one of two receivers has consumed it")
	}

	m.RunReadyTask()

	select {
	case msg := <-gotT1:
		if len(msg.Data) != len(payload) {
			t.Fatalf("t1 payload length = %d, want %d", len(msg.Data), len(payload))
		}
	default:
		t.Fatalf("t1 never received its message")
	}
	select {
	case msg := <-gotT2:
		if len(msg.Data) != len(payload) {
			t.Fatalf("t2 payload length = %d, want %d", len(msg.Data), len(payload))
		}
	default:
		t.Fatalf("t2 never received its message")
	}

	if m.HeapFreeBytes() != before {
		t.Fatalf("HeapFreeBytes after both receives = %d, want %d (list node freed on last receive)", m.HeapFreeBytes(), before)
	}
}

func TestTimeoutRenewClearsStaleFlag(t *testing.T) {
	m := newTestManager(t)
	e := &Event{timeouts: make(map[int]*timeoutEntry)}
	m.renewTimeout(e, 3, 5)
	e.fireTimeout(3)
	if ent, ok := e.timeouts[3]; !ok || !ent.isTimeout {
		t.Fatalf("expected timeout flag set after fireTimeout")
	}
	m.renewTimeout(e, 3, 5)
	if m.checkAndClearTimeout(e, 3) {
		t.Fatalf("renewTimeout should have cleared the stale flag")
	}
}
