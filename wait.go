package nonos

import "runtime"

// TaskCtx is the handle a running TaskFunc uses to suspend itself. It plays
// the role the original's __NOS_startTask/__NOS_endTask macros played
// inside a task body: the point where control is handed back to the
// scheduler. Here that handoff is a plain channel send/receive instead of
// a stored-code-line switch, so the goroutine's own stack and locals ride
// across the suspend for free.
type TaskCtx struct {
	mgr *Manager
	tcb *tcb
}

// Priority returns the calling task's own priority.
func (c *TaskCtx) Priority() int {
	return c.tcb.prio
}

// WaitTick suspends the calling task for timeout ticks, or forever if
// timeout is negative, or not at all if timeout is zero. Mirrors
// nos_waitTick.
func (c *TaskCtx) WaitTick(timeout int) ErrorCode {
	if timeout == 0 {
		return ErrNone
	}

	m := c.mgr
	m.mu.Lock()
	t := c.tcb
	t.evtWait = nil
	t.tickToWait = timeout
	m.moveCurrentToWaiting(t)
	m.mu.Unlock()

	c.suspend()
	return ErrNone
}

// WaitSemaphore blocks until e has a free unit to consume, or timeout
// ticks elapse (0 = don't wait at all, negative = wait forever). Mirrors
// nos_waitEvt's NOS_EVT_Sem case, including the order nos_waitEvt checks
// things in: b_timeout = nos_isEvtReachTimeout(pEvt) is evaluated first
// and, if true, skips the entire consumption switch for that call — an
// already-fired timeout always wins over a unit that became available in
// the same window.
func (c *TaskCtx) WaitSemaphore(e *Event, timeout int) ErrorCode {
	if e == nil {
		return ErrNullPointer
	}
	if e.kind != EventSemaphore {
		return ErrWrongParm
	}

	m := c.mgr
	for {
		m.mu.Lock()
		if m.checkAndClearTimeout(e, c.tcb.prio) {
			m.mu.Unlock()
			return ErrNone
		}
		if e.semFree > 0 {
			e.semFree--
			m.mu.Unlock()
			return ErrNone
		}
		if timeout == 0 {
			m.mu.Unlock()
			return ErrNullEvt
		}

		t := c.tcb
		t.evtWait = e
		if timeout > 0 {
			t.tickToWait = timeout
			m.renewTimeout(e, t.prio, timeout)
		} else {
			t.tickToWait = 0
		}
		m.moveCurrentToWaiting(t)
		m.mu.Unlock()

		c.suspend()
		// woken: loop around to retry the semaphore, or discover the
		// wake was actually a timeout firing while we slept.
	}
}

// WaitMessageBox blocks until a message arrives on e, or timeout ticks
// elapse. Returns the message (nil on timeout). Mirrors nos_waitEvt's
// NOS_EVT_MsgBox case, including the original's quirk that a timeout
// expiry reports ErrNone rather than a distinct timeout code — the only
// way a caller can tell the two apart is the nil *Message — and the same
// timeout-checked-first ordering WaitSemaphore uses.
func (c *TaskCtx) WaitMessageBox(e *Event, timeout int) (*Message, ErrorCode) {
	if e == nil {
		return nil, ErrNullPointer
	}
	if e.kind != EventMessageBox {
		return nil, ErrWrongParm
	}

	m := c.mgr
	for {
		m.mu.Lock()
		if m.checkAndClearTimeout(e, c.tcb.prio) {
			m.mu.Unlock()
			return nil, ErrNone
		}
		if msg := m.popMessage(e); msg != nil {
			m.mu.Unlock()
			return msg, ErrNone
		}
		if timeout == 0 {
			m.mu.Unlock()
			return nil, ErrNullEvt
		}

		t := c.tcb
		t.evtWait = e
		if timeout > 0 {
			t.tickToWait = timeout
			m.renewTimeout(e, t.prio, timeout)
		} else {
			t.tickToWait = 0
		}
		m.moveCurrentToWaiting(t)
		m.mu.Unlock()

		c.suspend()
	}
}

// popMessage consumes one unit of the most recently sent pending message,
// returning a freshly allocated, independent copy of its payload to this
// caller — mirroring nos_waitEvt's per-waiter Mem_malloc(nLength) +
// memmove, never the sender's own buffer. Once every woken waiter has
// consumed the entry, the kernel's own list-node wrapper is freed via
// m.heap.Free (the LIFO order nos_sendEvt's __nos_pushList / p1stSend walk
// produces: the most recently sent message is the first one delivered).
func (m *Manager) popMessage(e *Event) *Message {
	if len(e.msgQueue) == 0 {
		return nil
	}
	head := e.msgQueue[0]
	head.remaining--

	cp := make([]byte, len(head.payload))
	copy(cp, head.payload)
	msg := &Message{Kind: head.kind, Data: cp}

	if head.remaining <= 0 {
		e.msgQueue = e.msgQueue[1:]
		_ = m.heap.Free(head.heapPtr) //nolint:errcheck
	}
	return msg
}

// suspend hands control back to the scheduler and blocks until
// redispatched. Mirrors the macro pair __NOS_startTask/__NOS_endTask: the
// send reports "I pended" to RunReadyTask, and the receive on resumeCh is
// where this goroutine picks back up exactly where it left off, with all
// of its Go stack and locals intact.
func (c *TaskCtx) suspend() {
	c.tcb.yieldCh <- yieldMsg{pended: true}
	<-c.tcb.resumeCh
	if c.tcb.cancelled {
		runtime.Goexit()
	}
}
