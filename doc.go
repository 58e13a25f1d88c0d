// Package nonos implements a minimal cooperative real-time kernel: a
// priority-ordered task scheduler, tick-based delays and timeouts, and
// semaphore/message-box synchronization, all backed by a single
// first-fit coalescing heap (package kheap).
//
// # Overview
//
// A Manager is one kernel instance. Tasks are created with CreateTask and
// run to completion or suspension by RunReadyTask, which always dispatches
// the lowest-numbered (highest-priority) ready task. A task suspends
// itself by calling WaitTick, WaitSemaphore or WaitMessageBox on the
// *TaskCtx passed to its TaskFunc; unlike the firmware this kernel is
// ported from, where a task's suspend point was a stored code line
// re-entered on the next dispatch, a TaskFunc here runs on its own
// goroutine for its entire lifetime and the Wait* calls block that
// goroutine directly — Go's runtime preserves its stack and locals across
// the suspend for free.
//
// # Core Concepts
//
//   - Manager: task table, event/wait subsystem and scheduler for one
//     kernel instance, constructed with NewManager.
//   - TaskFunc / TaskCtx: a task's entry point and its handle for
//     suspending itself.
//   - Event: a created semaphore or message box, used with
//     SendSemaphore/SendMessageBox and WaitSemaphore/WaitMessageBox.
//   - OnSysTick: the tick source. A host program calls this once per
//     system tick to advance delays and timeouts.
//
// Design philosophy: the task, event, wait and delay operations return an
// ErrorCode rather than an idiomatic Go error, preserving the fixed, closed status-code contract
// the original firmware exposed to its callers. Observability (metrics,
// tracing, structured logging and hooks) is layered on top in
// observability.go and signals.go and never participates in that
// contract.
package nonos
