package nonos

import "github.com/zoobzio/capitan"

// Signal constants for kernel events.
// Signals follow the pattern: <subsystem>.<event>.
const (
	// Task lifecycle signals.
	SignalTaskCreated    capitan.Signal = "task.created"
	SignalTaskDeleted    capitan.Signal = "task.deleted"
	SignalTaskDispatched capitan.Signal = "task.dispatched"
	SignalTaskPended     capitan.Signal = "task.pended"
	SignalTaskFinished   capitan.Signal = "task.finished"

	// Event lifecycle signals.
	SignalEventCreated capitan.Signal = "event.created"
	SignalEventDeleted capitan.Signal = "event.deleted"

	// Semaphore/message box signals.
	SignalSemaphoreSent  capitan.Signal = "semaphore.sent"
	SignalMessageBoxSent capitan.Signal = "messagebox.sent"

	// Delay/idle signals.
	SignalDelayStarted capitan.Signal = "delay.started"
	SignalDelayEnded   capitan.Signal = "delay.ended"
	SignalIdle         capitan.Signal = "scheduler.idle"

	// Heap signals.
	SignalHeapExhausted capitan.Signal = "heap.exhausted"

	// Wait-timeout signals.
	SignalTimeoutArmed capitan.Signal = "event.timeout.armed"
)

// Common field keys using capitan primitive types.
// All keys use primitive types to avoid custom struct serialization.
var (
	FieldPriority     = capitan.NewIntKey("priority")
	FieldTaskCount    = capitan.NewIntKey("task_count")
	FieldReadyCount   = capitan.NewIntKey("ready_count")
	FieldWaitingCount = capitan.NewIntKey("waiting_count")
	FieldTimestamp    = capitan.NewFloat64Key("timestamp")
	FieldErrorCode    = capitan.NewStringKey("error_code")
	FieldEventKind    = capitan.NewStringKey("event_kind")
	FieldTickCount    = capitan.NewFloat64Key("tick_count")
	FieldTimeoutTicks = capitan.NewIntKey("timeout_ticks")
	FieldFreeBytes    = capitan.NewIntKey("free_bytes")
	FieldWaiterCount  = capitan.NewIntKey("waiter_count")
)
