package nonos

import "testing"

// TestSignalsInitialized verifies all signals are properly initialized.
// This file tests declaration-only code in signals.go.
func TestSignalsInitialized(t *testing.T) {
	signals := []struct {
		name   string
		signal any
	}{
		{"TaskCreated", SignalTaskCreated},
		{"TaskDeleted", SignalTaskDeleted},
		{"TaskDispatched", SignalTaskDispatched},
		{"TaskPended", SignalTaskPended},
		{"TaskFinished", SignalTaskFinished},
		{"EventCreated", SignalEventCreated},
		{"EventDeleted", SignalEventDeleted},
		{"SemaphoreSent", SignalSemaphoreSent},
		{"MessageBoxSent", SignalMessageBoxSent},
		{"DelayStarted", SignalDelayStarted},
		{"DelayEnded", SignalDelayEnded},
		{"Idle", SignalIdle},
		{"HeapExhausted", SignalHeapExhausted},
		{"TimeoutArmed", SignalTimeoutArmed},
	}

	for _, s := range signals {
		if s.signal == nil {
			t.Errorf("Signal %s is nil", s.name)
		}
	}
}

// TestFieldKeysInitialized verifies all field keys are properly initialized.
func TestFieldKeysInitialized(t *testing.T) {
	fields := []struct {
		name string
		key  any
	}{
		{"Priority", FieldPriority},
		{"TaskCount", FieldTaskCount},
		{"ReadyCount", FieldReadyCount},
		{"WaitingCount", FieldWaitingCount},
		{"Timestamp", FieldTimestamp},
		{"ErrorCode", FieldErrorCode},
		{"EventKind", FieldEventKind},
		{"TickCount", FieldTickCount},
		{"TimeoutTicks", FieldTimeoutTicks},
		{"FreeBytes", FieldFreeBytes},
		{"WaiterCount", FieldWaiterCount},
	}

	for _, f := range fields {
		if f.key == nil {
			t.Errorf("Field key %s is nil", f.name)
		}
	}
}
