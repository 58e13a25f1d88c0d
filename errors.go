package nonos

// ErrorCode is the kernel's return-code type. The task, event, wait and
// delay operations return one of these instead of an idiomatic Go error
// (NewManager, which only builds a kernel, returns a plain error): the
// kernel is a fixed, closed set of status outcomes a caller is expected to
// switch on, not an open error hierarchy to wrap and inspect with
// errors.Is/errors.As. ErrorCode still implements error so callers that
// want that interop get it for free.
type ErrorCode int

const (
	ErrNone ErrorCode = iota
	ErrNullTcb
	ErrNullPointer
	ErrNullMemory
	ErrNullStack
	ErrNullTaskFunc
	ErrNullEvt
	ErrWrongPrio
	ErrWrongParm
	ErrFullTaskList
	ErrNotInList
	ErrPended
	ErrInvalidOper
)

var errorCodeNames = [...]string{
	ErrNone:         "none",
	ErrNullTcb:      "null tcb",
	ErrNullPointer:  "null pointer",
	ErrNullMemory:   "out of memory",
	ErrNullStack:    "null stack",
	ErrNullTaskFunc: "null task function",
	ErrNullEvt:      "event not ready",
	ErrWrongPrio:    "wrong priority",
	ErrWrongParm:    "wrong parameter",
	ErrFullTaskList: "task list full",
	ErrNotInList:    "not in list",
	ErrPended:       "task pended",
	ErrInvalidOper:  "invalid operation",
}

// Error implements the error interface so ErrorCode composes with
// errors.Is/errors.As, even though kernel internals pass it by value.
func (e ErrorCode) Error() string {
	if int(e) < 0 || int(e) >= len(errorCodeNames) {
		return "unknown error code"
	}
	return errorCodeNames[e]
}
