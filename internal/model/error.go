package model

// ErrorCode enumerates the structured error taxonomy carried in a task's
// error envelope.
type ErrorCode string

const (
	CodeUnknownTaskType    ErrorCode = "UNKNOWN_TASK_TYPE"
	CodeNoAgentsAvailable  ErrorCode = "NO_AGENTS_AVAILABLE"
	CodeWorkerFailure      ErrorCode = "WORKER_FAILURE"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeStateStoreError    ErrorCode = "STATE_STORE_ERROR"
	CodeCancelled          ErrorCode = "CANCELLED"
	CodeValidationError    ErrorCode = "VALIDATION_ERROR"
)

// retryable reports the fixed retryability of each error code, per the
// error handling taxonomy.
var retryable = map[ErrorCode]bool{
	CodeUnknownTaskType:   false,
	CodeNoAgentsAvailable: true,
	CodeWorkerFailure:     true,
	CodeTimeout:           true,
	CodeStateStoreError:   true,
	CodeCancelled:         false,
	CodeValidationError:   false,
}

// Error is the structured error envelope attached to a task, stage, or
// dispatch failure. It implements the error interface so it can flow
// through normal Go error handling while still serializing to the
// documented {code, message, retryable} JSON shape.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return string(e.Code) + ": " + e.Message
}

func newError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: retryable[code]}
}

func ErrUnknownTaskType(taskType string) *Error {
	return newError(CodeUnknownTaskType, "unknown task type: "+taskType)
}

func ErrNoAgentsAvailable(capability string) *Error {
	return newError(CodeNoAgentsAvailable, "no healthy agents available for capability: "+capability)
}

func ErrWorkerFailure(message string) *Error {
	return newError(CodeWorkerFailure, message)
}

func ErrTimeout(message string) *Error {
	return newError(CodeTimeout, message)
}

func ErrStateStoreError(message string) *Error {
	return newError(CodeStateStoreError, message)
}

func ErrCancelled(reason string) *Error {
	return newError(CodeCancelled, reason)
}

func ErrValidationError(message string) *Error {
	return newError(CodeValidationError, message)
}
