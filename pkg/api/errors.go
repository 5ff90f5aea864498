package api

import "errors"

// Coarse lifecycle error categories. Every fine-grained error below unwraps
// to exactly one of these, so callers can branch with errors.Is on either
// level.
var (
	ErrInvalidHandle     = errors.New("no engine registered for host module")
	ErrAlreadyExists     = errors.New("engine already registered for host module")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrOSResourceFailure = errors.New("OS resource failure")
)

// LifecycleError is a fine-grained creation/destruction failure carrying its
// coarse category.
type LifecycleError struct {
	category error
	msg      string
}

func (e *LifecycleError) Error() string { return e.msg }

// Unwrap reports the coarse category, making errors.Is(err, ErrOSResourceFailure)
// work for every fine-grained variant.
func (e *LifecycleError) Unwrap() error { return e.category }

func newLifecycleError(category error, msg string) *LifecycleError {
	return &LifecycleError{category: category, msg: msg}
}

// Fine-grained creation failures, one per aborted setup step.
var (
	ErrModuleRefFailed    = newLifecycleError(ErrOSResourceFailure, "host module reference increment failed")
	ErrEventCreateFailed  = newLifecycleError(ErrOSResourceFailure, "cancellation event creation failed")
	ErrThreadCreateFailed = newLifecycleError(ErrOSResourceFailure, "worker thread creation failed")
	ErrLoggerCreateFailed = newLifecycleError(ErrOSResourceFailure, "no logging sink could be constructed")
	ErrContextAllocFailed = newLifecycleError(ErrResourceExhausted, "custom context allocation failed")
)
