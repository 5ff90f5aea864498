// Package detour wraps the transactional binary-patch primitive behind a
// typed Hook object. One Hook pairs a single patched address with its
// replacement and the captured original entry point.
package detour

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hydrahook/hydrahook/internal/logging"
)

// Install failures, distinguished so callers can log precise causes.
var (
	// ErrTargetTooSmall means the target function body is shorter than the
	// patch the backend needs to write.
	ErrTargetTooSmall = errors.New("target function too small to patch")

	// ErrExternallyPatched means the bytes at the target no longer match
	// what the backend wrote, typically another hooking library got there.
	ErrExternallyPatched = errors.New("target already patched externally")

	// ErrNoMemory means trampoline or bookkeeping allocation failed.
	ErrNoMemory = errors.New("insufficient memory for patch")

	// ErrNoTransaction means an attach or detach was attempted with no
	// transaction open.
	ErrNoTransaction = errors.New("no pending patch transaction")

	// ErrNotApplied means Remove was called on a hook that is not installed.
	ErrNotApplied = errors.New("hook is not applied")

	// ErrAlreadyApplied means Apply was called on an installed hook.
	ErrAlreadyApplied = errors.New("hook is already applied")
)

// InstallError wraps a backend failure with the address being patched.
type InstallError struct {
	Target uintptr
	Cause  error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("patch at 0x%X failed: %v", e.Target, e.Cause)
}

func (e *InstallError) Unwrap() error { return e.Cause }

// Patcher is the process-global transactional patch engine. Implementations
// must synchronize all other threads during Commit so no thread is
// mid-instruction inside a patched region. Only one transaction may be open
// at a time; the Hook layer serializes access.
type Patcher interface {
	// Begin opens a transaction. Attach and Detach queue operations; nothing
	// touches code until Commit.
	Begin() (Transaction, error)
}

// Transaction batches attach/detach operations into one atomic commit.
type Transaction interface {
	// Attach queues a patch of target. On successful Commit the returned
	// pointer holds the trampoline address for calling the original.
	Attach(target, replacement uintptr) (*uintptr, error)

	// Detach queues removal of a patch previously applied at target.
	Detach(target, replacement, original uintptr) error

	// Commit applies all queued operations. A failure rolls back every
	// operation queued in this transaction; hooks applied by earlier
	// transactions are never disturbed.
	Commit() error

	// Abort discards the queued operations.
	Abort() error
}

// patchMu serializes transactions. The underlying mechanism is process
// global, so concurrent Apply/Remove from different hooks must not overlap.
var patchMu sync.Mutex

// Hook is one installed (or installable) patch. Zero value is unusable; use
// New. Not safe for concurrent Apply/Remove; Orig and Applied are atomic
// because detours on host threads read them while the patch is live.
type Hook struct {
	patcher     Patcher
	target      uintptr
	replacement uintptr
	orig        atomic.Uintptr
	applied     atomic.Bool
}

// New returns an idle hook bound to the given patch engine.
func New(p Patcher) *Hook {
	return &Hook{patcher: p}
}

// Apply opens a transaction, attaches replacement at target, and commits.
func (h *Hook) Apply(target, replacement uintptr) error {
	if h.applied.Load() {
		return ErrAlreadyApplied
	}

	patchMu.Lock()
	defer patchMu.Unlock()

	txn, err := h.patcher.Begin()
	if err != nil {
		return &InstallError{Target: target, Cause: err}
	}
	origSlot, err := txn.Attach(target, replacement)
	if err != nil {
		txn.Abort()
		return &InstallError{Target: target, Cause: err}
	}
	if err := txn.Commit(); err != nil {
		return &InstallError{Target: target, Cause: err}
	}

	h.target = target
	h.replacement = replacement
	h.orig.Store(*origSlot)
	h.applied.Store(true)
	return nil
}

// Remove detaches the patch and restores the original bytes.
func (h *Hook) Remove() error {
	if !h.applied.Load() {
		return ErrNotApplied
	}

	patchMu.Lock()
	defer patchMu.Unlock()

	txn, err := h.patcher.Begin()
	if err != nil {
		return &InstallError{Target: h.target, Cause: err}
	}
	if err := txn.Detach(h.target, h.replacement, h.orig.Load()); err != nil {
		txn.Abort()
		return &InstallError{Target: h.target, Cause: err}
	}
	if err := txn.Commit(); err != nil {
		return &InstallError{Target: h.target, Cause: err}
	}

	h.applied.Store(false)
	h.orig.Store(0)
	return nil
}

// RemoveQuiet is the best-effort variant for contexts where failure must not
// propagate, such as under the loader lock. Returns whether removal
// succeeded; an applied hook stays marked applied on failure.
func (h *Hook) RemoveQuiet() bool {
	if !h.applied.Load() {
		return true
	}
	if err := h.Remove(); err != nil {
		logging.L("detour").Warn("best-effort hook removal failed",
			"target", fmt.Sprintf("0x%X", h.target), logging.KeyError, err)
		return false
	}
	return true
}

// Orig returns the trampoline address for invoking the unpatched function.
// Valid only while the hook is applied. Hot path; performs no locking.
func (h *Hook) Orig() uintptr {
	return h.orig.Load()
}

// Applied reports whether the patch is currently installed.
func (h *Hook) Applied() bool {
	return h.applied.Load()
}

// Target returns the patched address, zero if never applied.
func (h *Hook) Target() uintptr {
	return h.target
}
