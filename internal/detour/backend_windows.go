//go:build windows

package detour

import (
	"bytes"
	"encoding/binary"
	"errors"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/hydrahook/hydrahook/internal/logging"
)

// maxPrologue bounds how many bytes we will relocate into a trampoline.
const maxPrologue = 32

var (
	modkernel32               = syscall.NewLazyDLL("kernel32.dll")
	procFlushInstructionCache = modkernel32.NewProc("FlushInstructionCache")
)

// codePatcher implements Patcher by rewriting function entry points with an
// absolute jump and relocating the displaced prologue into a trampoline.
// Commit suspends every other thread in the process for the duration of the
// byte writes.
type codePatcher struct {
	open bool
}

// NewPatcher returns the native code-patching backend.
func NewPatcher() Patcher {
	return &codePatcher{}
}

func (p *codePatcher) Begin() (Transaction, error) {
	if p.open {
		return nil, errors.New("patch transaction already open")
	}
	p.open = true
	return &codeTxn{patcher: p}, nil
}

type patchOp struct {
	attach      bool
	target      uintptr
	replacement uintptr
	original    uintptr
	origSlot    *uintptr
	saved       []byte
	trampoline  uintptr
}

type codeTxn struct {
	patcher *codePatcher
	ops     []patchOp
	closed  bool
}

func (t *codeTxn) Attach(target, replacement uintptr) (*uintptr, error) {
	if t.closed {
		return nil, ErrNoTransaction
	}
	slot := new(uintptr)
	t.ops = append(t.ops, patchOp{
		attach:      true,
		target:      target,
		replacement: replacement,
		origSlot:    slot,
	})
	return slot, nil
}

func (t *codeTxn) Detach(target, replacement, original uintptr) error {
	if t.closed {
		return ErrNoTransaction
	}
	t.ops = append(t.ops, patchOp{
		target:      target,
		replacement: replacement,
		original:    original,
	})
	return nil
}

func (t *codeTxn) Abort() error {
	if t.closed {
		return ErrNoTransaction
	}
	t.close()
	return nil
}

func (t *codeTxn) close() {
	t.closed = true
	t.patcher.open = false
}

func (t *codeTxn) Commit() error {
	if t.closed {
		return ErrNoTransaction
	}
	defer t.close()

	resume, err := suspendOtherThreads()
	if err != nil {
		logging.L("detour").Warn("thread suspension incomplete", logging.KeyError, err)
	}
	defer resume()

	done := 0
	var commitErr error
	for i := range t.ops {
		op := &t.ops[i]
		if op.attach {
			commitErr = applyAttach(op)
		} else {
			commitErr = applyDetach(op)
		}
		if commitErr != nil {
			break
		}
		done++
	}
	if commitErr == nil {
		return nil
	}

	// Roll back everything this transaction already wrote. Hooks applied by
	// earlier transactions are untouched.
	for i := done - 1; i >= 0; i-- {
		op := &t.ops[i]
		if op.attach {
			undo := patchOp{target: op.target, replacement: op.replacement, original: *op.origSlot}
			if err := applyDetach(&undo); err != nil {
				logging.L("detour").Error("rollback failed, hook left applied",
					"target", op.target, logging.KeyError, err)
			}
		} else {
			redo := patchOp{attach: true, target: op.target, replacement: op.replacement, origSlot: new(uintptr)}
			if err := applyAttach(&redo); err != nil {
				logging.L("detour").Error("rollback failed, hook left removed",
					"target", op.target, logging.KeyError, err)
			}
		}
	}
	return commitErr
}

func applyAttach(op *patchOp) error {
	code := unsafe.Slice((*byte)(unsafe.Pointer(op.target)), maxPrologue)

	n := prologueLen(code, absJumpSize)
	if n == 0 {
		return ErrTargetTooSmall
	}

	tramp, err := allocTrampoline(n + absJumpSize)
	if err != nil {
		return ErrNoMemory
	}

	// Trampoline: displaced prologue, then a jump to the remainder of the
	// original function.
	trampCode := unsafe.Slice((*byte)(unsafe.Pointer(tramp)), n+absJumpSize)
	copy(trampCode, code[:n])
	writeAbsJump(trampCode[n:], op.target+uintptr(n))

	op.saved = append([]byte(nil), code[:absJumpSize]...)
	op.trampoline = tramp

	patch := make([]byte, absJumpSize)
	writeAbsJump(patch, op.replacement)
	if err := writeCode(op.target, patch); err != nil {
		freeTrampoline(tramp)
		return err
	}

	*op.origSlot = tramp

	// Record the saved bytes so detach can restore them later. Guarded by
	// patchMu, which the Hook layer holds across every transaction.
	savedBytes[op.target] = op.saved
	return nil
}

func applyDetach(op *patchOp) error {
	saved, ok := savedBytes[op.target]
	if !ok {
		return ErrNotApplied
	}

	expect := make([]byte, absJumpSize)
	writeAbsJump(expect, op.replacement)
	current := unsafe.Slice((*byte)(unsafe.Pointer(op.target)), absJumpSize)
	if !bytes.Equal(current, expect) {
		return ErrExternallyPatched
	}

	if err := writeCode(op.target, saved); err != nil {
		return err
	}
	delete(savedBytes, op.target)

	if op.original != 0 {
		freeTrampoline(op.original)
	}
	return nil
}

var savedBytes = map[uintptr][]byte{}

func writeAbsJump(dst []byte, to uintptr) {
	dst[0] = 0xFF
	dst[1] = 0x25
	binary.LittleEndian.PutUint32(dst[2:], 0)
	binary.LittleEndian.PutUint64(dst[6:], uint64(to))
}

func writeCode(target uintptr, data []byte) error {
	var oldProtect uint32
	size := uintptr(len(data))
	if err := windows.VirtualProtect(target, size, windows.PAGE_EXECUTE_READWRITE, &oldProtect); err != nil {
		return err
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(target)), len(data)), data)
	var scratch uint32
	windows.VirtualProtect(target, size, oldProtect, &scratch)

	procFlushInstructionCache.Call(
		uintptr(windows.CurrentProcess()),
		target,
		size,
	)
	return nil
}

func allocTrampoline(size int) (uintptr, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size),
		windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
	if err != nil {
		return 0, err
	}
	return addr, nil
}

func freeTrampoline(addr uintptr) {
	windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}

// suspendOtherThreads suspends every thread in the process except the
// caller, returning a resume function. Partial suspension still returns a
// resume covering the threads that were suspended.
func suspendOtherThreads() (func(), error) {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPTHREAD, 0)
	if err != nil {
		return func() {}, err
	}
	defer windows.CloseHandle(snapshot)

	pid := windows.GetCurrentProcessId()
	tid := windows.GetCurrentThreadId()

	var suspended []windows.Handle
	resume := func() {
		for _, h := range suspended {
			windows.ResumeThread(h)
			windows.CloseHandle(h)
		}
	}

	var entry windows.ThreadEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	if err := windows.Thread32First(snapshot, &entry); err != nil {
		return resume, err
	}
	for {
		if entry.OwnerProcessID == pid && entry.ThreadID != tid {
			h, err := windows.OpenThread(windows.THREAD_SUSPEND_RESUME, false, entry.ThreadID)
			if err == nil {
				if _, serr := windows.SuspendThread(h); serr == nil {
					suspended = append(suspended, h)
				} else {
					windows.CloseHandle(h)
				}
			}
		}
		if err := windows.Thread32Next(snapshot, &entry); err != nil {
			break
		}
	}
	return resume, nil
}
