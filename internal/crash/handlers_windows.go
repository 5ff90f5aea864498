//go:build windows && amd64

package crash

import (
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/hydrahook/hydrahook/internal/logging"
	"github.com/hydrahook/hydrahook/pkg/api"
)

const (
	exceptionExecuteHandler = 1
	exceptionContinueSearch = 0

	// GetModuleHandleEx: from-address lookup without touching the refcount.
	moduleHandleFromAddress       = 0x4
	moduleHandleUnchangedRefcount = 0x2
)

var (
	modkernel32 = syscall.NewLazyDLL("kernel32.dll")
	modmsvcrt   = syscall.NewLazyDLL("msvcrt.dll")

	procSetUnhandledExceptionFilter   = modkernel32.NewProc("SetUnhandledExceptionFilter")
	procAddVectoredContinueHandler    = modkernel32.NewProc("AddVectoredContinueHandler")
	procRemoveVectoredContinueHandler = modkernel32.NewProc("RemoveVectoredContinueHandler")

	procSetInvalidParameterHandler = modmsvcrt.NewProc("_set_invalid_parameter_handler")
	procSetPurecallHandler         = modmsvcrt.NewProc("_set_purecall_handler")
	procSetTerminate               = modmsvcrt.NewProc("?set_terminate@@YAP6AXXZP6AXXZ@Z")
	procAbort                      = modmsvcrt.NewProc("abort")
)

// exceptionRecord mirrors EXCEPTION_RECORD.
type exceptionRecord struct {
	Code        uint32
	Flags       uint32
	Record      uintptr
	Address     uintptr
	NumParams   uint32
	Information [15]uintptr
}

// exceptionPointers mirrors EXCEPTION_POINTERS.
type exceptionPointers struct {
	Record  *exceptionRecord
	Context *windows.CONTEXT
}

// windowsHandlers implements HandlerSet against the real OS handler slots.
type windowsHandlers struct {
	fn func(trigger string, fault *FaultDetail)

	prevFilter           uintptr
	prevInvalidParameter uintptr
	prevPurecall         uintptr
	prevTerminate        uintptr
	vectoredHandle       uintptr
	sehOnce              sync.Once
}

// NewHandlerSet returns the native handler set.
func NewHandlerSet() HandlerSet {
	return &windowsHandlers{}
}

func (h *windowsHandlers) Install(fn func(trigger string, fault *FaultDetail)) {
	h.fn = fn
	log := logging.L("crash")

	filter := syscall.NewCallback(func(exInfo uintptr) uintptr {
		h.report("UnhandledExceptionFilter", exInfo, 0)
		if h.prevFilter != 0 {
			ret, _, _ := syscall.SyscallN(h.prevFilter, exInfo)
			return ret
		}
		return exceptionExecuteHandler
	})
	h.prevFilter, _, _ = procSetUnhandledExceptionFilter.Call(filter)

	if procSetInvalidParameterHandler.Find() == nil {
		cb := syscall.NewCallback(func(expr, fn, file uintptr, line uintptr, reserved uintptr) uintptr {
			h.report("InvalidParameter", 0, CodeInvalidParameter)
			h.abort()
			return 0
		})
		h.prevInvalidParameter, _, _ = procSetInvalidParameterHandler.Call(cb)
	} else {
		log.Warn("invalid-parameter handler slot unavailable in this CRT")
	}

	if procSetPurecallHandler.Find() == nil {
		cb := syscall.NewCallback(func() uintptr {
			h.report("PureVirtualCall", 0, CodePureVirtualCall)
			h.abort()
			return 0
		})
		h.prevPurecall, _, _ = procSetPurecallHandler.Call(cb)
	} else {
		log.Warn("purecall handler slot unavailable in this CRT")
	}

	if procSetTerminate.Find() == nil {
		cb := syscall.NewCallback(func() uintptr {
			h.report("terminate", 0, CodeTerminate)
			h.abort()
			return 0
		})
		h.prevTerminate, _, _ = procSetTerminate.Call(cb)
	} else {
		log.Warn("terminate handler slot unavailable in this CRT")
	}
}

func (h *windowsHandlers) Restore() {
	procSetUnhandledExceptionFilter.Call(h.prevFilter)
	if h.prevInvalidParameter != 0 {
		procSetInvalidParameterHandler.Call(h.prevInvalidParameter)
	}
	if h.prevPurecall != 0 {
		procSetPurecallHandler.Call(h.prevPurecall)
	}
	if h.prevTerminate != 0 {
		procSetTerminate.Call(h.prevTerminate)
	}
	if h.vectoredHandle != 0 {
		procRemoveVectoredContinueHandler.Call(h.vectoredHandle)
		h.vectoredHandle = 0
	}
	h.fn = nil
}

// InstallThreadSEH registers a vectored continue handler, the closest bridge
// to a per-thread SEH translator available without a CRT of our own. It runs
// only after every frame-based handler has declined the exception.
func (h *windowsHandlers) InstallThreadSEH() {
	h.sehOnce.Do(func() {
		cb := syscall.NewCallback(func(exInfo uintptr) uintptr {
			if h.fn != nil && isFatalCode(exInfo) {
				h.report("VectoredContinue", exInfo, 0)
			}
			return exceptionContinueSearch
		})
		h.vectoredHandle, _, _ = procAddVectoredContinueHandler.Call(0, cb)
	})
}

// report bridges an OS exception block (or a synthetic code) into the funnel.
func (h *windowsHandlers) report(trigger string, exInfo uintptr, synthetic uint32) {
	if h.fn == nil {
		return
	}
	fault := &FaultDetail{
		Code:     synthetic,
		ThreadID: windows.GetCurrentThreadId(),
		Native:   exInfo,
	}
	if exInfo != 0 {
		ptrs := (*exceptionPointers)(unsafe.Pointer(exInfo))
		if ptrs.Record != nil {
			fault.Code = ptrs.Record.Code
			fault.Address = ptrs.Record.Address
			fault.Module, fault.ModuleOffset = moduleFromAddress(fault.Address)
		}
		if ptrs.Context != nil {
			fault.Registers = contextRegisters(ptrs.Context)
		}
	}
	h.fn(trigger, fault)
}

func (h *windowsHandlers) abort() {
	if h.prevTerminate != 0 {
		syscall.SyscallN(h.prevTerminate)
	}
	procAbort.Call()
}

func isFatalCode(exInfo uintptr) bool {
	ptrs := (*exceptionPointers)(unsafe.Pointer(exInfo))
	if ptrs.Record == nil {
		return false
	}
	switch ptrs.Record.Code {
	case CodeAccessViolation, CodeStackOverflow, CodeIllegalInstruction,
		CodeIntDivideByZero, CodePrivInstruction, CodeInPageError,
		CodeNoncontinuable, CodeHeapCorruption:
		return true
	}
	return false
}

// moduleFromAddress resolves the module containing addr without changing its
// reference count; safe on the fault path.
func moduleFromAddress(addr uintptr) (string, uintptr) {
	if addr == 0 {
		return "", 0
	}
	var module windows.Handle
	err := windows.GetModuleHandleEx(
		moduleHandleFromAddress|moduleHandleUnchangedRefcount,
		(*uint16)(unsafe.Pointer(addr)),
		&module,
	)
	if err != nil {
		return "", 0
	}
	var buf [windows.MAX_PATH]uint16
	n, err := windows.GetModuleFileName(module, &buf[0], uint32(len(buf)))
	if err != nil {
		return "", addr - uintptr(module)
	}
	return windows.UTF16ToString(buf[:n]), addr - uintptr(module)
}

func contextRegisters(ctx *windows.CONTEXT) []api.Register {
	return []api.Register{
		{Name: "RIP", Value: ctx.Rip},
		{Name: "RSP", Value: ctx.Rsp},
		{Name: "RBP", Value: ctx.Rbp},
		{Name: "RAX", Value: ctx.Rax},
		{Name: "RBX", Value: ctx.Rbx},
		{Name: "RCX", Value: ctx.Rcx},
		{Name: "RDX", Value: ctx.Rdx},
		{Name: "RSI", Value: ctx.Rsi},
		{Name: "RDI", Value: ctx.Rdi},
		{Name: "R8", Value: ctx.R8},
		{Name: "R9", Value: ctx.R9},
		{Name: "R10", Value: ctx.R10},
		{Name: "R11", Value: ctx.R11},
		{Name: "R12", Value: ctx.R12},
		{Name: "R13", Value: ctx.R13},
		{Name: "R14", Value: ctx.R14},
		{Name: "R15", Value: ctx.R15},
	}
}
