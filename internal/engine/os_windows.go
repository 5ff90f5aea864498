//go:build windows

package engine

import (
	"io"
	"os"
	"syscall"

	"golang.org/x/sys/windows"

	"github.com/hydrahook/hydrahook/internal/crash"
	"github.com/hydrahook/hydrahook/internal/detour"
	"github.com/hydrahook/hydrahook/internal/vtable"
	"github.com/hydrahook/hydrahook/internal/winutil"
)

func init() {
	platformBind = func(fn any) uintptr {
		return syscall.NewCallback(fn)
	}
	platformInvoke = func(fn uintptr, args ...uintptr) uintptr {
		ret, _, _ := syscall.SyscallN(fn, args...)
		return ret
	}
}

// windowsServices backs osServices with the real loader and kernel.
type windowsServices struct{}

func (windowsServices) PinModule(addr uintptr) (uintptr, error) {
	h, err := winutil.PinModule(addr)
	return uintptr(h), err
}

func (windowsServices) FreeModule(handle uintptr) error {
	return winutil.FreeModule(windows.Handle(handle))
}

func (windowsServices) NewEvent() (waitEvent, error) {
	ev, err := winutil.NewEvent()
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (windowsServices) ProcessDirectory() (string, error) {
	return winutil.ProcessDirectory()
}

func (windowsServices) ModuleDirectory(handle uintptr) (string, error) {
	return winutil.ModuleDirectory(windows.Handle(handle))
}

func (windowsServices) TempDir() string {
	return os.TempDir()
}

func (windowsServices) OpenLogFile(path string) (io.Writer, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func (windowsServices) Console() io.Writer {
	return os.Stderr
}

func (windowsServices) Yield() {
	winutil.SwitchToThread()
}

func (windowsServices) Identity() winutil.ProcessIdentity {
	return winutil.CurrentProcessIdentity()
}

func (windowsServices) ProcAddress(dll, proc string) uintptr {
	p := syscall.NewLazyDLL(dll).NewProc(proc)
	if p.Find() != nil {
		return 0
	}
	return p.Addr()
}

// NewNativeRuntime wires a runtime from the real Windows capabilities. One
// per process, constructed at library load.
func NewNativeRuntime() *Runtime {
	guard := crash.New(crash.NewHandlerSet(), crash.NewDumpWriter())
	return NewRuntime(detour.NewPatcher(), vtable.NewSource(), vtable.NewProber(), guard, windowsServices{})
}
