//go:build windows

package winutil

import (
	"fmt"
	"path/filepath"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modkernel32 = syscall.NewLazyDLL("kernel32.dll")
	modntdll    = syscall.NewLazyDLL("ntdll.dll")

	procSwitchToThread      = modkernel32.NewProc("SwitchToThread")
	procLdrLockLoaderLock   = modntdll.NewProc("LdrLockLoaderLock")
	procLdrUnlockLoaderLock = modntdll.NewProc("LdrUnlockLoaderLock")
)

const (
	moduleHandleExFlagFromAddress = 0x4

	ldrLockLoaderLockTryOnly = 0x2
)

// ProcessDirectory returns the directory of the host executable, with a
// trailing separator.
func ProcessDirectory() (string, error) {
	return moduleDirectory(0)
}

// ModuleDirectory returns the directory containing the given loaded module,
// with a trailing separator.
func ModuleDirectory(module windows.Handle) (string, error) {
	return moduleDirectory(module)
}

func moduleDirectory(module windows.Handle) (string, error) {
	path, err := ModulePath(module)
	if err != nil {
		return "", err
	}
	return EnsureTrailingSeparator(filepath.Dir(path)), nil
}

// ModulePath returns the full file path of the given loaded module. A zero
// handle means the host executable.
func ModulePath(module windows.Handle) (string, error) {
	var buf [windows.MAX_PATH]uint16
	n, err := windows.GetModuleFileName(module, &buf[0], uint32(len(buf)))
	if err != nil {
		return "", fmt.Errorf("GetModuleFileName: %w", err)
	}
	return windows.UTF16ToString(buf[:n]), nil
}

// PinModule bumps the reference count of the module containing addr and
// returns its handle. The module stays loaded until FreeModule releases it.
func PinModule(addr uintptr) (windows.Handle, error) {
	var h windows.Handle
	err := windows.GetModuleHandleEx(
		moduleHandleExFlagFromAddress,
		(*uint16)(unsafe.Pointer(addr)),
		&h,
	)
	if err != nil {
		return 0, fmt.Errorf("GetModuleHandleEx: %w", err)
	}
	return h, nil
}

// FreeModule drops one reference on a pinned module.
func FreeModule(module windows.Handle) error {
	return windows.FreeLibrary(module)
}

// SwitchToThread yields the remainder of the current time slice.
func SwitchToThread() {
	procSwitchToThread.Call()
}

// LoaderLockHeld probes whether another thread currently holds the loader
// lock. Used to decide whether module enumeration is safe on the crash path.
func LoaderLockHeld() bool {
	var cookie uintptr
	ret, _, _ := procLdrLockLoaderLock.Call(
		ldrLockLoaderLockTryOnly,
		0,
		uintptr(unsafe.Pointer(&cookie)),
	)
	if ret != 0 {
		return true
	}
	if cookie == 0 {
		return true
	}
	procLdrUnlockLoaderLock.Call(0, cookie)
	return false
}

// Event wraps a native auto-reset event object.
type Event struct {
	handle windows.Handle
}

// NewEvent creates an unsignaled auto-reset event.
func NewEvent() (*Event, error) {
	h, err := windows.CreateEvent(nil, 0, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("CreateEvent: %w", err)
	}
	return &Event{handle: h}, nil
}

// Set signals the event, releasing one waiter.
func (e *Event) Set() error {
	return windows.SetEvent(e.handle)
}

// Wait blocks until the event is signaled or the timeout expires. A negative
// timeout waits forever. Returns true if the event was signaled.
func (e *Event) Wait(timeout time.Duration) (bool, error) {
	ms := uint32(windows.INFINITE)
	if timeout >= 0 {
		ms = uint32(timeout / time.Millisecond)
	}
	ret, err := windows.WaitForSingleObject(e.handle, ms)
	switch ret {
	case windows.WAIT_OBJECT_0:
		return true, nil
	case uint32(windows.WAIT_TIMEOUT):
		return false, nil
	}
	return false, fmt.Errorf("WaitForSingleObject: %w", err)
}

// Close releases the event handle.
func (e *Event) Close() error {
	return windows.CloseHandle(e.handle)
}
