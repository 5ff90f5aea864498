//go:build windows && amd64

package crash

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"

	"github.com/hydrahook/hydrahook/internal/winutil"
	"golang.org/x/sys/windows"
)

var (
	moddbghelp            = syscall.NewLazyDLL("dbghelp.dll")
	procMiniDumpWriteDump = moddbghelp.NewProc("MiniDumpWriteDump")
)

// minidumpExceptionInformation mirrors MINIDUMP_EXCEPTION_INFORMATION.
type minidumpExceptionInformation struct {
	ThreadID          uint32
	ExceptionPointers uintptr
	ClientPointers    int32
}

// minidumpWriter implements DumpWriter over dbghelp.
type minidumpWriter struct{}

// NewDumpWriter returns the native minidump writer.
func NewDumpWriter() DumpWriter {
	return minidumpWriter{}
}

func (minidumpWriter) Write(path string, flags uint32, fault *FaultDetail) error {
	// MiniDumpWriteDump enumerates loaded modules and deadlocks if the
	// faulting thread crashed inside the loader.
	if winutil.LoaderLockHeld() {
		return errors.New("loader lock held, dump skipped")
	}

	pathW, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return err
	}
	file, err := windows.CreateFile(pathW,
		windows.GENERIC_WRITE, 0, nil,
		windows.CREATE_ALWAYS, windows.FILE_ATTRIBUTE_NORMAL, 0)
	if err != nil {
		return fmt.Errorf("create dump file %s: %w", path, err)
	}
	defer windows.CloseHandle(file)

	var mdeiPtr uintptr
	if fault != nil && fault.Native != 0 {
		mdei := minidumpExceptionInformation{
			ThreadID:          fault.ThreadID,
			ExceptionPointers: fault.Native,
		}
		mdeiPtr = uintptr(unsafe.Pointer(&mdei))
	}

	ret, _, callErr := procMiniDumpWriteDump.Call(
		uintptr(windows.CurrentProcess()),
		uintptr(windows.GetCurrentProcessId()),
		uintptr(file),
		uintptr(flags),
		mdeiPtr,
		0,
		0,
	)
	if ret == 0 {
		return fmt.Errorf("MiniDumpWriteDump: %w", callErr)
	}
	return nil
}
