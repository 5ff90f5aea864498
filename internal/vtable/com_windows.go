//go:build windows

package vtable

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"

	"github.com/hydrahook/hydrahook/pkg/api"
)

// Pure-Go COM vtable calling. An interface pointer is a pointer to a pointer
// to its vtable; methods are invoked by index with the object as the
// implicit first argument.

// comCall invokes a COM vtable method at the given index.
func comCall(obj uintptr, vtableIdx int, args ...uintptr) (uintptr, error) {
	fnPtr := vtableEntry(obj, vtableIdx)
	allArgs := make([]uintptr, 0, 1+len(args))
	allArgs = append(allArgs, obj)
	allArgs = append(allArgs, args...)
	ret, _, _ := syscall.SyscallN(fnPtr, allArgs...)
	if int32(ret) < 0 {
		return ret, fmt.Errorf("COM vtable[%d] HRESULT 0x%08X", vtableIdx, uint32(ret))
	}
	return ret, nil
}

// vtableEntry reads the raw function pointer at the given vtable index.
func vtableEntry(obj uintptr, idx int) uintptr {
	vtbl := *(*uintptr)(unsafe.Pointer(obj))
	return *(*uintptr)(unsafe.Pointer(vtbl + uintptr(idx)*unsafe.Sizeof(uintptr(0))))
}

// comAddRef calls IUnknown::AddRef (vtable index 1).
func comAddRef(obj uintptr) {
	if obj != 0 {
		syscall.SyscallN(vtableEntry(obj, 1), obj)
	}
}

// comRelease calls IUnknown::Release (vtable index 2).
func comRelease(obj uintptr) {
	if obj != 0 {
		syscall.SyscallN(vtableEntry(obj, 2), obj)
	}
}

// comQueryInterface calls IUnknown::QueryInterface (vtable index 0).
func comQueryInterface(obj uintptr, iid *ole.GUID) (uintptr, bool) {
	var out uintptr
	ret, _, _ := syscall.SyscallN(vtableEntry(obj, 0), obj,
		uintptr(unsafe.Pointer(iid)), uintptr(unsafe.Pointer(&out)))
	if int32(ret) < 0 {
		return 0, false
	}
	return out, true
}

// Interface and class IDs for the render and audio runtimes.
var (
	iidIUnknown           = ole.NewGUID("{00000000-0000-0000-C000-000000000046}")
	iidID3D10Device       = ole.NewGUID("{9B7E4C0F-342C-4106-A19F-4F2704F689F0}")
	iidID3D11Device       = ole.NewGUID("{DB6F6DDB-AC77-4E88-8253-819DF9BBF140}")
	iidID3D12Device       = ole.NewGUID("{189819F1-1DB6-4B57-BE54-1821339B85F7}")
	iidID3D12CommandQueue = ole.NewGUID("{0EC870A6-5D7E-4C22-8CFC-5BAAE07616ED}")
	iidIDXGIFactory1      = ole.NewGUID("{770AAE78-F26F-4DBA-A829-253C83D1B387}")
	iidIDXGISwapChain1    = ole.NewGUID("{790A45F7-0D42-4876-983A-0A55CFE6F4AA}")
	iidIDXGISwapChain3    = ole.NewGUID("{94D99BDB-F1F8-4AB0-B236-7DA0170EDAB1}")

	clsidMMDeviceEnumerator = ole.NewGUID("{BCDE0395-E52F-467C-8E3D-C4579291692E}")
	iidIMMDeviceEnumerator  = ole.NewGUID("{A95664D2-9614-4F35-A746-DE8DB63617E6}")
	iidIAudioClient         = ole.NewGUID("{1CB9AD4C-DBFA-4C32-B178-C2F568A703B2}")
	iidIAudioRenderClient   = ole.NewGUID("{F294ACFC-3146-4483-A7BF-ADDCA7C260E2}")
)

// comProber implements Prober against live objects.
type comProber struct{}

// NewProber returns the native COM prober.
func NewProber() Prober {
	return comProber{}
}

// probeOrder is the fixed resolution order for shared DXGI entry points.
// Whichever interface the backing device exposes first wins.
var probeOrder = []struct {
	iid     *ole.GUID
	version api.D3DVersion
}{
	{iidID3D12Device, api.D3DVersion12},
	{iidID3D11Device, api.D3DVersion11},
	{iidID3D10Device, api.D3DVersion10},
}

func (comProber) DeviceVersion(swapchain uintptr) (api.D3DVersion, bool) {
	for _, probe := range probeOrder {
		var dev uintptr
		_, err := comCall(swapchain, SwapChainGetDevice,
			uintptr(unsafe.Pointer(probe.iid)), uintptr(unsafe.Pointer(&dev)))
		if err == nil && dev != 0 {
			comRelease(dev)
			return probe.version, true
		}
	}
	return 0, false
}

func (comProber) CommandQueue(obj uintptr) (uintptr, bool) {
	return comQueryInterface(obj, iidID3D12CommandQueue)
}

func (comProber) QueueDevice(queue uintptr) (uintptr, bool) {
	var dev uintptr
	_, err := comCall(queue, QueueGetDevice,
		uintptr(unsafe.Pointer(iidIUnknown)), uintptr(unsafe.Pointer(&dev)))
	if err != nil || dev == 0 {
		return 0, false
	}
	return dev, true
}

func (comProber) SwapChainDevice(swapchain uintptr) (uintptr, bool) {
	var dev uintptr
	_, err := comCall(swapchain, SwapChainGetDevice,
		uintptr(unsafe.Pointer(iidIUnknown)), uintptr(unsafe.Pointer(&dev)))
	if err != nil || dev == 0 {
		return 0, false
	}
	return dev, true
}

func (comProber) AddRef(obj uintptr)  { comAddRef(obj) }
func (comProber) Release(obj uintptr) { comRelease(obj) }
