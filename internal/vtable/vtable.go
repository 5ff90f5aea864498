// Package vtable resolves hookable entry-point addresses by spinning up a
// throwaway instance of each render or audio API and reading its COM vtables.
// Vtables are shared across instances of one implementation, so addresses
// read from a scratch device are valid for the host's real objects.
package vtable

import "github.com/hydrahook/hydrahook/pkg/api"

// IDirect3DDevice9 / IDirect3DDevice9Ex vtable indices.
const (
	D3D9Reset     = 16
	D3D9Present   = 17
	D3D9EndScene  = 42
	D3D9PresentEx = 121
	D3D9ResetEx   = 132
)

// IDXGISwapChain family vtable indices, fixed by the COM ABI.
const (
	SwapChainGetDevice      = 7
	SwapChainPresent        = 8
	SwapChainGetBuffer      = 9
	SwapChainGetDesc        = 12
	SwapChainResizeBuffers  = 13
	SwapChainResizeTarget   = 14
	SwapChainPresent1       = 22 // IDXGISwapChain1
	SwapChainResizeBuffers1 = 37 // IDXGISwapChain3

	swapChain1Methods = 29
	swapChain3Methods = 38
)

// IDXGIFactory / ID3D12CommandQueue vtable indices.
const (
	FactoryCreateSwapChain        = 10
	FactoryCreateSwapChainForHwnd = 14
	QueueGetDevice                = 7 // ID3D12DeviceChild
	QueueExecuteCommandLists      = 10
)

// IAudioRenderClient vtable indices.
const (
	AudioGetBuffer     = 3
	AudioReleaseBuffer = 4
)

// D3D9Entries holds resolved IDirect3DDevice9Ex entry points. The Ex fields
// are zero when only a plain (non-Ex) device could be created.
type D3D9Entries struct {
	Present   uintptr
	Reset     uintptr
	EndScene  uintptr
	PresentEx uintptr
	ResetEx   uintptr
}

// DXGIEntries holds resolved swapchain entry points for one of the
// DXGI-based APIs. Present1/ResizeBuffers1 are zero when the runtime's
// swapchain does not extend IDXGISwapChain1/3. The factory and queue fields
// are populated only for D3D12.
type DXGIEntries struct {
	Present        uintptr
	ResizeBuffers  uintptr
	ResizeTarget   uintptr
	Present1       uintptr
	ResizeBuffers1 uintptr

	CreateSwapChain        uintptr
	CreateSwapChainForHwnd uintptr
	ExecuteCommandLists    uintptr
}

// AudioEntries holds resolved IAudioRenderClient entry points.
type AudioEntries struct {
	GetBuffer     uintptr
	ReleaseBuffer uintptr
}

// Source discovers entry points per API family. Each call constructs and
// tears down a scratch instance; expensive, called once per family at hook
// installation.
type Source interface {
	D3D9() (*D3D9Entries, error)
	DXGI(version api.D3DVersion) (*DXGIEntries, error)
	Audio() (*AudioEntries, error)
}

// Prober answers runtime questions about live COM objects the detours see.
// Implementations must be callable from arbitrary host threads.
type Prober interface {
	// DeviceVersion resolves which D3D version backs the given swapchain by
	// probing for ID3D12Device, then ID3D11Device, then ID3D10Device, in
	// that fixed order. The first probe to succeed wins.
	DeviceVersion(swapchain uintptr) (api.D3DVersion, bool)

	// CommandQueue queries obj for ID3D12CommandQueue, returning a
	// referenced pointer on success.
	CommandQueue(obj uintptr) (uintptr, bool)

	// SwapChainDevice returns the referenced device behind a swapchain.
	SwapChainDevice(swapchain uintptr) (uintptr, bool)

	// QueueDevice returns the referenced device a command queue belongs to.
	QueueDevice(queue uintptr) (uintptr, bool)

	// AddRef and Release adjust a COM object's reference count.
	AddRef(obj uintptr)
	Release(obj uintptr)
}
