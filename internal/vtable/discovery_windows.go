//go:build windows

package vtable

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/go-ole/go-ole"

	"github.com/hydrahook/hydrahook/internal/logging"
	"github.com/hydrahook/hydrahook/pkg/api"
)

var (
	d3d9DLL   = syscall.NewLazyDLL("d3d9.dll")
	d3d10DLL  = syscall.NewLazyDLL("d3d10.dll")
	d3d11DLL  = syscall.NewLazyDLL("d3d11.dll")
	d3d12DLL  = syscall.NewLazyDLL("d3d12.dll")
	dxgiDLL   = syscall.NewLazyDLL("dxgi.dll")
	user32DLL = syscall.NewLazyDLL("user32.dll")
	ole32DLL  = syscall.NewLazyDLL("ole32.dll")

	procDirect3DCreate9Ex             = d3d9DLL.NewProc("Direct3DCreate9Ex")
	procDirect3DCreate9               = d3d9DLL.NewProc("Direct3DCreate9")
	procD3D10CreateDeviceAndSwapChain = d3d10DLL.NewProc("D3D10CreateDeviceAndSwapChain")
	procD3D11CreateDeviceAndSwapChain = d3d11DLL.NewProc("D3D11CreateDeviceAndSwapChain")
	procD3D12CreateDevice             = d3d12DLL.NewProc("D3D12CreateDevice")
	procCreateDXGIFactory1            = dxgiDLL.NewProc("CreateDXGIFactory1")

	procCreateWindowExW = user32DLL.NewProc("CreateWindowExW")
	procDestroyWindow   = user32DLL.NewProc("DestroyWindow")

	procCoTaskMemFree = ole32DLL.NewProc("CoTaskMemFree")
)

const (
	d3dSDKVersion   = 32
	d3d10SDKVersion = 29
	d3d11SDKVersion = 7

	d3dAdapterDefault = 0
	d3dDevTypeHAL     = 1
	d3dSwapDiscard    = 1
	d3dFmtUnknown     = 0

	d3dCreateSoftwareVP = 0x20

	d3dDriverTypeHardware = 1
	d3dFeatureLevel11_0   = 0xb000

	dxgiFormatR8G8B8A8    = 28
	dxgiUsageRenderTarget = 0x20
	dxgiSwapEffectDiscard = 0
	dxgiSwapEffectFlip    = 4

	// IDirect3D9 / IDirect3D9Ex
	d3d9CreateDevice   = 16
	d3d9CreateDeviceEx = 20

	// ID3D12Device
	d3d12CreateCommandQueue = 8

	// WASAPI
	eRender                     = 0
	eConsole                    = 0
	clsctxAll                   = 0x17
	shareModeShared             = 0
	mmdeGetDefaultAudioEndpoint = 4
	mmDeviceActivate            = 3
	audioClientInitialize       = 3
	audioClientGetMixFormat     = 8
	audioClientGetService       = 14
)

// d3dPresentParameters matches D3DPRESENT_PARAMETERS.
type d3dPresentParameters struct {
	BackBufferWidth      uint32
	BackBufferHeight     uint32
	BackBufferFormat     uint32
	BackBufferCount      uint32
	MultiSampleType      uint32
	MultiSampleQuality   uint32
	SwapEffect           uint32
	HDeviceWindow        uintptr
	Windowed             int32
	EnableAutoDepth      int32
	AutoDepthFormat      uint32
	Flags                uint32
	FullScreenRefresh    uint32
	PresentationInterval uint32
}

type dxgiRational struct {
	Numerator   uint32
	Denominator uint32
}

// dxgiSwapChainDesc matches DXGI_SWAP_CHAIN_DESC.
type dxgiSwapChainDesc struct {
	BufferWidth      uint32
	BufferHeight     uint32
	RefreshRate      dxgiRational
	Format           uint32
	ScanlineOrdering uint32
	Scaling          uint32
	SampleCount      uint32
	SampleQuality    uint32
	BufferUsage      uint32
	BufferCount      uint32
	OutputWindow     uintptr
	Windowed         int32
	SwapEffect       uint32
	Flags            uint32
}

// d3d12CommandQueueDesc matches D3D12_COMMAND_QUEUE_DESC.
type d3d12CommandQueueDesc struct {
	Type     uint32
	Priority int32
	Flags    uint32
	NodeMask uint32
}

// comSource implements Source by building scratch devices offscreen.
type comSource struct{}

// NewSource returns the native discovery source.
func NewSource() Source {
	return comSource{}
}

// scratchWindow creates an invisible window to satisfy device creation.
func scratchWindow() (uintptr, error) {
	class, _ := syscall.UTF16PtrFromString("STATIC")
	title, _ := syscall.UTF16PtrFromString("hydrahook")
	hwnd, _, err := procCreateWindowExW.Call(
		0,
		uintptr(unsafe.Pointer(class)),
		uintptr(unsafe.Pointer(title)),
		0,    // style
		0, 0, // x, y
		2, 2, // w, h
		0, 0, 0, 0,
	)
	if hwnd == 0 {
		return 0, fmt.Errorf("CreateWindowExW: %w", err)
	}
	return hwnd, nil
}

func (comSource) D3D9() (*D3D9Entries, error) {
	hwnd, err := scratchWindow()
	if err != nil {
		return nil, err
	}
	defer procDestroyWindow.Call(hwnd)

	pp := d3dPresentParameters{
		SwapEffect:       d3dSwapDiscard,
		HDeviceWindow:    hwnd,
		Windowed:         1,
		BackBufferFormat: d3dFmtUnknown,
	}

	var d3d9 uintptr
	hr, _, _ := procDirect3DCreate9Ex.Call(d3dSDKVersion, uintptr(unsafe.Pointer(&d3d9)))
	if int32(hr) >= 0 && d3d9 != 0 {
		defer comRelease(d3d9)

		var device uintptr
		_, err := comCall(d3d9, d3d9CreateDeviceEx,
			d3dAdapterDefault, d3dDevTypeHAL, hwnd, d3dCreateSoftwareVP,
			uintptr(unsafe.Pointer(&pp)), 0, uintptr(unsafe.Pointer(&device)))
		if err != nil {
			return nil, fmt.Errorf("CreateDeviceEx: %w", err)
		}
		defer comRelease(device)

		return &D3D9Entries{
			Present:   vtableEntry(device, D3D9Present),
			Reset:     vtableEntry(device, D3D9Reset),
			EndScene:  vtableEntry(device, D3D9EndScene),
			PresentEx: vtableEntry(device, D3D9PresentEx),
			ResetEx:   vtableEntry(device, D3D9ResetEx),
		}, nil
	}

	// Pre-9Ex runtime. Direct3DCreate9 returns the interface, not an HRESULT.
	logging.L("vtable").Debug("Direct3DCreate9Ex unavailable, falling back to Direct3DCreate9")
	d3d9, _, _ = procDirect3DCreate9.Call(d3dSDKVersion)
	if d3d9 == 0 {
		return nil, fmt.Errorf("Direct3DCreate9 failed")
	}
	defer comRelease(d3d9)

	var device uintptr
	if _, err := comCall(d3d9, d3d9CreateDevice,
		d3dAdapterDefault, d3dDevTypeHAL, hwnd, d3dCreateSoftwareVP,
		uintptr(unsafe.Pointer(&pp)), uintptr(unsafe.Pointer(&device))); err != nil {
		return nil, fmt.Errorf("CreateDevice: %w", err)
	}
	defer comRelease(device)

	return &D3D9Entries{
		Present:  vtableEntry(device, D3D9Present),
		Reset:    vtableEntry(device, D3D9Reset),
		EndScene: vtableEntry(device, D3D9EndScene),
	}, nil
}

func (s comSource) DXGI(version api.D3DVersion) (*DXGIEntries, error) {
	hwnd, err := scratchWindow()
	if err != nil {
		return nil, err
	}
	defer procDestroyWindow.Call(hwnd)

	switch version {
	case api.D3DVersion10:
		return swapChainEntries(hwnd, procD3D10CreateDeviceAndSwapChain, d3d10SDKVersion)
	case api.D3DVersion11:
		return swapChainEntries(hwnd, procD3D11CreateDeviceAndSwapChain, d3d11SDKVersion)
	case api.D3DVersion12:
		return d3d12Entries(hwnd)
	}
	return nil, fmt.Errorf("no DXGI discovery for version %s", version)
}

// swapChainEntries drives D3D10CreateDeviceAndSwapChain or its D3D11
// equivalent; the two share a calling convention apart from the D3D11-only
// feature-level and context out-params.
func swapChainEntries(hwnd uintptr, create *syscall.LazyProc, sdkVersion uintptr) (*DXGIEntries, error) {
	desc := scratchSwapChainDesc(hwnd, dxgiSwapEffectDiscard, 1)

	var swapchain, device, context uintptr
	var hr uintptr
	if sdkVersion == d3d11SDKVersion {
		hr, _, _ = create.Call(
			0, d3dDriverTypeHardware, 0, 0,
			0, 0, // feature level list
			sdkVersion,
			uintptr(unsafe.Pointer(&desc)),
			uintptr(unsafe.Pointer(&swapchain)),
			uintptr(unsafe.Pointer(&device)),
			0,
			uintptr(unsafe.Pointer(&context)),
		)
	} else {
		hr, _, _ = create.Call(
			0, d3dDriverTypeHardware, 0, 0,
			sdkVersion,
			uintptr(unsafe.Pointer(&desc)),
			uintptr(unsafe.Pointer(&swapchain)),
			uintptr(unsafe.Pointer(&device)),
		)
	}
	if int32(hr) < 0 {
		return nil, fmt.Errorf("CreateDeviceAndSwapChain HRESULT 0x%08X", uint32(hr))
	}
	defer comRelease(context)
	defer comRelease(device)
	defer comRelease(swapchain)

	entries := readSwapChain(swapchain)
	return entries, nil
}

func d3d12Entries(hwnd uintptr) (*DXGIEntries, error) {
	var device uintptr
	hr, _, _ := procD3D12CreateDevice.Call(
		0, d3dFeatureLevel11_0,
		uintptr(unsafe.Pointer(iidID3D12Device)),
		uintptr(unsafe.Pointer(&device)),
	)
	if int32(hr) < 0 {
		return nil, fmt.Errorf("D3D12CreateDevice HRESULT 0x%08X", uint32(hr))
	}
	defer comRelease(device)

	queueDesc := d3d12CommandQueueDesc{}
	var queue uintptr
	if _, err := comCall(device, d3d12CreateCommandQueue,
		uintptr(unsafe.Pointer(&queueDesc)),
		uintptr(unsafe.Pointer(iidID3D12CommandQueue)),
		uintptr(unsafe.Pointer(&queue))); err != nil {
		return nil, fmt.Errorf("CreateCommandQueue: %w", err)
	}
	defer comRelease(queue)

	var factory uintptr
	hr, _, _ = procCreateDXGIFactory1.Call(
		uintptr(unsafe.Pointer(iidIDXGIFactory1)),
		uintptr(unsafe.Pointer(&factory)),
	)
	if int32(hr) < 0 {
		return nil, fmt.Errorf("CreateDXGIFactory1 HRESULT 0x%08X", uint32(hr))
	}
	defer comRelease(factory)

	// Flip model with two buffers, the minimum D3D12 accepts.
	desc := scratchSwapChainDesc(hwnd, dxgiSwapEffectFlip, 2)
	var swapchain uintptr
	if _, err := comCall(factory, FactoryCreateSwapChain,
		queue,
		uintptr(unsafe.Pointer(&desc)),
		uintptr(unsafe.Pointer(&swapchain))); err != nil {
		return nil, fmt.Errorf("CreateSwapChain: %w", err)
	}
	defer comRelease(swapchain)

	entries := readSwapChain(swapchain)
	entries.CreateSwapChain = vtableEntry(factory, FactoryCreateSwapChain)
	entries.CreateSwapChainForHwnd = vtableEntry(factory, FactoryCreateSwapChainForHwnd)
	entries.ExecuteCommandLists = vtableEntry(queue, QueueExecuteCommandLists)
	return entries, nil
}

func scratchSwapChainDesc(hwnd uintptr, swapEffect uint32, buffers uint32) dxgiSwapChainDesc {
	return dxgiSwapChainDesc{
		BufferWidth:  2,
		BufferHeight: 2,
		RefreshRate:  dxgiRational{Numerator: 60, Denominator: 1},
		Format:       dxgiFormatR8G8B8A8,
		SampleCount:  1,
		BufferUsage:  dxgiUsageRenderTarget,
		BufferCount:  buffers,
		OutputWindow: hwnd,
		Windowed:     1,
		SwapEffect:   swapEffect,
	}
}

// readSwapChain pulls the common entry points, plus the IDXGISwapChain1/3
// extensions when the runtime's swapchain actually implements them.
func readSwapChain(swapchain uintptr) *DXGIEntries {
	entries := &DXGIEntries{
		Present:       vtableEntry(swapchain, SwapChainPresent),
		ResizeBuffers: vtableEntry(swapchain, SwapChainResizeBuffers),
		ResizeTarget:  vtableEntry(swapchain, SwapChainResizeTarget),
	}
	if sc1, ok := comQueryInterface(swapchain, iidIDXGISwapChain1); ok {
		entries.Present1 = vtableEntry(sc1, SwapChainPresent1)
		comRelease(sc1)
	}
	if sc3, ok := comQueryInterface(swapchain, iidIDXGISwapChain3); ok {
		entries.ResizeBuffers1 = vtableEntry(sc3, SwapChainResizeBuffers1)
		comRelease(sc3)
	}
	return entries
}

func (comSource) Audio() (*AudioEntries, error) {
	// S_FALSE just means COM was already initialized on this thread.
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		if oleErr, ok := err.(*ole.OleError); !ok || oleErr.Code() != 1 { // S_FALSE
			return nil, fmt.Errorf("CoInitializeEx: %w", err)
		}
	}

	enumerator, err := ole.CreateInstance(clsidMMDeviceEnumerator, iidIMMDeviceEnumerator)
	if err != nil {
		return nil, fmt.Errorf("create MMDeviceEnumerator: %w", err)
	}
	enumPtr := uintptr(unsafe.Pointer(enumerator))
	defer comRelease(enumPtr)

	var device uintptr
	if _, err := comCall(enumPtr, mmdeGetDefaultAudioEndpoint,
		eRender, eConsole, uintptr(unsafe.Pointer(&device))); err != nil {
		return nil, fmt.Errorf("GetDefaultAudioEndpoint: %w", err)
	}
	defer comRelease(device)

	var client uintptr
	if _, err := comCall(device, mmDeviceActivate,
		uintptr(unsafe.Pointer(iidIAudioClient)), clsctxAll, 0,
		uintptr(unsafe.Pointer(&client))); err != nil {
		return nil, fmt.Errorf("IMMDevice::Activate: %w", err)
	}
	defer comRelease(client)

	var mixFormat uintptr
	if _, err := comCall(client, audioClientGetMixFormat,
		uintptr(unsafe.Pointer(&mixFormat))); err != nil {
		return nil, fmt.Errorf("GetMixFormat: %w", err)
	}
	defer procCoTaskMemFree.Call(mixFormat)

	// One-second shared-mode buffer; the client is thrown away immediately.
	const bufferDuration = 10_000_000
	if _, err := comCall(client, audioClientInitialize,
		shareModeShared, 0, bufferDuration, 0, mixFormat, 0); err != nil {
		return nil, fmt.Errorf("IAudioClient::Initialize: %w", err)
	}

	var renderClient uintptr
	if _, err := comCall(client, audioClientGetService,
		uintptr(unsafe.Pointer(iidIAudioRenderClient)),
		uintptr(unsafe.Pointer(&renderClient))); err != nil {
		return nil, fmt.Errorf("GetService(IAudioRenderClient): %w", err)
	}
	defer comRelease(renderClient)

	return &AudioEntries{
		GetBuffer:     vtableEntry(renderClient, AudioGetBuffer),
		ReleaseBuffer: vtableEntry(renderClient, AudioReleaseBuffer),
	}, nil
}
