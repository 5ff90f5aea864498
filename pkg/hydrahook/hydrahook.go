// Package hydrahook is the embedding surface of the hooking engine. A client
// loaded into the host process creates one engine per injected module,
// registers callback tables, and receives Pre/Post events for every
// Direct3D present/reset/resize and Core Audio buffer exchange.
package hydrahook

import (
	"fmt"

	"github.com/hydrahook/hydrahook/internal/engine"
	"github.com/hydrahook/hydrahook/internal/logging"
	"github.com/hydrahook/hydrahook/pkg/api"
)

// Engine is a live hooking engine bound to one host module.
type Engine struct {
	e *engine.Engine
}

// Create builds and starts an engine for the given host module. Hook
// installation happens asynchronously on the engine's worker; install
// failures degrade individual APIs and are reported through the log only.
func Create(host api.ModuleHandle, cfg api.Config) (*Engine, error) {
	rt, err := processRuntime()
	if err != nil {
		return nil, err
	}
	e, err := rt.Create(host, cfg)
	if err != nil {
		return nil, err
	}
	startDiagnostics(rt)
	return &Engine{e: e}, nil
}

// Destroy tears down the engine registered for the host module.
func Destroy(host api.ModuleHandle) error {
	rt, err := processRuntime()
	if err != nil {
		return err
	}
	return rt.Destroy(host)
}

// EngineForDevice finds the engine that captured the given COM object
// (device, swapchain or render client), for clients that only hold what a
// callback gave them.
func EngineForDevice(device api.COMPointer) (*Engine, bool) {
	rt, err := processRuntime()
	if err != nil {
		return nil, false
	}
	e, ok := rt.EngineForDevice(uintptr(device))
	if !ok {
		return nil, false
	}
	return &Engine{e: e}, true
}

// D3D12CommandQueueForSwapChain resolves the command queue driving a D3D12
// swapchain. The returned queue carries a COM reference the caller must
// release.
func D3D12CommandQueueForSwapChain(swapchain api.COMPointer) (api.COMPointer, bool) {
	rt, err := processRuntime()
	if err != nil {
		return 0, false
	}
	q, ok := rt.QueueForSwapChain(uintptr(swapchain))
	return api.COMPointer(q), ok
}

// NotifyProcessDetach is the loader-lock teardown entry point. Call it from
// the injected module's detach notification and nowhere else; it strips
// patches best-effort without blocking or calling back into the client.
func NotifyProcessDetach() {
	rt, err := processRuntime()
	if err != nil {
		return
	}
	rt.NotifyProcessDetach()
}

// HostModule returns the module handle the engine was created for.
func (e *Engine) HostModule() api.ModuleHandle { return e.e.HostModule() }

// Version returns the render API version detected at hook time.
func (e *Engine) Version() api.D3DVersion { return e.e.Version() }

// HookedObject returns the COM object captured by the first hooked call,
// zero before any hook has fired.
func (e *Engine) HookedObject() api.COMPointer {
	return api.COMPointer(e.e.HookedDevice())
}

// SetD3D9Events registers the Direct3D 9 callback table. Safe while hooks
// are live.
func (e *Engine) SetD3D9Events(events *api.D3D9Events) { e.e.SetD3D9Events(events) }

// SetDXGIEvents registers the callback table for one DXGI-based version.
func (e *Engine) SetDXGIEvents(version api.D3DVersion, events *api.DXGIEvents) {
	e.e.SetDXGIEvents(version, events)
}

// SetAudioEvents registers the Core Audio callback table.
func (e *Engine) SetAudioEvents(events *api.AudioEvents) { e.e.SetAudioEvents(events) }

// AllocCustomContext allocates a zeroed user-context block handed back in
// every extension payload, replacing any prior block.
func (e *Engine) AllocCustomContext(size int) ([]byte, error) { return e.e.AllocContext(size) }

// FreeCustomContext releases the user-context block.
func (e *Engine) FreeCustomContext() { e.e.FreeContext() }

// CustomContext returns the user context block, or nil.
func (e *Engine) CustomContext() []byte { return e.e.CustomContext() }

// Client-facing log calls, routed into the engine's own sink so client
// messages interleave with engine diagnostics.
var clientLog = logging.L("client")

func LogDebug(format string, args ...any) { clientLog.Debug(fmt.Sprintf(format, args...)) }
func LogInfo(format string, args ...any)  { clientLog.Info(fmt.Sprintf(format, args...)) }
func LogWarn(format string, args ...any)  { clientLog.Warn(fmt.Sprintf(format, args...)) }
func LogError(format string, args ...any) { clientLog.Error(fmt.Sprintf(format, args...)) }
