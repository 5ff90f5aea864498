// Package engine holds the per-process runtime: engine lifecycle, the hook
// orchestrator worker, and shutdown synchronization.
package engine

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hydrahook/hydrahook/pkg/api"
)

// waitEvent is the auto-reset cancellation event the worker blocks on.
type waitEvent interface {
	Set() error
	Wait(timeout time.Duration) (bool, error)
	Close() error
}

// Engine is one hooked host module. It implements api.Engine; everything
// callbacks can reach through it stays valid until Destroy.
type Engine struct {
	hostModule api.ModuleHandle
	cfg        api.Config
	log        *slog.Logger

	// pinned is the OS module reference taken at create time so host code
	// cannot unmap while the worker runs.
	pinned uintptr

	ctxMu     sync.Mutex
	customCtx []byte

	version atomic.Int32

	// hookedDevice is the device (D3D9), swapchain (DXGI) or render client
	// (audio) captured by the one-shot gate.
	hookedDevice atomic.Uintptr

	d3d9Events  atomic.Pointer[api.D3D9Events]
	dxgi10      atomic.Pointer[api.DXGIEvents]
	dxgi11      atomic.Pointer[api.DXGIEvents]
	dxgi12      atomic.Pointer[api.DXGIEvents]
	audioEvents atomic.Pointer[api.AudioEvents]

	tracker activityTracker
	cancel  waitEvent

	// workerDone is closed when the orchestrator worker finishes teardown.
	workerDone chan struct{}

	// orch is the worker owning this engine's hooks, set before the worker
	// starts. Touched by the loader-lock cleanup path.
	orch *orchestrator

	// cleanupDone makes the loader-lock shutdown path idempotent, even
	// after a process-exit or quit-message cleanup already ran.
	cleanupDone atomic.Bool
}

// HostModule implements api.Engine.
func (e *Engine) HostModule() api.ModuleHandle { return e.hostModule }

// Version implements api.Engine.
func (e *Engine) Version() api.D3DVersion {
	return api.D3DVersion(e.version.Load())
}

// CustomContext implements api.Engine.
func (e *Engine) CustomContext() []byte {
	e.ctxMu.Lock()
	defer e.ctxMu.Unlock()
	return e.customCtx
}

// AllocContext allocates a zeroed user-context block, replacing any prior
// one.
func (e *Engine) AllocContext(size int) ([]byte, error) {
	if size <= 0 {
		return nil, api.ErrContextAllocFailed
	}
	e.ctxMu.Lock()
	defer e.ctxMu.Unlock()
	e.customCtx = make([]byte, size)
	return e.customCtx, nil
}

// FreeContext releases the user-context block.
func (e *Engine) FreeContext() {
	e.ctxMu.Lock()
	e.customCtx = nil
	e.ctxMu.Unlock()
}

// SetD3D9Events swaps the Direct3D 9 callback table. Safe while hooks are
// live; in-flight dispatches keep the table they loaded.
func (e *Engine) SetD3D9Events(events *api.D3D9Events) {
	e.d3d9Events.Store(events)
}

// SetDXGIEvents registers the callback table for one DXGI-based version.
func (e *Engine) SetDXGIEvents(version api.D3DVersion, events *api.DXGIEvents) {
	switch version {
	case api.D3DVersion10:
		e.dxgi10.Store(events)
	case api.D3DVersion11:
		e.dxgi11.Store(events)
	case api.D3DVersion12:
		e.dxgi12.Store(events)
	}
}

// SetAudioEvents swaps the Core Audio callback table.
func (e *Engine) SetAudioEvents(events *api.AudioEvents) {
	e.audioEvents.Store(events)
}

// dxgiEvents returns the registered table for a resolved version.
func (e *Engine) dxgiEvents(version api.D3DVersion) *api.DXGIEvents {
	switch version {
	case api.D3DVersion10:
		return e.dxgi10.Load()
	case api.D3DVersion11:
		return e.dxgi11.Load()
	case api.D3DVersion12:
		return e.dxgi12.Load()
	}
	return nil
}

// extension builds the callback payload. Allocated per call; callbacks may
// retain it.
func (e *Engine) extension() *api.Extension {
	return &api.Extension{Engine: e, Context: e.CustomContext()}
}

// markHooked records the captured object and resolved version, returning
// true only for the first successful call.
func (e *Engine) markHooked(device uintptr, version api.D3DVersion) bool {
	if !e.hookedDevice.CompareAndSwap(0, device) {
		return false
	}
	e.version.Store(int32(version))
	return true
}

// HookedDevice returns the captured device pointer, zero before the first
// hooked call.
func (e *Engine) HookedDevice() uintptr {
	return e.hookedDevice.Load()
}
