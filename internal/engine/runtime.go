package engine

import (
	"io"
	"sync"

	"github.com/hydrahook/hydrahook/internal/crash"
	"github.com/hydrahook/hydrahook/internal/detour"
	"github.com/hydrahook/hydrahook/internal/vtable"
	"github.com/hydrahook/hydrahook/internal/winutil"
	"github.com/hydrahook/hydrahook/pkg/api"
)

// osServices abstracts the OS facilities the lifecycle path touches, so the
// state machines can be exercised without a Windows loader underneath.
type osServices interface {
	PinModule(addr uintptr) (uintptr, error)
	FreeModule(handle uintptr) error
	NewEvent() (waitEvent, error)
	ProcessDirectory() (string, error)
	ModuleDirectory(handle uintptr) (string, error)
	TempDir() string
	OpenLogFile(path string) (io.Writer, error)
	Console() io.Writer
	Yield()
	Identity() winutil.ProcessIdentity
	// ProcAddress resolves an exported function, zero when unavailable.
	ProcAddress(dll, proc string) uintptr
}

// Runtime is the process-scoped state shared by every engine: the
// host-module registry, the crash guard, the patch engine and the COM
// capabilities. Constructed once at library load.
type Runtime struct {
	mu      sync.Mutex
	engines map[api.ModuleHandle]*Engine

	crash   *crash.Guard
	patcher detour.Patcher
	source  vtable.Source
	prober  vtable.Prober
	queues  *queueRegistry
	os      osServices

	shutdown shutdownState

	// loggingUp is set once any engine has brought up a real log sink.
	loggingUp bool
}

// NewRuntime wires a runtime from its capabilities.
func NewRuntime(patcher detour.Patcher, source vtable.Source, prober vtable.Prober,
	guard *crash.Guard, os osServices) *Runtime {
	return &Runtime{
		engines: make(map[api.ModuleHandle]*Engine),
		crash:   guard,
		patcher: patcher,
		source:  source,
		prober:  prober,
		queues:  newQueueRegistry(prober),
		os:      os,
	}
}

// Engine returns the engine registered for a host module.
func (rt *Runtime) Engine(host api.ModuleHandle) (*Engine, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	e, ok := rt.engines[host]
	return e, ok
}

// EngineForDevice finds the engine that captured the given device pointer.
// Used by clients that only hold the COM object a callback gave them.
func (rt *Runtime) EngineForDevice(device uintptr) (*Engine, bool) {
	if device == 0 {
		return nil, false
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, e := range rt.engines {
		if e.HookedDevice() == device {
			return e, true
		}
	}
	return nil, false
}

// QueueForSwapChain resolves the D3D12 command queue driving a swapchain.
// The returned queue is referenced; the caller releases it.
func (rt *Runtime) QueueForSwapChain(swapchain uintptr) (uintptr, bool) {
	return rt.queues.lookup(swapchain)
}

// Engines snapshots the registered engines, for diagnostics.
func (rt *Runtime) Engines() []*Engine {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]*Engine, 0, len(rt.engines))
	for _, e := range rt.engines {
		out = append(out, e)
	}
	return out
}
