// Package api defines the public data model of the hooking engine: the
// engine configuration, per-API callback tables, detected render API
// versions, crash handler knobs, and the lifecycle error taxonomy.
package api

// ModuleHandle identifies the host module (HMODULE) an engine is bound to.
// On Windows this is the value handed to DllMain at process attach.
type ModuleHandle uintptr

// COMPointer is a raw COM interface pointer observed inside a detour. The
// engine never owns these; they belong to the host process.
type COMPointer uintptr

// D3DVersion is a bitmask of detected Direct3D API versions.
type D3DVersion int

const (
	D3DVersionUnknown D3DVersion = 0
	D3DVersion9       D3DVersion = 1 << 0 // Direct3D 9 or 9Ex
	D3DVersion10      D3DVersion = 1 << 1
	D3DVersion11      D3DVersion = 1 << 2
	D3DVersion12      D3DVersion = 1 << 3
)

// String returns the short name used in log channels ("d3d9".."d3d12").
func (v D3DVersion) String() string {
	switch v {
	case D3DVersion9:
		return "d3d9"
	case D3DVersion10:
		return "d3d10"
	case D3DVersion11:
		return "d3d11"
	case D3DVersion12:
		return "d3d12"
	default:
		return "unknown"
	}
}

// Engine is the opaque engine handle passed back into every callback.
type Engine interface {
	// HostModule returns the module handle the engine was created for.
	HostModule() ModuleHandle
	// CustomContext returns the user context block, or nil if none is
	// allocated.
	CustomContext() []byte
	// Version returns the render API version detected at hook time, or
	// D3DVersionUnknown before the first hooked call.
	Version() D3DVersion
}

// Extension is the payload handed to Pre- and Post-callbacks.
type Extension struct {
	Engine  Engine
	Context []byte
}

// GameHookedFunc fires exactly once, when the render API has been hooked
// and the concrete version resolved.
type GameHookedFunc func(e Engine, version D3DVersion)

// UnhookFunc fires around hook removal (PreUnhook before the first patch is
// reverted, PostUnhook after the last).
type UnhookFunc func(e Engine)

// ExitFunc fires when host process shutdown is detected, before any
// teardown begins.
type ExitFunc func(e Engine)

// D3D9Events collects the Direct3D 9/9Ex hook points. Nil fields mean the
// client is not interested in that event.
type D3D9Events struct {
	PrePresent  func(device COMPointer, srcRect, dstRect, destWindow, dirtyRegion uintptr)
	PostPresent func(device COMPointer, srcRect, dstRect, destWindow, dirtyRegion uintptr)

	PreReset  func(device COMPointer, presentParams uintptr)
	PostReset func(device COMPointer, presentParams uintptr)

	PreEndScene  func(device COMPointer)
	PostEndScene func(device COMPointer)

	PrePresentEx  func(device COMPointer, srcRect, dstRect, destWindow, dirtyRegion uintptr, flags uint32)
	PostPresentEx func(device COMPointer, srcRect, dstRect, destWindow, dirtyRegion uintptr, flags uint32)

	PreResetEx  func(device COMPointer, presentParams, displayMode uintptr)
	PostResetEx func(device COMPointer, presentParams, displayMode uintptr)
}

// DXGIEvents collects the swap-chain hook points shared by D3D10, D3D11 and
// D3D12. One table is registered per enabled version; dispatch selects the
// table matching the device the swap chain actually exposes.
type DXGIEvents struct {
	PrePresent  func(chain COMPointer, syncInterval, flags uint32, ext *Extension)
	PostPresent func(chain COMPointer, syncInterval, flags uint32, ext *Extension)

	PreResizeTarget  func(chain COMPointer, newTarget uintptr, ext *Extension)
	PostResizeTarget func(chain COMPointer, newTarget uintptr, ext *Extension)

	PreResizeBuffers  func(chain COMPointer, bufferCount, width, height, format, scFlags uint32, ext *Extension)
	PostResizeBuffers func(chain COMPointer, bufferCount, width, height, format, scFlags uint32, ext *Extension)
}

// AudioEvents collects the Core Audio (IAudioRenderClient) hook points.
type AudioEvents struct {
	PreGetBuffer  func(client COMPointer, framesRequested uint32, data uintptr, ext *Extension)
	PostGetBuffer func(client COMPointer, framesRequested uint32, data uintptr, ext *Extension)

	PreReleaseBuffer  func(client COMPointer, framesWritten, flags uint32, ext *Extension)
	PostReleaseBuffer func(client COMPointer, framesWritten, flags uint32, ext *Extension)
}

// DumpType selects minidump verbosity.
type DumpType int

const (
	// DumpTypeMinimal captures threads and stacks only.
	DumpTypeMinimal DumpType = iota
	// DumpTypeNormal adds data segments, handle data, thread info and
	// unloaded modules.
	DumpTypeNormal
	// DumpTypeFull captures complete process memory.
	DumpTypeFull
)

// FaultInfo describes a captured fault for the crash veto callback.
type FaultInfo struct {
	Code         uint32
	CodeName     string
	Address      uintptr
	Module       string
	ModuleOffset uintptr
	ThreadID     uint32
	Registers    []Register
}

// Register is one named register value from the fault context.
type Register struct {
	Name  string
	Value uint64
}

// CrashVetoFunc is invoked before a minidump is written. Returning false
// skips dump file creation; logging has already happened.
type CrashVetoFunc func(e Engine, code uint32, fault FaultInfo) bool

// Config is the engine configuration passed to Create. The zero value
// disables everything; use DefaultConfig for library defaults.
type Config struct {
	GameHooked GameHookedFunc
	PreUnhook  UnhookFunc
	PostUnhook UnhookFunc
	PreExit    ExitFunc

	Direct3D struct {
		HookD3D9  bool
		HookD3D10 bool
		HookD3D11 bool
		HookD3D12 bool
	}

	CoreAudio struct {
		HookCoreAudio bool
	}

	Logging struct {
		Enabled bool
		// Level is the minimum severity written to the sink: "debug",
		// "info", "warn" or "error". Empty means "info".
		Level string
		// FilePath is the fallback log destination, used when neither the
		// process directory nor the injected module directory is writable.
		// Environment variables (%TEMP%) are expanded.
		FilePath string
	}

	CrashHandler struct {
		Enabled bool
		// DumpDirectory overrides dump placement; empty means the usual
		// process-dir/module-dir/temp precedence.
		DumpDirectory string
		DumpType      DumpType
		OnCrash       CrashVetoFunc
	}
}

// DefaultConfig mirrors the library defaults: logging on with a %TEMP%
// fallback, crash handling off, normal dump verbosity.
func DefaultConfig() Config {
	var c Config
	c.Logging.Enabled = true
	c.Logging.Level = "info"
	c.Logging.FilePath = `%TEMP%\HydraHook.log`
	c.CrashHandler.DumpType = DumpTypeNormal
	return c
}
