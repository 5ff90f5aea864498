package engine

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/hydrahook/hydrahook/internal/detour"
	"github.com/hydrahook/hydrahook/internal/logging"
	"github.com/hydrahook/hydrahook/internal/vtable"
	"github.com/hydrahook/hydrahook/pkg/api"
)

// Platform bridges, assigned by the platform file. Tests replace them in an
// init of their own.
var (
	platformBind   func(fn any) uintptr
	platformInvoke func(fn uintptr, args ...uintptr) uintptr
)

// dxgiChain is one physical set of swapchain patches. When several enabled
// API versions resolve to the same vtable addresses they share a chain and
// dispatch branches per call. The detour closures capture their own hooks;
// the chain only keeps Present for address dedup.
type dxgiChain struct {
	versions []api.D3DVersion
	present  *detour.Hook
}

func (c *dxgiChain) hasVersion(v api.D3DVersion) bool {
	for _, have := range c.versions {
		if have == v {
			return true
		}
	}
	return false
}

// orchestrator drives one engine's worker: install hooks per enabled API
// family, block on the cancellation event, tear everything down.
type orchestrator struct {
	rt  *Runtime
	e   *Engine
	log *slog.Logger

	bind   func(fn any) uintptr
	invoke func(fn uintptr, args ...uintptr) uintptr

	chains []*dxgiChain

	// Queue-capture entry points are shared across DXGI versions; these
	// guard against patching them twice.
	createSwapChain        *detour.Hook
	createSwapChainForHwnd *detour.Hook
	execCommandLists       *detour.Hook

	// all collects installed hooks in install order for teardown. Guarded
	// by allMu; the loader-lock detach path reads it off the worker thread.
	allMu sync.Mutex
	all   []*detour.Hook

	gameHookedFired atomic.Bool
}

func newOrchestrator(rt *Runtime, e *Engine) *orchestrator {
	return &orchestrator{
		rt:     rt,
		e:      e,
		log:    logging.L("orchestrator"),
		bind:   platformBind,
		invoke: platformInvoke,
	}
}

// run is the worker body. Blocks until the cancellation event fires, then
// tears down and releases the host-module reference.
func (o *orchestrator) run(started chan<- struct{}) {
	runtime.LockOSThread()
	o.rt.crash.InstallThreadSEH()
	close(started)

	o.installShutdownHooks()
	o.installAll()

	if _, err := o.e.cancel.Wait(-1); err != nil {
		o.log.Error("cancellation wait failed", logging.KeyError, err)
	}

	// The detach path may have stripped the patches already; only one
	// cleanup runs.
	if o.e.cleanupDone.CompareAndSwap(false, true) {
		o.teardown()
	}
	close(o.e.workerDone)
	o.rt.os.FreeModule(o.e.pinned)
	runtime.UnlockOSThread()
}

// installAll attempts every enabled API family. A failure in one family is
// logged and leaves only that family unhooked; installation errors are never
// fatal to the engine.
func (o *orchestrator) installAll() {
	cfg := o.e.cfg

	if cfg.Direct3D.HookD3D9 {
		if err := o.installD3D9(); err != nil {
			o.log.Warn("Direct3D 9 hooks unavailable", logging.KeyError, err)
		}
	}
	for _, v := range []api.D3DVersion{api.D3DVersion10, api.D3DVersion11, api.D3DVersion12} {
		if !dxgiEnabled(cfg, v) {
			continue
		}
		if err := o.installDXGI(v); err != nil {
			o.log.Warn("swapchain hooks unavailable", "api", v.String(), logging.KeyError, err)
		}
	}
	if cfg.CoreAudio.HookCoreAudio {
		if err := o.installAudio(); err != nil {
			o.log.Warn("Core Audio hooks unavailable", logging.KeyError, err)
		}
	}
}

func dxgiEnabled(cfg api.Config, v api.D3DVersion) bool {
	switch v {
	case api.D3DVersion10:
		return cfg.Direct3D.HookD3D10
	case api.D3DVersion11:
		return cfg.Direct3D.HookD3D11
	case api.D3DVersion12:
		return cfg.Direct3D.HookD3D12
	}
	return false
}

// applyHook installs one patch and tracks it for teardown. The detour body
// comes from a factory so the closure captures its own hook; host threads
// may run the detour the instant the patch commits, before applyHook
// returns.
func (o *orchestrator) applyHook(name string, target uintptr, build func(h *detour.Hook) any) (*detour.Hook, error) {
	if target == 0 {
		return nil, fmt.Errorf("%s: entry point not resolved", name)
	}
	h := detour.New(o.rt.patcher)
	if err := h.Apply(target, o.bind(build(h))); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	o.log.Info("hook installed", "fn", name, "target", fmt.Sprintf("0x%X", target))
	o.allMu.Lock()
	o.all = append(o.all, h)
	o.allMu.Unlock()
	return h, nil
}

func (o *orchestrator) installD3D9() error {
	entries, err := o.rt.source.D3D9()
	if err != nil {
		return err
	}

	if _, err = o.applyHook("IDirect3DDevice9::Present", entries.Present, o.d3d9PresentDetour); err != nil {
		return err
	}
	if _, err = o.applyHook("IDirect3DDevice9::Reset", entries.Reset, o.d3d9ResetDetour); err != nil {
		return err
	}
	if _, err = o.applyHook("IDirect3DDevice9::EndScene", entries.EndScene, o.d3d9EndSceneDetour); err != nil {
		return err
	}

	// Only present on a 9Ex runtime.
	if entries.PresentEx != 0 {
		if _, err = o.applyHook("IDirect3DDevice9Ex::PresentEx", entries.PresentEx, o.d3d9PresentExDetour); err != nil {
			return err
		}
	}
	if entries.ResetEx != 0 {
		if _, err = o.applyHook("IDirect3DDevice9Ex::ResetEx", entries.ResetEx, o.d3d9ResetExDetour); err != nil {
			return err
		}
	}
	return nil
}

func (o *orchestrator) installDXGI(v api.D3DVersion) error {
	entries, err := o.rt.source.DXGI(v)
	if err != nil {
		return err
	}

	// Shared-vtable dedup: if another enabled version already patched this
	// Present address, the existing chain branches per call. One physical
	// patch serves both.
	for _, chain := range o.chains {
		if chain.present != nil && chain.present.Target() == entries.Present {
			chain.versions = append(chain.versions, v)
			o.log.Info("swapchain vtable shared, reusing existing hooks", "api", v.String())
			if v == api.D3DVersion12 {
				if err := o.installD3D12QueueCapture(entries); err != nil {
					return err
				}
			}
			return nil
		}
	}

	chain := &dxgiChain{versions: []api.D3DVersion{v}}
	o.chains = append(o.chains, chain)

	if chain.present, err = o.applyHook("IDXGISwapChain::Present", entries.Present, o.dxgiPresentDetour(chain)); err != nil {
		return err
	}
	if _, err = o.applyHook("IDXGISwapChain::ResizeTarget", entries.ResizeTarget, o.dxgiResizeTargetDetour(chain)); err != nil {
		return err
	}
	if _, err = o.applyHook("IDXGISwapChain::ResizeBuffers", entries.ResizeBuffers, o.dxgiResizeBuffersDetour(chain)); err != nil {
		return err
	}

	// Swapchain extension entry points, shared by every DXGI version.
	// Address-deduplicated the same way as Present.
	if entries.Present1 != 0 && !o.addressHooked(entries.Present1) {
		if _, err = o.applyHook("IDXGISwapChain1::Present1", entries.Present1, o.dxgiPresent1Detour(chain)); err != nil {
			return err
		}
	}
	if entries.ResizeBuffers1 != 0 && !o.addressHooked(entries.ResizeBuffers1) {
		if _, err = o.applyHook("IDXGISwapChain3::ResizeBuffers1", entries.ResizeBuffers1, o.dxgiResizeBuffers1Detour(chain)); err != nil {
			return err
		}
	}

	if v == api.D3DVersion12 {
		if err := o.installD3D12QueueCapture(entries); err != nil {
			return err
		}
	}
	return nil
}

// installD3D12QueueCapture wires the two redundant queue-discovery paths:
// factory swapchain creation and ExecuteCommandLists.
func (o *orchestrator) installD3D12QueueCapture(entries *vtable.DXGIEntries) error {
	csc, cscHwnd, ecl := entries.CreateSwapChain, entries.CreateSwapChainForHwnd, entries.ExecuteCommandLists

	var err error
	if csc != 0 && o.createSwapChain == nil {
		if o.createSwapChain, err = o.applyHook("IDXGIFactory::CreateSwapChain", csc, o.createSwapChainDetour); err != nil {
			return err
		}
	}
	if cscHwnd != 0 && o.createSwapChainForHwnd == nil {
		if o.createSwapChainForHwnd, err = o.applyHook("IDXGIFactory2::CreateSwapChainForHwnd", cscHwnd, o.createSwapChainForHwndDetour); err != nil {
			return err
		}
	}
	if ecl != 0 && o.execCommandLists == nil {
		if o.execCommandLists, err = o.applyHook("ID3D12CommandQueue::ExecuteCommandLists", ecl, o.execCommandListsDetour); err != nil {
			return err
		}
	}
	return nil
}

func (o *orchestrator) installAudio() error {
	entries, err := o.rt.source.Audio()
	if err != nil {
		return err
	}
	if _, err = o.applyHook("IAudioRenderClient::GetBuffer", entries.GetBuffer, o.audioGetBufferDetour); err != nil {
		return err
	}
	if _, err = o.applyHook("IAudioRenderClient::ReleaseBuffer", entries.ReleaseBuffer, o.audioReleaseBufferDetour); err != nil {
		return err
	}
	return nil
}

func (o *orchestrator) addressHooked(target uintptr) bool {
	o.allMu.Lock()
	defer o.allMu.Unlock()
	for _, h := range o.all {
		if h.Applied() && h.Target() == target {
			return true
		}
	}
	return false
}

// takeAll detaches the tracked hook list so exactly one teardown walks it.
func (o *orchestrator) takeAll() []*detour.Hook {
	o.allMu.Lock()
	defer o.allMu.Unlock()
	hooks := o.all
	o.all = nil
	return hooks
}

// teardown drains in-flight detours, removes every hook, releases queue
// references and fires the unhook callbacks in order. Runs to completion
// even when individual removals fail; a host crash after a failed removal
// is a known residual risk.
func (o *orchestrator) teardown() {
	if cb := o.e.cfg.PreUnhook; cb != nil {
		cb(o.e)
	}

	if !o.e.tracker.drain(defaultDrainTimeout, o.rt.os.Yield) {
		o.log.Warn("in-flight hook calls did not drain, removing patches anyway",
			"timeout", defaultDrainTimeout.String())
	}

	hooks := o.takeAll()
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if !h.Applied() {
			continue
		}
		if err := h.Remove(); err != nil {
			o.log.Error("hook removal failed, host may fault later",
				"target", fmt.Sprintf("0x%X", h.Target()), logging.KeyError, err)
		}
	}

	o.rt.queues.releaseAll()

	if cb := o.e.cfg.PostUnhook; cb != nil {
		cb(o.e)
	}
	o.log.Info("hooks removed, worker exiting")
}

// removeQuiet strips all hooks without error propagation. Loader-lock path.
func (o *orchestrator) removeQuiet() {
	o.e.tracker.drain(0, o.rt.os.Yield)
	hooks := o.takeAll()
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i].RemoveQuiet()
	}
	o.rt.queues.releaseAll()
}

// fireGameHooked runs the one-shot gate: capture the hooked object, record
// the version and invoke the GameHooked callback exactly once, strictly
// before the first Pre-callback fires.
func (o *orchestrator) fireGameHooked(device uintptr, version api.D3DVersion) {
	if !o.e.markHooked(device, version) {
		return
	}
	if o.gameHookedFired.CompareAndSwap(false, true) {
		o.log.Info("host render loop hooked", "api", version.String(),
			"object", fmt.Sprintf("0x%X", device))
		if cb := o.e.cfg.GameHooked; cb != nil {
			cb(o.e, version)
		}
	}
}
