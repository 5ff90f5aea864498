package engine

import (
	"sync/atomic"
	"time"

	"github.com/hydrahook/hydrahook/internal/detour"
	"github.com/hydrahook/hydrahook/internal/logging"
)

// shutdownWait bounds how long an exiting host thread waits for the worker
// to finish teardown before giving up on it.
const shutdownWait = 3 * time.Second

// shutdownState covers the two host-initiated shutdown hooks. Installed
// once per process; the first origin to fire wins and removes both hooks.
type shutdownState struct {
	installed bool
	fired     atomic.Bool

	exitProcess     *detour.Hook
	postQuitMessage *detour.Hook
}

// installShutdownHooks patches ExitProcess and PostQuitMessage so host
// shutdown is observed before the loader starts tearing modules down.
// Installed once, by whichever engine's worker gets there first; failures
// leave only the loader-lock detach path for that trigger.
func (o *orchestrator) installShutdownHooks() {
	rt := o.rt
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.shutdown.installed {
		return
	}
	rt.shutdown.installed = true

	if target := rt.os.ProcAddress("kernel32.dll", "ExitProcess"); target != 0 {
		h := detour.New(rt.patcher)
		if err := h.Apply(target, o.bind(o.exitProcessDetour(h))); err != nil {
			o.log.Warn("ExitProcess hook failed", logging.KeyError, err)
		} else {
			rt.shutdown.exitProcess = h
		}
	}
	if target := rt.os.ProcAddress("user32.dll", "PostQuitMessage"); target != 0 {
		h := detour.New(rt.patcher)
		if err := h.Apply(target, o.bind(o.postQuitMessageDetour(h))); err != nil {
			o.log.Warn("PostQuitMessage hook failed", logging.KeyError, err)
		} else {
			rt.shutdown.postQuitMessage = h
		}
	}
}

// beginShutdown runs the host-initiated shutdown sequence on the calling
// host thread: remove both shutdown hooks, fire PreExit, signal every
// worker and wait a bounded time for each to finish. Idempotent across
// origins; only the first caller does the work.
func (rt *Runtime) beginShutdown(origin string) {
	if !rt.shutdown.fired.CompareAndSwap(false, true) {
		return
	}
	log := logging.L(origin)
	log.Info("host shutdown detected")

	rt.mu.Lock()
	installed := []*detour.Hook{rt.shutdown.exitProcess, rt.shutdown.postQuitMessage}
	rt.mu.Unlock()

	// The two shutdown hooks remove each other so neither fires twice.
	for _, h := range installed {
		if h != nil && h.Applied() {
			if err := h.Remove(); err != nil {
				log.Warn("shutdown hook removal failed", logging.KeyError, err)
			}
		}
	}

	for _, e := range rt.Engines() {
		if cb := e.cfg.PreExit; cb != nil {
			cb(e)
		}
		if err := e.cancel.Set(); err != nil {
			log.Error("cancellation signal failed", logging.KeyError, err)
		}
	}

	for _, e := range rt.Engines() {
		select {
		case <-e.workerDone:
		case <-time.After(shutdownWait):
			// Cannot stall process exit on a stuck worker. Abandon it; the
			// hooks it owns are best-effort cleaned by the detach path.
			log.Warn("worker did not stop in time, abandoning it",
				"timeout", shutdownWait.String())
		}
	}
	log.Info("shutdown sequence complete")
}

// chainAddr picks the address to forward a shutdown call to: the restored
// entry point, or the trampoline if removal failed and the patch is still
// in place.
func chainAddr(h *detour.Hook) uintptr {
	if h == nil {
		return 0
	}
	if h.Applied() {
		return h.Orig()
	}
	return h.Target()
}

func (o *orchestrator) exitProcessDetour(h *detour.Hook) any {
	return func(exitCode uintptr) uintptr {
		o.rt.beginShutdown("process")
		if fn := chainAddr(h); fn != 0 {
			o.invoke(fn, exitCode) // does not return
		}
		return 0
	}
}

func (o *orchestrator) postQuitMessageDetour(h *detour.Hook) any {
	return func(exitCode uintptr) uintptr {
		o.rt.beginShutdown("quit")
		if fn := chainAddr(h); fn != 0 {
			o.invoke(fn, exitCode)
		}
		return 0
	}
}

// NotifyProcessDetach is the loader-lock shutdown path, called from the
// module's detach notification. The loader lock forbids waiting on other
// threads or calling back into the host, so this only strips patches,
// best effort, exactly once per engine.
func (rt *Runtime) NotifyProcessDetach() {
	for _, e := range rt.Engines() {
		if !e.cleanupDone.CompareAndSwap(false, true) {
			continue
		}
		if e.orch != nil {
			e.orch.removeQuiet()
		}
		if e.cancel != nil {
			e.cancel.Set()
		}
		logging.L("detach").Info("loader detach cleanup done",
			"hostModule", uintptr(e.hostModule))
	}

	// The shutdown patches live on the runtime, not in any engine's hook
	// list. They must not outlive the module either; a later ExitProcess
	// would jump into unmapped code.
	rt.mu.Lock()
	hooks := []*detour.Hook{rt.shutdown.exitProcess, rt.shutdown.postQuitMessage}
	rt.shutdown.exitProcess = nil
	rt.shutdown.postQuitMessage = nil
	rt.mu.Unlock()
	for _, h := range hooks {
		if h != nil {
			h.RemoveQuiet()
		}
	}
}
