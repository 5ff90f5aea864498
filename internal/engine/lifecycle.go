package engine

import (
	"fmt"
	"io"

	"github.com/hydrahook/hydrahook/internal/crash"
	"github.com/hydrahook/hydrahook/internal/logging"
	"github.com/hydrahook/hydrahook/internal/winutil"
	"github.com/hydrahook/hydrahook/pkg/api"
)

const logFileName = "HydraHook.log"

// Create builds, starts and registers an engine for a host module. Any step
// failure aborts the remaining steps and returns a distinct error; partially
// constructed state is never published to the registry.
func (rt *Runtime) Create(host api.ModuleHandle, cfg api.Config) (*Engine, error) {
	if host == 0 {
		return nil, api.ErrInvalidHandle
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if _, exists := rt.engines[host]; exists {
		return nil, api.ErrAlreadyExists
	}

	// Keep the host module mapped while the worker thread runs inside it.
	pinned, err := rt.os.PinModule(uintptr(host))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", api.ErrModuleRefFailed, err)
	}

	e := &Engine{
		hostModule: host,
		cfg:        cfg,
		pinned:     pinned,
		workerDone: make(chan struct{}),
	}

	processDir, _ := rt.os.ProcessDirectory()
	moduleDir, _ := rt.os.ModuleDirectory(pinned)

	if err := rt.bringUpLogging(cfg, processDir, moduleDir); err != nil {
		rt.os.FreeModule(pinned)
		return nil, err
	}
	e.log = logging.L("engine")

	if cfg.CrashHandler.Enabled {
		rt.crash.Install(&crash.Snapshot{
			Owner:      e,
			Veto:       cfg.CrashHandler.OnCrash,
			DumpDir:    cfg.CrashHandler.DumpDirectory,
			DumpType:   cfg.CrashHandler.DumpType,
			Process:    rt.os.Identity(),
			ProcessDir: processDir,
			ModuleDir:  moduleDir,
			TempDir:    rt.os.TempDir(),
		})
	}

	cancel, err := rt.os.NewEvent()
	if err != nil {
		if cfg.CrashHandler.Enabled {
			rt.crash.Uninstall(e)
		}
		rt.os.FreeModule(pinned)
		return nil, fmt.Errorf("%w: %v", api.ErrEventCreateFailed, err)
	}
	e.cancel = cancel

	if err := rt.startWorker(e); err != nil {
		cancel.Close()
		if cfg.CrashHandler.Enabled {
			rt.crash.Uninstall(e)
		}
		rt.os.FreeModule(pinned)
		return nil, fmt.Errorf("%w: %v", api.ErrThreadCreateFailed, err)
	}

	rt.engines[host] = e
	e.log.Info("engine created", "hostModule", fmt.Sprintf("0x%X", uintptr(host)))
	return e, nil
}

// Destroy tears down an engine's administrative state. Shutdown
// synchronization must already have stopped the worker.
func (rt *Runtime) Destroy(host api.ModuleHandle) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	e, ok := rt.engines[host]
	if !ok {
		return api.ErrInvalidHandle
	}

	if e.cfg.CrashHandler.Enabled {
		rt.crash.Uninstall(e)
	}
	if e.cancel != nil {
		e.cancel.Close()
	}
	delete(rt.engines, host)
	e.log.Info("engine destroyed", "hostModule", fmt.Sprintf("0x%X", uintptr(host)))
	return nil
}

// bringUpLogging resolves a writable log destination: process directory,
// then module directory, then the configured fallback path, then the
// console. Failure to construct any sink at all is fatal only for the first
// engine; afterwards the existing sink keeps serving.
func (rt *Runtime) bringUpLogging(cfg api.Config, processDir, moduleDir string) error {
	if rt.loggingUp {
		return nil
	}
	if !cfg.Logging.Enabled {
		logging.Init("info", io.Discard)
		rt.loggingUp = true
		return nil
	}

	var sink io.Writer
	candidates := []string{}
	if processDir != "" {
		candidates = append(candidates, processDir+logFileName)
	}
	if moduleDir != "" {
		candidates = append(candidates, moduleDir+logFileName)
	}
	if cfg.Logging.FilePath != "" {
		candidates = append(candidates, winutil.ExpandEnv(cfg.Logging.FilePath))
	}
	for _, path := range candidates {
		w, err := rt.os.OpenLogFile(path)
		if err == nil {
			sink = w
			break
		}
	}
	if sink == nil {
		sink = rt.os.Console()
	}
	if sink == nil {
		return api.ErrLoggerCreateFailed
	}

	level := cfg.Logging.Level
	if level == "" {
		level = "info"
	}
	logging.Init(level, sink)
	rt.loggingUp = true
	return nil
}

// startWorker launches the orchestrator worker and waits for it to confirm
// startup.
func (rt *Runtime) startWorker(e *Engine) error {
	o := newOrchestrator(rt, e)
	e.orch = o
	started := make(chan struct{})
	go o.run(started)
	<-started
	return nil
}
