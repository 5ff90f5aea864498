//go:build windows

package hydrahook

import (
	"sync"

	"github.com/hydrahook/hydrahook/internal/engine"
	"github.com/hydrahook/hydrahook/internal/ipc"
	"github.com/hydrahook/hydrahook/internal/logging"
	"github.com/hydrahook/hydrahook/internal/winutil"
)

var (
	runtimeOnce sync.Once
	runtimeInst *engine.Runtime

	diagOnce sync.Once
)

// processRuntime returns the process-wide runtime, constructing it on first
// use.
func processRuntime() (*engine.Runtime, error) {
	runtimeOnce.Do(func() {
		runtimeInst = engine.NewNativeRuntime()
	})
	return runtimeInst, nil
}

// startDiagnostics brings up the named-pipe status server once the first
// engine exists. Failure to listen is logged and nothing more; diagnostics
// are never load-bearing.
func startDiagnostics(rt *engine.Runtime) {
	diagOnce.Do(func() {
		id := winutil.CurrentProcessIdentity()
		ln, err := ipc.Listen(id.PID)
		if err != nil {
			logging.L("ipc").Warn("diagnostics pipe unavailable", logging.KeyError, err)
			return
		}
		srv := ipc.NewServer(func() ipc.Status { return statusOf(rt) }, recentJournal)
		go srv.Serve(ln)
	})
}

func statusOf(rt *engine.Runtime) ipc.Status {
	id := winutil.CurrentProcessIdentity()
	st := ipc.Status{
		ProtocolVersion: ipc.ProtocolVersion,
		PID:             id.PID,
		Process:         id.Name,
	}
	for _, e := range rt.Engines() {
		st.Engines = append(st.Engines, ipc.EngineStatus{
			HostModule:   uint64(e.HostModule()),
			Version:      e.Version().String(),
			Hooked:       e.HookedDevice() != 0,
			HookedObject: uint64(e.HookedDevice()),
		})
	}
	return st
}

func recentJournal(max int) []logging.Entry {
	entries := logging.Recent()
	if max > 0 && len(entries) > max {
		entries = entries[len(entries)-max:]
	}
	return entries
}
