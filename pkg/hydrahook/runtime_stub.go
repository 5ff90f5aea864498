//go:build !windows

package hydrahook

import (
	"github.com/hydrahook/hydrahook/internal/engine"
	"github.com/hydrahook/hydrahook/pkg/api"
)

// Hooking requires the Windows loader; on other platforms the facade only
// exists so dependents still compile.
func processRuntime() (*engine.Runtime, error) {
	return nil, api.ErrOSResourceFailure
}

func startDiagnostics(*engine.Runtime) {}
