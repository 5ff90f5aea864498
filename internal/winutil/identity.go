package winutil

import (
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessIdentity describes the host process the engine is loaded into.
// Captured once at startup; the crash path must not call into the process
// APIs itself.
type ProcessIdentity struct {
	PID        int32
	Name       string
	Executable string
}

// CurrentProcessIdentity resolves the identity of the running process.
// Falls back to os.Args if the process APIs refuse.
func CurrentProcessIdentity() ProcessIdentity {
	pid := int32(os.Getpid())
	ident := ProcessIdentity{PID: pid}

	if proc, err := process.NewProcess(pid); err == nil {
		if name, err := proc.Name(); err == nil {
			ident.Name = name
		}
		if exe, err := proc.Exe(); err == nil {
			ident.Executable = exe
		}
	}
	if ident.Name == "" && len(os.Args) > 0 {
		ident.Name = filepath.Base(os.Args[0])
	}
	if ident.Executable == "" {
		if exe, err := os.Executable(); err == nil {
			ident.Executable = exe
		}
	}
	return ident
}
