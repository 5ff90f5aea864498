package crash

import (
	"fmt"
	"strings"
	"time"

	"github.com/hydrahook/hydrahook/internal/winutil"
	"github.com/hydrahook/hydrahook/pkg/api"
)

// MINIDUMP_TYPE flags.
const (
	miniDumpNormal              = 0x00000000
	miniDumpWithDataSegs        = 0x00000001
	miniDumpWithFullMemory      = 0x00000002
	miniDumpWithHandleData      = 0x00000004
	miniDumpWithUnloadedModules = 0x00000020
	miniDumpWithThreadInfo      = 0x00001000
)

// DumpFlags maps verbosity to minidump type flags. Each level is a strict
// superset of the one below it.
func DumpFlags(t api.DumpType) uint32 {
	switch t {
	case api.DumpTypeMinimal:
		return miniDumpNormal
	case api.DumpTypeFull:
		return miniDumpWithFullMemory |
			miniDumpWithHandleData |
			miniDumpWithThreadInfo |
			miniDumpWithUnloadedModules
	default:
		return miniDumpNormal |
			miniDumpWithDataSegs |
			miniDumpWithHandleData |
			miniDumpWithThreadInfo |
			miniDumpWithUnloadedModules
	}
}

// ResolveDumpDir picks the dump directory: the configured directory if set
// (environment-expanded), then the process directory, the injected module's
// directory, and finally the temp directory. The result always carries a
// trailing separator.
func ResolveDumpDir(configured, processDir, moduleDir, tempDir string) string {
	if configured != "" {
		if expanded := winutil.ExpandEnv(configured); expanded != "" {
			return winutil.EnsureTrailingSeparator(expanded)
		}
	}
	if processDir != "" {
		return winutil.EnsureTrailingSeparator(processDir)
	}
	if moduleDir != "" {
		return winutil.EnsureTrailingSeparator(moduleDir)
	}
	return winutil.EnsureTrailingSeparator(tempDir)
}

// DumpFileName builds the dump file name:
// HydraHook-<process>-<pid>-<yyyymmdd>-<hhmmss>-0x<code>.dmp
func DumpFileName(processName string, pid int32, t time.Time, code uint32) string {
	return fmt.Sprintf("HydraHook-%s-%d-%04d%02d%02d-%02d%02d%02d-0x%08X.dmp",
		processName, pid,
		t.Year(), t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(),
		code)
}

// processBaseName strips the extension from the process image name.
func processBaseName(ident winutil.ProcessIdentity) string {
	name := ident.Name
	if name == "" {
		return "unknown"
	}
	if dot := strings.LastIndexByte(name, '.'); dot > 0 {
		name = name[:dot]
	}
	return name
}
