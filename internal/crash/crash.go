// Package crash owns process-wide fault handling: handler registration with
// reference counting, a lock-free configuration snapshot for the fault path,
// and minidump creation.
package crash

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hydrahook/hydrahook/internal/logging"
	"github.com/hydrahook/hydrahook/internal/winutil"
	"github.com/hydrahook/hydrahook/pkg/api"
)

// FaultDetail is what the OS fault bridge hands the guard. Everything in it
// must be derivable without taking locks or allocating aggressively; the
// process is in an undefined state when this is built.
type FaultDetail struct {
	Code         uint32
	Address      uintptr
	ThreadID     uint32
	Module       string
	ModuleOffset uintptr
	Registers    []api.Register

	// Native carries the OS exception-pointer block through to the dump
	// writer. Zero for synthetic faults.
	Native uintptr
}

// Snapshot is the crash configuration published for the fault path. Built
// once at install time from the owning engine's configuration; the fault
// path reads it with a single atomic load and must never touch the engine.
type Snapshot struct {
	Owner    api.Engine
	Veto     api.CrashVetoFunc
	DumpDir  string
	DumpType api.DumpType

	Process    winutil.ProcessIdentity
	ProcessDir string
	ModuleDir  string
	TempDir    string
}

// HandlerSet registers and restores the global fault handlers. The installed
// callback receives the trigger name and the bridged fault.
type HandlerSet interface {
	Install(fn func(trigger string, fault *FaultDetail))
	Restore()

	// InstallThreadSEH bridges hardware faults on the calling thread into
	// the installed callback. Must run once on every engine worker thread.
	InstallThreadSEH()
}

// DumpWriter writes a minidump for the current process.
type DumpWriter interface {
	Write(path string, flags uint32, fault *FaultDetail) error
}

// Guard is the process-wide crash handler state. One instance per process,
// shared by all engines.
type Guard struct {
	mu       sync.Mutex
	refs     int
	handlers HandlerSet
	writer   DumpWriter
	snapshot atomic.Pointer[Snapshot]

	now func() time.Time
}

// New returns an idle guard; no handlers are registered until Install.
func New(handlers HandlerSet, writer DumpWriter) *Guard {
	return &Guard{handlers: handlers, writer: writer, now: time.Now}
}

// Install increments the reference count. The 0-to-1 transition registers
// the global handlers and publishes the snapshot; later installs never
// replace it, even after the publishing owner uninstalls. The slot refills
// only once the count has passed back through zero.
func (g *Guard) Install(snap *Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.refs++
	if g.refs == 1 {
		g.handlers.Install(g.handleFault)
		g.snapshot.Store(snap)
		logging.L("crash").Info("crash handlers registered")
	}
}

// Uninstall decrements the reference count. If owner published the current
// snapshot it is cleared first, so a fault racing this call can no longer
// reach the owner's memory. The last uninstall restores the saved handlers.
func (g *Guard) Uninstall(owner api.Engine) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if snap := g.snapshot.Load(); snap != nil && snap.Owner == owner {
		g.snapshot.Store(nil)
	}

	if g.refs == 0 {
		return
	}
	g.refs--
	if g.refs == 0 {
		g.handlers.Restore()
		logging.L("crash").Info("crash handlers restored")
	}
}

// Refs reports the current install count.
func (g *Guard) Refs() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refs
}

// InstallThreadSEH forwards to the handler set for worker threads.
func (g *Guard) InstallThreadSEH() {
	g.handlers.InstallThreadSEH()
}

// handleFault is the funnel every fault entry point ends in. It runs inside
// a fault handler on an arbitrary thread: no locks, snapshot via atomic
// load, logger flushed after every stage in case the next one dies.
func (g *Guard) handleFault(trigger string, fault *FaultDetail) {
	snap := g.snapshot.Load()

	log := logging.L("crash")
	log.Error(fmt.Sprintf("=== HydraHook Crash Handler (%s) ===", trigger))
	log.Error(fmt.Sprintf("Exception code: 0x%08X (%s)", fault.Code, ExceptionCodeName(fault.Code)))
	log.Error(fmt.Sprintf("Faulting address: 0x%X", fault.Address))
	log.Error(fmt.Sprintf("Thread ID: %d", fault.ThreadID))
	if fault.Module != "" {
		log.Error(fmt.Sprintf("Faulting module: %s + 0x%X", fault.Module, fault.ModuleOffset))
	}
	for _, line := range formatRegisters(fault.Registers) {
		log.Error(line)
	}
	logging.Flush()

	if snap != nil && snap.Veto != nil {
		if !snap.Veto(snap.Owner, fault.Code, faultInfo(fault)) {
			log.Error("crash veto callback returned false, skipping dump file")
			logging.Flush()
			return
		}
	}

	dumpType := api.DumpTypeNormal
	var configured, processDir, moduleDir, tempDir string
	procName := "unknown"
	pid := int32(0)
	if snap != nil {
		dumpType = snap.DumpType
		configured = snap.DumpDir
		processDir = snap.ProcessDir
		moduleDir = snap.ModuleDir
		tempDir = snap.TempDir
		procName = processBaseName(snap.Process)
		pid = snap.Process.PID
	}

	dir := ResolveDumpDir(configured, processDir, moduleDir, tempDir)
	path := dir + DumpFileName(procName, pid, g.now(), fault.Code)

	if err := g.writer.Write(path, DumpFlags(dumpType), fault); err != nil {
		log.Error(fmt.Sprintf("minidump failed: %v", err))
	} else {
		log.Error(fmt.Sprintf("minidump written to: %s", path))
	}
	logging.Flush()
}

func faultInfo(fault *FaultDetail) api.FaultInfo {
	return api.FaultInfo{
		Code:         fault.Code,
		CodeName:     ExceptionCodeName(fault.Code),
		Address:      fault.Address,
		Module:       fault.Module,
		ModuleOffset: fault.ModuleOffset,
		ThreadID:     fault.ThreadID,
		Registers:    fault.Registers,
	}
}

// formatRegisters renders the register dump three to a line, matching the
// crash log layout readers already grep for.
func formatRegisters(regs []api.Register) []string {
	if len(regs) == 0 {
		return nil
	}
	var lines []string
	prefix := "Registers: "
	for i := 0; i < len(regs); i += 3 {
		line := prefix
		for j := i; j < i+3 && j < len(regs); j++ {
			line += fmt.Sprintf("%s=0x%016X ", regs[j].Name, regs[j].Value)
		}
		lines = append(lines, line[:len(line)-1])
		prefix = "           "
	}
	return lines
}
