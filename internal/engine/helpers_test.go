package engine

import (
	"io"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/hydrahook/hydrahook/internal/crash"
	"github.com/hydrahook/hydrahook/internal/detour"
	"github.com/hydrahook/hydrahook/internal/vtable"
	"github.com/hydrahook/hydrahook/internal/winutil"
	"github.com/hydrahook/hydrahook/pkg/api"
)

// fakeWorld simulates a patchable address space: every "address" is a slot
// holding a Go function, and patching rebinds slots the way a real detour
// rewrites a prologue.
type fakeWorld struct {
	mu       sync.Mutex
	slots    map[uintptr]reflect.Value
	attaches map[uintptr]int
	next     uintptr
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		slots:    map[uintptr]reflect.Value{},
		attaches: map[uintptr]int{},
		next:     0x10000,
	}
}

// implPointer identifies the function currently bound at an address, for
// observing patch installs and removals.
func (w *fakeWorld) implPointer(addr uintptr) uintptr {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.slots[addr].Pointer()
}

func (w *fakeWorld) attachCount(addr uintptr) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attaches[addr]
}

func (w *fakeWorld) register(fn any) uintptr {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next += 0x10
	w.slots[w.next] = reflect.ValueOf(fn)
	return w.next
}

func (w *fakeWorld) invoke(fn uintptr, args ...uintptr) uintptr {
	w.mu.Lock()
	f, ok := w.slots[fn]
	w.mu.Unlock()
	if !ok {
		panic("call to unmapped address")
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		in[i] = reflect.ValueOf(a)
	}
	out := f.Call(in)
	if len(out) == 0 {
		return 0
	}
	return out[0].Interface().(uintptr)
}

// testWorld is the world the platform bridges route through. Stored per
// test; the engine tests in this package do not run in parallel.
var testWorld atomic.Pointer[fakeWorld]

func init() {
	platformBind = func(fn any) uintptr {
		return testWorld.Load().register(fn)
	}
	platformInvoke = func(fn uintptr, args ...uintptr) uintptr {
		return testWorld.Load().invoke(fn, args...)
	}
}

// worldPatcher implements detour.Patcher over fakeWorld slots with real
// transactional semantics: attach moves the target's old function to a
// fresh trampoline slot and rebinds the target to the detour.
type worldPatcher struct {
	w *fakeWorld
}

type worldTxn struct {
	w   *fakeWorld
	ops []func() error
}

func (p worldPatcher) Begin() (detour.Transaction, error) {
	return &worldTxn{w: p.w}, nil
}

func (t *worldTxn) Attach(target, replacement uintptr) (*uintptr, error) {
	orig := new(uintptr)
	t.ops = append(t.ops, func() error {
		t.w.mu.Lock()
		defer t.w.mu.Unlock()
		impl, ok := t.w.slots[target]
		if !ok {
			return detour.ErrTargetTooSmall
		}
		t.w.next += 0x10
		t.w.slots[t.w.next] = impl
		*orig = t.w.next
		t.w.slots[target] = t.w.slots[replacement]
		t.w.attaches[target]++
		return nil
	})
	return orig, nil
}

func (t *worldTxn) Detach(target, replacement, original uintptr) error {
	t.ops = append(t.ops, func() error {
		t.w.mu.Lock()
		defer t.w.mu.Unlock()
		impl, ok := t.w.slots[original]
		if !ok {
			return detour.ErrNotApplied
		}
		t.w.slots[target] = impl
		delete(t.w.slots, original)
		return nil
	})
	return nil
}

func (t *worldTxn) Commit() error {
	for _, op := range t.ops {
		if err := op(); err != nil {
			return err
		}
	}
	return nil
}

func (t *worldTxn) Abort() error {
	t.ops = nil
	return nil
}

// fakeSource hands out whatever entry tables a test staged.
type fakeSource struct {
	d3d9    *vtable.D3D9Entries
	dxgi    map[api.D3DVersion]*vtable.DXGIEntries
	audio   *vtable.AudioEntries
	err     error
	dxgiErr map[api.D3DVersion]error
}

func (s *fakeSource) D3D9() (*vtable.D3D9Entries, error) {
	if s.d3d9 == nil {
		return nil, s.errOr()
	}
	return s.d3d9, nil
}

func (s *fakeSource) DXGI(v api.D3DVersion) (*vtable.DXGIEntries, error) {
	if err, ok := s.dxgiErr[v]; ok {
		return nil, err
	}
	e, ok := s.dxgi[v]
	if !ok {
		return nil, s.errOr()
	}
	return e, nil
}

func (s *fakeSource) Audio() (*vtable.AudioEntries, error) {
	if s.audio == nil {
		return nil, s.errOr()
	}
	return s.audio, nil
}

func (s *fakeSource) errOr() error {
	if s.err != nil {
		return s.err
	}
	return detour.ErrTargetTooSmall
}

// fakeEvent is a channel-backed auto-reset event.
type fakeEvent struct {
	ch     chan struct{}
	closed atomic.Bool
}

func newFakeEvent() *fakeEvent {
	return &fakeEvent{ch: make(chan struct{}, 1)}
}

func (e *fakeEvent) Set() error {
	select {
	case e.ch <- struct{}{}:
	default:
	}
	return nil
}

func (e *fakeEvent) Wait(timeout time.Duration) (bool, error) {
	if timeout < 0 {
		<-e.ch
		return true, nil
	}
	select {
	case <-e.ch:
		return true, nil
	case <-time.After(timeout):
		return false, nil
	}
}

func (e *fakeEvent) Close() error {
	e.closed.Store(true)
	return nil
}

// fakeOS satisfies osServices without a Windows loader.
type fakeOS struct {
	mu          sync.Mutex
	pins        int
	frees       int
	procs       map[string]uintptr
	eventErr    error
	logOpenErr  error
	logWrites   io.Writer
	procDir     string
	modDir      string
	lastEvent   *fakeEvent
	identityVal winutil.ProcessIdentity
}

func newFakeOS() *fakeOS {
	return &fakeOS{
		procs:     map[string]uintptr{},
		logWrites: io.Discard,
		procDir:   `C:\Game\`,
		modDir:    `C:\Game\mods\`,
		identityVal: winutil.ProcessIdentity{
			PID: 4242, Name: "game.exe", Executable: `C:\Game\game.exe`,
		},
	}
}

func (f *fakeOS) PinModule(addr uintptr) (uintptr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pins++
	return addr, nil
}

func (f *fakeOS) FreeModule(uintptr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frees++
	return nil
}

func (f *fakeOS) NewEvent() (waitEvent, error) {
	if f.eventErr != nil {
		return nil, f.eventErr
	}
	ev := newFakeEvent()
	f.mu.Lock()
	f.lastEvent = ev
	f.mu.Unlock()
	return ev, nil
}

func (f *fakeOS) ProcessDirectory() (string, error)       { return f.procDir, nil }
func (f *fakeOS) ModuleDirectory(uintptr) (string, error) { return f.modDir, nil }
func (f *fakeOS) TempDir() string                         { return `C:\Temp` }

func (f *fakeOS) OpenLogFile(string) (io.Writer, error) {
	if f.logOpenErr != nil {
		return nil, f.logOpenErr
	}
	return f.logWrites, nil
}

func (f *fakeOS) Console() io.Writer { return io.Discard }

func (f *fakeOS) Yield() { runtime.Gosched() }

func (f *fakeOS) Identity() winutil.ProcessIdentity { return f.identityVal }

func (f *fakeOS) ProcAddress(dll, proc string) uintptr {
	return f.procs[dll+"!"+proc]
}

// Crash guard fakes, just enough surface for lifecycle wiring.
type nullHandlers struct{}

func (nullHandlers) Install(func(string, *crash.FaultDetail)) {}
func (nullHandlers) Restore()                                 {}
func (nullHandlers) InstallThreadSEH()                        {}

type nullWriter struct{}

func (nullWriter) Write(string, uint32, *crash.FaultDetail) error { return nil }

// ptrVal and ptrTo move a Go pointer through a uintptr detour argument and
// back, standing in for a COM out-parameter.
func ptrVal(p *uintptr) uintptr { return uintptr(unsafe.Pointer(p)) }

func ptrTo(addr uintptr) unsafe.Pointer { return unsafe.Pointer(addr) }

// testRuntime builds a runtime wired entirely to fakes.
func testRuntime(world *fakeWorld, src vtable.Source, prober vtable.Prober, os *fakeOS) *Runtime {
	testWorld.Store(world)
	guard := crash.New(nullHandlers{}, nullWriter{})
	return NewRuntime(worldPatcher{world}, src, prober, guard, os)
}
