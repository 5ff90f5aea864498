package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/hydrahook/hydrahook/internal/vtable"
	"github.com/hydrahook/hydrahook/pkg/api"
)

func waitForPatch(t *testing.T, w *fakeWorld, addr, before uintptr) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for w.implPointer(addr) == before {
		if time.Now().After(deadline) {
			t.Fatalf("address 0x%X was never patched", addr)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitForRestore(t *testing.T, w *fakeWorld, addr, original uintptr) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for w.implPointer(addr) != original {
		if time.Now().After(deadline) {
			t.Fatalf("address 0x%X was never restored", addr)
		}
		time.Sleep(time.Millisecond)
	}
}

// d3d9Fixture stages one fake Direct3D 9 device entry point and records
// calls reaching the real implementation.
type d3d9Fixture struct {
	world   *fakeWorld
	present uintptr
	reset   uintptr
	scene   uintptr
	calls   []string
}

func newD3D9Fixture() *d3d9Fixture {
	f := &d3d9Fixture{world: newFakeWorld()}
	f.present = f.world.register(func(dev, a, b, c, d uintptr) uintptr {
		f.calls = append(f.calls, "original")
		return 0
	})
	f.reset = f.world.register(func(dev, pp uintptr) uintptr { return 0 })
	f.scene = f.world.register(func(dev uintptr) uintptr { return 0 })
	return f
}

func (f *d3d9Fixture) source() *fakeSource {
	return &fakeSource{d3d9: &vtable.D3D9Entries{
		Present: f.present, Reset: f.reset, EndScene: f.scene,
	}}
}

func TestD3D9DispatchOrderAndOneShotGate(t *testing.T) {
	f := newD3D9Fixture()
	origImpl := f.world.implPointer(f.present)

	var hooked []api.D3DVersion
	cfg := api.Config{}
	cfg.Direct3D.HookD3D9 = true
	cfg.GameHooked = func(e api.Engine, v api.D3DVersion) {
		hooked = append(hooked, v)
		f.calls = append(f.calls, "gamehooked")
	}

	rt := testRuntime(f.world, f.source(), newFakeProber(), newFakeOS())
	e, err := rt.Create(api.ModuleHandle(0x400000), cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitForPatch(t, f.world, f.present, origImpl)

	e.SetD3D9Events(&api.D3D9Events{
		PrePresent: func(dev api.COMPointer, a, b, c, d uintptr) {
			f.calls = append(f.calls, "pre")
		},
		PostPresent: func(dev api.COMPointer, a, b, c, d uintptr) {
			f.calls = append(f.calls, "post")
		},
	})

	const device = uintptr(0xD3D90001)
	f.world.invoke(f.present, device, 0, 0, 0, 0)
	f.world.invoke(f.present, device, 0, 0, 0, 0)

	want := []string{"gamehooked", "pre", "original", "post", "pre", "original", "post"}
	if len(f.calls) != len(want) {
		t.Fatalf("call sequence %v, want %v", f.calls, want)
	}
	for i := range want {
		if f.calls[i] != want[i] {
			t.Fatalf("call sequence %v, want %v", f.calls, want)
		}
	}
	if len(hooked) != 1 || hooked[0] != api.D3DVersion9 {
		t.Fatalf("GameHooked fired %v, want once with d3d9", hooked)
	}
	if e.Version() != api.D3DVersion9 {
		t.Fatalf("engine version = %v, want d3d9", e.Version())
	}
	if e.HookedDevice() != device {
		t.Fatalf("captured device 0x%X, want 0x%X", e.HookedDevice(), device)
	}
}

func TestSharedVtableInstallsOnePhysicalPatch(t *testing.T) {
	world := newFakeWorld()
	present := world.register(func(sc, sync, flags uintptr) uintptr { return 0 })
	resizeB := world.register(func(sc, n, w, h, fmt, fl uintptr) uintptr { return 0 })
	resizeT := world.register(func(sc, target uintptr) uintptr { return 0 })
	origImpl := world.implPointer(present)

	// D3D11 and D3D12 resolve to the identical swapchain vtable.
	shared := &vtable.DXGIEntries{Present: present, ResizeBuffers: resizeB, ResizeTarget: resizeT}
	src := &fakeSource{dxgi: map[api.D3DVersion]*vtable.DXGIEntries{
		api.D3DVersion11: shared,
		api.D3DVersion12: shared,
	}}

	prober := newFakeProber()
	const sc11, sc12 = uintptr(0x1100), uintptr(0x1200)
	prober.versionFor[sc11] = api.D3DVersion11
	prober.versionFor[sc12] = api.D3DVersion12

	cfg := api.Config{}
	cfg.Direct3D.HookD3D11 = true
	cfg.Direct3D.HookD3D12 = true

	rt := testRuntime(world, src, prober, newFakeOS())
	e, err := rt.Create(api.ModuleHandle(0x400000), cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitForPatch(t, world, present, origImpl)

	if n := world.attachCount(present); n != 1 {
		t.Fatalf("Present attached %d times, want exactly 1", n)
	}

	var got []string
	e.SetDXGIEvents(api.D3DVersion11, &api.DXGIEvents{
		PrePresent: func(api.COMPointer, uint32, uint32, *api.Extension) {
			got = append(got, "d3d11")
		},
	})
	e.SetDXGIEvents(api.D3DVersion12, &api.DXGIEvents{
		PrePresent: func(api.COMPointer, uint32, uint32, *api.Extension) {
			got = append(got, "d3d12")
		},
	})

	// Per-call branching: each swapchain routes to its own version's table.
	world.invoke(present, sc12, 1, 0)
	world.invoke(present, sc11, 1, 0)
	if len(got) != 2 || got[0] != "d3d12" || got[1] != "d3d11" {
		t.Fatalf("dispatched to %v, want [d3d12 d3d11]", got)
	}
	if e.Version() != api.D3DVersion12 {
		t.Fatalf("gate resolved %v, want d3d12 from first call", e.Version())
	}
}

func TestInstallFailureDegradesOnlyThatFamily(t *testing.T) {
	world := newFakeWorld()
	present := world.register(func(sc, sync, flags uintptr) uintptr { return 0 })
	resizeB := world.register(func(sc, n, w, h, fmt, fl uintptr) uintptr { return 0 })
	resizeT := world.register(func(sc, target uintptr) uintptr { return 0 })
	origImpl := world.implPointer(present)

	src := &fakeSource{
		err: errors.New("d3d9 runtime missing"),
		dxgi: map[api.D3DVersion]*vtable.DXGIEntries{
			api.D3DVersion11: {Present: present, ResizeBuffers: resizeB, ResizeTarget: resizeT},
		},
	}

	cfg := api.Config{}
	cfg.Direct3D.HookD3D9 = true
	cfg.Direct3D.HookD3D11 = true

	rt := testRuntime(world, src, newFakeProber(), newFakeOS())
	if _, err := rt.Create(api.ModuleHandle(0x400000), cfg); err != nil {
		t.Fatalf("Create surfaced an install error: %v", err)
	}
	// The D3D11 chain still goes live.
	waitForPatch(t, world, present, origImpl)
}

func TestD3D12QueueCaptureOnSwapChainCreate(t *testing.T) {
	world := newFakeWorld()
	present := world.register(func(sc, sync, flags uintptr) uintptr { return 0 })
	resizeB := world.register(func(sc, n, w, h, fmt, fl uintptr) uintptr { return 0 })
	resizeT := world.register(func(sc, target uintptr) uintptr { return 0 })

	const createdSC = uintptr(0x5C00)
	createSC := world.register(func(factory, device, desc, out uintptr) uintptr {
		*(*uintptr)(ptrTo(out)) = createdSC
		return 0
	})
	origCreate := world.implPointer(createSC)

	src := &fakeSource{dxgi: map[api.D3DVersion]*vtable.DXGIEntries{
		api.D3DVersion12: {
			Present: present, ResizeBuffers: resizeB, ResizeTarget: resizeT,
			CreateSwapChain: createSC,
		},
	}}

	prober := newFakeProber()
	const queueObj = uintptr(0x5D00)
	prober.queueFor[queueObj] = queueObj // the device argument is the queue

	cfg := api.Config{}
	cfg.Direct3D.HookD3D12 = true

	rt := testRuntime(world, src, prober, newFakeOS())
	if _, err := rt.Create(api.ModuleHandle(0x400000), cfg); err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitForPatch(t, world, createSC, origCreate)

	var scOut uintptr
	world.invoke(createSC, 0xFAC0, queueObj, 0, ptrVal(&scOut))
	if scOut != createdSC {
		t.Fatalf("factory out-param = 0x%X, want 0x%X", scOut, createdSC)
	}

	q, ok := rt.QueueForSwapChain(createdSC)
	if !ok || q != queueObj {
		t.Fatalf("QueueForSwapChain = (0x%X, %v), want queue 0x%X", q, ok, queueObj)
	}
	prober.Release(q)
}

func TestExecuteCommandListsQueueFallback(t *testing.T) {
	world := newFakeWorld()
	present := world.register(func(sc, sync, flags uintptr) uintptr { return 0 })
	resizeB := world.register(func(sc, n, w, h, fmt, fl uintptr) uintptr { return 0 })
	resizeT := world.register(func(sc, target uintptr) uintptr { return 0 })
	exec := world.register(func(queue, n, lists uintptr) uintptr { return 0 })
	origExec := world.implPointer(exec)

	src := &fakeSource{dxgi: map[api.D3DVersion]*vtable.DXGIEntries{
		api.D3DVersion12: {
			Present: present, ResizeBuffers: resizeB, ResizeTarget: resizeT,
			ExecuteCommandLists: exec,
		},
	}}

	prober := newFakeProber()
	const queue, device, sc = uintptr(0x600), uintptr(0x700), uintptr(0x800)
	prober.ownerFor[queue] = device
	prober.deviceFor[sc] = device

	cfg := api.Config{}
	cfg.Direct3D.HookD3D12 = true

	rt := testRuntime(world, src, prober, newFakeOS())
	if _, err := rt.Create(api.ModuleHandle(0x400000), cfg); err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitForPatch(t, world, exec, origExec)

	world.invoke(exec, queue, 1, 0)

	// No swapchain mapping exists, so lookup goes through the device path.
	q, ok := rt.QueueForSwapChain(sc)
	if !ok || q != queue {
		t.Fatalf("QueueForSwapChain = (0x%X, %v), want queue 0x%X via device", q, ok, queue)
	}
	prober.Release(q)
}

func TestAudioDispatch(t *testing.T) {
	world := newFakeWorld()
	getBuf := world.register(func(client, frames, out uintptr) uintptr { return 0 })
	relBuf := world.register(func(client, frames, flags uintptr) uintptr { return 0 })
	origGet := world.implPointer(getBuf)

	src := &fakeSource{audio: &vtable.AudioEntries{GetBuffer: getBuf, ReleaseBuffer: relBuf}}

	cfg := api.Config{}
	cfg.CoreAudio.HookCoreAudio = true

	rt := testRuntime(world, src, newFakeProber(), newFakeOS())
	e, err := rt.Create(api.ModuleHandle(0x400000), cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitForPatch(t, world, getBuf, origGet)

	var pre, post int
	e.SetAudioEvents(&api.AudioEvents{
		PreGetBuffer: func(c api.COMPointer, n uint32, d uintptr, ext *api.Extension) {
			pre++
			if ext == nil || ext.Engine != e {
				t.Fatal("extension payload missing engine")
			}
		},
		PostGetBuffer: func(api.COMPointer, uint32, uintptr, *api.Extension) { post++ },
	})

	world.invoke(getBuf, 0xA001, 480, 0)
	if pre != 1 || post != 1 {
		t.Fatalf("pre=%d post=%d, want 1/1", pre, post)
	}
}

func TestExitProcessShutdownSequence(t *testing.T) {
	f := newD3D9Fixture()
	origPresent := f.world.implPointer(f.present)

	var exitCode uintptr
	exited := false
	realExit := f.world.register(func(code uintptr) uintptr {
		exitCode, exited = code, true
		return 0
	})
	origExitImpl := f.world.implPointer(realExit)

	fos := newFakeOS()
	fos.procs["kernel32.dll!ExitProcess"] = realExit

	var order []string
	cfg := api.Config{}
	cfg.Direct3D.HookD3D9 = true
	cfg.PreExit = func(api.Engine) { order = append(order, "preexit") }
	cfg.PreUnhook = func(api.Engine) { order = append(order, "preunhook") }
	cfg.PostUnhook = func(api.Engine) { order = append(order, "postunhook") }

	rt := testRuntime(f.world, f.source(), newFakeProber(), fos)
	if _, err := rt.Create(api.ModuleHandle(0x400000), cfg); err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitForPatch(t, f.world, f.present, origPresent)

	// Host calls ExitProcess: the detour must run the whole teardown and
	// then chain to the real export.
	f.world.invoke(fos.procs["kernel32.dll!ExitProcess"], 7)

	if !exited || exitCode != 7 {
		t.Fatalf("real ExitProcess not chained (exited=%v code=%d)", exited, exitCode)
	}
	if f.world.implPointer(realExit) != origExitImpl {
		t.Fatal("ExitProcess patch was not removed before chaining")
	}
	waitForRestore(t, f.world, f.present, origPresent)

	if len(order) != 3 || order[0] != "preexit" || order[1] != "preunhook" || order[2] != "postunhook" {
		t.Fatalf("callback order %v, want [preexit preunhook postunhook]", order)
	}
}

func TestDetachCleanupStripsPatchesWithoutCallbacks(t *testing.T) {
	f := newD3D9Fixture()
	origPresent := f.world.implPointer(f.present)

	var callbacks int
	cfg := api.Config{}
	cfg.Direct3D.HookD3D9 = true
	cfg.PreUnhook = func(api.Engine) { callbacks++ }
	cfg.PostUnhook = func(api.Engine) { callbacks++ }
	cfg.PreExit = func(api.Engine) { callbacks++ }

	rt := testRuntime(f.world, f.source(), newFakeProber(), newFakeOS())
	if _, err := rt.Create(api.ModuleHandle(0x400000), cfg); err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitForPatch(t, f.world, f.present, origPresent)

	rt.NotifyProcessDetach()

	if f.world.implPointer(f.present) != origPresent {
		t.Fatal("detach cleanup left the patch installed")
	}
	if callbacks != 0 {
		t.Fatalf("detach fired %d callbacks, want none under the loader lock", callbacks)
	}

	// The signalled worker must not run a second teardown.
	for _, e := range rt.Engines() {
		select {
		case <-e.workerDone:
		case <-time.After(2 * time.Second):
			t.Fatal("worker never exited after detach cleanup")
		}
	}
	if callbacks != 0 {
		t.Fatalf("worker teardown fired %d callbacks after detach cleanup", callbacks)
	}
}

func TestDetachCleanupStripsShutdownHooks(t *testing.T) {
	f := newD3D9Fixture()
	origPresent := f.world.implPointer(f.present)

	realExit := f.world.register(func(code uintptr) uintptr { return 0 })
	realQuit := f.world.register(func(code uintptr) uintptr { return 0 })
	origExitImpl := f.world.implPointer(realExit)
	origQuitImpl := f.world.implPointer(realQuit)

	fos := newFakeOS()
	fos.procs["kernel32.dll!ExitProcess"] = realExit
	fos.procs["user32.dll!PostQuitMessage"] = realQuit

	cfg := api.Config{}
	cfg.Direct3D.HookD3D9 = true

	rt := testRuntime(f.world, f.source(), newFakeProber(), fos)
	if _, err := rt.Create(api.ModuleHandle(0x400000), cfg); err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitForPatch(t, f.world, f.present, origPresent)
	waitForPatch(t, f.world, realExit, origExitImpl)
	waitForPatch(t, f.world, realQuit, origQuitImpl)

	rt.NotifyProcessDetach()

	// The shutdown patches live on the runtime, outside any engine's hook
	// list; leaving them behind would strand detours in unmapped code.
	if f.world.implPointer(realExit) != origExitImpl {
		t.Fatal("detach cleanup left ExitProcess patched")
	}
	if f.world.implPointer(realQuit) != origQuitImpl {
		t.Fatal("detach cleanup left PostQuitMessage patched")
	}
	if f.world.implPointer(f.present) != origPresent {
		t.Fatal("detach cleanup left the Present patch installed")
	}
}
