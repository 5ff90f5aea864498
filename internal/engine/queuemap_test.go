package engine

import (
	"testing"

	"github.com/hydrahook/hydrahook/pkg/api"
)

// fakeProber tracks COM reference counts and answers GetDevice lookups.
type fakeProber struct {
	refs       map[uintptr]int
	deviceFor  map[uintptr]uintptr // swapchain -> device
	versionFor map[uintptr]api.D3DVersion
	queueFor   map[uintptr]uintptr // obj -> queue (QueryInterface answers)
	ownerFor   map[uintptr]uintptr // queue -> device
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		refs:       map[uintptr]int{},
		deviceFor:  map[uintptr]uintptr{},
		versionFor: map[uintptr]api.D3DVersion{},
		queueFor:   map[uintptr]uintptr{},
		ownerFor:   map[uintptr]uintptr{},
	}
}

func (p *fakeProber) DeviceVersion(sc uintptr) (api.D3DVersion, bool) {
	v, ok := p.versionFor[sc]
	return v, ok
}

func (p *fakeProber) CommandQueue(obj uintptr) (uintptr, bool) {
	q, ok := p.queueFor[obj]
	if ok {
		p.refs[q]++
	}
	return q, ok
}

func (p *fakeProber) SwapChainDevice(sc uintptr) (uintptr, bool) {
	d, ok := p.deviceFor[sc]
	if ok {
		p.refs[d]++
	}
	return d, ok
}

func (p *fakeProber) QueueDevice(q uintptr) (uintptr, bool) {
	d, ok := p.ownerFor[q]
	if ok {
		p.refs[d]++
	}
	return d, ok
}

func (p *fakeProber) AddRef(obj uintptr)  { p.refs[obj]++ }
func (p *fakeProber) Release(obj uintptr) { p.refs[obj]-- }

func TestQueueLookupPrefersSwapChainPath(t *testing.T) {
	p := newFakeProber()
	r := newQueueRegistry(p)

	const (
		sc        = uintptr(0x100)
		device    = uintptr(0x200)
		scQueue   = uintptr(0x300)
		execQueue = uintptr(0x400)
	)
	p.deviceFor[sc] = device

	r.recordDevice(device, execQueue)
	r.recordSwapChain(sc, scQueue)

	got, ok := r.lookup(sc)
	if !ok || got != scQueue {
		t.Fatalf("lookup = (0x%X, %v), want swapchain-path queue 0x%X", got, ok, scQueue)
	}
	p.Release(got) // caller releases

	// Without a swapchain entry, the device path is used.
	r2 := newQueueRegistry(p)
	r2.recordDevice(device, execQueue)
	got, ok = r2.lookup(sc)
	if !ok || got != execQueue {
		t.Fatalf("fallback lookup = (0x%X, %v), want device-path queue 0x%X", got, ok, execQueue)
	}
	p.Release(got)
}

func TestQueueLookupReturnsReferencedPointer(t *testing.T) {
	p := newFakeProber()
	r := newQueueRegistry(p)
	const sc, queue = uintptr(0x100), uintptr(0x300)

	r.recordSwapChain(sc, queue)
	if p.refs[queue] != 1 {
		t.Fatalf("mapped queue holds %d refs, want 1", p.refs[queue])
	}

	got, _ := r.lookup(sc)
	if p.refs[got] != 2 {
		t.Fatalf("looked-up queue holds %d refs, want 2", p.refs[got])
	}
}

func TestRecordDeviceReplacesAndReleasesPrior(t *testing.T) {
	p := newFakeProber()
	r := newQueueRegistry(p)
	const device, q1, q2 = uintptr(0x200), uintptr(0x300), uintptr(0x400)

	r.recordDevice(device, q1)
	r.recordDevice(device, q2)
	if p.refs[q1] != 0 {
		t.Fatalf("replaced queue still holds %d refs", p.refs[q1])
	}
	if p.refs[q2] != 1 {
		t.Fatalf("current queue holds %d refs, want 1", p.refs[q2])
	}
}

func TestReleaseAllDropsEveryReference(t *testing.T) {
	p := newFakeProber()
	r := newQueueRegistry(p)

	r.recordSwapChain(0x100, 0x300)
	r.recordDevice(0x200, 0x400)
	r.releaseAll()

	for obj, n := range p.refs {
		if n != 0 {
			t.Fatalf("object 0x%X still holds %d refs", obj, n)
		}
	}
	if _, ok := r.lookup(0x100); ok {
		t.Fatal("lookup succeeded after releaseAll")
	}
}

func TestLookupMissingEverywhere(t *testing.T) {
	p := newFakeProber()
	r := newQueueRegistry(p)
	if _, ok := r.lookup(0x999); ok {
		t.Fatal("lookup invented a queue")
	}
}
