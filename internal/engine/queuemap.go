package engine

import (
	"sync"

	"github.com/hydrahook/hydrahook/internal/vtable"
)

// queueRegistry tracks ID3D12CommandQueue ownership discovered through two
// redundant paths: swapchain creation (exact) and ExecuteCommandLists
// (per-device, best effort). Injection may happen before or after the host
// creates its swapchain, so either path alone can miss.
type queueRegistry struct {
	mu          sync.Mutex
	bySwapChain map[uintptr]uintptr
	byDevice    map[uintptr]uintptr
	com         vtable.Prober
}

func newQueueRegistry(com vtable.Prober) *queueRegistry {
	return &queueRegistry{
		bySwapChain: make(map[uintptr]uintptr),
		byDevice:    make(map[uintptr]uintptr),
		com:         com,
	}
}

// recordSwapChain maps a swapchain to the queue it was created over. The
// queue is referenced while mapped; a replaced mapping releases its prior
// queue.
func (r *queueRegistry) recordSwapChain(swapchain, queue uintptr) {
	r.com.AddRef(queue)
	r.mu.Lock()
	prior := r.bySwapChain[swapchain]
	r.bySwapChain[swapchain] = queue
	r.mu.Unlock()
	if prior != 0 {
		r.com.Release(prior)
	}
}

// recordDevice maps a device to the most recent queue seen executing on it,
// replacing and releasing any prior mapping.
func (r *queueRegistry) recordDevice(device, queue uintptr) {
	r.com.AddRef(queue)
	r.mu.Lock()
	prior := r.byDevice[device]
	r.byDevice[device] = queue
	r.mu.Unlock()
	if prior != 0 {
		r.com.Release(prior)
	}
}

// lookup resolves the queue for a swapchain, preferring the exact
// swapchain-path mapping and falling back to the device-path mapping via
// GetDevice. The returned queue carries a reference the caller must release.
func (r *queueRegistry) lookup(swapchain uintptr) (uintptr, bool) {
	r.mu.Lock()
	queue, ok := r.bySwapChain[swapchain]
	r.mu.Unlock()
	if ok {
		r.com.AddRef(queue)
		return queue, true
	}

	device, ok := r.com.SwapChainDevice(swapchain)
	if !ok {
		return 0, false
	}
	defer r.com.Release(device)

	r.mu.Lock()
	queue, ok = r.byDevice[device]
	r.mu.Unlock()
	if !ok {
		return 0, false
	}
	r.com.AddRef(queue)
	return queue, true
}

// releaseAll drops every held queue reference. Called at orchestrator
// teardown, after hooks are removed.
func (r *queueRegistry) releaseAll() {
	r.mu.Lock()
	swapchains := r.bySwapChain
	devices := r.byDevice
	r.bySwapChain = make(map[uintptr]uintptr)
	r.byDevice = make(map[uintptr]uintptr)
	r.mu.Unlock()

	for _, q := range swapchains {
		r.com.Release(q)
	}
	for _, q := range devices {
		r.com.Release(q)
	}
}
