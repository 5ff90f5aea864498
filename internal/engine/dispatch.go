package engine

import (
	"unsafe"

	"github.com/hydrahook/hydrahook/internal/detour"
	"github.com/hydrahook/hydrahook/pkg/api"
)

// derefPointer reads the interface pointer stored at an out-parameter
// address.
func derefPointer(addr uintptr) uintptr {
	if addr == 0 {
		return 0
	}
	return *(*uintptr)(unsafe.Pointer(addr))
}

// Detour factories. Each closure captures its own hook because a host
// thread may run the detour the moment the patch commits; reading the
// trampoline through orchestrator fields would race with their assignment.
//
// Every body follows the same contract: mark the call in flight, resolve
// the one-shot gate before any callback, fire Pre unless shutdown was
// sampled at entry, call through the trampoline, fire Post under the same
// sample, unmark. The original is always called, even while callbacks are
// suppressed.

// resolveDXGIVersion picks the API version owning this call. Chains serving
// a single version answer directly; shared chains probe the swapchain's
// device per call.
func (o *orchestrator) resolveDXGIVersion(c *dxgiChain, swapchain uintptr) api.D3DVersion {
	if len(c.versions) == 1 {
		return c.versions[0]
	}
	if v, ok := o.rt.prober.DeviceVersion(swapchain); ok && c.hasVersion(v) {
		return v
	}
	return c.versions[0]
}

// Direct3D 9 / 9Ex.

func (o *orchestrator) d3d9PresentDetour(h *detour.Hook) any {
	return func(device, srcRect, dstRect, destWindow, dirtyRegion uintptr) uintptr {
		g := o.e.tracker.enter()
		defer g.exit()

		o.fireGameHooked(device, api.D3DVersion9)
		events := o.e.d3d9Events.Load()
		if !g.Skip() && events != nil && events.PrePresent != nil {
			events.PrePresent(api.COMPointer(device), srcRect, dstRect, destWindow, dirtyRegion)
		}
		ret := o.invoke(h.Orig(), device, srcRect, dstRect, destWindow, dirtyRegion)
		if !g.Skip() && events != nil && events.PostPresent != nil {
			events.PostPresent(api.COMPointer(device), srcRect, dstRect, destWindow, dirtyRegion)
		}
		return ret
	}
}

func (o *orchestrator) d3d9ResetDetour(h *detour.Hook) any {
	return func(device, presentParams uintptr) uintptr {
		g := o.e.tracker.enter()
		defer g.exit()

		o.fireGameHooked(device, api.D3DVersion9)
		events := o.e.d3d9Events.Load()
		if !g.Skip() && events != nil && events.PreReset != nil {
			events.PreReset(api.COMPointer(device), presentParams)
		}
		ret := o.invoke(h.Orig(), device, presentParams)
		if !g.Skip() && events != nil && events.PostReset != nil {
			events.PostReset(api.COMPointer(device), presentParams)
		}
		return ret
	}
}

func (o *orchestrator) d3d9EndSceneDetour(h *detour.Hook) any {
	return func(device uintptr) uintptr {
		g := o.e.tracker.enter()
		defer g.exit()

		o.fireGameHooked(device, api.D3DVersion9)
		events := o.e.d3d9Events.Load()
		if !g.Skip() && events != nil && events.PreEndScene != nil {
			events.PreEndScene(api.COMPointer(device))
		}
		ret := o.invoke(h.Orig(), device)
		if !g.Skip() && events != nil && events.PostEndScene != nil {
			events.PostEndScene(api.COMPointer(device))
		}
		return ret
	}
}

func (o *orchestrator) d3d9PresentExDetour(h *detour.Hook) any {
	return func(device, srcRect, dstRect, destWindow, dirtyRegion, flags uintptr) uintptr {
		g := o.e.tracker.enter()
		defer g.exit()

		o.fireGameHooked(device, api.D3DVersion9)
		events := o.e.d3d9Events.Load()
		if !g.Skip() && events != nil && events.PrePresentEx != nil {
			events.PrePresentEx(api.COMPointer(device), srcRect, dstRect, destWindow, dirtyRegion, uint32(flags))
		}
		ret := o.invoke(h.Orig(), device, srcRect, dstRect, destWindow, dirtyRegion, flags)
		if !g.Skip() && events != nil && events.PostPresentEx != nil {
			events.PostPresentEx(api.COMPointer(device), srcRect, dstRect, destWindow, dirtyRegion, uint32(flags))
		}
		return ret
	}
}

func (o *orchestrator) d3d9ResetExDetour(h *detour.Hook) any {
	return func(device, presentParams, displayMode uintptr) uintptr {
		g := o.e.tracker.enter()
		defer g.exit()

		o.fireGameHooked(device, api.D3DVersion9)
		events := o.e.d3d9Events.Load()
		if !g.Skip() && events != nil && events.PreResetEx != nil {
			events.PreResetEx(api.COMPointer(device), presentParams, displayMode)
		}
		ret := o.invoke(h.Orig(), device, presentParams, displayMode)
		if !g.Skip() && events != nil && events.PostResetEx != nil {
			events.PostResetEx(api.COMPointer(device), presentParams, displayMode)
		}
		return ret
	}
}

// DXGI swapchain (D3D10/11/12). Detours are built per chain so a shared
// vtable keeps a single physical patch.

func (o *orchestrator) dxgiPresentDetour(c *dxgiChain) func(*detour.Hook) any {
	return func(h *detour.Hook) any {
		return func(swapchain, syncInterval, flags uintptr) uintptr {
			g := o.e.tracker.enter()
			defer g.exit()

			version := o.resolveDXGIVersion(c, swapchain)
			o.fireGameHooked(swapchain, version)
			events := o.e.dxgiEvents(version)
			ext := o.e.extension()
			if !g.Skip() && events != nil && events.PrePresent != nil {
				events.PrePresent(api.COMPointer(swapchain), uint32(syncInterval), uint32(flags), ext)
			}
			ret := o.invoke(h.Orig(), swapchain, syncInterval, flags)
			if !g.Skip() && events != nil && events.PostPresent != nil {
				events.PostPresent(api.COMPointer(swapchain), uint32(syncInterval), uint32(flags), ext)
			}
			return ret
		}
	}
}

func (o *orchestrator) dxgiResizeTargetDetour(c *dxgiChain) func(*detour.Hook) any {
	return func(h *detour.Hook) any {
		return func(swapchain, newTarget uintptr) uintptr {
			g := o.e.tracker.enter()
			defer g.exit()

			version := o.resolveDXGIVersion(c, swapchain)
			o.fireGameHooked(swapchain, version)
			events := o.e.dxgiEvents(version)
			ext := o.e.extension()
			if !g.Skip() && events != nil && events.PreResizeTarget != nil {
				events.PreResizeTarget(api.COMPointer(swapchain), newTarget, ext)
			}
			ret := o.invoke(h.Orig(), swapchain, newTarget)
			if !g.Skip() && events != nil && events.PostResizeTarget != nil {
				events.PostResizeTarget(api.COMPointer(swapchain), newTarget, ext)
			}
			return ret
		}
	}
}

func (o *orchestrator) dxgiResizeBuffersDetour(c *dxgiChain) func(*detour.Hook) any {
	return func(h *detour.Hook) any {
		return func(swapchain, bufferCount, width, height, format, scFlags uintptr) uintptr {
			g := o.e.tracker.enter()
			defer g.exit()

			version := o.resolveDXGIVersion(c, swapchain)
			o.fireGameHooked(swapchain, version)
			events := o.e.dxgiEvents(version)
			ext := o.e.extension()
			if !g.Skip() && events != nil && events.PreResizeBuffers != nil {
				events.PreResizeBuffers(api.COMPointer(swapchain), uint32(bufferCount),
					uint32(width), uint32(height), uint32(format), uint32(scFlags), ext)
			}
			ret := o.invoke(h.Orig(), swapchain, bufferCount, width, height, format, scFlags)
			if !g.Skip() && events != nil && events.PostResizeBuffers != nil {
				events.PostResizeBuffers(api.COMPointer(swapchain), uint32(bufferCount),
					uint32(width), uint32(height), uint32(format), uint32(scFlags), ext)
			}
			return ret
		}
	}
}

// Present1 and ResizeBuffers1 route into the same Present/ResizeBuffers
// tables; the extended parameters have no extra callback surface.

func (o *orchestrator) dxgiPresent1Detour(c *dxgiChain) func(*detour.Hook) any {
	return func(h *detour.Hook) any {
		return func(swapchain, syncInterval, flags, presentParams uintptr) uintptr {
			g := o.e.tracker.enter()
			defer g.exit()

			version := o.resolveDXGIVersion(c, swapchain)
			o.fireGameHooked(swapchain, version)
			events := o.e.dxgiEvents(version)
			ext := o.e.extension()
			if !g.Skip() && events != nil && events.PrePresent != nil {
				events.PrePresent(api.COMPointer(swapchain), uint32(syncInterval), uint32(flags), ext)
			}
			ret := o.invoke(h.Orig(), swapchain, syncInterval, flags, presentParams)
			if !g.Skip() && events != nil && events.PostPresent != nil {
				events.PostPresent(api.COMPointer(swapchain), uint32(syncInterval), uint32(flags), ext)
			}
			return ret
		}
	}
}

func (o *orchestrator) dxgiResizeBuffers1Detour(c *dxgiChain) func(*detour.Hook) any {
	return func(h *detour.Hook) any {
		return func(swapchain, bufferCount, width, height, format, scFlags, nodeMask, presentQueues uintptr) uintptr {
			g := o.e.tracker.enter()
			defer g.exit()

			version := o.resolveDXGIVersion(c, swapchain)
			o.fireGameHooked(swapchain, version)
			events := o.e.dxgiEvents(version)
			ext := o.e.extension()
			if !g.Skip() && events != nil && events.PreResizeBuffers != nil {
				events.PreResizeBuffers(api.COMPointer(swapchain), uint32(bufferCount),
					uint32(width), uint32(height), uint32(format), uint32(scFlags), ext)
			}
			ret := o.invoke(h.Orig(), swapchain, bufferCount, width, height,
				format, scFlags, nodeMask, presentQueues)
			if !g.Skip() && events != nil && events.PostResizeBuffers != nil {
				events.PostResizeBuffers(api.COMPointer(swapchain), uint32(bufferCount),
					uint32(width), uint32(height), uint32(format), uint32(scFlags), ext)
			}
			return ret
		}
	}
}

// D3D12 command-queue capture. No callback surface; the detours only feed
// the swapchain-to-queue registry.

// captureQueueFromCreate records the queue when the device argument of a
// factory swapchain creation is in fact an ID3D12CommandQueue. Flip-model
// D3D12 swapchains are created over the queue, not the device.
func (o *orchestrator) captureQueueFromCreate(device, swapchainOut uintptr) {
	if device == 0 || swapchainOut == 0 {
		return
	}
	queue, ok := o.rt.prober.CommandQueue(device)
	if !ok {
		return
	}
	o.rt.queues.recordSwapChain(swapchainOut, queue)
	o.rt.prober.Release(queue)
}

func (o *orchestrator) createSwapChainDetour(h *detour.Hook) any {
	return func(factory, device, desc, swapchainOut uintptr) uintptr {
		g := o.e.tracker.enter()
		defer g.exit()

		ret := o.invoke(h.Orig(), factory, device, desc, swapchainOut)
		if int32(ret) >= 0 {
			o.captureQueueFromCreate(device, derefPointer(swapchainOut))
		}
		return ret
	}
}

func (o *orchestrator) createSwapChainForHwndDetour(h *detour.Hook) any {
	return func(factory, device, hwnd, desc, fullscreenDesc, restrictOutput, swapchainOut uintptr) uintptr {
		g := o.e.tracker.enter()
		defer g.exit()

		ret := o.invoke(h.Orig(), factory, device, hwnd, desc,
			fullscreenDesc, restrictOutput, swapchainOut)
		if int32(ret) >= 0 {
			o.captureQueueFromCreate(device, derefPointer(swapchainOut))
		}
		return ret
	}
}

func (o *orchestrator) execCommandListsDetour(h *detour.Hook) any {
	return func(queue, numLists, lists uintptr) uintptr {
		g := o.e.tracker.enter()
		defer g.exit()

		if device, ok := o.rt.prober.QueueDevice(queue); ok {
			o.rt.queues.recordDevice(device, queue)
			o.rt.prober.Release(device)
		}
		return o.invoke(h.Orig(), queue, numLists, lists)
	}
}

// Core Audio.

func (o *orchestrator) audioGetBufferDetour(h *detour.Hook) any {
	return func(client, framesRequested, dataOut uintptr) uintptr {
		g := o.e.tracker.enter()
		defer g.exit()

		o.fireGameHooked(client, o.e.Version())
		events := o.e.audioEvents.Load()
		ext := o.e.extension()
		if !g.Skip() && events != nil && events.PreGetBuffer != nil {
			events.PreGetBuffer(api.COMPointer(client), uint32(framesRequested), dataOut, ext)
		}
		ret := o.invoke(h.Orig(), client, framesRequested, dataOut)
		if !g.Skip() && events != nil && events.PostGetBuffer != nil {
			events.PostGetBuffer(api.COMPointer(client), uint32(framesRequested), dataOut, ext)
		}
		return ret
	}
}

func (o *orchestrator) audioReleaseBufferDetour(h *detour.Hook) any {
	return func(client, framesWritten, flags uintptr) uintptr {
		g := o.e.tracker.enter()
		defer g.exit()

		o.fireGameHooked(client, o.e.Version())
		events := o.e.audioEvents.Load()
		ext := o.e.extension()
		if !g.Skip() && events != nil && events.PreReleaseBuffer != nil {
			events.PreReleaseBuffer(api.COMPointer(client), uint32(framesWritten), uint32(flags), ext)
		}
		ret := o.invoke(h.Orig(), client, framesWritten, flags)
		if !g.Skip() && events != nil && events.PostReleaseBuffer != nil {
			events.PostReleaseBuffer(api.COMPointer(client), uint32(framesWritten), uint32(flags), ext)
		}
		return ret
	}
}
