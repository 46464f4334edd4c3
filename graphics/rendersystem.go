package graphics

import (
	"fmt"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// Renderer records draw commands into one render stage. Renderers run in
// registration order inside each stage's pass.
type Renderer interface {
	Record(cmd *CommandBuffer, stage *RenderStage, imageIndex int) error
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(cmd *CommandBuffer, stage *RenderStage, imageIndex int) error

func (f RendererFunc) Record(cmd *CommandBuffer, stage *RenderStage, imageIndex int) error {
	return f(cmd, stage, imageIndex)
}

// RenderTarget is the per-surface render state: the swapchain, its image
// views, the render stages drawing to it and the frame sync ring.
type RenderTarget struct {
	Surface   Surface
	VKSurface vk.Surface
	Swapchain *Swapchain

	Stages []*RenderStage
	Frames *SurfaceFrames

	swapImages []*Image
	swapViews  []*ImageView
}

// ImageCount returns the swapchain image count.
func (t *RenderTarget) ImageCount() int {
	return len(t.swapImages)
}

// RenderSystemOptions configures the render system before Initialize.
type RenderSystemOptions struct {
	AppName    string
	AppVersion Version
	// FramesInFlight of zero defaults to 2.
	FramesInFlight   int
	EnableValidation bool
	// DeviceExtensions beyond the always-required swapchain extension.
	DeviceExtensions []string
	// PreferredPresentMode of nil lets the swapchain negotiation pick.
	PreferredPresentMode *vk.PresentMode
}

// RenderSystem owns the Vulkan instance, device and per-surface state and
// runs the frame loop. Surfaces and stage layouts are declared up front;
// Initialize builds everything, Update draws one frame per surface and
// Shutdown tears down in reverse order.
type RenderSystem struct {
	Options  RenderSystemOptions
	Surfaces []Surface
	// StageLayouts declares the attachments of each render stage, built
	// per surface in order.
	StageLayouts [][]Attachment

	Instance  *Instance
	Device    *Device
	Allocator Allocator
	Targets   []*RenderTarget

	poolCache *CommandPool
	workers   *CommandPoolCache
	renderers []Renderer

	// Seams for the frame protocol. Initialize installs the Vulkan-backed
	// defaults; they stay settable so the loop logic can run headless.
	waitFrame      func(t *RenderTarget) error
	acquireImage   func(t *RenderTarget, signal vk.Semaphore) (int, vk.Result)
	recordFrame    func(t *RenderTarget, imageIndex int) error
	submitFrame    func(t *RenderTarget) error
	presentImage   func(t *RenderTarget, imageIndex int, wait vk.Semaphore) vk.Result
	recreateTarget func(t *RenderTarget) error
	advanceFrame   func(t *RenderTarget)
}

func NewRenderSystem(options RenderSystemOptions, surfaces ...Surface) *RenderSystem {
	if options.FramesInFlight == 0 {
		options.FramesInFlight = 2
	}
	r := &RenderSystem{
		Options:  options,
		Surfaces: surfaces,
	}
	r.installDefaults()
	return r
}

func (r *RenderSystem) installDefaults() {
	r.waitFrame = func(t *RenderTarget) error {
		return t.Frames.WaitCurrent()
	}
	r.acquireImage = func(t *RenderTarget, signal vk.Semaphore) (int, vk.Result) {
		var imageIndex uint32
		res := vk.AcquireNextImage(r.Device.VKDevice, t.Swapchain.VKSwapchain,
			vk.MaxUint64, signal, vk.NullFence, &imageIndex)
		return int(imageIndex), res
	}
	r.recordFrame = r.defaultRecordFrame
	r.submitFrame = func(t *RenderTarget) error {
		frame := t.Frames.Current()
		return frame.Command.Submit(frame.PresentComplete, frame.RenderComplete, frame.Fence)
	}
	r.presentImage = func(t *RenderTarget, imageIndex int, wait vk.Semaphore) vk.Result {
		presentInfo := vk.PresentInfo{
			SType:              vk.StructureTypePresentInfo,
			WaitSemaphoreCount: 1,
			PWaitSemaphores:    []vk.Semaphore{wait},
			SwapchainCount:     1,
			PSwapchains:        []vk.Swapchain{t.Swapchain.VKSwapchain},
			PImageIndices:      []uint32{uint32(imageIndex)},
		}
		return vk.QueuePresent(r.Device.PresentQueue.VKQueue, &presentInfo)
	}
	r.recreateTarget = r.defaultRecreateTarget
	r.advanceFrame = func(t *RenderTarget) {
		t.Frames.Advance()
	}
}

// AddRenderer appends a renderer to the per-stage recording order.
func (r *RenderSystem) AddRenderer(renderer Renderer) {
	r.renderers = append(r.renderers, renderer)
}

// Workers returns the command pool cache for multithreaded recording.
func (r *RenderSystem) Workers() *CommandPoolCache {
	return r.workers
}

// Initialize brings up the instance, picks and creates the device, and
// builds the swapchain, render stages and frame sync for every surface.
func (r *RenderSystem) Initialize() error {
	if len(r.Surfaces) == 0 {
		return fmt.Errorf("render system needs at least one surface")
	}

	type procAddrProvider interface {
		InstanceProcAddr() unsafe.Pointer
	}
	if p, ok := r.Surfaces[0].(procAddrProvider); ok {
		if err := InitializeWithProcAddr(p.InstanceProcAddr()); err != nil {
			return fmt.Errorf("initialize vulkan loader: %w", err)
		}
	} else if err := Initialize(); err != nil {
		return fmt.Errorf("initialize vulkan loader: %w", err)
	}

	app := &App{
		Name:       r.Options.AppName,
		EngineName: "sf",
		Version:    r.Options.AppVersion,
		APIVersion: Version{Major: 1, Minor: 1},
	}
	for _, s := range r.Surfaces {
		app.EnableExtensions(s.RequiredInstanceExtensions())
	}
	if r.Options.EnableValidation {
		if err := app.EnableValidation(); err != nil {
			Logger().Warn("validation unavailable", "error", err)
		}
	}

	instance, err := app.CreateInstance()
	if err != nil {
		return err
	}
	r.Instance = instance
	if r.Options.EnableValidation {
		if err := instance.UseDefaultDebugCallback(); err != nil {
			Logger().Warn("debug callback unavailable", "error", err)
		}
	}

	vkSurfaces := make([]vk.Surface, len(r.Surfaces))
	for i, s := range r.Surfaces {
		if vkSurfaces[i], err = s.CreateVulkanSurface(instance); err != nil {
			return err
		}
	}

	deviceExtensions := append([]string{}, RequiredDeviceExtensions...)
	deviceExtensions = append(deviceExtensions, r.Options.DeviceExtensions...)

	physical, err := instance.SelectPhysicalDevice(deviceExtensions)
	if err != nil {
		return err
	}

	families, err := physical.QueueFamilies()
	if err != nil {
		return err
	}
	assignment, err := AssignQueueFamilies(families.Profiles(), func(familyIndex int) bool {
		for _, surface := range vkSurfaces {
			if !families[familyIndex].SupportsPresent(surface) {
				return false
			}
		}
		return true
	})
	if err != nil {
		return err
	}

	device, err := physical.CreateLogicalDevice(assignment, &CreateDeviceOptions{
		EnabledExtensions: deviceExtensions,
	})
	if err != nil {
		return err
	}
	r.Device = device
	r.Allocator = NewDeviceAllocator(device)

	if r.poolCache, err = device.CreateCommandPool(assignment.Graphics); err != nil {
		return err
	}
	r.workers = NewCommandPoolCache(device, assignment.Graphics)

	for i, surface := range r.Surfaces {
		target := &RenderTarget{Surface: surface, VKSurface: vkSurfaces[i]}
		if err := r.buildTarget(target); err != nil {
			return err
		}

		frames := target.Frames
		surface.OnResize(func(width, height int) {
			frames.NotifyResize()
		})
		r.Targets = append(r.Targets, target)
	}

	return nil
}

func (r *RenderSystem) buildTarget(t *RenderTarget) error {
	width, height := t.Surface.FramebufferSize()
	swapchain, err := r.Device.CreateSwapchain(t.VKSurface, &CreateSwapchainOptions{
		ActualSize:           vk.Extent2D{Width: uint32(width), Height: uint32(height)},
		PreferredPresentMode: r.Options.PreferredPresentMode,
	})
	if err != nil {
		return err
	}
	t.Swapchain = swapchain

	if err := r.buildTargetImages(t); err != nil {
		return err
	}

	for _, layout := range r.StageLayouts {
		stage, err := NewRenderStage(r.Device, layout)
		if err != nil {
			return err
		}
		if err := stage.BuildRenderPass(swapchain.Format); err != nil {
			return err
		}
		if err := stage.BuildFramebuffers(r.Allocator, swapchain.Extent, t.swapViews); err != nil {
			return err
		}
		t.Stages = append(t.Stages, stage)
	}

	t.Frames, err = NewSurfaceFrames(r.Device, r.poolCache, r.Options.FramesInFlight, len(t.swapImages))
	return err
}

func (r *RenderSystem) buildTargetImages(t *RenderTarget) error {
	images, err := t.Swapchain.GetImages()
	if err != nil {
		return err
	}
	t.swapImages = images

	t.swapViews = make([]*ImageView, len(images))
	for i, img := range images {
		if t.swapViews[i], err = img.CreateView(vk.ImageAspectFlags(vk.ImageAspectColorBit)); err != nil {
			return err
		}
	}
	return nil
}

// stageRebuilder is the slice of RenderStage the recreation cascade
// needs.
type stageRebuilder interface {
	DestroyTargets()
	BuildRenderPass(swapchainFormat vk.Format) error
	BuildFramebuffers(allocator Allocator, extent vk.Extent2D, swapchainViews []*ImageView) error
}

// rebuildStageTargets rebuilds one stage after a swapchain recreation.
// The render pass is only rebuilt when the negotiated surface format
// changed; framebuffers always are.
func rebuildStageTargets(stage stageRebuilder, allocator Allocator, swapchain *Swapchain, views []*ImageView, formatChanged bool) error {
	stage.DestroyTargets()
	if formatChanged {
		if err := stage.BuildRenderPass(swapchain.Format); err != nil {
			return err
		}
	}
	return stage.BuildFramebuffers(allocator, swapchain.Extent, views)
}

func (t *RenderTarget) destroyImages() {
	for _, v := range t.swapViews {
		v.Destroy()
	}
	t.swapViews = nil
	t.swapImages = nil
}

// Update draws one frame on every surface.
func (r *RenderSystem) Update() error {
	for _, t := range r.Targets {
		if err := r.drawSurface(t); err != nil {
			return err
		}
	}
	return nil
}

// drawSurface runs the frame protocol for one target: react to resizes,
// wait for the frame slot, acquire, record, submit, present, advance. An
// out-of-date swapchain at acquire or present triggers recreation; the
// skipped frame renders on the next update.
func (r *RenderSystem) drawSurface(t *RenderTarget) error {
	if t.Frames.ConsumeResized() {
		return r.recreateTarget(t)
	}

	if err := r.waitFrame(t); err != nil {
		return err
	}
	frame := t.Frames.Current()

	imageIndex, res := r.acquireImage(t, frame.PresentComplete)
	if res == vk.ErrorOutOfDate {
		return r.recreateTarget(t)
	}
	if res != vk.Success && res != vk.Suboptimal {
		return fmt.Errorf("acquire swapchain image: %w", vk.Error(res))
	}

	if err := t.Frames.ClaimImage(imageIndex); err != nil {
		return err
	}
	if err := r.recordFrame(t, imageIndex); err != nil {
		return err
	}
	if err := r.submitFrame(t); err != nil {
		return err
	}

	res = r.presentImage(t, imageIndex, frame.RenderComplete)
	switch res {
	case vk.ErrorOutOfDate, vk.Suboptimal:
		if err := r.recreateTarget(t); err != nil {
			return err
		}
	case vk.Success:
	default:
		return fmt.Errorf("present swapchain image: %w", vk.Error(res))
	}

	r.advanceFrame(t)
	return nil
}

func (r *RenderSystem) defaultRecordFrame(t *RenderTarget, imageIndex int) error {
	cmd := t.Frames.Current().Command
	if err := cmd.Reset(); err != nil {
		return err
	}
	if err := cmd.BeginOneTime(); err != nil {
		return err
	}

	for _, stage := range t.Stages {
		stage.Begin(cmd, imageIndex)
		for _, renderer := range r.renderers {
			if err := renderer.Record(cmd, stage, imageIndex); err != nil {
				return err
			}
		}
		stage.End(cmd)
	}

	return cmd.End()
}

// defaultRecreateTarget rebuilds the swapchain and every stage's targets
// after a resize or an out-of-date result. A zero-sized framebuffer, as
// during minimization, defers the rebuild to a later frame.
func (r *RenderSystem) defaultRecreateTarget(t *RenderTarget) error {
	width, height := t.Surface.FramebufferSize()
	if width == 0 || height == 0 {
		t.Frames.NotifyResize()
		return nil
	}

	r.Device.WaitIdle()
	t.destroyImages()

	old := t.Swapchain
	oldFormat := old.Format
	swapchain, err := r.Device.CreateSwapchain(t.VKSurface, &CreateSwapchainOptions{
		OldSwapchain:         old,
		ActualSize:           vk.Extent2D{Width: uint32(width), Height: uint32(height)},
		PreferredPresentMode: r.Options.PreferredPresentMode,
	})
	old.Destroy()
	if err != nil {
		return err
	}
	t.Swapchain = swapchain

	if err := r.buildTargetImages(t); err != nil {
		return err
	}
	formatChanged := swapchain.Format != oldFormat
	for _, stage := range t.Stages {
		if err := rebuildStageTargets(stage, r.Allocator, swapchain, t.swapViews, formatChanged); err != nil {
			return err
		}
	}
	t.Frames.ResetImages(len(t.swapImages))

	Logger().Debug("render target recreated", "width", width, "height", height)
	return nil
}

// Shutdown tears everything down in reverse creation order. Safe to call
// after a partial Initialize.
func (r *RenderSystem) Shutdown() {
	if r.Device != nil {
		r.Device.WaitIdle()
	}

	for _, t := range r.Targets {
		if t.Frames != nil {
			t.Frames.Destroy()
		}
		for _, stage := range t.Stages {
			stage.Destroy()
		}
		t.destroyImages()
		if t.Swapchain != nil {
			t.Swapchain.Destroy()
		}
		if r.Instance != nil && t.VKSurface != vk.NullSurface {
			vk.DestroySurface(r.Instance.VKInstance, t.VKSurface, nil)
		}
	}
	r.Targets = nil

	if r.workers != nil {
		r.workers.Destroy()
		r.workers = nil
	}
	if r.poolCache != nil {
		r.poolCache.Destroy()
		r.poolCache = nil
	}
	if a, ok := r.Allocator.(*DeviceAllocator); ok && a != nil {
		a.Destroy()
	}
	r.Allocator = nil
	if r.Device != nil {
		r.Device.Destroy()
		r.Device = nil
	}
	if r.Instance != nil {
		r.Instance.Destroy()
		r.Instance = nil
	}
}
