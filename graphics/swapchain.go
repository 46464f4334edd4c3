package graphics

import (
	"fmt"
	"sync/atomic"

	vk "github.com/vulkan-go/vulkan"
)

type Swapchain struct {
	Device      *Device
	VKSwapchain vk.Swapchain
	Extent      vk.Extent2D
	Format      vk.Format
}

type CreateSwapchainOptions struct {
	OldSwapchain *Swapchain
	// ActualSize is used when the surface reports no fixed extent.
	ActualSize vk.Extent2D
	// DesiredImageCount of zero means min image count + 1.
	DesiredImageCount int
	// PreferredPresentMode is used when the surface supports it,
	// otherwise FIFO. Nil means no preference, which favors mailbox.
	PreferredPresentMode *vk.PresentMode
}

// choosePresentMode picks the preferred mode when the surface offers it
// and falls back to FIFO, which is always available.
func choosePresentMode(modes VKPresentModes, preferred *vk.PresentMode) vk.PresentMode {
	want := vk.PresentModeMailbox
	if preferred != nil {
		want = *preferred
	}
	if m := modes.Filter(want); len(m) > 0 {
		return m[0]
	}
	return vk.PresentModeFifo
}

func (d *Device) DefaultNumSwapchainImages(surface vk.Surface) (int, error) {
	caps, err := d.PhysicalDevice.GetSurfaceCapabilities(surface)
	if err != nil {
		return 0, err
	}
	caps.Deref()
	count := int(caps.MinImageCount) + 1
	if caps.MaxImageCount > 0 && count > int(caps.MaxImageCount) {
		count = int(caps.MaxImageCount)
	}
	return count, nil
}

// CreateSwapchain negotiates format, present mode and extent with the
// surface and creates the swapchain. Images are shared between the
// graphics and present families when they differ.
func (d *Device) CreateSwapchain(surface vk.Surface, options *CreateSwapchainOptions) (*Swapchain, error) {
	modes, err := d.PhysicalDevice.GetSurfacePresentModes(surface)
	if err != nil {
		return nil, err
	}

	var preferred *vk.PresentMode
	if options != nil {
		preferred = options.PreferredPresentMode
	}
	presentMode := choosePresentMode(modes, preferred)

	formats, err := d.PhysicalDevice.GetSurfaceFormats(surface)
	if err != nil {
		return nil, err
	}

	var format vk.SurfaceFormat
	found := formats.Filter(func(f vk.SurfaceFormat) bool {
		return f.Format == vk.FormatB8g8r8a8Unorm
	})
	if len(found) > 0 {
		format = found[0]
	} else if len(formats) > 0 {
		format = formats[0]
		format.Deref()
	} else {
		return nil, fmt.Errorf("surface reports no formats")
	}

	caps, err := d.PhysicalDevice.GetSurfaceCapabilities(surface)
	if err != nil {
		return nil, err
	}
	caps.Deref()
	caps.CurrentExtent.Deref()

	var extent vk.Extent2D
	if caps.CurrentExtent.Width == vk.MaxUint32 {
		if options != nil {
			extent = options.ActualSize
		} else {
			caps.MinImageExtent.Deref()
			extent = caps.MinImageExtent
		}
	} else {
		extent = caps.CurrentExtent
	}

	imageCount := 0
	if options != nil {
		imageCount = options.DesiredImageCount
	}
	if imageCount == 0 {
		imageCount, err = d.DefaultNumSwapchainImages(surface)
		if err != nil {
			return nil, err
		}
	}

	createInfo := &vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          surface,
		MinImageCount:    uint32(imageCount),
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      extent,
		PresentMode:      presentMode,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageArrayLayers: 1,
		Clipped:          vk.True,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		OldSwapchain:     vk.NullSwapchain,
	}

	if options != nil && options.OldSwapchain != nil {
		createInfo.OldSwapchain = options.OldSwapchain.VKSwapchain
	}

	graphicsFamily := d.Assignment.Graphics
	presentFamily := d.Assignment.Present
	if graphicsFamily != presentFamily {
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{uint32(graphicsFamily), uint32(presentFamily)}
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
	} else {
		createInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	var swapchain vk.Swapchain
	err = vk.Error(vk.CreateSwapchain(d.VKDevice, createInfo, nil, &swapchain))
	if err != nil {
		return nil, fmt.Errorf("create swapchain: %w", err)
	}

	Logger().Debug("swapchain created",
		"width", extent.Width, "height", extent.Height,
		"images", imageCount, "presentMode", presentMode)

	return &Swapchain{
		Device:      d,
		VKSwapchain: swapchain,
		Extent:      extent,
		Format:      format.Format,
	}, nil
}

// GetImages returns the swapchain's images as borrowed Image wrappers.
func (s *Swapchain) GetImages() ([]*Image, error) {
	var imageCount uint32
	err := vk.Error(vk.GetSwapchainImages(s.Device.VKDevice, s.VKSwapchain, &imageCount, nil))
	if err != nil {
		return nil, err
	}

	images := make([]vk.Image, imageCount)
	err = vk.Error(vk.GetSwapchainImages(s.Device.VKDevice, s.VKSwapchain, &imageCount, images))
	if err != nil {
		return nil, err
	}

	ret := make([]*Image, imageCount)
	for i := range images {
		ret[i] = &Image{
			Device:   s.Device,
			VKImage:  images[i],
			VKFormat: s.Format,
			Extent:   s.Extent,
			Samples:  vk.SampleCount1Bit,
		}
	}
	return ret, nil
}

func (s *Swapchain) Destroy() {
	vk.DestroySwapchain(s.Device.VKDevice, s.VKSwapchain, nil)
	s.VKSwapchain = vk.NullSwapchain
}

// FrameSync is the per-frame synchronization slot in a surface's ring.
type FrameSync struct {
	PresentComplete vk.Semaphore
	RenderComplete  vk.Semaphore
	Fence           vk.Fence
	Command         *CommandBuffer
}

// SurfaceFrames is one surface's ring of in-flight frame state. The ring
// length is the frames-in-flight count and may be smaller than the
// swapchain image count; imagesInFlight maps each swapchain image to the
// fence of the frame that last used it so an image is never re-recorded
// while still in flight.
type SurfaceFrames struct {
	Device *Device
	Frames []FrameSync

	imagesInFlight []vk.Fence
	current        int
	resized        atomic.Bool
}

// NewSurfaceFrames builds the sync ring. Fences start signaled so the
// first frame does not wait forever.
func NewSurfaceFrames(device *Device, pool *CommandPool, framesInFlight, imageCount int) (*SurfaceFrames, error) {
	if framesInFlight <= 0 {
		return nil, fmt.Errorf("frames in flight must be positive")
	}

	s := &SurfaceFrames{
		Device:         device,
		Frames:         make([]FrameSync, framesInFlight),
		imagesInFlight: make([]vk.Fence, imageCount),
	}

	for i := range s.Frames {
		var err error
		frame := &s.Frames[i]

		if frame.PresentComplete, err = device.VKCreateSemaphore(); err != nil {
			s.Destroy()
			return nil, err
		}
		if frame.RenderComplete, err = device.VKCreateSemaphore(); err != nil {
			s.Destroy()
			return nil, err
		}
		if frame.Fence, err = device.VKCreateFence(true); err != nil {
			s.Destroy()
			return nil, err
		}
		if frame.Command, err = pool.AllocateCommandBuffer(QueueGraphics, false); err != nil {
			s.Destroy()
			return nil, err
		}
	}

	return s, nil
}

// Current returns the frame slot for the frame being recorded.
func (s *SurfaceFrames) Current() *FrameSync {
	return &s.Frames[s.current]
}

// Advance moves to the next ring slot.
func (s *SurfaceFrames) Advance() {
	s.current = (s.current + 1) % len(s.Frames)
}

// NotifyResize records that the surface size changed. Safe to call from a
// window callback; the render loop consumes the flag between frames.
func (s *SurfaceFrames) NotifyResize() {
	s.resized.Store(true)
}

// ConsumeResized returns and clears the resize flag.
func (s *SurfaceFrames) ConsumeResized() bool {
	return s.resized.Swap(false)
}

// WaitCurrent blocks until the current frame's previous submission has
// finished.
func (s *SurfaceFrames) WaitCurrent() error {
	return s.Device.VKWaitForFence(s.Current().Fence, 0)
}

// ClaimImage waits for any frame still using the swapchain image and then
// marks it as owned by the current frame.
func (s *SurfaceFrames) ClaimImage(imageIndex int) error {
	if imageIndex < 0 || imageIndex >= len(s.imagesInFlight) {
		return fmt.Errorf("image index %d out of range", imageIndex)
	}
	if f := s.imagesInFlight[imageIndex]; f != vk.NullFence && f != s.Current().Fence {
		if err := s.Device.VKWaitForFence(f, 0); err != nil {
			return err
		}
	}
	s.imagesInFlight[imageIndex] = s.Current().Fence
	return nil
}

// ResetImages resizes the per-image fence table after a swapchain
// recreation.
func (s *SurfaceFrames) ResetImages(imageCount int) {
	s.imagesInFlight = make([]vk.Fence, imageCount)
}

func (s *SurfaceFrames) Destroy() {
	for i := range s.Frames {
		frame := &s.Frames[i]
		if frame.PresentComplete != vk.NullSemaphore {
			s.Device.VKDestroySemaphore(frame.PresentComplete)
		}
		if frame.RenderComplete != vk.NullSemaphore {
			s.Device.VKDestroySemaphore(frame.RenderComplete)
		}
		if frame.Fence != vk.NullFence {
			s.Device.VKDestroyFence(frame.Fence)
		}
		if frame.Command != nil {
			frame.Command.Free()
		}
	}
	s.Frames = nil
}
