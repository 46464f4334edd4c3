package graphics

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// AttachmentType determines what backs a render stage attachment.
type AttachmentType int

const (
	// AttachmentImage is an offscreen color image owned by the stage.
	AttachmentImage AttachmentType = iota
	// AttachmentDepth is a depth image owned by the stage.
	AttachmentDepth
	// AttachmentSwapchain is the surface's swapchain image.
	AttachmentSwapchain
)

// Attachment declares one render target of a stage. Binding gives the
// attachment's position; the framebuffer's attachment array follows the
// declared order.
type Attachment struct {
	Binding int
	Name    string
	Type    AttachmentType
	// Format is ignored for swapchain attachments (the surface format
	// wins) and for depth attachments (the device's depth format wins).
	Format     vk.Format
	Samples    vk.SampleCountFlagBits
	ClearColor [4]float32
}

// RenderStage is one render pass over an ordered set of attachments, with
// one framebuffer per swapchain image.
type RenderStage struct {
	Device      *Device
	Attachments []Attachment

	VKRenderPass vk.RenderPass
	framebuffers []vk.Framebuffer

	images     []*Image
	imageViews []*ImageView
	depthImage *Image
	depthView  *ImageView
	extent     vk.Extent2D
}

func NewRenderStage(device *Device, attachments []Attachment) (*RenderStage, error) {
	seen := make(map[int]bool)
	depthCount := 0
	for _, a := range attachments {
		if seen[a.Binding] {
			return nil, fmt.Errorf("duplicate attachment binding %d", a.Binding)
		}
		seen[a.Binding] = true
		if a.Type == AttachmentDepth {
			depthCount++
		}
	}
	if depthCount > 1 {
		return nil, fmt.Errorf("a render stage supports at most one depth attachment")
	}
	return &RenderStage{Device: device, Attachments: attachments}, nil
}

func (r *RenderStage) samplesOf(a Attachment) vk.SampleCountFlagBits {
	if a.Samples == 0 {
		return vk.SampleCount1Bit
	}
	return a.Samples
}

// BuildRenderPass creates the render pass, replacing any existing one.
// Attachment descriptions follow the declared order; color attachments
// feed one subpass, the depth attachment (if any) is its depth target.
func (r *RenderStage) BuildRenderPass(swapchainFormat vk.Format) error {
	if r.VKRenderPass != vk.NullRenderPass {
		vk.DestroyRenderPass(r.Device.VKDevice, r.VKRenderPass, nil)
		r.VKRenderPass = vk.NullRenderPass
	}

	depthFormat, err := r.Device.PhysicalDevice.DepthFormat()
	if err != nil {
		return err
	}

	descriptions := make([]vk.AttachmentDescription, len(r.Attachments))
	colorRefs := make([]vk.AttachmentReference, 0, len(r.Attachments))
	var depthRef *vk.AttachmentReference

	for i, a := range r.Attachments {
		desc := vk.AttachmentDescription{
			Samples:        r.samplesOf(a),
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
		}

		switch a.Type {
		case AttachmentSwapchain:
			desc.Format = swapchainFormat
			desc.FinalLayout = vk.ImageLayoutPresentSrc
			colorRefs = append(colorRefs, vk.AttachmentReference{
				Attachment: uint32(i),
				Layout:     vk.ImageLayoutColorAttachmentOptimal,
			})
		case AttachmentImage:
			desc.Format = a.Format
			desc.FinalLayout = vk.ImageLayoutShaderReadOnlyOptimal
			colorRefs = append(colorRefs, vk.AttachmentReference{
				Attachment: uint32(i),
				Layout:     vk.ImageLayoutColorAttachmentOptimal,
			})
		case AttachmentDepth:
			desc.Format = depthFormat
			desc.StoreOp = vk.AttachmentStoreOpDontCare
			desc.FinalLayout = vk.ImageLayoutDepthStencilAttachmentOptimal
			depthRef = &vk.AttachmentReference{
				Attachment: uint32(i),
				Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
			}
		}
		descriptions[i] = desc
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorRefs)),
		PColorAttachments:    colorRefs,
	}
	if depthRef != nil {
		subpass.PDepthStencilAttachment = depthRef
	}

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
	}

	renderPassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(descriptions)),
		PAttachments:    descriptions,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	var renderPass vk.RenderPass
	err = vk.Error(vk.CreateRenderPass(r.Device.VKDevice, &renderPassCreateInfo, nil, &renderPass))
	if err != nil {
		return fmt.Errorf("create render pass: %w", err)
	}
	r.VKRenderPass = renderPass
	return nil
}

// BuildFramebuffers creates the stage's owned images and one framebuffer
// per swapchain image view. The framebuffer attachment array follows the
// declared attachment order.
func (r *RenderStage) BuildFramebuffers(allocator Allocator, extent vk.Extent2D, swapchainViews []*ImageView) error {
	r.extent = extent

	for _, a := range r.Attachments {
		switch a.Type {
		case AttachmentImage:
			img, err := NewImage2D(r.Device, allocator, extent, a.Format,
				vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit|vk.ImageUsageSampledBit), r.samplesOf(a))
			if err != nil {
				return err
			}
			view, err := img.CreateView(vk.ImageAspectFlags(vk.ImageAspectColorBit))
			if err != nil {
				img.Destroy()
				return err
			}
			r.images = append(r.images, img)
			r.imageViews = append(r.imageViews, view)
		case AttachmentDepth:
			img, err := NewDepthImage(r.Device, allocator, extent, r.samplesOf(a))
			if err != nil {
				return err
			}
			view, err := img.CreateView(vk.ImageAspectFlags(vk.ImageAspectDepthBit))
			if err != nil {
				img.Destroy()
				return err
			}
			r.depthImage = img
			r.depthView = view
		}
	}

	r.framebuffers = make([]vk.Framebuffer, len(swapchainViews))
	for i, swapView := range swapchainViews {
		attachments := make([]vk.ImageView, len(r.Attachments))
		imageIdx := 0
		for j, a := range r.Attachments {
			switch a.Type {
			case AttachmentImage:
				attachments[j] = r.imageViews[imageIdx].VKImageView
				imageIdx++
			case AttachmentDepth:
				attachments[j] = r.depthView.VKImageView
			case AttachmentSwapchain:
				attachments[j] = swapView.VKImageView
			}
		}

		framebufferCreateInfo := vk.FramebufferCreateInfo{
			SType:           vk.StructureTypeFramebufferCreateInfo,
			RenderPass:      r.VKRenderPass,
			AttachmentCount: uint32(len(attachments)),
			PAttachments:    attachments,
			Width:           extent.Width,
			Height:          extent.Height,
			Layers:          1,
		}

		err := vk.Error(vk.CreateFramebuffer(r.Device.VKDevice, &framebufferCreateInfo, nil, &r.framebuffers[i]))
		if err != nil {
			return fmt.Errorf("create framebuffer %d: %w", i, err)
		}
	}

	return nil
}

// Framebuffer returns the framebuffer for a swapchain image.
func (r *RenderStage) Framebuffer(imageIndex int) vk.Framebuffer {
	return r.framebuffers[imageIndex]
}

// ImageFor returns the stage's owned image backing the named attachment,
// for sampling in a later stage.
func (r *RenderStage) ImageFor(name string) *Image {
	imageIdx := 0
	for _, a := range r.Attachments {
		if a.Type != AttachmentImage {
			continue
		}
		if a.Name == name {
			return r.images[imageIdx]
		}
		imageIdx++
	}
	return nil
}

// Begin records the render pass begin for one swapchain image, clearing
// every attachment with its declared clear value.
func (r *RenderStage) Begin(cmd *CommandBuffer, imageIndex int) {
	clearValues := make([]vk.ClearValue, len(r.Attachments))
	for i, a := range r.Attachments {
		if a.Type == AttachmentDepth {
			clearValues[i].SetDepthStencil(1.0, 0)
		} else {
			clearValues[i].SetColor(a.ClearColor[:])
		}
	}

	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  r.VKRenderPass,
		Framebuffer: r.framebuffers[imageIndex],
		RenderArea: vk.Rect2D{
			Extent: r.extent,
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}

	vk.CmdBeginRenderPass(cmd.VKCommandBuffer, &beginInfo, vk.SubpassContentsInline)
}

// End closes the render pass.
func (r *RenderStage) End(cmd *CommandBuffer) {
	vk.CmdEndRenderPass(cmd.VKCommandBuffer)
}

// DestroyTargets releases the framebuffers and owned images, keeping the
// render pass for the next recreation.
func (r *RenderStage) DestroyTargets() {
	for _, fb := range r.framebuffers {
		vk.DestroyFramebuffer(r.Device.VKDevice, fb, nil)
	}
	r.framebuffers = nil

	for _, v := range r.imageViews {
		v.Destroy()
	}
	r.imageViews = nil
	for _, img := range r.images {
		img.Destroy()
	}
	r.images = nil

	if r.depthView != nil {
		r.depthView.Destroy()
		r.depthView = nil
	}
	if r.depthImage != nil {
		r.depthImage.Destroy()
		r.depthImage = nil
	}
}

func (r *RenderStage) Destroy() {
	r.DestroyTargets()
	if r.VKRenderPass != vk.NullRenderPass {
		vk.DestroyRenderPass(r.Device.VKDevice, r.VKRenderPass, nil)
		r.VKRenderPass = vk.NullRenderPass
	}
}
