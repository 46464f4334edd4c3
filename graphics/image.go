package graphics

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// Image owns a native 2D image and, when created through an allocator,
// the memory backing it. Swapchain images wrap borrowed handles with a
// nil allocation.
type Image struct {
	Device   *Device
	VKImage  vk.Image
	VKFormat vk.Format
	Extent   vk.Extent2D
	Samples  vk.SampleCountFlagBits

	allocator  Allocator
	allocation Allocation
}

// NewImage2D creates a device-local 2D image.
func NewImage2D(device *Device, allocator Allocator, extent vk.Extent2D, format vk.Format, usage vk.ImageUsageFlags, samples vk.SampleCountFlagBits) (*Image, error) {
	if samples == 0 {
		samples = vk.SampleCount1Bit
	}
	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  extent.Width,
			Height: extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       samples,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	vkImage, allocation, err := allocator.AllocateImage(&info)
	if err != nil {
		return nil, err
	}

	return &Image{
		Device:     device,
		VKImage:    vkImage,
		VKFormat:   format,
		Extent:     extent,
		Samples:    samples,
		allocator:  allocator,
		allocation: allocation,
	}, nil
}

// DepthFormat picks a supported depth attachment format, preferring the
// higher precision options.
func (p *PhysicalDevice) DepthFormat() (vk.Format, error) {
	candidates := []vk.Format{
		vk.FormatD32Sfloat,
		vk.FormatD32SfloatS8Uint,
		vk.FormatD24UnormS8Uint,
	}
	for _, format := range candidates {
		var props vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(p.VKPhysicalDevice, format, &props)
		props.Deref()
		if vk.FormatFeatureFlagBits(props.OptimalTilingFeatures)&vk.FormatFeatureDepthStencilAttachmentBit != 0 {
			return format, nil
		}
	}
	return vk.FormatUndefined, fmt.Errorf("no supported depth attachment format")
}

// NewDepthImage creates a depth attachment image sized to the extent.
func NewDepthImage(device *Device, allocator Allocator, extent vk.Extent2D, samples vk.SampleCountFlagBits) (*Image, error) {
	format, err := device.PhysicalDevice.DepthFormat()
	if err != nil {
		return nil, err
	}
	return NewImage2D(device, allocator, extent, format,
		vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit), samples)
}

// CreateView creates a 2D view over the image for the given aspect.
func (i *Image) CreateView(aspect vk.ImageAspectFlags) (*ImageView, error) {
	info := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    i.VKImage,
		ViewType: vk.ImageViewType2d,
		Format:   i.VKFormat,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspect,
			LevelCount: 1,
			LayerCount: 1,
		},
	}

	var view vk.ImageView
	err := vk.Error(vk.CreateImageView(i.Device.VKDevice, &info, nil, &view))
	if err != nil {
		return nil, fmt.Errorf("create image view: %w", err)
	}
	return &ImageView{Device: i.Device, VKImageView: view}, nil
}

// TransitionLayout records a layout transition barrier on cmd.
func (i *Image) TransitionLayout(cmd *CommandBuffer, oldLayout, newLayout vk.ImageLayout, aspect vk.ImageAspectFlags) error {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           oldLayout,
		NewLayout:           newLayout,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               i.VKImage,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspect,
			LevelCount: 1,
			LayerCount: 1,
		},
	}

	var srcStage, dstStage vk.PipelineStageFlags
	switch {
	case oldLayout == vk.ImageLayoutUndefined && newLayout == vk.ImageLayoutTransferDstOptimal:
		barrier.SrcAccessMask = 0
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	case oldLayout == vk.ImageLayoutTransferDstOptimal && newLayout == vk.ImageLayoutShaderReadOnlyOptimal:
		barrier.SrcAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessShaderReadBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	case oldLayout == vk.ImageLayoutUndefined && newLayout == vk.ImageLayoutDepthStencilAttachmentOptimal:
		barrier.SrcAccessMask = 0
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit)
	default:
		return fmt.Errorf("unsupported layout transition %d to %d", oldLayout, newLayout)
	}

	vk.CmdPipelineBarrier(cmd.VKCommandBuffer, srcStage, dstStage, 0,
		0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	return nil
}

// CopyFromBuffer records a full-extent buffer to image copy on cmd. The
// image must be in the transfer destination layout.
func (i *Image) CopyFromBuffer(cmd *CommandBuffer, src *Buffer) {
	region := vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: 1,
		},
		ImageExtent: vk.Extent3D{
			Width:  i.Extent.Width,
			Height: i.Extent.Height,
			Depth:  1,
		},
	}
	vk.CmdCopyBufferToImage(cmd.VKCommandBuffer, src.VKBuffer, i.VKImage,
		vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
}

// NewStagedImage2D creates a device-local sampled image seeded with pixel
// data through a staging buffer. The upload is submitted on cmd's queue
// and waited on.
func NewStagedImage2D(device *Device, allocator Allocator, cmd *CommandBuffer, extent vk.Extent2D, format vk.Format, pixels []byte) (*Image, error) {
	staging, err := NewBuffer(allocator, uint64(len(pixels)),
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit), MemoryUsageHostVisible, pixels)
	if err != nil {
		return nil, fmt.Errorf("create staging buffer: %w", err)
	}
	defer staging.Destroy()

	img, err := NewImage2D(device, allocator, extent, format,
		vk.ImageUsageFlags(vk.ImageUsageTransferDstBit|vk.ImageUsageSampledBit), vk.SampleCount1Bit)
	if err != nil {
		return nil, err
	}

	if err := cmd.BeginOneTime(); err != nil {
		img.Destroy()
		return nil, err
	}
	aspect := vk.ImageAspectFlags(vk.ImageAspectColorBit)
	if err := img.TransitionLayout(cmd, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal, aspect); err != nil {
		img.Destroy()
		return nil, err
	}
	img.CopyFromBuffer(cmd, staging)
	if err := img.TransitionLayout(cmd, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal, aspect); err != nil {
		img.Destroy()
		return nil, err
	}
	if err := cmd.SubmitIdle(); err != nil {
		img.Destroy()
		return nil, fmt.Errorf("image upload: %w", err)
	}

	return img, nil
}

// Destroy releases the image and its memory. Borrowed images (nil
// allocation) release nothing.
func (i *Image) Destroy() {
	if i.allocation == nil {
		return
	}
	i.allocator.DestroyImage(i.VKImage, i.allocation)
	i.allocation = nil
	i.VKImage = vk.NullImage
}

// ImageView wraps a native image view.
type ImageView struct {
	Device      *Device
	VKImageView vk.ImageView
}

func (v *ImageView) Destroy() {
	vk.DestroyImageView(v.Device.VKDevice, v.VKImageView, nil)
	v.VKImageView = vk.NullImageView
}
