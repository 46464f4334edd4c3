package graphics

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// Device is the logical device plus one queue handle per assigned role.
type Device struct {
	PhysicalDevice *PhysicalDevice
	VKDevice       vk.Device
	Assignment     QueueAssignment

	GraphicsQueue *Queue
	PresentQueue  *Queue
	ComputeQueue  *Queue
	TransferQueue *Queue

	// EnabledFeatures is the negotiated feature set the device was
	// created with.
	EnabledFeatures vk.PhysicalDeviceFeatures
}

type CreateDeviceOptions struct {
	EnabledExtensions []string
	EnabledLayers     []string
}

// negotiateFeatures intersects the features this engine wants with what
// the device offers. Unsupported features are left disabled with a
// warning; an unsupported feature must never be requested.
func negotiateFeatures(available vk.PhysicalDeviceFeatures) vk.PhysicalDeviceFeatures {
	var enabled vk.PhysicalDeviceFeatures

	want := func(name string, have vk.Bool32, set *vk.Bool32) {
		if have == vk.True {
			*set = vk.True
			return
		}
		Logger().Warn("device feature not supported", "feature", name)
	}

	want("sampleRateShading", available.SampleRateShading, &enabled.SampleRateShading)
	want("samplerAnisotropy", available.SamplerAnisotropy, &enabled.SamplerAnisotropy)
	want("vertexPipelineStoresAndAtomics", available.VertexPipelineStoresAndAtomics, &enabled.VertexPipelineStoresAndAtomics)
	want("fragmentStoresAndAtomics", available.FragmentStoresAndAtomics, &enabled.FragmentStoresAndAtomics)
	want("shaderStorageImageExtendedFormats", available.ShaderStorageImageExtendedFormats, &enabled.ShaderStorageImageExtendedFormats)
	want("shaderStorageImageWriteWithoutFormat", available.ShaderStorageImageWriteWithoutFormat, &enabled.ShaderStorageImageWriteWithoutFormat)
	want("geometryShader", available.GeometryShader, &enabled.GeometryShader)
	want("tessellationShader", available.TessellationShader, &enabled.TessellationShader)
	want("multiViewport", available.MultiViewport, &enabled.MultiViewport)

	// Wireframe needs fillModeNonSolid; wideLines only matters with it.
	if available.FillModeNonSolid == vk.True {
		enabled.FillModeNonSolid = vk.True
		enabled.WideLines = available.WideLines
	} else {
		Logger().Warn("device feature not supported", "feature", "fillModeNonSolid")
	}

	// Prefer the best available texture compression scheme.
	switch {
	case available.TextureCompressionBC == vk.True:
		enabled.TextureCompressionBC = vk.True
	case available.TextureCompressionASTC_LDR == vk.True:
		enabled.TextureCompressionASTC_LDR = vk.True
	case available.TextureCompressionETC2 == vk.True:
		enabled.TextureCompressionETC2 = vk.True
	default:
		Logger().Warn("no texture compression scheme supported")
	}

	return enabled
}

// CreateLogicalDevice creates the logical device with one queue per
// unique family in the assignment and fetches the role queue handles.
func (p *PhysicalDevice) CreateLogicalDevice(assignment QueueAssignment, options *CreateDeviceOptions) (*Device, error) {
	unique := assignment.UniqueFamilies()
	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(unique))
	for i, family := range unique {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: uint32(family),
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	enabledFeatures := negotiateFeatures(p.VKPhysicalDeviceFeatures())

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: uint32(len(queueCreateInfos)),
		PQueueCreateInfos:    queueCreateInfos,
		PEnabledFeatures:     []vk.PhysicalDeviceFeatures{enabledFeatures},
	}

	if options != nil {
		if options.EnabledExtensions != nil {
			deviceCreateInfo.EnabledExtensionCount = uint32(len(options.EnabledExtensions))
			deviceCreateInfo.PpEnabledExtensionNames = safeStrings(options.EnabledExtensions)
		}
		if options.EnabledLayers != nil {
			deviceCreateInfo.EnabledLayerCount = uint32(len(options.EnabledLayers))
			deviceCreateInfo.PpEnabledLayerNames = safeStrings(options.EnabledLayers)
		}
	}

	var ldevice vk.Device
	err := vk.Error(vk.CreateDevice(p.VKPhysicalDevice, &deviceCreateInfo, nil, &ldevice))
	if err != nil {
		return nil, fmt.Errorf("create logical device: %w", err)
	}

	device := &Device{
		PhysicalDevice:  p,
		VKDevice:        ldevice,
		Assignment:      assignment,
		EnabledFeatures: enabledFeatures,
	}

	device.GraphicsQueue = device.GetQueue(assignment.Graphics)
	device.PresentQueue = device.GetQueue(assignment.Present)
	if assignment.Compute >= 0 {
		device.ComputeQueue = device.GetQueue(assignment.Compute)
	}
	if assignment.Transfer >= 0 {
		device.TransferQueue = device.GetQueue(assignment.Transfer)
	}

	Logger().Info("logical device created",
		"graphicsFamily", assignment.Graphics,
		"presentFamily", assignment.Present,
		"computeFamily", assignment.Compute,
		"transferFamily", assignment.Transfer,
		"dedicatedCompute", assignment.DedicatedCompute,
		"dedicatedTransfer", assignment.DedicatedTransfer)

	return device, nil
}

func (d *Device) String() string {
	return fmt.Sprintf("{ PhysicalDevice: %s }", d.PhysicalDevice)
}

// GetQueue fetches queue 0 of the given family.
func (d *Device) GetQueue(familyIndex int) *Queue {
	var vkq vk.Queue
	vk.GetDeviceQueue(d.VKDevice, uint32(familyIndex), 0, &vkq)
	return &Queue{Device: d, FamilyIndex: familyIndex, VKQueue: vkq}
}

func (d *Device) WaitIdle() {
	vk.DeviceWaitIdle(d.VKDevice)
}

// Destroy waits for the device to go idle before tearing it down.
func (d *Device) Destroy() {
	if d.VKDevice == nil {
		return
	}
	d.WaitIdle()
	vk.DestroyDevice(d.VKDevice, nil)
	d.VKDevice = nil
}

// Allocate allocates raw device memory of a type matching the filter and
// property flags.
func (d *Device) Allocate(sizeInBytes uint64, memoryTypeBits uint32, memoryProperties vk.MemoryPropertyFlagBits) (*DeviceMemory, error) {
	allocateInfo := vk.MemoryAllocateInfo{
		SType:          vk.StructureTypeMemoryAllocateInfo,
		AllocationSize: vk.DeviceSize(sizeInBytes),
	}

	var err error
	allocateInfo.MemoryTypeIndex, err = d.PhysicalDevice.FindMemoryType(memoryTypeBits, memoryProperties)
	if err != nil {
		return nil, err
	}

	var deviceMemory vk.DeviceMemory
	err = vk.Error(vk.AllocateMemory(d.VKDevice, &allocateInfo, nil, &deviceMemory))
	if err != nil {
		return nil, err
	}

	coherent := false
	if typeProps, err := d.memoryTypeProperties(allocateInfo.MemoryTypeIndex); err == nil {
		coherent = typeProps&vk.MemoryPropertyHostCoherentBit != 0
	}

	return &DeviceMemory{
		Device:         d,
		VKDeviceMemory: deviceMemory,
		Size:           sizeInBytes,
		HostCoherent:   coherent,
	}, nil
}

func (d *Device) memoryTypeProperties(index uint32) (vk.MemoryPropertyFlagBits, error) {
	memoryProperties := d.PhysicalDevice.VKPhysicalDeviceMemoryProperties()
	mp := &memoryProperties
	mp.Deref()
	if index >= mp.MemoryTypeCount {
		return 0, fmt.Errorf("memory type index %d out of range", index)
	}
	mt := mp.MemoryTypes[index]
	mt.Deref()
	return vk.MemoryPropertyFlagBits(mt.PropertyFlags), nil
}
