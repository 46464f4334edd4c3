package graphics

import (
	"fmt"

	"github.com/docker/go-units"
	vk "github.com/vulkan-go/vulkan"
)

// PhysicalDevice wraps a native Vulkan physical device along with its
// cached properties.
type PhysicalDevice struct {
	DeviceName                 string
	VKPhysicalDevice           vk.PhysicalDevice
	VKPhysicalDeviceProperties vk.PhysicalDeviceProperties
}

func (p *PhysicalDevice) String() string {
	return p.DeviceName
}

// Extensions a device must offer before it can be selected at all.
var RequiredDeviceExtensions = []string{"VK_KHR_swapchain"}

// Device extensions that mark modern capabilities. They are promoted to
// core in later API versions, so the profile checks the device's API
// version as well as its extension list.
const (
	extTimelineSemaphore   = "VK_KHR_timeline_semaphore"
	extDescriptorIndexing  = "VK_EXT_descriptor_indexing"
	extBufferDeviceAddress = "VK_KHR_buffer_device_address"
	extDynamicRendering    = "VK_KHR_dynamic_rendering"
	extSynchronization2    = "VK_KHR_synchronization2"
)

// DeviceProfile is a plain snapshot of everything device selection cares
// about. It carries no native handles so scoring can run anywhere.
type DeviceProfile struct {
	Name                string
	Type                vk.PhysicalDeviceType
	APIVersion          uint32
	VRAMBytes           uint64
	MaxImageDimension2D uint32

	HasCompute         bool
	GeometryShader     bool
	TessellationShader bool
	SamplerAnisotropy  bool

	TimelineSemaphore   bool
	DescriptorIndexing  bool
	BufferDeviceAddress bool
	DynamicRendering    bool
	Synchronization2    bool

	Extensions []string
}

// Supports reports whether the device offers the named extension.
func (p *DeviceProfile) Supports(ext string) bool {
	for _, e := range p.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

const maxScoredVRAM = 16 * units.GiB

// Score ranks a device for selection. A score of zero means the device is
// unusable because it lacks a required extension. Higher is better; adding
// any capability to a profile never lowers its score.
func (p *DeviceProfile) Score(requiredExtensions []string) uint64 {
	for _, ext := range requiredExtensions {
		if !p.Supports(ext) {
			return 0
		}
	}

	var score uint64
	switch p.Type {
	case vk.PhysicalDeviceTypeDiscreteGpu:
		score += 10000
	case vk.PhysicalDeviceTypeIntegratedGpu:
		score += 1000
	case vk.PhysicalDeviceTypeVirtualGpu:
		score += 500
	case vk.PhysicalDeviceTypeCpu:
		score += 100
	default:
		score += 50
	}

	switch {
	case p.APIVersion >= vk.MakeVersion(1, 3, 0):
		score += 300
	case p.APIVersion >= vk.MakeVersion(1, 2, 0):
		score += 200
	case p.APIVersion >= vk.MakeVersion(1, 1, 0):
		score += 100
	}

	for _, have := range []bool{
		p.TimelineSemaphore,
		p.DescriptorIndexing,
		p.BufferDeviceAddress,
		p.DynamicRendering,
		p.Synchronization2,
	} {
		if have {
			score += 50
		}
	}

	vram := p.VRAMBytes
	if vram > maxScoredVRAM {
		vram = maxScoredVRAM
	}
	score += (vram / units.GiB) * 10

	score += uint64(p.MaxImageDimension2D) / 1000

	if p.HasCompute {
		score += 20
	}
	if p.GeometryShader {
		score += 10
	}
	if p.TessellationShader {
		score += 10
	}

	// Anisotropic filtering is expected by the texture pipeline; a device
	// without it is usable but strongly deprioritized.
	if !p.SamplerAnisotropy {
		score /= 2
	}

	return score
}

// Profile queries the device and builds its selection snapshot.
func (p *PhysicalDevice) Profile() (DeviceProfile, error) {
	props := p.VKPhysicalDeviceProperties

	profile := DeviceProfile{
		Name:       p.DeviceName,
		Type:       props.DeviceType,
		APIVersion: props.ApiVersion,
	}

	props.Limits.Deref()
	profile.MaxImageDimension2D = props.Limits.MaxImageDimension2D

	var features vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(p.VKPhysicalDevice, &features)
	features.Deref()
	profile.GeometryShader = features.GeometryShader == vk.True
	profile.TessellationShader = features.TessellationShader == vk.True
	profile.SamplerAnisotropy = features.SamplerAnisotropy == vk.True

	var memProps vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(p.VKPhysicalDevice, &memProps)
	memProps.Deref()
	for i := uint32(0); i < memProps.MemoryHeapCount; i++ {
		heap := memProps.MemoryHeaps[i]
		heap.Deref()
		if vk.MemoryHeapFlagBits(heap.Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			profile.VRAMBytes += uint64(heap.Size)
		}
	}

	families, err := p.QueueFamilies()
	if err != nil {
		return profile, err
	}
	for _, f := range families {
		if f.IsCompute() {
			profile.HasCompute = true
			break
		}
	}

	exts, err := p.SupportedExtensions()
	if err != nil {
		return profile, err
	}
	profile.Extensions = make([]string, 0, len(exts))
	for _, e := range exts {
		e.Deref()
		profile.Extensions = append(profile.Extensions, vk.ToString(e.ExtensionName[:]))
	}

	profile.TimelineSemaphore = profile.APIVersion >= vk.MakeVersion(1, 2, 0) || profile.Supports(extTimelineSemaphore)
	profile.DescriptorIndexing = profile.APIVersion >= vk.MakeVersion(1, 2, 0) || profile.Supports(extDescriptorIndexing)
	profile.BufferDeviceAddress = profile.APIVersion >= vk.MakeVersion(1, 2, 0) || profile.Supports(extBufferDeviceAddress)
	profile.DynamicRendering = profile.APIVersion >= vk.MakeVersion(1, 3, 0) || profile.Supports(extDynamicRendering)
	profile.Synchronization2 = profile.APIVersion >= vk.MakeVersion(1, 3, 0) || profile.Supports(extSynchronization2)

	return profile, nil
}

// PhysicalDevices returns all physical devices known to the instance.
func (i *Instance) PhysicalDevices() ([]*PhysicalDevice, error) {
	var deviceCount uint32
	err := vk.Error(vk.EnumeratePhysicalDevices(i.VKInstance, &deviceCount, nil))
	if err != nil {
		return nil, err
	}
	if deviceCount == 0 {
		return nil, nil
	}

	devices := make([]vk.PhysicalDevice, deviceCount)
	err = vk.Error(vk.EnumeratePhysicalDevices(i.VKInstance, &deviceCount, devices))
	if err != nil {
		return nil, err
	}

	ret := make([]*PhysicalDevice, deviceCount)
	for j, device := range devices {
		ret[j] = &PhysicalDevice{VKPhysicalDevice: device}
		vk.GetPhysicalDeviceProperties(device, &ret[j].VKPhysicalDeviceProperties)
		ret[j].VKPhysicalDeviceProperties.Deref()
		ret[j].DeviceName = vk.ToString(ret[j].VKPhysicalDeviceProperties.DeviceName[:])
	}
	return ret, nil
}

// SelectPhysicalDevice picks the best scoring device that offers every
// required extension. It fails when no device is suitable.
func (i *Instance) SelectPhysicalDevice(requiredExtensions []string) (*PhysicalDevice, error) {
	devices, err := i.PhysicalDevices()
	if err != nil {
		return nil, fmt.Errorf("enumerate physical devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no vulkan capable devices found")
	}

	var best *PhysicalDevice
	var bestScore uint64
	for _, d := range devices {
		profile, err := d.Profile()
		if err != nil {
			Logger().Warn("skipping device, profile query failed", "device", d.DeviceName, "error", err)
			continue
		}
		score := profile.Score(requiredExtensions)
		Logger().Info("device candidate",
			"device", profile.Name,
			"score", score,
			"vram", units.HumanSize(float64(profile.VRAMBytes)))
		if score > bestScore {
			best = d
			bestScore = score
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no suitable device: every candidate is missing a required extension")
	}

	Logger().Info("selected device", "device", best.DeviceName, "score", bestScore)
	best.LogMemoryInfo()
	return best, nil
}

// LogMemoryInfo logs the device's memory heaps with humanized sizes.
func (p *PhysicalDevice) LogMemoryInfo() {
	var memProps vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(p.VKPhysicalDevice, &memProps)
	memProps.Deref()
	for i := uint32(0); i < memProps.MemoryHeapCount; i++ {
		heap := memProps.MemoryHeaps[i]
		heap.Deref()
		local := vk.MemoryHeapFlagBits(heap.Flags)&vk.MemoryHeapDeviceLocalBit != 0
		Logger().Info("memory heap",
			"index", i,
			"size", units.HumanSize(float64(heap.Size)),
			"deviceLocal", local)
	}
}

// MaxUsableSampleCount returns the highest MSAA sample count usable for
// both color and depth attachments.
func (p *PhysicalDevice) MaxUsableSampleCount() vk.SampleCountFlagBits {
	limits := p.VKPhysicalDeviceProperties.Limits
	limits.Deref()
	counts := limits.FramebufferColorSampleCounts & limits.FramebufferDepthSampleCounts
	for _, c := range []vk.SampleCountFlagBits{
		vk.SampleCount64Bit, vk.SampleCount32Bit, vk.SampleCount16Bit,
		vk.SampleCount8Bit, vk.SampleCount4Bit, vk.SampleCount2Bit,
	} {
		if counts&vk.SampleCountFlags(c) != 0 {
			return c
		}
	}
	return vk.SampleCount1Bit
}

// QueueFamilies returns the device's queue families.
func (p *PhysicalDevice) QueueFamilies() (QueueFamilySlice, error) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(p.VKPhysicalDevice, &count, nil)
	if count == 0 {
		return nil, nil
	}

	props := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(p.VKPhysicalDevice, &count, props)

	ret := make(QueueFamilySlice, count)
	for i, qp := range props {
		ret[i] = &QueueFamily{Index: i, PhysicalDevice: p, VKQueueFamilyProperties: qp}
		ret[i].VKQueueFamilyProperties.Deref()
	}
	return ret, nil
}

// VKPhysicalDeviceFeatures queries the device's supported feature set.
func (p *PhysicalDevice) VKPhysicalDeviceFeatures() vk.PhysicalDeviceFeatures {
	var features vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(p.VKPhysicalDevice, &features)
	features.Deref()
	return features
}

func (p *PhysicalDevice) VKPhysicalDeviceMemoryProperties() vk.PhysicalDeviceMemoryProperties {
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(p.VKPhysicalDevice, &memoryProperties)
	return memoryProperties
}

// FindMemoryType locates a memory type index matching the type filter and
// the requested property flags.
func (p *PhysicalDevice) FindMemoryType(memoryTypeBits uint32, properties vk.MemoryPropertyFlagBits) (uint32, error) {
	memoryProperties := p.VKPhysicalDeviceMemoryProperties()
	mp := &memoryProperties
	mp.Deref()

	var i uint32
	for i = 0; i < mp.MemoryTypeCount; i++ {
		mt := mp.MemoryTypes[i]
		mt.Deref()
		if memoryTypeBits&(1<<i) != 0 &&
			vk.MemoryPropertyFlagBits(mt.PropertyFlags)&properties == properties {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no matching memory type found")
}

// SupportedExtensions returns the device extensions this device offers.
func (p *PhysicalDevice) SupportedExtensions() ([]vk.ExtensionProperties, error) {
	var count uint32
	err := vk.Error(vk.EnumerateDeviceExtensionProperties(p.VKPhysicalDevice, "", &count, nil))
	if err != nil {
		return nil, err
	}

	ext := make([]vk.ExtensionProperties, count)
	err = vk.Error(vk.EnumerateDeviceExtensionProperties(p.VKPhysicalDevice, "", &count, ext))
	if err != nil {
		return nil, err
	}
	return ext, nil
}

type VKPresentModes []vk.PresentMode

func (v VKPresentModes) Filter(f vk.PresentMode) VKPresentModes {
	ret := make(VKPresentModes, 0)
	for _, s := range v {
		if f == s {
			ret = append(ret, s)
		}
	}
	return ret
}

type VKSurfaceFormats []vk.SurfaceFormat

func (v VKSurfaceFormats) Filter(f func(f vk.SurfaceFormat) bool) VKSurfaceFormats {
	ret := make(VKSurfaceFormats, 0)
	for _, s := range v {
		s.Deref()
		if f(s) {
			ret = append(ret, s)
		}
	}
	return ret
}

func (p *PhysicalDevice) GetSurfacePresentModes(surface vk.Surface) (VKPresentModes, error) {
	var count uint32
	err := vk.Error(vk.GetPhysicalDeviceSurfacePresentModes(p.VKPhysicalDevice, surface, &count, nil))
	if err != nil {
		return nil, err
	}

	f := make([]vk.PresentMode, count)
	err = vk.Error(vk.GetPhysicalDeviceSurfacePresentModes(p.VKPhysicalDevice, surface, &count, f))
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (p *PhysicalDevice) GetSurfaceFormats(surface vk.Surface) (VKSurfaceFormats, error) {
	var count uint32
	err := vk.Error(vk.GetPhysicalDeviceSurfaceFormats(p.VKPhysicalDevice, surface, &count, nil))
	if err != nil {
		return nil, err
	}

	f := make([]vk.SurfaceFormat, count)
	err = vk.Error(vk.GetPhysicalDeviceSurfaceFormats(p.VKPhysicalDevice, surface, &count, f))
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (p *PhysicalDevice) GetSurfaceCapabilities(surface vk.Surface) (*vk.SurfaceCapabilities, error) {
	var caps vk.SurfaceCapabilities
	err := vk.Error(vk.GetPhysicalDeviceSurfaceCapabilities(p.VKPhysicalDevice, surface, &caps))
	if err != nil {
		return nil, err
	}
	return &caps, nil
}
