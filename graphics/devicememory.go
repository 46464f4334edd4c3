package graphics

import (
	"sync"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// DeviceMemory wraps one native memory object. Mapping is reference
// counted because several sub-allocations may share an arena; the memory
// is mapped once as a whole and unmapped when the last user lets go.
type DeviceMemory struct {
	Device         *Device
	VKDeviceMemory vk.DeviceMemory
	Size           uint64
	HostCoherent   bool

	mu       sync.Mutex
	mapCount int
	ptr      unsafe.Pointer
}

// Map maps the whole memory object and returns the base pointer. Nested
// calls return the existing mapping.
func (d *DeviceMemory) Map() (unsafe.Pointer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mapCount == 0 {
		var res unsafe.Pointer
		err := vk.Error(vk.MapMemory(d.Device.VKDevice, d.VKDeviceMemory, 0, vk.DeviceSize(d.Size), 0, &res))
		if err != nil {
			return nil, err
		}
		d.ptr = res
	}
	d.mapCount++
	return d.ptr, nil
}

// Unmap releases one mapping reference.
func (d *DeviceMemory) Unmap() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mapCount == 0 {
		return
	}
	d.mapCount--
	if d.mapCount == 0 {
		vk.UnmapMemory(d.Device.VKDevice, d.VKDeviceMemory)
		d.ptr = nil
	}
}

func (d *DeviceMemory) IsMapped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mapCount > 0
}

// MapCopyUnmap maps this memory, copies data into it and unmaps.
func (d *DeviceMemory) MapCopyUnmap(data []byte) error {
	ptr, err := d.Map()
	if err != nil {
		return err
	}
	copy(ToBytes(ptr, len(data)), data)
	if !d.HostCoherent {
		if err := d.Flush(0, uint64(len(data))); err != nil {
			d.Unmap()
			return err
		}
	}
	d.Unmap()
	return nil
}

// Flush makes host writes in the given range visible to the device.
// Required for non-coherent memory.
func (d *DeviceMemory) Flush(offset, size uint64) error {
	return vk.Error(vk.FlushMappedMemoryRanges(d.Device.VKDevice, 1, []vk.MappedMemoryRange{{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: d.VKDeviceMemory,
		Offset: vk.DeviceSize(offset),
		Size:   vk.DeviceSize(size),
	}}))
}

// Invalidate makes device writes in the given range visible to the host.
func (d *DeviceMemory) Invalidate(offset, size uint64) error {
	return vk.Error(vk.InvalidateMappedMemoryRanges(d.Device.VKDevice, 1, []vk.MappedMemoryRange{{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: d.VKDeviceMemory,
		Offset: vk.DeviceSize(offset),
		Size:   vk.DeviceSize(size),
	}}))
}

func (d *DeviceMemory) Destroy() {
	vk.FreeMemory(d.Device.VKDevice, d.VKDeviceMemory, nil)
}
