package graphics

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// Buffer owns a native buffer and the allocation backing it. Buffers with
// host access stay persistently mapped for their whole lifetime; Unmap on
// such a buffer is a no-op.
type Buffer struct {
	VKBuffer vk.Buffer
	Size     uint64
	Usage    vk.BufferUsageFlags

	allocator  Allocator
	allocation Allocation
	mapped     []byte
	persistent bool
}

// NewBuffer creates a buffer of the given size. When memUsage implies
// host access the buffer is persistently mapped. Initial data, if any, is
// copied in and flushed when the memory is not coherent.
func NewBuffer(allocator Allocator, size uint64, usage vk.BufferUsageFlags, memUsage MemoryUsage, data []byte) (*Buffer, error) {
	if size == 0 {
		return nil, fmt.Errorf("zero sized buffer")
	}
	if uint64(len(data)) > size {
		return nil, fmt.Errorf("initial data (%d bytes) exceeds buffer size (%d bytes)", len(data), size)
	}

	flags := AllocationCreateFlags(0)
	if memUsage.HostAccess() {
		flags |= AllocationMapped
	}

	vkBuffer, allocation, err := allocator.AllocateBuffer(size, usage, memUsage, flags)
	if err != nil {
		return nil, err
	}

	b := &Buffer{
		VKBuffer:   vkBuffer,
		Size:       size,
		Usage:      usage,
		allocator:  allocator,
		allocation: allocation,
	}

	if memUsage.HostAccess() {
		b.mapped, err = allocation.Bytes()
		if err != nil {
			allocator.DestroyBuffer(vkBuffer, allocation)
			return nil, fmt.Errorf("map buffer: %w", err)
		}
		b.persistent = true
	}

	if len(data) > 0 {
		if !b.persistent {
			allocator.DestroyBuffer(vkBuffer, allocation)
			return nil, fmt.Errorf("initial data requires host accessible memory, use a staged upload for device local buffers")
		}
		copy(b.mapped, data)
		if !allocation.Coherent() {
			if err := allocation.Flush(0, uint64(len(data))); err != nil {
				allocator.DestroyBuffer(vkBuffer, allocation)
				return nil, fmt.Errorf("flush initial data: %w", err)
			}
		}
	}

	return b, nil
}

// Map returns the buffer's memory as a byte slice. Persistently mapped
// buffers return their standing mapping.
func (b *Buffer) Map() ([]byte, error) {
	if b.allocation == nil {
		return nil, fmt.Errorf("buffer has no allocation")
	}
	if b.persistent {
		return b.mapped, nil
	}
	m, err := b.allocation.Bytes()
	if err != nil {
		return nil, err
	}
	b.mapped = m
	return m, nil
}

// Unmap releases a Map. A no-op on persistently mapped buffers.
func (b *Buffer) Unmap() {
	if b.persistent || b.allocation == nil {
		return
	}
	b.allocation.Unmap()
	b.mapped = nil
}

// Update replaces the buffer's contents with data, flushing when the
// backing memory is not coherent.
func (b *Buffer) Update(data []byte) error {
	if uint64(len(data)) > b.Size {
		return fmt.Errorf("update of %d bytes exceeds buffer size %d", len(data), b.Size)
	}
	m, err := b.Map()
	if err != nil {
		return err
	}
	copy(m, data)
	if !b.allocation.Coherent() {
		if err := b.allocation.Flush(0, uint64(len(data))); err != nil {
			return err
		}
	}
	b.Unmap()
	return nil
}

// Flush makes host writes through the standing mapping visible to the
// device. A no-op on coherent memory.
func (b *Buffer) Flush(offset, size uint64) error {
	if b.allocation == nil {
		return fmt.Errorf("buffer has no allocation")
	}
	return b.allocation.Flush(offset, size)
}

// Move transfers ownership of the native handles to the returned buffer
// and zeroes the receiver. The moved-from buffer may still be destroyed
// safely; doing so releases nothing.
func (b *Buffer) Move() *Buffer {
	moved := &Buffer{
		VKBuffer:   b.VKBuffer,
		Size:       b.Size,
		Usage:      b.Usage,
		allocator:  b.allocator,
		allocation: b.allocation,
		mapped:     b.mapped,
		persistent: b.persistent,
	}
	*b = Buffer{}
	return moved
}

// DSInfo describes the buffer for a descriptor write.
func (b *Buffer) DSInfo(offset uint64) vk.DescriptorBufferInfo {
	return vk.DescriptorBufferInfo{
		Buffer: b.VKBuffer,
		Offset: vk.DeviceSize(offset),
		Range:  vk.DeviceSize(b.Size),
	}
}

// Destroy releases the buffer and its memory. Safe to call on a
// moved-from or already destroyed buffer.
func (b *Buffer) Destroy() {
	if b.allocation == nil && b.VKBuffer == vk.NullBuffer {
		return
	}
	b.allocator.DestroyBuffer(b.VKBuffer, b.allocation)
	*b = Buffer{}
}

// NewStagedBuffer creates a device-local buffer seeded with data through a
// staging copy recorded and submitted on cmd's queue. The staging buffer
// is destroyed once the copy completes.
func NewStagedBuffer(allocator Allocator, cmd *CommandBuffer, usage vk.BufferUsageFlags, data []byte) (*Buffer, error) {
	staging, err := NewBuffer(allocator, uint64(len(data)),
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit), MemoryUsageHostVisible, data)
	if err != nil {
		return nil, fmt.Errorf("create staging buffer: %w", err)
	}
	defer staging.Destroy()

	dst, err := NewBuffer(allocator, uint64(len(data)),
		usage|vk.BufferUsageFlags(vk.BufferUsageTransferDstBit), MemoryUsageGPUOnly, nil)
	if err != nil {
		return nil, err
	}

	if err := cmd.BeginOneTime(); err != nil {
		dst.Destroy()
		return nil, err
	}
	cmd.CmdCopyBuffer(staging, dst, uint64(len(data)))
	if err := cmd.SubmitIdle(); err != nil {
		dst.Destroy()
		return nil, fmt.Errorf("staged upload: %w", err)
	}

	return dst, nil
}
