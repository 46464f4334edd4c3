package graphics

import (
	"encoding/binary"
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// hostAllocation backs test buffers with plain host memory.
type hostAllocation struct {
	data     []byte
	coherent bool
	flushes  int
	freed    bool
}

func (a *hostAllocation) Bytes() ([]byte, error) {
	if a.freed {
		return nil, fmt.Errorf("allocation already freed")
	}
	return a.data, nil
}

func (a *hostAllocation) Unmap() {}

func (a *hostAllocation) Flush(offset, size uint64) error {
	a.flushes++
	return nil
}

func (a *hostAllocation) Invalidate(offset, size uint64) error { return nil }
func (a *hostAllocation) Coherent() bool                       { return a.coherent }
func (a *hostAllocation) Size() uint64                         { return uint64(len(a.data)) }
func (a *hostAllocation) Free()                                { a.freed = true }

// hostAllocator satisfies Allocator without a device. Buffer handles stay
// null; everything observable lives in the allocation.
type hostAllocator struct {
	coherent  bool
	live      int
	last      *hostAllocation
	lastFlags AllocationCreateFlags
}

func (h *hostAllocator) AllocateBuffer(size uint64, usage vk.BufferUsageFlags, memUsage MemoryUsage, flags AllocationCreateFlags) (vk.Buffer, Allocation, error) {
	h.live++
	h.last = &hostAllocation{data: make([]byte, size), coherent: h.coherent}
	h.lastFlags = flags
	return vk.NullBuffer, h.last, nil
}

func (h *hostAllocator) AllocateImage(info *vk.ImageCreateInfo) (vk.Image, Allocation, error) {
	return vk.NullImage, nil, fmt.Errorf("images not supported")
}

func (h *hostAllocator) DestroyBuffer(b vk.Buffer, a Allocation) {
	h.live--
	if a != nil {
		a.Free()
	}
}

func (h *hostAllocator) DestroyImage(i vk.Image, a Allocation) {}
func (h *hostAllocator) Destroy()                              {}

// validSPIRV builds a minimal blob that passes the SPIR-V sanity check.
func validSPIRV(extraWords int) []byte {
	words := []uint32{spirvMagic, 0x00010000, 0, 1, 0}
	for i := 0; i < extraWords; i++ {
		words = append(words, uint32(i))
	}
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return buf
}
