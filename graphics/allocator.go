package graphics

import (
	"fmt"
	"sync"

	vk "github.com/vulkan-go/vulkan"
)

// MemoryUsage is a hint describing who accesses an allocation.
type MemoryUsage int

const (
	// MemoryUsageGPUOnly places the allocation in device-local memory
	// with no host access.
	MemoryUsageGPUOnly MemoryUsage = iota
	// MemoryUsageHostVisible places the allocation in host-visible
	// memory for sequential CPU writes.
	MemoryUsageHostVisible
	// MemoryUsageHostCached places the allocation in host-cached memory
	// for CPU readback.
	MemoryUsageHostCached
)

// HostAccess reports whether the usage implies CPU access to the memory.
func (u MemoryUsage) HostAccess() bool {
	return u != MemoryUsageGPUOnly
}

func (u MemoryUsage) propertyFlags() vk.MemoryPropertyFlagBits {
	switch u {
	case MemoryUsageHostVisible:
		return vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	case MemoryUsageHostCached:
		return vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCachedBit
	default:
		return vk.MemoryPropertyDeviceLocalBit
	}
}

// fallbackFlags is tried when no memory type matches the preferred flags.
func (u MemoryUsage) fallbackFlags() vk.MemoryPropertyFlagBits {
	if u.HostAccess() {
		return vk.MemoryPropertyHostVisibleBit
	}
	return 0
}

// AllocationCreateFlags tune individual allocations.
type AllocationCreateFlags uint32

const (
	// AllocationMapped requests a persistently mapped allocation.
	AllocationMapped AllocationCreateFlags = 1 << iota
	// AllocationDedicated forces a dedicated memory object instead of a
	// pool sub-allocation.
	AllocationDedicated
)

// Allocation is one block of memory backing a buffer or image. The
// device-backed implementation lives in DeviceAllocator; tests substitute
// a host-backed one.
type Allocation interface {
	// Bytes maps the allocation and returns its memory as a byte slice.
	Bytes() ([]byte, error)
	// Unmap releases a mapping obtained from Bytes.
	Unmap()
	// Flush makes host writes visible to the device. A no-op on
	// coherent memory.
	Flush(offset, size uint64) error
	// Invalidate makes device writes visible to the host.
	Invalidate(offset, size uint64) error
	Coherent() bool
	Size() uint64
	// Free returns the memory to its allocator.
	Free()
}

// Allocator creates buffers and images bound to freshly allocated memory.
type Allocator interface {
	AllocateBuffer(size uint64, usage vk.BufferUsageFlags, memUsage MemoryUsage, flags AllocationCreateFlags) (vk.Buffer, Allocation, error)
	AllocateImage(info *vk.ImageCreateInfo) (vk.Image, Allocation, error)
	DestroyBuffer(b vk.Buffer, a Allocation)
	DestroyImage(i vk.Image, a Allocation)
	Destroy()
}

func makeAlignUp(a uint64, align uint64) uint64 {
	m := a % align
	if m == 0 {
		return a
	}
	return (a - m) + align
}

// Block is one sub-range handed out by a BlockAllocator.
type Block struct {
	Offset uint64
	Size   uint64
}

func (b *Block) String() string {
	return fmt.Sprintf("[%d %d]", b.Offset, b.Size)
}

// BlockAllocator hands out aligned sub-ranges of a fixed-size arena using
// a first-fit search over the gaps between live blocks. Blocks are kept
// sorted by offset.
type BlockAllocator struct {
	Size  uint64
	Align uint64

	blocks []*Block
}

// Allocate reserves an aligned block, or returns nil when no gap fits.
func (p *BlockAllocator) Allocate(size uint64) *Block {
	if size == 0 || size > p.Size {
		return nil
	}
	align := p.Align
	if align == 0 {
		align = 1
	}

	var prevEnd uint64
	for i, b := range p.blocks {
		off := makeAlignUp(prevEnd, align)
		if off+size <= b.Offset {
			nb := &Block{Offset: off, Size: size}
			p.blocks = append(p.blocks[:i], append([]*Block{nb}, p.blocks[i:]...)...)
			return nb
		}
		prevEnd = b.Offset + b.Size
	}

	off := makeAlignUp(prevEnd, align)
	if off+size <= p.Size {
		nb := &Block{Offset: off, Size: size}
		p.blocks = append(p.blocks, nb)
		return nb
	}
	return nil
}

// Free releases a block previously returned by Allocate.
func (p *BlockAllocator) Free(fb *Block) {
	for i, b := range p.blocks {
		if b == fb {
			p.blocks = append(p.blocks[:i], p.blocks[i+1:]...)
			return
		}
	}
}

// InUse returns the number of live blocks.
func (p *BlockAllocator) InUse() int {
	return len(p.blocks)
}

func (p *BlockAllocator) String() string {
	return fmt.Sprintf("%v", p.blocks)
}

const (
	// Arena size for pooled host-visible allocations.
	poolArenaSize = 64 << 20
	// Allocations at or above this size get a dedicated memory object.
	dedicatedThreshold = 8 << 20
)

// DeviceAllocator is the Allocator backed by real device memory. Small
// host-visible allocations share pooled arenas; everything else gets a
// dedicated memory object.
type DeviceAllocator struct {
	Device *Device

	mu    sync.Mutex
	pools map[uint32][]*memoryPool
}

func NewDeviceAllocator(device *Device) *DeviceAllocator {
	return &DeviceAllocator{
		Device: device,
		pools:  make(map[uint32][]*memoryPool),
	}
}

type memoryPool struct {
	memory    *DeviceMemory
	blocks    BlockAllocator
	typeIndex uint32
}

// deviceAllocation is either a dedicated memory object (pool == nil) or a
// block inside a pooled arena.
type deviceAllocation struct {
	owner  *DeviceAllocator
	memory *DeviceMemory
	pool   *memoryPool
	block  *Block
	offset uint64
	size   uint64
	mapped bool
}

func (a *deviceAllocation) Bytes() ([]byte, error) {
	ptr, err := a.memory.Map()
	if err != nil {
		return nil, err
	}
	a.mapped = true
	base := ToBytes(ptr, int(a.offset+a.size))
	return base[a.offset : a.offset+a.size], nil
}

func (a *deviceAllocation) Unmap() {
	if !a.mapped {
		return
	}
	a.mapped = false
	a.memory.Unmap()
}

func (a *deviceAllocation) Flush(offset, size uint64) error {
	if a.memory.HostCoherent {
		return nil
	}
	return a.memory.Flush(a.offset+offset, size)
}

func (a *deviceAllocation) Invalidate(offset, size uint64) error {
	if a.memory.HostCoherent {
		return nil
	}
	return a.memory.Invalidate(a.offset+offset, size)
}

func (a *deviceAllocation) Coherent() bool {
	return a.memory.HostCoherent
}

func (a *deviceAllocation) Size() uint64 {
	return a.size
}

func (a *deviceAllocation) Free() {
	if a.memory == nil {
		return
	}
	a.Unmap()
	if a.pool != nil {
		a.owner.mu.Lock()
		a.pool.blocks.Free(a.block)
		a.owner.mu.Unlock()
	} else {
		a.memory.Destroy()
	}
	a.memory = nil
}

func (d *DeviceAllocator) findMemoryTypeIndex(typeBits uint32, memUsage MemoryUsage) (uint32, vk.MemoryPropertyFlagBits, error) {
	props := memUsage.propertyFlags()
	index, err := d.Device.PhysicalDevice.FindMemoryType(typeBits, props)
	if err != nil {
		if fb := memUsage.fallbackFlags(); fb != 0 {
			index, err = d.Device.PhysicalDevice.FindMemoryType(typeBits, fb)
			props = fb
		}
		if err != nil {
			return 0, 0, fmt.Errorf("no memory type for usage %d: %w", memUsage, err)
		}
	}
	return index, props, nil
}

func (d *DeviceAllocator) allocate(req vk.MemoryRequirements, memUsage MemoryUsage, flags AllocationCreateFlags) (*deviceAllocation, error) {
	alloc, err := d.allocateBlock(req, memUsage, flags)
	if err != nil {
		return nil, err
	}
	if flags&AllocationMapped != 0 && memUsage.HostAccess() {
		if _, err := alloc.memory.Map(); err != nil {
			alloc.Free()
			return nil, fmt.Errorf("map persistent allocation: %w", err)
		}
		alloc.mapped = true
	}
	return alloc, nil
}

func (d *DeviceAllocator) allocateBlock(req vk.MemoryRequirements, memUsage MemoryUsage, flags AllocationCreateFlags) (*deviceAllocation, error) {
	typeIndex, props, err := d.findMemoryTypeIndex(req.MemoryTypeBits, memUsage)
	if err != nil {
		return nil, err
	}

	size := uint64(req.Size)
	align := uint64(req.Alignment)

	pooled := memUsage.HostAccess() &&
		size < dedicatedThreshold &&
		flags&AllocationDedicated == 0

	if pooled {
		d.mu.Lock()
		defer d.mu.Unlock()

		for _, pool := range d.pools[typeIndex] {
			if align > pool.blocks.Align {
				pool.blocks.Align = align
			}
			if block := pool.blocks.Allocate(size); block != nil {
				return &deviceAllocation{
					owner:  d,
					memory: pool.memory,
					pool:   pool,
					block:  block,
					offset: block.Offset,
					size:   size,
				}, nil
			}
		}

		mem, err := d.Device.Allocate(poolArenaSize, 1<<typeIndex, props)
		if err != nil {
			return nil, fmt.Errorf("allocate pool arena: %w", err)
		}
		pool := &memoryPool{
			memory:    mem,
			blocks:    BlockAllocator{Size: poolArenaSize, Align: align},
			typeIndex: typeIndex,
		}
		d.pools[typeIndex] = append(d.pools[typeIndex], pool)

		block := pool.blocks.Allocate(size)
		if block == nil {
			return nil, fmt.Errorf("allocation of %d bytes does not fit a fresh arena", size)
		}
		return &deviceAllocation{
			owner:  d,
			memory: pool.memory,
			pool:   pool,
			block:  block,
			offset: block.Offset,
			size:   size,
		}, nil
	}

	mem, err := d.Device.Allocate(size, req.MemoryTypeBits, props)
	if err != nil {
		return nil, err
	}
	return &deviceAllocation{owner: d, memory: mem, size: size}, nil
}

func (d *DeviceAllocator) AllocateBuffer(size uint64, usage vk.BufferUsageFlags, memUsage MemoryUsage, flags AllocationCreateFlags) (vk.Buffer, Allocation, error) {
	bufferCreateInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}

	var buffer vk.Buffer
	err := vk.Error(vk.CreateBuffer(d.Device.VKDevice, &bufferCreateInfo, nil, &buffer))
	if err != nil {
		return vk.NullBuffer, nil, fmt.Errorf("create buffer: %w", err)
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.Device.VKDevice, buffer, &req)
	req.Deref()

	alloc, err := d.allocate(req, memUsage, flags)
	if err != nil {
		vk.DestroyBuffer(d.Device.VKDevice, buffer, nil)
		return vk.NullBuffer, nil, err
	}

	err = vk.Error(vk.BindBufferMemory(d.Device.VKDevice, buffer, alloc.memory.VKDeviceMemory, vk.DeviceSize(alloc.offset)))
	if err != nil {
		alloc.Free()
		vk.DestroyBuffer(d.Device.VKDevice, buffer, nil)
		return vk.NullBuffer, nil, fmt.Errorf("bind buffer memory: %w", err)
	}

	return buffer, alloc, nil
}

func (d *DeviceAllocator) AllocateImage(info *vk.ImageCreateInfo) (vk.Image, Allocation, error) {
	var image vk.Image
	err := vk.Error(vk.CreateImage(d.Device.VKDevice, info, nil, &image))
	if err != nil {
		return vk.NullImage, nil, fmt.Errorf("create image: %w", err)
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.Device.VKDevice, image, &req)
	req.Deref()

	alloc, err := d.allocate(req, MemoryUsageGPUOnly, AllocationDedicated)
	if err != nil {
		vk.DestroyImage(d.Device.VKDevice, image, nil)
		return vk.NullImage, nil, err
	}

	err = vk.Error(vk.BindImageMemory(d.Device.VKDevice, image, alloc.memory.VKDeviceMemory, vk.DeviceSize(alloc.offset)))
	if err != nil {
		alloc.Free()
		vk.DestroyImage(d.Device.VKDevice, image, nil)
		return vk.NullImage, nil, fmt.Errorf("bind image memory: %w", err)
	}

	return image, alloc, nil
}

func (d *DeviceAllocator) DestroyBuffer(b vk.Buffer, a Allocation) {
	if b != vk.NullBuffer {
		vk.DestroyBuffer(d.Device.VKDevice, b, nil)
	}
	if a != nil {
		a.Free()
	}
}

func (d *DeviceAllocator) DestroyImage(i vk.Image, a Allocation) {
	if i != vk.NullImage {
		vk.DestroyImage(d.Device.VKDevice, i, nil)
	}
	if a != nil {
		a.Free()
	}
}

// Destroy frees all pooled arenas. Outstanding dedicated allocations must
// be freed by their owners first.
func (d *DeviceAllocator) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, pools := range d.pools {
		for _, pool := range pools {
			if n := pool.blocks.InUse(); n > 0 {
				Logger().Warn("destroying memory pool with live allocations", "count", n)
			}
			pool.memory.Destroy()
		}
	}
	d.pools = make(map[uint32][]*memoryPool)
}
