package graphics

import (
	"bytes"

	vk "github.com/vulkan-go/vulkan"
)

// HandlerStatus tracks a handler's dirty state between frames.
type HandlerStatus int

const (
	// HandlerNormal means pushes compare against the buffer and copy
	// only on a difference.
	HandlerNormal HandlerStatus = iota
	// HandlerChanged means the buffer is known dirty; pushes copy
	// without comparing.
	HandlerChanged
	// HandlerReset means the buffer must be reallocated on the next
	// Update before any push can land.
	HandlerReset
)

// handlerCore is the shared machinery of the uniform and storage
// handlers: a host-visible buffer mirroring one shader block, with byte
// comparison based dirty tracking so unchanged pushes cost one compare
// and no copy.
type handlerCore struct {
	allocator     Allocator
	usage         vk.BufferUsageFlags
	multiPipeline bool

	block  *UniformBlock
	size   uint32
	buffer *Buffer
	data   []byte
	bound  bool
	status HandlerStatus

	comparisons uint64
	copies      uint64
}

// PushBytes writes data at a byte offset into the block's buffer.
func (h *handlerCore) PushBytes(offset uint32, data []byte) {
	if h.buffer == nil || h.status == HandlerReset {
		return
	}
	if uint64(offset)+uint64(len(data)) > uint64(len(h.data)) {
		return
	}

	if !h.bound {
		h.bound = true
	}

	dest := h.data[offset : offset+uint32(len(data))]
	if h.status != HandlerChanged {
		h.comparisons++
		if bytes.Equal(dest, data) {
			return
		}
		h.status = HandlerChanged
	}
	copy(dest, data)
	h.copies++
}

// Push replaces the whole block. A size change forces a reallocation on
// the next Update; the data lands once the new buffer exists.
func (h *handlerCore) Push(data []byte) {
	if uint32(len(data)) != h.size {
		h.size = uint32(len(data))
		h.status = HandlerReset
		return
	}
	h.PushBytes(0, data)
}

// PushMember writes one named block field.
func (h *handlerCore) PushMember(name string, data []byte) {
	if h.block == nil {
		return
	}
	m, ok := h.block.Member(name)
	if !ok {
		return
	}
	h.PushBytes(m.Offset, data)
}

func sameBlock(a, b *UniformBlock) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Name == b.Name && a.Binding == b.Binding && a.Size == b.Size
}

// Update points the handler at the block about to be rendered. It returns
// false when the backing buffer had to be (re)built, in which case the
// caller skips this draw and pushes again next frame. On true the handler
// flushes pending writes and settles back to Normal.
func (h *handlerCore) Update(block *UniformBlock) bool {
	rebuild := h.status == HandlerReset ||
		(h.multiPipeline && (block == nil || h.buffer == nil)) ||
		(!h.multiPipeline && !sameBlock(h.block, block))

	if rebuild {
		if block != nil {
			h.size = block.Size
		}
		h.block = block
		h.bound = false

		if h.buffer != nil {
			h.buffer.Destroy()
			h.buffer = nil
			h.data = nil
		}
		if h.size > 0 && h.allocator != nil {
			buffer, err := NewBuffer(h.allocator, uint64(h.size), h.usage, MemoryUsageHostVisible, nil)
			if err != nil {
				Logger().Warn("handler buffer allocation failed", "size", h.size, "error", err)
				h.status = HandlerReset
				return false
			}
			h.buffer = buffer
			h.data, err = buffer.Map()
			if err != nil {
				Logger().Warn("handler buffer map failed", "error", err)
				h.status = HandlerReset
				return false
			}
		}
		h.status = HandlerChanged
		return false
	}

	if h.status != HandlerNormal {
		if h.bound && h.buffer != nil {
			if err := h.buffer.Flush(0, uint64(h.size)); err != nil {
				Logger().Warn("handler flush failed", "error", err)
			}
			h.bound = false
		}
		h.status = HandlerNormal
	}
	return true
}

// Buffer returns the backing buffer for descriptor writes.
func (h *handlerCore) Buffer() *Buffer {
	return h.buffer
}

func (h *handlerCore) Status() HandlerStatus {
	return h.status
}

func (h *handlerCore) Destroy() {
	if h.buffer != nil {
		h.buffer.Destroy()
		h.buffer = nil
		h.data = nil
	}
	h.block = nil
	h.bound = false
}

// UniformHandler mirrors a uniform block in a host-visible uniform
// buffer.
type UniformHandler struct {
	handlerCore
}

// NewUniformHandler creates a uniform handler. multiPipeline handlers
// keep their buffer when rendered under a different pipeline's block.
func NewUniformHandler(allocator Allocator, multiPipeline bool) *UniformHandler {
	return &UniformHandler{handlerCore{
		allocator:     allocator,
		usage:         vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit),
		multiPipeline: multiPipeline,
		status:        HandlerNormal,
	}}
}

// StorageHandler mirrors a storage block in a host-visible storage
// buffer. It starts in the Reset state so the first Update allocates.
type StorageHandler struct {
	handlerCore
}

func NewStorageHandler(allocator Allocator, multiPipeline bool) *StorageHandler {
	return &StorageHandler{handlerCore{
		allocator:     allocator,
		usage:         vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit),
		multiPipeline: multiPipeline,
		status:        HandlerReset,
	}}
}

// PushHandler stages push constant data on the host and records it with
// one CmdPushConstants per draw.
type PushHandler struct {
	rng  *PushConstantRange
	data []byte
}

func NewPushHandler() *PushHandler {
	return &PushHandler{}
}

// Update points the handler at the range about to be rendered, resizing
// the staging area when the range changes.
func (h *PushHandler) Update(rng *PushConstantRange) bool {
	if rng == nil {
		h.rng = nil
		h.data = nil
		return false
	}
	if h.rng == nil || h.rng.Size != rng.Size {
		h.data = make([]byte, rng.Size)
	}
	h.rng = rng
	return true
}

// PushBytes writes data at a byte offset into the staging area.
func (h *PushHandler) PushBytes(offset uint32, data []byte) {
	if uint64(offset)+uint64(len(data)) > uint64(len(h.data)) {
		return
	}
	copy(h.data[offset:], data)
}

// PushMember writes one named push constant field.
func (h *PushHandler) PushMember(name string, data []byte) {
	if h.rng == nil {
		return
	}
	m, ok := h.rng.Member(name)
	if !ok {
		return
	}
	h.PushBytes(m.Offset, data)
}

// Bind records the staged data onto cmd.
func (h *PushHandler) Bind(cmd *CommandBuffer, layout vk.PipelineLayout) {
	if h.rng == nil || len(h.data) == 0 {
		return
	}
	cmd.CmdPushConstants(layout, h.rng.StageFlags, h.rng.Offset, h.data)
}
