package graphics

import (
	"fmt"
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// QueueType routes a command buffer's submission.
type QueueType int

const (
	QueueGraphics QueueType = iota
	QueueCompute
)

// CommandBuffer wraps a native command buffer together with its recording
// state. Begin while recording and End while not recording are no-ops, so
// callers can be defensive about ordering without tripping validation.
type CommandBuffer struct {
	Device          *Device
	Pool            *CommandPool
	VKCommandBuffer vk.CommandBuffer

	queueType QueueType
	running   bool
}

// AllocateCommandBuffer allocates a primary command buffer from the pool
// and begins recording when begin is set.
func (c *CommandPool) AllocateCommandBuffer(queueType QueueType, begin bool) (*CommandBuffer, error) {
	commandBufferAllocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        c.VKCommandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}

	cmdBuffers := make([]vk.CommandBuffer, 1)
	err := vk.Error(vk.AllocateCommandBuffers(c.Device.VKDevice, &commandBufferAllocateInfo, cmdBuffers))
	if err != nil {
		return nil, err
	}

	cb := &CommandBuffer{
		Device:          c.Device,
		Pool:            c,
		VKCommandBuffer: cmdBuffers[0],
		queueType:       queueType,
	}
	if begin {
		if err := cb.BeginOneTime(); err != nil {
			c.FreeBuffer(cb)
			return nil, err
		}
	}
	return cb, nil
}

// Running reports whether the buffer is currently recording.
func (c *CommandBuffer) Running() bool {
	return c.running
}

func (c *CommandBuffer) begin(flags vk.CommandBufferUsageFlags) error {
	if c.running {
		return nil
	}
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: flags,
	}
	err := vk.Error(vk.BeginCommandBuffer(c.VKCommandBuffer, &beginInfo))
	if err != nil {
		return err
	}
	c.running = true
	return nil
}

// Begin starts recording. A no-op when already recording.
func (c *CommandBuffer) Begin() error {
	return c.begin(0)
}

// BeginOneTime starts recording for a single submission.
func (c *CommandBuffer) BeginOneTime() error {
	return c.begin(vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit))
}

// End stops recording. A no-op when not recording.
func (c *CommandBuffer) End() error {
	if !c.running {
		return nil
	}
	err := vk.Error(vk.EndCommandBuffer(c.VKCommandBuffer))
	if err != nil {
		return err
	}
	c.running = false
	return nil
}

func (c *CommandBuffer) Reset() error {
	return vk.Error(vk.ResetCommandBuffer(c.VKCommandBuffer, 0))
}

func (c *CommandBuffer) queue() *Queue {
	switch c.queueType {
	case QueueGraphics:
		return c.Device.GraphicsQueue
	case QueueCompute:
		return c.Device.ComputeQueue
	}
	return nil
}

// SubmitIdle ends recording if needed, submits on the buffer's queue with
// a throwaway fence and blocks until the work completes.
func (c *CommandBuffer) SubmitIdle() error {
	if err := c.End(); err != nil {
		return err
	}

	queue := c.queue()
	if queue == nil {
		return fmt.Errorf("no queue available for queue type %d", c.queueType)
	}

	fence, err := c.Device.VKCreateFence(false)
	if err != nil {
		return err
	}
	defer c.Device.VKDestroyFence(fence)

	if err := queue.SubmitWithFence(fence, c); err != nil {
		return err
	}
	return c.Device.VKWaitForFence(fence, 0)
}

// Submit ends recording if needed and submits asynchronously. waitSem, if
// not null, gates execution at the color attachment output stage;
// signalSem signals on completion; fence, if not null, is reset first and
// signals on completion.
func (c *CommandBuffer) Submit(waitSem, signalSem vk.Semaphore, fence vk.Fence) error {
	if err := c.End(); err != nil {
		return err
	}

	queue := c.queue()
	if queue == nil {
		return fmt.Errorf("no queue available for queue type %d", c.queueType)
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{c.VKCommandBuffer},
	}
	if waitSem != vk.NullSemaphore {
		submitInfo.WaitSemaphoreCount = 1
		submitInfo.PWaitSemaphores = []vk.Semaphore{waitSem}
		submitInfo.PWaitDstStageMask = []vk.PipelineStageFlags{
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		}
	}
	if signalSem != vk.NullSemaphore {
		submitInfo.SignalSemaphoreCount = 1
		submitInfo.PSignalSemaphores = []vk.Semaphore{signalSem}
	}

	if fence != vk.NullFence {
		if err := c.Device.VKResetFence(fence); err != nil {
			return err
		}
	}

	return vk.Error(vk.QueueSubmit(queue.VKQueue, 1, []vk.SubmitInfo{submitInfo}, fence))
}

// Free returns the buffer to its pool.
func (c *CommandBuffer) Free() {
	if c.Pool != nil {
		c.Pool.FreeBuffer(c)
	}
	c.VKCommandBuffer = nil
	c.running = false
}

func (c *CommandBuffer) VK() vk.CommandBuffer {
	return c.VKCommandBuffer
}

func (c *CommandBuffer) CmdCopyBuffer(src, dst *Buffer, size uint64) {
	region := vk.BufferCopy{Size: vk.DeviceSize(size)}
	vk.CmdCopyBuffer(c.VKCommandBuffer, src.VKBuffer, dst.VKBuffer, 1, []vk.BufferCopy{region})
}

func (c *CommandBuffer) CmdBindGraphicsPipeline(pipeline vk.Pipeline) {
	vk.CmdBindPipeline(c.VKCommandBuffer, vk.PipelineBindPointGraphics, pipeline)
}

func (c *CommandBuffer) CmdBindComputePipeline(pipeline vk.Pipeline) {
	vk.CmdBindPipeline(c.VKCommandBuffer, vk.PipelineBindPointCompute, pipeline)
}

func (c *CommandBuffer) CmdBindDescriptorSets(bindPoint vk.PipelineBindPoint, layout vk.PipelineLayout, firstSet int, sets ...vk.DescriptorSet) {
	vk.CmdBindDescriptorSets(c.VKCommandBuffer, bindPoint, layout,
		uint32(firstSet), uint32(len(sets)), sets, 0, nil)
}

func (c *CommandBuffer) CmdPushConstants(layout vk.PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data []byte) {
	vk.CmdPushConstants(c.VKCommandBuffer, layout, stages, offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (c *CommandBuffer) CmdDispatch(x, y, z int) {
	vk.CmdDispatch(c.VKCommandBuffer, uint32(x), uint32(y), uint32(z))
}

func (c *CommandBuffer) CmdDraw(vertexCount, instanceCount, firstVertex, firstInstance int) {
	vk.CmdDraw(c.VKCommandBuffer, uint32(vertexCount), uint32(instanceCount), uint32(firstVertex), uint32(firstInstance))
}

func (c *CommandBuffer) CmdDrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance int) {
	vk.CmdDrawIndexed(c.VKCommandBuffer, uint32(indexCount), uint32(instanceCount), uint32(firstIndex), int32(vertexOffset), uint32(firstInstance))
}
