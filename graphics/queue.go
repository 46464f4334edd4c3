package graphics

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

type Queue struct {
	Device      *Device
	FamilyIndex int
	VKQueue     vk.Queue
}

func (q *Queue) WaitIdle() error {
	return vk.Error(vk.QueueWaitIdle(q.VKQueue))
}

// SubmitWaitIdle submits the command buffers and blocks until the queue
// drains.
func (q *Queue) SubmitWaitIdle(buffers ...*CommandBuffer) error {
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(buffers)),
	}

	b := make([]vk.CommandBuffer, len(buffers))
	for i := range buffers {
		b[i] = buffers[i].VKCommandBuffer
	}
	submitInfo.PCommandBuffers = b

	err := vk.Error(vk.QueueSubmit(q.VKQueue, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence))
	if err != nil {
		return err
	}
	return q.WaitIdle()
}

// SubmitWithFence submits the command buffers, signaling the fence on
// completion.
func (q *Queue) SubmitWithFence(fence vk.Fence, buffers ...*CommandBuffer) error {
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(buffers)),
	}

	b := make([]vk.CommandBuffer, len(buffers))
	for i := range buffers {
		b[i] = buffers[i].VKCommandBuffer
	}
	submitInfo.PCommandBuffers = b

	return vk.Error(vk.QueueSubmit(q.VKQueue, 1, []vk.SubmitInfo{submitInfo}, fence))
}

func (q *Queue) String() string {
	return fmt.Sprintf("{ Family: %d }", q.FamilyIndex)
}
