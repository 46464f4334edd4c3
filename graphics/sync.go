package graphics

import (
	"time"

	vk "github.com/vulkan-go/vulkan"
)

// VKCreateFence creates a native fence, optionally pre-signaled.
func (d *Device) VKCreateFence(signaled bool) (vk.Fence, error) {
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var fence vk.Fence
	err := vk.Error(vk.CreateFence(d.VKDevice, &fenceCreateInfo, nil, &fence))
	if err != nil {
		return vk.NullFence, err
	}
	return fence, nil
}

func (d *Device) VKDestroyFence(f vk.Fence) {
	vk.DestroyFence(d.VKDevice, f, nil)
}

// VKWaitForFence blocks until the fence signals or the timeout expires.
// A zero timeout waits forever.
func (d *Device) VKWaitForFence(f vk.Fence, timeout time.Duration) error {
	t := uint64(vk.MaxUint64)
	if timeout > 0 {
		t = uint64(timeout.Nanoseconds())
	}
	return vk.Error(vk.WaitForFences(d.VKDevice, 1, []vk.Fence{f}, vk.True, t))
}

func (d *Device) VKResetFence(f vk.Fence) error {
	return vk.Error(vk.ResetFences(d.VKDevice, 1, []vk.Fence{f}))
}

// VKCreateSemaphore creates a native binary semaphore.
func (d *Device) VKCreateSemaphore() (vk.Semaphore, error) {
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}

	var sema vk.Semaphore
	err := vk.Error(vk.CreateSemaphore(d.VKDevice, &semaphoreCreateInfo, nil, &sema))
	return sema, err
}

func (d *Device) VKDestroySemaphore(s vk.Semaphore) {
	vk.DestroySemaphore(d.VKDevice, s, nil)
}
