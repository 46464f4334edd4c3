package graphics

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

type QueueFamilySlice []*QueueFamily

func (ql QueueFamilySlice) Filter(f func(q *QueueFamily) bool) QueueFamilySlice {
	ret := make(QueueFamilySlice, 0)
	for _, q := range ql {
		if f(q) {
			ret = append(ret, q)
		}
	}
	return ret
}

func (ql QueueFamilySlice) FilterGraphics() QueueFamilySlice {
	return ql.Filter(func(q *QueueFamily) bool { return q.IsGraphics() })
}

func (ql QueueFamilySlice) FilterCompute() QueueFamilySlice {
	return ql.Filter(func(q *QueueFamily) bool { return q.IsCompute() })
}

func (ql QueueFamilySlice) FilterPresent(surface vk.Surface) QueueFamilySlice {
	return ql.Filter(func(q *QueueFamily) bool { return q.SupportsPresent(surface) })
}

// Profiles converts the live queue family list into plain snapshots
// suitable for assignment.
func (ql QueueFamilySlice) Profiles() []QueueFamilyProfile {
	ret := make([]QueueFamilyProfile, len(ql))
	for i, q := range ql {
		ret[i] = QueueFamilyProfile{
			Index: q.Index,
			Flags: q.VKQueueFamilyProperties.QueueFlags,
			Count: q.VKQueueFamilyProperties.QueueCount,
		}
	}
	return ret
}

type QueueFamily struct {
	Index                   int
	PhysicalDevice          *PhysicalDevice
	VKQueueFamilyProperties vk.QueueFamilyProperties
}

func (q *QueueFamily) IsGraphics() bool {
	return q.VKQueueFamilyProperties.QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0
}

func (q *QueueFamily) IsCompute() bool {
	return q.VKQueueFamilyProperties.QueueFlags&vk.QueueFlags(vk.QueueComputeBit) != 0
}

func (q *QueueFamily) IsTransfer() bool {
	return q.VKQueueFamilyProperties.QueueFlags&vk.QueueFlags(vk.QueueTransferBit) != 0
}

func (q *QueueFamily) SupportsPresent(surface vk.Surface) bool {
	var supportsPresent vk.Bool32
	vk.GetPhysicalDeviceSurfaceSupport(q.PhysicalDevice.VKPhysicalDevice, uint32(q.Index), surface, &supportsPresent)
	return supportsPresent == vk.True
}

func (q *QueueFamily) String() string {
	return fmt.Sprintf("{ Index: %d Graphics: %v Compute: %v Transfer: %v }",
		q.Index, q.IsGraphics(), q.IsCompute(), q.IsTransfer())
}

// QueueFamilyProfile is a handle-free snapshot of one queue family.
type QueueFamilyProfile struct {
	Index int
	Flags vk.QueueFlags
	Count uint32
}

func (p QueueFamilyProfile) IsGraphics() bool {
	return p.Flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0
}

func (p QueueFamilyProfile) IsCompute() bool {
	return p.Flags&vk.QueueFlags(vk.QueueComputeBit) != 0
}

func (p QueueFamilyProfile) IsTransfer() bool {
	return p.Flags&vk.QueueFlags(vk.QueueTransferBit) != 0
}

// IsDedicatedCompute reports a compute family with no graphics capability.
func (p QueueFamilyProfile) IsDedicatedCompute() bool {
	return p.IsCompute() && !p.IsGraphics()
}

// IsDedicatedTransfer reports a family whose only capability is transfer.
func (p QueueFamilyProfile) IsDedicatedTransfer() bool {
	return p.Flags == vk.QueueFlags(vk.QueueTransferBit)
}

// QueueAssignment records which family serves each queue role. A role
// without a family holds -1; graphics and present are mandatory, compute
// and transfer degrade to absent.
type QueueAssignment struct {
	Graphics int
	Present  int
	Compute  int
	Transfer int

	DedicatedCompute  bool
	DedicatedTransfer bool
}

// UniqueFamilies returns the distinct family indices used by the
// assignment, in first-use order.
func (a QueueAssignment) UniqueFamilies() []int {
	seen := make(map[int]bool)
	ret := make([]int, 0, 4)
	for _, idx := range []int{a.Graphics, a.Present, a.Compute, a.Transfer} {
		if idx < 0 || seen[idx] {
			continue
		}
		seen[idx] = true
		ret = append(ret, idx)
	}
	return ret
}

// AssignQueueFamilies maps queue roles onto families. Each role takes the
// first capable family, then a dedicated compute family (compute without
// graphics) and a dedicated transfer family (transfer only) override the
// first-found picks for their roles. presentSupport answers whether a
// family can present to the target surface; graphics capability never
// implies present capability.
//
// A missing graphics or present family is an error. Missing compute or
// transfer only logs a warning and leaves the role unassigned.
func AssignQueueFamilies(families []QueueFamilyProfile, presentSupport func(familyIndex int) bool) (QueueAssignment, error) {
	a := QueueAssignment{Graphics: -1, Present: -1, Compute: -1, Transfer: -1}

	for _, f := range families {
		if a.Graphics < 0 && f.IsGraphics() {
			a.Graphics = f.Index
		}
		if a.Present < 0 && presentSupport != nil && presentSupport(f.Index) {
			a.Present = f.Index
		}
		if f.IsCompute() && (a.Compute < 0 || (f.IsDedicatedCompute() && !a.DedicatedCompute)) {
			a.Compute = f.Index
			a.DedicatedCompute = f.IsDedicatedCompute()
		}
		if f.IsTransfer() && (a.Transfer < 0 || (f.IsDedicatedTransfer() && !a.DedicatedTransfer)) {
			a.Transfer = f.Index
			a.DedicatedTransfer = f.IsDedicatedTransfer()
		}
	}

	if a.Graphics < 0 {
		return a, fmt.Errorf("no graphics capable queue family")
	}
	if a.Present < 0 {
		return a, fmt.Errorf("no queue family can present to the surface")
	}
	if a.Compute < 0 {
		Logger().Warn("no compute capable queue family, compute work disabled")
	}
	if a.Transfer < 0 {
		Logger().Warn("no transfer capable queue family, transfers use the graphics queue")
		a.Transfer = a.Graphics
	}

	return a, nil
}
