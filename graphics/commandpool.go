package graphics

import (
	"sync"
	"time"

	vk "github.com/vulkan-go/vulkan"
)

type CommandPool struct {
	Device        *Device
	FamilyIndex   int
	VKCommandPool vk.CommandPool

	lastUsed time.Time
}

func (d *Device) CreateCommandPool(familyIndex int) (*CommandPool, error) {
	commandPoolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit | vk.CommandPoolCreateTransientBit),
		QueueFamilyIndex: uint32(familyIndex),
	}

	var commandPool vk.CommandPool
	err := vk.Error(vk.CreateCommandPool(d.VKDevice, &commandPoolCreateInfo, nil, &commandPool))
	if err != nil {
		return nil, err
	}

	return &CommandPool{
		Device:        d,
		FamilyIndex:   familyIndex,
		VKCommandPool: commandPool,
	}, nil
}

func (c *CommandPool) Destroy() {
	vk.DestroyCommandPool(c.Device.VKDevice, c.VKCommandPool, nil)
}

func (c *CommandPool) FreeBuffer(b *CommandBuffer) {
	vk.FreeCommandBuffers(c.Device.VKDevice, c.VKCommandPool, 1, []vk.CommandBuffer{b.VKCommandBuffer})
}

const (
	poolPurgeInterval = 10 * time.Second
	poolIdleTimeout   = 30 * time.Second
)

// CommandPoolCache hands out one command pool per worker id. Pools are
// created lazily and pools idle past poolIdleTimeout are destroyed, at
// most once per poolPurgeInterval.
type CommandPoolCache struct {
	Device      *Device
	FamilyIndex int

	mu        sync.Mutex
	pools     map[uint64]*CommandPool
	lastPurge time.Time

	now func() time.Time
}

func NewCommandPoolCache(device *Device, familyIndex int) *CommandPoolCache {
	return &CommandPoolCache{
		Device:      device,
		FamilyIndex: familyIndex,
		pools:       make(map[uint64]*CommandPool),
		now:         time.Now,
	}
}

// Get returns the pool owned by the given worker, creating it on first
// use.
func (c *CommandPoolCache) Get(workerID uint64) (*CommandPool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	pool, ok := c.pools[workerID]
	if !ok {
		var err error
		pool, err = c.Device.CreateCommandPool(c.FamilyIndex)
		if err != nil {
			return nil, err
		}
		c.pools[workerID] = pool
		Logger().Debug("command pool created", "worker", workerID, "family", c.FamilyIndex)
	}
	pool.lastUsed = now

	c.purgeLocked(now)
	return pool, nil
}

func (c *CommandPoolCache) purgeLocked(now time.Time) {
	if now.Sub(c.lastPurge) < poolPurgeInterval {
		return
	}
	c.lastPurge = now

	for id, pool := range c.pools {
		if now.Sub(pool.lastUsed) > poolIdleTimeout {
			pool.Destroy()
			delete(c.pools, id)
			Logger().Debug("idle command pool purged", "worker", id)
		}
	}
}

// Destroy tears down every cached pool.
func (c *CommandPoolCache) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, pool := range c.pools {
		pool.Destroy()
		delete(c.pools, id)
	}
}
