package graphics

import (
	"testing"

	"github.com/docker/go-units"
	vk "github.com/vulkan-go/vulkan"
)

func baseProfile() DeviceProfile {
	return DeviceProfile{
		Name:                "test-gpu",
		Type:                vk.PhysicalDeviceTypeDiscreteGpu,
		APIVersion:          vk.MakeVersion(1, 1, 0),
		VRAMBytes:           4 * units.GiB,
		MaxImageDimension2D: 16384,
		HasCompute:          true,
		SamplerAnisotropy:   true,
		Extensions:          []string{"VK_KHR_swapchain"},
	}
}

func TestScoreMissingRequiredExtension(t *testing.T) {
	p := baseProfile()
	p.Extensions = nil
	if got := p.Score(RequiredDeviceExtensions); got != 0 {
		t.Fatalf("score without required extension = %d, want 0", got)
	}
	p = baseProfile()
	if got := p.Score(RequiredDeviceExtensions); got == 0 {
		t.Fatal("score with required extension should be nonzero")
	}
}

func TestScoreDeviceTypeOrdering(t *testing.T) {
	types := []vk.PhysicalDeviceType{
		vk.PhysicalDeviceTypeDiscreteGpu,
		vk.PhysicalDeviceTypeIntegratedGpu,
		vk.PhysicalDeviceTypeVirtualGpu,
		vk.PhysicalDeviceTypeCpu,
		vk.PhysicalDeviceTypeOther,
	}
	var prev uint64
	for i, typ := range types {
		p := baseProfile()
		p.Type = typ
		score := p.Score(nil)
		if i > 0 && score >= prev {
			t.Fatalf("type %d scored %d, not below previous %d", typ, score, prev)
		}
		prev = score
	}
}

// Adding any capability must never lower the score.
func TestScoreMonotonic(t *testing.T) {
	p := baseProfile()
	base := p.Score(nil)

	grow := []func(*DeviceProfile){
		func(p *DeviceProfile) { p.APIVersion = vk.MakeVersion(1, 2, 0) },
		func(p *DeviceProfile) { p.APIVersion = vk.MakeVersion(1, 3, 0) },
		func(p *DeviceProfile) { p.VRAMBytes = 8 * units.GiB },
		func(p *DeviceProfile) { p.TimelineSemaphore = true },
		func(p *DeviceProfile) { p.DescriptorIndexing = true },
		func(p *DeviceProfile) { p.BufferDeviceAddress = true },
		func(p *DeviceProfile) { p.DynamicRendering = true },
		func(p *DeviceProfile) { p.Synchronization2 = true },
		func(p *DeviceProfile) { p.GeometryShader = true },
		func(p *DeviceProfile) { p.TessellationShader = true },
	}
	for i, f := range grow {
		q := baseProfile()
		f(&q)
		if got := q.Score(nil); got < base {
			t.Fatalf("capability %d lowered score: %d < %d", i, got, base)
		}
	}
}

func TestScoreVRAMCapped(t *testing.T) {
	a := baseProfile()
	a.VRAMBytes = 16 * units.GiB
	b := baseProfile()
	b.VRAMBytes = 64 * units.GiB
	if a.Score(nil) != b.Score(nil) {
		t.Fatalf("VRAM beyond the cap changed the score: %d vs %d", a.Score(nil), b.Score(nil))
	}
}

func TestScoreAnisotropyHalves(t *testing.T) {
	with := baseProfile()
	without := baseProfile()
	without.SamplerAnisotropy = false
	if got, want := without.Score(nil), with.Score(nil)/2; got != want {
		t.Fatalf("score without anisotropy = %d, want %d", got, want)
	}
}

func TestScorePrefersDiscreteOverHugeIntegrated(t *testing.T) {
	discrete := baseProfile()
	discrete.VRAMBytes = 2 * units.GiB

	integrated := baseProfile()
	integrated.Type = vk.PhysicalDeviceTypeIntegratedGpu
	integrated.VRAMBytes = 64 * units.GiB
	integrated.APIVersion = vk.MakeVersion(1, 3, 0)
	integrated.TimelineSemaphore = true
	integrated.DescriptorIndexing = true

	if discrete.Score(nil) <= integrated.Score(nil) {
		t.Fatalf("discrete (%d) should outrank integrated (%d)",
			discrete.Score(nil), integrated.Score(nil))
	}
}

func TestProfileSupports(t *testing.T) {
	p := baseProfile()
	if !p.Supports("VK_KHR_swapchain") {
		t.Fatal("expected swapchain support")
	}
	if p.Supports("VK_KHR_ray_tracing_pipeline") {
		t.Fatal("unexpected extension reported as supported")
	}
}
