package graphics

import (
	"testing"

	vk "github.com/vulkan-go/vulkan"
)

func TestGraphicsPipelineCreateInfo(t *testing.T) {
	s := NewShader(nil, "mesh")
	if err := s.Merge(vertexStage(StageReflection{
		Attributes: []ReflectedAttribute{
			{Name: "inPos", Location: 0, Format: vk.FormatR32g32b32Sfloat, Size: 12},
			{Name: "inUV", Location: 1, Format: vk.FormatR32g32Sfloat, Size: 8},
		},
	})); err != nil {
		t.Fatal(err)
	}

	g := (&Device{}).CreateGraphicsPipelineConfig(s)
	g.DynamicState = []vk.DynamicState{vk.DynamicStateViewport}

	info := g.createInfo(vk.NullRenderPass, vk.Extent2D{Width: 640, Height: 480})

	if info.PVertexInputState == nil || info.PInputAssemblyState == nil ||
		info.PViewportState == nil || info.PRasterizationState == nil ||
		info.PMultisampleState == nil || info.PDepthStencilState == nil ||
		info.PColorBlendState == nil || info.PDynamicState == nil {
		t.Fatal("every pipeline state must be populated")
	}

	vi := info.PVertexInputState
	if vi.VertexAttributeDescriptionCount != 2 {
		t.Fatalf("%d vertex attributes, want 2", vi.VertexAttributeDescriptionCount)
	}
	if got := vi.PVertexBindingDescriptions[0].Stride; got != 20 {
		t.Fatalf("binding stride %d, want the summed attribute sizes 20", got)
	}
	if off := vi.PVertexAttributeDescriptions[1].Offset; off != 12 {
		t.Fatalf("second attribute offset %d, want 12", off)
	}

	vp := info.PViewportState.PViewports[0]
	if vp.Width != 640 || vp.Height != 480 {
		t.Fatalf("viewport %gx%g, want 640x480", vp.Width, vp.Height)
	}

	if info.PDepthStencilState.DepthTestEnable != vk.True {
		t.Fatal("depth testing defaults on")
	}
	if info.PDynamicState.DynamicStateCount != 1 {
		t.Fatalf("%d dynamic states, want 1", info.PDynamicState.DynamicStateCount)
	}
}

func TestGraphicsPipelineConfigDefaults(t *testing.T) {
	g := (&Device{}).CreateGraphicsPipelineConfig(NewShader(nil, "empty"))

	if g.PrimitiveTopology != vk.PrimitiveTopologyTriangleList {
		t.Fatal("default topology should be a triangle list")
	}
	if g.PolygonMode != vk.PolygonModeFill || g.LineWidth != 1.0 {
		t.Fatal("default fill state wrong")
	}

	g.SetWireframe().SetCullMode(vk.CullModeNone)
	if g.PolygonMode != vk.PolygonModeLine {
		t.Fatal("SetWireframe did not switch to line rendering")
	}
	if g.CullMode != vk.CullModeNone {
		t.Fatal("SetCullMode did not apply")
	}

	info := g.createInfo(vk.NullRenderPass, vk.Extent2D{Width: 100, Height: 100})
	if info.PDynamicState != nil {
		t.Fatal("dynamic state must stay unset when none is requested")
	}
	if info.PColorBlendState.AttachmentCount != 1 {
		t.Fatal("a default blend attachment must be supplied")
	}
}
