package graphics

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

type PipelineCache struct {
	Device          *Device
	VKPipelineCache vk.PipelineCache
}

func (d *Device) CreatePipelineCache() (*PipelineCache, error) {
	pipelineCacheCreate := vk.PipelineCacheCreateInfo{
		SType: vk.StructureTypePipelineCacheCreateInfo,
	}

	var pipelineCache vk.PipelineCache
	err := vk.Error(vk.CreatePipelineCache(d.VKDevice, &pipelineCacheCreate, nil, &pipelineCache))
	if err != nil {
		return nil, err
	}
	return &PipelineCache{Device: d, VKPipelineCache: pipelineCache}, nil
}

func (p *PipelineCache) Destroy() {
	vk.DestroyPipelineCache(p.Device.VKDevice, p.VKPipelineCache, nil)
}

// GraphicsPipelineConfig eases construction of a graphics pipeline for
// one shader inside one render stage. Shader stages, layout and vertex
// attributes come from the shader's merged reflection.
type GraphicsPipelineConfig struct {
	Device *Device
	Shader *Shader

	PrimitiveTopology vk.PrimitiveTopology
	PolygonMode       vk.PolygonMode
	LineWidth         float32
	CullMode          vk.CullModeFlagBits
	FrontFace         vk.FrontFace
	DepthTestEnable   bool
	DepthWriteEnable  bool
	DynamicState      []vk.DynamicState
	BlendAttachments  []vk.PipelineColorBlendAttachmentState

	VertexBindingStride uint32
}

func (d *Device) CreateGraphicsPipelineConfig(shader *Shader) *GraphicsPipelineConfig {
	return &GraphicsPipelineConfig{
		Device:            d,
		Shader:            shader,
		PrimitiveTopology: vk.PrimitiveTopologyTriangleList,
		PolygonMode:       vk.PolygonModeFill,
		LineWidth:         1.0,
		CullMode:          vk.CullModeBackBit,
		FrontFace:         vk.FrontFaceCounterClockwise,
		DepthTestEnable:   true,
		DepthWriteEnable:  true,
	}
}

// SetWireframe switches to line rendering. Requires the fillModeNonSolid
// device feature.
func (g *GraphicsPipelineConfig) SetWireframe() *GraphicsPipelineConfig {
	g.PolygonMode = vk.PolygonModeLine
	return g
}

func (g *GraphicsPipelineConfig) SetCullMode(mode vk.CullModeFlagBits) *GraphicsPipelineConfig {
	g.CullMode = mode
	return g
}

func (g *GraphicsPipelineConfig) vertexInput() ([]vk.VertexInputBindingDescription, []vk.VertexInputAttributeDescription) {
	attrs := g.Shader.Attributes()
	if len(attrs) == 0 {
		return nil, nil
	}

	stride := g.VertexBindingStride
	if stride == 0 {
		for _, a := range attrs {
			stride += a.Size
		}
	}

	bindings := []vk.VertexInputBindingDescription{{
		Binding:   0,
		Stride:    stride,
		InputRate: vk.VertexInputRateVertex,
	}}

	attributes := make([]vk.VertexInputAttributeDescription, len(attrs))
	var offset uint32
	for i, a := range attrs {
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: uint32(a.Location),
			Binding:  0,
			Format:   a.Format,
			Offset:   offset,
		}
		offset += a.Size
	}
	return bindings, attributes
}

// Build creates the pipeline against a render stage's pass at the given
// extent.
func (g *GraphicsPipelineConfig) Build(cache *PipelineCache, stage *RenderStage, extent vk.Extent2D) (vk.Pipeline, error) {
	createInfo := g.createInfo(stage.VKRenderPass, extent)

	var vkCache vk.PipelineCache
	if cache != nil {
		vkCache = cache.VKPipelineCache
	}

	pipelines := make([]vk.Pipeline, 1)
	err := vk.Error(vk.CreateGraphicsPipelines(g.Device.VKDevice, vkCache,
		1, []vk.GraphicsPipelineCreateInfo{createInfo}, nil, pipelines))
	if err != nil {
		return vk.NullPipeline, fmt.Errorf("create graphics pipeline: %w", err)
	}
	return pipelines[0], nil
}

// createInfo assembles the full pipeline state for one render pass.
func (g *GraphicsPipelineConfig) createInfo(renderPass vk.RenderPass, extent vk.Extent2D) vk.GraphicsPipelineCreateInfo {
	bindings, attributes := g.vertexInput()

	vertexInputState := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	inputAssemblyState := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: g.PrimitiveTopology,
	}

	viewport := vk.Viewport{
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MaxDepth: 1.0,
	}
	scissor := vk.Rect2D{Extent: extent}

	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		PViewports:    []vk.Viewport{viewport},
		ScissorCount:  1,
		PScissors:     []vk.Rect2D{scissor},
	}

	rasterizationState := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: g.PolygonMode,
		LineWidth:   g.LineWidth,
		CullMode:    vk.CullModeFlags(g.CullMode),
		FrontFace:   g.FrontFace,
	}

	multisampleState := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
	}

	depthStencilState := vk.PipelineDepthStencilStateCreateInfo{
		SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthCompareOp:   vk.CompareOpLess,
		DepthTestEnable:  boolToVk(g.DepthTestEnable),
		DepthWriteEnable: boolToVk(g.DepthWriteEnable),
	}

	blendAttachments := g.BlendAttachments
	if blendAttachments == nil {
		blendAttachments = []vk.PipelineColorBlendAttachmentState{{
			ColorWriteMask: vk.ColorComponentFlags(
				vk.ColorComponentRBit | vk.ColorComponentGBit |
					vk.ColorComponentBBit | vk.ColorComponentABit),
		}}
	}
	colorBlendState := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
	}

	createInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(g.Shader.PipelineStages())),
		PStages:             g.Shader.PipelineStages(),
		PVertexInputState:   &vertexInputState,
		PInputAssemblyState: &inputAssemblyState,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizationState,
		PMultisampleState:   &multisampleState,
		PDepthStencilState:  &depthStencilState,
		PColorBlendState:    &colorBlendState,
		Layout:              g.Shader.PipelineLayout(),
		RenderPass:          renderPass,
	}

	if len(g.DynamicState) > 0 {
		createInfo.PDynamicState = &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: uint32(len(g.DynamicState)),
			PDynamicStates:    g.DynamicState,
		}
	}

	return createInfo
}

// CreateComputePipeline creates a compute pipeline from the shader's
// single compute stage.
func (d *Device) CreateComputePipeline(cache *PipelineCache, shader *Shader) (vk.Pipeline, error) {
	stages := shader.PipelineStages()
	if len(stages) != 1 {
		return vk.NullPipeline, fmt.Errorf("compute pipeline needs exactly one stage, shader %s has %d", shader.Name, len(stages))
	}

	createInfo := vk.ComputePipelineCreateInfo{
		SType:  vk.StructureTypeComputePipelineCreateInfo,
		Stage:  stages[0],
		Layout: shader.PipelineLayout(),
	}

	var vkCache vk.PipelineCache
	if cache != nil {
		vkCache = cache.VKPipelineCache
	}

	pipelines := make([]vk.Pipeline, 1)
	err := vk.Error(vk.CreateComputePipelines(d.VKDevice, vkCache,
		1, []vk.ComputePipelineCreateInfo{createInfo}, nil, pipelines))
	if err != nil {
		return vk.NullPipeline, fmt.Errorf("create compute pipeline: %w", err)
	}
	return pipelines[0], nil
}

func boolToVk(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}
