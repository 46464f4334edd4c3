package graphics

import (
	"encoding/binary"
	"fmt"
	"sort"

	vk "github.com/vulkan-go/vulkan"
)

// SPIR-V modules open with this magic word in little-endian byte order.
const spirvMagic uint32 = 0x07230203

// BlockType classifies a reflected shader block.
type BlockType int

const (
	BlockUniform BlockType = iota
	BlockStorage
	BlockPush
)

func (t BlockType) descriptorType() vk.DescriptorType {
	if t == BlockStorage {
		return vk.DescriptorTypeStorageBuffer
	}
	return vk.DescriptorTypeUniformBuffer
}

// ReflectedMember is one field inside a reflected block.
type ReflectedMember struct {
	Name   string
	Offset uint32
	Size   uint32
}

// ReflectedBlock is a uniform, storage or push-constant block reported by
// the shader compiler for a single stage.
type ReflectedBlock struct {
	Name    string
	Binding int
	Type    BlockType
	Offset  uint32 // push constant blocks only
	Size    uint32
	Members []ReflectedMember
}

// ReflectedSampler is a sampled or storage image binding.
type ReflectedSampler struct {
	Name    string
	Binding int
	Type    vk.DescriptorType
}

// ReflectedAttribute is one vertex input attribute.
type ReflectedAttribute struct {
	Name     string
	Location int
	Format   vk.Format
	Size     uint32
}

// StageReflection is the metadata the shader compiler ships alongside a
// stage's bytecode.
type StageReflection struct {
	Blocks     []ReflectedBlock
	Samplers   []ReflectedSampler
	Attributes []ReflectedAttribute
}

// StageBytecode is one compiled shader stage: SPIR-V plus its reflection.
type StageBytecode struct {
	Name       string
	Stage      vk.ShaderStageFlagBits
	EntryPoint string
	Code       []byte
	Reflection StageReflection
}

// ValidateSPIRV checks that code is plausibly SPIR-V: word aligned and
// opening with the magic word.
func ValidateSPIRV(code []byte) error {
	if len(code) < 4 || len(code)%4 != 0 {
		return fmt.Errorf("bytecode length %d is not a multiple of 4", len(code))
	}
	if magic := binary.LittleEndian.Uint32(code); magic != spirvMagic {
		return fmt.Errorf("bad SPIR-V magic 0x%08x", magic)
	}
	return nil
}

// UniformBlock is a block merged across all stages that declare it.
type UniformBlock struct {
	Name       string
	Binding    int
	Type       BlockType
	Size       uint32
	StageFlags vk.ShaderStageFlags
	Members    map[string]ReflectedMember
}

// Member looks up a block field by name.
func (b *UniformBlock) Member(name string) (ReflectedMember, bool) {
	m, ok := b.Members[name]
	return m, ok
}

// SamplerBinding is an image binding merged across stages.
type SamplerBinding struct {
	Name       string
	Binding    int
	Type       vk.DescriptorType
	StageFlags vk.ShaderStageFlags
}

// PushConstantRange is a push constant block merged across stages. Ranges
// merge only when offset, size and name all agree.
type PushConstantRange struct {
	Name       string
	Offset     uint32
	Size       uint32
	StageFlags vk.ShaderStageFlags
	Members    map[string]ReflectedMember
}

// Member looks up a push constant field by name.
func (p *PushConstantRange) Member(name string) (ReflectedMember, bool) {
	m, ok := p.Members[name]
	return m, ok
}

type shaderStage struct {
	stage      vk.ShaderStageFlagBits
	entryPoint string
	module     vk.ShaderModule
}

// Shader merges the reflection of several stages into one descriptor and
// pipeline layout. Merging is pure; the Vulkan objects are created by
// AddStage and the layout builders.
type Shader struct {
	Device *Device
	Name   string

	blocks        map[string]*UniformBlock
	samplers      map[string]*SamplerBinding
	pushConstants []*PushConstantRange
	attributes    map[string]ReflectedAttribute

	// bindingOwner tracks which named entity claimed a binding number,
	// to reject type conflicts early.
	bindingOwner map[int]string

	stages []shaderStage

	descriptorSetLayout vk.DescriptorSetLayout
	pipelineLayout      vk.PipelineLayout
}

func NewShader(device *Device, name string) *Shader {
	return &Shader{
		Device:       device,
		Name:         name,
		blocks:       make(map[string]*UniformBlock),
		samplers:     make(map[string]*SamplerBinding),
		attributes:   make(map[string]ReflectedAttribute),
		bindingOwner: make(map[int]string),
	}
}

func (s *Shader) claimBinding(binding int, name string, dtype vk.DescriptorType) error {
	owner, taken := s.bindingOwner[binding]
	if !taken {
		s.bindingOwner[binding] = name
		return nil
	}
	if owner != name {
		return fmt.Errorf("shader %s: binding %d claimed by both %q and %q", s.Name, binding, owner, name)
	}
	// Same name re-claiming from another stage; the descriptor type must
	// not change.
	if block, ok := s.blocks[name]; ok && block.Type.descriptorType() != dtype {
		return fmt.Errorf("shader %s: binding %d (%q) declared with conflicting descriptor types", s.Name, binding, name)
	}
	if sampler, ok := s.samplers[name]; ok && sampler.Type != dtype {
		return fmt.Errorf("shader %s: binding %d (%q) declared with conflicting descriptor types", s.Name, binding, name)
	}
	return nil
}

// Merge folds one stage's reflection into the shader's combined layout.
// Bindings shared across stages merge by name, accumulating stage flags.
func (s *Shader) Merge(bc StageBytecode) error {
	if err := ValidateSPIRV(bc.Code); err != nil {
		return fmt.Errorf("shader %s stage %q: %w", s.Name, bc.Name, err)
	}

	stageFlag := vk.ShaderStageFlags(bc.Stage)

	for _, rb := range bc.Reflection.Blocks {
		if rb.Type == BlockPush {
			if err := s.mergePushConstant(rb, stageFlag); err != nil {
				return err
			}
			continue
		}

		if err := s.claimBinding(rb.Binding, rb.Name, rb.Type.descriptorType()); err != nil {
			return err
		}

		block, exists := s.blocks[rb.Name]
		if !exists {
			block = &UniformBlock{
				Name:    rb.Name,
				Binding: rb.Binding,
				Type:    rb.Type,
				Size:    rb.Size,
				Members: make(map[string]ReflectedMember),
			}
			s.blocks[rb.Name] = block
		} else {
			if block.Binding != rb.Binding {
				return fmt.Errorf("shader %s: block %q declared at bindings %d and %d", s.Name, rb.Name, block.Binding, rb.Binding)
			}
			if rb.Size > block.Size {
				block.Size = rb.Size
			}
		}
		block.StageFlags |= stageFlag
		for _, m := range rb.Members {
			block.Members[m.Name] = m
		}
	}

	for _, rs := range bc.Reflection.Samplers {
		if err := s.claimBinding(rs.Binding, rs.Name, rs.Type); err != nil {
			return err
		}
		sampler, exists := s.samplers[rs.Name]
		if !exists {
			sampler = &SamplerBinding{Name: rs.Name, Binding: rs.Binding, Type: rs.Type}
			s.samplers[rs.Name] = sampler
		}
		sampler.StageFlags |= stageFlag
	}

	if bc.Stage == vk.ShaderStageVertexBit {
		for _, a := range bc.Reflection.Attributes {
			s.attributes[a.Name] = a
		}
	}

	return nil
}

func (s *Shader) mergePushConstant(rb ReflectedBlock, stageFlag vk.ShaderStageFlags) error {
	for _, pc := range s.pushConstants {
		if pc.Offset == rb.Offset && pc.Size == rb.Size && pc.Name == rb.Name {
			pc.StageFlags |= stageFlag
			for _, m := range rb.Members {
				pc.Members[m.Name] = m
			}
			return nil
		}
		if pc.Offset == rb.Offset && pc.Size == rb.Size {
			Logger().Warn("push constant ranges overlap under different names",
				"shader", s.Name, "existing", pc.Name, "added", rb.Name)
		}
	}
	pc := &PushConstantRange{
		Name:       rb.Name,
		Offset:     rb.Offset,
		Size:       rb.Size,
		StageFlags: stageFlag,
		Members:    make(map[string]ReflectedMember),
	}
	for _, m := range rb.Members {
		pc.Members[m.Name] = m
	}
	s.pushConstants = append(s.pushConstants, pc)
	return nil
}

// AddStage merges the stage's reflection and creates its shader module.
func (s *Shader) AddStage(bc StageBytecode) error {
	if err := s.Merge(bc); err != nil {
		return err
	}

	entryPoint := bc.EntryPoint
	if entryPoint == "" {
		entryPoint = "main"
	}

	var module vk.ShaderModule
	err := vk.Error(vk.CreateShaderModule(s.Device.VKDevice, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(bc.Code)),
		PCode:    sliceUint32(bc.Code),
	}, nil, &module))
	if err != nil {
		return fmt.Errorf("shader %s stage %q: create module: %w", s.Name, bc.Name, err)
	}

	s.stages = append(s.stages, shaderStage{
		stage:      bc.Stage,
		entryPoint: entryPoint,
		module:     module,
	})
	return nil
}

// Block returns a merged block by name.
func (s *Shader) Block(name string) (*UniformBlock, bool) {
	b, ok := s.blocks[name]
	return b, ok
}

// Sampler returns a merged image binding by name.
func (s *Shader) Sampler(name string) (*SamplerBinding, bool) {
	sb, ok := s.samplers[name]
	return sb, ok
}

// PushConstant returns a merged push constant range by name.
func (s *Shader) PushConstant(name string) (*PushConstantRange, bool) {
	for _, pc := range s.pushConstants {
		if pc.Name == name {
			return pc, true
		}
	}
	return nil, false
}

// Attribute returns a vertex attribute by name.
func (s *Shader) Attribute(name string) (ReflectedAttribute, bool) {
	a, ok := s.attributes[name]
	return a, ok
}

// Attributes returns the vertex attributes sorted by location.
func (s *Shader) Attributes() []ReflectedAttribute {
	ret := make([]ReflectedAttribute, 0, len(s.attributes))
	for _, a := range s.attributes {
		ret = append(ret, a)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Location < ret[j].Location })
	return ret
}

// DescriptorSetLayoutBindings derives the merged layout bindings, sorted
// by binding number.
func (s *Shader) DescriptorSetLayoutBindings() []vk.DescriptorSetLayoutBinding {
	ret := make([]vk.DescriptorSetLayoutBinding, 0, len(s.blocks)+len(s.samplers))
	for _, b := range s.blocks {
		ret = append(ret, vk.DescriptorSetLayoutBinding{
			Binding:         uint32(b.Binding),
			DescriptorType:  b.Type.descriptorType(),
			DescriptorCount: 1,
			StageFlags:      b.StageFlags,
		})
	}
	for _, sb := range s.samplers {
		ret = append(ret, vk.DescriptorSetLayoutBinding{
			Binding:         uint32(sb.Binding),
			DescriptorType:  sb.Type,
			DescriptorCount: 1,
			StageFlags:      sb.StageFlags,
		})
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Binding < ret[j].Binding })
	return ret
}

// PoolSizes counts descriptors per type, one per unique binding.
func (s *Shader) PoolSizes() []vk.DescriptorPoolSize {
	counts := make(map[vk.DescriptorType]uint32)
	for _, b := range s.DescriptorSetLayoutBindings() {
		counts[b.DescriptorType]++
	}

	types := make([]vk.DescriptorType, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	ret := make([]vk.DescriptorPoolSize, 0, len(types))
	for _, t := range types {
		ret = append(ret, vk.DescriptorPoolSize{Type: t, DescriptorCount: counts[t]})
	}
	return ret
}

// PushConstantRanges derives the native push constant ranges.
func (s *Shader) PushConstantRanges() []vk.PushConstantRange {
	ret := make([]vk.PushConstantRange, 0, len(s.pushConstants))
	for _, pc := range s.pushConstants {
		ret = append(ret, vk.PushConstantRange{
			StageFlags: pc.StageFlags,
			Offset:     pc.Offset,
			Size:       pc.Size,
		})
	}
	return ret
}

// CreateLayouts builds the descriptor set layout and pipeline layout from
// the merged reflection.
func (s *Shader) CreateLayouts() error {
	bindings := s.DescriptorSetLayoutBindings()
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	err := vk.Error(vk.CreateDescriptorSetLayout(s.Device.VKDevice, &layoutInfo, nil, &s.descriptorSetLayout))
	if err != nil {
		return fmt.Errorf("shader %s: create descriptor set layout: %w", s.Name, err)
	}

	pushRanges := s.PushConstantRanges()
	pipelineLayoutInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         1,
		PSetLayouts:            []vk.DescriptorSetLayout{s.descriptorSetLayout},
		PushConstantRangeCount: uint32(len(pushRanges)),
		PPushConstantRanges:    pushRanges,
	}
	err = vk.Error(vk.CreatePipelineLayout(s.Device.VKDevice, &pipelineLayoutInfo, nil, &s.pipelineLayout))
	if err != nil {
		return fmt.Errorf("shader %s: create pipeline layout: %w", s.Name, err)
	}
	return nil
}

// DescriptorSetLayout returns the built layout handle.
func (s *Shader) DescriptorSetLayout() vk.DescriptorSetLayout {
	return s.descriptorSetLayout
}

// PipelineLayout returns the built layout handle.
func (s *Shader) PipelineLayout() vk.PipelineLayout {
	return s.pipelineLayout
}

// PipelineStages builds the per-stage create infos for pipeline
// construction.
func (s *Shader) PipelineStages() []vk.PipelineShaderStageCreateInfo {
	ret := make([]vk.PipelineShaderStageCreateInfo, len(s.stages))
	for i, st := range s.stages {
		ret[i] = vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  st.stage,
			Module: st.module,
			PName:  safeString(st.entryPoint),
		}
	}
	return ret
}

func (s *Shader) Destroy() {
	for _, st := range s.stages {
		vk.DestroyShaderModule(s.Device.VKDevice, st.module, nil)
	}
	s.stages = nil
	if s.pipelineLayout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(s.Device.VKDevice, s.pipelineLayout, nil)
		s.pipelineLayout = vk.NullPipelineLayout
	}
	if s.descriptorSetLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(s.Device.VKDevice, s.descriptorSetLayout, nil)
		s.descriptorSetLayout = vk.NullDescriptorSetLayout
	}
}
