package graphics

import (
	"testing"

	vk "github.com/vulkan-go/vulkan"
)

func vertexStage(reflection StageReflection) StageBytecode {
	return StageBytecode{
		Name:       "test.vert",
		Stage:      vk.ShaderStageVertexBit,
		Code:       validSPIRV(4),
		Reflection: reflection,
	}
}

func fragmentStage(reflection StageReflection) StageBytecode {
	return StageBytecode{
		Name:       "test.frag",
		Stage:      vk.ShaderStageFragmentBit,
		Code:       validSPIRV(4),
		Reflection: reflection,
	}
}

func TestValidateSPIRV(t *testing.T) {
	if err := ValidateSPIRV(validSPIRV(0)); err != nil {
		t.Fatal(err)
	}
	if err := ValidateSPIRV([]byte{1, 2, 3}); err == nil {
		t.Fatal("unaligned bytecode should fail")
	}
	bad := validSPIRV(0)
	bad[0] = 0
	if err := ValidateSPIRV(bad); err == nil {
		t.Fatal("wrong magic should fail")
	}
	if err := ValidateSPIRV(nil); err == nil {
		t.Fatal("empty bytecode should fail")
	}
}

func TestMergeSharedBlockAcrossStages(t *testing.T) {
	s := NewShader(nil, "pbr")

	sceneVert := ReflectedBlock{
		Name: "Scene", Binding: 0, Type: BlockUniform, Size: 128,
		Members: []ReflectedMember{{Name: "proj", Offset: 0, Size: 64}},
	}
	sceneFrag := ReflectedBlock{
		Name: "Scene", Binding: 0, Type: BlockUniform, Size: 192,
		Members: []ReflectedMember{{Name: "camPos", Offset: 128, Size: 16}},
	}

	if err := s.Merge(vertexStage(StageReflection{Blocks: []ReflectedBlock{sceneVert}})); err != nil {
		t.Fatal(err)
	}
	if err := s.Merge(fragmentStage(StageReflection{Blocks: []ReflectedBlock{sceneFrag}})); err != nil {
		t.Fatal(err)
	}

	block, ok := s.Block("Scene")
	if !ok {
		t.Fatal("merged block missing")
	}
	wantFlags := vk.ShaderStageFlags(vk.ShaderStageVertexBit) | vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
	if block.StageFlags != wantFlags {
		t.Fatalf("stage flags %b, want %b", block.StageFlags, wantFlags)
	}
	if block.Size != 192 {
		t.Fatalf("merged size %d, want the larger declaration 192", block.Size)
	}
	if _, ok := block.Member("proj"); !ok {
		t.Fatal("vertex member lost in merge")
	}
	if _, ok := block.Member("camPos"); !ok {
		t.Fatal("fragment member lost in merge")
	}

	// One binding, both stages: a single layout entry.
	bindings := s.DescriptorSetLayoutBindings()
	if len(bindings) != 1 {
		t.Fatalf("%d layout bindings, want 1", len(bindings))
	}
	if bindings[0].StageFlags != wantFlags {
		t.Fatalf("layout binding stage flags %b, want %b", bindings[0].StageFlags, wantFlags)
	}
}

func TestMergeBindingConflict(t *testing.T) {
	s := NewShader(nil, "broken")

	a := ReflectedBlock{Name: "A", Binding: 0, Type: BlockUniform, Size: 16}
	b := ReflectedBlock{Name: "B", Binding: 0, Type: BlockUniform, Size: 16}

	if err := s.Merge(vertexStage(StageReflection{Blocks: []ReflectedBlock{a}})); err != nil {
		t.Fatal(err)
	}
	if err := s.Merge(fragmentStage(StageReflection{Blocks: []ReflectedBlock{b}})); err == nil {
		t.Fatal("two names on one binding should be rejected")
	}
}

func TestMergeBlockBindingMismatch(t *testing.T) {
	s := NewShader(nil, "broken")

	if err := s.Merge(vertexStage(StageReflection{Blocks: []ReflectedBlock{
		{Name: "Scene", Binding: 0, Type: BlockUniform, Size: 16},
	}})); err != nil {
		t.Fatal(err)
	}
	err := s.Merge(fragmentStage(StageReflection{Blocks: []ReflectedBlock{
		{Name: "Scene", Binding: 2, Type: BlockUniform, Size: 16},
	}}))
	if err == nil {
		t.Fatal("one block on two bindings should be rejected")
	}
}

func TestMergePushConstants(t *testing.T) {
	s := NewShader(nil, "pbr")

	object := ReflectedBlock{
		Name: "Object", Type: BlockPush, Offset: 0, Size: 80,
		Members: []ReflectedMember{{Name: "model", Offset: 0, Size: 64}},
	}

	if err := s.Merge(vertexStage(StageReflection{Blocks: []ReflectedBlock{object}})); err != nil {
		t.Fatal(err)
	}
	if err := s.Merge(fragmentStage(StageReflection{Blocks: []ReflectedBlock{object}})); err != nil {
		t.Fatal(err)
	}

	ranges := s.PushConstantRanges()
	if len(ranges) != 1 {
		t.Fatalf("%d push constant ranges, want 1 merged range", len(ranges))
	}
	want := vk.ShaderStageFlags(vk.ShaderStageVertexBit) | vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
	if ranges[0].StageFlags != want {
		t.Fatalf("range stage flags %b, want %b", ranges[0].StageFlags, want)
	}

	pc, ok := s.PushConstant("Object")
	if !ok {
		t.Fatal("push constant range missing by name")
	}
	if _, ok := pc.Member("model"); !ok {
		t.Fatal("push constant member lost in merge")
	}
}

func TestMergePushConstantsDistinctByName(t *testing.T) {
	s := NewShader(nil, "split")

	a := ReflectedBlock{Name: "VertPush", Type: BlockPush, Offset: 0, Size: 64}
	b := ReflectedBlock{Name: "FragPush", Type: BlockPush, Offset: 64, Size: 16}

	if err := s.Merge(vertexStage(StageReflection{Blocks: []ReflectedBlock{a}})); err != nil {
		t.Fatal(err)
	}
	if err := s.Merge(fragmentStage(StageReflection{Blocks: []ReflectedBlock{b}})); err != nil {
		t.Fatal(err)
	}
	if len(s.PushConstantRanges()) != 2 {
		t.Fatalf("%d ranges, want 2 distinct ranges", len(s.PushConstantRanges()))
	}
}

func TestMergeSamplersAndPoolSizes(t *testing.T) {
	s := NewShader(nil, "textured")

	if err := s.Merge(vertexStage(StageReflection{Blocks: []ReflectedBlock{
		{Name: "Scene", Binding: 0, Type: BlockUniform, Size: 64},
	}})); err != nil {
		t.Fatal(err)
	}
	if err := s.Merge(fragmentStage(StageReflection{
		Blocks: []ReflectedBlock{
			{Name: "Scene", Binding: 0, Type: BlockUniform, Size: 64},
			{Name: "Particles", Binding: 1, Type: BlockStorage, Size: 1024},
		},
		Samplers: []ReflectedSampler{
			{Name: "albedo", Binding: 2, Type: vk.DescriptorTypeCombinedImageSampler},
			{Name: "normal", Binding: 3, Type: vk.DescriptorTypeCombinedImageSampler},
		},
	})); err != nil {
		t.Fatal(err)
	}

	sizes := s.PoolSizes()
	counts := make(map[vk.DescriptorType]uint32)
	for _, ps := range sizes {
		counts[ps.Type] = ps.DescriptorCount
	}
	if counts[vk.DescriptorTypeUniformBuffer] != 1 {
		t.Fatalf("uniform pool size %d, want 1", counts[vk.DescriptorTypeUniformBuffer])
	}
	if counts[vk.DescriptorTypeStorageBuffer] != 1 {
		t.Fatalf("storage pool size %d, want 1", counts[vk.DescriptorTypeStorageBuffer])
	}
	if counts[vk.DescriptorTypeCombinedImageSampler] != 2 {
		t.Fatalf("sampler pool size %d, want 2", counts[vk.DescriptorTypeCombinedImageSampler])
	}

	if len(s.DescriptorSetLayoutBindings()) != 4 {
		t.Fatalf("%d layout bindings, want 4", len(s.DescriptorSetLayoutBindings()))
	}
}

func TestMergeVertexAttributesSorted(t *testing.T) {
	s := NewShader(nil, "mesh")

	if err := s.Merge(vertexStage(StageReflection{
		Attributes: []ReflectedAttribute{
			{Name: "inUV", Location: 2, Format: vk.FormatR32g32Sfloat, Size: 8},
			{Name: "inPos", Location: 0, Format: vk.FormatR32g32b32Sfloat, Size: 12},
			{Name: "inNormal", Location: 1, Format: vk.FormatR32g32b32Sfloat, Size: 12},
		},
	})); err != nil {
		t.Fatal(err)
	}
	// Fragment stage attributes are inputs from the vertex stage, not
	// vertex attributes; they must be ignored.
	if err := s.Merge(fragmentStage(StageReflection{
		Attributes: []ReflectedAttribute{{Name: "fragUV", Location: 0}},
	})); err != nil {
		t.Fatal(err)
	}

	attrs := s.Attributes()
	if len(attrs) != 3 {
		t.Fatalf("%d attributes, want 3", len(attrs))
	}
	for i, want := range []string{"inPos", "inNormal", "inUV"} {
		if attrs[i].Name != want {
			t.Fatalf("attribute %d = %q, want %q", i, attrs[i].Name, want)
		}
	}
}

func TestMergeRejectsBadBytecode(t *testing.T) {
	s := NewShader(nil, "bad")
	bc := vertexStage(StageReflection{})
	bc.Code = []byte{1, 2, 3, 4}
	if err := s.Merge(bc); err == nil {
		t.Fatal("bad SPIR-V should be rejected before any merge")
	}
}
