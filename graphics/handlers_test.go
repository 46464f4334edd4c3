package graphics

import (
	"testing"
)

func testBlock(size uint32) *UniformBlock {
	return &UniformBlock{
		Name:    "scene",
		Binding: 0,
		Type:    BlockUniform,
		Size:    size,
		Members: map[string]ReflectedMember{
			"proj": {Name: "proj", Offset: 0, Size: 64},
			"view": {Name: "view", Offset: 64, Size: 64},
		},
	}
}

func TestUniformHandlerLifecycle(t *testing.T) {
	alloc := &hostAllocator{coherent: true}
	h := NewUniformHandler(alloc, false)
	defer h.Destroy()

	block := testBlock(128)

	// First update builds the buffer; the caller skips that draw.
	if h.Update(block) {
		t.Fatal("first update should report a rebuild")
	}
	if h.Buffer() == nil || h.Buffer().Size != 128 {
		t.Fatal("rebuild did not allocate the block-sized buffer")
	}
	if h.Status() != HandlerChanged {
		t.Fatalf("status after rebuild = %v, want changed", h.Status())
	}

	payload := make([]byte, 128)
	payload[0] = 42
	h.Push(payload)

	if !h.Update(block) {
		t.Fatal("second update with the same block should succeed")
	}
	if h.Status() != HandlerNormal {
		t.Fatalf("status after settle = %v, want normal", h.Status())
	}

	m, _ := h.Buffer().Map()
	if m[0] != 42 {
		t.Fatal("pushed data did not land in the buffer")
	}
}

func TestUniformHandlerSkipsUnchangedPush(t *testing.T) {
	alloc := &hostAllocator{coherent: true}
	h := NewUniformHandler(alloc, false)
	defer h.Destroy()

	block := testBlock(128)
	h.Update(block)

	payload := make([]byte, 128)
	payload[5] = 7
	h.Push(payload)
	h.Update(block)

	// Identical push in the settled state: one comparison, no copy.
	comparisons, copies := h.comparisons, h.copies
	h.Push(payload)
	if h.comparisons != comparisons+1 {
		t.Fatalf("comparisons = %d, want %d", h.comparisons, comparisons+1)
	}
	if h.copies != copies {
		t.Fatalf("identical push copied: copies = %d, want %d", h.copies, copies)
	}
	if h.Status() != HandlerNormal {
		t.Fatalf("identical push dirtied the handler: %v", h.Status())
	}

	// A differing push compares once, copies and marks the handler
	// changed; the next push copies without comparing.
	payload[5] = 8
	h.Push(payload)
	if h.Status() != HandlerChanged {
		t.Fatal("differing push did not mark the handler changed")
	}
	if h.copies != copies+1 {
		t.Fatalf("differing push did not copy: copies = %d", h.copies)
	}
	comparisons = h.comparisons
	h.Push(payload)
	if h.comparisons != comparisons {
		t.Fatal("push in changed state should not compare")
	}
}

func TestUniformHandlerSizeChangeResets(t *testing.T) {
	alloc := &hostAllocator{coherent: true}
	h := NewUniformHandler(alloc, false)
	defer h.Destroy()

	h.Update(testBlock(128))
	h.Push(make([]byte, 128))
	h.Update(testBlock(128))

	h.Push(make([]byte, 64))
	if h.Status() != HandlerReset {
		t.Fatalf("size mismatch should reset, got %v", h.Status())
	}

	// The reset forces a rebuild at the new size.
	if h.Update(testBlock(128)) {
		t.Fatal("update after reset should rebuild")
	}
}

func TestUniformHandlerBlockSwitchRebuilds(t *testing.T) {
	alloc := &hostAllocator{coherent: true}
	h := NewUniformHandler(alloc, false)
	defer h.Destroy()

	h.Update(testBlock(128))
	h.Push(make([]byte, 128))
	h.Update(testBlock(128))

	other := &UniformBlock{Name: "lights", Binding: 1, Size: 256, Members: map[string]ReflectedMember{}}
	if h.Update(other) {
		t.Fatal("switching blocks should rebuild")
	}
	if h.Buffer().Size != 256 {
		t.Fatalf("buffer size %d after switch, want 256", h.Buffer().Size)
	}
}

func TestMultiPipelineHandlerKeepsBuffer(t *testing.T) {
	alloc := &hostAllocator{coherent: true}
	h := NewUniformHandler(alloc, true)
	defer h.Destroy()

	// The first update must allocate even though no block was seen yet.
	if h.Update(testBlock(128)) {
		t.Fatal("first update should report a rebuild")
	}
	buf := h.Buffer()
	if buf == nil {
		t.Fatal("first update did not allocate a buffer")
	}

	// A multi-pipeline handler rendered under another pipeline's view of
	// the same data keeps its buffer.
	other := testBlock(128)
	other.Name = "scene_alt"
	h.Push(make([]byte, 128))
	if !h.Update(other) {
		t.Fatal("multi-pipeline handler should not rebuild on a block alias")
	}
	if h.Buffer() != buf {
		t.Fatal("multi-pipeline handler replaced its buffer")
	}
}

func TestUniformHandlerPushMember(t *testing.T) {
	alloc := &hostAllocator{coherent: true}
	h := NewUniformHandler(alloc, false)
	defer h.Destroy()

	block := testBlock(128)
	h.Update(block)

	view := make([]byte, 64)
	view[0] = 9
	h.PushMember("view", view)

	m, _ := h.Buffer().Map()
	if m[64] != 9 {
		t.Fatal("member push did not land at the member offset")
	}

	// Unknown members and out-of-range offsets are ignored.
	h.PushMember("missing", view)
	h.PushBytes(120, make([]byte, 16))
}

func TestStorageHandlerStartsReset(t *testing.T) {
	alloc := &hostAllocator{coherent: true}
	h := NewStorageHandler(alloc, false)
	defer h.Destroy()

	if h.Status() != HandlerReset {
		t.Fatalf("storage handler starts %v, want reset", h.Status())
	}
	// Pushes before the first update are dropped, not crashes.
	h.Push(make([]byte, 64))

	if h.Update(testBlock(128)) {
		t.Fatal("first storage update should rebuild")
	}
	if h.Buffer() == nil {
		t.Fatal("storage rebuild did not allocate")
	}
}

func TestPushHandler(t *testing.T) {
	h := NewPushHandler()

	rng := &PushConstantRange{
		Name: "object",
		Size: 80,
		Members: map[string]ReflectedMember{
			"model": {Name: "model", Offset: 0, Size: 64},
			"tint":  {Name: "tint", Offset: 64, Size: 16},
		},
	}

	if h.Update(nil) {
		t.Fatal("update without a range should fail")
	}
	if !h.Update(rng) {
		t.Fatal("update with a range should succeed")
	}

	tint := []byte{1, 2, 3, 4}
	h.PushMember("tint", tint)
	if h.data[64] != 1 || h.data[67] != 4 {
		t.Fatal("member push did not land at the member offset")
	}

	h.PushBytes(200, tint)
	h.PushMember("missing", tint)
}
