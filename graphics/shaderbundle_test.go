package graphics

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"testing"

	vk "github.com/vulkan-go/vulkan"
)

func TestBundleRoundTrip(t *testing.T) {
	b := NewShaderBundle()

	vert := validSPIRV(8)
	frag := validSPIRV(12)
	if err := b.Add("pbr", vk.ShaderStageVertexBit, "", vert); err != nil {
		t.Fatal(err)
	}
	if err := b.Add("pbr", vk.ShaderStageFragmentBit, "mainFS", frag); err != nil {
		t.Fatal(err)
	}
	if err := b.Add("blur", vk.ShaderStageComputeBit, "", validSPIRV(4)); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if _, err := b.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}

	loaded := NewShaderBundle()
	if _, err := loaded.ReadFrom(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != 3 {
		t.Fatalf("loaded %d entries, want 3", loaded.Len())
	}

	code, entry, ok := loaded.Lookup("pbr", vk.ShaderStageFragmentBit)
	if !ok {
		t.Fatal("fragment stage missing after round trip")
	}
	if entry != "mainFS" {
		t.Fatalf("entry point %q, want mainFS", entry)
	}
	if !bytes.Equal(code, frag) {
		t.Fatal("bytecode changed across the round trip")
	}

	code, entry, ok = loaded.Lookup("pbr", vk.ShaderStageVertexBit)
	if !ok || entry != "main" || !bytes.Equal(code, vert) {
		t.Fatal("vertex stage did not survive the round trip")
	}
}

func TestBundleSameNameDifferentStages(t *testing.T) {
	b := NewShaderBundle()
	if err := b.Add("quad", vk.ShaderStageVertexBit, "", validSPIRV(1)); err != nil {
		t.Fatal(err)
	}
	if err := b.Add("quad", vk.ShaderStageFragmentBit, "", validSPIRV(2)); err != nil {
		t.Fatalf("same name under another stage must not collide: %v", err)
	}
	if err := b.Add("quad", vk.ShaderStageVertexBit, "", validSPIRV(3)); err == nil {
		t.Fatal("duplicate (name, stage) should be rejected")
	}
}

func TestBundleAddValidation(t *testing.T) {
	b := NewShaderBundle()
	if err := b.Add("", vk.ShaderStageVertexBit, "", validSPIRV(1)); err == nil {
		t.Fatal("empty name should be rejected")
	}
	if err := b.Add("empty", vk.ShaderStageVertexBit, "", nil); err == nil {
		t.Fatal("empty bytecode should be rejected")
	}
}

func TestBundleBadMagicKeepsContents(t *testing.T) {
	b := NewShaderBundle()
	if err := b.Add("keep", vk.ShaderStageVertexBit, "", validSPIRV(1)); err != nil {
		t.Fatal(err)
	}

	bad := make([]byte, 32)
	binary.LittleEndian.PutUint32(bad, 0xdeadbeef)
	if _, err := b.ReadFrom(bytes.NewReader(bad)); err == nil {
		t.Fatal("bad magic should fail")
	}
	if _, _, ok := b.Lookup("keep", vk.ShaderStageVertexBit); !ok {
		t.Fatal("failed load destroyed the previous contents")
	}
}

func TestBundleBadVersion(t *testing.T) {
	good := NewShaderBundle()
	good.Add("x", vk.ShaderStageVertexBit, "", validSPIRV(1))
	var buf bytes.Buffer
	good.WriteTo(&buf)

	data := buf.Bytes()
	binary.LittleEndian.PutUint32(data[4:], 99)

	b := NewShaderBundle()
	if _, err := b.ReadFrom(bytes.NewReader(data)); err == nil {
		t.Fatal("unsupported version should fail")
	}
}

func TestBundleEntryBoundsChecked(t *testing.T) {
	good := NewShaderBundle()
	good.Add("x", vk.ShaderStageVertexBit, "", validSPIRV(1))
	var buf bytes.Buffer
	good.WriteTo(&buf)

	// Corrupt the first entry's size so it runs past the data section.
	data := buf.Bytes()
	entryOff := 8 * 4 // header
	binary.LittleEndian.PutUint32(data[entryOff+12:], 1<<30)

	b := NewShaderBundle()
	if _, err := b.ReadFrom(bytes.NewReader(data)); err == nil {
		t.Fatal("out-of-bounds entry should fail")
	}
}

func TestBundleEntryOffsetOverflow(t *testing.T) {
	good := NewShaderBundle()
	good.Add("x", vk.ShaderStageVertexBit, "", validSPIRV(1))
	var buf bytes.Buffer
	good.WriteTo(&buf)

	// Offset + size wraps around uint32; the sum must not be admitted.
	data := buf.Bytes()
	entryOff := 8 * 4 // header
	binary.LittleEndian.PutUint32(data[entryOff+8:], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(data[entryOff+12:], 1)

	b := NewShaderBundle()
	if _, err := b.ReadFrom(bytes.NewReader(data)); err == nil {
		t.Fatal("wrapped entry bounds should fail")
	}
}

func TestBundleTruncatedData(t *testing.T) {
	good := NewShaderBundle()
	good.Add("x", vk.ShaderStageVertexBit, "", validSPIRV(4))
	var buf bytes.Buffer
	good.WriteTo(&buf)

	b := NewShaderBundle()
	data := buf.Bytes()
	if _, err := b.ReadFrom(bytes.NewReader(data[:len(data)-8])); err == nil {
		t.Fatal("truncated data section should fail")
	}
}

func TestBundleSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shaders.bin")

	b := NewShaderBundle()
	code := validSPIRV(16)
	if err := b.Add("sky", vk.ShaderStageFragmentBit, "", code); err != nil {
		t.Fatal(err)
	}
	if err := b.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded := NewShaderBundle()
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	got, _, ok := loaded.Lookup("sky", vk.ShaderStageFragmentBit)
	if !ok || !bytes.Equal(got, code) {
		t.Fatal("bundle file round trip failed")
	}
}
