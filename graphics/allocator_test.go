package graphics

import "testing"

func TestMakeAlignUp(t *testing.T) {
	cases := []struct{ in, align, want uint64 }{
		{0, 256, 0},
		{1, 256, 256},
		{256, 256, 256},
		{257, 256, 512},
		{100, 1, 100},
	}
	for _, c := range cases {
		if got := makeAlignUp(c.in, c.align); got != c.want {
			t.Errorf("makeAlignUp(%d, %d) = %d, want %d", c.in, c.align, got, c.want)
		}
	}
}

func TestBlockAllocatorSequence(t *testing.T) {
	p := &BlockAllocator{Size: 1024, Align: 16}

	a := p.Allocate(100)
	if a == nil || a.Offset != 0 {
		t.Fatalf("first allocation %v, want offset 0", a)
	}
	b := p.Allocate(100)
	if b == nil || b.Offset != 112 {
		t.Fatalf("second allocation %v, want aligned offset 112", b)
	}
	c := p.Allocate(100)
	if c == nil || c.Offset != 224 {
		t.Fatalf("third allocation %v, want offset 224", c)
	}

	// Freeing the middle block opens a gap the next fit-sized request
	// reuses.
	p.Free(b)
	d := p.Allocate(64)
	if d == nil || d.Offset != 112 {
		t.Fatalf("gap allocation %v, want offset 112", d)
	}

	if n := p.InUse(); n != 3 {
		t.Fatalf("InUse = %d, want 3", n)
	}
}

func TestBlockAllocatorExhaustion(t *testing.T) {
	p := &BlockAllocator{Size: 256, Align: 1}
	if p.Allocate(0) != nil {
		t.Fatal("zero-size allocation should fail")
	}
	if p.Allocate(512) != nil {
		t.Fatal("oversized allocation should fail")
	}
	a := p.Allocate(200)
	if a == nil {
		t.Fatal("allocation should fit")
	}
	if p.Allocate(100) != nil {
		t.Fatal("allocation should not fit the remaining space")
	}
	p.Free(a)
	if p.Allocate(256) == nil {
		t.Fatal("full-size allocation should fit after free")
	}
}

func TestBlockAllocatorGapTooSmall(t *testing.T) {
	p := &BlockAllocator{Size: 1024, Align: 1}
	a := p.Allocate(100)
	b := p.Allocate(100)
	p.Allocate(100)
	p.Free(b)

	// The 100 byte gap cannot host 101 bytes; the allocation lands after
	// the last block instead.
	d := p.Allocate(101)
	if d == nil || d.Offset != 300 {
		t.Fatalf("allocation %v, want offset 300", d)
	}
	_ = a
}
