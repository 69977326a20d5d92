package bufpool

import "testing"

func TestDynamicAllocator(t *testing.T) {
	var a DynamicAllocator
	buf, err := a.Alloc(16)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if len(buf) != 16 {
		t.Fatalf("len = %d, want 16", len(buf))
	}
	a.Free(buf) // no-op, must not panic
}

func TestStaticPoolAllocatorExhaustion(t *testing.T) {
	p := NewStaticPoolAllocator(2, 8)
	a, err := p.Alloc(4)
	if err != nil {
		t.Fatalf("Alloc 1: %v", err)
	}
	_, err = p.Alloc(8)
	if err != nil {
		t.Fatalf("Alloc 2: %v", err)
	}
	if _, err := p.Alloc(1); err != ErrNoSlotAvailable {
		t.Fatalf("Alloc 3 = %v, want ErrNoSlotAvailable", err)
	}

	p.Free(a)
	b, err := p.Alloc(8)
	if err != nil {
		t.Fatalf("Alloc after Free: %v", err)
	}
	if len(b) != 8 {
		t.Fatalf("len = %d, want 8", len(b))
	}
}

func TestStaticPoolAllocatorTooLarge(t *testing.T) {
	p := NewStaticPoolAllocator(1, 8)
	if _, err := p.Alloc(9); err != ErrSlotTooSmall {
		t.Fatalf("err = %v, want ErrSlotTooSmall", err)
	}
}

func TestStaticPoolAllocatorFreeZeroes(t *testing.T) {
	p := NewStaticPoolAllocator(1, 4)
	buf, _ := p.Alloc(4)
	copy(buf, []byte{1, 2, 3, 4})
	p.Free(buf)

	buf2, _ := p.Alloc(4)
	for i, b := range buf2 {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0 (slot not zeroed)", i, b)
		}
	}
}
