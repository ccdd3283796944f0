package pagetable

import (
	"errors"
	"testing"
)

func TestMapAndTranslate4K(t *testing.T) {
	pt := NewGuestPageTable(16, 0x1000_0000)

	const linear = 0x4000_0000
	if err := pt.Map(linear, linear, Stride4K); err != nil {
		t.Fatalf("Map: %v", err)
	}
	got, ok := pt.Translate(linear + 0x123)
	if !ok {
		t.Fatalf("Translate: not present")
	}
	if got != linear+0x123 {
		t.Fatalf("Translate: got 0x%x, want 0x%x", got, linear+0x123)
	}
}

func TestMapAndTranslate2M(t *testing.T) {
	pt := NewGuestPageTable(16, 0)

	const linear = 0x20_0000
	if err := pt.Map(linear, linear, Stride2M); err != nil {
		t.Fatalf("Map: %v", err)
	}
	got, ok := pt.Translate(linear + 0x1000)
	if !ok || got != linear+0x1000 {
		t.Fatalf("Translate: got 0x%x, ok=%v", got, ok)
	}
}

func TestMapAndTranslate1G(t *testing.T) {
	pt := NewGuestPageTable(16, 0)

	const linear = 0x4000_0000
	if err := pt.Map(linear, linear, Stride1G); err != nil {
		t.Fatalf("Map: %v", err)
	}
	got, ok := pt.Translate(linear + 0x10_0000)
	if !ok || got != linear+0x10_0000 {
		t.Fatalf("Translate: got 0x%x, ok=%v", got, ok)
	}
}

func TestTranslateUnmapped(t *testing.T) {
	pt := NewGuestPageTable(4, 0)
	if _, ok := pt.Translate(0x1000); ok {
		t.Fatalf("expected unmapped linear address to miss")
	}
}

func TestArenaExhausted(t *testing.T) {
	// One page for the PML4 and nothing else: the first 4K mapping needs a
	// PDPT and PD and PT page in addition, which cannot fit.
	pt := NewGuestPageTable(1, 0)
	if err := pt.Map(0x1000, 0x1000, Stride4K); !errors.Is(err, ErrArenaExhausted) {
		t.Fatalf("expected ErrArenaExhausted, got %v", err)
	}
}

func TestReclassificationIsFatal(t *testing.T) {
	pt := NewGuestPageTable(16, 0)
	if err := pt.Map(0x4000_0000, 0x4000_0000, Stride1G); err != nil {
		t.Fatalf("Map 1G: %v", err)
	}
	if err := pt.Map(0x4000_0000, 0x4000_0000, Stride4K); err == nil {
		t.Fatalf("expected error remapping a 1G leaf region at 4K granularity")
	}
}

func TestEstimateArenaPages(t *testing.T) {
	pages := EstimateArenaPages([]RegionSize{
		{Size: 1 << 30, Stride: Stride1G},
		{Size: 1 << 21, Stride: Stride4K},
	})
	if pages == 0 {
		t.Fatalf("expected non-zero estimate")
	}
}
