package addrspace

import (
	"testing"

	"github.com/akaros/vmm-akaros/hostmem"
	"github.com/akaros/vmm-akaros/hv"
	"github.com/akaros/vmm-akaros/hv/simulator"
)

func TestBuildIdentityInvariant(t *testing.T) {
	hyp := simulator.New(nil)

	regions := []hostmem.Region{
		{HostStart: 0x1000, Size: 0x3000, Protections: hv.ProtRead | hv.ProtWrite},
		{HostStart: 1 << 21, Size: 1 << 21, Protections: hv.ProtRead | hv.ProtWrite | hv.ProtExec},
		{HostStart: 1 << 30, Size: 1 << 30, Protections: hv.ProtRead | hv.ProtWrite},
	}

	as, err := Build(hyp, regions, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, r := range regions {
		for _, off := range []uint64{0, r.Size - 1, r.Size / 2} {
			linear := r.HostStart + off
			got, ok := as.Translate(linear)
			if !ok {
				t.Fatalf("Translate(0x%x): not present", linear)
			}
			if got != linear {
				t.Fatalf("Translate(0x%x) = 0x%x, want identity", linear, got)
			}
		}
	}
}

func TestBuildClassification(t *testing.T) {
	regions := []hostmem.Region{
		{HostStart: 1 << 30, Size: 1 << 30},
		{HostStart: 1 << 21, Size: 1 << 21},
		{HostStart: 0x1000, Size: 0x1000},
	}
	wantStrides := []int{0, 1, 2} // Stride1G, Stride2M, Stride4K per pagetable.Stride ordering

	for i, r := range regions {
		c := Classify(r)
		if int(c.Stride) != wantStrides[i] {
			t.Fatalf("region %d: stride = %v, want %v", i, c.Stride, wantStrides[i])
		}
	}
}

func TestBuildDisjointRegionsOrderedByGuestStart(t *testing.T) {
	hyp := simulator.New(nil)
	regions := []hostmem.Region{
		{HostStart: 1 << 30, Size: 0x1000, Protections: hv.ProtRead},
		{HostStart: 0x1000, Size: 0x1000, Protections: hv.ProtRead},
	}
	as, err := Build(hyp, regions, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got := as.Regions()
	if len(got) != 2 {
		t.Fatalf("expected 2 regions, got %d", len(got))
	}
	if got[0].GuestStart > got[1].GuestStart {
		t.Fatalf("regions not sorted by guest start")
	}
}

func TestAllocateStackIsIdentityMapped(t *testing.T) {
	hyp := simulator.New(nil)
	as, err := Build(hyp, nil, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	stack, err := as.AllocateStack(hyp, 8)
	if err != nil {
		t.Fatalf("AllocateStack: %v", err)
	}
	if stack.Top <= stack.Base {
		t.Fatalf("Top must be above Base")
	}
	got, ok := as.Translate(stack.Base)
	if !ok || got != stack.Base {
		t.Fatalf("stack not identity mapped: got 0x%x ok=%v", got, ok)
	}
}
