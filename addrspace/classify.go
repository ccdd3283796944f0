package addrspace

import (
	"github.com/akaros/vmm-akaros/hostmem"
	"github.com/akaros/vmm-akaros/pagetable"
)

const (
	giB = 1 << 30
	miB2 = 1 << 21
)

// ClassifiedRegion is a host region after bucket classification, carrying
// the guest-physical address it will be identity-mapped to (always equal
// to HostStart: the core's whole reason for existing).
type ClassifiedRegion struct {
	hostmem.Region
	GuestStart uint64
	Stride     pagetable.Stride
}

// Classify buckets a region by the joint alignment of its host-virtual
// start and size, preferring the largest page size the region qualifies
// for: 1 GiB, then 2 MiB, then 4 KiB as the always-available fallback.
func Classify(r hostmem.Region) ClassifiedRegion {
	stride := pagetable.Stride4K
	switch {
	case r.HostStart%giB == 0 && r.Size%giB == 0:
		stride = pagetable.Stride1G
	case r.HostStart%miB2 == 0 && r.Size%miB2 == 0:
		stride = pagetable.Stride2M
	}
	return ClassifiedRegion{
		Region:     r,
		GuestStart: r.HostStart, // true identity: guest-physical == host-virtual
		Stride:     stride,
	}
}

func strideBytes(s pagetable.Stride) uint64 {
	switch s {
	case pagetable.Stride1G:
		return giB
	case pagetable.Stride2M:
		return miB2
	default:
		return 1 << 12
	}
}
