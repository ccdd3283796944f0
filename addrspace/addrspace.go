// Package addrspace builds the identity guest address space: it enumerates
// host-virtual regions, maps each into guest-physical space at identity
// offsets through the hv capability surface, and drives pagetable to build
// the guest paging hierarchy that realizes guest-linear == host-virtual.
package addrspace

import (
	"fmt"
	"sort"
	"unsafe"

	"github.com/akaros/vmm-akaros/hostmem"
	"github.com/akaros/vmm-akaros/hv"
	"github.com/akaros/vmm-akaros/pagetable"
)

// AddressSpace is built once per process and shared read-only by every
// vCPU afterward; its paging tree is never mutated post-construction
// except to add a new vCPU's guest stack (see AllocateStack).
type AddressSpace struct {
	pt      *pagetable.GuestPageTable
	regions []ClassifiedRegion
}

// defaultStackReservePages is extra arena headroom reserved at Build time so that
// later AllocateStack calls (one per vthread) never hit ErrArenaExhausted
// from ordinary scenario-sized guest stacks. A long-running process that
// creates very many vthreads should size this explicitly; exposed via
// Build's extraPages parameter for that reason.
const defaultStackReservePages = 64

// Build enumerates regions, classifies each, and constructs the identity
// address space: every host-virtual byte any region covers becomes
// reachable at the identical guest-linear address once CR3 is loaded with
// Root(). extraPages pads the paging arena beyond PageTables' own
// estimate, to leave room for guest stacks mapped after Build returns.
func Build(hyp hv.Hypervisor, regions []hostmem.Region, extraPages uint64) (*AddressSpace, error) {
	classified := make([]ClassifiedRegion, 0, len(regions))
	for _, r := range regions {
		classified = append(classified, Classify(r))
	}

	sizes := make([]pagetable.RegionSize, 0, len(classified))
	var highestEnd uint64
	for _, c := range classified {
		sizes = append(sizes, pagetable.RegionSize{Size: c.Size, Stride: c.Stride})
		if end := c.GuestStart + c.Size; end > highestEnd {
			highestEnd = end
		}
	}

	arenaPages := pagetable.EstimateArenaPages(sizes) + extraPages + defaultStackReservePages

	// Place the paging arena itself above every region so CR3 never
	// collides with an identity-mapped region (§4.2: "a known address,
	// either 0 or above all regions").
	arenaBase := alignUp(highestEnd, 1<<12)

	pt := pagetable.NewGuestPageTable(arenaPages, arenaBase)

	if err := hyp.Map(pt.HostPointer(), pt.GuestBase(), pt.Size(), hv.ProtRead|hv.ProtWrite); err != nil {
		return nil, fmt.Errorf("addrspace: map paging arena: %w", err)
	}

	// Install largest strides first so that a coarser region's leaf claim
	// is in place before any finer region could (incorrectly) try to
	// subdivide the same range.
	ordered := append([]ClassifiedRegion(nil), classified...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return strideBytes(ordered[i].Stride) > strideBytes(ordered[j].Stride)
	})

	for _, cr := range ordered {
		if err := hyp.Map(uintptr(cr.HostStart), cr.GuestStart, cr.Size, cr.Protections); err != nil {
			return nil, fmt.Errorf("addrspace: map region 0x%x: %w", cr.HostStart, err)
		}
		step := strideBytes(cr.Stride)
		for off := uint64(0); off < cr.Size; off += step {
			linear := cr.GuestStart + off
			if err := pt.Map(linear, linear, cr.Stride); err != nil {
				return nil, fmt.Errorf("addrspace: install leaf at 0x%x: %w", linear, err)
			}
		}
	}

	sort.Slice(classified, func(i, j int) bool {
		return classified[i].GuestStart < classified[j].GuestStart
	})

	if err := checkDisjoint(classified); err != nil {
		return nil, err
	}

	return &AddressSpace{pt: pt, regions: classified}, nil
}

func checkDisjoint(regions []ClassifiedRegion) error {
	for i := 1; i < len(regions); i++ {
		if regions[i].GuestStart < regions[i-1].GuestStart+regions[i-1].Size {
			return fmt.Errorf("addrspace: overlapping regions at 0x%x and 0x%x", regions[i-1].GuestStart, regions[i].GuestStart)
		}
	}
	return nil
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// Root returns the guest-physical address of the PML4 root, to be written
// into CR3 by VcpuBootstrap.
func (as *AddressSpace) Root() uint64 {
	return as.pt.Root()
}

// Regions returns the ordered, disjoint region list, for diagnostics and
// tests.
func (as *AddressSpace) Regions() []ClassifiedRegion {
	return as.regions
}

// Translate walks the paging tree exactly as hardware would, used by tests
// asserting the identity invariant.
func (as *AddressSpace) Translate(linear uint64) (guestPhys uint64, ok bool) {
	return as.pt.Translate(linear)
}

// GuestStack is one vCPU's privately-owned, identity-mapped guest stack.
// The caller must keep it reachable for as long as the owning vCPU is
// running: it holds the only Go reference to the backing memory, and
// letting it be garbage-collected while the guest still has its
// guest-physical mapping installed would free memory out from under a
// live vCPU.
type GuestStack struct {
	mem  []byte
	Base uint64
	Top  uint64
}

// AllocateStack allocates and identity-maps a fresh guest stack of the
// given page count for one vCPU; Top is the address VcpuBootstrap should
// load into RSP. The stack is owned exclusively by the calling vCPU and is
// never shared, matching the ownership model in the data model: "released
// after the exit loop terminates" means the caller drops its GuestStack
// once the vCPU's host thread exits (the paging arena itself is never
// freed while the process is live).
func (as *AddressSpace) AllocateStack(hyp hv.Hypervisor, pages uint64) (*GuestStack, error) {
	mem := pagetable.AllocAlignedPages(pages)
	hostPtr := uintptr(unsafe.Pointer(&mem[0]))
	guestAddr := uint64(hostPtr)

	if err := hyp.Map(hostPtr, guestAddr, pages*pagetable.PageSize4K, hv.ProtRead|hv.ProtWrite); err != nil {
		return nil, fmt.Errorf("addrspace: map guest stack: %w", err)
	}
	for off := uint64(0); off < pages*pagetable.PageSize4K; off += pagetable.PageSize4K {
		if err := as.pt.Map(guestAddr+off, guestAddr+off, pagetable.Stride4K); err != nil {
			return nil, fmt.Errorf("addrspace: install stack leaf: %w", err)
		}
	}
	return &GuestStack{mem: mem, Base: guestAddr, Top: guestAddr + pages*pagetable.PageSize4K}, nil
}
