// Package pagetable builds a 4-level x86-64 paging hierarchy (PML4 -> PDPT
// -> PD -> PT) inside a single contiguous guest-physical arena, using a
// bump allocator and mixed page sizes (1 GiB / 2 MiB / 4 KiB).
package pagetable

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"
)

const (
	PageSize4K = 1 << 12
	entriesPerTable = PageSize4K / 8 // 512

	indexMask = 0x1ff
)

// Stride names the page size an insertion uses for a single region; it is
// chosen per-region by the caller (addrspace) from the region's alignment.
type Stride int

const (
	Stride1G Stride = iota
	Stride2M
	Stride4K
)

func (s Stride) String() string {
	switch s {
	case Stride1G:
		return "1G"
	case Stride2M:
		return "2M"
	case Stride4K:
		return "4K"
	default:
		return "?"
	}
}

// ErrArenaExhausted is returned when the bump allocator runs past the
// arena's pre-sized page count; a fatal construction error per the paging
// arena's sizing contract.
var ErrArenaExhausted = errors.New("pagetable: arena exhausted")

// GuestPageTable is a bump-allocated arena of 4 KiB pages holding the
// paging tree. Page 0 of the arena is always the PML4 root.
type GuestPageTable struct {
	mem        []byte // host-backing memory for the arena, page aligned
	guestBase  uint64 // guest-physical address the arena is mapped to
	arenaPages uint64
	nextFree   uint64
}

// NewGuestPageTable allocates a host-memory arena of arenaPages 4 KiB
// pages, to be mapped into guest-physical space at guestBase by the
// caller (AddressSpace construction owns the hv.Hypervisor.Map call).
func NewGuestPageTable(arenaPages uint64, guestBase uint64) *GuestPageTable {
	mem := allocAlignedPages(arenaPages)
	pt := &GuestPageTable{
		mem:        mem,
		guestBase:  guestBase,
		arenaPages: arenaPages,
	}
	pt.nextFree = 1 // page 0 reserved for the PML4 root
	return pt
}

// AllocAlignedPages returns a page-aligned slice of n*PageSize4K bytes,
// carved out of a slightly larger allocation since Go's allocator gives no
// alignment guarantee for arbitrary sizes. Exported so callers outside
// this package (guest stack allocation) can get page-aligned host memory
// without standing up a whole GuestPageTable.
func AllocAlignedPages(n uint64) []byte {
	buf := make([]byte, n*PageSize4K+PageSize4K)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	pad := uintptr(PageSize4K) - (addr % PageSize4K)
	if pad == PageSize4K {
		pad = 0
	}
	return buf[pad : pad+uintptr(n*PageSize4K)]
}

func allocAlignedPages(n uint64) []byte { return AllocAlignedPages(n) }

// HostPointer returns the host virtual address the arena lives at, for
// handing to hv.Hypervisor.Map.
func (pt *GuestPageTable) HostPointer() uintptr {
	return uintptr(unsafe.Pointer(&pt.mem[0]))
}

// Size returns the arena's size in bytes.
func (pt *GuestPageTable) Size() uint64 {
	return pt.arenaPages * PageSize4K
}

// GuestBase returns the guest-physical address the arena is mapped at.
func (pt *GuestPageTable) GuestBase() uint64 {
	return pt.guestBase
}

// Root returns the guest-physical address of the PML4 root, the value
// VcpuBootstrap writes into CR3.
func (pt *GuestPageTable) Root() uint64 {
	return pt.guestBase
}

// allocPage bumps the allocator and returns the new page's index within
// the arena.
func (pt *GuestPageTable) allocPage() (uint64, error) {
	if pt.nextFree >= pt.arenaPages {
		return 0, fmt.Errorf("%w: need page %d of %d", ErrArenaExhausted, pt.nextFree, pt.arenaPages)
	}
	idx := pt.nextFree
	pt.nextFree++
	return idx, nil
}

// frameOf converts an arena-local page index into the guest-physical frame
// address that belongs in a parent entry's frame field.
func (pt *GuestPageTable) frameOf(pageIndex uint64) uint64 {
	return pt.guestBase + pageIndex*PageSize4K
}

func (pt *GuestPageTable) readEntry(pageIndex, idx uint64) uint64 {
	off := pageIndex*PageSize4K + idx*8
	return binary.LittleEndian.Uint64(pt.mem[off : off+8])
}

func (pt *GuestPageTable) writeEntry(pageIndex, idx uint64, val uint64) {
	off := pageIndex*PageSize4K + idx*8
	binary.LittleEndian.PutUint64(pt.mem[off:off+8], val)
}

func splitLinear(v uint64) (pml4i, pdpti, pdi, pti uint64) {
	pml4i = (v >> 39) & indexMask
	pdpti = (v >> 30) & indexMask
	pdi = (v >> 21) & indexMask
	pti = (v >> 12) & indexMask
	return
}

// Map installs one entry of the requested stride so that linear resolves
// to guestPhys when the hierarchy is walked from the root. linear and
// guestPhys must both be aligned to the stride's page size. Attempting to
// install a leaf where an intermediate table already exists (or vice
// versa), or a leaf whose classification conflicts with an existing leaf,
// is a fatal construction error.
func (pt *GuestPageTable) Map(linear uint64, guestPhys uint64, stride Stride) error {
	pml4i, pdpti, pdi, pti := splitLinear(linear)

	pdptPage, err := pt.childTable(0, pml4i, wrapPML4E)
	if err != nil {
		return err
	}

	if stride == Stride1G {
		existing := PDPTE(pt.readEntry(pdptPage, pdpti))
		if existing.Present() && !existing.PageSize() {
			return fmt.Errorf("pagetable: 1G leaf at linear 0x%x collides with existing table", linear)
		}
		if existing.Present() && existing.PageSize() && existing.Frame() != guestPhys {
			return fmt.Errorf("pagetable: 1G leaf at linear 0x%x reclassified", linear)
		}
		pt.writeEntry(pdptPage, pdpti, uint64(NewPDPTELeaf1G(guestPhys)))
		return nil
	}

	pdPage, err := pt.childTablePDPT(pdptPage, pdpti)
	if err != nil {
		return err
	}

	if stride == Stride2M {
		existing := PDE(pt.readEntry(pdPage, pdi))
		if existing.Present() && !existing.PageSize() {
			return fmt.Errorf("pagetable: 2M leaf at linear 0x%x collides with existing table", linear)
		}
		if existing.Present() && existing.PageSize() && existing.Frame() != guestPhys {
			return fmt.Errorf("pagetable: 2M leaf at linear 0x%x reclassified", linear)
		}
		pt.writeEntry(pdPage, pdi, uint64(NewPDELeaf2M(guestPhys)))
		return nil
	}

	ptPage, err := pt.childTablePD(pdPage, pdi)
	if err != nil {
		return err
	}

	existing := PTE(pt.readEntry(ptPage, pti))
	if existing.Present() && existing.Frame() != guestPhys {
		return fmt.Errorf("pagetable: 4K leaf at linear 0x%x reclassified", linear)
	}
	pt.writeEntry(ptPage, pti, uint64(NewPTELeaf4K(guestPhys)))
	return nil
}

func wrapPML4E(v uint64) PML4E { return PML4E(v) }

// childTable resolves (or creates) the PDPT page referenced by the PML4
// entry at index idx within the page at pml4Page (always 0).
func (pt *GuestPageTable) childTable(pml4Page, idx uint64, _ func(uint64) PML4E) (uint64, error) {
	e := PML4E(pt.readEntry(pml4Page, idx))
	if e.Present() {
		return (e.PDPTFrame() - pt.guestBase) / PageSize4K, nil
	}
	newPage, err := pt.allocPage()
	if err != nil {
		return 0, err
	}
	pt.writeEntry(pml4Page, idx, uint64(NewPML4E(pt.frameOf(newPage))))
	return newPage, nil
}

func (pt *GuestPageTable) childTablePDPT(pdptPage, idx uint64) (uint64, error) {
	e := PDPTE(pt.readEntry(pdptPage, idx))
	if e.Present() {
		if e.PageSize() {
			return 0, fmt.Errorf("pagetable: PDPT index %d already a 1G leaf", idx)
		}
		return (e.Frame() - pt.guestBase) / PageSize4K, nil
	}
	newPage, err := pt.allocPage()
	if err != nil {
		return 0, err
	}
	pt.writeEntry(pdptPage, idx, uint64(NewPDPTEPointer(pt.frameOf(newPage))))
	return newPage, nil
}

func (pt *GuestPageTable) childTablePD(pdPage, idx uint64) (uint64, error) {
	e := PDE(pt.readEntry(pdPage, idx))
	if e.Present() {
		if e.PageSize() {
			return 0, fmt.Errorf("pagetable: PD index %d already a 2M leaf", idx)
		}
		return (e.Frame() - pt.guestBase) / PageSize4K, nil
	}
	newPage, err := pt.allocPage()
	if err != nil {
		return 0, err
	}
	pt.writeEntry(pdPage, idx, uint64(NewPDEPointer(pt.frameOf(newPage))))
	return newPage, nil
}

// Translate walks the hierarchy from the root exactly as hardware would,
// for use by tests asserting the identity invariant.
func (pt *GuestPageTable) Translate(linear uint64) (guestPhys uint64, ok bool) {
	pml4i, pdpti, pdi, pti := splitLinear(linear)

	e4 := PML4E(pt.readEntry(0, pml4i))
	if !e4.Present() {
		return 0, false
	}
	pdptPage := (e4.PDPTFrame() - pt.guestBase) / PageSize4K

	e3 := PDPTE(pt.readEntry(pdptPage, pdpti))
	if !e3.Present() {
		return 0, false
	}
	if e3.PageSize() {
		return e3.Frame() + (linear & (1<<30 - 1)), true
	}
	pdPage := (e3.Frame() - pt.guestBase) / PageSize4K

	e2 := PDE(pt.readEntry(pdPage, pdi))
	if !e2.Present() {
		return 0, false
	}
	if e2.PageSize() {
		return e2.Frame() + (linear & (1<<21 - 1)), true
	}
	ptPage := (e2.Frame() - pt.guestBase) / PageSize4K

	e1 := PTE(pt.readEntry(ptPage, pti))
	if !e1.Present() {
		return 0, false
	}
	return e1.Frame() + (linear & (1<<12 - 1)), true
}

// EstimateArenaPages sizes the arena per the bump-allocator discipline: one
// page for the PML4, plus per-region contributions that assume every
// intermediate table the region's bucket could possibly need. Over-
// allocation is acceptable; under-allocation is a fatal bug, so each
// region's contribution includes every coarser bucket's table count too.
func EstimateArenaPages(sizes []RegionSize) uint64 {
	total := uint64(1)
	for _, r := range sizes {
		gig := ceilDiv(r.Size, 1<<30)
		switch r.Stride {
		case Stride1G:
			total += gig
		case Stride2M:
			total += gig + ceilDiv(r.Size, 1<<21)
		case Stride4K:
			total += gig + ceilDiv(r.Size, 1<<21) + ceilDiv(r.Size, 1<<12)
		}
	}
	return total
}

// RegionSize is the minimal shape EstimateArenaPages needs from a
// classified region.
type RegionSize struct {
	Size   uint64
	Stride Stride
}

func ceilDiv(a, b uint64) uint64 {
	return (a + b - 1) / b
}
