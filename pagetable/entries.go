package pagetable

// entry flag bits, shared by every level of the hierarchy. The on-disk
// (on-guest-physical-memory) representation is a plain little-endian
// 64-bit word; these newtypes exist only to give Go code typed accessors
// instead of reinterpreting memory as a packed struct.
const (
	flagPresent uint64 = 1 << 0
	flagRW      uint64 = 1 << 1
	flagPS      uint64 = 1 << 7 // page-size bit: leaf at PDPT/PD level rather than a pointer to the next table
	frameMask   uint64 = 0x000f_ffff_ffff_f000
)

// PML4E is a page-map-level-4 entry. It is always a pointer to a PDPT;
// x86-64 has no 512 GiB page size.
type PML4E uint64

func (e PML4E) Present() bool        { return uint64(e)&flagPresent != 0 }
func (e PML4E) PDPTFrame() uint64    { return uint64(e) & frameMask }
func NewPML4E(pdptFrame uint64) PML4E {
	return PML4E(flagPresent | flagRW | (pdptFrame & frameMask))
}

// PDPTE is a page-directory-pointer-table entry. It is either a pointer to
// a PD (Present && !PageSize) or a 1 GiB leaf (Present && PageSize).
type PDPTE uint64

func (e PDPTE) Present() bool   { return uint64(e)&flagPresent != 0 }
func (e PDPTE) PageSize() bool  { return uint64(e)&flagPS != 0 }
func (e PDPTE) Frame() uint64   { return uint64(e) & frameMask }

func NewPDPTEPointer(pdFrame uint64) PDPTE {
	return PDPTE(flagPresent | flagRW | (pdFrame & frameMask))
}

func NewPDPTELeaf1G(guestPhysFrame uint64) PDPTE {
	return PDPTE(flagPresent | flagRW | flagPS | (guestPhysFrame & frameMask))
}

// PDE is a page-directory entry. It is either a pointer to a PT
// (Present && !PageSize) or a 2 MiB leaf (Present && PageSize).
type PDE uint64

func (e PDE) Present() bool  { return uint64(e)&flagPresent != 0 }
func (e PDE) PageSize() bool { return uint64(e)&flagPS != 0 }
func (e PDE) Frame() uint64  { return uint64(e) & frameMask }

func NewPDEPointer(ptFrame uint64) PDE {
	return PDE(flagPresent | flagRW | (ptFrame & frameMask))
}

func NewPDELeaf2M(guestPhysFrame uint64) PDE {
	return PDE(flagPresent | flagRW | flagPS | (guestPhysFrame & frameMask))
}

// PTE is a 4 KiB leaf page-table entry; the lowest level, no PageSize bit.
type PTE uint64

func (e PTE) Present() bool { return uint64(e)&flagPresent != 0 }
func (e PTE) Frame() uint64 { return uint64(e) & frameMask }

func NewPTELeaf4K(guestPhysFrame uint64) PTE {
	return PTE(flagPresent | flagRW | (guestPhysFrame & frameMask))
}
