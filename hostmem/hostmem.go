// Package hostmem discovers the calling process's mapped memory regions,
// the host-OS "process_region_iter" verb of the hypervisor capability
// surface (spec'd as an external collaborator): a sequence of
// (start, size, protection) tuples that AddressSpace construction
// consumes once, at init time.
package hostmem

import "github.com/akaros/vmm-akaros/hv"

// Region is one mapped host-virtual range.
type Region struct {
	HostStart   uint64
	Size        uint64
	Protections hv.Protection
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return r.HostStart + r.Size
}
