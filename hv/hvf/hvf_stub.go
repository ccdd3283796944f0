//go:build !darwin || !amd64

package hvf

import "github.com/akaros/vmm-akaros/hv"

// Open always fails on platforms other than darwin/amd64: Hypervisor.framework's
// VMX surface is Apple-specific, and this core targets x86_64 guests only.
func Open() (hv.Hypervisor, error) {
	return nil, hv.ErrHypervisorUnsupported
}
