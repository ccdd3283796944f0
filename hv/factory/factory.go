// Package factory selects the hv.Hypervisor backend for the current
// platform: the real Hypervisor.framework/VMX backend on darwin/amd64, the
// in-memory simulator everywhere else (so demos and scenario tests still run
// off-Mac), matching the capability surface named in §6.
package factory

import (
	"fmt"

	"github.com/akaros/vmm-akaros/hv"
	"github.com/akaros/vmm-akaros/hv/hvf"
	"github.com/akaros/vmm-akaros/hv/simulator"
)

// Backend names a selectable hv.Hypervisor implementation.
type Backend string

const (
	// BackendAuto picks hvf on darwin/amd64 and falls back to the
	// simulator everywhere else.
	BackendAuto Backend = "auto"
	// BackendHVF forces the real Hypervisor.framework backend; Open
	// fails with hv.ErrHypervisorUnsupported off darwin/amd64.
	BackendHVF Backend = "hvf"
	// BackendSimulator forces the in-memory fake backend, useful for
	// running demo scenarios on a machine without Hypervisor.framework.
	BackendSimulator Backend = "simulator"
)

// Open opens the named backend. BackendAuto tries hvf first and falls back
// to the simulator if hvf reports hv.ErrHypervisorUnsupported; any other
// hvf error is returned as-is, since that means the real backend is
// present but failed, which auto-fallback should not paper over.
func Open(backend Backend) (hv.Hypervisor, error) {
	switch backend {
	case "", BackendAuto:
		h, err := hvf.Open()
		if err == nil {
			return h, nil
		}
		if err != hv.ErrHypervisorUnsupported {
			return nil, err
		}
		return simulator.New(nil), nil
	case BackendHVF:
		return hvf.Open()
	case BackendSimulator:
		return simulator.New(nil), nil
	default:
		return nil, fmt.Errorf("factory: unknown backend %q", backend)
	}
}
