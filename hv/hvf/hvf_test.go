package hvf

import (
	"errors"
	"testing"

	"github.com/akaros/vmm-akaros/hv"
)

// TestOpen exercises the real Hypervisor.framework backend end to end. It
// has no build tag so `go test ./...` compiles it on every platform, but it
// skips itself wherever hv.ErrHypervisorUnsupported comes back, which is
// every non-darwin/amd64 host. On darwin/amd64 any Open failure (a missing
// Hypervisor entitlement included) is reported as a test failure.
func TestOpen(t *testing.T) {
	h, err := Open()
	if errors.Is(err, hv.ErrHypervisorUnsupported) {
		t.Skip("Skipping: Hypervisor.framework unavailable on this host")
	}
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	if _, _, err := h.ReadCapability(hv.CapabilityPinBased); err != nil {
		t.Fatalf("ReadCapability: %v", err)
	}
}
