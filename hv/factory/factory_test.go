package factory

import (
	"testing"

	"github.com/akaros/vmm-akaros/hv/simulator"
)

func TestOpenSimulator(t *testing.T) {
	h, err := Open(BackendSimulator)
	if err != nil {
		t.Fatalf("Open(BackendSimulator): %v", err)
	}
	if _, ok := h.(*simulator.Hypervisor); !ok {
		t.Fatalf("Open(BackendSimulator) returned %T, want *simulator.Hypervisor", h)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(Backend("bogus")); err == nil {
		t.Fatal("Open(bogus) succeeded, want an error")
	}
}
