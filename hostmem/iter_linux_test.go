//go:build linux

package hostmem

import (
	"testing"

	"github.com/akaros/vmm-akaros/hv"
)

func TestParseMapsLine(t *testing.T) {
	r, ok, err := parseMapsLine("7f1234560000-7f1234561000 rw-p 00000000 00:00 0 ")
	if err != nil {
		t.Fatalf("parseMapsLine: %v", err)
	}
	if !ok {
		t.Fatalf("expected region to be kept")
	}
	if r.HostStart != 0x7f1234560000 {
		t.Fatalf("HostStart = 0x%x", r.HostStart)
	}
	if r.Size != 0x1000 {
		t.Fatalf("Size = 0x%x", r.Size)
	}
	if r.Protections != hv.ProtRead|hv.ProtWrite {
		t.Fatalf("Protections = %s", r.Protections)
	}
}

func TestParseMapsLineSkipsNoRead(t *testing.T) {
	_, ok, err := parseMapsLine("7f1234560000-7f1234561000 ---p 00000000 00:00 0 ")
	if err != nil {
		t.Fatalf("parseMapsLine: %v", err)
	}
	if ok {
		t.Fatalf("expected unreadable region to be skipped")
	}
}

func TestIterateSelf(t *testing.T) {
	count := 0
	if err := Iterate(func(Region) error {
		count++
		return nil
	}); err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if count == 0 {
		t.Fatalf("expected at least one mapped region for the test binary itself")
	}
}
