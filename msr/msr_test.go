package msr

import (
	"errors"
	"testing"
)

type fakeHost struct {
	values map[uint32]uint64
}

func (f *fakeHost) ReadHostMSR(core int, index uint32) (uint64, error) {
	return f.values[index], nil
}

func (f *fakeHost) WriteHostMSR(core int, index uint32, value uint64) error {
	f.values[index] = value
	return nil
}

func newFakeHost() *fakeHost {
	return &fakeHost{values: map[uint32]uint64{
		MSR_RAPL_POWER_UNIT: 0xdead, // policy forces 0 regardless
		IA32_MISC_ENABLE:    0x850089,
	}}
}

func TestReadZeroMSR(t *testing.T) {
	tbl := NewTable()
	host := newFakeHost()

	v, err := tbl.HandleRDMSR(host, 0, MSR_RAPL_POWER_UNIT)
	if err != nil {
		t.Fatalf("HandleRDMSR: %v", err)
	}
	if v != 0 {
		t.Fatalf("expected 0, got 0x%x", v)
	}

	err = tbl.HandleWRMSR(host, 0, MSR_RAPL_POWER_UNIT, 1)
	var violation *ViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected ViolationError, got %v", err)
	}
}

func TestFakeWriteRoundTrip(t *testing.T) {
	tbl := NewTable()
	host := newFakeHost()

	const want uint64 = 0xdeadbeef<<32 | 0xcafebabe
	if err := tbl.HandleWRMSR(host, 0, IA32_APICBASE, want); err != nil {
		t.Fatalf("HandleWRMSR: %v", err)
	}
	got, err := tbl.HandleRDMSR(host, 0, IA32_APICBASE)
	if err != nil {
		t.Fatalf("HandleRDMSR: %v", err)
	}
	if got != want {
		t.Fatalf("got 0x%x, want 0x%x", got, want)
	}
}

func TestFakeWriteIsPerTable(t *testing.T) {
	host := newFakeHost()
	a := NewTable()
	b := NewTable()

	if err := a.HandleWRMSR(host, 0, IA32_APICBASE, 0x1234); err != nil {
		t.Fatalf("HandleWRMSR: %v", err)
	}
	got, err := b.HandleRDMSR(host, 0, IA32_APICBASE)
	if err != nil {
		t.Fatalf("HandleRDMSR: %v", err)
	}
	if got == 0x1234 {
		t.Fatalf("table b observed table a's cached write; tables must not be shared")
	}
}

func TestVMXCapabilityMSRIsFakeWrite(t *testing.T) {
	tbl := NewTable()
	host := newFakeHost()
	host.values[IA32_VMX_BASIC] = 0xdeadbeef

	const want uint64 = 0x1122334455667788
	if err := tbl.HandleWRMSR(host, 0, IA32_VMX_BASIC, want); err != nil {
		t.Fatalf("HandleWRMSR: %v", err)
	}
	got, err := tbl.HandleRDMSR(host, 0, IA32_VMX_BASIC)
	if err != nil {
		t.Fatalf("HandleRDMSR: %v", err)
	}
	if got != want {
		t.Fatalf("got 0x%x, want 0x%x", got, want)
	}
	if host.values[IA32_VMX_BASIC] != 0xdeadbeef {
		t.Fatalf("FakeWrite must not touch the host MSR, host value = 0x%x", host.values[IA32_VMX_BASIC])
	}
}

func TestMustMatchMismatchTerminates(t *testing.T) {
	tbl := NewTable()
	host := newFakeHost()
	// No builtin MSR uses MustMatch, so exercise the policy with a synthetic entry.
	tbl.entries[0x999] = &Entry{Index: 0x999, Name: "TEST_MUST_MATCH", Policy: MustMatch}
	host.values[0x999] = 42

	if err := tbl.HandleWRMSR(host, 0, 0x999, 42); err != nil {
		t.Fatalf("matching write should succeed: %v", err)
	}
	err := tbl.HandleWRMSR(host, 0, 0x999, 43)
	var violation *ViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected ViolationError for mismatched write, got %v", err)
	}
}

func TestMiscEnableOrsInPebsUnavail(t *testing.T) {
	tbl := NewTable()
	host := newFakeHost()

	v, err := tbl.HandleRDMSR(host, 0, IA32_MISC_ENABLE)
	if err != nil {
		t.Fatalf("HandleRDMSR: %v", err)
	}
	if v&miscEnablePebsUnavail == 0 {
		t.Fatalf("expected PEBS_UNAVAIL bit set, got 0x%x", v)
	}
}

func TestUnhandledMSRTerminates(t *testing.T) {
	tbl := NewTable()
	host := newFakeHost()

	_, err := tbl.HandleRDMSR(host, 0, 0xffffffff)
	var unhandled *UnhandledError
	if !errors.As(err, &unhandled) {
		t.Fatalf("expected UnhandledError, got %v", err)
	}
}

func TestPassThroughIdempotence(t *testing.T) {
	tbl := NewTable()
	host := newFakeHost()
	host.values[IA32_SYSENTER_CS] = 0x33

	a, err := tbl.HandleRDMSR(host, 0, IA32_SYSENTER_CS)
	if err != nil {
		t.Fatalf("HandleRDMSR: %v", err)
	}
	b, err := tbl.HandleRDMSR(host, 0, IA32_SYSENTER_CS)
	if err != nil {
		t.Fatalf("HandleRDMSR: %v", err)
	}
	if a != b {
		t.Fatalf("expected idempotent reads for a static PassThrough MSR, got 0x%x then 0x%x", a, b)
	}
}
