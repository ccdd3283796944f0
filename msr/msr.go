// Package msr implements the model-specific-register emulation table: a
// per-vCPU registry mapping MSR indices to emulation policies, consulted by
// ExitLoop on every RDMSR/WRMSR VM-exit.
package msr

import (
	"fmt"
)

// Policy is the emulation strategy applied to one MSR index.
type Policy int

const (
	PassThrough Policy = iota
	ReadZero
	ReadOnly
	MustMatch
	FakeWrite
	MiscEnable
	LapicTimerVector
	LapicInitialCount
)

func (p Policy) String() string {
	switch p {
	case PassThrough:
		return "pass-through"
	case ReadZero:
		return "read-zero"
	case ReadOnly:
		return "read-only"
	case MustMatch:
		return "must-match"
	case FakeWrite:
		return "fake-write"
	case MiscEnable:
		return "misc-enable"
	case LapicTimerVector:
		return "lapic-timer-vector"
	case LapicInitialCount:
		return "lapic-initial-count"
	default:
		return "unknown"
	}
}

// miscEnablePebsUnavail is bit 12 of IA32_MISC_ENABLE.
const miscEnablePebsUnavail uint64 = 1 << 12

// Entry is one row of the table. CachedValue/Written are mutated only by
// FakeWrite and the two LAPIC policies, and only from the owning vCPU's
// thread: each vCPU must own its own Table, never a shared one.
type Entry struct {
	Index       uint32
	Name        string
	Policy      Policy
	CachedValue uint64
	Written     bool
}

// ViolationError is returned when a guest write violates an MSR's policy
// (write to ReadOnly/ReadZero, or a mismatched MustMatch/MiscEnable write).
// Per the core's error design this terminates the owning vthread; it is
// not a process-fatal error.
type ViolationError struct {
	Index uint32
	Name  string
	Op    string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("msr: policy violation on %s (0x%x): %s", e.Name, e.Index, e.Op)
}

// UnhandledError is returned when the guest touches an MSR index absent
// from the table. Per §7 this also terminates the vthread, with reason
// UnhandledExit rather than MsrViolation.
type UnhandledError struct {
	Index uint32
}

func (e *UnhandledError) Error() string {
	return fmt.Sprintf("msr: no table entry for index 0x%x", e.Index)
}

// Table is a vCPU's private copy of the MSR emulation registry.
type Table struct {
	entries map[uint32]*Entry
}

// NewTable returns a fresh table seeded from the built-in registry. Every
// vCPU must call this itself; sharing a *Table between vCPUs is the latent
// bug the core specifically designs around.
func NewTable() *Table {
	t := &Table{entries: make(map[uint32]*Entry, len(builtinEntries))}
	for _, e := range builtinEntries {
		cp := e
		t.entries[e.Index] = &cp
	}
	return t
}

// Lookup returns the entry for index, if the table carries one.
func (t *Table) Lookup(index uint32) (*Entry, bool) {
	e, ok := t.entries[index]
	return e, ok
}

// Snapshot copies the live entries for diagnostics, e.g. after a vthread
// terminates with an MsrViolation.
func (t *Table) Snapshot() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	return out
}

// HostMSR is the subset of hv.Hypervisor the table needs to service
// PassThrough/ReadOnly/MustMatch/MiscEnable policies.
type HostMSR interface {
	ReadHostMSR(core int, index uint32) (uint64, error)
	WriteHostMSR(core int, index uint32, value uint64) error
}

// HandleRDMSR services an RDMSR VM-exit for the given MSR index, returning
// the 64-bit value to deliver as EDX:EAX (high:low).
func (t *Table) HandleRDMSR(host HostMSR, core int, index uint32) (uint64, error) {
	e, ok := t.entries[index]
	if !ok {
		return 0, &UnhandledError{Index: index}
	}
	switch e.Policy {
	case PassThrough, ReadOnly, MustMatch:
		return host.ReadHostMSR(core, index)
	case ReadZero:
		return 0, nil
	case MiscEnable:
		v, err := host.ReadHostMSR(core, index)
		if err != nil {
			return 0, err
		}
		return v | miscEnablePebsUnavail, nil
	case FakeWrite, LapicTimerVector, LapicInitialCount:
		if e.Written {
			return e.CachedValue, nil
		}
		return host.ReadHostMSR(core, index)
	default:
		return 0, &UnhandledError{Index: index}
	}
}

// HandleWRMSR services a WRMSR VM-exit, value being the EDX:EAX the guest
// presented (assembled as high<<32|low by the caller).
func (t *Table) HandleWRMSR(host HostMSR, core int, index uint32, value uint64) error {
	e, ok := t.entries[index]
	if !ok {
		return &UnhandledError{Index: index}
	}
	switch e.Policy {
	case PassThrough:
		return host.WriteHostMSR(core, index, value)
	case ReadZero:
		return &ViolationError{Index: index, Name: e.Name, Op: "write to read-zero MSR"}
	case ReadOnly:
		return &ViolationError{Index: index, Name: e.Name, Op: "write to read-only MSR"}
	case MustMatch:
		hostVal, err := host.ReadHostMSR(core, index)
		if err != nil {
			return err
		}
		if value != hostVal {
			return &ViolationError{Index: index, Name: e.Name, Op: "mismatched must-match write"}
		}
		return nil
	case MiscEnable:
		hostVal, err := host.ReadHostMSR(core, index)
		if err != nil {
			return err
		}
		if value != hostVal {
			return &ViolationError{Index: index, Name: e.Name, Op: "mismatched misc-enable write"}
		}
		return nil
	case FakeWrite, LapicTimerVector, LapicInitialCount:
		e.CachedValue = value
		e.Written = true
		return nil
	default:
		return &UnhandledError{Index: index}
	}
}
