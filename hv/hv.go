// Package hv describes the hypervisor capability surface that the core
// consumes: VM/vCPU lifecycle, VMCS and register access, host<->guest
// memory mapping, capability queries, and per-core MSR access. Nothing in
// this package performs virtualization itself; concrete backends live in
// sibling packages (hvf for the real Hypervisor.framework/VMX backend,
// simulator for tests).
package hv

import "errors"

// ErrHypervisorUnsupported is returned by a backend's Open when the host
// platform has no usable hardware-virtualization facility.
var ErrHypervisorUnsupported = errors.New("hv: hypervisor not supported on this platform")

// Protection describes the access rights requested for a host<->guest
// memory mapping.
type Protection uint8

const (
	ProtRead Protection = 1 << iota
	ProtWrite
	ProtExec
)

func (p Protection) String() string {
	s := [3]byte{'-', '-', '-'}
	if p&ProtRead != 0 {
		s[0] = 'r'
	}
	if p&ProtWrite != 0 {
		s[1] = 'w'
	}
	if p&ProtExec != 0 {
		s[2] = 'x'
	}
	return string(s[:])
}

// Register identifies a general-purpose or architectural register that can
// be read/written outside of the VMCS (the VMCS exposes RIP/RSP/RFLAGS too,
// but the GPRs used for instruction operands are reached through this
// narrower surface, matching how Hypervisor.framework splits hv_vmx_vcpu_*
// register access from hv_vcpu_read/write_register).
type Register uint32

const (
	RegRAX Register = iota
	RegRBX
	RegRCX
	RegRDX
	RegRSI
	RegRDI
	RegRBP
	RegRSP
	RegR8
	RegR9
	RegR10
	RegR11
	RegR12
	RegR13
	RegR14
	RegR15
	RegRIP
	RegRFLAGS
)

// Hypervisor is a per-process handle to the hardware-virtualization
// primitive. The core creates exactly one of these in vth_init and treats
// it as shared, read-only state afterward (aside from per-vCPU creation).
type Hypervisor interface {
	// CreateVCPU creates a new vCPU bound to the calling OS thread. The
	// primitive requires every subsequent operation on the returned VCPU to
	// happen from this same thread, so callers must invoke CreateVCPU from
	// the thread that will own the vCPU for its lifetime (runtime.LockOSThread).
	CreateVCPU() (VCPU, error)

	// Map installs a host-virtual range into guest-physical space with the
	// given protection. len must be a whole number of pages.
	Map(hostPtr uintptr, guestPhys uint64, len uint64, prot Protection) error

	// Unmap removes a previously-installed guest-physical mapping.
	Unmap(guestPhys uint64, len uint64) error

	// ReadCapability reads one of the fixed VMX capability MSRs describing
	// which control bits the host CPU supports for a given control field.
	ReadCapability(which CapabilityField) (allowed0, allowed1 uint64, err error)

	// ReadHostMSR / WriteHostMSR access a model-specific register on a
	// specific host core, used by MsrTable's PassThrough/ReadOnly/MustMatch
	// policies. core identifies the physical core the owning vCPU is pinned
	// to (VcpuState.CoreIndex).
	ReadHostMSR(core int, index uint32) (uint64, error)
	WriteHostMSR(core int, index uint32, value uint64) error

	// Close tears down the VM. The primitive permits at most one live VM
	// per process; Close must be called before a second Hypervisor can be
	// created in the same process.
	Close() error
}

// CapabilityField names one of the five VMX control fields whose allowed
// bit values are queried via ReadCapability.
type CapabilityField int

const (
	CapabilityPinBased CapabilityField = iota
	CapabilityProcBased
	CapabilityProcBased2
	CapabilityEntry
	CapabilityExit
)

// VCPU is a single guest virtual CPU, bound for its entire lifetime to the
// OS thread that created it via Hypervisor.CreateVCPU.
type VCPU interface {
	// Run resumes the guest and blocks until the next VM-exit. On return,
	// the exit reason and qualification are available via ReadVMCS.
	Run() error

	ReadVMCS(field VMCSField) (uint64, error)
	WriteVMCS(field VMCSField, value uint64) error

	ReadRegister(reg Register) (uint64, error)
	WriteRegister(reg Register, value uint64) error

	// EnableNativeMSR toggles hardware pass-through for an MSR index: reads
	// and writes of the index by the guest are serviced directly by the
	// CPU without causing a VM-exit.
	EnableNativeMSR(index uint32, enable bool) error

	// Destroy releases the vCPU. Must be called from the owning thread.
	Destroy() error
}
