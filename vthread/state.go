// Package vthread implements the vthread lifecycle: per-vCPU
// architectural state, the bootstrap routine that enters 64-bit long
// mode, the VM-exit dispatch loop, and the public create/join surface.
package vthread

import (
	"strconv"

	"github.com/akaros/vmm-akaros/addrspace"
	"github.com/akaros/vmm-akaros/internal/debug"
	"github.com/akaros/vmm-akaros/internal/timeslice"
	"github.com/akaros/vmm-akaros/hv"
	"github.com/akaros/vmm-akaros/msr"
)

var (
	timesliceGuestRun     = timeslice.RegisterKind("guest_run", timeslice.SliceFlagGuestTime)
	timesliceExitDispatch = timeslice.RegisterKind("exit_dispatch", 0)
)

// VcpuState is the per-vthread architectural state container: the vCPU
// handle, its private MSR table, a reference to the shared AddressSpace,
// and the guest stack this vCPU alone owns.
type VcpuState struct {
	VCPU       hv.VCPU
	CoreIndex  int
	MsrTable   *msr.Table
	AddrSpace  *addrspace.AddressSpace
	Hypervisor hv.Hypervisor
	Stack      *addrspace.GuestStack

	debug  debug.Debug
	record *timeslice.Recorder
}

// NewVcpuState creates the per-vCPU state a fresh vthread needs. coreIndex
// identifies which host core's per-core MSR slot HandleRDMSR/HandleWRMSR
// should address; it is the caller's responsibility to pin the owning OS
// thread to that core if the backend requires it.
func NewVcpuState(vcpu hv.VCPU, hyp hv.Hypervisor, as *addrspace.AddressSpace, coreIndex int, stack *addrspace.GuestStack) *VcpuState {
	return &VcpuState{
		VCPU:       vcpu,
		CoreIndex:  coreIndex,
		MsrTable:   msr.NewTable(),
		AddrSpace:  as,
		Hypervisor: hyp,
		Stack:      stack,
		debug:      debug.WithSource(vcpuDebugSource(coreIndex)),
		record:     timeslice.NewRecorder(),
	}
}

func vcpuDebugSource(coreIndex int) string {
	return "vcpu" + strconv.Itoa(coreIndex)
}
