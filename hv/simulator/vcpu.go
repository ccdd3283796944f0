package simulator

import (
	"fmt"
	"sync"

	"github.com/akaros/vmm-akaros/hv"
)

type eventKind int

const (
	eventHLT eventKind = iota
	eventRDMSR
	eventWRMSR
	eventCRAccess
	eventExternalInterrupt
	eventEPTViolation
)

type event struct {
	kind eventKind

	msrIndex uint32
	wrEDX    uint32
	wrEAX    uint32

	crNumber    uint8
	crType      hv.CRAccessType
	crReg       hv.Register
	crMoveToVal uint64
}

// VCPU is the simulator's implementation of hv.VCPU. It never executes
// real machine code; the first Run looks up the registered program for
// the entry RIP written by VcpuBootstrap and runs it as a goroutine that
// communicates exit requests back through the events channel.
type VCPU struct {
	hv *Hypervisor

	mu   sync.Mutex
	vmcs map[hv.VMCSField]uint64
	regs map[hv.Register]uint64

	nativeMSR map[uint32]bool

	events  chan event
	resume  chan struct{}
	started bool
}

func (v *VCPU) ReadVMCS(field hv.VMCSField) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.vmcs[field], nil
}

func (v *VCPU) WriteVMCS(field hv.VMCSField, value uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.vmcs[field] = value
	return nil
}

func (v *VCPU) ReadRegister(reg hv.Register) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.regs[reg], nil
}

func (v *VCPU) WriteRegister(reg hv.Register, value uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.regs[reg] = value
	return nil
}

func (v *VCPU) EnableNativeMSR(index uint32, enable bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nativeMSR[index] = enable
	return nil
}

func (v *VCPU) Destroy() error {
	return nil
}

// Run blocks until the guest goroutine raises its next simulated VM-exit.
func (v *VCPU) Run() error {
	v.mu.Lock()
	resume := v.resume
	v.resume = nil
	started := v.started
	v.mu.Unlock()

	if resume != nil {
		close(resume)
	}

	if !started {
		rip, _ := v.ReadVMCS(hv.VMCS_GUEST_RIP)
		v.hv.mu.Lock()
		program, ok := v.hv.programs[rip]
		v.hv.mu.Unlock()
		if !ok {
			return fmt.Errorf("simulator: no program registered for entry 0x%x", rip)
		}
		v.mu.Lock()
		v.started = true
		v.mu.Unlock()
		go func() {
			program(&Guest{vcpu: v})
			close(v.events)
		}()
	}

	e, ok := <-v.events
	if !ok {
		return fmt.Errorf("simulator: guest goroutine exited without HLT")
	}
	v.applyExitState(e)
	return nil
}

func (v *VCPU) applyExitState(e event) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.vmcs[hv.VMCS_RO_VMEXIT_INSTR_LEN] = 1

	switch e.kind {
	case eventHLT:
		v.vmcs[hv.VMCS_RO_EXIT_REASON] = uint64(hv.ExitReasonHLT)
	case eventExternalInterrupt:
		v.vmcs[hv.VMCS_RO_EXIT_REASON] = uint64(hv.ExitReasonExternalInt)
	case eventEPTViolation:
		v.vmcs[hv.VMCS_RO_EXIT_REASON] = uint64(hv.ExitReasonEPTViolation)
		v.vmcs[hv.VMCS_RO_EXIT_QUALIFIC] = 0
	case eventRDMSR:
		v.vmcs[hv.VMCS_RO_EXIT_REASON] = uint64(hv.ExitReasonRDMSR)
		v.regs[hv.RegRCX] = uint64(e.msrIndex)
	case eventWRMSR:
		v.vmcs[hv.VMCS_RO_EXIT_REASON] = uint64(hv.ExitReasonWRMSR)
		v.regs[hv.RegRCX] = uint64(e.msrIndex)
		v.regs[hv.RegRDX] = uint64(e.wrEDX)
		v.regs[hv.RegRAX] = uint64(e.wrEAX)
	case eventCRAccess:
		v.vmcs[hv.VMCS_RO_EXIT_REASON] = uint64(hv.ExitReasonCRAccess)
		v.vmcs[hv.VMCS_RO_EXIT_QUALIFIC] = hv.EncodeCRAccessQualification(e.crNumber, e.crType, e.crReg)
		if e.crType == hv.CRAccessMoveToCR {
			v.regs[e.crReg] = e.crMoveToVal
		}
	}
}

// sendAndWait delivers an exit event to Run and blocks the calling (guest)
// goroutine until the host has processed it and called Run again.
func (v *VCPU) sendAndWait(e event) {
	done := make(chan struct{})
	v.mu.Lock()
	v.resume = done
	v.mu.Unlock()
	v.events <- e
	<-done
}
