package simulator

import "github.com/akaros/vmm-akaros/hv"

// Guest is handed to a registered program; its methods stand in for the
// privileged instructions a real guest would execute, each one raising the
// VM-exit a real CPU would raise and blocking until the simulated host has
// resumed it. Ordinary memory reads/writes need none of this plumbing:
// since the simulator's "guest" is just another goroutine in the same
// process, a program can read or write host memory directly.
type Guest struct {
	vcpu *VCPU
}

// HLT raises a terminal VM-exit. It never returns, matching real hardware:
// once the host observes HLT it does not resume the vCPU.
func (g *Guest) HLT() {
	g.vcpu.sendAndWait(event{kind: eventHLT})
	select {}
}

// RDMSR raises an RDMSR VM-exit for index and returns the EDX:EAX value
// the host's MsrTable delivered.
func (g *Guest) RDMSR(index uint32) (edx, eax uint32) {
	g.vcpu.sendAndWait(event{kind: eventRDMSR, msrIndex: index})
	edx = uint32(g.vcpu.regs[hv.RegRDX])
	eax = uint32(g.vcpu.regs[hv.RegRAX])
	return
}

// WRMSR raises a WRMSR VM-exit writing edx:eax to index.
func (g *Guest) WRMSR(index uint32, edx, eax uint32) {
	g.vcpu.sendAndWait(event{kind: eventWRMSR, msrIndex: index, wrEDX: edx, wrEAX: eax})
}

// MoveToCR raises a CR-access VM-exit moving value into register crNumber
// via the named source register.
func (g *Guest) MoveToCR(crNumber uint8, via hv.Register, value uint64) {
	g.vcpu.sendAndWait(event{
		kind:        eventCRAccess,
		crNumber:    crNumber,
		crType:      hv.CRAccessMoveToCR,
		crReg:       via,
		crMoveToVal: value,
	})
}

// ExternalInterrupt raises an external-interrupt VM-exit.
func (g *Guest) ExternalInterrupt() {
	g.vcpu.sendAndWait(event{kind: eventExternalInterrupt})
}

// EPTViolation raises an EPT-violation VM-exit.
func (g *Guest) EPTViolation() {
	g.vcpu.sendAndWait(event{kind: eventEPTViolation})
}
