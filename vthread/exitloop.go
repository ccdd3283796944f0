package vthread

import (
	"github.com/akaros/vmm-akaros/hv"
	"github.com/akaros/vmm-akaros/msr"
)

// ExitLoop runs vs's vCPU until it halts or hits an exit this core does
// not know how to service. Returns nil on a clean HLT, or the terminating
// error (an *UnhandledExitError or an *msr.ViolationError/*msr.UnhandledError)
// otherwise. Calls into the hypervisor primitive that fail are treated as
// programmer error and panic via mustOK, per the core's fatal/abort class.
func ExitLoop(vs *VcpuState) error {
	v := vs.VCPU

	for {
		mustOK("Run", v.Run())
		vs.record.Record(timesliceGuestRun)

		reasonRaw, err := v.ReadVMCS(hv.VMCS_RO_EXIT_REASON)
		mustOK("ReadVMCS(EXIT_REASON)", err)
		reason := hv.ExitReason(reasonRaw)
		qual, err := v.ReadVMCS(hv.VMCS_RO_EXIT_QUALIFIC)
		mustOK("ReadVMCS(EXIT_QUALIFIC)", err)
		vs.debug.Writef("exit reason=%s qualification=%#x", reason, qual)

		var (
			advanceRIP = true
			termErr    error
		)

		switch reason {
		case hv.ExitReasonHLT:
			return nil

		case hv.ExitReasonExternalInt:
			advanceRIP = false

		case hv.ExitReasonEPTViolation:
			// No fault-in path exists: AddressSpace pre-maps everything
			// present at init time, so a fault here means the guest
			// touched a host region that did not exist yet when the
			// address space was built. Logged and re-entered as
			// spurious, per the known limitation this design accepts.
			vs.debug.Writef("ept violation, re-entering (known limitation, no fault-in path)")

		case hv.ExitReasonCRAccess:
			termErr = dispatchCRAccess(vs)

		case hv.ExitReasonRDMSR:
			termErr = dispatchRDMSR(vs)

		case hv.ExitReasonWRMSR:
			termErr = dispatchWRMSR(vs)

		default:
			termErr = &UnhandledExitError{Reason: reason.String()}
		}

		if termErr != nil {
			return termErr
		}

		if advanceRIP {
			advanceGuestRIP(v)
		}
		vs.record.Record(timesliceExitDispatch)
	}
}

func advanceGuestRIP(v hv.VCPU) {
	instrLen, err := v.ReadVMCS(hv.VMCS_RO_VMEXIT_INSTR_LEN)
	mustOK("ReadVMCS(VMEXIT_INSTR_LEN)", err)
	rip, err := v.ReadVMCS(hv.VMCS_GUEST_RIP)
	mustOK("ReadVMCS(GUEST_RIP)", err)
	mustOK("WriteVMCS(GUEST_RIP)", v.WriteVMCS(hv.VMCS_GUEST_RIP, rip+instrLen))
}

func dispatchCRAccess(vs *VcpuState) error {
	v := vs.VCPU

	qual, err := v.ReadVMCS(hv.VMCS_RO_EXIT_QUALIFIC)
	mustOK("ReadVMCS(EXIT_QUALIFIC)", err)
	q := hv.DecodeCRAccessQualification(qual)

	if q.Type != hv.CRAccessMoveToCR || (q.CRNumber != 0 && q.CRNumber != 4) {
		return &UnhandledExitError{Reason: "unsupported CR access"}
	}

	value, err := v.ReadRegister(q.SourceReg)
	mustOK("ReadRegister(source)", err)

	switch q.CRNumber {
	case 0:
		mustOK("WriteVMCS(CR0_SHADOW)", v.WriteVMCS(hv.VMCS_CTRL_CR0_SHADOW, value))
		mustOK("WriteVMCS(GUEST_CR0)", v.WriteVMCS(hv.VMCS_GUEST_CR0, value))

		efer, err := v.ReadVMCS(hv.VMCS_GUEST_IA32_EFER)
		mustOK("ReadVMCS(EFER)", err)
		if value&cr0PG != 0 && efer&eferLME != 0 && efer&eferLMA == 0 {
			mustOK("WriteVMCS(EFER)", v.WriteVMCS(hv.VMCS_GUEST_IA32_EFER, efer|eferLMA))
			entryCtrl, err := v.ReadVMCS(hv.VMCS_CTRL_VMENTRY_CONTROLS)
			mustOK("ReadVMCS(VMENTRY_CONTROLS)", err)
			mustOK("WriteVMCS(VMENTRY_CONTROLS)", v.WriteVMCS(hv.VMCS_CTRL_VMENTRY_CONTROLS, entryCtrl|hv.VMENTRY_CTRL_IA32E_GUEST))
		}

	case 4:
		mustOK("WriteVMCS(CR4_SHADOW)", v.WriteVMCS(hv.VMCS_CTRL_CR4_SHADOW, value))
		mustOK("WriteVMCS(GUEST_CR4)", v.WriteVMCS(hv.VMCS_GUEST_CR4, value))
	}

	return nil
}

func dispatchRDMSR(vs *VcpuState) error {
	v := vs.VCPU

	index, err := v.ReadRegister(hv.RegRCX)
	mustOK("ReadRegister(RCX)", err)

	var value uint64
	if uint32(index) == msr.IA32_EFER {
		value, err = v.ReadVMCS(hv.VMCS_GUEST_IA32_EFER)
		mustOK("ReadVMCS(EFER)", err)
	} else {
		var hErr error
		value, hErr = vs.MsrTable.HandleRDMSR(vs.Hypervisor, vs.CoreIndex, uint32(index))
		if hErr != nil {
			return hErr
		}
	}

	mustOK("WriteRegister(RAX)", v.WriteRegister(hv.RegRAX, value&0xffffffff))
	mustOK("WriteRegister(RDX)", v.WriteRegister(hv.RegRDX, value>>32))
	return nil
}

func dispatchWRMSR(vs *VcpuState) error {
	v := vs.VCPU

	index, err := v.ReadRegister(hv.RegRCX)
	mustOK("ReadRegister(RCX)", err)
	eax, err := v.ReadRegister(hv.RegRAX)
	mustOK("ReadRegister(RAX)", err)
	edx, err := v.ReadRegister(hv.RegRDX)
	mustOK("ReadRegister(RDX)", err)
	value := (edx << 32) | (eax & 0xffffffff)

	if uint32(index) == msr.IA32_EFER {
		mustOK("WriteVMCS(EFER)", v.WriteVMCS(hv.VMCS_GUEST_IA32_EFER, value))
		return nil
	}

	return vs.MsrTable.HandleWRMSR(vs.Hypervisor, vs.CoreIndex, uint32(index), value)
}
