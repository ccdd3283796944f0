package hv

import "fmt"

// VMCSField is a VMCS field encoding, passed through unchanged to
// hv_vmx_vcpu_read_vmcs/hv_vmx_vcpu_write_vmcs on the real backend. Values
// match the Intel SDM's VMCS field-encoding scheme so that they also line
// up with what a hardware VMX implementation expects.
type VMCSField uint32

const (
	// 16-bit guest-state fields.
	VMCS_GUEST_ES_SELECTOR   VMCSField = 0x0800
	VMCS_GUEST_CS_SELECTOR   VMCSField = 0x0802
	VMCS_GUEST_SS_SELECTOR   VMCSField = 0x0804
	VMCS_GUEST_DS_SELECTOR   VMCSField = 0x0806
	VMCS_GUEST_FS_SELECTOR   VMCSField = 0x0808
	VMCS_GUEST_GS_SELECTOR   VMCSField = 0x080a
	VMCS_GUEST_LDTR_SELECTOR VMCSField = 0x080c
	VMCS_GUEST_TR_SELECTOR   VMCSField = 0x080e

	// 64-bit guest-state fields.
	VMCS_GUEST_IA32_EFER VMCSField = 0x2806

	// 32-bit control fields.
	VMCS_CTRL_PIN_BASED              VMCSField = 0x4000
	VMCS_CTRL_CPU_BASED              VMCSField = 0x4002
	VMCS_CTRL_EXCEPTION_BITMAP       VMCSField = 0x4004
	VMCS_CTRL_VMEXIT_CONTROLS        VMCSField = 0x400c
	VMCS_CTRL_VMENTRY_CONTROLS       VMCSField = 0x4012
	VMCS_CTRL_VMENTRY_INSTR_LEN      VMCSField = 0x401a
	VMCS_CTRL_CPU_BASED2             VMCSField = 0x401e

	// 32-bit read-only data fields.
	VMCS_RO_EXIT_REASON       VMCSField = 0x4402
	VMCS_RO_VMEXIT_INSTR_LEN  VMCSField = 0x440c

	// 32-bit guest-state fields.
	VMCS_GUEST_ES_LIMIT            VMCSField = 0x4800
	VMCS_GUEST_CS_LIMIT            VMCSField = 0x4802
	VMCS_GUEST_SS_LIMIT            VMCSField = 0x4804
	VMCS_GUEST_DS_LIMIT            VMCSField = 0x4806
	VMCS_GUEST_FS_LIMIT            VMCSField = 0x4808
	VMCS_GUEST_GS_LIMIT            VMCSField = 0x480a
	VMCS_GUEST_LDTR_LIMIT          VMCSField = 0x480c
	VMCS_GUEST_TR_LIMIT            VMCSField = 0x480e
	VMCS_GUEST_GDTR_LIMIT          VMCSField = 0x4810
	VMCS_GUEST_IDTR_LIMIT          VMCSField = 0x4812
	VMCS_GUEST_ES_AR               VMCSField = 0x4814
	VMCS_GUEST_CS_AR               VMCSField = 0x4816
	VMCS_GUEST_SS_AR               VMCSField = 0x4818
	VMCS_GUEST_DS_AR               VMCSField = 0x481a
	VMCS_GUEST_FS_AR               VMCSField = 0x481c
	VMCS_GUEST_GS_AR               VMCSField = 0x481e
	VMCS_GUEST_LDTR_AR             VMCSField = 0x4820
	VMCS_GUEST_TR_AR               VMCSField = 0x4822
	VMCS_GUEST_IA32_SYSENTER_CS    VMCSField = 0x482a

	// Natural-width control fields.
	VMCS_CTRL_CR0_MASK   VMCSField = 0x6000
	VMCS_CTRL_CR4_MASK   VMCSField = 0x6002
	VMCS_CTRL_CR0_SHADOW VMCSField = 0x6004
	VMCS_CTRL_CR4_SHADOW VMCSField = 0x6006

	// Natural-width read-only data fields.
	VMCS_RO_EXIT_QUALIFIC VMCSField = 0x6400

	// Natural-width guest-state fields.
	VMCS_GUEST_CR0                  VMCSField = 0x6800
	VMCS_GUEST_CR3                  VMCSField = 0x6802
	VMCS_GUEST_CR4                  VMCSField = 0x6804
	VMCS_GUEST_ES_BASE              VMCSField = 0x6806
	VMCS_GUEST_CS_BASE               VMCSField = 0x6808
	VMCS_GUEST_SS_BASE              VMCSField = 0x680a
	VMCS_GUEST_DS_BASE              VMCSField = 0x680c
	VMCS_GUEST_FS_BASE              VMCSField = 0x680e
	VMCS_GUEST_GS_BASE              VMCSField = 0x6810
	VMCS_GUEST_LDTR_BASE            VMCSField = 0x6812
	VMCS_GUEST_TR_BASE              VMCSField = 0x6814
	VMCS_GUEST_GDTR_BASE            VMCSField = 0x6816
	VMCS_GUEST_IDTR_BASE            VMCSField = 0x6818
	VMCS_GUEST_RSP                  VMCSField = 0x681c
	VMCS_GUEST_RIP                  VMCSField = 0x681e
	VMCS_GUEST_RFLAGS               VMCSField = 0x6820
	VMCS_GUEST_IA32_SYSENTER_ESP    VMCSField = 0x6824
	VMCS_GUEST_IA32_SYSENTER_EIP    VMCSField = 0x6826
)

// VM-entry/exit and processor-based control bits used by VcpuBootstrap and
// ExitLoop. Only the bits this core actually sets or reads are named.
const (
	PIN_BASED_EXTERNAL_INTERRUPT_EXITING uint64 = 1 << 0

	VMENTRY_CTRL_IA32E_GUEST uint64 = 1 << 9

	CPU_BASED_HLT_EXITING       uint64 = 1 << 7
	CPU_BASED_CR8_LOAD_EXITING  uint64 = 1 << 19
	CPU_BASED_CR8_STORE_EXITING uint64 = 1 << 20
	CPU_BASED_ACTIVATE_SECONDARY_CONTROLS uint64 = 1 << 31

	CPU_BASED2_RDTSCP_ENABLE uint64 = 1 << 3

	EXCEPTION_BITMAP_MC uint64 = 1 << 18
)

// ExitReason enumerates the VM-exit reasons ExitLoop knows how to dispatch
// on. Values match the Intel SDM basic exit reason encoding.
type ExitReason uint32

const (
	ExitReasonExceptionNMI   ExitReason = 0
	ExitReasonExternalInt    ExitReason = 1
	ExitReasonHLT            ExitReason = 12
	ExitReasonCRAccess       ExitReason = 28
	ExitReasonRDMSR          ExitReason = 31
	ExitReasonWRMSR          ExitReason = 32
	ExitReasonEPTViolation   ExitReason = 48
)

func (r ExitReason) String() string {
	switch r {
	case ExitReasonExceptionNMI:
		return "exception-or-nmi"
	case ExitReasonExternalInt:
		return "external-interrupt"
	case ExitReasonHLT:
		return "hlt"
	case ExitReasonCRAccess:
		return "cr-access"
	case ExitReasonRDMSR:
		return "rdmsr"
	case ExitReasonWRMSR:
		return "wrmsr"
	case ExitReasonEPTViolation:
		return "ept-violation"
	default:
		return fmt.Sprintf("reason(%d)", uint32(r))
	}
}
