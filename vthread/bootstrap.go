package vthread

import (
	"fmt"

	"github.com/akaros/vmm-akaros/hv"
	"github.com/akaros/vmm-akaros/msr"
)

// Segment selector/access-rights constants for the flat code/data model
// VcpuBootstrap installs. AR values match the Intel SDM's packed
// access-rights byte layout (type, S, DPL, P, AVL, L, D/B, G).
const (
	segSelectorCode = 0x10
	segSelectorData = 0x18
	segARCode64     = 0xa09b
	segARData       = 0xc093
	segARLDTR       = 0x82
	segARTR         = 0x8b

	segLimitFlat  = 0xffffffff
	segLimitLDTR  = 0xffff
	segLimitTR    = 0xffff
	gdtrLimit     = 0x17
	gdtrBase      = 0xfe0

	cr0PE uint64 = 1 << 0
	cr0ET uint64 = 1 << 4
	cr0NE uint64 = 1 << 5
	cr0PG uint64 = 1 << 31

	cr4VMXE uint64 = 1 << 13
	cr4PAE  uint64 = 1 << 5

	eferLME uint64 = 1 << 8
	eferLMA uint64 = 1 << 10

	rflagsReserved uint64 = 0x2

	guestStackPages = 8
)

// BootstrapConfig carries everything VcpuBootstrap needs beyond the
// VcpuState itself: the host entry point the guest wakes up running, and
// an optional override of the exception bitmap (supplementing the fixed
// #MC-only default with additional intercepted vectors a scenario wants
// to observe).
type BootstrapConfig struct {
	Entry           uint64
	Arg             uint64
	ExceptionBitmap uint64 // 0 means "use the default (#MC only)"
}

// VcpuBootstrap programs the VMCS so the guest wakes up in 64-bit long
// mode at cfg.Entry, with RDI holding cfg.Arg (the System V AMD64 calling
// convention's first integer argument register), running on a freshly
// allocated identity-mapped stack. Called exactly once per vCPU, before
// the first call to ExitLoop's Run.
func VcpuBootstrap(vs *VcpuState, cfg BootstrapConfig) error {
	v := vs.VCPU

	writes := []struct {
		field hv.VMCSField
		val   uint64
	}{
		{hv.VMCS_GUEST_CS_SELECTOR, segSelectorCode},
		{hv.VMCS_GUEST_CS_AR, segARCode64},
		{hv.VMCS_GUEST_CS_LIMIT, segLimitFlat},
		{hv.VMCS_GUEST_CS_BASE, 0},

		{hv.VMCS_GUEST_DS_SELECTOR, segSelectorData},
		{hv.VMCS_GUEST_DS_AR, segARData},
		{hv.VMCS_GUEST_DS_LIMIT, segLimitFlat},
		{hv.VMCS_GUEST_DS_BASE, 0},

		{hv.VMCS_GUEST_ES_SELECTOR, segSelectorData},
		{hv.VMCS_GUEST_ES_AR, segARData},
		{hv.VMCS_GUEST_ES_LIMIT, segLimitFlat},
		{hv.VMCS_GUEST_ES_BASE, 0},

		{hv.VMCS_GUEST_SS_SELECTOR, segSelectorData},
		{hv.VMCS_GUEST_SS_AR, segARData},
		{hv.VMCS_GUEST_SS_LIMIT, segLimitFlat},
		{hv.VMCS_GUEST_SS_BASE, 0},

		{hv.VMCS_GUEST_FS_SELECTOR, segSelectorData},
		{hv.VMCS_GUEST_FS_AR, segARData},
		{hv.VMCS_GUEST_FS_LIMIT, segLimitFlat},
		{hv.VMCS_GUEST_FS_BASE, 0},

		{hv.VMCS_GUEST_GS_SELECTOR, segSelectorData},
		{hv.VMCS_GUEST_GS_AR, segARData},
		{hv.VMCS_GUEST_GS_LIMIT, segLimitFlat},
		{hv.VMCS_GUEST_GS_BASE, 0},

		{hv.VMCS_GUEST_LDTR_SELECTOR, 0},
		{hv.VMCS_GUEST_LDTR_AR, segARLDTR},
		{hv.VMCS_GUEST_LDTR_LIMIT, segLimitLDTR},
		{hv.VMCS_GUEST_LDTR_BASE, 0},

		{hv.VMCS_GUEST_TR_SELECTOR, 0},
		{hv.VMCS_GUEST_TR_AR, segARTR},
		{hv.VMCS_GUEST_TR_LIMIT, segLimitTR},
		{hv.VMCS_GUEST_TR_BASE, 0},

		{hv.VMCS_GUEST_GDTR_LIMIT, gdtrLimit},
		{hv.VMCS_GUEST_GDTR_BASE, gdtrBase},
		{hv.VMCS_GUEST_IDTR_LIMIT, 0},
		{hv.VMCS_GUEST_IDTR_BASE, 0},

		{hv.VMCS_GUEST_CR0, cr0PE | cr0ET | cr0NE | cr0PG},
		{hv.VMCS_GUEST_CR4, cr4VMXE | cr4PAE},
		{hv.VMCS_GUEST_IA32_EFER, eferLME | eferLMA},

		// Shadows mirror the values the guest sees; the mask on CR4 hides
		// VMXE from the guest's CR4 reads (§4.4), and the mask on CR0 is
		// set to all bits so every guest CR0 write exits (needed for the
		// PG/EFER.LMA transition ExitLoop's CR-access handler watches
		// for, per the CR0 paging edge invariant).
		{hv.VMCS_CTRL_CR0_SHADOW, cr0PE | cr0ET | cr0NE | cr0PG},
		{hv.VMCS_CTRL_CR0_MASK, ^uint64(0)},
		{hv.VMCS_CTRL_CR4_SHADOW, cr4PAE},
		{hv.VMCS_CTRL_CR4_MASK, cr4VMXE},

		{hv.VMCS_CTRL_VMENTRY_CONTROLS, hv.VMENTRY_CTRL_IA32E_GUEST},
		{
			hv.VMCS_CTRL_CPU_BASED,
			hv.CPU_BASED_HLT_EXITING | hv.CPU_BASED_CR8_LOAD_EXITING | hv.CPU_BASED_CR8_STORE_EXITING | hv.CPU_BASED_ACTIVATE_SECONDARY_CONTROLS,
		},
		{hv.VMCS_CTRL_CPU_BASED2, hv.CPU_BASED2_RDTSCP_ENABLE},
		// External-interrupt exiting so a host-delivered interrupt
		// produces a VM-exit ExitLoop can re-enter from, rather than
		// being handled transparently inside the guest.
		{hv.VMCS_CTRL_PIN_BASED, hv.PIN_BASED_EXTERNAL_INTERRUPT_EXITING},

		{hv.VMCS_GUEST_CR3, vs.AddrSpace.Root()},

		{hv.VMCS_GUEST_RIP, cfg.Entry},
		{hv.VMCS_GUEST_RFLAGS, rflagsReserved},
		{hv.VMCS_GUEST_RSP, vs.Stack.Top},

		{hv.VMCS_GUEST_IA32_SYSENTER_CS, 0},
		{hv.VMCS_GUEST_IA32_SYSENTER_ESP, 0},
		{hv.VMCS_GUEST_IA32_SYSENTER_EIP, 0},
	}

	exceptionBitmap := cfg.ExceptionBitmap
	if exceptionBitmap == 0 {
		exceptionBitmap = hv.EXCEPTION_BITMAP_MC
	}
	writes = append(writes, struct {
		field hv.VMCSField
		val   uint64
	}{hv.VMCS_CTRL_EXCEPTION_BITMAP, exceptionBitmap})

	for _, w := range writes {
		if err := v.WriteVMCS(w.field, w.val); err != nil {
			return fmt.Errorf("vthread: bootstrap write 0x%x: %w", w.field, err)
		}
	}

	if err := v.WriteRegister(hv.RegRDI, cfg.Arg); err != nil {
		return fmt.Errorf("vthread: bootstrap set RDI: %w", err)
	}

	for _, idx := range msr.NativePassThroughMSRs {
		if err := v.EnableNativeMSR(idx, true); err != nil {
			return fmt.Errorf("vthread: enable native MSR 0x%x: %w", idx, err)
		}
	}

	return nil
}
