package msr

// Real x86 MSR indices, grounded on the reference emulation table's
// emmsrs[] registry: the same instruction set architecture, reproduced
// here as named Go constants instead of C #defines.
const (
	IA32_APICBASE       uint32 = 0x01b
	IA32_UCODE_REV      uint32 = 0x08b
	IA32_SYSENTER_CS    uint32 = 0x174
	IA32_SYSENTER_ESP   uint32 = 0x175
	IA32_SYSENTER_EIP   uint32 = 0x176
	IA32_MISC_ENABLE    uint32 = 0x1a0
	IA32_ENERGY_PERF_BIAS uint32 = 0x1b0
	IA32_PERFEVTSEL0    uint32 = 0x186
	IA32_PERFEVTSEL1    uint32 = 0x187
	MSR_OFFCORE_RSP0    uint32 = 0x1a6
	MSR_OFFCORE_RSP1    uint32 = 0x1a7
	MSR_LASTBRANCH_TOS  uint32 = 0x1c9
	MSR_LASTBRANCHFROMIP uint32 = 0x1db
	MSR_LASTBRANCHTOIP  uint32 = 0x1dc
	MSR_LASTINTFROMIP   uint32 = 0x1dd
	MSR_LASTINTTOIP     uint32 = 0x1de
	IA32_PEBS_ENABLE    uint32 = 0x3f1
	MSR_RAPL_POWER_UNIT uint32 = 0x606

	IA32_VMX_BASIC            uint32 = 0x480
	IA32_VMX_PINBASED_CTLS    uint32 = 0x481
	IA32_VMX_PROCBASED_CTLS   uint32 = 0x482
	IA32_VMX_EXIT_CTLS        uint32 = 0x483
	IA32_VMX_ENTRY_CTLS       uint32 = 0x484
	IA32_VMX_MISC             uint32 = 0x485
	IA32_VMX_CR0_FIXED0       uint32 = 0x486
	IA32_VMX_CR0_FIXED1       uint32 = 0x487
	IA32_VMX_CR4_FIXED0       uint32 = 0x488
	IA32_VMX_CR4_FIXED1       uint32 = 0x489
	IA32_VMX_VMCS_ENUM        uint32 = 0x48a
	IA32_VMX_PROCBASED_CTLS2  uint32 = 0x48b
	IA32_VMX_EPT_VPID_CAP     uint32 = 0x48c
	IA32_VMX_TRUE_PINBASED_CTLS  uint32 = 0x48d
	IA32_VMX_TRUE_PROCBASED_CTLS uint32 = 0x48e
	IA32_VMX_TRUE_EXIT_CTLS      uint32 = 0x48f
	IA32_VMX_TRUE_ENTRY_CTLS     uint32 = 0x490
	IA32_VMX_VMFUNC              uint32 = 0x491

	MSR_LAPIC_THERMAL   uint32 = 0x830 // x2APIC LVT thermal monitor register
	MSR_LAPIC_TIMER     uint32 = 0x832 // x2APIC LVT timer register
	MSR_LAPIC_INITCOUNT uint32 = 0x838 // x2APIC initial count register

	MSR_CSTAR   uint32 = 0xc0000083
	MSR_TSC_AUX uint32 = 0xc0000103

	IA32_EFER          uint32 = 0xc0000080
	MSR_STAR           uint32 = 0xc0000081
	MSR_LSTAR          uint32 = 0xc0000082
	MSR_SFMASK         uint32 = 0xc0000084
	MSR_FS_BASE        uint32 = 0xc0000100
	MSR_GS_BASE        uint32 = 0xc0000101
	MSR_KERNEL_GS_BASE uint32 = 0xc0000102
	IA32_TSC           uint32 = 0x010
)

// NativePassThroughMSRs lists the MSR indices VcpuBootstrap enables
// hardware pass-through for, per the bootstrap contract's native-MSR list.
// EFER is deliberately absent: ExitLoop services it directly from the VMCS
// GUEST_IA32_EFER field rather than through native pass-through or the
// table.
var NativePassThroughMSRs = []uint32{
	MSR_LSTAR,
	MSR_CSTAR,
	MSR_STAR,
	MSR_SFMASK,
	MSR_KERNEL_GS_BASE,
	MSR_GS_BASE,
	MSR_FS_BASE,
	IA32_SYSENTER_CS,
	IA32_SYSENTER_ESP,
	IA32_SYSENTER_EIP,
	IA32_TSC,
	MSR_TSC_AUX,
}

// builtinEntries is the static registry §4.3 requires at minimum, plus a
// handful of additional LBR/offcore/perfmon MSRs under the same
// PassThrough policy the reference table gives the rest of that family.
var builtinEntries = []Entry{
	{Index: IA32_MISC_ENABLE, Name: "IA32_MISC_ENABLE", Policy: MiscEnable},
	{Index: IA32_SYSENTER_CS, Name: "IA32_SYSENTER_CS", Policy: PassThrough},
	{Index: IA32_SYSENTER_ESP, Name: "IA32_SYSENTER_ESP", Policy: PassThrough},
	{Index: IA32_SYSENTER_EIP, Name: "IA32_SYSENTER_EIP", Policy: PassThrough},
	{Index: IA32_UCODE_REV, Name: "IA32_UCODE_REV", Policy: FakeWrite},
	{Index: MSR_CSTAR, Name: "CSTAR", Policy: FakeWrite},
	{Index: IA32_VMX_BASIC, Name: "IA32_VMX_BASIC", Policy: FakeWrite},
	{Index: IA32_VMX_PINBASED_CTLS, Name: "IA32_VMX_PINBASED_CTLS", Policy: FakeWrite},
	{Index: IA32_VMX_PROCBASED_CTLS, Name: "IA32_VMX_PROCBASED_CTLS", Policy: FakeWrite},
	{Index: IA32_VMX_EXIT_CTLS, Name: "IA32_VMX_EXIT_CTLS", Policy: FakeWrite},
	{Index: IA32_VMX_ENTRY_CTLS, Name: "IA32_VMX_ENTRY_CTLS", Policy: FakeWrite},
	{Index: IA32_VMX_MISC, Name: "IA32_VMX_MISC", Policy: FakeWrite},
	{Index: IA32_VMX_CR0_FIXED0, Name: "IA32_VMX_CR0_FIXED0", Policy: FakeWrite},
	{Index: IA32_VMX_CR0_FIXED1, Name: "IA32_VMX_CR0_FIXED1", Policy: FakeWrite},
	{Index: IA32_VMX_CR4_FIXED0, Name: "IA32_VMX_CR4_FIXED0", Policy: FakeWrite},
	{Index: IA32_VMX_CR4_FIXED1, Name: "IA32_VMX_CR4_FIXED1", Policy: FakeWrite},
	{Index: IA32_VMX_VMCS_ENUM, Name: "IA32_VMX_VMCS_ENUM", Policy: FakeWrite},
	{Index: IA32_VMX_PROCBASED_CTLS2, Name: "IA32_VMX_PROCBASED_CTLS2", Policy: FakeWrite},
	{Index: IA32_VMX_EPT_VPID_CAP, Name: "IA32_VMX_EPT_VPID_CAP", Policy: FakeWrite},
	{Index: IA32_VMX_TRUE_PINBASED_CTLS, Name: "IA32_VMX_TRUE_PINBASED_CTLS", Policy: FakeWrite},
	{Index: IA32_VMX_TRUE_PROCBASED_CTLS, Name: "IA32_VMX_TRUE_PROCBASED_CTLS", Policy: FakeWrite},
	{Index: IA32_VMX_TRUE_EXIT_CTLS, Name: "IA32_VMX_TRUE_EXIT_CTLS", Policy: FakeWrite},
	{Index: IA32_VMX_TRUE_ENTRY_CTLS, Name: "IA32_VMX_TRUE_ENTRY_CTLS", Policy: FakeWrite},
	{Index: IA32_VMX_VMFUNC, Name: "IA32_VMX_VMFUNC", Policy: FakeWrite},
	{Index: IA32_ENERGY_PERF_BIAS, Name: "IA32_ENERGY_PERF_BIAS", Policy: FakeWrite},
	{Index: IA32_APICBASE, Name: "IA32_APICBASE", Policy: FakeWrite},
	{Index: MSR_TSC_AUX, Name: "TSC_AUX", Policy: FakeWrite},
	{Index: MSR_LAPIC_THERMAL, Name: "LAPIC_THERMAL", Policy: FakeWrite},
	{Index: IA32_PERFEVTSEL0, Name: "IA32_PERFEVTSEL0", Policy: PassThrough},
	{Index: IA32_PERFEVTSEL1, Name: "IA32_PERFEVTSEL1", Policy: PassThrough},
	{Index: MSR_OFFCORE_RSP0, Name: "MSR_OFFCORE_RSP0", Policy: PassThrough},
	{Index: MSR_OFFCORE_RSP1, Name: "MSR_OFFCORE_RSP1", Policy: PassThrough},
	{Index: MSR_LASTBRANCH_TOS, Name: "MSR_LASTBRANCH_TOS", Policy: PassThrough},
	{Index: MSR_LASTBRANCHFROMIP, Name: "MSR_LASTBRANCHFROMIP", Policy: PassThrough},
	{Index: MSR_LASTBRANCHTOIP, Name: "MSR_LASTBRANCHTOIP", Policy: PassThrough},
	{Index: MSR_LASTINTFROMIP, Name: "MSR_LASTINTFROMIP", Policy: PassThrough},
	{Index: MSR_LASTINTTOIP, Name: "MSR_LASTINTTOIP", Policy: PassThrough},
	{Index: IA32_PEBS_ENABLE, Name: "IA32_PEBS_ENABLE", Policy: PassThrough},
	{Index: MSR_RAPL_POWER_UNIT, Name: "MSR_RAPL_POWER_UNIT", Policy: ReadZero},
	{Index: MSR_LAPIC_TIMER, Name: "LAPIC_TIMER", Policy: LapicTimerVector},
	{Index: MSR_LAPIC_INITCOUNT, Name: "LAPIC_INITCOUNT", Policy: LapicInitialCount},
}
