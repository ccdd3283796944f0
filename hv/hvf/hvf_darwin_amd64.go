//go:build darwin && amd64

// Package hvf is the real backend for the hv capability surface: Apple's
// Hypervisor.framework VMX verbs on darwin/amd64, reached through purego
// dlopen bindings rather than cgo.
package hvf

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/akaros/vmm-akaros/hv"
	"github.com/akaros/vmm-akaros/hv/hvf/bindings"
)

var vmCreated atomic.Bool

// Open creates the process's one VM and returns a handle implementing
// hv.Hypervisor. The hypervisor primitive permits at most one VM per
// process; a second Open in the same process fails.
func Open() (hv.Hypervisor, error) {
	if err := bindings.Load(); err != nil {
		return nil, fmt.Errorf("hvf: %w", err)
	}
	if !vmCreated.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("hvf: hv_vm_create already called in this process")
	}
	if err := bindings.VMCreate(0); err != nil {
		vmCreated.Store(false)
		return nil, fmt.Errorf("hvf: hv_vm_create: %w", err)
	}
	return &hypervisor{}, nil
}

// hypervisor additionally keeps a creation-order registry of its vCPUs,
// because Hypervisor.framework's host-MSR interface is per-vCPU
// (hv_vcpu_read_msr/hv_vcpu_write_msr) rather than addressed by a separate
// per-core device the way the hv.Hypervisor.ReadHostMSR/WriteHostMSR
// signature's "core" parameter implies. VcpuState.CoreIndex is assigned in
// creation order by vthread.Facade, so indexing this slice by that same
// value recovers the vCPU it refers to.
type hypervisor struct {
	mu     sync.Mutex
	closed bool
	vcpus  []*vcpu
}

func (h *hypervisor) CreateVCPU() (hv.VCPU, error) {
	id, err := bindings.VCPUCreate(0)
	if err != nil {
		return nil, fmt.Errorf("hvf: hv_vcpu_create: %w", err)
	}
	v := &vcpu{id: id}
	h.mu.Lock()
	h.vcpus = append(h.vcpus, v)
	h.mu.Unlock()
	return v, nil
}

func (h *hypervisor) Map(hostPtr uintptr, guestPhys uint64, length uint64, prot hv.Protection) error {
	var flags bindings.MemoryFlags
	if prot&hv.ProtRead != 0 {
		flags |= bindings.HV_MEMORY_READ
	}
	if prot&hv.ProtWrite != 0 {
		flags |= bindings.HV_MEMORY_WRITE
	}
	if prot&hv.ProtExec != 0 {
		flags |= bindings.HV_MEMORY_EXEC
	}
	if err := bindings.VMMap(unsafe.Pointer(hostPtr), guestPhys, uintptr(length), flags); err != nil {
		return fmt.Errorf("hvf: hv_vm_map: %w", err)
	}
	return nil
}

func (h *hypervisor) Unmap(guestPhys uint64, length uint64) error {
	if err := bindings.VMUnmap(guestPhys, uintptr(length)); err != nil {
		return fmt.Errorf("hvf: hv_vm_unmap: %w", err)
	}
	return nil
}

var capabilityFieldMap = map[hv.CapabilityField]bindings.VMXCapability{
	hv.CapabilityPinBased:  bindings.HV_VMX_CAP_PINBASED,
	hv.CapabilityProcBased: bindings.HV_VMX_CAP_PROCBASED,
	hv.CapabilityProcBased2: bindings.HV_VMX_CAP_PROCBASED2,
	hv.CapabilityEntry:     bindings.HV_VMX_CAP_ENTRY,
	hv.CapabilityExit:      bindings.HV_VMX_CAP_EXIT,
}

// ReadCapability reads one VMX capability MSR, which Hypervisor.framework
// packs as allowed-0 bits in the low 32 bits and allowed-1 bits in the
// high 32 bits of a single 64-bit value.
func (h *hypervisor) ReadCapability(which hv.CapabilityField) (allowed0, allowed1 uint64, err error) {
	field, ok := capabilityFieldMap[which]
	if !ok {
		return 0, 0, fmt.Errorf("hvf: unknown capability field %v", which)
	}
	raw, err := bindings.VMXReadCapability(field)
	if err != nil {
		return 0, 0, fmt.Errorf("hvf: hv_vmx_read_capability: %w", err)
	}
	return raw & 0xffffffff, raw >> 32, nil
}

func (h *hypervisor) vcpuForCore(core int) (*vcpu, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if core < 0 || core >= len(h.vcpus) {
		return nil, fmt.Errorf("hvf: no vCPU registered for core %d", core)
	}
	return h.vcpus[core], nil
}

func (h *hypervisor) ReadHostMSR(core int, index uint32) (uint64, error) {
	v, err := h.vcpuForCore(core)
	if err != nil {
		return 0, err
	}
	val, err := bindings.VCPUReadMSR(v.id, index)
	if err != nil {
		return 0, fmt.Errorf("hvf: hv_vcpu_read_msr(0x%x): %w", index, err)
	}
	return val, nil
}

func (h *hypervisor) WriteHostMSR(core int, index uint32, value uint64) error {
	v, err := h.vcpuForCore(core)
	if err != nil {
		return err
	}
	if err := bindings.VCPUWriteMSR(v.id, index, value); err != nil {
		return fmt.Errorf("hvf: hv_vcpu_write_msr(0x%x): %w", index, err)
	}
	return nil
}

func (h *hypervisor) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if err := bindings.VMDestroy(); err != nil {
		return fmt.Errorf("hvf: hv_vm_destroy: %w", err)
	}
	return nil
}

var _ hv.Hypervisor = (*hypervisor)(nil)

type vcpu struct {
	id bindings.VCPU
}

func (v *vcpu) Run() error {
	if err := bindings.VCPURun(v.id); err != nil {
		return fmt.Errorf("hvf: hv_vcpu_run: %w", err)
	}
	return nil
}

var vmcsFieldEncoding = func(f hv.VMCSField) uint32 { return uint32(f) }

func (v *vcpu) ReadVMCS(field hv.VMCSField) (uint64, error) {
	val, err := bindings.VMXVCPUReadVMCS(v.id, vmcsFieldEncoding(field))
	if err != nil {
		return 0, fmt.Errorf("hvf: hv_vmx_vcpu_read_vmcs(0x%x): %w", field, err)
	}
	return val, nil
}

func (v *vcpu) WriteVMCS(field hv.VMCSField, value uint64) error {
	if err := bindings.VMXVCPUWriteVMCS(v.id, vmcsFieldEncoding(field), value); err != nil {
		return fmt.Errorf("hvf: hv_vmx_vcpu_write_vmcs(0x%x): %w", field, err)
	}
	return nil
}

var registerMap = map[hv.Register]bindings.Reg{
	hv.RegRAX: bindings.HV_X86_RAX, hv.RegRBX: bindings.HV_X86_RBX,
	hv.RegRCX: bindings.HV_X86_RCX, hv.RegRDX: bindings.HV_X86_RDX,
	hv.RegRSI: bindings.HV_X86_RSI, hv.RegRDI: bindings.HV_X86_RDI,
	hv.RegRBP: bindings.HV_X86_RBP, hv.RegRSP: bindings.HV_X86_RSP,
	hv.RegR8: bindings.HV_X86_R8, hv.RegR9: bindings.HV_X86_R9,
	hv.RegR10: bindings.HV_X86_R10, hv.RegR11: bindings.HV_X86_R11,
	hv.RegR12: bindings.HV_X86_R12, hv.RegR13: bindings.HV_X86_R13,
	hv.RegR14: bindings.HV_X86_R14, hv.RegR15: bindings.HV_X86_R15,
	hv.RegRIP: bindings.HV_X86_RIP, hv.RegRFLAGS: bindings.HV_X86_RFLAGS,
}

func (v *vcpu) ReadRegister(reg hv.Register) (uint64, error) {
	native, ok := registerMap[reg]
	if !ok {
		return 0, fmt.Errorf("hvf: unknown register %v", reg)
	}
	val, err := bindings.VCPUReadRegister(v.id, native)
	if err != nil {
		return 0, fmt.Errorf("hvf: hv_vcpu_read_register: %w", err)
	}
	return val, nil
}

func (v *vcpu) WriteRegister(reg hv.Register, value uint64) error {
	native, ok := registerMap[reg]
	if !ok {
		return fmt.Errorf("hvf: unknown register %v", reg)
	}
	if err := bindings.VCPUWriteRegister(v.id, native, value); err != nil {
		return fmt.Errorf("hvf: hv_vcpu_write_register: %w", err)
	}
	return nil
}

func (v *vcpu) EnableNativeMSR(index uint32, enable bool) error {
	if err := bindings.VCPUEnableNativeMSR(v.id, index, enable); err != nil {
		return fmt.Errorf("hvf: hv_vcpu_enable_native_msr(0x%x): %w", index, err)
	}
	return nil
}

func (v *vcpu) Destroy() error {
	if err := bindings.VCPUDestroy(v.id); err != nil {
		return fmt.Errorf("hvf: hv_vcpu_destroy: %w", err)
	}
	return nil
}

var _ hv.VCPU = (*vcpu)(nil)
