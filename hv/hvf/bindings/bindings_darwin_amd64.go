//go:build darwin && amd64

package bindings

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	loadOnce sync.Once
	loadErr  error

	hypervisorLib uintptr
)

// Load loads Hypervisor.framework and binds the x86_64/VMX-exported
// Hypervisor APIs this core needs.
//
// This package intentionally provides very low-level bindings; higher-level
// safety and ergonomics belong in the hvf package.
func Load() error {
	loadOnce.Do(func() {
		var err error
		hypervisorLib, err = purego.Dlopen(
			"/System/Library/Frameworks/Hypervisor.framework/Hypervisor",
			purego.RTLD_GLOBAL|purego.RTLD_LAZY,
		)
		if err != nil {
			loadErr = fmt.Errorf("purego dlopen Hypervisor.framework: %w", err)
			return
		}

		// VM
		purego.RegisterLibFunc(&hv_vm_create, hypervisorLib, "hv_vm_create")
		purego.RegisterLibFunc(&hv_vm_destroy, hypervisorLib, "hv_vm_destroy")
		purego.RegisterLibFunc(&hv_vm_map, hypervisorLib, "hv_vm_map")
		purego.RegisterLibFunc(&hv_vm_unmap, hypervisorLib, "hv_vm_unmap")
		purego.RegisterLibFunc(&hv_vmx_read_capability, hypervisorLib, "hv_vmx_read_capability")

		// vCPU
		purego.RegisterLibFunc(&hv_vcpu_create, hypervisorLib, "hv_vcpu_create")
		purego.RegisterLibFunc(&hv_vcpu_destroy, hypervisorLib, "hv_vcpu_destroy")
		purego.RegisterLibFunc(&hv_vcpu_run, hypervisorLib, "hv_vcpu_run")
		purego.RegisterLibFunc(&hv_vcpu_read_register, hypervisorLib, "hv_vcpu_read_register")
		purego.RegisterLibFunc(&hv_vcpu_write_register, hypervisorLib, "hv_vcpu_write_register")
		purego.RegisterLibFunc(&hv_vmx_vcpu_read_vmcs, hypervisorLib, "hv_vmx_vcpu_read_vmcs")
		purego.RegisterLibFunc(&hv_vmx_vcpu_write_vmcs, hypervisorLib, "hv_vmx_vcpu_write_vmcs")
		purego.RegisterLibFunc(&hv_vcpu_enable_native_msr, hypervisorLib, "hv_vcpu_enable_native_msr")
		purego.RegisterLibFunc(&hv_vcpu_read_msr, hypervisorLib, "hv_vcpu_read_msr")
		purego.RegisterLibFunc(&hv_vcpu_write_msr, hypervisorLib, "hv_vcpu_write_msr")
	})
	return loadErr
}

func MustLoad() {
	if err := Load(); err != nil {
		panic(err)
	}
}

// ---- Function variables (populated by Load) ----

var (
	hv_vm_create            func(flags uint64) Return
	hv_vm_destroy           func() Return
	hv_vm_map               func(addr unsafe.Pointer, ipa uint64, size uintptr, flags MemoryFlags) Return
	hv_vm_unmap             func(ipa uint64, size uintptr) Return
	hv_vmx_read_capability  func(field VMXCapability, value *uint64) Return
)

var (
	hv_vcpu_create            func(vcpu *VCPU, flags uint64) Return
	hv_vcpu_destroy           func(vcpu VCPU) Return
	hv_vcpu_run               func(vcpu VCPU) Return
	hv_vcpu_read_register     func(vcpu VCPU, reg Reg, value *uint64) Return
	hv_vcpu_write_register    func(vcpu VCPU, reg Reg, value uint64) Return
	hv_vmx_vcpu_read_vmcs     func(vcpu VCPU, field uint32, value *uint64) Return
	hv_vmx_vcpu_write_vmcs    func(vcpu VCPU, field uint32, value uint64) Return
	hv_vcpu_enable_native_msr func(vcpu VCPU, msr uint32, enable bool) Return
	hv_vcpu_read_msr          func(vcpu VCPU, msr uint32, value *uint64) Return
	hv_vcpu_write_msr         func(vcpu VCPU, msr uint32, value uint64) Return
)

// VMCreate creates the process's one VM. flags is reserved (pass 0).
func VMCreate(flags uint64) error { return wrap(hv_vm_create(flags)) }

// VMDestroy destroys the process's VM.
func VMDestroy() error { return wrap(hv_vm_destroy()) }

// VMMap installs a host-virtual range into guest-physical space.
func VMMap(addr unsafe.Pointer, ipa uint64, size uintptr, flags MemoryFlags) error {
	return wrap(hv_vm_map(addr, ipa, size, flags))
}

// VMUnmap removes a guest-physical mapping.
func VMUnmap(ipa uint64, size uintptr) error { return wrap(hv_vm_unmap(ipa, size)) }

// VMXReadCapability reads one of the fixed VMX capability MSRs.
func VMXReadCapability(field VMXCapability) (uint64, error) {
	var v uint64
	err := wrap(hv_vmx_read_capability(field, &v))
	return v, err
}

// VCPUCreate creates a vCPU bound to the calling thread. flags is
// reserved (pass 0).
func VCPUCreate(flags uint64) (VCPU, error) {
	var id VCPU
	err := wrap(hv_vcpu_create(&id, flags))
	return id, err
}

// VCPUDestroy releases a vCPU. Must be called from its owning thread.
func VCPUDestroy(vcpu VCPU) error { return wrap(hv_vcpu_destroy(vcpu)) }

// VCPURun resumes the vCPU and blocks until the next VM-exit.
func VCPURun(vcpu VCPU) error { return wrap(hv_vcpu_run(vcpu)) }

// VCPUReadRegister reads a GPR/RIP/RFLAGS outside the VMCS.
func VCPUReadRegister(vcpu VCPU, reg Reg) (uint64, error) {
	var v uint64
	err := wrap(hv_vcpu_read_register(vcpu, reg, &v))
	return v, err
}

// VCPUWriteRegister writes a GPR/RIP/RFLAGS outside the VMCS.
func VCPUWriteRegister(vcpu VCPU, reg Reg, value uint64) error {
	return wrap(hv_vcpu_write_register(vcpu, reg, value))
}

// VMXVCPUReadVMCS reads a VMCS field.
func VMXVCPUReadVMCS(vcpu VCPU, field uint32) (uint64, error) {
	var v uint64
	err := wrap(hv_vmx_vcpu_read_vmcs(vcpu, field, &v))
	return v, err
}

// VMXVCPUWriteVMCS writes a VMCS field.
func VMXVCPUWriteVMCS(vcpu VCPU, field uint32, value uint64) error {
	return wrap(hv_vmx_vcpu_write_vmcs(vcpu, field, value))
}

// VCPUEnableNativeMSR toggles hardware MSR pass-through for the vCPU.
func VCPUEnableNativeMSR(vcpu VCPU, msr uint32, enable bool) error {
	return wrap(hv_vcpu_enable_native_msr(vcpu, msr, enable))
}

// VCPUReadMSR reads a host MSR through the per-vCPU MSR interface.
func VCPUReadMSR(vcpu VCPU, msr uint32) (uint64, error) {
	var v uint64
	err := wrap(hv_vcpu_read_msr(vcpu, msr, &v))
	return v, err
}

// VCPUWriteMSR writes a host MSR through the per-vCPU MSR interface.
func VCPUWriteMSR(vcpu VCPU, msr uint32, value uint64) error {
	return wrap(hv_vcpu_write_msr(vcpu, msr, value))
}

func wrap(r Return) error {
	if r == HV_SUCCESS {
		return nil
	}
	return r
}
