// Package simulator is a pure-Go fake of the hv capability surface, used
// so that pagetable, addrspace, msr, and vthread can be exercised by
// package tests without real VMX/HVF hardware. It does not execute guest
// machine code: a "guest program" is an ordinary Go closure run in its own
// goroutine, which blocks and hands control back to the simulated VM-exit
// path whenever it needs to do something a real guest would need a VM-exit
// for (RDMSR/WRMSR, a CR write, HLT). Direct memory writes need no
// coordination at all, because the simulator's guest and host run in the
// same address space by construction — which is exactly the identity
// mapping this project builds for the real backend.
package simulator

import (
	"fmt"
	"sync"

	"github.com/akaros/vmm-akaros/hv"
)

// Hypervisor is the simulator's implementation of hv.Hypervisor.
type Hypervisor struct {
	mu       sync.Mutex
	programs map[uint64]func(*Guest)
	hostMSR  map[uint32]uint64
	mapped   map[uint64]mapping
	closed   bool
}

type mapping struct {
	hostPtr uintptr
	len     uint64
	prot    hv.Protection
}

// New creates a simulator VM. hostMSR seeds the fake per-core MSR device;
// a nil map uses defaultHostMSRs.
func New(hostMSR map[uint32]uint64) *Hypervisor {
	if hostMSR == nil {
		hostMSR = defaultHostMSRs()
	}
	return &Hypervisor{
		programs: make(map[uint64]func(*Guest)),
		hostMSR:  hostMSR,
		mapped:   make(map[uint64]mapping),
	}
}

// defaultHostMSRs seeds a handful of MSRs the msr package's built-in table
// names, so PassThrough/MustMatch/ReadOnly policies have something
// deterministic to read in tests.
func defaultHostMSRs() map[uint32]uint64 {
	return map[uint32]uint64{
		0x1a0: 0x850089, // IA32_MISC_ENABLE-ish default
		0x174: 0x10,     // SYSENTER_CS
		0x1b0: 0,        // IA32_ENERGY_PERF_BIAS
	}
}

// RegisterProgram associates a guest entry RIP with the Go closure that
// plays the role of the guest running at that address. VcpuBootstrap
// writes the real entry address into VMCS_GUEST_RIP before the first Run,
// exactly as it would for a real backend; the simulator's VCPU looks it up
// there on first Run instead of fetching and decoding instructions.
func (h *Hypervisor) RegisterProgram(entry uint64, program func(*Guest)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.programs[entry] = program
}

func (h *Hypervisor) CreateVCPU() (hv.VCPU, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, fmt.Errorf("simulator: hypervisor closed")
	}
	return &VCPU{
		hv:        h,
		vmcs:      make(map[hv.VMCSField]uint64),
		regs:      make(map[hv.Register]uint64),
		nativeMSR: make(map[uint32]bool),
		events:    make(chan event),
	}, nil
}

func (h *Hypervisor) Map(hostPtr uintptr, guestPhys uint64, length uint64, prot hv.Protection) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mapped[guestPhys] = mapping{hostPtr: hostPtr, len: length, prot: prot}
	return nil
}

func (h *Hypervisor) Unmap(guestPhys uint64, length uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.mapped, guestPhys)
	return nil
}

func (h *Hypervisor) ReadCapability(which hv.CapabilityField) (uint64, uint64, error) {
	// allowed0 = 0 (nothing forced on), allowed1 = all bits settable.
	return 0, ^uint64(0), nil
}

func (h *Hypervisor) ReadHostMSR(core int, index uint32) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.hostMSR[index]
	if !ok {
		return 0, fmt.Errorf("simulator: no host MSR 0x%x", index)
	}
	return v, nil
}

func (h *Hypervisor) WriteHostMSR(core int, index uint32, value uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hostMSR[index] = value
	return nil
}

func (h *Hypervisor) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}
