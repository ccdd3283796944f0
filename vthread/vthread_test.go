package vthread

import (
	"sync"
	"testing"

	"github.com/akaros/vmm-akaros/hv"
	"github.com/akaros/vmm-akaros/hv/simulator"
	"github.com/akaros/vmm-akaros/internal/debug"
	"github.com/akaros/vmm-akaros/internal/timeslice"
	"github.com/akaros/vmm-akaros/msr"
)

var (
	sharedHyp    *simulator.Hypervisor
	sharedFacade *Facade
	sharedOnce   sync.Once
)

// facade returns the single process-wide Facade every scenario test
// shares, matching the one-VM-per-process constraint Init itself enforces
// (a second vthread.Init in this binary is exercised explicitly by
// TestInitTwiceFails instead of by every test building its own).
func facade(t *testing.T) (*Facade, *simulator.Hypervisor) {
	t.Helper()
	sharedOnce.Do(func() {
		sharedHyp = simulator.New(nil)
		var err error
		sharedFacade, err = Init(sharedHyp)
		if err != nil {
			t.Fatalf("Init: %v", err)
		}
	})
	return sharedFacade, sharedHyp
}

func TestStoreAndHalt(t *testing.T) {
	f, hyp := facade(t)

	const entry = 0x00100000
	var result int
	hyp.RegisterProgram(entry, func(g *simulator.Guest) {
		result = 42
		g.HLT()
	})

	vth, err := f.Create(entry, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.Join(vth); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if result != 42 {
		t.Fatalf("result = %d, want 42", result)
	}
}

func TestTwoVthreadsIndependentCounters(t *testing.T) {
	f, hyp := facade(t)

	const entryA = 0x00200000
	const entryB = 0x00200100
	var counterA, counterB int

	hyp.RegisterProgram(entryA, func(g *simulator.Guest) {
		counterA += 100
		g.HLT()
	})
	hyp.RegisterProgram(entryB, func(g *simulator.Guest) {
		counterB += 100
		g.HLT()
	})

	vthA, err := f.Create(entryA, 0)
	if err != nil {
		t.Fatalf("Create A: %v", err)
	}
	vthB, err := f.Create(entryB, 0)
	if err != nil {
		t.Fatalf("Create B: %v", err)
	}

	if err := f.JoinAll(vthA, vthB); err != nil {
		t.Fatalf("JoinAll: %v", err)
	}
	if counterA != 100 {
		t.Fatalf("counterA = %d, want 100", counterA)
	}
	if counterB != 100 {
		t.Fatalf("counterB = %d, want 100", counterB)
	}
}

func TestRAPLReadZeroWriteViolation(t *testing.T) {
	f, hyp := facade(t)

	const entry = 0x00300000
	observed := make(chan [2]uint32, 1)
	hyp.RegisterProgram(entry, func(g *simulator.Guest) {
		edx, eax := g.RDMSR(msr.MSR_RAPL_POWER_UNIT)
		observed <- [2]uint32{edx, eax}
		g.WRMSR(msr.MSR_RAPL_POWER_UNIT, 1, 1)
		g.HLT()
	})

	vth, err := f.Create(entry, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got := <-observed
	if got != [2]uint32{0, 0} {
		t.Fatalf("RAPL read = %v, want {0,0}", got)
	}

	err = f.Join(vth)
	if _, ok := err.(*msr.ViolationError); !ok {
		t.Fatalf("Join error = %v, want *msr.ViolationError", err)
	}
}

func TestAPICBaseFakeWriteRoundTrip(t *testing.T) {
	f, hyp := facade(t)

	const entry = 0x00400000
	readBack := make(chan [2]uint32, 1)
	hyp.RegisterProgram(entry, func(g *simulator.Guest) {
		g.WRMSR(msr.IA32_APICBASE, 0xDEADBEEF, 0xCAFEBABE)
		edx, eax := g.RDMSR(msr.IA32_APICBASE)
		readBack <- [2]uint32{edx, eax}
		g.HLT()
	})

	vth, err := f.Create(entry, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.Join(vth); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if got := <-readBack; got != [2]uint32{0xDEADBEEF, 0xCAFEBABE} {
		t.Fatalf("APICBASE round trip = %#x, want {0xDEADBEEF,0xCAFEBABE}", got)
	}
}

func TestMemcpyIntoHostBuffer(t *testing.T) {
	f, hyp := facade(t)

	const entry = 0x00500000
	want := "hello"
	buf := make([]byte, 0, 16)

	hyp.RegisterProgram(entry, func(g *simulator.Guest) {
		buf = buf[:5]
		copy(buf, want)
		g.HLT()
	})

	vth, err := f.Create(entry, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.Join(vth); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if string(buf) != want || len(buf) != len(want) {
		t.Fatalf("buf = %q (len %d), want %q (len %d)", buf, len(buf), want, len(want))
	}
}

func TestInitTwiceFails(t *testing.T) {
	facade(t) // ensure the process has already been initialized once

	_, err := Init(simulator.New(nil))
	if err != ErrAlreadyInitialized {
		t.Fatalf("second Init error = %v, want ErrAlreadyInitialized", err)
	}
}

func TestCR0PagingEdgeSetsEFERLMA(t *testing.T) {
	hyp := simulator.New(nil)
	vcpu, err := hyp.CreateVCPU()
	if err != nil {
		t.Fatalf("CreateVCPU: %v", err)
	}

	if err := vcpu.WriteVMCS(hv.VMCS_GUEST_IA32_EFER, eferLME); err != nil {
		t.Fatalf("WriteVMCS(EFER): %v", err)
	}
	if err := vcpu.WriteVMCS(hv.VMCS_CTRL_VMENTRY_CONTROLS, 0); err != nil {
		t.Fatalf("WriteVMCS(VMENTRY_CONTROLS): %v", err)
	}
	if err := vcpu.WriteRegister(hv.RegRAX, cr0PE|cr0PG); err != nil {
		t.Fatalf("WriteRegister(RAX): %v", err)
	}
	qual := hv.EncodeCRAccessQualification(0, hv.CRAccessMoveToCR, hv.RegRAX)
	if err := vcpu.WriteVMCS(hv.VMCS_RO_EXIT_QUALIFIC, qual); err != nil {
		t.Fatalf("WriteVMCS(EXIT_QUALIFIC): %v", err)
	}

	vs := &VcpuState{
		VCPU:       vcpu,
		Hypervisor: hyp,
		MsrTable:   msr.NewTable(),
		debug:      debug.WithSource("test"),
		record:     timeslice.NewRecorder(),
	}

	if err := dispatchCRAccess(vs); err != nil {
		t.Fatalf("dispatchCRAccess: %v", err)
	}

	efer, err := vcpu.ReadVMCS(hv.VMCS_GUEST_IA32_EFER)
	if err != nil {
		t.Fatalf("ReadVMCS(EFER): %v", err)
	}
	if efer&eferLMA == 0 {
		t.Fatalf("EFER.LMA not set after CR0.PG transition: efer=%#x", efer)
	}

	entryCtrl, err := vcpu.ReadVMCS(hv.VMCS_CTRL_VMENTRY_CONTROLS)
	if err != nil {
		t.Fatalf("ReadVMCS(VMENTRY_CONTROLS): %v", err)
	}
	if entryCtrl&hv.VMENTRY_CTRL_IA32E_GUEST == 0 {
		t.Fatalf("VMENTRY_CTRL_IA32E_GUEST not set: entryCtrl=%#x", entryCtrl)
	}
}

func TestUnhandledCRNumberTerminates(t *testing.T) {
	hyp := simulator.New(nil)
	vcpu, err := hyp.CreateVCPU()
	if err != nil {
		t.Fatalf("CreateVCPU: %v", err)
	}
	qual := hv.EncodeCRAccessQualification(2, hv.CRAccessMoveToCR, hv.RegRAX)
	if err := vcpu.WriteVMCS(hv.VMCS_RO_EXIT_QUALIFIC, qual); err != nil {
		t.Fatalf("WriteVMCS(EXIT_QUALIFIC): %v", err)
	}
	vs := &VcpuState{
		VCPU:       vcpu,
		Hypervisor: hyp,
		MsrTable:   msr.NewTable(),
		debug:      debug.WithSource("test"),
		record:     timeslice.NewRecorder(),
	}
	err = dispatchCRAccess(vs)
	if _, ok := err.(*UnhandledExitError); !ok {
		t.Fatalf("dispatchCRAccess error = %v, want *UnhandledExitError", err)
	}
}
