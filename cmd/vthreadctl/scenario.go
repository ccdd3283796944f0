package main

import (
	"errors"
	"fmt"

	"github.com/akaros/vmm-akaros/hv/simulator"
	"github.com/akaros/vmm-akaros/msr"
	"github.com/akaros/vmm-akaros/vthread"
)

// scenario is one of the six named runnable demos. Each registers its guest
// program(s) against the given simulator entry addresses, spawns the
// vthread(s), joins them, and checks the observable result.
type scenario struct {
	name        string
	description string
	run         func(f *vthread.Facade, sim *simulator.Hypervisor) error
}

var scenarios = []scenario{
	{
		name:        "store-and-halt",
		description: "one vthread stores 42 into a host int and halts",
		run:         runStoreAndHalt,
	},
	{
		name:        "two-vthreads",
		description: "two vthreads each increment their own counter by 100",
		run:         runTwoVthreads,
	},
	{
		name:        "rapl-violation",
		description: "reading MSR_RAPL_POWER_UNIT yields 0:0; writing it terminates the vthread",
		run:         runRAPLViolation,
	},
	{
		name:        "apicbase-roundtrip",
		description: "writing then reading IA32_APICBASE round-trips the FakeWrite value",
		run:         runAPICBaseRoundtrip,
	},
	{
		name:        "memcpy",
		description: "one vthread copies a 5-byte string into a host buffer",
		run:         runMemcpy,
	},
	{
		name:        "init-twice",
		description: "a second vth_init in this process fails",
		run:         runInitTwice,
	},
}

func lookupScenario(name string) (scenario, error) {
	for _, s := range scenarios {
		if s.name == name {
			return s, nil
		}
	}
	return scenario{}, fmt.Errorf("unknown scenario %q", name)
}

func runStoreAndHalt(f *vthread.Facade, sim *simulator.Hypervisor) error {
	const entry = 0x00100000
	var result int
	sim.RegisterProgram(entry, func(g *simulator.Guest) {
		result = 42
		g.HLT()
	})

	vth, err := f.Create(entry, 0)
	if err != nil {
		return err
	}
	if err := f.Join(vth); err != nil {
		return err
	}
	if result != 42 {
		return fmt.Errorf("result = %d, want 42", result)
	}
	return nil
}

func runTwoVthreads(f *vthread.Facade, sim *simulator.Hypervisor) error {
	const entryA = 0x00200000
	const entryB = 0x00200100
	var counterA, counterB int

	sim.RegisterProgram(entryA, func(g *simulator.Guest) {
		counterA += 100
		g.HLT()
	})
	sim.RegisterProgram(entryB, func(g *simulator.Guest) {
		counterB += 100
		g.HLT()
	})

	vthA, err := f.Create(entryA, 0)
	if err != nil {
		return err
	}
	vthB, err := f.Create(entryB, 0)
	if err != nil {
		return err
	}
	if err := f.JoinAll(vthA, vthB); err != nil {
		return err
	}
	if counterA != 100 || counterB != 100 {
		return fmt.Errorf("counterA=%d counterB=%d, want 100/100", counterA, counterB)
	}
	return nil
}

func runRAPLViolation(f *vthread.Facade, sim *simulator.Hypervisor) error {
	const entry = 0x00300000
	observed := make(chan [2]uint32, 1)

	sim.RegisterProgram(entry, func(g *simulator.Guest) {
		edx, eax := g.RDMSR(msr.MSR_RAPL_POWER_UNIT)
		observed <- [2]uint32{edx, eax}
		g.WRMSR(msr.MSR_RAPL_POWER_UNIT, 0, 1)
		g.HLT()
	})

	vth, err := f.Create(entry, 0)
	if err != nil {
		return err
	}
	if got := <-observed; got != [2]uint32{0, 0} {
		return fmt.Errorf("RDMSR RAPL_POWER_UNIT = %v, want 0:0", got)
	}
	err = f.Join(vth)
	var violation *msr.ViolationError
	if err == nil {
		return fmt.Errorf("Join succeeded, want an MSR violation")
	}
	if !errors.As(err, &violation) {
		return fmt.Errorf("Join error = %v, want *msr.ViolationError", err)
	}
	return nil
}

func runAPICBaseRoundtrip(f *vthread.Facade, sim *simulator.Hypervisor) error {
	const entry = 0x00400000
	observed := make(chan [2]uint32, 1)

	sim.RegisterProgram(entry, func(g *simulator.Guest) {
		g.WRMSR(msr.IA32_APICBASE, 0xDEADBEEF, 0xCAFEBABE)
		edx, eax := g.RDMSR(msr.IA32_APICBASE)
		observed <- [2]uint32{edx, eax}
		g.HLT()
	})

	vth, err := f.Create(entry, 0)
	if err != nil {
		return err
	}
	got := <-observed
	if err := f.Join(vth); err != nil {
		return err
	}
	if want := [2]uint32{0xDEADBEEF, 0xCAFEBABE}; got != want {
		return fmt.Errorf("APICBASE round-trip = %#x, want %#x", got, want)
	}
	return nil
}

func runMemcpy(f *vthread.Facade, sim *simulator.Hypervisor) error {
	const entry = 0x00500000
	const want = "hello"
	buf := make([]byte, 0, len(want))

	sim.RegisterProgram(entry, func(g *simulator.Guest) {
		buf = append(buf, want...)
		g.HLT()
	})

	vth, err := f.Create(entry, 0)
	if err != nil {
		return err
	}
	if err := f.Join(vth); err != nil {
		return err
	}
	if string(buf) != want || len(buf) != len(want) {
		return fmt.Errorf("buf = %q (len %d), want %q (len %d)", buf, len(buf), want, len(want))
	}
	return nil
}

func runInitTwice(f *vthread.Facade, sim *simulator.Hypervisor) error {
	_, err := vthread.Init(sim)
	if err != vthread.ErrAlreadyInitialized {
		return fmt.Errorf("second Init err = %v, want ErrAlreadyInitialized", err)
	}
	return nil
}
