package vthread

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/akaros/vmm-akaros/addrspace"
	"github.com/akaros/vmm-akaros/hostmem"
	"github.com/akaros/vmm-akaros/hv"
)

// ErrAlreadyInitialized is returned by Init when called a second time in
// the same process; the hypervisor primitive permits at most one VM per
// process (§9's OnceInit note).
var ErrAlreadyInitialized = fmt.Errorf("vthread: already initialized")

// Facade is the public vth_init/vthread_create/vthread_join surface. The
// zero value is not usable; construct one with Init.
type Facade struct {
	hyp  hv.Hypervisor
	as   *addrspace.AddressSpace
	core atomicCounter
	// createMu serializes vCPU creation with core-index assignment, so the
	// n-th vCPU the backend creates is the one given core index n.
	createMu sync.Mutex
}

var (
	processInit bool
	processMu   sync.Mutex
)

// Init builds the per-process hypervisor container and AddressSpace. It
// must be called at most once per process; a second call returns
// ErrAlreadyInitialized without touching the already-built state.
func Init(hyp hv.Hypervisor) (*Facade, error) {
	processMu.Lock()
	defer processMu.Unlock()
	if processInit {
		return nil, ErrAlreadyInitialized
	}

	var regions []hostmem.Region
	if err := hostmem.Iterate(func(r hostmem.Region) error {
		regions = append(regions, r)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("vthread: enumerate host regions: %w", err)
	}

	as, err := addrspace.Build(hyp, regions, 0)
	if err != nil {
		return nil, fmt.Errorf("vthread: build address space: %w", err)
	}

	processInit = true
	return &Facade{hyp: hyp, as: as}, nil
}

// Vthread is the caller-owned handle returned by Create, consumed by Join.
type Vthread struct {
	done chan struct{}
	err  error
}

// Create spawns one host thread for the vthread's lifetime and returns
// immediately; the thread creates the vCPU, allocates its guest stack,
// runs VcpuBootstrap, then ExitLoop. The guest wakes up at entry with arg
// in RDI. Per the hypervisor primitive's threading rule (§5), vCPU
// creation itself must happen on the thread that will own it, so it is
// done inside the spawned goroutine rather than by the caller.
func (f *Facade) Create(entry uint64, arg uint64) (*Vthread, error) {
	vth := &Vthread{done: make(chan struct{})}

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(vth.done)

		f.createMu.Lock()
		vcpu, err := f.hyp.CreateVCPU()
		if err != nil {
			f.createMu.Unlock()
			vth.err = fmt.Errorf("vthread: create vcpu: %w", err)
			return
		}
		coreIndex := f.core.next()
		f.createMu.Unlock()
		defer vcpu.Destroy()

		stack, err := f.as.AllocateStack(f.hyp, guestStackPages)
		if err != nil {
			vth.err = fmt.Errorf("vthread: allocate guest stack: %w", err)
			return
		}

		vs := NewVcpuState(vcpu, f.hyp, f.as, coreIndex, stack)

		if err := VcpuBootstrap(vs, BootstrapConfig{Entry: entry, Arg: arg}); err != nil {
			vth.err = err
			return
		}
		vth.err = ExitLoop(vs)
	}()

	return vth, nil
}

// Join blocks until vth's host thread exits and returns its termination
// error, if any (nil on a clean HLT). Consumes the handle: joining twice
// is not supported.
func (f *Facade) Join(vth *Vthread) error {
	<-vth.done
	return vth.err
}

// JoinAll joins every vthread concurrently and returns the first
// termination error encountered, if any. Supplements the single-Join
// surface named in §4.6 for the common case of a fan-out of vthreads that
// should all be waited on together.
func (f *Facade) JoinAll(vths ...*Vthread) error {
	var g errgroup.Group
	for _, vth := range vths {
		vth := vth
		g.Go(func() error {
			return f.Join(vth)
		})
	}
	return g.Wait()
}

// atomicCounter hands out sequential core indices to successive successful
// vCPU creations. Real core-affinity pinning is an operational concern left to the
// hv.Hypervisor backend; this core only needs a stable per-vCPU index to
// address the per-core host MSR interface with.
type atomicCounter struct {
	mu sync.Mutex
	n  int
}

func (c *atomicCounter) next() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.n
	c.n++
	return n
}
