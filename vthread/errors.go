package vthread

import "fmt"

// UnhandledExitError terminates the vthread cleanly: the exit reason has
// no dispatch entry, or a CR/MSR access fell outside the supported shape
// (§7 groups both under UnhandledExit). It surfaces through Join as the
// vthread's termination error, not a process abort.
type UnhandledExitError struct {
	Reason string
}

func (e *UnhandledExitError) Error() string {
	return fmt.Sprintf("vthread: unhandled exit: %s", e.Reason)
}

// HypervisorCallFailedError wraps a primitive call that returned failure
// on a path that, per the bootstrap/exit-loop contract, can only fail due
// to a programmer error in VMCS setup (a malformed field write, an
// unknown register). ExitLoop panics with this (via mustOK) rather than
// returning it, matching the "fatal, reported via process abort" handling
// the core's error design gives this class: an unrecovered panic in the
// vthread's dedicated OS thread takes the whole process down.
// VcpuBootstrap does not use it: its primitive-call failures are returned
// as wrapped errors and surface through Join.
type HypervisorCallFailedError struct {
	Op    string
	Cause error
}

func (e *HypervisorCallFailedError) Error() string {
	return fmt.Sprintf("vthread: hypervisor call failed: %s: %v", e.Op, e.Cause)
}

func (e *HypervisorCallFailedError) Unwrap() error { return e.Cause }

func mustOK(op string, err error) {
	if err != nil {
		panic(&HypervisorCallFailedError{Op: op, Cause: err})
	}
}
