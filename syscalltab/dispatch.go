// Package syscalltab is the syscall dispatcher and handler catalogue: it
// indexes a sparse table from syscall number to a pure function over
// (process state, tracer, args), built by resolving each catalogued
// syscall name against a per-architecture name->number table rather than
// hand-maintaining numeric constants for every target architecture.
package syscalltab

import (
	"fmt"
	"runtime"

	"github.com/elastic/go-seccomp-bpf/arch"

	"github.com/criyle/fstrace/procstate"
	"github.com/criyle/fstrace/tracerapi"
)

type handlerFn func(p *procstate.State, tr tracerapi.Tracer, pid int, a tracerapi.Args) error

// Dispatcher routes syscall-exit events to the handler catalogue. It is
// not safe for concurrent Dispatch calls: dispatch is single-threaded
// cooperative, one event fully processed before the next.
type Dispatcher struct {
	table map[uint64]handlerFn
}

// New builds a Dispatcher for the current process's architecture
// (runtime.GOARCH). Use NewForArch to build one for a trace recorded on
// a different architecture than the one replaying it.
func New() (*Dispatcher, error) {
	return NewForArch(runtime.GOARCH)
}

// NewForArch builds the sparse dispatch table for goarch by resolving
// every catalogued syscall name against that architecture's syscall
// number table. A catalogued name absent from goarch's table (e.g. a
// 32-bit-only syscall on arm64) is simply never inserted — the
// dispatcher's "unknown syscall number" path (silent ignore) then
// handles it the same as any other uncatalogued number, which is how an
// absent syscall is told apart from one explicitly catalogued as a
// no-op.
func NewForArch(goarch string) (*Dispatcher, error) {
	info, err := arch.GetInfo(goarch)
	if err != nil {
		return nil, fmt.Errorf("syscalltab: resolve syscall table for %s: %w", goarch, err)
	}
	byName := make(map[string]uint64, len(info.SyscallNumbers))
	for no, name := range info.SyscallNumbers {
		byName[name] = uint64(no)
	}

	d := &Dispatcher{table: make(map[uint64]handlerFn, len(catalogue))}
	for name, fn := range catalogue {
		if no, ok := byName[name]; ok {
			d.table[no] = fn
		}
	}
	return d, nil
}

// Dispatch routes one syscall-exit event. It looks up the process handle
// via reg, invokes the catalogued handler (nothing happens if the syscall
// number has no entry, or if its entry is the shared no-op handler for an
// explicitly irrelevant syscall), and wraps any escaping error with the syscall number, process uid, and
// executable image. Dispatch never recovers a panic and never swallows a
// handler error; the caller decides whether to abort the whole trace or
// continue with the next event.
func (d *Dispatcher) Dispatch(tr tracerapi.Tracer, reg tracerapi.ProcessRegistry, a tracerapi.Args) error {
	fn, ok := d.table[a.SyscallNo]
	if !ok {
		return nil
	}
	handle, ok := reg.Get(a.Pid)
	if !ok {
		return nil
	}
	if err := fn(handle.State(), tr, a.Pid, a); err != nil {
		return fmt.Errorf("syscall %d in process %d (%s): %w", a.SyscallNo, handle.UID(), handle.Image(), err)
	}
	return nil
}

// Len reports how many syscall numbers this dispatcher actually routes
// on its resolved architecture, mainly useful for tests and diagnostics.
func (d *Dispatcher) Len() int {
	return len(d.table)
}
