// Package fstrace wires the path normalizer, process state, and syscall
// dispatcher into a single Session that a tracer driver feeds with
// decoded syscall-exit events. It owns no tracer transport and no
// process registry itself — those are supplied by the caller, exactly as
// runner/ptrace.Runner is handed a Handler rather than implementing
// ptrace itself.
package fstrace

import (
	"fmt"
	"os"

	"github.com/criyle/fstrace/procstate"
	"github.com/criyle/fstrace/syscalltab"
	"github.com/criyle/fstrace/tracerapi"
)

// Session decodes a traced build's syscall-exit events into per-process
// file-effect records.
type Session struct {
	// Tracer reads the traced processes' memory; Registry resolves a pid
	// to its process handle. Both are supplied by the caller.
	Tracer   tracerapi.Tracer
	Registry tracerapi.ProcessRegistry

	// Sink receives a ProcessRecord whenever the caller reports a process
	// has exited, via Finish.
	Sink tracerapi.Sink

	// ShowDetails, when set, writes every dispatched event and any
	// handler error to stderr.
	ShowDetails bool

	dispatcher *syscalltab.Dispatcher
}

// New builds a Session for the host architecture (runtime.GOARCH).
func New(tr tracerapi.Tracer, reg tracerapi.ProcessRegistry, sink tracerapi.Sink) (*Session, error) {
	return NewForArch(tr, reg, sink, "")
}

// NewForArch builds a Session whose dispatch table is resolved for
// goarch, for replaying a trace recorded on an architecture other than
// the one doing the replaying. An empty goarch uses the host's.
func NewForArch(tr tracerapi.Tracer, reg tracerapi.ProcessRegistry, sink tracerapi.Sink, goarch string) (*Session, error) {
	var d *syscalltab.Dispatcher
	var err error
	if goarch == "" {
		d, err = syscalltab.New()
	} else {
		d, err = syscalltab.NewForArch(goarch)
	}
	if err != nil {
		return nil, fmt.Errorf("fstrace: build session: %w", err)
	}
	return &Session{Tracer: tr, Registry: reg, Sink: sink, dispatcher: d}, nil
}

// HandleSyscall routes one decoded syscall-exit event through the
// dispatcher. An unknown pid or syscall number is silently ignored, per
// syscalltab.Dispatcher.Dispatch's contract; the caller decides what to
// do with a propagated handler error (abort the trace, or log and
// continue with the next event).
func (s *Session) HandleSyscall(a tracerapi.Args) error {
	s.debugf("syscall %d pid=%d ret=%d", a.SyscallNo, a.Pid, a.Return)
	if err := s.dispatcher.Dispatch(s.Tracer, s.Registry, a); err != nil {
		s.debugf("  error: %v", err)
		return err
	}
	return nil
}

// Finish assembles handle's accumulated state into a ProcessRecord and
// hands it to the sink. The caller invokes this once per process, on
// observing that process's exit — the session itself never learns about
// process lifecycle beyond the syscalls it is handed.
func (s *Session) Finish(handle tracerapi.ProcessHandle) {
	st := handle.State()
	rec := tracerapi.ProcessRecord{
		UID:      handle.UID(),
		Image:    handle.Image(),
		Inputs:   st.Inputs().Paths(),
		Outputs:  st.Outputs().Paths(),
		Touched:  st.Touched().Paths(),
		Renames:  toAPIOps(st.Renames()),
		Links:    toAPIOps(st.Links()),
		Removals: st.Removals(),
	}
	s.debugf("finish uid=%d image=%s inputs=%d outputs=%d touched=%d",
		rec.UID, rec.Image, len(rec.Inputs), len(rec.Outputs), len(rec.Touched))
	s.Sink.Finish(rec)
}

func toAPIOps(ops []procstate.PathOp) []tracerapi.PathOp {
	out := make([]tracerapi.PathOp, len(ops))
	for i, op := range ops {
		out[i] = tracerapi.PathOp{Src: op.Src, Dst: op.Dst}
	}
	return out
}

func (s *Session) debugf(format string, v ...interface{}) {
	if s.ShowDetails {
		fmt.Fprintf(os.Stderr, format+"\n", v...)
	}
}
