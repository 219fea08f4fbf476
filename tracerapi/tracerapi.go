// Package tracerapi defines the interfaces the syscall interpretation
// core consumes but does not implement: the tracer transport that reads
// a traced process's registers and memory, the process registry that
// tracks pid lifecycle, and the sink that a finished process's effect
// record is handed to.
//
// None of these are implemented here — they are external collaborators
// by design: a ptrace loop is injected with a Handler rather than
// calling ptrace syscalls itself, so it can run against a fake in tests.
// This package plays the same role for the file-effect core.
package tracerapi

import "github.com/criyle/fstrace/procstate"

// Args is the decoded syscall-exit event the external tracer delivers:
// the syscall number, its six argument registers, and the return value,
// following kernel convention (Return < 0 means failure).
type Args struct {
	Pid       int
	SyscallNo uint64
	A         [6]uint64
	Return    int64
}

// Tracer reads a traced process's address space. Implementations attach
// via a ptrace-style mechanism; the core only ever calls these two
// methods and never touches ptrace registers or memory directly.
type Tracer interface {
	// ReadString reads a NUL-terminated C string at remote address addr
	// in pid's address space. A failed read must return ("", err); the
	// caller treats that the same as a failed syscall (no effects
	// recorded) rather than a fatal error.
	ReadString(pid int, addr uint64) (string, error)

	// ReadBuffer bulk-reads n bytes at remote address addr in pid's
	// address space into dst. Used by pipe/pipe2 to recover the two
	// output fds the kernel wrote into the traced process's stack.
	ReadBuffer(pid int, addr uint64, dst []byte) error
}

// ProcessHandle is what the registry hands back for a live pid: enough
// to route a syscall event through the dispatcher (uid, image, and the
// actual procstate.State the registry created for this process on
// fork/clone).
type ProcessHandle interface {
	UID() uint64
	Image() string
	State() *procstate.State
}

// ProcessRegistry is the process tree: fork/clone/exec bookkeeping, pid
// reuse, and process-uid assignment. The core never creates or destroys
// process state itself; it asks the registry for the handle bound to a
// pid. The interface carries no lifecycle notifications: creating state
// on fork, calling State.ExecPurge on exec, and handing an exited
// process to Session.Finish are all done by the caller.
type ProcessRegistry interface {
	// Get returns the live process handle for pid, or ok=false if pid is
	// not (or no longer) tracked.
	Get(pid int) (ProcessHandle, bool)
}

// ProcessRecord is what the core hands to the sink when a process exits:
// its accumulated effect sets and structural-operation logs. Field types
// mirror procstate.State's accessors so a caller can assemble one without
// reaching into procstate internals.
type ProcessRecord struct {
	UID      uint64
	Image    string
	Inputs   []string
	Outputs  []string
	Touched  []string
	Renames  []PathOp
	Links    []PathOp
	Removals []string
}

// PathOp mirrors procstate.PathOp as a separate type, so that a
// ProcessRecord is built from tracerapi's own types and a sink author
// does not need to import procstate to consume it.
type PathOp struct {
	Src, Dst string
}

// Sink receives a finished process's effect record. Serialization format,
// file I/O, and compression are entirely the sink's concern.
type Sink interface {
	Finish(rec ProcessRecord)
}
