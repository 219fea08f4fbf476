// Package procstate tracks the per-process virtual state a syscall
// interpreter needs: the current working directory, the file-descriptor
// table, and the three file-effect sets (inputs, outputs, touched) plus
// the ordered structural-operation logs (renames, links, removals).
//
// The set type here plays a role similar to a ptrace file-permission
// checker's FileSet — a deduplicating string set keyed by path — but
// simplified down to plain membership (this package tracks what a
// process actually did, not what it is permitted to do, so hierarchical
// wildcard matching isn't needed).
package procstate

import "fmt"

// FdEntry is the target and close-on-exec bit bound to one integer file
// descriptor. Target is never empty for a present entry (I-fd).
type FdEntry struct {
	Target      string
	CloseOnExec bool
}

// PathOp is one rename or link: src is treated as an input (rename) or
// touched (link); dst is always treated as an output.
type PathOp struct {
	Src, Dst string
}

// PathSet is a deduplicating set of absolute paths, in first-insertion
// order so a sink can emit deterministic output.
type PathSet struct {
	order []string
	index map[string]struct{}
}

func newPathSet() PathSet {
	return PathSet{index: make(map[string]struct{})}
}

// Add inserts path, a no-op if already present.
func (s *PathSet) Add(path string) {
	if _, ok := s.index[path]; ok {
		return
	}
	s.index[path] = struct{}{}
	s.order = append(s.order, path)
}

// Has reports set membership.
func (s *PathSet) Has(path string) bool {
	_, ok := s.index[path]
	return ok
}

// Paths returns the set's members in insertion order. The caller must not
// mutate the returned slice.
func (s *PathSet) Paths() []string {
	return s.order
}

// Len returns the number of distinct paths in the set.
func (s *PathSet) Len() int {
	return len(s.order)
}

// State is the virtual state of one traced process between fork and exit.
type State struct {
	// UID is the registry-assigned stable identifier for this process,
	// distinct from the OS pid.
	UID uint64
	// Image is the executable name, used only for diagnostic wrapping.
	Image string

	cwd string
	fds map[int]FdEntry

	inputs, outputs, touched PathSet

	renames, links []PathOp
	removals       []string
}

// New creates process state for a freshly observed fork/clone, inheriting
// cwd and a snapshot of the parent's fd-table. parentFds may be nil for a
// process with no tracked parent (the very first traced process).
func New(uid uint64, image, cwd string, parentFds map[int]FdEntry) *State {
	fds := make(map[int]FdEntry, len(parentFds))
	for fd, e := range parentFds {
		fds[fd] = e
	}
	return &State{
		UID:     uid,
		Image:   image,
		cwd:     cwd,
		fds:     fds,
		inputs:  newPathSet(),
		outputs: newPathSet(),
		touched: newPathSet(),
	}
}

// Cwd returns the process's current working directory, always absolute
// and normalized.
func (s *State) Cwd() string {
	return s.cwd
}

// SetCwd replaces cwd. path must already be absolute and normalized; the
// caller (a chdir/fchdir handler) is responsible for that via pathres.
func (s *State) SetCwd(path string) {
	s.cwd = path
}

// MapFd installs or overwrites the fd-entry for fd, close_on_exec=false.
func (s *State) MapFd(fd int, target string) {
	s.fds[fd] = FdEntry{Target: target, CloseOnExec: false}
}

// SetCloseExec flips the close-on-exec bit on fd, a no-op if fd is
// unknown.
func (s *State) SetCloseExec(fd int, closeOnExec bool) {
	e, ok := s.fds[fd]
	if !ok {
		return
	}
	e.CloseOnExec = closeOnExec
	s.fds[fd] = e
}

// DupFd copies src's fd-entry into dst, resetting close_on_exec to false
// (dup/dup2/dup3 semantics — the dup3 handler sets it explicitly
// afterward). A no-op if src is unknown, matching "ignore as if the
// syscall failed" rather than fabricating an entry.
func (s *State) DupFd(src, dst int) {
	e, ok := s.fds[src]
	if !ok {
		return
	}
	if src == dst {
		// dup2(a, a)/dup3(a, a) is a no-op on close_on_exec per kernel
		// semantics: preserve the existing flag instead of resetting it.
		return
	}
	s.fds[dst] = FdEntry{Target: e.Target, CloseOnExec: false}
}

// CloseFd removes fd's entry, a no-op if unknown.
func (s *State) CloseFd(fd int) {
	delete(s.fds, fd)
}

// Pipe installs two fd-entries sharing a synthetic pipe target. The
// target need not be unique across pipe() calls.
func (s *State) Pipe(rfd, wfd int) {
	const target = "/proc/pipe"
	s.fds[rfd] = FdEntry{Target: target}
	s.fds[wfd] = FdEntry{Target: target}
}

// GetFd returns fd's target, or an error if fd is absent.
func (s *State) GetFd(fd int) (string, error) {
	e, ok := s.fds[fd]
	if !ok {
		return "", fmt.Errorf("procstate: fd %d not open", fd)
	}
	return e.Target, nil
}

// ResolveDirfd resolves an *at-family dirfd argument to a base directory:
// AT_FDCWD (atFdcwd) resolves to cwd, any other value is looked up in the
// fd-table. Returns ok=false if dirfd names an fd this process does not
// have open — callers must then treat the syscall as failed.
func (s *State) ResolveDirfd(dirfd int, atFdcwd int) (string, bool) {
	if dirfd == atFdcwd {
		return s.cwd, true
	}
	target, err := s.GetFd(dirfd)
	if err != nil {
		return "", false
	}
	return target, true
}

// AddInput records path as read. path must already be normalized.
func (s *State) AddInput(path string) {
	s.inputs.Add(path)
}

// AddOutput records path as written/created/truncated.
func (s *State) AddOutput(path string) {
	s.outputs.Add(path)
}

// AddTouched records path as merely inspected.
func (s *State) AddTouched(path string) {
	s.touched.Add(path)
}

// AddInputFd resolves fd and records its target as read. A no-op if fd's
// entry is missing.
func (s *State) AddInputFd(fd int) {
	if t, err := s.GetFd(fd); err == nil {
		s.inputs.Add(t)
	}
}

// AddOutputFd is AddInputFd's write-side counterpart.
func (s *State) AddOutputFd(fd int) {
	if t, err := s.GetFd(fd); err == nil {
		s.outputs.Add(t)
	}
}

// AddTouchedFd is AddInputFd's stat-side counterpart.
func (s *State) AddTouchedFd(fd int) {
	if t, err := s.GetFd(fd); err == nil {
		s.touched.Add(t)
	}
}

// Rename appends (src,dst) to the rename sequence and additionally
// records src as an input and dst as an output, since a rename both
// consumes the old name and produces the new one for dependency purposes.
func (s *State) Rename(src, dst string) {
	s.renames = append(s.renames, PathOp{Src: src, Dst: dst})
	s.inputs.Add(src)
	s.outputs.Add(dst)
}

// Link appends (src,dst) to the link sequence, records src as touched and
// dst as an output.
func (s *State) Link(src, dst string) {
	s.links = append(s.links, PathOp{Src: src, Dst: dst})
	s.touched.Add(src)
	s.outputs.Add(dst)
}

// Remove appends path to the removal sequence and records it as an
// output.
func (s *State) Remove(path string) {
	s.removals = append(s.removals, path)
	s.outputs.Add(path)
}

// ExecPurge drops every fd-entry whose close_on_exec bit is set, applied
// on a successful exec transition.
func (s *State) ExecPurge() {
	for fd, e := range s.fds {
		if e.CloseOnExec {
			delete(s.fds, fd)
		}
	}
}

// FdSnapshot returns a copy of the fd-table, suitable for seeding a
// forked child's state via New.
func (s *State) FdSnapshot() map[int]FdEntry {
	out := make(map[int]FdEntry, len(s.fds))
	for fd, e := range s.fds {
		out[fd] = e
	}
	return out
}

// Fds exposes the live fd-table for tests and invariant checks. Callers
// must not mutate the returned map.
func (s *State) Fds() map[int]FdEntry {
	return s.fds
}

// Inputs, Outputs, Touched return the three effect sets.
func (s *State) Inputs() *PathSet  { return &s.inputs }
func (s *State) Outputs() *PathSet { return &s.outputs }
func (s *State) Touched() *PathSet { return &s.touched }

// Renames, Links, Removals return the ordered structural-operation logs.
func (s *State) Renames() []PathOp  { return s.renames }
func (s *State) Links() []PathOp    { return s.links }
func (s *State) Removals() []string { return s.removals }
