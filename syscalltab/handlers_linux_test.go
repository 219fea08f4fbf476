package syscalltab

import (
	"testing"

	"github.com/elastic/go-seccomp-bpf/arch"

	"github.com/criyle/fstrace/procstate"
	"github.com/criyle/fstrace/tracerapi"
)

// fakeTracer serves canned strings and buffers keyed by remote address,
// so a test can substitute a function returning canned strings per
// remote address instead of attaching to a real process.
type fakeTracer struct {
	strings map[uint64]string
	buffers map[uint64][]byte
}

func newFakeTracer() *fakeTracer {
	return &fakeTracer{strings: map[uint64]string{}, buffers: map[uint64][]byte{}}
}

func (f *fakeTracer) str(addr uint64, s string) *fakeTracer {
	f.strings[addr] = s
	return f
}

func (f *fakeTracer) buf(addr uint64, b []byte) *fakeTracer {
	f.buffers[addr] = b
	return f
}

func (f *fakeTracer) ReadString(pid int, addr uint64) (string, error) {
	s, ok := f.strings[addr]
	if !ok {
		return "", errNoSuchAddr
	}
	return s, nil
}

func (f *fakeTracer) ReadBuffer(pid int, addr uint64, dst []byte) error {
	b, ok := f.buffers[addr]
	if !ok {
		return errNoSuchAddr
	}
	copy(dst, b)
	return nil
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errNoSuchAddr = fakeErr("no such address")

type fakeHandle struct {
	uid   uint64
	image string
	state *procstate.State
}

func (h *fakeHandle) UID() uint64             { return h.uid }
func (h *fakeHandle) Image() string           { return h.image }
func (h *fakeHandle) State() *procstate.State { return h.state }

type fakeRegistry map[int]*fakeHandle

func (r fakeRegistry) Get(pid int) (tracerapi.ProcessHandle, bool) {
	h, ok := r[pid]
	return h, ok
}

func le32(addr uint64, a, b int32) []byte {
	put := func(v int32) []byte {
		u := uint32(v)
		return []byte{byte(u), byte(u >> 8), byte(u >> 16), byte(u >> 24)}
	}
	return append(put(a), put(b)...)
}

func dispatchAll(t *testing.T, d *Dispatcher, tr tracerapi.Tracer, reg tracerapi.ProcessRegistry, events []tracerapi.Args) {
	t.Helper()
	for _, ev := range events {
		if err := d.Dispatch(tr, reg, ev); err != nil {
			t.Fatalf("dispatch %+v: %v", ev, err)
		}
	}
}

func mustDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d, err := NewForArch("amd64")
	if err != nil {
		t.Fatalf("NewForArch(amd64): %v", err)
	}
	return d
}

// S1 — open/write/close
func TestScenario_OpenWriteClose(t *testing.T) {
	d := mustDispatcher(t)
	st := procstate.New(1, "cc", "/", nil)
	reg := fakeRegistry{100: {uid: 1, image: "cc", state: st}}
	tr := newFakeTracer().str(0x1000, "/tmp/a")

	const oWronlyFlag, oCreatFlag, oCloexecFlag = 1, 0100, 02000000
	events := []tracerapi.Args{
		{Pid: 100, SyscallNo: sysno(t, "open"), A: [6]uint64{0x1000, oWronlyFlag | oCreatFlag | oCloexecFlag}, Return: 3},
		{Pid: 100, SyscallNo: sysno(t, "write"), A: [6]uint64{3}, Return: 10},
		{Pid: 100, SyscallNo: sysno(t, "close"), A: [6]uint64{3}, Return: 0},
	}
	dispatchAll(t, d, tr, reg, events)

	if got := st.Outputs().Paths(); len(got) != 1 || got[0] != "/tmp/a" {
		t.Errorf("outputs = %v; want [/tmp/a]", got)
	}
	if len(st.Fds()) != 0 {
		t.Errorf("fd-table = %v; want empty", st.Fds())
	}
}

// S2 — dup + close doesn't lose attribution
func TestScenario_DupClose(t *testing.T) {
	d := mustDispatcher(t)
	st := procstate.New(1, "cc", "/home", nil)
	reg := fakeRegistry{100: {uid: 1, image: "cc", state: st}}
	tr := newFakeTracer().str(0x2000, "x")

	events := []tracerapi.Args{
		{Pid: 100, SyscallNo: sysno(t, "open"), A: [6]uint64{0x2000, 0}, Return: 3},
		{Pid: 100, SyscallNo: sysno(t, "dup"), A: [6]uint64{3}, Return: 4},
		{Pid: 100, SyscallNo: sysno(t, "read"), A: [6]uint64{4}, Return: 5},
		{Pid: 100, SyscallNo: sysno(t, "close"), A: [6]uint64{3}, Return: 0},
	}
	dispatchAll(t, d, tr, reg, events)

	if got := st.Inputs().Paths(); len(got) != 1 || got[0] != "/home/x" {
		t.Errorf("inputs = %v; want [/home/x]", got)
	}
	fds := st.Fds()
	if len(fds) != 1 || fds[4].Target != "/home/x" || fds[4].CloseOnExec {
		t.Errorf("fds = %v; want {4: /home/x false}", fds)
	}
}

// S3 — rename then write
func TestScenario_RenameThenWrite(t *testing.T) {
	d := mustDispatcher(t)
	st := procstate.New(1, "cc", "/", nil)
	reg := fakeRegistry{100: {uid: 1, image: "cc", state: st}}
	tr := newFakeTracer().str(0x10, "/a").str(0x20, "/b")

	events := []tracerapi.Args{
		{Pid: 100, SyscallNo: sysno(t, "open"), A: [6]uint64{0x10, 1}, Return: 3},
		{Pid: 100, SyscallNo: sysno(t, "rename"), A: [6]uint64{0x10, 0x20}, Return: 0},
		{Pid: 100, SyscallNo: sysno(t, "write"), A: [6]uint64{3}, Return: 4},
		{Pid: 100, SyscallNo: sysno(t, "close"), A: [6]uint64{3}, Return: 0},
	}
	dispatchAll(t, d, tr, reg, events)

	if !st.Outputs().Has("/a") || !st.Outputs().Has("/b") {
		t.Errorf("outputs = %v; want superset of [/a /b]", st.Outputs().Paths())
	}
	if !st.Inputs().Has("/a") {
		t.Errorf("inputs = %v; want superset of [/a]", st.Inputs().Paths())
	}
	if renames := st.Renames(); len(renames) != 1 || renames[0] != (procstate.PathOp{Src: "/a", Dst: "/b"}) {
		t.Errorf("renames = %v", renames)
	}
}

// S4 — pipe2 with cloexec, exec
func TestScenario_Pipe2Exec(t *testing.T) {
	d := mustDispatcher(t)
	st := procstate.New(1, "make", "/", nil)
	reg := fakeRegistry{100: {uid: 1, image: "make", state: st}}
	tr := newFakeTracer().buf(0x30, le32(0x30, 7, 8))

	const oCloexecFlag = 02000000
	events := []tracerapi.Args{
		{Pid: 100, SyscallNo: sysno(t, "pipe2"), A: [6]uint64{0x30, oCloexecFlag}, Return: 0},
	}
	dispatchAll(t, d, tr, reg, events)

	if _, ok := st.Fds()[7]; !ok {
		t.Fatalf("fd 7 missing before exec")
	}
	st.ExecPurge()
	if _, ok := st.Fds()[7]; ok {
		t.Errorf("fd 7 survived exec")
	}
	if _, ok := st.Fds()[8]; ok {
		t.Errorf("fd 8 survived exec")
	}
}

// S5 — openat with AT_FDCWD
func TestScenario_OpenatAtFdcwd(t *testing.T) {
	d := mustDispatcher(t)
	st := procstate.New(1, "cc", "/w", nil)
	reg := fakeRegistry{100: {uid: 1, image: "cc", state: st}}
	tr := newFakeTracer().str(0x40, "sub/../f")

	atFdcwd := int64(-100)
	events := []tracerapi.Args{
		{Pid: 100, SyscallNo: sysno(t, "openat"), A: [6]uint64{uint64(atFdcwd), 0x40, 0}, Return: 5},
	}
	dispatchAll(t, d, tr, reg, events)

	if got := st.Fds()[5].Target; got != "/w/f" {
		t.Errorf("fd 5 target = %q; want /w/f", got)
	}
}

// S6 — symlink self-loop ignored
func TestScenario_SymlinkSelfLoop(t *testing.T) {
	d := mustDispatcher(t)
	st := procstate.New(1, "cc", "/", nil)
	reg := fakeRegistry{100: {uid: 1, image: "cc", state: st}}
	tr := newFakeTracer().str(0x50, "./a").str(0x60, "./a")

	events := []tracerapi.Args{
		{Pid: 100, SyscallNo: sysno(t, "symlink"), A: [6]uint64{0x50, 0x60}, Return: 0},
	}
	dispatchAll(t, d, tr, reg, events)

	if links := st.Links(); len(links) != 0 {
		t.Errorf("links = %v; want empty", links)
	}
}

func TestFailedSyscallRecordsNothing(t *testing.T) {
	d := mustDispatcher(t)
	st := procstate.New(1, "cc", "/", nil)
	reg := fakeRegistry{100: {uid: 1, image: "cc", state: st}}
	tr := newFakeTracer().str(0x70, "/does/not/exist")

	events := []tracerapi.Args{
		{Pid: 100, SyscallNo: sysno(t, "open"), A: [6]uint64{0x70, 0}, Return: -2},
	}
	dispatchAll(t, d, tr, reg, events)

	if len(st.Fds()) != 0 || st.Inputs().Len() != 0 || st.Outputs().Len() != 0 {
		t.Errorf("failed syscall mutated state: fds=%v inputs=%v outputs=%v", st.Fds(), st.Inputs().Paths(), st.Outputs().Paths())
	}
}

func TestUnknownFcntlCmdRaisesError(t *testing.T) {
	d := mustDispatcher(t)
	st := procstate.New(1, "cc", "/", nil)
	reg := fakeRegistry{100: {uid: 1, image: "cc", state: st}}
	tr := newFakeTracer()

	ev := tracerapi.Args{Pid: 100, SyscallNo: sysno(t, "fcntl"), A: [6]uint64{3, 9999}, Return: 0}
	err := d.Dispatch(tr, reg, ev)
	if err == nil {
		t.Fatalf("expected an error for unknown fcntl cmd")
	}
}

func TestUnimplementedSyscallsRaise(t *testing.T) {
	d := mustDispatcher(t)
	st := procstate.New(1, "cc", "/", nil)
	reg := fakeRegistry{100: {uid: 1, image: "cc", state: st}}
	tr := newFakeTracer()

	for _, name := range []string{"splice", "flistxattr"} {
		ev := tracerapi.Args{Pid: 100, SyscallNo: sysno(t, name), Return: 0}
		if err := d.Dispatch(tr, reg, ev); err == nil {
			t.Errorf("%s: expected NotImplementedError", name)
		}
	}
}

// sysno resolves a syscall name to its amd64 number via the same
// go-seccomp-bpf/arch table NewForArch itself uses, so tests stay
// correct if the vendored syscall table ever changes numbering.
func sysno(t *testing.T, name string) uint64 {
	t.Helper()
	info, err := arch.GetInfo("amd64")
	if err != nil {
		t.Fatalf("arch.GetInfo(amd64): %v", err)
	}
	for no, n := range info.SyscallNumbers {
		if n == name {
			return uint64(no)
		}
	}
	t.Fatalf("no syscall number for %q on amd64", name)
	return 0
}
