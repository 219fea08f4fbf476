package fstrace

import (
	"testing"

	"github.com/elastic/go-seccomp-bpf/arch"

	"github.com/criyle/fstrace/procstate"
	"github.com/criyle/fstrace/tracerapi"
)

type fakeTracer struct {
	strings map[uint64]string
}

func (f *fakeTracer) ReadString(pid int, addr uint64) (string, error) {
	s, ok := f.strings[addr]
	if !ok {
		return "", errNotFound
	}
	return s, nil
}

func (f *fakeTracer) ReadBuffer(pid int, addr uint64, dst []byte) error {
	return errNotFound
}

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

const errNotFound = fakeErr("not found")

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

type fakeSink struct {
	records []tracerapi.ProcessRecord
}

func (s *fakeSink) Finish(rec tracerapi.ProcessRecord) {
	s.records = append(s.records, rec)
}

func TestSessionHandleSyscallRecordsOutput(t *testing.T) {
	st := procstate.New(1, "cc", "/", nil)
	reg := fakeRegistry{100: {uid: 1, image: "cc", state: st}}
	tr := &fakeTracer{strings: map[uint64]string{0x10: "/tmp/out"}}
	sink := &fakeSink{}

	s, err := NewForArch(tr, reg, sink, "amd64")
	if err != nil {
		t.Fatalf("NewForArch: %v", err)
	}

	const oWronly, oCreat = 1, 0100
	events := []tracerapi.Args{
		{Pid: 100, SyscallNo: sysno(t, "open"), A: [6]uint64{0x10, oWronly | oCreat}, Return: 3},
		{Pid: 100, SyscallNo: sysno(t, "write"), A: [6]uint64{3}, Return: 4},
	}
	for _, ev := range events {
		if err := s.HandleSyscall(ev); err != nil {
			t.Fatalf("HandleSyscall(%+v): %v", ev, err)
		}
	}

	s.Finish(reg[100])
	if len(sink.records) != 1 {
		t.Fatalf("sink got %d records; want 1", len(sink.records))
	}
	rec := sink.records[0]
	if rec.UID != 1 || rec.Image != "cc" {
		t.Errorf("record = %+v; want uid=1 image=cc", rec)
	}
	if len(rec.Outputs) != 1 || rec.Outputs[0] != "/tmp/out" {
		t.Errorf("outputs = %v; want [/tmp/out]", rec.Outputs)
	}
}

func TestSessionHandleSyscallPropagatesHandlerError(t *testing.T) {
	st := procstate.New(1, "cc", "/", nil)
	reg := fakeRegistry{100: {uid: 1, image: "cc", state: st}}
	tr := &fakeTracer{strings: map[uint64]string{}}
	sink := &fakeSink{}

	s, err := NewForArch(tr, reg, sink, "amd64")
	if err != nil {
		t.Fatalf("NewForArch: %v", err)
	}

	ev := tracerapi.Args{Pid: 100, SyscallNo: sysno(t, "fcntl"), A: [6]uint64{3, 9999}, Return: 0}
	if err := s.HandleSyscall(ev); err == nil {
		t.Fatalf("expected an error for an unknown fcntl cmd")
	}
}

func TestSessionUnknownPidIsIgnored(t *testing.T) {
	reg := fakeRegistry{}
	tr := &fakeTracer{strings: map[uint64]string{}}
	sink := &fakeSink{}

	s, err := NewForArch(tr, reg, sink, "amd64")
	if err != nil {
		t.Fatalf("NewForArch: %v", err)
	}

	ev := tracerapi.Args{Pid: 999, SyscallNo: sysno(t, "close"), Return: 0}
	if err := s.HandleSyscall(ev); err != nil {
		t.Fatalf("HandleSyscall(unknown pid) = %v; want nil", err)
	}
	if len(sink.records) != 0 {
		t.Fatalf("sink got records for an event with no matching process")
	}
}

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
