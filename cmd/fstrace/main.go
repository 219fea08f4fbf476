// Command fstrace replays a recorded syscall-exit event log through the
// fstrace syscall interpretation core and prints each process's resulting
// file-effect record, for manual inspection and demos.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/elastic/go-seccomp-bpf/arch"

	"github.com/criyle/fstrace"
	"github.com/criyle/fstrace/tracerapi"
)

var (
	eventsPath  string
	showDetails bool
	goarch      string
)

func main() {
	flag.Usage = printUsage
	flag.StringVar(&eventsPath, "events", "", "Path to a recorded JSON event log")
	flag.BoolVar(&showDetails, "debug", false, "Show each dispatched event and any handler error")
	flag.StringVar(&goarch, "arch", "", "Architecture the trace was recorded on (default: host)")
	flag.Parse()

	if eventsPath == "" {
		printUsage()
	}

	if err := run(); err != nil {
		debug(err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	f, err := os.Open(eventsPath)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	log, err := decodeEventLog(f)
	if err != nil {
		return err
	}

	names, err := syscallNumbers(goarch)
	if err != nil {
		return err
	}

	reg := newReplayRegistry(log.Processes)
	tr := &replayTracer{}
	sink := &printSink{}

	sess, err := fstrace.NewForArch(tr, reg, sink, goarch)
	if err != nil {
		return fmt.Errorf("build session: %w", err)
	}
	sess.ShowDetails = showDetails

	for i := range log.Events {
		ev := &log.Events[i]
		tr.cur = ev

		no, ok := names[ev.Syscall]
		if !ok {
			debug("skipping unresolved syscall", ev.Syscall, "on", goarch)
			continue
		}
		a := tracerapi.Args{Pid: ev.Pid, SyscallNo: no, A: ev.Args, Return: ev.Return}
		if err := sess.HandleSyscall(a); err != nil {
			debug(err)
			continue
		}
		if ev.ExecBegin {
			if handle, ok := reg.Get(ev.Pid); ok {
				handle.State().ExecPurge()
			}
		}
	}

	for _, h := range reg {
		sess.Finish(h)
	}
	return nil
}

// syscallNumbers resolves the same per-architecture table syscalltab
// itself builds its dispatch table from, reused here to translate the
// event log's syscall names into the numbers tracerapi.Args expects.
func syscallNumbers(goarch string) (map[string]uint64, error) {
	if goarch == "" {
		goarch = runtime.GOARCH
	}
	info, err := arch.GetInfo(goarch)
	if err != nil {
		return nil, fmt.Errorf("resolve syscall table for %s: %w", goarch, err)
	}
	out := make(map[string]uint64, len(info.SyscallNumbers))
	for no, name := range info.SyscallNumbers {
		out[name] = uint64(no)
	}
	return out, nil
}

type printSink struct{}

func (s *printSink) Finish(rec tracerapi.ProcessRecord) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(rec)
}

func printUsage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s -events <path> [-debug] [-arch <goarch>]\n", os.Args[0])
	flag.PrintDefaults()
	os.Exit(2)
}

func debug(v ...interface{}) {
	if showDetails {
		fmt.Fprintln(os.Stderr, v...)
	}
}
