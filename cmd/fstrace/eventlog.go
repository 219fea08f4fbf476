package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/criyle/fstrace/procstate"
	"github.com/criyle/fstrace/tracerapi"
)

// eventLog is the on-disk JSON shape this command replays. There is no
// live ptrace attachment in replay mode, so every event carries its own
// decoded remote strings and buffers inline rather than an address the
// command would need a real Tracer to resolve.
type eventLog struct {
	Processes []processSpec `json:"processes"`
	Events    []eventSpec   `json:"events"`
}

type processSpec struct {
	Pid   int    `json:"pid"`
	UID   uint64 `json:"uid"`
	Image string `json:"image"`
	Cwd   string `json:"cwd"`
}

type eventSpec struct {
	Pid       int               `json:"pid"`
	Syscall   string            `json:"syscall"`
	Args      [6]uint64         `json:"args"`
	Return    int64             `json:"return"`
	Strings   map[uint64]string `json:"strings,omitempty"`
	Buffers   map[uint64]string `json:"buffers,omitempty"` // hex-encoded
	ExecBegin bool              `json:"exec_begin,omitempty"`
}

func decodeEventLog(r io.Reader) (*eventLog, error) {
	var log eventLog
	if err := json.NewDecoder(r).Decode(&log); err != nil {
		return nil, fmt.Errorf("decode event log: %w", err)
	}
	return &log, nil
}

// replayRegistry is a fixed-at-load-time tracerapi.ProcessRegistry built
// from an eventLog's process list; exec transitions purge close-on-exec
// fds between events via the replay driver, not the registry itself.
type replayRegistry map[int]*replayHandle

type replayHandle struct {
	uid   uint64
	image string
	state *procstate.State
}

func (h *replayHandle) UID() uint64             { return h.uid }
func (h *replayHandle) Image() string           { return h.image }
func (h *replayHandle) State() *procstate.State { return h.state }

func (r replayRegistry) Get(pid int) (tracerapi.ProcessHandle, bool) {
	h, ok := r[pid]
	return h, ok
}

func newReplayRegistry(procs []processSpec) replayRegistry {
	reg := make(replayRegistry, len(procs))
	for _, p := range procs {
		reg[p.Pid] = &replayHandle{
			uid:   p.UID,
			image: p.Image,
			state: procstate.New(p.UID, p.Image, p.Cwd, nil),
		}
	}
	return reg
}

// replayTracer resolves ReadString/ReadBuffer against one event's inline
// strings/buffers at a time; the driver points it at the current event
// before dispatching it.
type replayTracer struct {
	cur *eventSpec
}

func (t *replayTracer) ReadString(pid int, addr uint64) (string, error) {
	if t.cur == nil {
		return "", fmt.Errorf("replay: no current event")
	}
	s, ok := t.cur.Strings[addr]
	if !ok {
		return "", fmt.Errorf("replay: no string recorded at address %#x for pid %d", addr, pid)
	}
	return s, nil
}

func (t *replayTracer) ReadBuffer(pid int, addr uint64, dst []byte) error {
	if t.cur == nil {
		return fmt.Errorf("replay: no current event")
	}
	raw, ok := t.cur.Buffers[addr]
	if !ok {
		return fmt.Errorf("replay: no buffer recorded at address %#x for pid %d", addr, pid)
	}
	decoded, err := decodeHex(raw)
	if err != nil {
		return fmt.Errorf("replay: decode buffer at %#x: %w", addr, err)
	}
	n := copy(dst, decoded)
	if n < len(dst) {
		return fmt.Errorf("replay: buffer at %#x too short: got %d bytes, want %d", addr, n, len(dst))
	}
	return nil
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, err := hexDigit(s[2*i])
		if err != nil {
			return nil, err
		}
		lo, err := hexDigit(s[2*i+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexDigit(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", c)
	}
}
