package syscalltab

import (
	"github.com/criyle/fstrace/pathres"
	"github.com/criyle/fstrace/procstate"
	"github.com/criyle/fstrace/tracerapi"
)

// readStr reads the NUL-terminated string argument at addr in pid's
// address space. A failed remote read degrades to ("", false) — the
// caller treats that exactly like the syscall itself having failed.
func readStr(tr tracerapi.Tracer, pid int, addr uint64) (string, bool) {
	s, err := tr.ReadString(pid, addr)
	if err != nil {
		return "", false
	}
	return s, true
}

// joinName reattaches a raw (unnormalized) filename onto an already
// normalized parent directory — used by link/symlink/getxattr, which
// normalize only the parent and keep the operand's own last path
// component verbatim.
func joinName(parent, name string) string {
	if parent == "/" {
		return pathres.Clean("/" + name)
	}
	return pathres.Clean(parent + "/" + name)
}

// normCwd resolves path against the process's cwd.
func normCwd(p *procstate.State, path string) string {
	return pathres.Resolve(p.Cwd(), path)
}

// normAt resolves path against dirfd, which may be AT_FDCWD or a real
// fd. ok is false if dirfd names an fd the process does not have open —
// the caller must then treat the syscall as if it had failed.
func normAt(p *procstate.State, dirfd int, path string) (string, bool) {
	base, ok := p.ResolveDirfd(dirfd, atFdcwd)
	if !ok {
		return "", false
	}
	return pathres.Resolve(base, path), true
}

func arg(a tracerapi.Args, i int) uint64 { return a.A[i] }
func sarg(a tracerapi.Args, i int) int64 { return int64(a.A[i]) }

// --- plain fd-effect handlers: read/write family -----------------------

func hRead(p *procstate.State, _ tracerapi.Tracer, _ int, a tracerapi.Args) error {
	if a.Return >= 0 {
		p.AddInputFd(int(sarg(a, 0)))
	}
	return nil
}

func hWrite(p *procstate.State, _ tracerapi.Tracer, _ int, a tracerapi.Args) error {
	if a.Return >= 0 {
		// writev is treated identically to write: both are output effects
		// on the fd's target.
		p.AddOutputFd(int(sarg(a, 0)))
	}
	return nil
}

func hFstat(p *procstate.State, _ tracerapi.Tracer, _ int, a tracerapi.Args) error {
	if a.Return >= 0 {
		p.AddTouchedFd(int(sarg(a, 0)))
	}
	return nil
}

// --- open family ---------------------------------------------------------

func hOpen(p *procstate.State, tr tracerapi.Tracer, pid int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	raw, ok := readStr(tr, pid, arg(a, 0))
	if !ok {
		return nil
	}
	flags := arg(a, 1)
	path := normCwd(p, raw)
	fd := int(a.Return)
	p.MapFd(fd, path)
	p.SetCloseExec(fd, flags&oCloexec != 0)
	return nil
}

func hOpenat(p *procstate.State, tr tracerapi.Tracer, pid int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	raw, ok := readStr(tr, pid, arg(a, 1))
	if !ok {
		return nil
	}
	path, ok := normAt(p, int(sarg(a, 0)), raw)
	if !ok {
		return nil
	}
	flags := arg(a, 2)
	fd := int(a.Return)
	p.MapFd(fd, path)
	p.SetCloseExec(fd, flags&oCloexec != 0)
	return nil
}

func hClose(p *procstate.State, _ tracerapi.Tracer, _ int, a tracerapi.Args) error {
	if a.Return >= 0 {
		p.CloseFd(int(sarg(a, 0)))
	}
	return nil
}

// --- stat family -----------------------------------------------------------

func hStatPath(p *procstate.State, tr tracerapi.Tracer, pid int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	raw, ok := readStr(tr, pid, arg(a, 0))
	if !ok {
		return nil
	}
	p.AddTouched(normCwd(p, raw))
	return nil
}

func hFaccessat(p *procstate.State, tr tracerapi.Tracer, pid int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	raw, ok := readStr(tr, pid, arg(a, 1))
	if !ok {
		return nil
	}
	path, ok := normAt(p, int(sarg(a, 0)), raw)
	if !ok {
		return nil
	}
	p.AddTouched(path)
	return nil
}

func hNewfstatat(p *procstate.State, tr tracerapi.Tracer, pid int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	raw, ok := readStr(tr, pid, arg(a, 1))
	if !ok {
		return nil
	}
	path, ok := normAt(p, int(sarg(a, 0)), raw)
	if !ok {
		return nil
	}
	p.AddTouched(path)
	return nil
}

// --- mmap --------------------------------------------------------------

func hMmap(p *procstate.State, _ tracerapi.Tracer, _ int, a tracerapi.Args) error {
	fd := int(sarg(a, 4))
	prot := arg(a, 2)
	flags := arg(a, 3)
	// This compares Return against MAP_ANON (a flag constant, not the
	// kernel's MAP_FAILED sentinel) and applies the effect regardless of
	// whether the mapping call actually succeeded — preserved as the
	// observed behavior rather than "fixed" to compare against
	// MAP_FAILED.
	if fd != -1 && a.Return != int64(mapAnon) {
		if flags&mapShared != 0 && prot&protWrite != 0 {
			p.AddOutputFd(fd)
		} else {
			p.AddInputFd(fd)
		}
	}
	return nil
}

// --- pipe family ---------------------------------------------------------

func readFdPair(tr tracerapi.Tracer, pid int, addr uint64) (int32, int32, bool) {
	var buf [8]byte
	if err := tr.ReadBuffer(pid, addr, buf[:]); err != nil {
		// A failed buffer read here violates the tracer contract: the
		// kernel is documented to have written both fds once return >= 0.
		return 0, 0, false
	}
	le := func(b []byte) int32 {
		return int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
	}
	return le(buf[0:4]), le(buf[4:8]), true
}

func hPipe(p *procstate.State, tr tracerapi.Tracer, pid int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	rfd, wfd, ok := readFdPair(tr, pid, arg(a, 0))
	if !ok {
		return &tracerContractError{"pipe"}
	}
	p.Pipe(int(rfd), int(wfd))
	return nil
}

func hPipe2(p *procstate.State, tr tracerapi.Tracer, pid int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	rfd, wfd, ok := readFdPair(tr, pid, arg(a, 0))
	if !ok {
		return &tracerContractError{"pipe2"}
	}
	p.Pipe(int(rfd), int(wfd))
	closeExec := arg(a, 1)&oCloexec != 0
	p.SetCloseExec(int(rfd), closeExec)
	p.SetCloseExec(int(wfd), closeExec)
	return nil
}

// --- dup family ----------------------------------------------------------

func hDup(p *procstate.State, _ tracerapi.Tracer, _ int, a tracerapi.Args) error {
	if a.Return >= 0 {
		p.DupFd(int(sarg(a, 0)), int(a.Return))
	}
	return nil
}

func hDup2(p *procstate.State, _ tracerapi.Tracer, _ int, a tracerapi.Args) error {
	if a.Return >= 0 {
		p.DupFd(int(sarg(a, 0)), int(a.Return))
	}
	return nil
}

func hDup3(p *procstate.State, _ tracerapi.Tracer, _ int, a tracerapi.Args) error {
	oldfd := int(sarg(a, 0))
	newfd := int(sarg(a, 1))
	flags := arg(a, 2)
	if a.Return >= 0 {
		p.DupFd(oldfd, newfd)
	}
	// SetCloseExec is applied unconditionally, even when Return < 0 —
	// preserved as the observed (likely buggy) behavior rather than
	// gated on success.
	p.SetCloseExec(newfd, flags&oCloexec != 0)
	return nil
}

// --- sockets / epoll / eventfd --------------------------------------------

func hSocket(p *procstate.State, _ tracerapi.Tracer, _ int, a tracerapi.Args) error {
	if a.Return >= 0 {
		p.MapFd(int(a.Return), "/proc/network")
	}
	return nil
}

func hEpollCreate(p *procstate.State, _ tracerapi.Tracer, pid int, a tracerapi.Args) error {
	if a.Return >= 0 {
		p.MapFd(int(a.Return), epollTarget(pid))
	}
	return nil
}

func hEventfd2(p *procstate.State, _ tracerapi.Tracer, pid int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	fd := int(a.Return)
	p.MapFd(fd, eventTarget(pid))
	p.SetCloseExec(fd, arg(a, 1)&efdCloexec != 0)
	return nil
}

// --- fcntl -----------------------------------------------------------------

func hFcntl(p *procstate.State, _ tracerapi.Tracer, _ int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	fd := int(sarg(a, 0))
	cmd := sarg(a, 1)
	switch cmd {
	case fDupfd:
		p.DupFd(fd, int(a.Return))
	case fDupfdCloexec:
		p.DupFd(fd, int(a.Return))
		// Clears close-on-exec after duplicating, the opposite of what
		// F_DUPFD_CLOEXEC is supposed to do. Preserved to match the
		// observed behavior rather than the documented kernel semantics.
		p.SetCloseExec(int(a.Return), false)
	case fSetfd:
		p.SetCloseExec(fd, arg(a, 2)&fdCloexec != 0)
	case fGetfd, fGetfl, fSetfl, fGetlk, fSetlk, fSetlkw, fOfdGetlk, fOfdSetlk, fOfdSetlkw:
		// no-op
	default:
		return &UnknownOpError{Syscall: "fcntl", Op: cmd}
	}
	return nil
}

// --- misc fd-output handlers ------------------------------------------

func hOutputFd(p *procstate.State, _ tracerapi.Tracer, _ int, a tracerapi.Args) error {
	if a.Return >= 0 {
		p.AddOutputFd(int(sarg(a, 0)))
	}
	return nil
}

// --- cwd -------------------------------------------------------------------

func hChdir(p *procstate.State, tr tracerapi.Tracer, pid int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	raw, ok := readStr(tr, pid, arg(a, 0))
	if !ok {
		return nil
	}
	p.SetCwd(normCwd(p, raw))
	return nil
}

func hFchdir(p *procstate.State, _ tracerapi.Tracer, _ int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	target, err := p.GetFd(int(sarg(a, 0)))
	if err != nil {
		return nil
	}
	p.SetCwd(target)
	return nil
}

// --- rename ----------------------------------------------------------------

func hRename(p *procstate.State, tr tracerapi.Tracer, pid int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	srcRaw, ok := readStr(tr, pid, arg(a, 0))
	if !ok {
		return nil
	}
	dstRaw, ok := readStr(tr, pid, arg(a, 1))
	if !ok {
		return nil
	}
	p.Rename(normCwd(p, srcRaw), normCwd(p, dstRaw))
	return nil
}

func hRenameat(p *procstate.State, tr tracerapi.Tracer, pid int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	srcRaw, ok := readStr(tr, pid, arg(a, 1))
	if !ok {
		return nil
	}
	dstRaw, ok := readStr(tr, pid, arg(a, 3))
	if !ok {
		return nil
	}
	src, ok := normAt(p, int(sarg(a, 0)), srcRaw)
	if !ok {
		return nil
	}
	dst, ok := normAt(p, int(sarg(a, 2)), dstRaw)
	if !ok {
		return nil
	}
	p.Rename(src, dst)
	return nil
}

// --- mkdir / rmdir / unlink ------------------------------------------------

func hMkdirPath(p *procstate.State, tr tracerapi.Tracer, pid int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	raw, ok := readStr(tr, pid, arg(a, 0))
	if !ok {
		return nil
	}
	p.AddOutput(normCwd(p, raw))
	return nil
}

func hMkdirat(p *procstate.State, tr tracerapi.Tracer, pid int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	raw, ok := readStr(tr, pid, arg(a, 1))
	if !ok {
		return nil
	}
	path, ok := normAt(p, int(sarg(a, 0)), raw)
	if !ok {
		return nil
	}
	p.AddOutput(path)
	return nil
}

func hRemovePath(p *procstate.State, tr tracerapi.Tracer, pid int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	raw, ok := readStr(tr, pid, arg(a, 0))
	if !ok {
		return nil
	}
	p.Remove(normCwd(p, raw))
	return nil
}

func hUnlinkat(p *procstate.State, tr tracerapi.Tracer, pid int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	raw, ok := readStr(tr, pid, arg(a, 1))
	if !ok {
		return nil
	}
	path, ok := normAt(p, int(sarg(a, 0)), raw)
	if !ok {
		return nil
	}
	p.Remove(path)
	return nil
}

// --- link / linkat / symlink ------------------------------------------

func hLink(p *procstate.State, tr tracerapi.Tracer, pid int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	srcRaw, ok := readStr(tr, pid, arg(a, 0))
	if !ok {
		return nil
	}
	dstRaw, ok := readStr(tr, pid, arg(a, 1))
	if !ok {
		return nil
	}
	src := normCwd(p, srcRaw)
	dstParent := normCwd(p, pathres.ParentOf(dstRaw))
	dst := joinName(dstParent, pathres.Filename(dstRaw))
	p.Link(src, dst)
	return nil
}

func hLinkat(p *procstate.State, tr tracerapi.Tracer, pid int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	srcRaw, ok := readStr(tr, pid, arg(a, 1))
	if !ok {
		return nil
	}
	dstRaw, ok := readStr(tr, pid, arg(a, 3))
	if !ok {
		return nil
	}
	src, ok := normAt(p, int(sarg(a, 0)), srcRaw)
	if !ok {
		return nil
	}
	dstParent, ok := normAt(p, int(sarg(a, 2)), pathres.ParentOf(dstRaw))
	if !ok {
		return nil
	}
	dst := joinName(dstParent, pathres.Filename(dstRaw))
	p.Link(src, dst)
	return nil
}

func hSymlink(p *procstate.State, tr tracerapi.Tracer, pid int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	srcRaw, ok := readStr(tr, pid, arg(a, 0))
	if !ok {
		return nil
	}
	dstRaw, ok := readStr(tr, pid, arg(a, 1))
	if !ok {
		return nil
	}
	parent := normCwd(p, pathres.ParentOf(dstRaw))
	srcPath := pathres.Resolve(parent, srcRaw)
	dstPath := joinName(parent, pathres.Filename(dstRaw))
	if srcPath == dstPath {
		// configure-style self-referential symlinks are observed in the
		// wild and carry no dependency information; skip them.
		return nil
	}
	p.Link(srcPath, dstPath)
	return nil
}

// --- readlink family ---------------------------------------------------

func hReadlink(p *procstate.State, tr tracerapi.Tracer, pid int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	raw, ok := readStr(tr, pid, arg(a, 0))
	if !ok {
		return nil
	}
	p.AddInput(normCwd(p, raw))
	return nil
}

func hReadlinkat(p *procstate.State, tr tracerapi.Tracer, pid int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	raw, ok := readStr(tr, pid, arg(a, 1))
	if !ok {
		return nil
	}
	path, ok := normAt(p, int(sarg(a, 0)), raw)
	if !ok {
		return nil
	}
	p.AddInput(path)
	return nil
}

// --- utime -------------------------------------------------------------

func hUtime(p *procstate.State, tr tracerapi.Tracer, pid int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	raw, ok := readStr(tr, pid, arg(a, 0))
	if !ok {
		return nil
	}
	p.AddOutput(normCwd(p, raw))
	return nil
}

// --- xattr family --------------------------------------------------------

func hGetxattr(p *procstate.State, tr tracerapi.Tracer, pid int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	raw, ok := readStr(tr, pid, arg(a, 0))
	if !ok {
		return nil
	}
	// getxattr normalizes only the parent and reattaches the raw
	// filename, asymmetric with lgetxattr below (normalizes the whole
	// path). Preserved as observed rather than unified.
	parent := normCwd(p, pathres.ParentOf(raw))
	p.AddInput(joinName(parent, pathres.Filename(raw)))
	return nil
}

func hLgetxattr(p *procstate.State, tr tracerapi.Tracer, pid int, a tracerapi.Args) error {
	if a.Return < 0 {
		return nil
	}
	raw, ok := readStr(tr, pid, arg(a, 0))
	if !ok {
		return nil
	}
	p.AddInput(normCwd(p, raw))
	return nil
}

func hNotImplemented(name string) handlerFn {
	return func(*procstate.State, tracerapi.Tracer, int, tracerapi.Args) error {
		return &NotImplementedError{Syscall: name}
	}
}

func hNoop(*procstate.State, tracerapi.Tracer, int, tracerapi.Args) error {
	return nil
}

// --- synthetic path helpers ----------------------------------------------

func epollTarget(pid int) string { return "/proc/" + itoa(pid) + "/epoll" }
func eventTarget(pid int) string { return "/proc/" + itoa(pid) + "/event" }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// tracerContractError signals that the tracer facade violated its
// contract: the kernel guarantees pipe()/pipe2() fill the fd buffer once
// their return value is non-negative, so a failed buffer read at that
// point indicates a bug in the tracer transport, not a failed syscall.
type tracerContractError struct{ syscall string }

func (e *tracerContractError) Error() string {
	return e.syscall + ": tracer failed to read pipe fd buffer after successful return"
}

// catalogue maps syscall name to handler. Names absent from a given
// architecture's table are simply skipped when Dispatcher builds its
// numeric index (NewForArch) — the map here is architecture-independent.
var catalogue = map[string]handlerFn{
	// file I/O
	"read":       hRead,
	"pread64":    hRead,
	"readv":      hRead,
	"getdents":   hRead,
	"getdents64": hRead,
	"write":      hWrite,
	"writev":     hWrite,

	// open/close
	"open":   hOpen,
	"creat":  hOpen,
	"openat": hOpenat,
	"close":  hClose,

	// stat family
	"stat":       hStatPath,
	"lstat":      hStatPath,
	"access":     hStatPath,
	"faccessat":  hFaccessat,
	"fstat":      hFstat,
	"newfstatat": hNewfstatat,

	// memory mapping
	"mmap": hMmap,

	// pipes / dup
	"pipe":  hPipe,
	"pipe2": hPipe2,
	"dup":   hDup,
	"dup2":  hDup2,
	"dup3":  hDup3,

	// sockets / epoll / eventfd
	"socket":        hSocket,
	"epoll_create":  hEpollCreate,
	"epoll_create1": hEpollCreate,
	"eventfd2":      hEventfd2,

	"fcntl": hFcntl,

	"ftruncate": hOutputFd,
	"fallocate": hOutputFd,
	"fsetxattr": hOutputFd,

	"chdir":  hChdir,
	"fchdir": hFchdir,

	"rename":   hRename,
	"renameat": hRenameat,

	"mkdir":   hMkdirPath,
	"mkdirat": hMkdirat,

	"rmdir":    hRemovePath,
	"unlink":   hRemovePath,
	"unlinkat": hUnlinkat,

	"link":   hLink,
	"linkat": hLinkat,

	"symlink": hSymlink,

	"readlink":   hReadlink,
	"readlinkat": hReadlinkat,

	"utime": hUtime,

	"getxattr":   hGetxattr,
	"lgetxattr":  hLgetxattr,
	"llistxattr": hLgetxattr,

	"flistxattr": hNotImplemented("flistxattr"),
	"splice":     hNotImplemented("splice"),

	// explicitly known-irrelevant syscalls: present so the dispatcher can
	// distinguish "known no-op" from "unknown syscall number".
	"poll": hNoop, "lseek": hNoop, "mprotect": hNoop, "munmap": hNoop,
	"brk": hNoop, "rt_sigaction": hNoop, "rt_sigprocmask": hNoop,
	"rt_sigreturn": hNoop, "ioctl": hNoop, "select": hNoop,
	"sched_yield": hNoop, "mremap": hNoop, "msync": hNoop,
	"mincore": hNoop, "madvise": hNoop, "nanosleep": hNoop,
	"alarm": hNoop, "setitimer": hNoop, "getpid": hNoop,
	"connect": hNoop, "sendto": hNoop, "recvfrom": hNoop,
	"sendmsg": hNoop, "recvmsg": hNoop, "bind": hNoop,
	"getsockname": hNoop, "getpeername": hNoop, "socketpair": hNoop,
	"setsockopt": hNoop, "getsockopt": hNoop, "clone": hNoop,
	"fork": hNoop, "vfork": hNoop, "execve": hNoop, "wait4": hNoop,
	"uname": hNoop, "flock": hNoop, "fsync": hNoop, "getcwd": hNoop,
	"chmod": hNoop, "fchmod": hNoop, "chown": hNoop, "umask": hNoop,
	"gettimeofday": hNoop, "getrlimit": hNoop, "getrusage": hNoop,
	"sysinfo": hNoop, "times": hNoop, "getuid": hNoop, "getgid": hNoop,
	"geteuid": hNoop, "getegid": hNoop, "setpgid": hNoop,
	"getppid": hNoop, "getpgrp": hNoop, "setsid": hNoop,
	"setreuid": hNoop, "getgroups": hNoop, "rt_sigpending": hNoop,
	"sigaltstack": hNoop, "personality": hNoop, "statfs": hNoop,
	"fstatfs": hNoop, "prctl": hNoop, "arch_prctl": hNoop,
	"setrlimit": hNoop, "gettid": hNoop, "time": hNoop, "futex": hNoop,
	"sched_setaffinity": hNoop, "sched_getaffinity": hNoop,
	"set_tid_address": hNoop, "restart_syscall": hNoop,
	"timer_create": hNoop, "timer_settime": hNoop,
	"timer_gettime": hNoop, "timer_getoverrun": hNoop,
	"timer_delete": hNoop, "fadvise64": hNoop,
	"clock_gettime": hNoop, "clock_getres": hNoop,
	"exit_group": hNoop, "epoll_wait": hNoop, "epoll_ctl": hNoop,
	"tgkill": hNoop, "utimes": hNoop, "waitid": hNoop,
	"fchmodat": hNoop, "pselect6": hNoop, "ppoll": hNoop,
	"set_robust_list": hNoop, "utimensat": hNoop, "epoll_pwait": hNoop,
	"prlimit64": hNoop, "sendmmsg": hNoop, "getrandom": hNoop,
}
