package syscalltab

import "golang.org/x/sys/unix"

// ABI constants the handler catalogue needs to decode syscall argument
// flags bit-exactly, sourced from golang.org/x/sys/unix wherever that
// package exports them. A handful of flags x/sys/unix does not export
// on every build are defined locally next to the kernel header they
// come from.
const (
	atFdcwd = unix.AT_FDCWD

	oAccMode = unix.O_ACCMODE
	oRdonly  = unix.O_RDONLY
	oWronly  = unix.O_WRONLY
	oCreat   = unix.O_CREAT
	oExcl    = unix.O_EXCL
	oTrunc   = unix.O_TRUNC
	oCloexec = unix.O_CLOEXEC

	fdCloexec = unix.FD_CLOEXEC

	fDupfd  = unix.F_DUPFD
	fGetfd  = unix.F_GETFD
	fSetfd  = unix.F_SETFD
	fGetfl  = unix.F_GETFL
	fSetfl  = unix.F_SETFL
	fGetlk  = unix.F_GETLK
	fSetlk  = unix.F_SETLK
	fSetlkw = unix.F_SETLKW

	mapShared = unix.MAP_SHARED
	mapAnon   = unix.MAP_ANON

	protWrite = unix.PROT_WRITE

	// Not exported by x/sys/unix on every build tag combination this
	// module targets, so defined locally next to the header they come
	// from.
	fDupfdCloexec = 1030           // F_DUPFD_CLOEXEC, include/uapi/asm-generic/fcntl.h
	fOfdGetlk     = 36             // F_OFD_GETLK, include/uapi/linux/fcntl.h
	fOfdSetlk     = 37             // F_OFD_SETLK
	fOfdSetlkw    = 38             // F_OFD_SETLKW
	efdCloexec    = unix.O_CLOEXEC // EFD_CLOEXEC shares O_CLOEXEC's bit, include/uapi/linux/eventfd.h
)
