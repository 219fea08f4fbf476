package syscalltab

import "fmt"

// UnknownOpError is raised when a handler encounters a sub-operation it
// does not recognize — currently only an unrecognized fcntl cmd.
type UnknownOpError struct {
	Syscall string
	Op      int64
}

func (e *UnknownOpError) Error() string {
	return fmt.Sprintf("%s: unknown op %d", e.Syscall, e.Op)
}

// NotImplementedError is raised by handlers for syscalls the core
// deliberately does not model: splice, flistxattr.
type NotImplementedError struct {
	Syscall string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("%s: not implemented", e.Syscall)
}
