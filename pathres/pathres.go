// Package pathres resolves the paths a traced process passes to syscalls
// into canonical absolute form without touching the filesystem.
//
// It takes an arbitrary base directory rather than always reading
// /proc/<pid>/cwd, since the base here may be a process's tracked cwd or
// a directory fd's target rather than the real on-disk cwd of the
// tracer's own host.
package pathres

import "strings"

// Clean collapses an absolute path into its canonical form: no "." or ".."
// components, no empty segments, no trailing slash except the root itself.
// It does not consult the filesystem and does not follow symlinks.
func Clean(absPath string) string {
	parts := strings.Split(absPath, "/")
	stack := make([]string, 0, len(parts))
	for _, p := range parts {
		switch p {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, p)
		}
	}
	if len(stack) == 0 {
		return "/"
	}
	return "/" + strings.Join(stack, "/")
}

// Resolve normalizes path against base. If path is already absolute, base
// is ignored. base is assumed to already be an absolute, clean path (the
// caller's cwd or a resolved dirfd target).
func Resolve(base, path string) string {
	if strings.HasPrefix(path, "/") {
		return Clean(path)
	}
	return Clean(base + "/" + path)
}

// Dirname returns the parent directory of a clean absolute path. Dirname
// of "/" is "/".
func Dirname(cleanAbsPath string) string {
	i := strings.LastIndex(cleanAbsPath, "/")
	if i <= 0 {
		return "/"
	}
	return cleanAbsPath[:i]
}

// Filename returns the final path component of path, without resolving it
// first — used by the link/symlink handlers, which need the raw last
// segment of the destination operand before it is joined back onto a
// normalized parent.
func Filename(path string) string {
	path = strings.TrimRight(path, "/")
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return path
	}
	return path[i+1:]
}

// ParentOf returns the parent portion of a possibly-relative raw path
// string as it would be passed to path/filepath's Dir, without cleaning:
// used by link/symlink/getxattr handlers that normalize only the parent
// and reattach the raw filename verbatim.
func ParentOf(path string) string {
	path = strings.TrimRight(path, "/")
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "."
	}
	if i == 0 {
		return "/"
	}
	return path[:i]
}
