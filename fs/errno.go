package fs

import (
	"syscall"

	"github.com/jacobsa/fuse"
)

// Errno constants the jacobsa/fuse package doesn't predefine itself,
// built the same way its own errors.go builds ENOTEMPTY: wrap the
// syscall number in fuse.Errno. Handler operations return these
// directly as the op's reply; they are never wrapped or logged as a
// separate error path.
const (
	ENOTDIR = fuse.Errno(syscall.ENOTDIR)
	EBADF   = fuse.Errno(syscall.EBADF)
	EISDIR  = fuse.Errno(syscall.EISDIR)
	EINVAL  = fuse.Errno(syscall.EINVAL)
	EROFS   = fuse.Errno(syscall.EROFS)
)
