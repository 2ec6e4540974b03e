// Package fs implements the Filesystem Protocol Handler: the
// fuseutil.FileSystem that answers lookup/getattr/opendir/readdir/open/
// read requests from the kernel bridge against an inode.Table built by
// the tree package. See DESIGN.md for the grounding of this package.
package fs

import (
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/crate-fs/cratefs/archive"
	"github.com/crate-fs/cratefs/inode"
	"github.com/crate-fs/cratefs/logger"
	"github.com/crate-fs/cratefs/metrics"
)

// dirHandle and fileHandle are the sentinel file-handle values returned
// from OpenDir/OpenFile. The handler tracks no per-open state, so every
// successful open returns the same constant for its kind.
const (
	dirHandle  fuseops.HandleID = 200679
	fileHandle fuseops.HandleID = 220705
)

// writeFlagsMask is the set of open(2) flags that imply a write
// intention. opendir/open reject any of these with EROFS before
// consulting the inode table at all, so a write open on a valid inode
// still fails closed rather than leaking ENOENT/EISDIR first.
const writeFlagsMask = syscall.O_APPEND | syscall.O_CREAT | syscall.O_EXCL |
	syscall.O_RDWR | syscall.O_WRONLY | syscall.O_TRUNC

// Server is the Filesystem Protocol Handler. It embeds
// fuseutil.NotImplementedFileSystem so that operations this file system
// never needs (mkdir, write, setattr, ...) fall through to ENOSYS
// without cluttering this type with no-op overrides for them
// specifically; the handful of no-ops the kernel does expect on a sane
// read-only mount (ReleaseDirHandle, ReleaseFileHandle, ForgetInode,
// StatFS, FlushFile) are overridden explicitly below. Extended
// attributes aren't supported, so GetXattr/ListXattr fall through to
// the embedded ENOSYS default.
type Server struct {
	fuseutil.NotImplementedFileSystem

	table   *inode.Table
	owner   Owner
	metrics *metrics.Recorder
}

// New returns a Server ready to be wrapped by fuseutil.NewFileSystemServer.
// table must already be built and sealed (tree.Build does both). rec may
// be nil.
func New(table *inode.Table, owner Owner, rec *metrics.Recorder) *Server {
	return &Server{table: table, owner: owner, metrics: rec}
}

// NewFuseServer wraps a Server in the fuseutil adapter the Mount Driver
// expects, mirroring the teacher's fs.NewServer.
func NewFuseServer(table *inode.Table, owner Owner, rec *metrics.Recorder) fuse.Server {
	return fuseutil.NewFileSystemServer(New(table, owner, rec))
}

func rejectsWrite(flags uint32) bool {
	return flags&uint32(writeFlagsMask) != 0
}

// Init runs once when the kernel mounts the file system. The table is
// built and sealed before New is ever called, so there's nothing left
// to do here; a failure while building the tree is a fatal mount-time
// error handled by the caller, not by this method.
func (s *Server) Init(op *fuseops.InitOp) error {
	return nil
}

func (s *Server) StatFS(op *fuseops.StatFSOp) error {
	return nil
}

// LookUpInode resolves a child by name within a parent directory.
func (s *Server) LookUpInode(op *fuseops.LookUpInodeOp) error {
	parent, ok := s.table.Get(uint64(op.Parent))
	if !ok {
		return fuse.ENOENT
	}
	if parent.Kind != inode.Directory {
		return ENOTDIR
	}

	childIno, ok := s.table.FindChildByName(uint64(op.Parent), op.Name)
	if !ok {
		return fuse.ENOENT
	}
	child, ok := s.table.Get(childIno)
	if !ok {
		// A parent's children list referenced an inode the table doesn't
		// have; the table should never reach this state once sealed.
		panic("fs: child inode referenced but missing from table")
	}

	if s.metrics != nil {
		s.metrics.IncLookup()
	}

	op.Entry.Child = fuseops.InodeID(child.Ino)
	op.Entry.Attributes = toAttributes(child, s.owner)
	op.Entry.AttributesExpiration = opExpiration(attrCacheTTL)
	op.Entry.EntryExpiration = opExpiration(entryCacheTTL)
	return nil
}

// GetInodeAttributes answers getattr.
func (s *Server) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) error {
	rec, ok := s.table.Get(uint64(op.Inode))
	if !ok {
		return fuse.ENOENT
	}
	op.Attributes = toAttributes(rec, s.owner)
	op.AttributesExpiration = opExpiration(attrCacheTTL)
	return nil
}

// OpenDir validates flags and inode existence, then returns the
// directory sentinel handle.
func (s *Server) OpenDir(op *fuseops.OpenDirOp) error {
	if rejectsWrite(uint32(op.Flags)) {
		return EROFS
	}
	rec, ok := s.table.Get(uint64(op.Inode))
	if !ok {
		return fuse.ENOENT
	}
	if rec.Kind != inode.Directory {
		return ENOTDIR
	}
	op.Handle = dirHandle
	return nil
}

// ReadDir serves paginated directory listings: offset 0 is ".", offset
// 1 is "..", and offset N>=2 is children[N-2], so a caller resuming
// from a previous offset never sees an entry repeated or skipped.
func (s *Server) ReadDir(op *fuseops.ReadDirOp) error {
	if op.Handle != dirHandle {
		return EBADF
	}
	rec, ok := s.table.Get(uint64(op.Inode))
	if !ok {
		return fuse.ENOENT
	}
	if rec.Kind != inode.Directory {
		return ENOTDIR
	}

	if s.metrics != nil {
		s.metrics.IncReadDir()
	}

	parentIno := uint64(op.Inode)
	if op.Inode != fuseops.RootInodeID {
		if p, ok := s.findParent(uint64(op.Inode)); ok {
			parentIno = p
		}
	}

	children, _ := s.table.Children(uint64(op.Inode))

	dirents := make([]fuseutil.Dirent, 0, len(children)+2)
	dirents = append(dirents, fuseutil.Dirent{
		Offset: 1, Inode: op.Inode, Name: ".", Type: fuseutil.DT_Directory,
	})
	dirents = append(dirents, fuseutil.Dirent{
		Offset: 2, Inode: fuseops.InodeID(parentIno), Name: "..", Type: fuseutil.DT_Directory,
	})
	for i, c := range children {
		child, ok := s.table.Get(c)
		if !ok {
			panic("fs: directory child inode missing from table")
		}
		dirents = append(dirents, fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 3),
			Inode:  fuseops.InodeID(c),
			Name:   child.Name,
			Type:   direntType(child.Kind),
		})
	}

	if int(op.Offset) > len(dirents) {
		op.Data = nil
		return nil
	}

	for _, d := range dirents[op.Offset:] {
		op.Data = fuseutil.AppendDirent(op.Data, d)
		if len(op.Data) > op.Size {
			op.Data = op.Data[:op.Size]
			break
		}
	}
	return nil
}

func direntType(k inode.Kind) fuseutil.DirentType {
	if k == inode.Directory {
		return fuseutil.DT_Directory
	}
	return fuseutil.DT_File
}

// findParent does the single linear scan over the whole table needed to
// answer ".." for a non-root directory. The table is small and static
// post-seal, so this is acceptable; it is not on the lookup/getattr hot
// path.
func (s *Server) findParent(child uint64) (uint64, bool) {
	if child == inode.RootIno {
		return inode.RootIno, true
	}
	n := s.table.Len()
	for candidate := uint64(inode.RootIno); candidate < uint64(n)+1; candidate++ {
		rec, ok := s.table.Get(candidate)
		if !ok || rec.Kind != inode.Directory {
			continue
		}
		for _, c := range rec.Children {
			if c == child {
				return candidate, true
			}
		}
	}
	return 0, false
}

// ReleaseDirHandle is a no-op: there's no per-handle state to free.
func (s *Server) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) error {
	return nil
}

// OpenFile validates flags and inode existence, then returns the file
// sentinel handle. No archive is opened here; the handle carries no
// state.
func (s *Server) OpenFile(op *fuseops.OpenFileOp) error {
	if rejectsWrite(uint32(op.Flags)) {
		return EROFS
	}
	rec, ok := s.table.Get(uint64(op.Inode))
	if !ok {
		return fuse.ENOENT
	}
	if rec.Kind == inode.Directory {
		return EISDIR
	}
	op.Handle = fileHandle
	return nil
}

// ReadFile translates an inode/offset/size request into an archive
// read.
func (s *Server) ReadFile(op *fuseops.ReadFileOp) error {
	if op.Handle != fileHandle {
		return EBADF
	}
	rec, ok := s.table.Get(uint64(op.Inode))
	if !ok {
		return fuse.ENOENT
	}
	if rec.Kind == inode.Directory {
		return EISDIR
	}
	if rec.ArchivePath == "" || rec.EntryPath == "" {
		// A regular file inode with no archive binding should be
		// impossible once the table is sealed.
		return EINVAL
	}

	if s.metrics != nil {
		s.metrics.IncRead()
	}

	data, err := (&archive.Archive{Path: rec.ArchivePath}).ReadEntry(rec.EntryPath, op.Offset, int64(op.Size))
	if err != nil {
		logger.Errorf("fs: read %q in %q: %v", rec.EntryPath, rec.ArchivePath, err)
		return fuse.EIO
	}
	op.Data = data
	return nil
}

// ReleaseFileHandle is a no-op for the same reason ReleaseDirHandle is.
func (s *Server) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) error {
	return nil
}

func (s *Server) ForgetInode(op *fuseops.ForgetInodeOp) error {
	return nil
}

func (s *Server) FlushFile(op *fuseops.FlushFileOp) error {
	return nil
}
