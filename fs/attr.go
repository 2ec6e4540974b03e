package fs

import (
	"os"
	"time"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/crate-fs/cratefs/inode"
)

// attrCacheTTL and entryCacheTTL are both 1 second: the tree is sealed
// at init and never changes afterward, so any TTL is safe to hand the
// kernel, and 1 second is just a conventional choice, not one forced
// by correctness.
const (
	attrCacheTTL  = time.Second
	entryCacheTTL = time.Second
)

// opExpiration returns the absolute time a cache entry with the given
// TTL expires, relative to now.
func opExpiration(ttl time.Duration) time.Time {
	return time.Now().Add(ttl)
}

// Owner carries the fixed uid/gid every inode in the mount reports,
// resolved once at startup. Configurable via flags, defaulting to the
// current process's own uid/gid.
type Owner struct {
	Uid uint32
	Gid uint32
}

// toAttributes converts a table record into the fixed attribute record
// this file system reports for every inode: epoch-zero times, the
// configured owner, and mode/nlink/size derived from Kind.
func toAttributes(rec inode.Record, owner Owner) fuseops.InodeAttributes {
	var mode os.FileMode
	var nlink uint32
	switch rec.Kind {
	case inode.Directory:
		mode = os.ModeDir | 0o555
		nlink = 2
	default:
		mode = 0o444
		nlink = 1
	}

	return fuseops.InodeAttributes{
		Size:   rec.Size,
		Nlink:  nlink,
		Mode:   mode,
		Atime:  time.Unix(0, 0),
		Mtime:  time.Unix(0, 0),
		Ctime:  time.Unix(0, 0),
		Crtime: time.Unix(0, 0),
		Uid:    owner.Uid,
		Gid:    owner.Gid,
	}
}
