package fs_test

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cratefs "github.com/crate-fs/cratefs/fs"
	"github.com/crate-fs/cratefs/inode"
	"github.com/crate-fs/cratefs/tree"
)

func writeCrate(t *testing.T, dir, name string, files map[string][]byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for entryName, contents := range files {
		hdr := &tar.Header{Name: entryName, Size: int64(len(contents)), Mode: 0o644, Typeflag: tar.TypeReg}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write(contents)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return path
}

func buildSampleTable(t *testing.T) *inode.Table {
	dir := t.TempDir()
	writeCrate(t, dir, "a.crate", map[string][]byte{
		"a-1.0/Cargo.toml": []byte("[name]\nname=\"a\"\nv=1\n"),
		"a-1.0/src/lib.rs": {},
	})

	table := inode.NewTable()
	require.NoError(t, tree.Build(table, dir, nil))
	return table
}

func owner() cratefs.Owner {
	return cratefs.Owner{Uid: 1000, Gid: 1000}
}

func TestLookUpInodeAndReadFile(t *testing.T) {
	table := buildSampleTable(t)
	srv := cratefs.New(table, owner(), nil)

	topIno, ok := table.FindChildByName(inode.RootIno, "a-1.0")
	require.True(t, ok)

	lookup := &fuseops.LookUpInodeOp{Parent: fuseops.InodeID(topIno), Name: "Cargo.toml"}
	require.NoError(t, srv.LookUpInode(lookup))
	assert.NotZero(t, lookup.Entry.Child)

	open := &fuseops.OpenFileOp{Inode: lookup.Entry.Child}
	require.NoError(t, srv.OpenFile(open))

	read := &fuseops.ReadFileOp{Inode: lookup.Entry.Child, Handle: open.Handle, Offset: 0, Size: 4096}
	require.NoError(t, srv.ReadFile(read))
	assert.Equal(t, "[name]\nname=\"a\"\nv=1\n", string(read.Data))
}

func TestLookUpMissingReturnsENOENT(t *testing.T) {
	table := buildSampleTable(t)
	srv := cratefs.New(table, owner(), nil)

	topIno, _ := table.FindChildByName(inode.RootIno, "a-1.0")
	op := &fuseops.LookUpInodeOp{Parent: fuseops.InodeID(topIno), Name: "missing"}
	err := srv.LookUpInode(op)
	assert.Equal(t, fuse.ENOENT, err)
}

func TestLookUpOnFileParentReturnsENOTDIR(t *testing.T) {
	table := buildSampleTable(t)
	srv := cratefs.New(table, owner(), nil)

	topIno, _ := table.FindChildByName(inode.RootIno, "a-1.0")
	fileIno, _ := table.FindChildByName(topIno, "Cargo.toml")

	op := &fuseops.LookUpInodeOp{Parent: fuseops.InodeID(fileIno), Name: "x"}
	err := srv.LookUpInode(op)
	assert.Equal(t, cratefs.ENOTDIR, err)
}

func TestOpenFileRejectsWriteFlags(t *testing.T) {
	table := buildSampleTable(t)
	srv := cratefs.New(table, owner(), nil)

	topIno, _ := table.FindChildByName(inode.RootIno, "a-1.0")
	fileIno, _ := table.FindChildByName(topIno, "Cargo.toml")

	op := &fuseops.OpenFileOp{Inode: fuseops.InodeID(fileIno), Flags: fuseops.OpenFlags(syscall.O_WRONLY)}
	err := srv.OpenFile(op)
	assert.Equal(t, cratefs.EROFS, err)
}

func TestOpenDirRejectsWriteFlagsBeforeInodeCheck(t *testing.T) {
	table := buildSampleTable(t)
	srv := cratefs.New(table, owner(), nil)

	// Inode 99999 doesn't exist at all; the flag check must still win before any lookup happens.
	op := &fuseops.OpenDirOp{Inode: fuseops.InodeID(99999), Flags: fuseops.OpenFlags(syscall.O_CREAT)}
	err := srv.OpenDir(op)
	assert.Equal(t, cratefs.EROFS, err)
}

func TestOpenFileOnDirectoryReturnsEISDIR(t *testing.T) {
	table := buildSampleTable(t)
	srv := cratefs.New(table, owner(), nil)

	topIno, _ := table.FindChildByName(inode.RootIno, "a-1.0")
	op := &fuseops.OpenFileOp{Inode: fuseops.InodeID(topIno)}
	err := srv.OpenFile(op)
	assert.Equal(t, cratefs.EISDIR, err)
}

func TestReadWithWrongHandleReturnsEBADF(t *testing.T) {
	table := buildSampleTable(t)
	srv := cratefs.New(table, owner(), nil)

	topIno, _ := table.FindChildByName(inode.RootIno, "a-1.0")
	fileIno, _ := table.FindChildByName(topIno, "Cargo.toml")

	op := &fuseops.ReadFileOp{Inode: fuseops.InodeID(fileIno), Handle: 1, Offset: 0, Size: 10}
	err := srv.ReadFile(op)
	assert.Equal(t, cratefs.EBADF, err)
}

func TestReadDirYieldsDotDotDotAndChildren(t *testing.T) {
	table := buildSampleTable(t)
	srv := cratefs.New(table, owner(), nil)

	openDir := &fuseops.OpenDirOp{Inode: fuseops.RootInodeID}
	require.NoError(t, srv.OpenDir(openDir))

	read := &fuseops.ReadDirOp{Inode: fuseops.RootInodeID, Handle: openDir.Handle, Offset: 0, Size: 4096}
	require.NoError(t, srv.ReadDir(read))
	assert.NotEmpty(t, read.Data)
	assert.Contains(t, string(read.Data), "..")
	assert.Contains(t, string(read.Data), "a-1.0")
}

func TestReadZeroSizeReturnsEmpty(t *testing.T) {
	table := buildSampleTable(t)
	srv := cratefs.New(table, owner(), nil)

	topIno, _ := table.FindChildByName(inode.RootIno, "a-1.0")
	fileIno, _ := table.FindChildByName(topIno, "Cargo.toml")

	open := &fuseops.OpenFileOp{Inode: fuseops.InodeID(fileIno)}
	require.NoError(t, srv.OpenFile(open))

	read := &fuseops.ReadFileOp{Inode: fuseops.InodeID(fileIno), Handle: open.Handle, Offset: 0, Size: 0}
	require.NoError(t, srv.ReadFile(read))
	assert.Empty(t, read.Data)
}

func TestReadPastEndOfFileReturnsEmpty(t *testing.T) {
	table := buildSampleTable(t)
	srv := cratefs.New(table, owner(), nil)

	topIno, _ := table.FindChildByName(inode.RootIno, "a-1.0")
	fileIno, _ := table.FindChildByName(topIno, "Cargo.toml")

	open := &fuseops.OpenFileOp{Inode: fuseops.InodeID(fileIno)}
	require.NoError(t, srv.OpenFile(open))

	read := &fuseops.ReadFileOp{Inode: fuseops.InodeID(fileIno), Handle: open.Handle, Offset: 10_000, Size: 10}
	require.NoError(t, srv.ReadFile(read))
	assert.Empty(t, read.Data)
}

func TestLastWinsDuplicateEntryReadsLatestContents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dup.crate")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, contents := range [][]byte{[]byte("old"), []byte("new-and-longer")} {
		hdr := &tar.Header{Name: "x/y.txt", Size: int64(len(contents)), Mode: 0o644, Typeflag: tar.TypeReg}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write(contents)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	table := inode.NewTable()
	require.NoError(t, tree.Build(table, dir, nil))

	srv := cratefs.New(table, owner(), nil)
	topIno, ok := table.FindChildByName(inode.RootIno, "dup")
	require.True(t, ok)
	xIno, ok := table.FindChildByName(topIno, "x")
	require.True(t, ok)
	yIno, ok := table.FindChildByName(xIno, "y.txt")
	require.True(t, ok)

	open := &fuseops.OpenFileOp{Inode: fuseops.InodeID(yIno)}
	require.NoError(t, srv.OpenFile(open))
	read := &fuseops.ReadFileOp{Inode: fuseops.InodeID(yIno), Handle: open.Handle, Offset: 0, Size: 100}
	require.NoError(t, srv.ReadFile(read))
	assert.Equal(t, "new-and-longer", string(read.Data))
}
