package archive_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/crate-fs/cratefs/archive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tarEntry struct {
	name     string
	contents []byte
	typeflag byte
	linkname string
}

func writeCrate(t *testing.T, dir, name string, entries []tarEntry) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		typeflag := e.typeflag
		if typeflag == 0 {
			typeflag = tar.TypeReg
		}
		hdr := &tar.Header{
			Name:     e.name,
			Size:     int64(len(e.contents)),
			Mode:     0o644,
			Typeflag: typeflag,
			Linkname: e.linkname,
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if len(e.contents) > 0 {
			_, err := tw.Write(e.contents)
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return path
}

func TestOpenValidCrate(t *testing.T) {
	dir := t.TempDir()
	path := writeCrate(t, dir, "a.crate", []tarEntry{
		{name: "a-1.0/Cargo.toml", contents: []byte(`[name]` + "\n" + `name="a"` + "\n" + `v=1` + "\n")},
	})

	a, err := archive.Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, a.Path)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := archive.Open(filepath.Join(t.TempDir(), "nope.crate"))
	require.Error(t, err)
	var openErr *archive.OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, archive.OpenErrorNotFound, openErr.Kind)
}

func TestOpenNotGzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.crate")
	require.NoError(t, os.WriteFile(path, []byte("not gzip at all"), 0o644))

	_, err := archive.Open(path)
	require.Error(t, err)
	var openErr *archive.OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, archive.OpenErrorNotGzip, openErr.Kind)
}

func TestEntriesReturnsAllInOrder(t *testing.T) {
	dir := t.TempDir()
	path := writeCrate(t, dir, "a.crate", []tarEntry{
		{name: "a-1.0/Cargo.toml", contents: []byte("12345678901234567890")},
		{name: "a-1.0/src/lib.rs", contents: nil},
	})

	a, err := archive.Open(path)
	require.NoError(t, err)

	entries, err := a.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a-1.0/Cargo.toml", entries[0].Path)
	assert.EqualValues(t, 20, entries[0].Size)
	assert.True(t, entries[0].Regular)
	assert.Equal(t, "a-1.0/src/lib.rs", entries[1].Path)
	assert.EqualValues(t, 0, entries[1].Size)
}

func TestEntriesFlagsNonRegular(t *testing.T) {
	dir := t.TempDir()
	path := writeCrate(t, dir, "a.crate", []tarEntry{
		{name: "a-1.0/link", typeflag: tar.TypeSymlink, linkname: "target"},
	})

	a, err := archive.Open(path)
	require.NoError(t, err)

	entries, err := a.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Regular)
}

func TestReadEntryFullRoundTrip(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("the quick brown fox jumps over the lazy dog")
	path := writeCrate(t, dir, "a.crate", []tarEntry{
		{name: "a-1.0/Cargo.toml", contents: payload},
	})

	a, err := archive.Open(path)
	require.NoError(t, err)

	got, err := a.ReadEntry("a-1.0/Cargo.toml", 0, int64(len(payload)))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got))
}

func TestReadEntryWithOffset(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("0123456789")
	path := writeCrate(t, dir, "a.crate", []tarEntry{
		{name: "f", contents: payload},
	})

	a, err := archive.Open(path)
	require.NoError(t, err)

	got, err := a.ReadEntry("f", 3, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("3456"), got)
}

func TestReadEntryPastEndReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("short")
	path := writeCrate(t, dir, "a.crate", []tarEntry{
		{name: "f", contents: payload},
	})

	a, err := archive.Open(path)
	require.NoError(t, err)

	got, err := a.ReadEntry("f", 100, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadEntryPartialAtEnd(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("0123456789")
	path := writeCrate(t, dir, "a.crate", []tarEntry{
		{name: "f", contents: payload},
	})

	a, err := archive.Open(path)
	require.NoError(t, err)

	got, err := a.ReadEntry("f", 8, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("89"), got)
}

func TestReadEntryZeroLength(t *testing.T) {
	dir := t.TempDir()
	path := writeCrate(t, dir, "a.crate", []tarEntry{
		{name: "f", contents: []byte("data")},
	})

	a, err := archive.Open(path)
	require.NoError(t, err)

	got, err := a.ReadEntry("f", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadEntryLastWinsSourceData(t *testing.T) {
	dir := t.TempDir()
	path := writeCrate(t, dir, "a.crate", []tarEntry{
		{name: "x/y.txt", contents: []byte("first")},
		{name: "x/y.txt", contents: []byte("second-version")},
	})

	a, err := archive.Open(path)
	require.NoError(t, err)

	entries, err := a.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	got, err := a.ReadEntry("x/y.txt", 0, 100)
	require.NoError(t, err)
	assert.Equal(t, []byte("second-version"), got)
}
