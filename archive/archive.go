// Package archive reads gzip-compressed tar archives (.crate files) with
// no persistent state: every operation opens its own file handle and
// decompressor and scans forward from the start. Random access into
// gzip+tar is not possible without an external index, so this package
// accepts O(n) seek cost per read in exchange for carrying nothing
// between calls. See DESIGN.md for the grounding of this package.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
)

// OpenErrorKind classifies why Open failed.
type OpenErrorKind int

const (
	OpenErrorUnknown OpenErrorKind = iota
	OpenErrorNotFound
	OpenErrorPermissionDenied
	OpenErrorNotGzip
	OpenErrorTruncated
)

// OpenError wraps a failure to open or gzip-decode an archive.
type OpenError struct {
	Path  string
	Kind  OpenErrorKind
	Cause error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("archive: open %q: %v", e.Path, e.Cause)
}

func (e *OpenError) Unwrap() error { return e.Cause }

func classifyOpenErr(path string, err error) *OpenError {
	kind := OpenErrorUnknown
	switch {
	case errors.Is(err, os.ErrNotExist):
		kind = OpenErrorNotFound
	case errors.Is(err, os.ErrPermission):
		kind = OpenErrorPermissionDenied
	case errors.Is(err, gzip.ErrHeader):
		kind = OpenErrorNotGzip
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		kind = OpenErrorTruncated
	}
	return &OpenError{Path: path, Kind: kind, Cause: err}
}

// ReadError wraps an I/O failure while scanning an archive for read_entry.
type ReadError struct {
	Path  string
	Entry string
	Cause error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("archive: read %q in %q: %v", e.Entry, e.Path, e.Cause)
}

func (e *ReadError) Unwrap() error { return e.Cause }

// Entry is one record in an archive: a path and the size of its payload.
type Entry struct {
	Path string
	Size int64
	// Regular is false for tar entries that are not TypeReg/TypeRegA —
	// symlinks, hardlinks, devices, etc. Callers skip these rather than
	// materializing them as files.
	Regular bool
}

// Archive identifies a gzip-compressed tar file on the host filesystem.
// It carries no open handles; Open only verifies the file can be
// gzip-decoded at all, then closes everything immediately. Entries and
// ReadEntry each open their own stream.
type Archive struct {
	Path string
}

// Open verifies that path exists, is readable, and begins a valid gzip
// stream, then returns a handle carrying no open resources.
func Open(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, classifyOpenErr(path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, classifyOpenErr(path, err)
	}
	gz.Close()

	return &Archive{Path: path}, nil
}

// openTarReader opens a fresh file handle and gzip+tar reader pair over
// path. The caller is responsible for closing the returned closer.
func openTarReader(path string) (*tar.Reader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, classifyOpenErr(path, err)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, classifyOpenErr(path, err)
	}
	return tar.NewReader(gz), multiCloser{gz, f}, nil
}

type multiCloser struct {
	gz *gzip.Reader
	f  *os.File
}

func (m multiCloser) Close() error {
	gzErr := m.gz.Close()
	fErr := m.f.Close()
	if gzErr != nil {
		return gzErr
	}
	return fErr
}

// Entries opens a's tar stream fresh and returns every entry in header
// order. The stream is finite, single-pass, and forward-only: a restart
// means calling Entries again, which reopens from the beginning.
func (a *Archive) Entries() ([]Entry, error) {
	tr, closer, err := openTarReader(a.Path)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var out []Entry
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ReadError{Path: a.Path, Cause: err}
		}
		out = append(out, Entry{
			Path:    hdr.Name,
			Size:    hdr.Size,
			Regular: hdr.Typeflag == tar.TypeReg || hdr.Typeflag == tar.TypeRegA,
		})
	}
	return out, nil
}

// ReadEntry reopens a's tar stream from the beginning and scans every
// entry whose path equals entryPath, discarding the first offset bytes
// of each match's payload and capturing up to length bytes of what
// remains. When an archive contains the same path more than once, the
// bytes from the last matching entry are the ones returned — matching
// whichever inode the Tree Builder kept for that name. It returns fewer
// than length bytes — including zero — when the matched entry's
// payload is exhausted.
func (a *Archive) ReadEntry(entryPath string, offset, length int64) ([]byte, error) {
	tr, closer, err := openTarReader(a.Path)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	found := false
	var result []byte

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ReadError{Path: a.Path, Entry: entryPath, Cause: err}
		}
		if hdr.Name != entryPath {
			continue
		}
		found = true

		if offset > 0 {
			if _, err := io.CopyN(io.Discard, tr, offset); err != nil {
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					result = []byte{}
					continue
				}
				return nil, &ReadError{Path: a.Path, Entry: entryPath, Cause: err}
			}
		}

		if length <= 0 {
			result = []byte{}
			continue
		}

		buf := make([]byte, length)
		n, err := io.ReadFull(tr, buf)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return nil, &ReadError{Path: a.Path, Entry: entryPath, Cause: err}
		}
		result = buf[:n]
	}

	if !found {
		return nil, &ReadError{Path: a.Path, Entry: entryPath,
			Cause: fmt.Errorf("entry not found in archive")}
	}
	return result, nil
}
