// Package tree builds the inode table's directory structure from a host
// directory of .crate archives. See DESIGN.md for the grounding of this
// package.
package tree

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/crate-fs/cratefs/archive"
	"github.com/crate-fs/cratefs/inode"
	"github.com/crate-fs/cratefs/logger"
	"github.com/crate-fs/cratefs/metrics"
)

const crateSuffix = ".crate"

// Build scans rootDirPath for .crate files in host-directory enumeration
// order, creates one top-level Directory inode per archive, and walks
// each archive's entries into table: intermediate path components
// become Directory inodes, terminal components become RegularFile
// inodes, and duplicate paths within one archive resolve last-wins.
// table is sealed on return regardless of whether any archives were
// skipped; per-archive failures are logged and do not fail the build —
// only an unreadable source directory itself does that.
func Build(table *inode.Table, rootDirPath string, rec *metrics.Recorder) error {
	dir, err := os.Open(rootDirPath)
	if err != nil {
		return fmt.Errorf("tree: open source directory %q: %w", rootDirPath, err)
	}
	defer dir.Close()

	// ReadDir on an *os.File (the method form) returns entries in the
	// order the host directory enumeration yields them, unlike the
	// package-level os.ReadDir which sorts by name. Preserving
	// host-enumeration order here is what makes the first-wins behavior
	// for colliding crate stems (a later crate with an already-used stem
	// is skipped) deterministic and tied to directory order rather than
	// name order.
	entries, err := dir.ReadDir(-1)
	if err != nil {
		return fmt.Errorf("tree: read source directory %q: %w", rootDirPath, err)
	}

	usedStems := make(map[string]bool)

	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		if !strings.HasSuffix(name, crateSuffix) {
			continue
		}
		stem := strings.TrimSuffix(name, crateSuffix)
		if stem == "" {
			continue
		}

		if usedStems[stem] {
			logger.Warnf("tree: skipping %q: a crate named %q already has a top-level directory", name, stem)
			continue
		}

		archivePath := path.Join(rootDirPath, name)
		if err := buildOneCrate(table, archivePath, stem); err != nil {
			logger.Warnf("tree: skipping %q: %v", name, err)
			rec.IncArchiveOpenFailure()
			continue
		}
		usedStems[stem] = true
	}

	table.Seal()
	return nil
}

// buildOneCrate opens a single archive, creates its top-level directory
// inode, and inserts every entry it contains. It returns an error only
// when the archive itself could not be opened or read — the caller
// treats that as "skip this crate," not as a fatal InitError.
func buildOneCrate(table *inode.Table, archivePath, stem string) error {
	a, err := archive.Open(archivePath)
	if err != nil {
		return err
	}

	entries, err := a.Entries()
	if err != nil {
		return err
	}

	topIno, err := table.Insert(inode.Record{Kind: inode.Directory, Name: stem})
	if err != nil {
		return err
	}
	if err := table.AppendChild(inode.RootIno, topIno); err != nil {
		return err
	}

	for _, e := range entries {
		if !e.Regular {
			logger.Warnf("tree: skipping non-regular entry %q in %q", e.Path, archivePath)
			continue
		}
		if err := insertEntry(table, topIno, archivePath, e); err != nil {
			logger.Warnf("tree: skipping entry %q in %q: %v", e.Path, archivePath, err)
			continue
		}
	}

	return nil
}

// insertEntry walks e.Path's components under cursor (starting at the
// crate's top-level directory), creating intermediate Directory inodes
// as needed, and inserts or replaces the terminal RegularFile inode.
func insertEntry(table *inode.Table, cursor uint64, archivePath string, e archive.Entry) error {
	components := splitValidComponents(e.Path)
	if len(components) == 0 {
		return nil
	}

	for _, comp := range components[:len(components)-1] {
		if child, ok := table.FindChildByName(cursor, comp); ok {
			rec, _ := table.Get(child)
			if rec.Kind != inode.Directory {
				return fmt.Errorf("path component %q collides with an existing file", comp)
			}
			cursor = child
			continue
		}
		newDir, err := table.Insert(inode.Record{Kind: inode.Directory, Name: comp})
		if err != nil {
			return err
		}
		if err := table.AppendChild(cursor, newDir); err != nil {
			return err
		}
		cursor = newDir
	}

	fileName := components[len(components)-1]
	fileIno, err := table.Insert(inode.Record{
		Kind:        inode.RegularFile,
		Name:        fileName,
		Size:        uint64(e.Size),
		ArchivePath: archivePath,
		EntryPath:   e.Path,
	})
	if err != nil {
		return err
	}

	if existing, ok := table.FindChildByName(cursor, fileName); ok {
		// Last-wins deduplication: a later entry at the same path
		// replaces the earlier inode in place rather than appending a
		// second entry with the same name.
		return table.ReplaceChild(cursor, existing, fileIno)
	}
	return table.AppendChild(cursor, fileIno)
}

// splitValidComponents splits a tar entry path into path components,
// rejecting "." and ".." components and dropping empty components from
// leading/trailing/doubled slashes.
func splitValidComponents(entryPath string) []string {
	parts := strings.Split(entryPath, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if p == "." || p == ".." {
			logger.Warnf("tree: rejecting entry path %q: contains %q component", entryPath, p)
			return nil
		}
		out = append(out, p)
	}
	return out
}
