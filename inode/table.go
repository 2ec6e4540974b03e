package inode

import (
	"fmt"
	"sync"
)

// Table is the single in-memory arena holding every inode cratefs knows
// about. Inodes reference each other only by Ino, never by pointer, so the
// table has no ownership cycles to worry about.
//
// The table is built up single-threaded during mount initialization and
// then sealed; after Seal, every method that would mutate structure
// returns an error instead, since the tree never changes again for the
// lifetime of the mount.
type Table struct {
	mu      sync.RWMutex
	records map[uint64]*Record
	nextID  uint64
	sealed  bool
}

// NewTable returns a table pre-populated with an empty root directory at
// RootIno.
func NewTable() *Table {
	t := &Table{
		records: make(map[uint64]*Record),
		nextID:  RootIno + 1,
	}
	t.records[RootIno] = &Record{Ino: RootIno, Kind: Directory, Name: "/"}
	return t
}

// Seal forbids further structural mutation. Idempotent.
func (t *Table) Seal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sealed = true
}

// Sealed reports whether the table has been sealed.
func (t *Table) Sealed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sealed
}

// Len returns the number of inodes currently in the table, including the
// root.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

// Get returns a copy of the record for ino, or false if it does not exist.
func (t *Table) Get(ino uint64) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.records[ino]
	if !ok {
		return Record{}, false
	}
	return r.Clone(), true
}

// Insert allocates a fresh inode number, stores rec under it (overwriting
// rec.Ino), and returns the assigned number. It does not link the record
// into any parent's Children; callers use AppendChild or ReplaceChild for
// that.
func (t *Table) Insert(rec Record) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return 0, fmt.Errorf("inode: table is sealed, cannot insert %q", rec.Name)
	}
	id := t.nextID
	t.nextID++
	rec.Ino = id
	t.records[id] = &rec
	return id, nil
}

// AppendChild appends child to parent's Children list. It does not check
// for a duplicate name; callers that need last-wins dedup semantics use
// FindChildByName first and ReplaceChild instead.
func (t *Table) AppendChild(parent, child uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return fmt.Errorf("inode: table is sealed, cannot link %d under %d", child, parent)
	}
	p, ok := t.records[parent]
	if !ok {
		return fmt.Errorf("inode: unknown parent inode %d", parent)
	}
	if p.Kind != Directory {
		return fmt.Errorf("inode: parent inode %d (%q) is not a directory", parent, p.Name)
	}
	p.Children = append(p.Children, child)
	return nil
}

// ReplaceChild swaps the child currently occupying oldIno's slot in
// parent's Children list for newIno, preserving position. This is the
// primitive last-wins duplicate-path handling in the Tree Builder uses:
// a later tar entry at the same path replaces the earlier inode in place
// rather than appending a second entry with the same name.
func (t *Table) ReplaceChild(parent, oldIno, newIno uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return fmt.Errorf("inode: table is sealed, cannot relink under %d", parent)
	}
	p, ok := t.records[parent]
	if !ok {
		return fmt.Errorf("inode: unknown parent inode %d", parent)
	}
	for i, c := range p.Children {
		if c == oldIno {
			p.Children[i] = newIno
			return nil
		}
	}
	return fmt.Errorf("inode: inode %d is not a child of %d", oldIno, parent)
}

// FindChildByName looks up a direct child of parent by name. Returns
// false if parent doesn't exist, isn't a directory, or has no such child.
func (t *Table) FindChildByName(parent uint64, name string) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.records[parent]
	if !ok {
		return 0, false
	}
	for _, c := range p.Children {
		if child, ok := t.records[c]; ok && child.Name == name {
			return c, true
		}
	}
	return 0, false
}

// Children returns a copy of parent's children, in insertion order (which
// the Tree Builder derives from host-directory and tar enumeration
// order, so directory listings reflect on-disk enumeration order
// rather than any sort this table imposes).
func (t *Table) Children(parent uint64) ([]uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.records[parent]
	if !ok {
		return nil, false
	}
	out := make([]uint64, len(p.Children))
	copy(out, p.Children)
	return out, true
}

// CheckInvariants walks the whole table and returns every structural
// violation it finds, rather than panicking directly, so that both
// tests and the command that runs the mount can decide what to do with
// the result. The cratefs command wants a hard failure on a broken tree:
// it calls this once after Build and panics if the result is non-empty.
func (t *Table) CheckInvariants() []error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var errs []error
	seen := make(map[uint64]int, len(t.records))

	root, ok := t.records[RootIno]
	if !ok {
		errs = append(errs, fmt.Errorf("inode: root inode %d missing", RootIno))
		return errs
	}
	if root.Kind != Directory {
		errs = append(errs, fmt.Errorf("inode: root inode %d is not a directory", RootIno))
	}

	for ino, rec := range t.records {
		if rec.Kind == Directory {
			names := make(map[string]bool, len(rec.Children))
			for _, c := range rec.Children {
				child, ok := t.records[c]
				if !ok {
					errs = append(errs, fmt.Errorf("inode: dir %d references missing child %d", ino, c))
					continue
				}
				if names[child.Name] {
					errs = append(errs, fmt.Errorf("inode: dir %d has duplicate child name %q", ino, child.Name))
				}
				names[child.Name] = true
				seen[c]++
			}
		} else {
			if rec.ArchivePath == "" || rec.EntryPath == "" {
				errs = append(errs, fmt.Errorf("inode: regular file %d missing archive binding", ino))
			}
		}
	}

	// Every non-root inode must be reachable from exactly one parent:
	// the tree has no hardlinks or cycles.
	for ino := range t.records {
		if ino == RootIno {
			continue
		}
		switch {
		case seen[ino] == 0:
			errs = append(errs, fmt.Errorf("inode: %d is unreachable from root", ino))
		case seen[ino] > 1:
			errs = append(errs, fmt.Errorf("inode: %d is listed as a child %d times", ino, seen[ino]))
		}
	}

	return errs
}
