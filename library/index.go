package library

import (
	"time"

	"github.com/google/btree"

	"github.com/hupe1980/ndstore/core"
)

// Entry is one Library Index record.
type Entry struct {
	ID      core.ID
	Path    string
	Format  core.Format
	Version int
	Type    string
	Dirty   bool
	Size    int64
	ModTime time.Time
}

// Index maps identifiers to entries in identifier order.
// It is not safe for concurrent use; Library guards it.
type Index struct {
	tree *btree.BTreeG[Entry]
}

func entryLess(a, b Entry) bool { return a.ID.Less(b.ID) }

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{tree: btree.NewG[Entry](16, entryLess)}
}

// Get returns the entry for id.
func (x *Index) Get(id core.ID) (Entry, bool) {
	return x.tree.Get(Entry{ID: id})
}

// Set inserts or replaces an entry and returns the previous one.
func (x *Index) Set(e Entry) (Entry, bool) {
	return x.tree.ReplaceOrInsert(e)
}

// Delete removes the entry for id.
func (x *Index) Delete(id core.ID) (Entry, bool) {
	return x.tree.Delete(Entry{ID: id})
}

// Len returns the number of entries.
func (x *Index) Len() int { return x.tree.Len() }

// Ascend calls fn for each entry in identifier order until fn returns false.
func (x *Index) Ascend(fn func(Entry) bool) {
	x.tree.Ascend(fn)
}

// Entries returns a copy of all entries in identifier order.
func (x *Index) Entries() []Entry {
	out := make([]Entry, 0, x.tree.Len())
	x.tree.Ascend(func(e Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Clone returns a lazily copied snapshot of the index.
func (x *Index) Clone() *Index {
	return &Index{tree: x.tree.Clone()}
}
