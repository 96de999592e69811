// Package mshr implements the miss status holding register table that
// tracks outstanding cache-line fills.
package mshr

import (
	"errors"
	"fmt"

	"github.com/sarchlab/memsubsys/mem"
)

// ErrTableFull is returned by TryAllocate when no free entry exists.
var ErrTableFull = errors.New("mshr: table full")

type entry struct {
	valid    bool
	lineAddr uint64
	wordMask uint64
}

// Table tracks outstanding line fills by line-aligned address. Each valid
// entry records which words of the line have requests waiting on it. The
// table never holds two valid entries for the same line; callers must
// match before allocating within a single step so both operations see the
// same snapshot.
type Table struct {
	entries []entry
}

// NewTable creates a table with numEntries slots. numEntries must be a
// power of two.
func NewTable(numEntries int) *Table {
	if !mem.IsPowerOfTwo(numEntries) {
		panic("mshr: entry count must be a power of two")
	}

	return &Table{entries: make([]entry, numEntries)}
}

// TryMatch scans all valid entries for one tracking lineAddr. On a match
// it ORs the word-offset bit into the entry's word mask (coalescing) and
// returns the entry id. Two valid entries for one line means the
// allocate-vs-match discipline was bypassed, which is unrecoverable.
func (t *Table) TryMatch(lineAddr uint64, wordOffset int) (int, bool) {
	matched := -1
	for i := range t.entries {
		e := &t.entries[i]
		if !e.valid || e.lineAddr != lineAddr {
			continue
		}
		if matched >= 0 {
			panic(fmt.Sprintf(
				"mshr: duplicate entries %d and %d for line 0x%X",
				matched, i, lineAddr))
		}
		matched = i
	}

	if matched < 0 {
		return 0, false
	}

	t.entries[matched].wordMask |= 1 << wordOffset
	return matched, true
}

// Find returns the id of the valid entry tracking lineAddr without
// touching its word mask. Duplicate entries trigger the same invariant
// panic as TryMatch.
func (t *Table) Find(lineAddr uint64) (int, bool) {
	matched := -1
	for i := range t.entries {
		e := &t.entries[i]
		if !e.valid || e.lineAddr != lineAddr {
			continue
		}
		if matched >= 0 {
			panic(fmt.Sprintf(
				"mshr: duplicate entries %d and %d for line 0x%X",
				matched, i, lineAddr))
		}
		matched = i
	}

	if matched < 0 {
		return 0, false
	}
	return matched, true
}

// TryAllocate claims the lowest-index free entry for lineAddr with a
// single word-offset bit set. It does not check for an existing entry on
// the same line; callers must call TryMatch first.
func (t *Table) TryAllocate(lineAddr uint64, wordOffset int) (int, error) {
	for i := range t.entries {
		if t.entries[i].valid {
			continue
		}
		t.entries[i] = entry{
			valid:    true,
			lineAddr: lineAddr,
			wordMask: 1 << wordOffset,
		}
		return i, nil
	}

	return 0, ErrTableFull
}

// Retire frees the entry. Retiring an invalid id is unrecoverable.
func (t *Table) Retire(id int) {
	if !t.entries[id].valid {
		panic(fmt.Sprintf("mshr: retire of invalid entry %d", id))
	}
	t.entries[id] = entry{}
}

// IsValid reports whether the entry is tracking a fill.
func (t *Table) IsValid(id int) bool {
	return t.entries[id].valid
}

// LineAddr returns the line address tracked by a valid entry.
func (t *Table) LineAddr(id int) uint64 {
	return t.entries[id].lineAddr
}

// WordMask returns the word-need bitmap of a valid entry.
func (t *Table) WordMask(id int) uint64 {
	return t.entries[id].wordMask
}

// Full reports whether every entry is valid.
func (t *Table) Full() bool {
	for i := range t.entries {
		if !t.entries[i].valid {
			return false
		}
	}
	return true
}

// OutstandingCount returns the number of valid entries.
func (t *Table) OutstandingCount() int {
	n := 0
	for i := range t.entries {
		if t.entries[i].valid {
			n++
		}
	}
	return n
}

// Len returns the table capacity.
func (t *Table) Len() int {
	return len(t.entries)
}

// Reset clears every entry.
func (t *Table) Reset() {
	for i := range t.entries {
		t.entries[i] = entry{}
	}
}
