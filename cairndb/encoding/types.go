package encoding

import (
	"bytes"
	"sort"
)

// ID of an object in a block.  Trace ids are 128 bits.
type ID []byte

// Record references a contiguous range of objects in a block's data file.
// The index of a block is a sorted, downsampled list of records.
type Record struct {
	ID     ID
	Start  uint64
	Length uint32
}

// SortRecords sorts (in place) a slice of records by id.
func SortRecords(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		return bytes.Compare(records[i].ID, records[j].ID) == -1
	})
}
