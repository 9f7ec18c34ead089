package encoding

import (
	"bytes"
	"io"
	"sort"
)

// Finder locates a single object in a block using its index.
type Finder interface {
	Find(id ID) ([]byte, error)
}

type finder struct {
	ra            io.ReaderAt
	codec         Codec
	sortedRecords []*Record
}

// NewFinder returns a Finder for records sorted by id.  A record's id is the
// largest id in the range it covers.
func NewFinder(sortedRecords []*Record, ra io.ReaderAt, codec Codec) Finder {
	return &finder{
		ra:            ra,
		codec:         codec,
		sortedRecords: sortedRecords,
	}
}

func (f *finder) Find(id ID) ([]byte, error) {
	i := sort.Search(len(f.sortedRecords), func(idx int) bool {
		return bytes.Compare(f.sortedRecords[idx].ID, id) >= 0
	})

	if i < 0 || i >= len(f.sortedRecords) {
		return nil, nil
	}

	record := f.sortedRecords[i]

	buff := make([]byte, record.Length)
	_, err := f.ra.ReadAt(buff, int64(record.Start))
	if err != nil {
		return nil, err
	}

	iter := NewIterator(bytes.NewReader(buff), f.codec)
	for {
		foundID, b, err := iter.Next()
		if foundID == nil {
			break
		}
		if err != nil {
			return nil, err
		}
		if bytes.Equal(foundID, id) {
			return b, nil
		}
	}

	return nil, nil
}
