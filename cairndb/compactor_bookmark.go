package cairndb

import (
	"github.com/cairndb/cairn/cairndb/encoding"
)

// bookmark holds the current object of an iterator during a merge.
type bookmark struct {
	iter encoding.Iterator

	currentID     encoding.ID
	currentObject []byte
	currentErr    error
}

func newBookmark(iter encoding.Iterator) *bookmark {
	return &bookmark{
		iter: iter,
	}
}

func (b *bookmark) current() (encoding.ID, []byte, error) {
	if len(b.currentID) != 0 && len(b.currentObject) != 0 {
		return b.currentID, b.currentObject, nil
	}

	if b.currentErr != nil {
		return nil, nil, b.currentErr
	}

	b.currentID, b.currentObject, b.currentErr = b.iter.Next()
	return b.currentID, b.currentObject, b.currentErr
}

func (b *bookmark) done() bool {
	_, _, err := b.current()
	return err != nil
}

func (b *bookmark) clear() {
	b.currentID = nil
	b.currentObject = nil
}

func allDone(bookmarks []*bookmark) bool {
	for _, b := range bookmarks {
		if !b.done() {
			return false
		}
	}

	return true
}
