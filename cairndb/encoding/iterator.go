package encoding

import (
	"io"
)

// Iterator steps through the objects of a block in id order.  A nil id with
// nil error signals the end of the stream.
type Iterator interface {
	Next() (ID, []byte, error)
}

type iterator struct {
	reader io.Reader
	codec  Codec
}

func NewIterator(reader io.Reader, codec Codec) Iterator {
	return &iterator{
		reader: reader,
		codec:  codec,
	}
}

func (i *iterator) Next() (ID, []byte, error) {
	return UnmarshalObjectFromReader(i.reader, i.codec)
}
