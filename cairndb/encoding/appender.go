package encoding

import (
	"io"
)

// Appender writes objects to a block data stream while building the
// downsampled index.  Append must be called with ascending ids.
type Appender interface {
	Append(id ID, b []byte) error
	Complete()
	Records() []*Record
	Length() int
	DataLength() uint64
}

type bufferedAppender struct {
	writer io.Writer
	codec  Codec

	records         []*Record
	totalObjects    int
	currentOffset   uint64
	currentRecord   *Record
	indexDownsample int
}

// NewBufferedAppender returns an appender that records one index entry per
// indexDownsample objects.
func NewBufferedAppender(writer io.Writer, codec Codec, indexDownsample int, totalObjectsEstimate int) Appender {
	return &bufferedAppender{
		writer:          writer,
		codec:           codec,
		records:         make([]*Record, 0, totalObjectsEstimate/indexDownsample+1),
		indexDownsample: indexDownsample,
	}
}

func (a *bufferedAppender) Append(id ID, b []byte) error {
	length, err := MarshalObjectToWriter(id, b, a.writer, a.codec)
	if err != nil {
		return err
	}

	if a.currentRecord == nil {
		a.currentRecord = &Record{
			Start: a.currentOffset,
		}
	}
	a.totalObjects++
	a.currentOffset += uint64(length)

	// the record id is the max id covered by the record, so it always
	// trails the most recent append
	a.currentRecord.ID = append(a.currentRecord.ID[:0], id...)
	a.currentRecord.Length += uint32(length)

	if a.totalObjects%a.indexDownsample == 0 {
		a.records = append(a.records, a.currentRecord)
		a.currentRecord = nil
	}

	return nil
}

func (a *bufferedAppender) Records() []*Record {
	return a.records
}

func (a *bufferedAppender) Length() int {
	return a.totalObjects
}

func (a *bufferedAppender) DataLength() uint64 {
	return a.currentOffset
}

// Complete flushes the partial record at the end of the stream.
func (a *bufferedAppender) Complete() {
	if a.currentRecord == nil {
		return
	}
	a.records = append(a.records, a.currentRecord)
	a.currentRecord = nil
}
