package wal

import (
	"bytes"
	"os"
	"sort"

	"github.com/google/uuid"

	"github.com/cairndb/cairn/cairndb/encoding"
)

// AppendBlock is the head block of a tenant.  Appends go straight to its
// file, the in-memory records are an index over what is already durable.
// Writes must be serialized by the caller.
type AppendBlock struct {
	meta     *encoding.BlockMeta
	filepath string
	codec    encoding.Codec

	appendFile *os.File
	records    []*encoding.Record
	offset     uint64
}

func newAppendBlock(id uuid.UUID, tenantID string, filepath string, enc encoding.Encoding) (*AppendBlock, error) {
	codec, err := encoding.CodecFor(enc)
	if err != nil {
		return nil, err
	}

	a := &AppendBlock{
		meta:     encoding.NewBlockMeta(tenantID, id, enc),
		filepath: filepath,
		codec:    codec,
	}

	f, err := os.OpenFile(a.fullFilename(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	a.appendFile = f

	return a, nil
}

// Append writes an object to the block file.  The data is on disk when this
// returns without error.
func (a *AppendBlock) Append(id encoding.ID, b []byte) error {
	length, err := encoding.MarshalObjectToWriter(id, b, a.appendFile, a.codec)
	if err != nil {
		return err
	}

	// ids escape the caller, copy before retaining
	writeID := append([]byte(nil), id...)
	a.records = append(a.records, &encoding.Record{
		ID:     writeID,
		Start:  a.offset,
		Length: uint32(length),
	})
	a.offset += uint64(length)
	a.meta.ObjectAdded(writeID, length)

	return nil
}

func (a *AppendBlock) BlockID() uuid.UUID {
	return a.meta.BlockID
}

func (a *AppendBlock) Meta() *encoding.BlockMeta {
	return a.meta
}

// DataLength returns the number of bytes appended so far.
func (a *AppendBlock) DataLength() uint64 {
	return a.offset
}

func (a *AppendBlock) Length() int {
	return len(a.records)
}

// Find returns the object for the given id, combining duplicates if the same
// trace was appended more than once.
func (a *AppendBlock) Find(id encoding.ID, combiner encoding.ObjectCombiner) ([]byte, error) {
	f, err := os.OpenFile(a.fullFilename(), os.O_RDONLY, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var found []byte
	for _, r := range a.records {
		if !bytes.Equal(r.ID, id) {
			continue
		}

		buff := make([]byte, r.Length)
		_, err = f.ReadAt(buff, int64(r.Start))
		if err != nil {
			return nil, err
		}

		_, _, obj, err := encoding.UnmarshalAndAdvanceBuffer(buff, a.codec)
		if err != nil {
			return nil, err
		}

		found, _, err = combiner.Combine(found, obj)
		if err != nil {
			return nil, err
		}
	}

	return found, nil
}

// Iterator steps through the block in append order.
func (a *AppendBlock) Iterator() (encoding.Iterator, error) {
	f, err := os.OpenFile(a.fullFilename(), os.O_RDONLY, 0o644)
	if err != nil {
		return nil, err
	}

	return &closingIterator{
		Iterator: encoding.NewIterator(f, a.codec),
		f:        f,
	}, nil
}

// sortedRecords returns a sorted copy of the block's records.
func (a *AppendBlock) sortedRecords() []*encoding.Record {
	records := make([]*encoding.Record, len(a.records))
	copy(records, a.records)
	sort.Slice(records, func(i, j int) bool {
		return bytes.Compare(records[i].ID, records[j].ID) == -1
	})
	return records
}

func (a *AppendBlock) Clear() error {
	if a.appendFile != nil {
		_ = a.appendFile.Close()
		a.appendFile = nil
	}

	return os.Remove(a.fullFilename())
}

func (a *AppendBlock) fullFilename() string {
	return fullFilename(a.filepath, a.meta)
}

type closingIterator struct {
	encoding.Iterator
	f *os.File
}

func (c *closingIterator) Next() (encoding.ID, []byte, error) {
	id, obj, err := c.Iterator.Next()
	if id == nil && err == nil {
		_ = c.f.Close()
	}
	return id, obj, err
}
