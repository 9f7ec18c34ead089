package backend

import (
	"context"
	"io"
	"math"

	"github.com/google/uuid"

	"github.com/cairndb/cairn/cairndb/encoding"
)

type backendIterator struct {
	tenantID string
	blockID  uuid.UUID
	r        Reader
	codec    encoding.Codec

	indexBuffer         []byte
	objectsBuffer       []byte
	activeObjectsBuffer []byte
}

// NewBackendIterator returns an iterator over all objects of a sealed block.
// It reads the data file in chunkSizeBytes sized pulls guided by the index.
// Next returns io.EOF once the block is exhausted.
func NewBackendIterator(ctx context.Context, tenantID string, blockID uuid.UUID, chunkSizeBytes uint32, reader Reader, codec encoding.Codec) (encoding.Iterator, error) {
	index, err := reader.Index(ctx, blockID, tenantID)
	if err != nil {
		return nil, err
	}

	return &backendIterator{
		tenantID:      tenantID,
		blockID:       blockID,
		r:             reader,
		codec:         codec,
		indexBuffer:   index,
		objectsBuffer: make([]byte, chunkSizeBytes),
	}, nil
}

// Next returns the next id/object pair.  The returned slices are owned by the
// iterator and only valid until the following call.
func (i *backendIterator) Next() (encoding.ID, []byte, error) {
	id, object, err := i.nextFromBuffer()
	if err == nil {
		return id, object, nil
	} else if err != io.EOF {
		return nil, nil, err
	}

	// objects buffer is empty, check the index
	if encoding.RecordCount(i.indexBuffer) == 0 {
		return nil, nil, io.EOF
	}

	// pull the next chunk of records into the objects buffer
	var start uint64 = math.MaxUint64
	var length uint32
	records, err := encoding.UnmarshalRecords(i.indexBuffer)
	if err != nil {
		return nil, nil, err
	}

	consumed := 0
	for _, record := range records {
		// at least one record always fits
		if length+record.Length > uint32(len(i.objectsBuffer)) && start != math.MaxUint64 {
			break
		}
		if start == math.MaxUint64 {
			start = record.Start
		}
		length += record.Length
		consumed++
	}
	i.indexBuffer = i.indexBuffer[consumed*encoding.RecordLength:]

	if length > uint32(len(i.objectsBuffer)) {
		i.objectsBuffer = make([]byte, length)
	}
	i.activeObjectsBuffer = i.objectsBuffer[:length]
	err = i.r.Object(context.Background(), i.blockID, i.tenantID, start, i.activeObjectsBuffer)
	if err != nil {
		return nil, nil, err
	}

	return i.nextFromBuffer()
}

func (i *backendIterator) nextFromBuffer() (encoding.ID, []byte, error) {
	buffer, id, object, err := encoding.UnmarshalAndAdvanceBuffer(i.activeObjectsBuffer, i.codec)
	if err != nil {
		return nil, nil, err
	}
	i.activeObjectsBuffer = buffer
	return id, object, nil
}
