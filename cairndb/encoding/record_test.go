package encoding

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalRecords(t *testing.T) {
	numRecords := 10
	records := make([]*Record, 0, numRecords)
	for i := 0; i < numRecords; i++ {
		id := make([]byte, 16)
		rand.Read(id)
		records = append(records, &Record{
			ID:     id,
			Start:  rand.Uint64(),
			Length: rand.Uint32(),
		})
	}
	SortRecords(records)

	indexBytes, err := MarshalRecords(records)
	require.NoError(t, err)
	assert.Len(t, indexBytes, numRecords*RecordLength)
	assert.Equal(t, numRecords, RecordCount(indexBytes))

	out, err := UnmarshalRecords(indexBytes)
	require.NoError(t, err)
	assert.Equal(t, records, out)
}

func TestMarshalRecordsRejectsShortIDs(t *testing.T) {
	_, err := MarshalRecords([]*Record{
		{ID: []byte{0x01}},
	})
	assert.Error(t, err)
}

func TestUnmarshalRecordsRejectsPartialIndex(t *testing.T) {
	_, err := UnmarshalRecords(make([]byte, RecordLength+1))
	assert.Error(t, err)
}
