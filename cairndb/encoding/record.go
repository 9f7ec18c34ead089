package encoding

import (
	"encoding/binary"
	"fmt"
)

// RecordLength is the fixed on-disk size of a record: 16 byte id,
// 8 byte start, 4 byte length.
const RecordLength = 28

// MarshalRecords converts a slice of records into an index.
func MarshalRecords(records []*Record) ([]byte, error) {
	recordBytes := make([]byte, len(records)*RecordLength)

	for i, r := range records {
		if len(r.ID) != 16 {
			return nil, fmt.Errorf("record id %v is not 128 bits", r.ID)
		}

		buff := recordBytes[i*RecordLength : (i+1)*RecordLength]

		copy(buff, r.ID)
		binary.LittleEndian.PutUint64(buff[16:24], r.Start)
		binary.LittleEndian.PutUint32(buff[24:], r.Length)
	}

	return recordBytes, nil
}

// UnmarshalRecords converts an index into a slice of records.
func UnmarshalRecords(recordBytes []byte) ([]*Record, error) {
	if len(recordBytes)%RecordLength != 0 {
		return nil, fmt.Errorf("index len %d is not a multiple of %d", len(recordBytes), RecordLength)
	}

	numRecords := RecordCount(recordBytes)
	records := make([]*Record, 0, numRecords)

	for i := 0; i < numRecords; i++ {
		buff := recordBytes[i*RecordLength : (i+1)*RecordLength]
		records = append(records, unmarshalRecord(buff))
	}

	return records, nil
}

// RecordCount returns the number of records in an index.
func RecordCount(b []byte) int {
	return len(b) / RecordLength
}

func unmarshalRecord(buff []byte) *Record {
	return &Record{
		ID:     append([]byte(nil), buff[:16]...),
		Start:  binary.LittleEndian.Uint64(buff[16:24]),
		Length: binary.LittleEndian.Uint32(buff[24:]),
	}
}
