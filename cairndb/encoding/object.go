package encoding

import (
	"encoding/binary"
	"fmt"
	"io"
)

/*
	|          -- totalLength --                   |
	| total length | id length | id | object bytes |

	object bytes are compressed with the block's codec.  lengths are
	little endian uint32s and refer to bytes as stored.
*/

const uint32Size = 4

// MarshalObjectToWriter writes a single object.  It returns the number of
// bytes written to the underlying writer.
func MarshalObjectToWriter(id ID, b []byte, w io.Writer, codec Codec) (int, error) {
	compressed, err := codec.Compress(b)
	if err != nil {
		return 0, err
	}

	idLength := len(id)
	totalLength := len(compressed) + idLength + uint32Size*2

	err = binary.Write(w, binary.LittleEndian, uint32(totalLength))
	if err != nil {
		return 0, err
	}
	err = binary.Write(w, binary.LittleEndian, uint32(idLength))
	if err != nil {
		return 0, err
	}

	_, err = w.Write(id)
	if err != nil {
		return 0, err
	}
	_, err = w.Write(compressed)
	if err != nil {
		return 0, err
	}

	return totalLength, nil
}

// UnmarshalObjectFromReader reads the next object.  A nil id with nil error
// signals a clean end of stream.
func UnmarshalObjectFromReader(r io.Reader, codec Codec) (ID, []byte, error) {
	var totalLength uint32
	err := binary.Read(r, binary.LittleEndian, &totalLength)
	if err == io.EOF {
		return nil, nil, nil
	} else if err != nil {
		return nil, nil, err
	}

	var idLength uint32
	err = binary.Read(r, binary.LittleEndian, &idLength)
	if err != nil {
		return nil, nil, err
	}

	if totalLength < idLength+uint32Size*2 {
		return nil, nil, fmt.Errorf("malformed object: total length %d too small", totalLength)
	}

	restLength := totalLength - uint32Size*2
	b := make([]byte, restLength)
	_, err = io.ReadFull(r, b)
	if err != nil {
		return nil, nil, err
	}

	id := b[:idLength]
	object, err := codec.Decompress(b[idLength:])
	if err != nil {
		return nil, nil, err
	}

	return id, object, nil
}

// UnmarshalAndAdvanceBuffer is the in-memory version of
// UnmarshalObjectFromReader.  It returns the remaining buffer along with the
// next id and object.  io.EOF signals an exhausted buffer.
func UnmarshalAndAdvanceBuffer(buffer []byte, codec Codec) ([]byte, ID, []byte, error) {
	if len(buffer) == 0 {
		return nil, nil, nil, io.EOF
	}

	if len(buffer) < uint32Size*2 {
		return nil, nil, nil, fmt.Errorf("malformed object: buffer too short for framing")
	}

	totalLength := binary.LittleEndian.Uint32(buffer)
	idLength := binary.LittleEndian.Uint32(buffer[uint32Size:])

	if uint32(len(buffer)) < totalLength || totalLength < idLength+uint32Size*2 {
		return nil, nil, nil, fmt.Errorf("malformed object: total length %d, buffer %d", totalLength, len(buffer))
	}

	id := buffer[uint32Size*2 : uint32Size*2+idLength]
	object, err := codec.Decompress(buffer[uint32Size*2+idLength : totalLength])
	if err != nil {
		return nil, nil, nil, err
	}

	return buffer[totalLength:], id, object, nil
}
