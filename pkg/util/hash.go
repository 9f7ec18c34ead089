package util

import (
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"strings"
)

// TokenFor generates a token for the given tenant and trace id.  It is used to
// key live traces in the ingester.
func TokenFor(tenantID string, b []byte) uint32 {
	h := fnv.New32()
	_, _ = h.Write([]byte(tenantID))
	_, _ = h.Write(b)
	return h.Sum32()
}

// HexStringToTraceID parses a trace id from its hex representation and pads it
// to 128 bits.
func HexStringToTraceID(id string) ([]byte, error) {
	for pos, idChar := range strings.Split(id, "") {
		if (idChar >= "a" && idChar <= "f") ||
			(idChar >= "A" && idChar <= "F") ||
			(idChar >= "0" && idChar <= "9") {
			continue
		}
		return nil, fmt.Errorf("trace IDs can only contain hex characters: invalid character '%s' at position %d", idChar, pos+1)
	}

	// the encoding/hex package does not like odd length strings
	if len(id)%2 == 1 {
		id = "0" + id
	}

	byteID, err := hex.DecodeString(id)
	if err != nil {
		return nil, err
	}

	size := len(byteID)
	if size > 16 {
		return nil, fmt.Errorf("trace IDs can't be larger than 128 bits")
	}
	if size < 16 {
		byteID = append(make([]byte, 16-size), byteID...)
	}

	return byteID, nil
}

// TraceIDToHexString inverts HexStringToTraceID, dropping leading zero bytes.
func TraceIDToHexString(byteID []byte) string {
	id := hex.EncodeToString(byteID)
	return strings.TrimLeft(id, "0")
}
