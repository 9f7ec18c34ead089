package validation

import "bytes"

// ValidTraceID confirms that trace ids are 128 bits
func ValidTraceID(id []byte) bool {
	return len(id) == 16
}

// ValidSpanID confirms that span ids are 64 bits and not all zero
func ValidSpanID(id []byte) bool {
	return len(id) == 8 && !bytes.Equal(id, []byte{0, 0, 0, 0, 0, 0, 0, 0})
}
