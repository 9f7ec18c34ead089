package model

import (
	"bytes"

	"github.com/pkg/errors"
)

// ObjectCombiner is used by the storage layer when two objects are found for
// the same trace id.
var ObjectCombiner = objectCombiner{}

type objectCombiner struct{}

// Combine merges the byte representations of two traces.  Byte equal objects
// collapse without unmarshalling.  wasCombined indicates whether an actual
// merge took place.
func (objectCombiner) Combine(objA []byte, objB []byte) ([]byte, bool, error) {
	if len(objA) == 0 {
		return objB, false, nil
	}
	if len(objB) == 0 {
		return objA, false, nil
	}

	if bytes.Equal(objA, objB) {
		return objA, false, nil
	}

	traceA, err := Unmarshal(objA)
	if err != nil {
		return nil, false, errors.Wrap(err, "error unmarshalling objA")
	}

	traceB, err := Unmarshal(objB)
	if err != nil {
		return nil, false, errors.Wrap(err, "error unmarshalling objB")
	}

	combined, _ := CombineTraces(traceA, traceB)
	bytes, err := Marshal(combined)
	if err != nil {
		return nil, false, errors.Wrap(err, "error marshalling combined trace")
	}

	return bytes, true, nil
}

// CombineTraceBytes combines two trace byte slices, tolerating either being nil.
func CombineTraceBytes(objA []byte, objB []byte) ([]byte, error) {
	b, _, err := ObjectCombiner.Combine(objA, objB)
	return b, err
}
