package encoding

// ObjectCombiner merges two objects found for the same id.  Either input may
// be nil.  wasCombined reports whether a real merge happened.
type ObjectCombiner interface {
	Combine(objA []byte, objB []byte) (b []byte, wasCombined bool, err error)
}
