package wal

import (
	"os"

	"github.com/google/uuid"

	"github.com/cairndb/cairn/cairndb/encoding"
)

// ReplayBlock is a head block file reopened after a restart.  Its contents
// are replayed into a fresh instance and then cleared.
type ReplayBlock struct {
	blockID  uuid.UUID
	tenantID string
	enc      encoding.Encoding
	name     string
	filepath string
}

func newReplayBlock(name string, filepath string) (*ReplayBlock, error) {
	blockID, tenantID, enc, err := parseFilename(name)
	if err != nil {
		return nil, err
	}

	return &ReplayBlock{
		blockID:  blockID,
		tenantID: tenantID,
		enc:      enc,
		name:     name,
		filepath: filepath,
	}, nil
}

func (r *ReplayBlock) BlockID() uuid.UUID {
	return r.blockID
}

func (r *ReplayBlock) TenantID() string {
	return r.tenantID
}

func (r *ReplayBlock) Iterator() (encoding.Iterator, error) {
	codec, err := encoding.CodecFor(r.enc)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(r.fullFilename(), os.O_RDONLY, 0o644)
	if err != nil {
		return nil, err
	}

	return &closingIterator{
		Iterator: encoding.NewIterator(f, codec),
		f:        f,
	}, nil
}

func (r *ReplayBlock) Clear() error {
	return os.Remove(r.fullFilename())
}

func (r *ReplayBlock) fullFilename() string {
	return fullFilename(r.filepath, &encoding.BlockMeta{BlockID: r.blockID, TenantID: r.tenantID, Encoding: r.enc})
}
