package backend

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cairndb/cairn/cairndb/encoding"
)

var (
	ErrMetaDoesNotExist = fmt.Errorf("meta does not exist")
	ErrEmptyTenantID    = fmt.Errorf("empty tenant id")
	ErrEmptyBlockID     = fmt.Errorf("empty block id")
)

// Writer pushes sealed blocks into the backend.
type Writer interface {
	// Write persists a complete block: the meta, the index and the data
	// file found at objectFilePath.
	Write(ctx context.Context, meta *encoding.BlockMeta, bIndex []byte, objectFilePath string) error
}

// Reader reads sealed blocks from the backend.
type Reader interface {
	Tenants(ctx context.Context) ([]string, error)
	Blocks(ctx context.Context, tenantID string) ([]uuid.UUID, error)
	BlockMeta(ctx context.Context, blockID uuid.UUID, tenantID string) (*encoding.BlockMeta, error)
	Index(ctx context.Context, blockID uuid.UUID, tenantID string) ([]byte, error)
	// Object reads len(buffer) bytes of the data file starting at start.
	Object(ctx context.Context, blockID uuid.UUID, tenantID string, start uint64, buffer []byte) error

	Shutdown()
}

// Compactor handles the backend side of block lifecycle transitions.
type Compactor interface {
	// MarkBlockCompacted flags a block so it no longer appears in the
	// active blocklist.  The block's data stays readable until cleared.
	MarkBlockCompacted(blockID uuid.UUID, tenantID string) error
	// ClearBlock removes a block from the backend.  Clearing a block that
	// is already gone is not an error.
	ClearBlock(blockID uuid.UUID, tenantID string) error
	CompactedBlockMeta(blockID uuid.UUID, tenantID string) (*encoding.CompactedBlockMeta, error)
}
