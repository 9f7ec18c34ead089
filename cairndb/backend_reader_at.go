package cairndb

import (
	"context"

	"github.com/google/uuid"

	"github.com/cairndb/cairn/cairndb/backend"
)

// backendReaderAt adapts ranged backend object reads to io.ReaderAt so the
// index finder can work directly against the backend.
type backendReaderAt struct {
	ctx      context.Context
	r        backend.Reader
	blockID  uuid.UUID
	tenantID string

	metrics *FindMetrics
}

func newBackendReaderAt(ctx context.Context, r backend.Reader, blockID uuid.UUID, tenantID string, metrics *FindMetrics) *backendReaderAt {
	return &backendReaderAt{
		ctx:      ctx,
		r:        r,
		blockID:  blockID,
		tenantID: tenantID,
		metrics:  metrics,
	}
}

func (b *backendReaderAt) ReadAt(p []byte, off int64) (int, error) {
	err := b.r.Object(b.ctx, b.blockID, b.tenantID, uint64(off), p)
	if err != nil {
		return 0, err
	}

	if b.metrics != nil {
		b.metrics.BlockReads.Inc()
		b.metrics.BlockBytesRead.Add(int32(len(p)))
	}

	return len(p), nil
}
