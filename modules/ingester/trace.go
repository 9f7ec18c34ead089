package ingester

import (
	"context"
	"time"

	"github.com/gogo/status"
	"google.golang.org/grpc/codes"

	"github.com/cairndb/cairn/modules/overrides"
	"github.com/cairndb/cairn/pkg/model"
)

type trace struct {
	trace        *model.Trace
	lastAppend   time.Time
	traceID      []byte
	maxBytes     int
	currentBytes int
}

func newTrace(maxBytes int, traceID []byte) *trace {
	return &trace{
		trace:      &model.Trace{},
		lastAppend: time.Now(),
		traceID:    traceID,
		maxBytes:   maxBytes,
	}
}

func (t *trace) Push(_ context.Context, batch *model.Batch, batchSize int) error {
	t.lastAppend = time.Now()
	if t.maxBytes != 0 {
		if t.currentBytes+batchSize > t.maxBytes {
			return status.Errorf(codes.FailedPrecondition, "%s max size of trace (%d) exceeded while adding %d bytes", overrides.ErrorPrefixTraceTooLarge, t.maxBytes, batchSize)
		}

		t.currentBytes += batchSize
	}

	t.trace.Batches = append(t.trace.Batches, batch)

	return nil
}
