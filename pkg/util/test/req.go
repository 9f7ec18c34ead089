package test

import (
	"fmt"
	"math/rand"

	"github.com/cairndb/cairn/pkg/model"
)

// MakeSpan builds a random span for the given trace id.
func MakeSpan(traceID []byte) *model.Span {
	spanID := make([]byte, 8)
	rand.Read(spanID)

	start := rand.Uint64()
	return &model.Span{
		TraceID:           traceID,
		SpanID:            spanID,
		Name:              fmt.Sprintf("span-%d", rand.Intn(1000)),
		StartTimeUnixNano: start,
		EndTimeUnixNano:   start + uint64(rand.Intn(1000)),
	}
}

// MakeBatch builds a batch of random spans for the given trace id.
func MakeBatch(spans int, traceID []byte) *model.Batch {
	batch := &model.Batch{
		ServiceName: fmt.Sprintf("service-%d", rand.Intn(10)),
	}
	for i := 0; i < spans; i++ {
		batch.Spans = append(batch.Spans, MakeSpan(traceID))
	}
	return batch
}

// MakeTrace builds a trace with the requested number of random spans.
func MakeTrace(spans int, traceID []byte) *model.Trace {
	if spans < 1 {
		spans = 1
	}

	trace := &model.Trace{}
	for spans > 0 {
		batchSize := rand.Intn(spans) + 1
		trace.Batches = append(trace.Batches, MakeBatch(batchSize, traceID))
		spans -= batchSize
	}
	return trace
}

// MakeTraceBytes builds a random trace and returns its marshalled form.
func MakeTraceBytes(spans int, traceID []byte) ([]byte, *model.Trace, error) {
	trace := MakeTrace(spans, traceID)
	b, err := model.Marshal(trace)
	return b, trace, err
}

// ValidTraceID returns a random 16 byte trace id.
func ValidTraceID() []byte {
	id := make([]byte, 16)
	rand.Read(id)
	return id
}
