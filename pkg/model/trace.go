package model

import (
	"hash"
	"hash/fnv"
	"sort"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Span is a normalized span as handed to the pipeline by a receiver
// collaborator.  Wire format decoding is out of scope, receivers are expected
// to produce this structure.
type Span struct {
	TraceID           []byte            `json:"traceID"`
	SpanID            []byte            `json:"spanID"`
	ParentSpanID      []byte            `json:"parentSpanID,omitempty"`
	Name              string            `json:"name"`
	StartTimeUnixNano uint64            `json:"startTimeUnixNano"`
	EndTimeUnixNano   uint64            `json:"endTimeUnixNano"`
	Attributes        map[string]string `json:"attributes,omitempty"`
}

// Batch is a set of spans sharing a trace id, pushed together by a receiver.
type Batch struct {
	ServiceName string  `json:"serviceName,omitempty"`
	Spans       []*Span `json:"spans"`
}

// Trace is the unit of storage.  All batches belong to the same trace id.
type Trace struct {
	Batches []*Batch `json:"batches"`
}

func (t *Trace) SpanCount() int {
	count := 0
	for _, b := range t.Batches {
		count += len(b.Spans)
	}
	return count
}

// Marshal encodes a trace into its storage representation.
func Marshal(t *Trace) ([]byte, error) {
	return json.Marshal(t)
}

// MarshalBatch encodes a single batch.  Used for size accounting before a
// batch is admitted to a live trace.
func MarshalBatch(b *Batch) ([]byte, error) {
	return json.Marshal(b)
}

// Unmarshal decodes a trace from its storage representation.
func Unmarshal(b []byte) (*Trace, error) {
	t := &Trace{}
	err := json.Unmarshal(b, t)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// SortTrace sorts batches by the start time of their first span and spans
// within a batch by start time.  Sorting before marshalling keeps compaction
// output stable.
func SortTrace(t *Trace) {
	for _, b := range t.Batches {
		sort.Slice(b.Spans, func(i, j int) bool {
			return b.Spans[i].StartTimeUnixNano < b.Spans[j].StartTimeUnixNano
		})
	}

	sort.Slice(t.Batches, func(i, j int) bool {
		if len(t.Batches[i].Spans) == 0 || len(t.Batches[j].Spans) == 0 {
			return len(t.Batches[i].Spans) > len(t.Batches[j].Spans)
		}
		return t.Batches[i].Spans[0].StartTimeUnixNano < t.Batches[j].Spans[0].StartTimeUnixNano
	})
}

// CombineTraces merges two traces deduplicating spans by span id.  Spans of
// traceA win on conflict.  Returns the number of spans in the result.
func CombineTraces(traceA *Trace, traceB *Trace) (*Trace, int) {
	h := fnv.New32()

	spansInA := make(map[uint32]struct{})
	for _, batch := range traceA.Batches {
		for _, span := range batch.Spans {
			spansInA[tokenForID(h, span.SpanID)] = struct{}{}
		}
	}

	spanCount := len(spansInA)
	for _, batch := range traceB.Batches {
		notFound := batch.Spans[:0]
		for _, span := range batch.Spans {
			if _, ok := spansInA[tokenForID(h, span.SpanID)]; !ok {
				notFound = append(notFound, span)
				spanCount++
			}
		}
		if len(notFound) > 0 {
			batch.Spans = notFound
			traceA.Batches = append(traceA.Batches, batch)
		}
	}

	SortTrace(traceA)

	return traceA, spanCount
}

func tokenForID(h hash.Hash32, b []byte) uint32 {
	h.Reset()
	_, _ = h.Write(b)
	return h.Sum32()
}
