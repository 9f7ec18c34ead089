package ingester

import (
	"context"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/fnv"
	"sync"
	"time"

	"github.com/gogo/status"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
	"google.golang.org/grpc/codes"

	"github.com/cairndb/cairn/cairndb"
	"github.com/cairndb/cairn/cairndb/wal"
	"github.com/cairndb/cairn/modules/overrides"
	"github.com/cairndb/cairn/pkg/model"
	"github.com/cairndb/cairn/pkg/validation"
)

// ErrWriteFailed is returned on any push after a head block append has
// failed.  Durability can no longer be guaranteed, the instance refuses
// writes until the process is restarted.
var ErrWriteFailed = errors.New("wal write failed, instance is read-only")

var (
	metricTracesCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cairn",
		Name:      "ingester_traces_created_total",
		Help:      "The total number of traces created per tenant.",
	}, []string{"tenant"})
	metricBytesWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cairn",
		Name:      "ingester_bytes_written_total",
		Help:      "The total bytes written per tenant.",
	}, []string{"tenant"})
	metricBlocksClearedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cairn",
		Name:      "ingester_blocks_cleared_total",
		Help:      "The total number of blocks cleared.",
	})
)

type instance struct {
	tracesMtx  sync.Mutex
	traces     map[uint32]*trace
	traceCount atomic.Int32

	blocksMtx        sync.RWMutex
	headBlock        *wal.AppendBlock
	completingBlocks []*wal.AppendBlock
	completeBlocks   []*wal.CompleteBlock

	lastBlockCut time.Time

	writeFailed atomic.Bool

	instanceID         string
	tracesCreatedTotal prometheus.Counter
	bytesWrittenTotal  prometheus.Counter
	limiter            *Limiter
	writer             cairndb.Writer

	hash hash.Hash32
}

func newInstance(instanceID string, limiter *Limiter, writer cairndb.Writer) (*instance, error) {
	i := &instance{
		traces: map[uint32]*trace{},

		instanceID:         instanceID,
		tracesCreatedTotal: metricTracesCreatedTotal.WithLabelValues(instanceID),
		bytesWrittenTotal:  metricBytesWrittenTotal.WithLabelValues(instanceID),
		limiter:            limiter,
		writer:             writer,

		hash: fnv.New32(),
	}
	err := i.resetHeadBlock()
	if err != nil {
		return nil, err
	}
	return i, nil
}

// Push buffers a batch into the live trace it belongs to.
func (i *instance) Push(ctx context.Context, batch *model.Batch) error {
	if i.writeFailed.Load() {
		return ErrWriteFailed
	}

	id, err := batchTraceID(batch)
	if err != nil {
		return err
	}

	// check for max traces before grabbing the lock to better load shed
	err = i.limiter.AssertMaxTracesPerUser(i.instanceID, int(i.traceCount.Load()))
	if err != nil {
		return status.Errorf(codes.FailedPrecondition, "%s max live traces per tenant exceeded: %v", overrides.ErrorPrefixLiveTracesExceeded, err)
	}

	buf, err := model.MarshalBatch(batch)
	if err != nil {
		return err
	}

	i.tracesMtx.Lock()
	defer i.tracesMtx.Unlock()

	trace := i.getOrCreateTrace(id)
	return trace.Push(ctx, batch, len(buf))
}

// PushBytes pushes a marshalled trace to the instance.  Used on wal replay.
func (i *instance) PushBytes(ctx context.Context, id []byte, traceBytes []byte) error {
	if !validation.ValidTraceID(id) {
		return status.Errorf(codes.InvalidArgument, "%s is not a valid traceid", hex.EncodeToString(id))
	}

	err := i.limiter.AssertMaxTracesPerUser(i.instanceID, int(i.traceCount.Load()))
	if err != nil {
		return status.Errorf(codes.FailedPrecondition, "%s max live traces per tenant exceeded: %v", overrides.ErrorPrefixLiveTracesExceeded, err)
	}

	t, err := model.Unmarshal(traceBytes)
	if err != nil {
		return err
	}

	i.tracesMtx.Lock()
	defer i.tracesMtx.Unlock()

	trace := i.getOrCreateTrace(id)
	for _, b := range t.Batches {
		err = trace.Push(ctx, b, 0)
		if err != nil {
			return err
		}
	}
	trace.currentBytes += len(traceBytes)

	return nil
}

// CutCompleteTraces moves complete traces out of the live map into the head block.
func (i *instance) CutCompleteTraces(cutoff time.Duration, immediate bool) error {
	tracesToCut := i.tracesToCut(cutoff, immediate)

	for _, t := range tracesToCut {
		model.SortTrace(t.trace)

		out, err := model.Marshal(t.trace)
		if err != nil {
			return err
		}

		err = i.writeTraceToHeadBlock(t.traceID, out)
		if err != nil {
			return err
		}
		i.bytesWrittenTotal.Add(float64(len(out)))
	}

	return nil
}

// CutBlockIfReady cuts a completingBlock from the HeadBlock if ready.
// Returns the id of the block cut, uuid.Nil if no block was cut.
func (i *instance) CutBlockIfReady(maxBlockLifetime time.Duration, maxBlockBytes uint64, immediate bool) (uuid.UUID, error) {
	i.blocksMtx.Lock()
	defer i.blocksMtx.Unlock()

	if i.headBlock == nil || i.headBlock.DataLength() == 0 {
		return uuid.Nil, nil
	}

	now := time.Now()
	if i.lastBlockCut.Add(maxBlockLifetime).Before(now) || i.headBlock.DataLength() >= maxBlockBytes || immediate {
		completingBlock := i.headBlock

		i.completingBlocks = append(i.completingBlocks, completingBlock)

		err := i.resetHeadBlock()
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to resetHeadBlock: %w", err)
		}

		return completingBlock.BlockID(), nil
	}

	return uuid.Nil, nil
}

// CompleteBlock rewrites a completingBlock into a sorted, deduplicated
// completeBlock.  The completingBlock is kept until the new block has been
// flushed to the backend.
func (i *instance) CompleteBlock(blockID uuid.UUID) error {
	i.blocksMtx.RLock()
	var completingBlock *wal.AppendBlock
	for _, b := range i.completingBlocks {
		if b.BlockID() == blockID {
			completingBlock = b
			break
		}
	}
	i.blocksMtx.RUnlock()

	if completingBlock == nil {
		return fmt.Errorf("error finding completingBlock")
	}

	completeBlock, err := i.writer.CompleteBlock(completingBlock, model.ObjectCombiner)
	if err != nil {
		return errors.Wrap(err, "error completing wal block")
	}

	i.blocksMtx.Lock()
	i.completeBlocks = append(i.completeBlocks, completeBlock)
	i.blocksMtx.Unlock()

	return nil
}

// ClearCompletingBlock drops the wal file backing a block that has been
// flushed to the backend.
func (i *instance) ClearCompletingBlock(blockID uuid.UUID) error {
	i.blocksMtx.Lock()
	var completingBlock *wal.AppendBlock
	for j, b := range i.completingBlocks {
		if b.BlockID() == blockID {
			completingBlock = b
			i.completingBlocks = append(i.completingBlocks[:j], i.completingBlocks[j+1:]...)
			break
		}
	}
	i.blocksMtx.Unlock()

	if completingBlock != nil {
		return completingBlock.Clear()
	}

	return nil
}

// GetBlockToBeFlushed returns the next complete block that has not been
// flushed to the backend yet.
func (i *instance) GetBlockToBeFlushed() *wal.CompleteBlock {
	i.blocksMtx.Lock()
	defer i.blocksMtx.Unlock()

	for _, c := range i.completeBlocks {
		if c.FlushedTime().IsZero() {
			return c
		}
	}

	return nil
}

func (i *instance) ClearFlushedBlocks(completeBlockTimeout time.Duration) error {
	var err error

	i.blocksMtx.Lock()
	defer i.blocksMtx.Unlock()

	for idx, b := range i.completeBlocks {
		flushedTime := b.FlushedTime()
		if flushedTime.IsZero() {
			continue
		}

		if flushedTime.Add(completeBlockTimeout).Before(time.Now()) {
			i.completeBlocks = append(i.completeBlocks[:idx], i.completeBlocks[idx+1:]...)
			err = b.Clear()
			if err == nil {
				metricBlocksClearedTotal.Inc()
			}
			break
		}
	}

	return err
}

func (i *instance) FindTraceByID(id []byte) (*model.Trace, error) {
	var err error
	var allBytes []byte

	// live traces
	i.tracesMtx.Lock()
	if liveTrace, ok := i.traces[i.tokenForTraceID(id)]; ok {
		allBytes, err = model.Marshal(liveTrace.trace)
		if err != nil {
			i.tracesMtx.Unlock()
			return nil, fmt.Errorf("unable to marshal liveTrace: %w", err)
		}
	}
	i.tracesMtx.Unlock()

	i.blocksMtx.RLock()
	defer i.blocksMtx.RUnlock()

	// headBlock
	foundBytes, err := i.headBlock.Find(id, model.ObjectCombiner)
	if err != nil {
		return nil, fmt.Errorf("headBlock.Find failed: %w", err)
	}
	allBytes, err = model.CombineTraceBytes(allBytes, foundBytes)
	if err != nil {
		return nil, fmt.Errorf("post headBlock combine failed: %w", err)
	}

	// completingBlocks
	for _, c := range i.completingBlocks {
		foundBytes, err = c.Find(id, model.ObjectCombiner)
		if err != nil {
			return nil, fmt.Errorf("completingBlock.Find failed: %w", err)
		}
		allBytes, err = model.CombineTraceBytes(allBytes, foundBytes)
		if err != nil {
			return nil, fmt.Errorf("post completingBlocks combine failed: %w", err)
		}
	}

	// completeBlocks
	for _, c := range i.completeBlocks {
		foundBytes, err = c.Find(id)
		if err != nil {
			return nil, fmt.Errorf("completeBlock.Find failed: %w", err)
		}
		allBytes, err = model.CombineTraceBytes(allBytes, foundBytes)
		if err != nil {
			return nil, fmt.Errorf("post completeBlocks combine failed: %w", err)
		}
	}

	if allBytes != nil {
		return model.Unmarshal(allBytes)
	}

	return nil, nil
}

// getOrCreateTrace will return a new trace object for the given id.
// It must be called under the i.tracesMtx lock
func (i *instance) getOrCreateTrace(traceID []byte) *trace {
	fp := i.tokenForTraceID(traceID)
	trace, ok := i.traces[fp]
	if ok {
		return trace
	}

	maxBytes := i.limiter.limits.MaxBytesPerTrace(i.instanceID)
	trace = newTrace(maxBytes, traceID)
	i.traces[fp] = trace
	i.tracesCreatedTotal.Inc()
	i.traceCount.Inc()

	return trace
}

// tokenForTraceID hash trace ID, should be called under lock
func (i *instance) tokenForTraceID(id []byte) uint32 {
	i.hash.Reset()
	_, _ = i.hash.Write(id)
	return i.hash.Sum32()
}

// resetHeadBlock() should be called under lock
func (i *instance) resetHeadBlock() error {
	var err error
	i.headBlock, err = i.writer.WAL().NewBlock(uuid.New(), i.instanceID)
	if err != nil {
		return err
	}

	i.lastBlockCut = time.Now()
	return nil
}

func (i *instance) tracesToCut(cutoff time.Duration, immediate bool) []*trace {
	i.tracesMtx.Lock()
	defer i.tracesMtx.Unlock()

	cutoffTime := time.Now().Add(-cutoff)
	tracesToCut := make([]*trace, 0, len(i.traces))

	for key, trace := range i.traces {
		if cutoffTime.After(trace.lastAppend) || immediate {
			tracesToCut = append(tracesToCut, trace)
			delete(i.traces, key)
		}
	}
	i.traceCount.Store(int32(len(i.traces)))

	return tracesToCut
}

func (i *instance) writeTraceToHeadBlock(id []byte, b []byte) error {
	i.blocksMtx.Lock()
	defer i.blocksMtx.Unlock()

	err := i.headBlock.Append(id, b)
	if err != nil {
		i.writeFailed.Store(true)
	}
	return err
}

// batchTraceID gets the TraceID of the first span in the batch and assumes its the trace ID throughout
// this assumption should hold b/c the distributor makes sure each batch all belong to the same trace
func batchTraceID(batch *model.Batch) ([]byte, error) {
	if batch == nil || len(batch.Spans) == 0 {
		return nil, errors.New("batch has no spans")
	}

	id := batch.Spans[0].TraceID
	if !validation.ValidTraceID(id) {
		return nil, status.Errorf(codes.InvalidArgument, "%s is not a valid traceid", hex.EncodeToString(id))
	}

	return id, nil
}
