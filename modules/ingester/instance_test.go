package ingester

import (
	"context"
	"flag"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cairndb/cairn/cairndb"
	"github.com/cairndb/cairn/cairndb/backend/local"
	"github.com/cairndb/cairn/cairndb/encoding"
	"github.com/cairndb/cairn/cairndb/pool"
	"github.com/cairndb/cairn/cairndb/wal"
	"github.com/cairndb/cairn/modules/overrides"
	"github.com/cairndb/cairn/pkg/model"
	"github.com/cairndb/cairn/pkg/util/test"
)

const testTenantID = "fake"

func defaultLimitsTestConfig() overrides.Limits {
	limits := overrides.Limits{}
	limits.RegisterFlagsAndApplyDefaults(flag.NewFlagSet("", flag.PanicOnError))
	return limits
}

func defaultInstance(t *testing.T, tmpDir string) *instance {
	limits, err := overrides.NewOverrides(defaultLimitsTestConfig())
	require.NoError(t, err)

	return defaultInstanceWithOverrides(t, tmpDir, limits)
}

func defaultInstanceWithOverrides(t *testing.T, tmpDir string, limits *overrides.Overrides) *instance {
	_, w, _, err := cairndb.New(&cairndb.Config{
		Backend: "local",
		Local: &local.Config{
			Path: tmpDir + "/traces",
		},
		WAL: &wal.Config{
			Filepath:        tmpDir + "/wal",
			IndexDownsample: 2,
			Encoding:        encoding.EncNone,
		},
		Pool: &pool.Config{
			MaxWorkers: 10,
			QueueDepth: 100,
		},
	}, log.NewNopLogger())
	require.NoError(t, err)

	instance, err := newInstance(testTenantID, NewLimiter(limits), w)
	require.NoError(t, err)

	return instance
}

func pushTrace(t *testing.T, i *instance, tr *model.Trace) {
	for _, b := range tr.Batches {
		require.NoError(t, i.Push(context.Background(), b))
	}
}

func TestInstance(t *testing.T) {
	i := defaultInstance(t, t.TempDir())

	tr := test.MakeTrace(10, test.ValidTraceID())
	traceID := tr.Batches[0].Spans[0].TraceID
	pushTrace(t, i, tr)

	// live
	found, err := i.FindTraceByID(traceID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, tr.SpanCount(), found.SpanCount())

	// head block
	err = i.CutCompleteTraces(0, true)
	require.NoError(t, err)

	found, err = i.FindTraceByID(traceID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, tr.SpanCount(), found.SpanCount())

	// complete block
	blockID, err := i.CutBlockIfReady(0, 0, true)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, blockID)

	err = i.CompleteBlock(blockID)
	require.NoError(t, err)

	found, err = i.FindTraceByID(traceID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, tr.SpanCount(), found.SpanCount())

	block := i.GetBlockToBeFlushed()
	require.NotNil(t, block)
	require.Len(t, i.completeBlocks, 1)
	require.Len(t, i.completingBlocks, 1)

	err = i.ClearCompletingBlock(blockID)
	require.NoError(t, err)
	require.Len(t, i.completingBlocks, 0)

	// blocks that have never been flushed are not cleared
	err = i.ClearFlushedBlocks(0)
	require.NoError(t, err)
	require.Len(t, i.completeBlocks, 1)

	block.Flushed(time.Now().Add(-time.Hour))
	err = i.ClearFlushedBlocks(30 * time.Minute)
	require.NoError(t, err)
	require.Len(t, i.completeBlocks, 0)
}

func TestInstanceFindCombinesAllStages(t *testing.T) {
	i := defaultInstance(t, t.TempDir())

	traceID := test.ValidTraceID()

	// one batch makes it all the way to a complete block
	first := test.MakeTrace(3, traceID)
	pushTrace(t, i, first)
	require.NoError(t, i.CutCompleteTraces(0, true))
	blockID, err := i.CutBlockIfReady(0, 0, true)
	require.NoError(t, err)
	require.NoError(t, i.CompleteBlock(blockID))
	require.NoError(t, i.ClearCompletingBlock(blockID))

	// a second batch stays live
	second := test.MakeTrace(2, traceID)
	pushTrace(t, i, second)

	found, err := i.FindTraceByID(traceID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.SpanCount()+second.SpanCount(), found.SpanCount())
}

func TestInstanceLiveTracesLimit(t *testing.T) {
	limitsCfg := defaultLimitsTestConfig()
	limitsCfg.MaxLocalTracesPerUser = 1

	limits, err := overrides.NewOverrides(limitsCfg)
	require.NoError(t, err)

	i := defaultInstanceWithOverrides(t, t.TempDir(), limits)

	first := test.MakeTrace(1, test.ValidTraceID())
	require.NoError(t, i.Push(context.Background(), first.Batches[0]))

	second := test.MakeTrace(1, test.ValidTraceID())
	err = i.Push(context.Background(), second.Batches[0])
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), overrides.ErrorPrefixLiveTracesExceeded))
}

func TestInstanceTraceTooLarge(t *testing.T) {
	limitsCfg := defaultLimitsTestConfig()
	limitsCfg.MaxBytesPerTrace = 10

	limits, err := overrides.NewOverrides(limitsCfg)
	require.NoError(t, err)

	i := defaultInstanceWithOverrides(t, t.TempDir(), limits)

	tr := test.MakeTrace(10, test.ValidTraceID())
	err = i.Push(context.Background(), tr.Batches[0])
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), overrides.ErrorPrefixTraceTooLarge))
}

func TestInstanceCutBlockIfReady(t *testing.T) {
	i := defaultInstance(t, t.TempDir())

	// empty head block never cuts
	blockID, err := i.CutBlockIfReady(5*time.Minute, 0, false)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, blockID)

	tr := test.MakeTrace(10, test.ValidTraceID())
	pushTrace(t, i, tr)
	require.NoError(t, i.CutCompleteTraces(0, true))

	// head block is younger than the max lifetime
	blockID, err = i.CutBlockIfReady(5*time.Minute, 1024*1024, false)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, blockID)

	// age the block past its lifetime
	i.lastBlockCut = time.Now().Add(-5*time.Minute - time.Second)
	blockID, err = i.CutBlockIfReady(5*time.Minute, 1024*1024, false)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, blockID)

	// a fresh empty head block was started
	assert.Equal(t, uint64(0), i.headBlock.DataLength())
	assert.WithinDuration(t, time.Now(), i.lastBlockCut, time.Minute)
}

func TestInstanceRefusesWritesAfterWALFailure(t *testing.T) {
	i := defaultInstance(t, t.TempDir())

	i.writeFailed.Store(true)

	tr := test.MakeTrace(1, test.ValidTraceID())
	err := i.Push(context.Background(), tr.Batches[0])
	assert.Equal(t, ErrWriteFailed, err)
}
