package ingester

import (
	"context"
	"flag"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grafana/dskit/user"

	"github.com/cairndb/cairn/cairndb"
	"github.com/cairndb/cairn/cairndb/backend/local"
	"github.com/cairndb/cairn/cairndb/encoding"
	"github.com/cairndb/cairn/cairndb/pool"
	"github.com/cairndb/cairn/cairndb/wal"
	"github.com/cairndb/cairn/modules/overrides"
	"github.com/cairndb/cairn/modules/storage"
	"github.com/cairndb/cairn/pkg/model"
	"github.com/cairndb/cairn/pkg/util/test"
)

func TestPushQuery(t *testing.T) {
	tmpDir := t.TempDir()
	ctx := user.InjectOrgID(context.Background(), testTenantID)

	ingester, traceIDs, traces := defaultIngester(t, tmpDir)

	// live traces
	for pos, traceID := range traceIDs {
		found, err := ingester.FindTraceByID(ctx, traceID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, traces[pos].SpanCount(), found.SpanCount())
	}

	// force cut all traces and blocks
	ingester.sweepUsers(true)

	// traces are now in blocks
	for pos, traceID := range traceIDs {
		found, err := ingester.FindTraceByID(ctx, traceID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, traces[pos].SpanCount(), found.SpanCount())
	}
}

func TestWal(t *testing.T) {
	tmpDir := t.TempDir()
	ctx := user.InjectOrgID(context.Background(), testTenantID)

	ingester, traceIDs, traces := defaultIngester(t, tmpDir)

	// write live traces into the head block, but do not cut it
	for _, inst := range ingester.getInstances() {
		require.NoError(t, inst.CutCompleteTraces(0, true))
	}

	// restart the ingester on the same directories, the head block is replayed
	restarted, _, _ := defaultIngesterWithTraces(t, tmpDir, nil)

	for pos, traceID := range traceIDs {
		found, err := restarted.FindTraceByID(ctx, traceID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, traces[pos].SpanCount(), found.SpanCount())
	}
}

func TestIngesterReadOnly(t *testing.T) {
	tmpDir := t.TempDir()
	ctx := user.InjectOrgID(context.Background(), testTenantID)

	ingester, _, _ := defaultIngester(t, tmpDir)
	ingester.stopIncomingRequests()

	tr := test.MakeTrace(1, test.ValidTraceID())
	err := ingester.PushBatch(ctx, tr.Batches[0])
	assert.Equal(t, ErrReadOnly, err)
}

func defaultIngester(t *testing.T, tmpDir string) (*Ingester, [][]byte, []*model.Trace) {
	// push some traces in
	traces := make([]*model.Trace, 0, 10)
	traceIDs := make([][]byte, 0, 10)
	for i := 0; i < 10; i++ {
		id := test.ValidTraceID()
		traces = append(traces, test.MakeTrace(10, id))
		traceIDs = append(traceIDs, id)
	}

	ingester, _, _ := defaultIngesterWithTraces(t, tmpDir, traces)
	return ingester, traceIDs, traces
}

func defaultIngesterWithTraces(t *testing.T, tmpDir string, traces []*model.Trace) (*Ingester, [][]byte, []*model.Trace) {
	ingesterConfig := defaultIngesterTestConfig(t)
	limits, err := overrides.NewOverrides(defaultLimitsTestConfig())
	require.NoError(t, err)

	s, err := storage.NewStore(storage.Config{
		Trace: cairndb.Config{
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
		},
	}, log.NewNopLogger())
	require.NoError(t, err)

	ingester, err := New(ingesterConfig, s, limits)
	require.NoError(t, err)

	err = ingester.starting(context.Background())
	require.NoError(t, err)

	ctx := user.InjectOrgID(context.Background(), testTenantID)
	for _, trace := range traces {
		for _, batch := range trace.Batches {
			err := ingester.PushBatch(ctx, batch)
			require.NoError(t, err)
		}
	}

	return ingester, nil, traces
}

func defaultIngesterTestConfig(t *testing.T) Config {
	cfg := Config{}
	cfg.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("", flag.PanicOnError))
	return cfg
}
