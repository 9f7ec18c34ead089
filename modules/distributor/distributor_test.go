package distributor

import (
	"context"
	"flag"
	"strings"
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
	"github.com/cairndb/cairn/modules/ingester"
	"github.com/cairndb/cairn/modules/overrides"
	"github.com/cairndb/cairn/modules/storage"
	"github.com/cairndb/cairn/pkg/model"
	"github.com/cairndb/cairn/pkg/util/test"
)

const testTenantID = "fake"

func TestPushAndQueryThroughIngester(t *testing.T) {
	ctx := user.InjectOrgID(context.Background(), testTenantID)

	limitsCfg := defaultLimits()
	d, ing := defaultDistributor(t, limitsCfg)

	tr := test.MakeTrace(10, test.ValidTraceID())
	traceID := tr.Batches[0].Spans[0].TraceID

	for _, b := range tr.Batches {
		require.NoError(t, d.PushBatch(ctx, b))
	}

	found, err := ing.FindTraceByID(ctx, traceID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, tr.SpanCount(), found.SpanCount())
}

func TestRateLimited(t *testing.T) {
	ctx := user.InjectOrgID(context.Background(), testTenantID)

	limitsCfg := defaultLimits()
	limitsCfg.IngestionRateLimitBytes = 1
	limitsCfg.IngestionBurstSizeBytes = 1

	d, _ := defaultDistributor(t, limitsCfg)

	tr := test.MakeTrace(10, test.ValidTraceID())
	err := d.PushBatch(ctx, tr.Batches[0])
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), overrides.ErrorPrefixRateLimited))
}

func TestPushRequiresTenant(t *testing.T) {
	d, _ := defaultDistributor(t, defaultLimits())

	tr := test.MakeTrace(1, test.ValidTraceID())
	err := d.PushBatch(context.Background(), tr.Batches[0])
	assert.Error(t, err)
}

func TestBatchesByTrace(t *testing.T) {
	idA := test.ValidTraceID()
	idB := test.ValidTraceID()

	mixed := &model.Batch{
		ServiceName: "svc",
		Spans: []*model.Span{
			test.MakeSpan(idA),
			test.MakeSpan(idB),
			test.MakeSpan(idA),
		},
	}

	batches := batchesByTrace(mixed)
	require.Len(t, batches, 2)

	for _, b := range batches {
		assert.Equal(t, "svc", b.ServiceName)
		first := b.Spans[0].TraceID
		for _, s := range b.Spans {
			assert.Equal(t, first, s.TraceID)
		}
	}

	total := 0
	for _, b := range batches {
		total += len(b.Spans)
	}
	assert.Equal(t, len(mixed.Spans), total)
}

func defaultLimits() overrides.Limits {
	limits := overrides.Limits{}
	limits.RegisterFlagsAndApplyDefaults(flag.NewFlagSet("", flag.PanicOnError))
	return limits
}

func defaultDistributor(t *testing.T, limitsCfg overrides.Limits) (*Distributor, *ingester.Ingester) {
	tmpDir := t.TempDir()

	limits, err := overrides.NewOverrides(limitsCfg)
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

	ingesterCfg := ingester.Config{}
	ingesterCfg.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("", flag.PanicOnError))

	ing, err := ingester.New(ingesterCfg, s, limits)
	require.NoError(t, err)

	distributorCfg := Config{}
	distributorCfg.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("", flag.PanicOnError))

	d, err := New(distributorCfg, ing, limits, log.NewNopLogger())
	require.NoError(t, err)

	return d, ing
}
