package querier

import (
	"context"
	"flag"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-kit/log"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
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
	"github.com/cairndb/cairn/pkg/util"
	"github.com/cairndb/cairn/pkg/util/test"
)

const testTenantID = "fake"

func TestFindTraceByID(t *testing.T) {
	q, ctx := defaultQuerier(t)

	tr := test.MakeTrace(10, test.ValidTraceID())
	traceID := tr.Batches[0].Spans[0].TraceID
	pushToIngester(t, ctx, q.ingester, tr)

	found, err := q.FindTraceByID(ctx, traceID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, tr.SpanCount(), found.SpanCount())

	// unknown trace
	found, err = q.FindTraceByID(ctx, test.ValidTraceID())
	require.NoError(t, err)
	assert.Nil(t, found)

	// garbage trace id
	_, err = q.FindTraceByID(ctx, []byte{0x01})
	assert.Error(t, err)
}

func TestTraceByIDHandler(t *testing.T) {
	q, ctx := defaultQuerier(t)

	tr := test.MakeTrace(5, test.ValidTraceID())
	traceID := tr.Batches[0].Spans[0].TraceID
	pushToIngester(t, ctx, q.ingester, tr)

	router := mux.NewRouter()
	router.HandleFunc("/api/traces/{traceID}", q.TraceByIDHandler)

	// found
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/traces/"+util.TraceIDToHexString(traceID), nil)
	router.ServeHTTP(w, req.WithContext(ctx))
	require.Equal(t, http.StatusOK, w.Code)

	decoded := &model.Trace{}
	require.NoError(t, jsoniter.NewDecoder(w.Body).Decode(decoded))
	assert.Equal(t, tr.SpanCount(), decoded.SpanCount())

	// not found
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/traces/"+util.TraceIDToHexString(test.ValidTraceID()), nil)
	router.ServeHTTP(w, req.WithContext(ctx))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// bad trace id
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/traces/notahexstring", nil)
	router.ServeHTTP(w, req.WithContext(ctx))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func pushToIngester(t *testing.T, ctx context.Context, ing *ingester.Ingester, tr *model.Trace) {
	for _, b := range tr.Batches {
		require.NoError(t, ing.PushBatch(ctx, b))
	}
}

func defaultQuerier(t *testing.T) (*Querier, context.Context) {
	tmpDir := t.TempDir()

	limitsCfg := overrides.Limits{}
	limitsCfg.RegisterFlagsAndApplyDefaults(flag.NewFlagSet("", flag.PanicOnError))
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

	querierCfg := Config{}
	querierCfg.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("", flag.PanicOnError))
	q, err := New(querierCfg, ing, s)
	require.NoError(t, err)

	return q, user.InjectOrgID(context.Background(), testTenantID)
}
