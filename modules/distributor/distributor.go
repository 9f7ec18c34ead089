package distributor

import (
	"context"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gogo/status"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc/codes"

	"github.com/grafana/dskit/limiter"
	"github.com/grafana/dskit/services"
	"github.com/grafana/dskit/user"

	"github.com/cairndb/cairn/modules/ingester"
	"github.com/cairndb/cairn/modules/overrides"
	"github.com/cairndb/cairn/pkg/model"
	"github.com/cairndb/cairn/pkg/util"
)

const reasonRateLimited = "rate_limited"

var (
	metricSpansIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cairn",
		Name:      "distributor_spans_received_total",
		Help:      "The total number of spans received per tenant",
	}, []string{"tenant"})
	metricBytesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cairn",
		Name:      "distributor_bytes_received_total",
		Help:      "The total number of proto bytes received per tenant",
	}, []string{"tenant"})
	metricDiscardedSpans = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cairn",
		Name:      "discarded_spans_total",
		Help:      "The total number of samples that were discarded.",
	}, []string{"reason", "tenant"})
	metricIngesterAppendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cairn",
		Name:      "distributor_ingester_append_failures_total",
		Help:      "The total number of failed appends sent to ingesters.",
	})
)

// Distributor admits trace batches into the ingester, enforcing per-tenant
// ingestion rate limits.
type Distributor struct {
	services.Service

	cfg      Config
	ingester *ingester.Ingester

	ingestionRateLimiter *limiter.RateLimiter

	logger log.Logger
}

// New creates a new Distributor.
func New(cfg Config, ing *ingester.Ingester, o *overrides.Overrides, logger log.Logger) (*Distributor, error) {
	var strategy limiter.RateLimiterStrategy

	switch o.IngestionRateStrategy() {
	case overrides.LocalIngestionRateStrategy:
		strategy = newLocalIngestionRateStrategy(o)
	case overrides.GlobalIngestionRateStrategy:
		strategy = newGlobalIngestionRateStrategy(o, singleInstance{})
	default:
		return nil, errors.Errorf("unsupported ingestion rate strategy %q", o.IngestionRateStrategy())
	}

	d := &Distributor{
		cfg:                  cfg,
		ingester:             ing,
		ingestionRateLimiter: limiter.NewRateLimiter(strategy, 10*time.Second),
		logger:               logger,
	}

	d.Service = services.NewIdleService(nil, nil)
	return d, nil
}

// PushBatch admits a batch of spans for the tenant in the context.  Spans
// may belong to different traces, they are regrouped before being handed to
// the ingester.
func (d *Distributor) PushBatch(ctx context.Context, batch *model.Batch) error {
	userID, err := user.ExtractOrgID(ctx)
	if err != nil {
		return err
	}

	if batch == nil || len(batch.Spans) == 0 {
		return nil
	}

	buf, err := model.MarshalBatch(batch)
	if err != nil {
		return err
	}
	size := len(buf)
	spanCount := len(batch.Spans)

	metricSpansIngested.WithLabelValues(userID).Add(float64(spanCount))
	metricBytesIngested.WithLabelValues(userID).Add(float64(size))

	now := time.Now()
	if !d.ingestionRateLimiter.AllowN(now, userID, size) {
		metricDiscardedSpans.WithLabelValues(reasonRateLimited, userID).Add(float64(spanCount))
		return status.Errorf(codes.ResourceExhausted,
			"%s ingestion rate limit (%d bytes) exceeded while adding %d bytes",
			overrides.ErrorPrefixRateLimited,
			int(d.ingestionRateLimiter.Limit(now, userID)),
			size)
	}

	if d.cfg.LogReceivedTraces {
		d.logBatch(userID, batch)
	}

	for _, b := range batchesByTrace(batch) {
		err = d.ingester.PushBatch(ctx, b)
		if err != nil {
			metricIngesterAppendFailures.Inc()
			return err
		}
	}

	return nil
}

// PushHandler accepts a json encoded batch over http.
func (d *Distributor) PushHandler(w http.ResponseWriter, r *http.Request) {
	batch := &model.Batch{}
	err := jsoniter.NewDecoder(r.Body).Decode(batch)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = d.PushBatch(r.Context(), batch)
	if err != nil {
		http.Error(w, err.Error(), httpStatusFromError(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (d *Distributor) logBatch(userID string, batch *model.Batch) {
	for _, span := range batch.Spans {
		level.Info(d.logger).Log("msg", "received", "tenant", userID, "spanName", span.Name, "traceid", hex.EncodeToString(span.TraceID))
	}
}

// batchesByTrace regroups a mixed batch so every resulting batch carries
// spans of a single trace.  The ingester relies on this.
func batchesByTrace(batch *model.Batch) []*model.Batch {
	byTrace := make(map[uint32]*model.Batch)
	var ordered []*model.Batch

	for _, span := range batch.Spans {
		token := util.TokenFor("", span.TraceID)
		b, ok := byTrace[token]
		if !ok {
			b = &model.Batch{
				ServiceName: batch.ServiceName,
			}
			byTrace[token] = b
			ordered = append(ordered, b)
		}
		b.Spans = append(b.Spans, span)
	}

	return ordered
}

func httpStatusFromError(err error) int {
	s, ok := status.FromError(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch s.Code() {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.FailedPrecondition:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
