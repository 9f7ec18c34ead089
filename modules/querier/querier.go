package querier

import (
	"context"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/grafana/dskit/services"
	"github.com/grafana/dskit/user"

	"github.com/cairndb/cairn/modules/ingester"
	"github.com/cairndb/cairn/modules/storage"
	"github.com/cairndb/cairn/pkg/model"
	"github.com/cairndb/cairn/pkg/util/log"
	"github.com/cairndb/cairn/pkg/validation"
)

// Querier resolves trace lookups across the ingester and the backend.
type Querier struct {
	services.Service

	cfg      Config
	ingester *ingester.Ingester
	store    storage.Store
}

// New makes a new Querier.
func New(cfg Config, ing *ingester.Ingester, store storage.Store) (*Querier, error) {
	q := &Querier{
		cfg:      cfg,
		ingester: ing,
		store:    store,
	}

	q.Service = services.NewIdleService(nil, nil)
	return q, nil
}

// FindTraceByID returns the trace with the given id, combining whatever the
// ingester still holds in memory with blocks already in the backend.  Returns
// nil if the trace is not found anywhere.
func (q *Querier) FindTraceByID(ctx context.Context, id []byte) (*model.Trace, error) {
	if !validation.ValidTraceID(id) {
		return nil, errors.New("invalid trace id")
	}

	userID, err := user.ExtractOrgID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "error extracting org id in Querier.FindTraceByID")
	}

	var allBytes []byte

	ingesterTrace, err := q.ingester.FindTraceByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "error querying ingester in Querier.FindTraceByID")
	}
	if ingesterTrace != nil {
		allBytes, err = model.Marshal(ingesterTrace)
		if err != nil {
			return nil, err
		}
	}

	foundBytes, metrics, err := q.store.Find(ctx, userID, id)
	if err != nil {
		return nil, errors.Wrap(err, "error querying store in Querier.FindTraceByID")
	}

	level.Debug(log.Logger).Log("msg", "found trace in store",
		"indexReads", metrics.IndexReads.Load(),
		"indexBytesRead", metrics.IndexBytesRead.Load(),
		"blockReads", metrics.BlockReads.Load(),
		"blockBytesRead", metrics.BlockBytesRead.Load())

	allBytes, err = model.CombineTraceBytes(allBytes, foundBytes)
	if err != nil {
		return nil, err
	}

	if allBytes == nil {
		return nil, nil
	}

	return model.Unmarshal(allBytes)
}
