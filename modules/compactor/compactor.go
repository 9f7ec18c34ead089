package compactor

import (
	"context"

	"github.com/go-kit/log/level"

	"github.com/grafana/dskit/services"

	"github.com/cairndb/cairn/cairndb"
	"github.com/cairndb/cairn/modules/overrides"
	"github.com/cairndb/cairn/modules/storage"
	"github.com/cairndb/cairn/pkg/model"
	"github.com/cairndb/cairn/pkg/util/log"
)

// Overrides satisfies the per-tenant retention lookup of the storage engine.
var _ cairndb.CompactorOverrides = (*overrides.Overrides)(nil)

// Compactor turns on compaction and retention in the storage engine.
type Compactor struct {
	services.Service

	cfg       Config
	store     storage.Store
	overrides *overrides.Overrides
}

// New makes a new Compactor.
func New(cfg Config, o *overrides.Overrides, store storage.Store) (*Compactor, error) {
	c := &Compactor{
		cfg:       cfg,
		store:     store,
		overrides: o,
	}

	c.Service = services.NewIdleService(c.starting, c.stopping)
	return c, nil
}

func (c *Compactor) starting(_ context.Context) error {
	if c.cfg.Disabled {
		level.Info(log.Logger).Log("msg", "compaction disabled")
		return nil
	}

	// compaction and retention run for the lifetime of the process, not the
	// lifetime of startup
	c.store.EnableCompaction(context.Background(), &c.cfg.Compactor, model.ObjectCombiner, c.overrides)
	return nil
}

func (c *Compactor) stopping(_ error) error {
	return nil
}
