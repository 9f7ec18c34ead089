package storage

import (
	"github.com/go-kit/log"
	"github.com/grafana/dskit/services"

	"github.com/cairndb/cairn/cairndb"
)

// Store wraps the trace storage engine.
type Store interface {
	services.Service

	cairndb.Reader
	cairndb.Writer
	cairndb.Compactor
}

type store struct {
	services.Service

	cfg Config

	cairndb.Reader
	cairndb.Writer
	cairndb.Compactor
}

// NewStore creates a new store using configuration supplied.
func NewStore(cfg Config, logger log.Logger) (Store, error) {
	r, w, c, err := cairndb.New(&cfg.Trace, logger)
	if err != nil {
		return nil, err
	}

	s := &store{
		cfg:       cfg,
		Reader:    r,
		Writer:    w,
		Compactor: c,
	}

	s.Service = services.NewIdleService(nil, s.stopping)
	return s, nil
}

func (s *store) stopping(_ error) error {
	s.Reader.Shutdown()
	return nil
}
