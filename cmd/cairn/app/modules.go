package app

import (
	"fmt"
	"net/http"
	"path"

	"github.com/grafana/dskit/modules"
	"github.com/grafana/dskit/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cairndb/cairn/modules/compactor"
	"github.com/cairndb/cairn/modules/distributor"
	"github.com/cairndb/cairn/modules/ingester"
	"github.com/cairndb/cairn/modules/overrides"
	"github.com/cairndb/cairn/modules/querier"
	cairn_storage "github.com/cairndb/cairn/modules/storage"
	"github.com/cairndb/cairn/pkg/util/log"
)

// The various modules that make up cairn.
const (
	Server       string = "server"
	Overrides    string = "overrides"
	Store        string = "store"
	Distributor  string = "distributor"
	Ingester     string = "ingester"
	Querier      string = "querier"
	Compactor    string = "compactor"
	SingleBinary string = "all"
)

func (t *App) initServer() (services.Service, error) {
	t.server = newServer(t.cfg.HTTPListenAddress, t.cfg.HTTPListenPort)

	t.server.HTTP.Path("/metrics").Handler(promhttp.Handler())

	servicesToWaitFor := func() []services.Service {
		svs := []services.Service(nil)
		for m, s := range t.serviceMap {
			// Server should not wait for itself.
			if m != Server {
				svs = append(svs, s)
			}
		}
		return svs
	}

	return newServerService(t.server, servicesToWaitFor), nil
}

func (t *App) initOverrides() (services.Service, error) {
	overrides, err := overrides.NewOverrides(t.cfg.LimitsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create overrides %w", err)
	}
	t.overrides = overrides

	if t.cfg.LimitsConfig.PerTenantOverrideConfig != "" {
		prometheus.MustRegister(t.overrides)
	}

	return t.overrides, nil
}

func (t *App) initStore() (services.Service, error) {
	store, err := cairn_storage.NewStore(t.cfg.StorageConfig, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create store %w", err)
	}
	t.store = store

	return t.store, nil
}

func (t *App) initIngester() (services.Service, error) {
	ingester, err := ingester.New(t.cfg.Ingester, t.store, t.overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingester %w", err)
	}
	t.ingester = ingester

	t.server.HTTP.Path("/flush").Handler(http.HandlerFunc(t.ingester.FlushHandler))

	return t.ingester, nil
}

func (t *App) initDistributor() (services.Service, error) {
	distributor, err := distributor.New(t.cfg.Distributor, t.ingester, t.overrides, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create distributor %w", err)
	}
	t.distributor = distributor

	pushHandler := t.httpAuthMiddleware.Wrap(http.HandlerFunc(t.distributor.PushHandler))
	t.server.HTTP.Path(addHTTPAPIPrefix(&t.cfg, "/api/push")).Methods("POST").Handler(pushHandler)

	return t.distributor, nil
}

func (t *App) initQuerier() (services.Service, error) {
	querier, err := querier.New(t.cfg.Querier, t.ingester, t.store)
	if err != nil {
		return nil, fmt.Errorf("failed to create querier %w", err)
	}
	t.querier = querier

	tracesHandler := t.httpAuthMiddleware.Wrap(http.HandlerFunc(t.querier.TraceByIDHandler))
	t.server.HTTP.Path(addHTTPAPIPrefix(&t.cfg, "/api/traces/{traceID}")).Methods("GET").Handler(tracesHandler)

	return t.querier, nil
}

func (t *App) initCompactor() (services.Service, error) {
	compactor, err := compactor.New(t.cfg.Compactor, t.overrides, t.store)
	if err != nil {
		return nil, fmt.Errorf("failed to create compactor %w", err)
	}
	t.compactor = compactor

	return t.compactor, nil
}

func (t *App) setupModuleManager() error {
	mm := modules.NewManager(log.Logger)

	mm.RegisterModule(Server, t.initServer, modules.UserInvisibleModule)
	mm.RegisterModule(Overrides, t.initOverrides, modules.UserInvisibleModule)
	mm.RegisterModule(Store, t.initStore, modules.UserInvisibleModule)
	mm.RegisterModule(Ingester, t.initIngester)
	mm.RegisterModule(Distributor, t.initDistributor)
	mm.RegisterModule(Querier, t.initQuerier)
	mm.RegisterModule(Compactor, t.initCompactor)
	mm.RegisterModule(SingleBinary, nil)

	deps := map[string][]string{
		// Store:     nil,
		Overrides:    {Server},
		Ingester:     {Store, Server, Overrides},
		Distributor:  {Ingester, Server, Overrides},
		Querier:      {Store, Ingester, Server, Overrides},
		Compactor:    {Store, Server, Overrides},
		SingleBinary: {Compactor, Querier, Distributor},
	}

	for mod, targets := range deps {
		if err := mm.AddDependency(mod, targets...); err != nil {
			return err
		}
	}

	t.moduleManager = mm

	return nil
}

func addHTTPAPIPrefix(cfg *Config, apiPath string) string {
	return path.Join(cfg.HTTPAPIPrefix, apiPath)
}
