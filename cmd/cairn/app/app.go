package app

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"net/http"

	"github.com/go-kit/log/level"
	dslog "github.com/grafana/dskit/log"
	"github.com/grafana/dskit/middleware"
	"github.com/grafana/dskit/modules"
	"github.com/grafana/dskit/services"
	"github.com/grafana/dskit/signals"
	"gopkg.in/yaml.v2"

	"github.com/cairndb/cairn/cairndb"
	"github.com/cairndb/cairn/modules/compactor"
	"github.com/cairndb/cairn/modules/distributor"
	"github.com/cairndb/cairn/modules/ingester"
	"github.com/cairndb/cairn/modules/overrides"
	"github.com/cairndb/cairn/modules/querier"
	"github.com/cairndb/cairn/modules/storage"
	"github.com/cairndb/cairn/pkg/util"
	"github.com/cairndb/cairn/pkg/util/log"
)

// Config is the root config for App.
type Config struct {
	Target              string `yaml:"target,omitempty"`
	MultitenancyEnabled bool   `yaml:"multitenancy_enabled,omitempty"`
	HTTPAPIPrefix       string `yaml:"http_api_prefix"`
	HTTPListenAddress   string `yaml:"http_listen_address"`
	HTTPListenPort      int    `yaml:"http_listen_port"`

	LogLevel  dslog.Level `yaml:"log_level"`
	LogFormat string      `yaml:"log_format"`

	Distributor   distributor.Config `yaml:"distributor,omitempty"`
	Ingester      ingester.Config    `yaml:"ingester,omitempty"`
	Querier       querier.Config     `yaml:"querier,omitempty"`
	Compactor     compactor.Config   `yaml:"compactor,omitempty"`
	StorageConfig storage.Config     `yaml:"storage,omitempty"`
	LimitsConfig  overrides.Limits   `yaml:"overrides,omitempty"`
}

// RegisterFlagsAndApplyDefaults registers flags and sets defaults on the root
// config and every module config beneath it.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.Target = SingleBinary

	// global settings
	f.StringVar(&c.Target, "target", SingleBinary, "target module")
	f.BoolVar(&c.MultitenancyEnabled, "multitenancy.enabled", false, "Set to true to require an org id on every request.")
	f.StringVar(&c.HTTPAPIPrefix, "http-api-prefix", "", "String prefix for all http api endpoints.")

	// server settings
	f.StringVar(&c.HTTPListenAddress, "server.http-listen-address", "", "HTTP server listen address.")
	f.IntVar(&c.HTTPListenPort, "server.http-listen-port", 3200, "HTTP server listen port.")

	c.LogLevel.RegisterFlags(f)
	f.StringVar(&c.LogFormat, "log.format", "logfmt", "Output log messages in the given format. Valid formats: [logfmt, json]")

	c.LimitsConfig.RegisterFlagsAndApplyDefaults(f)

	c.Distributor.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "distributor"), f)
	c.Ingester.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "ingester"), f)
	c.Querier.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "querier"), f)
	c.Compactor.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "compactor"), f)
	c.StorageConfig.RegisterFlagsAndApplyDefaults(util.PrefixConfig(prefix, "storage"), f)
}

// MultitenancyIsEnabled checks if multitenancy is enabled
func (c *Config) MultitenancyIsEnabled() bool {
	return c.MultitenancyEnabled
}

// CheckConfig checks if config values are suspect.
func (c *Config) CheckConfig() {
	if c.Ingester.CompleteBlockTimeout < c.StorageConfig.Trace.BlocklistPoll {
		level.Warn(log.Logger).Log("msg", "ingester.complete_block_timeout < storage.trace.maintenance_cycle",
			"explan", "You may receive 404s between the time the ingester has flushed a trace and the querier is aware of the new block")
	}

	if c.Compactor.Compactor.BlockRetention < c.StorageConfig.Trace.BlocklistPoll {
		level.Warn(log.Logger).Log("msg", "compactor.compaction.block_retention < storage.trace.maintenance_cycle",
			"explan", "The querier and compactor may attempt to read a block that no longer exists")
	}

	if c.Compactor.Compactor.RetentionConcurrency == 0 {
		level.Warn(log.Logger).Log("msg", "compactor.compaction.retention_concurrency must be greater than zero. Using default.", "default", cairndb.DefaultRetentionConcurrency)
	}

	if c.StorageConfig.Trace.BlocklistPollConcurrency == 0 {
		level.Warn(log.Logger).Log("msg", "storage.trace.maintenance_cycle_concurrency must be greater than zero. Using default.", "default", cairndb.DefaultBlocklistPollConcurrency)
	}
}

// App is the root datastructure.
type App struct {
	cfg Config

	server      *server
	overrides   *overrides.Overrides
	distributor *distributor.Distributor
	ingester    *ingester.Ingester
	querier     *querier.Querier
	compactor   *compactor.Compactor
	store       storage.Store

	httpAuthMiddleware middleware.Interface
	moduleManager      *modules.Manager
	serviceMap         map[string]services.Service
}

// New makes a new app.
func New(cfg Config) (*App, error) {
	app := &App{
		cfg: cfg,
	}

	app.setupAuthMiddleware()

	if err := app.setupModuleManager(); err != nil {
		return nil, fmt.Errorf("failed to setup module manager %w", err)
	}

	return app, nil
}

func (t *App) setupAuthMiddleware() {
	if t.cfg.MultitenancyIsEnabled() {
		t.httpAuthMiddleware = middleware.AuthenticateUser
	} else {
		t.httpAuthMiddleware = fakeHTTPAuthMiddleware
	}
}

// Run starts, and blocks until a signal is received.
func (t *App) Run() error {
	if !t.moduleManager.IsUserVisibleModule(t.cfg.Target) {
		level.Warn(log.Logger).Log("msg", "selected target is an internal module, is this intended?", "target", t.cfg.Target)
	}

	serviceMap, err := t.moduleManager.InitModuleServices(t.cfg.Target)
	if err != nil {
		return fmt.Errorf("failed to init module services %w", err)
	}
	t.serviceMap = serviceMap

	servs := []services.Service(nil)
	for _, s := range serviceMap {
		servs = append(servs, s)
	}

	sm, err := services.NewManager(servs...)
	if err != nil {
		return fmt.Errorf("failed to start service manager %w", err)
	}

	// before starting the server, register /ready and /config handlers.
	t.server.HTTP.Path("/config").Handler(t.configHandler())
	t.server.HTTP.Path("/ready").Handler(t.readyHandler(sm))

	// Let's listen for events from this manager, and log them.
	healthy := func() { level.Info(log.Logger).Log("msg", "Cairn started") }
	stopped := func() { level.Info(log.Logger).Log("msg", "Cairn stopped") }
	serviceFailed := func(service services.Service) {
		// if any service fails, stop everything
		sm.StopAsync()

		// let's find out which module failed
		for m, s := range t.serviceMap {
			if s == service {
				level.Error(log.Logger).Log("msg", "module failed", "module", m, "err", service.FailureCase())
				return
			}
		}

		level.Error(log.Logger).Log("msg", "module failed", "module", "unknown", "err", service.FailureCase())
	}
	sm.AddListener(services.NewManagerListener(healthy, stopped, serviceFailed))

	// Setup signal handler. If signal arrives, we stop the manager, which stops all the services.
	handler := signals.NewHandler(log.Logger)
	go func() {
		handler.Loop()
		sm.StopAsync()
	}()

	// Start all services. This can really only fail if some service is already
	// in other state than New, which should not be the case.
	err = sm.StartAsync(context.Background())
	if err != nil {
		return fmt.Errorf("failed to start service manager %w", err)
	}

	return sm.AwaitStopped(context.Background())
}

func (t *App) configHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := yaml.Marshal(t.cfg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/yaml")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(out); err != nil {
			level.Error(log.Logger).Log("msg", "error writing response", "err", err)
		}
	}
}

func (t *App) readyHandler(sm *services.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !sm.IsHealthy() {
			msg := bytes.Buffer{}
			msg.WriteString("Some services are not Running:\n")

			byState := sm.ServicesByState()
			for st, ls := range byState {
				msg.WriteString(fmt.Sprintf("%v: %d\n", st, len(ls)))
			}

			http.Error(w, msg.String(), http.StatusServiceUnavailable)
			return
		}

		http.Error(w, "ready", http.StatusOK)
	}
}
