package storage

import (
	"flag"
	"time"

	"github.com/cairndb/cairn/cairndb"
	"github.com/cairndb/cairn/cairndb/backend/local"
	"github.com/cairndb/cairn/cairndb/encoding"
	"github.com/cairndb/cairn/cairndb/pool"
	"github.com/cairndb/cairn/cairndb/wal"
	"github.com/cairndb/cairn/pkg/util"
)

// Config is the storage configuration
type Config struct {
	Trace cairndb.Config `yaml:"trace"`
}

// RegisterFlagsAndApplyDefaults registers the flags.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.Trace.Backend, util.PrefixConfig(prefix, "trace.backend"), "local", "Trace backend (local)")
	f.DurationVar(&cfg.Trace.BlocklistPoll, util.PrefixConfig(prefix, "trace.maintenance-cycle"), cairndb.DefaultBlocklistPoll, "Period at which to run the maintenance cycle.")
	cfg.Trace.BlocklistPollConcurrency = cairndb.DefaultBlocklistPollConcurrency

	cfg.Trace.WAL = &wal.Config{}
	f.StringVar(&cfg.Trace.WAL.Filepath, util.PrefixConfig(prefix, "trace.wal.path"), "/var/cairn/wal", "Path at which store WAL blocks.")
	f.IntVar(&cfg.Trace.WAL.IndexDownsample, util.PrefixConfig(prefix, "trace.wal.index-downsample"), 100, "Number of traces per index record.")
	cfg.Trace.WAL.Encoding = encoding.EncSnappy

	cfg.Trace.Local = &local.Config{}
	f.StringVar(&cfg.Trace.Local.Path, util.PrefixConfig(prefix, "trace.local.path"), "/var/cairn/traces", "Path to store trace blocks at.")

	cfg.Trace.Pool = &pool.Config{}
	f.IntVar(&cfg.Trace.Pool.MaxWorkers, util.PrefixConfig(prefix, "trace.pool.max-workers"), 50, "Workers in the worker pool.")
	f.IntVar(&cfg.Trace.Pool.QueueDepth, util.PrefixConfig(prefix, "trace.pool.queue-depth"), 200, "Work item queue depth.")
}

// BlockRetention is exposed for the compactor module defaults.
const DefaultBlockRetention = 14 * 24 * time.Hour
