package querier

import (
	"flag"
	"time"

	"github.com/cairndb/cairn/pkg/util"
)

// Config for a querier.
type Config struct {
	TraceLookupQueryTimeout time.Duration `yaml:"query_timeout"`
}

// RegisterFlagsAndApplyDefaults registers the flags.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.DurationVar(&cfg.TraceLookupQueryTimeout, util.PrefixConfig(prefix, "query-timeout"), 10*time.Second, "Timeout for trace lookup requests.")
}
