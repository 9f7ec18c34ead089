package distributor

import (
	"flag"

	"github.com/cairndb/cairn/pkg/util"
)

// Config for a Distributor.
type Config struct {
	LogReceivedTraces bool `yaml:"log_received_traces"`
}

// RegisterFlagsAndApplyDefaults registers flags and applies defaults
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.BoolVar(&cfg.LogReceivedTraces, util.PrefixConfig(prefix, "log-received-traces"), false, "Enable to log every received trace id to help debug ingestion.")
}
