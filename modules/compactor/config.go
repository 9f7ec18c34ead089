package compactor

import (
	"flag"
	"time"

	"github.com/cairndb/cairn/cairndb"
	"github.com/cairndb/cairn/pkg/util"
)

type Config struct {
	Disabled  bool                    `yaml:"disabled,omitempty"`
	Compactor cairndb.CompactorConfig `yaml:"compaction"`
}

// RegisterFlagsAndApplyDefaults registers the flags.
func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	cfg.Compactor = cairndb.CompactorConfig{
		ChunkSizeBytes:          cairndb.DefaultChunkSizeBytes,
		CompactedBlockRetention: cairndb.DefaultCompactedBlockRetention,
		RetentionConcurrency:    cairndb.DefaultRetentionConcurrency,
	}

	f.DurationVar(&cfg.Compactor.BlockRetention, util.PrefixConfig(prefix, "compaction.block-retention"), 14*24*time.Hour, "Duration to keep blocks/traces.")
	f.IntVar(&cfg.Compactor.MaxCompactionObjects, util.PrefixConfig(prefix, "compaction.max-objects-per-block"), cairndb.DefaultMaxCompactionObjects, "Maximum number of traces in a compacted block.")
	f.DurationVar(&cfg.Compactor.MaxCompactionRange, util.PrefixConfig(prefix, "compaction.compaction-window"), cairndb.DefaultCompactionWindow, "Maximum time window across which to compact blocks.")
	f.BoolVar(&cfg.Disabled, util.PrefixConfig(prefix, "disabled"), false, "Disable compaction.")
}
