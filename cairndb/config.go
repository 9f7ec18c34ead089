package cairndb

import (
	"time"

	"github.com/pkg/errors"

	"github.com/cairndb/cairn/cairndb/backend/local"
	"github.com/cairndb/cairn/cairndb/pool"
	"github.com/cairndb/cairn/cairndb/wal"
)

const (
	DefaultBlocklistPoll = 5 * time.Minute

	DefaultChunkSizeBytes          = 10 * 1024 * 1024 // 10 MiB
	DefaultCompactionWindow        = time.Hour
	DefaultMaxCompactionObjects    = 6_000_000
	DefaultRetentionConcurrency    = 10
	DefaultCompactedBlockRetention = time.Hour
)

type Config struct {
	Backend string        `yaml:"backend"`
	Local   *local.Config `yaml:"local"`
	WAL     *wal.Config   `yaml:"wal"`
	Pool    *pool.Config  `yaml:"query_pool,omitempty"`

	BlocklistPoll            time.Duration `yaml:"blocklist_poll"`
	BlocklistPollConcurrency uint          `yaml:"blocklist_poll_concurrency"`
}

type CompactorConfig struct {
	ChunkSizeBytes          uint32        `yaml:"chunk_size_bytes"`
	MaxCompactionRange      time.Duration `yaml:"compaction_window"`
	MaxCompactionObjects    int           `yaml:"max_compaction_objects"`
	BlockRetention          time.Duration `yaml:"block_retention"`
	CompactedBlockRetention time.Duration `yaml:"compacted_block_retention"`
	RetentionConcurrency    uint          `yaml:"retention_concurrency"`
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("config should be non-nil")
	}

	if cfg.WAL == nil {
		return errors.New("wal config should be non-nil")
	}

	return nil
}
