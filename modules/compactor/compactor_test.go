package compactor

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cairndb/cairn/cairndb"
	"github.com/cairndb/cairn/modules/overrides"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("", flag.PanicOnError))

	assert.False(t, cfg.Disabled)
	assert.Equal(t, uint32(cairndb.DefaultChunkSizeBytes), cfg.Compactor.ChunkSizeBytes)
	assert.Equal(t, cairndb.DefaultCompactedBlockRetention, cfg.Compactor.CompactedBlockRetention)
	assert.Equal(t, 14*24*time.Hour, cfg.Compactor.BlockRetention)
	assert.Equal(t, cairndb.DefaultMaxCompactionObjects, cfg.Compactor.MaxCompactionObjects)
	assert.Equal(t, cairndb.DefaultCompactionWindow, cfg.Compactor.MaxCompactionRange)
}

func TestOverridesProvideRetention(t *testing.T) {
	limits := overrides.Limits{}
	limits.RegisterFlagsAndApplyDefaults(flag.NewFlagSet("", flag.PanicOnError))
	require.NoError(t, limits.BlockRetention.Set("24h"))

	o, err := overrides.NewOverrides(limits)
	require.NoError(t, err)

	var co cairndb.CompactorOverrides = o
	assert.Equal(t, 24*time.Hour, co.BlockRetentionForTenant("any"))
}
