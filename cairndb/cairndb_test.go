package cairndb

import (
	"bytes"
	"context"
	"math/rand"
	"path"
	"sort"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cairndb/cairn/cairndb/backend/local"
	"github.com/cairndb/cairn/cairndb/encoding"
	"github.com/cairndb/cairn/cairndb/wal"
	"github.com/cairndb/cairn/pkg/model"
	"github.com/cairndb/cairn/pkg/util/test"
)

const testTenantID = "fake"

func testConfig(t *testing.T, indexDownsample int) *Config {
	tempDir := t.TempDir()

	return &Config{
		Backend: "local",
		Local: &local.Config{
			Path: path.Join(tempDir, "traces"),
		},
		WAL: &wal.Config{
			Filepath:        path.Join(tempDir, "wal"),
			IndexDownsample: indexDownsample,
			Encoding:        encoding.EncSnappy,
		},
		BlocklistPoll: 0,
	}
}

func TestDB(t *testing.T) {
	r, w, _, err := New(testConfig(t, 17), log.NewNopLogger())
	require.NoError(t, err)

	blockID := uuid.New()

	head, err := w.WAL().NewBlock(blockID, testTenantID)
	require.NoError(t, err)

	numMsgs := 10
	traces := make([]*model.Trace, 0, numMsgs)
	ids := make([][]byte, 0, numMsgs)
	for i := 0; i < numMsgs; i++ {
		id := test.ValidTraceID()
		bTrace, trace, err := test.MakeTraceBytes(rand.Intn(10)+1, id)
		require.NoError(t, err)
		traces = append(traces, trace)
		ids = append(ids, id)

		err = head.Append(id, bTrace)
		require.NoError(t, err, "unexpected error writing trace")
	}

	complete, err := w.CompleteBlock(head, model.ObjectCombiner)
	require.NoError(t, err)

	err = w.WriteBlock(context.Background(), complete)
	require.NoError(t, err)

	// force poll the blocklist now that we've written something
	r.(*readerWriter).doPoll()

	for i, id := range ids {
		bFound, _, err := r.Find(context.Background(), testTenantID, id)
		require.NoError(t, err)

		out, err := model.Unmarshal(bFound)
		require.NoError(t, err)

		assert.Equal(t, traces[i], out)
	}
}

func TestBlockCleanup(t *testing.T) {
	r, w, _, err := New(testConfig(t, 17), log.NewNopLogger())
	require.NoError(t, err)

	rw := r.(*readerWriter)

	blockID := uuid.New()

	head, err := w.WAL().NewBlock(blockID, testTenantID)
	require.NoError(t, err)

	id := test.ValidTraceID()
	bTrace, _, err := test.MakeTraceBytes(10, id)
	require.NoError(t, err)
	require.NoError(t, head.Append(id, bTrace))

	complete, err := w.CompleteBlock(head, model.ObjectCombiner)
	require.NoError(t, err)
	require.NoError(t, w.WriteBlock(context.Background(), complete))

	rw.doPoll()
	require.Len(t, rw.blocklist.Metas(testTenantID), 1)

	// deleting a block should remove it on the next poll
	require.NoError(t, rw.c.ClearBlock(blockID, testTenantID))

	rw.doPoll()
	require.Len(t, rw.blocklist.Metas(testTenantID), 0)
}

func TestCompaction(t *testing.T) {
	r, w, c, err := New(testConfig(t, 11), log.NewNopLogger())
	require.NoError(t, err)

	rw := r.(*readerWriter)

	c.EnableCompaction(context.Background(), &CompactorConfig{
		ChunkSizeBytes:       10_000,
		MaxCompactionRange:   time.Hour,
		MaxCompactionObjects: 1000,
	}, model.ObjectCombiner, &mockOverrides{})

	blockCount := 4
	recordCount := 10

	allIds := make([][]byte, 0, blockCount*recordCount)
	for i := 0; i < blockCount; i++ {
		head, err := w.WAL().NewBlock(uuid.New(), testTenantID)
		require.NoError(t, err)

		for j := 0; j < recordCount; j++ {
			id := test.ValidTraceID()
			bTrace, _, err := test.MakeTraceBytes(1, id)
			require.NoError(t, err)
			require.NoError(t, head.Append(id, bTrace))
			allIds = append(allIds, id)
		}

		complete, err := w.CompleteBlock(head, model.ObjectCombiner)
		require.NoError(t, err)
		require.NoError(t, w.WriteBlock(context.Background(), complete))
	}

	rw.doPoll()
	require.Len(t, rw.blocklist.Metas(testTenantID), blockCount)

	// compact until nothing is left to compact
	for {
		blockSelector := newTimeWindowBlockSelector(rw.blocklist.Metas(testTenantID), rw.compactorCfg.MaxCompactionRange, rw.compactorCfg.MaxCompactionObjects)
		blocks := blockSelector.BlocksToCompact()
		if len(blocks) == 0 {
			break
		}

		require.Len(t, blocks, inputBlocks)
		require.NoError(t, rw.compact(context.Background(), blocks, testTenantID))
	}

	// everything should still be findable
	for _, id := range allIds {
		b, _, err := r.Find(context.Background(), testTenantID, id)
		require.NoError(t, err)
		require.NotNil(t, b, "id not found after compaction")
	}

	// total object count should not have changed
	total := 0
	for _, meta := range rw.blocklist.Metas(testTenantID) {
		total += meta.TotalObjects
	}
	require.Equal(t, blockCount*recordCount, total)
}

func TestCompactionDeduplicates(t *testing.T) {
	r, w, c, err := New(testConfig(t, 11), log.NewNopLogger())
	require.NoError(t, err)

	rw := r.(*readerWriter)

	c.EnableCompaction(context.Background(), &CompactorConfig{
		ChunkSizeBytes:       10_000,
		MaxCompactionRange:   time.Hour,
		MaxCompactionObjects: 1000,
	}, model.ObjectCombiner, &mockOverrides{})

	// write the same ids to two blocks
	ids := make([][]byte, 0, 10)
	for i := 0; i < 10; i++ {
		ids = append(ids, test.ValidTraceID())
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i], ids[j]) < 0 })

	for i := 0; i < inputBlocks; i++ {
		head, err := w.WAL().NewBlock(uuid.New(), testTenantID)
		require.NoError(t, err)

		for _, id := range ids {
			bTrace, _, err := test.MakeTraceBytes(1, id)
			require.NoError(t, err)
			require.NoError(t, head.Append(id, bTrace))
		}

		complete, err := w.CompleteBlock(head, model.ObjectCombiner)
		require.NoError(t, err)
		require.NoError(t, w.WriteBlock(context.Background(), complete))
	}

	rw.doPoll()

	blocks := rw.blocklist.Metas(testTenantID)
	require.Len(t, blocks, inputBlocks)
	require.NoError(t, rw.compact(context.Background(), blocks, testTenantID))

	// the output block should hold each id exactly once
	metas := rw.blocklist.Metas(testTenantID)
	require.Len(t, metas, 1)
	require.Equal(t, len(ids), metas[0].TotalObjects)

	for _, id := range ids {
		b, _, err := r.Find(context.Background(), testTenantID, id)
		require.NoError(t, err)

		trace, err := model.Unmarshal(b)
		require.NoError(t, err)
		// one span per input block, combined
		require.Equal(t, 2, trace.SpanCount())
	}
}

func TestRetention(t *testing.T) {
	r, w, c, err := New(testConfig(t, 17), log.NewNopLogger())
	require.NoError(t, err)

	rw := r.(*readerWriter)

	c.EnableCompaction(context.Background(), &CompactorConfig{
		ChunkSizeBytes:          10_000,
		MaxCompactionRange:      time.Hour,
		BlockRetention:          time.Hour,
		CompactedBlockRetention: 0,
	}, model.ObjectCombiner, &mockOverrides{})

	writeBlockWithEndTime := func(endTime time.Time) uuid.UUID {
		blockID := uuid.New()
		head, err := w.WAL().NewBlock(blockID, testTenantID)
		require.NoError(t, err)

		id := test.ValidTraceID()
		bTrace, _, err := test.MakeTraceBytes(1, id)
		require.NoError(t, err)
		require.NoError(t, head.Append(id, bTrace))

		complete, err := w.CompleteBlock(head, model.ObjectCombiner)
		require.NoError(t, err)
		complete.BlockMeta().EndTime = endTime
		require.NoError(t, w.WriteBlock(context.Background(), complete))
		return blockID
	}

	// one block just inside retention, one outside
	youngBlock := writeBlockWithEndTime(time.Now().Add(-59 * time.Minute))
	oldBlock := writeBlockWithEndTime(time.Now().Add(-61 * time.Minute))

	rw.doPoll()
	require.Len(t, rw.blocklist.Metas(testTenantID), 2)

	rw.doRetention(context.Background())

	// the old block is marked and, with zero compacted retention, deleted
	// in the same cycle
	metas := rw.blocklist.Metas(testTenantID)
	require.Len(t, metas, 1)
	require.Equal(t, youngBlock, metas[0].BlockID)
	require.Len(t, rw.blocklist.CompactedMetas(testTenantID), 0)

	_, err = rw.r.BlockMeta(context.Background(), oldBlock, testTenantID)
	require.Error(t, err)
}

func TestRetentionHonorsPerTenantOverride(t *testing.T) {
	r, w, c, err := New(testConfig(t, 17), log.NewNopLogger())
	require.NoError(t, err)

	rw := r.(*readerWriter)

	// tenant override is longer than the default, the block must survive
	c.EnableCompaction(context.Background(), &CompactorConfig{
		ChunkSizeBytes:     10_000,
		MaxCompactionRange: time.Hour,
		BlockRetention:     time.Minute,
	}, model.ObjectCombiner, &mockOverrides{blockRetention: 24 * time.Hour})

	head, err := w.WAL().NewBlock(uuid.New(), testTenantID)
	require.NoError(t, err)

	id := test.ValidTraceID()
	bTrace, _, err := test.MakeTraceBytes(1, id)
	require.NoError(t, err)
	require.NoError(t, head.Append(id, bTrace))

	complete, err := w.CompleteBlock(head, model.ObjectCombiner)
	require.NoError(t, err)
	complete.BlockMeta().EndTime = time.Now().Add(-time.Hour)
	require.NoError(t, w.WriteBlock(context.Background(), complete))

	rw.doPoll()
	rw.doRetention(context.Background())

	require.Len(t, rw.blocklist.Metas(testTenantID), 1)
}

type mockOverrides struct {
	blockRetention time.Duration
}

func (m *mockOverrides) BlockRetentionForTenant(string) time.Duration {
	return m.blockRetention
}
