package wal

import (
	"bytes"
	"math/rand"
	"os"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cairndb/cairn/cairndb/encoding"
	"github.com/cairndb/cairn/pkg/model"
	"github.com/cairndb/cairn/pkg/util/test"
)

const testTenantID = "fake"

func testWAL(t *testing.T) *WAL {
	wal, err := New(&Config{
		Filepath:        t.TempDir(),
		IndexDownsample: 2,
		Encoding:        encoding.EncSnappy,
	})
	require.NoError(t, err, "unexpected error creating temp wal")
	return wal
}

func TestCreateBlock(t *testing.T) {
	wal := testWAL(t)

	blockID := uuid.New()

	block, err := wal.NewBlock(blockID, testTenantID)
	require.NoError(t, err, "unexpected error creating block")

	blocks, err := wal.AllBlocks()
	require.NoError(t, err, "unexpected error getting blocks")
	require.Len(t, blocks, 1)

	assert.Equal(t, block.fullFilename(), blocks[0].fullFilename())
	assert.Equal(t, blockID, blocks[0].BlockID())
	assert.Equal(t, testTenantID, blocks[0].TenantID())
}

func TestAppendFind(t *testing.T) {
	wal := testWAL(t)

	block, err := wal.NewBlock(uuid.New(), testTenantID)
	require.NoError(t, err, "unexpected error creating block")

	id := []byte{0x00, 0x01}
	bTrace, trace, err := test.MakeTraceBytes(10, id)
	require.NoError(t, err)
	err = block.Append(id, bTrace)
	require.NoError(t, err, "unexpected error appending")

	foundBytes, err := block.Find(id, model.ObjectCombiner)
	require.NoError(t, err, "unexpected error finding")

	out, err := model.Unmarshal(foundBytes)
	require.NoError(t, err)
	assert.Equal(t, trace, out)
}

func TestAppendFindCombinesDuplicates(t *testing.T) {
	wal := testWAL(t)

	block, err := wal.NewBlock(uuid.New(), testTenantID)
	require.NoError(t, err)

	id := test.ValidTraceID()
	bTraceA, _, err := test.MakeTraceBytes(1, id)
	require.NoError(t, err)
	bTraceB, _, err := test.MakeTraceBytes(1, id)
	require.NoError(t, err)

	require.NoError(t, block.Append(id, bTraceA))
	require.NoError(t, block.Append(id, bTraceB))

	foundBytes, err := block.Find(id, model.ObjectCombiner)
	require.NoError(t, err)

	trace, err := model.Unmarshal(foundBytes)
	require.NoError(t, err)
	assert.Equal(t, 2, trace.SpanCount())
}

func TestIterator(t *testing.T) {
	wal := testWAL(t)

	block, err := wal.NewBlock(uuid.New(), testTenantID)
	require.NoError(t, err)

	numMsgs := 10
	written := make(map[string][]byte, numMsgs)
	for i := 0; i < numMsgs; i++ {
		id := test.ValidTraceID()
		bTrace, _, err := test.MakeTraceBytes(rand.Intn(10)+1, id)
		require.NoError(t, err)
		require.NoError(t, block.Append(id, bTrace))
		written[string(id)] = bTrace
	}

	iterator, err := block.Iterator()
	require.NoError(t, err)

	i := 0
	for {
		id, obj, err := iterator.Next()
		require.NoError(t, err)

		if id == nil {
			break
		}

		assert.Equal(t, written[string(id)], obj)
		i++
	}

	assert.Equal(t, numMsgs, i)
}

func TestCompleteBlock(t *testing.T) {
	wal := testWAL(t)

	block, err := wal.NewBlock(uuid.New(), testTenantID)
	require.NoError(t, err)

	numMsgs := 100
	ids := make([][]byte, 0, numMsgs)
	objs := make(map[string][]byte, numMsgs)
	for i := 0; i < numMsgs; i++ {
		id := test.ValidTraceID()
		bTrace, _, err := test.MakeTraceBytes(rand.Intn(10)+1, id)
		require.NoError(t, err)
		require.NoError(t, block.Append(id, bTrace))
		ids = append(ids, id)
		objs[string(id)] = bTrace
	}

	complete, err := wal.CompleteBlock(block, model.ObjectCombiner)
	require.NoError(t, err)

	// meta survives the rewrite
	assert.Equal(t, block.BlockID(), complete.BlockMeta().BlockID)
	assert.Equal(t, numMsgs, complete.BlockMeta().TotalObjects)

	// everything is still findable through the index
	for _, id := range ids {
		foundBytes, err := complete.Find(id)
		require.NoError(t, err)
		assert.Equal(t, objs[string(id)], foundBytes)
	}

	// objects are sorted by id
	f, err := os.Open(complete.ObjectFilePath())
	require.NoError(t, err)
	defer f.Close()

	codec, err := encoding.CodecFor(complete.BlockMeta().Encoding)
	require.NoError(t, err)
	iterator := encoding.NewIterator(f, codec)

	var prev []byte
	for {
		id, _, err := iterator.Next()
		require.NoError(t, err)
		if id == nil {
			break
		}
		if prev != nil {
			assert.True(t, bytes.Compare(prev, id) < 0)
		}
		prev = append(prev[:0], id...)
	}
}

func TestCompleteBlockDeduplicates(t *testing.T) {
	wal := testWAL(t)

	block, err := wal.NewBlock(uuid.New(), testTenantID)
	require.NoError(t, err)

	id := test.ValidTraceID()
	bTraceA, _, err := test.MakeTraceBytes(1, id)
	require.NoError(t, err)
	bTraceB, _, err := test.MakeTraceBytes(1, id)
	require.NoError(t, err)

	require.NoError(t, block.Append(id, bTraceA))
	require.NoError(t, block.Append(id, bTraceB))

	complete, err := wal.CompleteBlock(block, model.ObjectCombiner)
	require.NoError(t, err)

	assert.Equal(t, 1, complete.BlockMeta().TotalObjects)

	foundBytes, err := complete.Find(id)
	require.NoError(t, err)

	trace, err := model.Unmarshal(foundBytes)
	require.NoError(t, err)
	assert.Equal(t, 2, trace.SpanCount())
}

func TestReplay(t *testing.T) {
	walDir := t.TempDir()

	wal, err := New(&Config{
		Filepath:        walDir,
		IndexDownsample: 2,
		Encoding:        encoding.EncSnappy,
	})
	require.NoError(t, err)

	block, err := wal.NewBlock(uuid.New(), testTenantID)
	require.NoError(t, err)

	numMsgs := 10
	written := make(map[string][]byte, numMsgs)
	for i := 0; i < numMsgs; i++ {
		id := test.ValidTraceID()
		bTrace, _, err := test.MakeTraceBytes(1, id)
		require.NoError(t, err)
		require.NoError(t, block.Append(id, bTrace))
		written[string(id)] = bTrace
	}

	// a new wal over the same directory sees the block
	wal2, err := New(&Config{
		Filepath:        walDir,
		IndexDownsample: 2,
		Encoding:        encoding.EncSnappy,
	})
	require.NoError(t, err)

	blocks, err := wal2.AllBlocks()
	require.NoError(t, err)
	require.Len(t, blocks, 1)

	iterator, err := blocks[0].Iterator()
	require.NoError(t, err)

	count := 0
	for {
		id, obj, err := iterator.Next()
		require.NoError(t, err)
		if id == nil {
			break
		}
		assert.Equal(t, written[string(id)], obj)
		count++
	}
	assert.Equal(t, numMsgs, count)
}

func TestWALClearsCompletedDir(t *testing.T) {
	walDir := t.TempDir()

	wal, err := New(&Config{
		Filepath:        walDir,
		IndexDownsample: 2,
		Encoding:        encoding.EncNone,
	})
	require.NoError(t, err)

	block, err := wal.NewBlock(uuid.New(), testTenantID)
	require.NoError(t, err)

	id := test.ValidTraceID()
	bTrace, _, err := test.MakeTraceBytes(1, id)
	require.NoError(t, err)
	require.NoError(t, block.Append(id, bTrace))

	complete, err := wal.CompleteBlock(block, model.ObjectCombiner)
	require.NoError(t, err)

	_, err = os.Stat(complete.ObjectFilePath())
	require.NoError(t, err)

	// restart wipes the completed dir
	_, err = New(&Config{
		Filepath:        walDir,
		IndexDownsample: 2,
		Encoding:        encoding.EncNone,
	})
	require.NoError(t, err)

	_, err = os.Stat(complete.ObjectFilePath())
	assert.True(t, os.IsNotExist(err))
}

func TestParseFilename(t *testing.T) {
	blockID := uuid.New()

	outID, tenant, enc, err := parseFilename(blockID.String() + ":foo:snappy")
	require.NoError(t, err)
	assert.Equal(t, blockID, outID)
	assert.Equal(t, "foo", tenant)
	assert.Equal(t, encoding.EncSnappy, enc)

	_, _, _, err = parseFilename("badfilename")
	assert.Error(t, err)

	_, _, _, err = parseFilename("notauuid:foo:snappy")
	assert.Error(t, err)
}

func TestAppendOrder(t *testing.T) {
	wal := testWAL(t)

	block, err := wal.NewBlock(uuid.New(), testTenantID)
	require.NoError(t, err)

	ids := make([][]byte, 0, 10)
	for i := 0; i < 10; i++ {
		ids = append(ids, test.ValidTraceID())
	}

	for _, id := range ids {
		bTrace, _, err := test.MakeTraceBytes(1, id)
		require.NoError(t, err)
		require.NoError(t, block.Append(id, bTrace))
	}

	// records are kept per appended object, sorted copies do not mutate
	// the append order
	sortedIDs := append([][]byte(nil), ids...)
	sort.Slice(sortedIDs, func(i, j int) bool { return bytes.Compare(sortedIDs[i], sortedIDs[j]) < 0 })

	records := block.sortedRecords()
	require.Len(t, records, len(ids))
	for i, r := range records {
		assert.Equal(t, encoding.ID(sortedIDs[i]), r.ID)
	}
}
