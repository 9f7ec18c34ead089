package cairndb

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/cairndb/cairn/cairndb/encoding"
)

func TestTimeWindowBlockSelector(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		blocklist []*encoding.BlockMeta
		expected  []*encoding.BlockMeta
	}{
		{
			name:      "nil blocklist",
			blocklist: nil,
			expected:  nil,
		},
		{
			name: "only one block",
			blocklist: []*encoding.BlockMeta{
				{
					BlockID:   uuid.MustParse("00000000-0000-0000-0000-000000000001"),
					StartTime: now,
				},
			},
			expected: nil,
		},
		{
			name: "two blocks returned",
			blocklist: []*encoding.BlockMeta{
				{
					BlockID:   uuid.MustParse("00000000-0000-0000-0000-000000000001"),
					StartTime: now,
				},
				{
					BlockID:   uuid.MustParse("00000000-0000-0000-0000-000000000002"),
					StartTime: now,
				},
			},
			expected: []*encoding.BlockMeta{
				{
					BlockID:   uuid.MustParse("00000000-0000-0000-0000-000000000001"),
					StartTime: now,
				},
				{
					BlockID:   uuid.MustParse("00000000-0000-0000-0000-000000000002"),
					StartTime: now,
				},
			},
		},
		{
			name: "blocks in different windows are not mixed",
			blocklist: []*encoding.BlockMeta{
				{
					BlockID:   uuid.MustParse("00000000-0000-0000-0000-000000000001"),
					StartTime: now.Add(-2 * time.Hour),
				},
				{
					BlockID:   uuid.MustParse("00000000-0000-0000-0000-000000000002"),
					StartTime: now,
				},
			},
			expected: nil,
		},
		{
			name: "blocks over the object limit are skipped",
			blocklist: []*encoding.BlockMeta{
				{
					BlockID:      uuid.MustParse("00000000-0000-0000-0000-000000000001"),
					StartTime:    now,
					TotalObjects: 1000,
				},
				{
					BlockID:      uuid.MustParse("00000000-0000-0000-0000-000000000002"),
					StartTime:    now,
					TotalObjects: 1000,
				},
			},
			expected: nil,
		},
		{
			name: "unsorted list still pairs blocks in the same window",
			blocklist: []*encoding.BlockMeta{
				{
					BlockID:   uuid.MustParse("00000000-0000-0000-0000-000000000001"),
					StartTime: now,
				},
				{
					BlockID:   uuid.MustParse("00000000-0000-0000-0000-000000000002"),
					StartTime: now.Add(-2 * time.Hour),
				},
				{
					BlockID:   uuid.MustParse("00000000-0000-0000-0000-000000000003"),
					StartTime: now.Add(-2 * time.Hour),
				},
			},
			expected: []*encoding.BlockMeta{
				{
					BlockID:   uuid.MustParse("00000000-0000-0000-0000-000000000002"),
					StartTime: now.Add(-2 * time.Hour),
				},
				{
					BlockID:   uuid.MustParse("00000000-0000-0000-0000-000000000003"),
					StartTime: now.Add(-2 * time.Hour),
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selector := newTimeWindowBlockSelector(tt.blocklist, time.Hour, 1000)
			actual := selector.BlocksToCompact()
			assert.Equal(t, tt.expected, actual)
		})
	}
}

func TestTimeWindowBlockSelectorConsumesList(t *testing.T) {
	now := time.Now()

	blocklist := []*encoding.BlockMeta{
		{BlockID: uuid.New(), StartTime: now},
		{BlockID: uuid.New(), StartTime: now},
		{BlockID: uuid.New(), StartTime: now},
		{BlockID: uuid.New(), StartTime: now},
	}

	selector := newTimeWindowBlockSelector(blocklist, time.Hour, 1000)

	first := selector.BlocksToCompact()
	assert.Len(t, first, inputBlocks)

	second := selector.BlocksToCompact()
	assert.Len(t, second, inputBlocks)
	assert.NotEqual(t, first, second)

	assert.Nil(t, selector.BlocksToCompact())
}
