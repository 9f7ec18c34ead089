package cairndb

import (
	"sort"
	"time"

	"github.com/cairndb/cairn/cairndb/encoding"
)

// CompactionBlockSelector is an interface for different algorithms to pick
// suitable blocks for compaction
type CompactionBlockSelector interface {
	BlocksToCompact() []*encoding.BlockMeta
}

/*************************** Simple Block Selector **************************/

type simpleBlockSelector struct {
	cursor             int
	blocklist          []*encoding.BlockMeta
	MaxCompactionRange time.Duration
}

var _ CompactionBlockSelector = (*simpleBlockSelector)(nil)

func newSimpleBlockSelector(blocklist []*encoding.BlockMeta, maxCompactionRange time.Duration) CompactionBlockSelector {
	return &simpleBlockSelector{
		blocklist:          blocklist,
		MaxCompactionRange: maxCompactionRange,
	}
}

func (sbs *simpleBlockSelector) BlocksToCompact() []*encoding.BlockMeta {
	for sbs.cursor < len(sbs.blocklist)-inputBlocks+1 {
		cursorEnd := sbs.cursor + inputBlocks - 1
		if sbs.blocklist[cursorEnd].EndTime.Sub(sbs.blocklist[sbs.cursor].StartTime) < sbs.MaxCompactionRange {
			startPos := sbs.cursor
			sbs.cursor = startPos + inputBlocks
			return sbs.blocklist[startPos : startPos+inputBlocks]
		}
		sbs.cursor++
	}

	return nil
}

/*************************** Time Window Block Selector **************************/

// timeWindowBlockSelector slices the blocklist into fixed windows of
// MaxCompactionRange and only combines blocks that fall in the same window.
// It can be used only once per cycle and must be reinitialized with an
// updated blocklist.
type timeWindowBlockSelector struct {
	cursor               int
	blocklist            []*encoding.BlockMeta
	MaxCompactionRange   time.Duration
	MaxCompactionObjects int
}

var _ CompactionBlockSelector = (*timeWindowBlockSelector)(nil)

func newTimeWindowBlockSelector(blocklist []*encoding.BlockMeta, maxCompactionRange time.Duration, maxCompactionObjects int) CompactionBlockSelector {
	twbs := &timeWindowBlockSelector{
		blocklist:            append([]*encoding.BlockMeta(nil), blocklist...),
		MaxCompactionRange:   maxCompactionRange,
		MaxCompactionObjects: maxCompactionObjects,
	}

	sort.SliceStable(twbs.blocklist, func(i, j int) bool {
		return twbs.blocklist[i].StartTime.Before(twbs.blocklist[j].StartTime)
	})

	return twbs
}

func (twbs *timeWindowBlockSelector) BlocksToCompact() []*encoding.BlockMeta {
	for twbs.cursor < len(twbs.blocklist)-inputBlocks+1 {
		cursorBlock := twbs.blocklist[twbs.cursor]
		currentWindow := twbs.windowForBlock(cursorBlock)
		cursorEnd := twbs.cursor + inputBlocks - 1

		if currentWindow == twbs.windowForBlock(twbs.blocklist[cursorEnd]) &&
			totalObjects(twbs.blocklist[twbs.cursor:cursorEnd+1]) <= twbs.MaxCompactionObjects {
			startPos := twbs.cursor
			twbs.cursor = startPos + inputBlocks
			return twbs.blocklist[startPos : startPos+inputBlocks]
		}
		twbs.cursor++
	}

	return nil
}

func (twbs *timeWindowBlockSelector) windowForBlock(meta *encoding.BlockMeta) int64 {
	return meta.StartTime.Unix() / int64(twbs.MaxCompactionRange/time.Second)
}

func totalObjects(metas []*encoding.BlockMeta) int {
	total := 0
	for _, m := range metas {
		total += m.TotalObjects
	}
	return total
}
