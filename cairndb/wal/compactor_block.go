package wal

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/cairndb/cairn/cairndb/encoding"
)

// WriteableBlock is a sealed block that can be shipped to the backend.
type WriteableBlock interface {
	BlockMeta() *encoding.BlockMeta
	Records() []*encoding.Record
	ObjectFilePath() string
	Flushed(t time.Time)
}

// CompactorBlock accumulates the sorted output of a compaction.  Unlike a
// head block it is never replayed, so it lives in the completed directory
// and is removed after it is written to the backend.
type CompactorBlock struct {
	meta     *encoding.BlockMeta
	metas    []*encoding.BlockMeta
	filepath string

	appendFile *os.File
	appender   encoding.Appender
}

func (w *WAL) NewCompactorBlock(id uuid.UUID, tenantID string, metas []*encoding.BlockMeta, estimatedObjects int) (*CompactorBlock, error) {
	if len(metas) == 0 {
		return nil, fmt.Errorf("empty block meta list")
	}

	meta := encoding.NewBlockMeta(tenantID, id, w.c.Encoding)

	codec, err := encoding.CodecFor(w.c.Encoding)
	if err != nil {
		return nil, err
	}

	name := fullFilename(w.c.CompletedFilepath, meta)
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	return &CompactorBlock{
		meta:       meta,
		metas:      metas,
		filepath:   w.c.CompletedFilepath,
		appendFile: f,
		appender:   encoding.NewBufferedAppender(f, codec, w.c.IndexDownsample, estimatedObjects),
	}, nil
}

// Write appends an object.  Objects must arrive in sorted id order.
func (c *CompactorBlock) Write(id encoding.ID, object []byte) error {
	err := c.appender.Append(id, object)
	if err != nil {
		return err
	}
	c.meta.ObjectAdded(id, len(object))
	return nil
}

func (c *CompactorBlock) Length() int {
	return c.appender.Length()
}

// Complete flushes the final index record and widens the block's time range
// to cover all input blocks.
func (c *CompactorBlock) Complete() error {
	c.appender.Complete()

	c.meta.StartTime = c.metas[0].StartTime
	c.meta.EndTime = c.metas[0].EndTime
	for _, m := range c.metas[1:] {
		if m.StartTime.Before(c.meta.StartTime) {
			c.meta.StartTime = m.StartTime
		}
		if m.EndTime.After(c.meta.EndTime) {
			c.meta.EndTime = m.EndTime
		}
	}

	return c.appendFile.Close()
}

func (c *CompactorBlock) BlockMeta() *encoding.BlockMeta {
	return c.meta
}

func (c *CompactorBlock) Records() []*encoding.Record {
	return c.appender.Records()
}

func (c *CompactorBlock) ObjectFilePath() string {
	return fullFilename(c.filepath, c.meta)
}

// Flushed satisfies WriteableBlock.  Compactor blocks are cleared
// immediately after a successful write, there is nothing to track.
func (c *CompactorBlock) Flushed(_ time.Time) {}

func (c *CompactorBlock) Clear() error {
	return os.Remove(c.ObjectFilePath())
}
