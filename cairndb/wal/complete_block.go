package wal

import (
	"bytes"
	"os"
	"time"

	"github.com/cairndb/cairn/cairndb/encoding"
)

// CompleteBlock is a sealed block sitting in the completed directory, ready
// to be flushed to the backend.  It is immutable.
type CompleteBlock struct {
	meta     *encoding.BlockMeta
	filepath string
	codec    encoding.Codec
	records  []*encoding.Record

	flushedTime time.Time
	readFile    *os.File
}

// CompleteBlock rewrites an append block into id-sorted, deduplicated form in
// the completed directory.  The append block is untouched, the caller clears
// it once the new block has been flushed.
func (w *WAL) CompleteBlock(block *AppendBlock, combiner encoding.ObjectCombiner) (*CompleteBlock, error) {
	meta := encoding.NewBlockMeta(block.meta.TenantID, block.meta.BlockID, w.c.Encoding)
	meta.StartTime = block.meta.StartTime
	meta.EndTime = block.meta.EndTime

	codec, err := encoding.CodecFor(w.c.Encoding)
	if err != nil {
		return nil, err
	}

	c := &CompleteBlock{
		meta:     meta,
		filepath: w.c.CompletedFilepath,
		codec:    codec,
	}

	readFile, err := os.OpenFile(block.fullFilename(), os.O_RDONLY, 0o644)
	if err != nil {
		return nil, err
	}
	defer readFile.Close()

	writeFile, err := os.Create(c.fullFilename())
	if err != nil {
		return nil, err
	}
	defer writeFile.Close()

	appender := encoding.NewBufferedAppender(writeFile, codec, w.c.IndexDownsample, block.Length())

	// walk records in id order, combining duplicates as we go
	var currentID []byte
	var currentObject []byte
	for _, r := range block.sortedRecords() {
		buff := make([]byte, r.Length)
		_, err = readFile.ReadAt(buff, int64(r.Start))
		if err != nil {
			return nil, err
		}

		_, id, obj, err := encoding.UnmarshalAndAdvanceBuffer(buff, block.codec)
		if err != nil {
			return nil, err
		}

		if bytes.Equal(currentID, id) {
			currentObject, _, err = combiner.Combine(currentObject, obj)
			if err != nil {
				return nil, err
			}
			continue
		}

		if currentID != nil {
			err = appendToBlock(appender, meta, currentID, currentObject)
			if err != nil {
				return nil, err
			}
		}

		currentID = append([]byte(nil), id...)
		currentObject = obj
	}
	if currentID != nil {
		err = appendToBlock(appender, meta, currentID, currentObject)
		if err != nil {
			return nil, err
		}
	}

	appender.Complete()
	c.records = appender.Records()
	meta.Size = appender.DataLength()

	return c, nil
}

func appendToBlock(appender encoding.Appender, meta *encoding.BlockMeta, id encoding.ID, obj []byte) error {
	err := appender.Append(id, obj)
	if err != nil {
		return err
	}
	meta.ObjectAdded(id, len(obj))
	return nil
}

func (c *CompleteBlock) BlockMeta() *encoding.BlockMeta {
	return c.meta
}

func (c *CompleteBlock) Records() []*encoding.Record {
	return c.records
}

// ObjectFilePath is the data file handed to the backend writer.
func (c *CompleteBlock) ObjectFilePath() string {
	return c.fullFilename()
}

func (c *CompleteBlock) Find(id encoding.ID) ([]byte, error) {
	file, err := c.file()
	if err != nil {
		return nil, err
	}

	finder := encoding.NewFinder(c.records, file, c.codec)
	return finder.Find(id)
}

// FlushedTime returns when the block was written to the backend, zero if it
// has not been flushed yet.
func (c *CompleteBlock) FlushedTime() time.Time {
	return c.flushedTime
}

func (c *CompleteBlock) Flushed(t time.Time) {
	c.flushedTime = t
}

func (c *CompleteBlock) Clear() error {
	if c.readFile != nil {
		err := c.readFile.Close()
		if err != nil {
			return err
		}
		c.readFile = nil
	}

	return os.Remove(c.fullFilename())
}

func (c *CompleteBlock) file() (*os.File, error) {
	if c.readFile == nil {
		f, err := os.OpenFile(c.fullFilename(), os.O_RDONLY, 0o644)
		if err != nil {
			return nil, err
		}
		c.readFile = f
	}

	return c.readFile, nil
}

func (c *CompleteBlock) fullFilename() string {
	return fullFilename(c.filepath, c.meta)
}
