package cairndb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cairndb/cairn/cairndb/backend"
	"github.com/cairndb/cairn/cairndb/encoding"
	"github.com/cairndb/cairn/cairndb/wal"
)

const (
	inputBlocks  = 2
	outputBlocks = 1

	compactionCycle = 30 * time.Second
)

var (
	metricCompactionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cairndb",
		Name:      "compaction_duration_seconds",
		Help:      "Records the amount of time to compact a set of blocks.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})
	metricCompactionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cairndb",
		Name:      "compaction_errors_total",
		Help:      "Total number of errors occurring during compaction.",
	})
	metricCompactionBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cairndb",
		Name:      "compaction_blocks_total",
		Help:      "Total number of blocks compacted.",
	})
	metricCompactionObjectsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cairndb",
		Name:      "compaction_objects_written_total",
		Help:      "Total number of objects written to backend during compaction.",
	})
	metricCompactionObjectsCombined = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cairndb",
		Name:      "compaction_objects_combined_total",
		Help:      "Total number of objects combined during compaction.",
	})
)

func (rw *readerWriter) compactionLoop(ctx context.Context) {
	ticker := time.NewTicker(compactionCycle)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rw.doCompaction(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (rw *readerWriter) doCompaction(ctx context.Context) {
	tenants := rw.blocklist.Tenants()

	for _, tenantID := range tenants {
		select {
		case <-ctx.Done():
			return
		default:
		}

		blockSelector := newTimeWindowBlockSelector(rw.blocklist.Metas(tenantID), rw.compactorCfg.MaxCompactionRange, rw.compactorCfg.MaxCompactionObjects)

		for {
			toBeCompacted := blockSelector.BlocksToCompact()
			if len(toBeCompacted) == 0 {
				break
			}

			err := rw.compact(ctx, toBeCompacted, tenantID)
			if err != nil {
				level.Error(rw.logger).Log("msg", "error during compaction cycle", "tenantID", tenantID, "err", err)
				metricCompactionErrors.Inc()
			}
		}
	}
}

func (rw *readerWriter) compact(ctx context.Context, blockMetas []*encoding.BlockMeta, tenantID string) error {
	start := time.Now()
	defer func() {
		metricCompactionDuration.Observe(time.Since(start).Seconds())
	}()

	var err error
	bookmarks := make([]*bookmark, 0, len(blockMetas))

	var totalRecords int
	for _, blockMeta := range blockMetas {
		level.Info(rw.logger).Log("msg", "compacting block", "tenantID", tenantID, "blockID", blockMeta.BlockID)
		totalRecords += blockMeta.TotalObjects

		// if the meta is gone another process got here first.  bail
		_, err = rw.r.BlockMeta(ctx, blockMeta.BlockID, tenantID)
		if err == backend.ErrMetaDoesNotExist {
			level.Warn(rw.logger).Log("msg", "unable to find meta during compaction", "blockID", blockMeta.BlockID, "tenantID", tenantID)
			return nil
		} else if err != nil {
			return err
		}

		codec, err := encoding.CodecFor(blockMeta.Encoding)
		if err != nil {
			return err
		}

		iter, err := backend.NewBackendIterator(ctx, tenantID, blockMeta.BlockID, rw.compactorCfg.ChunkSizeBytes, rw.r, codec)
		if err != nil {
			return err
		}

		bookmarks = append(bookmarks, newBookmark(iter))
	}

	recordsPerBlock := (totalRecords / outputBlocks) + 1
	var currentBlock *wal.CompactorBlock

	for !allDone(bookmarks) {
		var lowestID []byte
		var lowestObject []byte
		var lowestBookmark *bookmark

		// find the lowest id across all bookmarks, combining objects that
		// share an id
		for _, b := range bookmarks {
			currentID, currentObject, err := b.current()
			if err == io.EOF {
				continue
			} else if err != nil {
				return err
			}

			comparison := bytes.Compare(currentID, lowestID)

			if comparison == 0 {
				combined, wasCombined, err := rw.compactorCombiner.Combine(currentObject, lowestObject)
				if err != nil {
					return err
				}
				if wasCombined {
					metricCompactionObjectsCombined.Inc()
				}
				lowestObject = combined
				b.clear()
			} else if len(lowestID) == 0 || comparison == -1 {
				lowestID = currentID
				lowestObject = currentObject
				lowestBookmark = b
			}
		}

		if len(lowestID) == 0 || len(lowestObject) == 0 || lowestBookmark == nil {
			return fmt.Errorf("failed to find a lowest object in compaction")
		}

		if currentBlock == nil {
			currentBlock, err = rw.wal.NewCompactorBlock(uuid.New(), tenantID, blockMetas, recordsPerBlock)
			if err != nil {
				return err
			}
		}

		// the id escapes the iterator when it is written so copy it.  the
		// object bytes go straight to disk and do not need a copy
		writeID := append([]byte(nil), lowestID...)
		err = currentBlock.Write(writeID, lowestObject)
		if err != nil {
			return err
		}
		metricCompactionObjectsWritten.Inc()
		lowestBookmark.clear()

		if currentBlock.Length() >= recordsPerBlock {
			err = rw.finishBlock(ctx, currentBlock, tenantID)
			if err != nil {
				return err
			}
			currentBlock = nil
		}
	}

	if currentBlock != nil {
		err = rw.finishBlock(ctx, currentBlock, tenantID)
		if err != nil {
			return err
		}
	}

	// mark the old blocks compacted so they stop showing up in polling
	markCompacted(rw, tenantID, blockMetas)

	return nil
}

func (rw *readerWriter) finishBlock(ctx context.Context, block *wal.CompactorBlock, tenantID string) error {
	err := block.Complete()
	if err != nil {
		return err
	}

	level.Info(rw.logger).Log("msg", "writing compacted block", "tenantID", tenantID, "blockID", block.BlockMeta().BlockID)
	err = rw.WriteBlock(ctx, block)
	if err != nil {
		return err
	}
	metricCompactionBlocks.Inc()

	err = block.Clear()
	if err != nil {
		level.Error(rw.logger).Log("msg", "error cleaning up compacted block temp file", "err", err)
	}

	rw.blocklist.Update(tenantID, []*encoding.BlockMeta{block.BlockMeta()}, nil, nil, nil)

	return nil
}

func markCompacted(rw *readerWriter, tenantID string, oldBlocks []*encoding.BlockMeta) {
	compactions := make([]*encoding.CompactedBlockMeta, 0, len(oldBlocks))

	for _, meta := range oldBlocks {
		if err := rw.c.MarkBlockCompacted(meta.BlockID, tenantID); err != nil {
			level.Error(rw.logger).Log("msg", "unable to mark block compacted", "blockID", meta.BlockID, "tenantID", tenantID, "err", err)
			metricCompactionErrors.Inc()
			continue
		}

		compactions = append(compactions, &encoding.CompactedBlockMeta{
			BlockMeta:     *meta,
			CompactedTime: time.Now(),
		})
	}

	rw.blocklist.Update(tenantID, nil, oldBlocks, compactions, nil)
}
