package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cairndb/cairn/cairndb/backend"
	"github.com/cairndb/cairn/cairndb/encoding"
	"github.com/cairndb/cairn/pkg/boundedwaitgroup"
)

type unifiedBlockMeta struct {
	encoding.BlockMeta

	window    int64
	compacted bool
}

func getMeta(meta *encoding.BlockMeta, compactedMeta *encoding.CompactedBlockMeta, windowRange time.Duration) unifiedBlockMeta {
	if meta != nil {
		return unifiedBlockMeta{
			BlockMeta: *meta,
			window:    meta.EndTime.Unix() / int64(windowRange/time.Second),
			compacted: false,
		}
	}
	if compactedMeta != nil {
		return unifiedBlockMeta{
			BlockMeta: compactedMeta.BlockMeta,
			window:    compactedMeta.EndTime.Unix() / int64(windowRange/time.Second),
			compacted: true,
		}
	}

	return unifiedBlockMeta{
		BlockMeta: encoding.BlockMeta{
			BlockID:      uuid.UUID{},
			TotalObjects: -1,
		},
		window:    -1,
		compacted: false,
	}
}

func loadBucket(r backend.Reader, c backend.Compactor, tenantID string, windowRange time.Duration, includeCompacted bool) ([]unifiedBlockMeta, error) {
	blockIDs, err := r.Blocks(context.Background(), tenantID)
	if err != nil {
		return nil, err
	}

	fmt.Println("total blocks: ", len(blockIDs))

	// Load in parallel
	wg := boundedwaitgroup.New(10)
	resultsCh := make(chan unifiedBlockMeta, len(blockIDs))

	for _, id := range blockIDs {
		wg.Add(1)

		go func(id2 uuid.UUID) {
			defer wg.Done()

			b, err := loadBlock(r, c, tenantID, id2, windowRange, includeCompacted)
			if err != nil {
				fmt.Println("Error loading block:", id2, err)
				return
			}

			if b != nil {
				resultsCh <- *b
			}
		}(id)
	}

	wg.Wait()
	close(resultsCh)

	results := make([]unifiedBlockMeta, 0)
	for b := range resultsCh {
		results = append(results, b)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].EndTime.Before(results[j].EndTime)
	})

	return results, nil
}

func loadBlock(r backend.Reader, c backend.Compactor, tenantID string, id uuid.UUID, windowRange time.Duration, includeCompacted bool) (*unifiedBlockMeta, error) {
	fmt.Print(".")

	meta, err := r.BlockMeta(context.Background(), id, tenantID)
	if err == backend.ErrMetaDoesNotExist && !includeCompacted {
		return nil, nil
	} else if err != nil && err != backend.ErrMetaDoesNotExist {
		return nil, err
	}

	compactedMeta, err := c.CompactedBlockMeta(id, tenantID)
	if err != nil && err != backend.ErrMetaDoesNotExist {
		return nil, err
	}

	b := getMeta(meta, compactedMeta, windowRange)
	return &b, nil
}
