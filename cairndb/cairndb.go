package cairndb

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"

	"github.com/cairndb/cairn/cairndb/backend"
	"github.com/cairndb/cairn/cairndb/backend/local"
	"github.com/cairndb/cairn/cairndb/encoding"
	"github.com/cairndb/cairn/cairndb/pool"
	"github.com/cairndb/cairn/cairndb/wal"
	"github.com/cairndb/cairn/pkg/boundedwaitgroup"
)

const DefaultBlocklistPollConcurrency = uint(50)

var (
	metricBlocklistPoll = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cairndb",
		Name:      "blocklist_poll_total",
		Help:      "Total number of times blocklist polling has occurred.",
	})
	metricBlocklistErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cairndb",
		Name:      "blocklist_poll_errors_total",
		Help:      "Total number of times an error occurred while polling the blocklist.",
	}, []string{"tenant"})
	metricBlocklistPollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cairndb",
		Name:      "blocklist_poll_duration_seconds",
		Help:      "Records the amount of time to poll and update the blocklist.",
		Buckets:   prometheus.ExponentialBuckets(.25, 2, 6),
	})
	metricBlocklistLength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cairndb",
		Name:      "blocklist_length",
		Help:      "Total number of blocks per tenant.",
	}, []string{"tenant"})
)

// Writer moves sealed blocks into the backend.
type Writer interface {
	WriteBlock(ctx context.Context, block wal.WriteableBlock) error
	CompleteBlock(block *wal.AppendBlock, combiner encoding.ObjectCombiner) (*wal.CompleteBlock, error)
	WAL() *wal.WAL
}

// Reader finds objects in backend blocks.
type Reader interface {
	Find(ctx context.Context, tenantID string, id encoding.ID) ([]byte, FindMetrics, error)
	Shutdown()
}

// Compactor turns on background compaction and retention.
type Compactor interface {
	EnableCompaction(ctx context.Context, cfg *CompactorConfig, combiner encoding.ObjectCombiner, overrides CompactorOverrides)
}

// CompactorOverrides supplies per-tenant settings to the compactor.
type CompactorOverrides interface {
	BlockRetentionForTenant(tenantID string) time.Duration
}

// FindMetrics counts the work done by a single Find call.  Jobs update it
// concurrently, hence the atomics.
type FindMetrics struct {
	IndexReads     *atomic.Int32
	IndexBytesRead *atomic.Int32
	BlockReads     *atomic.Int32
	BlockBytesRead *atomic.Int32
}

func newFindMetrics() FindMetrics {
	return FindMetrics{
		IndexReads:     atomic.NewInt32(0),
		IndexBytesRead: atomic.NewInt32(0),
		BlockReads:     atomic.NewInt32(0),
		BlockBytesRead: atomic.NewInt32(0),
	}
}

type readerWriter struct {
	r backend.Reader
	w backend.Writer
	c backend.Compactor

	wal  *wal.WAL
	pool *pool.Pool

	logger log.Logger
	cfg    *Config

	blocklist *blocklist

	compactorCfg       *CompactorConfig
	compactorCombiner  encoding.ObjectCombiner
	compactorOverrides CompactorOverrides
}

func New(cfg *Config, logger log.Logger) (Reader, Writer, Compactor, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, nil, nil, err
	}

	var err error
	var r backend.Reader
	var w backend.Writer
	var c backend.Compactor

	switch cfg.Backend {
	case "local":
		r, w, c, err = local.NewAll(cfg.Local)
	default:
		err = fmt.Errorf("unknown backend %s", cfg.Backend)
	}
	if err != nil {
		return nil, nil, nil, err
	}

	blockWAL, err := wal.New(cfg.WAL)
	if err != nil {
		return nil, nil, nil, err
	}

	rw := &readerWriter{
		r:         r,
		w:         w,
		c:         c,
		wal:       blockWAL,
		pool:      pool.NewPool(cfg.Pool),
		logger:    logger,
		cfg:       cfg,
		blocklist: newBlocklist(),
	}

	go rw.pollBlocklist()

	return rw, rw, rw, nil
}

func (rw *readerWriter) WriteBlock(ctx context.Context, block wal.WriteableBlock) error {
	indexBytes, err := encoding.MarshalRecords(block.Records())
	if err != nil {
		return err
	}

	err = rw.w.Write(ctx, block.BlockMeta(), indexBytes, block.ObjectFilePath())
	if err != nil {
		return err
	}

	block.Flushed(time.Now())

	return nil
}

func (rw *readerWriter) CompleteBlock(block *wal.AppendBlock, combiner encoding.ObjectCombiner) (*wal.CompleteBlock, error) {
	return rw.wal.CompleteBlock(block, combiner)
}

func (rw *readerWriter) WAL() *wal.WAL {
	return rw.wal
}

func (rw *readerWriter) Find(ctx context.Context, tenantID string, id encoding.ID) ([]byte, FindMetrics, error) {
	metrics := newFindMetrics()

	// only search blocks whose id range covers the target
	blocklist := rw.blocklist.Metas(tenantID)
	copiedBlocklist := make([]interface{}, 0, len(blocklist))
	for _, b := range blocklist {
		if bytes.Compare(id, b.MinID) >= 0 && bytes.Compare(id, b.MaxID) <= 0 {
			copiedBlocklist = append(copiedBlocklist, b)
		}
	}

	foundBytes, err := rw.pool.RunJobs(ctx, copiedBlocklist, func(ctx context.Context, payload interface{}) ([]byte, error) {
		meta := payload.(*encoding.BlockMeta)

		indexBytes, err := rw.r.Index(ctx, meta.BlockID, tenantID)
		metrics.IndexReads.Inc()
		metrics.IndexBytesRead.Add(int32(len(indexBytes)))
		if err != nil {
			return nil, err
		}

		records, err := encoding.UnmarshalRecords(indexBytes)
		if err != nil {
			return nil, err
		}

		codec, err := encoding.CodecFor(meta.Encoding)
		if err != nil {
			return nil, err
		}

		ra := newBackendReaderAt(ctx, rw.r, meta.BlockID, tenantID, &metrics)
		finder := encoding.NewFinder(records, ra, codec)

		return finder.Find(id)
	})

	return foundBytes, metrics, err
}

func (rw *readerWriter) Shutdown() {
	rw.pool.Shutdown()
	rw.r.Shutdown()
}

func (rw *readerWriter) EnableCompaction(ctx context.Context, cfg *CompactorConfig, combiner encoding.ObjectCombiner, overrides CompactorOverrides) {
	if cfg.ChunkSizeBytes == 0 {
		cfg.ChunkSizeBytes = DefaultChunkSizeBytes
	}
	if cfg.MaxCompactionRange == 0 {
		cfg.MaxCompactionRange = DefaultCompactionWindow
	}
	if cfg.MaxCompactionObjects == 0 {
		cfg.MaxCompactionObjects = DefaultMaxCompactionObjects
	}
	if cfg.RetentionConcurrency == 0 {
		cfg.RetentionConcurrency = DefaultRetentionConcurrency
	}

	rw.compactorCfg = cfg
	rw.compactorCombiner = combiner
	rw.compactorOverrides = overrides

	if rw.cfg.BlocklistPoll == 0 {
		level.Info(rw.logger).Log("msg", "blocklist poll is unset. compaction and retention disabled.")
		return
	}

	level.Info(rw.logger).Log("msg", "compaction and retention enabled.")
	go rw.compactionLoop(ctx)
	go rw.retentionLoop(ctx)
}

func (rw *readerWriter) pollBlocklist() {
	if rw.cfg.BlocklistPoll == 0 {
		level.Info(rw.logger).Log("msg", "blocklist poll is unset. querying of the backend disabled.")
		return
	}

	rw.doPoll()

	ticker := time.NewTicker(rw.cfg.BlocklistPoll)
	for range ticker.C {
		rw.doPoll()
	}
}

func (rw *readerWriter) doPoll() {
	start := time.Now()
	defer func() { metricBlocklistPollDuration.Observe(time.Since(start).Seconds()) }()

	metricBlocklistPoll.Inc()

	ctx := context.Background()

	tenants, err := rw.r.Tenants(ctx)
	if err != nil {
		metricBlocklistErrors.WithLabelValues("").Inc()
		level.Error(rw.logger).Log("msg", "error retrieving tenants while polling blocklist", "err", err)
		return
	}

	metas := make(map[string][]*encoding.BlockMeta, len(tenants))
	compactedMetas := make(map[string][]*encoding.CompactedBlockMeta, len(tenants))

	for _, tenantID := range tenants {
		m, cm, err := rw.pollTenant(ctx, tenantID)
		if err != nil {
			metricBlocklistErrors.WithLabelValues(tenantID).Inc()
			level.Error(rw.logger).Log("msg", "error polling tenant blocklist", "tenantID", tenantID, "err", err)
			continue
		}

		metricBlocklistLength.WithLabelValues(tenantID).Set(float64(len(m)))

		metas[tenantID] = m
		compactedMetas[tenantID] = cm
	}

	rw.blocklist.ApplyPollResults(metas, compactedMetas)
}

func (rw *readerWriter) pollTenant(ctx context.Context, tenantID string) ([]*encoding.BlockMeta, []*encoding.CompactedBlockMeta, error) {
	blockIDs, err := rw.r.Blocks(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}

	concurrency := rw.cfg.BlocklistPollConcurrency
	if concurrency == 0 {
		concurrency = DefaultBlocklistPollConcurrency
	}

	bg := boundedwaitgroup.New(concurrency)
	mtx := sync.Mutex{}
	blocklist := make([]*encoding.BlockMeta, 0, len(blockIDs))
	compactedBlocklist := make([]*encoding.CompactedBlockMeta, 0, len(blockIDs))

	for _, blockID := range blockIDs {
		bg.Add(1)
		go func(id uuid.UUID) {
			defer bg.Done()

			meta, err := rw.r.BlockMeta(ctx, id, tenantID)
			if err == nil {
				mtx.Lock()
				blocklist = append(blocklist, meta)
				mtx.Unlock()
				return
			}

			// if the regular meta is gone the block was probably
			// compacted or marked by retention
			if err == backend.ErrMetaDoesNotExist {
				compactedMeta, err := rw.c.CompactedBlockMeta(id, tenantID)
				if err == nil {
					mtx.Lock()
					compactedBlocklist = append(compactedBlocklist, compactedMeta)
					mtx.Unlock()
					return
				}
				if err == backend.ErrMetaDoesNotExist {
					// block is being deleted or was partially written.  skip it
					return
				}
			}

			metricBlocklistErrors.WithLabelValues(tenantID).Inc()
			level.Error(rw.logger).Log("msg", "failed to retrieve block meta", "tenantID", tenantID, "blockID", id, "err", err)
		}(blockID)
	}

	bg.Wait()

	return blocklist, compactedBlocklist, nil
}
