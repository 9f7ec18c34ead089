package cairndb

import (
	"context"
	"time"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cairndb/cairn/cairndb/encoding"
	"github.com/cairndb/cairn/pkg/boundedwaitgroup"
)

var (
	metricRetentionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cairndb",
		Name:      "retention_duration_seconds",
		Help:      "Records the amount of time to perform retention for a tenant.",
		Buckets:   prometheus.ExponentialBuckets(.25, 2, 6),
	})
	metricRetentionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cairndb",
		Name:      "retention_errors_total",
		Help:      "Total number of times an error occurred while performing retention.",
	})
	metricMarkedForDeletion = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cairndb",
		Name:      "retention_marked_for_deletion_total",
		Help:      "Total number of blocks marked for deletion.",
	})
	metricDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cairndb",
		Name:      "retention_deleted_total",
		Help:      "Total number of blocks deleted.",
	})
)

func (rw *readerWriter) retentionLoop(ctx context.Context) {
	ticker := time.NewTicker(rw.cfg.BlocklistPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rw.doRetention(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (rw *readerWriter) doRetention(ctx context.Context) {
	tenants := rw.blocklist.Tenants()

	bg := boundedwaitgroup.New(rw.compactorCfg.RetentionConcurrency)

	for _, tenantID := range tenants {
		bg.Add(1)
		go func(t string) {
			defer bg.Done()

			rw.retainTenant(ctx, t)
		}(tenantID)
	}

	bg.Wait()
}

func (rw *readerWriter) retainTenant(ctx context.Context, tenantID string) {
	start := time.Now()
	defer func() { metricRetentionDuration.Observe(time.Since(start).Seconds()) }()

	retention := rw.compactorCfg.BlockRetention
	if r := rw.compactorOverrides.BlockRetentionForTenant(tenantID); r != 0 {
		retention = r
	}
	level.Debug(rw.logger).Log("msg", "performing block retention", "tenantID", tenantID, "retention", retention)

	// mark anything past retention compacted so it drops out of the
	// active blocklist
	cutoff := time.Now().Add(-retention)
	blocklist := rw.blocklist.Metas(tenantID)
	for _, b := range blocklist {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !b.EndTime.Before(cutoff) {
			continue
		}

		level.Info(rw.logger).Log("msg", "marking block for deletion", "blockID", b.BlockID, "tenantID", tenantID)
		err := rw.c.MarkBlockCompacted(b.BlockID, tenantID)
		if err != nil {
			level.Error(rw.logger).Log("msg", "failed to mark block compacted during retention", "blockID", b.BlockID, "tenantID", tenantID, "err", err)
			metricRetentionErrors.Inc()
			continue
		}
		metricMarkedForDeletion.Inc()

		rw.blocklist.Update(tenantID, nil, []*encoding.BlockMeta{b}, []*encoding.CompactedBlockMeta{
			{
				BlockMeta:     *b,
				CompactedTime: time.Now(),
			},
		}, nil)
	}

	// physically delete compacted blocks once they age out
	cutoff = time.Now().Add(-rw.compactorCfg.CompactedBlockRetention)
	compactedBlocklist := rw.blocklist.CompactedMetas(tenantID)
	for _, b := range compactedBlocklist {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !b.CompactedTime.Before(cutoff) {
			continue
		}

		level.Info(rw.logger).Log("msg", "deleting block", "blockID", b.BlockID, "tenantID", tenantID)
		err := rw.c.ClearBlock(b.BlockID, tenantID)
		if err != nil {
			level.Error(rw.logger).Log("msg", "failed to clear compacted block during retention", "blockID", b.BlockID, "tenantID", tenantID, "err", err)
			metricRetentionErrors.Inc()
			continue
		}
		metricDeleted.Inc()

		rw.blocklist.Update(tenantID, nil, nil, nil, []*encoding.CompactedBlockMeta{b})
	}
}
