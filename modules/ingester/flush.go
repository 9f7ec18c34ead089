package ingester

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/grafana/dskit/user"

	"github.com/cairndb/cairn/pkg/util/log"
)

var (
	metricBlocksFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cairn",
		Name:      "ingester_blocks_flushed_total",
		Help:      "The total number of blocks flushed",
	})
	metricFailedFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cairn",
		Name:      "ingester_failed_flushes_total",
		Help:      "The total number of failed flushes",
	})
	metricFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cairn",
		Name:      "ingester_flush_duration_seconds",
		Help:      "Records the amount of time to flush a complete block.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})
)

const (
	// Backoff for retrying 'immediate' flushes. Only counts for queue
	// position, not wallclock time.
	flushBackoff = 1 * time.Second
)

// Flush triggers a flush of all in memory traces to disk.  This is called
// on shutdown and will put our traces in the WAL to be replayed.
func (i *Ingester) Flush() {
	instances := i.getInstances()

	for _, instance := range instances {
		err := instance.CutCompleteTraces(0, true)
		if err != nil {
			level.Error(log.Logger).Log("msg", "failed to cut complete traces on shutdown", "tenant", instance.instanceID, "err", err)
		}
	}
}

// FlushHandler triggers a flush of all in memory traces.  Mainly used for
// local testing.
func (i *Ingester) FlushHandler(w http.ResponseWriter, _ *http.Request) {
	i.sweepUsers(true)
	w.WriteHeader(http.StatusNoContent)
}

type flushOp struct {
	from   int64
	userID string
}

func (o *flushOp) Key() string {
	return o.userID
}

func (o *flushOp) Priority() int64 {
	return -o.from
}

// sweepUsers periodically schedules traces for flushing and garbage collects
// instances with no traces
func (i *Ingester) sweepUsers(immediate bool) {
	instances := i.getInstances()

	for _, instance := range instances {
		i.sweepInstance(instance, immediate)
	}
}

func (i *Ingester) sweepInstance(instance *instance, immediate bool) {
	// cut traces internally
	err := instance.CutCompleteTraces(i.cfg.MaxTraceIdle, immediate)
	if err != nil {
		level.Error(log.Logger).Log("msg", "failed to cut traces", "tenant", instance.instanceID, "err", err)
		return
	}

	// see if it's ready to cut a block
	blockID, err := instance.CutBlockIfReady(i.cfg.MaxBlockDuration, i.cfg.MaxBlockBytes, immediate)
	if err != nil {
		level.Error(log.Logger).Log("msg", "failed to cut block", "tenant", instance.instanceID, "err", err)
		return
	}

	if blockID != uuid.Nil {
		err = instance.CompleteBlock(blockID)
		if err != nil {
			level.Error(log.Logger).Log("msg", "failed to complete block", "tenant", instance.instanceID, "block", blockID.String(), "err", err)
			return
		}
	}

	// dump any blocks that have been flushed for awhile
	err = instance.ClearFlushedBlocks(i.cfg.CompleteBlockTimeout)
	if err != nil {
		level.Error(log.Logger).Log("msg", "failed to clear flushed blocks", "tenant", instance.instanceID, "err", err)
	}

	// see if any complete blocks are ready to be flushed
	if instance.GetBlockToBeFlushed() != nil {
		err = i.flushQueues.Enqueue(&flushOp{
			from:   time.Now().Unix(),
			userID: instance.instanceID,
		})
		if err != nil {
			level.Error(log.Logger).Log("msg", "failed to enqueue flush op", "tenant", instance.instanceID, "err", err)
		}
	}
}

func (i *Ingester) flushLoop(j int) {
	defer func() {
		level.Debug(log.Logger).Log("msg", "Ingester.flushLoop() exited")
		i.flushQueuesDone.Done()
	}()

	for {
		o := i.flushQueues.Dequeue(j)
		if o == nil {
			return
		}
		op := o.(*flushOp)

		err := i.flushUserTraces(op.userID)
		if err != nil {
			level.Error(log.Logger).Log("msg", "failed to flush user", "tenant", op.userID, "err", err)

			// re-queue failed flush
			op.from += int64(flushBackoff)
			if err = i.flushQueues.Requeue(op); err != nil {
				level.Error(log.Logger).Log("msg", "failed to requeue flush op", "tenant", op.userID, "err", err)
			}
			continue
		}

		i.flushQueues.Clear(op)
	}
}

func (i *Ingester) flushUserTraces(userID string) error {
	instance, err := i.getOrCreateInstance(userID)
	if err != nil {
		return err
	}

	if instance == nil {
		return fmt.Errorf("instance id %s not found", userID)
	}

	for {
		block := instance.GetBlockToBeFlushed()
		if block == nil {
			break
		}

		ctx := user.InjectOrgID(context.Background(), userID)
		ctx, cancel := context.WithTimeout(ctx, i.cfg.FlushOpTimeout)

		start := time.Now()
		err = i.store.WriteBlock(ctx, block)
		cancel()
		metricFlushDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metricFailedFlushes.Inc()
			return err
		}
		metricBlocksFlushed.Inc()

		// the wal file for this block is no longer needed
		err = instance.ClearCompletingBlock(block.BlockMeta().BlockID)
		if err != nil {
			return err
		}
	}

	return nil
}
