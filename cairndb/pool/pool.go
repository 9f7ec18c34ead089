package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
)

const queueLengthReportDuration = 15 * time.Second

var (
	metricQueryQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cairndb",
		Name:      "query_queue_length",
		Help:      "Current length of the query queue.",
	})
	metricQueryQueueMax = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cairndb",
		Name:      "query_queue_max",
		Help:      "Maximum number of items in the query queue.",
	})
)

// JobFunc is run once per payload.  The first job to return a non-nil slice
// wins and the remaining jobs for that batch are skipped.
type JobFunc func(ctx context.Context, payload interface{}) ([]byte, error)

type job struct {
	ctx     context.Context
	payload interface{}
	fn      JobFunc

	wg      *sync.WaitGroup
	results chan []byte
	stopped *atomic.Bool
	err     *atomic.Error
}

type Pool struct {
	cfg  *Config
	size *atomic.Int32

	workQueue  chan *job
	shutdownCh chan struct{}
}

func NewPool(cfg *Config) *Pool {
	if cfg == nil {
		cfg = defaultConfig()
	}

	q := make(chan *job, cfg.QueueDepth)
	p := &Pool{
		cfg:        cfg,
		workQueue:  q,
		size:       atomic.NewInt32(0),
		shutdownCh: make(chan struct{}),
	}

	for i := 0; i < cfg.MaxWorkers; i++ {
		go p.worker(q)
	}

	p.reportQueueLength()

	metricQueryQueueMax.Set(float64(cfg.QueueDepth))

	return p
}

func (p *Pool) RunJobs(ctx context.Context, payloads []interface{}, fn JobFunc) ([]byte, error) {
	totalJobs := len(payloads)

	// sanity check before we even attempt to start adding jobs
	if int(p.size.Load())+totalJobs > p.cfg.QueueDepth {
		return nil, fmt.Errorf("queue doesn't have room for %d jobs", len(payloads))
	}

	results := make(chan []byte, 1)
	wg := &sync.WaitGroup{}
	stopped := atomic.NewBool(false)
	err := atomic.NewError(nil)

	wg.Add(totalJobs)
	// add each job one at a time.  even though we checked length above these
	// might still fail
	for _, payload := range payloads {
		j := &job{
			ctx:     ctx,
			fn:      fn,
			payload: payload,
			wg:      wg,
			results: results,
			stopped: stopped,
			err:     err,
		}

		select {
		case p.workQueue <- j:
			p.size.Inc()
		default:
			stopped.Store(true)
			return nil, fmt.Errorf("failed to add a job to work queue")
		}
	}

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()

	select {
	case msg := <-results:
		wg.Done()
		stopped.Store(true)
		return msg, nil
	case <-allDone:
		return nil, err.Load()
	case <-ctx.Done():
		stopped.Store(true)
		return nil, ctx.Err()
	}
}

func (p *Pool) Shutdown() {
	close(p.workQueue)
	close(p.shutdownCh)
}

func (p *Pool) worker(j <-chan *job) {
	for job := range j {
		p.size.Dec()

		if job.stopped.Load() {
			job.wg.Done()
			continue
		}

		msg, err := job.fn(job.ctx, job.payload)

		if msg != nil {
			select {
			case job.results <- msg:
				// not signalling done here to dodge a race between the
				// results chan and the done chan
				continue
			default:
			}
		}
		if err != nil {
			job.err.Store(err)
		}
		job.wg.Done()
	}
}

func (p *Pool) reportQueueLength() {
	ticker := time.NewTicker(queueLengthReportDuration)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metricQueryQueueLength.Set(float64(p.size.Load()))
			case <-p.shutdownCh:
				return
			}
		}
	}()
}
