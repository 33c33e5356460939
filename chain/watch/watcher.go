package watch

import (
	"context"
	"time"

	"github.com/gammazero/workerpool"
	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"

	"github.com/web3vx/aptos-indexer-processors/chain"
	"github.com/web3vx/aptos-indexer-processors/chain/commit"
	"github.com/web3vx/aptos-indexer-processors/chain/extract"
	"github.com/web3vx/aptos-indexer-processors/lens"
	"github.com/web3vx/aptos-indexer-processors/metrics"
	"github.com/web3vx/aptos-indexer-processors/model"
)

var log = logging.Logger("processor/watch")

var (
	WatcherDefaultBatchSize    = uint64(100)
	WatcherDefaultPollInterval = time.Second
	WatcherDefaultFetchers     = 4
)

type WatcherOpt func(w *Watcher)

// WithBatchSize caps the number of versions per committed batch.
func WithBatchSize(n uint64) WatcherOpt {
	return func(w *Watcher) {
		w.batchSize = n
	}
}

// WithPollInterval sets how long the watcher sleeps when it has caught up
// with the source head.
func WithPollInterval(d time.Duration) WatcherOpt {
	return func(w *Watcher) {
		w.pollInterval = d
	}
}

// WithConcurrentFetchers sets how many sub-ranges are fetched and extracted
// in parallel. Projection and commit stay serialized in version order.
func WithConcurrentFetchers(n int) WatcherOpt {
	return func(w *Watcher) {
		w.poolSize = n
	}
}

func WithClock(c clock.Clock) WatcherOpt {
	return func(w *Watcher) {
		w.clock = c
	}
}

// Watcher is a job that indexes the ledger by following its head: it polls
// the source for the latest finalized version and indexes forward from the
// cursor in bounded batches.
type Watcher struct {
	api       lens.API
	indexer   *chain.RangeIndexer
	committer *commit.Committer
	store     model.Storage
	name      string

	batchSize    uint64
	pollInterval time.Duration
	poolSize     int
	clock        clock.Clock

	pool *workerpool.WorkerPool
	done chan struct{}
}

func NewWatcher(api lens.API, indexer *chain.RangeIndexer, committer *commit.Committer, store model.Storage, name string, opts ...WatcherOpt) *Watcher {
	w := &Watcher{
		api:       api,
		indexer:   indexer,
		committer: committer,
		store:     store,
		name:      name,

		batchSize:    WatcherDefaultBatchSize,
		pollInterval: WatcherDefaultPollInterval,
		poolSize:     WatcherDefaultFetchers,
		clock:        clock.New(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run follows the head until the context is done or a fatal error halts
// ingestion. Transient source and storage failures are retried on the next
// poll cycle; the cursor guarantees no version is skipped across retries.
func (w *Watcher) Run(ctx context.Context) error {
	w.done = make(chan struct{})
	defer close(w.done)

	w.pool = workerpool.New(w.poolSize)
	defer w.pool.Stop()

	ctx = metrics.WithTagValue(ctx, metrics.Job, "watch")
	ctx = metrics.WithTagValue(ctx, metrics.Name, w.name)
	metrics.RecordInc(ctx, metrics.JobStart)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		head, err := w.api.LatestVersion(ctx)
		if err != nil {
			log.Warnw("failed to read source head", "error", err)
			if err := w.sleep(ctx); err != nil {
				return err
			}
			continue
		}
		metrics.RecordGauge(ctx, metrics.WatchVersion, int64(head))

		next := w.committer.Next()
		if head < next {
			if err := w.sleep(ctx); err != nil {
				return err
			}
			continue
		}

		if err := w.indexForward(ctx, next, head); err != nil {
			if chain.IsFatal(err) {
				w.reportFailure(ctx, next, head, err)
				metrics.RecordInc(ctx, metrics.JobError)
				return err
			}
			log.Warnw("index cycle failed, will retry", "start", next, "end", head, "error", err)
			if err := w.sleep(ctx); err != nil {
				return err
			}
		}
	}
}

// Done is closed when Run returns.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

type fetchResult struct {
	start  uint64
	end    uint64
	events []extract.Event
	err    error
}

// indexForward indexes [start, head] in batchSize chunks. Fetching and
// extraction run on the worker pool; projection and commit consume the
// results strictly in version order.
func (w *Watcher) indexForward(ctx context.Context, start, head uint64) error {
	var slots []chan fetchResult
	for lo := start; lo <= head; lo += w.batchSize {
		hi := lo + w.batchSize - 1
		if hi > head {
			hi = head
		}
		lo, hi := lo, hi
		slot := make(chan fetchResult, 1)
		slots = append(slots, slot)
		w.pool.Submit(func() {
			events, err := w.indexer.Fetch(ctx, lo, hi)
			slot <- fetchResult{start: lo, end: hi, events: events, err: err}
		})
	}

	for _, slot := range slots {
		var res fetchResult
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res = <-slot:
		}
		if res.err != nil {
			return res.err
		}

		batch, err := w.indexer.Project(ctx, res.start, res.end, res.events)
		if err != nil {
			return err
		}
		if err := w.committer.Commit(ctx, batch); err != nil {
			return err
		}
		log.Infow("indexed batch", "start", res.start, "end", res.end, "reporter", w.name)
	}
	return nil
}

func (w *Watcher) sleep(ctx context.Context) error {
	t := w.clock.Timer(w.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// reportFailure records a fatal failure as an error report, outside the
// failed batch's transaction. Best effort: the job is halting anyway.
func (w *Watcher) reportFailure(ctx context.Context, start, end uint64, cause error) {
	report := w.indexer.ErrorReport(start, end, cause)
	if err := w.store.PersistBatch(ctx, report); err != nil {
		log.Errorw("failed to persist error report", "start", start, "end", end, "error", err)
	}
}

