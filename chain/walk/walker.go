package walk

import (
	"context"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/xerrors"

	"github.com/web3vx/aptos-indexer-processors/chain"
	"github.com/web3vx/aptos-indexer-processors/chain/commit"
	"github.com/web3vx/aptos-indexer-processors/lens"
	"github.com/web3vx/aptos-indexer-processors/metrics"
	"github.com/web3vx/aptos-indexer-processors/model"
)

var log = logging.Logger("processor/walk")

var (
	WalkerDefaultBatchSize     = uint64(100)
	WalkerDefaultRetryInterval = 5 * time.Second
)

type WalkerOpt func(w *Walker)

func WithBatchSize(n uint64) WalkerOpt {
	return func(w *Walker) {
		w.batchSize = n
	}
}

// WithRetryInterval sets how long the walker waits before retrying a range
// the source could not yet serve.
func WithRetryInterval(d time.Duration) WalkerOpt {
	return func(w *Walker) {
		w.retryInterval = d
	}
}

func WithClock(c clock.Clock) WalkerOpt {
	return func(w *Walker) {
		w.clock = c
	}
}

// Walker is a job that indexes a fixed version range, oldest first. It is
// used for backfills and for re-indexing gap ranges; the upsert policies make
// walking over already indexed versions safe.
type Walker struct {
	api        lens.API
	indexer    *chain.RangeIndexer
	committer  *commit.Committer
	store      model.Storage
	name       string
	minVersion uint64
	maxVersion uint64

	batchSize     uint64
	retryInterval time.Duration
	clock         clock.Clock

	done chan struct{}
}

func NewWalker(api lens.API, indexer *chain.RangeIndexer, committer *commit.Committer, store model.Storage, name string, minVersion, maxVersion uint64, opts ...WalkerOpt) *Walker {
	w := &Walker{
		api:        api,
		indexer:    indexer,
		committer:  committer,
		store:      store,
		name:       name,
		minVersion: minVersion,
		maxVersion: maxVersion,

		batchSize:     WalkerDefaultBatchSize,
		retryInterval: WalkerDefaultRetryInterval,
		clock:         clock.New(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run walks the range and returns when it has been fully committed, the
// context is done, or a fatal error halts the walk.
func (w *Walker) Run(ctx context.Context) error {
	w.done = make(chan struct{})
	defer close(w.done)

	ctx = metrics.WithTagValue(ctx, metrics.Job, "walk")
	ctx = metrics.WithTagValue(ctx, metrics.Name, w.name)
	metrics.RecordInc(ctx, metrics.JobStart)

	ctx, span := otel.Tracer("").Start(ctx, "Walker.Run")
	if span.IsRecording() {
		span.SetAttributes(
			attribute.Int64("min_version", int64(w.minVersion)),
			attribute.Int64("max_version", int64(w.maxVersion)),
		)
	}
	defer span.End()

	if w.maxVersion < w.minVersion {
		return xerrors.Errorf("invalid walk range [%d, %d]", w.minVersion, w.maxVersion)
	}

	head, err := w.api.LatestVersion(ctx)
	if err != nil {
		return xerrors.Errorf("get source head: %w", err)
	}
	if head < w.maxVersion {
		return xerrors.Errorf("cannot walk to version %d, source head is %d", w.maxVersion, head)
	}

	// The committer's guard tracks progress, so a walk resumed after a
	// restart skips what it already committed.
	for w.committer.Next() <= w.maxVersion {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lo := w.committer.Next()
		if lo < w.minVersion {
			lo = w.minVersion
		}
		hi := lo + w.batchSize - 1
		if hi > w.maxVersion {
			hi = w.maxVersion
		}

		batch, err := w.indexer.IndexRange(ctx, lo, hi)
		if err == nil {
			err = w.committer.Commit(ctx, batch)
		}
		if err != nil {
			if chain.IsFatal(err) {
				span.RecordError(err)
				w.reportFailure(ctx, lo, hi, err)
				metrics.RecordInc(ctx, metrics.JobError)
				return err
			}
			log.Warnw("walk batch failed, will retry", "start", lo, "end", hi, "error", err)
			if err := w.sleep(ctx); err != nil {
				return err
			}
			continue
		}
		log.Infow("walked batch", "start", lo, "end", hi, "reporter", w.name)
	}

	metrics.RecordInc(ctx, metrics.JobComplete)
	return nil
}

// Done is closed when Run returns.
func (w *Walker) Done() <-chan struct{} {
	return w.done
}

func (w *Walker) sleep(ctx context.Context) error {
	t := w.clock.Timer(w.retryInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (w *Walker) reportFailure(ctx context.Context, start, end uint64, cause error) {
	report := w.indexer.ErrorReport(start, end, cause)
	if err := w.store.PersistBatch(ctx, report); err != nil {
		log.Errorw("failed to persist error report", "start", start, "end", end, "error", err)
	}
}
