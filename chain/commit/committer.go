package commit

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	logging "github.com/ipfs/go-log/v2"

	"github.com/web3vx/aptos-indexer-processors/metrics"
	"github.com/web3vx/aptos-indexer-processors/model"
	"github.com/web3vx/aptos-indexer-processors/storage"
)

var log = logging.Logger("processor/commit")

// A Batch is the projected output of one contiguous version range, ready to
// be made durable.
type Batch struct {
	StartVersion uint64
	EndVersion   uint64

	// Data holds the projected rows in persist order.
	Data model.PersistableList

	// TouchedWallets names wallets whose cached state must be invalidated
	// once the batch commits.
	TouchedWallets []string
}

// A Committer applies batches to the store in version order. Each batch's
// rows and the cursor advance land in a single storage transaction, so a
// crash between batches never leaves partial state: on restart the cursor
// names exactly the versions that are durable.
//
// Commit is not safe for concurrent use. The pipeline funnels all batches
// through one committer goroutine.
type Committer struct {
	store  model.Storage
	cursor *Cursor
	guard  *Guard

	// invalidate is called for each touched wallet after a successful
	// commit. May be nil.
	invalidate func(wallet string)

	maxElapsed time.Duration
}

type CommitterOption func(*Committer)

// WithInvalidator registers a cache invalidation hook run after each commit.
func WithInvalidator(fn func(wallet string)) CommitterOption {
	return func(c *Committer) {
		c.invalidate = fn
	}
}

// WithMaxRetryTime bounds how long a commit keeps retrying transient storage
// failures before giving up.
func WithMaxRetryTime(d time.Duration) CommitterOption {
	return func(c *Committer) {
		c.maxElapsed = d
	}
}

func NewCommitter(store model.Storage, cursor *Cursor, guard *Guard, opts ...CommitterOption) *Committer {
	c := &Committer{
		store:      store,
		cursor:     cursor,
		guard:      guard,
		maxElapsed: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Next is the version the committer expects the next batch to include.
func (c *Committer) Next() uint64 {
	return c.guard.Next()
}

// Commit makes a batch durable. Transient storage failures are retried with
// exponential backoff; any other failure, including a gap, is returned and
// the guard is left unadvanced so the caller halts rather than committing out
// of order.
func (c *Committer) Commit(ctx context.Context, b *Batch) error {
	ctx = metrics.WithTagValue(ctx, metrics.Name, c.cursor.Name)
	stop := metrics.Timer(ctx, metrics.CommitDuration)
	defer stop()

	stale, err := c.guard.Admit(b.StartVersion, b.EndVersion)
	if err != nil {
		metrics.RecordInc(ctx, metrics.GapsDetected)
		return err
	}
	if stale {
		log.Infow("dropping already committed batch", "start", b.StartVersion, "end", b.EndVersion, "cursor_next", c.guard.Next())
		return nil
	}

	persistables := make([]model.Persistable, 0, len(b.Data)+1)
	persistables = append(persistables, b.Data...)
	persistables = append(persistables, c.cursor.Row(b.EndVersion))

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxElapsed
	err = backoff.Retry(func() error {
		err := c.store.PersistBatch(ctx, persistables...)
		if err == nil {
			return nil
		}
		if storage.IsTransientError(err) {
			metrics.RecordInc(ctx, metrics.CommitRetry)
			log.Warnw("retrying batch commit after transient failure", "start", b.StartVersion, "end", b.EndVersion, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		metrics.RecordInc(ctx, metrics.PersistFailure)
		return err
	}

	c.guard.Advance(b.EndVersion)
	metrics.RecordGauge(ctx, metrics.CursorVersion, int64(b.EndVersion))
	metrics.RecordGauge(ctx, metrics.BatchSize, int64(b.EndVersion-b.StartVersion+1))

	if c.invalidate != nil {
		for _, wallet := range b.TouchedWallets {
			c.invalidate(wallet)
		}
	}

	log.Debugw("committed batch", "start", b.StartVersion, "end", b.EndVersion, "models", len(b.Data))
	return nil
}
