package chain

import (
	"context"
	"errors"
	"fmt"

	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/xerrors"

	"github.com/web3vx/aptos-indexer-processors/chain/commit"
	"github.com/web3vx/aptos-indexer-processors/chain/extract"
	"github.com/web3vx/aptos-indexer-processors/chain/project"
	"github.com/web3vx/aptos-indexer-processors/lens"
	"github.com/web3vx/aptos-indexer-processors/metrics"
	"github.com/web3vx/aptos-indexer-processors/model"
	"github.com/web3vx/aptos-indexer-processors/model/processor"
	"github.com/web3vx/aptos-indexer-processors/storage"
)

var log = logging.Logger("processor/chain")

// RangeIncompleteError reports that the source returned fewer versions than
// the requested range. The range cannot be committed; the caller retries once
// the source has caught up.
type RangeIncompleteError struct {
	Start, End uint64
	Missing    uint64
}

func (e *RangeIncompleteError) Error() string {
	return fmt.Sprintf("source did not return version %d of range [%d, %d]", e.Missing, e.Start, e.End)
}

// SourceError wraps a failure talking to the upstream node. Always
// retryable: the node being down or lagging says nothing about the data.
type SourceError struct {
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source: %v", e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// IsFatal reports whether an error contradicts already committed state or
// the event stream itself, and so cannot be repaired by retrying.
func IsFatal(err error) bool {
	var malformed *extract.MalformedEventError
	var inconsistent *project.ConsistencyError
	var gap *commit.GapError
	if errors.As(err, &malformed) || errors.As(err, &inconsistent) || errors.As(err, &gap) {
		return true
	}
	var incomplete *RangeIncompleteError
	var source *SourceError
	if errors.As(err, &incomplete) || errors.As(err, &source) {
		return false
	}
	if storage.IsTransientError(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// A commit that failed after the transient retries were exhausted is
	// not safe to skip past.
	return true
}

// A RangeIndexer turns a contiguous version range into a committable batch:
// it fetches the raw transactions, extracts their typed events, projects them
// against prior state and attaches a processing report. Commit order is the
// caller's responsibility.
type RangeIndexer struct {
	api       lens.API
	extractor *extract.Extractor
	projector *project.Projector
	name      string
	clock     clock.Clock
}

func NewRangeIndexer(api lens.API, extractor *extract.Extractor, projector *project.Projector, name string, c clock.Clock) *RangeIndexer {
	if c == nil {
		c = clock.New()
	}
	return &RangeIndexer{
		api:       api,
		extractor: extractor,
		projector: projector,
		name:      name,
		clock:     c,
	}
}

// Fetch retrieves and extracts the events of versions [start, end]. It is
// safe to call concurrently for disjoint ranges.
func (i *RangeIndexer) Fetch(ctx context.Context, start, end uint64) ([]extract.Event, error) {
	ctx, span := otel.Tracer("").Start(ctx, "RangeIndexer.Fetch")
	if span.IsRecording() {
		span.SetAttributes(
			attribute.Int64("start", int64(start)),
			attribute.Int64("end", int64(end)),
		)
	}
	defer span.End()

	txs, err := i.api.GetTransactions(ctx, start, end)
	if err != nil {
		return nil, &SourceError{Err: xerrors.Errorf("get transactions [%d, %d]: %w", start, end, err)}
	}

	// The source must return every version in the range. A hole here is a
	// source-side gap, not something to skip over.
	expected := start
	for _, tx := range txs {
		if tx.Version != expected {
			metrics.RecordInc(ctx, metrics.GapsDetected)
			return nil, &RangeIncompleteError{Start: start, End: end, Missing: expected}
		}
		expected++
	}
	if expected != end+1 {
		metrics.RecordInc(ctx, metrics.GapsDetected)
		return nil, &RangeIncompleteError{Start: start, End: end, Missing: expected}
	}

	var events []extract.Event
	for _, tx := range txs {
		evs, err := i.extractor.Transaction(ctx, tx)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		events = append(events, evs...)
	}
	return events, nil
}

// Project folds already extracted events into a committable batch. Projection
// reads prior state, so batches must be projected in version order; this
// method is not safe for concurrent use.
func (i *RangeIndexer) Project(ctx context.Context, start, end uint64, events []extract.Event) (*commit.Batch, error) {
	ctx, span := otel.Tracer("").Start(ctx, "RangeIndexer.Project")
	defer span.End()

	startedAt := i.clock.Now()
	res, err := i.projector.Project(ctx, events)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	report := &processor.ProcessingReport{
		StartVersion: start,
		EndVersion:   end,
		Reporter:     i.name,
		StartedAt:    startedAt,
		CompletedAt:  i.clock.Now(),
		Status:       processor.ProcessingStatusOK,
	}

	data := append(model.PersistableList{}, res.Data...)
	data = append(data, report)

	return &commit.Batch{
		StartVersion:   start,
		EndVersion:     end,
		Data:           data,
		TouchedWallets: res.TouchedWallets,
	}, nil
}

// IndexRange fetches, extracts and projects a range in one step. Used by jobs
// that process ranges strictly serially.
func (i *RangeIndexer) IndexRange(ctx context.Context, start, end uint64) (*commit.Batch, error) {
	events, err := i.Fetch(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return i.Project(ctx, start, end, events)
}

// ErrorReport builds a processing report recording a fatal failure over a
// range. It is persisted outside the failed batch's transaction.
func (i *RangeIndexer) ErrorReport(start, end uint64, err error) *processor.ProcessingReport {
	now := i.clock.Now()
	return &processor.ProcessingReport{
		StartVersion:      start,
		EndVersion:        end,
		Reporter:          i.name,
		StartedAt:         now,
		CompletedAt:       now,
		Status:            processor.ProcessingStatusError,
		StatusInformation: err.Error(),
	}
}

// Name is the reporter name the indexer stamps on its processing reports.
func (i *RangeIndexer) Name() string {
	return i.name
}
