package gap

import (
	"context"
	"fmt"

	"github.com/raulk/clock"
	"golang.org/x/xerrors"

	"github.com/web3vx/aptos-indexer-processors/chain"
	"github.com/web3vx/aptos-indexer-processors/chain/commit"
	"github.com/web3vx/aptos-indexer-processors/chain/extract"
	"github.com/web3vx/aptos-indexer-processors/chain/project"
	"github.com/web3vx/aptos-indexer-processors/chain/walk"
	"github.com/web3vx/aptos-indexer-processors/lens"
	"github.com/web3vx/aptos-indexer-processors/metrics"
	"github.com/web3vx/aptos-indexer-processors/model/processor"
	"github.com/web3vx/aptos-indexer-processors/storage"
)

const fillerStateCacheSize = 1024

// Filler re-indexes the ranges recorded in gap_reports. Each gap is walked
// with its own cursor so an interrupted fill resumes where it stopped, and is
// marked FILLED once its walk completes.
type Filler struct {
	db        *storage.Database
	api       lens.API
	extractor *extract.Extractor
	name      string
	batchSize uint64
	clock     clock.Clock

	done chan struct{}
}

func NewFiller(db *storage.Database, api lens.API, extractor *extract.Extractor, name string, batchSize uint64, c clock.Clock) *Filler {
	if c == nil {
		c = clock.New()
	}
	if batchSize == 0 {
		batchSize = walk.WalkerDefaultBatchSize
	}
	return &Filler{
		db:        db,
		api:       api,
		extractor: extractor,
		name:      name,
		batchSize: batchSize,
		clock:     c,
	}
}

func (f *Filler) Run(ctx context.Context) error {
	f.done = make(chan struct{})
	defer close(f.done)

	ctx = metrics.WithTagValue(ctx, metrics.Job, "gap-fill")
	ctx = metrics.WithTagValue(ctx, metrics.Name, f.name)
	metrics.RecordInc(ctx, metrics.JobStart)

	gaps, err := f.unfilled(ctx)
	if err != nil {
		metrics.RecordInc(ctx, metrics.JobError)
		return err
	}
	log.Infow("filling gaps", "count", len(gaps))

	for _, g := range gaps {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := f.fillRange(ctx, g); err != nil {
			metrics.RecordInc(ctx, metrics.JobError)
			return xerrors.Errorf("fill gap [%d, %d]: %w", g.StartVersion, g.EndVersion, err)
		}
	}

	metrics.RecordInc(ctx, metrics.JobComplete)
	return nil
}

func (f *Filler) Done() <-chan struct{} {
	return f.done
}

// unfilled loads the gap ranges not yet marked FILLED.
func (f *Filler) unfilled(ctx context.Context) (processor.GapReportList, error) {
	var open processor.GapReportList
	err := f.db.AsORM().ModelContext(ctx, &open).
		Where("status = ?", processor.GapStatusGap).
		Order("start_version").
		Select()
	if err != nil {
		return nil, xerrors.Errorf("load gap reports: %w", err)
	}

	var filled processor.GapReportList
	err = f.db.AsORM().ModelContext(ctx, &filled).
		Where("status = ?", processor.GapStatusFilled).
		Select()
	if err != nil {
		return nil, xerrors.Errorf("load filled gap reports: %w", err)
	}
	done := make(map[versionRange]bool, len(filled))
	for _, g := range filled {
		done[versionRange{start: g.StartVersion, end: g.EndVersion}] = true
	}

	var out processor.GapReportList
	for _, g := range open {
		if !done[versionRange{start: g.StartVersion, end: g.EndVersion}] {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *Filler) fillRange(ctx context.Context, g *processor.GapReport) error {
	reader, err := project.NewDatabaseStateReader(f.db, fillerStateCacheSize)
	if err != nil {
		return err
	}
	projector := project.NewProjector(reader)

	// Each gap gets its own cursor row so a fill interrupted mid-range
	// resumes instead of restarting.
	jobName := fmt.Sprintf("%s_fill_%d_%d", f.name, g.StartVersion, g.EndVersion)
	cursor := commit.NewCursor(jobName, f.clock)
	version, found, err := cursor.Load(ctx, f.db)
	if err != nil {
		return err
	}
	guard := commit.NewGuardFromCursor(version, found, g.StartVersion)
	committer := commit.NewCommitter(f.db, cursor, guard, commit.WithInvalidator(reader.Invalidate))
	indexer := chain.NewRangeIndexer(f.api, f.extractor, projector, jobName, f.clock)

	walker := walk.NewWalker(f.api, indexer, committer, f.db, jobName, g.StartVersion, g.EndVersion,
		walk.WithBatchSize(f.batchSize),
		walk.WithClock(f.clock),
	)
	if err := walker.Run(ctx); err != nil {
		return err
	}

	return f.db.PersistBatch(ctx, &processor.GapReport{
		StartVersion: g.StartVersion,
		EndVersion:   g.EndVersion,
		Status:       processor.GapStatusFilled,
		Reporter:     f.name,
		ReportedAt:   f.clock.Now(),
	})
}
