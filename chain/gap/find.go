package gap

import (
	"context"
	"sort"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"golang.org/x/xerrors"

	"github.com/web3vx/aptos-indexer-processors/metrics"
	"github.com/web3vx/aptos-indexer-processors/model/processor"
	"github.com/web3vx/aptos-indexer-processors/storage"
)

var log = logging.Logger("processor/gap")

// Finder scans processing_reports for versions in [minVersion, maxVersion]
// not covered by any successful report and records them as gap reports for a
// later fill job.
type Finder struct {
	db         *storage.Database
	name       string
	minVersion uint64
	maxVersion uint64
	clock      clock.Clock

	done chan struct{}
}

func NewFinder(db *storage.Database, name string, minVersion, maxVersion uint64, c clock.Clock) *Finder {
	if c == nil {
		c = clock.New()
	}
	return &Finder{
		db:         db,
		name:       name,
		minVersion: minVersion,
		maxVersion: maxVersion,
		clock:      c,
	}
}

// Run finds the gaps and persists them. Ranges already recorded as gaps are
// deduplicated by the gap_reports primary key.
func (f *Finder) Run(ctx context.Context) error {
	f.done = make(chan struct{})
	defer close(f.done)

	ctx = metrics.WithTagValue(ctx, metrics.Job, "gap-find")
	ctx = metrics.WithTagValue(ctx, metrics.Name, f.name)
	metrics.RecordInc(ctx, metrics.JobStart)

	gaps, err := f.Find(ctx)
	if err != nil {
		metrics.RecordInc(ctx, metrics.JobError)
		return err
	}
	if len(gaps) == 0 {
		log.Infow("no gaps found", "min", f.minVersion, "max", f.maxVersion)
		metrics.RecordInc(ctx, metrics.JobComplete)
		return nil
	}

	if err := f.db.PersistBatch(ctx, gaps); err != nil {
		metrics.RecordInc(ctx, metrics.JobError)
		return xerrors.Errorf("persist gap reports: %w", err)
	}
	metrics.RecordCount(ctx, metrics.GapsDetected, len(gaps))
	metrics.RecordInc(ctx, metrics.JobComplete)
	log.Infow("found gaps", "count", len(gaps), "min", f.minVersion, "max", f.maxVersion)
	return nil
}

func (f *Finder) Done() <-chan struct{} {
	return f.done
}

// Find computes the uncovered sub-ranges of [minVersion, maxVersion] from
// the successful processing reports.
func (f *Finder) Find(ctx context.Context) (processor.GapReportList, error) {
	var reports []processor.ProcessingReport
	err := f.db.AsORM().ModelContext(ctx, &reports).
		Where("status IN (?, ?)", processor.ProcessingStatusOK, processor.ProcessingStatusInfo).
		Where("end_version >= ?", f.minVersion).
		Where("start_version <= ?", f.maxVersion).
		Order("start_version").
		Select()
	if err != nil {
		return nil, xerrors.Errorf("load processing reports: %w", err)
	}

	covered := mergeRanges(reports)
	now := f.clock.Now()

	var gaps processor.GapReportList
	next := f.minVersion
	for _, r := range covered {
		if r.start > next {
			gaps = append(gaps, f.report(next, r.start-1, now))
		}
		if r.end+1 > next {
			next = r.end + 1
		}
		if next > f.maxVersion {
			break
		}
	}
	if next <= f.maxVersion {
		gaps = append(gaps, f.report(next, f.maxVersion, now))
	}
	return gaps, nil
}

func (f *Finder) report(start, end uint64, now time.Time) *processor.GapReport {
	return &processor.GapReport{
		StartVersion: start,
		EndVersion:   end,
		Status:       processor.GapStatusGap,
		Reporter:     f.name,
		ReportedAt:   now,
	}
}

type versionRange struct {
	start, end uint64
}

// mergeRanges collapses overlapping and adjacent report ranges into a sorted
// minimal set.
func mergeRanges(reports []processor.ProcessingReport) []versionRange {
	if len(reports) == 0 {
		return nil
	}
	ranges := make([]versionRange, len(reports))
	for i, r := range reports {
		ranges[i] = versionRange{start: r.StartVersion, end: r.EndVersion}
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })

	merged := ranges[:1]
	for _, r := range ranges[1:] {
		last := &merged[len(merged)-1]
		if r.start <= last.end+1 {
			if r.end > last.end {
				last.end = r.end
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}
