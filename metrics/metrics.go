package metrics

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var defaultMillisecondsDistribution = view.Distribution(0.01, 0.05, 0.1, 0.3, 0.6, 0.8, 1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50, 65, 80, 100, 130, 160, 200, 250, 300, 400, 500, 650, 800, 1000, 2000, 5000, 10000, 20000, 30000, 50000, 100000, 200000, 500000, 1000000)

var (
	Job, _   = tag.NewKey("job")   // name of job
	Name, _  = tag.NewKey("name")  // name of running instance of the processor
	Table, _ = tag.NewKey("table") // name of table data is persisted for
	Tag, _   = tag.NewKey("tag")   // event tag being extracted
)

var (
	ExtractDuration   = stats.Float64("extract_duration_ms", "Time taken to extract typed events from a transaction", stats.UnitMilliseconds)
	ProjectDuration   = stats.Float64("project_duration_ms", "Time taken to project typed events into upserts", stats.UnitMilliseconds)
	PersistDuration   = stats.Float64("persist_duration_ms", "Duration of a models persist operation", stats.UnitMilliseconds)
	CommitDuration    = stats.Float64("commit_duration_ms", "Duration of a batch commit transaction", stats.UnitMilliseconds)
	PersistModel      = stats.Int64("persist_model", "Number of models persisted", stats.UnitDimensionless)
	PersistFailure    = stats.Int64("persist_failure", "Number of persistence failures", stats.UnitDimensionless)
	CommitRetry       = stats.Int64("commit_retry", "Number of batch commits retried after a transient failure", stats.UnitDimensionless)
	EventsExtracted   = stats.Int64("events_extracted", "Number of typed events extracted", stats.UnitDimensionless)
	EventsSkipped     = stats.Int64("events_skipped", "Number of events skipped because their tag is not recognized", stats.UnitDimensionless)
	ProcessingFailure = stats.Int64("processing_failure", "Number of processing failures", stats.UnitDimensionless)
	GapsDetected      = stats.Int64("gaps_detected", "Number of version gaps detected between the source and the cursor", stats.UnitDimensionless)
	CursorVersion     = stats.Int64("cursor_version", "The last ledger version durably committed", stats.UnitDimensionless)
	WatchVersion      = stats.Int64("watch_version", "The latest ledger version seen by the watch job", stats.UnitDimensionless)
	BatchSize         = stats.Int64("batch_size", "Number of versions committed per batch", stats.UnitDimensionless)
	JobStart          = stats.Int64("job_start", "Number of jobs started", stats.UnitDimensionless)
	JobComplete       = stats.Int64("job_complete", "Number of jobs completed without error", stats.UnitDimensionless)
	JobError          = stats.Int64("job_error", "Number of jobs stopped due to a fatal error", stats.UnitDimensionless)
)

var DefaultViews = []*view.View{
	{
		Measure:     ExtractDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{Job},
	},
	{
		Measure:     ProjectDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{Job},
	},
	{
		Measure:     PersistDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{Job, Table},
	},
	{
		Measure:     CommitDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{Job},
	},
	{
		Name:        PersistModel.Name() + "_total",
		Measure:     PersistModel,
		Aggregation: view.Sum(),
		TagKeys:     []tag.Key{Job, Table},
	},
	{
		Name:        PersistFailure.Name() + "_total",
		Measure:     PersistFailure,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Job, Table},
	},
	{
		Name:        CommitRetry.Name() + "_total",
		Measure:     CommitRetry,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Job},
	},
	{
		Name:        EventsExtracted.Name() + "_total",
		Measure:     EventsExtracted,
		Aggregation: view.Sum(),
		TagKeys:     []tag.Key{Job, Tag},
	},
	{
		Name:        EventsSkipped.Name() + "_total",
		Measure:     EventsSkipped,
		Aggregation: view.Sum(),
		TagKeys:     []tag.Key{Job},
	},
	{
		Name:        ProcessingFailure.Name() + "_total",
		Measure:     ProcessingFailure,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Job},
	},
	{
		Name:        GapsDetected.Name() + "_total",
		Measure:     GapsDetected,
		Aggregation: view.Sum(),
		TagKeys:     []tag.Key{Job},
	},
	{
		Measure:     CursorVersion,
		Aggregation: view.LastValue(),
		TagKeys:     []tag.Key{Name},
	},
	{
		Measure:     WatchVersion,
		Aggregation: view.LastValue(),
		TagKeys:     []tag.Key{Job},
	},
	{
		Measure:     BatchSize,
		Aggregation: view.LastValue(),
		TagKeys:     []tag.Key{Job},
	},
	{
		Name:        JobStart.Name() + "_total",
		Measure:     JobStart,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Job},
	},
	{
		Name:        JobComplete.Name() + "_total",
		Measure:     JobComplete,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Job},
	},
	{
		Name:        JobError.Name() + "_total",
		Measure:     JobError,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Job},
	},
}

// SinceInMilliseconds returns the duration of time since the provided time as a float64.
func SinceInMilliseconds(startTime time.Time) float64 {
	return float64(time.Since(startTime).Nanoseconds()) / 1e6
}

// Timer is a function stopwatch, calling it starts the timer,
// calling the returned function will record the duration.
func Timer(ctx context.Context, m *stats.Float64Measure) func() {
	start := time.Now()
	return func() {
		stats.Record(ctx, m.M(SinceInMilliseconds(start)))
	}
}

// RecordInc is a convenience function that increments a counter.
func RecordInc(ctx context.Context, m *stats.Int64Measure) {
	stats.Record(ctx, m.M(1))
}

// RecordCount is a convenience function that increments a counter by a count.
func RecordCount(ctx context.Context, m *stats.Int64Measure, count int) {
	stats.Record(ctx, m.M(int64(count)))
}

// RecordGauge is a convenience function that sets the last value of a measure.
func RecordGauge(ctx context.Context, m *stats.Int64Measure, value int64) {
	stats.Record(ctx, m.M(value))
}

// WithTagValue is a convenience function that upserts the tag value in the given context.
func WithTagValue(ctx context.Context, k tag.Key, v string) context.Context {
	ctx, _ = tag.New(ctx, tag.Upsert(k, v))
	return ctx
}
