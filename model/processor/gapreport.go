package processor

import (
	"context"
	"time"

	"go.opencensus.io/tag"

	"github.com/web3vx/aptos-indexer-processors/metrics"
	"github.com/web3vx/aptos-indexer-processors/model"
)

const (
	GapStatusGap    = "GAP"
	GapStatusFilled = "FILLED"
)

// GapReport records a version range that was found to be missing or errored
// in the processing_reports table, to be refilled by a gap fill job.
type GapReport struct {
	//lint:ignore U1000 tableName is a convention used by go-pg
	tableName struct{} `pg:"gap_reports"`

	StartVersion uint64 `pg:",pk,use_zero"`
	EndVersion   uint64 `pg:",pk,use_zero"`
	Status       string `pg:",pk,notnull"`

	// Reporter is the name of the instance that is reporting the gap
	Reporter   string    `pg:",notnull"`
	ReportedAt time.Time `pg:",use_zero"`
}

func (p *GapReport) Persist(ctx context.Context, s model.StorageBatch) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "gap_reports"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	metrics.RecordCount(ctx, metrics.PersistModel, 1)
	return s.PersistModel(ctx, p)
}

type GapReportList []*GapReport

func (pl GapReportList) Persist(ctx context.Context, s model.StorageBatch) error {
	if len(pl) == 0 {
		return nil
	}
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "gap_reports"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	metrics.RecordCount(ctx, metrics.PersistModel, len(pl))
	return s.PersistModel(ctx, pl)
}
