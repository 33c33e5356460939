package processor

import (
	"context"
	"time"

	"go.opencensus.io/tag"

	"github.com/web3vx/aptos-indexer-processors/metrics"
	"github.com/web3vx/aptos-indexer-processors/model"
)

// Status is the version cursor for a named processor: the last ledger version
// whose batch was durably committed. It is written in the same transaction as
// the batch's data so that advancing the cursor is indistinguishable from the
// whole batch having applied.
type Status struct {
	tableName struct{} `pg:"processor_status"` // nolint: structcheck

	Processor          string    `pg:",pk,notnull"`
	LastSuccessVersion uint64    `pg:",notnull,use_zero"`
	LastUpdated        time.Time `pg:",notnull,use_zero"`
}

func (s *Status) Persist(ctx context.Context, sb model.StorageBatch) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "processor_status"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	metrics.RecordCount(ctx, metrics.PersistModel, 1)
	return sb.PersistModel(ctx, s)
}
