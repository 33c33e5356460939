package multisig

import (
	"context"
	"time"

	"go.opencensus.io/tag"

	"github.com/web3vx/aptos-indexer-processors/metrics"
	"github.com/web3vx/aptos-indexer-processors/model"
)

// SpamAsset is a globally keyed spam flag for an asset type. Independent of
// the wallet graph; the latest flag event wins.
type SpamAsset struct {
	tableName struct{} `pg:"spam_assets"` // nolint: structcheck

	Asset       string    `pg:",pk,notnull"`
	IsSpam      bool      `pg:",notnull,use_zero"`
	LastUpdated time.Time `pg:",notnull,use_zero"`
}

func (a *SpamAsset) Persist(ctx context.Context, s model.StorageBatch) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "spam_assets"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	metrics.RecordCount(ctx, metrics.PersistModel, 1)
	return s.PersistModel(ctx, a)
}

type SpamAssetList []*SpamAsset

func (al SpamAssetList) Persist(ctx context.Context, s model.StorageBatch) error {
	if len(al) == 0 {
		return nil
	}
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "spam_assets"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	metrics.RecordCount(ctx, metrics.PersistModel, len(al))
	return s.PersistModel(ctx, al)
}
