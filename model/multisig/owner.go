package multisig

import (
	"context"
	"time"

	"go.opencensus.io/tag"

	"github.com/web3vx/aptos-indexer-processors/metrics"
	"github.com/web3vx/aptos-indexer-processors/model"
)

// MultisigOwner is a globally keyed owner identity. Owners are append-only:
// the row is inserted the first time the address appears in any wallet and
// never mutated or removed.
type MultisigOwner struct {
	tableName struct{} `pg:"multisig_owners"` // nolint: structcheck

	OwnerAddress string    `pg:",pk,notnull"`
	CreatedAt    time.Time `pg:",notnull,use_zero"`
}

func (o *MultisigOwner) Persist(ctx context.Context, s model.StorageBatch) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "multisig_owners"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	metrics.RecordCount(ctx, metrics.PersistModel, 1)
	return s.PersistModel(ctx, o)
}

type MultisigOwnerList []*MultisigOwner

func (ol MultisigOwnerList) Persist(ctx context.Context, s model.StorageBatch) error {
	if len(ol) == 0 {
		return nil
	}
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "multisig_owners"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	metrics.RecordCount(ctx, metrics.PersistModel, len(ol))
	return s.PersistModel(ctx, ol)
}
