package multisig

import (
	"context"
	"time"

	"go.opencensus.io/tag"

	"github.com/web3vx/aptos-indexer-processors/metrics"
	"github.com/web3vx/aptos-indexer-processors/model"
)

// MultisigContact is an entry in a wallet's contact list. Re-registering a
// contact address overwrites the stored name.
type MultisigContact struct {
	tableName struct{} `pg:"multisig_contacts"` // nolint: structcheck

	WalletAddress  string `pg:",pk,notnull"`
	ContactAddress string `pg:",pk,notnull"`

	ContactName string    `pg:",notnull"`
	CreatedAt   time.Time `pg:",notnull,use_zero"`
}

func (c *MultisigContact) Persist(ctx context.Context, s model.StorageBatch) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "multisig_contacts"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	metrics.RecordCount(ctx, metrics.PersistModel, 1)
	return s.PersistModel(ctx, c)
}

type MultisigContactList []*MultisigContact

func (cl MultisigContactList) Persist(ctx context.Context, s model.StorageBatch) error {
	if len(cl) == 0 {
		return nil
	}
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "multisig_contacts"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	metrics.RecordCount(ctx, metrics.PersistModel, len(cl))
	return s.PersistModel(ctx, cl)
}
