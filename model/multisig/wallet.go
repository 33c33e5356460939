package multisig

import (
	"context"
	"time"

	"go.opencensus.io/tag"

	"github.com/web3vx/aptos-indexer-processors/metrics"
	"github.com/web3vx/aptos-indexer-processors/model"
)

// MultisigWallet is the projected state of a multisig account. The row is
// created by the first wallet snapshot observed for the address and later
// snapshots overwrite the mutable columns only; wallet_address is immutable.
type MultisigWallet struct {
	tableName struct{} `pg:"multisig_wallets"` // nolint: structcheck

	WalletAddress      string `pg:",pk,notnull"`
	RequiredSignatures int32  `pg:",notnull,use_zero"`

	// Metadata is the opaque on-chain metadata blob attached to the account.
	Metadata  string    `pg:",type:jsonb"`
	CreatedAt time.Time `pg:",notnull,use_zero"`
}

func (w *MultisigWallet) Persist(ctx context.Context, s model.StorageBatch) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "multisig_wallets"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	metrics.RecordCount(ctx, metrics.PersistModel, 1)
	return s.PersistModel(ctx, w)
}

type MultisigWalletList []*MultisigWallet

func (wl MultisigWalletList) Persist(ctx context.Context, s model.StorageBatch) error {
	if len(wl) == 0 {
		return nil
	}
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "multisig_wallets"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	metrics.RecordCount(ctx, metrics.PersistModel, len(wl))
	return s.PersistModel(ctx, wl)
}
