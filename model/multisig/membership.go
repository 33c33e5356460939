package multisig

import (
	"context"
	"time"

	"go.opencensus.io/tag"

	"github.com/web3vx/aptos-indexer-processors/metrics"
	"github.com/web3vx/aptos-indexer-processors/model"
)

const (
	MembershipStatusAdded   = "added"
	MembershipStatusRemoved = "removed"
)

// OwnerWalletMembership records one membership change between an owner and a
// wallet. The table is an append-only event log keyed by
// (wallet_address, owner_address, version): removal inserts a new row with
// status "removed" rather than deleting the historical row, and the current
// membership of a wallet is the latest row per (wallet, owner) pair.
type OwnerWalletMembership struct {
	tableName struct{} `pg:"owners_wallets"` // nolint: structcheck

	WalletAddress string `pg:",pk,notnull"`
	OwnerAddress  string `pg:",pk,notnull"`

	// Version is the ledger version of the event that produced this row.
	Version   uint64    `pg:",pk,use_zero"`
	Status    string    `pg:",notnull"`
	CreatedAt time.Time `pg:",notnull,use_zero"`
}

func (m *OwnerWalletMembership) Persist(ctx context.Context, s model.StorageBatch) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "owners_wallets"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	metrics.RecordCount(ctx, metrics.PersistModel, 1)
	return s.PersistModel(ctx, m)
}

type OwnerWalletMembershipList []*OwnerWalletMembership

func (ml OwnerWalletMembershipList) Persist(ctx context.Context, s model.StorageBatch) error {
	if len(ml) == 0 {
		return nil
	}
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "owners_wallets"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	metrics.RecordCount(ctx, metrics.PersistModel, len(ml))
	return s.PersistModel(ctx, ml)
}
