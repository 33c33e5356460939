package multisig

import (
	"context"
	"time"

	"go.opencensus.io/tag"

	"github.com/web3vx/aptos-indexer-processors/metrics"
	"github.com/web3vx/aptos-indexer-processors/model"
)

// MultisigVote is one owner's vote on a proposed transaction. A vote is
// unique per (wallet, transaction, owner); a later vote from the same owner
// overwrites the earlier value rather than adding a second row.
type MultisigVote struct {
	tableName struct{} `pg:"multisig_voting_transactions"` // nolint: structcheck

	WalletAddress       string `pg:",pk,notnull"`
	TransactionSequence uint64 `pg:",pk,use_zero"`
	OwnerAddress        string `pg:",pk,notnull"`

	Value     bool      `pg:",notnull,use_zero"`
	CreatedAt time.Time `pg:",notnull,use_zero"`
}

func (v *MultisigVote) Persist(ctx context.Context, s model.StorageBatch) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "multisig_voting_transactions"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	metrics.RecordCount(ctx, metrics.PersistModel, 1)
	return s.PersistModel(ctx, v)
}

type MultisigVoteList []*MultisigVote

func (vl MultisigVoteList) Persist(ctx context.Context, s model.StorageBatch) error {
	if len(vl) == 0 {
		return nil
	}
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "multisig_voting_transactions"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	metrics.RecordCount(ctx, metrics.PersistModel, len(vl))
	return s.PersistModel(ctx, vl)
}
