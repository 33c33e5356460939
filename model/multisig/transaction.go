package multisig

import (
	"context"
	"time"

	"go.opencensus.io/tag"

	"github.com/web3vx/aptos-indexer-processors/metrics"
	"github.com/web3vx/aptos-indexer-processors/model"
)

// TransactionStatus is the lifecycle state of a proposed transaction. Status
// only ever moves forward along pending -> {approved, rejected} -> executed.
type TransactionStatus string

const (
	TransactionStatusPending  TransactionStatus = "pending"
	TransactionStatusApproved TransactionStatus = "approved"
	TransactionStatusRejected TransactionStatus = "rejected"
	TransactionStatusExecuted TransactionStatus = "executed"
)

func (s TransactionStatus) rank() int {
	switch s {
	case TransactionStatusPending:
		return 0
	case TransactionStatusApproved, TransactionStatusRejected:
		return 1
	case TransactionStatusExecuted:
		return 2
	}
	return -1
}

// CanTransitionTo reports whether moving from s to next is a legal forward
// transition. Re-applying the current status is legal so that batches can be
// replayed idempotently. The only lateral move permitted is
// approved -> rejected, which happens when a rejection executes on-chain
// after the approval threshold was reached.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	if s == next {
		return true
	}
	if s == TransactionStatusRejected && next == TransactionStatusApproved {
		return false
	}
	return next.rank() >= s.rank() && s.rank() < TransactionStatusExecuted.rank()
}

// MultisigTransaction is a proposed transaction for a wallet, keyed by the
// on-chain assigned (wallet_address, sequence_number) pair.
type MultisigTransaction struct {
	tableName struct{} `pg:"multisig_transactions"` // nolint: structcheck

	WalletAddress  string `pg:",pk,notnull"`
	SequenceNumber uint64 `pg:",pk,use_zero"`

	// Version is the ledger version of the transaction that proposed it.
	Version     uint64            `pg:",notnull,use_zero"`
	InitiatedBy string            `pg:",notnull"`
	Payload     string            `pg:",type:jsonb"`
	PayloadHash string            `pg:",notnull"`
	Status      TransactionStatus `pg:",notnull"`
	CreatedAt   time.Time         `pg:",notnull,use_zero"`

	// Execution outcome, set when the proposal reaches a terminal status.
	ExecutedAt      *time.Time
	Executor        string
	ExecutionFailed bool `pg:",use_zero"`
}

func (t *MultisigTransaction) Persist(ctx context.Context, s model.StorageBatch) error {
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "multisig_transactions"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	metrics.RecordCount(ctx, metrics.PersistModel, 1)
	return s.PersistModel(ctx, t)
}

type MultisigTransactionList []*MultisigTransaction

func (tl MultisigTransactionList) Persist(ctx context.Context, s model.StorageBatch) error {
	if len(tl) == 0 {
		return nil
	}
	ctx, _ = tag.New(ctx, tag.Upsert(metrics.Table, "multisig_transactions"))
	stop := metrics.Timer(ctx, metrics.PersistDuration)
	defer stop()

	metrics.RecordCount(ctx, metrics.PersistModel, len(tl))
	return s.PersistModel(ctx, tl)
}
