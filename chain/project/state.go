package project

import (
	"context"
	"time"

	"github.com/go-pg/pg/v10"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/xerrors"

	"github.com/web3vx/aptos-indexer-processors/model/multisig"
	"github.com/web3vx/aptos-indexer-processors/storage"
)

// WalletState is the projector's view of a wallet: the signature threshold
// and the current owner set derived from the membership event log.
type WalletState struct {
	WalletAddress      string
	RequiredSignatures uint32
	Members            map[string]bool
}

// TransactionState is the projector's view of a proposed transaction: its
// status, content and the current votes. The immutable columns are carried so
// that a status change projected in a later batch re-emits the full row.
type TransactionState struct {
	WalletAddress  string
	SequenceNumber uint64
	Version        uint64
	Status         multisig.TransactionStatus
	Payload        string
	PayloadHash    string
	InitiatedBy    string
	CreatedAt      time.Time
	Votes          map[string]bool
}

// A StateReader looks up previously committed projector state. Reads may be
// concurrent with projection of other version ranges; only the commit stage
// is serialized.
type StateReader interface {
	// Wallet returns the committed state of a wallet, or nil when the wallet
	// has never been seen.
	Wallet(ctx context.Context, walletAddress string) (*WalletState, error)

	// Transaction returns the committed state of a proposed transaction
	// including its votes, or nil when it has never been seen.
	Transaction(ctx context.Context, walletAddress string, sequenceNumber uint64) (*TransactionState, error)
}

// NullStateReader reports every wallet and transaction as unseen. Used when
// indexing from the genesis version into an empty store.
type NullStateReader struct{}

func (NullStateReader) Wallet(ctx context.Context, walletAddress string) (*WalletState, error) {
	return nil, nil
}

func (NullStateReader) Transaction(ctx context.Context, walletAddress string, sequenceNumber uint64) (*TransactionState, error) {
	return nil, nil
}

// DatabaseStateReader reads committed projector state from the derived
// tables, with an LRU cache in front of wallet lookups. The cache stays
// coherent because the pipeline has a single writer: entries are invalidated
// by the projector whenever it changes a wallet.
type DatabaseStateReader struct {
	db      *storage.Database
	wallets *lru.Cache
}

func NewDatabaseStateReader(db *storage.Database, cacheSize int) (*DatabaseStateReader, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, xerrors.Errorf("create wallet cache: %w", err)
	}
	return &DatabaseStateReader{
		db:      db,
		wallets: cache,
	}, nil
}

func (r *DatabaseStateReader) Wallet(ctx context.Context, walletAddress string) (*WalletState, error) {
	if cached, ok := r.wallets.Get(walletAddress); ok {
		return cached.(*WalletState), nil
	}

	wallet := &multisig.MultisigWallet{}
	err := r.db.AsORM().ModelContext(ctx, wallet).
		Where("wallet_address = ?", walletAddress).
		Select()
	if err == pg.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("read wallet %s: %w", walletAddress, err)
	}

	state := &WalletState{
		WalletAddress:      walletAddress,
		RequiredSignatures: uint32(wallet.RequiredSignatures),
		Members:            map[string]bool{},
	}

	// Current membership is the latest row per (wallet, owner) pair in the
	// append-only membership log.
	var memberships []multisig.OwnerWalletMembership
	err = r.db.AsORM().ModelContext(ctx, &memberships).
		DistinctOn("owner_address").
		Where("wallet_address = ?", walletAddress).
		Order("owner_address", "version DESC").
		Select()
	if err != nil && err != pg.ErrNoRows {
		return nil, xerrors.Errorf("read membership for wallet %s: %w", walletAddress, err)
	}
	for _, m := range memberships {
		if m.Status == multisig.MembershipStatusAdded {
			state.Members[m.OwnerAddress] = true
		}
	}

	r.wallets.Add(walletAddress, state)
	return state, nil
}

func (r *DatabaseStateReader) Transaction(ctx context.Context, walletAddress string, sequenceNumber uint64) (*TransactionState, error) {
	txn := &multisig.MultisigTransaction{}
	err := r.db.AsORM().ModelContext(ctx, txn).
		Where("wallet_address = ?", walletAddress).
		Where("sequence_number = ?", sequenceNumber).
		Select()
	if err == pg.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("read transaction %s/%d: %w", walletAddress, sequenceNumber, err)
	}

	state := &TransactionState{
		WalletAddress:  walletAddress,
		SequenceNumber: sequenceNumber,
		Version:        txn.Version,
		Status:         txn.Status,
		Payload:        txn.Payload,
		PayloadHash:    txn.PayloadHash,
		InitiatedBy:    txn.InitiatedBy,
		CreatedAt:      txn.CreatedAt,
		Votes:          map[string]bool{},
	}

	var votes []multisig.MultisigVote
	err = r.db.AsORM().ModelContext(ctx, &votes).
		Where("wallet_address = ?", walletAddress).
		Where("transaction_sequence = ?", sequenceNumber).
		Select()
	if err != nil && err != pg.ErrNoRows {
		return nil, xerrors.Errorf("read votes for %s/%d: %w", walletAddress, sequenceNumber, err)
	}
	for _, v := range votes {
		state.Votes[v.OwnerAddress] = v.Value
	}

	return state, nil
}

// Invalidate drops a wallet from the cache. Called by the projector after it
// emits changes for the wallet so the next read observes committed state.
func (r *DatabaseStateReader) Invalidate(walletAddress string) {
	r.wallets.Remove(walletAddress)
}

var _ StateReader = (*DatabaseStateReader)(nil)
var _ StateReader = NullStateReader{}
