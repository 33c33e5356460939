package extract

import (
	"encoding/json"
	"time"
)

// An Event is a typed multisig domain event extracted from a raw transaction.
// Version and Index order events deterministically: Index is the position of
// the originating event within its transaction and breaks ties when two
// events in the same transaction touch the same key.
type Event interface {
	Version() uint64
	Index() int
	Timestamp() time.Time
}

// Meta carries the provenance shared by every typed event.
type Meta struct {
	TxnVersion uint64
	EventIndex int
	TxnTime    time.Time
}

func (m Meta) Version() uint64      { return m.TxnVersion }
func (m Meta) Index() int           { return m.EventIndex }
func (m Meta) Timestamp() time.Time { return m.TxnTime }

// WalletSnapshot is the full multisig account state observed in a write-set
// change: the owner set, signature threshold and metadata as of this version.
type WalletSnapshot struct {
	Meta
	WalletAddress      string
	RequiredSignatures uint32
	Metadata           json.RawMessage
	Owners             []string
}

// TransactionProposed records a new proposed transaction with its on-chain
// assigned sequence number. InitialVotes holds any votes carried in the
// proposal itself (the proposer's implicit approval).
type TransactionProposed struct {
	Meta
	WalletAddress  string
	SequenceNumber uint64
	Creator        string
	Payload        json.RawMessage
	InitialVotes   []OwnerVote
}

type OwnerVote struct {
	OwnerAddress string
	Approved     bool
}

// VoteCast is one owner's vote on a pending transaction. A later vote from
// the same owner replaces the earlier one.
type VoteCast struct {
	Meta
	WalletAddress  string
	SequenceNumber uint64
	OwnerAddress   string
	Approved       bool
}

// TransactionResolved marks a proposed transaction reaching a terminal
// status: executed (successfully or not) or execute-rejected.
type TransactionResolved struct {
	Meta
	WalletAddress  string
	SequenceNumber uint64
	Executor       string
	Rejected       bool
	Failed         bool
}

// OwnersChanged records owners being added to or removed from a wallet.
type OwnersChanged struct {
	Meta
	WalletAddress string
	Owners        []string
	Removed       bool
}

// ContactUpserted adds or renames an entry in a wallet's contact list.
type ContactUpserted struct {
	Meta
	WalletAddress  string
	ContactAddress string
	ContactName    string
}

// AssetSpamFlagged sets or clears the global spam flag for an asset.
type AssetSpamFlagged struct {
	Meta
	Asset  string
	IsSpam bool
}
