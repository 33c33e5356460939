package lens

import (
	"context"
	"encoding/json"
	"time"
)

// API is the capability interface over the upstream ledger node. It delivers
// finalized transactions in non-decreasing version order and is restartable
// from an arbitrary version.
type API interface {
	// LatestVersion returns the highest finalized ledger version known to the source.
	LatestVersion(ctx context.Context) (uint64, error)

	// GetTransactions returns the finalized transactions with versions in
	// [start, end] inclusive, ordered by version. Every version in the range
	// must be present; a missing version is treated as a gap by the caller,
	// never silently skipped.
	GetTransactions(ctx context.Context, start, end uint64) ([]*RawTransaction, error)
}

type APICloser func()

type APIOpener interface {
	Open(context.Context) (API, APICloser, error)
}

// RawTransaction is one finalized transaction at a known ledger version,
// carrying its module events in program order and the write-set resource
// changes it produced.
type RawTransaction struct {
	Version   uint64          `json:"version"`
	Hash      string          `json:"hash"`
	Timestamp time.Time       `json:"timestamp"`
	Events    []RawEvent      `json:"events"`
	Changes   []ResourceWrite `json:"changes"`
}

// RawEvent is a single module-level event emitted by a transaction.
type RawEvent struct {
	// AccountAddress is the address of the account that emitted the event.
	AccountAddress string `json:"account_address"`

	// Tag is the fully qualified module event type, e.g.
	// "0x1::multisig_account::VoteEvent".
	Tag string `json:"type"`

	// Data is the JSON encoded event payload.
	Data json.RawMessage `json:"data"`
}

// ResourceWrite is a write-set change that replaced the state of a resource
// under an account.
type ResourceWrite struct {
	Address string          `json:"address"`
	Tag     string          `json:"type"`
	Data    json.RawMessage `json:"data"`
}
