package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	logging "github.com/ipfs/go-log/v2"

	"github.com/web3vx/aptos-indexer-processors/lens"
	"github.com/web3vx/aptos-indexer-processors/metrics"
)

var log = logging.Logger("processor/extract")

// MalformedEventError is returned when the payload of a recognized event tag
// cannot be parsed. It is fatal for the containing transaction: a recognized
// tag with an unreadable payload indicates an extractor/schema mismatch, not
// a recoverable condition.
type MalformedEventError struct {
	TxnVersion uint64
	EventIndex int
	Tag        string
	Err        error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed payload for event %s at version %d index %d: %v", e.Tag, e.TxnVersion, e.EventIndex, e.Err)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// An Extractor parses the module events of raw transactions into typed
// multisig domain events. Events whose tag is not in the tag set are silently
// dropped.
type Extractor struct {
	tags TagSet
}

func NewExtractor(tags TagSet) *Extractor {
	return &Extractor{tags: tags}
}

// Transaction extracts the typed events of a single raw transaction in
// program order. Write-set changes are ordered ahead of module events so a
// wallet snapshot precedes any event referencing the wallet within the same
// transaction.
func (e *Extractor) Transaction(ctx context.Context, tx *lens.RawTransaction) ([]Event, error) {
	stop := metrics.Timer(ctx, metrics.ExtractDuration)
	defer stop()

	var out []Event

	for i, change := range tx.Changes {
		if change.Tag != e.tags.WalletResource {
			continue
		}
		ev, err := e.parseWalletResource(tx, i, change)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}

	base := len(tx.Changes)
	for i, raw := range tx.Events {
		ev, err := e.parseEvent(tx, base+i, raw)
		if err != nil {
			return nil, err
		}
		if ev == nil {
			metrics.RecordInc(ctx, metrics.EventsSkipped)
			continue
		}
		out = append(out, ev)
	}

	metrics.RecordCount(ctx, metrics.EventsExtracted, len(out))
	return out, nil
}

func (e *Extractor) meta(tx *lens.RawTransaction, index int) Meta {
	return Meta{
		TxnVersion: tx.Version,
		EventIndex: index,
		TxnTime:    tx.Timestamp,
	}
}

// walletResource is the on-chain multisig account state.
type walletResource struct {
	Owners                []string        `json:"owners"`
	NumSignaturesRequired string          `json:"num_signatures_required"`
	Metadata              json.RawMessage `json:"metadata"`
}

func (e *Extractor) parseWalletResource(tx *lens.RawTransaction, index int, change lens.ResourceWrite) (Event, error) {
	var res walletResource
	if err := json.Unmarshal(change.Data, &res); err != nil {
		return nil, &MalformedEventError{TxnVersion: tx.Version, EventIndex: index, Tag: change.Tag, Err: err}
	}

	required, err := parseU64(res.NumSignaturesRequired)
	if err != nil {
		return nil, &MalformedEventError{TxnVersion: tx.Version, EventIndex: index, Tag: change.Tag, Err: err}
	}

	owners := make([]string, len(res.Owners))
	for i, o := range res.Owners {
		owners[i] = StandardizeAddress(o)
	}

	return &WalletSnapshot{
		Meta:               e.meta(tx, index),
		WalletAddress:      StandardizeAddress(change.Address),
		RequiredSignatures: uint32(required),
		Metadata:           res.Metadata,
		Owners:             owners,
	}, nil
}

func (e *Extractor) parseEvent(tx *lens.RawTransaction, index int, raw lens.RawEvent) (Event, error) {
	switch raw.Tag {
	case e.tags.TransactionProposed:
		return e.parseProposed(tx, index, raw)
	case e.tags.VoteCast:
		return e.parseVote(tx, index, raw)
	case e.tags.ExecutionRejected, e.tags.ExecutionSucceeded, e.tags.ExecutionFailed:
		return e.parseResolved(tx, index, raw)
	case e.tags.OwnersAdded, e.tags.OwnersRemoved:
		return e.parseOwnersChanged(tx, index, raw)
	case e.tags.ContactUpserted:
		return e.parseContact(tx, index, raw)
	case e.tags.AssetSpamFlagged:
		return e.parseSpamFlag(tx, index, raw)
	default:
		// Not a multisig module event
		return nil, nil
	}
}

type proposedPayload struct {
	SequenceNumber string `json:"sequence_number"`
	Creator        string `json:"creator"`
	Transaction    struct {
		Payload json.RawMessage `json:"payload"`
		Votes   struct {
			Data []struct {
				Key   string `json:"key"`
				Value bool   `json:"value"`
			} `json:"data"`
		} `json:"votes"`
	} `json:"transaction"`
}

func (e *Extractor) parseProposed(tx *lens.RawTransaction, index int, raw lens.RawEvent) (Event, error) {
	var p proposedPayload
	if err := json.Unmarshal(raw.Data, &p); err != nil {
		return nil, &MalformedEventError{TxnVersion: tx.Version, EventIndex: index, Tag: raw.Tag, Err: err}
	}

	seq, err := parseU64(p.SequenceNumber)
	if err != nil {
		return nil, &MalformedEventError{TxnVersion: tx.Version, EventIndex: index, Tag: raw.Tag, Err: err}
	}
	if p.Creator == "" {
		return nil, &MalformedEventError{TxnVersion: tx.Version, EventIndex: index, Tag: raw.Tag, Err: fmt.Errorf("missing creator")}
	}

	ev := &TransactionProposed{
		Meta:           e.meta(tx, index),
		WalletAddress:  StandardizeAddress(raw.AccountAddress),
		SequenceNumber: seq,
		Creator:        StandardizeAddress(p.Creator),
		Payload:        p.Transaction.Payload,
	}
	for _, v := range p.Transaction.Votes.Data {
		ev.InitialVotes = append(ev.InitialVotes, OwnerVote{
			OwnerAddress: StandardizeAddress(v.Key),
			Approved:     v.Value,
		})
	}
	return ev, nil
}

type votePayload struct {
	SequenceNumber string `json:"sequence_number"`
	Owner          string `json:"owner"`
	Approved       bool   `json:"approved"`
}

func (e *Extractor) parseVote(tx *lens.RawTransaction, index int, raw lens.RawEvent) (Event, error) {
	var p votePayload
	if err := json.Unmarshal(raw.Data, &p); err != nil {
		return nil, &MalformedEventError{TxnVersion: tx.Version, EventIndex: index, Tag: raw.Tag, Err: err}
	}

	seq, err := parseU64(p.SequenceNumber)
	if err != nil {
		return nil, &MalformedEventError{TxnVersion: tx.Version, EventIndex: index, Tag: raw.Tag, Err: err}
	}
	if p.Owner == "" {
		return nil, &MalformedEventError{TxnVersion: tx.Version, EventIndex: index, Tag: raw.Tag, Err: fmt.Errorf("missing owner")}
	}

	return &VoteCast{
		Meta:           e.meta(tx, index),
		WalletAddress:  StandardizeAddress(raw.AccountAddress),
		SequenceNumber: seq,
		OwnerAddress:   StandardizeAddress(p.Owner),
		Approved:       p.Approved,
	}, nil
}

type resolvedPayload struct {
	SequenceNumber string `json:"sequence_number"`
	Executor       string `json:"executor"`
}

func (e *Extractor) parseResolved(tx *lens.RawTransaction, index int, raw lens.RawEvent) (Event, error) {
	var p resolvedPayload
	if err := json.Unmarshal(raw.Data, &p); err != nil {
		return nil, &MalformedEventError{TxnVersion: tx.Version, EventIndex: index, Tag: raw.Tag, Err: err}
	}

	seq, err := parseU64(p.SequenceNumber)
	if err != nil {
		return nil, &MalformedEventError{TxnVersion: tx.Version, EventIndex: index, Tag: raw.Tag, Err: err}
	}

	ev := &TransactionResolved{
		Meta:           e.meta(tx, index),
		WalletAddress:  StandardizeAddress(raw.AccountAddress),
		SequenceNumber: seq,
		Rejected:       raw.Tag == e.tags.ExecutionRejected,
		Failed:         raw.Tag == e.tags.ExecutionFailed,
	}
	if p.Executor != "" {
		ev.Executor = StandardizeAddress(p.Executor)
	}
	return ev, nil
}

type ownersChangedPayload struct {
	OwnersAdded   []string `json:"owners_added"`
	OwnersRemoved []string `json:"owners_removed"`
}

func (e *Extractor) parseOwnersChanged(tx *lens.RawTransaction, index int, raw lens.RawEvent) (Event, error) {
	var p ownersChangedPayload
	if err := json.Unmarshal(raw.Data, &p); err != nil {
		return nil, &MalformedEventError{TxnVersion: tx.Version, EventIndex: index, Tag: raw.Tag, Err: err}
	}

	removed := raw.Tag == e.tags.OwnersRemoved
	addrs := p.OwnersAdded
	if removed {
		addrs = p.OwnersRemoved
	}
	if len(addrs) == 0 {
		return nil, &MalformedEventError{TxnVersion: tx.Version, EventIndex: index, Tag: raw.Tag, Err: fmt.Errorf("empty owner list")}
	}

	owners := make([]string, len(addrs))
	for i, o := range addrs {
		owners[i] = StandardizeAddress(o)
	}

	return &OwnersChanged{
		Meta:          e.meta(tx, index),
		WalletAddress: StandardizeAddress(raw.AccountAddress),
		Owners:        owners,
		Removed:       removed,
	}, nil
}

type contactPayload struct {
	Contact string `json:"contact"`
	Name    string `json:"name"`
}

func (e *Extractor) parseContact(tx *lens.RawTransaction, index int, raw lens.RawEvent) (Event, error) {
	var p contactPayload
	if err := json.Unmarshal(raw.Data, &p); err != nil {
		return nil, &MalformedEventError{TxnVersion: tx.Version, EventIndex: index, Tag: raw.Tag, Err: err}
	}
	if p.Contact == "" {
		return nil, &MalformedEventError{TxnVersion: tx.Version, EventIndex: index, Tag: raw.Tag, Err: fmt.Errorf("missing contact address")}
	}

	return &ContactUpserted{
		Meta:           e.meta(tx, index),
		WalletAddress:  StandardizeAddress(raw.AccountAddress),
		ContactAddress: StandardizeAddress(p.Contact),
		ContactName:    p.Name,
	}, nil
}

type spamFlagPayload struct {
	Asset  string `json:"asset"`
	IsSpam bool   `json:"is_spam"`
}

func (e *Extractor) parseSpamFlag(tx *lens.RawTransaction, index int, raw lens.RawEvent) (Event, error) {
	var p spamFlagPayload
	if err := json.Unmarshal(raw.Data, &p); err != nil {
		return nil, &MalformedEventError{TxnVersion: tx.Version, EventIndex: index, Tag: raw.Tag, Err: err}
	}
	if p.Asset == "" {
		return nil, &MalformedEventError{TxnVersion: tx.Version, EventIndex: index, Tag: raw.Tag, Err: fmt.Errorf("missing asset")}
	}

	return &AssetSpamFlagged{
		Meta:   e.meta(tx, index),
		Asset:  p.Asset,
		IsSpam: p.IsSpam,
	}, nil
}

// parseU64 parses an unsigned integer that the ledger JSON encodes as a
// string.
func parseU64(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("missing numeric field")
	}
	return strconv.ParseUint(s, 10, 64)
}
