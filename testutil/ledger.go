package testutil

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/web3vx/aptos-indexer-processors/chain/extract"
	"github.com/web3vx/aptos-indexer-processors/lens"
)

// Builders for raw ledger transactions carrying multisig module events, using
// the default tag set.

var tags = extract.DefaultTagSet()

func Tx(version uint64, ts time.Time, changes []lens.ResourceWrite, events ...lens.RawEvent) *lens.RawTransaction {
	return &lens.RawTransaction{
		Version:   version,
		Hash:      fmt.Sprintf("0xhash%d", version),
		Timestamp: ts,
		Events:    events,
		Changes:   changes,
	}
}

// WalletChange builds the write-set change holding the full multisig account
// state.
func WalletChange(wallet string, owners []string, required int, metadata string) lens.ResourceWrite {
	if metadata == "" {
		metadata = "{}"
	}
	ownerList, _ := json.Marshal(owners)
	data := fmt.Sprintf(`{"owners":%s,"num_signatures_required":"%d","metadata":%s}`, ownerList, required, metadata)
	return lens.ResourceWrite{
		Address: wallet,
		Tag:     tags.WalletResource,
		Data:    json.RawMessage(data),
	}
}

type InitialVote struct {
	Owner    string
	Approved bool
}

func ProposeEvent(wallet string, seq uint64, creator string, payload string, votes ...InitialVote) lens.RawEvent {
	voteData := "["
	for i, v := range votes {
		if i > 0 {
			voteData += ","
		}
		voteData += fmt.Sprintf(`{"key":"%s","value":%t}`, v.Owner, v.Approved)
	}
	voteData += "]"
	data := fmt.Sprintf(`{"sequence_number":"%d","creator":"%s","transaction":{"payload":%s,"votes":{"data":%s}}}`, seq, creator, payload, voteData)
	return lens.RawEvent{
		AccountAddress: wallet,
		Tag:            tags.TransactionProposed,
		Data:           json.RawMessage(data),
	}
}

func VoteEvent(wallet string, seq uint64, owner string, approved bool) lens.RawEvent {
	data := fmt.Sprintf(`{"sequence_number":"%d","owner":"%s","approved":%t}`, seq, owner, approved)
	return lens.RawEvent{
		AccountAddress: wallet,
		Tag:            tags.VoteCast,
		Data:           json.RawMessage(data),
	}
}

func ExecutionSucceededEvent(wallet string, seq uint64, executor string) lens.RawEvent {
	return resolutionEvent(wallet, seq, executor, tags.ExecutionSucceeded)
}

func ExecutionFailedEvent(wallet string, seq uint64, executor string) lens.RawEvent {
	return resolutionEvent(wallet, seq, executor, tags.ExecutionFailed)
}

func ExecutionRejectedEvent(wallet string, seq uint64, executor string) lens.RawEvent {
	return resolutionEvent(wallet, seq, executor, tags.ExecutionRejected)
}

func resolutionEvent(wallet string, seq uint64, executor string, tag string) lens.RawEvent {
	data := fmt.Sprintf(`{"sequence_number":"%d","executor":"%s"}`, seq, executor)
	return lens.RawEvent{
		AccountAddress: wallet,
		Tag:            tag,
		Data:           json.RawMessage(data),
	}
}

func AddOwnersEvent(wallet string, owners ...string) lens.RawEvent {
	ownerList, _ := json.Marshal(owners)
	return lens.RawEvent{
		AccountAddress: wallet,
		Tag:            tags.OwnersAdded,
		Data:           json.RawMessage(fmt.Sprintf(`{"owners_added":%s}`, ownerList)),
	}
}

func RemoveOwnersEvent(wallet string, owners ...string) lens.RawEvent {
	ownerList, _ := json.Marshal(owners)
	return lens.RawEvent{
		AccountAddress: wallet,
		Tag:            tags.OwnersRemoved,
		Data:           json.RawMessage(fmt.Sprintf(`{"owners_removed":%s}`, ownerList)),
	}
}

func ContactEvent(wallet string, contact string, name string) lens.RawEvent {
	data := fmt.Sprintf(`{"contact":"%s","name":"%s"}`, contact, name)
	return lens.RawEvent{
		AccountAddress: wallet,
		Tag:            tags.ContactUpserted,
		Data:           json.RawMessage(data),
	}
}

func SpamFlagEvent(asset string, isSpam bool) lens.RawEvent {
	data := fmt.Sprintf(`{"asset":"%s","is_spam":%t}`, asset, isSpam)
	return lens.RawEvent{
		AccountAddress: "0x1",
		Tag:            tags.AssetSpamFlagged,
		Data:           json.RawMessage(data),
	}
}
