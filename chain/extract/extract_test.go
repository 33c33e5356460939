package extract_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3vx/aptos-indexer-processors/chain/extract"
	"github.com/web3vx/aptos-indexer-processors/lens"
	"github.com/web3vx/aptos-indexer-processors/testutil"
)

const (
	walletShort = "0xabc"
	walletLong  = "0x0000000000000000000000000000000000000000000000000000000000000abc"
	ownerA      = "0x000000000000000000000000000000000000000000000000000000000000000a"
	ownerB      = "0x000000000000000000000000000000000000000000000000000000000000000b"
)

func TestStandardizeAddress(t *testing.T) {
	assert.Equal(t, walletLong, extract.StandardizeAddress("0xABC"))
	assert.Equal(t, walletLong, extract.StandardizeAddress("abc"))
	assert.Equal(t, walletLong, extract.StandardizeAddress(walletLong))
	assert.Equal(t, ownerA, extract.StandardizeAddress("0xA"))
}

func TestExtractWalletSnapshot(t *testing.T) {
	e := extract.NewExtractor(extract.DefaultTagSet())

	tx := testutil.Tx(10, testutil.KnownTime, []lens.ResourceWrite{
		testutil.WalletChange(walletShort, []string{"0xa", "0xb"}, 2, `{"name":"ops"}`),
	})

	events, err := e.Transaction(context.Background(), tx)
	require.NoError(t, err)
	require.Len(t, events, 1)

	snap, ok := events[0].(*extract.WalletSnapshot)
	require.True(t, ok)
	assert.Equal(t, walletLong, snap.WalletAddress)
	assert.Equal(t, uint32(2), snap.RequiredSignatures)
	assert.Equal(t, []string{ownerA, ownerB}, snap.Owners)
	assert.Equal(t, uint64(10), snap.Version())
	assert.Equal(t, testutil.KnownTime, snap.Timestamp())
	assert.JSONEq(t, `{"name":"ops"}`, string(snap.Metadata))
}

func TestExtractProposedWithInitialVotes(t *testing.T) {
	e := extract.NewExtractor(extract.DefaultTagSet())

	tx := testutil.Tx(11, testutil.KnownTime, nil,
		testutil.ProposeEvent(walletShort, 1, "0xa", `{"function":"transfer"}`, testutil.InitialVote{Owner: "0xa", Approved: true}),
	)

	events, err := e.Transaction(context.Background(), tx)
	require.NoError(t, err)
	require.Len(t, events, 1)

	prop, ok := events[0].(*extract.TransactionProposed)
	require.True(t, ok)
	assert.Equal(t, walletLong, prop.WalletAddress)
	assert.Equal(t, uint64(1), prop.SequenceNumber)
	assert.Equal(t, ownerA, prop.Creator)
	require.Len(t, prop.InitialVotes, 1)
	assert.Equal(t, ownerA, prop.InitialVotes[0].OwnerAddress)
	assert.True(t, prop.InitialVotes[0].Approved)
}

func TestExtractVoteAndResolution(t *testing.T) {
	e := extract.NewExtractor(extract.DefaultTagSet())

	tx := testutil.Tx(12, testutil.KnownTime, nil,
		testutil.VoteEvent(walletShort, 1, "0xb", false),
		testutil.ExecutionRejectedEvent(walletShort, 1, "0xb"),
		testutil.ExecutionFailedEvent(walletShort, 2, "0xa"),
	)

	events, err := e.Transaction(context.Background(), tx)
	require.NoError(t, err)
	require.Len(t, events, 3)

	vote := events[0].(*extract.VoteCast)
	assert.Equal(t, ownerB, vote.OwnerAddress)
	assert.False(t, vote.Approved)

	rejected := events[1].(*extract.TransactionResolved)
	assert.True(t, rejected.Rejected)
	assert.False(t, rejected.Failed)

	failed := events[2].(*extract.TransactionResolved)
	assert.False(t, failed.Rejected)
	assert.True(t, failed.Failed)
	assert.Equal(t, ownerA, failed.Executor)
}

func TestExtractOrdersChangesBeforeEvents(t *testing.T) {
	e := extract.NewExtractor(extract.DefaultTagSet())

	// The snapshot establishing the wallet must come before the proposal
	// referencing it, whatever order the source delivers them in.
	tx := testutil.Tx(13, testutil.KnownTime,
		[]lens.ResourceWrite{testutil.WalletChange(walletShort, []string{"0xa"}, 1, "")},
		testutil.ProposeEvent(walletShort, 1, "0xa", `{}`),
	)

	events, err := e.Transaction(context.Background(), tx)
	require.NoError(t, err)
	require.Len(t, events, 2)

	_, ok := events[0].(*extract.WalletSnapshot)
	require.True(t, ok)
	_, ok = events[1].(*extract.TransactionProposed)
	require.True(t, ok)
	assert.Less(t, events[0].Index(), events[1].Index())
}

func TestExtractSkipsUnknownTags(t *testing.T) {
	e := extract.NewExtractor(extract.DefaultTagSet())

	tx := testutil.Tx(14, testutil.KnownTime, nil,
		lens.RawEvent{
			AccountAddress: walletShort,
			Tag:            "0x1::coin::DepositEvent",
			Data:           json.RawMessage(`{"amount":"100"}`),
		},
	)

	events, err := e.Transaction(context.Background(), tx)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestExtractMalformedPayloadIsFatal(t *testing.T) {
	e := extract.NewExtractor(extract.DefaultTagSet())

	tx := testutil.Tx(15, testutil.KnownTime, nil,
		lens.RawEvent{
			AccountAddress: walletShort,
			Tag:            extract.DefaultTagSet().VoteCast,
			Data:           json.RawMessage(`{"sequence_number":"not-a-number"}`),
		},
	)

	_, err := e.Transaction(context.Background(), tx)
	require.Error(t, err)

	var malformed *extract.MalformedEventError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, uint64(15), malformed.TxnVersion)
	assert.Equal(t, extract.DefaultTagSet().VoteCast, malformed.Tag)
}

func TestExtractMissingRequiredFieldIsFatal(t *testing.T) {
	e := extract.NewExtractor(extract.DefaultTagSet())

	tx := testutil.Tx(16, testutil.KnownTime, nil,
		lens.RawEvent{
			AccountAddress: walletShort,
			Tag:            extract.DefaultTagSet().VoteCast,
			Data:           json.RawMessage(`{"sequence_number":"1","approved":true}`),
		},
	)

	_, err := e.Transaction(context.Background(), tx)
	var malformed *extract.MalformedEventError
	require.True(t, errors.As(err, &malformed))
}

func TestExtractContactAndSpamFlag(t *testing.T) {
	e := extract.NewExtractor(extract.DefaultTagSet())

	tx := testutil.Tx(17, testutil.KnownTime, nil,
		testutil.ContactEvent(walletShort, "0xb", "treasury"),
		testutil.SpamFlagEvent("0x99::spam::Coin", true),
	)

	events, err := e.Transaction(context.Background(), tx)
	require.NoError(t, err)
	require.Len(t, events, 2)

	contact := events[0].(*extract.ContactUpserted)
	assert.Equal(t, walletLong, contact.WalletAddress)
	assert.Equal(t, ownerB, contact.ContactAddress)
	assert.Equal(t, "treasury", contact.ContactName)

	spam := events[1].(*extract.AssetSpamFlagged)
	assert.Equal(t, "0x99::spam::Coin", spam.Asset)
	assert.True(t, spam.IsSpam)
}
