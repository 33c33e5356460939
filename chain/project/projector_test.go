package project_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3vx/aptos-indexer-processors/chain/extract"
	"github.com/web3vx/aptos-indexer-processors/chain/project"
	"github.com/web3vx/aptos-indexer-processors/model/multisig"
	"github.com/web3vx/aptos-indexer-processors/testutil"
)

const (
	walletW1 = "0x00000000000000000000000000000000000000000000000000000000000000w1"
	ownerA   = "0x000000000000000000000000000000000000000000000000000000000000000a"
	ownerB   = "0x000000000000000000000000000000000000000000000000000000000000000b"
	ownerC   = "0x000000000000000000000000000000000000000000000000000000000000000c"
	ownerD   = "0x000000000000000000000000000000000000000000000000000000000000000d"
)

// stubReader serves fixed committed state.
type stubReader struct {
	wallets map[string]*project.WalletState
	txns    map[string]*project.TransactionState
}

func newStubReader() *stubReader {
	return &stubReader{
		wallets: map[string]*project.WalletState{},
		txns:    map[string]*project.TransactionState{},
	}
}

func (r *stubReader) Wallet(_ context.Context, addr string) (*project.WalletState, error) {
	return r.wallets[addr], nil
}

func (r *stubReader) Transaction(_ context.Context, wallet string, seq uint64) (*project.TransactionState, error) {
	return r.txns[fmt.Sprintf("%s/%d", wallet, seq)], nil
}

func (r *stubReader) addWallet(addr string, threshold uint32, members ...string) {
	w := &project.WalletState{
		WalletAddress:      addr,
		RequiredSignatures: threshold,
		Members:            map[string]bool{},
	}
	for _, m := range members {
		w.Members[m] = true
	}
	r.wallets[addr] = w
}

func (r *stubReader) addTransaction(t *project.TransactionState) {
	r.txns[fmt.Sprintf("%s/%d", t.WalletAddress, t.SequenceNumber)] = t
}

func meta(version uint64, index int) extract.Meta {
	return extract.Meta{TxnVersion: version, EventIndex: index, TxnTime: testutil.KnownTime}
}

func snapshot(version uint64, wallet string, threshold uint32, owners ...string) *extract.WalletSnapshot {
	return &extract.WalletSnapshot{
		Meta:               meta(version, 0),
		WalletAddress:      wallet,
		RequiredSignatures: threshold,
		Metadata:           json.RawMessage(`{}`),
		Owners:             owners,
	}
}

func proposed(version uint64, wallet string, seq uint64, creator string, votes ...extract.OwnerVote) *extract.TransactionProposed {
	return &extract.TransactionProposed{
		Meta:           meta(version, 1),
		WalletAddress:  wallet,
		SequenceNumber: seq,
		Creator:        creator,
		Payload:        json.RawMessage(`{"function":"transfer"}`),
		InitialVotes:   votes,
	}
}

func vote(version uint64, wallet string, seq uint64, owner string, approved bool) *extract.VoteCast {
	return &extract.VoteCast{
		Meta:           meta(version, 0),
		WalletAddress:  wallet,
		SequenceNumber: seq,
		OwnerAddress:   owner,
		Approved:       approved,
	}
}

func resolved(version uint64, wallet string, seq uint64, executor string, rejected, failed bool) *extract.TransactionResolved {
	return &extract.TransactionResolved{
		Meta:           meta(version, 0),
		WalletAddress:  wallet,
		SequenceNumber: seq,
		Executor:       executor,
		Rejected:       rejected,
		Failed:         failed,
	}
}

func projectEvents(t *testing.T, reader project.StateReader, events ...extract.Event) *project.Result {
	t.Helper()
	p := project.NewProjector(reader)
	res, err := p.Project(context.Background(), events)
	require.NoError(t, err)
	return res
}

func transactions(res *project.Result) multisig.MultisigTransactionList {
	for _, d := range res.Data {
		if l, ok := d.(multisig.MultisigTransactionList); ok {
			return l
		}
	}
	return nil
}

func votes(res *project.Result) multisig.MultisigVoteList {
	for _, d := range res.Data {
		if l, ok := d.(multisig.MultisigVoteList); ok {
			return l
		}
	}
	return nil
}

func memberships(res *project.Result) multisig.OwnerWalletMembershipList {
	for _, d := range res.Data {
		if l, ok := d.(multisig.OwnerWalletMembershipList); ok {
			return l
		}
	}
	return nil
}

func wallets(res *project.Result) multisig.MultisigWalletList {
	for _, d := range res.Data {
		if l, ok := d.(multisig.MultisigWalletList); ok {
			return l
		}
	}
	return nil
}

func owners(res *project.Result) multisig.MultisigOwnerList {
	for _, d := range res.Data {
		if l, ok := d.(multisig.MultisigOwnerList); ok {
			return l
		}
	}
	return nil
}

func TestProjectWalletSnapshot(t *testing.T) {
	res := projectEvents(t, project.NullStateReader{},
		snapshot(10, walletW1, 2, ownerA, ownerB, ownerC),
	)

	ws := wallets(res)
	require.Len(t, ws, 1)
	assert.Equal(t, walletW1, ws[0].WalletAddress)
	assert.Equal(t, int32(2), ws[0].RequiredSignatures)
	assert.Equal(t, testutil.KnownTime, ws[0].CreatedAt)

	assert.Len(t, owners(res), 3)

	ms := memberships(res)
	require.Len(t, ms, 3)
	for _, m := range ms {
		assert.Equal(t, multisig.MembershipStatusAdded, m.Status)
		assert.Equal(t, uint64(10), m.Version)
	}

	assert.Equal(t, []string{walletW1}, res.TouchedWallets)
}

func TestProjectMembershipDiff(t *testing.T) {
	reader := newStubReader()
	reader.addWallet(walletW1, 2, ownerA, ownerB)

	// The new snapshot drops B and adds C.
	res := projectEvents(t, reader,
		snapshot(20, walletW1, 2, ownerA, ownerC),
	)

	ms := memberships(res)
	require.Len(t, ms, 2)

	byOwner := map[string]string{}
	for _, m := range ms {
		byOwner[m.OwnerAddress] = m.Status
	}
	assert.Equal(t, multisig.MembershipStatusAdded, byOwner[ownerC])
	assert.Equal(t, multisig.MembershipStatusRemoved, byOwner[ownerB])
}

func TestThresholdApproval(t *testing.T) {
	res := projectEvents(t, project.NullStateReader{},
		snapshot(10, walletW1, 2, ownerA, ownerB, ownerC),
		proposed(11, walletW1, 1, ownerA, extract.OwnerVote{OwnerAddress: ownerA, Approved: true}),
		vote(12, walletW1, 1, ownerB, true),
	)

	txns := transactions(res)
	require.Len(t, txns, 1)
	assert.Equal(t, multisig.TransactionStatusApproved, txns[0].Status)
	assert.Equal(t, ownerA, txns[0].InitiatedBy)
	assert.Equal(t, uint64(11), txns[0].Version)

	vs := votes(res)
	require.Len(t, vs, 2)
}

func TestApprovalHappensExactlyOnce(t *testing.T) {
	reader := newStubReader()
	reader.addWallet(walletW1, 2, ownerA, ownerB, ownerC)
	reader.addTransaction(&project.TransactionState{
		WalletAddress:  walletW1,
		SequenceNumber: 1,
		Status:         multisig.TransactionStatusApproved,
		PayloadHash:    "deadbeef",
		InitiatedBy:    ownerA,
		Votes:          map[string]bool{ownerA: true, ownerB: true},
	})

	// A replayed approving vote must not emit a second status transition,
	// and a later dissenting vote must not move the status backwards.
	res := projectEvents(t, reader,
		vote(13, walletW1, 1, ownerB, true),
		vote(14, walletW1, 1, ownerC, false),
	)

	for _, txn := range transactions(res) {
		assert.Equal(t, multisig.TransactionStatusApproved, txn.Status)
	}
	require.Len(t, votes(res), 2)
}

func TestVoteLastWriteWins(t *testing.T) {
	res := projectEvents(t, project.NullStateReader{},
		snapshot(10, walletW1, 2, ownerA, ownerB),
		proposed(11, walletW1, 1, ownerA),
		vote(12, walletW1, 1, ownerA, true),
		vote(13, walletW1, 1, ownerA, false),
	)

	vs := votes(res)
	require.Len(t, vs, 1)
	assert.Equal(t, ownerA, vs[0].OwnerAddress)
	assert.False(t, vs[0].Value)

	txns := transactions(res)
	require.Len(t, txns, 1)
	assert.Equal(t, multisig.TransactionStatusPending, txns[0].Status)
}

func TestDuplicateProposalReplayIsIdempotent(t *testing.T) {
	p := project.NewProjector(project.NullStateReader{})

	events := []extract.Event{
		snapshot(10, walletW1, 2, ownerA, ownerB),
		proposed(11, walletW1, 1, ownerA),
		proposed(11, walletW1, 1, ownerA),
	}
	res, err := p.Project(context.Background(), events)
	require.NoError(t, err)
	require.Len(t, transactions(res), 1)
}

func TestDuplicateSequenceWithDifferentContentIsFatal(t *testing.T) {
	p := project.NewProjector(project.NullStateReader{})

	other := proposed(12, walletW1, 1, ownerB)
	other.Payload = json.RawMessage(`{"function":"burn"}`)

	_, err := p.Project(context.Background(), []extract.Event{
		snapshot(10, walletW1, 2, ownerA, ownerB),
		proposed(11, walletW1, 1, ownerA),
		other,
	})
	require.Error(t, err)

	var inconsistent *project.ConsistencyError
	require.True(t, errors.As(err, &inconsistent))
	assert.Equal(t, uint64(12), inconsistent.TxnVersion)
}

func TestVoteForUnknownTransactionIsFatal(t *testing.T) {
	p := project.NewProjector(project.NullStateReader{})

	_, err := p.Project(context.Background(), []extract.Event{
		snapshot(10, walletW1, 2, ownerA, ownerB),
		vote(11, walletW1, 7, ownerA, true),
	})
	require.Error(t, err)

	var inconsistent *project.ConsistencyError
	require.True(t, errors.As(err, &inconsistent))
}

func TestResolutionBeforeProposalInBatchIsBuffered(t *testing.T) {
	// Events that arrive ahead of their proposal within the same batch are
	// retried once the whole batch has been applied.
	res := projectEvents(t, project.NullStateReader{},
		snapshot(10, walletW1, 1, ownerA),
		resolved(12, walletW1, 1, ownerA, false, false),
		proposed(11, walletW1, 1, ownerA, extract.OwnerVote{OwnerAddress: ownerA, Approved: true}),
	)

	txns := transactions(res)
	require.Len(t, txns, 1)
	assert.Equal(t, multisig.TransactionStatusExecuted, txns[0].Status)
	require.NotNil(t, txns[0].ExecutedAt)
	assert.Equal(t, ownerA, txns[0].Executor)
}

func TestVoteByNonMemberIsFatal(t *testing.T) {
	p := project.NewProjector(project.NullStateReader{})

	_, err := p.Project(context.Background(), []extract.Event{
		snapshot(10, walletW1, 2, ownerA, ownerB),
		proposed(11, walletW1, 1, ownerA),
		vote(12, walletW1, 1, ownerD, true),
	})
	require.Error(t, err)

	var inconsistent *project.ConsistencyError
	require.True(t, errors.As(err, &inconsistent))
}

func TestProposalByNonMemberIsFatal(t *testing.T) {
	p := project.NewProjector(project.NullStateReader{})

	_, err := p.Project(context.Background(), []extract.Event{
		snapshot(10, walletW1, 2, ownerA, ownerB),
		proposed(11, walletW1, 1, ownerD),
	})
	require.Error(t, err)

	var inconsistent *project.ConsistencyError
	require.True(t, errors.As(err, &inconsistent))
}

func TestExecutedIsTerminal(t *testing.T) {
	p := project.NewProjector(project.NullStateReader{})

	_, err := p.Project(context.Background(), []extract.Event{
		snapshot(10, walletW1, 1, ownerA),
		proposed(11, walletW1, 1, ownerA, extract.OwnerVote{OwnerAddress: ownerA, Approved: true}),
		resolved(12, walletW1, 1, ownerA, false, false),
		resolved(13, walletW1, 1, ownerA, true, false),
	})
	require.Error(t, err)

	var inconsistent *project.ConsistencyError
	require.True(t, errors.As(err, &inconsistent))
}

func TestExecutionWithoutApprovalIsFatal(t *testing.T) {
	// The chain reporting a successful execution of a transaction whose vote
	// tally never reached the wallet threshold contradicts the stream.
	p := project.NewProjector(project.NullStateReader{})

	_, err := p.Project(context.Background(), []extract.Event{
		snapshot(10, walletW1, 2, ownerA, ownerB),
		proposed(11, walletW1, 1, ownerA, extract.OwnerVote{OwnerAddress: ownerA, Approved: true}),
		resolved(12, walletW1, 1, ownerA, false, false),
	})
	require.Error(t, err)

	var inconsistent *project.ConsistencyError
	require.True(t, errors.As(err, &inconsistent))
	assert.Equal(t, uint64(12), inconsistent.TxnVersion)
}

func TestCrossBatchResolutionKeepsPayload(t *testing.T) {
	// A resolution arriving in a later batch re-emits the transaction row;
	// the creation columns must come through from committed state intact.
	reader := newStubReader()
	reader.addWallet(walletW1, 2, ownerA, ownerB)
	reader.addTransaction(&project.TransactionState{
		WalletAddress:  walletW1,
		SequenceNumber: 1,
		Version:        11,
		Status:         multisig.TransactionStatusApproved,
		Payload:        `{"function":"transfer"}`,
		PayloadHash:    "deadbeef",
		InitiatedBy:    ownerA,
		CreatedAt:      testutil.KnownTime,
		Votes:          map[string]bool{ownerA: true, ownerB: true},
	})

	res := projectEvents(t, reader,
		resolved(20, walletW1, 1, ownerB, false, false),
	)

	txns := transactions(res)
	require.Len(t, txns, 1)
	assert.Equal(t, multisig.TransactionStatusExecuted, txns[0].Status)
	assert.Equal(t, `{"function":"transfer"}`, txns[0].Payload)
	assert.Equal(t, "deadbeef", txns[0].PayloadHash)
	assert.Equal(t, uint64(11), txns[0].Version)
	assert.Equal(t, ownerA, txns[0].InitiatedBy)
	assert.Equal(t, testutil.KnownTime, txns[0].CreatedAt)
}

func TestSnapshotWithUnsatisfiableThresholdIsFatal(t *testing.T) {
	p := project.NewProjector(project.NullStateReader{})

	_, err := p.Project(context.Background(), []extract.Event{
		snapshot(10, walletW1, 3, ownerA, ownerB),
	})
	require.Error(t, err)

	var inconsistent *project.ConsistencyError
	require.True(t, errors.As(err, &inconsistent))

	_, err = p.Project(context.Background(), []extract.Event{
		snapshot(10, walletW1, 0, ownerA, ownerB),
	})
	require.True(t, errors.As(err, &inconsistent))
}

func TestRejectedExecution(t *testing.T) {
	res := projectEvents(t, project.NullStateReader{},
		snapshot(10, walletW1, 2, ownerA, ownerB),
		proposed(11, walletW1, 1, ownerA),
		resolved(12, walletW1, 1, ownerB, true, false),
	)

	txns := transactions(res)
	require.Len(t, txns, 1)
	assert.Equal(t, multisig.TransactionStatusRejected, txns[0].Status)
}

func TestFailedExecutionKeepsFlag(t *testing.T) {
	res := projectEvents(t, project.NullStateReader{},
		snapshot(10, walletW1, 1, ownerA),
		proposed(11, walletW1, 1, ownerA, extract.OwnerVote{OwnerAddress: ownerA, Approved: true}),
		resolved(12, walletW1, 1, ownerA, false, true),
	)

	txns := transactions(res)
	require.Len(t, txns, 1)
	assert.Equal(t, multisig.TransactionStatusExecuted, txns[0].Status)
	assert.True(t, txns[0].ExecutionFailed)
}

func TestOwnersChangedEvents(t *testing.T) {
	reader := newStubReader()
	reader.addWallet(walletW1, 2, ownerA, ownerB)

	res := projectEvents(t, reader,
		&extract.OwnersChanged{
			Meta:          meta(20, 0),
			WalletAddress: walletW1,
			Owners:        []string{ownerC},
		},
		&extract.OwnersChanged{
			Meta:          meta(21, 0),
			WalletAddress: walletW1,
			Owners:        []string{ownerB},
			Removed:       true,
		},
	)

	ms := memberships(res)
	require.Len(t, ms, 2)
	assert.Equal(t, ownerC, ms[0].OwnerAddress)
	assert.Equal(t, multisig.MembershipStatusAdded, ms[0].Status)
	assert.Equal(t, ownerB, ms[1].OwnerAddress)
	assert.Equal(t, multisig.MembershipStatusRemoved, ms[1].Status)
}

func TestRemovedOwnerCannotVote(t *testing.T) {
	reader := newStubReader()
	reader.addWallet(walletW1, 2, ownerA, ownerB)
	reader.addTransaction(&project.TransactionState{
		WalletAddress:  walletW1,
		SequenceNumber: 1,
		Status:         multisig.TransactionStatusPending,
		PayloadHash:    "deadbeef",
		InitiatedBy:    ownerA,
		Votes:          map[string]bool{},
	})

	p := project.NewProjector(reader)
	_, err := p.Project(context.Background(), []extract.Event{
		&extract.OwnersChanged{
			Meta:          meta(20, 0),
			WalletAddress: walletW1,
			Owners:        []string{ownerB},
			Removed:       true,
		},
		vote(21, walletW1, 1, ownerB, true),
	})
	require.Error(t, err)

	var inconsistent *project.ConsistencyError
	require.True(t, errors.As(err, &inconsistent))
}

func TestContactsAndSpamAssets(t *testing.T) {
	res := projectEvents(t, project.NullStateReader{},
		&extract.ContactUpserted{Meta: meta(30, 0), WalletAddress: walletW1, ContactAddress: ownerB, ContactName: "ops"},
		&extract.ContactUpserted{Meta: meta(31, 0), WalletAddress: walletW1, ContactAddress: ownerB, ContactName: "treasury"},
		&extract.AssetSpamFlagged{Meta: meta(32, 0), Asset: "0x99::spam::Coin", IsSpam: true},
	)

	var contacts multisig.MultisigContactList
	var spam multisig.SpamAssetList
	for _, d := range res.Data {
		switch l := d.(type) {
		case multisig.MultisigContactList:
			contacts = l
		case multisig.SpamAssetList:
			spam = l
		}
	}

	// Later upsert for the same contact wins within a batch.
	require.Len(t, contacts, 1)
	assert.Equal(t, "treasury", contacts[0].ContactName)

	require.Len(t, spam, 1)
	assert.True(t, spam[0].IsSpam)
}
