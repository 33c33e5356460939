package project

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"

	logging "github.com/ipfs/go-log/v2"
	sha256 "github.com/minio/sha256-simd"

	"github.com/web3vx/aptos-indexer-processors/chain/extract"
	"github.com/web3vx/aptos-indexer-processors/metrics"
	"github.com/web3vx/aptos-indexer-processors/model"
	"github.com/web3vx/aptos-indexer-processors/model/multisig"
)

var log = logging.Logger("processor/project")

// ConsistencyError reports an event stream that contradicts already projected
// state: a vote for a transaction that was never proposed, a duplicate
// sequence number with different content, an illegal status regression. It is
// fatal; retrying cannot repair a contradictory stream.
type ConsistencyError struct {
	TxnVersion uint64
	Wallet     string
	Reason     string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("inconsistent event at version %d wallet %s: %s", e.TxnVersion, e.Wallet, e.Reason)
}

// A Projector folds extracted events into row changes for the derived tables.
// Events must be supplied in ledger order; the projector resolves conflicts
// (vote replacement, status transitions, membership diffs) against state read
// through its StateReader plus everything applied earlier in the same batch.
type Projector struct {
	reader StateReader
}

func NewProjector(reader StateReader) *Projector {
	return &Projector{reader: reader}
}

// Result is the output of projecting one batch. Data holds the rows to
// persist; TouchedWallets names every wallet whose membership or threshold
// changed, so cached reader state can be invalidated once the batch commits.
type Result struct {
	Data           model.PersistableList
	TouchedWallets []string
}

// Project applies a batch of events in order. On a ConsistencyError or reader
// failure nothing is returned; the batch is all-or-nothing.
func (p *Projector) Project(ctx context.Context, events []extract.Event) (*Result, error) {
	stop := metrics.Timer(ctx, metrics.ProjectDuration)
	defer stop()

	ws := newBatchState(p.reader)
	for _, ev := range events {
		if err := ws.apply(ctx, ev, true); err != nil {
			return nil, err
		}
	}
	if err := ws.flush(ctx); err != nil {
		return nil, err
	}
	return ws.result(), nil
}

type txnKey struct {
	wallet string
	seq    uint64
}

type contactKey struct {
	wallet  string
	contact string
}

// walletWork is the in-batch working state of one wallet: the committed state
// merged with every change applied so far in the batch.
type walletWork struct {
	known     bool
	threshold uint32
	members   map[string]bool
	row       *multisig.MultisigWallet
	touched   bool
}

// txnWork is the in-batch working state of one proposed transaction. tally is
// the full vote map (committed plus batch); votes holds only the rows changed
// in this batch.
type txnWork struct {
	row   *multisig.MultisigTransaction
	tally map[string]bool
	votes map[string]*multisig.MultisigVote
	dirty bool
}

type batchState struct {
	reader StateReader

	wallets     map[string]*walletWork
	txns        map[txnKey]*txnWork
	owners      map[string]*multisig.MultisigOwner
	memberships []*multisig.OwnerWalletMembership
	contacts    map[contactKey]*multisig.MultisigContact
	spam        map[string]*multisig.SpamAsset

	// deferred holds votes and resolutions that arrived before their
	// proposal. They are retried at flush; any still unresolved is a
	// consistency error.
	deferred []extract.Event
}

func newBatchState(reader StateReader) *batchState {
	return &batchState{
		reader:   reader,
		wallets:  map[string]*walletWork{},
		txns:     map[txnKey]*txnWork{},
		owners:   map[string]*multisig.MultisigOwner{},
		contacts: map[contactKey]*multisig.MultisigContact{},
		spam:     map[string]*multisig.SpamAsset{},
	}
}

func (s *batchState) apply(ctx context.Context, ev extract.Event, allowDefer bool) error {
	switch ev := ev.(type) {
	case *extract.WalletSnapshot:
		return s.applyWalletSnapshot(ctx, ev)
	case *extract.OwnersChanged:
		return s.applyOwnersChanged(ctx, ev)
	case *extract.TransactionProposed:
		return s.applyProposed(ctx, ev)
	case *extract.VoteCast:
		return s.applyVote(ctx, ev, allowDefer)
	case *extract.TransactionResolved:
		return s.applyResolved(ctx, ev, allowDefer)
	case *extract.ContactUpserted:
		return s.applyContact(ev)
	case *extract.AssetSpamFlagged:
		return s.applySpamFlag(ev)
	default:
		return fmt.Errorf("unhandled event type %T", ev)
	}
}

// flush retries deferred events now that the whole batch has been applied.
func (s *batchState) flush(ctx context.Context) error {
	deferred := s.deferred
	s.deferred = nil
	for _, ev := range deferred {
		if err := s.apply(ctx, ev, false); err != nil {
			return err
		}
	}
	return nil
}

func (s *batchState) wallet(ctx context.Context, addr string) (*walletWork, error) {
	if w, ok := s.wallets[addr]; ok {
		return w, nil
	}
	w := &walletWork{members: map[string]bool{}}
	committed, err := s.reader.Wallet(ctx, addr)
	if err != nil {
		return nil, err
	}
	if committed != nil {
		w.known = true
		w.threshold = committed.RequiredSignatures
		for owner, member := range committed.Members {
			w.members[owner] = member
		}
	}
	s.wallets[addr] = w
	return w, nil
}

func (s *batchState) transaction(ctx context.Context, key txnKey) (*txnWork, error) {
	if t, ok := s.txns[key]; ok {
		return t, nil
	}
	committed, err := s.reader.Transaction(ctx, key.wallet, key.seq)
	if err != nil {
		return nil, err
	}
	if committed == nil {
		return nil, nil
	}
	t := &txnWork{
		row: &multisig.MultisigTransaction{
			WalletAddress:  key.wallet,
			SequenceNumber: key.seq,
			Version:        committed.Version,
			InitiatedBy:    committed.InitiatedBy,
			Payload:        committed.Payload,
			PayloadHash:    committed.PayloadHash,
			Status:         committed.Status,
			CreatedAt:      committed.CreatedAt,
		},
		tally: map[string]bool{},
		votes: map[string]*multisig.MultisigVote{},
	}
	for owner, v := range committed.Votes {
		t.tally[owner] = v
	}
	s.txns[key] = t
	return t, nil
}

func (s *batchState) ensureOwner(addr string, ev extract.Event) {
	if _, ok := s.owners[addr]; ok {
		return
	}
	s.owners[addr] = &multisig.MultisigOwner{
		OwnerAddress: addr,
		CreatedAt:    ev.Timestamp(),
	}
}

func (s *batchState) applyWalletSnapshot(ctx context.Context, ev *extract.WalletSnapshot) error {
	if ev.RequiredSignatures == 0 || int(ev.RequiredSignatures) > len(ev.Owners) {
		return &ConsistencyError{
			TxnVersion: ev.Version(),
			Wallet:     ev.WalletAddress,
			Reason:     fmt.Sprintf("threshold %d is not satisfiable by %d owners", ev.RequiredSignatures, len(ev.Owners)),
		}
	}

	w, err := s.wallet(ctx, ev.WalletAddress)
	if err != nil {
		return err
	}

	next := make(map[string]bool, len(ev.Owners))
	for _, owner := range ev.Owners {
		next[owner] = true
		if !w.members[owner] {
			s.ensureOwner(owner, ev)
			s.memberships = append(s.memberships, &multisig.OwnerWalletMembership{
				WalletAddress: ev.WalletAddress,
				OwnerAddress:  owner,
				Version:       ev.Version(),
				Status:        multisig.MembershipStatusAdded,
				CreatedAt:     ev.Timestamp(),
			})
		}
	}
	for owner, member := range w.members {
		if member && !next[owner] {
			s.memberships = append(s.memberships, &multisig.OwnerWalletMembership{
				WalletAddress: ev.WalletAddress,
				OwnerAddress:  owner,
				Version:       ev.Version(),
				Status:        multisig.MembershipStatusRemoved,
				CreatedAt:     ev.Timestamp(),
			})
		}
	}

	metadata := string(ev.Metadata)
	if metadata == "" {
		metadata = "{}"
	}
	w.row = &multisig.MultisigWallet{
		WalletAddress:      ev.WalletAddress,
		RequiredSignatures: int32(ev.RequiredSignatures),
		Metadata:           metadata,
		CreatedAt:          ev.Timestamp(),
	}
	w.known = true
	w.threshold = ev.RequiredSignatures
	w.members = next
	w.touched = true
	return nil
}

func (s *batchState) applyOwnersChanged(ctx context.Context, ev *extract.OwnersChanged) error {
	w, err := s.wallet(ctx, ev.WalletAddress)
	if err != nil {
		return err
	}
	if !w.known {
		return &ConsistencyError{
			TxnVersion: ev.Version(),
			Wallet:     ev.WalletAddress,
			Reason:     "membership change for unknown wallet",
		}
	}

	status := multisig.MembershipStatusAdded
	if ev.Removed {
		status = multisig.MembershipStatusRemoved
	}
	for _, owner := range ev.Owners {
		if w.members[owner] == !ev.Removed {
			// Re-applied change, the snapshot in the same transaction
			// already produced the row.
			continue
		}
		if !ev.Removed {
			s.ensureOwner(owner, ev)
		}
		s.memberships = append(s.memberships, &multisig.OwnerWalletMembership{
			WalletAddress: ev.WalletAddress,
			OwnerAddress:  owner,
			Version:       ev.Version(),
			Status:        status,
			CreatedAt:     ev.Timestamp(),
		})
		w.members[owner] = !ev.Removed
	}
	w.touched = true
	return nil
}

func (s *batchState) applyProposed(ctx context.Context, ev *extract.TransactionProposed) error {
	w, err := s.wallet(ctx, ev.WalletAddress)
	if err != nil {
		return err
	}
	if !w.known {
		return &ConsistencyError{
			TxnVersion: ev.Version(),
			Wallet:     ev.WalletAddress,
			Reason:     fmt.Sprintf("proposal %d for unknown wallet", ev.SequenceNumber),
		}
	}
	if !w.members[ev.Creator] {
		return &ConsistencyError{
			TxnVersion: ev.Version(),
			Wallet:     ev.WalletAddress,
			Reason:     fmt.Sprintf("proposal %d created by non-member %s", ev.SequenceNumber, ev.Creator),
		}
	}

	key := txnKey{wallet: ev.WalletAddress, seq: ev.SequenceNumber}
	hash := payloadHash(ev.Payload)

	existing, err := s.transaction(ctx, key)
	if err != nil {
		return err
	}
	if existing != nil {
		// The same proposal delivered again is an idempotent replay. The
		// same sequence number with different content means the stream
		// contradicts itself.
		if existing.row.PayloadHash != hash || existing.row.InitiatedBy != ev.Creator {
			return &ConsistencyError{
				TxnVersion: ev.Version(),
				Wallet:     ev.WalletAddress,
				Reason:     fmt.Sprintf("duplicate sequence number %d with different content", ev.SequenceNumber),
			}
		}
		log.Debugw("replayed proposal", "wallet", ev.WalletAddress, "sequence", ev.SequenceNumber)
		return nil
	}

	payload := string(ev.Payload)
	if payload == "" {
		payload = "null"
	}
	t := &txnWork{
		row: &multisig.MultisigTransaction{
			WalletAddress:  ev.WalletAddress,
			SequenceNumber: ev.SequenceNumber,
			Version:        ev.Version(),
			InitiatedBy:    ev.Creator,
			Payload:        payload,
			PayloadHash:    hash,
			Status:         multisig.TransactionStatusPending,
			CreatedAt:      ev.Timestamp(),
		},
		tally: map[string]bool{},
		votes: map[string]*multisig.MultisigVote{},
		dirty: true,
	}
	s.txns[key] = t

	for _, v := range ev.InitialVotes {
		t.tally[v.OwnerAddress] = v.Approved
		t.votes[v.OwnerAddress] = &multisig.MultisigVote{
			WalletAddress:       ev.WalletAddress,
			TransactionSequence: ev.SequenceNumber,
			OwnerAddress:        v.OwnerAddress,
			Value:               v.Approved,
			CreatedAt:           ev.Timestamp(),
		}
	}
	s.evaluateApproval(t, w)
	return nil
}

func (s *batchState) applyVote(ctx context.Context, ev *extract.VoteCast, allowDefer bool) error {
	key := txnKey{wallet: ev.WalletAddress, seq: ev.SequenceNumber}
	t, err := s.transaction(ctx, key)
	if err != nil {
		return err
	}
	if t == nil {
		if allowDefer {
			s.deferred = append(s.deferred, ev)
			return nil
		}
		return &ConsistencyError{
			TxnVersion: ev.Version(),
			Wallet:     ev.WalletAddress,
			Reason:     fmt.Sprintf("vote on unknown transaction %d", ev.SequenceNumber),
		}
	}

	w, err := s.wallet(ctx, ev.WalletAddress)
	if err != nil {
		return err
	}
	if !w.members[ev.OwnerAddress] {
		return &ConsistencyError{
			TxnVersion: ev.Version(),
			Wallet:     ev.WalletAddress,
			Reason:     fmt.Sprintf("vote on transaction %d by non-member %s", ev.SequenceNumber, ev.OwnerAddress),
		}
	}

	// Last write wins: a later vote from the same owner replaces the
	// earlier one.
	t.tally[ev.OwnerAddress] = ev.Approved
	t.votes[ev.OwnerAddress] = &multisig.MultisigVote{
		WalletAddress:       ev.WalletAddress,
		TransactionSequence: ev.SequenceNumber,
		OwnerAddress:        ev.OwnerAddress,
		Value:               ev.Approved,
		CreatedAt:           ev.Timestamp(),
	}
	s.evaluateApproval(t, w)
	return nil
}

func (s *batchState) applyResolved(ctx context.Context, ev *extract.TransactionResolved, allowDefer bool) error {
	key := txnKey{wallet: ev.WalletAddress, seq: ev.SequenceNumber}
	t, err := s.transaction(ctx, key)
	if err != nil {
		return err
	}
	if t == nil {
		if allowDefer {
			s.deferred = append(s.deferred, ev)
			return nil
		}
		return &ConsistencyError{
			TxnVersion: ev.Version(),
			Wallet:     ev.WalletAddress,
			Reason:     fmt.Sprintf("resolution of unknown transaction %d", ev.SequenceNumber),
		}
	}

	target := multisig.TransactionStatusExecuted
	if ev.Rejected {
		target = multisig.TransactionStatusRejected
	}
	if !t.row.Status.CanTransitionTo(target) {
		return &ConsistencyError{
			TxnVersion: ev.Version(),
			Wallet:     ev.WalletAddress,
			Reason:     fmt.Sprintf("transaction %d cannot move from %s to %s", ev.SequenceNumber, t.row.Status, target),
		}
	}

	// A successful execution of a still pending transaction means the chain
	// executed something the vote tally never authorized.
	if target == multisig.TransactionStatusExecuted && t.row.Status == multisig.TransactionStatusPending {
		w, err := s.wallet(ctx, ev.WalletAddress)
		if err != nil {
			return err
		}
		if t.approvals() < w.threshold {
			return &ConsistencyError{
				TxnVersion: ev.Version(),
				Wallet:     ev.WalletAddress,
				Reason:     fmt.Sprintf("transaction %d executed with %d of %d approvals", ev.SequenceNumber, t.approvals(), w.threshold),
			}
		}
	}

	ts := ev.Timestamp()
	t.row.Status = target
	t.row.ExecutedAt = &ts
	t.row.Executor = ev.Executor
	t.row.ExecutionFailed = ev.Failed
	t.dirty = true
	return nil
}

func (s *batchState) applyContact(ev *extract.ContactUpserted) error {
	key := contactKey{wallet: ev.WalletAddress, contact: ev.ContactAddress}
	s.contacts[key] = &multisig.MultisigContact{
		WalletAddress:  ev.WalletAddress,
		ContactAddress: ev.ContactAddress,
		ContactName:    ev.ContactName,
		CreatedAt:      ev.Timestamp(),
	}
	return nil
}

func (s *batchState) applySpamFlag(ev *extract.AssetSpamFlagged) error {
	s.spam[ev.Asset] = &multisig.SpamAsset{
		Asset:       ev.Asset,
		IsSpam:      ev.IsSpam,
		LastUpdated: ev.Timestamp(),
	}
	return nil
}

// approvals counts the approving votes in the current tally.
func (t *txnWork) approvals() uint32 {
	n := uint32(0)
	for _, approved := range t.tally {
		if approved {
			n++
		}
	}
	return n
}

// evaluateApproval flips a pending transaction to approved once the approve
// tally reaches the wallet threshold. The move is one way: losing an approval
// afterwards does not return the transaction to pending.
func (s *batchState) evaluateApproval(t *txnWork, w *walletWork) {
	if t.row.Status != multisig.TransactionStatusPending {
		return
	}
	if w.threshold > 0 && t.approvals() >= w.threshold {
		t.row.Status = multisig.TransactionStatusApproved
		t.dirty = true
	}
}

// result assembles the dirty rows in a deterministic order: parents before
// the rows referencing them, and sorted within each table so that concurrent
// writers can never deadlock on row lock order.
func (s *batchState) result() *Result {
	res := &Result{}

	owners := make(multisig.MultisigOwnerList, 0, len(s.owners))
	for _, o := range s.owners {
		owners = append(owners, o)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i].OwnerAddress < owners[j].OwnerAddress })
	if len(owners) > 0 {
		res.Data = append(res.Data, owners)
	}

	wallets := make(multisig.MultisigWalletList, 0, len(s.wallets))
	for addr, w := range s.wallets {
		if w.row != nil {
			wallets = append(wallets, w.row)
		}
		if w.touched {
			res.TouchedWallets = append(res.TouchedWallets, addr)
		}
	}
	sort.Slice(wallets, func(i, j int) bool { return wallets[i].WalletAddress < wallets[j].WalletAddress })
	if len(wallets) > 0 {
		res.Data = append(res.Data, wallets)
	}
	sort.Strings(res.TouchedWallets)

	if len(s.memberships) > 0 {
		res.Data = append(res.Data, multisig.OwnerWalletMembershipList(s.memberships))
	}

	txns := make(multisig.MultisigTransactionList, 0, len(s.txns))
	votes := multisig.MultisigVoteList{}
	for _, t := range s.txns {
		if t.dirty {
			txns = append(txns, t.row)
		}
		for _, v := range t.votes {
			votes = append(votes, v)
		}
	}
	sort.Slice(txns, func(i, j int) bool {
		if txns[i].WalletAddress != txns[j].WalletAddress {
			return txns[i].WalletAddress < txns[j].WalletAddress
		}
		return txns[i].SequenceNumber < txns[j].SequenceNumber
	})
	sort.Slice(votes, func(i, j int) bool {
		if votes[i].WalletAddress != votes[j].WalletAddress {
			return votes[i].WalletAddress < votes[j].WalletAddress
		}
		if votes[i].TransactionSequence != votes[j].TransactionSequence {
			return votes[i].TransactionSequence < votes[j].TransactionSequence
		}
		return votes[i].OwnerAddress < votes[j].OwnerAddress
	})
	if len(txns) > 0 {
		res.Data = append(res.Data, txns)
	}
	if len(votes) > 0 {
		res.Data = append(res.Data, votes)
	}

	contacts := make(multisig.MultisigContactList, 0, len(s.contacts))
	for _, c := range s.contacts {
		contacts = append(contacts, c)
	}
	sort.Slice(contacts, func(i, j int) bool {
		if contacts[i].WalletAddress != contacts[j].WalletAddress {
			return contacts[i].WalletAddress < contacts[j].WalletAddress
		}
		return contacts[i].ContactAddress < contacts[j].ContactAddress
	})
	if len(contacts) > 0 {
		res.Data = append(res.Data, contacts)
	}

	spam := make(multisig.SpamAssetList, 0, len(s.spam))
	for _, a := range s.spam {
		spam = append(spam, a)
	}
	sort.Slice(spam, func(i, j int) bool { return spam[i].Asset < spam[j].Asset })
	if len(spam) > 0 {
		res.Data = append(res.Data, spam)
	}

	return res
}

func payloadHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
