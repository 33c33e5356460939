package watch_test

import (
	"context"
	"testing"
	"time"

	"github.com/raulk/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3vx/aptos-indexer-processors/chain"
	"github.com/web3vx/aptos-indexer-processors/chain/commit"
	"github.com/web3vx/aptos-indexer-processors/chain/extract"
	"github.com/web3vx/aptos-indexer-processors/chain/project"
	"github.com/web3vx/aptos-indexer-processors/chain/watch"
	"github.com/web3vx/aptos-indexer-processors/lens"
	"github.com/web3vx/aptos-indexer-processors/lens/vector"
	"github.com/web3vx/aptos-indexer-processors/model/multisig"
	"github.com/web3vx/aptos-indexer-processors/model/processor"
	"github.com/web3vx/aptos-indexer-processors/storage"
	"github.com/web3vx/aptos-indexer-processors/testutil"
)

func newWatcher(api lens.API, store *storage.MemStorage, name string, opts ...watch.WatcherOpt) *watch.Watcher {
	mc := clock.NewMock()
	mc.Set(testutil.KnownTime)

	extractor := extract.NewExtractor(extract.DefaultTagSet())
	projector := project.NewProjector(project.NullStateReader{})
	indexer := chain.NewRangeIndexer(api, extractor, projector, name, mc)

	committer := commit.NewCommitter(store, commit.NewCursor(name, mc), commit.NewGuard(1))
	return watch.NewWatcher(api, indexer, committer, store, name, opts...)
}

func TestWatcherIndexesToHead(t *testing.T) {
	ts := testutil.KnownTime
	api := vector.New([]*lens.RawTransaction{
		testutil.Tx(1, ts, []lens.ResourceWrite{
			testutil.WalletChange("0xw1", []string{"0xa", "0xb"}, 2, ""),
		}),
		testutil.Tx(2, ts.Add(time.Second), nil,
			testutil.ProposeEvent("0xw1", 1, "0xa", `{"function":"transfer"}`, testutil.InitialVote{Owner: "0xa", Approved: true}),
		),
		testutil.Tx(3, ts.Add(2*time.Second), nil,
			testutil.VoteEvent("0xw1", 1, "0xb", true),
		),
	})

	store := storage.NewMemStorage()
	w := newWatcher(api, store, "watch_test", watch.WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		rows := store.Rows("processor_status")
		return len(rows) == 1 && rows[0].(*processor.Status).LastSuccessVersion == 3
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop after cancellation")
	}

	txns := store.Rows("multisig_transactions")
	require.Len(t, txns, 1)
	assert.Equal(t, multisig.TransactionStatusApproved, txns[0].(*multisig.MultisigTransaction).Status)
	assert.Len(t, store.Rows("multisig_voting_transactions"), 2)
}

func TestWatcherHaltsOnContradiction(t *testing.T) {
	// A vote for a transaction that was never proposed contradicts projected
	// state, which must halt ingestion rather than be retried.
	api := vector.New([]*lens.RawTransaction{
		testutil.Tx(1, testutil.KnownTime, []lens.ResourceWrite{
			testutil.WalletChange("0xw1", []string{"0xa"}, 1, ""),
		}),
		testutil.Tx(2, testutil.KnownTime.Add(time.Second), nil,
			testutil.VoteEvent("0xw1", 99, "0xa", true),
		),
	})

	store := storage.NewMemStorage()
	w := newWatcher(api, store, "watch_halt", watch.WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := w.Run(ctx)
	require.Error(t, err)
	require.NotErrorIs(t, err, context.DeadlineExceeded)

	var consistency *project.ConsistencyError
	require.ErrorAs(t, err, &consistency)

	reports := store.Rows("processing_reports")
	require.Len(t, reports, 1)
	report := reports[0].(*processor.ProcessingReport)
	assert.Equal(t, processor.ProcessingStatusError, report.Status)
	assert.NotEmpty(t, report.StatusInformation)

	// The failed cycle must not have advanced the cursor.
	assert.Empty(t, store.Rows("processor_status"))
}
