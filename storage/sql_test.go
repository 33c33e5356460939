package storage_test

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3vx/aptos-indexer-processors/model/multisig"
	"github.com/web3vx/aptos-indexer-processors/model/processor"
	"github.com/web3vx/aptos-indexer-processors/storage"
	"github.com/web3vx/aptos-indexer-processors/testutil"
)

func TestIsTransientError(t *testing.T) {
	assert.False(t, storage.IsTransientError(nil))
	assert.False(t, storage.IsTransientError(errors.New("relation does not exist")))

	assert.True(t, storage.IsTransientError(io.EOF))
	assert.True(t, storage.IsTransientError(context.DeadlineExceeded))
	assert.True(t, storage.IsTransientError(&net.OpError{Op: "dial", Err: errors.New("connection refused")}))

	// Wrapped errors are unwrapped before classification.
	assert.True(t, storage.IsTransientError(errors.Join(errors.New("persist batch"), io.EOF)))
}

func TestDatabaseRoundTrip(t *testing.T) {
	if !testutil.DatabaseAvailable() {
		t.Skip("set PROCESSOR_TEST_DB to run database tests")
	}
	ctx := context.Background()

	db, err := storage.NewDatabase(ctx, testutil.Database(), 5, "processor-test", "public")
	require.NoError(t, err)
	require.NoError(t, db.MigrateSchema(ctx))
	require.NoError(t, db.Connect(ctx))
	defer func() { require.NoError(t, db.Close(ctx)) }()

	wallet := &multisig.MultisigWallet{
		WalletAddress:      "0x00000000000000000000000000000000000000000000000000000000000000w1",
		RequiredSignatures: 2,
		Metadata:           "{}",
		CreatedAt:          testutil.KnownTime,
	}
	status := &processor.Status{
		Processor:          "storage_test",
		LastSuccessVersion: 42,
		LastUpdated:        testutil.KnownTime,
	}
	require.NoError(t, db.PersistBatch(ctx, wallet, status))

	// Upserting the same keys must not error and must take the new values.
	wallet.RequiredSignatures = 3
	status.LastSuccessVersion = 43
	require.NoError(t, db.PersistBatch(ctx, wallet, status))

	var got multisig.MultisigWallet
	err = db.AsORM().ModelContext(ctx, &got).
		Where("wallet_address = ?", wallet.WalletAddress).
		Select()
	require.NoError(t, err)
	assert.Equal(t, int32(3), got.RequiredSignatures)

	var cur processor.Status
	err = db.AsORM().ModelContext(ctx, &cur).
		Where("processor = ?", "storage_test").
		Select()
	require.NoError(t, err)
	assert.Equal(t, uint64(43), cur.LastSuccessVersion)
}
