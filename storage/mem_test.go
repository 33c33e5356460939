package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3vx/aptos-indexer-processors/model/multisig"
	"github.com/web3vx/aptos-indexer-processors/storage"
	"github.com/web3vx/aptos-indexer-processors/testutil"
)

func TestMemStorageGroupsByTable(t *testing.T) {
	store := storage.NewMemStorage()

	wallet := &multisig.MultisigWallet{WalletAddress: "0xw1", RequiredSignatures: 2, Metadata: "{}", CreatedAt: testutil.KnownTime}
	owner := &multisig.MultisigOwner{OwnerAddress: "0xa", CreatedAt: testutil.KnownTime}
	require.NoError(t, store.PersistBatch(context.Background(), wallet, owner))

	assert.Len(t, store.Rows("multisig_wallets"), 1)
	assert.Len(t, store.Rows("multisig_owners"), 1)
	assert.Empty(t, store.Rows("multisig_transactions"))
}

func TestMemStorageReplacesRowsByPrimaryKey(t *testing.T) {
	store := storage.NewMemStorage()
	ctx := context.Background()

	require.NoError(t, store.PersistBatch(ctx, &multisig.MultisigWallet{WalletAddress: "0xw1", RequiredSignatures: 2, Metadata: "{}", CreatedAt: testutil.KnownTime}))
	require.NoError(t, store.PersistBatch(ctx, &multisig.MultisigWallet{WalletAddress: "0xw1", RequiredSignatures: 3, Metadata: "{}", CreatedAt: testutil.KnownTime}))
	require.NoError(t, store.PersistBatch(ctx, &multisig.MultisigWallet{WalletAddress: "0xw2", RequiredSignatures: 1, Metadata: "{}", CreatedAt: testutil.KnownTime}))

	rows := store.Rows("multisig_wallets")
	require.Len(t, rows, 2)
	assert.Equal(t, int32(3), rows[0].(*multisig.MultisigWallet).RequiredSignatures)
}

func TestMemStoragePersistsLists(t *testing.T) {
	store := storage.NewMemStorage()

	list := multisig.MultisigOwnerList{
		{OwnerAddress: "0xa", CreatedAt: testutil.KnownTime},
		{OwnerAddress: "0xb", CreatedAt: testutil.KnownTime},
	}
	require.NoError(t, store.PersistBatch(context.Background(), list))
	assert.Len(t, store.Rows("multisig_owners"), 2)
}
