package vector_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3vx/aptos-indexer-processors/lens"
	"github.com/web3vx/aptos-indexer-processors/lens/vector"
	"github.com/web3vx/aptos-indexer-processors/testutil"
)

func testVector() *vector.Vector {
	ts := testutil.KnownTime
	return vector.New([]*lens.RawTransaction{
		testutil.Tx(5, ts, nil),
		testutil.Tx(6, ts.Add(time.Second), nil),
		testutil.Tx(8, ts.Add(2*time.Second), nil),
	})
}

func TestVectorLatestVersion(t *testing.T) {
	head, err := testVector().LatestVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(8), head)

	_, err = vector.New(nil).LatestVersion(context.Background())
	require.Error(t, err)
}

func TestVectorGetTransactions(t *testing.T) {
	v := testVector()

	txs, err := v.GetTransactions(context.Background(), 5, 6)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, uint64(5), txs[0].Version)
	assert.Equal(t, uint64(6), txs[1].Version)

	// Version 7 is absent from the capture, so the range comes back short
	// rather than padded.
	txs, err = v.GetTransactions(context.Background(), 6, 8)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	txs, err = v.GetTransactions(context.Background(), 100, 200)
	require.NoError(t, err)
	assert.Empty(t, txs)

	_, err = v.GetTransactions(context.Background(), 6, 5)
	require.Error(t, err)
}

func TestVectorLoadSortsByVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.json")
	data := `{
		"transactions": [
			{"version": 12, "hash": "0xc", "timestamp": "2020-09-29T10:33:20Z"},
			{"version": 10, "hash": "0xa", "timestamp": "2020-09-29T10:33:20Z"},
			{"version": 11, "hash": "0xb", "timestamp": "2020-09-29T10:33:20Z"}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	v, err := vector.Load(path)
	require.NoError(t, err)

	head, err := v.LatestVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(12), head)

	txs, err := v.GetTransactions(context.Background(), 10, 12)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, "0xa", txs[0].Hash)
	assert.Equal(t, "0xb", txs[1].Hash)
	assert.Equal(t, "0xc", txs[2].Hash)
}

func TestVectorLoadRejectsBadFile(t *testing.T) {
	_, err := vector.Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "garbage.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
	_, err = vector.Load(path)
	require.Error(t, err)
}

func TestOpener(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"transactions":[{"version":1,"timestamp":"2020-09-29T10:33:20Z"}]}`), 0o644))

	opener := &vector.Opener{Path: path}
	api, closer, err := opener.Open(context.Background())
	require.NoError(t, err)
	defer closer()

	head, err := api.LatestVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), head)
}
