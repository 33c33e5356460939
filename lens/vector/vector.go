package vector

import (
	"context"
	"encoding/json"
	"os"
	"sort"

	"golang.org/x/xerrors"

	"github.com/web3vx/aptos-indexer-processors/lens"
)

// A Vector is a file-backed lens: it serves a fixed set of transactions read
// from a JSON capture file. Used for backfills from exported captures and for
// replaying recorded sequences in tests.
type Vector struct {
	txs []*lens.RawTransaction
}

var _ lens.API = (*Vector)(nil)

type vectorFile struct {
	Transactions []*lens.RawTransaction `json:"transactions"`
}

func Load(path string) (*Vector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("read vector file: %w", err)
	}

	var vf vectorFile
	if err := json.Unmarshal(data, &vf); err != nil {
		return nil, xerrors.Errorf("parse vector file: %w", err)
	}

	sort.Slice(vf.Transactions, func(i, j int) bool {
		return vf.Transactions[i].Version < vf.Transactions[j].Version
	})

	return &Vector{txs: vf.Transactions}, nil
}

// New builds a vector directly from a transaction list. Transactions must be
// supplied in version order.
func New(txs []*lens.RawTransaction) *Vector {
	return &Vector{txs: txs}
}

func (v *Vector) LatestVersion(ctx context.Context) (uint64, error) {
	if len(v.txs) == 0 {
		return 0, xerrors.Errorf("vector holds no transactions")
	}
	return v.txs[len(v.txs)-1].Version, nil
}

func (v *Vector) GetTransactions(ctx context.Context, start, end uint64) ([]*lens.RawTransaction, error) {
	if end < start {
		return nil, xerrors.Errorf("invalid version range [%d,%d]", start, end)
	}
	var out []*lens.RawTransaction
	for _, tx := range v.txs {
		if tx.Version < start || tx.Version > end {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

// Opener satisfies lens.APIOpener for a vector file.
type Opener struct {
	Path string
}

func (o *Opener) Open(ctx context.Context) (lens.API, lens.APICloser, error) {
	v, err := Load(o.Path)
	if err != nil {
		return nil, nil, err
	}
	return v, func() {}, nil
}
