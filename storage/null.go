package storage

import (
	"context"

	"github.com/web3vx/aptos-indexer-processors/model"
)

var _ model.Storage = (*NullStorage)(nil)

// A NullStorage ignores any requests to persist a model
type NullStorage struct {
}

func (*NullStorage) PersistBatch(ctx context.Context, p ...model.Persistable) error {
	return nil
}

func (*NullStorage) PersistModel(ctx context.Context, m interface{}) error {
	return nil
}
