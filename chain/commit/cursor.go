package commit

import (
	"context"

	"github.com/go-pg/pg/v10"
	"github.com/raulk/clock"
	"golang.org/x/xerrors"

	"github.com/web3vx/aptos-indexer-processors/model/processor"
	"github.com/web3vx/aptos-indexer-processors/storage"
)

// Cursor tracks the last durably committed ledger version for a named
// processor. The cursor row is never written on its own: Row produces the
// model that the committer persists inside the same transaction as the
// batch's data.
type Cursor struct {
	Name  string
	Clock clock.Clock
}

func NewCursor(name string, c clock.Clock) *Cursor {
	if c == nil {
		c = clock.New()
	}
	return &Cursor{Name: name, Clock: c}
}

// Load reads the committed cursor. found is false when the processor has
// never committed a batch.
func (c *Cursor) Load(ctx context.Context, db *storage.Database) (version uint64, found bool, err error) {
	status := &processor.Status{}
	err = db.AsORM().ModelContext(ctx, status).
		Where("processor = ?", c.Name).
		Select()
	if err == pg.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, xerrors.Errorf("load cursor for %s: %w", c.Name, err)
	}
	return status.LastSuccessVersion, true, nil
}

// Row is the cursor advance for a batch ending at version, for inclusion in
// that batch's transaction.
func (c *Cursor) Row(version uint64) *processor.Status {
	return &processor.Status{
		Processor:          c.Name,
		LastSuccessVersion: version,
		LastUpdated:        c.Clock.Now(),
	}
}
