package commands

import (
	"context"

	"github.com/raulk/clock"

	"github.com/web3vx/aptos-indexer-processors/chain"
	"github.com/web3vx/aptos-indexer-processors/chain/commit"
	"github.com/web3vx/aptos-indexer-processors/chain/extract"
	"github.com/web3vx/aptos-indexer-processors/chain/project"
	"github.com/web3vx/aptos-indexer-processors/config"
	"github.com/web3vx/aptos-indexer-processors/lens"
	"github.com/web3vx/aptos-indexer-processors/storage"
)

// buildPipeline wires the extract, project and commit stages for a job. The
// committer's guard is seeded from the job's cursor, or from startVersion on
// first run.
func buildPipeline(ctx context.Context, conf *config.Conf, db *storage.Database, api lens.API, name string, startVersion uint64) (*chain.RangeIndexer, *commit.Committer, error) {
	cacheSize := conf.Indexer.CacheSize
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	reader, err := project.NewDatabaseStateReader(db, cacheSize)
	if err != nil {
		return nil, nil, err
	}

	clk := clock.New()
	cursor := commit.NewCursor(name, clk)
	version, found, err := cursor.Load(ctx, db)
	if err != nil {
		return nil, nil, err
	}
	guard := commit.NewGuardFromCursor(version, found, startVersion)
	committer := commit.NewCommitter(db, cursor, guard, commit.WithInvalidator(reader.Invalidate))

	extractor := extract.NewExtractor(tagSet(conf))
	projector := project.NewProjector(reader)
	indexer := chain.NewRangeIndexer(api, extractor, projector, name, clk)
	return indexer, committer, nil
}
