package commands

import (
	"context"
	"time"

	"github.com/raulk/clock"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/web3vx/aptos-indexer-processors/chain/commit"
	"github.com/web3vx/aptos-indexer-processors/chain/extract"
	"github.com/web3vx/aptos-indexer-processors/chain/gap"
	"github.com/web3vx/aptos-indexer-processors/chain/watch"
	"github.com/web3vx/aptos-indexer-processors/lens"
	"github.com/web3vx/aptos-indexer-processors/schedule"
	"github.com/web3vx/aptos-indexer-processors/storage"
)

var RunCmd = &cli.Command{
	Name:  "run",
	Usage: "Run the processor daemon: watch the ledger head and periodically check for gaps.",
	Flags: append([]cli.Flag{
		&cli.Uint64Flag{
			Name:  "start-version",
			Usage: "Ledger `VERSION` to begin at when no cursor exists yet",
		},
		&cli.DurationFlag{
			Name:  "gap-check-interval",
			Usage: "How often to scan for gaps, 0 disables the scan",
			Value: 0,
		},
		&cli.DurationFlag{
			Name:  "db-wait",
			Usage: "How long to wait between attempts for the database to become ready on startup",
			Value: 5 * time.Second,
		},
		&cli.BoolFlag{
			Name:  "restart-on-failure",
			Usage: "Restart the watch job when it halts with a fatal error",
		},
	}, commonFlags...),
	Action: func(cctx *cli.Context) error {
		if err := setupLogging(cctx); err != nil {
			return xerrors.Errorf("setup logging: %w", err)
		}
		if err := setupMetrics(cctx); err != nil {
			return xerrors.Errorf("setup metrics: %w", err)
		}

		ctx := cctx.Context
		conf, err := loadConf(cctx)
		if err != nil {
			return err
		}
		if cctx.IsSet("start-version") {
			conf.Indexer.StartVersion = cctx.Uint64("start-version")
		}

		db, err := setupStorage(cctx, conf)
		if err != nil {
			return xerrors.Errorf("connect database: %w", err)
		}
		defer func() {
			if err := db.Close(ctx); err != nil {
				log.Errorw("close database", "error", err)
			}
		}()
		if err := db.WaitUntilReady(ctx, cctx.Duration("db-wait")); err != nil {
			return xerrors.Errorf("wait for database: %w", err)
		}
		if err := db.VerifyCurrentSchema(ctx); err != nil {
			return xerrors.Errorf("verify schema: %w", err)
		}

		api, closer, err := setupLens(ctx, conf)
		if err != nil {
			return xerrors.Errorf("open lens: %w", err)
		}
		defer closer()

		indexer, committer, err := buildPipeline(ctx, conf, db, api, conf.Indexer.Name, conf.Indexer.StartVersion)
		if err != nil {
			return xerrors.Errorf("build pipeline: %w", err)
		}

		watcher := watch.NewWatcher(api, indexer, committer, db, conf.Indexer.Name,
			watch.WithBatchSize(conf.Indexer.BatchSize),
			watch.WithConcurrentFetchers(conf.Indexer.Fetchers),
			watch.WithPollInterval(time.Duration(conf.Indexer.PollInterval)),
		)

		jobs := []*schedule.JobConfig{
			{
				Name:             "watch",
				Job:              watcher,
				Locker:           db.Lock(storage.IndexerLock),
				RestartOnFailure: cctx.Bool("restart-on-failure"),
				RestartDelay:     30 * time.Second,
			},
		}

		if interval := cctx.Duration("gap-check-interval"); interval > 0 {
			jobs = append(jobs, &schedule.JobConfig{
				Name: "gap-scan",
				Job: &gapScan{
					db:           db,
					api:          api,
					extractor:    extract.NewExtractor(tagSet(conf)),
					name:         conf.Indexer.Name,
					startVersion: conf.Indexer.StartVersion,
					batchSize:    conf.Indexer.BatchSize,
				},
				RestartOnCompletion: true,
				RestartOnFailure:    true,
				RestartDelay:        interval,
			})
		}

		return schedule.NewScheduler(0, jobs...).Run(ctx)
	},
}

// gapScan is one pass of gap detection over the committed range: find gaps
// behind the watch cursor, then fill them.
type gapScan struct {
	db           *storage.Database
	api          lens.API
	extractor    *extract.Extractor
	name         string
	startVersion uint64
	batchSize    uint64
}

func (g *gapScan) Run(ctx context.Context) error {
	cursor := commit.NewCursor(g.name, clock.New())
	version, found, err := cursor.Load(ctx, g.db)
	if err != nil {
		return err
	}
	if !found || version <= g.startVersion {
		return nil
	}

	finder := gap.NewFinder(g.db, g.name, g.startVersion, version, clock.New())
	if err := finder.Run(ctx); err != nil {
		return err
	}

	filler := gap.NewFiller(g.db, g.api, g.extractor, g.name, g.batchSize, clock.New())
	return filler.Run(ctx)
}
