package commands

import (
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/web3vx/aptos-indexer-processors/chain/watch"
)

var WatchCmd = &cli.Command{
	Name:  "watch",
	Usage: "Index the ledger continuously by following its head.",
	Flags: append([]cli.Flag{
		&cli.Uint64Flag{
			Name:  "start-version",
			Usage: "Ledger `VERSION` to begin at when no cursor exists yet",
		},
		&cli.Uint64Flag{
			Name:  "batch-size",
			Usage: "Maximum number of versions per committed batch",
			Value: 100,
		},
		&cli.IntFlag{
			Name:  "fetchers",
			Usage: "Number of sub-ranges fetched and extracted in parallel",
			Value: 4,
		},
		&cli.DurationFlag{
			Name:  "poll-interval",
			Usage: "How long to wait between head polls when caught up",
			Value: time.Second,
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
		if cctx.IsSet("batch-size") {
			conf.Indexer.BatchSize = cctx.Uint64("batch-size")
		}
		if cctx.IsSet("fetchers") {
			conf.Indexer.Fetchers = cctx.Int("fetchers")
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

		pollInterval := time.Duration(conf.Indexer.PollInterval)
		if cctx.IsSet("poll-interval") {
			pollInterval = cctx.Duration("poll-interval")
		}

		watcher := watch.NewWatcher(api, indexer, committer, db, conf.Indexer.Name,
			watch.WithBatchSize(conf.Indexer.BatchSize),
			watch.WithConcurrentFetchers(conf.Indexer.Fetchers),
			watch.WithPollInterval(pollInterval),
		)

		log.Infow("starting watch", "name", conf.Indexer.Name, "from", committer.Next())
		return watcher.Run(ctx)
	},
}
