package commands

import (
	"github.com/raulk/clock"
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/web3vx/aptos-indexer-processors/chain/extract"
	"github.com/web3vx/aptos-indexer-processors/chain/gap"
)

var GapCmd = &cli.Command{
	Name:  "gap",
	Usage: "Find and fill gaps in the indexed version range.",
	Subcommands: []*cli.Command{
		gapFindCmd,
		gapFillCmd,
	},
}

var gapFindCmd = &cli.Command{
	Name:  "find",
	Usage: "Record version ranges not covered by any successful processing report.",
	Flags: append([]cli.Flag{
		&cli.Uint64Flag{
			Name:     "from",
			Usage:    "First ledger `VERSION` to scan",
			Required: true,
		},
		&cli.Uint64Flag{
			Name:     "to",
			Usage:    "Last ledger `VERSION` to scan",
			Required: true,
		},
	}, commonFlags...),
	Action: func(cctx *cli.Context) error {
		if err := setupLogging(cctx); err != nil {
			return xerrors.Errorf("setup logging: %w", err)
		}

		ctx := cctx.Context
		conf, err := loadConf(cctx)
		if err != nil {
			return err
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

		finder := gap.NewFinder(db, conf.Indexer.Name, cctx.Uint64("from"), cctx.Uint64("to"), clock.New())
		return finder.Run(ctx)
	},
}

var gapFillCmd = &cli.Command{
	Name:  "fill",
	Usage: "Re-index the version ranges recorded by gap find.",
	Flags: append([]cli.Flag{
		&cli.Uint64Flag{
			Name:  "batch-size",
			Usage: "Maximum number of versions per committed batch",
			Value: 100,
		},
	}, commonFlags...),
	Action: func(cctx *cli.Context) error {
		if err := setupLogging(cctx); err != nil {
			return xerrors.Errorf("setup logging: %w", err)
		}

		ctx := cctx.Context
		conf, err := loadConf(cctx)
		if err != nil {
			return err
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

		api, closer, err := setupLens(ctx, conf)
		if err != nil {
			return xerrors.Errorf("open lens: %w", err)
		}
		defer closer()

		extractor := extract.NewExtractor(tagSet(conf))
		filler := gap.NewFiller(db, api, extractor, conf.Indexer.Name, cctx.Uint64("batch-size"), clock.New())
		return filler.Run(ctx)
	},
}
