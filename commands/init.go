package commands

import (
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/web3vx/aptos-indexer-processors/config"
)

var InitCmd = &cli.Command{
	Name:  "init",
	Usage: "Write a default config file and initialize the database schema.",
	Flags: append([]cli.Flag{
		&cli.BoolFlag{
			Name:  "skip-migrate",
			Usage: "Do not initialize the database schema",
		},
	}, commonFlags...),
	Action: func(cctx *cli.Context) error {
		if err := setupLogging(cctx); err != nil {
			return xerrors.Errorf("setup logging: %w", err)
		}

		if path := cctx.String("config"); path != "" {
			if err := config.EnsureExists(path); err != nil {
				return xerrors.Errorf("ensure config exists: %w", err)
			}
			log.Infof("config file at %s", path)
		}

		if cctx.Bool("skip-migrate") {
			return nil
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

		if err := db.MigrateSchema(ctx); err != nil {
			return xerrors.Errorf("migrate schema: %w", err)
		}
		log.Info("database schema initialized")
		return nil
	},
}
