package commands

import (
	"github.com/urfave/cli/v2"
	"golang.org/x/xerrors"

	"github.com/web3vx/aptos-indexer-processors/model"
)

var MigrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "Report and verify the current database schema version. Use --to or --latest to perform a schema migration.",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:  "to",
			Usage: "Migrate the schema to `VERSION`.",
		},
		&cli.BoolFlag{
			Name:  "latest",
			Value: false,
			Usage: "Migrate the schema to the latest version.",
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

		if cctx.IsSet("to") {
			target, err := model.ParseVersion(cctx.String("to"))
			if err != nil {
				return xerrors.Errorf("parse target version: %w", err)
			}
			if err := db.MigrateSchemaTo(ctx, target); err != nil {
				return xerrors.Errorf("migrate schema to: %w", err)
			}
		} else if cctx.Bool("latest") {
			if err := db.MigrateSchema(ctx); err != nil {
				return xerrors.Errorf("migrate schema: %w", err)
			}
		}

		dbVersion, latestVersion, err := db.GetSchemaVersions(ctx)
		if err != nil {
			return xerrors.Errorf("get schema versions: %w", err)
		}
		log.Infof("current database schema is version %s, latest is %s", dbVersion, latestVersion)

		if err := db.VerifyCurrentSchema(ctx); err != nil {
			return xerrors.Errorf("verify schema: %w", err)
		}
		return nil
	},
}
