package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"

	"github.com/web3vx/aptos-indexer-processors/commands"
	"github.com/web3vx/aptos-indexer-processors/version"
)

var log = logging.Logger("processor")

func main() {
	if err := logging.SetLogLevel("*", "info"); err != nil {
		log.Fatal(err)
	}

	app := &cli.App{
		Name:    "multisig-processor",
		Usage:   "Index multisig wallet activity from a ledger into Postgres",
		Version: version.String(),
		Commands: []*cli.Command{
			commands.InitCmd,
			commands.RunCmd,
			commands.MigrateCmd,
			commands.WatchCmd,
			commands.WalkCmd,
			commands.GapCmd,
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		if ctx.Err() == context.Canceled {
			log.Info("shutdown")
			return
		}
		log.Fatal(err)
	}
}
