package commands

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"strings"
	"time"

	"contrib.go.opencensus.io/exporter/prometheus"
	logging "github.com/ipfs/go-log/v2"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.opencensus.io/stats/view"
	"golang.org/x/xerrors"

	"github.com/web3vx/aptos-indexer-processors/chain/extract"
	"github.com/web3vx/aptos-indexer-processors/config"
	"github.com/web3vx/aptos-indexer-processors/lens"
	"github.com/web3vx/aptos-indexer-processors/lens/vector"
	"github.com/web3vx/aptos-indexer-processors/metrics"
	"github.com/web3vx/aptos-indexer-processors/storage"
	"github.com/web3vx/aptos-indexer-processors/version"
)

var log = logging.Logger("processor/commands")

var commonFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		EnvVars: []string{"PROCESSOR_CONFIG"},
		Usage:   "Path to the TOML config `FILE`",
	},
	&cli.StringFlag{
		Name:    "db",
		EnvVars: []string{"PROCESSOR_DB"},
		Usage:   "Postgres connection `URL`, overrides the config file",
	},
	&cli.IntFlag{
		Name:    "db-pool-size",
		EnvVars: []string{"PROCESSOR_DB_POOL_SIZE"},
		Value:   20,
	},
	&cli.StringFlag{
		Name:    "db-schema",
		EnvVars: []string{"PROCESSOR_DB_SCHEMA"},
		Usage:   "Postgres schema `NAME` holding the processor tables",
		Value:   "public",
	},
	&cli.StringFlag{
		Name:    "name",
		EnvVars: []string{"PROCESSOR_NAME"},
		Usage:   "Name of this processor instance, used as its cursor key and report signature",
	},
	&cli.StringFlag{
		Name:    "lens",
		EnvVars: []string{"PROCESSOR_LENS"},
		Usage:   "Path to the transaction source, overrides the config file",
	},
	&cli.StringFlag{
		Name:    "log-level",
		EnvVars: []string{"GOLOG_LOG_LEVEL"},
		Value:   "info",
		Usage:   "Set the default log level for all loggers to `LEVEL`",
	},
	&cli.StringFlag{
		Name:    "log-level-named",
		EnvVars: []string{"PROCESSOR_LOG_LEVEL_NAMED"},
		Usage:   "A comma delimited list of named loggers and log levels formatted as name:level",
	},
	&cli.StringFlag{
		Name:    "prometheus-port",
		EnvVars: []string{"PROCESSOR_PROMETHEUS_PORT"},
		Value:   "",
		Usage:   "Serve metrics and pprof on `ADDR` (e.g. :9991), disabled when empty",
	},
}

func setupLogging(cctx *cli.Context) error {
	if err := logging.SetLogLevel("*", cctx.String("log-level")); err != nil {
		return fmt.Errorf("set log level: %w", err)
	}

	if llnamed := cctx.String("log-level-named"); llnamed != "" {
		for _, llname := range strings.Split(llnamed, ",") {
			parts := strings.Split(llname, ":")
			if len(parts) != 2 {
				return fmt.Errorf("invalid named log level format: %q", llname)
			}
			if err := logging.SetLogLevel(parts[0], parts[1]); err != nil {
				return fmt.Errorf("set named log level %q to %q: %w", parts[0], parts[1], err)
			}
		}
	}

	log.Infof("multisig processor version:%s", version.String())
	return nil
}

// setupMetrics registers the opencensus views with a Prometheus exporter and
// serves them, along with pprof, on the configured port.
func setupMetrics(cctx *cli.Context) error {
	addr := cctx.String("prometheus-port")
	if addr == "" {
		return nil
	}

	registry := prom.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pe, err := prometheus.NewExporter(prometheus.Options{
		Namespace: "processor",
		Registry:  registry,
	})
	if err != nil {
		return err
	}

	view.RegisterExporter(pe)
	view.SetReportingPeriod(2 * time.Second)
	if err := view.Register(metrics.DefaultViews...); err != nil {
		return err
	}

	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Errorw("metrics server stopped", "error", err)
		}
	}()
	return nil
}

// loadConf merges the config file with command line overrides.
func loadConf(cctx *cli.Context) (*config.Conf, error) {
	conf, err := config.FromFile(cctx.String("config"))
	if err != nil {
		return nil, err
	}
	if cctx.IsSet("name") {
		conf.Indexer.Name = cctx.String("name")
	}
	if cctx.IsSet("lens") {
		conf.Lens.Path = cctx.String("lens")
	}
	return conf, nil
}

func setupStorage(cctx *cli.Context, conf *config.Conf) (*storage.Database, error) {
	url := cctx.String("db")
	poolSize := cctx.Int("db-pool-size")
	schemaName := cctx.String("db-schema")
	appName := conf.Indexer.Name

	if url == "" {
		// Fall back to the first configured postgres storage.
		for _, pg := range conf.Storage.Postgresql {
			url = pg.Resolve()
			if pg.PoolSize > 0 {
				poolSize = pg.PoolSize
			}
			if pg.SchemaName != "" {
				schemaName = pg.SchemaName
			}
			if pg.ApplicationName != "" {
				appName = pg.ApplicationName
			}
			break
		}
	}
	if url == "" {
		return nil, xerrors.Errorf("no database configured: set --db or a [Storage.Postgresql] entry")
	}

	return storage.NewDatabase(cctx.Context, url, poolSize, appName, schemaName)
}

func setupLens(ctx context.Context, conf *config.Conf) (lens.API, lens.APICloser, error) {
	switch conf.Lens.Kind {
	case "", "vector":
		if conf.Lens.Path == "" {
			return nil, nil, xerrors.Errorf("no lens configured: set --lens or [Lens] Path")
		}
		opener := &vector.Opener{Path: conf.Lens.Path}
		return opener.Open(ctx)
	default:
		return nil, nil, xerrors.Errorf("unknown lens kind %q", conf.Lens.Kind)
	}
}

// tagSet applies the config overrides to the default extractor tag set.
func tagSet(conf *config.Conf) extract.TagSet {
	tags := extract.DefaultTagSet()
	o := conf.Indexer.Tags
	if o.WalletResource != "" {
		tags.WalletResource = o.WalletResource
	}
	if o.TransactionProposed != "" {
		tags.TransactionProposed = o.TransactionProposed
	}
	if o.VoteCast != "" {
		tags.VoteCast = o.VoteCast
	}
	if o.ExecutionRejected != "" {
		tags.ExecutionRejected = o.ExecutionRejected
	}
	if o.ExecutionSucceeded != "" {
		tags.ExecutionSucceeded = o.ExecutionSucceeded
	}
	if o.ExecutionFailed != "" {
		tags.ExecutionFailed = o.ExecutionFailed
	}
	if o.OwnersAdded != "" {
		tags.OwnersAdded = o.OwnersAdded
	}
	if o.OwnersRemoved != "" {
		tags.OwnersRemoved = o.OwnersRemoved
	}
	if o.ContactUpserted != "" {
		tags.ContactUpserted = o.ContactUpserted
	}
	if o.AssetSpamFlagged != "" {
		tags.AssetSpamFlagged = o.AssetSpamFlagged
	}
	return tags
}
