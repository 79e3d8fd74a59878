package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"contrib.go.opencensus.io/exporter/prometheus"
	"github.com/gorilla/mux"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.opencensus.io/stats/view"
	"go.uber.org/multierr"
	"golang.org/x/xerrors"

	"github.com/Moonsong-Labs/storage-hub-sub006/journal"
	"github.com/Moonsong-Labs/storage-hub-sub006/journal/alerting"
	"github.com/Moonsong-Labs/storage-hub-sub006/journal/fsjournal"
	"github.com/Moonsong-Labs/storage-hub-sub006/metrics"
	"github.com/Moonsong-Labs/storage-hub-sub006/metrics/proxy"
	"github.com/Moonsong-Labs/storage-hub-sub006/storage/fisherman"
)

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "Run the reconciliation loop",
	Flags: []cli.Flag{
		apiFlag,
		&cli.StringFlag{
			Name:    "metrics-listen",
			EnvVars: []string{"FISHERMAN_METRICS_LISTEN"},
			Usage:   "address to serve prometheus metrics on, overrides Metrics.ListenAddress",
		},
	},
	Action: func(cctx *cli.Context) (err error) {
		ctx := cctx.Context

		cfg, err := loadConfig(cctx)
		if err != nil {
			return err
		}
		if cctx.IsSet("metrics-listen") {
			cfg.Metrics.ListenAddress = cctx.String("metrics-listen")
		}

		if err := view.Register(metrics.AllViews()...); err != nil {
			return xerrors.Errorf("registering metric views: %w", err)
		}
		if err := metrics.RecordInfo(ctx); err != nil {
			log.Warnw("recording build info", "error", err)
		}

		var srv *http.Server
		if cfg.Metrics.ListenAddress != "" {
			srv, err = serveMetrics(cfg.Metrics.ListenAddress)
			if err != nil {
				return err
			}
			defer func() {
				err = multierr.Append(err, srv.Close())
			}()
		}

		j := journal.NilJournal()
		if cfg.Journal.Path != "" {
			j, err = fsjournal.OpenFSJournal(cfg.Journal.Path, journal.EnvDisabledEvents(cfg.Journal.DisabledEvents))
			if err != nil {
				return xerrors.Errorf("opening journal: %w", err)
			}
		}
		al := alerting.NewAlertingSystem(j)

		node, closer, err := connectNode(ctx, cfg.Node)
		if err != nil {
			return multierr.Append(err, j.Close())
		}
		defer closer()
		node = proxy.MetricedFishermanNode(node)

		index, err := openIndex(cfg.Index)
		if err != nil {
			return multierr.Append(err, j.Close())
		}

		fm, err := fisherman.New(ctx, node, index, cfg.Fisherman, j, al)
		if err != nil {
			return multierr.Combine(err, index.Close(), j.Close())
		}
		if err := fm.Start(ctx); err != nil {
			return multierr.Combine(err, index.Close(), j.Close())
		}
		log.Infow("fisherman running", "node", cfg.Node.ApiInfo, "index", cfg.Index.Backend)

		sigCh := make(chan os.Signal, 2)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		select {
		case sig := <-sigCh:
			log.Warnw("received shutdown", "signal", sig)
		case <-ctx.Done():
		}

		err = multierr.Combine(
			fm.Stop(ctx),
			index.Close(),
			j.Close(),
		)
		for _, a := range al.GetAlerts() {
			if a.Active {
				log.Warnw("alert active at shutdown", "alert", a.Type, "raised", a.Raised)
			}
		}
		return err
	},
}

func serveMetrics(addr string) (*http.Server, error) {
	registry := promclient.DefaultRegisterer.(*promclient.Registry)
	exporter, err := prometheus.NewExporter(prometheus.Options{
		Registry:  registry,
		Namespace: "fisherman",
	})
	if err != nil {
		return nil, xerrors.Errorf("creating prometheus exporter: %w", err)
	}

	m := mux.NewRouter()
	m.Handle("/metrics", exporter)

	srv := &http.Server{
		Addr:              addr,
		Handler:           m,
		ReadHeaderTimeout: 30 * time.Second,
	}
	go func() {
		log.Infow("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("metrics endpoint failed", "err", err)
		}
	}()
	return srv, nil
}
