package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newacorn/nanohttp"
	"github.com/newacorn/nanohttp/fileserver"
	"github.com/newacorn/nanohttp/internal/config"
	"github.com/newacorn/nanohttp/promstat"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server",
	Long: `Start the server with the echo responder, or serve static files when
--root (server.root) names a directory.

The echo responder answers every request with a plain text description of
what the server parsed: method, URI, headers, parameters, cookies and body
entities. The file server tries server.index_names for directories and
lists them when server.dir_listing is set. GET /healthz answers "ok" in
both modes.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().String("root", "", "serve static files from this directory (overrides server.root)")
	serveCmd.Flags().String("executor", "", "thread-per-conn or pool (overrides server.executor)")
	serveCmd.Flags().String("metrics-addr", "", "Prometheus listen address (overrides metrics.addr)")
	serveCmd.Flags().String("log-level", "", "trace, debug, info, warn or error (overrides log.level)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if used := v.ConfigFileUsed(); used != "" {
		logger.Info().Str("file", used).Msg("loaded config")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	srv, err := buildServer(cfg.Server, &logger, promstat.New(reg))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		stop() // a second signal kills the process.
	}()

	if err = srv.Start(); err != nil {
		return err
	}
	logger.Info().Stringer("addr", srv.ListenAddr()).Str("version", Version).Msg("nanohttpd started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		return srv.Stop()
	})
	if cfg.Metrics.Addr != "" {
		ms := newMetricsServer(cfg.Metrics, reg)
		g.Go(func() error {
			logger.Info().Str("addr", ms.Addr).Str("path", cfg.Metrics.Path).Msg("metrics listening")
			if err := ms.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server failed")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return ms.Shutdown(sctx)
		})
	}
	return g.Wait()
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry: reg,
	}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// buildServer turns the configuration into an unstarted server.
func buildServer(cfg config.ServerConfig, logger *zerolog.Logger, stats nanohttp.StatBoard) (*nanohttp.Server, error) {
	srv := &nanohttp.Server{
		Addr:               cfg.Addr,
		Backlog:            cfg.Backlog,
		Responder:          newResponder(cfg, logger),
		ReadTimeout:        cfg.ReadTimeout,
		WriteTimeout:       cfg.WriteTimeout,
		DrainTimeout:       cfg.DrainTimeout,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		ReadBufferSize:     cfg.ReadBufferSize,
		Name:               cfg.Name,
		GzipWhenAccepted:   cfg.GzipWhenAccepted,
		GzipLevel:          cfg.GzipLevel,
		AcceptRate:         cfg.AcceptRate,
		AcceptBurst:        cfg.AcceptBurst,
		Stats:              stats,
		Logger:             logger,
		BodyStoreFactory: &nanohttp.DefaultBodyStoreFactory{
			TempDir:     cfg.TempDir,
			MemoryLimit: cfg.MemoryLimit,
			Logger:      logger,
		},
	}

	if len(cfg.MimeTypes) > 0 {
		mt, err := nanohttp.LoadMimeTypes(cfg.MimeTypes...)
		if err != nil {
			return nil, err
		}
		srv.MimeTypes = mt
	}

	policy := nanohttp.Allow
	if cfg.Access.Default == "deny" {
		policy = nanohttp.Deny
	}
	if policy == nanohttp.Deny || len(cfg.Access.Rules) > 0 {
		acl := nanohttp.NewAccessList(policy)
		for _, rule := range cfg.Access.Rules {
			if err := acl.ParseRule(rule); err != nil {
				return nil, err
			}
		}
		srv.AccessControl = acl
	}

	switch cfg.Executor {
	case "pool":
		srv.Executor = nanohttp.NewWorkerPoolExecutor(cfg.MaxWorkers, logger)
	default:
		srv.Executor = nanohttp.NewThreadPerConnExecutor(logger)
	}

	var factory nanohttp.SocketFactory = &nanohttp.DefaultSocketFactory{MaxConns: cfg.MaxConns}
	if cfg.ReusePort {
		factory = &nanohttp.ReusePortSocketFactory{}
	}
	if cfg.TLS.Enabled() {
		tlsConfig, err := loadTLSConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		factory = &nanohttp.TLSSocketFactory{Base: factory, Config: tlsConfig}
	}
	srv.SocketFactory = factory
	return srv, nil
}

// newResponder picks the file server when a root directory is configured.
func newResponder(cfg config.ServerConfig, logger *zerolog.Logger) nanohttp.Responder {
	if cfg.Root == "" {
		return withHealthz(newEchoResponder())
	}
	return withHealthz(&fileserver.FS{
		Root:               cfg.Root,
		IndexNames:         cfg.IndexNames,
		GenerateIndexPages: cfg.DirListing,
		AcceptByteRange:    true,
		Logger:             logger,
	})
}

func loadTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	if cfg.Keystore != "" {
		passphrase := cfg.Passphrase
		if passphrase == "" {
			passphrase = os.Getenv(config.EnvPrefix + "_KEYSTORE_PASSPHRASE")
		}
		return nanohttp.NewTLSConfigFromKeystore(cfg.Keystore, passphrase)
	}
	return nanohttp.NewTLSConfigFromPEM(cfg.CertFile, cfg.KeyFile)
}
