package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"openclaw/gateway/pkg/config"
	"openclaw/gateway/pkg/gateway"
	"openclaw/gateway/pkg/handlers"
	"openclaw/gateway/pkg/httpwire"
	"openclaw/gateway/pkg/providers"
	"openclaw/gateway/pkg/router"
	"openclaw/gateway/pkg/session"
	"openclaw/gateway/pkg/telemetry/logging"
	"openclaw/gateway/pkg/telemetry/metrics"
)

var runFlags struct {
	bind string
	port int
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the gateway daemon",
	Long: `Start the gateway daemon with the specified configuration.

The daemon listens on the configured address and proxies chat requests to
upstream AI providers over their streaming APIs. SIGINT or SIGTERM shuts
it down gracefully.

Examples:
  # Start with defaults
  openclawd run

  # Start with a config file, watched for changes
  openclawd run --config /etc/openclaw/gateway.yaml

  # Override the listen address
  openclawd run --bind 0.0.0.0 --port 8080`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFlags.bind, "bind", "", "override bind address")
	runCmd.Flags().IntVarP(&runFlags.port, "port", "p", 0, "override listen port")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	store, err := config.NewStore(cfgFile, nil)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	defer store.Close()

	cfg := store.Current()
	if runFlags.bind != "" {
		cfg.Gateway.Bind = runFlags.bind
	}
	if runFlags.port != 0 {
		cfg.Gateway.Port = runFlags.port
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.Setup(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}

	if err := store.Watch(); err != nil {
		return fmt.Errorf("watching config file: %w", err)
	}

	collector := metrics.NewCollector(prometheus.NewRegistry())

	deps := handlers.Deps{
		Config:  store.Current,
		Client:  providers.NewStreamClient(logger),
		Metrics: collector,
		Logger:  logger,
	}

	if cfg.Session.DBPath != "" {
		sessStore, err := session.Open(cfg.Session.DBPath)
		if err != nil {
			return fmt.Errorf("opening session store: %w", err)
		}
		defer sessStore.Close()
		deps.Store = sessStore

		if cfg.Session.RetentionSchedule != "" {
			sweeper, err := session.NewSweeper(sessStore, cfg.Session.RetentionSchedule, cfg.Session.RetentionAge, logger)
			if err != nil {
				return fmt.Errorf("scheduling session retention: %w", err)
			}
			sweeper.Start()
			defer sweeper.Stop()
		}
	}

	rt := router.New(logger)
	g := gateway.New(gateway.Options{
		Config:  store.Current,
		Router:  rt,
		Logger:  logger,
		Metrics: collector,
		Version: Version,
	})

	registerRoutes(rt, g, deps, collector, cfg.Metrics.Enabled)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting openclawd",
		"version", Version,
		"config", cfgFile,
	)
	return g.Run(ctx)
}

// registerRoutes wires the route table. Registration order matters: the
// router is first-match-wins. /health stays outside the auth gate so load
// balancer probes work without credentials.
func registerRoutes(rt *router.Router, g *gateway.Gateway, deps handlers.Deps, collector *metrics.Collector, metricsEnabled bool) {
	authToken := func() string { return deps.Config().Gateway.AuthToken }

	rt.HandleFunc(httpwire.MethodGet, "/health", handlers.Health(func() handlers.Stats {
		s := g.Stats()
		return handlers.Stats{
			Version:           s.Version,
			StartTime:         s.StartTime,
			TotalRequests:     s.TotalRequests,
			ActiveConnections: s.ActiveConnections,
		}
	}))
	rt.HandleFunc(httpwire.MethodPost, "/hooks/webchat",
		handlers.RequireBearer(authToken, handlers.Webhook(deps)))
	rt.HandleFunc(httpwire.MethodPost, "/v1/chat/completions",
		handlers.RequireBearer(authToken, handlers.Chat(deps)))
	if metricsEnabled {
		rt.HandleFunc(httpwire.MethodGet, "/metrics",
			handlers.RequireBearer(authToken, handlers.Metrics(collector)))
	}
}
