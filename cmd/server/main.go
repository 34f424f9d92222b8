package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"plcmesh/internal/backend"
	"plcmesh/internal/config"
	"plcmesh/internal/handler"
	"plcmesh/internal/hub"
	"plcmesh/internal/logger"
	"plcmesh/internal/metrics"
	"plcmesh/internal/repository"
	"plcmesh/internal/repository/sqlite"
	"plcmesh/internal/scheduler"
	"plcmesh/internal/service"
	"plcmesh/internal/watcher"
)

func main() {
	configPath := flag.String("config", "", "Config file path (default: search standard locations)")
	iface := flag.String("interface", "", "Powerline interface, overrides the config file")
	addr := flag.String("addr", "", "HTTP listen address, overrides the config file")
	flag.Parse()

	if err := run(*configPath, *iface, *addr); err != nil {
		log := logger.GetLogger()
		log.Fatal().Err(err).Msg("plcmesh stopped")
	}
}

func run(configPath, iface, addr string) error {
	cfg, path, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if iface != "" {
		cfg.Interface = iface
	}
	if addr != "" {
		cfg.HTTP.Addr = addr
	}

	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log := logger.WithComponent("server")

	if path == "" {
		for _, loc := range config.SearchPaths() {
			log.Debug().Str("source", loc.Source).Str("path", loc.Path).Msg("No config file here")
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log.Info().Str("config", path).Msg("Starting plcmesh")
	log.Info().Msg(cfg.Summary())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Backend.Kind == config.BackendCommand {
		if err := config.CheckInterface(ctx, cfg.Interface); err != nil {
			return err
		}
	}

	collector, err := metrics.NewCollector(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	be, closeBackend, err := newBackend(cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	store, closeStore, err := newIdentityStore(cfg, path)
	if err != nil {
		return err
	}
	defer closeStore()

	bus := service.NewEventBus()

	identities := service.NewIdentityRegistry(store,
		service.WithIdentityEvents(bus),
		service.WithIdentityMetrics(collector),
		service.WithIdentityLogger(logger.WithComponent("identity")),
	)
	if err := identities.Load(ctx); err != nil {
		return err
	}

	timing := cfg.Timing()
	sched := scheduler.New(scheduler.Config{
		Timeout:  timing.Timeout,
		Attempts: timing.Retries,
		Backoff:  timing.RetryBackoff,
	}, scheduler.WithRecorder(collector), scheduler.WithLogger(logger.WithComponent("scheduler")))

	presence := service.NewPresenceTracker(be, sched, identities,
		service.WithPresenceEvents(bus),
		service.WithPresenceMetrics(collector),
		service.WithPresenceLogger(logger.WithComponent("presence")),
	)
	mesh := service.NewMeshAggregator(be, sched, presence,
		service.WithMeshEvents(bus),
		service.WithMeshMetrics(collector),
		service.WithMeshWorkers(cfg.Workers),
		service.WithMeshLogger(logger.WithComponent("mesh")),
	)
	poller := service.NewPoller(presence, mesh, timing.ScanInterval,
		service.WithPollerMetrics(collector),
		service.WithPollerLogger(logger.WithComponent("poller")),
	)
	topo := service.NewTopology(service.TopologyDeps{
		Interface:  cfg.Interface,
		Presence:   presence,
		Mesh:       mesh,
		Identities: identities,
		Backend:    be,
		Scheduler:  sched,
		Bus:        bus,
		Logger:     logger.WithComponent("topology"),
	})

	sseHub := hub.New(hub.WithLogger(logger.WithComponent("hub")))
	go sseHub.Run(ctx)
	go sseHub.Forward(ctx, bus)

	pollerDone := make(chan error, 1)
	go func() { pollerDone <- poller.Run(ctx) }()

	if path != "" {
		reloader := watcher.NewReloader(path, timing, sched, poller, bus, logger.WithComponent("reload"))
		w := watcher.New(path, func() { reloader.Reload() }).WithLogger(logger.WithComponent("watcher"))
		go func() {
			if err := w.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("Config watcher stopped")
			}
		}()
	}

	mux := http.NewServeMux()
	handler.NewAPIHandler(topo,
		handler.WithCycleTrigger(poller),
		handler.WithLogger(logger.WithComponent("api")),
	).Register(mux)
	mux.Handle("GET /events", sseHub)
	mux.Handle("GET /metrics", collector.Handler())

	httpLog := logger.WithComponent("http")
	server := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: handler.Chain(mux,
			handler.Recover(httpLog),
			handler.CORS(cfg.HTTP.CORSOrigin),
			handler.Logger(httpLog),
		),
		ReadTimeout:  10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("Server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		log.Error().Err(err).Msg("Server error")
		stop()
	}

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Server shutdown error")
	}
	if err := <-pollerDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("Poller stopped with error")
	}
	if err := identities.Flush(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to save identity map")
	}

	log.Info().Msg("Server stopped")
	return nil
}

func loadConfig(explicit string) (*config.Config, string, error) {
	if explicit != "" {
		return config.LoadFromPath(explicit)
	}
	return config.Load()
}

func newBackend(cfg *config.Config) (backend.Backend, func(), error) {
	noop := func() {}

	switch cfg.Backend.Kind {
	case config.BackendFixture:
		fb, err := backend.LoadFixture(cfg.Backend.Fixture, cfg.Interface)
		if err != nil {
			return nil, noop, err
		}
		return fb, noop, nil

	case config.BackendCommand:
		var runner backend.Runner = backend.LocalRunner{}
		closeRunner := noop

		if sc := cfg.Backend.SSH; sc != nil {
			sshRunner, err := backend.NewSSHRunner(backend.SSHConfig{
				Host:           sc.Host,
				Port:           sc.Port,
				User:           sc.User,
				KeyPath:        sc.KeyPath,
				Passphrase:     envSecret(sc.PassphraseEnv),
				Password:       envSecret(sc.PasswordEnv),
				KnownHostsPath: sc.KnownHostsPath,
				DialTimeout:    sc.DialTimeout.Duration(),
			})
			if err != nil {
				return nil, noop, err
			}
			runner = sshRunner
			closeRunner = func() { _ = sshRunner.Close() }
		}

		cb, err := backend.NewCommandBackend(runner, backend.CommandConfig{
			Command:   cfg.Backend.Command,
			Interface: cfg.Interface,
		})
		if err != nil {
			closeRunner()
			return nil, noop, err
		}
		return cb, closeRunner, nil

	default:
		return nil, noop, fmt.Errorf("%w: unknown backend %q", config.ErrInvalidConfig, cfg.Backend.Kind)
	}
}

func newIdentityStore(cfg *config.Config, path string) (repository.IdentityStore, func(), error) {
	switch cfg.Identity.Store {
	case config.IdentityStoreDatabase:
		repo, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			return nil, func() {}, fmt.Errorf("open identity database: %w", err)
		}
		return repo, func() { _ = repo.Close() }, nil

	default:
		if path == "" {
			path = config.DefaultConfigPath()
			log := logger.WithComponent("identity")
			log.Info().Str("path", path).Msg("No config file found, identity map will be written to the default location")
		}
		// The seed carries the -interface override if the store has to create the file
		return config.NewIdentityStore(path, config.WithSeedConfig(cfg)), func() {}, nil
	}
}

func envSecret(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

