package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bhandras/relay/internal/api"
	"github.com/bhandras/relay/internal/auth"
	"github.com/bhandras/relay/internal/config"
	"github.com/bhandras/relay/internal/crypto"
	"github.com/bhandras/relay/internal/metrics"
	"github.com/bhandras/relay/internal/policy"
	"github.com/bhandras/relay/internal/relay"
	"github.com/bhandras/relay/internal/session"
	"github.com/bhandras/relay/internal/store"
	"github.com/bhandras/relay/internal/websocket"
	"github.com/bhandras/relay/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 10 * time.Second
	verifyCacheSize = 8192
)

var (
	serveAddr         string
	serveStore        string
	serveDB           string
	serveAuthRequired bool
	serveDebug        bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the relay",
		RunE:  runServe,
	}
)

func init() {
	flags := serveCmd.Flags()
	flags.StringVar(&serveAddr, "addr", "", "listen address (host:port)")
	flags.StringVar(&serveStore, "store", "", "event store driver: memory, sqlite, postgres or badger")
	flags.StringVar(&serveDB, "db", "", "sqlite file or badger directory")
	flags.BoolVar(&serveAuthRequired, "auth-required", true, "require NIP-42 authentication")
	flags.BoolVar(&serveDebug, "debug", false, "enable debug logging")
}

// loadConfig applies only the flags the user actually set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var o config.Overrides
	if cmd.Flags().Changed("config") {
		o.ConfigPath = &configPath
	}
	if cmd.Flags().Changed("addr") {
		o.Addr = &serveAddr
	}
	if cmd.Flags().Changed("store") {
		o.StoreDriver = &serveStore
	}
	if cmd.Flags().Changed("db") {
		o.DatabasePath = &serveDB
	}
	if cmd.Flags().Changed("auth-required") {
		o.AuthRequired = &serveAuthRequired
	}
	if cmd.Flags().Changed("debug") {
		o.Debug = &serveDebug
	}
	return config.Load(o)
}

func openPolicy(ctx context.Context, cfg config.Policy) (policy.Allowlist, func() error, error) {
	switch cfg.Driver {
	case config.PolicyRedis:
		p, err := policy.NewRedis(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		if err := p.AllowKinds(ctx, cfg.Kinds...); err != nil {
			_ = p.Close()
			return nil, nil, err
		}
		for _, author := range cfg.Authors {
			if err := p.Add(ctx, author); err != nil {
				_ = p.Close()
				return nil, nil, err
			}
		}
		return p, p.Close, nil
	default:
		return policy.NewStatic(cfg.Authors, cfg.Kinds), func() error { return nil }, nil
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	logger.SetLevel(level)
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infof("Opening %s event store", cfg.Store.Driver)
	events, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer events.Close()

	access, closePolicy, err := openPolicy(ctx, cfg.Policy)
	if err != nil {
		return fmt.Errorf("failed to set up policy: %w", err)
	}
	defer closePolicy()

	verifier, err := crypto.NewCachingVerifier(crypto.NewSchnorrVerifier(), verifyCacheSize)
	if err != nil {
		return err
	}
	challenger := auth.NewChallenger(verifier, auth.DefaultWindow)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	registry := session.NewRegistry(session.Options{
		MaxSubscriptions: cfg.Limits.MaxSubscriptions,
		QueueSize:        cfg.Sessions.QueueSize,
		RateLimits:       cfg.RateLimitConfigs(),
		AuthRequired:     cfg.Limits.AuthRequired,
		IssueChallenge:   challenger.Issue,
		IdleTimeout:      cfg.Sessions.IdleTimeout,
		SweepInterval:    cfg.Sessions.SweepInterval,
		Observer:         m,
	})

	engine := relay.New(cfg.Engine(), relay.Deps{
		Sessions: registry,
		Store:    events,
		Policy:   access,
		Verifier: verifier,
		Auth:     challenger,
		Metrics:  m,
	})

	wsServer := websocket.NewServer(registry, engine, websocket.Info{
		Name:          cfg.Info.Name,
		Description:   cfg.Info.Description,
		PubKey:        cfg.Info.PubKey,
		Contact:       cfg.Info.Contact,
		Icon:          cfg.Info.Icon,
		SupportedNIPs: websocket.SupportedNIPs(cfg.Features.Deletion, cfg.Features.Search),
		Limitation: websocket.Limitation{
			MaxMessageLength:    int(cfg.MessageLimit()),
			MaxSubscriptions:    cfg.Limits.MaxSubscriptions,
			MaxFilters:          cfg.Limits.MaxFilters,
			MaxLimit:            cfg.Limits.MaxLimit,
			AuthRequired:        cfg.Limits.AuthRequired,
			RestrictedWrites:    len(cfg.Policy.Authors) > 0 || cfg.Policy.Driver == config.PolicyRedis,
			CreatedAtLowerLimit: cfg.Limits.CreatedAtLower,
			CreatedAtUpperLimit: cfg.Limits.CreatedAtUpper,
		},
	}, websocket.Options{
		ReadLimit: cfg.MessageLimit(),
	})

	var jwtManager *crypto.JWTManager
	if cfg.AdminSecret != "" {
		jwtManager, err = crypto.NewJWTManager(cfg.AdminSecret)
		if err != nil {
			return err
		}
		logger.Infof("Admin API enabled at /v1/admin")
	}

	router := api.NewRouter(api.RouterConfig{
		Relay:          wsServer.Handle,
		Metrics:        m,
		AllowedOrigins: cfg.AllowedOrigins,
		JWT:            jwtManager,
		Allowlist:      access,
		Stats:          registry,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	registryDone := make(chan struct{})
	go func() {
		registry.Run(ctx)
		close(registryDone)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Relay listening on %s (auth required: %v)", cfg.Addr, cfg.Limits.AuthRequired)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		stop()
		<-registryDone
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Infof("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("HTTP shutdown: %v", err)
	}
	// Run closes every session once ctx is done; wait for their handlers.
	<-registryDone
	handlersDone := make(chan struct{})
	go func() {
		wsServer.Wait()
		close(handlersDone)
	}()
	select {
	case <-handlersDone:
	case <-shutdownCtx.Done():
		logger.Warnf("Timed out waiting for connections to close")
	}
	return nil
}
