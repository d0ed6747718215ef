package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"list39.org/internal/auth"
	"list39.org/internal/config"
	"list39.org/internal/httpapi"
	"list39.org/internal/obs"
	"list39.org/internal/registry"
	"list39.org/internal/store/mongostore"
	"list39.org/internal/store/rediscache"
	"list39.org/internal/store/sqlstore"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := obs.NewLogger(os.Stdout, cfg.LogLevel, cfg.IsDevelopment())
	obs.SetLogger(logger)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("list39 stopped with error")
	}
}

// backend bundles the durable stores selected by configuration.
type backend struct {
	records  registry.Store
	accounts auth.AccountStore
	pinger   httpapi.Pinger
	close    func() error
}

func openBackend(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*backend, error) {
	switch cfg.Store {
	case config.StorePostgres, config.StoreSQLite:
		dialect, dsn := sqlstore.Postgres, cfg.PostgresDSN
		if cfg.Store == config.StoreSQLite {
			dialect, dsn = sqlstore.SQLite, cfg.SQLitePath
		}
		st, err := sqlstore.Open(ctx, dialect, dsn)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := st.Migrate(ctx); err != nil {
				_ = st.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			log.Info().Str("store", cfg.Store).Msg("schema migrated")
		}
		return &backend{records: st.Records(), accounts: st.Accounts(), pinger: st, close: st.Close}, nil
	case config.StoreMongo:
		st, err := mongostore.Open(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		return &backend{
			records:  st.Records(),
			accounts: st.Accounts(),
			pinger:   st,
			close:    func() error { return st.Close(context.Background()) },
		}, nil
	default:
		log.Warn().Msg("using the in-memory store; data is lost on restart")
		return &backend{
			records:  registry.NewInMemory(),
			accounts: auth.NewInMemory(),
			close:    func() error { return nil },
		}, nil
	}
}

func sessionSecret(cfg *config.Config, log zerolog.Logger) (string, error) {
	if cfg.AuthSecret != "" {
		return cfg.AuthSecret, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	log.Warn().Msg("LIST39_AUTH_SECRET not set; sessions will not survive a restart")
	return hex.EncodeToString(buf), nil
}

func run(cfg *config.Config, log zerolog.Logger) error {
	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	be, err := openBackend(startCtx, cfg, log)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	defer func() {
		if err := be.close(); err != nil {
			log.Error().Err(err).Msg("close store")
		}
	}()

	svcOpts := []registry.Option{}
	if cfg.RedisURL != "" {
		cache, err := rediscache.Open(startCtx, cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			return fmt.Errorf("open cache: %w", err)
		}
		defer cache.Close()
		svcOpts = append(svcOpts, registry.WithCache(cache))
		log.Info().Dur("ttl", cfg.CacheTTL).Msg("public record cache enabled")
	}

	secret, err := sessionSecret(cfg, log)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokens(secret, cfg.SessionTTL)
	if err != nil {
		return err
	}

	apiOpts := []httpapi.Option{
		httpapi.WithVersion(version),
		httpapi.WithBaseURL(cfg.BaseURL),
		httpapi.WithSecureCookies(cfg.IsProduction()),
		httpapi.WithTrustedProxy(cfg.TrustProxy),
		httpapi.WithRateLimit(cfg.RateLimit, cfg.RateWindow),
		httpapi.WithReadyProbe(httpapi.ReadyProbe{Pingers: []httpapi.Pinger{be.pinger}}),
	}
	if cfg.GoogleEnabled() {
		provider := auth.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.BaseURL+"/auth/google/callback")
		apiOpts = append(apiOpts, httpapi.WithIdentityProvider(provider))
	} else {
		log.Warn().Msg("Google sign-in is not configured")
	}

	api := httpapi.New(
		registry.NewService(be.records, svcOpts...),
		auth.NewResolver(be.accounts),
		tokens,
		apiOpts...,
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	adminSrv := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           api.AdminHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 3)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Str("store", cfg.Store).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		log.Info().Str("addr", adminSrv.Addr).Msg("admin server listening")
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin http: %w", err)
		}
	}()

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcServer = grpc.NewServer()
		httpapi.NewGRPCServer(api).Register(grpcServer)
		go func() {
			log.Info().Str("addr", cfg.GRPCAddr).Msg("grpc health server listening")
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	obs.SetReady(false)
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin shutdown: %w", err)
	}
	log.Info().Msg("stopped")
	return nil
}
