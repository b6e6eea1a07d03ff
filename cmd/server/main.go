package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-fitness-auth/authclient"
	"github.com/jrsteele09/go-fitness-auth/internal/config"
	"github.com/jrsteele09/go-fitness-auth/profiles"
	"github.com/jrsteele09/go-fitness-auth/profiles/postgres"
	fakeprofilerepo "github.com/jrsteele09/go-fitness-auth/profiles/repofake"
	"github.com/jrsteele09/go-fitness-auth/provider/gotrue"
	fakeprovider "github.com/jrsteele09/go-fitness-auth/provider/repofake"
	"github.com/jrsteele09/go-fitness-auth/server"
	"github.com/jrsteele09/go-fitness-auth/server/clientsession"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	sweepInterval   = time.Minute
	refreshInterval = 30 * time.Second
	storagePrefix   = "fitness-auth:"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("error running server")
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.New()
	if err != nil {
		return err
	}
	setupLogging(c)
	displayAppname(c.GetAppName())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	profileRepo, closeProfiles, err := newProfileRepo(ctx, c)
	if err != nil {
		return err
	}
	defer closeProfiles()

	factory, closeProvider, err := newClientFactory(ctx, c, profileRepo)
	if err != nil {
		return err
	}
	defer closeProvider()

	sessions := clientsession.NewInMemoryRepo(c.GetClientIdleTimeout())
	defer sessions.Close()

	handler, err := server.New(ctx, c, sessions, factory)
	if err != nil {
		return err
	}
	go handler.SweepIdleClients(ctx, sweepInterval)

	httpServer := &http.Server{Addr: c.GetPort(), Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(httpServer) }()

	select {
	case err := <-serveErr:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(httpServer)
}

func setupLogging(c config.Config) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

// newProfileRepo connects to Postgres when configured, otherwise keeps profiles in memory.
func newProfileRepo(ctx context.Context, c config.Config) (profiles.Repo, func(), error) {
	if c.GetDatabaseURL() == "" {
		log.Warn().Msg("DATABASE_URL not set, profiles are kept in memory")
		return fakeprofilerepo.NewFakeProfileRepo(), func() {}, nil
	}
	pool, err := postgres.Connect(ctx, c.GetDatabaseURL(), postgres.DefaultPoolConfig)
	if err != nil {
		return nil, nil, err
	}
	repo := postgres.NewProfileRepo(pool)
	if err := repo.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate profiles: %w", err)
	}
	return repo, pool.Close, nil
}

// newStorage returns Redis-backed session storage when configured, so sessions survive restarts
// and are shared between replicas.
func newStorage(ctx context.Context, c config.Config) (gotrue.Storage, func(), error) {
	if c.GetRedisURL() == "" {
		return gotrue.NewMemoryStorage(), func() {}, nil
	}
	opts, err := redis.ParseURL(c.GetRedisURL())
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	return gotrue.NewRedisStorage(rdb, storagePrefix), func() { _ = rdb.Close() }, nil
}

func newClientFactory(ctx context.Context, c config.Config, profileRepo profiles.Repo) (server.ClientFactory, func(), error) {
	clientOpts := []authclient.Option{
		authclient.WithSiteURL(c.GetBaseURL()),
		authclient.WithMetadataTimeout(c.GetMetadataTimeout()),
	}

	if c.GetAuthURL() == "" {
		log.Warn().Msg("AUTH_URL not set, using an in-memory identity provider per browser")
		return newFakeClientFactory(profileRepo, clientOpts...), func() {}, nil
	}

	storage, closeStorage, err := newStorage(ctx, c)
	if err != nil {
		return nil, nil, err
	}

	providerOpts := []gotrue.Option{
		gotrue.WithStorage(storage),
		gotrue.WithRefreshMargin(c.GetRefreshMargin()),
	}
	if name := c.GetOIDCProvider(); name != "" {
		handoff, err := gotrue.NewOIDCHandoff(ctx, name, c.GetOIDCIssuer(), c.GetOIDCClientID(), c.GetOIDCClientSecret(),
			c.GetBaseURL()+server.RouteOAuthCallback)
		if err != nil {
			closeStorage()
			return nil, nil, err
		}
		providerOpts = append(providerOpts, gotrue.WithOIDCHandoff(handoff))
	}

	factory := func(ctx context.Context, sessionID string) (*authclient.Client, error) {
		opts := append([]gotrue.Option{gotrue.WithStorageKey("session:" + sessionID)}, providerOpts...)
		gc, err := gotrue.New(c.GetAuthURL(), c.GetAuthAPIKey(), opts...)
		if err != nil {
			return nil, err
		}
		stopRefresh := gc.StartAutoRefresh(ctx, refreshInterval)
		acOpts := append(append([]authclient.Option{}, clientOpts...), authclient.WithOnClose(stopRefresh))
		ac, err := authclient.New(ctx, gc, profileRepo, acOpts...)
		if err != nil {
			stopRefresh()
			return nil, err
		}
		return ac, nil
	}
	return factory, closeStorage, nil
}

// newFakeClientFactory is for development without an identity provider. Each browser session
// gets its own fake provider, kept for the id so a recreated client finds its session again.
// Accounts are not shared between browsers.
func newFakeClientFactory(profileRepo profiles.Repo, clientOpts ...authclient.Option) server.ClientFactory {
	var (
		lock      sync.Mutex
		providers = make(map[string]*fakeprovider.FakeProvider)
	)
	return func(ctx context.Context, sessionID string) (*authclient.Client, error) {
		lock.Lock()
		fp, ok := providers[sessionID]
		if !ok {
			fp = fakeprovider.NewFakeProvider(fakeprovider.WithAutoConfirm())
			providers[sessionID] = fp
		}
		lock.Unlock()
		return authclient.New(ctx, fp, profileRepo, clientOpts...)
	}
}

func listenAndServe(server *http.Server) error {
	log.Info().Msgf("Server listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
