package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jrsteele09/storefront-auth/credentials"
	"github.com/jrsteele09/storefront-auth/internal/config"
	"github.com/jrsteele09/storefront-auth/internal/observability"
	"github.com/jrsteele09/storefront-auth/server"
	"github.com/jrsteele09/storefront-auth/token"
	"github.com/jrsteele09/storefront-auth/token/keys"
	"github.com/jrsteele09/storefront-auth/token/refresh"
	"github.com/jrsteele09/storefront-auth/token/refresh/redisstore"
	refreshrepofake "github.com/jrsteele09/storefront-auth/token/refresh/repofake"
	"github.com/jrsteele09/storefront-auth/users"
	"github.com/jrsteele09/storefront-auth/users/postgres"
	fakeuserrepo "github.com/jrsteele09/storefront-auth/users/repofake"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			log.Error().Interface("panic", r).Bytes("stack", stack).Msg("Recovered from panic")
			observability.CapturePanic(r, stack, map[string]string{"component": "main"})
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.New()
	if err != nil {
		return err
	}
	observability.SetupLogging(c.GetEnv(), c.GetLogLevel())
	if err := observability.InitSentry(c.GetSentryDSN(), c.GetEnv()); err != nil {
		log.Warn().Err(err).Msg("Sentry disabled")
	}
	defer observability.FlushSentry()

	displayAppname(c.GetAppName())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler, closeAll, err := buildServer(ctx, c)
	if err != nil {
		return err
	}
	defer closeAll()

	srv := &http.Server{
		Addr:              c.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(srv) }()

	select {
	case err := <-serveErr:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(srv)
}

// buildServer wires the stores, the token issuer and the HTTP server. The
// returned function releases everything it opened.
func buildServer(ctx context.Context, c config.Config) (*server.Server, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*server.Server, func(), error) {
		closeAll()
		return nil, nil, err
	}

	signer, err := newSigner(c)
	if err != nil {
		return fail(err)
	}

	refreshStore, closeRefresh, err := newRefreshStore(ctx, c)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeRefresh)

	userRepo, closeUsers, err := newUserRepo(ctx, c)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeUsers)

	if _, err := server.InitialiseSystem(ctx, c, userRepo); err != nil {
		return fail(err)
	}

	var credOptions []credentials.Option
	if c.GetOIDCIssuer() != "" {
		verifier, err := credentials.NewOIDCVerifier(ctx, c.GetOIDCIssuer(), c.GetOIDCClientID())
		if err != nil {
			return fail(fmt.Errorf("[main] external provider: %w", err))
		}
		credOptions = append(credOptions, credentials.WithAssertionVerifier(verifier))
		log.Info().Str("issuer", c.GetOIDCIssuer()).Msg("External provider logins enabled")
	}

	issuer, err := token.NewIssuer(signer, refreshStore,
		token.WithTokenExpiry(c.GetAccessTokenTTL(), c.GetRefreshTokenTTL()),
		token.WithIssuer(c.GetTokenIssuer()),
		token.WithAudience(c.GetTokenAudience()),
	)
	if err != nil {
		return fail(err)
	}

	srv, err := server.New(c, server.Deps{
		Credentials: credentials.NewStore(userRepo, credOptions...),
		Issuer:      issuer,
		Signer:      signer,
	})
	if err != nil {
		return fail(err)
	}
	closers = append(closers, srv.Close)
	return srv, closeAll, nil
}

// newSigner prefers an RSA key file, then a shared secret, and otherwise
// generates an RSA key that lives as long as the process.
func newSigner(c config.Config) (keys.Signer, error) {
	switch {
	case c.GetSigningKeyFile() != "":
		kp, err := keys.LoadKeyPairFromFile(c.GetSigningKeyID(), c.GetSigningKeyFile())
		if err != nil {
			return nil, fmt.Errorf("[main] signing key: %w", err)
		}
		log.Info().Str("kid", kp.KeyID).Msg("Signing access tokens with RSA key file")
		return keys.NewKeyPairSigner(kp), nil
	case c.GetSigningSecret() != "":
		log.Info().Msg("Signing access tokens with shared secret")
		return keys.NewHMACSigner(c.GetSigningSecret())
	}

	kp, err := keys.GenerateRSAKeyPair(c.GetSigningKeyID(), 2048)
	if err != nil {
		return nil, fmt.Errorf("[main] generate signing key: %w", err)
	}
	log.Warn().Str("kid", kp.KeyID).Msg("Generated an ephemeral RSA signing key, tokens will not survive a restart")
	return keys.NewKeyPairSigner(kp), nil
}

func newRefreshStore(ctx context.Context, c config.Config) (refresh.Store, func(), error) {
	if c.GetRedisAddr() == "" {
		log.Info().Msg("Refresh tokens kept in memory")
		return refreshrepofake.NewFakeRefreshStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     c.GetRedisAddr(),
		Password: c.GetRedisPassword(),
		DB:       c.GetRedisDB(),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("[main] redis %s: %w", c.GetRedisAddr(), err)
	}
	log.Info().Str("addr", c.GetRedisAddr()).Msg("Refresh tokens kept in Redis")
	return redisstore.New(client, redisstore.WithRetention(c.GetRefreshTokenTTL())), func() { client.Close() }, nil
}

func newUserRepo(ctx context.Context, c config.Config) (users.Repo, func(), error) {
	if c.GetDatabaseURL() == "" {
		log.Info().Msg("Users kept in memory")
		return fakeuserrepo.NewFakeUserRepo(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, c.GetDatabaseURL())
	if err != nil {
		return nil, nil, fmt.Errorf("[main] postgres: %w", err)
	}
	repo := postgres.NewUserRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("[main] postgres schema: %w", err)
	}
	log.Info().Msg("Users kept in PostgreSQL")
	return repo, pool.Close, nil
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
