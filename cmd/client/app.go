package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/atinyakov/freshtrio/internal/client/api"
	"github.com/atinyakov/freshtrio/internal/client/auth"
	"github.com/atinyakov/freshtrio/internal/client/cart"
	"github.com/atinyakov/freshtrio/internal/client/catalog"
	"github.com/atinyakov/freshtrio/internal/client/identity"
	"github.com/atinyakov/freshtrio/internal/client/orders"
	"github.com/atinyakov/freshtrio/internal/client/session"
	"github.com/atinyakov/freshtrio/internal/client/storage"
	"github.com/atinyakov/freshtrio/internal/config"
	"github.com/atinyakov/freshtrio/internal/db"
)

// Redis key prefixes of the two storage tiers.
const (
	redisGeneralPrefix = "freshtrio:general:"
	redisSecurePrefix  = "freshtrio:secure:"
)

// app holds every service of one client process.
type app struct {
	opts *config.Options
	log  *zap.Logger
	out  io.Writer
	in   *prompter

	tiers    storage.Tiers
	session  *session.Manager
	api      *api.Client
	provider *identity.Firebase
	google   *identity.GoogleLoopback
	auth     *auth.Service
	cart     *cart.Store
	catalog  *catalog.Service
	orders   *orders.Service

	closers []func() error
}

// newApp wires the services, hydrates the cart and reconciles the provider
// and backend sessions.
func newApp(ctx context.Context, opts *config.Options, log *zap.Logger, in *prompter, out io.Writer) (*app, error) {
	a := &app{opts: opts, log: log, in: in, out: out}

	// Open both storage tiers on the configured driver.
	tiers, err := a.openTiers(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.tiers = tiers

	// Build the backend HTTP client with the configured timeout and TLS roots.
	httpClient, err := api.NewHTTPClient(api.TransportOptions{
		Timeout:  opts.Timeout.Std(),
		CAFile:   opts.CAFile,
		CertFile: opts.CertFile,
		KeyFile:  opts.KeyFile,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.session = session.NewManager(tiers, session.WithLogger(log.Named("session")))
	a.api = api.New(opts.APIURL, httpClient, a.session, log.Named("api"))

	// Identity provider and optional Google sign-in.
	a.provider = identity.NewFirebase(identity.FirebaseConfig{
		APIKey:         opts.FirebaseAPIKey,
		IdentityURL:    opts.IdentityURL,
		SecureTokenURL: opts.SecureTokenURL,
		HTTPClient:     httpClient,
	}, tiers.Secure, log.Named("identity"))
	a.closers = append(a.closers, func() error { a.provider.Close(); return nil })

	authOpts := []auth.Option{auth.WithLogger(log.Named("auth"))}
	if opts.GoogleClientID != "" {
		a.google = identity.NewGoogleLoopback(identity.GoogleConfig{
			ClientID:     opts.GoogleClientID,
			ClientSecret: opts.GoogleClientSecret,
			CallbackAddr: opts.GoogleCallbackAddr,
			HTTPClient:   httpClient,
		}, tiers.Secure, log.Named("google"))
		authOpts = append(authOpts, auth.WithGoogle(a.google))
	}
	a.auth = auth.NewService(a.provider, a.api.Auth, a.session, authOpts...)

	// Cart, catalog and orders.
	a.cart = cart.NewStore(tiers.General, log.Named("cart"))
	a.catalog = catalog.NewService(a.api.Products, opts.PageSize, log.Named("catalog"))
	a.orders = orders.NewService(a.api.Orders, a.cart, orders.WithLogger(log.Named("orders")))

	a.auth.OnSignOut(a.cart.Clear)

	a.cart.Hydrate(ctx)
	a.auth.Reconcile(ctx)
	return a, nil
}

// openTiers builds the secure and general tiers for the configured driver.
// The secure tier is sealed with the local key on every persistent driver.
func (a *app) openTiers(ctx context.Context) (storage.Tiers, error) {
	opts := a.opts
	log := a.log.Named("storage")

	switch opts.StorageDriver {
	case config.DriverMemory:
		return storage.NewTiers(storage.NewMemoryBackend(), storage.NewMemoryBackend(), log), nil

	case config.DriverFile:
		secure, err := storage.NewSecureFileBackend(filepath.Join(opts.DataDir, "secure.json"), opts.SecureKeyFile())
		if err != nil {
			return storage.Tiers{}, fmt.Errorf("open secure storage: %w", err)
		}
		general := storage.NewFileBackend(filepath.Join(opts.DataDir, "general.json"))
		return storage.NewTiers(secure, general, log), nil

	case config.DriverSQLite, config.DriverPostgres:
		dsn := opts.StorageDSN
		if opts.StorageDriver == config.DriverSQLite {
			dsn = opts.SQLiteDSN()
		}
		conn, err := db.Open(opts.StorageDriver, dsn)
		if err != nil {
			return storage.Tiers{}, err
		}
		a.closers = append(a.closers, conn.Close)
		return a.sealedTiers(sqlBackends(conn))

	case config.DriverRedis:
		ropts, err := redis.ParseURL(opts.StorageDSN)
		if err != nil {
			return storage.Tiers{}, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(ropts)
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return storage.Tiers{}, fmt.Errorf("ping redis: %w", err)
		}
		return a.sealedTiers(
			storage.NewRedisBackend(client, redisSecurePrefix),
			storage.NewRedisBackend(client, redisGeneralPrefix),
		)
	}
	return storage.Tiers{}, fmt.Errorf("unknown storage driver %q", opts.StorageDriver)
}

func sqlBackends(conn *sql.DB) (secure, general storage.Backend) {
	return storage.NewSQLBackend(conn, "secure"), storage.NewSQLBackend(conn, "general")
}

func (a *app) sealedTiers(secure, general storage.Backend) (storage.Tiers, error) {
	key, err := storage.LoadOrCreateKey(a.opts.SecureKeyFile())
	if err != nil {
		return storage.Tiers{}, fmt.Errorf("load secure key: %w", err)
	}
	aead, err := storage.NewAEADFromKey(key)
	if err != nil {
		return storage.Tiers{}, err
	}
	return storage.NewTiers(storage.NewSealedBackend(secure, aead), general, a.log.Named("storage")), nil
}

// Close releases storage connections and stops the auth-state stream.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
