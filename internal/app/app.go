// Package app assembles the stores, identity provider and provisioning
// service from a Config. Binaries share it so they agree on wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"iepp.org/internal/config"
	"iepp.org/internal/directory"
	"iepp.org/internal/identity"
	"iepp.org/internal/migrate"
	"iepp.org/internal/obs"
	"iepp.org/internal/provision"
	"iepp.org/internal/store/pg"
)

// Components is the wired application core.
type Components struct {
	Tokens      *identity.TokenService
	Identity    *identity.Local
	Directory   directory.Store
	Provisioner *provision.Service
	// Ready is pinged by the readiness probes.
	Ready interface {
		Ping(ctx context.Context) error
	}

	closers []func() error
}

// Build wires everything cfg describes. With an empty DSN both stores live in
// memory; otherwise they share one Postgres pool, optionally migrated first.
func Build(ctx context.Context, cfg config.Config) (*Components, error) {
	tokens, err := buildTokens(cfg.Auth)
	if err != nil {
		return nil, err
	}
	c := &Components{Tokens: tokens}

	var accounts identity.AccountStore
	if cfg.InMemory() {
		obs.Logger().Warn("no database configured, using in-memory stores")
		mem := directory.NewMemoryStore()
		accounts = identity.NewMemoryStore()
		c.Directory = mem
		c.Ready = mem
	} else {
		st, err := pg.Open(cfg.Database.DSN, pg.PoolConfig{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		})
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		c.closers = append(c.closers, st.Close)
		if err := st.Ping(ctx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		if cfg.Database.MigrateOnStart {
			applied, err := migrate.NewManager(st.DB(), nil).Up(ctx)
			if err != nil {
				_ = c.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			obs.Logger().Info("migrations applied", "count", len(applied), "names", applied)
		}
		accounts = st.Accounts()
		c.Directory = st.Documents()
		c.Ready = st
	}

	c.Identity, err = identity.NewLocal(accounts, tokens, identity.WithBcryptCost(cfg.Auth.BcryptCost))
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	opts := []provision.Option{
		provision.WithLogger(obs.Logger()),
		provision.WithCompensationTimeout(cfg.Provision.CompensationTimeout),
	}
	if cfg.Provision.SurfaceDuplicates {
		opts = append(opts, provision.WithDuplicatePolicy(provision.SurfaceDuplicates))
	}
	c.Provisioner = provision.New(c.Identity, c.Directory, opts...)
	return c, nil
}

func buildTokens(a config.Auth) (*identity.TokenService, error) {
	opts := []identity.TokenOption{
		identity.WithIssuer(a.Issuer),
		identity.WithTokenTTL(a.TokenTTL),
	}
	switch {
	case a.RSAKeyFile != "":
		pemData, err := os.ReadFile(a.RSAKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read signing key: %w", err)
		}
		key, err := identity.ParseRSAPrivateKey(pemData)
		if err != nil {
			return nil, fmt.Errorf("parse signing key %s: %w", a.RSAKeyFile, err)
		}
		opts = append(opts, identity.WithRSAKey(key, a.KeyID))
	default:
		opts = append(opts, identity.WithHMACSecret(a.HMACSecret))
	}
	return identity.NewTokenService(opts...)
}

// Close releases held resources in reverse order of acquisition.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	c.closers = nil
	return errors.Join(errs...)
}
