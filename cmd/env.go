package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/example/gym-scheduler/internal/accounts"
	"github.com/example/gym-scheduler/internal/config"
	"github.com/example/gym-scheduler/internal/crypto"
	"github.com/example/gym-scheduler/internal/db"
	"github.com/example/gym-scheduler/internal/jobs"
	"github.com/example/gym-scheduler/internal/migrate"
)

// env bundles the wiring every CLI command needs: parsed config, an open
// database with migrations applied, and the two stores.
type env struct {
	cfg      config.Config
	d        *db.DB
	accounts *accounts.Store
	jobs     *jobs.PostgresStore
	log      *slog.Logger
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	d, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := migrate.Up(ctx, d); err != nil {
		d.Close()
		return nil, err
	}

	aead, err := crypto.New(cfg.EncryptKey)
	if err != nil {
		d.Close()
		return nil, err
	}

	return &env{
		cfg:      cfg,
		d:        d,
		accounts: accounts.NewStore(d, aead, cfg.CookieHashKey, cfg.CookieBlockKey),
		jobs:     jobs.NewPostgresStore(d),
		log:      slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}, nil
}

func (e *env) close() { e.d.Close() }
