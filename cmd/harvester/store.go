package main

import (
	"context"
	"fmt"

	"github.com/cwygoda/harvester/internal/adapter/mysql"
	"github.com/cwygoda/harvester/internal/adapter/postgres"
	"github.com/cwygoda/harvester/internal/adapter/profile"
	"github.com/cwygoda/harvester/internal/adapter/sqlite"
	"github.com/cwygoda/harvester/internal/config"
	"github.com/cwygoda/harvester/internal/domain"
)

func openStore(ctx context.Context, cfg *config.Config) (domain.PageStore, error) {
	var (
		store domain.PageStore
		err   error
	)
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		store, err = sqlite.New(cfg.Store.Path, cfg.Store.Table)
	case config.DriverPostgres:
		store, err = postgres.New(ctx, cfg.Store.DSN, cfg.Store.Table, postgres.Options{MaxConns: cfg.Store.MaxConns})
	case config.DriverMySQL:
		store, err = mysql.New(cfg.Store.DSN, cfg.Store.Table, cfg.Store.MaxConns)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

func buildProfiles(cfg *config.Config) *profile.Registry {
	if len(cfg.Profiles) == 0 {
		return profile.Defaults()
	}
	r := profile.NewRegistry()
	for _, p := range cfg.Profiles {
		r.Register(domain.HeaderProfile{Name: p.Name, Headers: p.Headers})
	}
	return r
}
