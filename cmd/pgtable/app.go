package main

import (
	"context"

	"github.com/koustreak/pgtable/internal/config"
	"github.com/koustreak/pgtable/internal/database"
	"github.com/koustreak/pgtable/internal/database/postgres"
	"github.com/koustreak/pgtable/internal/filestore"
	"github.com/koustreak/pgtable/internal/filestore/local"
	"github.com/koustreak/pgtable/internal/filestore/minio"
	"github.com/koustreak/pgtable/internal/logger"
	"github.com/koustreak/pgtable/internal/table"
)

// app owns everything a command needs for one resolved table.
type app struct {
	cfg   *config.Config
	log   *logger.Logger
	cache *database.Cache
	store filestore.Store
	table *table.Table
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := logger.New(&cfg.Logger)

	a := &app{cfg: cfg, log: log}
	a.cache = database.NewCache(postgres.NewConnector(log),
		database.WithBackoff(cfg.Backoff),
		database.WithLogger(log))
	runner := database.NewExecutor(a.cache, log)

	opts := []table.Option{table.WithLogger(log), table.WithBackoff(cfg.Backoff)}
	if len(cfg.Table.DataFiles) > 0 {
		store, err := openStore(ctx, &cfg.Filestore)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.store = store
		opts = append(opts, table.WithStore(store, cfg.Filestore.Bucket))
	}

	a.table, err = table.Open(ctx, cfg.Table, runner, opts...)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func openStore(ctx context.Context, cfg *filestore.Config) (filestore.Store, error) {
	if cfg.Provider == filestore.ProviderMinIO {
		return minio.New(ctx, cfg)
	}
	return local.New(cfg)
}

func (a *app) close(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.WarnWith("closing data store", err, nil)
		}
	}
	a.cache.Close(ctx)
}
