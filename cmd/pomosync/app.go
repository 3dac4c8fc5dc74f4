package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/pomosync/pomosync/internal/config"
	"github.com/pomosync/pomosync/internal/db"
	"github.com/pomosync/pomosync/internal/logging"
	"github.com/pomosync/pomosync/internal/orchestrator"
	"github.com/pomosync/pomosync/internal/queue"
	"github.com/pomosync/pomosync/internal/schema"
	"github.com/pomosync/pomosync/internal/state"
	"github.com/pomosync/pomosync/internal/tombstone"
	"github.com/pomosync/pomosync/internal/transport"
)

// app is one wired device: local store, collections, transport and
// orchestrator.
type app struct {
	cfg        *config.Config
	logs       *logging.Sink
	logger     *log.Logger
	store      *db.DB
	tombstones *tombstone.Tracker
	state      *state.State
	client     *transport.Client
	orch       *orchestrator.Orchestrator
}

// openSink returns the log destination for this run. One-shot commands stay
// quiet unless --verbose is set or a log file is configured.
func openSink(c *config.Config, alwaysStderr bool) (*logging.Sink, error) {
	if c.Log.File == "" && !alwaysStderr && !verbose {
		return logging.NewSink(io.Discard), nil
	}
	return logging.Open(c.Log)
}

// openStore opens the local database and creates its tables.
func openStore(c *config.Config) (*db.DB, error) {
	store, err := db.Open(c.DatabasePath())
	if err != nil {
		return nil, err
	}
	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return store, nil
}

func openApp(ctx context.Context, c *config.Config, alwaysLog bool) (*app, error) {
	logs, err := openSink(c, alwaysLog)
	if err != nil {
		return nil, err
	}

	store, err := openStore(c)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	deviceID, err := store.DeviceID(func() string { return schema.NewDeviceID(time.Now()) })
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, fmt.Errorf("failed to load device id: %w", err)
	}

	a := &app{
		cfg:    c,
		logs:   logs,
		logger: logs.Logger("pomosync"),
		store:  store,
	}

	a.tombstones = tombstone.New(store, tombstone.Options{
		Retention: c.Tombstone.Retention,
		Logger:    logs.Logger("tombstone"),
	})
	if err := a.tombstones.Load(); err != nil {
		a.closeStore()
		return nil, err
	}

	a.state = state.New(store, a.tombstones, state.Options{
		DeviceID: deviceID,
		Logger:   logs.Logger("state"),
	})
	if err := a.state.Load(ctx); err != nil {
		a.closeStore()
		return nil, err
	}
	if n, err := a.state.PruneHistory(ctx, c.History.Retention); err != nil {
		a.logger.Printf("Warning: failed to prune history: %v", err)
	} else if n > 0 {
		a.logger.Printf("Pruned %d records older than %s", n, c.History.Retention)
	}

	a.client = transport.New(transport.Options{
		Endpoint: c.Endpoint,
		DeviceID: deviceID,
		Timeout:  c.Transport.Timeout,
		Logger:   logs.Logger("transport"),
	})

	a.orch = orchestrator.New(a.state, a.client, store, orchestrator.Options{
		MinServerVersion: c.Sync.MinServerVersion,
		Queue: queue.Options{
			Debounce: c.Queue.Debounce,
			Logger:   logs.Logger("queue"),
		},
		Logger: logs.Logger("sync"),
	})
	return a, nil
}

// close pushes pending operations when a row-store is configured, then
// releases everything. Operations that cannot be pushed stay persisted.
func (a *app) close() {
	if a.client.Configured() && a.orch.Queue().Len() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Transport.Timeout)
		if err := a.orch.Flush(ctx); err != nil {
			a.logger.Printf("Warning: failed to push pending changes: %v", err)
		}
		cancel()
	}
	a.orch.Close()
	a.closeStore()
}

func (a *app) closeStore() {
	if err := a.store.Close(); err != nil {
		a.logger.Printf("Warning: failed to close database: %v", err)
	}
	_ = a.logs.Close()
}

// reload re-reads collections and tombstones written by other processes
// sharing the database.
func (a *app) reload(ctx context.Context) error {
	if err := a.tombstones.Load(); err != nil {
		return err
	}
	return a.state.Load(ctx)
}

// withApp opens the app, runs fn and closes it.
func withApp(fn func(ctx context.Context, a *app) error) error {
	ctx := context.Background()
	a, err := openApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}
