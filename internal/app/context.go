// Package app wires the workspace together: database, migrations, config,
// ledger anchorer, lifecycle engine and dispatcher. The CLI and the server
// both start from here.
package app

import (
	"database/sql"
	"fmt"
	"time"

	"civicline/internal/agent"
	"civicline/internal/audit"
	"civicline/internal/config"
	"civicline/internal/db"
	"civicline/internal/dispatch"
	"civicline/internal/engine"
	"civicline/internal/ledger"
	"civicline/internal/migrate"
)

type App struct {
	DB         *sql.DB
	Config     *config.Config
	Engine     engine.Engine
	Dispatcher *dispatch.Dispatcher
	Anchorer   *audit.Anchorer
}

// Open boots the workspace: opens the database, applies migrations and
// builds the processing pipeline from the workspace config. A missing
// config file falls back to defaults.
func Open(workspace string) (*App, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	var anchorer *audit.Anchorer
	if cfg.Ledger.Enabled {
		node := &ledger.SimulatedNode{Latency: time.Duration(cfg.Ledger.LatencyMs) * time.Millisecond}
		anchorer = audit.NewAnchorer(conn, node, cfg.Ledger.MaxAttempts, time.Duration(cfg.Ledger.BaseBackoffMs)*time.Millisecond)
	}

	eng := engine.New(conn, anchorer)
	d := dispatch.New(eng, agent.LocalRuntime{})
	d.Workers = cfg.Batch.Workers
	d.CallTimeout = time.Duration(cfg.Runtime.TimeoutSeconds) * time.Second

	return &App{
		DB:         conn,
		Config:     cfg,
		Engine:     eng,
		Dispatcher: d,
		Anchorer:   anchorer,
	}, nil
}

// Close drains in-flight anchor jobs and closes the database.
func (a *App) Close() error {
	if a.Anchorer != nil {
		a.Anchorer.Wait()
	}
	return a.DB.Close()
}
