// Package server wires the row store: Postgres repositories, services and
// the gRPC endpoint.
package server

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/attendkeeper/internal/logging"
	"github.com/dmitrijs2005/attendkeeper/internal/server/config"
	"github.com/dmitrijs2005/attendkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/attendkeeper/internal/server/services"

	gs "github.com/dmitrijs2005/attendkeeper/internal/server/grpc"
)

var (
	openDB = func(dsn string) (*sql.DB, error) {
		return sql.Open("pgx", dsn)
	}

	newRepositoryManager = func() repomanager.RepositoryManager {
		return repomanager.NewPostgresRepositoryManager()
	}
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	server *gs.GRPCServer
}

// NewApp connects to the database, applies migrations and builds the
// services behind the gRPC server.
func NewApp(ctx context.Context, c *config.Config, l logging.Logger) (*App, error) {

	db, err := openDB(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	rm := newRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if c.GoogleClientID == "" {
		l.Warn(ctx, "google client id is not configured, sign-in will fail")
	}

	as := services.NewAuthService(db, rm, c)
	rs := services.NewRowService(db, rm)
	ss := services.NewSnapshotService(c)

	s := gs.NewGRPCServer(c.EndpointAddrGRPC, l, as, rs, ss, c.SecretKey)

	return &App{config: c, logger: l, db: db, server: s}, nil
}

// Run serves until ctx is cancelled.
func (app *App) Run(ctx context.Context) error {

	app.logger.Info(ctx, "Starting app...")

	if err := app.server.Run(ctx); err != nil {
		app.logger.Error(ctx, "gRPC server stopped", "error", err)
		return err
	}

	app.logger.Info(ctx, "App stopped")
	return nil
}

func (app *App) Close() error {
	return app.db.Close()
}
