package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/mcdev12/pitchside/go/internal/dbconfig"
	"github.com/rs/zerolog/log"
)

// Database holds the two Postgres handles: pgx for fixture reads and
// database/sql for the event archive.
type Database struct {
	Pool *pgxpool.Pool
	DB   *sql.DB
}

func setupDatabase(ctx context.Context, dbCfg dbconfig.Config) (*Database, error) {
	database, err := sql.Open("postgres", dbCfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	database.SetMaxOpenConns(int(dbCfg.MaxConns))

	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", dbCfg.Redacted(), err)
	}

	poolCfg, err := pgxpool.ParseConfig(dbCfg.DSN())
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to parse pgx config: %w", err)
	}
	poolCfg.MaxConns = dbCfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	log.Info().
		Str("host", dbCfg.Host).
		Int("port", dbCfg.Port).
		Str("database", dbCfg.Database).
		Int32("max_conns", dbCfg.MaxConns).
		Msg("connected to database")
	return &Database{Pool: pool, DB: database}, nil
}

func (d *Database) Close() {
	d.Pool.Close()
	if err := d.DB.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close database")
	}
}
