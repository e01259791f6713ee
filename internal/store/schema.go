package store

import (
	"context"
	"fmt"

	"github.com/enzosv/mediumcrawler/pkg/config"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS posts (
		post_id TEXT NOT NULL PRIMARY KEY,
		title TEXT NOT NULL,
		published_at BIGINT NOT NULL,
		updated_at BIGINT,
		collection TEXT,
		creator TEXT NOT NULL,
		is_paid INTEGER NOT NULL DEFAULT 0,
		reading_time DOUBLE PRECISION,
		total_clap_count BIGINT,
		tags TEXT,
		subtitle TEXT,
		recommend_count BIGINT,
		response_count BIGINT
	)`,
	`CREATE TABLE IF NOT EXISTS pages (
		id TEXT NOT NULL,
		name TEXT,
		page_type INTEGER NOT NULL,
		last_query BIGINT,
		PRIMARY KEY (id, page_type)
	)`,
	`CREATE INDEX IF NOT EXISTS pages_staleness_idx ON pages (last_query, page_type)`,
	`CREATE INDEX IF NOT EXISTS posts_claps_idx ON posts (total_clap_count DESC)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS posts (
		post_id TEXT NOT NULL PRIMARY KEY,
		title TEXT NOT NULL,
		published_at INTEGER NOT NULL,
		updated_at INTEGER,
		collection TEXT,
		creator TEXT NOT NULL,
		is_paid INTEGER NOT NULL DEFAULT 0,
		reading_time REAL,
		total_clap_count INTEGER,
		tags TEXT,
		subtitle TEXT,
		recommend_count INTEGER,
		response_count INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS pages (
		id TEXT NOT NULL,
		name TEXT,
		page_type INTEGER NOT NULL,
		last_query INTEGER,
		PRIMARY KEY (id, page_type)
	)`,
	`CREATE INDEX IF NOT EXISTS pages_staleness_idx ON pages (last_query, page_type)`,
	`CREATE INDEX IF NOT EXISTS posts_claps_idx ON posts (total_clap_count DESC)`,
}

// Migrate creates the posts and pages tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := sqliteSchema
	if s.db.Driver() == config.DriverPostgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	s.logger.Info("schema ready", "driver", s.db.Driver())
	return nil
}
