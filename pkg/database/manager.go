package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrNotFound is returned when a searchdomain, entity or datapoint does not
// exist.
var ErrNotFound = errors.New("database: not found")

// ErrConflict is returned when an insert violates a uniqueness constraint
// that cannot be auto-resolved.
var ErrConflict = errors.New("database: conflict")

// Config contains the PostgreSQL connection configuration.
type Config struct {
	Host     string `yaml:"host" env:"EMBEDDINGSEARCH_DB_HOST"`
	Port     int    `yaml:"port" env:"EMBEDDINGSEARCH_DB_PORT"`
	Name     string `yaml:"name" env:"EMBEDDINGSEARCH_DB_NAME"`
	User     string `yaml:"user" env:"EMBEDDINGSEARCH_DB_USER"`
	Password string `yaml:"password" env:"EMBEDDINGSEARCH_DB_PASSWORD"`
	SSLMode  string `yaml:"ssl_mode" env:"EMBEDDINGSEARCH_DB_SSL_MODE"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"EMBEDDINGSEARCH_DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"EMBEDDINGSEARCH_DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"EMBEDDINGSEARCH_DB_CONN_MAX_LIFETIME"`
}

// Manager owns the database handle and provides access to the repositories.
// All storage operations go through the manager's single connection pool;
// search workers never touch it.
type Manager struct {
	DB     *sqlx.DB
	config *Config
	logger *slog.Logger

	Searchdomains *SearchdomainRepository
	Entities      *EntityRepository
}

// NewManager opens the database and initializes the repositories. embedder
// is used by entity mutations to generate datapoint embeddings at insert
// time.
func NewManager(config *Config, embedder Embedder, logger *slog.Logger) (*Manager, error) {
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 25
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.ConnMaxLifetime == 0 {
		config.ConnMaxLifetime = 5 * time.Minute
	}
	if config.SSLMode == "" {
		config.SSLMode = "prefer"
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		config.Host, config.Port, config.Name, config.User, config.Password, config.SSLMode)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	m := &Manager{
		DB:     db,
		config: config,
		logger: logger,
	}
	m.Searchdomains = NewSearchdomainRepository(db, logger)
	m.Entities = NewEntityRepository(db, embedder, logger)

	logger.Info("database manager initialized",
		"host", config.Host,
		"port", config.Port,
		"database", config.Name)

	return m, nil
}

// schema is created idempotently at startup. Cascading foreign keys carry
// the ownership chain searchdomain → entity → datapoint → embedding.
const schema = `
CREATE TABLE IF NOT EXISTS searchdomain (
	id       BIGSERIAL PRIMARY KEY,
	name     TEXT NOT NULL UNIQUE,
	settings TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS entity (
	id              BIGSERIAL PRIMARY KEY,
	name            TEXT NOT NULL,
	probmethod      TEXT NOT NULL,
	id_searchdomain BIGINT NOT NULL REFERENCES searchdomain(id) ON DELETE CASCADE,
	UNIQUE (id_searchdomain, name)
);

CREATE TABLE IF NOT EXISTS attribute (
	id        BIGSERIAL PRIMARY KEY,
	id_entity BIGINT NOT NULL REFERENCES entity(id) ON DELETE CASCADE,
	attribute TEXT NOT NULL,
	value     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS datapoint (
	id                   BIGSERIAL PRIMARY KEY,
	id_entity            BIGINT NOT NULL REFERENCES entity(id) ON DELETE CASCADE,
	name                 TEXT NOT NULL,
	probmethod_embedding TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS embedding (
	id           BIGSERIAL PRIMARY KEY,
	id_datapoint BIGINT NOT NULL REFERENCES datapoint(id) ON DELETE CASCADE,
	model        TEXT NOT NULL,
	embedding    BYTEA NOT NULL,
	UNIQUE (id_datapoint, model)
);
`

// Migrate creates the schema if it does not exist yet.
func (m *Manager) Migrate(ctx context.Context) error {
	if _, err := m.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	m.logger.Info("database schema ready")
	return nil
}

// Health pings the database.
func (m *Manager) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (m *Manager) Close() error {
	m.logger.Info("closing database connection")
	return m.DB.Close()
}
