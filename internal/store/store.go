package store

import (
	"context"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/jmoiron/sqlx"

	"sjsage522/autoadworker/logger"
	apperrors "sjsage522/autoadworker/pkg/errors"
)

const (
	source = "store"

	// DefaultMaxIdleConns is the default maximum number of idle connections
	DefaultMaxIdleConns = 2

	// DefaultConnMaxLifetime is the default maximum lifetime of a connection
	DefaultConnMaxLifetime = 5 * time.Minute

	// DefaultPingTimeout is the default timeout for pinging the database
	DefaultPingTimeout = 5 * time.Second
)

// Ad history statuses
const (
	StatusActive       = "active"
	StatusPriceChanged = "price_changed"
	StatusSold         = "sold"
)

// Store is the Postgres repository for makes, models, ads and ad history
type Store struct {
	db  *sqlx.DB
	log *logger.Logger
}

// Connect opens a pooled connection and verifies it
func Connect(ctx context.Context, dsn string, maxOpenConns int) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, apperrors.NewStorage(source, "failed to connect to database", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, DefaultPingTimeout)
	defer cancel()

	if pingErr := db.PingContext(pingCtx); pingErr != nil {
		db.Close()
		return nil, apperrors.NewStorage(source, "failed to ping database", pingErr)
	}

	return New(db), nil
}

// New wraps an open database handle
func New(db *sqlx.DB) *Store {
	return &Store{db: db, log: logger.ForStore()}
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DistinctMakes lists manufacturer names found on stored ads
func (s *Store) DistinctMakes(ctx context.Context, limit int) ([]string, error) {
	var names []string
	err := s.db.SelectContext(ctx, &names, `
		SELECT DISTINCT make_name
		FROM auto_ad
		WHERE make_name IS NOT NULL
		AND LENGTH(TRIM(make_name)) > 0
		ORDER BY make_name
		LIMIT $1`, limit)
	if err != nil {
		return nil, apperrors.NewStorage(source, "failed to list makes", err)
	}
	return names, nil
}

func wrap(op string, err error) error {
	return apperrors.NewStorage(source, "failed to "+op, err)
}
