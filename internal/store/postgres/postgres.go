// Package postgres implements the store.Store interface backed by PostgreSQL.
// The migrations it applies also install the change-notification triggers
// that feed the listener, so opening the store is what arms the pipeline.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/groblegark/kchat/internal/model"
	"github.com/groblegark/kchat/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewWithDB wraps an existing database handle without running migrations.
// Used by tests with sqlmock.
func NewWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks database liveness for the readiness endpoint.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	return queryGroupMembers(ctx, s.db, groupID)
}

func (s *PostgresStore) GroupsForUser(ctx context.Context, userID string) ([]string, error) {
	return queryGroupsForUser(ctx, s.db, userID)
}

func (s *PostgresStore) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	return queryIsMember(ctx, s.db, groupID, userID)
}

func (s *PostgresStore) AddMember(ctx context.Context, groupID, userID string) error {
	return queryAddMember(ctx, s.db, groupID, userID)
}

func (s *PostgresStore) RemoveMember(ctx context.Context, groupID, userID string) error {
	return queryRemoveMember(ctx, s.db, groupID, userID)
}

func (s *PostgresStore) CreateMessage(ctx context.Context, m *model.Message) error {
	return queryCreateMessage(ctx, s.db, m)
}

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	return queryGetMessage(ctx, s.db, id)
}

func (s *PostgresStore) UpdateMessage(ctx context.Context, id, content string) (*model.Message, error) {
	return queryUpdateMessage(ctx, s.db, id, content)
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, id string) error {
	return queryDeleteMessage(ctx, s.db, id)
}

func (s *PostgresStore) AddReaction(ctx context.Context, r *model.Reaction) error {
	return queryAddReaction(ctx, s.db, r)
}

func (s *PostgresStore) RemoveReaction(ctx context.Context, messageID, sender, emoji string) error {
	return queryRemoveReaction(ctx, s.db, messageID, sender, emoji)
}

func (s *PostgresStore) MarkRead(ctx context.Context, receipt *model.ReadReceipt) error {
	return queryMarkRead(ctx, s.db, receipt)
}

func (s *PostgresStore) NotifyTyping(ctx context.Context, groupID, userID string, typing bool) error {
	return queryNotifyTyping(ctx, s.db, groupID, userID, typing)
}

func (s *PostgresStore) RecordEvent(ctx context.Context, entry *model.JournalEntry) error {
	return queryRecordEvent(ctx, s.db, entry)
}

func (s *PostgresStore) ListEvents(ctx context.Context, limit int) ([]*model.JournalEntry, error) {
	return queryListEvents(ctx, s.db, limit)
}
