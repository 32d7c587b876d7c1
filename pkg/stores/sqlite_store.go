package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/openfroyo/solo/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const timeLayout = time.RFC3339Nano

// SQLiteStore implements engine.StateStore using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ engine.StateStore = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Open creates, initializes and migrates a store in one call.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// UpsertResource inserts or replaces the record of a resource
func (s *SQLiteStore) UpsertResource(ctx context.Context, rec *engine.ResourceRecord) error {
	if rec.Name == "" {
		return engine.NewPermanentError("resource name is required", nil).WithCode(engine.ErrCodeValidation)
	}
	if err := rec.Status.Validate(); err != nil {
		return engine.NewPermanentError("invalid resource record", err).WithCode(engine.ErrCodeValidation)
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	query := `
		INSERT INTO resources (
			name, type, resource_id, status, status_reason, properties, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			type = excluded.type,
			resource_id = excluded.resource_id,
			status = excluded.status,
			status_reason = excluded.status_reason,
			properties = COALESCE(excluded.properties, resources.properties),
			updated_at = excluded.updated_at
	`

	var properties sql.NullString
	if len(rec.Properties) > 0 {
		properties = sql.NullString{String: string(rec.Properties), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.Name,
		rec.Type,
		rec.ResourceID,
		string(rec.Status),
		rec.StatusReason,
		properties,
		rec.CreatedAt.Format(timeLayout),
		rec.UpdatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert resource: %w", err)
	}

	return nil
}

// GetResource retrieves a resource record by name
func (s *SQLiteStore) GetResource(ctx context.Context, name string) (*engine.ResourceRecord, error) {
	query := `
		SELECT name, type, resource_id, status, status_reason, properties, created_at, updated_at
		FROM resources
		WHERE name = ?
	`

	rec, err := scanResource(s.db.QueryRowContext(ctx, query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("resource not found", nil).WithResource(name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}

	return rec, nil
}

// ListResources lists resource records ordered by name
func (s *SQLiteStore) ListResources(ctx context.Context, limit, offset int) ([]*engine.ResourceRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT name, type, resource_id, status, status_reason, properties, created_at, updated_at
		FROM resources
		ORDER BY name
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	records := []*engine.ResourceRecord{}
	for rows.Next() {
		rec, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resources: %w", err)
	}

	return records, nil
}

// DeleteResource removes a resource record. Its events are kept.
func (s *SQLiteStore) DeleteResource(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM resources WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows == 0 {
		return engine.NewNotFoundError("resource not found", nil).WithResource(name)
	}

	return nil
}

// AppendEvent appends an event to a resource timeline
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *engine.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO events (resource_name, type, phase, level, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.ResourceName,
		string(event.Type),
		event.Phase,
		event.Level(),
		event.Message,
		event.Timestamp.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	// Get the auto-generated ID
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// ListEvents retrieves the events of a resource, oldest first
func (s *SQLiteStore) ListEvents(ctx context.Context, resourceName string, limit, offset int) ([]*engine.Event, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT id, resource_name, type, phase, message, timestamp
		FROM events
		WHERE resource_name = ?
		ORDER BY id
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, resourceName, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*engine.Event{}
	for rows.Next() {
		event := &engine.Event{}
		var typ, ts string
		err := rows.Scan(
			&event.ID,
			&event.ResourceName,
			&typ,
			&event.Phase,
			&event.Message,
			&ts,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Type = engine.EventType(typ)
		if event.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("failed to parse event timestamp: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (*engine.ResourceRecord, error) {
	rec := &engine.ResourceRecord{}
	var status, createdAt, updatedAt string
	var properties sql.NullString

	err := row.Scan(
		&rec.Name,
		&rec.Type,
		&rec.ResourceID,
		&status,
		&rec.StatusReason,
		&properties,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = engine.ResourceStatus(status)
	if properties.Valid {
		rec.Properties = []byte(properties.String)
	}
	if rec.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return rec, nil
}
