package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"ResearchPipeline/internal/domain"
	"ResearchPipeline/internal/ports"
)

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
    id          TEXT PRIMARY KEY,
    scope_id    TEXT NOT NULL,
    role        TEXT NOT NULL,
    type        TEXT NOT NULL,
    content     TEXT NOT NULL,
    agent_name  TEXT NOT NULL,
    status      TEXT NOT NULL,
    extra       TEXT NOT NULL,
    created_at  BIGINT NOT NULL,
    updated_at  BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_scope_idx ON messages (scope_id, created_at);
CREATE TABLE IF NOT EXISTS runs (
    id              TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    company         TEXT NOT NULL,
    status          TEXT NOT NULL,
    snapshot        TEXT NOT NULL,
    updated_at      BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_status_idx ON runs (status, updated_at);
`

var messageColumns = []string{"id", "scope_id", "role", "type", "content", "agent_name", "status", "extra", "created_at", "updated_at"}

// SQLStore persists messages and run snapshots in Postgres or SQLite.
type SQLStore struct {
	db      *sql.DB
	driver  string
	builder sq.StatementBuilderType
	now     func() time.Time
}

var (
	_ ports.MessageStore  = (*SQLStore)(nil)
	_ ports.RunRepository = (*SQLStore)(nil)
)

// Open connects to the database, applies connection pragmas and creates the
// schema when missing.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// a single connection serialises writers; WAL keeps readers cheap
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("apply %q: %w", pragma, err)
			}
		}
	}

	store, err := NewSQLStore(db, driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wires an existing sql.DB for the given driver.
func NewSQLStore(db *sql.DB, driver string) (*SQLStore, error) {
	builder := sq.StatementBuilder
	switch driver {
	case DriverPostgres:
		builder = builder.PlaceholderFormat(sq.Dollar)
	case DriverSQLite:
		builder = builder.PlaceholderFormat(sq.Question)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	return &SQLStore{
		db:      db,
		driver:  driver,
		builder: builder,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Migrate creates missing tables and indexes.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Create inserts a new message.
func (s *SQLStore) Create(ctx context.Context, msg domain.Message) (domain.Message, error) {
	now := s.now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now

	values, err := messageValues(msg)
	if err != nil {
		return domain.Message{}, err
	}
	query := s.builder.Insert("messages").Columns(messageColumns...).Values(values...)
	if _, err := query.RunWith(s.db).ExecContext(ctx); err != nil {
		return domain.Message{}, fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	return msg, nil
}

// Upsert reads, mutates and writes the message inside one transaction.
func (s *SQLStore) Upsert(ctx context.Context, id string, mutate ports.MessageMutator) (domain.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, fmt.Errorf("begin upsert %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	selectQuery := s.builder.Select(messageColumns...).From("messages").Where(sq.Eq{"id": id})
	if s.driver == DriverPostgres {
		selectQuery = selectQuery.Suffix("FOR UPDATE")
	}
	msg, err := scanMessage(selectQuery.RunWith(tx).QueryRowContext(ctx))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		msg = domain.Message{ID: id, CreatedAt: now}
	case err != nil:
		return domain.Message{}, fmt.Errorf("load message %s: %w", id, err)
	}

	mutate(&msg)
	msg.ID = id
	msg.UpdatedAt = now

	values, err := messageValues(msg)
	if err != nil {
		return domain.Message{}, err
	}
	upsert := s.builder.Insert("messages").Columns(messageColumns...).Values(values...).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
            scope_id = EXCLUDED.scope_id,
            role = EXCLUDED.role,
            type = EXCLUDED.type,
            content = EXCLUDED.content,
            agent_name = EXCLUDED.agent_name,
            status = EXCLUDED.status,
            extra = EXCLUDED.extra,
            updated_at = EXCLUDED.updated_at`)
	if _, err := upsert.RunWith(tx).ExecContext(ctx); err != nil {
		return domain.Message{}, fmt.Errorf("upsert message %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Message{}, fmt.Errorf("commit upsert %s: %w", id, err)
	}
	return msg, nil
}

// Get loads one message.
func (s *SQLStore) Get(ctx context.Context, id string) (domain.Message, error) {
	row := s.builder.Select(messageColumns...).From("messages").Where(sq.Eq{"id": id}).
		RunWith(s.db).QueryRowContext(ctx)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, fmt.Errorf("message %s: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("get message %s: %w", id, err)
	}
	return msg, nil
}

// ListByScope returns the scope's messages in creation order.
func (s *SQLStore) ListByScope(ctx context.Context, scopeID string) ([]domain.Message, error) {
	rows, err := s.builder.Select(messageColumns...).From("messages").
		Where(sq.Eq{"scope_id": scopeID}).
		OrderBy("created_at", "id").
		RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query scope %s: %w", scopeID, err)
	}

	var result []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan message: %w", err)
		}
		result = append(result, msg)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}
	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}
	return result, nil
}

// SaveRun upserts the run snapshot.
func (s *SQLStore) SaveRun(ctx context.Context, run domain.Run) error {
	snapshot, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ID, err)
	}
	updated := run.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}

	query := s.builder.Insert("runs").
		Columns("id", "conversation_id", "company", "status", "snapshot", "updated_at").
		Values(run.ID, run.ConversationID, run.Company, string(run.Status), string(snapshot), updated.UnixNano()).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            snapshot = EXCLUDED.snapshot,
            updated_at = EXCLUDED.updated_at`)
	if _, err := query.RunWith(s.db).ExecContext(ctx); err != nil {
		return fmt.Errorf("upsert run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun loads the latest snapshot of a run.
func (s *SQLStore) GetRun(ctx context.Context, id string) (domain.Run, error) {
	var snapshot string
	err := s.builder.Select("snapshot").From("runs").Where(sq.Eq{"id": id}).
		RunWith(s.db).QueryRowContext(ctx).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Run{}, fmt.Errorf("run %s: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return domain.Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	var run domain.Run
	if err := json.Unmarshal([]byte(snapshot), &run); err != nil {
		return domain.Run{}, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, nil
}

// ListCompleted returns completed runs, most recent first.
func (s *SQLStore) ListCompleted(ctx context.Context, limit int) ([]domain.Run, error) {
	query := s.builder.Select("snapshot").From("runs").
		Where(sq.Eq{"status": string(domain.RunCompleted)}).
		OrderBy("updated_at DESC")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}
	rows, err := query.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query completed runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []domain.Run
	for rows.Next() {
		var snapshot string
		if err := rows.Scan(&snapshot); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		var run domain.Run
		if err := json.Unmarshal([]byte(snapshot), &run); err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return result, nil
}

func messageValues(msg domain.Message) ([]any, error) {
	extra := []byte("{}")
	if len(msg.Extra) > 0 {
		encoded, err := json.Marshal(msg.Extra)
		if err != nil {
			return nil, fmt.Errorf("encode extra for %s: %w", msg.ID, err)
		}
		extra = encoded
	}
	return []any{
		msg.ID,
		msg.ScopeID,
		string(msg.Role),
		string(msg.Type),
		msg.Content,
		msg.AgentName,
		string(msg.Status),
		string(extra),
		msg.CreatedAt.UnixNano(),
		msg.UpdatedAt.UnixNano(),
	}, nil
}

func scanMessage(row sq.RowScanner) (domain.Message, error) {
	var (
		msg                  domain.Message
		role, typ, status    string
		extra                string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&msg.ID, &msg.ScopeID, &role, &typ, &msg.Content, &msg.AgentName, &status, &extra, &createdAt, &updatedAt); err != nil {
		return domain.Message{}, err
	}
	msg.Role = domain.MessageRole(role)
	msg.Type = domain.MessageType(typ)
	msg.Status = domain.MessageStatus(status)
	msg.CreatedAt = time.Unix(0, createdAt).UTC()
	msg.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if extra != "" && extra != "{}" {
		if err := json.Unmarshal([]byte(extra), &msg.Extra); err != nil {
			return domain.Message{}, fmt.Errorf("decode extra: %w", err)
		}
	}
	return msg, nil
}
