// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides thread registry, message log, and agent checkpoints with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: writes are serialized, and ":memory:" stays a single database
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS threads (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			title       TEXT NOT NULL,
			created_at  TEXT NOT NULL,
			is_archived INTEGER NOT NULL DEFAULT 0,
			is_public   INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_threads_owner
			ON threads(user_id, is_archived, created_at);

		CREATE TABLE IF NOT EXISTS thread_messages (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id  TEXT NOT NULL,
			body       TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_thread_messages_thread
			ON thread_messages(thread_id, seq);

		CREATE TABLE IF NOT EXISTS agent_state (
			context_key TEXT PRIMARY KEY,
			state       BLOB NOT NULL,
			updated_at  TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateThread inserts a thread unless one with the same id exists, then
// returns whatever record is stored under that id.
func (s *SQLiteStore) CreateThread(ctx context.Context, userID, title, threadID string) (*Thread, bool, error) {
	if threadID == "" {
		threadID = uuid.New().String()
	}

	query := `
		INSERT INTO threads (id, user_id, title, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	res, err := s.db.ExecContext(ctx, query,
		threadID,
		orDefault(userID, DefaultUserID),
		orDefault(title, DefaultTitle),
		s.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, false, fmt.Errorf("inserting thread: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("checking thread insert: %w", err)
	}
	created := n > 0
	if created {
		s.logger.Debug("created thread", "id", threadID, "user_id", userID)
	}

	thread, err := s.GetThread(ctx, threadID)
	if err != nil {
		return nil, false, err
	}
	return thread, created, nil
}

// GetThread retrieves a thread by ID.
// Returns ErrNotFound if the thread doesn't exist.
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	query := `
		SELECT id, user_id, title, created_at, is_archived, is_public
		FROM threads
		WHERE id = ?
	`

	thread, err := scanThread(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying thread: %w", err)
	}
	return thread, nil
}

// ListThreadsByOwner returns the owner's non-archived threads, oldest first.
func (s *SQLiteStore) ListThreadsByOwner(ctx context.Context, userID string) ([]*Thread, error) {
	query := `
		SELECT id, user_id, title, created_at, is_archived, is_public
		FROM threads
		WHERE user_id = ? AND is_archived = 0
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying threads: %w", err)
	}
	defer rows.Close()

	threads := make([]*Thread, 0)
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning thread: %w", err)
		}
		threads = append(threads, thread)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating thread rows: %w", err)
	}

	return threads, nil
}

// ArchiveThread marks a thread archived. Unknown ids are ignored.
func (s *SQLiteStore) ArchiveThread(ctx context.Context, id string) error {
	return s.updateThread(ctx, "archive", `UPDATE threads SET is_archived = 1 WHERE id = ?`, id)
}

// SetThreadPublic sets the sharing flag. Unknown ids are ignored.
func (s *SQLiteStore) SetThreadPublic(ctx context.Context, id string, public bool) error {
	return s.updateThread(ctx, "set public", `UPDATE threads SET is_public = ? WHERE id = ?`, public, id)
}

// UpdateThreadTitle renames a thread. Unknown ids are ignored.
func (s *SQLiteStore) UpdateThreadTitle(ctx context.Context, id, title string) error {
	return s.updateThread(ctx, "update title", `UPDATE threads SET title = ? WHERE id = ?`, title, id)
}

func (s *SQLiteStore) updateThread(ctx context.Context, op, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*Thread, error) {
	var thread Thread
	var createdAtStr string

	err := row.Scan(
		&thread.ID,
		&thread.UserID,
		&thread.Title,
		&createdAtStr,
		&thread.IsArchived,
		&thread.IsPublic,
	)
	if err != nil {
		return nil, err
	}

	thread.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &thread, nil
}

// AppendMessage appends msg to the thread's log. The autoincrement seq column
// fixes the order.
func (s *SQLiteStore) AppendMessage(ctx context.Context, threadID string, msg json.RawMessage) (int, error) {
	if err := validateMessage(msg); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning append: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO thread_messages (thread_id, body, created_at) VALUES (?, ?, ?)`,
		threadID,
		string(msg),
		s.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting message: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM thread_messages WHERE thread_id = ?`, threadID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing append: %w", err)
	}

	return count, nil
}

// GetMessages returns the thread's log in append order.
func (s *SQLiteStore) GetMessages(ctx context.Context, threadID string) ([]json.RawMessage, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM thread_messages WHERE thread_id = ? ORDER BY seq ASC`, threadID)
	if err != nil {
		return nil, false, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []json.RawMessage
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, false, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, json.RawMessage(body))
	}

	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterating message rows: %w", err)
	}

	if len(messages) == 0 {
		return nil, false, nil
	}
	return messages, true, nil
}

// SaveAgentState saves or updates an agent checkpoint.
// Uses INSERT OR REPLACE to handle both insert and update cases.
func (s *SQLiteStore) SaveAgentState(ctx context.Context, key string, state []byte) error {
	query := `
		INSERT OR REPLACE INTO agent_state (context_key, state, updated_at)
		VALUES (?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		key,
		state,
		s.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("saving agent state: %w", err)
	}

	s.logger.Debug("saved agent state", "context_key", key, "size", len(state))
	return nil
}

// GetAgentState retrieves an agent checkpoint.
// Returns ErrNotFound if nothing was saved for the key.
func (s *SQLiteStore) GetAgentState(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT state FROM agent_state WHERE context_key = ?`

	var state []byte
	err := s.db.QueryRowContext(ctx, query, key).Scan(&state)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent state: %w", err)
	}

	return state, nil
}
