package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/ammora/internal/domain"
	"github.com/ashureev/ammora/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeAttempts  = 3
	writeBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	return openSQLite(dbPath)
}

func openSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL lets the HTTP readers proceed while persistence workers write.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		age INTEGER,
		gender TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS preferences (
		user_id TEXT PRIMARY KEY,
		data_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		chat_session_id TEXT,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(chat_session_id, created_at);

	CREATE TABLE IF NOT EXISTS thread_records (
		user_id TEXT PRIMARY KEY,
		thread_id TEXT,
		turn_count INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		last_message_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, name, email, age, gender, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var email, gender sql.NullString
	var age sql.NullInt64
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Name, &email, &age, &gender, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.Email = email.String
	user.Gender = gender.String
	user.Age = int(age.Int64)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, name, email, age, gender, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		name = excluded.name,
		email = excluded.email,
		age = excluded.age,
		gender = excluded.gender,
		updated_at = excluded.updated_at`

	now := time.Now()
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Name, nullString(user.Email), user.Age, nullString(user.Gender),
		createdAt.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// GetPreferences retrieves the preference set for a user.
func (s *SQLiteStore) GetPreferences(ctx context.Context, userID string) (*domain.Preferences, error) {
	var data string
	var updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT data_json, updated_at FROM preferences WHERE user_id = ?`, userID,
	).Scan(&data, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan preferences row: %w", err)
	}

	var prefs domain.Preferences
	if err := json.Unmarshal([]byte(data), &prefs); err != nil {
		return nil, fmt.Errorf("decode preferences for %s: %w", userID, err)
	}
	prefs.UserID = userID
	prefs.UpdatedAt = time.Unix(updatedAt, 0)
	return &prefs, nil
}

// UpsertPreferences creates or replaces the preference set for a user.
func (s *SQLiteStore) UpsertPreferences(ctx context.Context, prefs *domain.Preferences) error {
	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}

	query := `
	INSERT INTO preferences (user_id, data_json, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		data_json = excluded.data_json,
		updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, prefs.UserID, string(data), time.Now().Unix()); err != nil {
		return fmt.Errorf("upsert preferences: %w", err)
	}
	return nil
}

// RecentTurns returns the most recent limit turns for a user, oldest first.
func (s *SQLiteStore) RecentTurns(ctx context.Context, userID string, limit int) ([]domain.Turn, error) {
	query := `
		SELECT id, role, text, created_at FROM messages
		WHERE user_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close recent turns rows", "error", closeErr)
		}
	}()

	var turns []domain.Turn
	for rows.Next() {
		var turn domain.Turn
		var role string
		var createdAt int64
		if err := rows.Scan(&turn.ID, &role, &turn.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turn.Role = domain.Role(role)
		turn.Timestamp = time.Unix(0, createdAt)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent turns: %w", err)
	}

	reverseTurns(turns)
	return turns, nil
}

// AppendTurn appends a turn to the user's message log.
func (s *SQLiteStore) AppendTurn(ctx context.Context, userID, sessionID string, turn domain.Turn) error {
	query := `
		INSERT INTO messages (id, user_id, chat_session_id, role, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	return shared.RetryOnConflict(ctx, "append turn", writeAttempts, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query,
			turn.ID, userID, nullString(sessionID), string(turn.Role), turn.Text, turn.Timestamp.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
}

// SessionMessages returns the most recent limit messages of a chat session, oldest first.
func (s *SQLiteStore) SessionMessages(ctx context.Context, sessionID string, limit int) ([]domain.StoredMessage, error) {
	query := `
		SELECT id, user_id, chat_session_id, role, text, created_at FROM messages
		WHERE chat_session_id = ?
		ORDER BY created_at DESC, seq DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query session messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session messages rows", "error", closeErr)
		}
	}()

	var messages []domain.StoredMessage
	for rows.Next() {
		var msg domain.StoredMessage
		var session sql.NullString
		var role string
		var createdAt int64
		if err := rows.Scan(&msg.ID, &msg.UserID, &session, &role, &msg.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.SessionID = session.String
		msg.Role = domain.Role(role)
		msg.Timestamp = time.Unix(0, createdAt)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session messages: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// GetThreadRecord retrieves the remote thread record for a user.
func (s *SQLiteStore) GetThreadRecord(ctx context.Context, userID string) (*domain.ThreadRecord, error) {
	var record domain.ThreadRecord
	var threadID sql.NullString
	var updatedAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, thread_id, turn_count, updated_at FROM thread_records WHERE user_id = ?`, userID,
	).Scan(&record.UserID, &threadID, &record.TurnCount, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan thread record: %w", err)
	}

	record.ThreadID = threadID.String
	record.UpdatedAt = time.Unix(0, updatedAt)
	return &record, nil
}

// SetThreadRecord replaces the remote thread record for a user.
func (s *SQLiteStore) SetThreadRecord(ctx context.Context, record *domain.ThreadRecord) error {
	query := `
	INSERT INTO thread_records (user_id, thread_id, turn_count, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		thread_id = excluded.thread_id,
		turn_count = excluded.turn_count,
		updated_at = excluded.updated_at`

	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	return shared.RetryOnConflict(ctx, "set thread record", writeAttempts, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query,
			record.UserID, nullString(record.ThreadID), record.TurnCount, updatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("upsert thread record: %w", err)
		}
		return nil
	})
}

// TouchSession refreshes last-activity and message count for a chat session.
// Requests without a session ID have nothing to summarize.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID, userID string, at time.Time) error {
	if sessionID == "" {
		return nil
	}

	query := `
	INSERT INTO chat_sessions (session_id, user_id, message_count, last_message_at, created_at, updated_at)
	VALUES (?, ?, (SELECT COUNT(*) FROM messages WHERE chat_session_id = ?), ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		message_count = excluded.message_count,
		last_message_at = MAX(chat_sessions.last_message_at, excluded.last_message_at),
		updated_at = excluded.updated_at`

	now := time.Now().Unix()
	return shared.RetryOnConflict(ctx, "touch session", writeAttempts, writeBaseDelay, func() error {
		_, err := s.db.ExecContext(ctx, query, sessionID, userID, sessionID, at.Unix(), now, now)
		if err != nil {
			return fmt.Errorf("upsert chat session: %w", err)
		}
		return nil
	})
}

// GetSession retrieves chat session metadata.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	query := `
		SELECT session_id, user_id, message_count, last_message_at, created_at, updated_at
		FROM chat_sessions WHERE session_id = ?`

	var session domain.ChatSession
	var lastMessageAt, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.SessionID, &session.UserID, &session.MessageCount,
		&lastMessageAt, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat session: %w", err)
	}

	session.LastMessageAt = time.Unix(lastMessageAt, 0)
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)
	return &session, nil
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func reverseTurns(turns []domain.Turn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}
