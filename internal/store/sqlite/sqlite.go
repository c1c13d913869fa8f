package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rentme/chatrelay/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	display_name  TEXT NOT NULL,
	role          TEXT NOT NULL DEFAULT 'tenant',
	password_hash TEXT NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	room_key    TEXT NOT NULL,
	sender_id   INTEGER NOT NULL,
	receiver_id INTEGER NOT NULL,
	body        TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	edited      BOOLEAN NOT NULL DEFAULT 0,
	deleted     BOOLEAN NOT NULL DEFAULT 0,
	FOREIGN KEY (sender_id) REFERENCES users(id),
	FOREIGN KEY (receiver_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_key, id);
CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver_id, room_key);

CREATE TABLE IF NOT EXISTS conversation_reads (
	user_id              INTEGER NOT NULL,
	room_key             TEXT NOT NULL,
	last_read_message_id INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, room_key)
);
`

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, displayName string, role store.Role, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, display_name, role, password_hash)
		VALUES (?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, displayName, role, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, username, display_name, role, password_hash, created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, display_name, role, password_hash, created_at
		FROM users
		WHERE username = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.DisplayName,
		&user.Role,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// ==== MessageStore implementation ====

// CreateMessage persists a message and assigns its ID.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	query := `
		INSERT INTO messages (room_key, sender_id, receiver_id, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, msg.RoomKey, msg.SenderID, msg.ReceiverID, msg.Body, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	msg.ID = id
	return nil
}

// GetMessage retrieves a message by ID, tombstones included.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*store.Message, error) {
	query := `
		SELECT id, room_key, sender_id, receiver_id, body, created_at, edited, deleted
		FROM messages
		WHERE id = ?
	`
	var msg store.Message
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&msg.ID,
		&msg.RoomKey,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.Body,
		&msg.CreatedAt,
		&msg.Edited,
		&msg.Deleted,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message: %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}

	return &msg, nil
}

// UpdateMessageBody replaces the body of a message and marks it edited.
func (s *SQLiteStore) UpdateMessageBody(ctx context.Context, id int64, body string) error {
	query := `
		UPDATE messages
		SET body = ?, edited = 1
		WHERE id = ? AND deleted = 0
	`
	result, err := s.db.ExecContext(ctx, query, body, id)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("message: %w", store.ErrNotFound)
	}
	return nil
}

// TombstoneMessage marks a message deleted while keeping the row.
func (s *SQLiteStore) TombstoneMessage(ctx context.Context, id int64) error {
	query := `
		UPDATE messages
		SET deleted = 1
		WHERE id = ? AND deleted = 0
	`
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("tombstone message: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("message: %w", store.ErrNotFound)
	}
	return nil
}

// ListMessages retrieves active messages from a room with pagination,
// oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomKey string, limit int, beforeID *int64) ([]*store.Message, error) {
	var query string
	var args []any

	if beforeID != nil {
		query = `
			SELECT id, room_key, sender_id, receiver_id, body, created_at, edited, deleted
			FROM messages
			WHERE room_key = ? AND deleted = 0 AND id < ?
			ORDER BY id DESC
			LIMIT ?
		`
		args = []any{roomKey, *beforeID, limit}
	} else {
		query = `
			SELECT id, room_key, sender_id, receiver_id, body, created_at, edited, deleted
			FROM messages
			WHERE room_key = ? AND deleted = 0
			ORDER BY id DESC
			LIMIT ?
		`
		args = []any{roomKey, limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var msg store.Message
		if err := rows.Scan(&msg.ID, &msg.RoomKey, &msg.SenderID, &msg.ReceiverID, &msg.Body, &msg.CreatedAt, &msg.Edited, &msg.Deleted); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &msg)
	}

	// Reverse to get chronological order.
	for i := 0; i < len(messages)/2; i++ {
		messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
	}

	return messages, rows.Err()
}

// ==== ConversationStore implementation ====

// ListConversations returns one roster entry per counterpart the user has
// exchanged at least one active message with, newest room first.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID int64) ([]*store.ConversationEntry, error) {
	query := `
		SELECT m.room_key,
		       m.id, m.sender_id, m.receiver_id, m.body, m.created_at, m.edited,
		       u.id, u.username, u.display_name, u.role, u.created_at,
		       (SELECT COUNT(*) FROM messages n
		         WHERE n.room_key = m.room_key
		           AND n.receiver_id = ?
		           AND n.deleted = 0
		           AND n.id > COALESCE((SELECT last_read_message_id FROM conversation_reads r
		                                 WHERE r.user_id = ? AND r.room_key = m.room_key), 0)
		       ) AS unread
		FROM messages m
		JOIN users u ON u.id = CASE WHEN m.sender_id = ? THEN m.receiver_id ELSE m.sender_id END
		WHERE m.id IN (
			SELECT MAX(id) FROM messages
			WHERE (sender_id = ? OR receiver_id = ?) AND deleted = 0
			GROUP BY room_key
		)
		ORDER BY m.id DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID, userID, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var entries []*store.ConversationEntry
	for rows.Next() {
		var entry store.ConversationEntry
		var msg store.Message
		var user store.User
		if err := rows.Scan(
			&entry.RoomKey,
			&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Body, &msg.CreatedAt, &msg.Edited,
			&user.ID, &user.Username, &user.DisplayName, &user.Role, &user.CreatedAt,
			&entry.Unread,
		); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		msg.RoomKey = entry.RoomKey
		entry.LastMessage = &msg
		entry.Counterpart = &user
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// MarkRead advances the user's read marker in a room to the newest
// message currently stored there.
func (s *SQLiteStore) MarkRead(ctx context.Context, userID int64, roomKey string) error {
	query := `
		INSERT INTO conversation_reads (user_id, room_key, last_read_message_id)
		VALUES (?, ?, COALESCE((SELECT MAX(id) FROM messages WHERE room_key = ?), 0))
		ON CONFLICT(user_id, room_key) DO UPDATE SET
			last_read_message_id = excluded.last_read_message_id
	`
	if _, err := s.db.ExecContext(ctx, query, userID, roomKey, roomKey); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}
