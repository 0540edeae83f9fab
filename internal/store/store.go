package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/arashpx/seekly/config"
)

// Store wraps the Postgres connection for chat persistence.
type Store struct {
	DB *sql.DB
}

// ErrNotFound is returned when a row does not exist or is not visible to the
// requesting user.
var ErrNotFound = errors.New("not found")

// New opens Postgres from configuration and verifies connectivity.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	return NewWithDSN(ctx, DSN(cfg))
}

// DSN builds a Postgres connection string from configuration. An explicit
// URL wins over the host/port parts.
func DSN(cfg config.PostgresConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	ssl := cfg.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	port := cfg.Port
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, port, cfg.DBName, ssl)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	return
}

func (s *Store) GetUserEmail(ctx context.Context, id string) (string, error) {
	var email string
	err := s.DB.QueryRowContext(ctx, `SELECT email FROM users WHERE id=$1`, id).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return email, err
}

// Chat is one conversation owned by a user. ExternalID is the id clients use
// on the wire; the primary key never leaves the store.
type Chat struct {
	ID         string
	UserID     string
	ExternalID string
	Title      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Chat operations
func (s *Store) CreateChat(ctx context.Context, userID, externalID, title string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO chats (user_id, external_id, title) VALUES ($1,$2,$3) RETURNING id`,
		userID, externalID, title).Scan(&id)
	return id, err
}

func (s *Store) GetChatByExternalID(ctx context.Context, userID, externalID string) (Chat, error) {
	var c Chat
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, external_id, title, created_at, updated_at FROM chats WHERE user_id=$1 AND external_id=$2`,
		userID, externalID).Scan(&c.ID, &c.UserID, &c.ExternalID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Chat{}, ErrNotFound
	}
	return c, err
}

func (s *Store) ListChats(ctx context.Context, userID string) ([]Chat, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, external_id, title, created_at, updated_at FROM chats WHERE user_id=$1 ORDER BY updated_at DESC`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.UserID, &c.ExternalID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateChatTitle(ctx context.Context, chatID, userID, title string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE chats SET title=$1, updated_at=NOW() WHERE id=$2 AND user_id=$3`,
		title, chatID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Message is one persisted chat turn. Citations carry the resolved citation
// list as JSON; ErrorMsg annotates turns that failed or were cut short.
type Message struct {
	ID        string
	ChatID    string
	Role      string
	Content   string
	Citations json.RawMessage
	ErrorMsg  *string
	CreatedAt time.Time
}

// Message operations
func (s *Store) InsertMessage(ctx context.Context, m Message) (string, error) {
	citations := m.Citations
	if len(citations) == 0 {
		citations = json.RawMessage(`[]`)
	}
	var id string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO messages (chat_id, role, content, citations, error) VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		m.ChatID, m.Role, m.Content, []byte(citations), m.ErrorMsg).Scan(&id)
	return id, err
}

// AnnotateMessageError flags an already stored message with an error string,
// used to mark the user turn whose request failed outright.
func (s *Store) AnnotateMessageError(ctx context.Context, messageID, errMsg string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE messages SET error=$1 WHERE id=$2`, errMsg, messageID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRecentMessages returns the newest messages for a chat in
// oldest-to-newest order, ready for prompt context.
func (s *Store) ListRecentMessages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, chat_id, role, content, citations, error, created_at FROM (
  SELECT id, chat_id, role, content, citations, error, created_at FROM messages WHERE chat_id=$1 ORDER BY created_at DESC LIMIT $2
) recent ORDER BY created_at ASC`,
		chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.Citations, &m.ErrorMsg, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Trace operations
func (s *Store) InsertChatTrace(ctx context.Context, chatID, messageID string, trace json.RawMessage) error {
	if len(trace) == 0 {
		trace = json.RawMessage(`[]`)
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO chat_traces (chat_id, message_id, trace) VALUES ($1,$2,$3)`,
		chatID, messageID, []byte(trace))
	return err
}

// PruneTraces deletes traces older than the retention window, returning how
// many rows went away. Run from the maintenance sweeper.
func (s *Store) PruneTraces(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM chat_traces WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
