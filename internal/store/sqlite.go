package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// ErrQuotaExceeded is returned by CreateDreamWithMessages when the
// transactional recount finds the free-tier limit already spent.
var ErrQuotaExceeded = errors.New("monthly interpretation limit reached")

// ErrDreamNotFound is returned when a dream does not exist or is owned by
// another user.
var ErrDreamNotFound = errors.New("dream not found")

const listDreamsCap = 50

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id TEXT PRIMARY KEY, -- subject claim from the identity provider
        email TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS dreams (
        id TEXT PRIMARY KEY, -- UUID
        user_id TEXT NOT NULL,
        title TEXT NOT NULL,
        content TEXT NOT NULL,
        interpretation TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        dream_id TEXT NOT NULL,
        sender TEXT NOT NULL CHECK (sender IN ('user', 'ai')),
        content TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (dream_id) REFERENCES dreams (id)
    );

    CREATE TABLE IF NOT EXISTS subscriptions (
        user_id TEXT PRIMARY KEY,
        status TEXT NOT NULL DEFAULT 'free' CHECK (status IN ('free', 'active', 'cancelled')),
        plan_type TEXT NOT NULL DEFAULT 'free_tier',
        updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE INDEX IF NOT EXISTS idx_dreams_user_created ON dreams (user_id, created_at);
    CREATE INDEX IF NOT EXISTS idx_messages_dream_created ON messages (dream_id, created_at);
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods

// UpsertUser records the authenticated identity on first sight and refreshes
// the email on subsequent requests. The id is owned by the identity provider.
func (s *SQLiteStore) UpsertUser(id, email string) (*User, error) {
	_, err := s.db.Exec(`
        INSERT INTO users (id, email) VALUES (?, ?)
        ON CONFLICT (id) DO UPDATE SET email = excluded.email`, id, email)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	var user User
	err = s.db.QueryRow("SELECT id, email, created_at FROM users WHERE id = ?", id).
		Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read back user: %w", err)
	}
	return &user, nil
}

// Subscription methods

// GetSubscriptionStatus returns the subscription status for a user. A
// missing row reads as "free".
func (s *SQLiteStore) GetSubscriptionStatus(userID string) (string, error) {
	var status string
	err := s.db.QueryRow("SELECT status FROM subscriptions WHERE user_id = ?", userID).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return SubscriptionFree, nil
		}
		return "", fmt.Errorf("failed to query subscription: %w", err)
	}
	return status, nil
}

// SetSubscription upserts a user's subscription row. The interpretation flow
// only ever reads this; writes arrive from the billing integration.
func (s *SQLiteStore) SetSubscription(userID, status, planType string) error {
	_, err := s.db.Exec(`
        INSERT INTO subscriptions (user_id, status, plan_type, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (user_id) DO UPDATE SET status = excluded.status,
            plan_type = excluded.plan_type, updated_at = excluded.updated_at`,
		userID, status, planType, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}

// Dream methods

// CountDreamsSince counts a user's dreams created at or after the given
// instant. The quota ledger uses this with the start of the current month.
func (s *SQLiteStore) CountDreamsSince(userID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM dreams WHERE user_id = ? AND created_at >= ?",
		userID, since.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count dreams: %w", err)
	}
	return count, nil
}

// CreateDreamWithMessages inserts a dream and its user/ai message pair in a
// single transaction. The free-tier admission rule is re-evaluated inside
// the transaction so two near-simultaneous requests cannot both slip past
// the ledger's earlier read: the loser gets ErrQuotaExceeded and nothing is
// written. freeLimit applies to dreams created at or after `since`.
func (s *SQLiteStore) CreateDreamWithMessages(dream *Dream, userContent, aiContent string, freeLimit int, since time.Time) ([]Message, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow("SELECT status FROM subscriptions WHERE user_id = ?", dream.UserID).Scan(&status)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query subscription: %w", err)
	}

	if status != SubscriptionActive {
		var count int
		err = tx.QueryRow(
			"SELECT COUNT(*) FROM dreams WHERE user_id = ? AND created_at >= ?",
			dream.UserID, since.UTC()).Scan(&count)
		if err != nil {
			return nil, fmt.Errorf("failed to count dreams: %w", err)
		}
		if count >= freeLimit {
			return nil, ErrQuotaExceeded
		}
	}

	dream.ID = uuid.NewString()
	dream.CreatedAt = time.Now().UTC()

	_, err = tx.Exec(
		"INSERT INTO dreams (id, user_id, title, content, interpretation, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		dream.ID, dream.UserID, dream.Title, dream.Content, dream.Interpretation, dream.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert dream: %w", err)
	}

	messages, err := insertExchange(tx, dream.ID, userContent, aiContent)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit dream transaction: %w", err)
	}
	return messages, nil
}

// AppendExchange appends a user/ai message pair to an existing dream owned
// by the given user, atomically, and refreshes the dream's denormalized
// interpretation copy.
func (s *SQLiteStore) AppendExchange(dreamID, userID, userContent, aiContent string) ([]Message, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRow("SELECT user_id FROM dreams WHERE id = ?", dreamID).Scan(&owner)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrDreamNotFound
		}
		return nil, fmt.Errorf("failed to verify dream: %w", err)
	}
	if owner != userID {
		return nil, ErrDreamNotFound
	}

	messages, err := insertExchange(tx, dreamID, userContent, aiContent)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec("UPDATE dreams SET interpretation = ? WHERE id = ?", aiContent, dreamID)
	if err != nil {
		return nil, fmt.Errorf("failed to update dream interpretation: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit exchange transaction: %w", err)
	}
	return messages, nil
}

func insertExchange(tx *sql.Tx, dreamID, userContent, aiContent string) ([]Message, error) {
	now := time.Now().UTC()
	messages := []Message{
		{ID: uuid.NewString(), DreamID: dreamID, Sender: "user", Content: userContent, CreatedAt: now},
		{ID: uuid.NewString(), DreamID: dreamID, Sender: "ai", Content: aiContent, CreatedAt: now.Add(time.Millisecond)},
	}
	for _, msg := range messages {
		_, err := tx.Exec(
			"INSERT INTO messages (id, dream_id, sender, content, created_at) VALUES (?, ?, ?, ?, ?)",
			msg.ID, msg.DreamID, msg.Sender, msg.Content, msg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert %s message: %w", msg.Sender, err)
		}
	}
	return messages, nil
}

func (s *SQLiteStore) GetDreamByID(dreamID, userID string) (*Dream, error) {
	var dream Dream
	err := s.db.QueryRow(
		"SELECT id, user_id, title, content, interpretation, created_at FROM dreams WHERE id = ? AND user_id = ?",
		dreamID, userID).
		Scan(&dream.ID, &dream.UserID, &dream.Title, &dream.Content, &dream.Interpretation, &dream.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get dream: %w", err)
	}
	return &dream, nil
}

// GetDreamsByUserID lists a user's dreams newest-first, capped at 50.
func (s *SQLiteStore) GetDreamsByUserID(userID string) ([]Dream, error) {
	rows, err := s.db.Query(
		"SELECT id, user_id, title, content, interpretation, created_at FROM dreams WHERE user_id = ? ORDER BY created_at DESC LIMIT ?",
		userID, listDreamsCap)
	if err != nil {
		return nil, fmt.Errorf("failed to query dreams: %w", err)
	}
	defer rows.Close()

	var dreams []Dream
	for rows.Next() {
		var dream Dream
		if err := rows.Scan(&dream.ID, &dream.UserID, &dream.Title, &dream.Content, &dream.Interpretation, &dream.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dream row: %w", err)
		}
		dreams = append(dreams, dream)
	}
	return dreams, nil
}

// DeleteDream removes a dream and its messages. Returns ErrDreamNotFound
// when the dream does not exist or belongs to another user.
func (s *SQLiteStore) DeleteDream(dreamID, userID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM dreams WHERE id = ? AND user_id = ?", dreamID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete dream: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrDreamNotFound
	}

	_, err = tx.Exec("DELETE FROM messages WHERE dream_id = ?", dreamID)
	if err != nil {
		return fmt.Errorf("failed to delete dream messages: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete transaction: %w", err)
	}
	return nil
}

// Message methods

// GetMessagesByDreamID returns a dream's messages oldest-first, after
// verifying the dream belongs to the user.
func (s *SQLiteStore) GetMessagesByDreamID(dreamID, userID string) ([]Message, error) {
	dream, err := s.GetDreamByID(dreamID, userID)
	if err != nil {
		return nil, err
	}
	if dream == nil {
		return nil, ErrDreamNotFound
	}

	rows, err := s.db.Query(
		"SELECT id, dream_id, sender, content, created_at FROM messages WHERE dream_id = ? ORDER BY created_at ASC",
		dreamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.DreamID, &msg.Sender, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
