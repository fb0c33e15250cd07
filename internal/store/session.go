package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukerupert/hotspot/internal/model"
)

type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func scanSession(scanner interface{ Scan(...any) error }) (*model.Session, error) {
	var s model.Session
	var step, engagement, metadata string

	err := scanner.Scan(
		&s.ID, &s.Token, &s.UserID, &step, &engagement, &metadata,
		&s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Step = model.Step(step)
	s.Engagement = model.EngagementType(engagement)
	if err := json.Unmarshal([]byte(metadata), &s.Metadata); err != nil {
		return nil, fmt.Errorf("decode session metadata: %w", err)
	}
	return &s, nil
}

const sessionCols = `id, token, user_id, step, engagement, metadata, expires_at, created_at, updated_at`

func encodeMetadata(m model.SessionMetadata) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode session metadata: %w", err)
	}
	return string(data), nil
}

// Create starts a session with a crypto-random token.
func (s *SessionStore) Create(ctx context.Context, userID int64, step model.Step, engagement model.EngagementType, expiresAt time.Time) (*model.Session, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(tokenBytes)

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token, user_id, step, engagement, expires_at) VALUES (?, ?, ?, ?, ?)`,
		token, userID, string(step), string(engagement), expiresAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *SessionStore) GetByID(ctx context.Context, id int64) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// GetByToken returns the session for the given token, or nil if expired or not found.
func (s *SessionStore) GetByToken(ctx context.Context, token string, now time.Time) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE token = ? AND expires_at > ?`,
		token, now.UTC(),
	)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session by token: %w", err)
	}
	return sess, nil
}

// UpdateStep moves the session from one step to another. It fails with
// model.ErrInvalidTransition if the session has already left from.
func (s *SessionStore) UpdateStep(ctx context.Context, id int64, from, to model.Step, engagement model.EngagementType, meta model.SessionMetadata) error {
	encoded, err := encodeMetadata(meta)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET step = ?, engagement = ?, metadata = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND step = ?`,
		string(to), string(engagement), encoded, id, string(from),
	)
	if err != nil {
		return fmt.Errorf("update session step: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return model.ErrInvalidTransition
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
