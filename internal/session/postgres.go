package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"intakebot/internal/model"
)

// PostgresStore persists sessions so an in-progress request survives a
// restart. The session is stored as a JSON document keyed by user.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key string) (model.Session, bool, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM intake_sessions WHERE user_key = $1`, key).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, false, nil
		}
		return model.Session{}, false, fmt.Errorf("get session: %w", err)
	}

	var sess model.Session
	if err := json.Unmarshal(body, &sess); err != nil {
		return model.Session{}, false, fmt.Errorf("decode session: %w", err)
	}
	return sess, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, sess model.Session) error {
	body, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO intake_sessions (user_key, body, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_key) DO UPDATE SET body = EXCLUDED.body, updated_at = NOW()
	`, key, body)
	if err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM intake_sessions WHERE user_key = $1`, key); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
