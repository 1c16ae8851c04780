package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const tokenKey = "token"

// TokenRepository keeps the bearer token in the client_state table. It
// satisfies session.TokenStore.
type TokenRepository struct {
	db *sql.DB
}

func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) Load(ctx context.Context) (string, error) {
	const query = `SELECT state_value FROM client_state WHERE state_key = ?`
	var token string
	if err := r.db.QueryRowContext(ctx, query, tokenKey).Scan(&token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("scan token: %w", err)
	}
	return token, nil
}

func (r *TokenRepository) Save(ctx context.Context, token string) error {
	const query = `
INSERT INTO client_state (state_key, state_value) VALUES (?, ?)
ON DUPLICATE KEY UPDATE state_value = VALUES(state_value), updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, tokenKey, token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func (r *TokenRepository) Clear(ctx context.Context) error {
	const query = `DELETE FROM client_state WHERE state_key = ?`
	if _, err := r.db.ExecContext(ctx, query, tokenKey); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	return nil
}
