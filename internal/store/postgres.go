package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertGitHubUser creates or refreshes the local user row for a GitHub
// identity. The GitHub numeric id is the stable key; username, email and
// avatar follow whatever GitHub currently reports.
func (s *PostgresStore) UpsertGitHubUser(ctx context.Context, githubID int64, username string, email, avatarURL *string) (User, error) {
	const query = `
		INSERT INTO users (id, github_id, username, email, avatar_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (github_id) DO UPDATE
			SET username=EXCLUDED.username, email=EXCLUDED.email, avatar_url=EXCLUDED.avatar_url, updated_at=NOW()
		RETURNING id, github_id, username, email, avatar_url, created_at, updated_at
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, uuid.NewString(), githubID, username, email, avatarURL).
		Scan(&user.ID, &user.GitHubID, &user.Username, &user.Email, &user.AvatarURL, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, fmt.Errorf("upsert github user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	const query = `SELECT id, github_id, username, email, avatar_url, created_at, updated_at FROM users WHERE id=$1`
	var user User
	err := s.db.QueryRowContext(ctx, query, userID).
		Scan(&user.ID, &user.GitHubID, &user.Username, &user.Email, &user.AvatarURL, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error) {
	const query = `SELECT id, task_id, branch, created_at, updated_at FROM workspaces WHERE id=$1`
	var ws Workspace
	err := s.db.QueryRowContext(ctx, query, workspaceID).
		Scan(&ws.ID, &ws.TaskID, &ws.Branch, &ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		return Workspace{}, err
	}
	return ws, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.github_id, u.username, u.email, u.avatar_url, u.created_at, u.updated_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).
		Scan(&user.ID, &user.GitHubID, &user.Username, &user.Email, &user.AvatarURL, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti=$1 AND expires_at > NOW())
	`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func (s *PostgresStore) InsertTelemetryEvent(ctx context.Context, event TelemetryEvent) error {
	props, err := marshalProperties(event.Properties)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO telemetry_events (name, user_id, properties)
		VALUES ($1, $2, $3)
	`, event.Name, event.UserID, props)
	if err != nil {
		return fmt.Errorf("insert telemetry event: %w", err)
	}
	return nil
}

func marshalProperties(props map[string]any) ([]byte, error) {
	if props == nil {
		return []byte("{}"), nil
	}
	payload, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("marshal telemetry properties: %w", err)
	}
	return payload, nil
}
