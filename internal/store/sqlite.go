package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	user_id       TEXT PRIMARY KEY,
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL,
	updated_at    INTEGER NOT NULL DEFAULT (unixepoch())
);
`

// SQLiteStore persists credentials keyed by user id. It is the multi-user
// form of the credential record.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed initializes) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, userID string) (*Credential, error) {
	query := `
		SELECT user_id, access_token, refresh_token
		FROM credentials
		WHERE user_id = ?
	`

	var cred Credential
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&cred.UserID,
		&cred.AccessToken,
		&cred.RefreshToken,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

func (s *SQLiteStore) Save(ctx context.Context, cred *Credential) error {
	query := `
		INSERT INTO credentials (user_id, access_token, refresh_token, updated_at)
		VALUES (?, ?, ?, unixepoch())
		ON CONFLICT(user_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query, cred.UserID, cred.AccessToken, cred.RefreshToken)
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE user_id = ?`, userID)
	return err
}
