package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Credential represents an athlete's OAuth material
type Credential struct {
	AthleteID    int64
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
	Scope        string
	CreatedAt    int64
	UpdatedAt    int64
}

// UpsertCredential inserts or replaces the credential for an athlete.
// Exactly one live credential per athlete.
func (db *DB) UpsertCredential(c *Credential) error {
	now := time.Now().Unix()

	_, err := db.conn.Exec(`
		INSERT INTO athlete_tokens (
			athlete_id, access_token, refresh_token, expires_at, scope,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(athlete_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			scope = excluded.scope,
			updated_at = excluded.updated_at
	`, c.AthleteID, c.AccessToken, c.RefreshToken, c.ExpiresAt, c.Scope, now, now)

	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

// GetCredential retrieves the credential for an athlete
func (db *DB) GetCredential(athleteID int64) (*Credential, error) {
	var c Credential
	err := db.conn.QueryRow(`
		SELECT athlete_id, access_token, refresh_token, expires_at, scope,
		       created_at, updated_at
		FROM athlete_tokens WHERE athlete_id = ?
	`, athleteID).Scan(
		&c.AthleteID, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt, &c.Scope,
		&c.CreatedAt, &c.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &c, nil
}

// RotateCredential atomically replaces the token material for an athlete,
// conditional on the previous expiry still being current. Returns false if
// the condition did not match, meaning a concurrent refresh already rotated
// the credential and the caller should re-read it.
func (db *DB) RotateCredential(athleteID int64, accessToken, refreshToken string, expiresAt, prevExpiresAt int64) (bool, error) {
	result, err := db.conn.Exec(`
		UPDATE athlete_tokens
		SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = ?
		WHERE athlete_id = ? AND expires_at = ?
	`, accessToken, refreshToken, expiresAt, time.Now().Unix(), athleteID, prevExpiresAt)

	if err != nil {
		return false, fmt.Errorf("failed to rotate credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// DeleteCredential removes the credential for an athlete (deauthorization).
// Deleting a credential that does not exist is success, not an error.
func (db *DB) DeleteCredential(athleteID int64) error {
	_, err := db.conn.Exec(`
		DELETE FROM athlete_tokens WHERE athlete_id = ?
	`, athleteID)

	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
