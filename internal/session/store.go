package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/airlogic/turkov-bridge/internal/channel/cloud"
	"github.com/airlogic/turkov-bridge/internal/device"
	"github.com/airlogic/turkov-bridge/internal/infrastructure/database"
)

// schema is applied at store creation. Additive-only; existing rows are
// never migrated destructively.
const schema = `
CREATE TABLE IF NOT EXISTS tokens (
	id                 INTEGER PRIMARY KEY CHECK (id = 1),
	access_token       TEXT    NOT NULL,
	access_expires_at  INTEGER NOT NULL,
	refresh_token      TEXT    NOT NULL,
	refresh_expires_at INTEGER NOT NULL,
	updated_at         TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS devices (
	id         TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

// Store persists cloud session tokens and the discovered device list.
// It implements cloud.TokenStore and device.Store over the session
// database, so a restart neither burns a sign-in nor depends on the
// vendor cloud being reachable to know the device inventory.
type Store struct {
	db *database.DB
}

// NewStore creates a session store and applies the schema.
func NewStore(db *database.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("applying session schema: %w", err)
	}
	return &Store{db: db}, nil
}

// LoadTokens implements cloud.TokenStore. A zero token set is returned
// when no sign-in has been persisted yet.
func (s *Store) LoadTokens(ctx context.Context) (cloud.TokenSet, error) {
	var tokens cloud.TokenSet
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, access_expires_at, refresh_token, refresh_expires_at
		 FROM tokens WHERE id = 1`,
	).Scan(
		&tokens.AccessToken, &tokens.AccessTokenExpiresAt,
		&tokens.RefreshToken, &tokens.RefreshTokenExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return cloud.TokenSet{}, nil
	}
	if err != nil {
		return cloud.TokenSet{}, fmt.Errorf("loading tokens: %w", err)
	}
	return tokens, nil
}

// SaveTokens implements cloud.TokenStore with a single-row upsert.
func (s *Store) SaveTokens(ctx context.Context, tokens cloud.TokenSet) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens (id, access_token, access_expires_at, refresh_token, refresh_expires_at, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			access_expires_at = excluded.access_expires_at,
			refresh_token = excluded.refresh_token,
			refresh_expires_at = excluded.refresh_expires_at,
			updated_at = excluded.updated_at`,
		tokens.AccessToken, tokens.AccessTokenExpiresAt,
		tokens.RefreshToken, tokens.RefreshTokenExpiresAt,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving tokens: %w", err)
	}
	return nil
}

// SaveDevices implements device.Store, replacing the persisted device
// list wholesale inside one transaction.
func (s *Store) SaveDevices(ctx context.Context, devices []device.Device) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting device save: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM devices`); err != nil {
		return fmt.Errorf("clearing device list: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for i := range devices {
		payload, err := json.Marshal(devices[i])
		if err != nil {
			return fmt.Errorf("encoding device %s: %w", devices[i].ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO devices (id, payload, updated_at) VALUES (?, ?, ?)`,
			devices[i].ID, string(payload), now,
		); err != nil {
			return fmt.Errorf("saving device %s: %w", devices[i].ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing device save: %w", err)
	}
	return nil
}

// LoadDevices implements device.Store.
func (s *Store) LoadDevices(ctx context.Context) ([]device.Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("loading devices: %w", err)
	}
	defer rows.Close()

	var devices []device.Device
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning device row: %w", err)
		}
		var dev device.Device
		if err := json.Unmarshal([]byte(payload), &dev); err != nil {
			return nil, fmt.Errorf("decoding device payload: %w", err)
		}
		devices = append(devices, dev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device rows: %w", err)
	}
	return devices, nil
}
