package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	oxderr "github.com/zaphod72/oxd/pkg/errors"
	"github.com/zaphod72/oxd/pkg/rp"
)

// Schema creates the rp table. The record itself is kept as JSONB; only
// the keys the store filters or orders on are columns.
const Schema = `CREATE TABLE IF NOT EXISTS rp (
	oxd_id     TEXT PRIMARY KEY,
	client_id  TEXT NOT NULL DEFAULT '',
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS rp_client_id_idx ON rp (client_id, created_at)`

const (
	selectByOxdID    = `SELECT data FROM rp WHERE oxd_id = $1`
	selectByClientID = `SELECT data FROM rp WHERE client_id = $1 ORDER BY created_at, oxd_id LIMIT 1`
	selectAll        = `SELECT data FROM rp ORDER BY created_at, oxd_id`
	deleteByOxdID    = `DELETE FROM rp WHERE oxd_id = $1`
	upsert           = `INSERT INTO rp (oxd_id, client_id, data, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (oxd_id) DO UPDATE
SET client_id = EXCLUDED.client_id, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`
)

// Store is an rp.Store backed by the rp table.
type Store struct {
	client *Client
	now    func() time.Time
}

var _ rp.Store = (*Store)(nil)

func NewStore(client *Client) *Store {
	return &Store{client: client, now: time.Now}
}

// EnsureSchema creates the table and index if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.client.Exec(ctx, Schema)
	return err
}

// Health reports whether the database answers.
func (s *Store) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

func (s *Store) Get(ctx context.Context, oxdID string) (*rp.Rp, error) {
	return s.one(ctx, selectByOxdID, oxdID)
}

// GetByClientID returns the earliest registered site using clientID.
func (s *Store) GetByClientID(ctx context.Context, clientID string) (*rp.Rp, error) {
	return s.one(ctx, selectByClientID, clientID)
}

func (s *Store) one(ctx context.Context, sql, key string) (*rp.Rp, error) {
	var data []byte
	if err := s.client.QueryRow(ctx, sql, key).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapError(err, "postgres: read rp")
	}
	return decode(data)
}

// Put inserts or replaces r. A zero CreatedAt is set to now; UpdatedAt is
// always now. r itself is not modified.
func (s *Store) Put(ctx context.Context, r *rp.Rp) error {
	if r == nil || r.OxdID == "" {
		return oxderr.New(oxderr.KindBadRequestNoOxdID)
	}
	rec := r.Clone()
	now := s.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	data, err := json.Marshal(rec)
	if err != nil {
		return oxderr.Wrapf(err, oxderr.KindInternalErrorUnknown, "postgres: encode rp %s", rec.OxdID)
	}
	_, err = s.client.Exec(ctx, upsert, rec.OxdID, rec.ClientID, data, rec.CreatedAt, rec.UpdatedAt)
	return err
}

// Remove deletes the site. Removing an unknown oxd_id is not an error.
func (s *Store) Remove(ctx context.Context, oxdID string) error {
	_, err := s.client.Exec(ctx, deleteByOxdID, oxdID)
	return err
}

// List returns every site in registration order.
func (s *Store) List(ctx context.Context) ([]*rp.Rp, error) {
	rows, err := s.client.Query(ctx, selectAll)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*rp.Rp
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, wrapError(err, "postgres: scan rp")
		}
		r, err := decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(err, "postgres: list rp")
	}
	return out, nil
}

func decode(data []byte) (*rp.Rp, error) {
	var r rp.Rp
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, oxderr.Wrapf(err, oxderr.KindFailedToGetRp, "postgres: corrupt rp record")
	}
	return &r, nil
}
