package redis

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	oxderr "github.com/zaphod72/oxd/pkg/errors"
	"github.com/zaphod72/oxd/pkg/rp"
)

// Store is an rp.Store over Redis keys. Writes are not transactional; a
// crash between commands can leave a stale index entry, which readers
// skip.
type Store struct {
	client *Client
	prefix string
	now    func() time.Time
}

var _ rp.Store = (*Store)(nil)

// NewStore returns a store writing under prefix, or DefaultKeyPrefix when
// prefix is empty.
func NewStore(client *Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix, now: time.Now}
}

func (s *Store) recordKey(oxdID string) string    { return s.prefix + ":" + oxdID }
func (s *Store) clientKey(clientID string) string { return s.prefix + ":client:" + clientID }
func (s *Store) indexKey() string                 { return s.prefix + ":index" }

func (s *Store) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

func (s *Store) Get(ctx context.Context, oxdID string) (*rp.Rp, error) {
	raw, ok, err := s.client.Get(ctx, s.recordKey(oxdID))
	if err != nil || !ok {
		return nil, err
	}
	return decode(raw)
}

// GetByClientID walks the client's registration list and returns the
// first entry that still has a record.
func (s *Store) GetByClientID(ctx context.Context, clientID string) (*rp.Rp, error) {
	ids, err := s.client.LRange(ctx, s.clientKey(clientID))
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		r, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if r != nil && r.ClientID == clientID {
			return r, nil
		}
	}
	return nil, nil
}

// Put inserts or replaces r. A zero CreatedAt is set to now; UpdatedAt is
// always now. r itself is not modified.
func (s *Store) Put(ctx context.Context, r *rp.Rp) error {
	if r == nil || r.OxdID == "" {
		return oxderr.New(oxderr.KindBadRequestNoOxdID)
	}
	prev, err := s.Get(ctx, r.OxdID)
	if err != nil {
		return err
	}

	rec := r.Clone()
	now := s.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
		if prev != nil {
			rec.CreatedAt = prev.CreatedAt
		}
	}
	rec.UpdatedAt = now
	data, err := json.Marshal(rec)
	if err != nil {
		return oxderr.Wrapf(err, oxderr.KindInternalErrorUnknown, "redis: encode rp %s", rec.OxdID)
	}

	if err := s.client.Set(ctx, s.recordKey(rec.OxdID), data); err != nil {
		return err
	}
	if prev == nil || prev.ClientID != rec.ClientID {
		if prev != nil && prev.ClientID != "" {
			if err := s.client.LRem(ctx, s.clientKey(prev.ClientID), rec.OxdID); err != nil {
				return err
			}
		}
		if rec.ClientID != "" {
			if err := s.client.RPush(ctx, s.clientKey(rec.ClientID), rec.OxdID); err != nil {
				return err
			}
		}
	}
	return s.client.SAdd(ctx, s.indexKey(), rec.OxdID)
}

// Remove deletes the record and its index entries.
func (s *Store) Remove(ctx context.Context, oxdID string) error {
	prev, err := s.Get(ctx, oxdID)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.recordKey(oxdID)); err != nil {
		return err
	}
	if prev != nil && prev.ClientID != "" {
		if err := s.client.LRem(ctx, s.clientKey(prev.ClientID), oxdID); err != nil {
			return err
		}
	}
	return s.client.SRem(ctx, s.indexKey(), oxdID)
}

// List returns every record ordered by CreatedAt, then oxd_id.
func (s *Store) List(ctx context.Context) ([]*rp.Rp, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey())
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}

	out := make([]*rp.Rp, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		r, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].OxdID < out[j].OxdID
	})
	return out, nil
}

func decode(raw string) (*rp.Rp, error) {
	var r rp.Rp
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, oxderr.Wrapf(err, oxderr.KindFailedToGetRp, "redis: corrupt rp record")
	}
	return &r, nil
}
