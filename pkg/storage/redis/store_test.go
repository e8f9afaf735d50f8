package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaphod72/oxd/internal/testutil"
	oxderr "github.com/zaphod72/oxd/pkg/errors"
	"github.com/zaphod72/oxd/pkg/rp"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	store := NewStore(NewFromClient(rdb, nil), "")
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return store, mr
}

func site(oxdID, clientID string) *rp.Rp {
	return &rp.Rp{
		OxdID:    oxdID,
		OpHost:   "https://idp.example.com",
		ClientID: clientID,
		Scopes:   []string{"openid", "oxd"},
	}
}

func TestStore_PutGet(t *testing.T) {
	t.Parallel()
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, site("a", "c1")))
	assert.True(t, mr.Exists("oxd:rp:a"))
	members, err := mr.Members("oxd:rp:index")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, members)

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "c1", got.ClientID)
	assert.False(t, got.CreatedAt.IsZero())

	missing, err := store.Get(ctx, "zzz")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_PutKeepsCreatedAt(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, site("a", "c1")))
	first, err := store.Get(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, site("a", "c1")))
	second, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
}

func TestStore_GetByClientIDFirstRegistered(t *testing.T) {
	t.Parallel()
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, site("a", "shared")))
	require.NoError(t, store.Put(ctx, site("b", "shared")))

	got, err := store.GetByClientID(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, "a", got.OxdID)

	// Moving "a" to another client leaves "b" as the first match.
	require.NoError(t, store.Put(ctx, site("a", "other")))
	list, err := mr.List("oxd:rp:client:shared")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, list)

	got, err = store.GetByClientID(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, "b", got.OxdID)

	none, err := store.GetByClientID(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStore_GetByClientIDSkipsStaleEntries(t *testing.T) {
	t.Parallel()
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, site("b", "c")))
	_, err := mr.Lpush("oxd:rp:client:c", "ghost")
	require.NoError(t, err)

	got, err := store.GetByClientID(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "b", got.OxdID)
}

func TestStore_Remove(t *testing.T) {
	t.Parallel()
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, site("a", "c1")))
	require.NoError(t, store.Remove(ctx, "a"))
	require.NoError(t, store.Remove(ctx, "a"))

	assert.False(t, mr.Exists("oxd:rp:a"))
	got, err := store.GetByClientID(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, got)
	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStore_ListOrdersByRegistration(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"m", "z", "a"} {
		require.NoError(t, store.Put(ctx, site(id, "c")))
	}
	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "m", all[0].OxdID)
	assert.Equal(t, "z", all[1].OxdID)
	assert.Equal(t, "a", all[2].OxdID)
}

func TestStore_Errors(t *testing.T) {
	t.Parallel()
	store, mr := newTestStore(t)
	ctx := context.Background()

	testutil.RequireErrorKind(t, store.Put(ctx, site("", "c")), oxderr.KindBadRequestNoOxdID)

	require.NoError(t, mr.Set("oxd:rp:bad", "{not json"))
	_, err := store.Get(ctx, "bad")
	testutil.RequireErrorKind(t, err, oxderr.KindFailedToGetRp)

	mr.SetError("LOADING server is loading")
	_, err = store.Get(ctx, "a")
	testutil.RequireErrorKind(t, err, oxderr.KindFailedToGetRp)
	assert.True(t, oxderr.IsRetryable(err))
	testutil.RequireErrorKind(t, store.Health(ctx), oxderr.KindFailedToGetRp)
}

func TestStore_CustomPrefix(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := NewStore(NewFromClient(rdb, &Config{DB: 0}), "tenant1:rp")
	require.NoError(t, store.Put(context.Background(), site("a", "c")))
	assert.True(t, mr.Exists("tenant1:rp:a"))
	assert.True(t, mr.Exists("tenant1:rp:client:c"))
}

func TestStore_BehindCache(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()
	cache := rp.NewCache(store, time.Minute)

	require.NoError(t, cache.Put(ctx, site("a", "c")))
	got, err := cache.GetRpByClientID(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "a", got.OxdID)

	require.NoError(t, cache.Remove(ctx, "a"))
	gone, err := cache.GetRp(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, gone)
}
