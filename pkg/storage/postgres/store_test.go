package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zaphod72/oxd/internal/testutil"
	oxderr "github.com/zaphod72/oxd/pkg/errors"
	"github.com/zaphod72/oxd/pkg/rp"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store := NewStore(NewFromPool(mock, &Config{Database: "oxd"}))
	store.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	return store, mock
}

func sampleRp() *rp.Rp {
	return &rp.Rp{
		OxdID:        "site-1",
		OpHost:       "https://idp.example.com",
		ClientID:     "client-1",
		ClientSecret: "secret",
		RedirectURIs: []string{"https://rp.example.com/cb"},
		Scopes:       []string{"openid", "oxd"},
	}
}

func encoded(t *testing.T, r *rp.Rp) []byte {
	t.Helper()
	data, err := json.Marshal(r)
	require.NoError(t, err)
	return data
}

func TestStore_Get(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	want := sampleRp()
	mock.ExpectQuery(regexp.QuoteMeta(selectByOxdID)).
		WithArgs("site-1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(encoded(t, want)))

	got, err := store.Get(context.Background(), "site-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(selectByOxdID)).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	got, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetByClientIDOrdersByRegistration(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	want := sampleRp()
	mock.ExpectQuery(regexp.QuoteMeta(selectByClientID)).
		WithArgs("client-1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(encoded(t, want)))

	got, err := store.GetByClientID(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, "site-1", got.OxdID)
	assert.Contains(t, selectByClientID, "ORDER BY created_at")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Put(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	in := sampleRp()
	stamp := store.now()
	mock.ExpectExec(regexp.QuoteMeta(upsert)).
		WithArgs("site-1", "client-1", pgxmock.AnyArg(), stamp, stamp).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Put(context.Background(), in))
	assert.True(t, in.CreatedAt.IsZero(), "caller's record must not be modified")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_PutRequiresOxdID(t *testing.T) {
	t.Parallel()
	store, _ := newMockStore(t)
	err := store.Put(context.Background(), &rp.Rp{ClientID: "c"})
	testutil.RequireErrorKind(t, err, oxderr.KindBadRequestNoOxdID)
}

func TestStore_Remove(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(deleteByOxdID)).
		WithArgs("site-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, store.Remove(context.Background(), "site-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_List(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	a, b := sampleRp(), sampleRp()
	b.OxdID = "site-2"
	mock.ExpectQuery(regexp.QuoteMeta(selectAll)).
		WillReturnRows(pgxmock.NewRows([]string{"data"}).
			AddRow(encoded(t, a)).
			AddRow(encoded(t, b)))

	got, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "site-1", got[0].OxdID)
	assert.Equal(t, "site-2", got[1].OxdID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ErrorsAreUpstream(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{name: "driver error", err: errors.New("connection reset"), reason: "postgres: read rp"},
		{name: "deadline", err: context.DeadlineExceeded, reason: "timed out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store, mock := newMockStore(t)
			mock.ExpectQuery(regexp.QuoteMeta(selectByOxdID)).
				WithArgs("site-1").
				WillReturnError(tt.err)

			_, err := store.Get(context.Background(), "site-1")
			testutil.RequireErrorKind(t, err, oxderr.KindFailedToGetRp)
			assert.True(t, oxderr.IsRetryable(err))
			assert.ErrorIs(t, err, tt.err)
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestStore_CorruptRecord(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(selectByOxdID)).
		WithArgs("site-1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow([]byte(`{"oxd_id":`)))

	_, err := store.Get(context.Background(), "site-1")
	testutil.RequireErrorKind(t, err, oxderr.KindFailedToGetRp)
}

func TestStore_EnsureSchema(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS rp")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_HealthFailure(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	mock.ExpectPing().WillReturnError(errors.New("down"))

	store := NewStore(NewFromPool(mock, nil))
	testutil.RequireErrorKind(t, store.Health(context.Background()), oxderr.KindFailedToGetRp)
}

func TestStore_StalledQueryTimesOut(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	mock.ExpectQuery(regexp.QuoteMeta(selectByOxdID)).
		WithArgs("site-1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(encoded(t, sampleRp()))).
		WillDelayFor(3 * time.Second)

	store := NewStore(NewFromPool(mock, &Config{Database: "oxd", QueryTimeout: 50 * time.Millisecond}))
	start := time.Now()
	got, err := store.Get(context.Background(), "site-1")
	assert.Nil(t, got)
	testutil.RequireErrorKind(t, err, oxderr.KindFailedToGetRp)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStore_CallerDeadlineWins(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	mock.ExpectQuery(regexp.QuoteMeta(selectByOxdID)).
		WithArgs("site-1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(encoded(t, sampleRp()))).
		WillDelayFor(100 * time.Millisecond)

	// The caller's own deadline is longer than the configured timeout.
	store := NewStore(NewFromPool(mock, &Config{Database: "oxd", QueryTimeout: 10 * time.Millisecond}))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := store.Get(ctx, "site-1")
	require.NoError(t, err)
	assert.Equal(t, "site-1", got.OxdID)
}

// Not parallel: swaps the global tracer provider.
func TestClient_RecordsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	mock.ExpectExec(regexp.QuoteMeta(deleteByOxdID)).
		WithArgs("site-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	store := NewStore(NewFromPool(mock, &Config{Database: "oxd"}))
	require.NoError(t, store.Remove(context.Background(), "site-1"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "postgres.Exec", spans[0].Name)
	assert.Contains(t, spans[0].Attributes, attribute.String("db.system", "postgresql"))
	assert.Contains(t, spans[0].Attributes, attribute.String("db.name", "oxd"))
}
