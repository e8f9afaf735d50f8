// Package postgres stores RP records in PostgreSQL through a pgx pool.
//
// Every statement runs in an OpenTelemetry client span carrying
// db.system, db.name and a truncated db.statement. Failures come back as
// *oxderr.Error values; storage being unreachable or slow is an upstream
// error so callers may retry.
//
//	cfg := postgres.DefaultConfig()
//	cfg.Password = postgres.Secret(os.Getenv("OXD_POSTGRES_PASSWORD"))
//	client, err := postgres.NewClient(ctx, *cfg)
//	...
//	store := postgres.NewStore(client)
//	if err := store.EnsureSchema(ctx); err != nil { ... }
//
// Tests inject pgxmock through NewFromPool.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	oxderr "github.com/zaphod72/oxd/pkg/errors"
)

const tracerName = "github.com/zaphod72/oxd/pkg/storage/postgres"

// Pool is the subset of *pgxpool.Pool the client uses. pgxmock pools
// satisfy it too.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

var _ Pool = (*pgxpool.Pool)(nil)

// Client wraps a Pool with tracing and error mapping. It is safe for
// concurrent use.
type Client struct {
	pool         Pool
	tracer       trace.Tracer
	databaseName string
	queryTimeout time.Duration
}

// NewClient validates cfg, opens a pool and pings the database.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, oxderr.Wrapf(err, oxderr.KindInvalidConfiguration, "postgres: invalid configuration")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, oxderr.Wrapf(err, oxderr.KindInvalidConfiguration, "postgres: bad connection string")
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	tlsCfg, err := cfg.tlsConfig()
	if err != nil {
		return nil, oxderr.Wrapf(err, oxderr.KindInvalidConfiguration, "postgres: TLS setup failed")
	}
	if tlsCfg != nil {
		poolCfg.ConnConfig.TLSConfig = tlsCfg
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oxderr.Wrapf(err, oxderr.KindFailedToGetRp, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oxderr.Wrapf(err, oxderr.KindFailedToGetRp, "postgres: connect")
	}
	return &Client{
		pool:         pool,
		tracer:       otel.Tracer(tracerName),
		databaseName: cfg.databaseName(),
		queryTimeout: cfg.QueryTimeout,
	}, nil
}

// NewFromPool wraps an existing pool. cfg may be nil.
func NewFromPool(pool Pool, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &Client{
		pool:         pool,
		tracer:       otel.Tracer(tracerName),
		databaseName: cfg.databaseName(),
		queryTimeout: timeout,
	}
}

// bounded applies the query timeout unless ctx already has a deadline.
func bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// Query runs a row-returning statement. The caller closes the rows; the
// statement deadline holds until they are closed.
func (c *Client) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	ctx, span := c.startSpan(ctx, "Query", sql)
	ctx, cancel := bounded(ctx, c.queryTimeout)
	rows, err := c.pool.Query(ctx, sql, args...)
	finishSpan(span, err)
	if err != nil {
		cancel()
		return nil, wrapError(err, "postgres: query")
	}
	return &boundedRows{Rows: rows, cancel: cancel}, nil
}

// QueryRow runs a single-row statement. Errors surface from Scan, after
// the span has ended.
func (c *Client) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	ctx, span := c.startSpan(ctx, "QueryRow", sql)
	defer span.End()
	ctx, cancel := bounded(ctx, c.queryTimeout)
	return &boundedRow{row: c.pool.QueryRow(ctx, sql, args...), cancel: cancel}
}

func (c *Client) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	ctx, span := c.startSpan(ctx, "Exec", sql)
	ctx, cancel := bounded(ctx, c.queryTimeout)
	defer cancel()
	tag, err := c.pool.Exec(ctx, sql, args...)
	finishSpan(span, err)
	if err != nil {
		return tag, wrapError(err, "postgres: exec")
	}
	return tag, nil
}

// Health pings the database, bounded by DefaultHealthTimeout when ctx has
// no deadline.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "SELECT 1")
	ctx, cancel := bounded(ctx, DefaultHealthTimeout)
	defer cancel()
	err := c.pool.Ping(ctx)
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "postgres: health check")
	}
	return nil
}

func (c *Client) Close() {
	c.pool.Close()
}

// boundedRows releases the statement deadline when the rows are closed.
type boundedRows struct {
	pgx.Rows
	cancel context.CancelFunc
}

func (r *boundedRows) Close() {
	r.Rows.Close()
	r.cancel()
}

// boundedRow releases the statement deadline once scanned.
type boundedRow struct {
	row    pgx.Row
	cancel context.CancelFunc
}

func (r *boundedRow) Scan(dest ...any) error {
	defer r.cancel()
	return r.row.Scan(dest...)
}

func (c *Client) startSpan(ctx context.Context, op, sql string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "postgres."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.name", c.databaseName),
		attribute.String("db.statement", truncateSQL(sql)),
	)
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError maps a driver error onto FAILED_TO_GET_RP. Deadline and
// cancellation are called out in the reason so the log shows a timeout
// rather than a generic failure.
func wrapError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return oxderr.Wrapf(err, oxderr.KindFailedToGetRp, "%s: timed out", op)
	}
	return oxderr.Wrapf(err, oxderr.KindFailedToGetRp, "%s", op)
}
