// Package redis stores RP records in Redis through go-redis.
//
// Layout, with the default key prefix:
//
//	oxd:rp:<oxd_id>             JSON-encoded record
//	oxd:rp:client:<client_id>   list of oxd_ids, in registration order
//	oxd:rp:index                set of every oxd_id
//
// Each command runs in an OpenTelemetry client span. Failures come back as
// FAILED_TO_GET_RP errors.
package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	oxderr "github.com/zaphod72/oxd/pkg/errors"
)

const tracerName = "github.com/zaphod72/oxd/pkg/storage/redis"

// Cmdable is the part of *redis.Client the store needs.
type Cmdable interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	RPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	LRem(ctx context.Context, key string, count int64, value any) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	SRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

var _ Cmdable = (*redis.Client)(nil)

// Client wraps a Cmdable with tracing and error mapping.
type Client struct {
	cmdable Cmdable
	tracer  trace.Tracer
	dbIndex int
}

// NewClient validates cfg, connects and pings the server.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, oxderr.Wrapf(err, oxderr.KindInvalidConfiguration, "redis: invalid configuration")
	}

	var opts *redis.Options
	if cfg.URI != "" {
		var err error
		if opts, err = redis.ParseURL(cfg.URI); err != nil {
			return nil, oxderr.Wrapf(err, oxderr.KindInvalidConfiguration, "redis: bad uri")
		}
	} else {
		opts = &redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password.Value(),
			DB:       cfg.DB,
		}
		if cfg.TLSEnabled {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.MaxRetries = cfg.MaxRetries
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, oxderr.Wrapf(err, oxderr.KindFailedToGetRp, "redis: connect")
	}
	return &Client{cmdable: rdb, tracer: otel.Tracer(tracerName), dbIndex: opts.DB}, nil
}

// NewFromClient wraps an existing client, typically one pointed at
// miniredis. cfg may be nil.
func NewFromClient(cmdable Cmdable, cfg *Config) *Client {
	db := 0
	if cfg != nil {
		db = cfg.DB
	}
	return &Client{cmdable: cmdable, tracer: otel.Tracer(tracerName), dbIndex: db}
}

func (c *Client) Set(ctx context.Context, key string, value any) error {
	ctx, span := c.startSpan(ctx, "Set", "SET "+key)
	err := c.cmdable.Set(ctx, key, value, 0).Err()
	finishSpan(span, err)
	return wrapError(err, "redis: set")
}

// Get returns the value at key. A missing key is ("", false, nil).
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, span := c.startSpan(ctx, "Get", "GET "+key)
	val, err := c.cmdable.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		finishSpan(span, nil)
		return "", false, nil
	}
	finishSpan(span, err)
	if err != nil {
		return "", false, wrapError(err, "redis: get")
	}
	return val, true, nil
}

// MGet returns the values at keys in order; missing keys are nil.
func (c *Client) MGet(ctx context.Context, keys ...string) ([]any, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ctx, span := c.startSpan(ctx, "MGet", "MGET "+strings.Join(keys, " "))
	vals, err := c.cmdable.MGet(ctx, keys...).Result()
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "redis: mget")
	}
	return vals, nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	ctx, span := c.startSpan(ctx, "Del", "DEL "+strings.Join(keys, " "))
	err := c.cmdable.Del(ctx, keys...).Err()
	finishSpan(span, err)
	return wrapError(err, "redis: del")
}

func (c *Client) RPush(ctx context.Context, key string, values ...any) error {
	ctx, span := c.startSpan(ctx, "RPush", "RPUSH "+key)
	err := c.cmdable.RPush(ctx, key, values...).Err()
	finishSpan(span, err)
	return wrapError(err, "redis: rpush")
}

func (c *Client) LRange(ctx context.Context, key string) ([]string, error) {
	ctx, span := c.startSpan(ctx, "LRange", "LRANGE "+key+" 0 -1")
	vals, err := c.cmdable.LRange(ctx, key, 0, -1).Result()
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "redis: lrange")
	}
	return vals, nil
}

func (c *Client) LRem(ctx context.Context, key string, value string) error {
	ctx, span := c.startSpan(ctx, "LRem", "LREM "+key)
	err := c.cmdable.LRem(ctx, key, 0, value).Err()
	finishSpan(span, err)
	return wrapError(err, "redis: lrem")
}

func (c *Client) SAdd(ctx context.Context, key string, members ...any) error {
	ctx, span := c.startSpan(ctx, "SAdd", "SADD "+key)
	err := c.cmdable.SAdd(ctx, key, members...).Err()
	finishSpan(span, err)
	return wrapError(err, "redis: sadd")
}

func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	ctx, span := c.startSpan(ctx, "SMembers", "SMEMBERS "+key)
	vals, err := c.cmdable.SMembers(ctx, key).Result()
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "redis: smembers")
	}
	return vals, nil
}

func (c *Client) SRem(ctx context.Context, key string, members ...any) error {
	ctx, span := c.startSpan(ctx, "SRem", "SREM "+key)
	err := c.cmdable.SRem(ctx, key, members...).Err()
	finishSpan(span, err)
	return wrapError(err, "redis: srem")
}

// Health pings the server, bounded by DefaultHealthTimeout when ctx has no
// deadline.
func (c *Client) Health(ctx context.Context) error {
	ctx, span := c.startSpan(ctx, "Health", "PING")
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}
	err := c.cmdable.Ping(ctx).Err()
	finishSpan(span, err)
	return wrapError(err, "redis: health check")
}

func (c *Client) Close() error {
	return c.cmdable.Close()
}

func (c *Client) startSpan(ctx context.Context, op, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "redis."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.Int("db.redis.database_index", c.dbIndex),
		attribute.String("db.statement", truncateStatement(statement)),
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

// wrapError returns nil for nil; otherwise a FAILED_TO_GET_RP error whose
// reason flags deadline expiry.
func wrapError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return oxderr.Wrapf(err, oxderr.KindFailedToGetRp, "%s: timed out", op)
	}
	return oxderr.Wrapf(err, oxderr.KindFailedToGetRp, "%s", op)
}
