//go:build integration

// Package containers starts throwaway PostgreSQL and Redis containers for
// the storage integration tests. Every file using it carries the
// integration build tag:
//
//	//go:build integration
//
//	result, err := containers.StartPostgres(ctx)
//	if err != nil { ... }
//	defer result.Container.Terminate(ctx)
package containers

import (
	"context"
	"fmt"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

const (
	DefaultPostgresImage    = "docker.io/postgres:16-alpine"
	DefaultPostgresDatabase = "oxd_test"
	DefaultPostgresUser     = "oxd"
	// DefaultPostgresPassword is only ever used for ephemeral containers.
	DefaultPostgresPassword = "oxd-test-password"

	DefaultRedisImage = "docker.io/redis:7-alpine"
)

// PostgresResult is a running PostgreSQL container. ConnString has
// sslmode=disable and can be passed to postgres.Config.URI.
type PostgresResult struct {
	Container  *tcpostgres.PostgresContainer
	ConnString string
}

// StartPostgres starts a PostgreSQL 16 container and waits until it
// accepts connections. The caller terminates it.
func StartPostgres(ctx context.Context) (*PostgresResult, error) {
	container, err := tcpostgres.Run(ctx,
		DefaultPostgresImage,
		tcpostgres.WithDatabase(DefaultPostgresDatabase),
		tcpostgres.WithUsername(DefaultPostgresUser),
		tcpostgres.WithPassword(DefaultPostgresPassword),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("containers: start postgres: %w", err)
	}
	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: postgres connection string: %w", err)
	}
	return &PostgresResult{Container: container, ConnString: connStr}, nil
}

// RedisResult is a running Redis container. ConnString is a redis:// URL.
type RedisResult struct {
	Container  *tcredis.RedisContainer
	ConnString string
}

// StartRedis starts an unauthenticated Redis 7 container. The caller
// terminates it.
func StartRedis(ctx context.Context) (*RedisResult, error) {
	container, err := tcredis.Run(ctx, DefaultRedisImage)
	if err != nil {
		return nil, fmt.Errorf("containers: start redis: %w", err)
	}
	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: redis connection string: %w", err)
	}
	return &RedisResult{Container: container, ConnString: connStr}, nil
}
