//go:build integration_test

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func runContainer(t *testing.T, req testcontainers.ContainerRequest) (string, func(port nat.Port) string) {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start %s: %v", req.Image, err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	mapped := func(port nat.Port) string {
		p, err := c.MappedPort(ctx, port)
		if err != nil {
			t.Fatalf("mapped port %s: %v", port, err)
		}
		return p.Port()
	}
	return host, mapped
}

func TestPostgresStore(t *testing.T) {
	host, port := runContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "orders",
			"POSTGRES_PASSWORD": "orders",
			"POSTGRES_DB":       "orders",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(3 * time.Minute),
	})
	dsn := fmt.Sprintf("postgres://orders:orders@%s:%s/orders?sslmode=disable", host, port("5432/tcp"))

	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)

	// running migrations again is a no-op
	if err := Migrate(dsn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestRedisStore(t *testing.T) {
	host, port := runContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(3 * time.Minute),
	})
	s, err := NewRedisStore(context.Background(), host+":"+port("6379/tcp"))
	if err != nil {
		t.Fatalf("redis store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}
