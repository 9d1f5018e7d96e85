//go:build integration

package ratelimit

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestTracker_Integration_SharedWindow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	ctx := context.Background()

	// Two trackers stand in for two enricher processes.
	writer := NewTracker(redisClient, logger)
	reader := NewTracker(redisClient, logger)

	if err := writer.Record(ctx, 429, 3*time.Second); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	remaining, err := reader.Remaining(ctx)
	if err != nil {
		t.Fatalf("Remaining() error = %v", err)
	}
	if remaining <= 0 {
		t.Fatalf("Remaining() = %v, want > 0 from the other tracker", remaining)
	}
}

func TestTracker_Integration_WindowExpires(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(redisClient, logger)
	ctx := context.Background()

	if err := tracker.Record(ctx, 502, time.Second); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	time.Sleep(1500 * time.Millisecond)

	exists, err := redisClient.Exists(ctx, RedisKeyBackoff).Result()
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists != 0 {
		t.Error("backoff key still present after its TTL")
	}

	state, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.Active() {
		t.Error("Active() = true after expiry, want false")
	}
}

func TestTracker_Integration_ConcurrentRecords(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker := NewTracker(redisClient, logger)
			if err := tracker.Record(ctx, 429, 2*time.Second); err != nil {
				t.Errorf("Record() error = %v", err)
			}
		}()
	}
	wg.Wait()

	state, err := NewTracker(redisClient, logger).GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !state.Active() {
		t.Error("Active() = false after concurrent records, want true")
	}
}
