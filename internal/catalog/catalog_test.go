//go:build integration

// Run with:
//
//	go test -tags integration -v ./internal/catalog/...
//
// Requires Docker (for testcontainers-go) and a reachable Docker socket.
package catalog_test

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/messa/logline/internal/catalog"
)

func setupCatalog(t *testing.T) (*catalog.Store, func()) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcpostgres.WithDatabase("logline_test"),
		tcpostgres.WithUsername("logline"),
		tcpostgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("RunContainer: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("ConnectionString: %v", err)
	}

	store, err := catalog.Open(ctx, connStr)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	cleanup := func() {
		store.Close()
		_ = pgContainer.Terminate(ctx)
	}
	return store, cleanup
}

func TestTouchAndAllRoundTrip(t *testing.T) {
	store, cleanup := setupCatalog(t)
	defer cleanup()

	ctx := context.Background()
	if err := store.Touch(ctx, "host1", "/var/log/app.log", "/data/host1/var~log/app.log", 1024, nil); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	entries, err := store.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if entries[0].Length != 1024 {
		t.Errorf("Length = %d, want 1024", entries[0].Length)
	}

	rotatedAt := time.Now().UTC().Truncate(time.Second)
	if err := store.Touch(ctx, "host1", "/var/log/app.log", "/data/host1/var~log/app.log", 0, &rotatedAt); err != nil {
		t.Fatalf("Touch with rotation: %v", err)
	}

	entries, err = store.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if entries[0].LastRotation == nil || !entries[0].LastRotation.Equal(rotatedAt) {
		t.Errorf("LastRotation = %v, want %v", entries[0].LastRotation, rotatedAt)
	}
}

func TestNilStoreIsNoOp(t *testing.T) {
	var store *catalog.Store
	if err := store.Touch(context.Background(), "h", "/p", "/d", 0, nil); err != nil {
		t.Fatalf("Touch on nil store: %v", err)
	}
	entries, err := store.All(context.Background())
	if err != nil || entries != nil {
		t.Fatalf("All on nil store = (%v, %v), want (nil, nil)", entries, err)
	}
}
