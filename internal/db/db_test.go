package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func getTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = DSN("localhost", "5433", "mediafetch", "mediafetch", "mediafetch_test", "disable")
	}
	database, err := New(dsn)
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	if err := database.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestDSN(t *testing.T) {
	got := DSN("db", "5432", "u", "p", "name", "")
	want := "host=db port=5432 user=u password=p dbname=name sslmode=disable"
	if got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
}

func TestAPIKeyRepository(t *testing.T) {
	database := getTestDB(t)
	repo := NewAPIKeyRepository(database)
	ctx := context.Background()

	key := &APIKey{
		ID:        uuid.New(),
		Name:      "test",
		Prefix:    uuid.NewString()[:8],
		KeyHash:   "hash",
		CreatedAt: time.Now(),
	}
	if err := repo.Create(ctx, key); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByPrefix(ctx, key.Prefix)
	if err != nil {
		t.Fatalf("GetByPrefix: %v", err)
	}
	if got.ID != key.ID || got.LastUsedAt != nil {
		t.Errorf("unexpected key %+v", got)
	}

	if err := repo.TouchLastUsed(ctx, key.ID); err != nil {
		t.Fatalf("TouchLastUsed: %v", err)
	}
	if err := repo.Revoke(ctx, key.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	got, _ = repo.GetByPrefix(ctx, key.Prefix)
	if !got.Revoked || got.LastUsedAt == nil {
		t.Errorf("expected a revoked, used key, got %+v", got)
	}

	if _, err := repo.GetByPrefix(ctx, "missing!"); err != ErrAPIKeyNotFound {
		t.Errorf("expected ErrAPIKeyNotFound, got %v", err)
	}
}

func TestSettingsRepository(t *testing.T) {
	database := getTestDB(t)
	repo := NewSettingsRepository(database)
	ctx := context.Background()

	provider := "test-" + uuid.NewString()[:8]
	if s, err := repo.Get(ctx, provider); err != nil || s != nil {
		t.Fatalf("expected no row, got %+v, %v", s, err)
	}

	for _, cookies := range []string{"a=1", "a=2"} {
		if err := repo.SetCookies(ctx, provider, cookies); err != nil {
			t.Fatalf("SetCookies: %v", err)
		}
	}
	s, err := repo.Get(ctx, provider)
	if err != nil || s == nil || s.Cookies != "a=2" {
		t.Fatalf("expected the upserted cookies, got %+v, %v", s, err)
	}
}

func TestResolutionRepository(t *testing.T) {
	database := getTestDB(t)
	repo := NewResolutionRepository(database)
	ctx := context.Background()

	url := "https://youtu.be/" + uuid.NewString()
	if err := repo.Create(ctx, &Resolution{URL: url, Provider: "youtube", Success: false, ErrorCode: "NOT_FOUND", DurationMs: 12}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	recent, err := repo.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	found := false
	for _, r := range recent {
		if r.URL == url {
			found = true
			if r.ErrorCode != "NOT_FOUND" || r.Method != "" {
				t.Errorf("unexpected row %+v", r)
			}
		}
	}
	if !found {
		t.Error("logged resolution not returned")
	}
}
