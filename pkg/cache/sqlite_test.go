package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func openTestSQLite(t *testing.T, path, prefix string) *SQLiteTier {
	t.Helper()
	tier, err := OpenSQLiteTier(context.Background(), path, prefix)
	if err != nil {
		t.Fatalf("OpenSQLiteTier() error = %v", err)
	}
	t.Cleanup(func() { tier.Close() })
	return tier
}

func TestSQLiteTier_Contract(t *testing.T) {
	tier := openTestSQLite(t, filepath.Join(t.TempDir(), "cache.db"), "")
	runTierContract(t, tier)
}

func TestSQLiteTier_PrefixIsolation(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")

	ours := openTestSQLite(t, path, DefaultPrefix)
	theirs := openTestSQLite(t, path, "other_app:")

	if err := theirs.Save(ctx, "keep", []byte("x"), fixedTime()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := ours.Save(ctx, "drop", []byte("y"), fixedTime()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if n, _ := ours.Len(ctx); n != 1 {
		t.Errorf("ours.Len() = %d, want 1", n)
	}
	if err := ours.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := theirs.Load(ctx, "keep"); err != nil {
		t.Errorf("foreign record removed by Clear: %v", err)
	}
}

func TestSQLiteTier_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	first := openTestSQLite(t, path, "")
	store, err := NewStore(DefaultConfig(), first, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	store.Set(ctx, "azuki_floor", []byte(`{"floor":12.5}`), "30m", `"v7"`)
	store.Close()
	first.Close()

	second := openTestSQLite(t, path, "")
	reopened, err := NewStore(DefaultConfig(), second, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer reopened.Close()

	got, ok := reopened.Get(ctx, "azuki_floor", "30m", false)
	if !ok {
		t.Fatal("Get() miss after reopen, want hit from persistent tier")
	}
	if got.Entry.ETag != `"v7"` {
		t.Errorf("ETag = %v, want %v", got.Entry.ETag, `"v7"`)
	}
}
