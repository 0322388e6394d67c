package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

// runTierContract exercises the behavior every Tier implementation shares.
func runTierContract(t *testing.T, tier Tier) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := tier.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load(missing) error = %v, want ErrNotFound", err)
	}

	for i, key := range []string{"c", "a", "b"} {
		if err := tier.Save(ctx, key, []byte("value-"+key), base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("Save(%s) error = %v", key, err)
		}
	}

	got, err := tier.Load(ctx, "a")
	if err != nil {
		t.Fatalf("Load(a) error = %v", err)
	}
	if string(got) != "value-a" {
		t.Errorf("Load(a) = %s, want value-a", got)
	}

	if n, err := tier.Len(ctx); err != nil || n != 3 {
		t.Errorf("Len() = %d, %v, want 3", n, err)
	}

	keys, err := tier.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	assertKeys(t, keys, []string{"c", "a", "b"})

	if err := tier.Touch(ctx, "c", base.Add(time.Minute)); err != nil {
		t.Fatalf("Touch(c) error = %v", err)
	}
	keys, _ = tier.Keys(ctx)
	assertKeys(t, keys, []string{"a", "b", "c"})

	// overwrite keeps a single record
	if err := tier.Save(ctx, "a", []byte("value-a2"), base.Add(2*time.Minute)); err != nil {
		t.Fatalf("Save(a) overwrite error = %v", err)
	}
	if n, _ := tier.Len(ctx); n != 3 {
		t.Errorf("Len() after overwrite = %d, want 3", n)
	}

	if err := tier.Delete(ctx, "b", "never-stored"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := tier.Load(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load(b) after Delete error = %v, want ErrNotFound", err)
	}
	keys, _ = tier.Keys(ctx)
	assertKeys(t, keys, []string{"c", "a"})

	if err := tier.Delete(ctx); err != nil {
		t.Errorf("Delete() with no keys error = %v", err)
	}

	if err := tier.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if n, _ := tier.Len(ctx); n != 0 {
		t.Errorf("Len() after Clear = %d, want 0", n)
	}
}

func assertKeys(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Keys() = %v, want %v", got, want)
		}
	}
}

func fixedTime() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}
