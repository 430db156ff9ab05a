package lock

import (
	"context"
	"testing"
	"time"
)

func TestMemory_TryLock(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ok, _ := m.TryLock(ctx, "project-1", "a", time.Minute)
	if !ok {
		t.Fatal("first TryLock failed")
	}
	ok, _ = m.TryLock(ctx, "project-1", "b", time.Minute)
	if ok {
		t.Fatal("second owner took a held lock")
	}
	if owner, _ := m.Owner(ctx, "project-1"); owner != "a" {
		t.Errorf("Owner = %q, want a", owner)
	}

	ok, _ = m.TryLock(ctx, "project-2", "b", time.Minute)
	if !ok {
		t.Error("locks on different ids must be independent")
	}

	_ = m.Unlock(ctx, "project-1")
	if owner, _ := m.Owner(ctx, "project-1"); owner != "" {
		t.Errorf("Owner after Unlock = %q", owner)
	}
	ok, _ = m.TryLock(ctx, "project-1", "b", time.Minute)
	if !ok {
		t.Error("TryLock after Unlock failed")
	}
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m := NewMemory()
	m.now = func() time.Time { return now }

	_, _ = m.TryLock(ctx, "x", "a", time.Second)
	now = now.Add(2 * time.Second)

	if owner, _ := m.Owner(ctx, "x"); owner != "" {
		t.Errorf("expired lock still owned by %q", owner)
	}
	if ok, _ := m.TryLock(ctx, "x", "b", time.Second); !ok {
		t.Error("TryLock on expired lock failed")
	}
}
