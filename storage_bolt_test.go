package tangguh

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := OpenBoltStore(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("OpenBoltStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBoltStoreConformance(t *testing.T) {
	storeConformance(t, openTestBoltStore(t))
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	store, err := OpenBoltStore(path)
	if err != nil {
		t.Fatalf("OpenBoltStore: %v", err)
	}
	op := QueuedOperation{
		ID:             "op-1",
		Type:           OpCreate,
		Endpoint:       "/items",
		Method:         "POST",
		Payload:        []byte(`{"name":"x"}`),
		IdempotencyKey: "idem-1",
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Priority:       OpCreate.ReplayPriority(),
	}
	if err := store.Put(ctx, op); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenBoltStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, ok, err := reopened.Get(ctx, "op-1")
	if err != nil || !ok {
		t.Fatalf("Get after reopen: ok=%v err=%v", ok, err)
	}
	if got.IdempotencyKey != "idem-1" {
		t.Errorf("expected idempotency key preserved, got %q", got.IdempotencyKey)
	}
	if string(got.Payload) != `{"name":"x"}` {
		t.Errorf("expected payload preserved, got %s", got.Payload)
	}
	if !got.CreatedAt.Equal(op.CreatedAt) {
		t.Errorf("expected createdAt preserved, got %v", got.CreatedAt)
	}
}

func TestBoltStoreIndexOrder(t *testing.T) {
	ctx := context.Background()
	store := openTestBoltStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Insert out of replay order; the index cursor must still return
	// deletes, then updates, then creates, oldest first within a class.
	inserts := []QueuedOperation{
		{ID: "c-new", Type: OpCreate, Priority: 1, CreatedAt: base.Add(time.Minute)},
		{ID: "d-old", Type: OpDelete, Priority: 3, CreatedAt: base},
		{ID: "c-old", Type: OpCreate, Priority: 1, CreatedAt: base},
		{ID: "u-old", Type: OpUpdate, Priority: 2, CreatedAt: base},
	}
	for _, op := range inserts {
		if err := store.Put(ctx, op); err != nil {
			t.Fatalf("Put(%s): %v", op.ID, err)
		}
	}

	ops, err := store.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	want := []string{"d-old", "u-old", "c-old", "c-new"}
	for i, id := range want {
		if ops[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, ops[i].ID)
		}
	}
}

func TestBoltStorePutSameIDUpdatesInPlace(t *testing.T) {
	ctx := context.Background()
	store := openTestBoltStore(t)

	op := QueuedOperation{ID: "op-1", Type: OpUpdate, Priority: 2, CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	if err := store.Put(ctx, op); err != nil {
		t.Fatalf("Put: %v", err)
	}
	op.RetryCount = 3
	op.LastError = "network-error"
	if err := store.Put(ctx, op); err != nil {
		t.Fatalf("Put update: %v", err)
	}

	ops, err := store.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("expected a single record after update, got %d", len(ops))
	}
	if ops[0].RetryCount != 3 || ops[0].LastError != "network-error" {
		t.Errorf("expected updated fields, got %+v", ops[0])
	}
}
