package config

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	cfg "github.com/codeway/config-service/internal/app/domain/config"
	"github.com/codeway/config-service/internal/app/storage"
	apperrors "github.com/codeway/config-service/internal/errors"
)

// fakeClock is an adjustable time source so cache expiry is tested without
// wall-clock sleeps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1700000000000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingStore wraps a DocumentStore and counts operations, optionally
// failing them.
type countingStore struct {
	inner  storage.DocumentStore
	gets   int
	sets   int
	getErr error
	setErr error
}

func (s *countingStore) Get(ctx context.Context, collection, docID string) (json.RawMessage, bool, error) {
	s.gets++
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	return s.inner.Get(ctx, collection, docID)
}

func (s *countingStore) Set(ctx context.Context, collection, docID string, data json.RawMessage) error {
	s.sets++
	if s.setErr != nil {
		return s.setErr
	}
	return s.inner.Set(ctx, collection, docID, data)
}

func newTestService(t *testing.T) (*Service, *countingStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := &countingStore{inner: storage.NewMemory()}
	svc := New(store, nil, WithClock(clock.Now))
	return svc, store, clock
}

func TestGetCreatesDefaultSeed(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	doc, err := svc.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	want := map[string]struct {
		value       interface{}
		description string
	}{
		"freeUsageLimit":     {float64(5), "Maximum free usage allowed"},
		"supportEmail":       {"support@codeway.co", "Support contact email"},
		"privacyPage":        {"https://codeway.com/privacy_en.html", "Privacy policy page URL"},
		"minimumVersion":     {"1.0", "Minimum required version of the app"},
		"latestVersion":      {"2.1", "Latest version of the app"},
		"compressionQuality": {0.7, "Image compression quality"},
		"btnText":            {"Try now!", "Button text for call to action"},
	}
	if len(doc.Entries) != len(want) {
		t.Fatalf("expected %d seed parameters, got %d", len(want), len(doc.Entries))
	}
	for name, exp := range want {
		entry, ok := doc.Entries[name]
		if !ok {
			t.Fatalf("missing seed parameter %s", name)
		}
		if !entry.IsParameter() {
			t.Fatalf("seed parameter %s not parameter-shaped", name)
		}
		if entry.Param.Value != exp.value {
			t.Fatalf("%s value = %v, want %v", name, entry.Param.Value, exp.value)
		}
		if entry.Param.Description != exp.description {
			t.Fatalf("%s description = %q, want %q", name, entry.Param.Description, exp.description)
		}
		if entry.Param.CreateDate != clock.Now().UnixMilli() {
			t.Fatalf("%s createDate = %d, want %d", name, entry.Param.CreateDate, clock.Now().UnixMilli())
		}
		if len(entry.Param.CountryValues) != 0 {
			t.Fatalf("%s expected empty countryValues", name)
		}
	}
	if doc.LastModified != 0 {
		t.Fatalf("seed document should carry no concurrency token, got %d", doc.LastModified)
	}

	// The seed must have been persisted: a fresh accessor over the same
	// store sees the same document without creating it again.
	fresh := New(store, nil, WithClock(clock.Now))
	sets := store.sets
	doc2, err := fresh.Get(ctx)
	if err != nil {
		t.Fatalf("get from fresh accessor: %v", err)
	}
	if store.sets != sets {
		t.Fatalf("fresh accessor re-created the document")
	}
	if !reflect.DeepEqual(doc, doc2) {
		t.Fatalf("persisted document differs from created one")
	}
}

func TestGetServesFromCacheWithinWindow(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	reads := store.gets

	second, err := svc.Get(ctx)
	if err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if store.gets != reads {
		t.Fatalf("cached read hit the store: %d -> %d reads", reads, store.gets)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("cached read returned different data")
	}
}

func TestGetReturnsIndependentCopies(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	doc, err := svc.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	doc.Entries["btnText"].Param.Value = "mutated"
	doc.Entries["btnText"].Param.CountryValues["TR"] = "mutated"

	again, err := svc.Get(ctx)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if again.Entries["btnText"].Param.Value != "Try now!" {
		t.Fatalf("caller mutation leaked into the cache: %v", again.Entries["btnText"].Param.Value)
	}
	if len(again.Entries["btnText"].Param.CountryValues) != 0 {
		t.Fatalf("caller mutation of countryValues leaked into the cache")
	}
}

func TestCacheExpiryTriggersSingleStoreRead(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Get(ctx); err != nil {
		t.Fatalf("get: %v", err)
	}
	reads := store.gets

	clock.Advance(DefaultCacheTTL + time.Millisecond)
	if _, err := svc.Get(ctx); err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if store.gets != reads+1 {
		t.Fatalf("expected exactly one fresh store read, got %d", store.gets-reads)
	}

	// The refreshed entry serves subsequent reads again.
	if _, err := svc.Get(ctx); err != nil {
		t.Fatalf("get after refresh: %v", err)
	}
	if store.gets != reads+1 {
		t.Fatalf("refreshed cache not used")
	}
}

func TestUpdateInvalidatesCache(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()

	doc, err := svc.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	clock.Advance(time.Second)
	doc.Entries["btnText"] = cfg.ParameterEntry(cfg.Parameter{
		Value:       "Start!",
		Description: "Button text for call to action",
		CreateDate:  doc.Entries["btnText"].Param.CreateDate,
	})
	updated, err := svc.Update(ctx, doc, "user-1", "admin@codeway.co")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.LastModified != clock.Now().UnixMilli() {
		t.Fatalf("lastModified = %d, want %d", updated.LastModified, clock.Now().UnixMilli())
	}
	if updated.LastModifiedBy != "user-1" || updated.LastModifiedByEmail != "admin@codeway.co" {
		t.Fatalf("write metadata not set: %+v", updated)
	}

	reads := store.gets
	after, err := svc.Get(ctx)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if store.gets != reads+1 {
		t.Fatalf("get after update should read the store, reads %d -> %d", reads, store.gets)
	}
	if after.Entries["btnText"].Param.Value != "Start!" {
		t.Fatalf("update not visible after cache invalidation: %v", after.Entries["btnText"].Param.Value)
	}
	if after.LastModified != updated.LastModified {
		t.Fatalf("concurrency token mismatch: %d vs %d", after.LastModified, updated.LastModified)
	}
}

func TestCheckConcurrentModification(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	// Opt-out: no token supplied.
	conflict, err := svc.CheckConcurrentModification(ctx, nil)
	if err != nil || conflict {
		t.Fatalf("nil token: conflict=%v err=%v", conflict, err)
	}

	// Absent document: no conflict even with a token.
	stale := int64(123)
	conflict, err = svc.CheckConcurrentModification(ctx, &stale)
	if err != nil || conflict {
		t.Fatalf("absent document: conflict=%v err=%v", conflict, err)
	}

	doc, err := svc.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	clock.Advance(time.Second)
	written, err := svc.Update(ctx, doc, "user-1", "admin@codeway.co")
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	// Matching token: no conflict.
	conflict, err = svc.CheckConcurrentModification(ctx, &written.LastModified)
	if err != nil || conflict {
		t.Fatalf("matching token: conflict=%v err=%v", conflict, err)
	}

	// Another writer bumps the token; the stale token now conflicts.
	clock.Advance(time.Second)
	if _, err := svc.Update(ctx, doc, "user-2", "other@codeway.co"); err != nil {
		t.Fatalf("second update: %v", err)
	}
	conflict, err = svc.CheckConcurrentModification(ctx, &written.LastModified)
	if err != nil {
		t.Fatalf("check after second write: %v", err)
	}
	if !conflict {
		t.Fatalf("expected conflict for stale token")
	}
}

func TestStoreFailuresSurfaceAsStorageErrors(t *testing.T) {
	clock := newFakeClock()
	store := &countingStore{inner: storage.NewMemory(), getErr: fmt.Errorf("store unavailable")}
	svc := New(store, nil, WithClock(clock.Now))
	ctx := context.Background()

	_, err := svc.Get(ctx)
	if err == nil {
		t.Fatalf("expected error from failing store")
	}
	svcErr := apperrors.GetServiceError(err)
	if svcErr == nil || svcErr.Code != apperrors.CodeStorageError {
		t.Fatalf("expected STORAGE_ERROR, got %v", err)
	}

	token := int64(1)
	if _, err := svc.CheckConcurrentModification(ctx, &token); err == nil {
		t.Fatalf("expected conflict check to surface store failure")
	}

	store.getErr = nil
	store.setErr = fmt.Errorf("store unavailable")
	_, err = svc.Update(ctx, cfg.NewDocument(), "u", "e")
	if err == nil {
		t.Fatalf("expected update to surface store failure")
	}
	if svcErr := apperrors.GetServiceError(err); svcErr == nil || svcErr.Code != apperrors.CodeStorageError {
		t.Fatalf("expected STORAGE_ERROR from update, got %v", err)
	}
}
