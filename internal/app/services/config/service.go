// Package config implements the configuration cache and store accessor: the
// single source of truth for reading and mutating the configuration
// document, serving read-heavy traffic from an in-process cache while
// keeping admin writes guarded by an explicit conflict check.
package config

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	cfg "github.com/codeway/config-service/internal/app/domain/config"
	"github.com/codeway/config-service/internal/app/metrics"
	"github.com/codeway/config-service/internal/app/storage"
	"github.com/codeway/config-service/internal/errors"
	"github.com/codeway/config-service/internal/logging"
)

// The single logical document this service manages.
const (
	Collection = "config"
	DocumentID = "app_config"
)

// DefaultCacheTTL is the cache window applied when none is configured.
const DefaultCacheTTL = 5 * time.Minute

// cacheEntry is a disposable snapshot of the document with an absolute
// expiry. The service owns it exclusively.
type cacheEntry struct {
	doc    cfg.Document
	expiry time.Time
}

// Service mediates every read and write of the configuration document.
type Service struct {
	store storage.DocumentStore
	log   *logging.Logger
	ttl   time.Duration
	now   func() time.Time

	mu     sync.RWMutex
	cached *cacheEntry
}

// Option configures the service.
type Option func(*Service)

// WithCacheTTL overrides the cache window.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source, used by tests to control cache
// expiry and write timestamps deterministically.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a configuration service on top of the given store.
func New(store storage.DocumentStore, log *logging.Logger, opts ...Option) *Service {
	if log == nil {
		log = logging.NewDefault("config")
	}
	s := &Service{
		store: store,
		log:   log,
		ttl:   DefaultCacheTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the current configuration document. A non-expired cache entry
// is served without touching the store; otherwise the document is read from
// the store, and on first-ever access the default seed is created and
// persisted. The returned document is a copy the caller may mutate freely.
func (s *Service) Get(ctx context.Context) (cfg.Document, error) {
	if doc, ok := s.fromCache(); ok {
		metrics.RecordCacheHit()
		return doc, nil
	}
	metrics.RecordCacheMiss()

	raw, exists, err := s.readStore(ctx)
	if err != nil {
		return cfg.Document{}, err
	}

	var doc cfg.Document
	if !exists {
		doc = cfg.Default(s.nowMillis())
		if err := s.writeStore(ctx, doc); err != nil {
			return cfg.Document{}, err
		}
		s.log.Info("configuration document absent; default seed created")
	} else {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return cfg.Document{}, errors.Internal("Failed to decode stored configuration", err)
		}
	}

	s.setCache(doc)
	return doc.Clone(), nil
}

// CheckConcurrentModification reports whether the document changed since the
// client read it. A nil token opts out of the check. The store is read
// directly, bypassing the cache, which may be stale relative to a very
// recent write. The check is a best-effort detector, not a transactional
// guarantee: two writers racing past it can both succeed, last write wins.
func (s *Service) CheckConcurrentModification(ctx context.Context, clientLastModified *int64) (bool, error) {
	if clientLastModified == nil {
		return false, nil
	}

	raw, exists, err := s.readStoreOp(ctx, "check")
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	var doc cfg.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false, errors.Internal("Failed to decode stored configuration", err)
	}
	if doc.LastModified != *clientLastModified {
		metrics.RecordWriteConflict()
		return true, nil
	}
	return false, nil
}

// Update replaces the whole document with newData plus fresh write metadata
// and clears the cache so the next read is forced to the store. There is no
// partial merge: the caller submits the complete parameter set.
func (s *Service) Update(ctx context.Context, newData cfg.Document, userID, userEmail string) (cfg.Document, error) {
	updated := newData.Clone()
	updated.LastModified = s.nowMillis()
	updated.LastModifiedBy = userID
	updated.LastModifiedByEmail = userEmail

	if err := s.writeStore(ctx, updated); err != nil {
		return cfg.Document{}, err
	}
	s.clearCache()

	s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"last_modified": updated.LastModified,
		"user_id":       userID,
	}).Info("configuration updated")
	return updated, nil
}

func (s *Service) readStore(ctx context.Context) (json.RawMessage, bool, error) {
	return s.readStoreOp(ctx, "fetch")
}

func (s *Service) readStoreOp(ctx context.Context, op string) (json.RawMessage, bool, error) {
	raw, exists, err := s.store.Get(ctx, Collection, DocumentID)
	metrics.RecordStoreRead()
	if err != nil {
		return nil, false, errors.Storage(op, err)
	}
	return raw, exists, nil
}

func (s *Service) writeStore(ctx context.Context, doc cfg.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Internal("Failed to encode configuration", err)
	}
	if err := s.store.Set(ctx, Collection, DocumentID, data); err != nil {
		return errors.Storage("update", err)
	}
	metrics.RecordStoreWrite()
	return nil
}

func (s *Service) fromCache() (cfg.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cached == nil || !s.now().Before(s.cached.expiry) {
		return cfg.Document{}, false
	}
	return s.cached.doc.Clone(), true
}

func (s *Service) setCache(doc cfg.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = &cacheEntry{
		doc:    doc.Clone(),
		expiry: s.now().Add(s.ttl),
	}
}

func (s *Service) clearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
}

func (s *Service) nowMillis() int64 {
	return s.now().UnixMilli()
}
