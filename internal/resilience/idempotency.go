package resilience

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
)

var (
	ErrKeyExpired = errors.New("idempotency key expired")
)

// IdempotencyResult represents the result of an idempotent operation
type IdempotencyResult struct {
	Key        string      `json:"key"`
	Response   interface{} `json:"response"`
	StatusCode int         `json:"status_code"`
	CreatedAt  time.Time   `json:"created_at"`
	ExpiresAt  time.Time   `json:"expires_at"`
}

// IdempotencyManager remembers the outcome of keyed operations so that a
// retried request replays the first response instead of repeating the work
type IdempotencyManager struct {
	store  *cache.Cache
	ttl    time.Duration
	prefix string
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*keyLock

	hits   atomic.Int64
	misses atomic.Int64
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewIdempotencyManager creates a new idempotency manager
func NewIdempotencyManager(ttl time.Duration) *IdempotencyManager {
	if ttl == 0 {
		ttl = 24 * time.Hour // Default 24 hours
	}

	return &IdempotencyManager{
		store:  cache.New(ttl, 2*ttl),
		ttl:    ttl,
		prefix: "idempotency:",
		now:    time.Now,
		locks:  make(map[string]*keyLock),
	}
}

// Execute runs fn once per key. Concurrent calls with the same key wait for
// the first one; later calls replay its response. Failures are not stored,
// so a failed operation can be retried with the same key.
func (im *IdempotencyManager) Execute(ctx context.Context, key string, fn func() (interface{}, int, error)) (interface{}, int, bool, error) {
	lock, err := im.AcquireLock(ctx, key)
	if err != nil {
		return nil, 0, false, err
	}
	defer lock.Release()

	existing, err := im.Get(ctx, key)
	if err == nil && existing != nil {
		im.hits.Add(1)
		return existing.Response, existing.StatusCode, true, nil
	}
	im.misses.Add(1)

	result, statusCode, err := fn()
	if err != nil {
		return nil, 0, false, err
	}

	if err := im.Store(ctx, key, result, statusCode); err != nil {
		return nil, 0, false, err
	}
	return result, statusCode, false, nil
}

// Store stores an idempotency result
func (im *IdempotencyManager) Store(ctx context.Context, key string, response interface{}, statusCode int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := im.now().UTC()
	im.store.Set(im.prefix+key, &IdempotencyResult{
		Key:        key,
		Response:   response,
		StatusCode: statusCode,
		CreatedAt:  now,
		ExpiresAt:  now.Add(im.ttl),
	}, im.ttl)
	return nil
}

// Get retrieves an idempotency result; nil when the key is unknown
func (im *IdempotencyManager) Get(ctx context.Context, key string) (*IdempotencyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, ok := im.store.Get(im.prefix + key)
	if !ok {
		return nil, nil // Key not found
	}
	result := v.(*IdempotencyResult)

	// The store expires lazily; the clock decides
	if im.now().UTC().After(result.ExpiresAt) {
		im.store.Delete(im.prefix + key)
		return nil, ErrKeyExpired
	}

	return result, nil
}

// Delete deletes an idempotency key
func (im *IdempotencyManager) Delete(ctx context.Context, key string) error {
	im.store.Delete(im.prefix + key)
	return nil
}

// Exists checks if an idempotency key exists
func (im *IdempotencyManager) Exists(ctx context.Context, key string) (bool, error) {
	result, err := im.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrKeyExpired) {
		return false, err
	}
	return result != nil, nil
}

// GenerateKey generates an idempotency key from request data
func GenerateKey(prefix string, data ...string) string {
	h := sha256.New()
	for _, d := range data {
		h.Write([]byte(d))
	}
	hash := hex.EncodeToString(h.Sum(nil))
	if prefix != "" {
		return fmt.Sprintf("%s-%s", prefix, hash[:16])
	}
	return hash[:16]
}

// ProcessingLock serializes work on one key
type ProcessingLock struct {
	im   *IdempotencyManager
	key  string
	lock *keyLock
	once sync.Once
}

// AcquireLock blocks until key is free or ctx is done
func (im *IdempotencyManager) AcquireLock(ctx context.Context, key string) (*ProcessingLock, error) {
	im.mu.Lock()
	l, ok := im.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		im.locks[key] = l
	}
	l.refs++
	im.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return &ProcessingLock{im: im, key: key, lock: l}, nil
	case <-ctx.Done():
		im.unref(key, l)
		return nil, fmt.Errorf("failed to acquire lock: %w", ctx.Err())
	}
}

// Release releases the processing lock. Calling it twice is a no-op.
func (pl *ProcessingLock) Release() {
	pl.once.Do(func() {
		<-pl.lock.sem
		pl.im.unref(pl.key, pl.lock)
	})
}

func (im *IdempotencyManager) unref(key string, l *keyLock) {
	im.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(im.locks, key)
	}
	im.mu.Unlock()
}

// ExecuteWithLock executes function while holding the key's lock
func (im *IdempotencyManager) ExecuteWithLock(ctx context.Context, key string, fn func() error) error {
	lock, err := im.AcquireLock(ctx, key)
	if err != nil {
		return err
	}
	defer lock.Release()

	return fn()
}

// IdempotencyStats holds idempotency statistics
type IdempotencyStats struct {
	TotalKeys   int64   `json:"total_keys"`
	CacheHits   int64   `json:"cache_hits"`
	CacheMisses int64   `json:"cache_misses"`
	HitRate     float64 `json:"hit_rate"`
}

// GetStats returns idempotency statistics
func (im *IdempotencyManager) GetStats(ctx context.Context) (*IdempotencyStats, error) {
	hits, misses := im.hits.Load(), im.misses.Load()
	stats := &IdempotencyStats{
		TotalKeys:   int64(im.store.ItemCount()),
		CacheHits:   hits,
		CacheMisses: misses,
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats, nil
}
