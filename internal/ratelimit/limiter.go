// Package ratelimit provides a per-peer-uid connection-attempt limiter for
// the Acceptor. The socket has no per-IP concept (it is a Unix domain
// socket), so the key space here is the local uid read off SO_PEERCRED
// rather than a remote address.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Result is the outcome of a single Allow check.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Config parameterizes the GCRA (Generic Cell Rate Algorithm) limiter.
// Rate and Period together define the sustained rate (Rate per Period);
// Burst allows that many requests to be admitted instantaneously before
// the sustained rate starts throttling.
type Config struct {
	Rate   int
	Period time.Duration
	Burst  int
}

// UIDLimiter is a GCRA rate limiter keyed by peer uid, safe for concurrent
// use by the Acceptor goroutine checking many simultaneous connects. It
// runs a background goroutine that evicts cells that have gone idle past
// maxTTL so a long-lived daemon does not accumulate one entry per uid that
// ever connected.
type UIDLimiter struct {
	mu              sync.Mutex
	cells           map[uint32]time.Time // uid -> theoretical arrival time
	cleanupInterval time.Duration
	maxTTL          time.Duration
	stopOnce        sync.Once
	stopCh          chan struct{}
	wg              sync.WaitGroup
	logger          *slog.Logger
}

// NewUIDLimiter creates a limiter with the given cleanup cadence and max
// cell age. A logger of nil installs slog.Default().
func NewUIDLimiter(cleanupInterval, maxTTL time.Duration, logger *slog.Logger) *UIDLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &UIDLimiter{
		cells:           make(map[uint32]time.Time),
		cleanupInterval: cleanupInterval,
		maxTTL:          maxTTL,
		stopCh:          make(chan struct{}),
		logger:          logger,
	}
}

// Allow reports whether a connection attempt from uid is admitted under
// cfg, atomically advancing the uid's theoretical arrival time when it is.
func (l *UIDLimiter) Allow(uid uint32, cfg Config) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Rate
	}

	now := time.Now()
	emission := cfg.Period / time.Duration(cfg.Rate)
	burstOffset := time.Duration(cfg.Burst) * emission

	tat, ok := l.cells[uid]
	if !ok || tat.Before(now) {
		tat = now
	}

	allowAt := tat.Add(emission).Add(-burstOffset)
	if now.Before(allowAt) {
		return Result{Allowed: false, RetryAfter: allowAt.Sub(now)}
	}

	newTAT := tat.Add(emission)
	if newTAT.Before(now) {
		newTAT = now.Add(emission)
	}
	l.cells[uid] = newTAT

	return Result{Allowed: true}
}

// StartCleanup launches the background eviction goroutine. It stops when
// ctx is cancelled or Stop is called.
func (l *UIDLimiter) StartCleanup(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(l.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopCh:
				return
			case <-ticker.C:
				l.evictStale()
			}
		}
	}()
}

func (l *UIDLimiter) evictStale() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.maxTTL)
	evicted := 0
	for uid, tat := range l.cells {
		if tat.Before(cutoff) {
			delete(l.cells, uid)
			evicted++
		}
	}
	if evicted > 0 {
		l.logger.Debug("rate limiter cleanup", "evicted", evicted, "tracked", len(l.cells))
	}
}

// Stop terminates the cleanup goroutine and waits for it to exit. Safe to
// call more than once.
func (l *UIDLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	l.wg.Wait()
}

// Size returns the number of uids currently tracked.
func (l *UIDLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.cells)
}
