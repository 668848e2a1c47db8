package render

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/goxel/goxeld/internal/scene"
)

const shardCount = 16

type entry struct {
	artifact Artifact
	refCount int
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func shardFor(token string) uint32 {
	return uint32(xxhash.Sum64String(token) % shardCount)
}

// Store owns render_dir: the rendered image files, their in-memory
// descriptors (sharded by token hash for lookup), and the durable SQLite
// index mirroring them. A single accounting mutex serializes total-byte
// bookkeeping and eviction decisions, which must see every shard
// consistently; per-token reads and ref-count changes only ever touch one
// shard's own lock.
type Store struct {
	dir           string
	ttl           time.Duration
	maxTotalBytes int64
	logger        *slog.Logger

	shards [shardCount]*shard

	acctMu     sync.Mutex
	totalBytes int64

	idx *index
}

// Open creates/recovers a Store rooted at dir. Rows in the index whose
// expires_at has already passed are swept immediately rather than trusted,
// since the file they name may no longer exist.
func Open(dir string, maxTotalBytes int64, ttl time.Duration, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("render: mkdir render_dir: %w", err)
	}

	idx, err := openIndex(filepath.Join(dir, ".index.db"))
	if err != nil {
		return nil, err
	}

	s := &Store{
		dir:           dir,
		ttl:           ttl,
		maxTotalBytes: maxTotalBytes,
		logger:        logger,
		idx:           idx,
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*entry)}
	}

	rows, err := idx.loadAll()
	if err != nil {
		idx.close()
		return nil, err
	}
	now := time.Now()
	for _, a := range rows {
		if !now.Before(a.ExpiresAt) {
			_ = os.Remove(a.Path)
			if err := idx.delete(a.Token); err != nil {
				logger.Warn("render: drop stale index row", "token", a.Token, "error", err)
			}
			continue
		}
		if _, statErr := os.Stat(a.Path); statErr != nil {
			if err := idx.delete(a.Token); err != nil {
				logger.Warn("render: drop orphaned index row", "token", a.Token, "error", err)
			}
			continue
		}
		sh := s.shards[shardFor(a.Token)]
		sh.entries[a.Token] = &entry{artifact: a}
		s.totalBytes += a.SizeBytes
	}

	if err := s.sweepOrphanFiles(); err != nil {
		logger.Warn("render: orphan sweep failed", "error", err)
	}

	return s, nil
}

// sweepOrphanFiles removes files in render_dir older than the TTL that the
// index has no record of, e.g. left behind by a crash between write and
// registration.
func (s *Store) sweepOrphanFiles() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	known := make(map[string]bool)
	for i := range s.shards {
		sh := s.shards[i]
		sh.mu.Lock()
		for token := range sh.entries {
			known[token] = true
		}
		sh.mu.Unlock()
	}

	cutoff := time.Now().Add(-s.ttl)
	for _, de := range entries {
		if de.IsDir() || de.Name() == ".index.db" {
			continue
		}
		token := tokenFromFilename(de.Name())
		if known[token] {
			continue
		}
		info, err := de.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		_ = os.Remove(filepath.Join(s.dir, de.Name()))
	}
	return nil
}

func tokenFromFilename(name string) string {
	ext := filepath.Ext(name)
	return name[:len(name)-len(ext)]
}

// Register writes data to render_dir under a freshly generated token and
// registers the resulting Artifact, evicting older artifacts (ascending
// expires_at, ties broken by ascending created_at) if needed to make room.
// It fails with scene.ErrCacheFull if the artifact does not fit even after
// evicting everything else.
func (s *Store) Register(data []byte, ext, mimeType string) (Artifact, error) {
	token, err := newToken()
	if err != nil {
		return Artifact{}, err
	}
	size := int64(len(data))
	if size > s.maxTotalBytes {
		return Artifact{}, scene.ErrCacheFull("artifact exceeds render_max_total_bytes on its own")
	}

	path := filepath.Join(s.dir, token+"."+ext)
	now := time.Now()
	a := Artifact{
		Token:     token,
		Path:      path,
		MimeType:  mimeType,
		SizeBytes: size,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.acctMu.Lock()
	defer s.acctMu.Unlock()

	if s.totalBytes+size > s.maxTotalBytes {
		if err := s.evictLocked(s.totalBytes + size - s.maxTotalBytes); err != nil {
			return Artifact{}, err
		}
	}

	if err := os.WriteFile(path, data, 0640); err != nil {
		return Artifact{}, fmt.Errorf("render: write artifact: %w", err)
	}
	if err := s.idx.insert(a); err != nil {
		_ = os.Remove(path)
		return Artifact{}, err
	}

	sh := s.shards[shardFor(token)]
	sh.mu.Lock()
	sh.entries[token] = &entry{artifact: a}
	sh.mu.Unlock()

	s.totalBytes += size
	return a, nil
}

// evictLocked removes live (ref_count == 0) artifacts, oldest-expiring
// first, until at least need bytes have been freed. Called with acctMu
// held.
func (s *Store) evictLocked(need int64) error {
	type candidate struct {
		token   string
		shard   int
		expires time.Time
		created time.Time
		size    int64
	}
	var candidates []candidate
	for i := range s.shards {
		sh := s.shards[i]
		sh.mu.Lock()
		for token, e := range sh.entries {
			if e.refCount == 0 {
				candidates = append(candidates, candidate{
					token: token, shard: i,
					expires: e.artifact.ExpiresAt, created: e.artifact.CreatedAt,
					size: e.artifact.SizeBytes,
				})
			}
		}
		sh.mu.Unlock()
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].expires.Equal(candidates[j].expires) {
			return candidates[i].expires.Before(candidates[j].expires)
		}
		return candidates[i].created.Before(candidates[j].created)
	})

	freed := int64(0)
	for _, c := range candidates {
		if freed >= need {
			break
		}
		if err := s.removeLocked(c.token, c.shard); err != nil {
			s.logger.Warn("render: evict failed", "token", c.token, "error", err)
			continue
		}
		freed += c.size
	}
	if freed < need {
		return scene.ErrCacheFull("render_max_total_bytes exhausted, no further artifacts evictable")
	}
	return nil
}

// removeLocked deletes the file, index row, and in-memory entry for token.
// Caller must hold acctMu.
func (s *Store) removeLocked(token string, shardIdx int) error {
	sh := s.shards[shardIdx]
	sh.mu.Lock()
	e, ok := sh.entries[token]
	if !ok {
		sh.mu.Unlock()
		return nil
	}
	delete(sh.entries, token)
	sh.mu.Unlock()

	if err := os.Remove(e.artifact.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("render: remove file: %w", err)
	}
	if err := s.idx.delete(token); err != nil {
		return err
	}
	s.totalBytes -= e.artifact.SizeBytes
	return nil
}

// Get returns the descriptor for token without affecting its ref count.
func (s *Store) Get(token string) (Artifact, error) {
	if !validToken(token) {
		return Artifact{}, scene.ErrUnknownArtifact("malformed token")
	}
	sh := s.shards[shardFor(token)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[token]
	if !ok {
		return Artifact{}, scene.ErrUnknownArtifact(fmt.Sprintf("no artifact for token %q", token))
	}
	if !time.Now().Before(e.artifact.ExpiresAt) && e.refCount == 0 {
		return Artifact{}, scene.ErrArtifactExpired(fmt.Sprintf("artifact %q has expired", token))
	}
	return e.artifact, nil
}

// Acquire returns the descriptor for token and increments its ref count,
// returning a release func that must be called exactly once when the
// caller is done reading the file. Acquiring an expired artifact with a
// zero ref count fails with ArtifactExpired; the reaper may race to delete
// it at any moment before Acquire's internal lock is taken.
func (s *Store) Acquire(token string) (Artifact, func(), error) {
	if !validToken(token) {
		return Artifact{}, nil, scene.ErrUnknownArtifact("malformed token")
	}
	sh := s.shards[shardFor(token)]
	sh.mu.Lock()
	e, ok := sh.entries[token]
	if !ok {
		sh.mu.Unlock()
		return Artifact{}, nil, scene.ErrUnknownArtifact(fmt.Sprintf("no artifact for token %q", token))
	}
	if !time.Now().Before(e.artifact.ExpiresAt) && e.refCount == 0 {
		sh.mu.Unlock()
		return Artifact{}, nil, scene.ErrArtifactExpired(fmt.Sprintf("artifact %q has expired", token))
	}
	e.refCount++
	a := e.artifact
	sh.mu.Unlock()

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		sh.mu.Lock()
		if e.refCount > 0 {
			e.refCount--
		}
		expired := e.refCount == 0 && !time.Now().Before(e.artifact.ExpiresAt)
		sh.mu.Unlock()
		if expired {
			s.acctMu.Lock()
			_ = s.removeLocked(token, int(shardFor(token)))
			s.acctMu.Unlock()
		}
	}
	return a, release, nil
}

// Delete forcibly removes token regardless of expiry, refusing only while
// it is still referenced.
func (s *Store) Delete(token string) error {
	if !validToken(token) {
		return scene.ErrUnknownArtifact("malformed token")
	}
	shardIdx := int(shardFor(token))
	sh := s.shards[shardIdx]
	sh.mu.Lock()
	e, ok := sh.entries[token]
	if !ok {
		sh.mu.Unlock()
		return scene.ErrUnknownArtifact(fmt.Sprintf("no artifact for token %q", token))
	}
	refCount := e.refCount
	sh.mu.Unlock()
	if refCount > 0 {
		return scene.ErrCacheFull("artifact is still referenced")
	}

	s.acctMu.Lock()
	defer s.acctMu.Unlock()
	return s.removeLocked(token, shardIdx)
}

// List returns every live artifact's descriptor, for list_renders.
func (s *Store) List() []Artifact {
	var out []Artifact
	for i := range s.shards {
		sh := s.shards[i]
		sh.mu.Lock()
		for _, e := range sh.entries {
			out = append(out, e.artifact)
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Stats is the summary returned by get_render_stats.
type Stats struct {
	ArtifactCount int
	TotalBytes    int64
	MaxTotalBytes int64
}

func (s *Store) Stats() Stats {
	s.acctMu.Lock()
	total := s.totalBytes
	s.acctMu.Unlock()

	count := 0
	for i := range s.shards {
		sh := s.shards[i]
		sh.mu.Lock()
		count += len(sh.entries)
		sh.mu.Unlock()
	}
	return Stats{ArtifactCount: count, TotalBytes: total, MaxTotalBytes: s.maxTotalBytes}
}

// sweepExpired deletes every artifact whose expiry has passed and whose
// ref count is zero. Called by the Reaper on each tick and once more at
// shutdown.
func (s *Store) sweepExpired() {
	now := time.Now()
	var expired []struct {
		token string
		shard int
	}
	for i := range s.shards {
		sh := s.shards[i]
		sh.mu.Lock()
		for token, e := range sh.entries {
			if e.refCount == 0 && !now.Before(e.artifact.ExpiresAt) {
				expired = append(expired, struct {
					token string
					shard int
				}{token, i})
			}
		}
		sh.mu.Unlock()
	}
	if len(expired) == 0 {
		return
	}

	s.acctMu.Lock()
	defer s.acctMu.Unlock()
	for _, x := range expired {
		if err := s.removeLocked(x.token, x.shard); err != nil {
			s.logger.Warn("render: sweep failed", "token", x.token, "error", err)
		}
	}
}

func (s *Store) Close() error {
	return s.idx.close()
}
