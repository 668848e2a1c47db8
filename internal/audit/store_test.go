package audit

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func rec(ts time.Time, method string) Record {
	return Record{
		Timestamp:        ts,
		ClientID:         1,
		Method:           method,
		Fingerprint:      "abc123",
		ConcurrencyClass: "Free",
		DurationMS:       1,
		Outcome:          OutcomeOK,
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "audit")
	s, err := Open(Config{Dir: dir}, silentLogger())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer func() { _ = s.Close() }()

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected directory at %s", dir)
	}
}

func TestAppendAndRecent(t *testing.T) {
	t.Parallel()

	s, err := Open(Config{Dir: t.TempDir(), CacheSize: 10}, silentLogger())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer func() { _ = s.Close() }()

	now := time.Now().UTC()
	if err := s.Append(rec(now, "ping")); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := s.Append(rec(now, "goxel.add_voxel")); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	recent := s.Recent(10)
	if len(recent) != 2 {
		t.Fatalf("Recent() len = %d, want 2", len(recent))
	}
	if recent[0].Method != "goxel.add_voxel" {
		t.Errorf("Recent()[0].Method = %q, want newest first", recent[0].Method)
	}
}

func TestAppend_RotatesOnDateChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := Open(Config{Dir: dir}, silentLogger())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer func() { _ = s.Close() }()

	today := time.Now().UTC()
	yesterday := today.AddDate(0, 0, -1)

	if err := s.Append(rec(yesterday, "ping")); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := s.Append(rec(today, "ping")); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected at least 2 audit files after date rotation, got %d", len(entries))
	}
}

func TestRingRecent_NewestFirstAndBounded(t *testing.T) {
	t.Parallel()

	r := newRing(3)
	base := time.Now()
	for i := 0; i < 5; i++ {
		r.add(rec(base.Add(time.Duration(i)*time.Second), "ping"))
	}

	got := r.recent(10)
	if len(got) != 3 {
		t.Fatalf("recent() len = %d, want 3 (ring capacity)", len(got))
	}
	if !got[0].Timestamp.After(got[1].Timestamp) {
		t.Error("recent() should order newest first")
	}
}
