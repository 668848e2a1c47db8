// Package render owns the directory of rendered voxel-scene images: each
// completed render is written to render_dir under an opaque token, tracked
// with a TTL and a reference count, and swept by a background reaper once
// it expires and nothing still holds it.
package render

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Artifact describes one render output owned by the Store.
type Artifact struct {
	Token     string
	Path      string
	MimeType  string
	SizeBytes int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// newToken returns 128 bits of OS randomness rendered as lowercase hex, so
// it can be embedded directly in a filename and validated with a simple
// character-class check on lookup.
func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("render: generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// validToken reports whether token contains only [0-9a-f], refusing
// anything that could traverse out of render_dir when joined into a path.
func validToken(token string) bool {
	if token == "" {
		return false
	}
	for _, r := range token {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
