// Package accesstoken hashes and verifies the single shared bearer token a
// Session may be required to present as the first message's params._auth
// (see DaemonConfig.AccessTokenHash). There is no per-identity store here:
// the socket protects exactly one daemon instance, not a multi-tenant set
// of principals, so a single argon2id hash is all that's needed.
package accesstoken

import (
	"errors"
	"fmt"

	"github.com/alexedwards/argon2id"
)

// ErrInvalidToken is returned when the presented token does not match the
// configured hash.
var ErrInvalidToken = errors.New("invalid access token")

// params follows OWASP's minimum recommended Argon2id parameters.
var params = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// Hash produces a PHC-formatted argon2id hash of raw, suitable for storing
// in DaemonConfig.AccessTokenHash.
func Hash(raw string) (string, error) {
	return argon2id.CreateHash(raw, params)
}

// Verify reports whether raw matches the stored hash. A malformed hash
// (e.g. hand-edited config) is reported as ErrInvalidToken rather than
// panicking or leaking a parameter error to the client.
func Verify(raw, hash string) (bool, error) {
	match, err := safeCompare(raw, hash)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return match, nil
}

// safeCompare wraps argon2id.ComparePasswordAndHash with panic recovery;
// the underlying library panics on hashes with invalid encoded parameters.
func safeCompare(raw, hash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(raw, hash)
}
