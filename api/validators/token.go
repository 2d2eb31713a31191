package validators

import (
	"crypto/subtle"
	"strings"
)

// SecretMatches compares a caller-supplied shared secret against the expected
// one in constant time. An empty expected secret never matches.
func SecretMatches(provided, expected string) bool {
	expected = strings.TrimSpace(expected)
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(provided)), []byte(expected)) == 1
}
