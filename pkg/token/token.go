// Package token generates one-time invitation codes.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// ByteLength is the amount of entropy in every token; the hex encoding doubles it.
const ByteLength = 16

// Length is the number of characters in a generated token.
const Length = ByteLength * 2

// Generator produces invitation tokens.
type Generator interface {
	New() (string, error)
}

// RandomGenerator reads from a cryptographic source.
type RandomGenerator struct {
	source io.Reader
}

// NewGenerator returns a generator backed by crypto/rand.
func NewGenerator() *RandomGenerator {
	return &RandomGenerator{source: rand.Reader}
}

// NewGeneratorFromReader is used by tests that need a deterministic source.
func NewGeneratorFromReader(r io.Reader) *RandomGenerator {
	return &RandomGenerator{source: r}
}

// New returns a 32 character lowercase hex string.
func (g *RandomGenerator) New() (string, error) {
	source := g.source
	if source == nil {
		source = rand.Reader
	}
	buf := make([]byte, ByteLength)
	if _, err := io.ReadFull(source, buf); err != nil {
		return "", fmt.Errorf("read token entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Valid reports whether value has the shape of a generated token.
func Valid(value string) bool {
	if len(value) != Length {
		return false
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
