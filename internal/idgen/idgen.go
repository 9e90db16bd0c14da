// Package idgen generates short, URL-safe, type-prefixed public identifiers
// for Fuel's entities (tasks, epics, runs, reviews). Internally every row
// keeps a 64-bit primary key; the short id is the only id ever shown to a
// client or an agent.
package idgen

import (
	"crypto/rand"
	"fmt"
	"regexp"
)

// alphabet is lowercase-alphanumeric, URL-safe without a padding alphabet.
const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// minLen/maxLen bound the adaptive widening described in the design notes:
// ids start at 4 characters and grow to 7 as a prefix's population grows and
// collisions become likelier.
const (
	minLen = 4
	maxLen = 7
)

var patterns = map[string]*regexp.Regexp{}

func pattern(prefix string) *regexp.Regexp {
	if re, ok := patterns[prefix]; ok {
		return re
	}
	re := regexp.MustCompile(fmt.Sprintf(`^%s[a-z0-9]{%d,%d}$`, regexp.QuoteMeta(prefix), minLen, maxLen))
	patterns[prefix] = re
	return re
}

// New generates a new short id with the given type prefix ("f-", "e-", "r-",
// "v-") at the given length. Callers widen the length once collisions at the
// current length exceed a threshold (see Collider below).
func New(prefix string, length int) string {
	if length < minLen {
		length = minLen
	}
	if length > maxLen {
		length = maxLen
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("idgen: failed to read random bytes: %v", err))
	}
	for i := range b {
		b[i] = alphabet[int(b[i])%len(alphabet)]
	}
	return prefix + string(b)
}

// Valid reports whether s is a syntactically valid id for the given prefix.
func Valid(prefix, s string) bool {
	return pattern(prefix).MatchString(s)
}

// Collider tracks collision counts per prefix so callers can decide when to
// widen the generated length. It is a pure in-memory counter; the Store is
// responsible for actually detecting a collision (insert failed on a unique
// constraint) and reporting it here.
type Collider struct {
	counts map[string]int
}

// NewCollider creates an empty collision tracker.
func NewCollider() *Collider {
	return &Collider{counts: make(map[string]int)}
}

// RecordCollision increments the collision counter for prefix and returns the
// new count.
func (c *Collider) RecordCollision(prefix string) int {
	c.counts[prefix]++
	return c.counts[prefix]
}

// NextLength returns the id length to use for prefix given its collision
// history: it starts at minLen and widens by one character for every 3
// collisions observed, capped at maxLen.
func (c *Collider) NextLength(prefix string) int {
	length := minLen + c.counts[prefix]/3
	if length > maxLen {
		length = maxLen
	}
	return length
}
