// Package capability implements the token and context model that backs
// every runtime permission check. Tokens are immutable value objects;
// possession conveys authority. Contexts stack in strict LIFO order and
// are consulted child-first on every check.
package capability

import (
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
)

// Requirement names one capability demand: an operation of a type.
// Host-function registrations and artifact manifests are built from
// these.
type Requirement struct {
	Type string `json:"type"`
	Op   string `json:"op"`
}

// Token grants operations of one type on resources matching a set of
// glob patterns, optionally bounded in time. Zero ExpiresAt means the
// token never expires.
type Token struct {
	Type             string    `json:"type"`
	ResourcePatterns []string  `json:"resource_patterns"`
	Operations       []string  `json:"operations"`
	IssuedAt         time.Time `json:"issued_at"`
	ExpiresAt        time.Time `json:"expires_at,omitempty"`
	Issuer           string    `json:"issuer"`
	TokenID          string    `json:"token_id"`

	matchers []glob.Glob
	ops      map[string]struct{}
}

// NewToken builds a token for the given type, resource patterns, and
// operations. ttl <= 0 means no expiry.
func NewToken(typ string, patterns []string, ops []string, ttl time.Duration) *Token {
	t := &Token{
		Type:             typ,
		ResourcePatterns: append([]string(nil), patterns...),
		Operations:       append([]string(nil), ops...),
		IssuedAt:         time.Now(),
		Issuer:           "local",
		TokenID:          uuid.NewString(),
	}
	if ttl > 0 {
		t.ExpiresAt = t.IssuedAt.Add(ttl)
	}
	t.compile()
	return t
}

// compile precompiles glob matchers and the operation set so that Check
// stays constant-time in the common case. Invalid patterns degrade to
// never-matching rather than failing token creation.
func (t *Token) compile() {
	t.matchers = make([]glob.Glob, 0, len(t.ResourcePatterns))
	for _, p := range t.ResourcePatterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			continue
		}
		t.matchers = append(t.matchers, g)
	}
	t.ops = make(map[string]struct{}, len(t.Operations))
	for _, op := range t.Operations {
		t.ops[op] = struct{}{}
	}
}

// ValidAt reports whether the token is time-valid at the instant.
func (t *Token) ValidAt(at time.Time) bool {
	if at.Before(t.IssuedAt) {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return at.Before(t.ExpiresAt)
}

// Grants reports whether the token alone satisfies (type, resource, op)
// at the given instant.
func (t *Token) Grants(typ, resource, op string, at time.Time) bool {
	if t.Type != typ || !t.ValidAt(at) {
		return false
	}
	if t.ops == nil {
		t.compile()
	}
	if _, ok := t.ops[op]; !ok {
		return false
	}
	for _, m := range t.matchers {
		if m.Match(resource) {
			return true
		}
	}
	return false
}
