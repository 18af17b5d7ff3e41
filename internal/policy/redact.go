// Package policy holds outbound-content safety helpers. Anything the engine
// echoes back to a client (error messages, warnings) passes through Redact
// first so upstream credentials never leak over the session boundary.
package policy

import (
	"regexp"
	"strings"
	"sync"
)

var (
	// Provider API keys ("sk-..." with at least 8 trailing chars) and bearer
	// tokens in echoed upstream errors.
	apiKeyRe = regexp.MustCompile(`sk-[A-Za-z0-9_-]{8,}`)
	bearerRe = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]{8,}`)

	mu      sync.RWMutex
	secrets []string
)

// RegisterSecret adds a literal value (for example the configured API key) to
// the redaction set. Empty and very short values are ignored.
func RegisterSecret(s string) {
	if len(s) < 8 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	secrets = append(secrets, s)
}

// Redact masks API keys, bearer tokens and registered secrets in s.
func Redact(s string) string {
	s = apiKeyRe.ReplaceAllString(s, "sk-***")
	s = bearerRe.ReplaceAllString(s, "Bearer ***")

	mu.RLock()
	defer mu.RUnlock()
	for _, sec := range secrets {
		s = strings.ReplaceAll(s, sec, "***")
	}
	return s
}
