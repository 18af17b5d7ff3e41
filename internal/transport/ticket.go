package transport

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultTicketTTL is how long an issued connection ticket stays redeemable.
const defaultTicketTTL = 30 * time.Second

// TicketStore issues short-lived, single-use connection tickets. A client
// trades an API key for a ticket over HTTPS, then presents the ticket on the
// WebSocket handshake, keeping the long-lived key out of browser URLs.
type TicketStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	pending map[string]time.Time
}

// NewTicketStore creates a store. ttl <= 0 falls back to 30 seconds.
func NewTicketStore(ttl time.Duration) *TicketStore {
	if ttl <= 0 {
		ttl = defaultTicketTTL
	}
	return &TicketStore{
		ttl:     ttl,
		now:     time.Now,
		pending: make(map[string]time.Time),
	}
}

// Issue mints a ticket and returns it with its expiry.
func (s *TicketStore) Issue() (ticket string, expires time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	ticket = uuid.NewString()
	expires = s.now().Add(s.ttl)
	s.pending[ticket] = expires
	return ticket, expires
}

// Redeem consumes a ticket. A ticket redeems at most once and only before it
// expires.
func (s *TicketStore) Redeem(ticket string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expires, ok := s.pending[ticket]
	if !ok {
		return false
	}
	delete(s.pending, ticket)
	return s.now().Before(expires)
}

// prune drops expired tickets. Caller holds mu.
func (s *TicketStore) prune() {
	now := s.now()
	for t, expires := range s.pending {
		if !now.Before(expires) {
			delete(s.pending, t)
		}
	}
}
