package voice

import (
	"strings"
	"time"

	"github.com/antzucaro/matchr"
)

// echoWindow is how long a recorded utterance stays comparable.
const echoWindow = 12 * time.Second

// similarityFloor is the Jaro-Winkler score above which two normalized
// utterances count as the same speech.
const similarityFloor = 0.88

type echoEntry struct {
	text    string
	loose   string
	tokens  map[string]bool
	savedAt time.Time
}

// RecentBotOutputs is a rolling window of assistant utterances used to reject
// transcriptions of the assistant's own voice leaking back through the
// microphone. Session-local, serialized by the op chain.
type RecentBotOutputs struct {
	entries []echoEntry
	now     func() time.Time
}

// NewRecentBotOutputs creates an empty window.
func NewRecentBotOutputs() *RecentBotOutputs {
	return &RecentBotOutputs{now: time.Now}
}

// Record remembers one assistant utterance.
func (r *RecentBotOutputs) Record(text string) {
	loose := looseText(text)
	if loose == "" {
		return
	}
	r.prune()
	r.entries = append(r.entries, echoEntry{
		text:    text,
		loose:   loose,
		tokens:  tokenSet(loose),
		savedAt: r.now(),
	})
}

// IsLikelyBotEcho reports whether text reads like a recent assistant
// utterance. Comparisons run from cheap to expensive: exact loose match,
// prefix containment, token-set overlap, then string similarity.
func (r *RecentBotOutputs) IsLikelyBotEcho(text string) bool {
	loose := looseText(text)
	if loose == "" {
		return false
	}
	r.prune()

	in := tokenSet(loose)
	for _, e := range r.entries {
		if loose == e.loose {
			return true
		}
		if len(loose) >= 12 && (strings.HasPrefix(e.loose, loose) || strings.HasPrefix(loose, e.loose)) {
			return true
		}
		if len(in) >= 3 && overlap(in, e.tokens) >= 0.8 {
			return true
		}
		if matchr.JaroWinkler(loose, e.loose, false) >= similarityFloor {
			return true
		}
	}
	return false
}

func (r *RecentBotOutputs) prune() {
	cutoff := r.now().Add(-echoWindow)
	keep := r.entries[:0]
	for _, e := range r.entries {
		if e.savedAt.After(cutoff) {
			keep = append(keep, e)
		}
	}
	r.entries = keep
}

// InboundHistory de-duplicates identical client text inputs inside the echo
// window, so a client retrying a text.input does not produce two turns.
type InboundHistory struct {
	seen map[string]time.Time
	now  func() time.Time
}

// NewInboundHistory creates an empty history.
func NewInboundHistory() *InboundHistory {
	return &InboundHistory{seen: make(map[string]time.Time), now: time.Now}
}

// Seen records text and reports whether the same loose text was already
// recorded within the window.
func (h *InboundHistory) Seen(text string) bool {
	loose := looseText(text)
	if loose == "" {
		return false
	}
	now := h.now()
	for k, at := range h.seen {
		if now.Sub(at) > echoWindow {
			delete(h.seen, k)
		}
	}
	_, dup := h.seen[loose]
	h.seen[loose] = now
	return dup
}

// looseText lowercases and strips everything but letters, digits and spaces.
func looseText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ', r >= 'а' && r <= 'я', r == 'ё':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func tokenSet(loose string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(loose) {
		out[w] = true
	}
	return out
}

// overlap returns |a∩b| / |smaller set|.
func overlap(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	n := 0
	for w := range small {
		if big[w] {
			n++
		}
	}
	return float64(n) / float64(len(small))
}
