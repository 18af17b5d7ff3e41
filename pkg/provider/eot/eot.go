// Package eot provides the semantic end-of-turn detector: a cached,
// bounded-latency classifier over the current transcript that recommends how
// long the turn manager should wait for more speech before committing.
//
// The detector always runs a rule-based heuristic first. When an LLM backend
// is configured and the heuristic is uncertain, a single JSON-only model call
// refines the verdict under a strict deadline; on timeout or a malformed
// reply the heuristic result stands. Verdicts are cached per session keyed on
// loose-normalised text.
package eot

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// Status classifies a transcript's turn shape.
type Status string

const (
	// StatusComplete means the utterance reads as a finished turn.
	StatusComplete Status = "complete"

	// StatusIncomplete means the utterance is mid-thought.
	StatusIncomplete Status = "incomplete"

	// StatusUncertain means the rules could not decide.
	StatusUncertain Status = "uncertain"
)

// Decision is the detector's verdict for one transcript.
type Decision struct {
	Status             Status
	RecommendedDelayMS int
	Confidence         float64
	Reason             string
}

// LLMVerdict is the parsed reply of an LLM backend call.
type LLMVerdict struct {
	Status     Status  `json:"status"`
	DelayMS    int     `json:"delay_ms"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// LLMBackend refines uncertain heuristic verdicts. Implementations must
// respect the context deadline; the detector never waits past it.
type LLMBackend interface {
	Classify(ctx context.Context, transcript string) (LLMVerdict, error)
}

// Config tunes a Detector. Zero values fall back to the documented defaults.
type Config struct {
	// MinDelayMS and MaxDelayMS bound every recommended delay. Defaults: 250
	// and 900.
	MinDelayMS int
	MaxDelayMS int

	// LLMTimeout caps the backend call. Default 180 ms; hard ceiling 200 ms.
	LLMTimeout time.Duration
}

const (
	defaultMinDelayMS = 250
	defaultMaxDelayMS = 900
	defaultLLMTimeout = 180 * time.Millisecond
	maxLLMTimeout     = 200 * time.Millisecond

	cacheTTL = 12 * time.Second
	cacheCap = 120
)

// Detector classifies transcripts. Create one per session; it is not safe for
// concurrent use (the session op chain serialises access).
type Detector struct {
	cfg   Config
	llm   LLMBackend
	cache *verdictCache
	now   func() time.Time
}

// Option is a functional option for configuring a Detector.
type Option func(*Detector)

// WithLLMBackend attaches an LLM refinement backend. Without one the
// heuristic verdict is always final.
func WithLLMBackend(b LLMBackend) Option {
	return func(d *Detector) { d.llm = b }
}

// withClock overrides the detector clock; tests only.
func withClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// NewDetector creates a Detector with cfg, applying defaults for zero fields.
func NewDetector(cfg Config, opts ...Option) *Detector {
	if cfg.MinDelayMS <= 0 {
		cfg.MinDelayMS = defaultMinDelayMS
	}
	if cfg.MaxDelayMS <= cfg.MinDelayMS {
		cfg.MaxDelayMS = defaultMaxDelayMS
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = defaultLLMTimeout
	}
	if cfg.LLMTimeout > maxLLMTimeout {
		cfg.LLMTimeout = maxLLMTimeout
	}
	d := &Detector{
		cfg:   cfg,
		cache: newVerdictCache(cacheCap, cacheTTL),
		now:   time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Classify returns the end-of-turn verdict for transcript. firstTurn relaxes
// the short-utterance rule so greetings like "hi there" commit promptly.
func (d *Detector) Classify(ctx context.Context, transcript string, firstTurn bool) Decision {
	key := looseNormalize(transcript)
	if dec, ok := d.cache.get(key, d.now()); ok {
		return dec
	}

	dec := d.heuristic(transcript, firstTurn)

	if d.llm != nil && dec.Status == StatusUncertain {
		dec = d.refineWithLLM(ctx, transcript, dec)
	}

	dec.RecommendedDelayMS = d.clamp(dec.RecommendedDelayMS)
	d.cache.put(key, dec, d.now())
	return dec
}

// heuristic applies the rule ladder; first match wins.
func (d *Detector) heuristic(transcript string, firstTurn bool) Decision {
	minD, maxD := d.cfg.MinDelayMS, d.cfg.MaxDelayMS
	text := strings.TrimSpace(transcript)

	// Rule 1: empty transcript.
	if text == "" {
		return Decision{StatusIncomplete, maxD, 0.95, "empty"}
	}

	norm := looseNormalize(text)
	words := strings.Fields(norm)

	// Rule 2: trailing filler word.
	if fillerTailRe.MatchString(norm) {
		return Decision{StatusIncomplete, maxD - 60, 0.85, "trailing_filler"}
	}

	// Rule 3: last token is a joiner.
	if len(words) > 0 && joiners[words[len(words)-1]] {
		return Decision{StatusIncomplete, maxD - 80, 0.85, "trailing_joiner"}
	}

	// Rule 4: open punctuation tail.
	if openTailRe.MatchString(text) {
		return Decision{StatusIncomplete, maxD - 120, 0.8, "open_punctuation"}
	}

	// Rule 5: terminal punctuation with enough words, or a closing phrase.
	tail := strings.ToLower(strings.TrimRight(text, ".!?…\"') "))
	if (terminalTailRe.MatchString(text) && len(words) >= 3) || closingPhraseRe.MatchString(tail) {
		return Decision{StatusComplete, minD, 0.9, "terminal_punctuation"}
	}

	// Rule 6: very short utterance.
	if len(words) <= 2 {
		if firstTurn {
			return Decision{StatusUncertain, minD + 80, 0.5, "short_greeting"}
		}
		return Decision{StatusIncomplete, maxD - 140, 0.7, "short_fragment"}
	}

	// Rule 7: no terminal punctuation at all — shape looks unfinished.
	if !terminalTailRe.MatchString(text) {
		return Decision{StatusUncertain, minD + (maxD-minD)*2/5, 0.5, "no_terminal"}
	}

	// Rule 8: default complete.
	return Decision{StatusComplete, minD + 40, 0.7, "default_complete"}
}

// refineWithLLM runs the backend under its deadline and merges the verdict.
// An incomplete LLM verdict may lengthen but never shorten the heuristic
// delay.
func (d *Detector) refineWithLLM(ctx context.Context, transcript string, heur Decision) Decision {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.LLMTimeout)
	defer cancel()

	v, err := d.llm.Classify(ctx, transcript)
	if err != nil {
		slog.Debug("eot: llm refinement skipped", "err", err)
		return heur
	}
	switch v.Status {
	case StatusComplete, StatusIncomplete, StatusUncertain:
	default:
		slog.Debug("eot: llm returned unknown status", "status", v.Status)
		return heur
	}

	dec := Decision{
		Status:             v.Status,
		RecommendedDelayMS: v.DelayMS,
		Confidence:         v.Confidence,
		Reason:             "llm:" + v.Reason,
	}
	if dec.Status == StatusIncomplete && dec.RecommendedDelayMS < heur.RecommendedDelayMS {
		dec.RecommendedDelayMS = heur.RecommendedDelayMS
	}
	if dec.RecommendedDelayMS <= 0 {
		dec.RecommendedDelayMS = heur.RecommendedDelayMS
	}
	return dec
}

func (d *Detector) clamp(ms int) int {
	if ms < d.cfg.MinDelayMS {
		return d.cfg.MinDelayMS
	}
	if ms > d.cfg.MaxDelayMS {
		return d.cfg.MaxDelayMS
	}
	return ms
}

var (
	// Fillers and joiners cover English plus the Cyrillic counterparts the
	// engine sees from mixed-language callers.
	fillerTailRe = regexp.MustCompile(`(?i)(^|\s)(uh|um|hmm|well|like|you know|типа|э+м*)$`)

	joiners = map[string]bool{
		"and": true, "or": true, "but": true, "so": true, "because": true,
		"if": true, "when": true, "that": true, "to": true, "for": true,
		"with": true,
		"и": true, "или": true, "но": true, "чтобы": true, "если": true,
		"когда": true, "что": true, "для": true, "с": true,
	}

	openTailRe      = regexp.MustCompile(`[,:;\-–—]\s*$`)
	terminalTailRe  = regexp.MustCompile(`[.!?…]["')\]]*\s*$`)
	closingPhraseRe = regexp.MustCompile(`(^|\s)(thanks|thank you|that's all|thats all|done|goodbye|bye)$`)
)

// looseNormalize lowercases, strips punctuation, and collapses whitespace.
// Used as the cache key and for token comparisons.
func looseNormalize(s string) string {
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
