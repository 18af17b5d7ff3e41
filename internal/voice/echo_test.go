package voice

import (
	"testing"
	"time"
)

func TestRecentBotOutputs_Matching(t *testing.T) {
	t.Parallel()
	r := NewRecentBotOutputs()
	r.Record("Thanks for calling, how can I help you today?")

	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"exact", "Thanks for calling, how can I help you today?", true},
		{"case and punctuation", "thanks for calling how can i help you today", true},
		{"prefix of recorded", "Thanks for calling, how can I", true},
		{"minor mishearing", "Thanks for calling, how can I help you to day?", true},
		{"unrelated", "I want to cancel my subscription", false},
		{"short overlap", "thanks", false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.IsLikelyBotEcho(tc.in); got != tc.want {
				t.Fatalf("IsLikelyBotEcho(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestRecentBotOutputs_WindowExpiry(t *testing.T) {
	t.Parallel()
	now := time.Now()
	r := NewRecentBotOutputs()
	r.now = func() time.Time { return now }

	r.Record("Your order number is four two one seven")
	if !r.IsLikelyBotEcho("your order number is four two one seven") {
		t.Fatal("fresh utterance should match")
	}

	now = now.Add(13 * time.Second)
	if r.IsLikelyBotEcho("your order number is four two one seven") {
		t.Fatal("utterance older than the window should not match")
	}
}

func TestRecentBotOutputs_TokenOverlap(t *testing.T) {
	t.Parallel()
	r := NewRecentBotOutputs()
	r.Record("the store opens at nine in the morning")

	// Same words, shuffled order: token overlap catches what similarity on
	// the raw strings might miss.
	if !r.IsLikelyBotEcho("at nine in the morning the store opens") {
		t.Fatal("reordered tokens should still match")
	}
}

func TestInboundHistory_Dedupe(t *testing.T) {
	t.Parallel()
	now := time.Now()
	h := NewInboundHistory()
	h.now = func() time.Time { return now }

	if h.Seen("cancel my order") {
		t.Fatal("first sighting should not be a duplicate")
	}
	if !h.Seen("Cancel my order!") {
		t.Fatal("loose-equal retry should be a duplicate")
	}
	if h.Seen("something else") {
		t.Fatal("different text should not be a duplicate")
	}

	now = now.Add(13 * time.Second)
	if h.Seen("cancel my order") {
		t.Fatal("expired entry should not count as a duplicate")
	}
}

func TestLooseText(t *testing.T) {
	t.Parallel()
	cases := []struct{ in, want string }{
		{"Hello, World!", "hello world"},
		{"  spaced   out  ", "spaced out"},
		{"Привет, мир!", "привет мир"},
		{"order #4217?", "order 4217"},
		{"!!!", ""},
	}
	for _, tc := range cases {
		if got := looseText(tc.in); got != tc.want {
			t.Errorf("looseText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
