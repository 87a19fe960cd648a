package chat

import (
	"context"
	"testing"
	"time"
)

func TestSignals_SentimentBalance(t *testing.T) {
	s := NewSignals()
	s.ObserveMessage("thanks, that was great!")
	s.ObserveMessage("this is terrible and wrong")

	got, err := s.SentimentBalance(context.Background())
	if err != nil {
		t.Fatalf("SentimentBalance: %v", err)
	}
	// One fully positive and one fully negative message average to zero.
	if got != 0 {
		t.Fatalf("balance = %v, want 0", got)
	}
}

func TestSignals_NeutralTextIgnored(t *testing.T) {
	s := NewSignals()
	s.ObserveMessage("the meeting is at three")

	got, err := s.SentimentBalance(context.Background())
	if err != nil {
		t.Fatalf("SentimentBalance: %v", err)
	}
	if got != 0 {
		t.Fatalf("balance = %v, want 0 for no scored words", got)
	}
}

func TestSignals_ReactionRatio(t *testing.T) {
	s := NewSignals()
	ratio, err := s.ReactionRatio(context.Background())
	if err != nil {
		t.Fatalf("ReactionRatio: %v", err)
	}
	if ratio != 0.5 {
		t.Fatalf("empty ratio = %v, want neutral 0.5", ratio)
	}

	s.ObserveReaction(true)
	s.ObserveReaction(true)
	s.ObserveReaction(false)
	ratio, err = s.ReactionRatio(context.Background())
	if err != nil {
		t.Fatalf("ReactionRatio: %v", err)
	}
	if ratio < 0.66 || ratio > 0.67 {
		t.Fatalf("ratio = %v, want 2/3", ratio)
	}
}

func TestSignals_WindowPruning(t *testing.T) {
	s := NewSignals()
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	s.ObserveMessage("awesome")
	clock = clock.Add(3 * time.Hour) // past the window

	got, err := s.SentimentBalance(context.Background())
	if err != nil {
		t.Fatalf("SentimentBalance: %v", err)
	}
	if got != 0 {
		t.Fatalf("balance = %v, want 0 after window expiry", got)
	}
}

func TestScoreText(t *testing.T) {
	cases := []struct {
		text    string
		want    float64
		matched bool
	}{
		{"thanks!", 1, true},
		{"this is awful", -1, true},
		{"good but annoying", 0, true},
		{"see you tomorrow", 0, false},
	}
	for _, tc := range cases {
		got, matched := scoreText(tc.text)
		if got != tc.want || matched != tc.matched {
			t.Errorf("scoreText(%q) = (%v, %v), want (%v, %v)", tc.text, got, matched, tc.want, tc.matched)
		}
	}
}
