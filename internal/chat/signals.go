package chat

import (
	"context"
	"strings"
	"sync"
	"time"
)

// signalWindow is how far back observations count toward the aggregates.
const signalWindow = 2 * time.Hour

var positiveWords = map[string]bool{
	"thanks": true, "thank": true, "great": true, "good": true, "love": true,
	"nice": true, "awesome": true, "perfect": true, "cool": true, "yes": true,
	"happy": true, "haha": true, "lol": true,
}

var negativeWords = map[string]bool{
	"no": true, "bad": true, "wrong": true, "stop": true, "hate": true,
	"terrible": true, "awful": true, "annoying": true, "ugh": true,
	"broken": true, "useless": true,
}

type observation struct {
	at    time.Time
	score float64
}

// Signals accumulates sentiment and reaction observations from inbound
// traffic and serves the evolver's aggregate queries. In-memory only; the
// evolver tolerates an empty window.
type Signals struct {
	mu        sync.Mutex
	sentiment []observation
	reactions []observation

	now func() time.Time
}

func NewSignals() *Signals {
	return &Signals{now: time.Now}
}

// ObserveMessage scores one inbound message with a small lexicon. Messages
// with no scored words contribute nothing.
func (s *Signals) ObserveMessage(text string) {
	score, matched := scoreText(text)
	if !matched {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentiment = append(s.sentiment, observation{at: s.now(), score: score})
}

// ObserveReaction records one reaction to the agent's own output.
func (s *Signals) ObserveReaction(positive bool) {
	score := 0.0
	if positive {
		score = 1.0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reactions = append(s.reactions, observation{at: s.now(), score: score})
}

// SentimentBalance averages windowed sentiment into [-1, 1]; 0 when empty.
func (s *Signals) SentimentBalance(_ context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentiment = prune(s.sentiment, s.now().Add(-signalWindow))
	if len(s.sentiment) == 0 {
		return 0, nil
	}
	var sum float64
	for _, o := range s.sentiment {
		sum += o.score
	}
	return sum / float64(len(s.sentiment)), nil
}

// ReactionRatio reports the positive share of windowed reactions in [0, 1];
// a neutral 0.5 when there are none.
func (s *Signals) ReactionRatio(_ context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reactions = prune(s.reactions, s.now().Add(-signalWindow))
	if len(s.reactions) == 0 {
		return 0.5, nil
	}
	var sum float64
	for _, o := range s.reactions {
		sum += o.score
	}
	return sum / float64(len(s.reactions)), nil
}

func scoreText(text string) (float64, bool) {
	var pos, neg int
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'")
		if positiveWords[word] {
			pos++
		}
		if negativeWords[word] {
			neg++
		}
	}
	if pos+neg == 0 {
		return 0, false
	}
	return float64(pos-neg) / float64(pos+neg), true
}

func prune(obs []observation, cutoff time.Time) []observation {
	kept := obs[:0]
	for _, o := range obs {
		if o.at.After(cutoff) {
			kept = append(kept, o)
		}
	}
	return kept
}
