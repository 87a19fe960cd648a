// Package persona drifts personality traits toward targets derived from
// observed signals. This is a best-effort heuristic layer: each update is
// small, clamped, and explainable from the inputs read at computation time.
package persona

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/cobaltfox/aria/internal/memory"
)

// SignalSource summarizes recent conversation feedback. Implementations
// aggregate upstream (channel layer); the evolver never parses raw messages.
type SignalSource interface {
	// SentimentBalance reports average sentiment in [-1, 1] over the
	// lookback window. 0 means neutral or no data.
	SentimentBalance(ctx context.Context) (float64, error)
	// ReactionRatio reports the positive share of reactions to the agent's
	// own messages in [0, 1]. 0.5 means mixed or no data.
	ReactionRatio(ctx context.Context) (float64, error)
}

// Evolver nudges traits toward signal-derived targets with exponential
// smoothing: new = old*(1-alpha) + target*alpha.
type Evolver struct {
	memory  *memory.Engine
	signals SignalSource
	alpha   float64
	epsilon float64
}

func NewEvolver(mem *memory.Engine, signals SignalSource, alpha, epsilon float64) *Evolver {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.02
	}
	if epsilon <= 0 {
		epsilon = 0.001
	}
	return &Evolver{memory: mem, signals: signals, alpha: alpha, epsilon: epsilon}
}

// Tick computes targets from current signals and applies one smoothing step
// to each covered trait. Traits without a rule this cycle are untouched.
func (e *Evolver) Tick(ctx context.Context) error {
	sentiment, reactions, err := e.readSignals(ctx)
	if err != nil {
		return err
	}
	successRate, err := e.overallToolSuccess()
	if err != nil {
		return fmt.Errorf("read tool stats: %w", err)
	}
	shellRate, err := e.toolSuccess("run_shell")
	if err != nil {
		return fmt.Errorf("read shell stats: %w", err)
	}

	targets := map[string]float64{
		// Optimism follows how conversations have been feeling.
		"optimism": (sentiment + 1) / 2,
		// Chattiness follows whether the agent's messages land well.
		"chattiness": reactions,
		// Curiosity grows when tool use keeps working out.
		"curiosity": successRate,
		// Mischief follows the shell tool's success blended with reactions.
		"mischief": (shellRate + reactions) / 2,
	}

	for name, target := range targets {
		if err := e.applyTarget(name, target); err != nil {
			return err
		}
	}
	return nil
}

func (e *Evolver) applyTarget(name string, target float64) error {
	old, err := e.memory.GetTrait(name)
	if err != nil {
		return fmt.Errorf("read trait %s: %w", name, err)
	}
	next := old*(1-e.alpha) + target*e.alpha
	if math.Abs(next-old) < e.epsilon {
		return nil
	}
	if err := e.memory.SetTrait(name, next); err != nil {
		return fmt.Errorf("write trait %s: %w", name, err)
	}
	log.Printf("[persona] %s %.3f -> %.3f (target %.2f)", name, old, next, target)
	return nil
}

func (e *Evolver) readSignals(ctx context.Context) (sentiment, reactions float64, err error) {
	sentiment, reactions = 0, 0.5
	if e.signals == nil {
		return sentiment, reactions, nil
	}
	s, err := e.signals.SentimentBalance(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("read sentiment: %w", err)
	}
	r, err := e.signals.ReactionRatio(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("read reactions: %w", err)
	}
	return clampRange(s, -1, 1), clampRange(r, 0, 1), nil
}

// overallToolSuccess aggregates across all tools; no calls yet reads as a
// neutral 0.5 so a fresh install does not drag curiosity down.
func (e *Evolver) overallToolSuccess() (float64, error) {
	stats, err := e.memory.GetToolStats()
	if err != nil {
		return 0, err
	}
	var success, total int64
	for _, s := range stats {
		success += s.SuccessCount
		total += s.CallCount
	}
	if total == 0 {
		return 0.5, nil
	}
	return float64(success) / float64(total), nil
}

func (e *Evolver) toolSuccess(name string) (float64, error) {
	stat, err := e.memory.GetToolStat(name)
	if err != nil {
		return 0, err
	}
	if stat.CallCount == 0 {
		return 0.5, nil
	}
	return stat.SuccessRate(), nil
}

func clampRange(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
