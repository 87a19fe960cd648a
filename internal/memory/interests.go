package memory

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	metaLastDecay = "interests_last_decay"

	// Interests decayed below this level are deleted rather than kept as
	// near-zero noise.
	interestFloor = 0.01
)

// UpdateInterest upserts a topic and adds delta, clamped to [0,1].
// Topics are normalized to lowercase.
func (e *Engine) UpdateInterest(topic string, delta float64) error {
	normalized := strings.ToLower(strings.TrimSpace(topic))
	if normalized == "" {
		return fmt.Errorf("update interest: empty topic")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// The raw delta is bound twice: excluded.level would be the clamped
	// insert value, which loses negative deltas on existing rows.
	_, err := e.db.Exec(`
		INSERT INTO interests (topic, level, last_updated)
		VALUES (?1, MAX(0, MIN(1, ?2)), datetime('now'))
		ON CONFLICT(topic) DO UPDATE SET
			level = MAX(0, MIN(1, level + ?2)),
			last_updated = datetime('now')
	`, normalized, delta)
	if err != nil {
		return fmt.Errorf("update interest %q: %w", normalized, err)
	}
	return nil
}

// GetInterest reads a topic's level; missing topics are 0.
func (e *Engine) GetInterest(topic string) (float64, error) {
	normalized := strings.ToLower(strings.TrimSpace(topic))
	row := e.db.QueryRow(`SELECT level FROM interests WHERE topic = ?`, normalized)
	var level float64
	if err := row.Scan(&level); err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("get interest %q: %w", normalized, err)
	}
	return level, nil
}

// ListInterests returns interests strongest-first.
func (e *Engine) ListInterests(limit int) ([]Interest, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := e.db.Query(`
		SELECT topic, level, last_updated FROM interests
		ORDER BY level DESC, topic ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list interests: %w", err)
	}
	defer rows.Close()

	result := make([]Interest, 0)
	for rows.Next() {
		var in Interest
		if err := rows.Scan(&in.Topic, &in.Level, &in.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan interest: %w", err)
		}
		result = append(result, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interests: %w", err)
	}
	return result, nil
}

// DecayInterests multiplies every interest level by rate, at most once per
// interval. Calls inside the window are no-ops and report applied=false.
func (e *Engine) DecayInterests(interval time.Duration, rate float64) (bool, error) {
	if rate <= 0 || rate >= 1 {
		return false, fmt.Errorf("decay interests: rate %v outside (0,1)", rate)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	last, err := e.lastDecayLocked()
	if err != nil {
		return false, err
	}
	if !last.IsZero() && now.Sub(last) < interval {
		return false, nil
	}

	tx, err := e.db.Begin()
	if err != nil {
		return false, fmt.Errorf("decay interests: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE interests SET level = level * ?, last_updated = datetime('now')`, rate); err != nil {
		return false, fmt.Errorf("decay interests: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM interests WHERE level < ?`, interestFloor); err != nil {
		return false, fmt.Errorf("decay interests: prune: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, metaLastDecay, strconv.FormatInt(now.Unix(), 10)); err != nil {
		return false, fmt.Errorf("decay interests: watermark: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("decay interests: commit: %w", err)
	}
	return true, nil
}

func (e *Engine) lastDecayLocked() (time.Time, error) {
	value, err := e.getMeta(metaLastDecay)
	if err != nil {
		return time.Time{}, err
	}
	if value == "" {
		return time.Time{}, nil
	}
	unix, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse decay watermark: %w", err)
	}
	return time.Unix(unix, 0), nil
}
