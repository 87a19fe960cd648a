package memory

import (
	"database/sql"
	"fmt"
)

// baselineTraits seed the personality on first run and answer reads for
// traits that were never explicitly set.
var baselineTraits = map[string]float64{
	"curiosity":  0.7,
	"optimism":   0.6,
	"empathy":    0.7,
	"mischief":   0.3,
	"chattiness": 0.5,
}

// BaselineTrait returns the seed value for a trait, 0.5 for unknown names.
func BaselineTrait(name string) float64 {
	if v, ok := baselineTraits[name]; ok {
		return v
	}
	return 0.5
}

// BaselineTraitNames lists every seeded trait.
func BaselineTraitNames() []string {
	names := make([]string, 0, len(baselineTraits))
	for name := range baselineTraits {
		names = append(names, name)
	}
	return names
}

// GetTrait reads a trait value, falling back to the baseline table.
func (e *Engine) GetTrait(name string) (float64, error) {
	row := e.db.QueryRow(`SELECT value FROM traits WHERE name = ?`, name)
	var value float64
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return BaselineTrait(name), nil
		}
		return 0, fmt.Errorf("get trait %q: %w", name, err)
	}
	return value, nil
}

// SetTrait clamps value to [0,1] and persists immediately.
func (e *Engine) SetTrait(name string, value float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.db.Exec(`
		INSERT INTO traits (name, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = datetime('now')
	`, name, clamp01(value))
	if err != nil {
		return fmt.Errorf("set trait %q: %w", name, err)
	}
	return nil
}

// GetTraits returns all baseline traits merged with persisted overrides.
func (e *Engine) GetTraits() (map[string]float64, error) {
	traits := make(map[string]float64, len(baselineTraits))
	for name, value := range baselineTraits {
		traits[name] = value
	}

	rows, err := e.db.Query(`SELECT name, value FROM traits`)
	if err != nil {
		return nil, fmt.Errorf("get traits: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var value float64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan trait: %w", err)
		}
		traits[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traits: %w", err)
	}
	return traits, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
