package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrGoalNotFound is returned for operations on unknown goal ids.
var ErrGoalNotFound = fmt.Errorf("goal not found")

// GoalOrigin carries the optional conversation context a goal came from, so
// progress can be reported back where the goal was raised.
type GoalOrigin struct {
	ChatID string
	UserID string
}

// AddGoal persists a new pending goal and returns its id.
func (e *Engine) AddGoal(description string, priority int, origin GoalOrigin) (string, error) {
	desc := strings.TrimSpace(description)
	if desc == "" {
		return "", fmt.Errorf("add goal: empty description")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id := uuid.NewString()
	_, err := e.db.Exec(`
		INSERT INTO goals (id, description, status, priority, chat_id, user_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, desc, GoalPending, priority, origin.ChatID, origin.UserID)
	if err != nil {
		return "", fmt.Errorf("add goal: %w", err)
	}
	return id, nil
}

// GetGoal fetches a single goal by id.
func (e *Engine) GetGoal(id string) (*Goal, error) {
	row := e.db.QueryRow(`
		SELECT id, description, status, priority, plan, current_step, reason, chat_id, user_id, created_at
		FROM goals WHERE id = ?
	`, id)
	goal, err := scanGoal(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrGoalNotFound
		}
		return nil, fmt.Errorf("get goal: %w", err)
	}
	return goal, nil
}

// GetGoals lists goals, optionally filtered by status, highest priority and
// oldest first so long-waiting work is picked up before newer work.
func (e *Engine) GetGoals(status GoalStatus, limit int) ([]Goal, error) {
	if limit <= 0 {
		limit = 10
	}

	q := `
		SELECT id, description, status, priority, plan, current_step, reason, chat_id, user_id, created_at
		FROM goals
	`
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY priority DESC, created_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := e.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("get goals: %w", err)
	}
	defer rows.Close()

	result := make([]Goal, 0)
	for rows.Next() {
		goal, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		result = append(result, *goal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate goals: %w", err)
	}
	return result, nil
}

// UpdateGoal applies a partial patch. Status transitions are validated:
// pending -> active|failed, active -> active|completed|failed, terminal
// states are final. The step index never decreases.
func (e *Engine) UpdateGoal(id string, patch GoalPatch) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.Begin()
	if err != nil {
		return fmt.Errorf("update goal: begin: %w", err)
	}
	defer tx.Rollback()

	var current GoalStatus
	var currentStep int
	err = tx.QueryRow(`SELECT status, current_step FROM goals WHERE id = ?`, id).Scan(&current, &currentStep)
	if err != nil {
		if isNoRows(err) {
			return ErrGoalNotFound
		}
		return fmt.Errorf("update goal: read: %w", err)
	}

	sets := []string{`updated_at = datetime('now')`}
	args := []any{}

	if patch.Status != nil {
		if !validTransition(current, *patch.Status) {
			return fmt.Errorf("update goal: invalid transition %s -> %s", current, *patch.Status)
		}
		sets = append(sets, `status = ?`)
		args = append(args, *patch.Status)
	}
	if patch.Plan != nil {
		encoded, err := json.Marshal(*patch.Plan)
		if err != nil {
			return fmt.Errorf("update goal: encode plan: %w", err)
		}
		sets = append(sets, `plan = ?`)
		args = append(args, string(encoded))
	}
	if patch.CurrentStep != nil {
		if *patch.CurrentStep < currentStep {
			return fmt.Errorf("update goal: step index would decrease (%d -> %d)", currentStep, *patch.CurrentStep)
		}
		sets = append(sets, `current_step = ?`)
		args = append(args, *patch.CurrentStep)
	}
	if patch.Reason != nil {
		sets = append(sets, `reason = ?`)
		args = append(args, *patch.Reason)
	}

	args = append(args, id)
	if _, err := tx.Exec(`UPDATE goals SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		return fmt.Errorf("update goal: %w", err)
	}
	return tx.Commit()
}

func validTransition(from, to GoalStatus) bool {
	if from == to {
		return from == GoalActive || from == GoalPending
	}
	switch from {
	case GoalPending:
		return to == GoalActive || to == GoalFailed
	case GoalActive:
		return to == GoalCompleted || to == GoalFailed
	}
	return false
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGoal(row rowScanner) (*Goal, error) {
	var g Goal
	var plan string
	if err := row.Scan(&g.ID, &g.Description, &g.Status, &g.Priority, &plan,
		&g.CurrentStep, &g.Reason, &g.ChatID, &g.UserID, &g.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(plan), &g.Plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &g, nil
}

var _ rowScanner = (*sql.Row)(nil)
var _ rowScanner = (*sql.Rows)(nil)
