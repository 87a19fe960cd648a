package memory

import "fmt"

// AddActionLog appends one autonomous-action record. The log is append-only
// and feeds later decision prompts.
func (e *Engine) AddActionLog(entry ActionLogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.db.Exec(`
		INSERT INTO action_log (tool_name, arguments, reasoning, result_summary)
		VALUES (?, ?, ?, ?)
	`, entry.ToolName, entry.Arguments, entry.Reasoning, entry.ResultSummary)
	if err != nil {
		return fmt.Errorf("add action log: %w", err)
	}
	return nil
}

// GetActionLogs returns entries most-recent-first.
func (e *Engine) GetActionLogs(limit int) ([]ActionLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := e.db.Query(`
		SELECT id, tool_name, arguments, reasoning, result_summary, created_at
		FROM action_log
		ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("get action logs: %w", err)
	}
	defer rows.Close()

	result := make([]ActionLogEntry, 0)
	for rows.Next() {
		var entry ActionLogEntry
		if err := rows.Scan(&entry.ID, &entry.ToolName, &entry.Arguments,
			&entry.Reasoning, &entry.ResultSummary, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan action log: %w", err)
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action logs: %w", err)
	}
	return result, nil
}
