package memory

import (
	"fmt"
	"time"
)

// RecordToolCall accumulates one dispatch outcome into the per-tool counters.
func (e *Engine) RecordToolCall(toolName string, ok bool, duration time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	success := 0
	failure := 0
	if ok {
		success = 1
	} else {
		failure = 1
	}

	_, err := e.db.Exec(`
		INSERT INTO tool_stats (tool_name, success_count, failure_count, call_count, total_duration_ms)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(tool_name) DO UPDATE SET
			success_count = success_count + excluded.success_count,
			failure_count = failure_count + excluded.failure_count,
			call_count = call_count + 1,
			total_duration_ms = total_duration_ms + excluded.total_duration_ms
	`, toolName, success, failure, duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("record tool call %q: %w", toolName, err)
	}
	return nil
}

// GetToolStat reads one tool's counters; unknown tools report zeroes.
func (e *Engine) GetToolStat(toolName string) (ToolStat, error) {
	row := e.db.QueryRow(`
		SELECT tool_name, success_count, failure_count, call_count, total_duration_ms
		FROM tool_stats WHERE tool_name = ?
	`, toolName)

	var stat ToolStat
	var totalMs int64
	if err := row.Scan(&stat.ToolName, &stat.SuccessCount, &stat.FailureCount, &stat.CallCount, &totalMs); err != nil {
		if isNoRows(err) {
			return ToolStat{ToolName: toolName}, nil
		}
		return ToolStat{}, fmt.Errorf("get tool stat %q: %w", toolName, err)
	}
	stat.TotalDuration = time.Duration(totalMs) * time.Millisecond
	return stat, nil
}

// GetToolStats lists counters for every tool that has been called.
func (e *Engine) GetToolStats() ([]ToolStat, error) {
	rows, err := e.db.Query(`
		SELECT tool_name, success_count, failure_count, call_count, total_duration_ms
		FROM tool_stats ORDER BY call_count DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("get tool stats: %w", err)
	}
	defer rows.Close()

	result := make([]ToolStat, 0)
	for rows.Next() {
		var stat ToolStat
		var totalMs int64
		if err := rows.Scan(&stat.ToolName, &stat.SuccessCount, &stat.FailureCount, &stat.CallCount, &totalMs); err != nil {
			return nil, fmt.Errorf("scan tool stat: %w", err)
		}
		stat.TotalDuration = time.Duration(totalMs) * time.Millisecond
		result = append(result, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tool stats: %w", err)
	}
	return result, nil
}
