package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// AddFact stores a fact, rejecting duplicates (case/whitespace-normalized)
// within the same scope and subject. When the scope/subject partition is at
// capacity, the oldest fact is evicted first.
func (e *Engine) AddFact(scope Scope, subjectID, text string) (AddFactResult, error) {
	content := strings.TrimSpace(text)
	if content == "" {
		return FactAdded, fmt.Errorf("add fact: empty text")
	}
	normalized := NormalizeFactText(content)

	e.mu.Lock()
	result, factID, evictedRef, err := e.insertFactLocked(scope, subjectID, content, normalized)
	e.mu.Unlock()
	if err != nil {
		return result, err
	}
	if result == FactDuplicate {
		return result, nil
	}

	if evictedRef != "" {
		if err := e.deleteEmbeddings(evictedRef); err != nil {
			log.Printf("[memory] drop evicted embedding: %v", err)
		}
	}

	// Semantic indexing is best-effort; a failed embed never loses the fact.
	if err := e.indexFact(factID, content, scope, subjectID); err != nil {
		log.Printf("[memory] index fact: %v", err)
	}

	return result, nil
}

func (e *Engine) insertFactLocked(scope Scope, subjectID, content, normalized string) (AddFactResult, string, string, error) {
	tx, err := e.db.Begin()
	if err != nil {
		return FactAdded, "", "", fmt.Errorf("add fact: begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow(`
		SELECT 1 FROM facts WHERE scope = ? AND subject_id = ? AND normalized = ?
	`, scope, subjectID, normalized).Scan(&exists)
	if err == nil {
		return FactDuplicate, "", "", nil
	}
	if err != sql.ErrNoRows {
		return FactAdded, "", "", fmt.Errorf("add fact: dedup check: %w", err)
	}

	var count int
	if err := tx.QueryRow(`
		SELECT COUNT(*) FROM facts WHERE scope = ? AND subject_id = ?
	`, scope, subjectID).Scan(&count); err != nil {
		return FactAdded, "", "", fmt.Errorf("add fact: count: %w", err)
	}

	result := FactAdded
	evictedRef := ""
	if count >= e.capFor(scope) {
		// FIFO eviction: the oldest insertion goes first.
		err := tx.QueryRow(`
			SELECT id FROM facts WHERE scope = ? AND subject_id = ?
			ORDER BY seq ASC LIMIT 1
		`, scope, subjectID).Scan(&evictedRef)
		if err != nil {
			return FactAdded, "", "", fmt.Errorf("add fact: pick eviction: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM facts WHERE id = ?`, evictedRef); err != nil {
			return FactAdded, "", "", fmt.Errorf("add fact: evict: %w", err)
		}
		result = FactEvicted
	}

	factID := uuid.NewString()
	if _, err := tx.Exec(`
		INSERT INTO facts (id, scope, subject_id, content, normalized)
		VALUES (?, ?, ?, ?, ?)
	`, factID, scope, subjectID, content, normalized); err != nil {
		return FactAdded, "", "", fmt.Errorf("add fact: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return FactAdded, "", "", fmt.Errorf("add fact: commit: %w", err)
	}
	return result, factID, evictedRef, nil
}

// GetFacts returns facts most-recent-first. With a query and a configured
// embedder, the most recent entries are blended with the semantically closest
// ones, deduplicated with recent entries winning ties.
func (e *Engine) GetFacts(scope Scope, subjectID, queryText string, limit int) ([]Fact, error) {
	if limit <= 0 {
		limit = 20
	}

	recent, err := e.recentFacts(scope, subjectID, limit)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(queryText) == "" || e.embedderSnapshot() == nil {
		return recent, nil
	}

	matches, err := e.SearchSemantic(queryText, limit, &SemanticFilter{Scope: scope, SubjectID: subjectID})
	if err != nil {
		// Semantic recall is an enrichment; recency still answers.
		log.Printf("[memory] semantic recall: %v", err)
		return recent, nil
	}

	// Half the slots are reserved for semantic hits so a full partition
	// cannot crowd them out; slots the semantic side leaves unused are
	// backfilled with more recent entries.
	semanticQuota := limit / 2
	if semanticQuota == 0 {
		semanticQuota = 1
	}
	recentQuota := limit - semanticQuota

	seen := make(map[string]bool, len(recent))
	blended := make([]Fact, 0, limit)
	for _, f := range recent {
		if len(blended) >= recentQuota {
			break
		}
		if !seen[f.ID] {
			seen[f.ID] = true
			blended = append(blended, f)
		}
	}
	for _, m := range matches {
		if len(blended) >= limit {
			break
		}
		if seen[m.Record.RefID] {
			continue
		}
		f, err := e.getFact(m.Record.RefID)
		if err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return nil, err
		}
		seen[f.ID] = true
		blended = append(blended, f)
	}
	for _, f := range recent {
		if len(blended) >= limit {
			break
		}
		if !seen[f.ID] {
			seen[f.ID] = true
			blended = append(blended, f)
		}
	}
	return blended, nil
}

func (e *Engine) recentFacts(scope Scope, subjectID string, limit int) ([]Fact, error) {
	rows, err := e.db.Query(`
		SELECT id, scope, subject_id, content, created_at
		FROM facts
		WHERE scope = ? AND subject_id = ?
		ORDER BY seq DESC LIMIT ?
	`, scope, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	defer rows.Close()
	return scanFacts(rows)
}

func (e *Engine) getFact(id string) (Fact, error) {
	var f Fact
	err := e.db.QueryRow(`
		SELECT id, scope, subject_id, content, created_at FROM facts WHERE id = ?
	`, id).Scan(&f.ID, &f.Scope, &f.SubjectID, &f.Text, &f.CreatedAt)
	return f, err
}

// DeleteFact removes a fact and its embedding. Used by maintenance jobs that
// merge near-duplicate facts.
func (e *Engine) DeleteFact(id string) error {
	e.mu.Lock()
	res, err := e.db.Exec(`DELETE FROM facts WHERE id = ?`, id)
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("delete fact: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil
	}
	if err := e.deleteEmbeddings(id); err != nil {
		return fmt.Errorf("delete fact embedding: %w", err)
	}
	return nil
}

// CountFacts reports how many facts a scope/subject partition holds.
func (e *Engine) CountFacts(scope Scope, subjectID string) (int, error) {
	var count int
	err := e.db.QueryRow(`
		SELECT COUNT(*) FROM facts WHERE scope = ? AND subject_id = ?
	`, scope, subjectID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count facts: %w", err)
	}
	return count, nil
}

func (e *Engine) indexFact(factID, content string, scope Scope, subjectID string) error {
	embedder := e.embedderSnapshot()
	if embedder == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.embedTimeout())
	defer cancel()
	vector, err := embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed fact: %w", err)
	}
	return e.insertEmbedding(factID, content, vector, scope, subjectID)
}

func (e *Engine) embedTimeout() time.Duration {
	ms := e.embedTimeoutMs
	if ms <= 0 {
		ms = 10000
	}
	return time.Duration(ms) * time.Millisecond
}

func scanFacts(rows *sql.Rows) ([]Fact, error) {
	result := make([]Fact, 0)
	for rows.Next() {
		var f Fact
		if err := rows.Scan(&f.ID, &f.Scope, &f.SubjectID, &f.Text, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}
	return result, nil
}

// NormalizeFactText lowercases, collapses whitespace, and strips trailing
// punctuation so near-identical phrasings dedup to the same key.
func NormalizeFactText(text string) string {
	lowered := strings.ToLower(strings.TrimSpace(text))
	fields := strings.Fields(lowered)
	joined := strings.Join(fields, " ")
	return strings.TrimRightFunc(joined, func(r rune) bool {
		return unicode.IsPunct(r)
	})
}
