package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// SetEmbedder wires the semantic index. Without one, semantic search returns
// an error and fact writes skip indexing.
func (e *Engine) SetEmbedder(embedder Embedder, timeoutMs int) {
	e.embedMu.Lock()
	defer e.embedMu.Unlock()
	e.embedder = embedder
	e.embedTimeoutMs = timeoutMs
}

func (e *Engine) embedderSnapshot() Embedder {
	e.embedMu.RLock()
	defer e.embedMu.RUnlock()
	return e.embedder
}

// IndexText inserts a free-text entry into the semantic index under refID.
func (e *Engine) IndexText(refID, text string, scope Scope, subjectID string) error {
	embedder := e.embedderSnapshot()
	if embedder == nil {
		return fmt.Errorf("index text: no embedder configured")
	}
	content := strings.TrimSpace(text)
	if content == "" {
		return fmt.Errorf("index text: empty text")
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.embedTimeout())
	defer cancel()
	vector, err := embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("index text: %w", err)
	}
	return e.insertEmbedding(refID, content, vector, scope, subjectID)
}

func (e *Engine) insertEmbedding(refID, content string, vector []float32, scope Scope, subjectID string) error {
	blob, err := encodeVector(vector)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.db.Exec(`
		INSERT INTO embeddings (ref_id, content, vector, dim, scope, subject_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, refID, content, blob, len(vector), scope, subjectID)
	if err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	return nil
}

func (e *Engine) deleteEmbeddings(refID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.db.Exec(`DELETE FROM embeddings WHERE ref_id = ?`, refID); err != nil {
		return fmt.Errorf("delete embeddings %q: %w", refID, err)
	}
	return nil
}

// SearchSemantic runs nearest-neighbor recall over the index. Similarity is
// normalized to [0,1], higher is more similar. The scan is brute-force over
// the filtered candidate set, which stays small under the fact caps.
func (e *Engine) SearchSemantic(queryText string, k int, filter *SemanticFilter) ([]SemanticMatch, error) {
	embedder := e.embedderSnapshot()
	if embedder == nil {
		return nil, fmt.Errorf("search semantic: no embedder configured")
	}
	query := strings.TrimSpace(queryText)
	if query == "" {
		return nil, fmt.Errorf("search semantic: empty query")
	}
	if k <= 0 {
		k = 10
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.embedTimeout())
	defer cancel()
	queryVec, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search semantic: embed query: %w", err)
	}

	q := `SELECT id, ref_id, content, vector, scope, subject_id, created_at FROM embeddings`
	args := []any{}
	if filter != nil {
		clauses := []string{}
		if filter.Scope != "" {
			clauses = append(clauses, `scope = ?`)
			args = append(args, filter.Scope)
		}
		if filter.SubjectID != "" {
			clauses = append(clauses, `subject_id = ?`)
			args = append(args, filter.SubjectID)
		}
		if len(clauses) > 0 {
			q += ` WHERE ` + strings.Join(clauses, " AND ")
		}
	}

	rows, err := e.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("search semantic: %w", err)
	}
	defer rows.Close()

	matches := make([]SemanticMatch, 0)
	for rows.Next() {
		var rec EmbeddingRecord
		var blob []byte
		if err := rows.Scan(&rec.ID, &rec.RefID, &rec.Text, &blob, &rec.Scope, &rec.SubjectID, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("search semantic: scan: %w", err)
		}
		vector, err := decodeVector(blob)
		if err != nil {
			// A corrupt row should not sink the whole search.
			continue
		}
		cos, err := cosineSimilarity(queryVec, vector)
		if err != nil {
			continue
		}
		rec.Vector = vector
		matches = append(matches, SemanticMatch{Record: rec, Similarity: normalizeSimilarity(cos)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search semantic: iterate: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity == matches[j].Similarity {
			// Recent-first tie-break.
			return matches[i].Record.ID > matches[j].Record.ID
		}
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}
