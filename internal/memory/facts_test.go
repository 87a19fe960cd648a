package memory

import (
	"fmt"
	"testing"
)

func TestAddFact_Duplicate(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.AddFact(ScopeUser, "u1", "likes pizza")
	if err != nil {
		t.Fatalf("AddFact error: %v", err)
	}
	if result != FactAdded {
		t.Fatalf("first add = %v, want %v", result, FactAdded)
	}

	// Same normalized text must dedup, across case/whitespace/punctuation.
	for _, variant := range []string{"likes pizza", "Likes  Pizza", "  likes pizza.  "} {
		result, err := e.AddFact(ScopeUser, "u1", variant)
		if err != nil {
			t.Fatalf("AddFact(%q) error: %v", variant, err)
		}
		if result != FactDuplicate {
			t.Errorf("AddFact(%q) = %v, want %v", variant, result, FactDuplicate)
		}
	}

	count, err := e.CountFacts(ScopeUser, "u1")
	if err != nil {
		t.Fatalf("CountFacts error: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestAddFact_ScopeIsolation(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.AddFact(ScopeUser, "u1", "likes pizza"); err != nil {
		t.Fatalf("AddFact u1 error: %v", err)
	}

	// Same text for another subject or scope is a distinct fact.
	if result, _ := e.AddFact(ScopeUser, "u2", "likes pizza"); result != FactAdded {
		t.Errorf("u2 add = %v, want %v", result, FactAdded)
	}
	if result, _ := e.AddFact(ScopeGeneral, "", "likes pizza"); result != FactAdded {
		t.Errorf("general add = %v, want %v", result, FactAdded)
	}
}

func TestAddFact_CapEvictsOldest(t *testing.T) {
	e := newTestEngine(t) // cap 5 per scope/subject

	for i := 0; i < 5; i++ {
		if _, err := e.AddFact(ScopeUser, "u1", fmt.Sprintf("fact number %d", i)); err != nil {
			t.Fatalf("AddFact %d error: %v", i, err)
		}
	}

	result, err := e.AddFact(ScopeUser, "u1", "fact number 5")
	if err != nil {
		t.Fatalf("AddFact over cap error: %v", err)
	}
	if result != FactEvicted {
		t.Fatalf("over-cap add = %v, want %v", result, FactEvicted)
	}

	count, err := e.CountFacts(ScopeUser, "u1")
	if err != nil {
		t.Fatalf("CountFacts error: %v", err)
	}
	if count != 5 {
		t.Fatalf("count after eviction = %d, want 5", count)
	}

	// FIFO: the first-inserted fact is the one gone.
	facts, err := e.GetFacts(ScopeUser, "u1", "", 10)
	if err != nil {
		t.Fatalf("GetFacts error: %v", err)
	}
	for _, f := range facts {
		if f.Text == "fact number 0" {
			t.Fatalf("oldest fact survived eviction")
		}
	}
	if facts[0].Text != "fact number 5" {
		t.Errorf("most recent = %q, want fact number 5", facts[0].Text)
	}
}

func TestGetFacts_RecentOnly(t *testing.T) {
	e := newTestEngine(t)

	for i := 0; i < 4; i++ {
		if _, err := e.AddFact(ScopeGeneral, "", fmt.Sprintf("general fact %d", i)); err != nil {
			t.Fatalf("AddFact error: %v", err)
		}
	}

	facts, err := e.GetFacts(ScopeGeneral, "", "", 2)
	if err != nil {
		t.Fatalf("GetFacts error: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("len = %d, want 2", len(facts))
	}
	if facts[0].Text != "general fact 3" || facts[1].Text != "general fact 2" {
		t.Errorf("order = %q, %q; want most-recent-first", facts[0].Text, facts[1].Text)
	}
}

func TestGetFacts_SemanticBlend(t *testing.T) {
	e := newTestEngine(t)
	e.SetEmbedder(&stubEmbedder{vectors: map[string][]float32{
		"plays chess on sundays": {0, 1, 0},
		"owns a red bicycle":     {1, 0, 0},
		"enjoys board games":     {0, 0.9, 0.1},
		"board games":            {0, 1, 0},
	}}, 1000)

	for _, text := range []string{"plays chess on sundays", "owns a red bicycle", "enjoys board games"} {
		if _, err := e.AddFact(ScopeUser, "u1", text); err != nil {
			t.Fatalf("AddFact %q error: %v", text, err)
		}
	}

	facts, err := e.GetFacts(ScopeUser, "u1", "board games", 2)
	if err != nil {
		t.Fatalf("GetFacts error: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("len = %d, want 2", len(facts))
	}
	// Recent entries lead; no duplicates even though the semantic side also
	// matches them.
	seen := map[string]bool{}
	for _, f := range facts {
		if seen[f.ID] {
			t.Fatalf("duplicate fact %q in blend", f.Text)
		}
		seen[f.ID] = true
	}
}

func TestGetFacts_SemanticMatchSurvivesFullPartition(t *testing.T) {
	e := newTestEngine(t)
	e.SetEmbedder(&stubEmbedder{vectors: map[string][]float32{
		"likes chess":    {0, 1, 0},
		"chess openings": {0, 1, 0},
	}}, 1000)

	// The relevant fact is the oldest; three newer unrelated facts follow,
	// enough to fill the requested limit on recency alone.
	texts := []string{"likes chess", "waters plants daily", "owns a red bicycle", "prefers tea"}
	for _, text := range texts {
		if _, err := e.AddFact(ScopeUser, "u1", text); err != nil {
			t.Fatalf("AddFact %q error: %v", text, err)
		}
	}

	facts, err := e.GetFacts(ScopeUser, "u1", "chess openings", 3)
	if err != nil {
		t.Fatalf("GetFacts error: %v", err)
	}
	if len(facts) != 3 {
		t.Fatalf("len = %d, want 3", len(facts))
	}
	found := false
	for _, f := range facts {
		if f.Text == "likes chess" {
			found = true
		}
	}
	if !found {
		t.Fatalf("semantic match crowded out by recent entries: %+v", facts)
	}
	// Recency still leads the result.
	if facts[0].Text != "prefers tea" {
		t.Errorf("first entry = %q, want most recent", facts[0].Text)
	}
}

func TestGetFacts_EmbedderFailureFallsBack(t *testing.T) {
	e := newTestEngine(t)
	e.SetEmbedder(&stubEmbedder{fail: true}, 1000)

	if _, err := e.AddFact(ScopeUser, "u1", "still stored without index"); err != nil {
		t.Fatalf("AddFact with failing embedder error: %v", err)
	}

	facts, err := e.GetFacts(ScopeUser, "u1", "anything", 5)
	if err != nil {
		t.Fatalf("GetFacts error: %v", err)
	}
	if len(facts) != 1 || facts[0].Text != "still stored without index" {
		t.Fatalf("facts = %+v, want the stored fact", facts)
	}
}

func TestDeleteFact(t *testing.T) {
	e := newTestEngine(t)
	e.SetEmbedder(&stubEmbedder{vectors: map[string][]float32{
		"the sky is blue": {0, 1, 0},
	}}, 1000)

	if _, err := e.AddFact(ScopeGeneral, "", "the sky is blue"); err != nil {
		t.Fatalf("AddFact error: %v", err)
	}
	facts, err := e.GetFacts(ScopeGeneral, "", "", 10)
	if err != nil || len(facts) != 1 {
		t.Fatalf("GetFacts = %v, %v", facts, err)
	}

	if err := e.DeleteFact(facts[0].ID); err != nil {
		t.Fatalf("DeleteFact error: %v", err)
	}

	count, err := e.CountFacts(ScopeGeneral, "")
	if err != nil {
		t.Fatalf("CountFacts error: %v", err)
	}
	if count != 0 {
		t.Fatalf("count after delete = %d, want 0", count)
	}

	var embeddings int
	if err := e.db.QueryRow(`SELECT COUNT(*) FROM embeddings WHERE ref_id = ?`, facts[0].ID).Scan(&embeddings); err != nil {
		t.Fatalf("count embeddings: %v", err)
	}
	if embeddings != 0 {
		t.Fatalf("embedding rows after delete = %d, want 0", embeddings)
	}

	// Deleting an unknown id is a no-op.
	if err := e.DeleteFact("no-such-id"); err != nil {
		t.Fatalf("DeleteFact unknown id error: %v", err)
	}
}

func TestNormalizeFactText(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Likes Pizza", "likes pizza"},
		{"  spaced   out   text ", "spaced out text"},
		{"ends with period.", "ends with period"},
		{"Multi!  Punct!!", "multi! punct"},
	}
	for _, tc := range cases {
		if got := NormalizeFactText(tc.in); got != tc.want {
			t.Errorf("NormalizeFactText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
