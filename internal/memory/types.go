package memory

import "time"

// Scope partitions facts into per-user and general knowledge.
type Scope string

const (
	ScopeUser    Scope = "user"
	ScopeGeneral Scope = "general"
)

// Fact is a short, atomic piece of remembered information.
type Fact struct {
	ID        string
	Scope     Scope
	SubjectID string
	Text      string
	CreatedAt string
}

// AddFactResult reports what AddFact did.
type AddFactResult int

const (
	FactAdded AddFactResult = iota
	FactDuplicate
	FactEvicted
)

func (r AddFactResult) String() string {
	switch r {
	case FactAdded:
		return "added"
	case FactDuplicate:
		return "duplicate"
	case FactEvicted:
		return "evicted_and_added"
	}
	return "unknown"
}

// Interest is a decaying [0,1] affinity score for a topic.
type Interest struct {
	Topic       string
	Level       float64
	LastUpdated string
}

// GoalStatus follows pending -> active -> {completed, failed}.
type GoalStatus string

const (
	GoalPending   GoalStatus = "pending"
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalFailed    GoalStatus = "failed"
)

// Step is one unit of a goal plan. A step without a tool name is satisfied
// automatically during execution.
type Step struct {
	Description string         `json:"description"`
	ToolName    string         `json:"tool_name,omitempty"`
	ToolArgs    map[string]any `json:"tool_args,omitempty"`
}

// Goal is a unit of autonomous work with a persisted step plan.
type Goal struct {
	ID          string
	Description string
	Status      GoalStatus
	Priority    int
	Plan        []Step
	CurrentStep int
	Reason      string
	ChatID      string
	UserID      string
	CreatedAt   string
}

// GoalPatch is a partial update; nil fields are left untouched.
type GoalPatch struct {
	Status      *GoalStatus
	Plan        *[]Step
	CurrentStep *int
	Reason      *string
}

// ActionLogEntry records one autonomous decision, acted on or not.
type ActionLogEntry struct {
	ID            int64
	ToolName      string
	Arguments     string
	Reasoning     string
	ResultSummary string
	CreatedAt     string
}

// ToolStat accumulates per-tool dispatch outcomes.
type ToolStat struct {
	ToolName      string
	SuccessCount  int64
	FailureCount  int64
	CallCount     int64
	TotalDuration time.Duration
}

// SuccessRate returns successes over calls, or 0 with no calls.
func (s ToolStat) SuccessRate() float64 {
	if s.CallCount == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.CallCount)
}

// EmbeddingRecord is one entry in the semantic index. Records are only ever
// inserted, never mutated.
type EmbeddingRecord struct {
	ID        int64
	RefID     string
	Text      string
	Vector    []float32
	Scope     Scope
	SubjectID string
	CreatedAt string
}

// SemanticMatch pairs a record with a normalized [0,1] similarity.
type SemanticMatch struct {
	Record     EmbeddingRecord
	Similarity float64
}

// SemanticFilter restricts a semantic search to a scope and/or subject.
type SemanticFilter struct {
	Scope     Scope
	SubjectID string
}
