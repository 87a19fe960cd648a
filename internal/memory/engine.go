package memory

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// Engine owns every persisted entity of the agent core. All other components
// go through its operations; each operation is internally atomic.
type Engine struct {
	db *sql.DB
	mu sync.Mutex

	userFactCap    int
	generalFactCap int

	embedMu        sync.RWMutex
	embedder       Embedder
	embedTimeoutMs int
}

// Caps configures per-scope fact limits.
type Caps struct {
	UserFacts    int
	GeneralFacts int
}

func NewEngine(dbPath string, caps Caps) (*Engine, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if caps.UserFacts <= 0 {
		caps.UserFacts = 200
	}
	if caps.GeneralFacts <= 0 {
		caps.GeneralFacts = 500
	}

	e := &Engine{db: db, userFactCap: caps.UserFacts, generalFactCap: caps.GeneralFacts}
	if err := e.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := e.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := e.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

func (e *Engine) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS facts (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			scope TEXT NOT NULL,
			subject_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			normalized TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_facts_dedup ON facts(scope, subject_id, normalized)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_order ON facts(scope, subject_id, seq)`,
		`CREATE TABLE IF NOT EXISTS traits (
			name TEXT PRIMARY KEY,
			value REAL NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS interests (
			topic TEXT PRIMARY KEY,
			level REAL NOT NULL,
			last_updated TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS goals (
			id TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			priority INTEGER NOT NULL DEFAULT 0,
			plan TEXT NOT NULL DEFAULT '[]',
			current_step INTEGER NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			chat_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_goals_status ON goals(status, priority DESC, created_at)`,
		`CREATE TABLE IF NOT EXISTS action_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tool_name TEXT NOT NULL DEFAULT '',
			arguments TEXT NOT NULL DEFAULT '',
			reasoning TEXT NOT NULL DEFAULT '',
			result_summary TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS tool_stats (
			tool_name TEXT PRIMARY KEY,
			success_count INTEGER NOT NULL DEFAULT 0,
			failure_count INTEGER NOT NULL DEFAULT 0,
			call_count INTEGER NOT NULL DEFAULT 0,
			total_duration_ms INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS embeddings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ref_id TEXT NOT NULL,
			content TEXT NOT NULL,
			vector BLOB NOT NULL,
			dim INTEGER NOT NULL,
			scope TEXT NOT NULL DEFAULT '',
			subject_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_embeddings_ref ON embeddings(ref_id)`,
		`CREATE INDEX IF NOT EXISTS idx_embeddings_scope ON embeddings(scope, subject_id)`,
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := e.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (e *Engine) capFor(scope Scope) int {
	if scope == ScopeUser {
		return e.userFactCap
	}
	return e.generalFactCap
}

func (e *Engine) getMeta(key string) (string, error) {
	row := e.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("get meta %q: %w", key, err)
	}
	return value, nil
}

func (e *Engine) setMeta(key, value string) error {
	_, err := e.db.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set meta %q: %w", key, err)
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = "?"
	}
	return strings.Join(parts, ",")
}
