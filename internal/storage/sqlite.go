package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"socialsim/internal/agent"
	logx "socialsim/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	// mu keeps audit batches contiguous.
	mu sync.Mutex
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	ctx := context.Background()
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	// An agents file seeds the table; existing rows are updated in place.
	if p := strings.TrimSpace(cfg.AgentsPath); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("read agents: %w", err)
		}
		agents, err := decodeAgents(b)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if err := st.UpsertAgents(ctx, agents); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("agents seeded", logx.Int("count", len(agents)), logx.String("from", p))
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertAgents inserts or replaces agents by id.
func (s *sqliteStore) UpsertAgents(ctx context.Context, agents []agent.Agent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, a := range agents {
		if strings.TrimSpace(a.ID) == "" {
			continue
		}
		var profile any
		if len(a.Profile) > 0 {
			b, err := json.Marshal(a.Profile)
			if err != nil {
				return fmt.Errorf("agent %s profile: %w", a.ID, err)
			}
			profile = string(b)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agents(id, name, email, machine_id, profile) VALUES(?,?,?,?,?)
			 ON CONFLICT(id) DO UPDATE SET name=excluded.name, email=excluded.email,
			   machine_id=excluded.machine_id, profile=excluded.profile`,
			a.ID, a.Name, a.Email, nullStr(a.MachineID), profile,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) ListAgents(ctx context.Context) ([]agent.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, email, machine_id, profile FROM agents ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []agent.Agent
	for rows.Next() {
		var (
			a         agent.Agent
			machineID sql.NullString
			profile   sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Email, &machineID, &profile); err != nil {
			return nil, err
		}
		a.MachineID = machineID.String
		if profile.Valid && profile.String != "" {
			if err := json.Unmarshal([]byte(profile.String), &a.Profile); err != nil {
				s.log.Warn("agent profile unreadable", logx.String("agent", a.ID), logx.Err(err))
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendPosts(ctx context.Context, posts []Post) error {
	if len(posts) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, p := range posts {
		at := p.At
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO posts(at, agent_id, content) VALUES(?,?,?)`,
			at.UTC().Format(time.RFC3339Nano), p.AgentID, p.Content,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CountPosts returns the number of audit rows for agentID, or all rows when empty.
func (s *sqliteStore) CountPosts(ctx context.Context, agentID string) (int, error) {
	q := `SELECT COUNT(*) FROM posts`
	var args []any
	if agentID != "" {
		q += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	var n int
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&n)
	return n, err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
