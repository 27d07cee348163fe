package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"socialsim/internal/agent"
	logx "socialsim/pkg/logx"

	"go.yaml.in/yaml/v3"
)

// fileStore keeps agents in a YAML/JSON list and appends posts to a CSV file.
//
// Files:
//   - <agents_path>        (list of agents, or {agents: [...]})
//   - <path>/tweets.csv    (append-only, one line per post)
//
// The audit file is opened per batch so external rotation is safe.
type fileStore struct {
	log logx.Logger

	agentsPath string
	auditPath  string

	mu     sync.Mutex
	closed bool
}

type agentsDoc struct {
	Agents []agent.Agent `yaml:"agents"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{
		log:        log,
		agentsPath: strings.TrimSpace(cfg.AgentsPath),
		auditPath:  filepath.Join(dir, AuditFileName),
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// ListAgents re-reads the agent file on every call. No agents path, or a
// path that does not exist yet, means an empty population.
func (s *fileStore) ListAgents(ctx context.Context) ([]agent.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.agentsPath == "" {
		return nil, nil
	}
	b, err := os.ReadFile(s.agentsPath)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Debug("agents file missing", logx.String("path", s.agentsPath))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read agents: %w", err)
	}
	return decodeAgents(b)
}

func decodeAgents(b []byte) ([]agent.Agent, error) {
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil, nil
	}
	var list []agent.Agent
	if err := yaml.Unmarshal(b, &list); err == nil {
		return list, nil
	}
	var doc agentsDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode agents: %w", err)
	}
	return doc.Agents, nil
}

func (s *fileStore) AppendPosts(ctx context.Context, posts []Post) error {
	if len(posts) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	f, err := os.OpenFile(s.auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, p := range posts {
		_, _ = w.WriteString(formatPostLine(p))
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.log.Debug("posts appended", logx.Int("count", len(posts)), logx.String("path", s.auditPath))
	return nil
}

// formatPostLine renders `timestamp,agentId,"content"`. Embedded quotes are
// doubled so the line stays valid CSV.
func formatPostLine(p Post) string {
	at := p.At
	if at.IsZero() {
		at = time.Now()
	}
	content := strings.ReplaceAll(p.Content, `"`, `""`)
	return at.Format(time.RFC3339) + "," + p.AgentID + `,"` + content + "\"\n"
}
