package storage

import (
	"context"
	"errors"
	"time"

	"socialsim/internal/agent"
)

var (
	ErrUnknownDriver = errors.New("unknown storage driver")
	ErrClosed        = errors.New("storage closed")
)

// AuditFileName is the audit log file written by the file driver.
const AuditFileName = "tweets.csv"

// Config configures storage.
//
// Driver values:
//   - "file" (default): Path is the output directory, AgentsPath the agent list
//   - "sqlite": Path is the database file
type Config struct {
	Driver      string
	Path        string
	AgentsPath  string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Post is one audit record: which agent produced what, and when.
type Post struct {
	At      time.Time
	AgentID string
	Content string
}

// AgentSource lists the agents eligible for a step.
type AgentSource interface {
	ListAgents(ctx context.Context) ([]agent.Agent, error)
}

// AuditLog appends post records. Implementations serialize appends.
type AuditLog interface {
	AppendPosts(ctx context.Context, posts []Post) error
}

// Store is the persistence API used by the app.
type Store interface {
	AgentSource
	AuditLog
	Close() error
}
