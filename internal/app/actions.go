package app

import (
	"context"
	"fmt"

	"socialsim/internal/content"
	"socialsim/internal/feed"
	"socialsim/internal/storage"
)

// agentActions answers the feed next-action endpoint from the agent store.
type agentActions struct {
	agents  storage.AgentSource
	gateway *content.Gateway
}

func (a agentActions) NextAction(ctx context.Context, agentID, history string) (string, error) {
	agents, err := a.agents.ListAgents(ctx)
	if err != nil {
		return "", fmt.Errorf("list agents: %w", err)
	}
	for _, ag := range agents {
		if ag.ID == agentID {
			return a.gateway.GenerateNextAction(ctx, ag, history), nil
		}
	}
	return "", fmt.Errorf("agent %s: %w", agentID, feed.ErrNotFound)
}
