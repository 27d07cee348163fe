// Package agent holds the simulated agent record and the batch sampler.
package agent

import (
	"encoding/json"
	"fmt"
)

// Agent is a simulated identity. Records are read-only for the duration of a batch.
type Agent struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name" yaml:"name"`
	Email     string         `json:"email" yaml:"email"`
	MachineID string         `json:"machine_id,omitempty" yaml:"machine_id,omitempty"`
	Profile   map[string]any `json:"profile,omitempty" yaml:"profile,omitempty"`
}

// HasMachine reports whether the agent is bound to a machine.
func (a Agent) HasMachine() bool { return a.MachineID != "" }

// Flatten renders the agent as compact JSON for prompt templates.
func (a Agent) Flatten() string {
	b, err := json.Marshal(a)
	if err != nil {
		// Profile can only fail to marshal with exotic values from a hand-edited store.
		return fmt.Sprintf(`{"id":%q,"name":%q,"email":%q}`, a.ID, a.Name, a.Email)
	}
	return string(b)
}
