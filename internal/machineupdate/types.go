// Package machineupdate builds timeline updates for client machines and
// submits them to the command queue.
//
// Field names follow the client wire format (PascalCase) so existing
// consumers decode the payloads unchanged.
package machineupdate

import (
	"github.com/google/uuid"
)

const (
	StatusRun    = "Run"
	StatusActive = "Active"

	TypeTimelinePartial = "TimelinePartial"

	HandlerBrowserFirefox = "BrowserFirefox"
	CommandBrowse         = "browse"
	CategorySocial        = "social"
)

// MachineUpdate is the unit accepted by the command queue.
type MachineUpdate struct {
	MachineID string `json:"MachineId"`
	Username  string `json:"Username"`
	Status    string `json:"Status"`
	Type      string `json:"Type"`
	// Update is the JSON-encoded Timeline.
	Update string `json:"Update"`
}

type Timeline struct {
	ID               uuid.UUID         `json:"Id"`
	Status           string            `json:"Status"`
	TimeLineHandlers []TimelineHandler `json:"TimeLineHandlers"`
}

type TimelineHandler struct {
	HandlerType    string          `json:"HandlerType"`
	Initial        string          `json:"Initial"`
	UtcTimeOn      string          `json:"UtcTimeOn"`
	UtcTimeOff     string          `json:"UtcTimeOff"`
	HandlerArgs    map[string]any  `json:"HandlerArgs"`
	Loop           bool            `json:"Loop"`
	TimeLineEvents []TimelineEvent `json:"TimeLineEvents"`
}

type TimelineEvent struct {
	Command     string `json:"Command"`
	CommandArgs []any  `json:"CommandArgs"`
	DelayAfter  int    `json:"DelayAfter"`
	DelayBefore int    `json:"DelayBefore"`
}

// PostPayload tells the client browser handler which form to submit.
type PostPayload struct {
	URI        string            `json:"Uri"`
	Category   string            `json:"Category"`
	Method     string            `json:"Method"`
	Headers    map[string]string `json:"Headers"`
	FormValues map[string]string `json:"FormValues"`
}
