package machineupdate

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// PostRequest describes one social post to replay on a client machine.
type PostRequest struct {
	MachineID string
	Email     string
	PostURL   string
	UserField string
	MsgField  string
	Content   string
}

// BuildTimeline wraps a single browse event carrying the post form into a
// run-once, all-day browser timeline.
func BuildTimeline(r PostRequest) (Timeline, error) {
	payload := PostPayload{
		URI:      r.PostURL,
		Category: CategorySocial,
		Method:   http.MethodPost,
		Headers:  map[string]string{"u": r.Email},
		FormValues: map[string]string{
			r.UserField: r.Email,
			r.MsgField:  r.Content,
		},
	}
	arg, err := json.Marshal(payload)
	if err != nil {
		return Timeline{}, fmt.Errorf("encode payload: %w", err)
	}
	return Timeline{
		ID:     uuid.New(),
		Status: StatusRun,
		TimeLineHandlers: []TimelineHandler{{
			HandlerType: HandlerBrowserFirefox,
			Initial:     "about:blank",
			UtcTimeOn:   "00:00:00",
			UtcTimeOff:  "23:59:59",
			HandlerArgs: map[string]any{"isheadless": "false"},
			Loop:        false,
			TimeLineEvents: []TimelineEvent{{
				Command:     CommandBrowse,
				CommandArgs: []any{string(arg)},
			}},
		}},
	}, nil
}

// NewPostUpdate builds the machine update for r. An empty MachineID is kept
// as is; the queue consumer routes it by username.
func NewPostUpdate(r PostRequest) (MachineUpdate, error) {
	t, err := BuildTimeline(r)
	if err != nil {
		return MachineUpdate{}, err
	}
	b, err := json.Marshal(t)
	if err != nil {
		return MachineUpdate{}, fmt.Errorf("encode timeline: %w", err)
	}
	return MachineUpdate{
		MachineID: r.MachineID,
		Username:  r.Email,
		Status:    StatusActive,
		Type:      TypeTimelinePartial,
		Update:    string(b),
	}, nil
}

// DecodeTimeline parses the Update field back into a Timeline.
func (u MachineUpdate) DecodeTimeline() (Timeline, error) {
	var t Timeline
	err := json.Unmarshal([]byte(u.Update), &t)
	return t, err
}
