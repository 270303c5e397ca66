package deliberation

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/PManghan91/boardroom/internal/domain"
)

type startSessionPayload struct {
	Topic          string         `json:"topic"`
	Agents         []domain.Agent `json:"agents,omitempty"`
	RoundTimeoutMs int64          `json:"round_timeout_ms,omitempty"`
}

type joinPayload struct {
	Agent domain.Agent `json:"agent"`
}

type contributionPayload struct {
	AgentID string `json:"agent_id,omitempty"`
	Content string `json:"content"`
}

type proposePayload struct {
	Title      string                `json:"title"`
	Options    []string              `json:"options"`
	Quorum     *int                  `json:"quorum,omitempty"`
	DeadlineMs *int64                `json:"deadline_ms,omitempty"`
	TieBreak   domain.TieBreakPolicy `json:"tie_break,omitempty"`
}

type votePayload struct {
	DecisionID string     `json:"decision_id,omitempty"`
	VoterID    string     `json:"voter_id,omitempty"`
	Choice     *int       `json:"choice"`
	CastAt     *time.Time `json:"cast_at,omitempty"`
}

type cancelPayload struct {
	Reason string `json:"reason,omitempty"`
}

func decode(ev domain.Event, v any) error {
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		return domain.Malformed("offset %d: %v", ev.Offset, err)
	}
	return nil
}

func validateAgents(agents []domain.Agent) ([]domain.Agent, error) {
	seen := make(map[string]bool, len(agents))
	out := make([]domain.Agent, 0, len(agents))
	for _, a := range agents {
		a.ID = strings.TrimSpace(a.ID)
		a.Domain = strings.ToLower(strings.TrimSpace(a.Domain))
		if a.ID == "" || a.Domain == "" {
			return nil, domain.Malformed("agent needs id and domain")
		}
		if seen[a.ID] {
			return nil, domain.Malformed("duplicate agent %q", a.ID)
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	return out, nil
}
