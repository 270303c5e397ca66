package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/PManghan91/boardroom/internal/adapter/agentclient"
	"github.com/PManghan91/boardroom/internal/adapter/llm"
)

// Static answers every round with fixed text.
func Static(text string) Capability {
	return CapabilityFunc(func(ctx context.Context, rc RoundContext) (string, error) {
		return strings.ReplaceAll(text, "{topic}", rc.Topic), nil
	})
}

// HTTPAgent posts the round to a remote agent's /invoke endpoint and reads
// its streamed answer.
func HTTPAgent(client *agentclient.Client, endpoint string) Capability {
	return CapabilityFunc(func(ctx context.Context, rc RoundContext) (string, error) {
		req := &agentclient.InvokeRequest{
			RoomID:    rc.RoomID,
			SessionID: rc.SessionID,
			Round:     rc.Round,
			AgentID:   rc.Agent.ID,
			Domain:    rc.Agent.Domain,
			Topic:     rc.Topic,
		}
		for _, p := range rc.Prior {
			req.Prior = append(req.Prior, agentclient.PriorTurn{AgentID: p.AgentID, Content: p.Content})
		}
		return client.Contribute(ctx, endpoint, req)
	})
}

// LLMAgent prompts a chat model in the voice of the agent's domain.
func LLMAgent(client llm.Completer, model, persona string) Capability {
	return CapabilityFunc(func(ctx context.Context, rc RoundContext) (string, error) {
		p := Prompt(rc, persona)
		p.Model = model
		return client.Complete(ctx, p)
	})
}

// Prompt renders the round as a model prompt.
func Prompt(rc RoundContext, persona string) llm.Prompt {
	if persona == "" {
		persona = fmt.Sprintf("You are the %s member of a board. Give a short, concrete position.", rc.Agent.Domain)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\nRound: %d\n", rc.Topic, rc.Round)
	if len(rc.Prior) > 0 {
		b.WriteString("Earlier contributions:\n")
		for _, p := range rc.Prior {
			fmt.Fprintf(&b, "- %s: %s\n", p.AgentID, p.Content)
		}
	}
	return llm.Prompt{System: persona, User: b.String()}
}
