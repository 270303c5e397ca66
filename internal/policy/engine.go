// Package policy evaluates decision proposals against rego rules.
package policy

import (
	"context"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/rego"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// Proposal is the policy input for a propose_decision event.
type Proposal struct {
	Title         string   `json:"title"`
	Options       []string `json:"options"`
	Quorum        int      `json:"quorum"`
	DeadlineMs    int64    `json:"deadline_ms"`
	MaxDeadlineMs int64    `json:"max_deadline_ms"`
}

// NewEngine creates a new policy engine with the given policy content. The
// module must define data.boardroom.proposals.deny as a set of strings.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.boardroom.proposals.deny"),
		rego.Module("proposals.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Check returns the sorted reasons the proposal is denied. An empty result
// admits the proposal.
func (e *Engine) Check(ctx context.Context, p Proposal) ([]string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(p))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}

	raw, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected policy result type %T", results[0].Expressions[0].Value)
	}
	reasons := make([]string, 0, len(raw))
	for _, r := range raw {
		reasons = append(reasons, fmt.Sprint(r))
	}
	sort.Strings(reasons)
	return reasons, nil
}

// DefaultPolicy is the default proposal policy.
const DefaultPolicy = `
package boardroom.proposals

deny[msg] {
	count(input.options) < 2
	msg := "at least two options are required"
}

deny[msg] {
	some i, j
	i < j
	input.options[i] == input.options[j]
	msg := sprintf("duplicate option %q", [input.options[i]])
}

deny[msg] {
	trim_space(input.title) == ""
	msg := "title is required"
}

deny[msg] {
	input.quorum < 1
	msg := "quorum must be at least 1"
}

deny[msg] {
	input.deadline_ms <= 0
	msg := "deadline must be positive"
}

deny[msg] {
	input.deadline_ms > input.max_deadline_ms
	msg := sprintf("deadline %dms exceeds maximum %dms", [input.deadline_ms, input.max_deadline_ms])
}
`
