package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(context.Background(), DefaultPolicy)
	require.NoError(t, err)
	return e
}

func TestCheckAdmitsValidProposal(t *testing.T) {
	e := newEngine(t)
	reasons, err := e.Check(context.Background(), Proposal{
		Title: "Budget", Options: []string{"A", "B"}, Quorum: 2, DeadlineMs: 60000, MaxDeadlineMs: 120000,
	})
	require.NoError(t, err)
	assert.Empty(t, reasons)
}

func TestCheckDeniesWithReasons(t *testing.T) {
	e := newEngine(t)
	tests := []struct {
		name string
		p    Proposal
		want string
	}{
		{"one option", Proposal{Title: "x", Options: []string{"A"}, Quorum: 1, DeadlineMs: 1, MaxDeadlineMs: 10}, "at least two options are required"},
		{"duplicate", Proposal{Title: "x", Options: []string{"A", "B", "A"}, Quorum: 1, DeadlineMs: 1, MaxDeadlineMs: 10}, `duplicate option "A"`},
		{"blank title", Proposal{Title: "  ", Options: []string{"A", "B"}, Quorum: 1, DeadlineMs: 1, MaxDeadlineMs: 10}, "title is required"},
		{"quorum", Proposal{Title: "x", Options: []string{"A", "B"}, Quorum: 0, DeadlineMs: 1, MaxDeadlineMs: 10}, "quorum must be at least 1"},
		{"deadline", Proposal{Title: "x", Options: []string{"A", "B"}, Quorum: 1, DeadlineMs: 11, MaxDeadlineMs: 10}, "deadline 11ms exceeds maximum 10ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reasons, err := e.Check(context.Background(), tt.p)
			require.NoError(t, err)
			assert.Equal(t, []string{tt.want}, reasons)
		})
	}
}

func TestNewEngineRejectsBadModule(t *testing.T) {
	_, err := NewEngine(context.Background(), "package boardroom.proposals\ndeny[ {")
	assert.Error(t, err)
}
