// Package nodes builds the graph's node functions: the input loader, the
// dispatcher hub, and the configured specialist variants. Every node is a
// state-in/state-out lambda; routing decisions read only the shared state.
package nodes

import (
	"github.com/smart-oj/assistant-server/internal/agent/gateway"
	"github.com/smart-oj/assistant-server/internal/agent/graph/conversations"
	"github.com/smart-oj/assistant-server/internal/agent/graph/prompts"
)

// Deps carries the shared collaborators every node constructor draws from.
type Deps struct {
	Models  *ChatModels
	Prompts *prompts.Manager
	Gateway *gateway.Gateway
	History *conversations.Manager

	// ParserModel names the model used to recover malformed structured
	// output.
	ParserModel string

	MaxToolRounds int
}

func (d *Deps) maxToolRounds() int {
	if d.MaxToolRounds <= 0 {
		return DefaultMaxToolRounds
	}
	return d.MaxToolRounds
}
