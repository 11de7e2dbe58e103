package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	"github.com/smart-oj/assistant-server/internal/agent/model"
)

// NewInputLoaderNode converts the incoming query into the run's state: it
// persists the user turn and loads the thread's prior history.
func NewInputLoaderNode(deps *Deps) *compose.Lambda {
	return compose.InvokableLambda(loadInput(deps))
}

func loadInput(deps *Deps) func(context.Context, model.QueryInput) (*model.AppState, error) {
	return func(ctx context.Context, in model.QueryInput) (*model.AppState, error) {
		messages, persisted, err := deps.History.BeginRun(ctx, in.ThreadID, in.Query)
		if err != nil {
			return nil, fmt.Errorf("load thread history: %w", err)
		}
		return &model.AppState{
			ThreadID:       in.ThreadID,
			UserID:         in.UserID,
			SessionID:      in.SessionID,
			Messages:       messages,
			PersistedCount: persisted,
		}, nil
	}
}
