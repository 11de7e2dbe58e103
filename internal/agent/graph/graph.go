// Package graph composes the question-manage agent graph: an input loader, a
// data-preheat entry step, and a dispatcher hub routing to configured
// specialist nodes until a terminal step is planned.
package graph

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	"github.com/smart-oj/assistant-server/internal/agent/gateway"
	"github.com/smart-oj/assistant-server/internal/agent/graph/conversations"
	"github.com/smart-oj/assistant-server/internal/agent/graph/nodes"
	"github.com/smart-oj/assistant-server/internal/agent/graph/observers"
	"github.com/smart-oj/assistant-server/internal/agent/graph/prompts"
	"github.com/smart-oj/assistant-server/internal/agent/model"
	logx "github.com/smart-oj/assistant-server/pkg/logger"
)

// Runner executes the compiled graph for one query.
type Runner interface {
	Invoke(ctx context.Context, in model.QueryInput) (*model.AppState, error)
}

// Config holds everything needed to compose the full graph end-to-end. This
// is a convenience layer over GraphConfig that also constructs the chat
// models and loads prompts.
type Config struct {
	Provider    model.ProviderConfig
	Generation  model.GenerationConfig
	Agent       model.AgentConfig
	Layout      *nodes.Config
	Gateway     *gateway.Gateway
	HistoryRepo model.HistoryRepository

	// Prompts, when set, is used instead of loading Agent.PromptsDir.
	Prompts *prompts.Manager
}

// GraphConfig holds the assembled collaborators needed to build the graph.
type GraphConfig struct {
	Deps   *nodes.Deps
	Layout *nodes.Config
}

// GraphBuilder handles the construction of the agent graph.
type GraphBuilder struct {
	config *GraphConfig
	graph  *compose.Graph[model.QueryInput, *model.AppState]
}

type graphRunner struct {
	runnable compose.Runnable[model.QueryInput, *model.AppState]
}

func (r *graphRunner) Invoke(ctx context.Context, in model.QueryInput) (*model.AppState, error) {
	return r.runnable.Invoke(ctx, in, compose.WithCallbacks(observers.NewAllCallbacks()))
}

// BuildAgentGraph constructs chat models, loads prompts, builds the graph,
// and returns a Runner.
func BuildAgentGraph(ctx context.Context, cfg Config) (Runner, error) {
	if cfg.Layout == nil {
		return nil, fmt.Errorf("node layout is nil")
	}
	if cfg.HistoryRepo == nil {
		return nil, fmt.Errorf("history repo is nil")
	}

	modelNames := append(cfg.Layout.ModelNames(), cfg.Agent.ParserModel)
	cms, err := nodes.NewChatModels(ctx, nodes.ChatModelsConfig{
		Provider:        cfg.Provider,
		Generation:      cfg.Generation,
		Names:           modelNames,
		StructuredNames: []string{cfg.Layout.Dispatcher.Model, cfg.Agent.ParserModel},
	})
	if err != nil {
		return nil, err
	}

	pm := cfg.Prompts
	if pm == nil {
		pm, err = prompts.Load(cfg.Agent.PromptsDir)
		if err != nil {
			return nil, err
		}
	}

	deps := &nodes.Deps{
		Models:        cms,
		Prompts:       pm,
		Gateway:       cfg.Gateway,
		History:       conversations.NewManager(cfg.HistoryRepo),
		ParserModel:   cfg.Agent.ParserModel,
		MaxToolRounds: cfg.Layout.MaxToolRounds,
	}

	runnable, err := BuildGraph(ctx, &GraphConfig{Deps: deps, Layout: cfg.Layout})
	if err != nil {
		return nil, err
	}

	logx.Debug().Msg("Agent graph built successfully")
	return &graphRunner{runnable: runnable}, nil
}

// BuildGraph constructs and returns the compiled agent graph.
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[model.QueryInput, *model.AppState], error) {
	if config == nil || config.Deps == nil || config.Layout == nil {
		return nil, fmt.Errorf("graph config is incomplete")
	}

	builder := &GraphBuilder{
		config: config,
		graph:  compose.NewGraph[model.QueryInput, *model.AppState](),
	}

	builder.addNodes()
	builder.addEdges()

	if err := builder.addBranches(); err != nil {
		return nil, err
	}

	return builder.compile(ctx)
}

// addNodes adds the input loader, the entry step, the dispatcher, and every
// configured specialist.
func (b *GraphBuilder) addNodes() {
	deps, layout := b.config.Deps, b.config.Layout

	b.graph.AddLambdaNode(nodes.NodeInputLoader, nodes.NewInputLoaderNode(deps))
	b.graph.AddLambdaNode(layout.Entry, nodes.NewPreheatNode(deps, layout.EntrySpec()))
	b.graph.AddLambdaNode(nodes.NodeDispatcher, nodes.NewDispatcherNode(deps, layout.Dispatcher))

	for _, spec := range layout.Specialists() {
		switch spec.Kind {
		case nodes.KindPlanner:
			b.graph.AddLambdaNode(spec.Name, nodes.NewPlannerNode(deps, spec))
		default:
			b.graph.AddLambdaNode(spec.Name, nodes.NewToolLoopNode(deps, spec))
		}
	}
}

// addEdges creates the hub-and-spoke flow: every specialist returns to the
// dispatcher for the next routing decision.
func (b *GraphBuilder) addEdges() {
	layout := b.config.Layout

	edges := [][2]string{
		{compose.START, nodes.NodeInputLoader},
		{nodes.NodeInputLoader, layout.Entry},
		{layout.Entry, nodes.NodeDispatcher},
	}
	for _, spec := range layout.Specialists() {
		edges = append(edges, [2]string{spec.Name, nodes.NodeDispatcher})
	}

	for _, edge := range edges {
		b.graph.AddEdge(edge[0], edge[1])
	}
}

// addBranches wires the dispatcher's routing decision.
func (b *GraphBuilder) addBranches() error {
	routing := b.config.Layout.RoutingTable()
	branch := compose.NewGraphBranch(
		nodes.NextStep(routing),
		nodes.BranchTargets(routing),
	)
	if err := b.graph.AddBranch(nodes.NodeDispatcher, branch); err != nil {
		logx.Error().Err(err).Msg("Error adding dispatch branch")
		return fmt.Errorf("error adding dispatch branch: %w", err)
	}
	return nil
}

// compile finalizes and compiles the graph.
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.QueryInput, *model.AppState], error) {
	// Every dispatch round visits the dispatcher plus one specialist; bound
	// total steps so a routing loop cannot run forever.
	maxSteps := 10 + b.config.Layout.MaxDispatchRounds*2
	if maxSteps < 20 {
		maxSteps = 20
	}

	runnable, err := b.graph.Compile(ctx, compose.WithMaxRunSteps(maxSteps))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}
