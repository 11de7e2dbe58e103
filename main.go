package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/smart-oj/assistant-server/internal/agent/gateway"
	"github.com/smart-oj/assistant-server/internal/agent/generic"
	"github.com/smart-oj/assistant-server/internal/agent/graph"
	"github.com/smart-oj/assistant-server/internal/agent/graph/conversations"
	"github.com/smart-oj/assistant-server/internal/agent/graph/nodes"
	"github.com/smart-oj/assistant-server/internal/agent/graph/prompts"
	"github.com/smart-oj/assistant-server/internal/agent/model"
	"github.com/smart-oj/assistant-server/internal/agent/repo"
	"github.com/smart-oj/assistant-server/internal/agent/solving"
	"github.com/smart-oj/assistant-server/internal/core"
	"github.com/smart-oj/assistant-server/internal/server"
	"github.com/smart-oj/assistant-server/internal/session"
	logx "github.com/smart-oj/assistant-server/pkg/logger"
	pkgredis "github.com/smart-oj/assistant-server/pkg/redis"
)

// AppConfig defines all configurable parameters for the service, sourced
// from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment core.Environment `envconfig:"ENVIRONMENT" default:"development"`

	// Infrastructure
	Redis pkgredis.Config

	// LLM provider
	Provider   model.ProviderConfig
	Generation model.GenerationConfig

	// External services
	Gateway model.GatewayConfig
	Backend model.BackendConfig

	// HTTP and storage
	Server       model.ServerConfig
	Conversation model.ConversationConfig

	// Agent layout
	Agent model.AgentConfig
}

func main() {
	ctx := context.Background()

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}
	logx.Init(logx.LoggerOpts{Environment: cfg.Environment})

	rdb, err := cfg.Redis.New()
	if err != nil {
		log.Fatalf("Failed to initialise Redis client: %v", err)
	}
	defer rdb.Close()

	ttl, err := time.ParseDuration(cfg.Conversation.TTL)
	if err != nil {
		log.Fatalf("Invalid CONVERSATION_TTL '%s': %v", cfg.Conversation.TTL, err)
	}
	historyRepo := repo.NewRedisHistoryRepository(rdb, ttl)

	store, err := repo.OpenStore(cfg.Conversation.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	layout, err := nodes.LoadConfig(cfg.Agent.NodesConfigPath)
	if err != nil {
		log.Fatalf("Failed to load node layout: %v", err)
	}
	pm, err := prompts.Load(cfg.Agent.PromptsDir)
	if err != nil {
		log.Fatalf("Failed to load prompts: %v", err)
	}

	gw := gateway.New(cfg.Gateway)

	agentRunner, err := graph.BuildAgentGraph(ctx, graph.Config{
		Provider:    cfg.Provider,
		Generation:  cfg.Generation,
		Agent:       cfg.Agent,
		Layout:      layout,
		Gateway:     gw,
		HistoryRepo: historyRepo,
		Prompts:     pm,
	})
	if err != nil {
		log.Fatalf("Failed to build agent graph: %v", err)
	}

	// Models for the tasks living outside the graph.
	genericModels, err := nodes.NewChatModels(ctx, nodes.ChatModelsConfig{
		Provider:        cfg.Provider,
		Generation:      cfg.Generation,
		Names:           []string{cfg.Agent.TitleModel, cfg.Agent.MemoryModel, cfg.Agent.SolvingModel},
		StructuredNames: []string{cfg.Agent.MemoryModel},
	})
	if err != nil {
		log.Fatalf("Failed to build generic chat models: %v", err)
	}
	titleModel, err := genericModels.Get(cfg.Agent.TitleModel)
	if err != nil {
		log.Fatalf("Title model: %v", err)
	}
	memoryModel, err := genericModels.Get(cfg.Agent.MemoryModel)
	if err != nil {
		log.Fatalf("Memory model: %v", err)
	}
	solvingModel, err := genericModels.Get(cfg.Agent.SolvingModel)
	if err != nil {
		log.Fatalf("Solving model: %v", err)
	}

	history := conversations.NewManager(historyRepo)
	profile := generic.NewProfileBuilder(store)
	solver := solving.New(solvingModel, pm, history, profile)

	sessions := session.NewManager(session.Config{
		History: history,
		Convs:   store,
		Titles:  generic.NewTitleGenerator(titleModel, pm),
		Memory:  generic.NewMemorySummarizer(memoryModel, store, pm),
	})

	srv := server.New(server.Config{
		Auth:     server.NewAuthenticator(cfg.Backend),
		Sessions: sessions,
		Agent:    agentRunner,
		Solver:   solver,
		Convs:    store,
		Memories: store,
		History:  historyRepo,
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Handler(),
	}

	go func() {
		logx.Info().Str("addr", cfg.Server.Addr).Msg("assistant server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logx.Error().Err(err).Msg("graceful shutdown failed")
	}
	logx.Info().Msg("assistant server stopped")
}
