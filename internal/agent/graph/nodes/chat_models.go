package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	einomodel "github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/smart-oj/assistant-server/internal/agent/model"
	logx "github.com/smart-oj/assistant-server/pkg/logger"
)

// ChatModelsConfig holds everything needed to build the graph's chat models.
type ChatModelsConfig struct {
	Provider   model.ProviderConfig
	Generation model.GenerationConfig
	// Names lists every model name the node layout references.
	Names []string
	// StructuredNames are models used only for structured output; they get
	// the lower structured-output temperature.
	StructuredNames []string
}

// ChatModels maps a configured model name to a ready chat model. Several
// nodes may share one entry.
type ChatModels struct {
	byName map[string]einomodel.ToolCallingChatModel
}

// NewChatModels creates one Gemini chat model per distinct configured name,
// all sharing a single client.
func NewChatModels(ctx context.Context, cfg ChatModelsConfig) (*ChatModels, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.Provider.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Provider.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = cfg.Provider.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	structured := make(map[string]bool, len(cfg.StructuredNames))
	for _, n := range cfg.StructuredNames {
		structured[n] = true
	}

	cms := &ChatModels{byName: make(map[string]einomodel.ToolCallingChatModel)}
	for _, name := range cfg.Names {
		if name == "" {
			continue
		}
		if _, ok := cms.byName[name]; ok {
			continue
		}
		temperature := cfg.Generation.Temperature
		if structured[name] {
			temperature = cfg.Generation.StructuredTemperature
		}
		cm, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client:      client,
			Model:       name,
			Temperature: &temperature,
			MaxTokens:   &cfg.Generation.MaxTokens,
			ThinkingConfig: &genai.ThinkingConfig{
				IncludeThoughts: true,
				ThinkingBudget:  genai.Ptr(int32(2000)),
			},
		})
		if err != nil {
			logx.Error().Err(err).Str("model", name).Msg("Error creating chat model")
			return nil, fmt.Errorf("error creating chat model %s: %w", name, err)
		}
		cms.byName[name] = cm
	}
	return cms, nil
}

// NewChatModelsFromMap wraps pre-built models. Used by tests.
func NewChatModelsFromMap(byName map[string]einomodel.ToolCallingChatModel) *ChatModels {
	return &ChatModels{byName: byName}
}

// Get returns the chat model registered under name.
func (cm *ChatModels) Get(name string) (einomodel.ToolCallingChatModel, error) {
	m, ok := cm.byName[name]
	if !ok {
		return nil, fmt.Errorf("chat model %q not configured", name)
	}
	return m, nil
}
