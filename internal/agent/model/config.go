package model

// ================ Config ================

// GenerationConfig holds the model sampling defaults shared by every node
// unless the node spec overrides the model name.
type GenerationConfig struct {
	MaxTokens             int     `envconfig:"GENERATION_MAX_TOKENS" default:"4000"`
	Temperature           float32 `envconfig:"GENERATION_TEMPERATURE" default:"0.4"`
	StructuredTemperature float32 `envconfig:"GENERATION_STRUCTURED_TEMPERATURE" default:"0.1"`
}

// ProviderConfig holds the LLM provider credentials shared by every chat
// model the graph builds.
type ProviderConfig struct {
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL" default:""`
}

// GatewayConfig configures the remote tool gateway (an MCP server reached
// over streamable HTTP, gated by a per-session credential header).
type GatewayConfig struct {
	URL            string `envconfig:"MCP_SERVER_URL" required:"true"`
	RequestTimeout int    `envconfig:"MCP_REQUEST_TIMEOUT" default:"30"`
}

// BackendConfig points at the judge backend used for cookie authentication
// and user profiles.
type BackendConfig struct {
	URL     string `envconfig:"BACKEND_URL" required:"true"`
	Timeout int    `envconfig:"BACKEND_TIMEOUT" default:"10"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `envconfig:"SERVER_ADDR" default:":8001"`
}

// ConversationConfig configures thread history retention and relational
// storage of conversation/memory records.
type ConversationConfig struct {
	TTL        string `envconfig:"CONVERSATION_TTL" default:"168h"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"assistant.db"`
}

// AgentConfig locates the declarative node/routing configuration and the
// prompt text directory.
type AgentConfig struct {
	NodesConfigPath string `envconfig:"NODES_CONFIG" default:"configs/nodes.yaml"`
	PromptsDir      string `envconfig:"PROMPTS_DIR" default:"prompts"`
	// TitleModel generates short conversation titles for new threads.
	TitleModel string `envconfig:"GENERIC_TITLE_MODEL" default:"gemini-2.5-flash-lite"`
	// ParserModel re-asks for valid JSON when direct structured decoding fails.
	ParserModel string `envconfig:"GENERIC_JSON_PARSER_MODEL" default:"gemini-2.5-flash-lite"`
	// MemoryModel summarizes personalized memory records from a thread.
	MemoryModel string `envconfig:"GENERIC_MEMORY_MODEL" default:"gemini-2.5-flash"`
	// SolvingModel powers the single-node solving assistant.
	SolvingModel string `envconfig:"SOLVING_ASSISTANT_MODEL" default:"gemini-2.5-flash"`
}
