// Package server exposes the assistant over HTTP: chat run starts, the SSE
// event stream, interrupts, and conversation/memory management.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/smart-oj/assistant-server/internal/agent/graph"
	"github.com/smart-oj/assistant-server/internal/agent/model"
	"github.com/smart-oj/assistant-server/internal/agent/solving"
	errx "github.com/smart-oj/assistant-server/internal/core/error"
	"github.com/smart-oj/assistant-server/internal/session"
	logx "github.com/smart-oj/assistant-server/pkg/logger"
)

// Server routes the HTTP API.
type Server struct {
	auth     *Authenticator
	sessions *session.Manager
	agent    graph.Runner
	solver   *solving.Assistant
	convs    model.ConversationStore
	memories model.MemoryStore
	history  model.HistoryRepository
}

// Config wires the server's collaborators.
type Config struct {
	Auth     *Authenticator
	Sessions *session.Manager
	Agent    graph.Runner
	Solver   *solving.Assistant
	Convs    model.ConversationStore
	Memories model.MemoryStore
	History  model.HistoryRepository
}

func New(cfg Config) *Server {
	return &Server{
		auth:     cfg.Auth,
		sessions: cfg.Sessions,
		agent:    cfg.Agent,
		solver:   cfg.Solver,
		convs:    cfg.Convs,
		memories: cfg.Memories,
		history:  cfg.History,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat/question-manage", s.requireAdmin(s.handleQuestionManage))
	mux.HandleFunc("POST /chat/solving-assistant", s.requireAuth(s.handleSolvingAssistant))
	mux.HandleFunc("GET /chat/stream", s.requireAuth(s.handleStream))
	mux.HandleFunc("POST /chat/interrupt", s.requireAuth(s.handleInterrupt))

	mux.HandleFunc("GET /conversation/list", s.requireAuth(s.handleConversationList))
	mux.HandleFunc("GET /conversation", s.requireAuth(s.handleConversationGet))
	mux.HandleFunc("PATCH /conversation", s.requireAuth(s.handleConversationPatch))
	mux.HandleFunc("DELETE /conversation", s.requireAuth(s.handleConversationDelete))

	mux.HandleFunc("GET /memory/list", s.requireAuth(s.handleMemoryList))
	mux.HandleFunc("DELETE /memory", s.requireAuth(s.handleMemoryDelete))
	mux.HandleFunc("POST /memory", s.requireAdmin(s.handleMemoryCreate))

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Warn().Err(err).Msg("failed to write response body")
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errx.StatusOf(err), map[string]string{"error": errx.UserMessage(err)})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errx.New(err, http.StatusBadRequest, "malformed request body")
	}
	return nil
}
