package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/smart-oj/assistant-server/internal/agent/graph/events"
	"github.com/smart-oj/assistant-server/internal/agent/model"
	errx "github.com/smart-oj/assistant-server/internal/core/error"
	"github.com/smart-oj/assistant-server/internal/session"
	logx "github.com/smart-oj/assistant-server/pkg/logger"
)

// streamTerminator closes every SSE stream so clients can tell completion
// from disconnection.
const streamTerminator = "DONE"

type startChatRequest struct {
	ThreadID   string `json:"thread_id"`
	Query      string `json:"query"`
	QuestionID *int64 `json:"question_id"`

	// Solving-assistant context; ignored by the question-manage graph.
	QuestionDescription string `json:"question_description"`
	Code                string `json:"code"`
}

type startChatResponse struct {
	ProcessID string `json:"process_id"`
	ThreadID  string `json:"thread_id"`
}

func (s *Server) handleQuestionManage(w http.ResponseWriter, r *http.Request) {
	s.startRun(w, r, s.agent)
}

func (s *Server) handleSolvingAssistant(w http.ResponseWriter, r *http.Request) {
	s.startRun(w, r, s.solver)
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request, runner session.Runner) {
	var req startChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, errx.New(nil, http.StatusBadRequest, "query is required"))
		return
	}
	if req.ThreadID == "" {
		req.ThreadID = uuid.NewString()
	}

	info := authFrom(r)
	in := model.QueryInput{
		ThreadID:            req.ThreadID,
		UserID:              info.User.UserIDString(),
		SessionID:           info.SessionID,
		Query:               req.Query,
		QuestionDescription: req.QuestionDescription,
		Code:                req.Code,
	}

	pid, err := s.sessions.Start(runner, in, req.QuestionID)
	if err != nil {
		writeError(w, err)
		return
	}
	logx.Info().Str("process_id", pid).Str("thread_id", req.ThreadID).Msg("run started")
	writeJSON(w, http.StatusAccepted, startChatResponse{ProcessID: pid, ThreadID: req.ThreadID})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	threadID := r.URL.Query().Get("thread_id")
	if threadID == "" {
		writeError(w, errx.New(nil, http.StatusBadRequest, "thread_id is required"))
		return
	}
	pid := session.ProcessID(threadID, authFrom(r).User.UserIDString())
	if !s.sessions.Live(pid) {
		writeError(w, errx.New(nil, http.StatusNotFound, "no running process for this conversation"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errx.New(nil, http.StatusInternalServerError, "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	err := s.sessions.Stream(r.Context(), pid, func(ev events.Event) error {
		b, err := json.Marshal(ev)
		if err != nil {
			logx.Warn().Err(err).Msg("failed to marshal stream event")
			return nil
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		// Headers are already sent; terminating the stream without the
		// DONE marker tells the client the run did not complete cleanly.
		logx.Debug().Err(err).Str("process_id", pid).Msg("stream ended early")
		return
	}

	fmt.Fprintf(w, "data: %s\n\n", streamTerminator)
	flusher.Flush()
}

type interruptRequest struct {
	ThreadID string `json:"thread_id"`
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	var req interruptRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	pid := session.ProcessID(req.ThreadID, authFrom(r).User.UserIDString())
	s.sessions.Interrupt(pid)
	logx.Info().Str("process_id", pid).Msg("run interrupted")
	writeJSON(w, http.StatusOK, map[string]string{"status": "interrupted"})
}
