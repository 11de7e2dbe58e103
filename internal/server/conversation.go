package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/smart-oj/assistant-server/internal/agent/model"
	errx "github.com/smart-oj/assistant-server/internal/core/error"
	logx "github.com/smart-oj/assistant-server/pkg/logger"
)

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	userID := authFrom(r).User.UserIDString()

	var questionID *int64
	if q := r.URL.Query().Get("question_id"); q != "" {
		id, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			writeError(w, errx.New(err, http.StatusBadRequest, "question_id must be an integer"))
			return
		}
		questionID = &id
	}

	convs, err := s.convs.ListByUserAndQuestion(r.Context(), userID, questionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

// handleConversationGet returns the conversation record and its full message
// history for one thread.
func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	threadID := r.URL.Query().Get("thread_id")
	if threadID == "" {
		writeError(w, errx.New(nil, http.StatusBadRequest, "thread_id is required"))
		return
	}

	conv, err := s.convs.GetByThreadID(r.Context(), threadID)
	if err != nil {
		writeError(w, err)
		return
	}
	if conv == nil || conv.UserID != authFrom(r).User.UserIDString() {
		writeError(w, errx.New(nil, http.StatusNotFound, "conversation not found"))
		return
	}

	history, err := s.history.LoadHistory(r.Context(), threadID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": conv,
		"messages":     history.Messages,
	})
}

type patchConversationRequest struct {
	ThreadID string `json:"thread_id"`
	Title    string `json:"title"`
}

func (s *Server) handleConversationPatch(w http.ResponseWriter, r *http.Request) {
	var req patchConversationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, errx.New(nil, http.StatusBadRequest, "title is required"))
		return
	}

	conv, err := s.ownedConversation(r, req.ThreadID)
	if err != nil {
		writeError(w, err)
		return
	}

	ok, err := s.convs.UpdateTitle(r.Context(), conv.ID, req.Title)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, errx.New(nil, http.StatusNotFound, "conversation not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	threadID := r.URL.Query().Get("thread_id")
	conv, err := s.ownedConversation(r, threadID)
	if err != nil {
		writeError(w, err)
		return
	}

	ok, err := s.convs.SoftDelete(r.Context(), conv.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, errx.New(nil, http.StatusNotFound, "conversation not found"))
		return
	}
	if err := s.history.ClearHistory(r.Context(), threadID); err != nil {
		logx.Warn().Err(err).Str("thread_id", threadID).Msg("failed to clear thread history")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ownedConversation loads a conversation and checks the caller owns it.
func (s *Server) ownedConversation(r *http.Request, threadID string) (*model.Conversation, error) {
	if threadID == "" {
		return nil, errx.New(nil, http.StatusBadRequest, "thread_id is required")
	}
	conv, err := s.convs.GetByThreadID(r.Context(), threadID)
	if err != nil {
		return nil, err
	}
	if conv == nil || conv.UserID != authFrom(r).User.UserIDString() {
		return nil, errx.New(nil, http.StatusNotFound, "conversation not found")
	}
	return conv, nil
}
