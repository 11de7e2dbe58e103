package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/smart-oj/assistant-server/internal/agent/model"
	errx "github.com/smart-oj/assistant-server/internal/core/error"
)

func (s *Server) handleMemoryList(w http.ResponseWriter, r *http.Request) {
	memories, err := s.memories.ListByUser(r.Context(), authFrom(r).User.UserIDString())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": memories})
}

func (s *Server) handleMemoryDelete(w http.ResponseWriter, r *http.Request) {
	idStr := r.URL.Query().Get("memory_id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, errx.New(err, http.StatusBadRequest, "memory_id must be an integer"))
		return
	}

	// Ownership check keeps one user from deleting another's memories.
	owned, err := s.memories.ListByUser(r.Context(), authFrom(r).User.UserIDString())
	if err != nil {
		writeError(w, err)
		return
	}
	found := false
	for _, m := range owned {
		if m.ID == id {
			found = true
			break
		}
	}
	if !found {
		writeError(w, errx.New(nil, http.StatusNotFound, "memory not found"))
		return
	}

	ok, err := s.memories.Delete(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, errx.New(nil, http.StatusNotFound, "memory not found"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type createMemoryRequest struct {
	UserID  string `json:"user_id"`
	Content string `json:"content"`
	Type    string `json:"type"`
}

// handleMemoryCreate lets administrators seed memory records directly.
func (s *Server) handleMemoryCreate(w http.ResponseWriter, r *http.Request) {
	var req createMemoryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Content) == "" || req.UserID == "" {
		writeError(w, errx.New(nil, http.StatusBadRequest, "user_id and content are required"))
		return
	}
	if req.Type == "" {
		req.Type = "preference"
	}

	ids, err := s.memories.CreateMemories(r.Context(), req.UserID, []*model.Memory{
		{Content: req.Content, Type: req.Type},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"memory_id": ids[0]})
}
