package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/socratic-labs/socratic/internal/service"
)

type KnowledgeHandler struct {
	retrieval *service.RetrievalService
}

func NewKnowledgeHandler(retrieval *service.RetrievalService) *KnowledgeHandler {
	return &KnowledgeHandler{retrieval: retrieval}
}

type createChunkRequest struct {
	TopicID    string `json:"topic_id"`
	Content    string `json:"content"`
	Difficulty int    `json:"difficulty,omitempty"`
}

func (h *KnowledgeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.TopicID) == "" {
		writeError(w, http.StatusBadRequest, "topic_id is required")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Difficulty < 0 || req.Difficulty > 10 {
		writeError(w, http.StatusBadRequest, "difficulty must be between 1 and 10")
		return
	}

	chunk, err := h.retrieval.Ingest(r.Context(), req.TopicID, req.Content, req.Difficulty)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to ingest knowledge chunk")
		return
	}

	writeJSON(w, http.StatusCreated, chunk)
}
