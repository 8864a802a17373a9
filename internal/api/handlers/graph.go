package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/socratic-labs/socratic/internal/domain"
)

type GraphHandler struct {
	graphStore domain.GraphStore
}

func NewGraphHandler(gs domain.GraphStore) *GraphHandler {
	return &GraphHandler{graphStore: gs}
}

type graphResponse struct {
	Nodes         []domain.KnowledgeGraphNode `json:"nodes"`
	MasteredCount int                         `json:"mastered_count"`
}

func (h *GraphHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	nodes, err := h.graphStore.ListByUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load knowledge graph")
		return
	}
	if nodes == nil {
		nodes = []domain.KnowledgeGraphNode{}
	}

	mastered := 0
	for _, n := range nodes {
		if n.Status == domain.NodeMastered {
			mastered++
		}
	}

	writeJSON(w, http.StatusOK, graphResponse{Nodes: nodes, MasteredCount: mastered})
}
