package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/socratic-labs/socratic/internal/domain"
	"github.com/socratic-labs/socratic/internal/service"
	"github.com/socratic-labs/socratic/internal/store"
)

type SessionHandler struct {
	svc    *service.SessionService
	logger *zap.Logger
}

func NewSessionHandler(svc *service.SessionService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{svc: svc, logger: logger}
}

type createSessionRequest struct {
	UserID          string `json:"user_id"`
	TopicID         string `json:"topic_id"`
	Difficulty      int    `json:"difficulty,omitempty"`
	ParentSessionID string `json:"parent_session_id,omitempty"`
}

type createSessionResponse struct {
	Session     *domain.LearningSession `json:"session"`
	Explanation string                  `json:"explanation"`
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}

	in := service.StartSessionInput{
		UserID:     userID,
		TopicID:    req.TopicID,
		Difficulty: req.Difficulty,
	}
	if req.ParentSessionID != "" {
		parentID, err := uuid.Parse(req.ParentSessionID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid parent_session_id")
			return
		}
		in.ParentSessionID = &parentID
	}

	res, err := h.svc.Start(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		Session:     res.Session,
		Explanation: res.Explanation,
	})
}

type getSessionResponse struct {
	Session      *domain.LearningSession `json:"session"`
	Explanations []domain.Explanation    `json:"explanations"`
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	sess, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	history, err := h.svc.Explanations(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load explanations")
		return
	}

	writeJSON(w, http.StatusOK, getSessionResponse{Session: sess, Explanations: history})
}

type submitResponseRequest struct {
	Response       string `json:"response"`
	ResponseTimeMs int64  `json:"response_time_ms"`
}

type submitResponseResponse struct {
	Session        *domain.LearningSession   `json:"session"`
	Correct        bool                      `json:"correct"`
	Similarity     float64                   `json:"similarity"`
	ConfusionScore float64                   `json:"confusion_score"`
	Intervention   string                    `json:"intervention"`
	NewExplanation string                    `json:"new_explanation,omitempty"`
	Question       string                    `json:"question,omitempty"`
	SplitSessions  []*domain.LearningSession `json:"split_sessions,omitempty"`
}

func (h *SessionHandler) SubmitResponse(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	var req submitResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ResponseTimeMs < 0 {
		writeError(w, http.StatusBadRequest, "response_time_ms must be non-negative")
		return
	}

	res, err := h.svc.SubmitResponse(r.Context(), service.ResponseInput{
		SessionID:    id,
		Response:     req.Response,
		ResponseTime: time.Duration(req.ResponseTimeMs) * time.Millisecond,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, submitResponseResponse{
		Session:        res.Session,
		Correct:        res.Correct,
		Similarity:     res.Similarity,
		ConfusionScore: res.ConfusionScore,
		Intervention:   string(res.Intervention),
		NewExplanation: res.NewExplanation,
		Question:       res.Question,
		SplitSessions:  res.SplitSessions,
	})
}

type teachBackRequest struct {
	Explanation string `json:"explanation"`
}

type teachBackResponse struct {
	Session        *domain.LearningSession     `json:"session"`
	Evaluation     *domain.TeachBackEvaluation `json:"evaluation"`
	Mastered       bool                        `json:"mastered"`
	NewExplanation string                      `json:"new_explanation,omitempty"`
	Question       string                      `json:"question,omitempty"`
	SplitSessions  []*domain.LearningSession   `json:"split_sessions,omitempty"`
}

func (h *SessionHandler) SubmitTeachBack(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	var req teachBackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.svc.SubmitTeachBack(r.Context(), service.TeachBackInput{
		SessionID:   id,
		Explanation: req.Explanation,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, teachBackResponse{
		Session:        res.Session,
		Evaluation:     res.Evaluation,
		Mastered:       res.Mastered,
		NewExplanation: res.NewExplanation,
		Question:       res.Question,
		SplitSessions:  res.SplitSessions,
	})
}

// writeServiceError maps learning-loop errors onto HTTP statuses. Only
// ErrInvalidInput messages are echoed back; anything unrecognized is logged
// and answered with a generic body.
func (h *SessionHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, service.ErrSessionComplete):
		writeError(w, http.StatusConflict, "session is already complete")
	case errors.Is(err, service.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "operation not valid in the session's current state")
	case errors.Is(err, service.ErrStaleTransition):
		writeError(w, http.StatusConflict, "session advanced concurrently, retry with fresh state")
	case errors.Is(err, service.ErrGenerationUnavailable):
		writeError(w, http.StatusServiceUnavailable, "lesson generation is temporarily unavailable")
	case errors.Is(err, service.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, "profile update conflicted, retry")
	default:
		h.logger.Error("session operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error, try again")
	}
}
