package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/socratic-labs/socratic/internal/domain"
	"github.com/socratic-labs/socratic/internal/scoring"
	"github.com/socratic-labs/socratic/internal/store"
)

type ProfileHandler struct {
	profileStore     domain.ProfileStore
	achievementStore domain.AchievementStore
}

func NewProfileHandler(ps domain.ProfileStore, as domain.AchievementStore) *ProfileHandler {
	return &ProfileHandler{profileStore: ps, achievementStore: as}
}

type profileResponse struct {
	*domain.LearnerProfile
	// NextLevelXP is the total XP threshold for the next level.
	NextLevelXP int `json:"next_level_xp"`
}

func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	p, err := h.profileStore.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{
		LearnerProfile: p,
		NextLevelXP:    scoring.ThresholdForLevel(p.Level + 1),
	})
}

type achievementsResponse struct {
	Achievements []domain.Achievement `json:"achievements"`
}

func (h *ProfileHandler) Achievements(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	list, err := h.achievementStore.ListByUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load achievements")
		return
	}
	if list == nil {
		list = []domain.Achievement{}
	}

	writeJSON(w, http.StatusOK, achievementsResponse{Achievements: list})
}
