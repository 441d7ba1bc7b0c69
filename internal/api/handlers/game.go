package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dom/code-arena/internal/api/middleware"
	"github.com/dom/code-arena/internal/arena"
	"github.com/dom/code-arena/internal/domain"
	"github.com/dom/code-arena/internal/judge"
)

// GameHandler owns the run/submit/result REST surface. Submit is the
// authoritative verdict path: the judge runs the hidden suite here, and
// the outcome is reported into the room regardless of pass or fail.
type GameHandler struct {
	hub   *arena.Hub
	judge judge.Judge
	log   zerolog.Logger
}

func NewGameHandler(hub *arena.Hub, j judge.Judge, log zerolog.Logger) *GameHandler {
	return &GameHandler{
		hub:   hub,
		judge: j,
		log:   log.With().Str("component", "game").Logger(),
	}
}

type RunRequest struct {
	RoomID     string          `json:"roomId"`
	UserID     string          `json:"userId"`
	SourceCode string          `json:"sourceCode"`
	Language   domain.Language `json:"language"`
}

type RunResponse struct {
	Success bool             `json:"success"`
	Result  judge.CaseResult `json:"result"`
}

type SubmitRequest struct {
	RoomID     string          `json:"roomId"`
	UserID     string          `json:"userId"`
	SourceCode string          `json:"sourceCode"`
	Language   domain.Language `json:"language"`
	ProblemID  string          `json:"problemId"`
}

type SubmitResponse struct {
	Results []judge.CaseResult `json:"results"`
	IsWin   bool               `json:"isWin"`
}

type ResultResponse struct {
	WinnerID string        `json:"winnerId"`
	Reason   domain.Reason `json:"reason"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// Run executes against the visible sample cases only. Diagnostic: no room
// state or progress changes, ever.
func (h *GameHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validateCode(req.SourceCode, req.Language); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := h.requestUserID(r, req.UserID)
	problem, err := h.hub.ProblemFor(req.RoomID, userID)
	if err != nil {
		writeGameError(w, err)
		return
	}

	results, err := h.judge.Execute(r.Context(), req.SourceCode, req.Language, problem.Samples)
	if err != nil || len(results) == 0 {
		h.log.Warn().Err(err).Str("room", req.RoomID).Msg("run execution failed")
		writeError(w, http.StatusBadGateway, "Execution Failed")
		return
	}

	writeJSON(w, http.StatusOK, RunResponse{Success: true, Result: results[0]})
}

// Submit executes against the full hidden suite and reports the verdict to
// the coordinator, win or lose: partial progress feeds the timeout
// tie-break.
func (h *GameHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validateCode(req.SourceCode, req.Language); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	userID := h.requestUserID(r, req.UserID)
	problem, err := h.hub.ProblemFor(req.RoomID, userID)
	if err != nil {
		writeGameError(w, err)
		return
	}
	if req.ProblemID != "" && req.ProblemID != problem.ID {
		writeError(w, http.StatusBadRequest, "Problem id does not match this room")
		return
	}

	results, err := h.judge.Execute(r.Context(), req.SourceCode, req.Language, problem.Hidden)
	if err != nil {
		// Judge unavailability is retryable, never match-ending.
		h.log.Warn().Err(err).Str("room", req.RoomID).Msg("submit execution failed")
		writeError(w, http.StatusBadGateway, "Runtime Error: judge unavailable")
		return
	}

	h.hub.ReportSubmission(req.RoomID, userID, results)

	writeJSON(w, http.StatusOK, SubmitResponse{
		Results: results,
		IsWin:   judge.AllPassed(results),
	})
}

// Result serves late result queries during and after the retention window.
func (h *GameHandler) Result(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")

	result, err := h.hub.Result(r.Context(), roomID)
	if err != nil {
		writeGameError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResultResponse{
		WinnerID: result.WinnerUserID,
		Reason:   result.Reason,
	})
}

// requestUserID prefers the verified token identity and falls back to the
// body-supplied id for guests.
func (h *GameHandler) requestUserID(r *http.Request, bodyUserID string) string {
	if userID, ok := middleware.GetUserID(r.Context()); ok {
		return userID
	}
	return strings.TrimSpace(bodyUserID)
}

func validateCode(source string, language domain.Language) error {
	if strings.TrimSpace(source) == "" {
		return domain.ErrEmptySource
	}
	if !language.Valid() {
		return domain.ErrInvalidLanguage
	}
	return nil
}

func writeGameError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "Room not found")
	case errors.Is(err, domain.ErrNotInRoom):
		writeError(w, http.StatusForbidden, "Not a participant of this room")
	case errors.Is(err, domain.ErrMatchFinished):
		writeError(w, http.StatusConflict, "Match is already finished")
	case errors.Is(err, domain.ErrNotPlaying), errors.Is(err, domain.ErrNoResult):
		writeError(w, http.StatusConflict, "Match is not in progress")
	default:
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Message: message})
}
