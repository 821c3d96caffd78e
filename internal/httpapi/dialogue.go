package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/copilot/internal/dialogue"
	"github.com/ent0n29/copilot/internal/intent"
	"github.com/ent0n29/copilot/internal/listening"
	"github.com/ent0n29/copilot/internal/session"
)

type utteranceRequest struct {
	Text   string `json:"text"`
	Origin string `json:"origin"`
}

type interpretRequest struct {
	Text string `json:"text"`
}

type historyResponse struct {
	SessionID string                        `json:"session_id"`
	Entries   []dialogue.Entry              `json:"entries"`
	Pending   *dialogue.PendingConfirmation `json:"pending,omitempty"`
}

// controllerFor resolves the dialogue controller of the session named in the
// path and writes the error response when there is none.
func (s *Server) controllerFor(w http.ResponseWriter, r *http.Request) (*dialogue.Controller, string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return nil, "", false
	}
	if s.orchestrator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return nil, "", false
	}
	ctrl, err := s.orchestrator.Controller(id)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrEnded):
			respondError(w, http.StatusGone, "session_ended", err.Error())
		default:
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		}
		return nil, "", false
	}
	_ = s.sessions.Touch(id)
	return ctrl, id, true
}

func (s *Server) handleUtterance(w http.ResponseWriter, r *http.Request) {
	var req utteranceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	_, id, ok := s.controllerFor(w, r)
	if !ok {
		return
	}
	turn, err := s.orchestrator.Utterance(r.Context(), id, strings.TrimSpace(req.Text), dialogue.ParseOrigin(req.Origin))
	if err != nil {
		respondDialogueError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, turn)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	_, id, ok := s.controllerFor(w, r)
	if !ok {
		return
	}
	turn, err := s.orchestrator.Confirm(r.Context(), id)
	if err != nil {
		respondDialogueError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, turn)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := s.controllerFor(w, r)
	if !ok {
		return
	}
	turn, err := ctrl.Cancel()
	if err != nil {
		respondDialogueError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, turn)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctrl, id, ok := s.controllerFor(w, r)
	if !ok {
		return
	}
	resp := historyResponse{SessionID: id, Entries: ctrl.History()}
	if p, ok := ctrl.Pending(); ok {
		resp.Pending = &p
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVehicle(w http.ResponseWriter, r *http.Request) {
	ctrl, _, ok := s.controllerFor(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, ctrl.Store().Snapshot())
}

func (s *Server) handleIntents(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"triggers": intent.Table(),
		"actions":  intent.Actions(),
	})
}

// handleInterpret runs the interpreter alone. Nothing is executed.
func (s *Server) handleInterpret(w http.ResponseWriter, r *http.Request) {
	var req interpretRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, intent.Interpret(req.Text))
}

func respondDialogueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dialogue.ErrConfirmationPending):
		respondError(w, http.StatusConflict, "confirmation_pending", err.Error())
	case errors.Is(err, dialogue.ErrNoPendingConfirmation):
		respondError(w, http.StatusConflict, "no_pending_confirmation", err.Error())
	case errors.Is(err, listening.ErrTurnInProgress):
		respondError(w, http.StatusConflict, "turn_in_progress", err.Error())
	case errors.Is(err, session.ErrEnded), errors.Is(err, listening.ErrClosed):
		respondError(w, http.StatusGone, "session_ended", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "dialogue_error", err.Error())
	}
}
