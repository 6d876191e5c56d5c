package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dshaw/fablefriend/internal/session"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.mgr.Count(),
	})
}

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	var req BeginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.CharName == "" || req.Theme == "" {
		writeError(w, http.StatusBadRequest, "char_name and theme are required")
		return
	}

	id, out, err := s.mgr.Begin(r.Context(), req.CharName, req.Theme, req.Role)
	if err != nil {
		s.logger.Printf("begin failed: %v", err)
		writeError(w, http.StatusBadGateway, "the story could not get started; try again in a moment")
		return
	}
	s.logger.Printf("session %s began: %q in %q", id, req.CharName, req.Theme)

	feed := s.feeds.create(id)
	feed.Send(turnEvent("begin", out))

	writeJSON(w, http.StatusCreated, turnResponse(out))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionStatus{
		SessionID:  snap.ID,
		Transcript: snap.Transcript,
		TurnCount:  snap.TurnCount,
		Tension:    snap.Tension,
		Progress:   snap.Progress,
		Terminated: snap.Terminated,
		Created:    snap.Created,
		LastActive: snap.LastActive,
	})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	id := r.PathValue("id")
	out, err := s.mgr.SubmitAction(r.Context(), id, req.Text)
	s.finishTurn(w, id, out, err)
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	out, err := s.mgr.ContinueTurn(r.Context(), id)
	s.finishTurn(w, id, out, err)
}

func (s *Server) handleRewind(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	out, err := s.mgr.Rewind(r.Context(), id)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	if feed, ok := s.feeds.get(id); ok {
		feed.Send(turnEvent("rewind", out))
	}
	writeJSON(w, http.StatusOK, turnResponse(out))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.mgr.Reset(id); err != nil {
		s.logger.Printf("reset %s: %v", id, err)
	}
	s.feeds.drop(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	feed, ok := s.feeds.get(r.PathValue("id"))
	if !ok {
		s.writeSessionError(w, session.ErrUnknownSession)
		return
	}
	WriteSSE(w, r, feed)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if s.art == nil {
		writeError(w, http.StatusNotFound, "image persistence is disabled")
		return
	}
	data, err := s.art.Get(r.PathValue("hash"))
	if err != nil {
		writeError(w, http.StatusNotFound, "no such image")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// finishTurn maps a step outcome onto the wire: errors to their status
// codes, success to a TurnResponse plus an SSE event.
func (s *Server) finishTurn(w http.ResponseWriter, id string, out session.TurnOutput, err error) {
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	if len(out.Entries) > 0 {
		if feed, ok := s.feeds.get(id); ok {
			feed.Send(turnEvent("turn", out))
		}
	}
	writeJSON(w, http.StatusOK, turnResponse(out))
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrUnknownSession):
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error: "that story is over or was never begun",
			Menu:  true,
		})
	case errors.Is(err, session.ErrTurnInFlight):
		writeError(w, http.StatusConflict, "the storyteller is still mid-sentence; wait for this turn to finish")
	default:
		s.logger.Printf("step failed: %v", err)
		writeError(w, http.StatusBadGateway, "the storyteller is out of reach; the same action can be retried")
	}
}

func turnResponse(out session.TurnOutput) TurnResponse {
	return TurnResponse{
		SessionID:  out.SessionID,
		Entries:    out.Entries,
		ImageHash:  out.ImageHash,
		Terminated: out.Terminated,
		GameOver:   out.GameOver,
	}
}

func turnEvent(kind string, out session.TurnOutput) Event {
	return Event{
		Type:       kind,
		SessionID:  out.SessionID,
		Entries:    out.Entries,
		ImageHash:  out.ImageHash,
		Terminated: out.Terminated,
		GameOver:   out.GameOver,
		At:         time.Now().UTC(),
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
