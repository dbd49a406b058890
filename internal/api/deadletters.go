package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-tsdbsink/internal/deadletter"
	"github.com/nerrad567/gray-logic-tsdbsink/internal/ingest"
)

// handleListDeadLetters returns a page of dead letters.
//
// Query parameters: kind, include_replayed, limit, offset.
func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	if s.deadLetters == nil {
		writeNotFound(w, "dead-letter journal is disabled")
		return
	}

	q := r.URL.Query()
	filter := deadletter.Filter{Kind: q.Get("kind")}

	var err error
	if v := q.Get("include_replayed"); v != "" {
		if filter.IncludeReplayed, err = strconv.ParseBool(v); err != nil {
			writeBadRequest(w, "include_replayed must be a boolean")
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
	}

	result, err := s.deadLetters.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing dead letters", "error", err)
		writeInternalError(w, "failed to list dead letters")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetDeadLetter returns one dead letter.
func (s *Server) handleGetDeadLetter(w http.ResponseWriter, r *http.Request) {
	letter, ok := s.loadDeadLetter(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, letter)
}

// handleReplayDeadLetter feeds the stored payload back into the ingest
// queue. The letter is claimed first so concurrent replays submit it once.
func (s *Server) handleReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		writeServiceUnavailable(w, "ingest is not running")
		return
	}

	letter, ok := s.loadDeadLetter(w, r)
	if !ok {
		return
	}

	if err := s.deadLetters.MarkReplayed(r.Context(), letter.ID); err != nil {
		switch {
		case errors.Is(err, deadletter.ErrAlreadyReplayed):
			writeConflict(w, "dead letter already replayed")
		case errors.Is(err, deadletter.ErrNotFound):
			writeNotFound(w, "dead letter not found")
		default:
			s.logger.Error("claiming dead letter for replay", "id", letter.ID, "error", err)
			writeInternalError(w, "failed to mark dead letter")
		}
		return
	}

	recordID, err := s.ingest.Submit(r.Context(), letter.Topic, letter.Payload)
	if err != nil {
		// Release the claim even if the request was cancelled.
		if clearErr := s.deadLetters.ClearReplayed(context.WithoutCancel(r.Context()), letter.ID); clearErr != nil {
			s.logger.Error("releasing dead letter replay claim", "id", letter.ID, "error", clearErr)
		}
		if errors.Is(err, ingest.ErrStopped) {
			writeServiceUnavailable(w, "ingest is not running")
			return
		}
		writeBadRequest(w, "payload cannot be replayed: "+err.Error())
		return
	}

	s.logger.Info("dead letter replayed",
		"id", letter.ID,
		"record", recordID,
		"subject", claimsFromContext(r.Context()).Subject,
	)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":        letter.ID,
		"record_id": recordID,
		"status":    "queued",
	})
}

// handleDeleteDeadLetter removes a dead letter.
func (s *Server) handleDeleteDeadLetter(w http.ResponseWriter, r *http.Request) {
	if s.deadLetters == nil {
		writeNotFound(w, "dead-letter journal is disabled")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.deadLetters.Delete(r.Context(), id); err != nil {
		if errors.Is(err, deadletter.ErrNotFound) {
			writeNotFound(w, "dead letter not found")
			return
		}
		s.logger.Error("deleting dead letter", "id", id, "error", err)
		writeInternalError(w, "failed to delete dead letter")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) loadDeadLetter(w http.ResponseWriter, r *http.Request) (*deadletter.Letter, bool) {
	if s.deadLetters == nil {
		writeNotFound(w, "dead-letter journal is disabled")
		return nil, false
	}

	id := chi.URLParam(r, "id")
	letter, err := s.deadLetters.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, deadletter.ErrNotFound) {
			writeNotFound(w, "dead letter not found")
			return nil, false
		}
		s.logger.Error("loading dead letter", "id", id, "error", err)
		writeInternalError(w, "failed to load dead letter")
		return nil, false
	}
	return letter, true
}
