package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/you/streampulse/internal/core"
	"github.com/you/streampulse/internal/store"
)

const (
	defaultChatterLimit = 50
	maxChatterLimit     = 1000
)

// lookupError maps a read failure onto a response.
func (s *Server) lookupError(w http.ResponseWriter, id, what string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.log.Error("read failed", "what", what, "session", id, "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		s.lookupError(w, id, "session", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.opts.Reports == nil {
		writeError(w, http.StatusServiceUnavailable, "reports unavailable")
		return
	}
	id := chi.URLParam(r, "id")
	rep, err := s.opts.Reports.Build(r.Context(), id)
	if err != nil {
		s.lookupError(w, id, "report", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetSession(r.Context(), id); err != nil {
		s.lookupError(w, id, "session", err)
		return
	}
	buckets, err := s.store.TimelineBuckets(r.Context(), id)
	if err != nil {
		s.lookupError(w, id, "timeline", err)
		return
	}
	if buckets == nil {
		buckets = []core.TimelineBucket{}
	}
	writeJSON(w, http.StatusOK, buckets)
}

func (s *Server) handleChatters(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := defaultChatterLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxChatterLimit)
	}
	if _, err := s.store.GetSession(r.Context(), id); err != nil {
		s.lookupError(w, id, "session", err)
		return
	}
	rows, err := s.store.TopChatters(r.Context(), id, limit)
	if err != nil {
		s.lookupError(w, id, "chatters", err)
		return
	}
	if rows == nil {
		rows = []core.TopChatterRecord{}
	}
	writeJSON(w, http.StatusOK, rows)
}
