package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/you/streampulse/internal/core"
	"github.com/you/streampulse/internal/store"
)

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.opts.Sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "sweep unavailable")
		return
	}
	res, err := s.opts.Sweeper.RunOnce(r.Context())
	if err != nil {
		http.Error(w, "sweep failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "result": res})
}

func (s *Server) handleBotsReload(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Bots == nil {
		writeError(w, http.StatusServiceUnavailable, "bot list unavailable")
		return
	}
	n, err := s.opts.Bots.Reload()
	if err != nil {
		http.Error(w, "reload failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "reloaded": true, "bots": n})
}

type endResponse struct {
	Session         core.Session `json:"session"`
	Ended           bool         `json:"ended"`
	Skipped         bool         `json:"skipped"`
	SkipReason      string       `json:"skipReason,omitempty"`
	ReportGenerated bool         `json:"reportGenerated"`
	ReportSent      bool         `json:"reportSent"`
	Error           string       `json:"error,omitempty"`
}

// handleEndSession is the explicit end signal. A delivery failure still
// answers 200: the session is ended and the report generated.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if s.opts.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions unavailable")
		return
	}
	id := chi.URLParam(r, "id")
	out, err := s.opts.Sessions.EndSession(r.Context(), id)
	resp := endResponse{
		Session:         out.Session,
		Ended:           out.Ended,
		Skipped:         out.Skipped,
		SkipReason:      out.SkipReason,
		ReportGenerated: out.ReportGenerated,
		ReportSent:      out.ReportSent,
	}
	var df *core.DeliveryFailure
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
		return
	case errors.As(err, &df):
		resp.Error = df.Error()
	default:
		s.log.Error("end session failed", "session", id, "err", err)
		writeError(w, http.StatusInternalServerError, "end failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
