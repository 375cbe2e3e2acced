package httpapi

import (
	"net/http"
	"runtime"
	"time"

	"github.com/you/streampulse/internal/core"
)

// BuildInfo describes the compiled binary.
type BuildInfo struct {
	Version  string
	Revision string
	BuiltAt  time.Time
}

// ActiveLister reports the sessions currently being ingested.
type ActiveLister interface {
	Active() []core.Session
}

type activeSession struct {
	ID        string        `json:"id"`
	Channel   string        `json:"channel"`
	Platform  core.Platform `json:"platform"`
	StartedAt int64         `json:"startedAt"`
	Messages  int           `json:"messages"`
	Peak      int           `json:"peakViewers"`
}

type infoResponse struct {
	Version  string          `json:"version"`
	Revision string          `json:"rev"`
	BuiltAt  string          `json:"built_at,omitempty"`
	Go       string          `json:"go"`
	Uptime   string          `json:"uptime"`
	Store    string          `json:"store,omitempty"`
	Active   []activeSession `json:"activeSessions"`
}

var processStart = time.Now()

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	resp := infoResponse{
		Version:  s.opts.Build.Version,
		Revision: s.opts.Build.Revision,
		Go:       runtime.Version(),
		Uptime:   time.Since(processStart).Truncate(time.Second).String(),
		Active:   []activeSession{},
	}
	if !s.opts.Build.BuiltAt.IsZero() {
		resp.BuiltAt = s.opts.Build.BuiltAt.UTC().Format(time.RFC3339)
	}
	if k, ok := s.store.(interface{ Kind() string }); ok {
		resp.Store = k.Kind()
	}
	if s.opts.Active != nil {
		for _, sess := range s.opts.Active.Active() {
			resp.Active = append(resp.Active, activeSession{
				ID:        sess.ID,
				Channel:   sess.ChannelName,
				Platform:  sess.Platform,
				StartedAt: sess.SessionStart,
				Messages:  sess.TotalMessages,
				Peak:      sess.PeakViewerCount,
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
