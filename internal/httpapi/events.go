package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/you/streampulse/internal/core"
)

const (
	maxEventBody  = 1 << 20
	maxEventBatch = 500
)

// decodeEvents accepts either one event object or an array of them.
func decodeEvents(body []byte) ([]core.StreamEvent, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	if body[0] == '[' {
		var evs []core.StreamEvent
		if err := json.Unmarshal(body, &evs); err != nil {
			return nil, err
		}
		return evs, nil
	}
	var ev core.StreamEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, err
	}
	return []core.StreamEvent{ev}, nil
}

// normalizeEvent fills ids and timestamps the source left out and rejects
// events that cannot be attributed to a channel.
func (s *Server) normalizeEvent(ev *core.StreamEvent) error {
	ev.Channel = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ev.Channel), "#"))
	ev.Platform = core.ParsePlatform(string(ev.Platform))
	ev.EventType = core.EventType(strings.ToLower(strings.TrimSpace(string(ev.EventType))))
	switch {
	case ev.Channel == "":
		return fmt.Errorf("channel is required")
	case ev.Platform == "":
		return fmt.Errorf("platform is required")
	case ev.EventType == "":
		return fmt.Errorf("eventType is required")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp <= 0 {
		ev.Timestamp = core.Millis(s.opts.Now())
	}
	return nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	evs, err := decodeEvents(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event payload: "+err.Error())
		return
	}
	if len(evs) > maxEventBatch {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d events per request", maxEventBatch))
		return
	}
	for i := range evs {
		if err := s.normalizeEvent(&evs[i]); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("event %d: %v", i, err))
			return
		}
	}
	if err := s.store.InsertEvents(r.Context(), evs); err != nil {
		s.log.Error("event ingress: insert failed", "events", len(evs), "err", err)
		s.opts.Metrics.IncDBWriteErrors()
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.metrics.AddEvents(len(evs))

	ids := make([]string, len(evs))
	for i, ev := range evs {
		ids[i] = ev.ID
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": len(evs), "ids": ids})
}
