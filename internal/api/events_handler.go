package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/tandem/internal/events"
)

const (
	keepAliveInterval = 15 * time.Second
	retryMillis       = 2000
)

// handleEvents streams hub events as server-sent events. The optional
// session query parameter restricts the stream to one session.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	query := r.URL.Query()
	session := query.Get("session")
	resumeFrom := r.Header.Get("Last-Event-ID")
	if resumeFrom == "" {
		resumeFrom = query.Get("last_event_id")
	}
	sent := parseLastEventID(resumeFrom)

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := s.events.Subscribe(session)
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", retryMillis); err != nil {
		return
	}
	for _, ev := range s.events.SnapshotSince(session, sent) {
		if err := writeSSE(w, ev); err != nil {
			return
		}
		sent = ev.ID
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.ID <= sent {
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			sent = ev.ID
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeSSE frames one event. Payloads are single-line JSON.
func writeSSE(w http.ResponseWriter, ev events.Event) error {
	frame := fmt.Sprintf("id: %d\n", ev.ID)
	if ev.Type != "" {
		frame += "event: " + ev.Type + "\n"
	}
	frame += "data: " + string(ev.Data) + "\n\n"
	_, err := fmt.Fprint(w, frame)
	return err
}
