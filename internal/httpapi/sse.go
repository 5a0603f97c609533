package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleBacklogStream pushes the driver snapshot as server-sent events.
func (s *Server) handleBacklogStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	last := ""
	send := func() bool {
		payload, err := json.Marshal(s.driver.Snapshot())
		if err != nil {
			return false
		}
		// unchanged snapshots are not repeated
		if string(payload) == last {
			return true
		}
		last = string(payload)
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send() {
		return
	}

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}
