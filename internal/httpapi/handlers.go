package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/MimeLyc/iwbot/internal/backlog"
	"github.com/MimeLyc/iwbot/internal/config"
	"github.com/MimeLyc/iwbot/internal/ledger"
)

const (
	defaultStatsTop = 100
	historyLimit    = 20
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"status": s.driver.Snapshot().Status,
	})
}

// project resolves the ?project= filter; an empty name selects every page.
func (s *Server) project(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := r.URL.Query().Get("project")
	if name == "" {
		return "", true
	}
	if _, ok := s.driver.Ledger().Project(name); !ok {
		writeError(w, http.StatusNotFound, "unknown project")
		return "", false
	}
	return name, true
}

type problemsResponse struct {
	Project string         `json:"project,omitempty"`
	Total   int            `json:"total"`
	Entries []ledger.Entry `json:"entries"`
}

func (s *Server) handleProblems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name, ok := s.project(w, r)
	if !ok {
		return
	}
	entries := s.driver.Ledger().Entries(name)
	writeJSON(w, http.StatusOK, problemsResponse{
		Project: name,
		Total:   len(entries),
		Entries: entries,
	})
}

// handleProblemReport returns the same wiki table the bot publishes.
func (s *Server) handleProblemReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name, ok := s.project(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(s.driver.Ledger().Render(name, s.now())))
}

type backlogResponse struct {
	Snapshot backlog.Snapshot     `json:"snapshot"`
	Passes   []backlog.PassRecord `json:"passes,omitempty"`
}

func (s *Server) handleBacklog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := backlogResponse{Snapshot: s.driver.Snapshot()}
	if s.history != nil {
		passes, err := s.history.ListPasses(r.Context(), historyLimit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.Passes = passes
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.stats == nil {
		writeError(w, http.StatusNotImplemented, "statistics are not configured")
		return
	}
	top := defaultStatsTop
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "top must be a positive integer")
			return
		}
		top = n
	}
	writeJSON(w, http.StatusOK, s.stats.Top(top))
}

type startPassRequest struct {
	Kind string `json:"kind"`
}

func (s *Server) handlePasses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.trigger == nil {
		writeError(w, http.StatusNotImplemented, "pass trigger is not configured")
		return
	}
	var req startPassRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Kind == "" {
		req.Kind = backlog.PassBulk
	}
	if req.Kind != backlog.PassBulk && req.Kind != backlog.PassRecheck {
		writeError(w, http.StatusBadRequest, "kind must be bulk or recheck")
		return
	}
	if !s.trigger(req.Kind) {
		writeError(w, http.StatusConflict, "a pass is already running")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"ok":   true,
		"kind": req.Kind,
	})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		settings, err := s.settings.GetRuntimeSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var req config.RuntimeSettings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		saved, err := s.settings.UpdateRuntimeSettings(req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if s.apply != nil {
			if err := s.apply(saved); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, saved)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
