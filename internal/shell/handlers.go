package shell

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/emilemassie/gemini-receipts/internal/batch"
	"github.com/emilemassie/gemini-receipts/internal/scanning"
)

// progressEvent is the SSE event name for batch events
const progressEvent = "progress"

// writeJSON encodes v as the response body
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes {"error": message}
func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleStaticCSS serves the CSS file
func (s *Server) handleStaticCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css")
	w.Write(appCSS)
}

// handleStaticJS serves the JavaScript file
func (s *Server) handleStaticJS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Write(appJS)
}

// handleGetSettings returns the stored credential so the page can prefill it
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	key, ok := s.settings.Load()
	writeJSON(w, http.StatusOK, map[string]any{
		"key":     key,
		"has_key": ok,
	})
}

// handlePutSettings stores a new credential
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	key := strings.TrimSpace(req.Key)
	if key == "" {
		writeError(w, http.StatusBadRequest, scanning.ErrCredentialMissing.Error())
		return
	}

	if err := s.settings.Save(key); err != nil {
		slog.Error("Error saving settings", "error", err)
		writeError(w, http.StatusInternalServerError, "Error saving settings")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStartRun validates the job, resolves the credential and starts a run
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InputFolder string `json:"input_folder"`
		OutputPath  string `json:"output_path"`
		Key         string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	job := batch.Job{
		InputFolder: strings.TrimSpace(req.InputFolder),
		OutputPath:  strings.TrimSpace(req.OutputPath),
	}
	if err := job.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key, saveKey := s.resolveKey(strings.TrimSpace(req.Key))

	scanner, err := s.newScanner(key)
	if err != nil {
		if errors.Is(err, scanning.ErrCredentialMissing) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("Error creating scanner", "error", err)
		writeError(w, http.StatusInternalServerError, "Error creating scanner")
		return
	}

	runID, events, err := s.runner.Start(s.runCtx, scanner, job)
	if err != nil {
		scanner.Close()
		switch {
		case errors.Is(err, batch.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, batch.ErrInvalidJob):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			slog.Error("Error starting run", "error", err)
			writeError(w, http.StatusInternalServerError, "Error starting run")
		}
		return
	}

	if saveKey {
		if err := s.settings.Save(key); err != nil {
			slog.Warn("Failed to save API key", "error", err)
		}
	}

	// The page learns the run id before any of the run's events reach it
	s.feed.reset(runID)
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	go s.feed.pump(events, scanner)
}

// resolveKey picks the credential for a run and reports whether it should be
// saved once the run starts: a supplied key is saved when none is stored yet,
// and without one the stored key is used. An empty result is left to the
// ScannerFactory to reject.
func (s *Server) resolveKey(supplied string) (string, bool) {
	stored, ok := s.settings.Load()
	if supplied == "" {
		return stored, false
	}
	return supplied, !ok
}

// handleStopRun asks the active run to stop; it is a no-op when idle
func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	if s.runner.Stop() {
		slog.Info("Stop requested")
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetRun returns the runner state and the current run's log
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	state, runID := s.runner.State()
	_, log := s.feed.snapshot()
	if log == nil {
		log = []batch.Event{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"state":  state,
		"run_id": runID,
		"log":    log,
	})
}

// handleRunEvents streams progress events, replaying the current log first.
// A reconnecting browser sends Last-Event-ID and only gets what it missed.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	sse, err := NewSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	replay, events, unsubscribe := s.feed.subscribe(r.Header.Get("Last-Event-ID"))
	defer unsubscribe()

	for _, e := range replay {
		if err := sse.WriteEvent(e.ID, progressEvent, e.Event); err != nil {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := sse.WriteEvent(e.ID, progressEvent, e.Event); err != nil {
				return
			}
		}
	}
}
