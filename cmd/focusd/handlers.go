package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	apperrors "github.com/osadchyi/focuscore/internal/errors"
	"github.com/osadchyi/focuscore/internal/models"
	"github.com/osadchyi/focuscore/internal/uuid"
)

// registerHandlers mounts the localhost REST surface.
func registerHandlers(mux *http.ServeMux, app *App, hub *WSHub) {
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "focusd",
		})
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		depth, _ := app.Ledger.Queue().Depth()
		usage, _ := app.Repo.Usage()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"device_id":     app.DeviceID,
			"clock_offset":  app.Clock.Offset(),
			"clock_ready":   app.Clock.Initialized(),
			"queue_depth":   depth,
			"storage_bytes": usage,
			"online":        app.Monitor.IsOnline(),
		})
	})

	mux.HandleFunc("GET /api/session", func(w http.ResponseWriter, r *http.Request) {
		writeSnapshot(w, app)
	})

	mux.HandleFunc("POST /api/session/start", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeSessionRequest(w, r)
		if !ok {
			return
		}
		app.Engine.StartSession(req.TaskID, req.config())
		app.Tasks.SetRunning(req.TaskID, true)
		writeSnapshot(w, app)
	})

	mux.HandleFunc("POST /api/session/switch", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeSessionRequest(w, r)
		if !ok {
			return
		}
		app.Engine.SwitchTask(req.TaskID, req.config())
		writeSnapshot(w, app)
	})

	mux.HandleFunc("POST /api/session/pause", func(w http.ResponseWriter, r *http.Request) {
		app.Engine.Pause()
		writeSnapshot(w, app)
	})

	mux.HandleFunc("POST /api/session/resume", func(w http.ResponseWriter, r *http.Request) {
		app.Engine.Resume()
		writeSnapshot(w, app)
	})

	mux.HandleFunc("POST /api/session/stop", func(w http.ResponseWriter, r *http.Request) {
		log, err := app.Engine.StopSession()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"log":      log,
			"snapshot": app.Engine.CurrentSnapshot(),
		})
	})

	mux.HandleFunc("POST /api/session/discard", func(w http.ResponseWriter, r *http.Request) {
		app.Engine.DiscardSession()
		writeSnapshot(w, app)
	})

	mux.HandleFunc("POST /api/session/config", func(w http.ResponseWriter, r *http.Request) {
		var req sessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		app.Engine.UpdateConfig(req.config())
		writeSnapshot(w, app)
	})

	mux.HandleFunc("GET /api/logs", func(w http.ResponseWriter, r *http.Request) {
		sinceMs := queryInt64(r, "since", 0)
		untilMs := queryInt64(r, "until", app.Clock.NowMs()+1)
		logs, err := app.Ledger.GetLogsByDateRange(sinceMs, untilMs)
		if err != nil {
			writeError(w, err)
			return
		}
		if logs == nil {
			logs = []*models.TimeLog{}
		}
		writeJSON(w, http.StatusOK, logs)
	})

	mux.HandleFunc("POST /api/logs", func(w http.ResponseWriter, r *http.Request) {
		var log models.TimeLog
		if err := json.NewDecoder(r.Body).Decode(&log); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		// Manual corrections enter the ledger as delta entries; the
		// daemon fills in identity and timestamps the client omitted.
		if log.Type == "" {
			log.Type = models.LogTypeManual
		}
		if log.ID == "" {
			log.ID = models.UUID(uuid.New())
		}
		if log.StartTime == "" {
			log.StartTime = app.Clock.ISO()
			log.StartUnix = app.Clock.NowMs()
		}
		if !log.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid time log"})
			return
		}
		if err := app.Ledger.SaveLog(&log); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, &log)
	})

	mux.HandleFunc("GET /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, app.Tasks.List())
	})

	mux.HandleFunc("POST /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		var task models.Task
		if err := json.NewDecoder(r.Body).Decode(&task); err != nil || task.ID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid task"})
			return
		}
		app.Tasks.UpsertLocal(&task)
		writeJSON(w, http.StatusOK, &task)
	})

	mux.HandleFunc("GET /api/tasks/{id}/total", func(w http.ResponseWriter, r *http.Request) {
		taskID := r.PathValue("id")
		total, err := app.Ledger.GetAggregatedTime(taskID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"task_id": taskID,
			"total":   total,
		})
	})

	mux.HandleFunc("DELETE /api/tasks/{id}/logs", func(w http.ResponseWriter, r *http.Request) {
		taskID := r.PathValue("id")
		deleted, err := app.Ledger.DeleteLogsForTask(taskID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"task_id": taskID,
			"deleted": deleted,
		})
	})

	mux.HandleFunc("GET /ws", hub.ServeWS)
}

type sessionRequest struct {
	TaskID   string `json:"task_id"`
	Mode     string `json:"mode"`
	Duration int    `json:"duration"` // minutes
}

func (r sessionRequest) config() models.SessionConfig {
	mode := models.SessionMode(r.Mode)
	if mode != models.ModeBreak {
		mode = models.ModeFocus
	}
	duration := r.Duration
	if duration <= 0 {
		duration = 25
	}
	return models.SessionConfig{Mode: mode, Duration: duration}
}

func decodeSessionRequest(w http.ResponseWriter, r *http.Request) (sessionRequest, bool) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TaskID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "task_id is required"})
		return req, false
	}
	return req, true
}

func writeSnapshot(w http.ResponseWriter, app *App) {
	writeJSON(w, http.StatusOK, app.Engine.CurrentSnapshot())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperrors.Is(err, apperrors.ErrNoSession):
		status = http.StatusConflict
	case apperrors.Is(err, apperrors.ErrQuotaExceeded):
		status = http.StatusInsufficientStorage
	case apperrors.Is(err, apperrors.ErrValidation), apperrors.Is(err, apperrors.ErrInvalid):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func queryInt64(r *http.Request, key string, fallback int64) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}
