package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/state"
)

// TaskHandler serves task snapshot and control endpoints backed by the
// state store.
type TaskHandler struct {
	store  *state.Store
	logger *zap.Logger
}

func NewTaskHandler(store *state.Store, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{store: store, logger: logger}
}

// RegisterRoutes registers task routes on the provided mux.
func (h *TaskHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/tasks/", h.handleTask)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

// handleTask dispatches on the path tail:
//
//	GET  /api/v1/tasks/{id}          latest snapshot
//	GET  /api/v1/tasks/{id}/history  full version history
//	POST /api/v1/tasks/{id}/cancel   cooperative cancellation
func (h *TaskHandler) handleTask(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	taskID, action, _ := strings.Cut(rest, "/")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task id required")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		snap, ok := h.store.Latest(taskID)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown task")
			return
		}
		writeJSON(w, http.StatusOK, snap)

	case action == "history" && r.Method == http.MethodGet:
		history := h.store.History(taskID)
		if len(history) == 0 {
			writeError(w, http.StatusNotFound, "unknown task")
			return
		}
		writeJSON(w, http.StatusOK, history)

	case action == "cancel" && r.Method == http.MethodPost:
		snap, err := h.store.Cancel(taskID)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Info("Cancellation requested via API",
			zap.String("task_id", taskID),
			zap.Int("version", snap.Version),
		)
		writeJSON(w, http.StatusAccepted, snap)

	default:
		writeError(w, http.StatusMethodNotAllowed, "unsupported method or path")
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
