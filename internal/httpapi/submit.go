package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/artifacts"
	"github.com/inkwell-ai/inkwell/go/orchestrator/internal/workflow"
)

// Launcher starts one task run in the background. The handler does not
// wait for completion; clients follow progress via the task and stream
// endpoints.
type Launcher func(taskID string, payload map[string]interface{})

// SubmitRequest is the task submission body. TaskID is optional; when
// the caller supplies one it is used unchanged everywhere downstream.
type SubmitRequest struct {
	TaskID      string                 `json:"task_id,omitempty"`
	Query       string                 `json:"query"`
	TranslateTo string                 `json:"translate_to,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// SubmitHandler accepts new report tasks.
type SubmitHandler struct {
	launch Launcher
	logger *zap.Logger
}

func NewSubmitHandler(launch Launcher, logger *zap.Logger) *SubmitHandler {
	return &SubmitHandler{launch: launch, logger: logger}
}

// RegisterRoutes registers the submission route on the provided mux.
func (h *SubmitHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/tasks", h.handleSubmit)
}

// handleSubmit starts a task. POST /api/v1/tasks
func (h *SubmitHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query required")
		return
	}

	taskID := artifacts.EnsureTaskID(req.TaskID)
	payload := map[string]interface{}{
		workflow.KeyQuery: req.Query,
	}
	if req.TranslateTo != "" {
		payload[workflow.KeyTranslateTo] = req.TranslateTo
	}
	for k, v := range req.Metadata {
		if _, reserved := payload[k]; !reserved {
			payload[k] = v
		}
	}

	h.logger.Info("Task submitted",
		zap.String("task_id", taskID),
		zap.Bool("caller_supplied_id", req.TaskID != ""),
	)
	h.launch(taskID, payload)

	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}
