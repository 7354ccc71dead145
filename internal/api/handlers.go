package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/OutreachPipe/internal/dispatch"
	"github.com/BTreeMap/OutreachPipe/internal/models"
)

// snapshotTimeout bounds an on-demand save.
const snapshotTimeout = 30 * time.Second

// UserStatus is the result of GET /users/{id}.
type UserStatus struct {
	UserID        string              `json:"user_id"`
	Stage         models.Stage        `json:"stage"`
	AwaitingReply bool                `json:"awaiting_reply"`
	Pending       []dispatch.TaskInfo `json:"pending"`
}

// healthHandler reports liveness and the number of pending tasks.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]any{
		"status":        "healthy",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"uptime":        time.Since(s.startedAt).Round(time.Second).String(),
		"pending_tasks": len(s.engine.PendingTasks()),
	}))
}

// tasksHandler lists pending and firing dispatch tasks.
func (s *Server) tasksHandler(w http.ResponseWriter, r *http.Request) {
	tasks := s.engine.PendingTasks()
	if family := r.URL.Query().Get("family"); family != "" {
		filtered := make([]dispatch.TaskInfo, 0, len(tasks))
		for _, t := range tasks {
			if string(t.Family) == family {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	writeJSONResponse(w, http.StatusOK, models.Success(tasks))
}

// userHandler reports one user's ladder stage and pending tasks.
func (s *Server) userHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing user id"))
		return
	}
	status := UserStatus{
		UserID:        id,
		Stage:         s.engine.Stage(id),
		AwaitingReply: s.engine.IsAwaitingReply(id),
		Pending:       []dispatch.TaskInfo{},
	}
	for _, t := range s.engine.PendingTasks() {
		if t.UserID == id {
			status.Pending = append(status.Pending, t)
		}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(status))
}

// snapshotHandler saves a snapshot immediately.
func (s *Server) snapshotHandler(w http.ResponseWriter, r *http.Request) {
	if s.saver == nil {
		writeJSONResponse(w, http.StatusNotImplemented, models.Error("Snapshot persistence not configured"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), snapshotTimeout)
	defer cancel()
	if err := s.saver.Save(ctx); err != nil {
		slog.Error("snapshotHandler save failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save snapshot"))
		return
	}
	slog.Info("snapshotHandler snapshot saved")
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Snapshot saved", nil))
}
