package server

import (
	"net/http"
	"time"

	"github.com/secureyeoman/secureyeoman/pkg/api"
	"github.com/secureyeoman/secureyeoman/pkg/auth"
	"github.com/secureyeoman/secureyeoman/pkg/task"
)

func nowMillis() int64 { return time.Now().UnixMilli() }

func (s *Server) routeTasks(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/tasks", s.require("tasks", "write", s.handleSubmitTask))
	mux.HandleFunc("GET /api/v1/tasks", s.require("tasks", "read", s.handleListTasks))
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.require("tasks", "read", s.handleGetTask))
	mux.HandleFunc("POST /api/v1/tasks/{id}/cancel", s.require("tasks", "write", s.handleCancelTask))
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var in task.SubmitInput
	if err := api.DecodeJSON(r, &in); err != nil {
		api.WriteError(w, r, err)
		return
	}
	p, err := auth.PrincipalFrom(r.Context())
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	t, err := s.d.Tasks.Submit(r.Context(), in, task.ExecContext{
		UserID:        p.ID,
		Role:          p.Role,
		CorrelationID: auth.RequestID(r.Context()),
	})
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusAccepted, t)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.d.Tasks.List(r.Context(), task.Filter{
		Status: task.Status(q.Get("status")),
		Type:   q.Get("type"),
		Limit:  queryInt(r, "limit", 100),
	})
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	t, err := s.d.Tasks.Get(r.Context(), id)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	calls, err := s.d.Tasks.ToolCalls(r.Context(), id)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"task":      t,
		"toolCalls": calls,
	})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.d.Tasks.Cancel(r.Context(), id); err != nil {
		api.WriteError(w, r, err)
		return
	}
	t, err := s.d.Tasks.Get(r.Context(), id)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, t)
}
