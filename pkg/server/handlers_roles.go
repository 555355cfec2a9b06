package server

import (
	"net/http"

	"github.com/secureyeoman/secureyeoman/pkg/api"
	"github.com/secureyeoman/secureyeoman/pkg/fault"
	"github.com/secureyeoman/secureyeoman/pkg/rbac"
)

func (s *Server) routeRoles(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/roles", s.require("roles", "read", s.handleListRoles))
	mux.HandleFunc("POST /api/v1/roles", s.require("roles", "write", s.handleCreateRole))
	mux.HandleFunc("GET /api/v1/roles/{id}", s.require("roles", "read", s.handleGetRole))
	mux.HandleFunc("DELETE /api/v1/roles/{id}", s.require("roles", "write", s.handleDeleteRole))
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.d.Roles.List(r.Context())
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, roles)
}

func (s *Server) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string            `json:"name"`
		Permissions []rbac.Permission `json:"permissions"`
		InheritFrom []string          `json:"inheritFrom,omitempty"`
	}
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, r, err)
		return
	}
	if body.Name == "" {
		api.WriteError(w, r, fault.New(fault.KindInvalidInput, "name is required"))
		return
	}
	role, err := s.d.Roles.Create(r.Context(), body.Name, body.Permissions, body.InheritFrom)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, role)
}

func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := s.d.Roles.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, role)
}

func (s *Server) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	if err := s.d.Roles.Delete(r.Context(), r.PathValue("id")); err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusNoContent, nil)
}
