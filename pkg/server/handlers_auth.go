package server

import (
	"net/http"
	"strings"

	"github.com/secureyeoman/secureyeoman/pkg/api"
	"github.com/secureyeoman/secureyeoman/pkg/auth"
	"github.com/secureyeoman/secureyeoman/pkg/fault"
)

func (s *Server) routeAuth(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/v1/auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/v1/auth/logout", s.handleLogout)

	mux.HandleFunc("POST /api/v1/auth/api-keys", s.require("auth:api-keys", "write", s.handleCreateAPIKey))
	mux.HandleFunc("GET /api/v1/auth/api-keys", s.require("auth:api-keys", "read", s.handleListAPIKeys))
	mux.HandleFunc("DELETE /api/v1/auth/api-keys/{id}", s.require("auth:api-keys", "write", s.handleDeleteAPIKey))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, r, err)
		return
	}
	pair, err := s.d.Auth.Login(r.Context(), body.Password, auth.ClientIP(r))
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, pair)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, r, err)
		return
	}
	pair, err := s.d.Tokens.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, pair)
}

// handleLogout revokes the presented access token plus the refresh token
// from the body. The access token comes from the Authorization header the
// middleware already accepted.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = api.DecodeJSON(r, &body)

	accessToken := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if err := s.d.Tokens.Logout(r.Context(), accessToken, body.RefreshToken); err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
		Role string `json:"role"`
	}
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, r, err)
		return
	}
	if body.Name == "" || body.Role == "" {
		api.WriteError(w, r, fault.New(fault.KindInvalidInput, "name and role are required"))
		return
	}
	// The role must exist; a key bound to a ghost role would fail every
	// permission check with a confusing not_found.
	if _, err := s.d.Roles.Get(r.Context(), body.Role); err != nil {
		api.WriteError(w, r, fault.Errorf(fault.KindInvalidInput, "unknown role %q", body.Role))
		return
	}
	created, err := s.d.APIKeys.Create(r.Context(), body.Name, body.Role)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.d.APIKeys.List(r.Context())
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, keys)
}

func (s *Server) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := s.d.APIKeys.Delete(r.Context(), r.PathValue("id")); err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusNoContent, nil)
}
