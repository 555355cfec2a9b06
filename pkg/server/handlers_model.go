package server

import (
	"net/http"

	"github.com/secureyeoman/secureyeoman/pkg/ai"
	"github.com/secureyeoman/secureyeoman/pkg/api"
	"github.com/secureyeoman/secureyeoman/pkg/fault"
)

func (s *Server) routeModel(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/model/info", s.require("model:default", "read", s.handleModelInfo))
	mux.HandleFunc("GET /api/v1/model/list", s.require("model:catalog", "read", s.handleModelList))
	mux.HandleFunc("POST /api/v1/model/switch", s.require("model:default", "write", s.handleModelSwitch))
	mux.HandleFunc("GET /api/v1/model/default", s.require("model:default", "read", s.handleModelDefaultGet))
	mux.HandleFunc("POST /api/v1/model/default", s.require("model:default", "write", s.handleModelSwitch))
	mux.HandleFunc("DELETE /api/v1/model/default", s.require("model:default", "write", s.handleModelDefaultClear))
	mux.HandleFunc("GET /api/v1/model/cost-recommendations", s.require("model:usage", "read", s.handleCostRecommendations))
	mux.HandleFunc("POST /api/v1/model/route", s.require("model:catalog", "read", s.handleModelRoute))
	mux.HandleFunc("GET /api/v1/model/usage", s.require("model:usage", "read", s.handleModelUsage))

	mux.HandleFunc("POST /api/v1/model/chat", s.require("model:chat", "write", s.handleModelChat))
}

func (s *Server) handleModelInfo(w http.ResponseWriter, _ *http.Request) {
	provider, model := s.d.Gateway.Default()
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"provider":  provider,
		"model":     model,
		"providers": s.d.Gateway.Providers(),
	})
}

func (s *Server) handleModelList(w http.ResponseWriter, _ *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"models":    s.d.Catalog.All(),
		"available": s.d.Catalog.Available(),
	})
}

func (s *Server) handleModelSwitch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Provider string `json:"provider"`
		Model    string `json:"model"`
	}
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, r, err)
		return
	}
	if err := s.d.Gateway.SetDefault(body.Provider, body.Model); err != nil {
		api.WriteError(w, r, err)
		return
	}
	provider, model := s.d.Gateway.Default()
	api.WriteJSON(w, http.StatusOK, map[string]string{
		"provider": provider,
		"model":    model,
	})
}

func (s *Server) handleModelDefaultGet(w http.ResponseWriter, _ *http.Request) {
	provider, model := s.d.Gateway.Default()
	api.WriteJSON(w, http.StatusOK, map[string]string{
		"provider": provider,
		"model":    model,
	})
}

func (s *Server) handleModelDefaultClear(w http.ResponseWriter, _ *http.Request) {
	s.d.Gateway.ClearDefault()
	api.WriteJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleCostRecommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := s.d.Optimizer.Recommendations(r.Context())
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"recommendations": recs})
}

// handleModelRoute exposes the router's decision without issuing a request,
// so callers can inspect which model a prompt would run on and why.
func (s *Server) handleModelRoute(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompt      string `json:"prompt"`
		Context     string `json:"context,omitempty"`
		TokenBudget int64  `json:"tokenBudget,omitempty"`
	}
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, r, err)
		return
	}
	if body.Prompt == "" {
		api.WriteError(w, r, fault.New(fault.KindInvalidInput, "prompt is required"))
		return
	}
	decision := s.d.ModelRouter.Route(body.Prompt, body.Context, ai.RouteOptions{
		TokenBudget: body.TokenBudget,
	})
	api.WriteJSON(w, http.StatusOK, decision)
}

func (s *Server) handleModelUsage(w http.ResponseWriter, r *http.Request) {
	summary, err := s.d.Usage.Summarize(r.Context())
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, summary)
}

func (s *Server) handleModelChat(w http.ResponseWriter, r *http.Request) {
	var req ai.ChatRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteError(w, r, err)
		return
	}
	if len(req.Messages) == 0 {
		api.WriteError(w, r, fault.New(fault.KindInvalidInput, "messages are required"))
		return
	}
	resp, err := s.d.Gateway.Chat(r.Context(), req)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, resp)
}
