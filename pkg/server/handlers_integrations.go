package server

import (
	"io"
	"net/http"

	"github.com/secureyeoman/secureyeoman/pkg/api"
	"github.com/secureyeoman/secureyeoman/pkg/fault"
	"github.com/secureyeoman/secureyeoman/pkg/ids"
	"github.com/secureyeoman/secureyeoman/pkg/integration"
)

// maxWebhookBody bounds inbound platform payloads.
const maxWebhookBody = 1 << 20

func (s *Server) routeIntegrations(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/integrations", s.require("integrations", "read", s.handleListIntegrations))
	mux.HandleFunc("POST /api/v1/integrations", s.require("integrations", "write", s.handleCreateIntegration))
	mux.HandleFunc("GET /api/v1/integrations/{id}", s.require("integrations", "read", s.handleGetIntegration))
	mux.HandleFunc("PUT /api/v1/integrations/{id}", s.require("integrations", "write", s.handleUpdateIntegration))
	mux.HandleFunc("DELETE /api/v1/integrations/{id}", s.require("integrations", "write", s.handleDeleteIntegration))
	mux.HandleFunc("POST /api/v1/integrations/{id}/start", s.require("integrations", "write", s.handleStartIntegration))
	mux.HandleFunc("POST /api/v1/integrations/{id}/stop", s.require("integrations", "write", s.handleStopIntegration))
	mux.HandleFunc("POST /api/v1/integrations/{id}/test", s.require("integrations", "write", s.handleTestIntegration))

	// Platform webhook sink. Unauthenticated by design; the adapter's
	// signature check is the credential.
	mux.HandleFunc("POST /api/v1/webhooks/{platform}/{id}", s.handlePlatformWebhook)
}

type integrationInput struct {
	Platform    string            `json:"platform"`
	DisplayName string            `json:"displayName"`
	Config      map[string]string `json:"config,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
}

func (s *Server) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	list, err := s.d.Integrations.List(r.Context())
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	out := make([]*integration.Integration, 0, len(list))
	for _, integ := range list {
		out = append(out, integ.Redacted())
	}
	api.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateIntegration(w http.ResponseWriter, r *http.Request) {
	var in integrationInput
	if err := api.DecodeJSON(r, &in); err != nil {
		api.WriteError(w, r, err)
		return
	}
	if in.DisplayName == "" {
		api.WriteError(w, r, fault.New(fault.KindInvalidInput, "displayName is required"))
		return
	}

	adapter, err := integration.NewAdapter(in.Platform, s.d.IntRouter)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}

	integ := &integration.Integration{
		ID:          ids.New(),
		Platform:    in.Platform,
		DisplayName: in.DisplayName,
		Enabled:     in.Enabled == nil || *in.Enabled,
		Status:      integration.StatusPending,
		Config:      in.Config,
	}
	if err := adapter.Init(r.Context(), integ); err != nil {
		api.WriteError(w, r, err)
		return
	}
	if err := s.d.Integrations.Insert(r.Context(), integ); err != nil {
		api.WriteError(w, r, err)
		return
	}
	s.d.IntRouter.RegisterAdapter(integ.ID, adapter)
	api.WriteJSON(w, http.StatusCreated, integ.Redacted())
}

func (s *Server) handleGetIntegration(w http.ResponseWriter, r *http.Request) {
	integ, err := s.d.Integrations.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, integ.Redacted())
}

func (s *Server) handleUpdateIntegration(w http.ResponseWriter, r *http.Request) {
	var in integrationInput
	if err := api.DecodeJSON(r, &in); err != nil {
		api.WriteError(w, r, err)
		return
	}
	integ, err := s.d.Integrations.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	if in.DisplayName != "" {
		integ.DisplayName = in.DisplayName
	}
	if in.Config != nil {
		integ.Config = in.Config
	}
	if in.Enabled != nil {
		integ.Enabled = *in.Enabled
	}
	if err := s.d.Integrations.Update(r.Context(), integ); err != nil {
		api.WriteError(w, r, err)
		return
	}

	// Re-init the live adapter so config changes (secrets, reply targets)
	// apply without a restart.
	adapter, err := integration.NewAdapter(integ.Platform, s.d.IntRouter)
	if err == nil && adapter.Init(r.Context(), integ) == nil {
		s.d.IntRouter.RegisterAdapter(integ.ID, adapter)
	}
	api.WriteJSON(w, http.StatusOK, integ.Redacted())
}

func (s *Server) handleDeleteIntegration(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.d.Integrations.Delete(r.Context(), id); err != nil {
		api.WriteError(w, r, err)
		return
	}
	s.d.IntRouter.UnregisterAdapter(id)
	api.WriteJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleStartIntegration(w http.ResponseWriter, r *http.Request) {
	s.setIntegrationRunState(w, r, true)
}

func (s *Server) handleStopIntegration(w http.ResponseWriter, r *http.Request) {
	s.setIntegrationRunState(w, r, false)
}

func (s *Server) setIntegrationRunState(w http.ResponseWriter, r *http.Request, start bool) {
	id := r.PathValue("id")
	integ, err := s.d.Integrations.Get(r.Context(), id)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}

	adapter, ok := s.d.IntRouter.Adapter(id)
	if !ok {
		// Adapters are in-memory; rebuild after a restart.
		a, err := integration.NewAdapter(integ.Platform, s.d.IntRouter)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		if err := a.Init(r.Context(), integ); err != nil {
			api.WriteError(w, r, err)
			return
		}
		s.d.IntRouter.RegisterAdapter(id, a)
		adapter = a
	}

	status := integration.StatusConnected
	if start {
		err = adapter.Start(r.Context())
	} else {
		err = adapter.Stop(r.Context())
		status = integration.StatusDisconnected
	}
	if err != nil {
		_ = s.d.Integrations.SetStatus(r.Context(), id, integration.StatusError, nowMillis())
		api.WriteError(w, r, err)
		return
	}
	if err := s.d.Integrations.SetStatus(r.Context(), id, status, nowMillis()); err != nil {
		api.WriteError(w, r, err)
		return
	}
	integ.Status = status
	api.WriteJSON(w, http.StatusOK, integ.Redacted())
}

func (s *Server) handleTestIntegration(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	adapter, ok := s.d.IntRouter.Adapter(id)
	if !ok {
		api.WriteError(w, r, fault.New(fault.KindNotFound, "integration is not running"))
		return
	}
	if err := adapter.TestConnection(r.Context()); err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handlePlatformWebhook receives platform callbacks. The signature header
// depends on the platform, so it is resolved through the live adapter.
func (s *Server) handlePlatformWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	adapter, ok := s.d.IntRouter.Adapter(id)
	if !ok {
		api.WriteError(w, r, fault.New(fault.KindNotFound, "unknown integration"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		api.WriteError(w, r, fault.Wrap(fault.KindInvalidInput, "read webhook body", err))
		return
	}

	var signature string
	if sh, ok := adapter.(interface{ SignatureHeader() string }); ok {
		signature = r.Header.Get(sh.SignatureHeader())
	}
	if err := s.d.IntRouter.ServeWebhook(r.Context(), id, body, signature); err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}
