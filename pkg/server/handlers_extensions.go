package server

import (
	"net/http"

	"github.com/secureyeoman/secureyeoman/pkg/api"
	"github.com/secureyeoman/secureyeoman/pkg/fault"
	"github.com/secureyeoman/secureyeoman/pkg/hooks"
	"github.com/secureyeoman/secureyeoman/pkg/ids"
)

func (s *Server) routeExtensions(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/extensions", s.require("extensions", "read", s.handleListExtensions))
	mux.HandleFunc("POST /api/v1/extensions", s.require("extensions", "write", s.handleRegisterExtension))
	mux.HandleFunc("DELETE /api/v1/extensions/{id}", s.require("extensions", "write", s.handleDeleteExtension))
	mux.HandleFunc("POST /api/v1/extensions/discover", s.require("extensions", "write", s.handleDiscoverExtensions))

	mux.HandleFunc("GET /api/v1/extensions/hooks", s.require("extensions", "read", s.handleListHooks))
	mux.HandleFunc("POST /api/v1/extensions/hooks", s.require("extensions", "write", s.handleAddHook))
	mux.HandleFunc("DELETE /api/v1/extensions/hooks/{id}", s.require("extensions", "write", s.handleRemoveHook))
	mux.HandleFunc("POST /api/v1/extensions/hooks/test", s.require("extensions", "write", s.handleTestHook))

	mux.HandleFunc("GET /api/v1/extensions/webhooks", s.require("extensions", "read", s.handleListWebhooks))
	mux.HandleFunc("POST /api/v1/extensions/webhooks", s.require("extensions", "write", s.handleCreateWebhook))
	mux.HandleFunc("PUT /api/v1/extensions/webhooks/{id}", s.require("extensions", "write", s.handleUpdateWebhook))
	mux.HandleFunc("DELETE /api/v1/extensions/webhooks/{id}", s.require("extensions", "write", s.handleDeleteWebhook))
}

func (s *Server) handleListExtensions(w http.ResponseWriter, r *http.Request) {
	list, err := s.d.HookStore.ListExtensions(r.Context())
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, list)
}

// handleRegisterExtension records an extension and its hook slots without a
// manifest file. The slots are held as placeholders until code registers
// real handlers under the extension's id.
func (s *Server) handleRegisterExtension(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name        string `json:"name"`
		Version     string `json:"version"`
		Description string `json:"description,omitempty"`
		Hooks       []struct {
			Point     string `json:"point"`
			Priority  int    `json:"priority,omitempty"`
			Semantics string `json:"semantics,omitempty"`
		} `json:"hooks,omitempty"`
	}
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, r, err)
		return
	}
	if body.Name == "" || body.Version == "" {
		api.WriteError(w, r, fault.New(fault.KindInvalidInput, "name and version are required"))
		return
	}

	ext := &hooks.Extension{
		ID:          ids.New(),
		Name:        body.Name,
		Version:     body.Version,
		Description: body.Description,
		Enabled:     true,
	}
	if existing, err := s.d.HookStore.GetExtensionByName(r.Context(), body.Name); err == nil {
		ext.ID = existing.ID
		ext.CreatedAt = existing.CreatedAt
	}

	persisted := make([]hooks.PersistedHook, 0, len(body.Hooks))
	for _, h := range body.Hooks {
		point := hooks.Point(h.Point)
		if !point.Valid() {
			api.WriteError(w, r, fault.Errorf(fault.KindInvalidInput, "unknown hook point %q", h.Point))
			return
		}
		sem := hooks.Semantics(h.Semantics)
		if sem == "" {
			sem = hooks.SemanticsObserve
		}
		persisted = append(persisted, hooks.PersistedHook{
			ExtensionID: ext.ID,
			Point:       point,
			Priority:    h.Priority,
			Semantics:   sem,
		})
	}

	if err := s.d.HookStore.UpsertExtension(r.Context(), ext); err != nil {
		api.WriteError(w, r, err)
		return
	}
	if err := s.d.HookStore.ReplaceHooks(r.Context(), ext.ID, persisted); err != nil {
		api.WriteError(w, r, err)
		return
	}
	s.d.Hooks.RemoveExtension(ext.ID)
	for _, h := range persisted {
		s.d.Hooks.RegisterPlaceholder(h.Point, h.Priority, h.Semantics, ext.ID)
	}
	api.WriteJSON(w, http.StatusCreated, ext)
}

func (s *Server) handleDeleteExtension(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.d.HookStore.DeleteExtension(r.Context(), id); err != nil {
		api.WriteError(w, r, err)
		return
	}
	s.d.Hooks.RemoveExtension(id)
	api.WriteJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleDiscoverExtensions(w http.ResponseWriter, r *http.Request) {
	if s.d.Discovery == nil {
		api.WriteError(w, r, fault.New(fault.KindPreconditionFailed, "no extensions directory configured"))
		return
	}
	found, err := s.d.Discovery.Discover(r.Context())
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"extensions": found,
		"count":      len(found),
	})
}

func (s *Server) handleListHooks(w http.ResponseWriter, r *http.Request) {
	list, err := s.d.HookStore.ListHooks(r.Context())
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, list)
}

// handleAddHook appends one hook slot to an existing extension.
func (s *Server) handleAddHook(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ExtensionID string `json:"extensionId"`
		Point       string `json:"point"`
		Priority    int    `json:"priority,omitempty"`
		Semantics   string `json:"semantics,omitempty"`
	}
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, r, err)
		return
	}
	point := hooks.Point(body.Point)
	if !point.Valid() {
		api.WriteError(w, r, fault.Errorf(fault.KindInvalidInput, "unknown hook point %q", body.Point))
		return
	}
	sem := hooks.Semantics(body.Semantics)
	if sem == "" {
		sem = hooks.SemanticsObserve
	}

	all, err := s.d.HookStore.ListHooks(r.Context())
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	var mine []hooks.PersistedHook
	for _, h := range all {
		if h.ExtensionID == body.ExtensionID {
			mine = append(mine, h)
		}
	}
	added := hooks.PersistedHook{
		ExtensionID: body.ExtensionID,
		Point:       point,
		Priority:    body.Priority,
		Semantics:   sem,
	}
	if err := s.d.HookStore.ReplaceHooks(r.Context(), body.ExtensionID, append(mine, added)); err != nil {
		api.WriteError(w, r, err)
		return
	}
	added.ID = s.d.Hooks.RegisterPlaceholder(point, body.Priority, sem, body.ExtensionID)
	api.WriteJSON(w, http.StatusCreated, added)
}

func (s *Server) handleRemoveHook(w http.ResponseWriter, r *http.Request) {
	if !s.d.Hooks.RemoveHook(r.PathValue("id")) {
		api.WriteError(w, r, fault.New(fault.KindNotFound, "hook not found"))
		return
	}
	api.WriteJSON(w, http.StatusNoContent, nil)
}

// handleTestHook fires a synthetic emit through the engine so operators can
// see transforms, vetoes, and handler errors without waiting for a real
// event.
func (s *Server) handleTestHook(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Point string         `json:"point"`
		Data  map[string]any `json:"data,omitempty"`
	}
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, r, err)
		return
	}
	point := hooks.Point(body.Point)
	if !point.Valid() {
		api.WriteError(w, r, fault.Errorf(fault.KindInvalidInput, "unknown hook point %q", body.Point))
		return
	}
	res := s.d.Hooks.Emit(r.Context(), point, hooks.HookContext{
		Point: point,
		Event: "test",
		Data:  body.Data,
	})
	errs := make([]string, 0, len(res.Errors))
	for _, err := range res.Errors {
		errs = append(errs, err.Error())
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"vetoed":      res.Vetoed,
		"vetoReason":  res.VetoReason,
		"transformed": res.Transformed,
		"errors":      errs,
	})
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	list, err := s.d.HookStore.ListWebhooks(r.Context())
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, list)
}

type webhookInput struct {
	Name    string   `json:"name"`
	URL     string   `json:"url"`
	Secret  string   `json:"secret,omitempty"`
	Events  []string `json:"events,omitempty"`
	Enabled *bool    `json:"enabled,omitempty"`
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var in webhookInput
	if err := api.DecodeJSON(r, &in); err != nil {
		api.WriteError(w, r, err)
		return
	}
	if in.Name == "" || in.URL == "" {
		api.WriteError(w, r, fault.New(fault.KindInvalidInput, "name and url are required"))
		return
	}
	wh := &hooks.Webhook{
		ID:      ids.New(),
		Name:    in.Name,
		URL:     in.URL,
		Secret:  in.Secret,
		Events:  in.Events,
		Enabled: in.Enabled == nil || *in.Enabled,
	}
	if err := s.d.HookStore.SaveWebhook(r.Context(), wh); err != nil {
		api.WriteError(w, r, err)
		return
	}
	s.d.Webhooks.SetWebhook(wh)
	api.WriteJSON(w, http.StatusCreated, wh)
}

func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	var in webhookInput
	if err := api.DecodeJSON(r, &in); err != nil {
		api.WriteError(w, r, err)
		return
	}
	id := r.PathValue("id")
	existing := findWebhook(s.d.Webhooks.Webhooks(), id)
	if existing == nil {
		api.WriteError(w, r, fault.New(fault.KindNotFound, "webhook not found"))
		return
	}
	if in.Name != "" {
		existing.Name = in.Name
	}
	if in.URL != "" {
		existing.URL = in.URL
	}
	if in.Secret != "" {
		existing.Secret = in.Secret
	}
	if in.Events != nil {
		existing.Events = in.Events
	}
	if in.Enabled != nil {
		existing.Enabled = *in.Enabled
	}
	if err := s.d.HookStore.SaveWebhook(r.Context(), existing); err != nil {
		api.WriteError(w, r, err)
		return
	}
	s.d.Webhooks.SetWebhook(existing)
	api.WriteJSON(w, http.StatusOK, existing)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.d.HookStore.DeleteWebhook(r.Context(), id); err != nil {
		api.WriteError(w, r, err)
		return
	}
	s.d.Webhooks.RemoveWebhook(id)
	api.WriteJSON(w, http.StatusNoContent, nil)
}

func findWebhook(list []*hooks.Webhook, id string) *hooks.Webhook {
	for _, w := range list {
		if w.ID == id {
			return w
		}
	}
	return nil
}
