package server

import (
	"net/http"

	"github.com/secureyeoman/secureyeoman/pkg/api"
	"github.com/secureyeoman/secureyeoman/pkg/fault"
	"github.com/secureyeoman/secureyeoman/pkg/memory"
)

func (s *Server) routeBrain(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/brain/memories", s.require("brain:memories", "read", s.handleListMemories))
	mux.HandleFunc("POST /api/v1/brain/memories", s.require("brain:memories", "write", s.handleSaveMemory))
	mux.HandleFunc("PUT /api/v1/brain/memories/{id}", s.require("brain:memories", "write", s.handleUpdateMemory))
	mux.HandleFunc("DELETE /api/v1/brain/memories/{id}", s.require("brain:memories", "write", s.handleDeleteMemory))

	mux.HandleFunc("GET /api/v1/brain/knowledge", s.require("brain:knowledge", "read", s.handleListKnowledge))
	mux.HandleFunc("POST /api/v1/brain/knowledge", s.require("brain:knowledge", "write", s.handleSaveKnowledge))

	mux.HandleFunc("GET /api/v1/brain/stats", s.require("brain:memories", "read", s.handleBrainStats))
	mux.HandleFunc("POST /api/v1/brain/search/similar", s.require("brain:memories", "read", s.handleSimilarSearch))
	mux.HandleFunc("POST /api/v1/brain/consolidation/run", s.require("brain:memories", "write", s.handleConsolidationRun))
	mux.HandleFunc("POST /api/v1/brain/reindex", s.require("brain:memories", "write", s.handleReindex))
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := memory.MemoryFilter{
		PersonalityID: q.Get("personalityId"),
		Type:          memory.Type(q.Get("type")),
		Limit:         queryInt(r, "limit", 100),
	}
	list, err := s.d.Memory.List(r.Context(), f)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, list)
}

func (s *Server) handleSaveMemory(w http.ResponseWriter, r *http.Request) {
	var in memory.SaveInput
	if err := api.DecodeJSON(r, &in); err != nil {
		api.WriteError(w, r, err)
		return
	}
	res, err := s.d.Memory.Save(r.Context(), in)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, res)
}

func (s *Server) handleUpdateMemory(w http.ResponseWriter, r *http.Request) {
	var patch memory.UpdatePatch
	if err := api.DecodeJSON(r, &patch); err != nil {
		api.WriteError(w, r, err)
		return
	}
	m, err := s.d.Memory.Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	if err := s.d.Memory.Delete(r.Context(), r.PathValue("id")); err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleListKnowledge(w http.ResponseWriter, r *http.Request) {
	list, err := s.d.Memory.ListKnowledge(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, list)
}

func (s *Server) handleSaveKnowledge(w http.ResponseWriter, r *http.Request) {
	var k memory.Knowledge
	if err := api.DecodeJSON(r, &k); err != nil {
		api.WriteError(w, r, err)
		return
	}
	saved, err := s.d.Memory.SaveKnowledge(r.Context(), &k)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleBrainStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.d.Memory.Stats(r.Context())
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSimilarSearch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query     string  `json:"query"`
		K         int     `json:"k,omitempty"`
		Threshold float32 `json:"threshold,omitempty"`
	}
	if err := api.DecodeJSON(r, &body); err != nil {
		api.WriteError(w, r, err)
		return
	}
	if body.Query == "" {
		api.WriteError(w, r, fault.New(fault.KindInvalidInput, "query is required"))
		return
	}
	hits, err := s.d.Memory.Search(r.Context(), body.Query, body.K, body.Threshold)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"hits":  hits,
		"count": len(hits),
	})
}

func (s *Server) handleConsolidationRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DryRun bool `json:"dryRun,omitempty"`
	}
	_ = api.DecodeJSON(r, &body)

	if s.d.Consolidator == nil {
		api.WriteError(w, r, fault.New(fault.KindPreconditionFailed, "consolidation is not configured"))
		return
	}
	report, err := s.d.Consolidator.Run(r.Context(), body.DryRun)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, report)
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	n, err := s.d.Memory.Reindex(r.Context())
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]int{"reindexed": n})
}
