package server

import (
	"net/http"

	"github.com/secureyeoman/secureyeoman/pkg/api"
	"github.com/secureyeoman/secureyeoman/pkg/soul"
)

func (s *Server) routeSoul(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/soul/personalities", s.require("soul:personalities", "write", s.handleCreatePersonality))
	mux.HandleFunc("GET /api/v1/soul/personalities", s.require("soul:personalities", "read", s.handleListPersonalities))
	mux.HandleFunc("GET /api/v1/soul/personalities/{id}", s.require("soul:personalities", "read", s.handleGetPersonality))
	mux.HandleFunc("PUT /api/v1/soul/personalities/{id}", s.require("soul:personalities", "write", s.handleUpdatePersonality))
	mux.HandleFunc("DELETE /api/v1/soul/personalities/{id}", s.require("soul:personalities", "write", s.handleDeletePersonality))
	mux.HandleFunc("POST /api/v1/soul/personalities/{id}/activate", s.require("soul:personalities", "write", s.handleActivatePersonality))
	mux.HandleFunc("GET /api/v1/soul/personality", s.require("soul:personalities", "read", s.handleActivePersonality))

	mux.HandleFunc("POST /api/v1/soul/skills", s.require("soul:skills", "write", s.handleCreateSkill))
	mux.HandleFunc("GET /api/v1/soul/skills", s.require("soul:skills", "read", s.handleListSkills))
	mux.HandleFunc("POST /api/v1/soul/skills/{id}/submit", s.require("soul:skills", "write", s.skillTransition(s.submitSkill)))
	mux.HandleFunc("POST /api/v1/soul/skills/{id}/approve", s.require("soul:skills", "approve", s.skillTransition(s.approveSkill)))
	mux.HandleFunc("POST /api/v1/soul/skills/{id}/reject", s.require("soul:skills", "approve", s.skillTransition(s.rejectSkill)))
	mux.HandleFunc("POST /api/v1/soul/skills/{id}/enable", s.require("soul:skills", "write", s.skillTransition(s.enableSkill)))
	mux.HandleFunc("POST /api/v1/soul/skills/{id}/disable", s.require("soul:skills", "write", s.skillTransition(s.disableSkill)))
	mux.HandleFunc("DELETE /api/v1/soul/skills/{id}", s.require("soul:skills", "write", s.handleDeleteSkill))
	mux.HandleFunc("POST /api/v1/soul/skills/{id}/deleted-callback", s.require("soul:skills", "write", s.handleSkillDeletedCallback))

	mux.HandleFunc("GET /api/v1/soul/prompt/preview", s.require("soul:personalities", "read", s.handlePromptPreview))
	mux.HandleFunc("GET /api/v1/soul/onboarding/status", s.require("soul:personalities", "read", s.handleOnboardingStatus))
	mux.HandleFunc("POST /api/v1/soul/onboarding/complete", s.require("soul:personalities", "write", s.handleOnboardingComplete))
}

func (s *Server) handleCreatePersonality(w http.ResponseWriter, r *http.Request) {
	var in soul.PersonalityInput
	if err := api.DecodeJSON(r, &in); err != nil {
		api.WriteError(w, r, err)
		return
	}
	p, err := s.d.Soul.CreatePersonality(r.Context(), in)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListPersonalities(w http.ResponseWriter, r *http.Request) {
	list, err := s.d.Soul.ListPersonalities(r.Context())
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetPersonality(w http.ResponseWriter, r *http.Request) {
	p, err := s.d.Soul.GetPersonality(r.Context(), r.PathValue("id"))
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePersonality(w http.ResponseWriter, r *http.Request) {
	var in soul.PersonalityInput
	if err := api.DecodeJSON(r, &in); err != nil {
		api.WriteError(w, r, err)
		return
	}
	p, err := s.d.Soul.UpdatePersonality(r.Context(), r.PathValue("id"), in)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePersonality(w http.ResponseWriter, r *http.Request) {
	if err := s.d.Soul.DeletePersonality(r.Context(), r.PathValue("id")); err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleActivatePersonality(w http.ResponseWriter, r *http.Request) {
	p, err := s.d.Soul.Activate(r.Context(), r.PathValue("id"))
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) handleActivePersonality(w http.ResponseWriter, r *http.Request) {
	p, err := s.d.Soul.Active(r.Context())
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) handleCreateSkill(w http.ResponseWriter, r *http.Request) {
	var in soul.SkillInput
	if err := api.DecodeJSON(r, &in); err != nil {
		api.WriteError(w, r, err)
		return
	}
	sk, err := s.d.Soul.CreateSkill(r.Context(), in)
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, sk)
}

func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	list, err := s.d.Soul.ListSkills(r.Context())
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, list)
}

// skillTransition adapts the workflow methods to one handler shape.
func (s *Server) skillTransition(fn func(r *http.Request, id string) (*soul.Skill, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sk, err := fn(r, r.PathValue("id"))
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, sk)
	}
}

func (s *Server) submitSkill(r *http.Request, id string) (*soul.Skill, error) {
	return s.d.Soul.SubmitSkill(r.Context(), id)
}

func (s *Server) approveSkill(r *http.Request, id string) (*soul.Skill, error) {
	return s.d.Soul.ApproveSkill(r.Context(), id)
}

func (s *Server) rejectSkill(r *http.Request, id string) (*soul.Skill, error) {
	return s.d.Soul.RejectSkill(r.Context(), id)
}

func (s *Server) enableSkill(r *http.Request, id string) (*soul.Skill, error) {
	return s.d.Soul.SetSkillEnabled(r.Context(), id, true)
}

func (s *Server) disableSkill(r *http.Request, id string) (*soul.Skill, error) {
	return s.d.Soul.SetSkillEnabled(r.Context(), id, false)
}

func (s *Server) handleDeleteSkill(w http.ResponseWriter, r *http.Request) {
	if err := s.d.Soul.DeleteSkill(r.Context(), r.PathValue("id")); err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleSkillDeletedCallback(w http.ResponseWriter, r *http.Request) {
	if err := s.d.Soul.SkillDeletedCallback(r.Context(), r.PathValue("id")); err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]bool{"acknowledged": true})
}

func (s *Server) handlePromptPreview(w http.ResponseWriter, r *http.Request) {
	preview, err := s.d.Soul.PromptPreview(r.Context())
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]string{"prompt": preview})
}

func (s *Server) handleOnboardingStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.d.Soul.Onboarding(r.Context())
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, status)
}

func (s *Server) handleOnboardingComplete(w http.ResponseWriter, r *http.Request) {
	status, err := s.d.Soul.CompleteOnboarding(r.Context())
	if err != nil {
		api.WriteError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, status)
}
