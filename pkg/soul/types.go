// Package soul holds the agent's persona layer: personalities with
// exactly one active at a time, skills behind an approval workflow, the
// composed system-prompt preview, and first-run onboarding state.
package soul

// Personality is one configurable agent persona.
type Personality struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	Description          string   `json:"description,omitempty"`
	SystemPrompt         string   `json:"systemPrompt,omitempty"`
	Voice                string   `json:"voice,omitempty"`
	SelectedIntegrations []string `json:"selectedIntegrations,omitempty"`
	Active               bool     `json:"active"`
	CreatedAt            int64    `json:"createdAt"`
	UpdatedAt            int64    `json:"updatedAt"`
}

// SkillStatus is a skill's position in the approval workflow.
type SkillStatus string

const (
	SkillDraft    SkillStatus = "draft"
	SkillPending  SkillStatus = "pending_approval"
	SkillApproved SkillStatus = "approved"
	SkillRejected SkillStatus = "rejected"
)

// Skill is a prompt fragment the agent can be granted. PersonalityID
// empty means global scope.
type Skill struct {
	ID            string      `json:"id"`
	PersonalityID string      `json:"personalityId,omitempty"`
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	Instructions  string      `json:"instructions"`
	Status        SkillStatus `json:"status"`
	Enabled       bool        `json:"enabled"`
	CreatedAt     int64       `json:"createdAt"`
	UpdatedAt     int64       `json:"updatedAt"`
}

// OnboardingStatus reports whether first-run setup finished.
type OnboardingStatus struct {
	Completed   bool  `json:"completed"`
	CompletedAt int64 `json:"completedAt,omitempty"`
}
