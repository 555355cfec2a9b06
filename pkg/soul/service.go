package soul

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/secureyeoman/secureyeoman/pkg/audit"
	"github.com/secureyeoman/secureyeoman/pkg/fault"
	"github.com/secureyeoman/secureyeoman/pkg/ids"
)

// Auditor is the slice of the audit chain this package needs.
type Auditor interface {
	Record(ctx context.Context, ev audit.Event) (*audit.Entry, error)
}

// Service wraps the store with workflow rules: single active
// personality, skill approval transitions, prompt composition.
type Service struct {
	store   *Store
	auditor Auditor
	logger  *slog.Logger
	now     func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(store *Store, auditor Auditor, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		auditor: auditor,
		logger:  slog.Default().With("component", "soul"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PersonalityInput is the caller's view of a personality write.
type PersonalityInput struct {
	Name                 string   `json:"name"`
	Description          string   `json:"description,omitempty"`
	SystemPrompt         string   `json:"systemPrompt,omitempty"`
	Voice                string   `json:"voice,omitempty"`
	SelectedIntegrations []string `json:"selectedIntegrations,omitempty"`
}

func (s *Service) CreatePersonality(ctx context.Context, in PersonalityInput) (*Personality, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fault.New(fault.KindInvalidInput, "soul: personality name is required")
	}
	now := s.now().UnixMilli()
	p := &Personality{
		ID:                   ids.New(),
		Name:                 in.Name,
		Description:          in.Description,
		SystemPrompt:         in.SystemPrompt,
		Voice:                in.Voice,
		SelectedIntegrations: in.SelectedIntegrations,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.store.InsertPersonality(ctx, p); err != nil {
		return nil, err
	}
	// First personality becomes active so the router always has a persona
	// to resolve.
	if _, err := s.store.ActivePersonality(ctx); fault.IsKind(err, fault.KindNotFound) {
		if err := s.store.SetActive(ctx, p.ID, now); err != nil {
			return nil, err
		}
		p.Active = true
	}
	return p, nil
}

func (s *Service) UpdatePersonality(ctx context.Context, id string, in PersonalityInput) (*Personality, error) {
	p, err := s.store.GetPersonality(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != "" {
		p.Name = in.Name
	}
	p.Description = in.Description
	p.SystemPrompt = in.SystemPrompt
	p.Voice = in.Voice
	p.SelectedIntegrations = in.SelectedIntegrations
	p.UpdatedAt = s.now().UnixMilli()
	if err := s.store.UpdatePersonality(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) GetPersonality(ctx context.Context, id string) (*Personality, error) {
	return s.store.GetPersonality(ctx, id)
}

func (s *Service) ListPersonalities(ctx context.Context) ([]*Personality, error) {
	return s.store.ListPersonalities(ctx)
}

// DeletePersonality refuses to remove the active persona; deactivate by
// activating another one first.
func (s *Service) DeletePersonality(ctx context.Context, id string) error {
	p, err := s.store.GetPersonality(ctx, id)
	if err != nil {
		return err
	}
	if p.Active {
		return fault.New(fault.KindPreconditionFailed, "soul: cannot delete the active personality")
	}
	return s.store.DeletePersonality(ctx, id)
}

// Activate makes the personality the single active one.
func (s *Service) Activate(ctx context.Context, id string) (*Personality, error) {
	if err := s.store.SetActive(ctx, id, s.now().UnixMilli()); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, audit.Event{
		Event:    "personality_activated",
		Level:    audit.LevelInfo,
		Message:  "active personality switched",
		Metadata: map[string]any{"personalityId": id},
	})
	return s.store.GetPersonality(ctx, id)
}

// Active returns the current persona.
func (s *Service) Active(ctx context.Context) (*Personality, error) {
	return s.store.ActivePersonality(ctx)
}

// SkillInput is the caller's view of a new skill. Skills start as drafts.
type SkillInput struct {
	PersonalityID string `json:"personalityId,omitempty"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Instructions  string `json:"instructions"`
}

func (s *Service) CreateSkill(ctx context.Context, in SkillInput) (*Skill, error) {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Instructions) == "" {
		return nil, fault.New(fault.KindInvalidInput, "soul: skill name and instructions are required")
	}
	if in.PersonalityID != "" {
		if _, err := s.store.GetPersonality(ctx, in.PersonalityID); err != nil {
			return nil, err
		}
	}
	now := s.now().UnixMilli()
	sk := &Skill{
		ID:            ids.New(),
		PersonalityID: in.PersonalityID,
		Name:          in.Name,
		Description:   in.Description,
		Instructions:  in.Instructions,
		Status:        SkillDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.InsertSkill(ctx, sk); err != nil {
		return nil, err
	}
	return sk, nil
}

func (s *Service) GetSkill(ctx context.Context, id string) (*Skill, error) {
	return s.store.GetSkill(ctx, id)
}

func (s *Service) ListSkills(ctx context.Context) ([]*Skill, error) {
	return s.store.ListSkills(ctx)
}

// SubmitSkill moves a draft into the approval queue.
func (s *Service) SubmitSkill(ctx context.Context, id string) (*Skill, error) {
	return s.transitionSkill(ctx, id, SkillDraft, SkillPending, "skill_submitted")
}

// ApproveSkill accepts a pending skill.
func (s *Service) ApproveSkill(ctx context.Context, id string) (*Skill, error) {
	return s.transitionSkill(ctx, id, SkillPending, SkillApproved, "skill_approved")
}

// RejectSkill declines a pending skill and disables it.
func (s *Service) RejectSkill(ctx context.Context, id string) (*Skill, error) {
	sk, err := s.transitionSkill(ctx, id, SkillPending, SkillRejected, "skill_rejected")
	if err != nil {
		return nil, err
	}
	if sk.Enabled {
		sk.Enabled = false
		sk.UpdatedAt = s.now().UnixMilli()
		if err := s.store.UpdateSkill(ctx, sk); err != nil {
			return nil, err
		}
	}
	return sk, nil
}

// SetSkillEnabled toggles an approved skill. Anything not approved is
// rejected with precondition_failed.
func (s *Service) SetSkillEnabled(ctx context.Context, id string, enabled bool) (*Skill, error) {
	sk, err := s.store.GetSkill(ctx, id)
	if err != nil {
		return nil, err
	}
	if sk.Status != SkillApproved {
		return nil, fault.Errorf(fault.KindPreconditionFailed,
			"soul: skill %s is %s, only approved skills can be toggled", id, sk.Status)
	}
	sk.Enabled = enabled
	sk.UpdatedAt = s.now().UnixMilli()
	if err := s.store.UpdateSkill(ctx, sk); err != nil {
		return nil, err
	}
	return sk, nil
}

func (s *Service) DeleteSkill(ctx context.Context, id string) error {
	return s.store.DeleteSkill(ctx, id)
}

// SkillDeletedCallback is the marketplace's explicit notification that a
// skill was removed upstream. The local record is dropped and the event
// recorded; an unknown id is not an error so the callback is idempotent.
func (s *Service) SkillDeletedCallback(ctx context.Context, id string) error {
	err := s.store.DeleteSkill(ctx, id)
	if err != nil && !fault.IsKind(err, fault.KindNotFound) {
		return err
	}
	s.recordAudit(ctx, audit.Event{
		Event:    "skill_deleted_callback",
		Level:    audit.LevelInfo,
		Message:  "skill removed via marketplace callback",
		Metadata: map[string]any{"skillId": id, "known": err == nil},
	})
	return nil
}

// PromptPreview composes the system prompt the agent would run with: the
// active personality's prompt followed by its enabled skills.
func (s *Service) PromptPreview(ctx context.Context) (string, error) {
	p, err := s.store.ActivePersonality(ctx)
	if err != nil {
		return "", err
	}
	skills, err := s.store.EnabledSkills(ctx, p.ID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(p.SystemPrompt)
	for _, sk := range skills {
		b.WriteString("\n\n## Skill: ")
		b.WriteString(sk.Name)
		b.WriteString("\n")
		b.WriteString(sk.Instructions)
	}
	return b.String(), nil
}

// Onboarding reports first-run completion state.
func (s *Service) Onboarding(ctx context.Context) (*OnboardingStatus, error) {
	value, err := s.store.GetMeta(ctx, onboardingKey)
	if err != nil {
		return nil, err
	}
	if value == "" {
		return &OnboardingStatus{}, nil
	}
	at, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return &OnboardingStatus{Completed: true}, nil
	}
	return &OnboardingStatus{Completed: true, CompletedAt: at}, nil
}

// CompleteOnboarding marks first-run setup done. Idempotent.
func (s *Service) CompleteOnboarding(ctx context.Context) (*OnboardingStatus, error) {
	status, err := s.Onboarding(ctx)
	if err != nil {
		return nil, err
	}
	if status.Completed {
		return status, nil
	}
	at := s.now().UnixMilli()
	if err := s.store.SetMeta(ctx, onboardingKey, strconv.FormatInt(at, 10)); err != nil {
		return nil, err
	}
	return &OnboardingStatus{Completed: true, CompletedAt: at}, nil
}

func (s *Service) transitionSkill(ctx context.Context, id string, from, to SkillStatus, event string) (*Skill, error) {
	sk, err := s.store.GetSkill(ctx, id)
	if err != nil {
		return nil, err
	}
	if sk.Status != from {
		return nil, fault.Errorf(fault.KindPreconditionFailed,
			"soul: skill %s is %s, expected %s", id, sk.Status, from)
	}
	sk.Status = to
	sk.UpdatedAt = s.now().UnixMilli()
	if err := s.store.UpdateSkill(ctx, sk); err != nil {
		return nil, err
	}
	s.recordAudit(ctx, audit.Event{
		Event:    event,
		Level:    audit.LevelInfo,
		Message:  "skill " + string(to),
		Metadata: map[string]any{"skillId": id},
	})
	return sk, nil
}

func (s *Service) recordAudit(ctx context.Context, ev audit.Event) {
	if s.auditor == nil {
		return
	}
	if _, err := s.auditor.Record(ctx, ev); err != nil {
		s.logger.Warn("audit record failed", "event", ev.Event, "error", err)
	}
}
