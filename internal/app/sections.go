package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/hay-kot/criterio"

	"akademik/api/internal/editor"
	"akademik/api/internal/flight"
	"akademik/api/internal/llm"
	"akademik/api/internal/notify"
	"akademik/api/internal/store"
)

// ownedSection loads a section and the project it belongs to, hiding
// sections of other users.
func (s *Service) ownedSection(ctx context.Context, userID, sectionID string) (store.Section, store.Project, error) {
	section, err := s.store.GetSection(ctx, sectionID)
	if err != nil {
		return store.Section{}, store.Project{}, sectionErr(sectionID, err)
	}
	project, err := s.store.GetProject(ctx, section.ProjectID)
	if err != nil || project.UserID != s.userID(userID) {
		return store.Section{}, store.Project{}, sectionErr(sectionID, err)
	}
	return section, project, nil
}

func (s *Service) promptContext(project store.Project, section store.Section, style string) llm.PromptContext {
	minWords, maxWords := s.limits(project.TemplateID, section.Title)
	return llm.PromptContext{
		ProjectTitle: project.Title,
		SectionTitle: section.Title,
		Style:        style,
		MinWords:     minWords,
		MaxWords:     maxWords,
	}
}

func (s *Service) SaveSectionDraft(ctx context.Context, userID, sectionID, draft string) (store.Section, error) {
	if _, _, err := s.ownedSection(ctx, userID, sectionID); err != nil {
		return store.Section{}, err
	}
	section, err := s.store.SaveSection(ctx, sectionID, draft)
	if err != nil {
		return store.Section{}, sectionErr(sectionID, err)
	}
	s.syncSection(section, false)
	s.reindexSection(ctx, section)
	return section, nil
}

// AIResult is the answer of every generation endpoint.
type AIResult struct {
	GeneratedContent string              `json:"generatedContent"`
	WordCount        int                 `json:"wordCount"`
	WordLimit        llm.WordLimitResult `json:"wordLimit"`
}

func newAIResult(text string, minWords, maxWords int) AIResult {
	check := llm.CheckWordLimit(text, minWords, maxWords)
	return AIResult{GeneratedContent: text, WordCount: check.WordCount, WordLimit: check}
}

type GenerateSectionInput struct {
	DraftContent           string `json:"draftContent"`
	Style                  string `json:"style"`
	AdditionalInstructions string `json:"additionalInstructions"`
}

type ReviseSectionInput struct {
	CurrentContent string `json:"currentContent"`
	RevisionPrompt string `json:"revisionPrompt"`
	Style          string `json:"style"`
}

// runGeneration runs fn with the generation timeout applied. A non-empty
// key holds a flight lease for the duration of the call.
func (s *Service) runGeneration(ctx context.Context, key string, sink notify.Sink, fn func(context.Context) (string, error)) (string, error) {
	if s.ai == nil || !s.ai.Configured() {
		return "", llm.ErrNotConfigured
	}
	if key != "" {
		release, err := s.guard.TryAcquire(ctx, key, flight.DefaultTTL)
		if err != nil {
			sink.Notify(notify.LevelInfo, editor.MsgInFlight)
			return "", err
		}
		defer release()
	}

	if timeout := s.cfg.GenerationTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	text, err := fn(ctx)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errEmptyGeneration
	}
	return text, err
}

var errEmptyGeneration = domainError(http.StatusBadGateway, "AI_EMPTY_RESPONSE", "AI returned an empty response", nil)

// GenerateSection turns a draft into academic text for one section.
func (s *Service) GenerateSection(ctx context.Context, userID, sectionID string, in GenerateSectionInput) (AIResult, error) {
	section, project, err := s.ownedSection(ctx, userID, sectionID)
	if err != nil {
		return AIResult{}, err
	}
	sink := s.bus.Scope(project.ID)
	if strings.TrimSpace(in.DraftContent) == "" {
		sink.Notify(notify.LevelWarning, editor.MsgEmptyDraft)
		return AIResult{}, &editor.ValidationError{Field: "draftContent", Message: editor.MsgEmptyDraft}
	}

	pc := s.promptContext(project, section, in.Style)
	text, err := s.runGeneration(ctx, "section:"+sectionID, sink, func(ctx context.Context) (string, error) {
		return s.ai.Generate(ctx, llm.GenerateInput{Draft: in.DraftContent, Context: pc, AdditionalInstructions: in.AdditionalInstructions})
	})
	if err != nil {
		return AIResult{}, s.generationFailed(sink, "generate", sectionID, err)
	}
	return newAIResult(text, pc.MinWords, pc.MaxWords), nil
}

// ReviseSection applies a revision instruction to a section's text.
func (s *Service) ReviseSection(ctx context.Context, userID, sectionID string, in ReviseSectionInput) (AIResult, error) {
	section, project, err := s.ownedSection(ctx, userID, sectionID)
	if err != nil {
		return AIResult{}, err
	}
	if err := criterio.ValidateStruct(
		criterio.Run("currentContent", in.CurrentContent, notBlank),
		criterio.Run("revisionPrompt", in.RevisionPrompt, notBlank),
	); err != nil {
		return AIResult{}, validationError(err)
	}

	sink := s.bus.Scope(project.ID)
	pc := s.promptContext(project, section, in.Style)
	text, err := s.runGeneration(ctx, "section:"+sectionID, sink, func(ctx context.Context) (string, error) {
		return s.ai.Revise(ctx, llm.ReviseInput{Current: in.CurrentContent, Instruction: in.RevisionPrompt, Context: pc})
	})
	if err != nil {
		return AIResult{}, s.generationFailed(sink, "revise", sectionID, err)
	}
	return newAIResult(text, pc.MinWords, pc.MaxWords), nil
}

// generationFailed notifies the project and wraps collaborator failures.
// Busy and unconfigured errors pass through unchanged.
func (s *Service) generationFailed(sink notify.Sink, op, sectionID string, err error) error {
	if isBusy(err) || errors.Is(err, llm.ErrNotConfigured) {
		return err
	}
	s.logger.Warn().Err(err).Str("section_id", sectionID).Str("op", op).Msg("ai request failed")
	message := editor.MsgGenerationFailed
	if op == "revise" {
		message = editor.MsgRevisionFailed
	}
	sink.Notify(notify.LevelError, message)
	return &editor.CollaboratorError{Op: op, Err: err}
}

func isBusy(err error) bool {
	status, _, _, _ := mapError(err)
	return status == http.StatusConflict
}

type AcceptResult struct {
	Section  store.Section  `json:"section"`
	Revision store.Revision `json:"revision"`
}

// AcceptSection stores content as the section's final text and records a
// new numbered revision.
func (s *Service) AcceptSection(ctx context.Context, userID, sectionID, content string) (AcceptResult, error) {
	_, project, err := s.ownedSection(ctx, userID, sectionID)
	if err != nil {
		return AcceptResult{}, err
	}
	if err := criterio.ValidateStruct(criterio.Run("content", content, notBlank)); err != nil {
		return AcceptResult{}, validationError(err)
	}

	sink := s.bus.Scope(project.ID)
	section, rev, err := s.acceptRevision(ctx, sectionID, content)
	if err != nil {
		s.logger.Error().Err(err).Str("section_id", sectionID).Msg("accept failed")
		sink.Notify(notify.LevelError, editor.MsgAcceptFailed)
		return AcceptResult{}, &editor.CollaboratorError{Op: "accept", Err: err}
	}
	s.syncSection(section, true)
	sink.Notify(notify.LevelSuccess, editor.MsgAccepted)
	return AcceptResult{Section: section, Revision: rev}, nil
}

type RevisionList struct {
	Revisions []store.Revision `json:"revisions"`
	Total     int              `json:"total"`
}

func (s *Service) Revisions(ctx context.Context, userID, sectionID string) (RevisionList, error) {
	if _, _, err := s.ownedSection(ctx, userID, sectionID); err != nil {
		return RevisionList{}, err
	}
	revs, err := s.store.ListRevisions(ctx, sectionID)
	if err != nil {
		return RevisionList{}, err
	}
	if revs == nil {
		revs = []store.Revision{}
	}
	return RevisionList{Revisions: revs, Total: len(revs)}, nil
}

// Generic AI endpoints, used by fields that are not sections.

type AIContext struct {
	FieldType string `json:"fieldType"`
	Category  string `json:"category"`
}

func (c *AIContext) sectionTitle() string {
	if c == nil {
		return llm.GenericSectionTitle
	}
	return llm.SectionTitleFor(c.FieldType, c.Category)
}

type GenerateTextInput struct {
	DraftContent           string     `json:"draftContent"`
	Style                  string     `json:"style"`
	AdditionalInstructions string     `json:"additionalInstructions"`
	Context                *AIContext `json:"context"`
}

type ReviseTextInput struct {
	CurrentContent string     `json:"currentContent"`
	RevisionPrompt string     `json:"revisionPrompt"`
	Style          string     `json:"style"`
	Context        *AIContext `json:"context"`
}

func (s *Service) GenerateText(ctx context.Context, in GenerateTextInput) (AIResult, error) {
	if strings.TrimSpace(in.DraftContent) == "" {
		return AIResult{}, &editor.ValidationError{Field: "draftContent", Message: editor.MsgEmptyDraft}
	}
	pc := llm.PromptContext{SectionTitle: in.Context.sectionTitle(), Style: in.Style}
	text, err := s.runGeneration(ctx, "", notify.Discard, func(ctx context.Context) (string, error) {
		return s.ai.Generate(ctx, llm.GenerateInput{Draft: in.DraftContent, Context: pc, AdditionalInstructions: in.AdditionalInstructions})
	})
	if err != nil {
		return AIResult{}, s.generationFailed(notify.Discard, "generate", "", err)
	}
	return newAIResult(text, 0, 0), nil
}

func (s *Service) ReviseText(ctx context.Context, in ReviseTextInput) (AIResult, error) {
	if err := criterio.ValidateStruct(
		criterio.Run("currentContent", in.CurrentContent, notBlank),
		criterio.Run("revisionPrompt", in.RevisionPrompt, notBlank),
	); err != nil {
		return AIResult{}, validationError(err)
	}
	pc := llm.PromptContext{SectionTitle: in.Context.sectionTitle(), Style: in.Style}
	text, err := s.runGeneration(ctx, "", notify.Discard, func(ctx context.Context) (string, error) {
		return s.ai.Revise(ctx, llm.ReviseInput{Current: in.CurrentContent, Instruction: in.RevisionPrompt, Context: pc})
	})
	if err != nil {
		return AIResult{}, s.generationFailed(notify.Discard, "revise", "", err)
	}
	return newAIResult(text, 0, 0), nil
}

// Models lists the models available to the configured API key.
func (s *Service) Models(ctx context.Context) ([]llm.ModelInfo, error) {
	if s.ai == nil {
		return nil, llm.ErrNotConfigured
	}
	return s.ai.Models(ctx)
}
