package editor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"akademik/api/internal/diff"
	"akademik/api/internal/notify"
	"akademik/api/internal/store"
)

// DefaultStyle is the tone instruction a session starts with.
const DefaultStyle = "Akademik, bilimsel ve profesyonel"

// User facing notification texts.
const (
	MsgEmptyDraft       = "Lütfen önce taslak metin girin!"
	MsgGenerationFailed = "AI önerisi alınırken bir hata oluştu. Lütfen tekrar deneyin."
	MsgRevisionFailed   = "Revizyon alınırken bir hata oluştu. Lütfen tekrar deneyin."
	MsgAccepted         = "Revizyon başarıyla kaydedildi!"
	MsgAcceptFailed     = "Revizyon kaydedilirken bir hata oluştu. Lütfen tekrar deneyin."
	MsgInFlight         = "AI önerisi hazırlanıyor, lütfen bekleyin."
	MsgAcceptInFlight   = "Revizyon kaydediliyor, lütfen bekleyin."
	MsgDraftSaved       = "Taslak kaydedildi."
	MsgDraftSaveFailed  = "Taslak kaydedilirken bir hata oluştu."
)

var errEmptyResult = errors.New("generator returned empty content")

// ViewMode is single when only the draft is shown and split when a
// suggestion is shown next to it.
type ViewMode string

const (
	ViewSingle ViewMode = "single"
	ViewSplit  ViewMode = "split"
)

// GenerationRequest is the input of one generator call.
type GenerationRequest struct {
	Content string
	Style   string
	Field   Field
}

// Generator produces a rewritten version of content.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req GenerationRequest) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	return f(ctx, req)
}

// Repository is the persistence capability the editor depends on.
type Repository interface {
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	SaveSection(ctx context.Context, sectionID, draft string) (store.Section, error)
	AcceptRevision(ctx context.Context, sectionID, content string) (store.Section, store.Revision, error)
	SaveField(ctx context.Context, projectID string, ref store.FieldRef, content string) error
}

// State is a point-in-time copy of a session.
type State struct {
	FieldID              string   `json:"fieldId"`
	Title                string   `json:"title"`
	DraftContent         string   `json:"draftContent"`
	FinalContent         *string  `json:"finalContent"`
	AISuggestion         string   `json:"aiSuggestion"`
	ViewMode             ViewMode `json:"viewMode"`
	Loading              bool     `json:"loading"`
	Accepting            bool     `json:"accepting"`
	StyleInstruction     string   `json:"styleInstruction"`
	RevisionPrompt       string   `json:"revisionPrompt"`
	RevisionInputVisible bool     `json:"revisionInputVisible"`
	Status               Status   `json:"status"`
	Badge                Badge    `json:"badge"`
}

// RevisionContent appends a revision request to content as a bracketed
// annotation understood by the generator.
func RevisionContent(content, prompt string) string {
	return content + "\n\n[Revizyon talebi: " + prompt + "]"
}

// Session is the editing state machine of one field.
//
// At most one generation or revision runs per session. A second request
// while one is pending returns ErrInFlight and changes nothing. The mutex is
// released while the generator runs, so Reject, Accept and UpdateDraft stay
// available; a generation finishing after Reject still lands its suggestion.
// Once started, a generation runs to completion or to the session timeout
// even if the caller goes away. Accept likewise persists without holding the
// mutex, and a second Accept meanwhile returns ErrAcceptInFlight.
type Session struct {
	field   Field
	repo    Repository
	gen     Generator
	sink    notify.Sink
	timeout time.Duration

	mu                   sync.Mutex
	draft                string
	final                *string
	suggestion           string
	viewMode             ViewMode
	loading              bool
	accepting            bool
	style                string
	revisionPrompt       string
	revisionInputVisible bool
}

// SessionOptions tunes a session.
type SessionOptions struct {
	// Timeout bounds each generator call. Zero means no deadline.
	Timeout time.Duration
	// Style is the initial style instruction. Empty means DefaultStyle.
	Style string
}

// NewSession creates a session in single view with no suggestion.
func NewSession(field Field, draft string, final *string, repo Repository, gen Generator, sink notify.Sink, opts SessionOptions) *Session {
	if sink == nil {
		sink = notify.Discard
	}
	style := opts.Style
	if style == "" {
		style = DefaultStyle
	}
	return &Session{
		field:    field,
		repo:     repo,
		gen:      gen,
		sink:     sink,
		timeout:  opts.Timeout,
		draft:    draft,
		final:    cloneString(final),
		viewMode: ViewSingle,
		style:    style,
	}
}

func (s *Session) Field() Field {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.field
}

func (s *Session) setProjectTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.field.ProjectTitle = title
}

func (s *Session) setCategory(category, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.field.Category = category
	s.field.Title = title
}

func (s *Session) busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading || s.accepting
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() State {
	status := ClassifyContent(s.draft, s.final, s.suggestion)
	return State{
		FieldID:              s.field.ID,
		Title:                s.field.Title,
		DraftContent:         s.draft,
		FinalContent:         cloneString(s.final),
		AISuggestion:         s.suggestion,
		ViewMode:             s.viewMode,
		Loading:              s.loading,
		Accepting:            s.accepting,
		StyleInstruction:     s.style,
		RevisionPrompt:       s.revisionPrompt,
		RevisionInputVisible: s.revisionInputVisible,
		Status:               status,
		Badge:                BadgeFor(status),
	}
}

// UpdateDraft replaces the draft. The suggestion and view are untouched.
func (s *Session) UpdateDraft(text string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = text
	return s.snapshotLocked()
}

func (s *Session) SetStyle(style string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.style = style
	return s.snapshotLocked()
}

func (s *Session) SetRevisionPrompt(prompt string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revisionPrompt = prompt
	return s.snapshotLocked()
}

// ToggleRevisionInput flips the visibility of the revision prompt box.
func (s *Session) ToggleRevisionInput() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revisionInputVisible = !s.revisionInputVisible
	return s.snapshotLocked()
}

// RequestGeneration asks the generator to rewrite the draft. A non-empty
// style replaces the session's style instruction first. An empty draft is
// rejected with a ValidationError and a warning, without calling the
// generator.
func (s *Session) RequestGeneration(ctx context.Context, style string) (State, error) {
	s.mu.Lock()
	if s.loading {
		state := s.snapshotLocked()
		s.mu.Unlock()
		s.sink.Notify(notify.LevelInfo, MsgInFlight)
		return state, ErrInFlight
	}
	if strings.TrimSpace(s.draft) == "" {
		state := s.snapshotLocked()
		s.mu.Unlock()
		s.sink.Notify(notify.LevelWarning, MsgEmptyDraft)
		return state, &ValidationError{Field: s.field.ID, Message: "empty draft"}
	}
	if style != "" {
		s.style = style
	}
	req := GenerationRequest{Content: s.draft, Style: s.style, Field: s.field}
	s.loading = true
	s.mu.Unlock()

	result, err := s.generate(ctx, req)

	s.mu.Lock()
	s.loading = false
	if err != nil {
		state := s.snapshotLocked()
		s.mu.Unlock()
		log.Warn().Err(err).Str("field", s.field.ID).Msg("generation failed")
		s.sink.Notify(notify.LevelError, MsgGenerationFailed)
		return state, &CollaboratorError{Op: "generate", Err: err}
	}
	s.suggestion = result
	s.viewMode = ViewSplit
	state := s.snapshotLocked()
	s.mu.Unlock()
	return state, nil
}

// RequestRevision asks the generator to rework the draft according to
// prompt. An empty prompt uses the stored revision prompt. On success the
// suggestion is replaced, the prompt cleared and the input hidden; on
// failure the prompt is kept for another attempt.
func (s *Session) RequestRevision(ctx context.Context, prompt string) (State, error) {
	s.mu.Lock()
	if s.loading {
		state := s.snapshotLocked()
		s.mu.Unlock()
		s.sink.Notify(notify.LevelInfo, MsgInFlight)
		return state, ErrInFlight
	}
	if prompt == "" {
		prompt = s.revisionPrompt
	}
	s.revisionPrompt = prompt
	req := GenerationRequest{
		Content: RevisionContent(s.draft, prompt),
		Style:   s.style,
		Field:   s.field,
	}
	s.loading = true
	s.mu.Unlock()

	result, err := s.generate(ctx, req)

	s.mu.Lock()
	s.loading = false
	if err != nil {
		state := s.snapshotLocked()
		s.mu.Unlock()
		log.Warn().Err(err).Str("field", s.field.ID).Msg("revision failed")
		s.sink.Notify(notify.LevelError, MsgRevisionFailed)
		return state, &CollaboratorError{Op: "revise", Err: err}
	}
	s.suggestion = result
	s.viewMode = ViewSplit
	s.revisionPrompt = ""
	s.revisionInputVisible = false
	state := s.snapshotLocked()
	s.mu.Unlock()
	return state, nil
}

func (s *Session) generate(ctx context.Context, req GenerationRequest) (string, error) {
	if s.gen == nil {
		return "", errors.New("no generator configured")
	}
	ctx = context.WithoutCancel(ctx)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	result, err := s.gen.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(result) == "" {
		return "", errEmptyResult
	}
	return result, nil
}

// Accept persists the pending suggestion as the field's final content and
// makes it the draft. Without a suggestion it does nothing and reports false.
// A suggestion that replaced the accepted one meanwhile is kept.
func (s *Session) Accept(ctx context.Context) (State, bool, error) {
	s.mu.Lock()
	if s.accepting {
		state := s.snapshotLocked()
		s.mu.Unlock()
		s.sink.Notify(notify.LevelInfo, MsgAcceptInFlight)
		return state, false, ErrAcceptInFlight
	}
	if s.suggestion == "" {
		state := s.snapshotLocked()
		s.mu.Unlock()
		return state, false, nil
	}
	content := s.suggestion
	s.accepting = true
	s.mu.Unlock()

	final, err := s.persistAccepted(ctx, content)

	s.mu.Lock()
	s.accepting = false
	if err != nil {
		state := s.snapshotLocked()
		s.mu.Unlock()
		log.Error().Err(err).Str("field", s.field.ID).Msg("accept failed")
		s.sink.Notify(notify.LevelError, MsgAcceptFailed)
		return state, false, &CollaboratorError{Op: "accept", Err: err}
	}
	s.draft = content
	s.final = &final
	if s.suggestion == content {
		s.suggestion = ""
		s.viewMode = ViewSingle
	}
	state := s.snapshotLocked()
	s.mu.Unlock()

	s.sink.Notify(notify.LevelSuccess, MsgAccepted)
	return state, true, nil
}

func (s *Session) persistAccepted(ctx context.Context, content string) (string, error) {
	if s.repo == nil {
		return content, nil
	}
	if s.field.Kind == store.FieldSection || s.field.Kind == "" {
		section, _, err := s.repo.AcceptRevision(ctx, s.field.Key, content)
		if err != nil {
			return "", fmt.Errorf("accept revision: %w", err)
		}
		if section.FinalContent != nil {
			return *section.FinalContent, nil
		}
		return content, nil
	}
	if err := s.repo.SaveField(ctx, s.field.ProjectID, s.field.Ref(), content); err != nil {
		return "", fmt.Errorf("save field: %w", err)
	}
	return content, nil
}

// ApplyAccepted records text accepted outside the session as its draft and
// final content. A pending suggestion or generation is left untouched.
func (s *Session) ApplyAccepted(draft string, final *string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = draft
	s.final = cloneString(final)
	return s.snapshotLocked()
}

// Reject discards the suggestion and any pending revision request.
func (s *Session) Reject() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suggestion = ""
	s.revisionPrompt = ""
	s.revisionInputVisible = false
	s.viewMode = ViewSingle
	return s.snapshotLocked()
}

// SaveDraft persists the current draft without accepting it.
func (s *Session) SaveDraft(ctx context.Context) (State, error) {
	s.mu.Lock()
	draft := s.draft
	s.mu.Unlock()

	var err error
	switch {
	case s.repo == nil:
	case s.field.Kind == store.FieldSection || s.field.Kind == "":
		_, err = s.repo.SaveSection(ctx, s.field.Key, draft)
	default:
		err = s.repo.SaveField(ctx, s.field.ProjectID, s.field.Ref(), draft)
	}
	if err != nil {
		s.sink.Notify(notify.LevelError, MsgDraftSaveFailed)
		return s.Snapshot(), &CollaboratorError{Op: "save draft", Err: err}
	}
	s.sink.Notify(notify.LevelSuccess, MsgDraftSaved)
	return s.Snapshot(), nil
}

// Diff compares the draft with the pending suggestion.
func (s *Session) Diff() []diff.Segment {
	s.mu.Lock()
	draft, suggestion := s.draft, s.suggestion
	s.mu.Unlock()
	return diff.Compute(draft, suggestion)
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
