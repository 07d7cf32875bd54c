package editor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"akademik/api/internal/diff"
	"akademik/api/internal/notify"
	"akademik/api/internal/store"
)

// LimitsFunc returns the word limits of a template section. Zero means no limit.
type LimitsFunc func(templateID, sectionTitle string) (minWords, maxWords int)

// Options configure a workspace.
type Options struct {
	Timeout      time.Duration
	DefaultStyle string
	Limits       LimitsFunc
}

// Workspace holds one session per editable field of a project, keyed by
// field id. Sessions never share state, so different fields can be worked
// on concurrently. Writes made outside the editor are folded into the
// existing sessions; a session is never replaced while the workspace lives.
type Workspace struct {
	projectID  string
	templateID string
	repo       Repository
	gen        Generator
	sink       notify.Sink
	opts       Options

	mu           sync.RWMutex
	projectTitle string
	order        []string
	sessions     map[string]*Session
}

// Open loads a project through repo and builds its workspace.
func Open(ctx context.Context, repo Repository, gen Generator, sink notify.Sink, projectID string, opts Options) (*Workspace, error) {
	project, err := repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", projectID, err)
	}
	return NewWorkspace(project, repo, gen, sink, opts), nil
}

// NewWorkspace builds sessions for the sections (in display order), the two
// scientific merit sub-fields and every wide impact row of project.
func NewWorkspace(project store.Project, repo Repository, gen Generator, sink notify.Sink, opts Options) *Workspace {
	w := &Workspace{
		projectID:    project.ID,
		templateID:   project.TemplateID,
		repo:         repo,
		gen:          gen,
		sink:         sink,
		opts:         opts,
		projectTitle: project.Title,
		sessions:     make(map[string]*Session),
	}

	sections := make([]store.Section, len(project.Sections))
	copy(sections, project.Sections)
	sort.SliceStable(sections, func(i, j int) bool { return sections[i].Order < sections[j].Order })

	for _, section := range sections {
		field := w.baseField(store.FieldRef{Kind: store.FieldSection, Key: section.ID}, section.Title)
		field.ID = section.ID
		if opts.Limits != nil {
			field.MinWords, field.MaxWords = opts.Limits(project.TemplateID, section.Title)
		}
		w.add(w.newSession(field, section.DraftContent, section.FinalContent))
	}

	merits := []struct {
		key   string
		draft string
	}{
		{store.MeritImportanceAndQuality, project.ScientificMerit.ImportanceAndQuality},
		{store.MeritAimsAndObjectives, project.ScientificMerit.AimsAndObjectives},
	}
	for _, m := range merits {
		ref := store.FieldRef{Kind: store.FieldScientificMerit, Key: m.key}
		w.add(w.newSession(w.baseField(ref, MeritTitle(m.key)), m.draft, nil))
	}

	for _, row := range project.WideImpact {
		w.add(w.newSession(w.wideImpactField(row), row.Outputs, nil))
	}
	return w
}

func (w *Workspace) baseField(ref store.FieldRef, title string) Field {
	return Field{
		ID:           FieldID(ref),
		Kind:         ref.Kind,
		Key:          ref.Key,
		Title:        title,
		ProjectID:    w.projectID,
		ProjectTitle: w.projectTitle,
	}
}

func (w *Workspace) wideImpactField(row store.WideImpactRow) Field {
	field := w.baseField(store.FieldRef{Kind: store.FieldWideImpact, Key: row.ID}, WideImpactTitle(row.Category))
	field.Category = row.Category
	return field
}

func (w *Workspace) newSession(field Field, draft string, final *string) *Session {
	return NewSession(field, draft, final, w.repo, w.gen, w.sink, SessionOptions{
		Timeout: w.opts.Timeout,
		Style:   w.opts.DefaultStyle,
	})
}

func (w *Workspace) add(s *Session) {
	w.order = append(w.order, s.field.ID)
	w.sessions[s.field.ID] = s
}

func (w *Workspace) ProjectID() string {
	return w.projectID
}

// SetProjectTitle renames the project in every field's prompt context.
func (w *Workspace) SetProjectTitle(title string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.projectTitle = title
	for _, s := range w.sessions {
		s.setProjectTitle(title)
	}
}

// SyncScientificMerit replaces the drafts of both merit sub-fields.
func (w *Workspace) SyncScientificMerit(merit store.ScientificMerit) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	drafts := map[string]string{
		store.MeritImportanceAndQuality: merit.ImportanceAndQuality,
		store.MeritAimsAndObjectives:    merit.AimsAndObjectives,
	}
	for key, draft := range drafts {
		ref := store.FieldRef{Kind: store.FieldScientificMerit, Key: key}
		if s, ok := w.sessions[FieldID(ref)]; ok {
			s.UpdateDraft(draft)
		}
	}
}

// SyncWideImpact aligns the wide impact fields with rows. Known rows keep
// their session and get the new outputs as draft, new rows get a fresh
// session and rows no longer present are removed.
func (w *Workspace) SyncWideImpact(rows []store.WideImpactRow) {
	w.mu.Lock()
	defer w.mu.Unlock()

	order := make([]string, 0, len(w.order)+len(rows))
	for _, id := range w.order {
		if w.sessions[id].field.Kind != store.FieldWideImpact {
			order = append(order, id)
		}
	}

	keep := make(map[string]bool, len(rows))
	for _, row := range rows {
		field := w.wideImpactField(row)
		keep[field.ID] = true
		order = append(order, field.ID)
		if s, ok := w.sessions[field.ID]; ok {
			s.setCategory(row.Category, field.Title)
			s.UpdateDraft(row.Outputs)
			continue
		}
		w.sessions[field.ID] = w.newSession(field, row.Outputs, nil)
	}
	for id, s := range w.sessions {
		if s.field.Kind == store.FieldWideImpact && !keep[id] {
			delete(w.sessions, id)
		}
	}
	w.order = order
}

// Busy reports whether any session has a generation or an accept running.
func (w *Workspace) Busy() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, s := range w.sessions {
		if s.busy() {
			return true
		}
	}
	return false
}

// Session returns the session of fieldID.
func (w *Workspace) Session(fieldID string) (*Session, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.sessions[fieldID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, fieldID)
	}
	return s, nil
}

// Fields lists every field in display order.
func (w *Workspace) Fields() []Field {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Field, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.sessions[id].Field())
	}
	return out
}

// States snapshots every session in display order.
func (w *Workspace) States() []State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]State, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.sessions[id].Snapshot())
	}
	return out
}

// Statuses maps field ids to their current status.
func (w *Workspace) Statuses() map[string]Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]Status, len(w.sessions))
	for id, s := range w.sessions {
		out[id] = s.Snapshot().Status
	}
	return out
}

// Progress aggregates the section fields. Sub-fields and table rows are
// not part of the completion figure.
func (w *Workspace) Progress() Progress {
	w.mu.RLock()
	defer w.mu.RUnlock()
	completed, total := 0, 0
	for _, id := range w.order {
		s := w.sessions[id]
		if s.field.Kind != store.FieldSection {
			continue
		}
		total++
		if isFinal(s.Snapshot().FinalContent) {
			completed++
		}
	}
	return newProgress(completed, total)
}

// Counts tallies section fields per status, counting live suggestions.
func (w *Workspace) Counts() StatusCounts {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var counts StatusCounts
	for _, id := range w.order {
		s := w.sessions[id]
		if s.field.Kind != store.FieldSection {
			continue
		}
		counts.add(s.Snapshot().Status)
	}
	return counts
}

// SaveDraft persists the draft of fieldID.
func (w *Workspace) SaveDraft(ctx context.Context, fieldID string) (State, error) {
	s, err := w.Session(fieldID)
	if err != nil {
		return State{}, err
	}
	return s.SaveDraft(ctx)
}

// Diff compares the draft of fieldID with its pending suggestion.
func (w *Workspace) Diff(fieldID string) ([]diff.Segment, error) {
	s, err := w.Session(fieldID)
	if err != nil {
		return nil, err
	}
	return s.Diff(), nil
}
