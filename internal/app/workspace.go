package app

import (
	"context"
	"fmt"
	"time"

	"akademik/api/internal/diff"
	"akademik/api/internal/editor"
	"akademik/api/internal/llm"
	"akademik/api/internal/store"
)

type workspaceEntry struct {
	ws       *editor.Workspace
	userID   string
	lastUsed time.Time
}

// workspace returns the cached editor workspace of a project, loading it on
// first use. Sessions live only in this process.
func (s *Service) workspace(ctx context.Context, userID, projectID string) (*editor.Workspace, error) {
	uid := s.userID(userID)

	s.wsMu.Lock()
	if entry, ok := s.workspaces[projectID]; ok && entry.userID == uid {
		entry.lastUsed = s.now()
		s.wsMu.Unlock()
		return entry.ws, nil
	}
	s.wsMu.Unlock()

	project, err := s.GetProject(ctx, uid, projectID)
	if err != nil {
		return nil, err
	}
	ws := editor.NewWorkspace(project, repoAdapter{s: s}, s.generator(), s.bus.Scope(projectID), editor.Options{
		Timeout: s.cfg.GenerationTimeout,
		Limits:  s.limits,
	})

	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	// A concurrent load may have won; keep its sessions.
	if entry, ok := s.workspaces[projectID]; ok && entry.userID == uid {
		entry.lastUsed = s.now()
		return entry.ws, nil
	}
	s.workspaces[projectID] = &workspaceEntry{ws: ws, userID: uid, lastUsed: s.now()}
	return ws, nil
}

// cachedWorkspace returns the loaded workspace of a project, or nil.
func (s *Service) cachedWorkspace(projectID string) *editor.Workspace {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	if entry, ok := s.workspaces[projectID]; ok {
		return entry.ws
	}
	return nil
}

// syncSection folds a section written through the REST API into its live
// session, if the project's workspace is loaded.
func (s *Service) syncSection(section store.Section, accepted bool) {
	ws := s.cachedWorkspace(section.ProjectID)
	if ws == nil {
		return
	}
	session, err := ws.Session(section.ID)
	if err != nil {
		return
	}
	if accepted {
		session.ApplyAccepted(section.DraftContent, section.FinalContent)
		return
	}
	session.UpdateDraft(section.DraftContent)
}

// dropWorkspace forgets the cached sessions of a deleted project.
func (s *Service) dropWorkspace(projectID string) {
	s.wsMu.Lock()
	delete(s.workspaces, projectID)
	s.wsMu.Unlock()
}

// EvictIdle drops workspaces unused for longer than the configured idle TTL
// and reports how many were removed. Workspaces with a generation or accept
// still running are kept.
func (s *Service) EvictIdle() int {
	ttl := s.cfg.WorkspaceIdleTTL
	if ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-ttl)

	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	evicted := 0
	for id, entry := range s.workspaces {
		if entry.lastUsed.Before(cutoff) && !entry.ws.Busy() {
			delete(s.workspaces, id)
			evicted++
		}
	}
	return evicted
}

// RunJanitor evicts idle workspaces every minute until ctx is done.
func (s *Service) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictIdle(); n > 0 {
				s.logger.Debug().Int("evicted", n).Msg("idle workspaces evicted")
			}
		}
	}
}

// pendingSuggestions returns the live suggestions of a cached workspace by
// field id, or nil when no workspace is loaded.
func (s *Service) pendingSuggestions(projectID string) map[string]string {
	s.wsMu.Lock()
	entry, ok := s.workspaces[projectID]
	s.wsMu.Unlock()
	if !ok {
		return nil
	}
	out := make(map[string]string)
	for _, state := range entry.ws.States() {
		if state.AISuggestion != "" {
			out[state.FieldID] = state.AISuggestion
		}
	}
	return out
}

func (s *Service) generator() editor.Generator {
	return editor.GeneratorFunc(func(ctx context.Context, req editor.GenerationRequest) (string, error) {
		if s.ai == nil {
			return "", llm.ErrNotConfigured
		}
		return s.ai.Generate(ctx, llm.GenerateInput{
			Draft: req.Content,
			Context: llm.PromptContext{
				ProjectTitle: req.Field.ProjectTitle,
				SectionTitle: req.Field.Title,
				Style:        req.Style,
				MinWords:     req.Field.MinWords,
				MaxWords:     req.Field.MaxWords,
			},
		})
	})
}

// repoAdapter is the editor's view of persistence. Accepted sections are
// archived and reindexed on the way through.
type repoAdapter struct {
	s *Service
}

func (r repoAdapter) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	return r.s.store.GetProject(ctx, projectID)
}

func (r repoAdapter) SaveSection(ctx context.Context, sectionID, draft string) (store.Section, error) {
	section, err := r.s.store.SaveSection(ctx, sectionID, draft)
	if err != nil {
		return store.Section{}, err
	}
	r.s.reindexSection(ctx, section)
	return section, nil
}

func (r repoAdapter) AcceptRevision(ctx context.Context, sectionID, content string) (store.Section, store.Revision, error) {
	return r.s.acceptRevision(ctx, sectionID, content)
}

func (r repoAdapter) SaveField(ctx context.Context, projectID string, ref store.FieldRef, content string) error {
	return r.s.store.SaveField(ctx, projectID, ref, content)
}

// acceptRevision stores an accepted section and mirrors it into the git
// archive and the search index. Archive failures are logged, not returned:
// the database row is the record.
func (s *Service) acceptRevision(ctx context.Context, sectionID, content string) (store.Section, store.Revision, error) {
	section, rev, err := s.store.AcceptRevision(ctx, sectionID, content)
	if err != nil {
		return store.Section{}, store.Revision{}, err
	}

	project, err := s.store.GetProject(ctx, section.ProjectID)
	if err != nil {
		s.logger.Warn().Err(err).Str("section_id", sectionID).Msg("load project after accept")
		return section, rev, nil
	}
	if s.git != nil {
		snap := snapshotOf(store.Project{Sections: []store.Section{section}}).Sections[0]
		message := fmt.Sprintf("Revizyon %d: %s", rev.RevisionNumber, section.Title)
		if _, err := s.git.CommitSection(project.ID, project.Title, snap, project.UserID, message); err != nil {
			s.logger.Warn().Err(err).Str("section_id", sectionID).Msg("archive accepted revision")
		}
	}
	s.indexSection(project.UserID, section)
	s.logger.Info().
		Str("project_id", project.ID).
		Str("section_id", sectionID).
		Int("revision", rev.RevisionNumber).
		Msg("revision accepted")
	return section, rev, nil
}

func (s *Service) reindexSection(ctx context.Context, section store.Section) {
	if s.search == nil {
		return
	}
	project, err := s.store.GetProject(ctx, section.ProjectID)
	if err != nil {
		return
	}
	s.indexSection(project.UserID, section)
}

// Editor operations

type EditorView struct {
	ProjectID string                   `json:"projectId"`
	Fields    []editor.State           `json:"fields"`
	Statuses  map[string]editor.Status `json:"statuses"`
	Progress  editor.Progress          `json:"progress"`
	Counts    editor.StatusCounts      `json:"counts"`
}

func (s *Service) Editor(ctx context.Context, userID, projectID string) (EditorView, error) {
	ws, err := s.workspace(ctx, userID, projectID)
	if err != nil {
		return EditorView{}, err
	}
	return EditorView{
		ProjectID: projectID,
		Fields:    ws.States(),
		Statuses:  ws.Statuses(),
		Progress:  ws.Progress(),
		Counts:    ws.Counts(),
	}, nil
}

// FieldInput carries the optional arguments of a field operation.
type FieldInput struct {
	Text   string `json:"text"`
	Style  string `json:"style"`
	Prompt string `json:"prompt"`
}

type FieldResult struct {
	State    editor.State `json:"state"`
	Accepted *bool        `json:"accepted,omitempty"`
}

// Field operations understood by FieldOp.
const (
	OpDraft               = "draft"
	OpSave                = "save"
	OpStyle               = "style"
	OpGenerate            = "generate"
	OpRevise              = "revise"
	OpAccept              = "accept"
	OpReject              = "reject"
	OpToggleRevisionInput = "toggle-revision-input"
)

// FieldOp applies one editing operation to a field session.
func (s *Service) FieldOp(ctx context.Context, userID, projectID, fieldID, op string, in FieldInput) (FieldResult, error) {
	ws, err := s.workspace(ctx, userID, projectID)
	if err != nil {
		return FieldResult{}, err
	}
	session, err := ws.Session(fieldID)
	if err != nil {
		return FieldResult{}, err
	}

	switch op {
	case OpDraft:
		return FieldResult{State: session.UpdateDraft(in.Text)}, nil
	case OpSave:
		if in.Text != "" {
			session.UpdateDraft(in.Text)
		}
		state, err := session.SaveDraft(ctx)
		return FieldResult{State: state}, err
	case OpStyle:
		return FieldResult{State: session.SetStyle(in.Style)}, nil
	case OpGenerate:
		state, err := session.RequestGeneration(ctx, in.Style)
		return FieldResult{State: state}, err
	case OpRevise:
		state, err := session.RequestRevision(ctx, in.Prompt)
		return FieldResult{State: state}, err
	case OpAccept:
		state, accepted, err := session.Accept(ctx)
		return FieldResult{State: state, Accepted: &accepted}, err
	case OpReject:
		return FieldResult{State: session.Reject()}, nil
	case OpToggleRevisionInput:
		return FieldResult{State: session.ToggleRevisionInput()}, nil
	default:
		return FieldResult{}, notFound(fmt.Sprintf("unknown field operation %q", op))
	}
}

// DiffResult is a diff rendered for both inline and line based views.
type DiffResult struct {
	Segments []diff.Segment `json:"segments"`
	Lines    []diff.Line    `json:"lines"`
	Summary  diff.Summary   `json:"summary"`
}

func newDiffResult(segments []diff.Segment) DiffResult {
	if segments == nil {
		segments = []diff.Segment{}
	}
	lines := diff.RenderLines(segments)
	if lines == nil {
		lines = []diff.Line{}
	}
	return DiffResult{Segments: segments, Lines: lines, Summary: diff.Summarize(segments)}
}

func (s *Service) FieldDiff(ctx context.Context, userID, projectID, fieldID string) (DiffResult, error) {
	ws, err := s.workspace(ctx, userID, projectID)
	if err != nil {
		return DiffResult{}, err
	}
	segments, err := ws.Diff(fieldID)
	if err != nil {
		return DiffResult{}, err
	}
	return newDiffResult(segments), nil
}

// Diff compares two arbitrary texts.
func (s *Service) Diff(original, modified string) DiffResult {
	return newDiffResult(diff.Compute(original, modified))
}
