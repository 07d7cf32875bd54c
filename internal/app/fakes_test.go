package app

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"akademik/api/internal/config"
	"akademik/api/internal/gitrepo"
	"akademik/api/internal/llm"
	"akademik/api/internal/store"
	"akademik/api/internal/templates"
)

// fakeStore keeps projects in memory. Fn fields override single methods.
type fakeStore struct {
	mu        sync.Mutex
	projects  map[string]store.Project
	revisions map[string][]store.Revision

	pingFn           func(context.Context) error
	acceptRevisionFn func(context.Context, string, string) (store.Section, store.Revision, error)
	saveSectionFn    func(context.Context, string, string) (store.Section, error)
}

func newFakeStore(projects ...store.Project) *fakeStore {
	f := &fakeStore{projects: make(map[string]store.Project), revisions: make(map[string][]store.Revision)}
	for _, p := range projects {
		f.projects[p.ID] = p
	}
	return f
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) ListProjects(_ context.Context, userID string, page, limit int) ([]store.ProjectListItem, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := []store.ProjectListItem{}
	for _, p := range f.projects {
		if p.UserID != userID {
			continue
		}
		items = append(items, store.ProjectListItem{ID: p.ID, UserID: p.UserID, Title: p.Title, TemplateID: p.TemplateID})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	total := len(items)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return items[start:end], total, nil
}

func (f *fakeStore) CreateProject(_ context.Context, p store.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[p.ID] = p
	return nil
}

func (f *fakeStore) GetProject(_ context.Context, id string) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	p.Sections = append([]store.Section(nil), p.Sections...)
	return p, nil
}

func (f *fakeStore) DeleteProject(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[id]; !ok {
		return sql.ErrNoRows
	}
	delete(f.projects, id)
	return nil
}

func (f *fakeStore) update(id string, apply func(*store.Project)) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return time.Time{}, sql.ErrNoRows
	}
	apply(&p)
	p.UpdatedAt = time.Now().UTC()
	f.projects[id] = p
	return p.UpdatedAt, nil
}

func (f *fakeStore) UpdateProjectTitle(_ context.Context, id, title string) (time.Time, error) {
	return f.update(id, func(p *store.Project) { p.Title = title })
}

func (f *fakeStore) UpdateGeneralInfo(_ context.Context, id string, info store.GeneralInfo) (time.Time, error) {
	return f.update(id, func(p *store.Project) { p.GeneralInfo = info })
}

func (f *fakeStore) UpdateKeywords(_ context.Context, id, keywords string) (time.Time, error) {
	return f.update(id, func(p *store.Project) { p.Keywords = keywords })
}

func (f *fakeStore) UpdateScientificMerit(_ context.Context, id string, merit store.ScientificMerit) (time.Time, error) {
	return f.update(id, func(p *store.Project) { p.ScientificMerit = merit })
}

func (f *fakeStore) UpdateProjectManagement(_ context.Context, id string, pm store.ProjectManagement) (time.Time, error) {
	return f.update(id, func(p *store.Project) { p.ProjectManagement = pm })
}

func (f *fakeStore) UpdateWideImpact(_ context.Context, id string, rows []store.WideImpactRow) (time.Time, error) {
	return f.update(id, func(p *store.Project) { p.WideImpact = rows })
}

func (f *fakeStore) findSection(id string) (string, int, bool) {
	for pid, p := range f.projects {
		for i, sec := range p.Sections {
			if sec.ID == id {
				return pid, i, true
			}
		}
	}
	return "", 0, false
}

func (f *fakeStore) GetSection(_ context.Context, id string) (store.Section, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pid, i, ok := f.findSection(id)
	if !ok {
		return store.Section{}, sql.ErrNoRows
	}
	return f.projects[pid].Sections[i], nil
}

func (f *fakeStore) SaveSection(ctx context.Context, id, draft string) (store.Section, error) {
	if f.saveSectionFn != nil {
		return f.saveSectionFn(ctx, id, draft)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pid, i, ok := f.findSection(id)
	if !ok {
		return store.Section{}, sql.ErrNoRows
	}
	p := f.projects[pid]
	p.Sections[i].DraftContent = draft
	f.projects[pid] = p
	return p.Sections[i], nil
}

func (f *fakeStore) AcceptRevision(ctx context.Context, id, content string) (store.Section, store.Revision, error) {
	if f.acceptRevisionFn != nil {
		return f.acceptRevisionFn(ctx, id, content)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pid, i, ok := f.findSection(id)
	if !ok {
		return store.Section{}, store.Revision{}, sql.ErrNoRows
	}
	p := f.projects[pid]
	final := content
	p.Sections[i].DraftContent = content
	p.Sections[i].FinalContent = &final
	f.projects[pid] = p

	rev := store.Revision{
		ID:             id + "-rev",
		SectionID:      id,
		Content:        content,
		RevisionNumber: len(f.revisions[id]) + 1,
		CreatedAt:      time.Now().UTC(),
	}
	f.revisions[id] = append(f.revisions[id], rev)
	return p.Sections[i], rev, nil
}

func (f *fakeStore) ListRevisions(_ context.Context, id string) ([]store.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Revision(nil), f.revisions[id]...), nil
}

func (f *fakeStore) SaveField(_ context.Context, projectID string, ref store.FieldRef, content string) error {
	_, err := f.update(projectID, func(p *store.Project) {
		switch ref.Kind {
		case store.FieldScientificMerit:
			if ref.Key == store.MeritImportanceAndQuality {
				p.ScientificMerit.ImportanceAndQuality = content
			} else {
				p.ScientificMerit.AimsAndObjectives = content
			}
		case store.FieldWideImpact:
			for i := range p.WideImpact {
				if p.WideImpact[i].ID == ref.Key {
					p.WideImpact[i].Outputs = content
				}
			}
		}
	})
	return err
}

type fakeGit struct {
	mu      sync.Mutex
	commits []string
}

func (f *fakeGit) EnsureProjectRepo(string, gitrepo.Snapshot, string) error { return nil }

func (f *fakeGit) CommitSection(_ string, _ string, _ gitrepo.SectionSnapshot, _ string, message string) (store.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, message)
	return store.CommitInfo{Hash: "abc", Message: message}, nil
}

func (f *fakeGit) History(string, int) ([]store.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.CommitInfo, 0, len(f.commits))
	for i := len(f.commits) - 1; i >= 0; i-- {
		out = append(out, store.CommitInfo{Hash: "abc", Message: f.commits[i]})
	}
	return out, nil
}

func (f *fakeGit) SnapshotAt(string, string) (gitrepo.Snapshot, store.CommitInfo, error) {
	return gitrepo.Snapshot{}, store.CommitInfo{}, gitrepo.ErrNoArchive
}

func (f *fakeGit) DeleteProject(string) error { return nil }

type fakeAI struct {
	generateFn func(context.Context, llm.GenerateInput) (string, error)
	reviseFn   func(context.Context, llm.ReviseInput) (string, error)
}

func (f *fakeAI) Configured() bool { return true }

func (f *fakeAI) Generate(ctx context.Context, in llm.GenerateInput) (string, error) {
	if f.generateFn != nil {
		return f.generateFn(ctx, in)
	}
	return "AI: " + in.Draft, nil
}

func (f *fakeAI) Revise(ctx context.Context, in llm.ReviseInput) (string, error) {
	if f.reviseFn != nil {
		return f.reviseFn(ctx, in)
	}
	return "revised: " + in.Current, nil
}

func (f *fakeAI) Models(context.Context) ([]llm.ModelInfo, error) {
	return []llm.ModelInfo{{Name: "models/gemini-2.5-flash"}}, nil
}

const testUser = "user-1"

func testProject() store.Project {
	final := "Kabul edilmiş özet"
	return store.Project{
		ID:         "project-1",
		UserID:     testUser,
		TemplateID: "tubitak-2209a",
		Title:      "Akıllı Tarım",
		Sections: []store.Section{
			{ID: "sec-1", ProjectID: "project-1", Title: "Projenin Özeti", Order: 0, DraftContent: "taslak özet"},
			{ID: "sec-2", ProjectID: "project-1", Title: "Yöntem", Order: 1, DraftContent: "", FinalContent: &final},
			{ID: "sec-3", ProjectID: "project-1", Title: "Kaynakça", Order: 2},
		},
		WideImpact: []store.WideImpactRow{{ID: "wi-1", Category: "Bilimsel/Akademik Çıktılar"}},
	}
}

func newTestService(fs *fakeStore, fg *fakeGit, ai *fakeAI) *Service {
	reg, err := templates.Load()
	if err != nil {
		panic(err)
	}
	s := &Service{
		cfg:       config.Config{DefaultUserID: testUser, GenerationTimeout: time.Second, WorkspaceIdleTTL: time.Minute},
		store:     fs,
		templates: reg,
		logger:    zerolog.Nop(),
	}
	if fg != nil {
		s.git = fg
	}
	if ai != nil {
		s.ai = ai
	}
	s.init()
	return s
}
