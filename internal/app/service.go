package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"akademik/api/internal/config"
	"akademik/api/internal/editor"
	"akademik/api/internal/flight"
	"akademik/api/internal/gitrepo"
	"akademik/api/internal/llm"
	"akademik/api/internal/notify"
	"akademik/api/internal/search"
	"akademik/api/internal/store"
	"akademik/api/internal/templates"
	"akademik/api/internal/util"
)

type dataStore interface {
	ListProjects(context.Context, string, int, int) ([]store.ProjectListItem, int, error)
	CreateProject(context.Context, store.Project) error
	GetProject(context.Context, string) (store.Project, error)
	DeleteProject(context.Context, string) error
	UpdateProjectTitle(context.Context, string, string) (time.Time, error)
	UpdateGeneralInfo(context.Context, string, store.GeneralInfo) (time.Time, error)
	UpdateKeywords(context.Context, string, string) (time.Time, error)
	UpdateScientificMerit(context.Context, string, store.ScientificMerit) (time.Time, error)
	UpdateProjectManagement(context.Context, string, store.ProjectManagement) (time.Time, error)
	UpdateWideImpact(context.Context, string, []store.WideImpactRow) (time.Time, error)
	GetSection(context.Context, string) (store.Section, error)
	SaveSection(context.Context, string, string) (store.Section, error)
	AcceptRevision(context.Context, string, string) (store.Section, store.Revision, error)
	ListRevisions(context.Context, string) ([]store.Revision, error)
	SaveField(context.Context, string, store.FieldRef, string) error
	Ping(ctx context.Context) error
}

type gitService interface {
	EnsureProjectRepo(string, gitrepo.Snapshot, string) error
	CommitSection(string, string, gitrepo.SectionSnapshot, string, string) (store.CommitInfo, error)
	History(string, int) ([]store.CommitInfo, error)
	SnapshotAt(string, string) (gitrepo.Snapshot, store.CommitInfo, error)
	DeleteProject(string) error
}

type textGenerator interface {
	Configured() bool
	Generate(context.Context, llm.GenerateInput) (string, error)
	Revise(context.Context, llm.ReviseInput) (string, error)
	Models(context.Context) ([]llm.ModelInfo, error)
}

type searchIndex interface {
	Search(context.Context, search.Query) search.Response
	IndexProject(search.ProjectRecord)
	IndexSection(search.SectionRecord)
	DeleteProject(string, []string)
}

// Check is a named readiness probe.
type Check func(context.Context) error

// Deps are the collaborators of a Service. Git, Search and AI may be nil.
type Deps struct {
	Store     *store.PostgresStore
	Git       *gitrepo.Service
	AI        *llm.Client
	Search    *search.Service
	Bus       *notify.Bus
	Guard     flight.Guard
	Templates *templates.Registry
	Checks    map[string]Check
}

type Service struct {
	cfg       config.Config
	store     dataStore
	git       gitService
	ai        textGenerator
	search    searchIndex
	bus       *notify.Bus
	guard     flight.Guard
	templates *templates.Registry
	checks    map[string]Check
	logger    zerolog.Logger
	now       func() time.Time

	wsMu       sync.Mutex
	workspaces map[string]*workspaceEntry
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:        cfg,
		store:      deps.Store,
		bus:        deps.Bus,
		guard:      deps.Guard,
		templates:  deps.Templates,
		checks:     deps.Checks,
		logger:     log.With().Str("component", "app").Logger(),
		now:        time.Now,
		workspaces: make(map[string]*workspaceEntry),
	}
	// Typed nils must not leak into the interfaces.
	if deps.Git != nil {
		s.git = deps.Git
	}
	if deps.AI != nil {
		s.ai = deps.AI
	}
	if deps.Search != nil {
		s.search = deps.Search
	}
	s.init()
	return s
}

// init fills optional collaborators with in-process defaults.
func (s *Service) init() {
	if s.bus == nil {
		ttl := s.cfg.NotificationTTL
		if ttl <= 0 {
			ttl = notify.DefaultTTL
		}
		s.bus = notify.NewBus(notify.NewMemoryStore(), ttl)
	}
	if s.guard == nil {
		s.guard = flight.NewLocalGuard()
	}
	if s.workspaces == nil {
		s.workspaces = make(map[string]*workspaceEntry)
	}
	if s.now == nil {
		s.now = time.Now
	}
}

func (s *Service) Bus() *notify.Bus {
	return s.bus
}

func (s *Service) userID(requested string) string {
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	if s.cfg.DefaultUserID != "" {
		return s.cfg.DefaultUserID
	}
	return config.DefaultUserID
}

// Ping checks the database.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Ready runs the database probe and every configured probe concurrently.
// The map holds nil for healthy checks.
func (s *Service) Ready(ctx context.Context) map[string]error {
	checks := map[string]Check{"database": s.store.Ping}
	for name, check := range s.checks {
		checks[name] = check
	}

	var mu sync.Mutex
	results := make(map[string]error, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for name, check := range checks {
		g.Go(func() error {
			err := check(gctx)
			mu.Lock()
			results[name] = err
			mu.Unlock()
			// Probes never cancel each other.
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Templates

func (s *Service) ListTemplates() []templates.Template {
	if s.templates == nil {
		return []templates.Template{}
	}
	return s.templates.List()
}

func (s *Service) GetTemplate(id string) (templates.Template, error) {
	if s.templates != nil {
		if t, ok := s.templates.Get(id); ok {
			return t, nil
		}
	}
	return templates.Template{}, notFound(fmt.Sprintf("'%s' ID'li şablon bulunamadı.", id))
}

func (s *Service) limits(templateID, title string) (int, int) {
	if s.templates == nil {
		return 0, 0
	}
	return s.templates.Limits(templateID, title)
}

// Projects

type ProjectPage struct {
	Projects []store.ProjectListItem `json:"projects"`
	Total    int                     `json:"total"`
	Page     int                     `json:"page"`
	Limit    int                     `json:"limit"`
}

func (s *Service) ListProjects(ctx context.Context, userID string, page, limit int) (ProjectPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	items, total, err := s.store.ListProjects(ctx, s.userID(userID), page, limit)
	if err != nil {
		return ProjectPage{}, err
	}
	return ProjectPage{Projects: items, Total: total, Page: page, Limit: limit}, nil
}

type CreateProjectInput struct {
	TemplateID string `json:"templateId"`
	Title      string `json:"title"`
}

func (in CreateProjectInput) validate() error {
	return criterio.ValidateStruct(
		criterio.Run("templateId", in.TemplateID, notBlank),
		criterio.Run("title", in.Title, notBlank),
	)
}

func notBlank(value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.New("is required")
	}
	return nil
}

// Default wide impact categories every new project starts with.
var defaultWideImpact = []struct {
	category    string
	description string
}{
	{"Bilimsel/Akademik Çıktılar", "(Ulusal/Uluslararası Makale, Kitap Bölümü, Kitap, Bildiri vb.)"},
	{"Ekonomik/Ticari/Sosyal Çıktılar", "(Ürün, Prototip, Patent, Faydalı Model, Tescil vb.)"},
	{"Yeni Proje Oluşturmasına Yönelik Çıktılar", "(Ulusal/Uluslararası Yeni Proje vb.)"},
}

// newProject builds an empty project from a template: one section per
// template section, one blank row per management table and the default
// wide impact rows.
func newProject(tpl templates.Template, userID, title string, now time.Time) store.Project {
	p := store.Project{
		ID:           util.NewID("project"),
		UserID:       userID,
		TemplateID:   tpl.ID,
		TemplateName: tpl.Name,
		Title:        strings.TrimSpace(title),
		CreatedAt:    now,
		UpdatedAt:    now,
		ProjectManagement: store.ProjectManagement{
			WorkSchedule:       []store.WorkScheduleRow{{ID: util.NewID("ws")}},
			RiskManagement:     []store.RiskManagementRow{{ID: util.NewID("rm")}},
			ResearchFacilities: []store.ResearchFacilityRow{{ID: util.NewID("rf")}},
		},
	}
	for _, wi := range defaultWideImpact {
		p.WideImpact = append(p.WideImpact, store.WideImpactRow{
			ID:                  util.NewID("wi"),
			Category:            wi.category,
			CategoryDescription: wi.description,
		})
	}
	for _, sec := range tpl.Sections {
		p.Sections = append(p.Sections, store.Section{
			ID:        util.NewID("section"),
			ProjectID: p.ID,
			Title:     sec.Title,
			Order:     sec.Order,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return p
}

func (s *Service) CreateProject(ctx context.Context, userID string, in CreateProjectInput) (store.Project, error) {
	if err := in.validate(); err != nil {
		return store.Project{}, validationError(err)
	}
	tpl, err := s.GetTemplate(in.TemplateID)
	if err != nil {
		return store.Project{}, err
	}

	project := newProject(tpl, s.userID(userID), in.Title, s.now().UTC())
	if err := s.store.CreateProject(ctx, project); err != nil {
		return store.Project{}, err
	}

	if s.git != nil {
		if err := s.git.EnsureProjectRepo(project.ID, snapshotOf(project), project.UserID); err != nil {
			s.logger.Warn().Err(err).Str("project_id", project.ID).Msg("create revision archive")
		}
	}
	s.indexProject(project)
	s.logger.Info().Str("project_id", project.ID).Str("template_id", tpl.ID).Msg("project created")
	return project, nil
}

// GetProject loads a project owned by userID. Foreign projects look missing.
func (s *Service) GetProject(ctx context.Context, userID, projectID string) (store.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, projectErr(projectID, err)
	}
	if project.UserID != s.userID(userID) {
		return store.Project{}, projectErr(projectID, nil)
	}
	return project, nil
}

func projectErr(projectID string, err error) error {
	if err == nil || isNotFound(err) {
		return notFound(fmt.Sprintf("'%s' ID'li proje bulunamadı.", projectID))
	}
	return err
}

func sectionErr(sectionID string, err error) error {
	if err == nil || isNotFound(err) {
		return notFound(fmt.Sprintf("'%s' ID'li bölüm bulunamadı.", sectionID))
	}
	return err
}

func isNotFound(err error) bool {
	status, _, _, _ := mapError(err)
	return status == http.StatusNotFound
}

func (s *Service) DeleteProject(ctx context.Context, userID, projectID string) error {
	project, err := s.GetProject(ctx, userID, projectID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return projectErr(projectID, err)
	}
	s.dropWorkspace(projectID)

	if s.git != nil {
		if err := s.git.DeleteProject(projectID); err != nil {
			s.logger.Warn().Err(err).Str("project_id", projectID).Msg("remove revision archive")
		}
	}
	if s.search != nil {
		ids := make([]string, 0, len(project.Sections))
		for _, sec := range project.Sections {
			ids = append(ids, sec.ID)
		}
		s.search.DeleteProject(projectID, ids)
	}
	return nil
}

// UpdateResult is the answer of every project PATCH endpoint.
type UpdateResult struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updatedAt"`
	Value     any       `json:"value"`
}

// updateProject checks ownership and applies one column update. When the
// project's workspace is loaded, syncWorkspace folds the new value into it.
func (s *Service) updateProject(ctx context.Context, userID, projectID string, value any, apply func() (time.Time, error), syncWorkspace func(*editor.Workspace)) (UpdateResult, error) {
	if _, err := s.GetProject(ctx, userID, projectID); err != nil {
		return UpdateResult{}, err
	}
	updatedAt, err := apply()
	if err != nil {
		return UpdateResult{}, projectErr(projectID, err)
	}
	if ws := s.cachedWorkspace(projectID); ws != nil && syncWorkspace != nil {
		syncWorkspace(ws)
	}
	return UpdateResult{ID: projectID, UpdatedAt: updatedAt, Value: value}, nil
}

func (s *Service) UpdateTitle(ctx context.Context, userID, projectID, title string) (UpdateResult, error) {
	if err := criterio.ValidateStruct(criterio.Run("title", title, notBlank)); err != nil {
		return UpdateResult{}, validationError(err)
	}
	res, err := s.updateProject(ctx, userID, projectID, title, func() (time.Time, error) {
		return s.store.UpdateProjectTitle(ctx, projectID, title)
	}, func(ws *editor.Workspace) { ws.SetProjectTitle(title) })
	if err == nil {
		if project, err := s.store.GetProject(ctx, projectID); err == nil {
			s.indexProject(project)
		}
	}
	return res, err
}

func (s *Service) UpdateGeneralInfo(ctx context.Context, userID, projectID string, info store.GeneralInfo) (UpdateResult, error) {
	return s.updateProject(ctx, userID, projectID, info, func() (time.Time, error) {
		return s.store.UpdateGeneralInfo(ctx, projectID, info)
	}, nil)
}

func (s *Service) UpdateKeywords(ctx context.Context, userID, projectID, keywords string) (UpdateResult, error) {
	return s.updateProject(ctx, userID, projectID, keywords, func() (time.Time, error) {
		return s.store.UpdateKeywords(ctx, projectID, keywords)
	}, nil)
}

func (s *Service) UpdateScientificMerit(ctx context.Context, userID, projectID string, merit store.ScientificMerit) (UpdateResult, error) {
	return s.updateProject(ctx, userID, projectID, merit, func() (time.Time, error) {
		return s.store.UpdateScientificMerit(ctx, projectID, merit)
	}, func(ws *editor.Workspace) { ws.SyncScientificMerit(merit) })
}

func (s *Service) UpdateProjectManagement(ctx context.Context, userID, projectID string, pm store.ProjectManagement) (UpdateResult, error) {
	if err := validateManagement(pm); err != nil {
		return UpdateResult{}, validationError(err)
	}
	return s.updateProject(ctx, userID, projectID, pm, func() (time.Time, error) {
		return s.store.UpdateProjectManagement(ctx, projectID, pm)
	}, nil)
}

func (s *Service) UpdateWideImpact(ctx context.Context, userID, projectID string, rows []store.WideImpactRow) (UpdateResult, error) {
	var errs criterio.FieldErrorsBuilder
	for i := range rows {
		if strings.TrimSpace(rows[i].ID) == "" {
			rows[i].ID = util.NewID("wi")
		}
		if strings.TrimSpace(rows[i].Category) == "" {
			errs = errs.Append(fmt.Sprintf("wideImpact[%d].category", i), errors.New("is required"))
		}
	}
	if err := errs.ToError(); err != nil {
		return UpdateResult{}, validationError(err)
	}
	return s.updateProject(ctx, userID, projectID, rows, func() (time.Time, error) {
		return s.store.UpdateWideImpact(ctx, projectID, rows)
	}, func(ws *editor.Workspace) { ws.SyncWideImpact(rows) })
}

// validateManagement assigns ids to new rows and rejects duplicates.
func validateManagement(pm store.ProjectManagement) error {
	var errs criterio.FieldErrorsBuilder
	check := func(table string, ids []*string) {
		seen := make(map[string]bool, len(ids))
		for i, id := range ids {
			if strings.TrimSpace(*id) == "" {
				*id = util.NewID("row")
			}
			if seen[*id] {
				errs = errs.Append(fmt.Sprintf("%s[%d].id", table, i), fmt.Errorf("duplicate id %q", *id))
			}
			seen[*id] = true
		}
	}

	ids := make([]*string, len(pm.WorkSchedule))
	for i := range pm.WorkSchedule {
		ids[i] = &pm.WorkSchedule[i].ID
	}
	check("workSchedule", ids)

	ids = make([]*string, len(pm.RiskManagement))
	for i := range pm.RiskManagement {
		ids[i] = &pm.RiskManagement[i].ID
	}
	check("riskManagement", ids)

	ids = make([]*string, len(pm.ResearchFacilities))
	for i := range pm.ResearchFacilities {
		ids[i] = &pm.ResearchFacilities[i].ID
	}
	check("researchFacilities", ids)

	return errs.ToError()
}

// ProjectProgress is the dashboard summary of a project's sections.
type ProjectProgress struct {
	Progress editor.Progress          `json:"progress"`
	Counts   editor.StatusCounts      `json:"counts"`
	Statuses map[string]editor.Status `json:"statuses"`
	Badges   map[string]editor.Badge  `json:"badges"`
}

// Progress classifies persisted sections. Pending suggestions of a cached
// workspace count as AI suggestions.
func (s *Service) Progress(ctx context.Context, userID, projectID string) (ProjectProgress, error) {
	project, err := s.GetProject(ctx, userID, projectID)
	if err != nil {
		return ProjectProgress{}, err
	}

	suggestions := s.pendingSuggestions(projectID)
	out := ProjectProgress{
		Progress: editor.Aggregate(project.Sections),
		Counts:   editor.CountStatuses(project.Sections, suggestions),
		Statuses: make(map[string]editor.Status, len(project.Sections)),
		Badges:   make(map[string]editor.Badge, len(project.Sections)),
	}
	for _, sec := range project.Sections {
		status := editor.Classify(sec, suggestions[sec.ID])
		out.Statuses[sec.ID] = status
		out.Badges[sec.ID] = editor.BadgeFor(status)
	}
	return out, nil
}

// History

func (s *Service) History(ctx context.Context, userID, projectID string, limit int) ([]store.CommitInfo, error) {
	if _, err := s.GetProject(ctx, userID, projectID); err != nil {
		return nil, err
	}
	if s.git == nil {
		return []store.CommitInfo{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	return s.git.History(projectID, limit)
}

type HistorySnapshot struct {
	Commit   store.CommitInfo `json:"commit"`
	Snapshot gitrepo.Snapshot `json:"snapshot"`
}

func (s *Service) Snapshot(ctx context.Context, userID, projectID, hash string) (HistorySnapshot, error) {
	if _, err := s.GetProject(ctx, userID, projectID); err != nil {
		return HistorySnapshot{}, err
	}
	if s.git == nil {
		return HistorySnapshot{}, gitrepo.ErrNoArchive
	}
	snapshot, commit, err := s.git.SnapshotAt(projectID, hash)
	if err != nil {
		if errors.Is(err, gitrepo.ErrNoArchive) {
			return HistorySnapshot{}, err
		}
		return HistorySnapshot{}, notFound(fmt.Sprintf("'%s' revizyonu bulunamadı.", hash))
	}
	return HistorySnapshot{Commit: commit, Snapshot: snapshot}, nil
}

func snapshotOf(project store.Project) gitrepo.Snapshot {
	snap := gitrepo.Snapshot{ProjectTitle: project.Title, Sections: make([]gitrepo.SectionSnapshot, 0, len(project.Sections))}
	for _, sec := range project.Sections {
		content := sec.DraftContent
		if sec.FinalContent != nil {
			content = *sec.FinalContent
		}
		snap.Sections = append(snap.Sections, gitrepo.SectionSnapshot{ID: sec.ID, Title: sec.Title, Order: sec.Order, Content: content})
	}
	return snap
}

// Search

func (s *Service) Search(ctx context.Context, userID string, q search.Query) search.Response {
	q.UserID = s.userID(userID)
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

func (s *Service) indexProject(project store.Project) {
	if s.search == nil {
		return
	}
	s.search.IndexProject(search.ProjectRecord{
		ID:           project.ID,
		UserID:       project.UserID,
		Title:        project.Title,
		Keywords:     project.Keywords,
		TemplateName: project.TemplateName,
	})
}

func (s *Service) indexSection(userID string, section store.Section) {
	if s.search == nil {
		return
	}
	content := section.DraftContent
	if section.FinalContent != nil {
		content = *section.FinalContent
	}
	s.search.IndexSection(search.SectionRecord{
		ID:        section.ID,
		ProjectID: section.ProjectID,
		UserID:    userID,
		Title:     section.Title,
		Content:   content,
	})
}
