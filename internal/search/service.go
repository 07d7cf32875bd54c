package search

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Service is the facade that tries Meilisearch first and falls back to the
// secondary searcher (PostgreSQL FTS in production).
type Service struct {
	meili    *Meili
	fallback Searcher
	pgfts    *PgFTS
	logger   zerolog.Logger
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured; pgfts may be nil in tests without a database.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{
		meili:  meili,
		pgfts:  pgfts,
		logger: log.With().Str("component", "search").Logger(),
	}
	if pgfts != nil {
		s.fallback = pgfts
	}
	return s
}

// WithFallback replaces the searcher used when Meilisearch is unavailable.
func (s *Service) WithFallback(fallback Searcher) *Service {
	s.fallback = fallback
	return s
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise the fallback. Errors are
// logged and produce an empty response.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn().Err(err).Msg("meilisearch error, falling back")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error().Err(err).Msg("fallback search failed")
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexProject pushes a project to Meilisearch (fire-and-forget).
func (s *Service) IndexProject(p ProjectRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexProjects([]ProjectRecord{p}); err != nil {
			s.logger.Warn().Err(err).Str("project_id", p.ID).Msg("index project")
		}
	}()
}

// IndexSection pushes a section to Meilisearch (fire-and-forget).
func (s *Service) IndexSection(r SectionRecord) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexSections([]SectionRecord{r}); err != nil {
			s.logger.Warn().Err(err).Str("section_id", r.ID).Msg("index section")
		}
	}()
}

// DeleteProject removes a project and its sections from the index
// (fire-and-forget).
func (s *Service) DeleteProject(projectID string, sectionIDs []string) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.DeleteProject(projectID); err != nil {
			s.logger.Warn().Err(err).Str("project_id", projectID).Msg("delete project from index")
		}
		if err := s.meili.DeleteSections(sectionIDs); err != nil {
			s.logger.Warn().Err(err).Str("project_id", projectID).Msg("delete sections from index")
		}
	}()
}

// ReindexAll pushes both record sets to Meilisearch concurrently.
func (s *Service) ReindexAll(ctx context.Context, projects []ProjectRecord, sections []SectionRecord) error {
	if !s.meiliReady() {
		return nil
	}
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { return s.meili.IndexProjects(projects) })
	g.Go(func() error { return s.meili.IndexSections(sections) })
	return g.Wait()
}

// ReindexAllFromPG reloads every searchable row from PostgreSQL and pushes
// it to Meilisearch. Called once at startup.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.meiliReady() || s.pgfts == nil {
		return
	}
	projects, sections, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.ReindexAll(ctx, projects, sections); err != nil {
		s.logger.Error().Err(err).Msg("reindex failed")
		return
	}
	s.logger.Info().Int("projects", len(projects)).Int("sections", len(sections)).Msg("search index rebuilt")
}

// Healthy reports whether any search backend can answer.
func (s *Service) Healthy() bool {
	return s.meiliReady() || (s.fallback != nil && s.fallback.Healthy())
}

// Close stops the Meilisearch health monitor.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
