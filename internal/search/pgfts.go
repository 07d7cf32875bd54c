package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS searches PostgreSQL's generated tsvector columns. It is the fallback
// whenever Meilisearch is unconfigured or unhealthy.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy is always true: without Postgres the whole API is down anyway.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL over projects and sections ranked by ts_rank, with
// ts_headline snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const tsQuery = "plainto_tsquery('turkish', $1)"
	args := []any{q.Text, q.UserID}

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultProject {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'project'::text AS type, p.id, p.title,
				ts_headline('turkish', coalesce(p.keywords, ''), %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.id AS project_id,
				ts_rank(p.fts, %[1]s) AS rank
			FROM projects p
			WHERE p.fts @@ %[1]s AND p.user_id = $2`, tsQuery))
	}
	if q.FilterType == "" || q.FilterType == ResultSection {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'section'::text AS type, s.id, s.title,
				ts_headline('turkish', coalesce(s.final_content, s.draft_content), %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				s.project_id,
				ts_rank(s.fts, %[1]s) AS rank
			FROM sections s
			JOIN projects p ON p.id = s.project_id
			WHERE s.fts @@ %[1]s AND p.user_id = $2`, tsQuery))
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, project_id
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, union, limit, offset)

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r   Result
			typ string
		)
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable record for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ProjectRecord, []SectionRecord, error) {
	projectRows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, title, keywords, template_name
		FROM projects
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load projects: %w", err)
	}
	defer projectRows.Close()

	projects := make([]ProjectRecord, 0)
	for projectRows.Next() {
		var r ProjectRecord
		if err := projectRows.Scan(&r.ID, &r.UserID, &r.Title, &r.Keywords, &r.TemplateName); err != nil {
			return nil, nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, r)
	}
	if err := projectRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate projects: %w", err)
	}

	sectionRows, err := p.db.QueryContext(ctx, `
		SELECT s.id, s.project_id, p.user_id, s.title, coalesce(s.final_content, s.draft_content)
		FROM sections s
		JOIN projects p ON p.id = s.project_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load sections: %w", err)
	}
	defer sectionRows.Close()

	sections := make([]SectionRecord, 0)
	for sectionRows.Next() {
		var r SectionRecord
		if err := sectionRows.Scan(&r.ID, &r.ProjectID, &r.UserID, &r.Title, &r.Content); err != nil {
			return nil, nil, fmt.Errorf("scan section: %w", err)
		}
		sections = append(sections, r)
	}
	if err := sectionRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate sections: %w", err)
	}

	return projects, sections, nil
}
