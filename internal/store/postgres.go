package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"akademik/api/internal/util"
)

// ErrUnknownField is returned by SaveField for keys that address nothing.
var ErrUnknownField = errors.New("unknown field")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ListProjects returns one page of a user's projects, most recently updated
// first, plus the user's total project count.
func (s *PostgresStore) ListProjects(ctx context.Context, userID string, page, limit int) ([]ProjectListItem, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM projects WHERE user_id=$1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count projects: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, template_id, template_name, title, created_at, updated_at
		FROM projects
		WHERE user_id=$1
		ORDER BY updated_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]ProjectListItem, 0)
	for rows.Next() {
		var item ProjectListItem
		if err := rows.Scan(&item.ID, &item.UserID, &item.TemplateID, &item.TemplateName, &item.Title, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate projects: %w", err)
	}
	return items, total, nil
}

// CreateProject inserts a project and its sections in one transaction.
func (s *PostgresStore) CreateProject(ctx context.Context, project Project) error {
	generalInfo, err := json.Marshal(project.GeneralInfo)
	if err != nil {
		return fmt.Errorf("marshal general info: %w", err)
	}
	management, err := json.Marshal(project.ProjectManagement)
	if err != nil {
		return fmt.Errorf("marshal project management: %w", err)
	}
	wideImpact, err := json.Marshal(nonNilRows(project.WideImpact))
	if err != nil {
		return fmt.Errorf("marshal wide impact: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create project tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projects (
			id, user_id, template_id, template_name, title, general_info, keywords,
			importance_and_quality, aims_and_objectives, project_management, wide_impact,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10::jsonb, $11::jsonb, $12, $12)
	`, project.ID, project.UserID, project.TemplateID, project.TemplateName, project.Title,
		string(generalInfo), project.Keywords,
		project.ScientificMerit.ImportanceAndQuality, project.ScientificMerit.AimsAndObjectives,
		string(management), string(wideImpact), project.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}

	for _, section := range project.Sections {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sections (id, project_id, title, sort_order, draft_content, final_content, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		`, section.ID, project.ID, section.Title, section.Order, section.DraftContent, section.FinalContent, project.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert section %s: %w", section.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create project: %w", err)
	}
	return nil
}

// GetProject loads a project with its sections in display order.
// Returns sql.ErrNoRows when the project does not exist.
func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var (
		p                                  Project
		generalInfo, management, wideImpact []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, template_id, template_name, title, general_info, keywords,
			importance_and_quality, aims_and_objectives, project_management, wide_impact,
			created_at, updated_at
		FROM projects
		WHERE id=$1
	`, projectID).Scan(&p.ID, &p.UserID, &p.TemplateID, &p.TemplateName, &p.Title, &generalInfo, &p.Keywords,
		&p.ScientificMerit.ImportanceAndQuality, &p.ScientificMerit.AimsAndObjectives, &management, &wideImpact,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Project{}, err
	}

	if err := json.Unmarshal(generalInfo, &p.GeneralInfo); err != nil {
		return Project{}, fmt.Errorf("decode general info: %w", err)
	}
	if err := json.Unmarshal(management, &p.ProjectManagement); err != nil {
		return Project{}, fmt.Errorf("decode project management: %w", err)
	}
	if err := json.Unmarshal(wideImpact, &p.WideImpact); err != nil {
		return Project{}, fmt.Errorf("decode wide impact: %w", err)
	}
	p.WideImpact = nonNilRows(p.WideImpact)

	sections, err := s.listSections(ctx, projectID)
	if err != nil {
		return Project{}, err
	}
	p.Sections = sections
	return p, nil
}

func (s *PostgresStore) listSections(ctx context.Context, projectID string) ([]Section, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, title, sort_order, draft_content, final_content, created_at, updated_at
		FROM sections
		WHERE project_id=$1
		ORDER BY sort_order, id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	defer rows.Close()

	sections := make([]Section, 0)
	for rows.Next() {
		section, err := scanSection(rows)
		if err != nil {
			return nil, err
		}
		sections = append(sections, section)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sections: %w", err)
	}
	return sections, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSection(row rowScanner) (Section, error) {
	var (
		section Section
		final   sql.NullString
	)
	if err := row.Scan(&section.ID, &section.ProjectID, &section.Title, &section.Order, &section.DraftContent, &final, &section.CreatedAt, &section.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Section{}, err
		}
		return Section{}, fmt.Errorf("scan section: %w", err)
	}
	if final.Valid {
		section.FinalContent = &final.String
	}
	return section, nil
}

func (s *PostgresStore) GetSection(ctx context.Context, sectionID string) (Section, error) {
	return scanSection(s.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, sort_order, draft_content, final_content, created_at, updated_at
		FROM sections
		WHERE id=$1
	`, sectionID))
}

// DeleteProject removes a project with its sections and revisions.
// Returns sql.ErrNoRows when nothing was deleted.
func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete project rows: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// updateProjectColumn sets one whitelisted column and bumps updated_at.
func (s *PostgresStore) updateProjectColumn(ctx context.Context, projectID, column string, value any) (time.Time, error) {
	var updatedAt time.Time
	query := fmt.Sprintf(`UPDATE projects SET %s=$2, updated_at=NOW() WHERE id=$1 RETURNING updated_at`, column)
	if err := s.db.QueryRowContext(ctx, query, projectID, value).Scan(&updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, err
		}
		return time.Time{}, fmt.Errorf("update project %s: %w", column, err)
	}
	return updatedAt, nil
}

func (s *PostgresStore) updateProjectJSON(ctx context.Context, projectID, column string, value any) (time.Time, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("marshal %s: %w", column, err)
	}
	var updatedAt time.Time
	query := fmt.Sprintf(`UPDATE projects SET %s=$2::jsonb, updated_at=NOW() WHERE id=$1 RETURNING updated_at`, column)
	if err := s.db.QueryRowContext(ctx, query, projectID, string(raw)).Scan(&updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, err
		}
		return time.Time{}, fmt.Errorf("update project %s: %w", column, err)
	}
	return updatedAt, nil
}

func (s *PostgresStore) UpdateProjectTitle(ctx context.Context, projectID, title string) (time.Time, error) {
	return s.updateProjectColumn(ctx, projectID, "title", title)
}

func (s *PostgresStore) UpdateKeywords(ctx context.Context, projectID, keywords string) (time.Time, error) {
	return s.updateProjectColumn(ctx, projectID, "keywords", keywords)
}

func (s *PostgresStore) UpdateGeneralInfo(ctx context.Context, projectID string, info GeneralInfo) (time.Time, error) {
	return s.updateProjectJSON(ctx, projectID, "general_info", info)
}

func (s *PostgresStore) UpdateProjectManagement(ctx context.Context, projectID string, pm ProjectManagement) (time.Time, error) {
	return s.updateProjectJSON(ctx, projectID, "project_management", pm)
}

func (s *PostgresStore) UpdateWideImpact(ctx context.Context, projectID string, rows []WideImpactRow) (time.Time, error) {
	return s.updateProjectJSON(ctx, projectID, "wide_impact", nonNilRows(rows))
}

func (s *PostgresStore) UpdateScientificMerit(ctx context.Context, projectID string, merit ScientificMerit) (time.Time, error) {
	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		UPDATE projects
		SET importance_and_quality=$2, aims_and_objectives=$3, updated_at=NOW()
		WHERE id=$1
		RETURNING updated_at
	`, projectID, merit.ImportanceAndQuality, merit.AimsAndObjectives).Scan(&updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, err
		}
		return time.Time{}, fmt.Errorf("update scientific merit: %w", err)
	}
	return updatedAt, nil
}

// SaveSection stores a new draft for a section.
func (s *PostgresStore) SaveSection(ctx context.Context, sectionID, draft string) (Section, error) {
	section, err := scanSection(s.db.QueryRowContext(ctx, `
		UPDATE sections SET draft_content=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING id, project_id, title, sort_order, draft_content, final_content, created_at, updated_at
	`, sectionID, draft))
	if err != nil {
		return Section{}, err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE projects SET updated_at=NOW() WHERE id=$1`, section.ProjectID); err != nil {
		return Section{}, fmt.Errorf("touch project: %w", err)
	}
	return section, nil
}

// AcceptRevision makes content the section's draft and final content and
// appends the next numbered revision, all in one transaction.
func (s *PostgresStore) AcceptRevision(ctx context.Context, sectionID, content string) (Section, Revision, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Section{}, Revision{}, fmt.Errorf("begin accept tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Row lock serialises concurrent accepts so revision numbers stay dense.
	var projectID string
	if err := tx.QueryRowContext(ctx, `SELECT project_id FROM sections WHERE id=$1 FOR UPDATE`, sectionID).Scan(&projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Section{}, Revision{}, err
		}
		return Section{}, Revision{}, fmt.Errorf("lock section: %w", err)
	}

	rev := Revision{ID: util.NewID("rev"), SectionID: sectionID, Content: content}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO section_revisions (id, section_id, content, revision_number)
		SELECT $1, $2, $3, COALESCE(MAX(revision_number), 0) + 1
		FROM section_revisions WHERE section_id=$2
		RETURNING revision_number, created_at
	`, rev.ID, sectionID, content).Scan(&rev.RevisionNumber, &rev.CreatedAt)
	if err != nil {
		return Section{}, Revision{}, fmt.Errorf("insert revision: %w", err)
	}

	section, err := scanSection(tx.QueryRowContext(ctx, `
		UPDATE sections SET draft_content=$2, final_content=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING id, project_id, title, sort_order, draft_content, final_content, created_at, updated_at
	`, sectionID, content))
	if err != nil {
		return Section{}, Revision{}, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE projects SET updated_at=NOW() WHERE id=$1`, projectID); err != nil {
		return Section{}, Revision{}, fmt.Errorf("touch project: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Section{}, Revision{}, fmt.Errorf("commit accept: %w", err)
	}
	return section, rev, nil
}

// ListRevisions returns a section's revisions, oldest first.
func (s *PostgresStore) ListRevisions(ctx context.Context, sectionID string) ([]Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, section_id, content, revision_number, created_at
		FROM section_revisions
		WHERE section_id=$1
		ORDER BY revision_number
	`, sectionID)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	revisions := make([]Revision, 0)
	for rows.Next() {
		var rev Revision
		if err := rows.Scan(&rev.ID, &rev.SectionID, &rev.Content, &rev.RevisionNumber, &rev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		revisions = append(revisions, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revisions: %w", err)
	}
	return revisions, nil
}

// SaveField writes the content of one editable field. Sections store a
// draft; scientific merit keys map to their column; wide impact keys name a
// row whose outputs are replaced.
func (s *PostgresStore) SaveField(ctx context.Context, projectID string, ref FieldRef, content string) error {
	switch ref.Kind {
	case FieldSection:
		_, err := s.SaveSection(ctx, ref.Key, content)
		return err
	case FieldScientificMerit:
		column, ok := meritColumns[ref.Key]
		if !ok {
			return fmt.Errorf("%w: scientific merit %q", ErrUnknownField, ref.Key)
		}
		_, err := s.updateProjectColumn(ctx, projectID, column, content)
		return err
	case FieldWideImpact:
		return s.saveWideImpactOutputs(ctx, projectID, ref.Key, content)
	default:
		return fmt.Errorf("%w: kind %q", ErrUnknownField, ref.Kind)
	}
}

var meritColumns = map[string]string{
	MeritImportanceAndQuality: "importance_and_quality",
	MeritAimsAndObjectives:    "aims_and_objectives",
}

func (s *PostgresStore) saveWideImpactOutputs(ctx context.Context, projectID, rowID, outputs string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin wide impact tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw []byte
	if err := tx.QueryRowContext(ctx, `SELECT wide_impact FROM projects WHERE id=$1 FOR UPDATE`, projectID).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("load wide impact: %w", err)
	}
	var rows []WideImpactRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return fmt.Errorf("decode wide impact: %w", err)
	}

	found := false
	for i := range rows {
		if rows[i].ID == rowID {
			rows[i].Outputs = outputs
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: wide impact row %q", ErrUnknownField, rowID)
	}

	updated, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal wide impact: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE projects SET wide_impact=$2::jsonb, updated_at=NOW() WHERE id=$1`, projectID, string(updated)); err != nil {
		return fmt.Errorf("update wide impact: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit wide impact: %w", err)
	}
	return nil
}

func nonNilRows(rows []WideImpactRow) []WideImpactRow {
	if rows == nil {
		return []WideImpactRow{}
	}
	return rows
}
