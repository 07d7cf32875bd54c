package store

import "time"

type GeneralInfo struct {
	ApplicantName string `json:"applicantName"`
	ResearchTitle string `json:"researchTitle"`
	AdvisorName   string `json:"advisorName"`
	Institution   string `json:"institution"`
}

type ScientificMerit struct {
	ImportanceAndQuality string `json:"importanceAndQuality"`
	AimsAndObjectives    string `json:"aimsAndObjectives"`
}

type WorkScheduleRow struct {
	ID                          string `json:"id"`
	DateRange                   string `json:"dateRange"`
	Activities                  string `json:"activities"`
	Responsible                 string `json:"responsible"`
	SuccessCriteriaContribution string `json:"successCriteriaContribution"`
}

type RiskManagementRow struct {
	ID             string `json:"id"`
	Risk           string `json:"risk"`
	Countermeasure string `json:"countermeasure"`
}

type ResearchFacilityRow struct {
	ID                 string `json:"id"`
	EquipmentTypeModel string `json:"equipmentTypeModel"`
	ProjectUsage       string `json:"projectUsage"`
}

type ProjectManagement struct {
	WorkSchedule       []WorkScheduleRow     `json:"workSchedule"`
	RiskManagement     []RiskManagementRow   `json:"riskManagement"`
	ResearchFacilities []ResearchFacilityRow `json:"researchFacilities"`
}

type WideImpactRow struct {
	ID                  string `json:"id"`
	Category            string `json:"category"`
	CategoryDescription string `json:"categoryDescription"`
	Outputs             string `json:"outputs"`
}

type Section struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"projectId"`
	Title        string    `json:"title"`
	Order        int       `json:"order"`
	DraftContent string    `json:"draftContent"`
	FinalContent *string   `json:"finalContent"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Revision is an accepted content snapshot. Rows are never updated.
type Revision struct {
	ID             string    `json:"id"`
	SectionID      string    `json:"sectionId"`
	Content        string    `json:"content"`
	RevisionNumber int       `json:"revisionNumber"`
	CreatedAt      time.Time `json:"createdAt"`
}

type Project struct {
	ID                string            `json:"id"`
	UserID            string            `json:"userId"`
	TemplateID        string            `json:"templateId"`
	TemplateName      string            `json:"templateName"`
	Title             string            `json:"title"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
	GeneralInfo       GeneralInfo       `json:"generalInfo"`
	Keywords          string            `json:"keywords"`
	ScientificMerit   ScientificMerit   `json:"scientificMerit"`
	ProjectManagement ProjectManagement `json:"projectManagement"`
	WideImpact        []WideImpactRow   `json:"wideImpact"`
	Sections          []Section         `json:"sections"`
}

// ProjectListItem is the dashboard row shape without nested content.
type ProjectListItem struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	TemplateID   string    `json:"templateId"`
	TemplateName string    `json:"templateName"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// FieldKind names the project column a non-section field lives in.
type FieldKind string

const (
	FieldSection         FieldKind = "section"
	FieldScientificMerit FieldKind = "scientific_merit"
	FieldWideImpact      FieldKind = "wide_impact"
)

// FieldRef addresses one editable value of a project.
// Key is the section id, the scientific merit column name, or the wide impact row id.
type FieldRef struct {
	Kind FieldKind
	Key  string
}

const (
	MeritImportanceAndQuality = "importance_and_quality"
	MeritAimsAndObjectives    = "aims_and_objectives"
)

// CommitInfo describes one entry of a project's revision archive.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Added     int       `json:"added"`
	Removed   int       `json:"removed"`
}
