package editor

import (
	"strings"

	"akademik/api/internal/store"
)

const (
	TitleImportanceAndQuality = "Konunun Önemi ve Araştırma Önerisinin Bilimsel Niteliği"
	TitleAimsAndObjectives    = "Amaç ve Hedefler"
	wideImpactTitlePrefix     = "Yaygın Etki - "
)

// Field describes one editable unit of a project: a section, a scientific
// merit sub-field or a wide impact row.
type Field struct {
	ID           string          `json:"id"`
	Kind         store.FieldKind `json:"kind"`
	Key          string          `json:"key"`
	Title        string          `json:"title"`
	Category     string          `json:"category,omitempty"`
	ProjectID    string          `json:"projectId"`
	ProjectTitle string          `json:"projectTitle"`
	MinWords     int             `json:"minWords"`
	MaxWords     int             `json:"maxWords"`
}

// Ref returns the storage address of the field.
func (f Field) Ref() store.FieldRef {
	return store.FieldRef{Kind: f.Kind, Key: f.Key}
}

// FieldID builds the workspace id of a storage address. Sections keep their
// own id; other kinds are prefixed with the kind.
func FieldID(ref store.FieldRef) string {
	if ref.Kind == store.FieldSection || ref.Kind == "" {
		return ref.Key
	}
	return string(ref.Kind) + "." + ref.Key
}

// ParseFieldID is the inverse of FieldID.
func ParseFieldID(id string) store.FieldRef {
	kind, key, ok := strings.Cut(id, ".")
	if ok {
		switch store.FieldKind(kind) {
		case store.FieldScientificMerit, store.FieldWideImpact:
			return store.FieldRef{Kind: store.FieldKind(kind), Key: key}
		}
	}
	return store.FieldRef{Kind: store.FieldSection, Key: id}
}

// MeritTitle returns the display title of a scientific merit sub-field.
func MeritTitle(key string) string {
	switch key {
	case store.MeritImportanceAndQuality:
		return TitleImportanceAndQuality
	case store.MeritAimsAndObjectives:
		return TitleAimsAndObjectives
	default:
		return key
	}
}

// WideImpactTitle returns the display title of a wide impact row.
func WideImpactTitle(category string) string {
	return wideImpactTitlePrefix + category
}
