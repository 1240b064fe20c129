package interpret

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/ashita-ai/workbench/internal/model"
)

// Recognized (type, schemaVersion) dispatch keys.
const (
	ShapeMutationResult   = "admin.mutation.result@v1"
	ShapeResolveResult    = "admin.entity.resolve@v1"
	ShapeEntityList       = "admin.entity.list@v1"
	ShapeBulkDeletePrev   = "admin.bulk_delete.preview@v1"
	ShapeBulkDeleteResult = "admin.bulk_delete.result@v1"
	ShapePatchPreview     = "admin.patch.preview@v1"
	ShapePatchResult      = "admin.patch.result@v1"
	ShapeImportResult     = "admin.csv_import.result@v1"
)

var errEmptyContent = errors.New("interpret: empty content")

// Content is the closed set of artifact payloads. Every variant is produced
// by Decode; Unrecognized is the fallback for any other key.
type Content interface {
	shape() string
}

// MutationResult reports a single create, update or delete.
type MutationResult struct {
	Status     string `json:"status"` // "succeeded" | "failed"
	Operation  string `json:"operation,omitempty"`
	EntityType string `json:"entity_type"`
	EntityID   *int64 `json:"entity_id,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Candidate is one ranked match of an entity resolution.
type Candidate struct {
	ID    int64   `json:"id"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// ResolveResult maps free text to entity ids.
type ResolveResult struct {
	EntityType string      `json:"entity_type"`
	Query      string      `json:"query"`
	Status     string      `json:"status"` // "matched" | "ambiguous" | "no_match"
	Candidates []Candidate `json:"candidates"`
}

// EntityList is one page of a cursor listing.
type EntityList struct {
	EntityType string `json:"entity_type"`
	model.ListPage
}

// ItemFailure is a per-item failure in a bulk operation.
type ItemFailure struct {
	ID     int64  `json:"id"`
	Reason string `json:"reason"`
}

// BulkDeletePreview lists what a bulk delete would touch.
type BulkDeletePreview struct {
	EntityType  string  `json:"entity_type"`
	ExistingIDs []int64 `json:"existing_ids"`
	MissingIDs  []int64 `json:"missing_ids"`
}

// BulkDeleteResult reports a bulk delete.
type BulkDeleteResult struct {
	EntityType string        `json:"entity_type"`
	DeletedIDs []int64       `json:"deleted_ids"`
	Failures   []ItemFailure `json:"failures"`
}

// ValidationError is one rejected row or field.
type ValidationError struct {
	Row     int    `json:"row,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// PatchPreview is a dry run of a patch.
type PatchPreview struct {
	EntityType       string            `json:"entity_type"`
	AffectedRows     int               `json:"affected_rows"`
	ValidationErrors []ValidationError `json:"validation_errors"`
}

// PatchResult reports an applied patch.
type PatchResult struct {
	EntityType   string            `json:"entity_type"`
	UpdatedRows  int               `json:"updated_rows"`
	Errors       []ValidationError `json:"errors"`
	RolledBack   bool              `json:"rolled_back,omitempty"`
	BaseArtifact string            `json:"base_artifact_id,omitempty"`
}

// ImportResult reports a CSV import.
type ImportResult struct {
	EntityType string            `json:"entity_type"`
	TotalRows  int               `json:"total_rows"`
	Created    int               `json:"created"`
	Updated    int               `json:"updated"`
	Skipped    int               `json:"skipped"`
	Errors     []ValidationError `json:"errors"`
	// ResumeAfterRow is set when the import stopped early and can resume.
	ResumeAfterRow *int `json:"resume_after_row,omitempty"`
}

// Unrecognized carries an artifact whose key is outside the known set, or
// whose content did not decode.
type Unrecognized struct {
	Type          string
	SchemaVersion string
	Summary       string
}

func (MutationResult) shape() string    { return ShapeMutationResult }
func (ResolveResult) shape() string     { return ShapeResolveResult }
func (EntityList) shape() string        { return ShapeEntityList }
func (BulkDeletePreview) shape() string { return ShapeBulkDeletePrev }
func (BulkDeleteResult) shape() string  { return ShapeBulkDeleteResult }
func (PatchPreview) shape() string      { return ShapePatchPreview }
func (PatchResult) shape() string       { return ShapePatchResult }
func (ImportResult) shape() string      { return ShapeImportResult }
func (u Unrecognized) shape() string    { return u.Type + "@" + u.SchemaVersion }

// Decode turns an artifact into its typed variant, dispatching only on
// (Type, SchemaVersion). It never fails: unknown keys and content that does
// not match its declared shape both yield Unrecognized.
func Decode(a model.Artifact) Content {
	var c Content
	var err error
	switch a.ShapeKey() {
	case ShapeMutationResult:
		c, err = decodeAs[MutationResult](a.Content)
	case ShapeResolveResult:
		c, err = decodeAs[ResolveResult](a.Content)
	case ShapeEntityList:
		c, err = decodeAs[EntityList](a.Content)
	case ShapeBulkDeletePrev:
		c, err = decodeAs[BulkDeletePreview](a.Content)
	case ShapeBulkDeleteResult:
		c, err = decodeAs[BulkDeleteResult](a.Content)
	case ShapePatchPreview:
		c, err = decodeAs[PatchPreview](a.Content)
	case ShapePatchResult:
		c, err = decodeAs[PatchResult](a.Content)
	case ShapeImportResult:
		c, err = decodeAs[ImportResult](a.Content)
	default:
		return unrecognized(a)
	}
	if err != nil {
		return unrecognized(a)
	}
	return c
}

func decodeAs[T Content](raw json.RawMessage) (Content, error) {
	var v T
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return v, errEmptyContent
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, err
	}
	return v, nil
}

func unrecognized(a model.Artifact) Unrecognized {
	u := Unrecognized{Type: a.Type, SchemaVersion: a.SchemaVersion}
	if a.Summary != nil {
		u.Summary = *a.Summary
	}
	return u
}
