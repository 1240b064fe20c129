package model

import (
	"encoding/json"
	"time"
)

// Artifact is an immutable typed result document produced by a run.
// (Type, SchemaVersion) is the dispatch key for interpretation; Content is
// never inspected to guess its shape.
type Artifact struct {
	ArtifactID    string          `json:"artifact_id"`
	Type          string          `json:"type"`
	SchemaVersion string          `json:"schema_version"`
	Content       json.RawMessage `json:"content"`
	Summary       *string         `json:"summary,omitempty"`
	Title         *string         `json:"title,omitempty"`

	// Extended fields, populated by the single-artifact endpoint.
	RunID          int64      `json:"run_id,omitempty"`
	ConversationID string     `json:"conversation_id,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
}

// ShapeKey returns the "type@schemaVersion" dispatch key.
func (a Artifact) ShapeKey() string {
	return a.Type + "@" + a.SchemaVersion
}

// ArtifactQuery filters GET /workbench/artifacts.
type ArtifactQuery struct {
	ConversationID string
	RunID          int64
	Limit          int
}
