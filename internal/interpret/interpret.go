// Package interpret turns run artifacts into typed, human-readable outcomes.
//
// Interpretation is pure: it dispatches on the newest artifact's
// (type, schemaVersion) key to a fixed formatter and never performs I/O.
// It is total: an empty artifact list, an unknown key or content that does not
// match its key each produce a non-empty summary instead of an error.
package interpret

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/workbench/internal/model"
)

// Kind values for summaries that do not come from a recognized shape.
const (
	KindNoArtifact   = "none"
	KindUnrecognized = "unrecognized"
)

// Summary is the interpreted outcome of a run.
type Summary struct {
	// Text is one information-dense paragraph, never empty.
	Text string
	// Kind is the recognized shape key, KindNoArtifact or KindUnrecognized.
	Kind string
	// Failed is true when the artifact itself reports a failure even though
	// the run succeeded (e.g. a rejected mutation).
	Failed bool
	// Content is the decoded newest artifact; nil when there was none.
	Content Content
	// ArtifactID identifies the interpreted artifact.
	ArtifactID string
}

// Interpret summarizes the newest artifact in arts (index 0).
func Interpret(actionID string, arts []model.Artifact) Summary {
	if len(arts) == 0 {
		return Summary{
			Text: fmt.Sprintf("%s completed; no result artifact was produced.", actionLabel(actionID)),
			Kind: KindNoArtifact,
		}
	}

	newest := arts[0]
	content := Decode(newest)
	s := Summary{Content: content, ArtifactID: newest.ArtifactID, Kind: content.shape()}

	switch c := content.(type) {
	case MutationResult:
		s.Text, s.Failed = formatMutation(actionID, c)
	case ResolveResult:
		s.Text = formatResolve(actionID, c)
	case EntityList:
		s.Text = formatList(actionID, c)
	case BulkDeletePreview:
		s.Text = formatBulkDeletePreview(actionID, c)
	case BulkDeleteResult:
		s.Text, s.Failed = formatBulkDeleteResult(actionID, c)
	case PatchPreview:
		s.Text, s.Failed = formatPatchPreview(actionID, c)
	case PatchResult:
		s.Text, s.Failed = formatPatchResult(actionID, c)
	case ImportResult:
		s.Text, s.Failed = formatImport(actionID, c)
	case Unrecognized:
		s.Kind = KindUnrecognized
		s.Text = formatUnrecognized(actionID, c)
	}

	if strings.TrimSpace(s.Text) == "" {
		s.Text = actionLabel(actionID) + " completed."
	}
	return s
}

// DecodeListPage extracts the list page from an entity-list artifact.
func DecodeListPage(a model.Artifact) (model.ListPage, error) {
	if a.ShapeKey() != ShapeEntityList {
		return model.ListPage{}, &model.Error{
			Kind:    model.KindContractViolation,
			Message: fmt.Sprintf("expected %s artifact, got %s", ShapeEntityList, a.ShapeKey()),
		}
	}
	list, ok := Decode(a).(EntityList)
	if !ok {
		return model.ListPage{}, &model.Error{
			Kind:    model.KindContractViolation,
			Message: "entity list artifact content did not decode",
			Body:    model.TruncateBody(a.Content),
		}
	}
	return list.ListPage, nil
}
