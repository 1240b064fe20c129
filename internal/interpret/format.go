package interpret

import (
	"fmt"
	"strconv"
	"strings"
)

const idPreviewLimit = 10

// actionLabel returns the action id, or a neutral label when it is empty.
func actionLabel(actionID string) string {
	if actionID == "" {
		return "The operation"
	}
	return actionID
}

// actionParts splits "admin.<verb>.<entity>" ids.
func actionParts(actionID string) (verb, entity string) {
	parts := strings.Split(actionID, ".")
	if len(parts) >= 3 {
		return parts[1], strings.Join(parts[2:], ".")
	}
	return "", ""
}

func entityOr(entity, actionID string) string {
	if entity != "" {
		return entity
	}
	if _, e := actionParts(actionID); e != "" {
		return e
	}
	return "record"
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + singular(word)
	}
	return strconv.Itoa(n) + " " + pluralize(word)
}

func singular(word string) string {
	switch {
	case strings.HasSuffix(word, "ies"):
		return strings.TrimSuffix(word, "ies") + "y"
	case strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss"):
		return strings.TrimSuffix(word, "s")
	default:
		return word
	}
}

func pluralize(word string) string {
	w := singular(word)
	switch {
	case strings.HasSuffix(w, "y") && !strings.HasSuffix(w, "ey"):
		return strings.TrimSuffix(w, "y") + "ies"
	case strings.HasSuffix(w, "s"), strings.HasSuffix(w, "x"), strings.HasSuffix(w, "ch"):
		return w + "es"
	default:
		return w + "s"
	}
}

func idPreview(ids []int64) string {
	n := min(len(ids), idPreviewLimit)
	parts := make([]string, 0, n)
	for _, id := range ids[:n] {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	out := strings.Join(parts, ", ")
	if rest := len(ids) - n; rest > 0 {
		out += fmt.Sprintf(" and %d more", rest)
	}
	return out
}

func pastTense(verb string) string {
	switch verb {
	case "":
		return "processed"
	case "create":
		return "created"
	case "update":
		return "updated"
	case "delete":
		return "deleted"
	case "upsert":
		return "saved"
	default:
		if strings.HasSuffix(verb, "e") {
			return verb + "d"
		}
		return verb + "ed"
	}
}

func formatMutation(actionID string, c MutationResult) (string, bool) {
	verb := c.Operation
	if verb == "" {
		verb, _ = actionParts(actionID)
	}
	entity := singular(entityOr(c.EntityType, actionID))

	target := entity
	if c.EntityID != nil {
		target = fmt.Sprintf("%s %d", entity, *c.EntityID)
	}

	if c.Status == "failed" {
		action := verb
		if action == "" {
			action = "change"
		}
		text := fmt.Sprintf("Failed to %s %s", action, target)
		if c.ErrorCode != "" {
			text += fmt.Sprintf(" (error %s)", c.ErrorCode)
		}
		if c.Message != "" {
			text += ": " + c.Message
		}
		return text + ".", true
	}

	text := fmt.Sprintf("%s %s", strings.ToUpper(pastTense(verb)[:1])+pastTense(verb)[1:], target)
	if c.Message != "" {
		text += ": " + c.Message
	}
	return text + ".", false
}

func formatResolve(actionID string, c ResolveResult) string {
	entity := entityOr(c.EntityType, actionID)
	query := ""
	if c.Query != "" {
		query = fmt.Sprintf(" for %q", c.Query)
	}

	switch {
	case c.Status == "no_match" || len(c.Candidates) == 0:
		return fmt.Sprintf("No %s matched%s.", pluralize(entity), query)
	case c.Status == "matched" || (c.Status != "ambiguous" && len(c.Candidates) == 1):
		best := c.Candidates[0]
		text := fmt.Sprintf("Resolved%s to %s %q (id %d)", query, singular(entity), best.Label, best.ID)
		if others := len(c.Candidates) - 1; others > 0 {
			text += fmt.Sprintf(", ahead of %d weaker candidates", others)
		}
		return text + "."
	default:
		shown := c.Candidates[:min(len(c.Candidates), 5)]
		parts := make([]string, 0, len(shown))
		for _, cand := range shown {
			parts = append(parts, fmt.Sprintf("%s (id %d, score %.2f)", cand.Label, cand.ID, cand.Score))
		}
		text := fmt.Sprintf("Ambiguous%s: %s could match; top candidates are %s",
			query, plural(len(c.Candidates), entity), strings.Join(parts, "; "))
		return text + ". Ask which one was meant."
	}
}

func formatList(actionID string, c EntityList) string {
	entity := entityOr(c.EntityType, actionID)
	count := len(c.IDs)

	if count == 0 {
		return fmt.Sprintf("No %s found.", pluralize(entity))
	}

	var b strings.Builder
	if c.Total != nil && *c.Total > int64(count) {
		fmt.Fprintf(&b, "Showing %d of %d %s", count, *c.Total, pluralize(entity))
	} else {
		fmt.Fprintf(&b, "Found %s", plural(count, entity))
	}
	fmt.Fprintf(&b, " (ids %s).", idPreview(c.IDs))

	if c.HasMore && c.NextAfterID != nil {
		fmt.Fprintf(&b, " More results are available; continue after id %d.", *c.NextAfterID)
	}
	return b.String()
}

func formatBulkDeletePreview(actionID string, c BulkDeletePreview) string {
	entity := entityOr(c.EntityType, actionID)
	text := fmt.Sprintf("Delete preview: %s would be deleted", plural(len(c.ExistingIDs), entity))
	if len(c.ExistingIDs) > 0 {
		text += fmt.Sprintf(" (ids %s)", idPreview(c.ExistingIDs))
	}
	if len(c.MissingIDs) > 0 {
		text += fmt.Sprintf("; %d requested ids do not exist (%s)", len(c.MissingIDs), idPreview(c.MissingIDs))
	}
	return text + ". Nothing has been deleted yet."
}

func formatBulkDeleteResult(actionID string, c BulkDeleteResult) (string, bool) {
	entity := entityOr(c.EntityType, actionID)
	text := fmt.Sprintf("Deleted %s", plural(len(c.DeletedIDs), entity))
	if len(c.Failures) == 0 {
		return text + ".", false
	}

	shown := c.Failures[:min(len(c.Failures), 5)]
	parts := make([]string, 0, len(shown))
	for _, f := range shown {
		parts = append(parts, fmt.Sprintf("%d: %s", f.ID, f.Reason))
	}
	text += fmt.Sprintf("; %d failed (%s", len(c.Failures), strings.Join(parts, "; "))
	if rest := len(c.Failures) - len(shown); rest > 0 {
		text += fmt.Sprintf("; and %d more", rest)
	}
	return text + ").", true
}

func formatValidation(errs []ValidationError) string {
	shown := errs[:min(len(errs), 5)]
	parts := make([]string, 0, len(shown))
	for _, e := range shown {
		var loc []string
		if e.Row > 0 {
			loc = append(loc, fmt.Sprintf("row %d", e.Row))
		}
		if e.Field != "" {
			loc = append(loc, e.Field)
		}
		if len(loc) > 0 {
			parts = append(parts, strings.Join(loc, " ")+": "+e.Message)
		} else {
			parts = append(parts, e.Message)
		}
	}
	out := strings.Join(parts, "; ")
	if rest := len(errs) - len(shown); rest > 0 {
		out += fmt.Sprintf("; and %d more", rest)
	}
	return out
}

func formatPatchPreview(actionID string, c PatchPreview) (string, bool) {
	entity := entityOr(c.EntityType, actionID)
	if len(c.ValidationErrors) > 0 {
		return fmt.Sprintf("Patch preview found %d validation errors (%s); nothing would be applied.",
			len(c.ValidationErrors), formatValidation(c.ValidationErrors)), true
	}
	return fmt.Sprintf("Patch preview: %s would change. Confirm to apply.", plural(c.AffectedRows, entity)), false
}

func formatPatchResult(actionID string, c PatchResult) (string, bool) {
	entity := entityOr(c.EntityType, actionID)
	if len(c.Errors) > 0 || c.RolledBack {
		text := "Patch was not applied"
		if c.RolledBack {
			text = "Patch was rolled back"
		}
		if len(c.Errors) > 0 {
			text += fmt.Sprintf(" (%s)", formatValidation(c.Errors))
		}
		return text + ".", true
	}
	return fmt.Sprintf("Patch applied: %s updated.", plural(c.UpdatedRows, entity)), false
}

func formatImport(actionID string, c ImportResult) (string, bool) {
	entity := entityOr(c.EntityType, actionID)
	var b strings.Builder
	fmt.Fprintf(&b, "Import processed %d rows: %d created, %d updated, %d skipped",
		c.TotalRows, c.Created, c.Updated, c.Skipped)
	if entity != "record" {
		fmt.Fprintf(&b, " (%s)", pluralize(entity))
	}
	failed := len(c.Errors) > 0
	if failed {
		fmt.Fprintf(&b, "; %d rows had errors (%s)", len(c.Errors), formatValidation(c.Errors))
	}
	b.WriteString(".")
	if c.ResumeAfterRow != nil {
		fmt.Fprintf(&b, " The import stopped early and can resume after row %d.", *c.ResumeAfterRow)
		failed = true
	}
	return b.String(), failed
}

func formatUnrecognized(actionID string, c Unrecognized) string {
	if s := strings.TrimSpace(c.Summary); s != "" {
		return s
	}
	return actionLabel(actionID) + " completed."
}
