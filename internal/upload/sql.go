package upload

import (
	"context"
	"regexp"

	"github.com/ashita-ai/workbench/internal/model"
)

// MediaTypeSQL is the media type used for uploaded SQL text.
const MediaTypeSQL = "application/sql"

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// SubstitutePlaceholders replaces {{name}} tokens in text with values[name].
// Unknown names are left untouched.
func SubstitutePlaceholders(text string, values map[string]string) []byte {
	out := placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := values[name]; ok {
			return v
		}
		return m
	})
	return []byte(out)
}

// UploadSQL substitutes placeholders first and only then hashes, presigns and
// uploads, so the reference always describes the final bytes.
func (c *Client) UploadSQL(ctx context.Context, sql string, values map[string]string, filename string) (model.ObjectReference, error) {
	return c.UploadObject(ctx, UploadRequest{
		Purpose:     "sql",
		MediaType:   MediaTypeSQL,
		Filename:    filename,
		Sensitivity: "restricted",
		Content:     SubstitutePlaceholders(sql, values),
	})
}
