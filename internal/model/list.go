package model

import "encoding/json"

// ListPage is one page of a cursor-paginated entity listing.
// Items is nil when the listing artifact carries ids only.
type ListPage struct {
	IDs         []int64           `json:"ids"`
	Items       []json.RawMessage `json:"items,omitempty"`
	HasMore     bool              `json:"has_more"`
	NextAfterID *int64            `json:"next_after_id"`
	Total       *int64            `json:"total,omitempty"`
}
