package models

import "time"

type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// PageSpan is the byte range of one page inside Document.Text.
type PageSpan struct {
	Number int `json:"number"`
	Start  int `json:"start"`
	End    int `json:"end"`
}

type Document struct {
	ID        string         `json:"id"`
	Filename  string         `json:"filename"`
	Size      int64          `json:"size"`
	MediaType string         `json:"media_type"`
	PageCount int            `json:"page_count"`
	Text      string         `json:"-"`
	Pages     []PageSpan     `json:"pages,omitempty"`
	Status    DocumentStatus `json:"status"`
	Error     string         `json:"error,omitempty"`
	Tier      string         `json:"extraction_tier,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// PageAt returns the 1-based page holding the byte offset. Offsets outside
// every span resolve to the nearest preceding page, or 1 when there are none.
func (d Document) PageAt(offset int) int {
	return PageForOffset(d.Pages, offset)
}

func PageForOffset(pages []PageSpan, offset int) int {
	page := 1
	for _, p := range pages {
		if offset < p.Start {
			break
		}
		page = p.Number
	}
	return page
}
