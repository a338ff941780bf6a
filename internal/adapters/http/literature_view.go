package httpadapter

import (
	"time"
	"unicode/utf8"

	"github.com/kirillkom/literature-assistant/internal/core/domain"
)

const guideSummaryRunes = 200

type literatureView struct {
	ID            int64     `json:"id"`
	OriginalName  string    `json:"original_name"`
	FileType      string    `json:"file_type"`
	FileSize      int64     `json:"file_size"`
	ContentLength int       `json:"content_length"`
	ReadingGuide  string    `json:"reading_guide,omitempty"`
	GuideSummary  string    `json:"guide_summary,omitempty"`
	Description   string    `json:"description"`
	Tags          []string  `json:"tags"`
	Status        int       `json:"status"`
	StatusDesc    string    `json:"status_desc"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type literaturePageView struct {
	Items    []literatureView `json:"items"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

func toLiteratureView(lit domain.Literature, fullGuide bool) literatureView {
	tags := lit.Tags
	if tags == nil {
		tags = []string{}
	}
	view := literatureView{
		ID:            lit.ID,
		OriginalName:  lit.OriginalName,
		FileType:      lit.FileType,
		FileSize:      lit.FileSize,
		ContentLength: lit.ContentLength,
		Description:   lit.Description,
		Tags:          tags,
		Status:        int(lit.Status),
		StatusDesc:    domain.StatusDescription(lit.Status),
		Error:         lit.Error,
		CreatedAt:     lit.CreatedAt,
		UpdatedAt:     lit.UpdatedAt,
	}
	if fullGuide {
		view.ReadingGuide = lit.ReadingGuide
	} else {
		view.GuideSummary = summarize(lit.ReadingGuide, guideSummaryRunes)
	}
	return view
}

func toLiteraturePageView(page *domain.LiteraturePage) literaturePageView {
	items := make([]literatureView, 0, len(page.Items))
	for _, lit := range page.Items {
		items = append(items, toLiteratureView(lit, false))
	}
	return literaturePageView{
		Items:    items,
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	}
}

// summarize cuts text to limit runes and marks the cut with "...".
func summarize(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit]) + "..."
}
