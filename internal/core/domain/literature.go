package domain

import (
	"io"
	"path/filepath"
	"strings"
	"time"
)

type LiteratureStatus int

const (
	StatusProcessing LiteratureStatus = 0
	StatusCompleted  LiteratureStatus = 1
	StatusFailed     LiteratureStatus = 2
)

func (s LiteratureStatus) String() string {
	switch s {
	case StatusProcessing:
		return "PROCESSING"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// StatusDescription is the human-readable label shown next to the status code.
func StatusDescription(s LiteratureStatus) string {
	switch s {
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseStatus accepts both the numeric code and the symbolic name.
func ParseStatus(raw string) (LiteratureStatus, bool) {
	switch raw {
	case "0", "PROCESSING", "processing":
		return StatusProcessing, true
	case "1", "COMPLETED", "completed":
		return StatusCompleted, true
	case "2", "FAILED", "failed":
		return StatusFailed, true
	default:
		return 0, false
	}
}

// Literature is one uploaded document and everything the pipeline derived from it.
type Literature struct {
	ID            int64            `json:"id"`
	OriginalName  string           `json:"original_name"`
	FilePath      string           `json:"file_path"`
	FileSize      int64            `json:"file_size"`
	FileType      string           `json:"file_type"`
	ContentLength int              `json:"content_length"`
	ReadingGuide  string           `json:"reading_guide,omitempty"`
	Description   string           `json:"description,omitempty"`
	Tags          []string         `json:"tags"`
	Status        LiteratureStatus `json:"status"`
	Error         string           `json:"error,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Classification is the decoded stage-2 reply. Desc maps to the "desc" key the
// classification prompt asks for.
type Classification struct {
	Tags []string `json:"tags"`
	Desc string   `json:"desc"`
}

// Upload is a raw document handed to the pipeline before it is stored.
// Open may be called once per pipeline run.
type Upload struct {
	Filename string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// FileTypeOf returns the lower-case extension of filename without the dot.
func FileTypeOf(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// StoredFile describes an upload after it was written to object storage.
type StoredFile struct {
	Path string
	Size int64
}

type LiteratureQuery struct {
	Page     int
	PageSize int
	Keyword  string
	Tag      string
	FileType string
	Status   *LiteratureStatus
}

type LiteraturePage struct {
	Items    []Literature `json:"items"`
	Total    int64        `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

func (q LiteratureQuery) Normalize() LiteratureQuery {
	out := q
	if out.Page <= 0 {
		out.Page = 1
	}
	if out.PageSize <= 0 {
		out.PageSize = DefaultPageSize
	}
	if out.PageSize > MaxPageSize {
		out.PageSize = MaxPageSize
	}
	return out
}

func (q LiteratureQuery) Offset() int {
	n := q.Normalize()
	return (n.Page - 1) * n.PageSize
}
