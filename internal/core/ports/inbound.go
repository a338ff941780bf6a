package ports

import (
	"context"
	"io"

	"github.com/kirillkom/literature-assistant/internal/core/domain"
)

// GuideGenerator is the inbound contract for single-document guide streaming.
type GuideGenerator interface {
	GenerateGuide(ctx context.Context, upload domain.Upload) <-chan domain.StreamEvent
}

// BatchImporter is the inbound contract for batch imports.
type BatchImporter interface {
	Import(ctx context.Context, uploads []domain.Upload) <-chan domain.BatchEvent
}

// LiteratureReader is the inbound read model for literature state.
type LiteratureReader interface {
	GetByID(ctx context.Context, id int64) (*domain.Literature, error)
	Page(ctx context.Context, query domain.LiteratureQuery) (*domain.LiteraturePage, error)
	Download(ctx context.Context, id int64) (*domain.Literature, io.ReadCloser, error)
}
