package ports

import (
	"context"
	"io"

	"github.com/kirillkom/literature-assistant/internal/core/domain"
)

// LiteratureRepository persists and reads literature state.
type LiteratureRepository interface {
	Create(ctx context.Context, lit *domain.Literature) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.Literature, error)
	UpdateStatus(ctx context.Context, id int64, status domain.LiteratureStatus, errMessage string) error
	// UpdateGuide replaces the whole reading guide.
	UpdateGuide(ctx context.Context, id int64, guide string) error
	// AppendGuide appends one streamed chunk to the reading guide.
	AppendGuide(ctx context.Context, id int64, chunk string) error
	// UpdateClassification writes tags and description once and marks the
	// literature completed.
	UpdateClassification(ctx context.Context, id int64, tags []string, description string) error
	Page(ctx context.Context, query domain.LiteratureQuery) (*domain.LiteraturePage, error)
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// FileService saves uploads and extracts their plain text.
type FileService interface {
	Save(ctx context.Context, upload domain.Upload) (domain.StoredFile, error)
	Extract(ctx context.Context, path string) (string, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// TextExtractor turns a stored document into plain text.
type TextExtractor interface {
	Extract(ctx context.Context, filename string, raw []byte) (string, error)
}

// ChatStream is a finite, non-restartable sequence of chunks. Recv returns
// io.EOF once the stream terminated normally. Close releases the underlying
// connection and may be called at any time.
type ChatStream interface {
	Recv() (domain.ChatChunk, error)
	Close() error
}

// ChatModel talks to an OpenAI-compatible chat completion service.
type ChatModel interface {
	Stream(ctx context.Context, req domain.ChatRequest) (ChatStream, error)
	Complete(ctx context.Context, req domain.ChatRequest) (domain.ChatCompletion, error)
}

// PromptSource supplies the two system prompts.
type PromptSource interface {
	GuidePrompt() (string, error)
	ClassificationPrompt() (string, error)
}

// ClassificationDecoder repairs and decodes a raw classification reply.
type ClassificationDecoder interface {
	Decode(raw string) (domain.Classification, error)
}

// TaskRunner runs blocking work on a bounded pool.
type TaskRunner interface {
	// Do runs fn on the pool and waits for it.
	Do(ctx context.Context, fn func(context.Context) error) error
	// Submit schedules fn on the pool without waiting.
	Submit(fn func()) error
}

// EventPublisher publishes literature lifecycle events.
type EventPublisher interface {
	PublishLiteratureEvent(ctx context.Context, event domain.LiteratureEvent) error
}

// PipelineObserver records pipeline metrics.
type PipelineObserver interface {
	GuideStarted(mode string)
	GuideFinished(mode string, err error)
	TokenStreamed()
	Classified(outcome string)
	BatchItem(err error)
}
