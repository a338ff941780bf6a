package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/literature-assistant/internal/core/domain"
	"github.com/kirillkom/literature-assistant/internal/core/ports"
)

const (
	ModeStream = "stream"
	ModeBatch  = "batch"

	DefaultGuideMaxTokens   = 4000
	DefaultGuideTemperature = 0.7

	guideUserPrompt = "Generate a reading guide for the following literature:\n\n"
)

// GuideOptions tunes the stage-1 request. A zero Temperature is sent as is;
// only a negative one falls back to DefaultGuideTemperature.
type GuideOptions struct {
	MaxTokens   int
	Temperature float64
}

// Dependencies groups the collaborators shared by the single-document and
// batch pipelines. Events and Observer are optional.
type Dependencies struct {
	Repo     ports.LiteratureRepository
	Files    ports.FileService
	Model    ports.ChatModel
	Prompts  ports.PromptSource
	Decoder  ports.ClassificationDecoder
	Runner   ports.TaskRunner
	Events   ports.EventPublisher
	Observer ports.PipelineObserver
	Guide    GuideOptions
}

// GenerationOrchestrator streams a reading guide for one document and hands
// the finished guide to background classification.
type GenerationOrchestrator struct {
	repo     ports.LiteratureRepository
	files    ports.FileService
	model    ports.ChatModel
	prompts  ports.PromptSource
	decoder  ports.ClassificationDecoder
	runner   ports.TaskRunner
	events   ports.EventPublisher
	observer ports.PipelineObserver
	guide    GuideOptions

	// spawn starts a detached unit of work. Classification is never joined.
	spawn func(func())
}

func NewGenerationOrchestrator(deps Dependencies) *GenerationOrchestrator {
	guide := deps.Guide
	if guide.MaxTokens <= 0 {
		guide.MaxTokens = DefaultGuideMaxTokens
	}
	if guide.Temperature < 0 {
		guide.Temperature = DefaultGuideTemperature
	}
	events := deps.Events
	if events == nil {
		events = nopPublisher{}
	}
	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &GenerationOrchestrator{
		repo:     deps.Repo,
		files:    deps.Files,
		model:    deps.Model,
		prompts:  deps.Prompts,
		decoder:  deps.Decoder,
		runner:   deps.Runner,
		events:   events,
		observer: observer,
		guide:    guide,
		spawn:    func(fn func()) { go fn() },
	}
}

// GenerateGuide runs stage 1 for one upload. The returned channel yields
// events in order, ends with exactly one complete or error event and is
// closed afterwards. Cancelling ctx stops the stream and releases the model
// connection; background classification that already started keeps running.
func (o *GenerationOrchestrator) GenerateGuide(ctx context.Context, upload domain.Upload) <-chan domain.StreamEvent {
	out := make(chan domain.StreamEvent)
	go func() {
		defer close(out)
		em := streamEmitter{ctx: ctx, out: out}
		if err := o.runStream(ctx, upload, em); err != nil {
			em.emit(domain.StreamEvent{Type: domain.StreamEventError, Data: "processing failed: " + err.Error()})
		}
	}()
	return out
}

type streamEmitter struct {
	ctx context.Context
	out chan<- domain.StreamEvent
}

// emit reports false once the consumer is gone.
func (e streamEmitter) emit(ev domain.StreamEvent) bool {
	select {
	case e.out <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}

var errConsumerGone = errors.New("stream consumer disconnected")

func (o *GenerationOrchestrator) runStream(ctx context.Context, upload domain.Upload, em streamEmitter) error {
	if !em.emit(domain.StreamEvent{Type: domain.StreamEventStart, Data: "Processing literature file..."}) {
		return nil
	}

	var stored domain.StoredFile
	if err := o.runner.Do(ctx, func(ctx context.Context) error {
		var err error
		stored, err = o.files.Save(ctx, upload)
		return err
	}); err != nil {
		return err
	}
	if !em.emit(domain.StreamEvent{Type: domain.StreamEventProgress, Data: "File saved, extracting content..."}) {
		return nil
	}

	var text string
	if err := o.runner.Do(ctx, func(ctx context.Context) error {
		var err error
		text, err = o.files.Extract(ctx, stored.Path)
		return err
	}); err != nil {
		return err
	}

	// The insert must not be reported as cancelled once it has committed.
	var id int64
	if err := o.runner.Do(context.WithoutCancel(ctx), func(ctx context.Context) error {
		var err error
		id, err = o.createLiterature(ctx, upload.Filename, stored, text)
		return err
	}); err != nil {
		return err
	}
	if !em.emit(domain.StreamEvent{Type: domain.StreamEventProgress, Data: "Content extracted, generating reading guide...", LiteratureID: id}) {
		o.abandon(ctx, id)
		return nil
	}

	o.observer.GuideStarted(ModeStream)
	err := o.streamGuide(ctx, id, text, em)
	if err == nil {
		err = o.finalizeStreamed(context.WithoutCancel(ctx), id)
	}
	o.observer.GuideFinished(ModeStream, err)
	if errors.Is(err, errConsumerGone) {
		o.abandon(ctx, id)
		return nil
	}
	if err != nil {
		o.markFailed(context.WithoutCancel(ctx), id, err)
		return err
	}

	em.emit(domain.StreamEvent{Type: domain.StreamEventComplete, Data: "Generation completed", LiteratureID: id})
	return nil
}

func (o *GenerationOrchestrator) createLiterature(ctx context.Context, filename string, stored domain.StoredFile, text string) (int64, error) {
	lit := &domain.Literature{
		OriginalName:  filename,
		FilePath:      stored.Path,
		FileSize:      stored.Size,
		FileType:      domain.FileTypeOf(filename),
		ContentLength: utf8.RuneCountInString(text),
		Tags:          []string{},
		Status:        domain.StatusProcessing,
	}
	id, err := o.repo.Create(ctx, lit)
	if err != nil {
		return 0, fmt.Errorf("create literature: %w", err)
	}
	return id, nil
}

// streamGuide appends every delta to the stored guide in arrival order and
// forwards it to the consumer.
func (o *GenerationOrchestrator) streamGuide(ctx context.Context, id int64, text string, em streamEmitter) error {
	systemPrompt, err := o.prompts.GuidePrompt()
	if err != nil {
		return fmt.Errorf("load guide prompt: %w", err)
	}

	stream, err := o.model.Stream(ctx, o.guideRequest(systemPrompt, text))
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return errConsumerGone
			}
			return err
		}

		if chunk.Delta != "" {
			if err := o.repo.AppendGuide(ctx, id, chunk.Delta); err != nil {
				slog.Warn("guide_append_failed", "literature_id", id, "error", err)
			}
			o.observer.TokenStreamed()
			if !em.emit(domain.StreamEvent{Type: domain.StreamEventContent, Data: chunk.Delta, LiteratureID: id}) {
				return errConsumerGone
			}
		}
		if chunk.FinishReason != "" {
			if !em.emit(domain.StreamEvent{Type: domain.StreamEventFinish, Data: chunk.FinishReason, LiteratureID: id}) {
				return errConsumerGone
			}
		}
	}
}

// finalizeStreamed re-reads the guide accumulated by the appends.
func (o *GenerationOrchestrator) finalizeStreamed(ctx context.Context, id int64) error {
	lit, err := o.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("reload literature: %w", err)
	}
	return o.finalizeGuide(ctx, id, lit.ReadingGuide)
}

// finalizeGuide persists a non-blank guide and dispatches classification, or
// completes the literature directly when the guide is blank.
func (o *GenerationOrchestrator) finalizeGuide(ctx context.Context, id int64, guide string) error {
	if strings.TrimSpace(guide) == "" {
		slog.Warn("guide_empty_classification_skipped", "literature_id", id)
		if err := o.repo.UpdateStatus(ctx, id, domain.StatusCompleted, ""); err != nil {
			return fmt.Errorf("complete literature: %w", err)
		}
		o.publish(ctx, domain.LiteratureEvent{Type: domain.LiteratureGuideCompleted, LiteratureID: id, Status: domain.StatusCompleted})
		return nil
	}

	if err := o.repo.UpdateGuide(ctx, id, guide); err != nil {
		return fmt.Errorf("persist reading guide: %w", err)
	}
	o.publish(ctx, domain.LiteratureEvent{Type: domain.LiteratureGuideCompleted, LiteratureID: id, Status: domain.StatusProcessing})
	o.dispatchClassification(ctx, id, guide)
	return nil
}

func (o *GenerationOrchestrator) guideRequest(systemPrompt, text string) domain.ChatRequest {
	return domain.ChatRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   guideUserPrompt + text,
		MaxTokens:    o.guide.MaxTokens,
		Temperature:  o.guide.Temperature,
	}
}

// markFailed records a stage-1 failure. Model failures leave the row
// PROCESSING; FAILED is kept for store, file and disconnect failures.
func (o *GenerationOrchestrator) markFailed(ctx context.Context, id int64, cause error) {
	var modelErr *domain.ModelError
	if errors.As(cause, &modelErr) {
		slog.Error("guide_generation_failed", "literature_id", id, "error", cause, "status", domain.StatusProcessing)
		o.publish(ctx, domain.LiteratureEvent{Type: domain.LiteratureFailed, LiteratureID: id, Status: domain.StatusProcessing, Error: cause.Error()})
		return
	}
	slog.Error("guide_generation_failed", "literature_id", id, "error", cause)
	if err := o.repo.UpdateStatus(ctx, id, domain.StatusFailed, cause.Error()); err != nil {
		slog.Error("mark_failed_status_failed", "literature_id", id, "error", err)
	}
	o.publish(ctx, domain.LiteratureEvent{Type: domain.LiteratureFailed, LiteratureID: id, Status: domain.StatusFailed, Error: cause.Error()})
}

// abandon marks a literature whose stream consumer left before stage 1 ended.
func (o *GenerationOrchestrator) abandon(ctx context.Context, id int64) {
	slog.Warn("guide_stream_abandoned", "literature_id", id, "error", ctx.Err())
	o.markFailed(context.WithoutCancel(ctx), id, errConsumerGone)
}

func (o *GenerationOrchestrator) publish(ctx context.Context, event domain.LiteratureEvent) {
	if err := o.events.PublishLiteratureEvent(ctx, event); err != nil {
		slog.Warn("literature_event_publish_failed", "literature_id", event.LiteratureID, "type", string(event.Type), "error", err)
	}
}

type nopPublisher struct{}

func (nopPublisher) PublishLiteratureEvent(context.Context, domain.LiteratureEvent) error { return nil }

type nopObserver struct{}

func (nopObserver) GuideStarted(string) {}
func (nopObserver) GuideFinished(string, error) {}
func (nopObserver) TokenStreamed() {}
func (nopObserver) Classified(string) {}
func (nopObserver) BatchItem(error) {}
