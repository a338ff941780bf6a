package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/kirillkom/literature-assistant/internal/core/domain"
)

// itemEventBuffer covers every event a single item emits, so item workers
// never block on a slow or departed consumer.
const itemEventBuffer = 4

// BatchImportUseCase runs many uploads through the guide pipeline on the
// shared worker pool. Items execute concurrently but their events are
// emitted strictly in input order.
type BatchImportUseCase struct {
	gen *GenerationOrchestrator
}

func NewBatchImportUseCase(gen *GenerationOrchestrator) *BatchImportUseCase {
	return &BatchImportUseCase{gen: gen}
}

type batchCounters struct {
	total     int
	completed atomic.Int64
	errors    atomic.Int64
}

func (b *BatchImportUseCase) Import(ctx context.Context, uploads []domain.Upload) <-chan domain.BatchEvent {
	out := make(chan domain.BatchEvent)
	go func() {
		defer close(out)
		b.run(ctx, uploads, out)
	}()
	return out
}

func (b *BatchImportUseCase) run(ctx context.Context, uploads []domain.Upload, out chan<- domain.BatchEvent) {
	counters := &batchCounters{total: len(uploads)}
	emit := func(ev domain.BatchEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(domain.BatchEvent{Type: domain.BatchEventStart, Total: intPtr(counters.total), Message: "Batch processing started"}) {
		return
	}

	slots := make([]chan domain.BatchEvent, len(uploads))
	for i := range slots {
		slots[i] = make(chan domain.BatchEvent, itemEventBuffer)
	}

	go func() {
		for i, upload := range uploads {
			slot := slots[i]
			err := b.gen.runner.Submit(func() {
				b.runItem(ctx, i, upload, slot, counters)
			})
			if err != nil {
				b.rejectItem(i, upload, slot, counters, fmt.Errorf("schedule item: %w", err))
			}
		}
	}()

	// completed is stamped in emission order, not in worker finish order.
	for _, slot := range slots {
		for ev := range slot {
			if ev.Type == domain.BatchEventFileComplete || ev.Type == domain.BatchEventFileError {
				ev.Completed = int64Ptr(counters.completed.Add(1))
			}
			if !emit(ev) {
				return
			}
		}
	}

	emit(domain.BatchEvent{
		Type:    domain.BatchEventComplete,
		Total:   intPtr(counters.total),
		Errors:  int64Ptr(counters.errors.Load()),
		Message: "Batch processing completed",
	})
}

// runItem owns slot and closes it when the item is done. Any failure,
// including a panic, becomes a file_error event for this index only.
func (b *BatchImportUseCase) runItem(ctx context.Context, index int, upload domain.Upload, slot chan<- domain.BatchEvent, counters *batchCounters) {
	defer close(slot)

	slot <- domain.BatchEvent{Type: domain.BatchEventFileStart, Index: intPtr(index), Filename: upload.Filename, Message: "File processing started"}

	id, err := b.processItem(ctx, upload, func(id int64) {
		slot <- domain.BatchEvent{
			Type:         domain.BatchEventFileSaved,
			Index:        intPtr(index),
			LiteratureID: id,
			Message:      "File saved, generating reading guide",
		}
	})
	b.gen.observer.BatchItem(err)
	if err != nil {
		slog.Warn("batch_item_failed", "index", index, "filename", upload.Filename, "error", err)
		slot <- b.errorEvent(index, upload, counters, err)
		return
	}

	slot <- domain.BatchEvent{
		Type:         domain.BatchEventFileComplete,
		Index:        intPtr(index),
		LiteratureID: id,
		Total:        intPtr(counters.total),
		Message:      "File processing completed",
	}
}

func (b *BatchImportUseCase) rejectItem(index int, upload domain.Upload, slot chan<- domain.BatchEvent, counters *batchCounters, err error) {
	defer close(slot)
	b.gen.observer.BatchItem(err)
	slot <- domain.BatchEvent{Type: domain.BatchEventFileStart, Index: intPtr(index), Filename: upload.Filename, Message: "File processing started"}
	slot <- b.errorEvent(index, upload, counters, err)
}

func (b *BatchImportUseCase) errorEvent(index int, upload domain.Upload, counters *batchCounters, err error) domain.BatchEvent {
	counters.errors.Add(1)
	return domain.BatchEvent{
		Type:     domain.BatchEventFileError,
		Index:    intPtr(index),
		Filename: upload.Filename,
		Error:    err.Error(),
		Total:    intPtr(counters.total),
	}
}

// processItem runs save, extract, create and the blocking guide call for one
// upload. It already runs on a pool worker, so it does not resubmit work.
func (b *BatchImportUseCase) processItem(ctx context.Context, upload domain.Upload, onSaved func(int64)) (id int64, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("item panic: %v", v)
		}
	}()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	gen := b.gen

	stored, err := gen.files.Save(ctx, upload)
	if err != nil {
		return 0, err
	}
	text, err := gen.files.Extract(ctx, stored.Path)
	if err != nil {
		return 0, err
	}
	id, err = gen.createLiterature(ctx, upload.Filename, stored, text)
	if err != nil {
		return 0, err
	}
	onSaved(id)

	gen.observer.GuideStarted(ModeBatch)
	guide, err := gen.completeGuide(ctx, text)
	if err == nil {
		err = gen.finalizeGuide(context.WithoutCancel(ctx), id, guide)
	}
	gen.observer.GuideFinished(ModeBatch, err)
	if err != nil {
		gen.markFailed(context.WithoutCancel(ctx), id, err)
		return id, err
	}
	return id, nil
}

func (o *GenerationOrchestrator) completeGuide(ctx context.Context, text string) (string, error) {
	systemPrompt, err := o.prompts.GuidePrompt()
	if err != nil {
		return "", fmt.Errorf("load guide prompt: %w", err)
	}
	completion, err := o.model.Complete(ctx, o.guideRequest(systemPrompt, text))
	if err != nil {
		return "", err
	}
	return completion.FirstMessageContent(), nil
}

func intPtr(v int) *int {
	return &v
}

func int64Ptr(v int64) *int64 {
	return &v
}

