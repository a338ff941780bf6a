package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/literature-assistant/internal/core/domain"
)

const (
	classificationMaxTokens   = 500
	classificationTemperature = 0.3

	classificationUserPrompt = "Generate tags and a description for the following literature reading guide:\n\n"
)

// Classification outcomes reported to the pipeline observer.
const (
	OutcomeClassified        = "classified"
	OutcomeEmptyResponse     = "empty_response"
	OutcomeModelError        = "model_error"
	OutcomeDecodeError       = "decode_error"
	OutcomeStoreError        = "store_error"
	OutcomeAlreadyClassified = "already_classified"
)

// dispatchClassification starts stage 2 detached from the caller: it is not
// awaited and it is not cancelled when ctx ends.
func (o *GenerationOrchestrator) dispatchClassification(ctx context.Context, id int64, guide string) {
	detached := context.WithoutCancel(ctx)
	o.spawn(func() {
		defer func() {
			if v := recover(); v != nil {
				slog.Error("classification_panic", "literature_id", id, "panic", v)
				o.completeWithoutClassification(detached, id)
			}
		}()
		o.classify(detached, id, guide)
	})
}

// classify runs the blocking classification call. Every failure is absorbed:
// the literature still ends up completed.
func (o *GenerationOrchestrator) classify(ctx context.Context, id int64, guide string) {
	outcome, err := o.classifyGuide(ctx, id, guide)
	o.observer.Classified(outcome)

	switch outcome {
	case OutcomeClassified:
		slog.Info("classification_saved", "literature_id", id)
	case OutcomeAlreadyClassified:
		slog.Warn("classification_already_present", "literature_id", id)
	default:
		slog.Error("classification_failed", "literature_id", id, "outcome", outcome, "error", err)
		o.completeWithoutClassification(ctx, id)
	}
}

func (o *GenerationOrchestrator) classifyGuide(ctx context.Context, id int64, guide string) (string, error) {
	systemPrompt, err := o.prompts.ClassificationPrompt()
	if err != nil {
		return OutcomeModelError, fmt.Errorf("load classification prompt: %w", err)
	}

	completion, err := o.model.Complete(ctx, domain.ChatRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   classificationUserPrompt + guide,
		MaxTokens:    classificationMaxTokens,
		Temperature:  classificationTemperature,
		JSONObject:   true,
	})
	if err != nil {
		return OutcomeModelError, err
	}

	raw := completion.FirstMessageContent()
	if strings.TrimSpace(raw) == "" {
		return OutcomeEmptyResponse, &domain.ModelError{Operation: "complete", Kind: domain.ErrEmptyResponse}
	}

	cls, err := o.decoder.Decode(raw)
	if err != nil {
		slog.Warn("classification_raw_reply", "literature_id", id, "raw", raw)
		return OutcomeDecodeError, err
	}

	if err := o.repo.UpdateClassification(ctx, id, cls.Tags, cls.Desc); err != nil {
		if domain.IsKind(err, domain.ErrAlreadyClassified) {
			return OutcomeAlreadyClassified, err
		}
		return OutcomeStoreError, err
	}

	o.publish(ctx, domain.LiteratureEvent{
		Type:         domain.LiteratureClassified,
		LiteratureID: id,
		Status:       domain.StatusCompleted,
		Tags:         cls.Tags,
	})
	return OutcomeClassified, nil
}

func (o *GenerationOrchestrator) completeWithoutClassification(ctx context.Context, id int64) {
	if err := o.repo.UpdateStatus(ctx, id, domain.StatusCompleted, ""); err != nil {
		slog.Error("complete_without_classification_failed", "literature_id", id, "error", err)
	}
}
