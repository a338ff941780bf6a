package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/literature-assistant/internal/core/domain"
	"github.com/kirillkom/literature-assistant/internal/core/ports"
)

func eventTypes(events []domain.StreamEvent) []domain.StreamEventType {
	out := make([]domain.StreamEventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func assertTypes(t *testing.T, got []domain.StreamEventType, want ...domain.StreamEventType) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

func TestGenerateGuideStreamsTokensAndClassifies(t *testing.T) {
	h := newHarness(runnerFake{})
	h.files.texts["book.txt"] = "chapter one"
	h.model.stream = streamOf(
		domain.ChatChunk{Delta: "Hel"},
		domain.ChatChunk{Delta: "lo"},
		domain.ChatChunk{Delta: " world"},
		domain.ChatChunk{FinishReason: "stop"},
	)
	h.model.complete = func(_ context.Context, req domain.ChatRequest) (domain.ChatCompletion, error) {
		if !req.JSONObject || req.MaxTokens != 500 || req.Temperature != 0.3 {
			t.Errorf("unexpected classification request: %+v", req)
		}
		if !strings.HasSuffix(req.UserPrompt, "Hello world") {
			t.Errorf("classification prompt must carry the guide, got %q", req.UserPrompt)
		}
		return completion("tags=nlp,ml;desc=A book"), nil
	}

	events := collect(t, h.orch.GenerateGuide(context.Background(), upload("book.txt")))
	assertTypes(t, eventTypes(events),
		domain.StreamEventStart,
		domain.StreamEventProgress,
		domain.StreamEventProgress,
		domain.StreamEventContent,
		domain.StreamEventContent,
		domain.StreamEventContent,
		domain.StreamEventFinish,
		domain.StreamEventComplete,
	)
	id := events[len(events)-1].LiteratureID
	if id == 0 {
		t.Fatal("complete event must carry the literature id")
	}
	if events[2].LiteratureID != id {
		t.Fatalf("progress event must announce id %d, got %d", id, events[2].LiteratureID)
	}
	if events[6].Data != "stop" {
		t.Fatalf("expected finish reason stop, got %q", events[6].Data)
	}

	h.waitBackground(t)
	if strings.Join(h.repo.appends, "|") != "Hel|lo| world" {
		t.Fatalf("unexpected append order: %v", h.repo.appends)
	}
	lit := h.repo.get(t, id)
	if lit.ReadingGuide != "Hello world" {
		t.Fatalf("unexpected guide: %q", lit.ReadingGuide)
	}
	if lit.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", lit.Status)
	}
	if strings.Join(lit.Tags, ",") != "nlp,ml" || lit.Description != "A book" {
		t.Fatalf("unexpected classification: %v %q", lit.Tags, lit.Description)
	}
	if lit.FileType != "txt" || lit.ContentLength != len("chapter one") {
		t.Fatalf("unexpected metadata: %+v", lit)
	}
	if h.observer.tokens != 3 {
		t.Fatalf("expected 3 streamed tokens, got %d", h.observer.tokens)
	}
	types := h.publisher.types()
	if len(types) != 2 || types[0] != domain.LiteratureGuideCompleted || types[1] != domain.LiteratureClassified {
		t.Fatalf("unexpected published events: %v", types)
	}
}

func TestGenerateGuideEmptyStreamSkipsClassification(t *testing.T) {
	h := newHarness(runnerFake{})
	h.files.texts["empty.md"] = "# nothing"
	h.model.stream = streamOf(domain.ChatChunk{FinishReason: "stop"})

	events := collect(t, h.orch.GenerateGuide(context.Background(), upload("empty.md")))
	assertTypes(t, eventTypes(events),
		domain.StreamEventStart,
		domain.StreamEventProgress,
		domain.StreamEventProgress,
		domain.StreamEventFinish,
		domain.StreamEventComplete,
	)
	h.waitBackground(t)

	if len(h.repo.appends) != 0 {
		t.Fatalf("expected no appends, got %v", h.repo.appends)
	}
	if calls := h.model.classificationCalls(); calls != 0 {
		t.Fatalf("classification must be skipped for an empty guide, got %d calls", calls)
	}
	lit := h.repo.get(t, events[len(events)-1].LiteratureID)
	if lit.Status != domain.StatusCompleted || lit.ReadingGuide != "" {
		t.Fatalf("unexpected literature state: %+v", lit)
	}
}

func TestGenerateGuideDoesNotWaitForClassification(t *testing.T) {
	h := newHarness(runnerFake{})
	h.files.texts["slow.txt"] = "text"
	h.model.stream = streamOf(domain.ChatChunk{Delta: "guide"})
	release := make(chan struct{})
	started := make(chan struct{})
	h.model.complete = func(ctx context.Context, _ domain.ChatRequest) (domain.ChatCompletion, error) {
		close(started)
		<-release
		return completion("tags=x;desc=y"), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	events := collect(t, h.orch.GenerateGuide(ctx, upload("slow.txt")))
	if events[len(events)-1].Type != domain.StreamEventComplete {
		t.Fatalf("expected complete before classification ended, got %v", eventTypes(events))
	}
	id := events[len(events)-1].LiteratureID

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("classification was not dispatched")
	}
	if lit := h.repo.get(t, id); lit.Status != domain.StatusProcessing || lit.ReadingGuide != "guide" {
		t.Fatalf("expected processing with saved guide while classifying, got %+v", lit)
	}

	// Classification outlives the caller.
	cancel()
	close(release)
	h.waitBackground(t)
	lit := h.repo.get(t, id)
	if lit.Status != domain.StatusCompleted || lit.Description != "y" {
		t.Fatalf("classification must finish after the caller left, got %+v", lit)
	}
}

func TestClassificationFailuresStillComplete(t *testing.T) {
	cases := []struct {
		name     string
		complete func(context.Context, domain.ChatRequest) (domain.ChatCompletion, error)
		outcome  string
	}{
		{
			name: "model error",
			complete: func(context.Context, domain.ChatRequest) (domain.ChatCompletion, error) {
				return domain.ChatCompletion{}, &domain.ModelError{Operation: "complete", Kind: domain.ErrServiceRejected, StatusCode: 500}
			},
			outcome: OutcomeModelError,
		},
		{
			name: "blank reply",
			complete: func(context.Context, domain.ChatRequest) (domain.ChatCompletion, error) {
				return completion("  "), nil
			},
			outcome: OutcomeEmptyResponse,
		},
		{
			name: "undecodable reply",
			complete: func(context.Context, domain.ChatRequest) (domain.ChatCompletion, error) {
				return completion("sorry, no json"), nil
			},
			outcome: OutcomeDecodeError,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(runnerFake{})
			h.files.texts["doc.txt"] = "text"
			h.model.stream = streamOf(domain.ChatChunk{Delta: "the guide"})
			h.model.complete = tc.complete

			events := collect(t, h.orch.GenerateGuide(context.Background(), upload("doc.txt")))
			h.waitBackground(t)

			lit := h.repo.get(t, events[len(events)-1].LiteratureID)
			if lit.Status != domain.StatusCompleted {
				t.Fatalf("expected completed, got %s", lit.Status)
			}
			if lit.ReadingGuide != "the guide" || len(lit.Tags) != 0 || lit.Description != "" {
				t.Fatalf("guide must survive without classification, got %+v", lit)
			}
			if len(h.observer.outcomes) != 1 || h.observer.outcomes[0] != tc.outcome {
				t.Fatalf("expected outcome %s, got %v", tc.outcome, h.observer.outcomes)
			}
		})
	}
}

func TestClassificationIsWriteOnce(t *testing.T) {
	h := newHarness(runnerFake{})
	id, err := h.repo.Create(context.Background(), &domain.Literature{OriginalName: "a.txt"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	replies := []string{"tags=first;desc=one", "tags=second;desc=two"}
	h.model.complete = func(context.Context, domain.ChatRequest) (domain.ChatCompletion, error) {
		h.model.mu.Lock()
		defer h.model.mu.Unlock()
		return completion(replies[len(h.model.completes)-1]), nil
	}

	h.orch.classify(context.Background(), id, "guide")
	h.orch.classify(context.Background(), id, "guide")

	lit := h.repo.get(t, id)
	if strings.Join(lit.Tags, ",") != "first" || lit.Description != "one" {
		t.Fatalf("first classification must win, got %v %q", lit.Tags, lit.Description)
	}
	if got := strings.Join(h.observer.outcomes, ","); got != OutcomeClassified+","+OutcomeAlreadyClassified {
		t.Fatalf("unexpected outcomes: %s", got)
	}
}

func TestGenerateGuideExtractionFailureBeforeCreate(t *testing.T) {
	h := newHarness(runnerFake{})
	h.files.extractErr["scan.pdf"] = domain.WrapError(domain.ErrExtraction, "extract pdf", errors.New("no text layer"))

	events := collect(t, h.orch.GenerateGuide(context.Background(), upload("scan.pdf")))
	assertTypes(t, eventTypes(events),
		domain.StreamEventStart,
		domain.StreamEventProgress,
		domain.StreamEventError,
	)
	if !strings.HasPrefix(events[2].Data, "processing failed: ") || !strings.Contains(events[2].Data, "no text layer") {
		t.Fatalf("unexpected error message: %q", events[2].Data)
	}
	if h.repo.count() != 0 {
		t.Fatal("no literature must be created when extraction fails")
	}
}

func TestGenerateGuideModelFailureLeavesProcessing(t *testing.T) {
	h := newHarness(runnerFake{})
	h.files.texts["doc.txt"] = "text"
	h.model.stream = func(ctx context.Context, _ domain.ChatRequest) (ports.ChatStream, error) {
		return &streamFake{
			ctx:    ctx,
			chunks: []domain.ChatChunk{{Delta: "partial"}},
			err:    &domain.ModelError{Operation: "stream", Kind: domain.ErrTransport, Err: errors.New("connection reset")},
		}, nil
	}

	events := collect(t, h.orch.GenerateGuide(context.Background(), upload("doc.txt")))
	last := events[len(events)-1]
	if last.Type != domain.StreamEventError || !strings.Contains(last.Data, "connection reset") {
		t.Fatalf("expected error event, got %+v", last)
	}
	h.waitBackground(t)

	lit := h.repo.get(t, events[2].LiteratureID)
	if lit.Status != domain.StatusProcessing || lit.Error != "" {
		t.Fatalf("model failure must leave the literature processing, got %+v", lit)
	}
	if lit.ReadingGuide != "partial" {
		t.Fatalf("streamed prefix must stay stored, got %q", lit.ReadingGuide)
	}
	if calls := h.model.classificationCalls(); calls != 0 {
		t.Fatalf("classification must not run after a failed stream, got %d", calls)
	}
}

func TestGenerateGuideStreamOpenRejected(t *testing.T) {
	h := newHarness(runnerFake{})
	h.files.texts["doc.txt"] = "text"
	h.model.stream = func(context.Context, domain.ChatRequest) (ports.ChatStream, error) {
		return nil, &domain.ModelError{Operation: "stream", Kind: domain.ErrServiceRejected, StatusCode: 401, Body: "bad key"}
	}

	events := collect(t, h.orch.GenerateGuide(context.Background(), upload("doc.txt")))
	last := events[len(events)-1]
	if last.Type != domain.StreamEventError || !strings.Contains(last.Data, "bad key") {
		t.Fatalf("expected error carrying the service body, got %+v", last)
	}
	if lit := h.repo.get(t, events[2].LiteratureID); lit.Status != domain.StatusProcessing {
		t.Fatalf("expected processing, got %s", lit.Status)
	}
	h.publisher.mu.Lock()
	defer h.publisher.mu.Unlock()
	if len(h.publisher.events) == 0 {
		t.Fatal("expected a failure event")
	}
	failed := h.publisher.events[len(h.publisher.events)-1]
	if failed.Type != domain.LiteratureFailed || failed.Status != domain.StatusProcessing || !strings.Contains(failed.Error, "bad key") {
		t.Fatalf("unexpected failure event %+v", failed)
	}
}

func TestGenerateGuideStoreFailureMarksFailed(t *testing.T) {
	h := newHarness(runnerFake{})
	h.files.texts["doc.txt"] = "text"
	h.repo.guideErr = errors.New("disk full")
	h.model.stream = streamOf(domain.ChatChunk{Delta: "guide"}, domain.ChatChunk{FinishReason: "stop"})

	events := collect(t, h.orch.GenerateGuide(context.Background(), upload("doc.txt")))
	last := events[len(events)-1]
	if last.Type != domain.StreamEventError || !strings.Contains(last.Data, "disk full") {
		t.Fatalf("expected error event, got %+v", last)
	}
	h.waitBackground(t)

	lit := h.repo.get(t, events[2].LiteratureID)
	if lit.Status != domain.StatusFailed || !strings.Contains(lit.Error, "disk full") {
		t.Fatalf("expected failed literature, got %+v", lit)
	}
	if calls := h.model.classificationCalls(); calls != 0 {
		t.Fatalf("classification must not run after a store failure, got %d", calls)
	}
}

func TestGenerateGuideCreateSurvivesCancellation(t *testing.T) {
	h := newHarness(poolRunner{})
	h.files.texts["doc.txt"] = "text"
	h.model.stream = func(ctx context.Context, _ domain.ChatRequest) (ports.ChatStream, error) {
		return &streamFake{ctx: ctx, hold: true}, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.repo.onCreate = cancel

	collect(t, h.orch.GenerateGuide(ctx, upload("doc.txt")))

	if n := h.repo.count(); n != 1 {
		t.Fatalf("expected one literature, got %d", n)
	}
	lit := h.repo.get(t, 1)
	if lit.Status != domain.StatusFailed || lit.Error != errConsumerGone.Error() {
		t.Fatalf("committed literature must not stay processing, got %+v", lit)
	}
}

func TestNewGenerationOrchestratorKeepsZeroTemperature(t *testing.T) {
	cases := []struct {
		name string
		in   float64
		want float64
	}{
		{name: "zero", in: 0, want: 0},
		{name: "explicit", in: 0.2, want: 0.2},
		{name: "negative", in: -1, want: DefaultGuideTemperature},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orch := NewGenerationOrchestrator(Dependencies{Guide: GuideOptions{Temperature: tc.in}})
			req := orch.guideRequest("system", "text")
			if req.Temperature != tc.want {
				t.Fatalf("expected temperature %v, got %v", tc.want, req.Temperature)
			}
		})
	}
}

func TestGenerateGuideConsumerDisconnect(t *testing.T) {
	h := newHarness(runnerFake{})
	h.files.texts["doc.txt"] = "text"
	var stream *streamFake
	h.model.stream = func(ctx context.Context, _ domain.ChatRequest) (ports.ChatStream, error) {
		stream = &streamFake{ctx: ctx, chunks: []domain.ChatChunk{{Delta: "first"}}, hold: true}
		return stream, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := h.orch.GenerateGuide(ctx, upload("doc.txt"))
	var id int64
	for ev := range ch {
		if ev.Type == domain.StreamEventContent {
			id = ev.LiteratureID
			cancel()
			break
		}
	}
	collect(t, ch)

	if !stream.isClosed() {
		t.Fatal("model stream must be closed when the consumer leaves")
	}
	lit := h.repo.get(t, id)
	if lit.Status != domain.StatusFailed || lit.Error != errConsumerGone.Error() {
		t.Fatalf("expected abandoned literature, got %+v", lit)
	}
	if calls := h.model.classificationCalls(); calls != 0 {
		t.Fatalf("classification must not run after a disconnect, got %d", calls)
	}
}
