package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/literature-assistant/internal/core/domain"
	"github.com/kirillkom/literature-assistant/internal/core/ports"
)

type repoFake struct {
	mu         sync.Mutex
	nextID     int64
	items      map[int64]*domain.Literature
	classified map[int64]bool
	appends    []string
	createErr  error
	guideErr   error
	onCreate   func()
	lastQuery  domain.LiteratureQuery
}

func newRepoFake() *repoFake {
	return &repoFake{items: map[int64]*domain.Literature{}, classified: map[int64]bool{}}
}

func (f *repoFake) Create(_ context.Context, lit *domain.Literature) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextID++
	stored := *lit
	stored.ID = f.nextID
	f.items[stored.ID] = &stored
	lit.ID = stored.ID
	if f.onCreate != nil {
		f.onCreate()
	}
	return stored.ID, nil
}

func (f *repoFake) GetByID(_ context.Context, id int64) (*domain.Literature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lit, ok := f.items[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	out := *lit
	return &out, nil
}

func (f *repoFake) UpdateStatus(_ context.Context, id int64, status domain.LiteratureStatus, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	lit, ok := f.items[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	lit.Status = status
	lit.Error = errMessage
	return nil
}

func (f *repoFake) UpdateGuide(_ context.Context, id int64, guide string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	lit, ok := f.items[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	if f.guideErr != nil {
		return f.guideErr
	}
	lit.ReadingGuide = guide
	return nil
}

func (f *repoFake) AppendGuide(_ context.Context, id int64, chunk string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	lit, ok := f.items[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	lit.ReadingGuide += chunk
	f.appends = append(f.appends, chunk)
	return nil
}

func (f *repoFake) UpdateClassification(_ context.Context, id int64, tags []string, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	lit, ok := f.items[id]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	if f.classified[id] {
		return domain.ErrAlreadyClassified
	}
	f.classified[id] = true
	lit.Tags = append([]string(nil), tags...)
	lit.Description = description
	lit.Status = domain.StatusCompleted
	return nil
}

func (f *repoFake) Page(_ context.Context, query domain.LiteratureQuery) (*domain.LiteraturePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = query
	return &domain.LiteraturePage{Items: []domain.Literature{}, Page: query.Page, PageSize: query.PageSize}, nil
}

func (f *repoFake) get(t *testing.T, id int64) domain.Literature {
	t.Helper()
	lit, err := f.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("literature %d: %v", id, err)
	}
	return *lit
}

func (f *repoFake) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// filesFake stores uploads under "stored/<filename>" and extracts the text
// registered for that filename.
type filesFake struct {
	mu         sync.Mutex
	texts      map[string]string
	extractErr map[string]error
	opened     []string
}

func (f *filesFake) Save(_ context.Context, upload domain.Upload) (domain.StoredFile, error) {
	return domain.StoredFile{Path: "stored/" + upload.Filename, Size: upload.Size}, nil
}

func (f *filesFake) Extract(_ context.Context, path string) (string, error) {
	name := strings.TrimPrefix(path, "stored/")
	if err := f.extractErr[name]; err != nil {
		return "", err
	}
	text, ok := f.texts[name]
	if !ok {
		return "", domain.WrapError(domain.ErrExtraction, "extract", errors.New("no content"))
	}
	return text, nil
}

func (f *filesFake) Open(_ context.Context, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.opened = append(f.opened, path)
	f.mu.Unlock()
	return io.NopCloser(strings.NewReader("raw:" + path)), nil
}

type streamFake struct {
	ctx    context.Context
	chunks []domain.ChatChunk
	err    error
	hold   bool

	mu     sync.Mutex
	pos    int
	closed bool
}

func (s *streamFake) Recv() (domain.ChatChunk, error) {
	s.mu.Lock()
	if s.pos < len(s.chunks) {
		chunk := s.chunks[s.pos]
		s.pos++
		s.mu.Unlock()
		return chunk, nil
	}
	s.mu.Unlock()
	if s.hold {
		<-s.ctx.Done()
		return domain.ChatChunk{}, &domain.ModelError{Operation: "stream", Kind: domain.ErrTransport, Err: s.ctx.Err()}
	}
	if s.err != nil {
		return domain.ChatChunk{}, s.err
	}
	return domain.ChatChunk{}, io.EOF
}

func (s *streamFake) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *streamFake) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type modelFake struct {
	stream   func(ctx context.Context, req domain.ChatRequest) (ports.ChatStream, error)
	complete func(ctx context.Context, req domain.ChatRequest) (domain.ChatCompletion, error)

	mu        sync.Mutex
	completes []domain.ChatRequest
}

func (m *modelFake) Stream(ctx context.Context, req domain.ChatRequest) (ports.ChatStream, error) {
	if m.stream == nil {
		return nil, errors.New("stream not configured")
	}
	return m.stream(ctx, req)
}

func (m *modelFake) Complete(ctx context.Context, req domain.ChatRequest) (domain.ChatCompletion, error) {
	m.mu.Lock()
	m.completes = append(m.completes, req)
	m.mu.Unlock()
	if m.complete == nil {
		return domain.ChatCompletion{}, errors.New("complete not configured")
	}
	return m.complete(ctx, req)
}

func (m *modelFake) classificationCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, req := range m.completes {
		if req.JSONObject {
			n++
		}
	}
	return n
}

func completion(content string) domain.ChatCompletion {
	return domain.ChatCompletion{Choices: []domain.ChatChoice{{Content: content, FinishReason: "stop"}}}
}

func streamOf(chunks ...domain.ChatChunk) func(context.Context, domain.ChatRequest) (ports.ChatStream, error) {
	return func(ctx context.Context, _ domain.ChatRequest) (ports.ChatStream, error) {
		return &streamFake{ctx: ctx, chunks: chunks}, nil
	}
}

type promptsFake struct{}

func (promptsFake) GuidePrompt() (string, error) { return "guide system", nil }
func (promptsFake) ClassificationPrompt() (string, error) { return "classify system", nil }

// decoderFake accepts "tags=a,b;desc=text".
type decoderFake struct{}

func (decoderFake) Decode(raw string) (domain.Classification, error) {
	tagsPart, descPart, ok := strings.Cut(raw, ";")
	if !ok || !strings.HasPrefix(tagsPart, "tags=") || !strings.HasPrefix(descPart, "desc=") {
		return domain.Classification{}, &domain.ClassificationDecodeError{Raw: raw, Err: fmt.Errorf("unexpected reply %q", raw)}
	}
	tags := []string{}
	for _, tag := range strings.Split(strings.TrimPrefix(tagsPart, "tags="), ",") {
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return domain.Classification{Tags: tags, Desc: strings.TrimPrefix(descPart, "desc=")}, nil
}

type runnerFake struct {
	submitErr error
}

func (r runnerFake) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

func (r runnerFake) Submit(fn func()) error {
	if r.submitErr != nil {
		return r.submitErr
	}
	go fn()
	return nil
}

// poolRunner reports ctx.Err() when the caller's context ends while fn runs,
// the way workpool.Pool does, even though fn's work already happened.
type poolRunner struct {
	runnerFake
}

func (r poolRunner) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := fn(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

type observerFake struct {
	mu       sync.Mutex
	outcomes []string
	batchErr int
	batchOK  int
	tokens   int
}

func (o *observerFake) GuideStarted(string) {}
func (o *observerFake) GuideFinished(string, error) {}

func (o *observerFake) TokenStreamed() {
	o.mu.Lock()
	o.tokens++
	o.mu.Unlock()
}

func (o *observerFake) Classified(outcome string) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)
	o.mu.Unlock()
}

func (o *observerFake) BatchItem(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.batchErr++
		return
	}
	o.batchOK++
}

type publisherFake struct {
	mu     sync.Mutex
	events []domain.LiteratureEvent
}

func (p *publisherFake) PublishLiteratureEvent(_ context.Context, event domain.LiteratureEvent) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

func (p *publisherFake) types() []domain.LiteratureEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.LiteratureEventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type harness struct {
	repo      *repoFake
	files     *filesFake
	model     *modelFake
	observer  *observerFake
	publisher *publisherFake
	orch      *GenerationOrchestrator
	spawned   sync.WaitGroup
}

func newHarness(runner ports.TaskRunner) *harness {
	h := &harness{
		repo:      newRepoFake(),
		files:     &filesFake{texts: map[string]string{}, extractErr: map[string]error{}},
		model:     &modelFake{},
		observer:  &observerFake{},
		publisher: &publisherFake{},
	}
	h.orch = NewGenerationOrchestrator(Dependencies{
		Repo:     h.repo,
		Files:    h.files,
		Model:    h.model,
		Prompts:  promptsFake{},
		Decoder:  decoderFake{},
		Runner:   runner,
		Events:   h.publisher,
		Observer: h.observer,
	})
	h.orch.spawn = func(fn func()) {
		h.spawned.Add(1)
		go func() {
			defer h.spawned.Done()
			fn()
		}()
	}
	return h
}

// waitBackground waits for detached classification work.
func (h *harness) waitBackground(t *testing.T) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		h.spawned.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("background classification did not finish")
	}
}

func upload(name string) domain.Upload {
	return domain.Upload{
		Filename: name,
		Size:     int64(len(name)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(name)), nil
		},
	}
}

func collect[T any](t *testing.T, ch <-chan T) []T {
	t.Helper()
	var out []T
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("event stream did not close, got %d events", len(out))
		}
	}
}
