package usecase

import (
	"context"
	"io"
	"testing"

	"github.com/kirillkom/literature-assistant/internal/core/domain"
)

func TestLiteratureQueryGetByIDRejectsInvalidID(t *testing.T) {
	uc := NewLiteratureQueryUseCase(newRepoFake(), &filesFake{})
	_, err := uc.GetByID(context.Background(), 0)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestLiteratureQueryPageNormalizes(t *testing.T) {
	repo := newRepoFake()
	uc := NewLiteratureQueryUseCase(repo, &filesFake{})

	page, err := uc.Page(context.Background(), domain.LiteratureQuery{PageSize: 500, Keyword: "  go ", FileType: " PDF "})
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	q := repo.lastQuery
	if q.Page != 1 || q.PageSize != domain.MaxPageSize || q.Keyword != "go" || q.FileType != "pdf" {
		t.Fatalf("unexpected normalized query: %+v", q)
	}
	if page.Items == nil {
		t.Fatal("items must not be nil")
	}
}

func TestLiteratureQueryDownload(t *testing.T) {
	repo := newRepoFake()
	files := &filesFake{}
	id, _ := repo.Create(context.Background(), &domain.Literature{OriginalName: "a.pdf", FilePath: "2026/10/18/x_a.pdf"})
	uc := NewLiteratureQueryUseCase(repo, files)

	lit, rc, err := uc.Download(context.Background(), id)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if lit.OriginalName != "a.pdf" || string(body) != "raw:2026/10/18/x_a.pdf" {
		t.Fatalf("unexpected download: %q %q", lit.OriginalName, body)
	}

	if _, _, err := uc.Download(context.Background(), id+1); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
