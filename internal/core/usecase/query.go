package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kirillkom/literature-assistant/internal/core/domain"
	"github.com/kirillkom/literature-assistant/internal/core/ports"
)

type LiteratureQueryUseCase struct {
	repo  ports.LiteratureRepository
	files ports.FileService
}

func NewLiteratureQueryUseCase(repo ports.LiteratureRepository, files ports.FileService) *LiteratureQueryUseCase {
	return &LiteratureQueryUseCase{repo: repo, files: files}
}

func (uc *LiteratureQueryUseCase) GetByID(ctx context.Context, id int64) (*domain.Literature, error) {
	if id <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get literature", errors.New("id must be positive"))
	}
	return uc.repo.GetByID(ctx, id)
}

func (uc *LiteratureQueryUseCase) Page(ctx context.Context, query domain.LiteratureQuery) (*domain.LiteraturePage, error) {
	query = query.Normalize()
	query.Keyword = strings.TrimSpace(query.Keyword)
	query.Tag = strings.TrimSpace(query.Tag)
	query.FileType = strings.ToLower(strings.TrimSpace(query.FileType))
	return uc.repo.Page(ctx, query)
}

// Download opens the stored source document. The caller closes the reader.
func (uc *LiteratureQueryUseCase) Download(ctx context.Context, id int64) (*domain.Literature, io.ReadCloser, error) {
	lit, err := uc.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := uc.files.Open(ctx, lit.FilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open literature file: %w", err)
	}
	return lit, rc, nil
}
