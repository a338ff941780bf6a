// Package files stores uploads and turns stored files into text.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/literature-assistant/internal/core/domain"
	"github.com/kirillkom/literature-assistant/internal/core/ports"
)

type Service struct {
	storage   ports.ObjectStorage
	extractor ports.TextExtractor
	now       func() time.Time
}

func NewService(storage ports.ObjectStorage, extractor ports.TextExtractor) *Service {
	return &Service{
		storage:   storage,
		extractor: extractor,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Save stores the upload under a date-partitioned, collision-free key.
func (s *Service) Save(ctx context.Context, upload domain.Upload) (domain.StoredFile, error) {
	if strings.TrimSpace(upload.Filename) == "" {
		return domain.StoredFile{}, domain.WrapError(domain.ErrInvalidInput, "save upload", errors.New("filename is required"))
	}
	if upload.Open == nil {
		return domain.StoredFile{}, domain.WrapError(domain.ErrInvalidInput, "save upload", errors.New("upload has no content"))
	}

	body, err := upload.Open()
	if err != nil {
		return domain.StoredFile{}, fmt.Errorf("open upload: %w", err)
	}
	defer body.Close()

	key := fmt.Sprintf("%s/%s_%s", s.now().Format("2006/01/02"), uuid.NewString(), sanitizeFilename(upload.Filename))
	size, err := s.storage.Save(ctx, key, body)
	if err != nil {
		return domain.StoredFile{}, fmt.Errorf("save to object storage: %w", err)
	}
	return domain.StoredFile{Path: key, Size: size}, nil
}

func (s *Service) Extract(ctx context.Context, path string) (string, error) {
	reader, err := s.storage.Open(ctx, path)
	if err != nil {
		return "", domain.WrapError(domain.ErrExtraction, "open source document", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", domain.WrapError(domain.ErrExtraction, "read source document", err)
	}
	return s.extractor.Extract(ctx, path, raw)
}

func (s *Service) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	return s.storage.Open(ctx, path)
}

func sanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == "/" {
		return "document.bin"
	}
	return base
}
