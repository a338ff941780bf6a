package httpadapter

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/kirillkom/literature-assistant/internal/core/domain"
)

func (rt *Router) generateGuide(w http.ResponseWriter, r *http.Request) {
	if err := rt.parseUpload(w, r); err != nil {
		writeError(w, mapErrorToHTTPStatus(err), err.Error())
		return
	}
	defer rt.cleanupUpload(r)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	file.Close()
	if strings.TrimSpace(header.Filename) == "" {
		writeError(w, http.StatusBadRequest, "file name is required")
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for event := range rt.guides.GenerateGuide(r.Context(), toUpload(header)) {
		if err := sse.writeEvent(string(event.Type), event); err != nil {
			slog.Warn("sse_write_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
			return
		}
	}
}

func (rt *Router) batchImport(w http.ResponseWriter, r *http.Request) {
	if err := rt.parseUpload(w, r); err != nil {
		writeError(w, mapErrorToHTTPStatus(err), err.Error())
		return
	}
	defer rt.cleanupUpload(r)

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "multipart field 'files' is required")
		return
	}
	uploads := make([]domain.Upload, 0, len(headers))
	for _, header := range headers {
		uploads = append(uploads, toUpload(header))
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for event := range rt.batches.Import(r.Context(), uploads) {
		if err := sse.writeEvent(string(event.Type), event); err != nil {
			slog.Warn("sse_write_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
			return
		}
	}
}

func (rt *Router) parseUpload(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, rt.opts.UploadMaxBytes)
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return fmt.Errorf("upload exceeds %d bytes: %w", maxBytes.Limit, err)
		}
		return domain.WrapError(domain.ErrInvalidInput, "parse multipart form", err)
	}
	return nil
}

func (rt *Router) cleanupUpload(r *http.Request) {
	if r.MultipartForm == nil {
		return
	}
	if err := r.MultipartForm.RemoveAll(); err != nil {
		slog.Warn("multipart_cleanup_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
	}
}

func toUpload(header *multipart.FileHeader) domain.Upload {
	return domain.Upload{
		Filename: header.Filename,
		Size:     header.Size,
		Open: func() (io.ReadCloser, error) {
			return header.Open()
		},
	}
}

func (rt *Router) listLiterature(w http.ResponseWriter, r *http.Request) {
	query, err := parseLiteratureQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := rt.reader.Page(r.Context(), query)
	if err != nil {
		writeError(w, mapErrorToHTTPStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toLiteraturePageView(page))
}

func parseLiteratureQuery(values url.Values) (domain.LiteratureQuery, error) {
	query := domain.LiteratureQuery{
		Keyword:  values.Get("keyword"),
		Tag:      values.Get("tag"),
		FileType: values.Get("file_type"),
	}

	var err error
	if query.Page, err = optionalInt(values, "page"); err != nil {
		return query, err
	}
	if query.PageSize, err = optionalInt(values, "page_size"); err != nil {
		return query, err
	}
	if raw := strings.TrimSpace(values.Get("status")); raw != "" {
		status, ok := domain.ParseStatus(raw)
		if !ok {
			return query, fmt.Errorf("invalid status %q", raw)
		}
		query.Status = &status
	}
	return query.Normalize(), nil
}

func optionalInt(values url.Values, key string) (int, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

func (rt *Router) getLiterature(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	lit, err := rt.reader.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, mapErrorToHTTPStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toLiteratureView(*lit, true))
}

func (rt *Router) downloadLiterature(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	lit, body, err := rt.reader.Download(r.Context(), id)
	if err != nil {
		writeError(w, mapErrorToHTTPStatus(err), err.Error())
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(lit.OriginalName))
	if lit.FileSize > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(lit.FileSize, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		slog.Warn("download_copy_failed", "literature_id", id, "error", err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "literature id must be a positive integer")
		return 0, false
	}
	return id, true
}
