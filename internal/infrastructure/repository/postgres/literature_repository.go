package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/literature-assistant/internal/core/domain"
)

const literatureColumns = `id, original_name, file_path, file_size, file_type, content_length,
	COALESCE(reading_guide, ''), COALESCE(description, ''), tags, status, COALESCE(error_message, ''),
	created_at, updated_at`

type LiteratureRepository struct {
	db *sql.DB
}

func NewLiteratureRepository(db *sql.DB) *LiteratureRepository {
	return &LiteratureRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *LiteratureRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101801)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS literature (
	id BIGSERIAL PRIMARY KEY,
	original_name TEXT NOT NULL,
	file_path TEXT NOT NULL,
	file_size BIGINT NOT NULL DEFAULT 0,
	file_type TEXT NOT NULL,
	content_length INTEGER NOT NULL DEFAULT 0,
	reading_guide TEXT,
	description TEXT,
	tags JSONB,
	status SMALLINT NOT NULL DEFAULT 0,
	error_message TEXT,
	classified_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_literature_status ON literature(status);
CREATE INDEX IF NOT EXISTS idx_literature_file_type ON literature(file_type);
CREATE INDEX IF NOT EXISTS idx_literature_created_at ON literature(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_literature_tags ON literature USING GIN (tags);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *LiteratureRepository) Create(ctx context.Context, lit *domain.Literature) (int64, error) {
	if lit == nil {
		return 0, domain.WrapError(domain.ErrInvalidInput, "create literature", errors.New("literature is nil"))
	}
	now := time.Now().UTC()
	if lit.CreatedAt.IsZero() {
		lit.CreatedAt = now
	}
	lit.UpdatedAt = now

	var id int64
	err := r.db.QueryRowContext(ctx, `
INSERT INTO literature (
	original_name, file_path, file_size, file_type, content_length, status, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING id
`,
		lit.OriginalName, lit.FilePath, lit.FileSize, lit.FileType, lit.ContentLength,
		int(lit.Status), lit.CreatedAt, lit.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert literature: %w", err)
	}
	lit.ID = id
	return id, nil
}

func (r *LiteratureRepository) GetByID(ctx context.Context, id int64) (*domain.Literature, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+literatureColumns+`
FROM literature
WHERE id = $1
`, id)

	lit, err := scanLiterature(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get literature", fmt.Errorf("id=%d", id))
		}
		return nil, err
	}
	return lit, nil
}

func (r *LiteratureRepository) UpdateStatus(ctx context.Context, id int64, status domain.LiteratureStatus, errMessage string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE literature
SET status = $2, error_message = NULLIF($3, ''), updated_at = $4
WHERE id = $1
`, id, int(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update literature status: %w", err)
	}
	return requireAffected(res, "update literature status", id)
}

func (r *LiteratureRepository) UpdateGuide(ctx context.Context, id int64, guide string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE literature
SET reading_guide = $2, updated_at = $3
WHERE id = $1
`, id, guide, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update reading guide: %w", err)
	}
	return requireAffected(res, "update reading guide", id)
}

// AppendGuide concatenates in SQL so each chunk is a single atomic write.
func (r *LiteratureRepository) AppendGuide(ctx context.Context, id int64, chunk string) error {
	if chunk == "" {
		return nil
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE literature
SET reading_guide = COALESCE(reading_guide, '') || $2, updated_at = $3
WHERE id = $1
`, id, chunk, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append reading guide: %w", err)
	}
	return requireAffected(res, "append reading guide", id)
}

// UpdateClassification writes tags and description once. A second call for
// the same literature fails with ErrAlreadyClassified.
func (r *LiteratureRepository) UpdateClassification(ctx context.Context, id int64, tags []string, description string) error {
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
UPDATE literature
SET tags = $2, description = $3, status = $4, classified_at = $5, updated_at = $5
WHERE id = $1 AND classified_at IS NULL
`, id, tagsJSON, description, int(domain.StatusCompleted), now)
	if err != nil {
		return fmt.Errorf("update classification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update classification rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM literature WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check literature exists: %w", err)
	}
	if exists {
		return domain.WrapError(domain.ErrAlreadyClassified, "update classification", fmt.Errorf("id=%d", id))
	}
	return domain.WrapError(domain.ErrDocumentNotFound, "update classification", fmt.Errorf("id=%d", id))
}

func (r *LiteratureRepository) Page(ctx context.Context, query domain.LiteratureQuery) (*domain.LiteraturePage, error) {
	q := query.Normalize()
	where, args, err := buildFilter(q)
	if err != nil {
		return nil, err
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM literature`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count literature: %w", err)
	}

	page := &domain.LiteraturePage{
		Items:    []domain.Literature{},
		Total:    total,
		Page:     q.Page,
		PageSize: q.PageSize,
	}
	if total == 0 {
		return page, nil
	}

	listArgs := append(append([]any{}, args...), q.PageSize, q.Offset())
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s
FROM literature%s
ORDER BY created_at DESC, id DESC
LIMIT $%d OFFSET $%d
`, literatureColumns, where, len(args)+1, len(args)+2), listArgs...)
	if err != nil {
		return nil, fmt.Errorf("list literature: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		lit, err := scanLiterature(rows)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, *lit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate literature rows: %w", err)
	}
	return page, nil
}

func buildFilter(q domain.LiteratureQuery) (string, []any, error) {
	var (
		conds []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if kw := strings.TrimSpace(q.Keyword); kw != "" {
		p := next("%" + escapeLike(kw) + "%")
		conds = append(conds, fmt.Sprintf("(original_name ILIKE %[1]s OR description ILIKE %[1]s OR reading_guide ILIKE %[1]s)", p))
	}
	if tag := strings.TrimSpace(q.Tag); tag != "" {
		tagJSON, err := json.Marshal([]string{tag})
		if err != nil {
			return "", nil, fmt.Errorf("marshal tag filter: %w", err)
		}
		conds = append(conds, "tags @> "+next(string(tagJSON))+"::jsonb")
	}
	if ft := strings.ToLower(strings.TrimSpace(q.FileType)); ft != "" {
		conds = append(conds, "file_type = "+next(ft))
	}
	if q.Status != nil {
		conds = append(conds, "status = "+next(int(*q.Status)))
	}

	if len(conds) == 0 {
		return "", nil, nil
	}
	return "\nWHERE " + strings.Join(conds, " AND "), args, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLiterature(row rowScanner) (*domain.Literature, error) {
	var (
		lit     domain.Literature
		tagsRaw []byte
		status  int
	)
	err := row.Scan(
		&lit.ID, &lit.OriginalName, &lit.FilePath, &lit.FileSize, &lit.FileType, &lit.ContentLength,
		&lit.ReadingGuide, &lit.Description, &tagsRaw, &status, &lit.Error,
		&lit.CreatedAt, &lit.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan literature: %w", err)
	}

	lit.Tags = []string{}
	if len(tagsRaw) > 0 {
		if err := json.Unmarshal(tagsRaw, &lit.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
		if lit.Tags == nil {
			lit.Tags = []string{}
		}
	}
	lit.Status = domain.LiteratureStatus(status)
	return &lit, nil
}

func requireAffected(res sql.Result, operation string, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, operation, fmt.Errorf("id=%d", id))
	}
	return nil
}
