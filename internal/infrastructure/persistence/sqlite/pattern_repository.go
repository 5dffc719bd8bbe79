package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/khanhnv2901/vela/internal/domain/pattern"
	sharedErrors "github.com/khanhnv2901/vela/internal/shared/errors"
)

// PatternRepository implements pattern.Repository on the known_scripts table.
type PatternRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewPatternRepository wraps db.
func NewPatternRepository(db *sql.DB) *PatternRepository {
	return &PatternRepository{db: db, now: time.Now}
}

const selectPattern = `SELECT id, name, vendor, category, url_patterns, global_variables,
	known_issues, alternatives, docs_url, is_active, created_at, updated_at FROM known_scripts`

// List returns entries ordered by name, or in stored order when
// f.CatalogOrder is set, and the unpaginated total.
func (r *PatternRepository) List(ctx context.Context, f pattern.Filter) ([]pattern.Entry, int, error) {
	var (
		where []string
		args  []any
	)
	if !f.IncludeInactive {
		where = append(where, "is_active = 1")
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.Vendor != "" {
		where = append(where, "LOWER(vendor) = LOWER(?)")
		args = append(args, f.Vendor)
	}
	if f.Search != "" {
		where = append(where, "(LOWER(name) LIKE ? OR LOWER(vendor) LIKE ?)")
		like := "%" + strings.ToLower(f.Search) + "%"
		args = append(args, like, like)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM known_scripts`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count patterns: %w", err)
	}

	order := ` ORDER BY name`
	if f.CatalogOrder {
		order = ` ORDER BY rowid`
	}
	query := selectPattern + clause + order
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list patterns: %w", err)
	}
	defer rows.Close()

	entries := make([]pattern.Entry, 0)
	for rows.Next() {
		e, err := scanPattern(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read pattern row: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, total, rows.Err()
}

// Get returns the entry with id, active or not.
func (r *PatternRepository) Get(ctx context.Context, id string) (*pattern.Entry, error) {
	e, err := scanPattern(r.db.QueryRowContext(ctx, selectPattern+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", sharedErrors.ErrPatternNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pattern %s: %w", id, err)
	}
	return e, nil
}

// Create inserts entry. It fails with ErrDuplicatePattern if the id exists.
func (r *PatternRepository) Create(ctx context.Context, entry pattern.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM known_scripts WHERE id = ?`, entry.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check pattern %s: %w", entry.ID, err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", sharedErrors.ErrDuplicatePattern, entry.ID)
	}
	if err := r.write(ctx, tx, entry, ""); err != nil {
		return err
	}
	return tx.Commit()
}

// Upsert inserts entry or updates the existing row in place, keeping its
// created_at and its position in catalog order.
func (r *PatternRepository) Upsert(ctx context.Context, entry pattern.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var created sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT created_at FROM known_scripts WHERE id = ?`, entry.ID).Scan(&created)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check pattern %s: %w", entry.ID, err)
	}
	if created.Valid {
		entry.CreatedAt = time.UnixMilli(created.Int64)
	}
	if err := r.write(ctx, tx, entry, upsertClause); err != nil {
		return err
	}
	return tx.Commit()
}

// Deactivate hides an entry from catalog loads.
func (r *PatternRepository) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE known_scripts SET is_active = 0, updated_at = ? WHERE id = ?`, r.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate pattern %s: %w", id, err)
	}
	return requirePattern(res, id)
}

// Delete removes an entry.
func (r *PatternRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM known_scripts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete pattern %s: %w", id, err)
	}
	return requirePattern(res, id)
}

const upsertClause = ` ON CONFLICT(id) DO UPDATE SET
	name = excluded.name, vendor = excluded.vendor, category = excluded.category,
	url_patterns = excluded.url_patterns, global_variables = excluded.global_variables,
	known_issues = excluded.known_issues, alternatives = excluded.alternatives,
	docs_url = excluded.docs_url, is_active = excluded.is_active,
	created_at = excluded.created_at, updated_at = excluded.updated_at`

func (r *PatternRepository) write(ctx context.Context, tx *sql.Tx, e pattern.Entry, conflict string) error {
	now := r.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	urlPatterns, err := json.Marshal(e.URLPatterns)
	if err != nil {
		return fmt.Errorf("%w: %v", sharedErrors.ErrSerializationFailed, err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO known_scripts (id, name, vendor, category, url_patterns, global_variables,
		known_issues, alternatives, docs_url, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`+conflict,
		e.ID, e.Name, e.Vendor, string(e.Category), string(urlPatterns),
		jsonList(e.GlobalVariables), jsonList(e.KnownIssues), jsonList(e.Alternatives),
		nullString(e.DocsURL), boolInt(e.Active), e.CreatedAt.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write pattern %s: %w", e.ID, err)
	}
	return nil
}

func scanPattern(s rowScanner) (*pattern.Entry, error) {
	var (
		e                                      pattern.Entry
		category, urlPatterns                  string
		globals, issues, alternatives, docsURL sql.NullString
		active                                 int
		created, updated                       int64
	)
	if err := s.Scan(&e.ID, &e.Name, &e.Vendor, &category, &urlPatterns, &globals,
		&issues, &alternatives, &docsURL, &active, &created, &updated); err != nil {
		return nil, err
	}
	e.Category = pattern.Category(category)
	if err := json.Unmarshal([]byte(urlPatterns), &e.URLPatterns); err != nil {
		return nil, fmt.Errorf("%w: url_patterns of %s: %v", sharedErrors.ErrDeserializationFailed, e.ID, err)
	}
	e.GlobalVariables = parseList(globals)
	e.KnownIssues = parseList(issues)
	e.Alternatives = parseList(alternatives)
	if docsURL.Valid {
		e.DocsURL = &docsURL.String
	}
	e.Active = active == 1
	e.CreatedAt = time.UnixMilli(created).UTC()
	e.UpdatedAt = time.UnixMilli(updated).UTC()
	return &e, nil
}

func jsonList(v []string) string {
	if v == nil {
		v = []string{}
	}
	data, _ := json.Marshal(v)
	return string(data)
}

// parseList tolerates NULL and malformed columns; they read as empty.
func parseList(s sql.NullString) []string {
	out := []string{}
	if !s.Valid || s.String == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return []string{}
	}
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requirePattern(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", sharedErrors.ErrPatternNotFound, id)
	}
	return nil
}
