package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"knowledge-engine/internal/enginetypes"
)

// AddCategory inserts a new file category.
func (s *Store) AddCategory(ctx context.Context, c *enginetypes.FileCategory) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_categories (id, name, icon, description) VALUES (?, ?, ?, ?)`,
		c.ID, c.Name, nullable(c.Icon), nullable(c.Description))
	return classifyErr("add_category", err)
}

// ListCategories returns all configured file categories.
func (s *Store) ListCategories(ctx context.Context) ([]*enginetypes.FileCategory, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, icon, description FROM file_categories ORDER BY name`)
	if err != nil {
		return nil, classifyErr("list_categories", err)
	}
	defer rows.Close()

	var out []*enginetypes.FileCategory
	for rows.Next() {
		c := &enginetypes.FileCategory{}
		var icon, desc sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &icon, &desc); err != nil {
			return nil, classifyErr("list_categories", err)
		}
		c.Icon, c.Description = icon.String, desc.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertExtensionMapping inserts or replaces the category bound to an extension.
func (s *Store) UpsertExtensionMapping(ctx context.Context, m *enginetypes.ExtensionMapping) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extension_mappings (id, extension, category_id, priority, created_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(extension) DO UPDATE SET category_id = excluded.category_id, priority = excluded.priority`,
		m.ID, m.Extension, m.CategoryID, string(m.Priority))
	return classifyErr("upsert_extension_mapping", err)
}

// CategoryForExtension resolves the category bound to ext, or "" if unmapped.
func (s *Store) CategoryForExtension(ctx context.Context, ext string) (string, error) {
	var categoryID string
	err := s.db.QueryRowContext(ctx, `SELECT category_id FROM extension_mappings WHERE extension = ?`, ext).Scan(&categoryID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", classifyErr("category_for_extension", err)
	}
	return categoryID, nil
}

// ListFilterRules returns all filter rules ordered for evaluation:
// system rules first, then by descending priority.
func (s *Store) ListFilterRules(ctx context.Context) ([]*enginetypes.FilterRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, rule_type, pattern, pattern_type, action, priority, enabled, is_system, category_id
		FROM filter_rules WHERE enabled = 1 ORDER BY is_system DESC,
		CASE priority WHEN 'high' THEN 2 WHEN 'medium' THEN 1 ELSE 0 END DESC`)
	if err != nil {
		return nil, classifyErr("list_filter_rules", err)
	}
	defer rows.Close()

	var out []*enginetypes.FilterRule
	for rows.Next() {
		r := &enginetypes.FilterRule{}
		var categoryID sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &r.RuleType, &r.Pattern, &r.PatternType, &r.Action,
			&r.Priority, &r.Enabled, &r.IsSystem, &categoryID); err != nil {
			return nil, classifyErr("list_filter_rules", err)
		}
		r.CategoryID = categoryID.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// AddFilterRule inserts a new, non-system filter rule.
func (s *Store) AddFilterRule(ctx context.Context, r *enginetypes.FilterRule) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO filter_rules (id, name, rule_type, pattern, pattern_type, action, priority, enabled, is_system, category_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		r.ID, r.Name, string(r.RuleType), r.Pattern, string(r.PatternType), string(r.Action),
		string(r.Priority), r.Enabled, nullable(r.CategoryID))
	return classifyErr("add_filter_rule", err)
}

// AddBundleExtension registers a directory-name extension that must
// be surfaced as a single opaque file instead of descended into.
func (s *Store) AddBundleExtension(ctx context.Context, b *enginetypes.BundleExtension) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bundle_extensions (id, extension, is_active) VALUES (?, ?, ?)
		ON CONFLICT(extension) DO UPDATE SET is_active = excluded.is_active`,
		b.ID, b.Extension, b.IsActive)
	return classifyErr("add_bundle_extension", err)
}

// ListBundleExtensions returns the active bundle-directory extensions.
func (s *Store) ListBundleExtensions(ctx context.Context) ([]*enginetypes.BundleExtension, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, extension, is_active FROM bundle_extensions WHERE is_active = 1`)
	if err != nil {
		return nil, classifyErr("list_bundle_extensions", err)
	}
	defer rows.Close()

	var out []*enginetypes.BundleExtension
	for rows.Next() {
		b := &enginetypes.BundleExtension{}
		if err := rows.Scan(&b.ID, &b.Extension, &b.IsActive); err != nil {
			return nil, classifyErr("list_bundle_extensions", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
