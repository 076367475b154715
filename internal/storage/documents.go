package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveDocument stores a raw archive document awaiting pyramid construction.
func (s *Store) SaveDocument(ctx context.Context, d Document) error {
	status := d.Status
	if status == "" {
		status = "queued"
	}
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, content, source_type, author_role, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Title, d.Content, d.SourceType, d.AuthorRole, status,
		createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetDocument returns a document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	var d Document
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, source_type, author_role, status, created_at
		FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.Title, &d.Content, &d.SourceType, &d.AuthorRole, &d.Status, &createdAt)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Document{}, fmt.Errorf("parsing created_at: %w", err)
	}
	d.CreatedAt = t
	return d, nil
}

// UpdateDocumentStatus marks a document as indexed or failed.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDocuments returns the most recent documents, newest first.
func (s *Store) ListDocuments(ctx context.Context, limit int) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, source_type, author_role, status, created_at
		FROM documents ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var createdAt string
		if err := rows.Scan(&d.ID, &d.Title, &d.Content, &d.SourceType, &d.AuthorRole, &d.Status, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		d.CreatedAt = t
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document row. Nodes are removed separately via
// DeleteThread so callers control whether the index entry goes too.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
