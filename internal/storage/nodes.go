package storage

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// timeLayout is RFC3339 with fixed-width nanoseconds so stored timestamps
// sort lexically in creation order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// InsertThread persists all nodes of one built pyramid in a single
// transaction and indexes their text in the full-text table. A failed build
// therefore never leaves a partial thread behind.
func (s *Store) InsertThread(ctx context.Context, nodes []ContentNode) error {
	if len(nodes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO content_nodes (id, thread_root_id, parent_id, child_ids, level, text,
			word_count, embedding, source_type, author_role, source_created_at, thread_title)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing node insert: %w", err)
	}
	defer stmt.Close()

	ftsStmt, err := tx.PrepareContext(ctx, `INSERT INTO content_nodes_fts (node_id, text) VALUES (?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing fts insert: %w", err)
	}
	defer ftsStmt.Close()

	for _, n := range nodes {
		if !n.Level.Valid() {
			tx.Rollback()
			return fmt.Errorf("node %s has unknown hierarchy level %q", n.ID, n.Level)
		}
		childJSON, err := json.Marshal(n.ChildIDs)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("encoding child ids for %s: %w", n.ID, err)
		}
		var blob []byte
		if n.Embedding != nil {
			blob = encodeVector(n.Embedding)
		}
		createdAt := n.Provenance.SourceCreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			n.ID, n.ThreadRootID, n.ParentID, string(childJSON), string(n.Level), n.Text,
			n.WordCount, blob, n.Provenance.SourceType, n.Provenance.AuthorRole,
			createdAt.UTC().Format(timeLayout), n.Provenance.ThreadTitle,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting node %s: %w", n.ID, err)
		}
		if _, err := ftsStmt.ExecContext(ctx, n.ID, n.Text); err != nil {
			tx.Rollback()
			return fmt.Errorf("indexing node %s: %w", n.ID, err)
		}
	}

	return tx.Commit()
}

// UpdateEmbedding stores the embedding for an already inserted node.
func (s *Store) UpdateEmbedding(ctx context.Context, id string, vec []float32) error {
	res, err := s.db.ExecContext(ctx, `UPDATE content_nodes SET embedding = ? WHERE id = ?`, encodeVector(vec), id)
	if err != nil {
		return fmt.Errorf("updating embedding for %s: %w", id, err)
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

const nodeColumns = `id, thread_root_id, parent_id, child_ids, level, text,
	word_count, embedding, source_type, author_role, source_created_at, thread_title`

// idScore tracks a candidate during the scan phase of VectorSearch.
type idScore struct {
	ID    string
	Score float32
}

// idScoreHeap is a min-heap of idScore ordered by score, so the weakest
// of the current top-K sits at the root and can be evicted cheaply.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// VectorSearch performs brute-force cosine similarity over all embedded
// nodes matching the filter and returns the top-K most similar, best first.
// Phase one scans only id + embedding; full rows are hydrated for winners.
func (s *Store) VectorSearch(ctx context.Context, vector []float32, topK int, f NodeFilter) ([]ScoredNode, error) {
	if topK <= 0 {
		return nil, nil
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	where, args := f.clauses("")
	q := `SELECT id, embedding FROM content_nodes WHERE embedding IS NOT NULL` + where
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("scanning embeddings: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	var buf []float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning embedding row: %w", err)
		}
		buf, err = decodeVectorInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		score := cosine(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating embeddings: %w", err)
	}
	if h.Len() == 0 {
		return nil, nil
	}

	scores := make(map[string]float32, h.Len())
	ids := make([]string, h.Len())
	for i := len(ids) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		ids[i] = item.ID
		scores[item.ID] = item.Score
	}

	nodes, err := s.GetNodes(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]ScoredNode, 0, len(nodes))
	for _, n := range nodes {
		results = append(results, ScoredNode{ContentNode: n, Score: scores[n.ID]})
	}
	sortScoredNodes(results)
	return results, nil
}

// LexicalSearch runs a BM25-ranked full-text query over indexed node text
// and returns the top-K matches, best first. Scores are the negated FTS5
// rank, so higher is better.
func (s *Store) LexicalSearch(ctx context.Context, query string, topK int, f NodeFilter) ([]ScoredNode, error) {
	if topK <= 0 {
		return nil, nil
	}
	match := ftsMatchQuery(query)
	if match == "" {
		return nil, nil
	}

	where, args := f.clauses("n.")
	q := `SELECT n.id, n.thread_root_id, n.parent_id, n.child_ids, n.level, n.text,
			n.word_count, n.embedding, n.source_type, n.author_role, n.source_created_at, n.thread_title,
			bm25(content_nodes_fts) AS rank
		FROM content_nodes_fts
		JOIN content_nodes n ON n.id = content_nodes_fts.node_id
		WHERE content_nodes_fts MATCH ?` + where + `
		ORDER BY rank LIMIT ?`
	qargs := append([]any{match}, args...)
	qargs = append(qargs, topK)

	rows, err := s.db.QueryContext(ctx, q, qargs...)
	if err != nil {
		return nil, fmt.Errorf("lexical query: %w", err)
	}
	defer rows.Close()

	var results []ScoredNode
	for rows.Next() {
		var n ContentNode
		var rank float64
		if err := scanNodeRow(rows, &n, &rank); err != nil {
			return nil, err
		}
		results = append(results, ScoredNode{ContentNode: n, Score: float32(-rank)})
	}
	return results, rows.Err()
}

// ftsMatchQuery converts free text into a safe FTS5 MATCH expression:
// each alphanumeric term is quoted and terms are OR-ed for recall.
func ftsMatchQuery(query string) string {
	terms := strings.FieldsFunc(query, func(r rune) bool {
		return !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r > 127)
	})
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

// clauses renders the filter as AND-ed SQL conditions. prefix qualifies
// column names when content_nodes is aliased in the enclosing query.
func (f NodeFilter) clauses(prefix string) (string, []any) {
	var sb strings.Builder
	var args []any

	if len(f.Levels) > 0 {
		sb.WriteString(" AND " + prefix + "level IN (?" + strings.Repeat(",?", len(f.Levels)-1) + ")")
		for _, l := range f.Levels {
			args = append(args, string(l))
		}
	}
	if len(f.SourceTypes) > 0 {
		sb.WriteString(" AND " + prefix + "source_type IN (?" + strings.Repeat(",?", len(f.SourceTypes)-1) + ")")
		for _, t := range f.SourceTypes {
			args = append(args, t)
		}
	}
	if f.AuthorRole != "" {
		sb.WriteString(" AND " + prefix + "author_role = ?")
		args = append(args, f.AuthorRole)
	}
	if f.ThreadRootID != "" {
		sb.WriteString(" AND " + prefix + "thread_root_id = ?")
		args = append(args, f.ThreadRootID)
	}
	return sb.String(), args
}

// GetNode returns a single node by id.
func (s *Store) GetNode(ctx context.Context, id string) (ContentNode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM content_nodes WHERE id = ?`, id)
	var n ContentNode
	if err := scanNodeRow(row, &n, nil); err != nil {
		if err == sql.ErrNoRows {
			return ContentNode{}, ErrNotFound
		}
		return ContentNode{}, err
	}
	return n, nil
}

// GetNodes returns nodes matching the given ids. Missing ids are skipped.
func (s *Store) GetNodes(ctx context.Context, ids []string) ([]ContentNode, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := `SELECT ` + nodeColumns + ` FROM content_nodes WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying nodes by id: %w", err)
	}
	defer rows.Close()

	var nodes []ContentNode
	for rows.Next() {
		var n ContentNode
		if err := scanNodeRow(rows, &n, nil); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// Children returns the child nodes of id in the parent's recorded order.
func (s *Store) Children(ctx context.Context, id string) ([]ContentNode, error) {
	parent, err := s.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(parent.ChildIDs) == 0 {
		return nil, nil
	}
	nodes, err := s.GetNodes(ctx, parent.ChildIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]ContentNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	ordered := make([]ContentNode, 0, len(nodes))
	for _, cid := range parent.ChildIDs {
		if n, ok := byID[cid]; ok {
			ordered = append(ordered, n)
		}
	}
	return ordered, nil
}

// Thread returns all nodes sharing the given thread root, ordered by
// source creation time then id for a stable reading order.
func (s *Store) Thread(ctx context.Context, threadRootID string) ([]ContentNode, error) {
	q := `SELECT ` + nodeColumns + ` FROM content_nodes
		WHERE thread_root_id = ? ORDER BY source_created_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, q, threadRootID)
	if err != nil {
		return nil, fmt.Errorf("querying thread %s: %w", threadRootID, err)
	}
	defer rows.Close()

	var nodes []ContentNode
	for rows.Next() {
		var n ContentNode
		if err := scanNodeRow(rows, &n, nil); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// DeleteThread removes every node of a thread and its full-text entries.
func (s *Store) DeleteThread(ctx context.Context, threadRootID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM content_nodes_fts WHERE node_id IN (SELECT id FROM content_nodes WHERE thread_root_id = ?)`,
		threadRootID); err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting fts entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM content_nodes WHERE thread_root_id = ?`, threadRootID); err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting nodes: %w", err)
	}
	return tx.Commit()
}

// CountNodes returns the number of nodes at the given level, or all nodes
// when level is empty.
func (s *Store) CountNodes(ctx context.Context, level HierarchyLevel) (int, error) {
	var count int
	var err error
	if level == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM content_nodes`).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM content_nodes WHERE level = ?`, string(level)).Scan(&count)
	}
	return count, err
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanNodeRow decodes one content_nodes row. rank, when non-nil, receives
// a trailing bm25 rank column.
func scanNodeRow(r rowScanner, n *ContentNode, rank *float64) error {
	var childJSON, level, createdAt string
	var blob []byte
	dest := []any{
		&n.ID, &n.ThreadRootID, &n.ParentID, &childJSON, &level, &n.Text,
		&n.WordCount, &blob, &n.Provenance.SourceType, &n.Provenance.AuthorRole,
		&createdAt, &n.Provenance.ThreadTitle,
	}
	if rank != nil {
		dest = append(dest, rank)
	}
	if err := r.Scan(dest...); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(childJSON), &n.ChildIDs); err != nil {
		return fmt.Errorf("decoding child ids for %s: %w", n.ID, err)
	}
	n.Level = HierarchyLevel(level)
	if blob != nil {
		vec, err := decodeVector(blob)
		if err != nil {
			return fmt.Errorf("decoding embedding for %s: %w", n.ID, err)
		}
		n.Embedding = vec
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return fmt.Errorf("parsing source_created_at for %s: %w", n.ID, err)
	}
	n.Provenance.SourceCreatedAt = t
	return nil
}

// sortScoredNodes sorts by score descending; ties go to the more recently
// created source. Insertion sort is fine at top-K sizes.
func sortScoredNodes(results []ScoredNode) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && scoredLess(results[j-1], results[j]); j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

func scoredLess(a, b ScoredNode) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Provenance.SourceCreatedAt.Before(b.Provenance.SourceCreatedAt)
}
