package ingest

import (
	"context"
	"io/fs"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// BatchResult reports the outcome of one file in a batch.
type BatchResult struct {
	Path       string
	DocumentID string
	Err        error
}

// AcceptDir walks root and queues every regular file for indexing. Files
// are processed concurrently; one file's failure is recorded in its
// BatchResult and does not abort the rest.
func (in *Intake) AcceptDir(ctx context.Context, root, sourceType, authorRole string) ([]BatchResult, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	results := make([]BatchResult, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, path := range paths {
		g.Go(func() error {
			id, err := in.AcceptFile(gctx, path, sourceType, authorRole)
			results[i] = BatchResult{Path: path, DocumentID: id, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
