package vfs

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/shatterbird/birdfs/internal/logging"
	"github.com/shatterbird/birdfs/internal/metrics"
)

// Names editors and version control tools look up at the top of a
// workspace. They are never commit oids, so a first path segment with one of
// these names fails without asking the store. Deeper segments are ordinary
// tree entries.
var reservedNames = map[string]bool{
	".git":    true,
	".vscode": true,
	".hg":     true,
	".svn":    true,
	".idea":   true,
}

// IsReserved reports whether name is a reserved metadata name. Only the
// virtual root treats these names specially.
func IsReserved(name string) bool {
	return reservedNames[name]
}

// Split breaks a slash-separated path into its non-empty segments.
func Split(path string) []string {
	parts := strings.Split(path, "/")
	segments := parts[:0]
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return segments
}

// Resolve walks path from the virtual root. The first segment is a commit
// oid and each following segment names a child of the previous node.
// Resolution stops at the first failing segment.
func (f *FS) Resolve(ctx context.Context, path string) (*Node, error) {
	n, err := f.resolve(ctx, path)
	metrics.RecordResolution(resolutionResult(err))
	if err != nil {
		logging.WithContext(ctx).Debug("resolve failed", zap.String("path", path), zap.Error(err))
		return nil, pathError("resolve", path, err)
	}
	return n, nil
}

func (f *FS) resolve(ctx context.Context, path string) (*Node, error) {
	segments := Split(path)
	if len(segments) > 0 && IsReserved(segments[0]) {
		return nil, ErrNotFound
	}

	cur := f.root
	for _, name := range segments {
		if !cur.IsDir() {
			return nil, ErrNotADirectory
		}
		next, err := cur.Child(ctx, name)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func resolutionResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotADirectory):
		return "not_a_directory"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "error"
}
