// Package vfs presents commits in the object store as a read-only file tree.
//
// Paths have the form /{commit oid}/{segments...}; "/" lists every commit.
// All failures are *fs.PathError values wrapping one of the package's
// sentinel errors.
package vfs

import (
	"context"

	"github.com/shatterbird/birdfs/pkg/models"
)

// ObjectStore is the subset of the object store client the view reads from.
// *client.Client implements it.
type ObjectStore interface {
	ListCommits(ctx context.Context) ([]*models.Commit, error)
	GetCommit(ctx context.Context, oid string) (*models.Commit, error)
	GetNode(ctx context.Context, id models.ID) (*models.Node, error)
	GetBlob(ctx context.Context, id models.ID) ([]byte, error)
}

// Options tune the view.
type Options struct {
	// ReportSizes makes Stat report file sizes from their content. This
	// costs a full node fetch per stat, so it is off by default and files
	// report size 0.
	ReportSizes bool
}

// FS is the read-only file tree over an object store.
type FS struct {
	store ObjectStore
	opts  Options
	root  *Node
}

// New creates a view over store.
func New(store ObjectStore, opts Options) *FS {
	f := &FS{store: store, opts: opts}
	f.root = &Node{fsys: f, kind: KindVirtualRoot, name: "/"}
	return f
}

// Root returns the virtual root node.
func (f *FS) Root() *Node {
	return f.root
}

// Stat returns metadata for path.
func (f *FS) Stat(ctx context.Context, path string) (*FileInfo, error) {
	n, err := f.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	fi, err := n.Stat(ctx)
	return fi, pathError("stat", path, err)
}

// ReadDir lists the children of the directory at path, sorted by name.
func (f *FS) ReadDir(ctx context.Context, path string) ([]*Node, error) {
	n, err := f.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	children, err := n.ListChildren(ctx)
	if err != nil {
		return nil, pathError("readdir", path, err)
	}
	return children, nil
}

// ReadFile returns the content of the file at path.
func (f *FS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	n, err := f.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	data, err := n.ReadContent(ctx)
	if err != nil {
		return nil, pathError("read", path, err)
	}
	return data, nil
}

// CreateDirectory always fails with ErrReadOnly.
func (f *FS) CreateDirectory(ctx context.Context, path string) error {
	return pathError("mkdir", path, ErrReadOnly)
}

// WriteFile always fails with ErrReadOnly.
func (f *FS) WriteFile(ctx context.Context, path string, data []byte) error {
	return pathError("write", path, ErrReadOnly)
}

// Delete always fails with ErrReadOnly.
func (f *FS) Delete(ctx context.Context, path string) error {
	return pathError("delete", path, ErrReadOnly)
}

// Rename always fails with ErrReadOnly.
func (f *FS) Rename(ctx context.Context, oldPath, newPath string) error {
	return pathError("rename", oldPath, ErrReadOnly)
}

// Copy always fails with ErrReadOnly.
func (f *FS) Copy(ctx context.Context, src, dst string) error {
	return pathError("copy", dst, ErrReadOnly)
}
