package vfs

import (
	"context"
	"io/fs"
	"strings"
	"time"

	"github.com/shatterbird/birdfs/pkg/models"
)

// Kind tags the variant of a Node.
type Kind int

const (
	// KindVirtualRoot is the implicit "/" listing every commit.
	KindVirtualRoot Kind = iota
	// KindRepoRoot is a commit's top-level tree, named by the commit oid.
	KindRepoRoot
	// KindDirectory is a tree node below a repo root.
	KindDirectory
	// KindFile is a text, blob or symlink node.
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindVirtualRoot:
		return "virtual-root"
	case KindRepoRoot:
		return "repo-root"
	case KindDirectory:
		return "directory"
	case KindFile:
		return "file"
	}
	return "unknown"
}

// Node is a view over cached store data. Nodes are cheap and created fresh
// for every lookup; the data behind them lives in the client's cache.
type Node struct {
	fsys *FS
	kind Kind
	name string
	// id is the backing store node; for a repo root, the commit's root tree.
	id models.ID
	// declared is the kind the parent directory listed for this node.
	declared models.ContentKind
	commit   *models.Commit
}

// Kind returns the node's variant.
func (n *Node) Kind() Kind { return n.kind }

// Name returns the node's name within its parent. The virtual root is "/".
func (n *Node) Name() string { return n.name }

// ID returns the backing store node id, zero for the virtual root.
func (n *Node) ID() models.ID { return n.id }

// ContentKind returns the kind the store declared for the node, "" for the
// virtual root.
func (n *Node) ContentKind() models.ContentKind { return n.declared }

// Commit returns the commit of a repo root, nil otherwise.
func (n *Node) Commit() *models.Commit { return n.commit }

// IsDir reports whether the node can list children.
func (n *Node) IsDir() bool { return n.kind != KindFile }

// Hides reports whether the child called name is never shown or looked up
// below n. Only the virtual root hides reserved names.
func (n *Node) Hides(name string) bool {
	return n.kind == KindVirtualRoot && IsReserved(name)
}

// Stat returns the node's metadata. Sizes and times are zero unless the
// filesystem was created with ReportSizes, in which case files report the
// size recorded in their content.
func (n *Node) Stat(ctx context.Context) (*FileInfo, error) {
	fi := &FileInfo{name: n.name, kind: n.kind}
	if n.kind == KindFile && n.fsys.opts.ReportSizes {
		node, err := n.fsys.loadNode(ctx, n.id)
		if err != nil {
			return nil, err
		}
		fi.size = int64(node.Content.Size())
	}
	return fi, nil
}

// ListChildren returns the node's children sorted by name.
func (n *Node) ListChildren(ctx context.Context) ([]*Node, error) {
	switch n.kind {
	case KindVirtualRoot:
		commits, err := n.fsys.store.ListCommits(ctx)
		if err != nil {
			return nil, storeError(err)
		}
		children := make([]*Node, 0, len(commits))
		for _, c := range commits {
			children = append(children, n.fsys.repoRoot(c))
		}
		return children, nil

	case KindRepoRoot, KindDirectory:
		dir, err := n.fsys.loadDirectory(ctx, n.id)
		if err != nil {
			return nil, err
		}
		names := dir.Names()
		children := make([]*Node, 0, len(names))
		for _, name := range names {
			children = append(children, n.fsys.child(name, dir.Children[name]))
		}
		return children, nil
	}
	return nil, ErrNotADirectory
}

// Child returns the direct child called name.
func (n *Node) Child(ctx context.Context, name string) (*Node, error) {
	switch n.kind {
	case KindVirtualRoot:
		c, err := n.fsys.store.GetCommit(ctx, name)
		if err != nil {
			return nil, storeError(err)
		}
		return n.fsys.repoRoot(c), nil

	case KindRepoRoot, KindDirectory:
		dir, err := n.fsys.loadDirectory(ctx, n.id)
		if err != nil {
			return nil, err
		}
		info, ok := dir.Children[name]
		if !ok {
			return nil, ErrNotFound
		}
		return n.fsys.child(name, info), nil
	}
	return nil, ErrNotADirectory
}

// ReadContent returns the whole content of a file node.
func (n *Node) ReadContent(ctx context.Context) ([]byte, error) {
	if n.kind != KindFile {
		return nil, ErrIsADirectory
	}
	return n.fsys.loadContent(ctx, n.id)
}

func (f *FS) repoRoot(c *models.Commit) *Node {
	return &Node{
		fsys:     f,
		kind:     KindRepoRoot,
		name:     c.OID,
		id:       c.Root,
		declared: models.KindDirectory,
		commit:   c,
	}
}

func (f *FS) child(name string, info models.NodeInfo) *Node {
	kind := KindFile
	if info.Kind == models.KindDirectory {
		kind = KindDirectory
	}
	return &Node{
		fsys:     f,
		kind:     kind,
		name:     name,
		id:       info.ID,
		declared: info.Kind,
	}
}

// The loaders below are the only place node content is fetched.

func (f *FS) loadNode(ctx context.Context, id models.ID) (*models.Node, error) {
	node, err := f.store.GetNode(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	if !node.Full() {
		return nil, ErrUnavailable
	}
	return node, nil
}

func (f *FS) loadDirectory(ctx context.Context, id models.ID) (*models.DirectoryContent, error) {
	node, err := f.loadNode(ctx, id)
	if err != nil {
		return nil, err
	}
	if node.Content.Directory == nil {
		return nil, ErrNotADirectory
	}
	return node.Content.Directory, nil
}

func (f *FS) loadContent(ctx context.Context, id models.ID) ([]byte, error) {
	node, err := f.loadNode(ctx, id)
	if err != nil {
		return nil, err
	}

	c := node.Content
	switch {
	case c.Blob != nil:
		data, err := f.store.GetBlob(ctx, c.Blob.Content)
		if err != nil {
			return nil, storeError(err)
		}
		return data, nil
	case c.Text != nil:
		lines := make([]string, len(c.Text.Lines))
		for i, l := range c.Text.Lines {
			lines[i] = l.Text
		}
		return []byte(strings.Join(lines, "\n")), nil
	case c.Symlink != nil:
		return []byte(c.Symlink.Target), nil
	case c.Directory != nil:
		return nil, ErrIsADirectory
	}
	return nil, ErrUnavailable
}

// FileInfo implements fs.FileInfo for a node.
type FileInfo struct {
	name string
	kind Kind
	size int64
}

func (fi *FileInfo) Name() string { return fi.name }
func (fi *FileInfo) Size() int64  { return fi.size }

func (fi *FileInfo) Mode() fs.FileMode {
	if fi.IsDir() {
		return fs.ModeDir | 0555
	}
	return 0444
}

// ModTime is always the zero time; the store records no timestamps.
func (fi *FileInfo) ModTime() time.Time { return time.Time{} }
func (fi *FileInfo) IsDir() bool        { return fi.kind != KindFile }
func (fi *FileInfo) Sys() any           { return nil }

// Kind returns the variant of the node the info describes.
func (fi *FileInfo) Kind() Kind { return fi.kind }
