// Package fuse mounts the commit tree view as a read-only FUSE filesystem.
package fuse

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/shatterbird/birdfs/internal/logging"
	"github.com/shatterbird/birdfs/pkg/vfs"
)

// Config holds mount configuration.
type Config struct {
	AllowOther bool
	Debug      bool
	// EntryTimeout is how long the kernel may cache lookups and attributes.
	// Everything below a commit is immutable, so this can be long.
	EntryTimeout time.Duration
}

// FS serves a vfs.FS over FUSE.
type FS struct {
	view *vfs.FS
	cfg  Config
	uid  uint32
	gid  uint32

	stats Stats
}

// Stats holds filesystem statistics.
type Stats struct {
	Lookups   atomic.Int64
	Opens     atomic.Int64
	BytesRead atomic.Int64
	Errors    atomic.Int64
	Refused   atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Lookups   int64
	Opens     int64
	BytesRead int64
	Errors    int64
	Refused   int64
}

// New creates a FUSE filesystem over view.
func New(view *vfs.FS, cfg Config) *FS {
	if cfg.EntryTimeout == 0 {
		cfg.EntryTimeout = time.Minute
	}
	return &FS{
		view: view,
		cfg:  cfg,
		uid:  uint32(os.Getuid()),
		gid:  uint32(os.Getgid()),
	}
}

// Root returns the inode for the virtual root.
func (f *FS) Root() *Node {
	return &Node{fsys: f, view: f.view.Root()}
}

// Mount mounts the filesystem read-only at mountPoint.
func (f *FS) Mount(mountPoint string) (*gofuse.Server, error) {
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return nil, fmt.Errorf("create mount point: %w", err)
	}

	timeout := f.cfg.EntryTimeout
	opts := &fs.Options{
		MountOptions: gofuse.MountOptions{
			AllowOther: f.cfg.AllowOther,
			Debug:      f.cfg.Debug,
			FsName:     "birdfs",
			Name:       "birdfs",
			Options:    []string{"ro"},
		},
		EntryTimeout: &timeout,
		AttrTimeout:  &timeout,
		UID:          f.uid,
		GID:          f.gid,
	}

	server, err := fs.Mount(mountPoint, f.Root(), opts)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	return server, nil
}

// GetStats returns a snapshot of the filesystem statistics.
func (f *FS) GetStats() StatsSnapshot {
	return StatsSnapshot{
		Lookups:   f.stats.Lookups.Load(),
		Opens:     f.stats.Opens.Load(),
		BytesRead: f.stats.BytesRead.Load(),
		Errors:    f.stats.Errors.Load(),
		Refused:   f.stats.Refused.Load(),
	}
}

// Node is a file or directory in the mount.
type Node struct {
	fs.Inode

	fsys *FS
	view *vfs.Node
}

var _ fs.InodeEmbedder = (*Node)(nil)
var _ fs.NodeGetattrer = (*Node)(nil)
var _ fs.NodeLookuper = (*Node)(nil)
var _ fs.NodeReaddirer = (*Node)(nil)
var _ fs.NodeOpener = (*Node)(nil)
var _ fs.NodeReader = (*Node)(nil)
var _ fs.NodeCreater = (*Node)(nil)
var _ fs.NodeMkdirer = (*Node)(nil)
var _ fs.NodeUnlinker = (*Node)(nil)
var _ fs.NodeRmdirer = (*Node)(nil)
var _ fs.NodeSetattrer = (*Node)(nil)
var _ fs.NodeRenamer = (*Node)(nil)

// Getattr returns file attributes. Sizes are only filled in when the view
// reports them; otherwise files show as empty and reads use direct I/O.
func (n *Node) Getattr(ctx context.Context, fh fs.FileHandle, out *gofuse.AttrOut) syscall.Errno {
	if h, ok := fh.(*FileHandle); ok {
		n.fillAttr(&out.Attr, n.view.IsDir(), uint64(len(h.data)))
		return 0
	}
	fi, err := n.view.Stat(ctx)
	if err != nil {
		return n.fsys.errno("getattr", n.view.Name(), err)
	}
	n.fillAttr(&out.Attr, fi.IsDir(), uint64(fi.Size()))
	return 0
}

// Lookup finds a child by name.
func (n *Node) Lookup(ctx context.Context, name string, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.fsys.stats.Lookups.Add(1)
	if !n.view.IsDir() {
		return nil, unix.ENOTDIR
	}
	if n.view.Hides(name) {
		return nil, unix.ENOENT
	}

	child, err := n.view.Child(ctx, name)
	if err != nil {
		return nil, n.fsys.errno("lookup", name, err)
	}

	var size uint64
	if !child.IsDir() {
		fi, err := child.Stat(ctx)
		if err != nil {
			return nil, n.fsys.errno("lookup", name, err)
		}
		size = uint64(fi.Size())
	}
	n.fillAttr(&out.Attr, child.IsDir(), size)

	node := &Node{fsys: n.fsys, view: child}
	return n.NewInode(ctx, node, fs.StableAttr{Mode: fileType(child.IsDir())}), 0
}

// Readdir lists directory contents.
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	children, err := n.view.ListChildren(ctx)
	if err != nil {
		return nil, n.fsys.errno("readdir", n.view.Name(), err)
	}

	entries := make([]gofuse.DirEntry, 0, len(children))
	for _, child := range children {
		if n.view.Hides(child.Name()) {
			continue
		}
		entries = append(entries, gofuse.DirEntry{
			Name: child.Name(),
			Mode: fileType(child.IsDir()),
		})
	}
	return fs.NewListDirStream(entries), 0
}

// Open loads the whole file. Files are small source blobs and the reported
// size may be zero, so the handle uses direct I/O and the kernel reads until
// a short read.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_TRUNC|syscall.O_APPEND) != 0 {
		n.fsys.stats.Refused.Add(1)
		return nil, 0, unix.EROFS
	}
	if n.view.IsDir() {
		return nil, 0, unix.EISDIR
	}

	data, err := n.view.ReadContent(ctx)
	if err != nil {
		return nil, 0, n.fsys.errno("open", n.view.Name(), err)
	}
	n.fsys.stats.Opens.Add(1)
	return &FileHandle{data: data}, gofuse.FOPEN_DIRECT_IO, 0
}

// Read reads file content from the open handle.
func (n *Node) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (gofuse.ReadResult, syscall.Errno) {
	h, ok := fh.(*FileHandle)
	if !ok {
		return nil, unix.EIO
	}
	b := h.ReadAt(dest, off)
	n.fsys.stats.BytesRead.Add(int64(len(b)))
	return gofuse.ReadResultData(b), 0
}

// Create is refused: the filesystem is read-only.
func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *gofuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, n.fsys.refuse("create", name)
}

// Mkdir is refused.
func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *gofuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, n.fsys.refuse("mkdir", name)
}

// Unlink is refused.
func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return n.fsys.refuse("unlink", name)
}

// Rmdir is refused.
func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.fsys.refuse("rmdir", name)
}

// Setattr is refused.
func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *gofuse.SetAttrIn, out *gofuse.AttrOut) syscall.Errno {
	return n.fsys.refuse("setattr", n.view.Name())
}

// Rename is refused.
func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	return n.fsys.refuse("rename", name)
}

func (n *Node) fillAttr(out *gofuse.Attr, dir bool, size uint64) {
	if dir {
		out.Mode = syscall.S_IFDIR | 0555
		out.Nlink = 2
	} else {
		out.Mode = syscall.S_IFREG | 0444
		out.Nlink = 1
	}
	out.Size = size
	out.Uid = n.fsys.uid
	out.Gid = n.fsys.gid
}

func fileType(dir bool) uint32 {
	if dir {
		return syscall.S_IFDIR
	}
	return syscall.S_IFREG
}

// FileHandle holds the content of an open file.
type FileHandle struct {
	data []byte
}

var _ fs.FileHandle = (*FileHandle)(nil)

// ReadAt returns the slice of content at off, at most len(dest) bytes.
func (h *FileHandle) ReadAt(dest []byte, off int64) []byte {
	if off >= int64(len(h.data)) {
		return nil
	}
	end := off + int64(len(dest))
	if end > int64(len(h.data)) {
		end = int64(len(h.data))
	}
	return h.data[off:end]
}

func (f *FS) refuse(op, name string) syscall.Errno {
	f.stats.Refused.Add(1)
	logging.Debug("refused mutation", zap.String("op", op), zap.String("name", name))
	return unix.EROFS
}

func (f *FS) errno(op, name string, err error) syscall.Errno {
	errno := toErrno(err)
	if errno == unix.EIO {
		f.stats.Errors.Add(1)
		logging.Error("fuse operation failed",
			zap.String("op", op), zap.String("name", name), zap.Error(err))
	} else {
		logging.Debug("fuse operation failed",
			zap.String("op", op), zap.String("name", name), zap.Error(err))
	}
	return errno
}

// toErrno maps vfs errors onto errno values.
func toErrno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, vfs.ErrNotFound):
		return unix.ENOENT
	case errors.Is(err, vfs.ErrNotADirectory):
		return unix.ENOTDIR
	case errors.Is(err, vfs.ErrIsADirectory):
		return unix.EISDIR
	case errors.Is(err, vfs.ErrReadOnly):
		return unix.EROFS
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return unix.EINTR
	}
	return unix.EIO
}
