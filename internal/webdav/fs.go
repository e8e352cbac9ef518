// Package webdav serves the commit tree view over WebDAV, read-only.
package webdav

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/webdav"

	"github.com/shatterbird/birdfs/internal/logging"
	"github.com/shatterbird/birdfs/pkg/vfs"
)

// FS implements webdav.FileSystem over a vfs.FS.
type FS struct {
	view *vfs.FS
}

var _ webdav.FileSystem = (*FS)(nil)

func normalizePath(name string) string {
	name = path.Clean("/" + name)
	return name
}

// Mkdir is refused.
func (f *FS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	name = normalizePath(name)
	return mapError(name, f.view.CreateDirectory(ctx, name))
}

// RemoveAll is refused.
func (f *FS) RemoveAll(ctx context.Context, name string) error {
	name = normalizePath(name)
	return mapError(name, f.view.Delete(ctx, name))
}

// Rename is refused.
func (f *FS) Rename(ctx context.Context, oldName, newName string) error {
	oldName = normalizePath(oldName)
	return mapError(oldName, f.view.Rename(ctx, oldName, normalizePath(newName)))
}

// Stat returns file info for a path.
func (f *FS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	name = normalizePath(name)
	n, err := f.view.Resolve(ctx, name)
	if err != nil {
		return nil, mapError(name, err)
	}
	fi, err := n.Stat(ctx)
	if err != nil {
		return nil, mapError(name, err)
	}
	return &fileInfo{FileInfo: fi, id: n.ID().String()}, nil
}

// OpenFile opens a file or directory for reading. Any write flag is
// refused.
func (f *FS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	name = normalizePath(name)
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, mapError(name, f.view.WriteFile(ctx, name, nil))
	}

	n, err := f.view.Resolve(ctx, name)
	if err != nil {
		return nil, mapError(name, err)
	}
	fi, err := n.Stat(ctx)
	if err != nil {
		return nil, mapError(name, err)
	}

	file := &File{
		ctx:  ctx,
		name: name,
		node: n,
		info: &fileInfo{FileInfo: fi, id: n.ID().String()},
	}
	if !n.IsDir() {
		data, err := n.ReadContent(ctx)
		if err != nil {
			return nil, mapError(name, err)
		}
		file.content = bytes.NewReader(data)
		file.info.size = int64(len(data))
	}
	return file, nil
}

// File implements webdav.File. File content is loaded when opened.
type File struct {
	ctx     context.Context
	name    string
	node    *vfs.Node
	info    *fileInfo
	content *bytes.Reader

	listed bool
}

var _ webdav.File = (*File)(nil)

func (f *File) Close() error {
	return nil
}

func (f *File) Read(p []byte) (int, error) {
	if f.content == nil {
		return 0, mapError(f.name, vfs.ErrIsADirectory)
	}
	return f.content.Read(p)
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.content == nil {
		if offset == 0 && whence == io.SeekStart {
			return 0, nil
		}
		return 0, mapError(f.name, vfs.ErrIsADirectory)
	}
	return f.content.Seek(offset, whence)
}

func (f *File) Write(p []byte) (int, error) {
	return 0, mapError(f.name, vfs.ErrReadOnly)
}

// Readdir lists the directory. Children are returned in one batch; later
// calls with count > 0 report io.EOF.
func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	if !f.node.IsDir() {
		return nil, mapError(f.name, vfs.ErrNotADirectory)
	}
	if f.listed && count > 0 {
		return nil, io.EOF
	}
	f.listed = true

	children, err := f.node.ListChildren(f.ctx)
	if err != nil {
		return nil, mapError(f.name, err)
	}

	infos := make([]os.FileInfo, 0, len(children))
	for _, child := range children {
		if f.node.Hides(child.Name()) {
			continue
		}
		fi, err := child.Stat(f.ctx)
		if err != nil {
			return nil, mapError(path.Join(f.name, child.Name()), err)
		}
		infos = append(infos, &fileInfo{FileInfo: fi, id: child.ID().String()})
	}
	return infos, nil
}

func (f *File) Stat() (os.FileInfo, error) {
	return f.info, nil
}

// fileInfo adds the node id as ETag, and the loaded size once content has
// been read.
type fileInfo struct {
	*vfs.FileInfo
	id   string
	size int64
}

var _ webdav.ETager = (*fileInfo)(nil)

func (fi *fileInfo) Size() int64 {
	if fi.size > 0 {
		return fi.size
	}
	return fi.FileInfo.Size()
}

// ModTime is the zero time from the store; WebDAV clients get the epoch.
func (fi *fileInfo) ModTime() time.Time {
	return time.Unix(0, 0).UTC()
}

// ETag is the content-addressed node id, which changes iff content does.
func (fi *fileInfo) ETag(ctx context.Context) (string, error) {
	if fi.id == "" {
		return "", webdav.ErrNotImplemented
	}
	return `"` + fi.id + `"`, nil
}

// mapError converts vfs errors into the os errors the webdav package
// recognises.
func mapError(name string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, vfs.ErrNotFound):
		return &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
	case errors.Is(err, vfs.ErrReadOnly):
		logging.Debug("webdav write refused", zap.String("path", name))
		return &os.PathError{Op: "write", Path: name, Err: os.ErrPermission}
	case errors.Is(err, vfs.ErrNotADirectory), errors.Is(err, vfs.ErrIsADirectory):
		return &os.PathError{Op: "open", Path: name, Err: os.ErrInvalid}
	}
	logging.Warn("webdav operation failed", zap.String("path", name), zap.Error(err))
	return err
}
