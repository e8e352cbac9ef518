package webdav

import (
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/net/webdav"

	"github.com/shatterbird/birdfs/internal/logging"
	"github.com/shatterbird/birdfs/internal/metrics"
	"github.com/shatterbird/birdfs/pkg/vfs"
)

// NewHandler creates a WebDAV HTTP handler serving view under prefix.
func NewHandler(view *vfs.FS, prefix string) http.Handler {
	davHandler := &webdav.Handler{
		FileSystem: &FS{view: view},
		LockSystem: webdav.NewMemLS(),
		Prefix:     prefix,
		Logger: func(r *http.Request, err error) {
			if err != nil {
				logging.WithContext(r.Context()).Debug("webdav request error",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Error(err))
			}
		},
	}
	return logging.Middleware(metrics.Middleware(davHandler))
}
