package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/shatterbird/birdfs/internal/logging"
	"github.com/shatterbird/birdfs/internal/webdav"
	"github.com/shatterbird/birdfs/pkg/fuse"
	"github.com/shatterbird/birdfs/pkg/lsp"
)

func cmdMount(args []string) error {
	fs, common := newFlagSet("mount", "mount [flags] <dir>")
	allowOther := fs.Bool("allow-other", false, "allow other users to access the mount")
	debug := fs.Bool("fuse-debug", false, "log every FUSE request")
	entryTimeout := fs.Duration("entry-timeout", time.Minute, "kernel cache timeout for entries and attributes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("mount point is required")
	}
	mountPoint := fs.Arg(0)

	cfg, err := common.load()
	if err != nil {
		return err
	}
	serveMetrics(cfg)

	_, view, err := newView(cfg)
	if err != nil {
		return err
	}

	logging.Info("birdfs mounting",
		zap.String("server", cfg.ServerURL),
		zap.String("mount", mountPoint),
		zap.String("cache_dir", cfg.CacheDir),
		zap.Bool("stat_sizes", cfg.StatSizes))

	birdFS := fuse.New(view, fuse.Config{
		AllowOther:   *allowOther,
		Debug:        *debug,
		EntryTimeout: *entryTimeout,
	})
	server, err := birdFS.Mount(mountPoint)
	if err != nil {
		return err
	}
	logging.Info("filesystem mounted (read-only); press Ctrl+C to unmount", zap.String("mount", mountPoint))

	ctx, stop := signalContext()
	defer stop()
	<-ctx.Done()

	logging.Info("unmounting...")
	if err := server.Unmount(); err != nil {
		return fmt.Errorf("unmount: %w", err)
	}
	s := birdFS.GetStats()
	logging.Info("done",
		zap.Int64("lookups", s.Lookups),
		zap.Int64("opens", s.Opens),
		zap.Int64("bytes_read", s.BytesRead),
		zap.Int64("refused", s.Refused),
		zap.Int64("errors", s.Errors))
	return nil
}

func cmdWebDAV(args []string) error {
	fs, common := newFlagSet("webdav", "webdav [flags]")
	addr := fs.String("addr", "", "listen address (env BIRD_WEBDAV_ADDR)")
	prefix := fs.String("prefix", "", "URL path prefix to strip")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	if fs.Changed("addr") {
		cfg.WebDAVAddr = *addr
	}
	serveMetrics(cfg)

	_, view, err := newView(cfg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.WebDAVAddr,
		Handler:           webdav.NewHandler(view, *prefix),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signalContext()
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logging.Info("webdav server starting",
			zap.String("addr", cfg.WebDAVAddr),
			zap.String("server", cfg.ServerURL))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logging.Info("shutting down webdav server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func cmdLSP(args []string) error {
	fs, common := newFlagSet("lsp", "lsp [flags]")
	maxInflight := fs.Int("max-inflight", 0, "concurrent HTTP calls (env BIRD_LSP_MAX_INFLIGHT)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	if fs.Changed("max-inflight") {
		cfg.LSPMaxInflight = *maxInflight
	}
	serveMetrics(cfg)

	t := lsp.New(lsp.Config{
		BaseURL:     cfg.ServerURL,
		Timeout:     cfg.Timeout,
		MaxInflight: cfg.LSPMaxInflight,
	})

	ctx, stop := signalContext()
	defer stop()

	logging.Info("lsp proxy starting", zap.String("server", cfg.ServerURL))
	done := make(chan error, 1)
	go func() { done <- lsp.Proxy(ctx, os.Stdin, os.Stdout, t) }()

	// A blocked stdin read does not observe ctx, so a signal ends the
	// command without waiting for the proxy.
	select {
	case err = <-done:
	case <-ctx.Done():
	}
	logging.Info("lsp proxy stopped", zap.Int64("dropped", t.Dropped()))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
