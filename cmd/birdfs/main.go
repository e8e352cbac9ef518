// birdfs exposes the commits of a remote object store as a read-only file
// tree, and bridges a language server client onto the store's HTTP API.
//
// Sub-commands:
//
//	birdfs mount <dir>    Mount the tree with FUSE until interrupted
//	birdfs webdav         Serve the tree over WebDAV
//	birdfs ls <path>      List a directory
//	birdfs stat <path>    Show metadata for a path
//	birdfs cat <path>     Print a file
//	birdfs lsp            Run a stdio language server proxy
//
// Paths have the form /{commit oid}/{path...}; "/" lists the commits.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/shatterbird/birdfs/internal/config"
	"github.com/shatterbird/birdfs/internal/logging"
	"github.com/shatterbird/birdfs/internal/metrics"
	"github.com/shatterbird/birdfs/pkg/cache"
	"github.com/shatterbird/birdfs/pkg/client"
	"github.com/shatterbird/birdfs/pkg/retry"
	"github.com/shatterbird/birdfs/pkg/vfs"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "mount":
		err = cmdMount(args)
	case "webdav":
		err = cmdWebDAV(args)
	case "ls":
		err = cmdLs(args)
	case "stat":
		err = cmdStat(args)
	case "cat":
		err = cmdCat(args)
	case "lsp":
		err = cmdLSP(args)
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	default:
		fmt.Fprintf(os.Stderr, "birdfs: unknown command %q\n\n", cmd)
		usage(os.Stderr)
		os.Exit(2)
	}

	logging.Sync()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "birdfs %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `Usage: birdfs <command> [flags] [args]

Commands:
  mount <dir>    mount the commit tree read-only with FUSE
  webdav         serve the commit tree over WebDAV
  ls <path>      list a directory
  stat <path>    show metadata for a path
  cat <path>     print a file
  lsp            run a stdio language server proxy

Run 'birdfs <command> --help' for command flags.
`)
}

// commonFlags are accepted by every command and override the config file
// and environment.
type commonFlags struct {
	fs *pflag.FlagSet

	server    string
	config    string
	logLevel  string
	cacheDir  string
	statSizes bool
}

func newFlagSet(name, usageLine string) (*pflag.FlagSet, *commonFlags) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	c := &commonFlags{fs: fs}
	fs.StringVar(&c.server, "server", "", "object store base URL (env BIRD_SERVER_URL)")
	fs.StringVar(&c.config, "config", "", "YAML config file (env BIRD_CONFIG)")
	fs.StringVar(&c.logLevel, "log-level", "", "debug, info, warn or error (env BIRD_LOG_LEVEL)")
	fs.StringVar(&c.cacheDir, "cache-dir", "", "blob cache directory (env BIRD_CACHE_DIR)")
	fs.BoolVar(&c.statSizes, "stat-sizes", false, "report real file sizes (env BIRD_STAT_SIZES)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: birdfs %s\n\nFlags:\n", usageLine)
		fs.PrintDefaults()
	}
	return fs, c
}

// load builds the configuration and initialises logging.
func (c *commonFlags) load() (*config.Config, error) {
	cfg, err := config.Load(c.config)
	if err != nil {
		return nil, err
	}
	if c.fs.Changed("server") {
		cfg.ServerURL = c.server
	}
	if c.fs.Changed("log-level") {
		cfg.LogLevel = c.logLevel
	}
	if c.fs.Changed("cache-dir") {
		cfg.CacheDir = c.cacheDir
	}
	if c.fs.Changed("stat-sizes") {
		cfg.StatSizes = c.statSizes
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newClient wires the caches and the object store client.
func newClient(cfg *config.Config) (*client.Client, error) {
	var disk *cache.DiskCache
	if cfg.CacheDir != "" {
		d, err := cache.NewDiskCache(cfg.CacheDir, cfg.MaxDiskCache)
		if err != nil {
			return nil, err
		}
		disk = d
	}
	blobs, err := cache.NewBlobCache(cfg.BlobCacheEntries, disk)
	if err != nil {
		return nil, fmt.Errorf("create blob cache: %w", err)
	}

	rc := retry.DefaultConfig()
	if cfg.RetryAttempts > 0 {
		rc.MaxAttempts = cfg.RetryAttempts
	}

	return client.New(client.Config{
		BaseURL:     cfg.ServerURL,
		Timeout:     cfg.Timeout,
		RetryConfig: rc,
		Store:       cache.NewStore(),
		Blobs:       blobs,
	}), nil
}

func newView(cfg *config.Config) (*client.Client, *vfs.FS, error) {
	c, err := newClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	return c, vfs.New(c, vfs.Options{ReportSizes: cfg.StatSizes}), nil
}

// serveMetrics exposes Prometheus metrics when an address is configured.
func serveMetrics(cfg *config.Config) {
	if cfg.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logging.Info("metrics server starting", zap.String("addr", cfg.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("metrics server failed", zap.Error(err))
		}
	}()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// pathArg returns the single path argument, defaulting to "/".
func pathArg(fs *pflag.FlagSet) (string, error) {
	switch fs.NArg() {
	case 0:
		return "/", nil
	case 1:
		return fs.Arg(0), nil
	}
	return "", fmt.Errorf("expected one path, got %d arguments", fs.NArg())
}
