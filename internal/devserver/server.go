// Package devserver serves the publish path over HTTP, watches the source
// tree and tells open pages to reload after each successful rebuild.
package devserver

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Paths served alongside the publish directory.
const (
	ClientPath = "/__livereload.js"
	SocketPath = "/__livereload"
)

// DefaultDebounce coalesces bursts of file events into one rebuild.
const DefaultDebounce = 100 * time.Millisecond

//go:embed livereload.js
var clientJS []byte

// RebuildFunc rebuilds the project. A nil error triggers a reload.
type RebuildFunc func(ctx context.Context) error

// Server is the development server.
type Server struct {
	// Addr is the listen address, e.g. "localhost:8080".
	Addr string

	// PublishDir is served at the site root.
	PublishDir string

	// WatchDir is watched recursively for changes.
	WatchDir string

	Rebuild  RebuildFunc
	Debounce time.Duration
	Logger   *slog.Logger

	hubOnce sync.Once
	hub     *Hub
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Hub returns the server's live-reload hub, creating it on first use.
func (s *Server) Hub() *Hub {
	s.hubOnce.Do(func() { s.hub = NewHub(s.logger()) })
	return s.hub
}

// Handler serves the live-reload endpoints and the publish directory.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(ClientPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(clientJS)
	})
	mux.Handle(SocketPath, s.Hub())
	files := http.FileServer(http.Dir(s.PublishDir))
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		files.ServeHTTP(w, r)
	}))
	return mux
}

// ListenAndServe serves and watches until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln and watches WatchDir until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	watchErr := make(chan error, 1)
	if s.WatchDir != "" {
		go func() { watchErr <- s.Watch(ctx) }()
	}

	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()
	s.logger().Info("dev server listening", "url", "http://"+ln.Addr().String())

	select {
	case <-ctx.Done():
	case err := <-watchErr:
		if err != nil {
			srv.Close()
			return err
		}
		<-ctx.Done()
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	s.Hub().Close()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	return srv.Shutdown(shutdownCtx)
}

// Watch rebuilds after changes under WatchDir until ctx is cancelled.
// Events arriving within Debounce of each other trigger a single rebuild.
func (s *Server) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := addRecursive(w, s.WatchDir); err != nil {
		return err
	}

	debounce := s.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	timer := time.NewTimer(debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ignored(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addRecursive(w, ev.Name); err != nil {
						s.logger().Warn("watching new directory failed", "dir", ev.Name, "error", err)
					}
				}
			}
			s.logger().Debug("source changed", "path", ev.Name, "op", ev.Op.String())
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger().Warn("watcher error", "error", err)
		case <-timer.C:
			s.rebuild(ctx)
		}
	}
}

func (s *Server) rebuild(ctx context.Context) {
	if s.Rebuild == nil {
		s.Hub().Broadcast(ReloadMessage)
		return
	}
	start := time.Now()
	if err := s.Rebuild(ctx); err != nil {
		s.logger().Error("rebuild failed", "error", err)
		return
	}
	s.logger().Info("rebuilt", "duration", time.Since(start), "clients", s.Hub().Len())
	s.Hub().Broadcast(ReloadMessage)
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && ignored(path) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

// ignored filters editor swap files and hidden entries.
func ignored(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp")
}
