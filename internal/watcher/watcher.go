// Package watcher watches inbox spool directories and hands each settled
// mail file to a callback.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultSettle = 400 * time.Millisecond

// Handler receives the path of a mail file that stopped changing.
type Handler func(ctx context.Context, path string)

// Spool watches directories for new mail files. Writes are debounced so a
// file is handled once its writer is done with it.
type Spool struct {
	roots      []string
	extensions []string
	recursive  bool
	handle     Handler
	settle     time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	ctx     context.Context
	pending map[string]*time.Timer
	done    chan struct{}
	started bool
	once    sync.Once
}

// Option configures a Spool.
type Option func(*Spool)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Spool) { s.logger = l }
}

// WithSettle sets how long a file must be quiet before it is handled.
func WithSettle(d time.Duration) Option {
	return func(s *Spool) {
		if d > 0 {
			s.settle = d
		}
	}
}

// New creates a spool over roots. Only files whose extension is listed are
// handled; an empty list accepts every file.
func New(roots, extensions []string, recursive bool, handle Handler, opts ...Option) *Spool {
	s := &Spool{
		roots:      roots,
		extensions: extensions,
		recursive:  recursive,
		handle:     handle,
		settle:     defaultSettle,
		logger:     zap.NewNop(),
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins watching. Missing roots are created. It returns once the
// watches are in place; events are handled until ctx ends or Stop is called.
func (s *Spool) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	s.fsw = fsw
	for _, root := range s.roots {
		if err := s.watchRoot(root); err != nil {
			_ = fsw.Close()
			s.fsw = nil
			return err
		}
	}
	s.ctx = ctx
	s.started = true
	s.logger.Info("inbox spool watching",
		zap.Strings("roots", s.roots),
		zap.Strings("extensions", s.extensions),
		zap.Bool("recursive", s.recursive))
	go s.run(ctx, fsw)
	return nil
}

func (s *Spool) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-s.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			s.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			s.logger.Warn("spool watch error", zap.Error(err))
		}
	}
}

func (s *Spool) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if !s.underRoot(path) || skipped(path) {
		return
	}
	s.logger.Debug("spool event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			s.newDirectory(path)
			return
		}
		if matchExtension(path, s.extensions) {
			s.schedule(path)
		}
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		s.cancel(path)
	}
}

// newDirectory watches a directory created under a recursive root and
// handles the files already in it.
func (s *Spool) newDirectory(dir string) {
	if !s.recursive {
		return
	}
	s.mu.Lock()
	fsw := s.fsw
	s.mu.Unlock()
	if fsw == nil {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		if err := fsw.Add(path); err != nil {
			s.logger.Warn("spool cannot watch directory", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
	s.scan(dir)
}

func (s *Spool) underRoot(path string) bool {
	clean := filepath.Clean(path)
	for _, root := range s.roots {
		if inDir(filepath.Clean(root), clean) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// skipped reports dotfiles and anything inside a Maildir-style tmp directory,
// both of which are still being written.
func skipped(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return true
	}
	return filepath.Base(filepath.Dir(path)) == "tmp"
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func (s *Spool) schedule(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[path]; ok {
		t.Stop()
	}
	s.pending[path] = time.AfterFunc(s.settle, func() {
		s.mu.Lock()
		delete(s.pending, path)
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}
		s.handle(ctx, path)
	})
}

func (s *Spool) cancel(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[path]; ok {
		t.Stop()
		delete(s.pending, path)
	}
}

func (s *Spool) watchRoot(root string) error {
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	if !s.recursive {
		return s.fsw.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		return s.fsw.Add(path)
	})
}

// scan hands every matching file below root to the handler.
func (s *Spool) scan(root string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return
	}
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && !s.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !skipped(path) && matchExtension(path, s.extensions) {
			s.handle(ctx, path)
		}
		return nil
	})
}

// ScanExisting handles the files already present in every root. Call it
// after Start to pick up mail that arrived while the server was down.
func (s *Spool) ScanExisting() {
	for _, root := range s.roots {
		s.scan(filepath.Clean(root))
	}
}

// Directories returns the watched roots.
func (s *Spool) Directories() []string {
	return append([]string(nil), s.roots...)
}

// Stop ends watching and drops pending files.
func (s *Spool) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	for path, t := range s.pending {
		t.Stop()
		delete(s.pending, path)
	}
	_ = s.fsw.Close()
	s.fsw = nil
	s.started = false
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}
