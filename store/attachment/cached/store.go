// Package cached keeps a local disk copy of attachment content.
//
// Attachment URIs name immutable objects, so content read once through the
// wrapped source is served from disk until its TTL passes. Only content that
// was read to the end is kept.
package cached

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rbaliyan/campusmail/store"
)

const tmpPrefix = "tmp-"

// Source wraps a store.AttachmentSource with a disk cache.
type Source struct {
	backend store.AttachmentSource
	dir     string
	maxSize int64
	ttl     time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	size int64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ store.AttachmentSource = (*Source)(nil)

// New creates the cache directory and starts the expiry loop.
// Call Close to stop it.
func New(backend store.AttachmentSource, opts ...Option) (*Source, error) {
	o := &options{
		dir:     os.TempDir(),
		maxSize: DefaultMaxSize,
		ttl:     DefaultTTL,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	dir := filepath.Join(o.dir, "campusmail-attachments")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	s := &Source{
		backend: backend,
		dir:     dir,
		maxSize: o.maxSize,
		ttl:     o.ttl,
		logger:  o.logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.size = s.scan()

	go s.expireLoop()
	return s, nil
}

// Open serves uri from disk when a fresh copy exists and from the wrapped
// source otherwise.
func (s *Source) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	path := s.path(uri)

	if info, err := os.Stat(path); err == nil {
		if time.Since(info.ModTime()) < s.ttl {
			if f, err := os.Open(path); err == nil {
				s.logger.Debug("attachment cache hit", "uri", uri)
				return f, nil
			}
		} else {
			s.remove(path, info.Size())
		}
	}

	rc, err := s.backend.Open(ctx, uri)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(s.dir, tmpPrefix+"*")
	if err != nil {
		s.logger.Warn("attachment cache unavailable", "error", err)
		return rc, nil
	}
	return &teeReader{src: rc, tmp: tmp, dest: path, cache: s}, nil
}

// Prune removes expired files and returns how many were removed.
func (s *Source) Prune() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("read attachment cache", "error", err)
		return 0
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || time.Since(info.ModTime()) < s.ttl {
			continue
		}
		if s.remove(filepath.Join(s.dir, e.Name()), info.Size()) {
			removed++
		}
	}
	return removed
}

// Size returns the bytes currently cached.
func (s *Source) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Close stops the expiry loop. Cached files stay on disk.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
	return nil
}

func (s *Source) expireLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.Prune(); n > 0 {
				s.logger.Info("attachment cache pruned", "removed", n)
			}
		}
	}
}

func (s *Source) path(uri string) string {
	h := sha256.Sum256([]byte(uri))
	return filepath.Join(s.dir, hex.EncodeToString(h[:]))
}

func (s *Source) scan() int64 {
	var size int64
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tmpPrefix) {
			_ = os.Remove(filepath.Join(s.dir, e.Name()))
			continue
		}
		if info, err := e.Info(); err == nil && !e.IsDir() {
			size += info.Size()
		}
	}
	return size
}

func (s *Source) remove(path string, size int64) bool {
	if err := os.Remove(path); err != nil {
		return false
	}
	s.mu.Lock()
	s.size = max(s.size-size, 0)
	s.mu.Unlock()
	return true
}

// reserve claims n bytes of cache space.
func (s *Source) reserve(n int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.size+n > s.maxSize {
		return false
	}
	s.size += n
	return true
}

// teeReader copies what the caller reads into a temp file and moves it into
// place on Close if the content was read to EOF.
type teeReader struct {
	src   io.ReadCloser
	tmp   *os.File
	dest  string
	cache *Source

	n        int64
	complete bool
	failed   bool
	closed   bool
}

func (r *teeReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 && !r.failed {
		if _, werr := r.tmp.Write(p[:n]); werr != nil {
			r.failed = true
		}
		r.n += int64(n)
	}
	if errors.Is(err, io.EOF) {
		r.complete = true
	}
	return n, err
}

func (r *teeReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	err := r.src.Close()
	tmpName := r.tmp.Name()
	if cerr := r.tmp.Close(); cerr != nil {
		r.failed = true
	}

	if !r.complete || r.failed || err != nil || !r.cache.reserve(r.n) {
		_ = os.Remove(tmpName)
		return err
	}
	if rerr := os.Rename(tmpName, r.dest); rerr != nil {
		_ = os.Remove(tmpName)
		r.cache.mu.Lock()
		r.cache.size -= r.n
		r.cache.mu.Unlock()
		r.cache.logger.Warn("attachment cache write failed", "error", rerr)
	}
	return err
}
