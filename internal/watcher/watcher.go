package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/forPelevin/segrecap/internal/logger"
)

// Handler processes one newly created video file.
type Handler func(ctx context.Context, path string) error

type Options struct {
	// MaxConcurrent bounds how many files are processed at once.
	MaxConcurrent int
	// Settle is how long a file's size must stay unchanged before it is
	// considered fully written.
	Settle time.Duration
}

var videoExts = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true,
	".webm": true, ".m4v": true, ".flv": true,
}

type Watcher struct {
	dir     string
	handler Handler
	log     logger.Logger
	fsw     *fsnotify.Watcher
	opts    Options

	sem chan struct{}
	wg  sync.WaitGroup

	mu   sync.Mutex
	seen map[string]bool
}

func New(dir string, handler Handler, log logger.Logger, opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("add watch path: %w", err)
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.Settle <= 0 {
		opts.Settle = 500 * time.Millisecond
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Watcher{
		dir:     dir,
		handler: handler,
		log:     log,
		fsw:     fsw,
		opts:    opts,
		sem:     make(chan struct{}, opts.MaxConcurrent),
		seen:    make(map[string]bool),
	}, nil
}

// Start blocks until ctx is cancelled and in-flight files are finished.
func (w *Watcher) Start(ctx context.Context) error {
	w.log.Info(ctx, "watching %s (max concurrent: %d)", w.dir, w.opts.MaxConcurrent)
	for {
		select {
		case <-ctx.Done():
			w.log.Info(ctx, "waiting for ongoing runs to complete")
			w.wg.Wait()
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				w.wg.Wait()
				return fmt.Errorf("watcher events channel closed")
			}
			if !ev.Has(fsnotify.Create) {
				continue
			}
			if !IsVideo(ev.Name) {
				w.log.Debug(ctx, "ignoring non-video file: %s", ev.Name)
				continue
			}
			if !w.claim(ev.Name) {
				continue
			}
			w.log.Info(ctx, "new video detected: %s", ev.Name)

			w.wg.Add(1)
			go func(path string) {
				defer w.wg.Done()
				defer w.release(path)
				select {
				case w.sem <- struct{}{}:
				case <-ctx.Done():
					return
				}
				defer func() { <-w.sem }()
				if err := waitSettled(ctx, path, w.opts.Settle); err != nil {
					w.log.Warn(ctx, "skip %s: %v", path, err)
					return
				}
				if err := w.handler(ctx, path); err != nil {
					w.log.Error(ctx, "failed to process %s: %v", path, err)
				}
			}(ev.Name)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				w.wg.Wait()
				return fmt.Errorf("watcher errors channel closed")
			}
			w.log.Error(ctx, "watcher error: %v", err)
		}
	}
}

func (w *Watcher) Stop() error {
	return w.fsw.Close()
}

// claim reports whether path is not already being processed.
func (w *Watcher) claim(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen[path] {
		return false
	}
	w.seen[path] = true
	return true
}

// release lets a file dropped again under the same name be processed.
func (w *Watcher) release(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.seen, path)
}

func IsVideo(path string) bool {
	return videoExts[strings.ToLower(filepath.Ext(path))]
}

// maxEmptyChecks bounds how long a zero-byte file is waited on.
const maxEmptyChecks = 10

var errEmptyFile = errors.New("file stayed empty")

// waitSettled polls the file size until it stops changing for one interval.
// A file that is still empty after maxEmptyChecks polls is rejected.
func waitSettled(ctx context.Context, path string, interval time.Duration) error {
	last := int64(-1)
	empty := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		fi, err := os.Stat(path)
		if err != nil {
			return err
		}
		size := fi.Size()
		if size == 0 {
			empty++
			if empty >= maxEmptyChecks {
				return errEmptyFile
			}
		} else if size == last {
			return nil
		}
		last = size
	}
}
