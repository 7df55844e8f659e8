package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Watcher watches a configuration file and calls its handlers with a freshly
// loaded config each time the file changes.
type Watcher[T any] struct {
	path     string
	debounce time.Duration
	loader   func(path string) (T, error)
	handlers []func(T)
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

type WatcherOption[T any] func(*Watcher[T])

// WithDebounce sets how long the file has to be quiet before it's reloaded.
// Default is 500ms.
func WithDebounce[T any](d time.Duration) WatcherOption[T] {
	return func(w *Watcher[T]) {
		w.debounce = d
	}
}

func NewWatcher[T any](path string, loader func(path string) (T, error), opts ...WatcherOption[T]) *Watcher[T] {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher[T]{
		path:     filepath.Clean(path),
		debounce: 500 * time.Millisecond,
		loader:   loader,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnReload registers a handler. Handlers run on the watcher's goroutine.
func (w *Watcher[T]) OnReload(handler func(T)) {
	w.mu.Lock()
	w.handlers = append(w.handlers, handler)
	w.mu.Unlock()
}

func (w *Watcher[T]) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "couldn't create file watcher")
	}
	// Watch the directory. A save that renames a new file over this one drops
	// any watch on the file itself.
	_, err = os.Stat(w.path)
	if err != nil {
		watcher.Close() // Ignore error
		return errors.Wrapf(err, "couldn't watch %s", w.path)
	}
	err = watcher.Add(filepath.Dir(w.path))
	if err != nil {
		watcher.Close() // Ignore error
		return errors.Wrapf(err, "couldn't watch %s", w.path)
	}
	w.watcher = watcher
	log.WithFields(log.Fields{"path": w.path, "debounce": w.debounce}).Info("Config watcher started")
	go w.watch()
	return nil
}

func (w *Watcher[T]) Stop() error {
	w.cancel()
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher[T]) watch() {
	defer close(w.done)
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			// Some editors replace the file rather than writing it.
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				log.WithField("op", event.Op.String()).Debug("Config file change detected")
				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			}

		case <-timerC:
			timerC = nil
			w.loadAndNotify()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("Config watcher error")
		}
	}
}

func (w *Watcher[T]) loadAndNotify() {
	config, err := w.loader(w.path)
	if err != nil {
		log.WithError(err).Warn("Couldn't reload config")
		return
	}
	log.Info("Config file changed, applying")
	w.mu.RLock()
	handlers := append([]func(T){}, w.handlers...)
	w.mu.RUnlock()
	for _, handler := range handlers {
		handler(config)
	}
}
