package corpus

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher notifies about files dropped into a corpus directory, so an
// operator can inject new candidates into a running shrink.
type Watcher struct {
	logger *zap.Logger
}

func NewWatcher(logger *zap.Logger) *Watcher {
	return &Watcher{logger: logger.Named("watchdog")}
}

// Watch monitors dir for file creation and sends the created paths on the
// returned channel until ctx is done. The channel is closed when watching
// stops.
func (w *Watcher) Watch(ctx context.Context, dir string) (<-chan string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(absDir); err != nil {
		watcher.Close()
		return nil, err
	}

	notifyChan := make(chan string, 64)
	go w.watch(ctx, watcher, notifyChan)

	w.logger.Debug("watching directory", zap.String("dir", absDir))
	return notifyChan, nil
}

func (w *Watcher) watch(ctx context.Context, watcher *fsnotify.Watcher, notifyChan chan<- string) {
	defer watcher.Close()
	defer close(notifyChan)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				w.logger.Debug("fsnotify channel closed")
				return
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				w.logger.Debug("file created", zap.String("file", event.Name))
				select {
				case notifyChan <- event.Name:
				case <-ctx.Done():
					return
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error", zap.Error(err))
		}
	}
}
