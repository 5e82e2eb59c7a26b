// filename: internal/rules/watcher.go
package rules

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ndrsec/ndrsec/internal/common/logging"
)

// Watcher отслеживает изменения каталога правил и дергает перезагрузку.
// Всплески событий файловой системы гасятся дебаунсом: редакторы
// пишут файлы в несколько приемов.
type Watcher struct {
	dir      string
	debounce time.Duration
	onChange func()
	logger   *logging.Logger

	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWatcher создает наблюдатель каталога правил // v1.0
func NewWatcher(dir string, debounce time.Duration, onChange func(), logger *logging.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fs watcher: %w", err)
	}
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch rules directory %s: %w", dir, err)
	}

	return &Watcher{
		dir:      dir,
		debounce: debounce,
		onChange: onChange,
		logger:   logger,
		watcher:  fsWatcher,
		stopChan: make(chan struct{}),
	}, nil
}

// Start запускает цикл наблюдения // v1.0
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.run()
	w.logger.WithField("dir", w.dir).Info("Rules directory watcher started")
}

// Stop останавливает наблюдатель // v1.0
func (w *Watcher) Stop() {
	close(w.stopChan)
	w.watcher.Close()
	w.wg.Wait()
	w.logger.Info("Rules directory watcher stopped")
}

// run собирает события файловой системы и дергает перезагрузку после паузы // v1.0
func (w *Watcher) run() {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			w.logger.WithField("dir", w.dir).Info("Rules directory changed, reloading")
			w.onChange()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("Rules directory watch error")

		case <-w.stopChan:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// relevant отбирает события по YAML-файлам // v1.0
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	ext := filepath.Ext(event.Name)
	return ext == ".yaml" || ext == ".yml"
}
