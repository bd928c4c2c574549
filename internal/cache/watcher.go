package cache

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes cache folders for status record changes written by
// other processes. The scheduler combines it with a polling ticker, so a
// missed filesystem event delays observation instead of losing it.
type Watcher struct {
	fs      *fsnotify.Watcher
	changes chan string
	done    chan struct{}
}

// NewWatcher starts a cache folder watcher. Changes() delivers the path of
// every status record that is created or rewritten under a watched folder.
func NewWatcher() (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fs:      fs,
		changes: make(chan string, 64),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Add starts watching one cache folder. Adding the same folder twice is a
// no-op at the fsnotify level.
func (w *Watcher) Add(dir string) error {
	return w.fs.Add(dir)
}

// Changes returns the channel of changed status record paths.
func (w *Watcher) Changes() <-chan string {
	return w.changes
}

// Close stops the watcher and closes the Changes channel.
func (w *Watcher) Close() error {
	err := w.fs.Close()
	<-w.done
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	defer close(w.changes)
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Base(ev.Name)
			if !strings.HasPrefix(name, "status.") && name != manifestName {
				continue
			}
			select {
			case w.changes <- ev.Name:
			default:
				// Channel full: the polling fallback will catch up.
			}
		case _, ok := <-w.fs.Errors:
			if !ok {
				return
			}
		}
	}
}
