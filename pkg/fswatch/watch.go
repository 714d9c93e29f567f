package fswatch

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/fpbattaglia/datasets/pkg/errors"
)

var fs = afero.NewOsFs()

// Watcher reports changes anywhere under a directory tree.
type Watcher struct {
	watcher *fsnotify.Watcher
	events  chan struct{}
}

// Watch watches `root` and every directory below it. Directories created
// after the watch starts are watched as well.
func Watch(root string) (*Watcher, error) {
	dirs, err := getDirsToWatch(root)
	if err != nil {
		return nil, errors.WithContext(err, "get paths")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WithContext(err, "create watcher")
	}

	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			// Close the watcher so that we release the file handlers for the
			// previously added paths.
			if err := watcher.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}

			return nil, errors.WithContext(err, fmt.Sprintf("watch %q", dir))
		}
	}

	w := &Watcher{watcher: watcher}
	w.events = combineUpdates(watcher.Events, w.watchNewDirs)
	go logErrors(watcher.Errors)
	return w, nil
}

// Events receives a value after one or more changes. Bursts of changes are
// coalesced. The channel is closed when the watcher is closed.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) watchNewDirs(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) {
		return
	}

	fi, err := fs.Stat(event.Name)
	if err != nil || !fi.IsDir() {
		return
	}

	dirs, err := getDirsToWatch(event.Name)
	if err != nil {
		log.WithError(err).WithField("path", event.Name).Warn("Failed to watch new directory")
		return
	}
	for _, dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			log.WithError(err).WithField("path", dir).Warn("Failed to watch new directory")
		}
	}
}

func combineUpdates(updates <-chan fsnotify.Event, onEvent func(fsnotify.Event)) chan struct{} {
	combined := make(chan struct{}, 1)
	go func() {
		defer close(combined)
		for event := range updates {
			if onEvent != nil {
				onEvent(event)
			}

			select {
			case combined <- struct{}{}:
			default:
			}
		}
	}()
	return combined
}

func logErrors(errs <-chan error) {
	for err := range errs {
		log.WithError(err).Warn("File watcher error")
	}
}

// getDirsToWatch returns `root` and the directories below it. fsnotify
// doesn't watch recursively, but watching a directory covers the files
// directly inside it.
func getDirsToWatch(root string) (dirs []string, err error) {
	if _, err := fs.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: root}
		}
		return nil, errors.WithContext(err, "stat")
	}

	err = afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk error")
		}

		if fi.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs, err
}
