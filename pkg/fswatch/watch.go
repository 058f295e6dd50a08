package fswatch

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/syncwatch/pkg/errors"
	"github.com/sidkik/syncwatch/pkg/report"
)

var fs = afero.NewOsFs()

// Op is the kind of change that happened to a path.
type Op int

const (
	// Created means the path was created.
	Created Op = iota + 1
	// Modified means the contents of the path changed.
	Modified
	// Deleted means the path was removed.
	Deleted
	// Renamed means the path was renamed or moved away.
	Renamed
)

func (op Op) String() string {
	switch op {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Event is a change to a single path within a watched tree.
type Event struct {
	Path string
	Op   Op
}

// Source watches directory trees for changes.
type Source interface {
	// Subscribe starts watching the tree rooted at `path`, including all
	// subdirectories.
	Subscribe(path string) (Subscription, error)
}

// Subscription is a running watch on a tree.
type Subscription interface {
	// Events returns the changes within the tree. The channel is closed
	// once the subscription is closed.
	Events() <-chan Event

	// Close stops watching. No events are sent once Close returns.
	Close() error
}

// eventBufferSize bounds how far the watcher can get ahead of the consumer
// before it blocks.
const eventBufferSize = 64

type source struct{}

// NewSource returns a Source backed by the operating system's file
// notification API.
func NewSource() Source {
	return source{}
}

type subscription struct {
	root    string
	watcher *fsnotify.Watcher
	events  chan Event
	done    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

func (source) Subscribe(root string) (Subscription, error) {
	dirs, err := getDirsToWatch(root)
	if err != nil {
		return nil, errors.WithContext(err, "get directories")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WithContext(err, "create watcher")
	}

	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			// Close the watcher so that we release the file handles for the
			// previously added paths.
			if err := watcher.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}

			return nil, errors.WithContext(err, fmt.Sprintf("watch %q", dir))
		}
	}

	sub := &subscription{
		root:    root,
		watcher: watcher,
		events:  make(chan Event, eventBufferSize),
		done:    make(chan struct{}),
	}
	sub.wg.Add(1)
	go sub.run()
	return sub, nil
}

func (sub *subscription) Events() <-chan Event {
	return sub.events
}

func (sub *subscription) Close() error {
	sub.closeOnce.Do(func() {
		close(sub.done)
		sub.closeErr = sub.watcher.Close()
		sub.wg.Wait()
		close(sub.events)
	})
	return sub.closeErr
}

func (sub *subscription) run() {
	defer sub.wg.Done()
	defer report.HandlePanic()

	for {
		select {
		case <-sub.done:
			return
		case fsEvent, ok := <-sub.watcher.Events:
			if !ok {
				return
			}

			event, ok := translate(fsEvent)
			if !ok {
				continue
			}

			// fsnotify doesn't watch recursively, so new directories have
			// to be added as they appear.
			if event.Op == Created {
				sub.watchNewDir(event.Path)
			}

			select {
			case sub.events <- event:
			case <-sub.done:
				return
			}
		case err, ok := <-sub.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).WithField("path", sub.root).Warn("File watcher error")
		}
	}
}

func (sub *subscription) watchNewDir(path string) {
	fi, err := fs.Stat(path)
	if err != nil || !fi.IsDir() {
		return
	}

	dirs, err := getDirsToWatch(path)
	if err != nil {
		log.WithError(err).WithField("path", path).Warn("Failed to list new directory")
		return
	}

	for _, dir := range dirs {
		if err := sub.watcher.Add(dir); err != nil {
			log.WithError(err).WithField("path", dir).Warn("Failed to watch new directory")
		}
	}
}

// translate converts the fsnotify event into an Event. Changes that don't
// affect the contents of the tree, such as permission changes, are dropped.
func translate(event fsnotify.Event) (Event, bool) {
	var op Op
	switch {
	case event.Has(fsnotify.Create):
		op = Created
	case event.Has(fsnotify.Write):
		op = Modified
	case event.Has(fsnotify.Remove):
		op = Deleted
	case event.Has(fsnotify.Rename):
		op = Renamed
	default:
		return Event{}, false
	}
	return Event{Path: event.Name, Op: op}, true
}

// getDirsToWatch returns `root` and all directories beneath it. Because
// fsnotify doesn't watch directories recursively, each one has to be added
// individually.
func getDirsToWatch(root string) (dirs []string, err error) {
	fi, err := fs.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound{Path: root}
		}
		return nil, errors.WithContext(err, "stat")
	}

	if !fi.IsDir() {
		return nil, errors.InvalidPath{Path: root, Reason: "not a directory"}
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
