package hotplug

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// DefaultInputDir is watched by InotifyListener
const DefaultInputDir = inputDir

// InotifyListener watches a device directory instead of udev. Nodes show up as
// arrivals when created and again when udev changes their permissions.
type InotifyListener struct {
	dir     string
	watcher *fsnotify.Watcher
}

// NewInotifyListener creates a listener for dir
func NewInotifyListener(dir string) *InotifyListener {
	return &InotifyListener{dir: dir}
}

// Open starts the watch
func (l *InotifyListener) Open() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	if err := w.Add(l.dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}
	l.watcher = w
	return nil
}

// Run converts create and chmod events to input arrivals
func (l *InotifyListener) Run(ctx context.Context, events chan<- Uevent) error {
	if l.watcher == nil {
		return fmt.Errorf("watch %s: %w", l.dir, ErrListenerClosed)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return ErrListenerClosed
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Chmod) {
				continue
			}
			u := Uevent{
				Action:    ActionAdd,
				Subsystem: inputSubsystem,
				DevName:   ev.Name,
				Env:       map[string]string{"FSNOTIFY": ev.Op.String()},
			}
			select {
			case events <- u:
			case <-ctx.Done():
				return nil
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return ErrListenerClosed
			}
			return fmt.Errorf("watch %s: %w", l.dir, err)
		}
	}
}

// Close stops the watch
func (l *InotifyListener) Close() error {
	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	l.watcher = nil
	return err
}
