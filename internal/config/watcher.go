package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/opengate-ai/opengate/internal/event"
	"github.com/opengate-ai/opengate/internal/logging"
	"github.com/opengate-ai/opengate/internal/permission"
)

// debounceInterval coalesces the event bursts editors produce when saving
// (truncate + write, or write-to-temp + rename).
const debounceInterval = 200 * time.Millisecond

// ChangeFunc receives the freshly re-resolved configuration after a settings
// file changes on disk.
type ChangeFunc func(mode permission.Mode, allow, deny []permission.Rule)

// Watcher watches the user and project settings files and re-resolves
// configuration when they change.
type Watcher struct {
	watcher  *fsnotify.Watcher
	workdir  string
	onChange ChangeFunc

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool

	mu       sync.Mutex
	debounce *time.Timer
}

// NewWatcher creates a watcher for the given working directory. Directories
// that do not exist yet are skipped; a settings file created later in a
// watched directory is still picked up.
func NewWatcher(workdir string, onChange ChangeFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch directories rather than files: the settings files may not exist
	// yet, and most editors replace files on save.
	for _, dir := range []string{UserConfigDir(), ProjectDir(workdir)} {
		if err := fw.Add(dir); err != nil {
			logging.Debug().Err(err).Str("dir", dir).Msg("settings directory not watchable")
		}
	}

	return &Watcher{
		watcher:  fw,
		workdir:  workdir,
		onChange: onChange,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isSettingsFile(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.scheduleReload(ev.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error().Err(err).Msg("settings watcher error")
		}
	}
}

func (w *Watcher) scheduleReload(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(debounceInterval, func() {
		w.reload(path)
	})
}

func (w *Watcher) reload(path string) {
	mode, allow, deny := Resolve(w.workdir)

	logging.Info().
		Str("path", path).
		Str("mode", string(mode)).
		Int("allow", len(allow)).
		Int("deny", len(deny)).
		Msg("settings reloaded")

	event.PublishSync(event.Event{
		Type: event.ConfigChanged,
		Data: event.ConfigChangedData{Path: path},
	})
	if w.onChange != nil {
		w.onChange(mode, allow, deny)
	}
}

// Stop stops the watcher and waits for the run loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	if started {
		<-w.doneCh
	}
	return w.watcher.Close()
}

func isSettingsFile(path string) bool {
	switch filepath.Base(path) {
	case "settings.json", "settings.local.json":
		return true
	}
	return false
}
