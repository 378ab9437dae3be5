package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("prompt")

// Section file names inside the prompt directory.
const (
	policyFile = "policy.txt"
	roleFile   = "role.txt"
	resumeFile = "resume.txt"
	openerFile = "opener.txt"
)

// Loader reads the prompt sections from a directory and keeps them
// current via fsnotify. Sessions snapshot the composed prompt at start;
// edits only affect sessions started afterwards.
type Loader struct {
	dir     string
	watcher *fsnotify.Watcher

	mu       sync.RWMutex
	sections Sections

	closeOnce sync.Once
	closed    chan struct{}
}

// NewLoader creates the prompt directory if needed, loads the current
// sections and starts watching for changes.
func NewLoader(dir string) (*Loader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create prompt dir %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch prompt dir %s: %w", dir, err)
	}

	l := &Loader{
		dir:     dir,
		watcher: watcher,
		closed:  make(chan struct{}),
	}
	l.reload()
	go l.watch()
	return l, nil
}

// Sections returns the current prompt sections.
func (l *Loader) Sections() Sections {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sections
}

// Close stops the watcher. Idempotent.
func (l *Loader) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.watcher.Close()
	})
	return err
}

func (l *Loader) watch() {
	for {
		select {
		case <-l.closed:
			return
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			log.Debugf("prompt: %s changed, reloading", filepath.Base(ev.Name))
			l.reload()
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("prompt watcher: %v", err)
		}
	}
}

func (l *Loader) reload() {
	s := Sections{
		Policy: l.readSection(policyFile),
		Role:   l.readSection(roleFile),
		Resume: l.readSection(resumeFile),
		Opener: l.readSection(openerFile),
	}

	l.mu.Lock()
	l.sections = s
	l.mu.Unlock()
}

// readSection returns the file contents, or "" when the file is absent.
func (l *Loader) readSection(name string) string {
	b, err := os.ReadFile(filepath.Join(l.dir, name))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("prompt: read %s: %v", name, err)
		}
		return ""
	}
	return string(b)
}
