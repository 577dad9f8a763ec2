package viewer

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watcher reports changed model files. Events arrive on the fsnotify
// goroutine and are queued for the update loop; nothing is reloaded here.
type watcher struct {
	fs      *fsnotify.Watcher
	log     *zap.Logger
	changed chan string
	done    chan struct{}
	wg      sync.WaitGroup

	mu    sync.Mutex
	files map[string]int // watched file -> references
	dirs  map[string]int // watched directory -> references
}

func newWatcher(log *zap.Logger) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &watcher{
		fs:      fsw,
		log:     log,
		changed: make(chan string, 16),
		done:    make(chan struct{}),
		files:   make(map[string]int),
		dirs:    make(map[string]int),
	}
	w.wg.Add(1)
	go w.start()
	return w, nil
}

// add watches file. The parent directory is watched so editors that replace
// the file are noticed.
func (w *watcher) add(file string) error {
	file = filepath.Clean(file)
	dir := filepath.Dir(file)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirs[dir] == 0 {
		if err := w.fs.Add(dir); err != nil {
			return err
		}
	}
	w.dirs[dir]++
	w.files[file]++
	return nil
}

func (w *watcher) remove(file string) {
	file = filepath.Clean(file)
	dir := filepath.Dir(file)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.files[file] == 0 {
		return
	}
	if w.files[file]--; w.files[file] == 0 {
		delete(w.files, file)
	}
	if w.dirs[dir]--; w.dirs[dir] == 0 {
		delete(w.dirs, dir)
		_ = w.fs.Remove(dir)
	}
}

func (w *watcher) watched(file string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files[file] > 0
}

func (w *watcher) start() {
	defer w.wg.Done()
	for {
		select {
		case e, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Clean(e.Name)
			if !w.watched(name) {
				continue
			}
			select {
			case w.changed <- name:
			default:
				// Queue full: reloads are already pending.
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Error("file watch", zap.Error(err))
		case <-w.done:
			return
		}
	}
}

// drain returns the distinct files changed since the last call.
func (w *watcher) drain() []string {
	seen := make(map[string]bool)
	var out []string
	for {
		select {
		case f := <-w.changed:
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		default:
			return out
		}
	}
}

func (w *watcher) close() error {
	close(w.done)
	err := w.fs.Close()
	w.wg.Wait()
	return err
}
