package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sammck-go/logger"
)

// Watcher watches a config file's containing directory and republishes a
// freshly loaded RuntimeConfig snapshot to OnChange whenever the file is
// written, renamed onto, or removed-then-recreated (the usual atomic-save
// sequence editors and config-management tools use). It watches the
// directory rather than the file itself so a rename-based atomic save,
// which drops the original inode, is still observed.
type Watcher struct {
	log     logger.Logger
	path    string
	fsw     *fsnotify.Watcher
	OnChange func(*RuntimeConfig)
	OnError  func(error)

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher starts watching path's directory. The caller should set
// OnChange/OnError before any write to path is expected; Close stops the
// watch.
func NewWatcher(log logger.Logger, path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		log:  log.ForkLogStr("config.Watcher"),
		path: path,
		fsw:  fsw,
		stop: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Name != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.log.WLogf("reload %s: %s", w.path, err)
				if w.OnError != nil {
					w.OnError(err)
				}
				continue
			}
			if w.OnChange != nil {
				w.OnChange(cfg)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.WLogf("fsnotify: %s", err)
			if w.OnError != nil {
				w.OnError(err)
			}
		case <-w.stop:
			return
		}
	}
}

// Close stops the watch and releases the underlying fsnotify.Watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	err := w.fsw.Close()
	w.wg.Wait()
	return err
}
