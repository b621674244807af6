// Package importwatch watches a drop directory and feeds page images that
// land there into the ingestion pipeline. It exists for scanner workflows
// that write files to disk instead of calling the upload API.
package importwatch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/inkwell-app/inkwell/ingest"
	"github.com/inkwell-app/inkwell/log"
)

var logger = log.GetLogger("ImportWatch")

// settleDelay coalesces rapid write events while a scanner is still
// streaming a file to disk
const settleDelay = 2 * time.Second

const importOwner = "local"

// imageExtensions limits imports to decodable page scans
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true,
	".gif": true, ".webp": true, ".heic": true,
}

// Watcher monitors the import directory
type Watcher struct {
	dir     string
	service *ingest.Service

	fsw      *fsnotify.Watcher
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates a watcher for dir. The directory is created if missing.
func New(dir string, service *ingest.Service) *Watcher {
	return &Watcher{
		dir:      dir,
		service:  service,
		stopChan: make(chan struct{}),
		timers:   make(map[string]*time.Timer),
	}
}

// Start imports any files already in the directory, then begins watching
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	if err := w.fsw.Add(w.dir); err != nil {
		w.fsw.Close()
		return err
	}

	// Files dropped while the server was down
	w.importExisting()

	w.wg.Add(1)
	go w.eventLoop()

	logger.Info().Str("dir", w.dir).Msg("import watcher started")
	return nil
}

// Stop stops the watcher and cancels pending settle timers
func (w *Watcher) Stop() {
	close(w.stopChan)
	if w.fsw != nil {
		w.fsw.Close()
	}

	w.mu.Lock()
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
	w.mu.Unlock()

	w.wg.Wait()
	logger.Info().Msg("import watcher stopped")
}

// importExisting submits files that are already present at startup
func (w *Watcher) importExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		logger.Error().Err(err).Msg("failed to scan import directory")
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.importFile(filepath.Join(w.dir, entry.Name()))
	}
}

// eventLoop processes filesystem events
func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.queueSettle(event.Name)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Error().Err(err).Msg("watcher error")

		case <-w.stopChan:
			return
		}
	}
}

// queueSettle (re)arms the per-file settle timer so a file is only imported
// once writes to it stop
func (w *Watcher) queueSettle(path string) {
	if !imageExtensions[strings.ToLower(filepath.Ext(path))] {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[path]; ok {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(settleDelay, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		select {
		case <-w.stopChan:
			return
		default:
		}
		w.importFile(path)
	})
}

// importFile reads one dropped file and submits it as a multi-day scan, like
// batch uploads: scanner output is whole notebook pages. The file is removed
// once the pipeline has durably accepted it; duplicates are removed too since
// re-submitting them can never succeed.
func (w *Watcher) importFile(path string) {
	if !imageExtensions[strings.ToLower(filepath.Ext(path))] {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("failed to read import file")
		return
	}

	name := filepath.Base(path)
	entry, err := w.service.Submit(context.Background(), importOwner, data, name, true)
	if err != nil {
		if ingErr := ingest.AsError(err); ingErr != nil && ingErr.Kind == ingest.KindDuplicateContent {
			logger.Info().
				Str("file", name).
				Str("conflict", ingErr.ConflictID).
				Msg("import skipped, duplicate of existing entry")
			os.Remove(path)
			return
		}
		logger.Error().Err(err).Str("file", name).Msg("import failed, leaving file in place")
		return
	}

	os.Remove(path)
	logger.Info().Str("file", name).Str("entry", entry.ID).Msg("file imported")
}
