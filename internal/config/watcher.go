package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"price-tier-alerts/internal/monitor"
)

// Watcher yields a new monitor snapshot when the config file content changed.
// fsnotify marks the file dirty; Poll consumes the mark at cycle boundaries and
// compares content hashes. Poll is meant for a single caller.
type Watcher struct {
	path     string
	revision string
	logger   zerolog.Logger

	fs    *fsnotify.Watcher
	dirty atomic.Bool
	// always is set when no fsnotify watch could be installed; every Poll
	// then rereads the file.
	always bool
	done   chan struct{}
}

// NewWatcher watches path. An empty path yields a watcher that never reports changes.
func NewWatcher(path string, logger zerolog.Logger) *Watcher {
	w := &Watcher{
		path:   path,
		logger: logger.With().Str("component", "config_watcher").Logger(),
		done:   make(chan struct{}),
	}
	if path == "" {
		return w
	}
	w.path = filepath.Clean(path)
	if data, err := os.ReadFile(w.path); err == nil {
		w.revision = Revision(data)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn().Err(err).Msg("file notifications unavailable; rereading config every cycle")
		w.always = true
		return w
	}
	// Editors often replace the file, so the directory is watched.
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		w.logger.Warn().Err(err).Str("path", w.path).Msg("cannot watch config dir; rereading config every cycle")
		w.always = true
		return w
	}
	w.fs = fsw
	go w.loop()
	return w
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				w.logger.Debug().Str("op", event.Op.String()).Msg("config file changed")
				w.dirty.Store(true)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			// Events may have been dropped; force a reread.
			w.logger.Warn().Err(err).Msg("config watch error")
			w.dirty.Store(true)
		}
	}
}

// Close stops the file notifications.
func (w *Watcher) Close() error {
	if w.fs == nil {
		return nil
	}
	close(w.done)
	return w.fs.Close()
}

// Revision is the content hash identifying a config version.
func Revision(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// Current returns the last observed revision.
func (w *Watcher) Current() string {
	return w.revision
}

// Poll returns a snapshot when the file content changed since the last call,
// nil when it did not. Invalid content is reported once as ErrConfigInvalid and
// then treated as seen until the file changes again.
func (w *Watcher) Poll() (*monitor.Snapshot, error) {
	if w.path == "" {
		return nil, nil
	}
	if !w.always && !w.dirty.Swap(false) {
		return nil, nil
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		// Mid-replace; the create event that follows marks it dirty again.
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		// Truncated by a writer that has not finished yet.
		w.dirty.Store(true)
		return nil, nil
	}

	revision := Revision(data)
	if revision == w.revision {
		return nil, nil
	}
	w.revision = revision

	snap, err := parseSnapshot(w.path, data, revision)
	if err != nil {
		return nil, fmt.Errorf("%w: reload %s: %v", monitor.ErrConfigInvalid, filepath.Base(w.path), err)
	}
	return snap, nil
}

func parseSnapshot(path string, data []byte, revision string) (*monitor.Snapshot, error) {
	v := newViper()
	v.SetConfigType(strings.TrimPrefix(filepath.Ext(path), "."))
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, err
	}
	return cfg.Monitor.Snapshot(revision)
}
