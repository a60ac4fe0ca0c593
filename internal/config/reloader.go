package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DescriptorWatcher watches the descriptor file named in PipelineConfig
// for changes and reloads it without restarting the process, adapted
// from the teacher's pkg/hotreload.ConfigReloader: same fsnotify watch +
// debounce + content-hash-skip discipline, trimmed to a single file with
// no backup/webhook machinery.
type DescriptorWatcher struct {
	path            string
	debounce        time.Duration
	logger          *logrus.Logger
	onChange        func(*Descriptors)
	onError         func(error)

	watcher *fsnotify.Watcher
	stop    chan struct{}
	wg      sync.WaitGroup

	mu           sync.Mutex
	currentHash  string
	current      *Descriptors
}

// NewDescriptorWatcher constructs a watcher for the descriptor file at
// path. onChange is invoked with the freshly-loaded Descriptors whenever
// its content hash changes; onError is invoked (non-fatally) on reload
// failure, leaving the previously-loaded Descriptors in effect.
func NewDescriptorWatcher(path string, logger *logrus.Logger, onChange func(*Descriptors), onError func(error)) (*DescriptorWatcher, error) {
	initial, err := LoadDescriptors(path)
	if err != nil {
		return nil, err
	}

	w := &DescriptorWatcher{
		path:     path,
		debounce: 500 * time.Millisecond,
		logger:   logger,
		onChange: onChange,
		onError:  onError,
		stop:     make(chan struct{}),
		current:  initial,
	}
	w.currentHash = hashDescriptorFile(path)

	ApplyAuthorityOverrides(initial)
	return w, nil
}

// Current returns the most recently loaded Descriptors.
func (w *DescriptorWatcher) Current() *Descriptors {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Start begins watching the descriptor file's directory for changes.
// Watching the containing directory, not the file itself, survives
// editors that replace the file via rename instead of in-place write.
func (w *DescriptorWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating descriptor file watcher: %w", err)
	}
	if err := watcher.Add(dirOf(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching descriptor directory: %w", err)
	}
	w.watcher = watcher

	w.wg.Add(1)
	go w.loop()

	w.logger.WithField("file", w.path).Info("watching source descriptor file for changes")
	return nil
}

// Stop stops watching and releases the underlying fsnotify watcher.
func (w *DescriptorWatcher) Stop() error {
	close(w.stop)
	w.wg.Wait()
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

func (w *DescriptorWatcher) loop() {
	defer w.wg.Done()

	var debounceTimer *time.Timer
	for {
		select {
		case <-w.stop:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("descriptor file watcher error")
		}
	}
}

func (w *DescriptorWatcher) reload() {
	newHash := hashDescriptorFile(w.path)

	w.mu.Lock()
	unchanged := newHash != "" && newHash == w.currentHash
	w.mu.Unlock()
	if unchanged {
		return
	}

	descriptors, err := LoadDescriptors(w.path)
	if err != nil {
		w.logger.WithError(err).Warn("failed to reload source descriptors, keeping previous configuration")
		if w.onError != nil {
			w.onError(err)
		}
		return
	}

	w.mu.Lock()
	w.current = descriptors
	w.currentHash = newHash
	w.mu.Unlock()

	ApplyAuthorityOverrides(descriptors)
	w.logger.WithField("sources", len(descriptors.Sources)).Info("reloaded source descriptors")
	if w.onChange != nil {
		w.onChange(descriptors)
	}
}

func hashDescriptorFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
