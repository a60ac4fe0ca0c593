// Package syncstate provides per-source incremental watermarks so adapters
// can fetch only the records that changed since the last successful
// cycle. Persistence follows the teacher's pkg/positions write-temp-then-
// rename discipline, one file per source rather than one shared file.
package syncstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the durable per-source record (§3, §4.4).
type State struct {
	LastSync       *time.Time `json:"last_sync"`
	TotalProcessed int64      `json:"total_processed"`
}

// Manager owns one sync-state file per source under dataDir. Single
// writer per source: the orchestrator; adapters only read via Load.
type Manager struct {
	dataDir string
	logger  *logrus.Logger

	mu    sync.RWMutex
	cache map[string]*State
}

// NewManager constructs a Manager rooted at dataDir, creating it if
// necessary.
func NewManager(dataDir string, logger *logrus.Logger) *Manager {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		logger.WithError(err).WithField("data_dir", dataDir).Error("failed to create sync-state directory")
	}
	return &Manager{
		dataDir: dataDir,
		logger:  logger,
		cache:   make(map[string]*State),
	}
}

func (m *Manager) path(source string) string {
	return filepath.Join(m.dataDir, fmt.Sprintf("%s_sync_state.json", source))
}

// Load returns the current sync state for source, reading through to disk
// on first access. A missing file is not an error: it yields the zero
// state, which adapters interpret as "fetch the last 30 days" per §4.4.
func (m *Manager) Load(source string) (State, error) {
	m.mu.RLock()
	if s, ok := m.cache[source]; ok {
		defer m.mu.RUnlock()
		return *s, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.cache[source]; ok {
		return *s, nil
	}

	data, err := os.ReadFile(m.path(source))
	if err != nil {
		if os.IsNotExist(err) {
			s := &State{}
			m.cache[source] = s
			return *s, nil
		}
		return State{}, fmt.Errorf("read sync state for %s: %w", source, err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("unmarshal sync state for %s: %w", source, err)
	}
	m.cache[source] = &s
	return s, nil
}

// Save persists last_sync and total_processed for source, atomically
// replacing the existing file. Per the corrected ordering (Design Note
// §9), callers must invoke Save only after every sink for the cycle has
// committed successfully.
func (m *Manager) Save(source string, lastSync time.Time, totalProcessed int64) error {
	s := &State{LastSync: &lastSync, TotalProcessed: totalProcessed}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sync state for %s: %w", source, err)
	}

	target := m.path(source)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp sync state for %s: %w", source, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename sync state for %s: %w", source, err)
	}

	m.mu.Lock()
	m.cache[source] = s
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"source":          source,
		"last_sync":       lastSync.Format(time.RFC3339),
		"total_processed": totalProcessed,
	}).Debug("saved sync state")

	return nil
}
