// Package tmpfiles manages per-video scratch directories under the work
// root. Directories are created on demand and removed once the owning job
// settles.
package tmpfiles

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"scoville/internal/logging"
	"scoville/internal/services"
)

// Manager hands out scratch directories keyed by video id.
type Manager struct {
	root   string
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]string
}

// NewManager builds a manager rooted at dir.
func NewManager(root string, logger *slog.Logger) *Manager {
	return &Manager{
		root:   root,
		logger: logging.WithComponent(logger, "tmpfiles"),
		active: make(map[string]string),
	}
}

// Dir returns the scratch path for a video id without creating it.
func (m *Manager) Dir(videoID string) string {
	return filepath.Join(m.root, sanitize(videoID))
}

// Allocate creates (if needed) and returns the scratch directory for a video.
func (m *Manager) Allocate(videoID string) (string, error) {
	if strings.TrimSpace(videoID) == "" {
		return "", services.Wrap(services.ErrValidation, "tmpfiles", "allocate", "video id is required", nil)
	}
	dir := m.Dir(videoID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.Wrap(services.ErrConfiguration, "tmpfiles", "allocate",
			fmt.Sprintf("create scratch dir %s", dir), err)
	}
	m.mu.Lock()
	m.active[videoID] = dir
	m.mu.Unlock()
	return dir, nil
}

// Cleanup removes the scratch directory for a video. Missing directories are
// not an error.
func (m *Manager) Cleanup(videoID string) {
	if strings.TrimSpace(videoID) == "" {
		return
	}
	dir := m.Dir(videoID)
	m.mu.Lock()
	delete(m.active, videoID)
	m.mu.Unlock()
	if err := os.RemoveAll(dir); err != nil {
		m.logger.Warn("failed to remove scratch dir", logging.FieldVideoID, videoID, "path", dir, "error", err)
		return
	}
	m.logger.Debug("scratch dir removed", logging.FieldVideoID, videoID, "path", dir)
}

// CleanupAll removes every tracked scratch directory, used during shutdown.
func (m *Manager) CleanupAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Cleanup(id)
	}
}

// sanitize keeps scratch names filesystem safe.
func sanitize(id string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", " ", "_")
	cleaned := replacer.Replace(strings.TrimSpace(id))
	if cleaned == "" {
		cleaned = "unknown"
	}
	return cleaned
}
