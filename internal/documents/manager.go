// Package documents tracks the files waiting in a workspace's input
// directory.
package documents

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kalambet/ragdocs/internal/extract"
)

// EnqueuedDir holds source files that have been handed to the engine.
const EnqueuedDir = "__enqueued__"

// Manager scans one workspace's input directory and remembers which files
// have already been claimed for indexing in this process.
type Manager struct {
	baseDir   string
	workspace string
	inputDir  string
	exts      []string

	mu      sync.Mutex
	indexed map[string]struct{}
}

// New returns a Manager for baseDir, or baseDir/workspace when a workspace
// is set. The directory is created if missing.
func New(baseDir, workspace string) (*Manager, error) {
	dir := baseDir
	if workspace != "" {
		dir = filepath.Join(baseDir, workspace)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving input directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating input directory: %w", err)
	}
	return &Manager{
		baseDir:   baseDir,
		workspace: workspace,
		inputDir:  abs,
		exts:      extract.SupportedExtensions(),
		indexed:   make(map[string]struct{}),
	}, nil
}

// InputDir returns the absolute, workspace-scoped input directory.
func (m *Manager) InputDir() string { return m.inputDir }

// EnqueuedDir returns the holding directory for enqueued source files.
func (m *Manager) EnqueuedDir() string { return filepath.Join(m.inputDir, EnqueuedDir) }

// Workspace returns the workspace name, possibly empty.
func (m *Manager) Workspace() string { return m.workspace }

// IsSupported reports whether name ends in a supported extension,
// ignoring case.
func (m *Manager) IsSupported(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range m.exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// ScanForNewFiles lists supported top-level files in the input directory
// that have not been marked indexed. Results are grouped by extension in
// scan order.
func (m *Manager) ScanForNewFiles() ([]string, error) {
	entries, err := os.ReadDir(m.inputDir)
	if err != nil {
		return nil, fmt.Errorf("reading input directory: %w", err)
	}

	byExt := make(map[string][]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		byExt[ext] = append(byExt[ext], filepath.Join(m.inputDir, e.Name()))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var files []string
	for _, ext := range m.exts {
		for _, p := range byExt[ext] {
			if _, seen := m.indexed[p]; !seen {
				files = append(files, p)
			}
		}
	}
	return files, nil
}

// MarkAsIndexed claims path so later scans skip it.
func (m *Manager) MarkAsIndexed(path string) {
	m.mu.Lock()
	m.indexed[path] = struct{}{}
	m.mu.Unlock()
}

// Forget releases a claimed path, e.g. after its document was deleted.
func (m *Manager) Forget(path string) {
	m.mu.Lock()
	delete(m.indexed, path)
	m.mu.Unlock()
}
