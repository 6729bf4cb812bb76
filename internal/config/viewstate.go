package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lablup/backend.ai-sub009/internal/grid/sortfilter"
)

// ViewState is the browse state the TUI restores on its next start.
type ViewState struct {
	// Hierarchy is the row tree that was browsed.
	Hierarchy string `yaml:"hierarchy,omitempty"`
	// Sort holds active sorters as "path:dir".
	Sort []string `yaml:"sort,omitempty"`
	// Filters holds active filters as "path=value".
	Filters []string `yaml:"filters,omitempty"`
	// Expanded holds the identities of expanded rows.
	Expanded []string `yaml:"expanded,omitempty"`
	// Offset is the first visible flat index.
	Offset int `yaml:"offset,omitempty"`
	// UpdatedAt is when the state was last modified.
	UpdatedAt time.Time `yaml:"updated_at,omitempty"`
}

// IsEmpty returns true if nothing was recorded.
func (s *ViewState) IsEmpty() bool {
	return s.Hierarchy == "" && len(s.Sort) == 0 && len(s.Filters) == 0 && len(s.Expanded) == 0
}

// Query parses the recorded sorters and filters.
func (s *ViewState) Query() ([]sortfilter.SortOrder, []sortfilter.Filter, error) {
	sorters, err := sortfilter.ParseSortOrders(s.Sort)
	if err != nil {
		return nil, nil, err
	}
	filters, err := sortfilter.ParseFilters(s.Filters)
	if err != nil {
		return nil, nil, err
	}
	return sorters, filters, nil
}

// SetQuery records sorters and filters.
func (s *ViewState) SetQuery(sorters []sortfilter.SortOrder, filters []sortfilter.Filter) {
	s.Sort = s.Sort[:0]
	for _, o := range sorters {
		s.Sort = append(s.Sort, o.String())
	}
	s.Filters = s.Filters[:0]
	for _, f := range filters {
		s.Filters = append(s.Filters, f.String())
	}
	s.UpdatedAt = time.Now()
}

// String returns a human-readable summary.
func (s *ViewState) String() string {
	if s.IsEmpty() {
		return "(none)"
	}
	parts := []string{s.Hierarchy}
	if len(s.Sort) > 0 {
		parts = append(parts, "sort:"+strings.Join(s.Sort, ","))
	}
	if len(s.Filters) > 0 {
		parts = append(parts, "filter:"+strings.Join(s.Filters, ","))
	}
	if len(s.Expanded) > 0 {
		parts = append(parts, fmt.Sprintf("expanded:%d", len(s.Expanded)))
	}
	return strings.Join(parts, " ")
}

// ViewStateStore manages loading and saving view state.
type ViewStateStore struct {
	path string
	mu   sync.RWMutex
}

// NewViewStateStore creates a new store at path.
// If path is empty, uses the default path (~/.config/gridctl/view.yaml).
func NewViewStateStore(path string) *ViewStateStore {
	if path == "" {
		homeDir, _ := os.UserHomeDir()
		path = filepath.Join(homeDir, ".config", "gridctl", "view.yaml")
	}
	return &ViewStateStore{path: path}
}

// Path returns the state file path.
func (s *ViewStateStore) Path() string {
	return s.path
}

// Load reads the state from disk.
// Returns an empty state if the file doesn't exist.
func (s *ViewStateStore) Load() (*ViewState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := &ViewState{}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return nil, fmt.Errorf("failed to read view state: %w", err)
	}

	if err := yaml.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("failed to parse view state: %w", err)
	}

	return state, nil
}

// Save writes the state to disk.
func (s *ViewStateStore) Save(state *ViewState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create view state directory: %w", err)
	}

	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to serialize view state: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write view state: %w", err)
	}

	return nil
}

// Clear removes the state file.
func (s *ViewStateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove view state: %w", err)
	}
	return nil
}
