// Package results holds per-region overlap figures and renders them as
// reports.
package results

import (
	"slices"
	"sync"

	"github.com/rotisserie/eris"
)

// ErrDuplicateRegion is returned when a region is committed twice.
var ErrDuplicateRegion = eris.New("results: region already stored")

// CategoryOverlap holds the protected-area figures of one category within a
// region.
type CategoryOverlap struct {
	Category              string  `json:"category" yaml:"category"`
	Null                  bool    `json:"null,omitempty" yaml:"null,omitempty"`
	ProtectedAreaHectares float64 `json:"protected_area_ha" yaml:"protected_area_ha"`
	TripleHectares        float64 `json:"biodiversity_protected_area_ha" yaml:"biodiversity_protected_area_ha"`
}

// OverlapResult is the record of one region.
type OverlapResult struct {
	Region               string            `json:"region" yaml:"region"`
	BiodiversityHectares float64           `json:"biodiversity_ha" yaml:"biodiversity_ha"`
	Categories           []CategoryOverlap `json:"categories" yaml:"categories"`
}

// Clone returns a deep copy of r.
func (r OverlapResult) Clone() OverlapResult {
	r.Categories = slices.Clone(r.Categories)
	return r
}

// Category returns the entry for name, if present.
func (r OverlapResult) Category(name string) (CategoryOverlap, bool) {
	for _, c := range r.Categories {
		if c.Category == name {
			return c, true
		}
	}
	return CategoryOverlap{}, false
}

// Store is an insertion-ordered map from region code to result. Entries are
// copied on the way in and out, so a stored result never changes.
type Store struct {
	mu      sync.RWMutex
	order   []string
	results map[string]OverlapResult
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{results: make(map[string]OverlapResult)}
}

// Add commits r. Storing the same region twice is an error.
func (s *Store) Add(r OverlapResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.results[r.Region]; ok {
		return eris.Wrapf(ErrDuplicateRegion, "results: region %s", r.Region)
	}
	s.order = append(s.order, r.Region)
	s.results[r.Region] = r.Clone()
	return nil
}

// Get returns the result for region.
func (s *Store) Get(region string) (OverlapResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.results[region]
	if !ok {
		return OverlapResult{}, false
	}
	return r.Clone(), true
}

// Len returns the number of stored regions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Regions returns region codes in commit order.
func (s *Store) Regions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// All returns every result in commit order.
func (s *Store) All() []OverlapResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]OverlapResult, 0, len(s.order))
	for _, region := range s.order {
		out = append(out, s.results[region].Clone())
	}
	return out
}

// Categories returns the union of category names across all results, in
// first-seen order.
func (s *Store) Categories() []string {
	return categoryNames(s.All())
}

func categoryNames(results []OverlapResult) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range results {
		for _, c := range r.Categories {
			if !seen[c.Category] {
				seen[c.Category] = true
				out = append(out, c.Category)
			}
		}
	}
	return out
}
