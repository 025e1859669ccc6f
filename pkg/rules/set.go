package rules

import (
	"fmt"
	"sort"
	"sync"
)

// Set is an in-memory rule store indexed by target. Reads and writes are
// safe for concurrent use; rules are normally loaded once at startup.
type Set struct {
	mu       sync.RWMutex
	byTarget map[TargetRef][]Prerequisite
	ids      map[string]struct{}
}

func NewSet() *Set {
	return &Set{
		byTarget: make(map[TargetRef][]Prerequisite),
		ids:      make(map[string]struct{}),
	}
}

// Add validates and stores a rule. An empty ID is assigned from the target
// and position.
func (s *Set) Add(p Prerequisite) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = fmt.Sprintf("%s#%d", p.Target, len(s.byTarget[p.Target])+1)
	}
	if _, dup := s.ids[p.ID]; dup {
		return fmt.Errorf("%w: duplicate id %s", ErrInvalidRule, p.ID)
	}
	s.ids[p.ID] = struct{}{}
	s.byTarget[p.Target] = append(s.byTarget[p.Target], p)
	return nil
}

// AppliesTo returns a copy of the rules gating target.
func (s *Set) AppliesTo(target TargetRef) []Prerequisite {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.byTarget[target]
	if len(src) == 0 {
		return nil
	}
	out := make([]Prerequisite, len(src))
	copy(out, src)
	return out
}

// All returns every rule ordered by target then id.
func (s *Set) All() []Prerequisite {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Prerequisite
	for _, list := range s.byTarget {
		out = append(out, list...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Target != out[j].Target {
			if out[i].Target.Kind != out[j].Target.Kind {
				return out[i].Target.Kind < out[j].Target.Kind
			}
			return out[i].Target.ID < out[j].Target.ID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}
