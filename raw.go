// FILE: lixenwraith/cornflakes/raw.go
package cornflakes

import (
	"fmt"
	"regexp"
	"slices"
)

// DefaultSectionName holds keys that appear outside any named section.
const DefaultSectionName = "default"

// Section is a named block of key/value pairs that keeps key encounter order.
type Section struct {
	Name   string
	keys   []string
	values map[string]any
}

func newSection(name string) *Section {
	return &Section{Name: name, values: make(map[string]any)}
}

// Set stores a value, keeping the position of keys already present.
func (s *Section) Set(key string, value any) {
	if _, exists := s.values[key]; !exists {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

// Get returns the value stored under key.
func (s *Section) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Keys returns keys in encounter order.
func (s *Section) Keys() []string {
	return slices.Clone(s.keys)
}

// Len returns the number of keys.
func (s *Section) Len() int {
	return len(s.keys)
}

// Map returns a copy of the section values.
func (s *Section) Map() map[string]any {
	return cloneMap(s.values)
}

// RawConfig is the parsed content of one or more sources, keyed by section
// and preserving section encounter order.
type RawConfig struct {
	sections []*Section
	index    map[string]int
}

// NewRawConfig returns an empty raw config.
func NewRawConfig() *RawConfig {
	return &RawConfig{index: make(map[string]int)}
}

// Section returns the named section, creating it at the end if absent.
func (r *RawConfig) Section(name string) *Section {
	if i, ok := r.index[name]; ok {
		return r.sections[i]
	}
	sec := newSection(name)
	r.index[name] = len(r.sections)
	r.sections = append(r.sections, sec)
	return sec
}

// Lookup returns the named section if present.
func (r *RawConfig) Lookup(name string) (*Section, bool) {
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.sections[i], true
}

// Sections returns sections in encounter order.
func (r *RawConfig) Sections() []*Section {
	return slices.Clone(r.sections)
}

// Names returns section names in encounter order.
func (r *RawConfig) Names() []string {
	names := make([]string, len(r.sections))
	for i, sec := range r.sections {
		names[i] = sec.Name
	}
	return names
}

// Len returns the number of sections.
func (r *RawConfig) Len() int {
	return len(r.sections)
}

// IsEmpty reports whether there are no sections or no section holds a key.
func (r *RawConfig) IsEmpty() bool {
	for _, sec := range r.sections {
		if sec.Len() > 0 {
			return false
		}
	}
	return true
}

// First returns the first section, or nil.
func (r *RawConfig) First() *Section {
	if len(r.sections) == 0 {
		return nil
	}
	return r.sections[0]
}

// Merge copies every section of other into r. Values of other win on key
// collisions; new sections and keys are appended in other's order.
func (r *RawConfig) Merge(other *RawConfig) {
	for _, sec := range other.sections {
		dst := r.Section(sec.Name)
		for _, key := range sec.keys {
			dst.Set(key, sec.values[key])
		}
	}
}

// Filter returns the sections selected by names, keeping encounter order.
// With useRegex each name is a pattern that must match the whole section name.
// An empty filter selects every section.
func (r *RawConfig) Filter(names []string, useRegex bool) (*RawConfig, error) {
	if len(names) == 0 {
		return r, nil
	}

	var patterns []*regexp.Regexp
	if useRegex {
		patterns = make([]*regexp.Regexp, 0, len(names))
		for _, name := range names {
			re, err := regexp.Compile("^(?:" + name + ")$")
			if err != nil {
				return nil, fmt.Errorf("invalid section pattern %q: %w", name, err)
			}
			patterns = append(patterns, re)
		}
	}

	out := NewRawConfig()
	for _, sec := range r.sections {
		matched := false
		if useRegex {
			for _, re := range patterns {
				if re.MatchString(sec.Name) {
					matched = true
					break
				}
			}
		} else {
			matched = slices.Contains(names, sec.Name)
		}
		if matched {
			out.index[sec.Name] = len(out.sections)
			out.sections = append(out.sections, sec)
		}
	}
	return out, nil
}
