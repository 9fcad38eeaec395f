package queue

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrUnknownKind is returned by Lookup for a kind that was never registered.
var ErrUnknownKind = errors.New("unknown job kind")

// Registry holds the immutable set of job descriptors keyed by kind.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]*Descriptor
}

func NewRegistry() *Registry {
	return &Registry{descriptors: map[string]*Descriptor{}}
}

// Register validates d, fills its timing defaults and stores a copy of it.
func (r *Registry) Register(d Descriptor) error {
	d.Kind = strings.TrimSpace(d.Kind)
	switch {
	case d.Kind == "":
		return errors.New("queue: descriptor kind is required")
	case d.SubmitURL == "":
		return fmt.Errorf("queue: %s: submit url is required", d.Kind)
	case d.StatusURL == nil || d.ResultURL == nil:
		return fmt.Errorf("queue: %s: status and result urls are required", d.Kind)
	case d.BuildPayload == nil:
		return fmt.Errorf("queue: %s: payload builder is required", d.Kind)
	case d.ExtractArtifact == nil:
		return fmt.Errorf("queue: %s: artifact extractor is required", d.Kind)
	}
	if d.Title == "" {
		d.Title = cases.Title(language.English).String(strings.ReplaceAll(d.Kind, "-", " "))
	}
	if d.PollInterval <= 0 {
		d.PollInterval = DefaultPollInterval
	}
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = DefaultMaxAttempts
	}
	if d.GraceAttempts == 0 {
		d.GraceAttempts = DefaultGraceAttempts
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[d.Kind]; exists {
		return fmt.Errorf("queue: %s: already registered", d.Kind)
	}
	r.descriptors[d.Kind] = &d
	return nil
}

// MustRegister is Register for static descriptor tables.
func (r *Registry) MustRegister(ds ...Descriptor) *Registry {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) Lookup(kind string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[strings.TrimSpace(kind)]
	if !ok {
		return nil, fmt.Errorf("queue: %q: %w", kind, ErrUnknownKind)
	}
	return d, nil
}

// Kinds returns the registered kinds in lexical order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.descriptors))
	for k := range r.descriptors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Descriptors returns the registered descriptors ordered by kind.
func (r *Registry) Descriptors() []*Descriptor {
	kinds := r.Kinds()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, r.descriptors[k])
	}
	return out
}
