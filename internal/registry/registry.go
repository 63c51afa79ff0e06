// Package registry indexes plugins by name, alias, category and hook.
package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/keshon/salabot/internal/plugin"
	"github.com/keshon/salabot/internal/task"
)

// ErrConflict is matched by every *ConflictError.
var ErrConflict = errors.New("registration conflict")

// ConflictError explains why a plugin could not be registered.
type ConflictError struct {
	Plugin string
	// Field is "name", "alias" or "category".
	Field string
	Value string
	With  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot register %q: %s %q conflicts with %s", e.Plugin, e.Field, e.Value, e.With)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// SubscriptionFactory builds the subscription set of a task.
type SubscriptionFactory func(t *plugin.Task) *task.Set

type Registry struct {
	mu sync.RWMutex

	names      map[string]plugin.Plugin
	aliases    map[string]plugin.Plugin
	commands   map[string]plugin.Plugin
	tasks      []*plugin.Task
	categories map[string][]string
	catOrder   []string
	filters    map[string][]*plugin.Filter

	newSubs SubscriptionFactory
	log     *zap.Logger
}

func New(newSubs SubscriptionFactory, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		names:      make(map[string]plugin.Plugin),
		aliases:    make(map[string]plugin.Plugin),
		commands:   make(map[string]plugin.Plugin),
		categories: make(map[string][]string),
		filters:    make(map[string][]*plugin.Filter),
		newSubs:    newSubs,
		log:        log,
	}
}

// Register adds p. Nothing is indexed unless every check passes. Tasks get
// their subscription set built and rehydrated before they become visible.
func (r *Registry) Register(ctx context.Context, p plugin.Plugin) error {
	r.mu.RLock()
	err := r.check(p)
	r.mu.RUnlock()
	if err != nil {
		return err
	}

	if t, ok := p.(*plugin.Task); ok && r.newSubs != nil {
		set := r.newSubs(t)
		if err := set.Load(ctx); err != nil {
			return fmt.Errorf("register %q: %w", t.Name, err)
		}
		t.Bind(set)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(p); err != nil {
		return err
	}
	r.insert(p)
	r.log.Debug("plugin registered", zap.String("plugin", p.Info().Name), zap.String("kind", string(p.Kind())))
	return nil
}

// check must be called with r.mu held.
func (r *Registry) check(p plugin.Plugin) error {
	h := p.Info()
	conflict := func(field, value, with string) error {
		return &ConflictError{Plugin: h.Name, Field: field, Value: value, With: with}
	}

	if h.Name == h.Category {
		return conflict("name", h.Name, "its own category")
	}
	if _, ok := r.names[h.Name]; ok {
		return conflict("name", h.Name, "an existing plugin")
	}
	if _, ok := r.aliases[h.Name]; ok {
		return conflict("name", h.Name, "an existing alias")
	}
	if _, ok := r.categories[h.Name]; ok {
		return conflict("name", h.Name, "an existing category")
	}

	for _, a := range h.Aliases {
		switch {
		case a == h.Name:
			return conflict("alias", a, "its own name")
		case a == h.Category:
			return conflict("alias", a, "its own category")
		}
		if _, ok := r.names[a]; ok {
			return conflict("alias", a, "an existing plugin")
		}
		if _, ok := r.aliases[a]; ok {
			return conflict("alias", a, "an existing alias")
		}
		if _, ok := r.categories[a]; ok {
			return conflict("alias", a, "an existing category")
		}
	}

	if h.Category != "" {
		if _, exists := r.categories[h.Category]; !exists {
			if _, ok := r.names[h.Category]; ok {
				return conflict("category", h.Category, "an existing plugin")
			}
			if _, ok := r.aliases[h.Category]; ok {
				return conflict("category", h.Category, "an existing alias")
			}
		}
	}
	return nil
}

func (r *Registry) insert(p plugin.Plugin) {
	h := p.Info()
	r.names[h.Name] = p
	for _, a := range h.Aliases {
		r.aliases[a] = p
	}
	if h.Category != "" {
		if _, ok := r.categories[h.Category]; !ok {
			r.catOrder = append(r.catOrder, h.Category)
		}
		r.categories[h.Category] = append(r.categories[h.Category], h.Name)
	}

	switch v := p.(type) {
	case *plugin.Command:
		r.commands[h.Name] = v
	case *plugin.Task:
		r.commands[h.Name] = v
		r.tasks = append(r.tasks, v)
	case *plugin.Filter:
		r.filters[v.Hook] = append(r.filters[v.Hook], v)
	}
}

// Resolve finds a command or task by name, then by alias.
func (r *Registry) Resolve(token string) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.commands[token]; ok {
		return p, true
	}
	p, ok := r.aliases[token]
	return p, ok
}

// Lookup finds any plugin by exact name.
func (r *Registry) Lookup(name string) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.names[name]
	return p, ok
}

// Categories returns category names in the order they were first used.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.catOrder)
}

// Members returns the plugin names of a category in registration order.
func (r *Registry) Members(category string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.categories[category])
}

func (r *Registry) HasCategory(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.categories[name]
	return ok
}

// Tasks returns registered tasks in registration order.
func (r *Registry) Tasks() []*plugin.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.tasks)
}

// Filters returns the filters of a hook in registration order.
func (r *Registry) Filters(hook string) []*plugin.Filter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.filters[hook])
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}

var _ plugin.Catalog = (*Registry)(nil)
