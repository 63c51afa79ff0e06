package plugin

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/keshon/salabot/internal/task"
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("invalid plugin definition")

type ValidationError struct {
	Plugin string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Plugin == "" {
		return fmt.Sprintf("invalid plugin definition: %s", e.Reason)
	}
	return fmt.Sprintf("invalid plugin %q: %s", e.Plugin, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Definition is what plugin authors write. Exactly one of Command, Task or
// Filter must be set, matching Kind.
type Definition struct {
	Kind              Kind
	Name              string
	Category          string
	Description       string
	Aliases           []string
	Arguments         []string
	ArgumentsOptional bool
	AllowDM           bool
	Permission        Permission
	UseStore          bool

	// Schedule is the cron spec of a task.
	Schedule string
	// Hook is where a filter runs, HookPreParse by default.
	Hook string

	Command CommandFunc
	Task    TaskFunc
	Filter  FilterFunc
}

// New validates def and builds the matching variant.
func New(def Definition) (Plugin, error) {
	invalid := func(format string, args ...any) error {
		return &ValidationError{Plugin: def.Name, Reason: fmt.Sprintf(format, args...)}
	}

	if def.Name == "" {
		return nil, invalid("name is required")
	}
	if hasSpace(def.Name) {
		return nil, invalid("name must be a single word")
	}
	if def.Arguments != nil && len(def.Arguments) == 0 {
		return nil, invalid("do not specify arguments if there are none")
	}
	seen := make(map[string]bool, len(def.Aliases))
	for _, a := range def.Aliases {
		switch {
		case a == "" || hasSpace(a):
			return nil, invalid("alias %q must be a single word", a)
		case seen[a]:
			return nil, invalid("alias %q is listed twice", a)
		}
		seen[a] = true
	}

	perm := def.Permission
	if perm == "" {
		perm = PermRole
	}
	if !perm.valid() {
		return nil, invalid("unknown permission %q", perm)
	}

	h := Header{
		Name:              def.Name,
		Category:          def.Category,
		Description:       def.Description,
		Aliases:           append([]string(nil), def.Aliases...),
		Permission:        perm,
		AllowDM:           def.AllowDM,
		Arguments:         append([]string(nil), def.Arguments...),
		ArgumentsOptional: def.ArgumentsOptional,
		UseStore:          def.UseStore,
	}
	if h.Category == "" {
		h.Category = DefaultCategory
	}

	switch def.Kind {
	case KindCommand:
		if def.Description == "" {
			return nil, invalid("description is required")
		}
		if def.Command == nil {
			return nil, invalid("command body is required")
		}
		return &Command{Header: h, fn: def.Command}, nil

	case KindTask:
		if def.Description == "" {
			return nil, invalid("description is required")
		}
		if def.Task == nil {
			return nil, invalid("task body is required")
		}
		if def.Schedule == "" {
			return nil, invalid("schedule is required")
		}
		if err := task.Validate(def.Schedule); err != nil {
			return nil, invalid("%v", err)
		}
		h.AllowDM = false
		h.Arguments = append([]string{VerbStart + "|" + VerbStop}, h.Arguments...)
		return &Task{Header: h, Schedule: def.Schedule, fn: def.Task}, nil

	case KindFilter:
		if def.Filter == nil {
			return nil, invalid("filter body is required")
		}
		hook := def.Hook
		if hook == "" {
			hook = HookPreParse
		}
		h.Category = ""
		return &Filter{Header: h, Hook: hook, fn: def.Filter}, nil

	default:
		return nil, invalid("unknown kind %q", def.Kind)
	}
}

// MustNew is New for definitions known to be valid.
func MustNew(def Definition) Plugin {
	p, err := New(def)
	if err != nil {
		panic(err)
	}
	return p
}

func hasSpace(s string) bool {
	return strings.IndexFunc(s, unicode.IsSpace) >= 0
}
