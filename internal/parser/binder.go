package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/keshon/salabot/internal/plugin"
)

var (
	ErrTooManyArguments = errors.New("too many arguments")
	ErrTooFewArguments  = errors.New("too few arguments")
)

// ArgumentCountError is a user-facing arity mismatch.
type ArgumentCountError struct {
	Plugin string
	Want   int
	Got    int
	err    error
}

func (e *ArgumentCountError) Error() string {
	if errors.Is(e.err, ErrTooManyArguments) {
		return "Too many arguments for the command!"
	}
	return "Too few arguments for the command!"
}

func (e *ArgumentCountError) Unwrap() error { return e.err }

// Parsed is one tokenized message.
type Parsed struct {
	// Name is the first token, empty when the message held only the prefix.
	Name string
	Raw  []string

	bound []string
	done  bool
}

// Parse tokenizes content.
func Parse(content string) *Parsed {
	tokens := Tokenize(content)
	p := &Parsed{}
	if len(tokens) > 0 {
		p.Name = tokens[0]
		p.Raw = tokens[1:]
	}
	return p
}

// Arguments binds the raw tokens to p's argument slots. The bound list is
// computed once; later calls return the same slice. A declared, non-optional
// argument list must match the number of bound values.
func (ps *Parsed) Arguments(p plugin.Plugin) ([]string, error) {
	h := p.Info()
	if _, isTask := p.(*plugin.Task); isTask {
		return ps.taskArguments(h)
	}

	if !ps.done {
		ps.bound = bind(h.Arguments, ps.Raw)
		ps.done = true
	}
	if err := checkArity(h, h.Arguments, ps.bound); err != nil {
		return nil, err
	}
	return ps.bound, nil
}

// taskArguments keeps the verb as its own token. "stop" never carries task
// arguments, so it binds alone and skips the arity check.
func (ps *Parsed) taskArguments(h *plugin.Header) ([]string, error) {
	if !ps.done {
		if len(ps.Raw) > 0 {
			verb := ps.Raw[0]
			if strings.EqualFold(verb, plugin.VerbStop) {
				ps.bound = []string{verb}
			} else {
				ps.bound = append([]string{verb}, bind(h.Arguments[1:], ps.Raw[1:])...)
			}
		}
		ps.done = true
	}
	if len(ps.bound) > 0 && strings.EqualFold(ps.bound[0], plugin.VerbStop) {
		return ps.bound, nil
	}
	if len(ps.bound) == 0 {
		return nil, &ArgumentCountError{Plugin: h.Name, Want: len(h.Arguments), err: ErrTooFewArguments}
	}
	if err := checkArity(h, h.Arguments, ps.bound); err != nil {
		return nil, err
	}
	return ps.bound, nil
}

// bind joins all tokens into the single slot of a one-argument plugin.
func bind(slots, raw []string) []string {
	if len(slots) == 1 && len(raw) > 0 {
		return []string{strings.Join(raw, " ")}
	}
	return raw
}

func checkArity(h *plugin.Header, slots, bound []string) error {
	if h.ArgumentsOptional || slots == nil {
		return nil
	}
	switch {
	case len(bound) > len(slots):
		return &ArgumentCountError{Plugin: h.Name, Want: len(slots), Got: len(bound), err: ErrTooManyArguments}
	case len(bound) < len(slots):
		return &ArgumentCountError{Plugin: h.Name, Want: len(slots), Got: len(bound), err: ErrTooFewArguments}
	}
	return nil
}

// String is handy in logs.
func (ps *Parsed) String() string {
	return fmt.Sprintf("%s %q", ps.Name, ps.Raw)
}
