// Package fleet describes the worker processes of a campaign: their
// immutable launch specs, the argument builder used to construct them, the
// standard dispatch/vm-node/svm-node fleet, and the on-disk records of
// spawned members.
package fleet

import (
	"errors"
	"fmt"
	"strings"
)

// WorkerSpec is the launch contract of one fleet member. It is immutable:
// fields are unexported and Args returns a copy.
type WorkerSpec struct {
	name string
	path string
	args []string
	dir  string
}

// NewWorkerSpec validates and builds a WorkerSpec. dir may be empty, meaning
// the harness's working directory.
func NewWorkerSpec(name, path string, args Args, dir string) (WorkerSpec, error) {
	if strings.TrimSpace(name) == "" {
		return WorkerSpec{}, errors.New("worker spec: empty name")
	}
	if strings.TrimSpace(path) == "" {
		return WorkerSpec{}, fmt.Errorf("worker spec %s: empty executable path", name)
	}
	built, err := args.Build()
	if err != nil {
		return WorkerSpec{}, fmt.Errorf("worker spec %s: %w", name, err)
	}
	return WorkerSpec{name: name, path: path, args: built, dir: dir}, nil
}

func (s WorkerSpec) Name() string { return s.name }
func (s WorkerSpec) Path() string { return s.path }
func (s WorkerSpec) Dir() string  { return s.dir }

// Args returns a copy of the ordered argument list.
func (s WorkerSpec) Args() []string {
	out := make([]string, len(s.args))
	copy(out, s.args)
	return out
}

// String renders the command line for logs.
func (s WorkerSpec) String() string {
	if len(s.args) == 0 {
		return s.path
	}
	return s.path + " " + strings.Join(s.args, " ")
}

// Args builds an ordered argument list, mostly long flags. Each method returns a new
// value, so a partially built Args can be shared safely. The first invalid
// flag is remembered and reported by Build.
type Args struct {
	list []string
	err  error
}

// Flag appends --name=value.
func (a Args) Flag(name string, value any) Args {
	if a.err != nil {
		return a
	}
	if err := validFlagName(name); err != nil {
		return Args{err: err}
	}
	return a.with(fmt.Sprintf("--%s=%v", name, value))
}

// Switch appends a value-less --name.
func (a Args) Switch(name string) Args {
	if a.err != nil {
		return a
	}
	if err := validFlagName(name); err != nil {
		return Args{err: err}
	}
	return a.with("--" + name)
}

// Arg appends a positional argument verbatim.
func (a Args) Arg(value string) Args {
	if a.err != nil {
		return a
	}
	return a.with(value)
}

func (a Args) with(arg string) Args {
	list := make([]string, len(a.list), len(a.list)+1)
	copy(list, a.list)
	return Args{list: append(list, arg)}
}

// Build returns the argument list or the first construction error.
func (a Args) Build() ([]string, error) {
	if a.err != nil {
		return nil, a.err
	}
	out := make([]string, len(a.list))
	copy(out, a.list)
	return out, nil
}

func validFlagName(name string) error {
	switch {
	case name == "":
		return errors.New("empty flag name")
	case strings.HasPrefix(name, "-"):
		return fmt.Errorf("flag %q must be given without leading dashes", name)
	case strings.ContainsAny(name, "= \t\n"):
		return fmt.Errorf("flag %q contains '=' or whitespace", name)
	}
	return nil
}
