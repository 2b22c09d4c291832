package conditioning

import (
	"errors"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Action is the module a task invokes. The set is closed: Raw, Command and
// Package.
type Action interface {
	module() string
	args() (*yaml.Node, error)
	validate() error
}

// Raw runs a command through the raw module, usable before python exists.
type Raw struct {
	Command string
}

func (Raw) module() string { return "raw" }

func (a Raw) args() (*yaml.Node, error) { return scalar(a.Command), nil }

func (a Raw) validate() error {
	if a.Command == "" {
		return errors.New("raw task needs a command")
	}
	return nil
}

// Command runs a program through the command module. Creates makes the task
// a no-op once the named path exists.
type Command struct {
	Cmd     string
	Creates string
}

func (Command) module() string { return "command" }

func (a Command) args() (*yaml.Node, error) { return scalar(a.Cmd), nil }

func (a Command) validate() error {
	if a.Cmd == "" {
		return errors.New("command task needs a command line")
	}
	return nil
}

// PackageState is the desired state for Package.
type PackageState string

const (
	PackagePresent PackageState = "present"
	PackageAbsent  PackageState = "absent"
)

// Package installs or removes a package with the generic package module.
type Package struct {
	Name  string
	State PackageState
}

func (Package) module() string { return "package" }

func (a Package) args() (*yaml.Node, error) {
	m := mapping()
	appendPair(m, "name", scalar(a.Name))
	appendPair(m, "state", scalar(string(a.State)))
	return m, nil
}

func (a Package) validate() error {
	if a.Name == "" {
		return errors.New("package task needs a package name")
	}
	if a.State != PackagePresent && a.State != PackageAbsent {
		return fmt.Errorf("package task has unknown state %q", a.State)
	}
	return nil
}

// Async runs a task in the background. Poll 0 means fire and forget.
type Async struct {
	Seconds int
	Poll    int
}

// Task is one entry of a play's task list.
type Task struct {
	Name         string
	Action       Action
	Loop         string
	When         []string
	Register     string
	IgnoreErrors bool
	NoLog        bool
	Async        *Async
}

// Validate reports malformed tasks before they are written out.
func (t Task) Validate() error {
	if t.Action == nil {
		return fmt.Errorf("task %q has no action", t.Name)
	}
	if err := t.Action.validate(); err != nil {
		return fmt.Errorf("task %q: %w", t.Name, err)
	}
	if t.Async != nil && t.Async.Seconds <= 0 {
		return fmt.Errorf("task %q: async needs a positive timeout", t.Name)
	}
	return nil
}

// MarshalYAML renders the task with a stable key order: name, module,
// args, loop, when, register, flags.
func (t Task) MarshalYAML() (any, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	node := mapping()
	if t.Name != "" {
		appendPair(node, "name", scalar(t.Name))
	}
	args, err := t.Action.args()
	if err != nil {
		return nil, err
	}
	appendPair(node, t.Action.module(), args)

	if cmd, ok := t.Action.(Command); ok && cmd.Creates != "" {
		extra := mapping()
		appendPair(extra, "creates", scalar(cmd.Creates))
		appendPair(node, "args", extra)
	}
	if t.Loop != "" {
		appendPair(node, "loop", scalar(t.Loop))
	}
	switch len(t.When) {
	case 0:
	case 1:
		appendPair(node, "when", scalar(t.When[0]))
	default:
		list := &yaml.Node{Kind: yaml.SequenceNode}
		for _, cond := range t.When {
			list.Content = append(list.Content, scalar(cond))
		}
		appendPair(node, "when", list)
	}
	if t.Register != "" {
		appendPair(node, "register", scalar(t.Register))
	}
	if t.IgnoreErrors {
		appendPair(node, "ignore_errors", boolean(true))
	}
	if t.Async != nil {
		appendPair(node, "async", integer(t.Async.Seconds))
		appendPair(node, "poll", integer(t.Async.Poll))
	}
	if t.NoLog {
		appendPair(node, "no_log", boolean(true))
	}
	return node, nil
}

// Play is a generated play.
type Play struct {
	Name        string `yaml:"name"`
	Hosts       string `yaml:"hosts"`
	GatherFacts bool   `yaml:"gather_facts"`
	Tasks       []Task `yaml:"tasks"`
}

func mapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func scalar(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

func boolean(value bool) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(value)}
}

func integer(value int) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(value)}
}

func appendPair(m *yaml.Node, key string, value *yaml.Node) {
	m.Content = append(m.Content, scalar(key), value)
}
