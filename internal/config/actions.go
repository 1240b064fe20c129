package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ActionClass groups actions that share a wait budget.
type ActionClass string

const (
	ClassList       ActionClass = "list"
	ClassMutation   ActionClass = "mutation"
	ClassBulkDelete ActionClass = "bulk_delete"
	ClassImport     ActionClass = "import"
)

func (c ActionClass) valid() bool {
	switch c {
	case ClassList, ClassMutation, ClassBulkDelete, ClassImport:
		return true
	}
	return false
}

// ClassOf infers an action's class from its id.
func ClassOf(actionID string) ActionClass {
	switch {
	case strings.HasPrefix(actionID, "admin.list."),
		strings.HasPrefix(actionID, "admin.get."),
		strings.HasPrefix(actionID, "admin.resolve."):
		return ClassList
	case strings.HasPrefix(actionID, "admin.bulk_delete."):
		return ClassBulkDelete
	case strings.HasPrefix(actionID, "admin.csv_import."),
		strings.HasPrefix(actionID, "admin.import."):
		return ClassImport
	default:
		return ClassMutation
	}
}

// ActionPolicy overrides how one action is waited on.
type ActionPolicy struct {
	Class                ActionClass `yaml:"class"`
	Timeout              Duration    `yaml:"timeout"`
	RequiresConfirmation *bool       `yaml:"requires_confirmation"`
}

// Duration is a time.Duration that reads "25s" style strings from YAML.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %q is not a valid duration", node.Line, s)
	}
	*d = Duration(v)
	return nil
}

type actionsFile struct {
	Actions map[string]ActionPolicy `yaml:"actions"`
}

// Actions resolves the wait budget and confirmation requirement per action.
// Timeouts are fixed per class and may be overridden per action.
type Actions struct {
	classTimeouts map[ActionClass]time.Duration
	overrides     map[string]ActionPolicy
}

// NewActions builds a policy from the class timeouts in cfg.
func NewActions(cfg Config) *Actions {
	return &Actions{
		classTimeouts: map[ActionClass]time.Duration{
			ClassList:       cfg.ListTimeout,
			ClassMutation:   cfg.MutationTimeout,
			ClassBulkDelete: cfg.BulkDeleteTimeout,
			ClassImport:     cfg.ImportTimeout,
		},
		overrides: map[string]ActionPolicy{},
	}
}

// LoadActions builds the policy from cfg and overlays cfg.ActionsFile when
// set. A configured file that does not exist is an error.
func LoadActions(cfg Config) (*Actions, error) {
	a := NewActions(cfg)
	if cfg.ActionsFile == "" {
		return a, nil
	}
	data, err := os.ReadFile(cfg.ActionsFile) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("config: read actions file: %w", err)
	}
	if err := a.Parse(data); err != nil {
		return nil, fmt.Errorf("config: %s: %w", cfg.ActionsFile, err)
	}
	return a, nil
}

// Parse overlays YAML action overrides.
func (a *Actions) Parse(data []byte) error {
	var f actionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse actions: %w", err)
	}
	var errs []error
	for id, p := range f.Actions {
		if p.Class != "" && !p.Class.valid() {
			errs = append(errs, fmt.Errorf("action %q: unknown class %q", id, p.Class))
			continue
		}
		if p.Timeout < 0 {
			errs = append(errs, fmt.Errorf("action %q: timeout must not be negative", id))
			continue
		}
		a.overrides[id] = p
	}
	return errors.Join(errs...)
}

// Class returns the configured or inferred class of an action.
func (a *Actions) Class(actionID string) ActionClass {
	if p, ok := a.overrides[actionID]; ok && p.Class != "" {
		return p.Class
	}
	return ClassOf(actionID)
}

// Timeout returns how long to wait on a run of actionID before reporting it
// as still running.
func (a *Actions) Timeout(actionID string) time.Duration {
	if p, ok := a.overrides[actionID]; ok && p.Timeout > 0 {
		return time.Duration(p.Timeout)
	}
	return a.classTimeouts[a.Class(actionID)]
}

// RequiresConfirmation reports whether actionID needs a confirmation token.
// Bulk deletes and imports do unless overridden.
func (a *Actions) RequiresConfirmation(actionID string) bool {
	if p, ok := a.overrides[actionID]; ok && p.RequiresConfirmation != nil {
		return *p.RequiresConfirmation
	}
	switch a.Class(actionID) {
	case ClassBulkDelete, ClassImport:
		return true
	}
	return false
}
