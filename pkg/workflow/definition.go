// Package workflow defines the declarative process definitions executed by
// the orchestrator: ordered steps dispatched to agent services, each with
// an optional compensation handler or sub-process launch.
package workflow

import (
	"fmt"

	"github.com/praxisflow/praxis/pkg/core"
)

// Definition is a workflow: an ordered list of steps.
type Definition struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name,omitempty" yaml:"name,omitempty"`
	Steps []Step `json:"steps" yaml:"steps"`
}

// Step is one unit of work. Either Service/Action name an agent call, or
// SubProcess names a child definition to launch; not both.
type Step struct {
	Name         string                    `json:"name" yaml:"name"`
	Service      string                    `json:"service,omitempty" yaml:"service,omitempty"`
	Action       string                    `json:"action,omitempty" yaml:"action,omitempty"`
	Input        map[string]any            `json:"input,omitempty" yaml:"input,omitempty"`
	Compensation *core.CompensationHandler `json:"compensation,omitempty" yaml:"compensation,omitempty"`
	SubProcess   *SubProcessSpec           `json:"subProcess,omitempty" yaml:"sub_process,omitempty"`
}

// SubProcessSpec declares a child process launch inside a workflow.
type SubProcessSpec struct {
	DefinitionID string         `json:"definitionId" yaml:"definition_id"`
	InputMapping map[string]any `json:"inputMapping,omitempty" yaml:"input_mapping,omitempty"`
	TimeoutMs    int64          `json:"timeoutMs,omitempty" yaml:"timeout_ms,omitempty"`
}

// Validate ensures the definition is well-formed for execution.
func (d *Definition) Validate() error {
	if d == nil {
		return fmt.Errorf("definition is nil")
	}
	if d.ID == "" {
		return fmt.Errorf("definition id is required")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("definition %q has no steps", d.ID)
	}

	seen := make(map[string]bool, len(d.Steps))
	for i, step := range d.Steps {
		if step.Name == "" {
			return fmt.Errorf("definition %q: step %d missing name", d.ID, i)
		}
		if seen[step.Name] {
			return fmt.Errorf("definition %q: duplicate step %q", d.ID, step.Name)
		}
		seen[step.Name] = true

		isCall := step.Service != "" || step.Action != ""
		isSub := step.SubProcess != nil
		switch {
		case isCall && isSub:
			return fmt.Errorf("definition %q: step %q is both an agent call and a sub-process", d.ID, step.Name)
		case isCall:
			if step.Service == "" || step.Action == "" {
				return fmt.Errorf("definition %q: step %q needs both service and action", d.ID, step.Name)
			}
		case isSub:
			if step.SubProcess.DefinitionID == "" {
				return fmt.Errorf("definition %q: step %q sub-process needs a definition id", d.ID, step.Name)
			}
		default:
			return fmt.Errorf("definition %q: step %q declares no work", d.ID, step.Name)
		}
	}
	return nil
}

// Step returns the step with the given name, or nil.
func (d *Definition) Step(name string) *Step {
	for i := range d.Steps {
		if d.Steps[i].Name == name {
			return &d.Steps[i]
		}
	}
	return nil
}

// Registry holds definitions by id for sub-process lookups.
type Registry struct {
	definitions map[string]*Definition
}

// NewRegistry creates a registry from the given definitions. Each
// definition is validated on registration.
func NewRegistry(definitions ...*Definition) (*Registry, error) {
	r := &Registry{definitions: make(map[string]*Definition, len(definitions))}
	for _, d := range definitions {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register validates and adds a definition.
func (r *Registry) Register(d *Definition) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if _, ok := r.definitions[d.ID]; ok {
		return fmt.Errorf("definition %q already registered", d.ID)
	}
	r.definitions[d.ID] = d
	return nil
}

// Lookup returns the definition for id, or nil.
func (r *Registry) Lookup(id string) *Definition {
	return r.definitions[id]
}
