package workflow

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"

	"github.com/ropereraLK/conductor-community/engine/core"
)

var validate = validator.New()

// Def is a workflow definition: a named, versioned, ordered sequence of task
// templates. Definitions arrive parsed; DefFromYAML only decodes the already
// shaped model.
type Def struct {
	Name             string          `json:"name"             yaml:"name"    validate:"required"`
	Version          int             `json:"version"          yaml:"version"`
	Description      string          `json:"description"      yaml:"description"`
	SchemaVersion    int             `json:"schemaVersion"    yaml:"schema_version"`
	Tasks            []*TaskTemplate `json:"tasks"            yaml:"tasks"   validate:"required,min=1,dive,required"`
	OutputParameters core.Payload    `json:"outputParameters" yaml:"output_parameters"`
}

// DefFromYAML decodes and validates a workflow definition.
func DefFromYAML(data []byte) (*Def, error) {
	def := &Def{}
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, core.WrapError(core.CodeInvalidInput, err, "failed to decode workflow definition")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// Validate checks the structural rules: required fields and reference-name
// uniqueness across the whole template tree.
func (d *Def) Validate() error {
	if err := validate.Struct(d); err != nil {
		return core.WrapError(core.CodeInvalidInput, err, "invalid workflow definition %q", d.Name)
	}
	seen := make(map[string]bool)
	var walk func(templates []*TaskTemplate) error
	walk = func(templates []*TaskTemplate) error {
		for _, wt := range templates {
			if seen[wt.TaskReferenceName] {
				return core.ErrInvalidInput("duplicate task reference name %q in workflow %q", wt.TaskReferenceName, d.Name)
			}
			seen[wt.TaskReferenceName] = true
			for _, branch := range wt.children() {
				if err := walk(branch); err != nil {
					return err
				}
			}
		}
		return nil
	}
	return walk(d.Tasks)
}

// Key returns the name/version identity of the definition.
func (d *Def) Key() string {
	return fmt.Sprintf("%s.%d", d.Name, d.Version)
}

// TaskByRefName finds a template anywhere in the tree by reference name.
func (d *Def) TaskByRefName(refName string) *TaskTemplate {
	var find func(templates []*TaskTemplate) *TaskTemplate
	find = func(templates []*TaskTemplate) *TaskTemplate {
		for _, wt := range templates {
			if wt.TaskReferenceName == refName {
				return wt
			}
			for _, branch := range wt.children() {
				if found := find(branch); found != nil {
					return found
				}
			}
		}
		return nil
	}
	return find(d.Tasks)
}

// NextTask returns the template to schedule after refName completes, walking
// into decision and fork branches, or nil at the end of the flow.
func (d *Def) NextTask(refName string) *TaskTemplate {
	for i, wt := range d.Tasks {
		if nextTask := wt.next(refName, nil); nextTask != nil {
			return nextTask
		}
		if wt.TaskReferenceName == refName || wt.has(refName) {
			if i+1 < len(d.Tasks) {
				return d.Tasks[i+1]
			}
			return nil
		}
	}
	return nil
}
