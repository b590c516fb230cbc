// pkg/registry/registry.go
package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"broadcast-dispatch/internal/common/validation"
)

//go:embed default.json
var defaultRegistry []byte

func LoadRegistry(path string) (*TaskRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(data)
}

// Default returns the registry compiled into the binary.
func Default() *TaskRegistry {
	reg, err := parse(defaultRegistry)
	if err != nil {
		panic(fmt.Sprintf("embedded task registry: %v", err))
	}
	return reg
}

func parse(data []byte) (*TaskRegistry, error) {
	var reg TaskRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Task looks a task up by id.
func (r *TaskRegistry) Task(id string) (*Task, bool) {
	for i := range r.Tasks {
		if r.Tasks[i].ID == id {
			return &r.Tasks[i], true
		}
	}
	return nil, false
}

// PayloadValidator compiles the payload schema of a task.
func (r *TaskRegistry) PayloadValidator(id string) (*validation.Validator, error) {
	task, ok := r.Task(id)
	if !ok {
		return nil, fmt.Errorf("task %s not found", id)
	}
	if len(task.PayloadSchema) == 0 {
		return nil, fmt.Errorf("task %s has no payload schema", id)
	}
	return validation.NewValidator(task.PayloadSchema)
}

// TimeoutDuration parses the task timeout, falling back to def.
func (t *Task) TimeoutDuration(def time.Duration) time.Duration {
	if d, err := time.ParseDuration(t.Timeout); err == nil && d > 0 {
		return d
	}
	return def
}

// Validate checks structural rules: unique ids, required fields and compilable schemas.
func (r *TaskRegistry) Validate() error {
	if len(r.Tasks) == 0 {
		return fmt.Errorf("registry contains no tasks")
	}

	ids := make(map[string]bool)
	for _, task := range r.Tasks {
		if task.ID == "" {
			return fmt.Errorf("task missing required field: ID")
		}
		if ids[task.ID] {
			return fmt.Errorf("duplicate task ID: %s", task.ID)
		}
		ids[task.ID] = true

		if task.DisplayName == "" {
			return fmt.Errorf("task %s missing required field: DisplayName", task.ID)
		}
		if task.Queue == "" {
			return fmt.Errorf("task %s missing required field: Queue", task.ID)
		}
		if task.Timeout != "" {
			if _, err := time.ParseDuration(task.Timeout); err != nil {
				return fmt.Errorf("task %s has invalid timeout %q", task.ID, task.Timeout)
			}
		}
		if len(task.PayloadSchema) > 0 {
			if _, err := validation.NewValidator(task.PayloadSchema); err != nil {
				return fmt.Errorf("task %s: %w", task.ID, err)
			}
		}
	}
	return nil
}

// Save writes the registry as indented JSON.
func (r *TaskRegistry) Save(path string) error {
	r.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	return nil
}
