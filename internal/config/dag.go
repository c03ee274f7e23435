package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"dagpilot/internal/apperrors"

	"gopkg.in/yaml.v3"
)

var dagIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_.-]*$`)

// Task is one operator in the templated DAG.
type Task struct {
	ID          string   `yaml:"id" json:"id"`
	BashCommand string   `yaml:"bash_command" json:"bashCommand"`
	Upstream    []string `yaml:"upstream,omitempty" json:"upstream,omitempty"`
	Retries     int      `yaml:"retries,omitempty" json:"retries,omitempty"`
}

// DAG holds the fixed constants shared by every generation attempt.
// Loaded once and passed by value; callers must not mutate the slices.
type DAG struct {
	ID          string    `yaml:"dag_id" json:"dagId"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Tags        []string  `yaml:"tags,omitempty" json:"tags,omitempty"`
	Schedule    string    `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	StartDate   time.Time `yaml:"start_date" json:"startDate"`
	Catchup     bool      `yaml:"catchup" json:"catchup"`
	Prompt      string    `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	Tasks       []Task    `yaml:"tasks,omitempty" json:"tasks,omitempty"`
}

// LoadDAG reads and validates a YAML DAG definition.
func LoadDAG(path string) (DAG, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DAG{}, fmt.Errorf("read dag config: %w", err)
	}
	return ParseDAG(data)
}

// ParseDAG decodes a YAML DAG definition. Unknown keys are rejected.
func ParseDAG(data []byte) (DAG, error) {
	var dag DAG
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&dag); err != nil {
		return DAG{}, fmt.Errorf("decode dag config: %w", err)
	}
	if err := dag.Validate(); err != nil {
		return DAG{}, err
	}
	return dag, nil
}

// Validate checks the DAG constants. Task graphs are checked for unknown
// upstream references only; cycles are left for the scheduler to report.
func (d DAG) Validate() error {
	if d.ID == "" {
		return apperrors.Validation("dag_id", "dag_id is required")
	}
	if !dagIDPattern.MatchString(d.ID) {
		return apperrors.Validation("dag_id", "dag_id must be alphanumeric (dots, dashes and underscores allowed)")
	}
	if d.StartDate.IsZero() {
		return apperrors.Validation("start_date", "start_date is required")
	}

	ids := make([]string, 0, len(d.Tasks))
	for i, t := range d.Tasks {
		if t.ID == "" {
			return apperrors.Validation(fmt.Sprintf("tasks[%d].id", i), fmt.Sprintf("tasks[%d]: id is required", i))
		}
		if slices.Contains(ids, t.ID) {
			return apperrors.Validation(fmt.Sprintf("tasks[%d].id", i), fmt.Sprintf("tasks[%d]: duplicate id %q", i, t.ID))
		}
		ids = append(ids, t.ID)
	}
	for i, t := range d.Tasks {
		for _, up := range t.Upstream {
			if !slices.Contains(ids, up) {
				return apperrors.Validation(fmt.Sprintf("tasks[%d].upstream", i), fmt.Sprintf("tasks[%d]: unknown upstream %q", i, up))
			}
		}
	}
	return nil
}

// FileName returns the DAG file name relative to the definitions directory.
func (d DAG) FileName() string {
	return d.ID + ".py"
}

// TargetPath returns the deterministic location of the DAG file inside the
// scheduler's definitions directory.
func (d DAG) TargetPath(dagsDir string) string {
	return filepath.Join(dagsDir, d.FileName())
}

// Clone returns a deep copy safe to hand to collaborators.
func (d DAG) Clone() DAG {
	c := d
	c.Tags = slices.Clone(d.Tags)
	c.Tasks = make([]Task, len(d.Tasks))
	for i, t := range d.Tasks {
		t.Upstream = slices.Clone(t.Upstream)
		c.Tasks[i] = t
	}
	return c
}
