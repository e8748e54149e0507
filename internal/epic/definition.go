// Package epic loads epic definitions: the ticket set, dependencies and
// policies an orchestrator run is driven from.
package epic

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/epicrun/internal/graph"
)

// Definition is an epic definition file.
type Definition struct {
	// ID identifies the epic; it names the epic branch and the state document.
	ID string `yaml:"id"`
	// Title is a human-readable summary (optional).
	Title string `yaml:"title,omitempty"`
	// Branch overrides the epic branch name (optional).
	Branch string `yaml:"branch,omitempty"`
	// RollbackOnFailure deletes all branches of the run when a critical ticket fails.
	RollbackOnFailure bool `yaml:"rollback_on_failure"`
	// Tickets in definition order.
	Tickets []Ticket `yaml:"tickets"`

	// Path is the file the definition was loaded from. It is handed to the
	// builder as the epic context path.
	Path string `yaml:"-"`
}

// Ticket is one ticket definition.
type Ticket struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Path        string   `yaml:"path,omitempty"`
	Description string   `yaml:"description,omitempty"`
	DependsOn   []string `yaml:"depends_on,omitempty"`
	Critical    bool     `yaml:"critical"`
}

// idPattern keeps ids usable as git ref components.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Load reads and validates a definition from a YAML file. Relative ticket
// paths are resolved against the directory of the file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading epic file: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving epic path: %w", err)
	}
	def.Path = abs
	dir := filepath.Dir(abs)
	for i := range def.Tickets {
		if p := def.Tickets[i].Path; p != "" && !filepath.IsAbs(p) {
			def.Tickets[i].Path = filepath.Join(dir, p)
		}
	}
	return def, nil
}

// Parse decodes and validates a YAML definition. Unknown keys are rejected.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("parsing epic file: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid epic: %w", err)
	}
	return &def, nil
}

// Validate checks ids, titles and the dependency graph.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return errors.New("epic id is required")
	}
	if !idPattern.MatchString(d.ID) {
		return fmt.Errorf("epic id %q must match %s", d.ID, idPattern)
	}
	if len(d.Tickets) == 0 {
		return errors.New("at least one ticket is required")
	}
	for i, t := range d.Tickets {
		if t.ID == "" {
			return fmt.Errorf("ticket %d: id is required", i)
		}
		if !idPattern.MatchString(t.ID) {
			return fmt.Errorf("ticket id %q must match %s", t.ID, idPattern)
		}
		if t.Title == "" {
			return fmt.Errorf("ticket %q: title is required", t.ID)
		}
	}
	if _, err := d.Graph(); err != nil {
		return err
	}
	return nil
}

// Nodes returns the dependency view of the tickets.
func (d *Definition) Nodes() []graph.Node {
	nodes := make([]graph.Node, len(d.Tickets))
	for i, t := range d.Tickets {
		nodes[i] = graph.Node{ID: t.ID, DependsOn: t.DependsOn}
	}
	return nodes
}

// Graph builds the validated dependency graph.
func (d *Definition) Graph() (*graph.Graph, error) {
	return graph.New(d.Nodes())
}

// BranchName returns the epic branch, defaulting to "<prefix>/<id>".
func (d *Definition) BranchName(prefix string) string {
	if d.Branch != "" {
		return d.Branch
	}
	return prefix + "/" + d.ID
}
