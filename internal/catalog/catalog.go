// Package catalog holds the immutable table of subjects and topics.
// It is loaded once at start-up and shared by reference.
package catalog

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultSubjectName is reported for subject IDs missing from the catalog.
const DefaultSubjectName = "Subject"

//go:embed default.yaml
var defaultYAML []byte

// Catalog is a read-only subject table. The zero value is an empty catalog.
type Catalog struct {
	subjects map[string]Subject
	order    []string
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultYAML)
}

// Load reads a catalog from a YAML file. An empty path loads the default.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("loading catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog yaml: %w", err)
	}

	c := &Catalog{subjects: make(map[string]Subject, len(f.Subjects))}
	for i, s := range f.Subjects {
		if err := validateSubject(s); err != nil {
			return nil, fmt.Errorf("subject %d: %w", i, err)
		}
		if _, dup := c.subjects[s.ID]; dup {
			return nil, fmt.Errorf("duplicate subject id %q", s.ID)
		}
		c.subjects[s.ID] = s
		c.order = append(c.order, s.ID)
	}

	slog.Debug("catalog loaded", "subjects", len(c.order))
	return c, nil
}

func validateSubject(s Subject) error {
	if s.ID == "" {
		return fmt.Errorf("id is required")
	}
	if s.Name == "" {
		return fmt.Errorf("subject %q: name is required", s.ID)
	}

	seen := make(map[string]bool, len(s.Topics))
	for _, t := range s.Topics {
		switch {
		case t.ID == "":
			return fmt.Errorf("subject %q: topic id is required", s.ID)
		case seen[t.ID]:
			return fmt.Errorf("subject %q: duplicate topic id %q", s.ID, t.ID)
		case t.Title == "":
			return fmt.Errorf("subject %q: topic %q has no title", s.ID, t.ID)
		case t.XPReward <= 0:
			return fmt.Errorf("subject %q: topic %q must reward positive XP", s.ID, t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}

// Subject returns a subject by ID. The returned topic slice is a copy.
func (c *Catalog) Subject(id string) (Subject, bool) {
	s, ok := c.subjects[id]
	if !ok {
		return Subject{}, false
	}
	s.Topics = append([]TopicDef(nil), s.Topics...)
	return s, true
}

// SubjectName returns the display name for a subject ID, or
// DefaultSubjectName when the ID is unknown.
func (c *Catalog) SubjectName(id string) string {
	if s, ok := c.subjects[id]; ok {
		return s.Name
	}
	return DefaultSubjectName
}

// Subjects returns all subjects in catalog order.
func (c *Catalog) Subjects() []Subject {
	out := make([]Subject, 0, len(c.order))
	for _, id := range c.order {
		s, _ := c.Subject(id)
		out = append(out, s)
	}
	return out
}

// Len returns the number of subjects.
func (c *Catalog) Len() int {
	return len(c.order)
}
