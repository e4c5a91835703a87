// Package prompt holds the named text templates the agent renders before each
// completion call.
package prompt

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	SQLQuery  = "sql_query"
	SQLAnswer = "sql_answer"
)

//go:embed templates.yaml
var embeddedTemplates []byte

var ErrPromptRender = errors.New("prompt render failed")

type RenderError struct {
	TemplateID string
	Missing    []string
	Reason     string
}

func (e *RenderError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("render template %q: missing variables %s", e.TemplateID, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("render template %q: %s", e.TemplateID, e.Reason)
}

func (e *RenderError) Unwrap() error { return ErrPromptRender }

// Renderer produces prompt text from a template id and its variables.
type Renderer interface {
	Render(templateID string, vars map[string]string) (string, error)
}

type Template struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	Variables   []string `yaml:"variables"`
	Text        string   `yaml:"template"`
}

type document struct {
	Templates []Template `yaml:"templates"`
}

// Library is an immutable set of templates keyed by id.
type Library struct {
	templates map[string]Template
}

// placeholder matches {name}; doubled braces render as literal braces.
var placeholder = regexp.MustCompile(`\{\{|\}\}|\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func Default() (*Library, error) {
	lib, err := Parse(bytes.NewReader(embeddedTemplates))
	if err != nil {
		return nil, fmt.Errorf("parse embedded templates: %w", err)
	}
	return lib, nil
}

// Open returns the embedded templates overlaid with the templates in path.
// An empty path returns the embedded templates unchanged.
func Open(path string) (*Library, error) {
	lib, err := Default()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return lib, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open templates file: %w", err)
	}
	defer func() { _ = f.Close() }()
	overrides, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse templates file %s: %w", path, err)
	}
	return lib.With(overrides), nil
}

func Parse(r io.Reader) (*Library, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode templates: %w", err)
	}
	lib := &Library{templates: make(map[string]Template, len(doc.Templates))}
	for _, tmpl := range doc.Templates {
		tmpl.ID = strings.TrimSpace(tmpl.ID)
		if tmpl.ID == "" {
			return nil, fmt.Errorf("template id is required")
		}
		if _, dup := lib.templates[tmpl.ID]; dup {
			return nil, fmt.Errorf("duplicate template %q", tmpl.ID)
		}
		if err := validate(tmpl); err != nil {
			return nil, err
		}
		lib.templates[tmpl.ID] = tmpl
	}
	return lib, nil
}

// validate checks that the declared variables match the placeholders used.
func validate(tmpl Template) error {
	declared := make(map[string]bool, len(tmpl.Variables))
	for _, name := range tmpl.Variables {
		declared[name] = true
	}
	used := placeholders(tmpl.Text)
	for name := range used {
		if !declared[name] {
			return fmt.Errorf("template %q uses undeclared variable %q", tmpl.ID, name)
		}
	}
	for name := range declared {
		if !used[name] {
			return fmt.Errorf("template %q declares unused variable %q", tmpl.ID, name)
		}
	}
	return nil
}

func placeholders(text string) map[string]bool {
	out := map[string]bool{}
	for _, match := range placeholder.FindAllStringSubmatch(text, -1) {
		if match[1] != "" {
			out[match[1]] = true
		}
	}
	return out
}

// With returns a new library where templates in other replace those with the
// same id.
func (l *Library) With(other *Library) *Library {
	merged := &Library{templates: make(map[string]Template, len(l.templates))}
	for id, tmpl := range l.templates {
		merged.templates[id] = tmpl
	}
	if other != nil {
		for id, tmpl := range other.templates {
			merged.templates[id] = tmpl
		}
	}
	return merged
}

func (l *Library) Get(id string) (Template, bool) {
	tmpl, ok := l.templates[id]
	return tmpl, ok
}

func (l *Library) IDs() []string {
	ids := make([]string, 0, len(l.templates))
	for id := range l.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (l *Library) Render(templateID string, vars map[string]string) (string, error) {
	tmpl, ok := l.templates[templateID]
	if !ok {
		return "", &RenderError{TemplateID: templateID, Reason: "unknown template"}
	}

	var missing []string
	for _, name := range tmpl.Variables {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return "", &RenderError{TemplateID: templateID, Missing: missing}
	}

	return placeholder.ReplaceAllStringFunc(tmpl.Text, func(match string) string {
		switch match {
		case "{{":
			return "{"
		case "}}":
			return "}"
		}
		return vars[match[1:len(match)-1]]
	}), nil
}
