package replies

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Surface selects which set of templates to render.
type Surface string

const (
	Chat        Surface = "chat"
	Fulfillment Surface = "fulfillment"
)

// Template keys.
const (
	TriggerOK     = "trigger_ok"
	TriggerFailed = "trigger_failed"
	StatusOK      = "status_ok"
	StatusFailed  = "status_failed"
	CancelOK      = "cancel_ok"
	CancelNone    = "cancel_none"
	MRsEmpty      = "mrs_empty"
	MRsFailed     = "mrs_failed"
	MRsHeader     = "mrs_header"
	MRsItem       = "mrs_item"
	Greeting      = "greeting"
	Help          = "help"
	ExactPhrase   = "exact_phrase"
	Unknown       = "unknown"
)

//go:embed replies.yaml
var defaultYAML []byte

// Catalog holds message templates per surface.
type Catalog struct {
	templates map[Surface]map[string]string
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded replies.yaml is invalid: %v", err))
	}
	return c
}

// Load returns the built-in catalog with any templates from path layered on
// top. An empty path yields the defaults.
func Load(path string) (*Catalog, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read replies file %s: %w", path, err)
	}

	override, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse replies file %s: %w", path, err)
	}

	for surface, tmpls := range override.templates {
		base, ok := c.templates[surface]
		if !ok {
			return nil, fmt.Errorf("unknown surface %q in %s", surface, path)
		}
		for key, tmpl := range tmpls {
			if _, ok := base[key]; !ok {
				return nil, fmt.Errorf("unknown template %s.%s in %s", surface, key, path)
			}
			base[key] = tmpl
		}
	}
	return c, nil
}

func parse(data []byte) (*Catalog, error) {
	parsed := make(map[Surface]map[string]string)
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	return &Catalog{templates: parsed}, nil
}

// Render fills the named template. args are placeholder/value pairs, e.g.
// Render(Chat, StatusOK, "branch", "main", "state", "running").
func (c *Catalog) Render(surface Surface, key string, args ...string) string {
	tmpl, ok := c.templates[surface][key]
	if !ok {
		return ""
	}
	if len(args) == 0 {
		return tmpl
	}

	oldnew := make([]string, 0, len(args))
	for i := 0; i+1 < len(args); i += 2 {
		oldnew = append(oldnew, "{"+args[i]+"}", args[i+1])
	}
	return strings.NewReplacer(oldnew...).Replace(tmpl)
}
