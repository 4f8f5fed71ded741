// Package loader reads collection definitions from YAML files. Decoding
// is strict: an unknown attribute fails the file rather than silently
// dropping configuration.
package loader

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/armature-dev/armature/meta"
)

// fileSchema is the YAML shape of one collection definition file.
type fileSchema struct {
	Name      string            `yaml:"name"`
	Label     string            `yaml:"label"`
	UserField string            `yaml:"user_field"`
	Auth      bool              `yaml:"auth"`
	Keys      []string          `yaml:"keys"`
	Ops       opsSpec           `yaml:"ops"`
	Roles     map[string]string `yaml:"roles"`
	Fields    []fieldSchema     `yaml:"fields"`
}

type fieldSchema struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
	Default  any    `yaml:"default"`
	Ref      string `yaml:"ref"`
	Link     string `yaml:"link"`
	OnDelete string `yaml:"on_delete"`
	Form     string `yaml:"form"`
	Create   *bool  `yaml:"create"`
	Update   *bool  `yaml:"update"`
	Search   *bool  `yaml:"search"`
	List     *bool  `yaml:"list"`
	Clone    *bool  `yaml:"clone"`
	Sys      bool   `yaml:"sys"`
	Secure   bool   `yaml:"secure"`
}

// opsSpec accepts either a shorthand scalar ("all", "crud") or an
// explicit operation list.
type opsSpec struct {
	flags meta.OpFlags
	set   bool
}

func (o *opsSpec) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		switch value.Value {
		case "all":
			o.flags = meta.AllOps()
		case "crud":
			o.flags = meta.CRUDOps()
		default:
			return fmt.Errorf("unknown ops shorthand %q (want all, crud, or a list)", value.Value)
		}
	case yaml.SequenceNode:
		var names []string
		if err := value.Decode(&names); err != nil {
			return err
		}
		for _, name := range names {
			switch name {
			case "create":
				o.flags.Create = true
			case "read":
				o.flags.Read = true
			case "update":
				o.flags.Update = true
			case "delete":
				o.flags.Delete = true
			case "clone":
				o.flags.Clone = true
			case "import":
				o.flags.Import = true
			case "export":
				o.flags.Export = true
			default:
				return fmt.Errorf("unknown operation %q", name)
			}
		}
	default:
		return fmt.Errorf("ops must be a shorthand string or a list")
	}
	o.set = true
	return nil
}

// Parse reads one collection definition. Omitted ops default to the
// four basic operations.
func Parse(r io.Reader) (meta.Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var raw fileSchema
	if err := dec.Decode(&raw); err != nil {
		return meta.Definition{}, err
	}

	def := meta.Definition{
		Name:      raw.Name,
		RefLabel:  raw.Label,
		UserField: raw.UserField,
		Auth:      raw.Auth,
		Keys:      raw.Keys,
		Roles:     raw.Roles,
		Ops:       raw.Ops.flags,
	}
	if !raw.Ops.set {
		def.Ops = meta.CRUDOps()
	}

	for _, fs := range raw.Fields {
		policy, err := meta.ParseDeletePolicy(fs.OnDelete)
		if err != nil {
			return meta.Definition{}, fmt.Errorf("field %s: %w", fs.Name, err)
		}
		def.Fields = append(def.Fields, meta.Field{
			Name:     fs.Name,
			Type:     fs.Type,
			Required: fs.Required,
			Default:  fs.Default,
			Ref:      fs.Ref,
			Link:     fs.Link,
			OnDelete: policy,
			Form:     fs.Form,
			Create:   fs.Create,
			Update:   fs.Update,
			Search:   fs.Search,
			List:     fs.List,
			Clone:    fs.Clone,
			Sys:      fs.Sys,
			Secure:   fs.Secure,
		})
	}
	return def, nil
}

// LoadFile reads one definition file.
func LoadFile(path string) (meta.Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return meta.Definition{}, err
	}
	defer f.Close()

	def, err := Parse(f)
	if err != nil {
		return meta.Definition{}, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// LoadDir reads every .yml and .yaml file in dir, in name order so
// registration order stays deterministic across runs.
func LoadDir(dir string) ([]meta.Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yml" && ext != ".yaml" {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)

	defs := make([]meta.Definition, 0, len(paths))
	for _, path := range paths {
		def, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Build loads a definitions directory and validates it into a registry.
func Build(dir string) (*meta.Registry, error) {
	defs, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("no collection definitions in %s", dir)
	}

	b := meta.NewBuilder(nil)
	for _, def := range defs {
		if err := b.Register(def); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

// ParseString parses a definition from a YAML string.
func ParseString(s string) (meta.Definition, error) {
	return Parse(strings.NewReader(s))
}
