// FILE: lixenwraith/cornflakes/schemafile.go
package cornflakes

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// schemaFile is the YAML description of a schema, for callers without a Go type.
//
//	name: database
//	files: [db.ini]
//	env_prefix: DB_
//	fields:
//	  - {name: host, type: string, required: true}
//	  - {name: port, type: int, default: 5432, aliases: [db_port]}
type schemaFile struct {
	Name         string              `yaml:"name"`
	Files        []string            `yaml:"files"`
	SectionFiles map[string][]string `yaml:"section_files"`
	Sections     []string            `yaml:"sections"`
	Multi        bool                `yaml:"multi"`
	Regex        bool                `yaml:"regex"`
	AllowEmpty   bool                `yaml:"allow_empty"`
	EvalEnv      bool                `yaml:"eval_env"`
	EnvPrefix    string              `yaml:"env_prefix"`
	Loader       string              `yaml:"loader"`
	Extra        bool                `yaml:"extra"`
	Fields       []schemaItem        `yaml:"fields"`
}

type schemaItem struct {
	Name          string   `yaml:"name"`
	Type          string   `yaml:"type"`
	Required      bool     `yaml:"required"`
	Default       any      `yaml:"default"`
	Aliases       []string `yaml:"aliases"`
	Ignore        bool     `yaml:"ignore"`
	NonComparable bool     `yaml:"noncomparable"`
}

// LoadSchemaFile reads a schema description from a YAML file.
func LoadSchemaFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}
	return ParseSchema(data)
}

// ParseSchema builds a schema from its YAML description. Unknown keys are rejected.
func ParseSchema(data []byte) (*Schema, error) {
	var sf schemaFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	fields := make([]Field, 0, len(sf.Fields))
	for _, item := range sf.Fields {
		kind, err := ParseKind(item.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", ErrInvalidSchema, item.Name, err)
		}
		def := item.Default
		if def != nil {
			if def, err = coerce(kind, def); err != nil {
				return nil, fmt.Errorf("%w: default of field %s: %v", ErrInvalidSchema, item.Name, err)
			}
		}
		fields = append(fields, Field{
			Name:          item.Name,
			Type:          kind,
			Required:      item.Required,
			Default:       def,
			Aliases:       item.Aliases,
			Ignore:        item.Ignore,
			NonComparable: item.NonComparable,
		})
	}

	loader, err := ParseLoader(sf.Loader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}

	opts := []SchemaOption{
		WithFiles(sf.Files...),
		WithSectionFiles(sf.SectionFiles),
		WithSections(sf.Sections...),
		WithEnvPrefix(sf.EnvPrefix),
		WithLoader(loader),
	}
	if sf.Multi {
		opts = append(opts, WithMulti())
	}
	if sf.Regex {
		opts = append(opts, WithRegexSections())
	}
	if sf.AllowEmpty {
		opts = append(opts, WithAllowEmpty())
	}
	if sf.EvalEnv {
		opts = append(opts, WithEvalEnv())
	}
	if sf.Extra {
		opts = append(opts, WithExtraKeys())
	}

	return NewSchema(sf.Name, fields, opts...)
}
