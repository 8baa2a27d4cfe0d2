// FILE: lixenwraith/cornflakes/schema.go
package cornflakes

import (
	"fmt"
	"strings"
	"time"
)

// SectionNameKey is the field that receives the title of the section a record was read from.
const SectionNameKey = "section_name"

// DefaultTagName is the struct tag read by SchemaOf and Construct.
const DefaultTagName = "cfg"

// Kind is the declared type of a schema field.
type Kind int

const (
	// KindAny passes values through untouched
	KindAny Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindDuration
	KindStringList
	KindIntList
	KindMap
)

var kindNames = map[Kind]string{
	KindAny:        "any",
	KindString:     "string",
	KindInt:        "int",
	KindFloat:      "float",
	KindBool:       "bool",
	KindDuration:   "duration",
	KindStringList: "[]string",
	KindIntList:    "[]int",
	KindMap:        "map",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind maps a type name as written in schema files to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return KindAny, nil
	case "string", "str":
		return KindString, nil
	case "int", "int64", "integer":
		return KindInt, nil
	case "float", "float64", "number":
		return KindFloat, nil
	case "bool", "boolean":
		return KindBool, nil
	case "duration":
		return KindDuration, nil
	case "[]string", "strings", "list":
		return KindStringList, nil
	case "[]int", "ints":
		return KindIntList, nil
	case "map", "dict", "object":
		return KindMap, nil
	}
	return KindAny, fmt.Errorf("unknown field type %q", s)
}

// zero returns the value a non-required field without default resolves to.
func (k Kind) zero() any {
	switch k {
	case KindString:
		return ""
	case KindInt:
		return int64(0)
	case KindFloat:
		return float64(0)
	case KindBool:
		return false
	case KindDuration:
		return time.Duration(0)
	case KindStringList:
		return []string{}
	case KindIntList:
		return []int64{}
	case KindMap:
		return map[string]any{}
	default:
		return nil
	}
}

// ValidatorFunc converts a raw value into the field's typed value.
type ValidatorFunc func(raw any) (any, error)

// Field describes one named, typed entry of a schema.
type Field struct {
	Name     string
	Type     Kind
	Required bool

	// Default and DefaultFunc are mutually exclusive, and both are
	// forbidden on required fields. DefaultFunc is called once per record.
	Default     any
	DefaultFunc func() any

	// Aliases are alternative keys looked up in sources and environment.
	Aliases []string

	// Validator replaces the Kind coercion when set.
	Validator ValidatorFunc

	// Ignore excludes the field from loading; it always takes its default.
	Ignore bool

	// NonComparable fields are compared by their %#v text when detecting overrides.
	NonComparable bool
}

func (f *Field) hasDefault() bool {
	return f.Default != nil || f.DefaultFunc != nil
}

func (f *Field) defaultValue() any {
	if f.DefaultFunc != nil {
		return f.DefaultFunc()
	}
	if f.Default != nil {
		return f.Default
	}
	return f.Type.zero()
}

// keys returns the field name followed by its aliases.
func (f *Field) keys() []string {
	return append([]string{f.Name}, f.Aliases...)
}

// Schema is the declared shape of a configuration record.
// A schema is built once and is read-only afterwards.
type Schema struct {
	Name   string
	Fields []Field

	// Files is the default locator used when a request names no files.
	Files []string
	// SectionFiles is the default grouped locator, see Request.SectionFiles.
	SectionFiles map[string][]string
	// Sections is the default section filter.
	Sections []string

	// Multi schemas expand into one record per matching section.
	Multi bool
	// UseRegex treats section filters as regular expressions.
	UseRegex   bool
	AllowEmpty bool
	EvalEnv    bool
	EnvPrefix  string
	Loader     Loader
	// AllowExtra lets keys the schema does not declare pass through to the record.
	AllowExtra bool
	TagName    string

	index map[string]int
}

// SchemaOption configures a schema at construction time.
type SchemaOption func(*Schema)

// WithFiles sets the default locator.
func WithFiles(files ...string) SchemaOption {
	return func(s *Schema) {
		s.Files = files
	}
}

// WithSectionFiles sets the default grouped locator.
func WithSectionFiles(groups map[string][]string) SchemaOption {
	return func(s *Schema) {
		s.SectionFiles = cloneGroups(groups)
	}
}

// WithSections sets the default section filter.
func WithSections(sections ...string) SchemaOption {
	return func(s *Schema) {
		s.Sections = sections
	}
}

// WithMulti declares the schema as expanding into a list of records.
func WithMulti() SchemaOption {
	return func(s *Schema) {
		s.Multi = true
	}
}

// WithRegexSections makes the section filter match by regular expression.
func WithRegexSections() SchemaOption {
	return func(s *Schema) {
		s.UseRegex = true
	}
}

// WithAllowEmpty accepts missing or empty sources.
func WithAllowEmpty() SchemaOption {
	return func(s *Schema) {
		s.AllowEmpty = true
	}
}

// WithEvalEnv enables environment overlay and ${VAR} expansion in sources.
func WithEvalEnv() SchemaOption {
	return func(s *Schema) {
		s.EvalEnv = true
	}
}

// WithEnvPrefix sets the prefix of environment variable names, e.g. "MYAPP_".
func WithEnvPrefix(prefix string) SchemaOption {
	return func(s *Schema) {
		s.EnvPrefix = prefix
	}
}

// WithLoader fixes the source format instead of detecting it.
func WithLoader(l Loader) SchemaOption {
	return func(s *Schema) {
		s.Loader = l
	}
}

// WithExtraKeys lets undeclared keys pass through to the record.
func WithExtraKeys() SchemaOption {
	return func(s *Schema) {
		s.AllowExtra = true
	}
}

// WithTagName sets the struct tag used to decode records.
func WithTagName(tag string) SchemaOption {
	return func(s *Schema) {
		s.TagName = tag
	}
}

// NewSchema validates the field descriptors and builds the lookup index.
func NewSchema(name string, fields []Field, opts ...SchemaOption) (*Schema, error) {
	s := &Schema{
		Name:    name,
		Fields:  fields,
		TagName: DefaultTagName,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.Name == "" {
		return nil, fmt.Errorf("%w: schema name cannot be empty", ErrInvalidSchema)
	}
	if len(s.Fields) == 0 && !s.AllowEmpty {
		return nil, fmt.Errorf("%w: schema %s has no fields", ErrInvalidSchema, s.Name)
	}

	s.index = make(map[string]int, len(fields))
	var errs []string
	for i := range s.Fields {
		f := &s.Fields[i]
		switch {
		case f.Required && f.hasDefault():
			errs = append(errs, fmt.Sprintf("field %s cannot be required and have a default", f.Name))
		case f.Default != nil && f.DefaultFunc != nil:
			errs = append(errs, fmt.Sprintf("field %s cannot specify both default and default func", f.Name))
		case f.Required && f.Ignore:
			errs = append(errs, fmt.Sprintf("field %s cannot be required and ignored", f.Name))
		}
		for _, key := range f.keys() {
			if !isValidKeySegment(key) {
				errs = append(errs, fmt.Sprintf("invalid key %q for field %s", key, f.Name))
				continue
			}
			if prev, exists := s.index[key]; exists {
				errs = append(errs, fmt.Sprintf("key %q of field %s already used by field %s", key, f.Name, s.Fields[prev].Name))
				continue
			}
			s.index[key] = i
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSchema, strings.Join(errs, "; "))
	}

	return s, nil
}

// MustSchema is like NewSchema but panics on error.
func MustSchema(name string, fields []Field, opts ...SchemaOption) *Schema {
	s, err := NewSchema(name, fields, opts...)
	if err != nil {
		panic(fmt.Sprintf("cornflakes: %v", err))
	}
	return s
}

// Lookup finds a field by name or alias.
func (s *Schema) Lookup(key string) (*Field, bool) {
	if s.index != nil {
		if i, ok := s.index[key]; ok {
			return &s.Fields[i], true
		}
		return nil, false
	}
	for i := range s.Fields {
		for _, k := range s.Fields[i].keys() {
			if k == key {
				return &s.Fields[i], true
			}
		}
	}
	return nil, false
}

// RequiredKeys returns the names of required, non-ignored fields in declaration order.
func (s *Schema) RequiredKeys() []string {
	var keys []string
	for _, f := range s.Fields {
		if f.Required && !f.Ignore {
			keys = append(keys, f.Name)
		}
	}
	return keys
}

// FieldNames returns all field names in declaration order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Defaults evaluates the defaults of all non-required fields.
func (s *Schema) Defaults() Values {
	values := make(Values, len(s.Fields))
	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Required {
			continue
		}
		values[f.Name] = f.defaultValue()
	}
	return values
}

// hasSectionName reports whether records receive the title of their section.
func (s *Schema) hasSectionName() bool {
	_, ok := s.Lookup(SectionNameKey)
	return ok
}

func (s *Schema) tagName() string {
	if s.TagName == "" {
		return DefaultTagName
	}
	return s.TagName
}
