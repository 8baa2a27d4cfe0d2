// FILE: lixenwraith/cornflakes/config.go
// Package cornflakes resolves declared configuration schemas against INI, YAML,
// TOML, JSON and HCL sources, environment variables and explicit overrides.
package cornflakes

import (
	"maps"
	"slices"

	"go.uber.org/zap"
)

// Source represents a configuration source, used to define load precedence
type Source string

const (
	// SourceDefault represents use of declared default values
	SourceDefault Source = "default"
	// SourceFile represents values loaded from a configuration file
	SourceFile Source = "file"
	// SourceEnv represents values loaded from environment variables
	SourceEnv Source = "env"
	// SourceOverride represents values supplied by the caller for one resolution
	SourceOverride Source = "override"
)

// Values maps field names to resolved, typed values.
type Values map[string]any

// Clone returns a copy of v; nested maps are copied as well.
func (v Values) Clone() Values {
	return Values(cloneMap(v))
}

// Record is one resolved configuration record.
type Record struct {
	// Section is the title of the section the record was read from, empty if none.
	Section string
	Values  Values
	// Origins tells which source supplied each value.
	Origins map[string]Source
}

// Result is the outcome of one resolution. Single schemas always carry exactly
// one record; multi schemas carry one per matching section, possibly none.
type Result struct {
	Schema  string
	Files   []string
	Records []Record
}

// First returns the first record, or false when there is none.
func (r Result) First() (Record, bool) {
	if len(r.Records) == 0 {
		return Record{}, false
	}
	return r.Records[0], true
}

// Values returns the values of the first record, or nil.
func (r Result) Values() Values {
	if rec, ok := r.First(); ok {
		return rec.Values
	}
	return nil
}

// Sections returns the section titles of all records.
func (r Result) Sections() []string {
	names := make([]string, len(r.Records))
	for i, rec := range r.Records {
		names[i] = rec.Section
	}
	return names
}

// Request carries the per-call arguments of a resolution.
type Request struct {
	// Files is the locator. Empty falls back to the schema's files.
	Files []string
	// SectionFiles is the grouped form of the locator: each section name maps
	// to the files it is read from, and each group is parsed with its section
	// as the only filter. The "" key uses Sections instead. Groups are read
	// after Files in section name order.
	SectionFiles map[string][]string
	// Sections filters the sections of the sources. Empty falls back to the schema's sections.
	Sections []string
	// EvalEnv and AllowEmpty are OR-ed with the schema's flags.
	EvalEnv    bool
	AllowEmpty bool
	// Overrides always win over every other source.
	Overrides map[string]any
	// Dict is an in-memory source parsed with the same section rules as files.
	Dict map[string]any
}

func (req Request) clone() Request {
	out := req
	out.Files = slices.Clone(req.Files)
	out.SectionFiles = cloneGroups(req.SectionFiles)
	out.Sections = slices.Clone(req.Sections)
	out.Overrides = maps.Clone(req.Overrides)
	return out
}

// sources returns the effective locator of req: its own files and groups, or
// the schema's when req names neither.
func (req Request) sources(schema *Schema) ([]string, map[string][]string) {
	if len(req.Files) == 0 && len(req.SectionFiles) == 0 {
		return schema.Files, schema.SectionFiles
	}
	return req.Files, req.SectionFiles
}

// hasSources reports whether req names files of its own.
func (req Request) hasSources() bool {
	return len(req.Files) > 0 || len(req.SectionFiles) > 0
}

// Resolver merges schemas with sources. It holds no mutable state and is safe
// for concurrent use.
type Resolver struct {
	parser  Parser
	formats Formats
	lookup  EnvLookup
	logger  *zap.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithParser replaces the file-format parser collaborator.
func WithParser(p Parser) ResolverOption {
	return func(r *Resolver) {
		r.parser = p
	}
}

// WithFormats sets the format table used by the default parser.
func WithFormats(f Formats) ResolverOption {
	return func(r *Resolver) {
		r.formats = f
	}
}

// WithEnvLookup replaces os.LookupEnv for overlay and expansion.
func WithEnvLookup(fn EnvLookup) ResolverOption {
	return func(r *Resolver) {
		r.lookup = fn
	}
}

// WithLogger sets the logger. Resolution logs at debug level only.
func WithLogger(l *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver creates a resolver. Without options it parses files with the
// default format table and reads the process environment.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		lookup: osLookupEnv,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.formats == nil {
		r.formats = DefaultFormats()
	}
	if r.parser == nil {
		r.parser = NewFileParser(r.formats, WithParserLogger(r.logger))
	}
	return r
}

var defaultResolver = NewResolver()

// Resolve resolves schema with the default resolver.
func Resolve(schema *Schema, req Request) (Result, error) {
	return defaultResolver.Resolve(schema, req)
}

// MustResolve is like Resolve but panics on error.
func MustResolve(schema *Schema, req Request) Result {
	res, err := Resolve(schema, req)
	if err != nil {
		panic("cornflakes: " + err.Error())
	}
	return res
}

// ResolveInto resolves schema and constructs one T per record.
func ResolveInto[T any](r *Resolver, schema *Schema, req Request) ([]T, error) {
	if r == nil {
		r = defaultResolver
	}
	res, err := r.Resolve(schema, req)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(res.Records))
	for _, rec := range res.Records {
		v, err := Construct[T](schema, rec.Values)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
