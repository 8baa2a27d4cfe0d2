// File: lixenwraith/cornflakes/builder.go
package cornflakes

import (
	"fmt"
	"maps"
	"os"
	"reflect"

	"go.uber.org/zap"
)

// ResultValidatorFunc checks a resolved result. It runs after resolution and
// should return an error if validation fails.
type ResultValidatorFunc func(res Result) error

// Builder provides a fluent interface for resolving configurations
type Builder struct {
	schema       *Schema
	defaults     any
	schemaOpts   []SchemaOption
	req          Request
	args         []string
	discovery    *FileDiscoveryOptions
	resolverOpts []ResolverOption
	validators   []ResultValidatorFunc
	err          error
}

// NewBuilder creates a new configuration builder
func NewBuilder() *Builder {
	return &Builder{
		args:       os.Args[1:],
		validators: make([]ResultValidatorFunc, 0),
	}
}

// WithSchema sets an explicit schema. It takes precedence over WithDefaults.
func (b *Builder) WithSchema(schema *Schema) *Builder {
	b.schema = schema
	return b
}

// WithDefaults sets the struct whose type and values define the schema
func (b *Builder) WithDefaults(defaults any) *Builder {
	b.defaults = defaults
	return b
}

// WithSchemaOptions adds options applied when the schema is derived from defaults
func (b *Builder) WithSchemaOptions(opts ...SchemaOption) *Builder {
	b.schemaOpts = append(b.schemaOpts, opts...)
	return b
}

// WithEnvPrefix enables the environment overlay with the given variable prefix
func (b *Builder) WithEnvPrefix(prefix string) *Builder {
	b.schemaOpts = append(b.schemaOpts, WithEnvPrefix(prefix))
	b.req.EvalEnv = true
	return b
}

// WithSectionFile reads section from path, see Request.SectionFiles
func (b *Builder) WithSectionFile(section, path string) *Builder {
	if b.req.SectionFiles == nil {
		b.req.SectionFiles = make(map[string][]string)
	}
	b.req.SectionFiles[section] = append(b.req.SectionFiles[section], path)
	return b
}

// WithFile appends a configuration file to the locator
func (b *Builder) WithFile(path string) *Builder {
	b.req.Files = append(b.req.Files, path)
	return b
}

// WithSections sets the section filter
func (b *Builder) WithSections(sections ...string) *Builder {
	b.req.Sections = sections
	return b
}

// WithEvalEnv enables the environment overlay and ${VAR} expansion
func (b *Builder) WithEvalEnv() *Builder {
	b.req.EvalEnv = true
	return b
}

// WithAllowEmpty accepts missing or empty sources
func (b *Builder) WithAllowEmpty() *Builder {
	b.req.AllowEmpty = true
	return b
}

// WithOverride sets one explicit value
func (b *Builder) WithOverride(key string, value any) *Builder {
	if b.req.Overrides == nil {
		b.req.Overrides = make(map[string]any)
	}
	b.req.Overrides[key] = value
	return b
}

// WithOverrides merges explicit values
func (b *Builder) WithOverrides(values map[string]any) *Builder {
	if b.req.Overrides == nil {
		b.req.Overrides = make(map[string]any, len(values))
	}
	maps.Copy(b.req.Overrides, values)
	return b
}

// WithDict sets an in-memory source
func (b *Builder) WithDict(dict map[string]any) *Builder {
	b.req.Dict = dict
	return b
}

// WithArgs sets the command-line arguments searched by file discovery
func (b *Builder) WithArgs(args []string) *Builder {
	b.args = args
	return b
}

// WithResolverOptions adds options for the resolver used by Build
func (b *Builder) WithResolverOptions(opts ...ResolverOption) *Builder {
	b.resolverOpts = append(b.resolverOpts, opts...)
	return b
}

// WithLogger sets the resolver logger
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	return b.WithResolverOptions(WithLogger(l))
}

// WithValidator adds a validation function that runs at the end of the build process
// Multiple validators can be added and are executed in the order they are added
func (b *Builder) WithValidator(fn ResultValidatorFunc) *Builder {
	if fn != nil {
		b.validators = append(b.validators, fn)
	}
	return b
}

// Schema returns the schema Build resolves, deriving it from defaults if needed.
func (b *Builder) Schema() (*Schema, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.schema != nil {
		return b.schema, nil
	}
	if b.defaults == nil {
		return nil, fmt.Errorf("%w: builder needs a schema or defaults", ErrInvalidSchema)
	}
	schema, err := SchemaOf(b.defaults, b.schemaOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to derive schema from defaults: %w", err)
	}
	b.schema = schema
	return schema, nil
}

// Build resolves the configuration with all specified options
func (b *Builder) Build() (Result, error) {
	schema, err := b.Schema()
	if err != nil {
		return Result{}, err
	}

	req := b.req.clone()
	if !req.hasSources() && b.discovery != nil {
		opts := *b.discovery
		if opts.Args == nil {
			opts.Args = b.args
		}
		if found := DiscoverFiles(opts); len(found) > 0 {
			req.Files = found[:1]
		}
	}

	res, err := NewResolver(b.resolverOpts...).Resolve(schema, req)
	if err != nil {
		return Result{}, err
	}

	// Run validators
	for _, validator := range b.validators {
		if err := validator(res); err != nil {
			return Result{}, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	return res, nil
}

// MustBuild is like Build but panics on error
func (b *Builder) MustBuild() Result {
	res, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("config build failed: %v", err))
	}
	return res
}

// BuildInto builds and decodes the result into target. A pointer to a slice
// receives every record; any other pointer receives the first one.
func (b *Builder) BuildInto(target any) error {
	res, err := b.Build()
	if err != nil {
		return err
	}

	rv := reflect.ValueOf(target)
	if rv.Kind() == reflect.Ptr && !rv.IsNil() && rv.Elem().Kind() == reflect.Slice {
		list := make([]any, len(res.Records))
		for i, rec := range res.Records {
			list[i] = map[string]any(rec.Values)
		}
		if err := decodeInto(b.schema, list, target); err != nil {
			return fmt.Errorf("failed to decode records into target: %w", err)
		}
		return nil
	}

	if err := ConstructInto(b.schema, res.Values(), target); err != nil {
		return fmt.Errorf("failed to decode record into target: %w", err)
	}
	return nil
}
