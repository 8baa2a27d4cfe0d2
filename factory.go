// FILE: lixenwraith/cornflakes/factory.go
package cornflakes

import (
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// Factory constructs records of T for one schema. It resolves the schema's
// sources once and builds later instances from that cache unless a call
// changes a value or names its own sources.
type Factory[T any] struct {
	schema   *Schema
	resolver *Resolver
	autoload bool
	logger   *zap.Logger

	mutex    sync.RWMutex
	defaults Record
}

type factoryConfig struct {
	resolver *Resolver
	autoload bool
	logger   *zap.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*factoryConfig)

// WithoutAutoload skips resolving sources at construction. Every instance is
// then built from field defaults and the call's overrides alone, unless the
// call names files.
func WithoutAutoload() FactoryOption {
	return func(c *factoryConfig) {
		c.autoload = false
	}
}

// WithResolver sets the resolver used by the factory.
func WithResolver(r *Resolver) FactoryOption {
	return func(c *factoryConfig) {
		if r != nil {
			c.resolver = r
		}
	}
}

// WithFactoryLogger sets the factory logger.
func WithFactoryLogger(l *zap.Logger) FactoryOption {
	return func(c *factoryConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewFactory creates a factory and, unless disabled, resolves the schema's
// declared sources. A resolution error is returned as is, so callers can
// retry with WithoutAutoload.
func NewFactory[T any](schema *Schema, opts ...FactoryOption) (*Factory[T], error) {
	if schema == nil {
		return nil, fmt.Errorf("%w: nil schema", ErrInvalidSchema)
	}

	cfg := factoryConfig{resolver: defaultResolver, autoload: true, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	f := &Factory[T]{
		schema:   schema,
		resolver: cfg.resolver,
		autoload: cfg.autoload,
		logger:   cfg.logger,
	}
	if f.autoload {
		if err := f.Refresh(); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Schema returns the factory's schema.
func (f *Factory[T]) Schema() *Schema {
	return f.schema
}

// Defaults returns a copy of the cached record. It is empty without autoload.
func (f *Factory[T]) Defaults() Record {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return copyRecord(f.defaults)
}

// Refresh resolves the schema's declared sources again and replaces the cache.
// A schema without declared files caches its field defaults; required fields
// are then checked per instance.
func (f *Factory[T]) Refresh() error {
	if len(f.schema.Files) == 0 && len(f.schema.SectionFiles) == 0 {
		rec, err := defaultRecord(f.schema)
		if err != nil {
			return err
		}
		f.mutex.Lock()
		f.defaults = rec
		f.mutex.Unlock()
		return nil
	}

	res, err := f.resolver.Resolve(f.schema, Request{})
	if err != nil {
		return err
	}

	rec, ok := res.First()
	if f.schema.Multi {
		f.logger.Debug("schema generates a list of records, instances use the first one",
			zap.String("schema", f.schema.Name),
			zap.Int("records", len(res.Records)),
		)
	}
	if !ok {
		rec, err = f.resolver.build(f.schema, nil, res.Files, false, nil)
		if err != nil {
			return err
		}
	}

	f.mutex.Lock()
	f.defaults = rec
	f.mutex.Unlock()
	return nil
}

// New constructs a T for req.
func (f *Factory[T]) New(req Request) (T, error) {
	rec, err := f.Record(req)
	if err != nil {
		var zero T
		return zero, err
	}
	return Construct[T](f.schema, rec.Values)
}

// MustNew is like New but panics on error.
func (f *Factory[T]) MustNew(req Request) T {
	v, err := f.New(req)
	if err != nil {
		panic("cornflakes: " + err.Error())
	}
	return v
}

// Record resolves the values of one instance. With no changed override and
// no files or dict in req it is built from the cache without reading sources;
// otherwise req is resolved with only the changed overrides.
func (f *Factory[T]) Record(req Request) (Record, error) {
	changed := f.changedOverrides(req.Overrides)
	if len(changed) == 0 && !req.hasSources() && req.Dict == nil {
		return f.fromDefaults(req.Overrides)
	}

	sub := req.clone()
	if f.autoload {
		sub.Overrides = changed
	}
	res, err := f.resolver.Resolve(f.schema, sub)
	if err != nil {
		return Record{}, err
	}
	if rec, ok := res.First(); ok {
		return rec, nil
	}
	return f.resolver.build(f.schema, nil, res.Files, false, changed)
}

// fromDefaults layers overrides over the cached record. Only overridden
// values are coerced again, so validators never see their own output.
func (f *Factory[T]) fromDefaults(overrides map[string]any) (Record, error) {
	if !f.autoload {
		return f.resolver.build(f.schema, nil, nil, false, overrides)
	}

	rec := f.Defaults()
	raw := make(map[string]any, len(overrides))
	for i := range f.schema.Fields {
		field := &f.schema.Fields[i]
		if field.DefaultFunc != nil && rec.Origins[field.Name] == SourceDefault {
			raw[field.Name] = field.DefaultFunc()
		}
	}
	if unknown := applyOverrides(f.schema, raw, rec.Origins, overrides); len(unknown) > 0 {
		return Record{}, &ConstructionError{Schema: f.schema.Name, Unknown: unknown}
	}

	var missing []string
	for _, key := range f.schema.RequiredKeys() {
		_, cached := rec.Values[key]
		_, given := raw[key]
		if !cached && !given {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return Record{}, &MissingFieldsError{Schema: f.schema.Name, Missing: missing}
	}

	typed, err := coerceValues(f.schema, raw)
	if err != nil {
		return Record{}, err
	}
	for k, v := range typed {
		rec.Values[k] = v
	}
	return rec, nil
}

// changedOverrides returns the overrides whose value differs from the cache.
// Non-comparable fields are compared by their %#v text. Without autoload
// nothing counts as changed.
func (f *Factory[T]) changedOverrides(overrides map[string]any) map[string]any {
	if !f.autoload || len(overrides) == 0 {
		return nil
	}

	f.mutex.RLock()
	defaults := f.defaults.Values
	f.mutex.RUnlock()

	changed := make(map[string]any)
	for key, v := range overrides {
		field, ok := f.schema.Lookup(key)
		if !ok {
			changed[key] = v
			continue
		}
		def, cached := defaults[field.Name]
		if !cached {
			changed[key] = v
			continue
		}
		if field.NonComparable {
			if fmt.Sprintf("%#v", v) != fmt.Sprintf("%#v", def) {
				changed[key] = v
			}
			continue
		}
		if !reflect.DeepEqual(comparableValue(field, v), def) {
			changed[key] = v
		}
	}
	return changed
}

// comparableValue brings an override into the cached representation of field.
func comparableValue(field *Field, v any) any {
	if field.Validator != nil {
		return v
	}
	if typed, err := coerce(field.Type, v); err == nil {
		return typed
	}
	return v
}

// defaultRecord holds the default of every field that is not required.
func defaultRecord(schema *Schema) (Record, error) {
	values := make(map[string]any, len(schema.Fields))
	origins := make(map[string]Source, len(schema.Fields))
	for i := range schema.Fields {
		f := &schema.Fields[i]
		if f.Required {
			continue
		}
		values[f.Name] = f.defaultValue()
		origins[f.Name] = SourceDefault
	}
	typed, err := coerceValues(schema, values)
	if err != nil {
		return Record{}, err
	}
	return Record{Values: typed, Origins: origins}, nil
}

func copyRecord(rec Record) Record {
	out := Record{Section: rec.Section, Values: rec.Values.Clone()}
	if out.Values == nil {
		out.Values = make(Values)
	}
	out.Origins = make(map[string]Source, len(rec.Origins))
	for k, v := range rec.Origins {
		out.Origins[k] = v
	}
	return out
}
