// FILE: lixenwraith/cornflakes/resolve.go
package cornflakes

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DictLocator names the in-memory source of a request in results and errors.
const DictLocator = "<dict>"

// Resolve merges schema defaults, sources, environment and overrides into
// records. Precedence is overrides > env > file > default. Sources are read
// again on every call.
func (r *Resolver) Resolve(schema *Schema, req Request) (Result, error) {
	if schema == nil {
		return Result{}, fmt.Errorf("%w: nil schema", ErrInvalidSchema)
	}

	files, groups := req.sources(schema)
	sections := req.Sections
	if len(sections) == 0 {
		sections = schema.Sections
	}
	evalEnv := req.EvalEnv || schema.EvalEnv
	allowEmpty := req.AllowEmpty || schema.AllowEmpty

	locator := locatorList(files, groups)
	if req.Dict != nil {
		locator = append(locator, DictLocator)
	}

	r.logger.Debug("resolving config",
		zap.String("schema", schema.Name),
		zap.Strings("files", locator),
		zap.Strings("sections", sections),
		zap.Bool("eval_env", evalEnv),
		zap.Bool("allow_empty", allowEmpty),
	)

	raw, err := r.readSources(schema, files, groups, req.Dict, ParseOptions{
		Sections:   sections,
		UseRegex:   schema.UseRegex,
		EvalEnv:    evalEnv,
		AllowEmpty: allowEmpty,
		Loader:     schema.Loader,
		Lookup:     r.lookup,
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{Schema: schema.Name, Files: locator}

	if schema.Multi {
		res.Records = make([]Record, 0, raw.Len())
		for _, sec := range raw.Sections() {
			rec, err := r.build(schema, sec, locator, evalEnv, req.Overrides)
			if err != nil {
				return Result{}, fmt.Errorf("section %s: %w", sec.Name, err)
			}
			res.Records = append(res.Records, rec)
		}
		r.logger.Debug("resolved config list",
			zap.String("schema", schema.Name),
			zap.Int("records", len(res.Records)),
		)
		return res, nil
	}

	if len(locator) > 0 && !allowEmpty && raw.IsEmpty() && len(schema.RequiredKeys()) > 0 {
		return Result{}, &EmptySourceError{Schema: schema.Name, Files: locator, Sections: sections}
	}

	rec, err := r.build(schema, raw.First(), locator, evalEnv, req.Overrides)
	if err != nil {
		return Result{}, err
	}
	res.Records = []Record{rec}
	return res, nil
}

// readSources parses files and then each section group through the parser
// collaborator, and merges the in-memory dict on top. An empty locator yields
// an empty raw config.
func (r *Resolver) readSources(schema *Schema, files []string, groups map[string][]string, dict map[string]any, opts ParseOptions) (*RawConfig, error) {
	raw := NewRawConfig()
	if len(files) > 0 {
		parsed, err := r.parser.Parse(files, opts)
		if err != nil {
			return nil, err
		}
		raw = parsed
	}

	for _, section := range sortedKeys(groups) {
		paths := groups[section]
		if len(paths) == 0 {
			continue
		}
		groupOpts := opts
		if section != "" {
			groupOpts.Sections = []string{section}
		}
		parsed, err := r.parser.Parse(paths, groupOpts)
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", section, err)
		}
		raw.Merge(parsed)
	}

	if dict != nil {
		fromDict, err := sectionsFromMap(dict, sortedKeys(dict)).Filter(opts.Sections, opts.UseRegex)
		if err != nil {
			return nil, err
		}
		if opts.EvalEnv {
			if err := expandRaw(fromDict, opts.Lookup); err != nil {
				return nil, fmt.Errorf("failed to expand %s: %w", DictLocator, err)
			}
		}
		raw.Merge(fromDict)
	}

	if raw.IsEmpty() && (len(files) > 0 || len(groups) > 0) {
		r.logger.Debug("config sources are empty", zap.String("schema", schema.Name))
	}
	return raw, nil
}

// build assembles one record from a section. sec may be nil.
func (r *Resolver) build(schema *Schema, sec *Section, files []string, evalEnv bool, overrides map[string]any) (Record, error) {
	values := make(map[string]any, len(schema.Fields))
	origins := make(map[string]Source, len(schema.Fields))
	rec := Record{}

	if sec != nil {
		rec.Section = sec.Name
		direct := make(map[string]bool)
		for _, key := range sec.Keys() {
			v, _ := sec.Get(key)
			f, ok := schema.Lookup(key)
			if !ok {
				if parent, sub, nested := mapFieldKey(schema, key); nested {
					m, _ := values[parent.Name].(map[string]any)
					if m == nil {
						m = make(map[string]any)
					}
					setNestedValue(m, sub, v)
					values[parent.Name] = m
					origins[parent.Name] = SourceFile
					continue
				}
			}
			switch {
			case !ok && schema.AllowExtra:
				values[key] = v
				origins[key] = SourceFile
			case !ok:
				r.logger.Debug("dropping undeclared key",
					zap.String("schema", schema.Name),
					zap.String("section", sec.Name),
					zap.String("key", key),
				)
			case f.Ignore:
			case key == f.Name:
				direct[f.Name] = true
				values[f.Name] = v
				origins[f.Name] = SourceFile
			case !direct[f.Name]:
				// an alias only fills the field when its name is absent
				values[f.Name] = v
				origins[f.Name] = SourceFile
			}
		}
		if schema.hasSectionName() {
			if _, set := values[SectionNameKey]; !set {
				values[SectionNameKey] = sec.Name
				origins[SectionNameKey] = SourceFile
			}
		}
	}

	if evalEnv {
		overlayEnv(schema, r.lookup, values, origins)
	}

	unknown := applyOverrides(schema, values, origins, overrides)

	var missing []string
	for _, key := range schema.RequiredKeys() {
		if _, ok := values[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return Record{}, &MissingFieldsError{Schema: schema.Name, Missing: missing, Files: files}
	}
	if len(unknown) > 0 {
		return Record{}, &ConstructionError{Schema: schema.Name, Unknown: unknown}
	}

	for i := range schema.Fields {
		f := &schema.Fields[i]
		if _, ok := values[f.Name]; !ok {
			values[f.Name] = f.defaultValue()
			origins[f.Name] = SourceDefault
		}
	}

	typed, err := coerceValues(schema, values)
	if err != nil {
		return Record{}, err
	}
	rec.Values = typed
	rec.Origins = origins
	return rec, nil
}

// applyOverrides writes overrides over values with aliases canonicalised and
// returns the keys the schema does not declare, in sorted order.
func applyOverrides(schema *Schema, values map[string]any, origins map[string]Source, overrides map[string]any) []string {
	var unknown []string
	for _, key := range sortedKeys(overrides) {
		v := overrides[key]
		f, ok := schema.Lookup(key)
		if !ok {
			if schema.AllowExtra {
				values[key] = v
				origins[key] = SourceOverride
				continue
			}
			unknown = append(unknown, key)
			continue
		}
		if key != f.Name {
			if _, direct := overrides[f.Name]; direct {
				continue
			}
		}
		values[f.Name] = v
		origins[f.Name] = SourceOverride
	}
	return unknown
}

// coerceValues converts every declared field to its typed value, in schema
// order. Undeclared keys allowed through AllowExtra are passed unchanged.
func coerceValues(schema *Schema, values map[string]any) (Values, error) {
	typed := make(Values, len(values))
	for i := range schema.Fields {
		f := &schema.Fields[i]
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		var (
			out any
			err error
		)
		if f.Validator != nil {
			out, err = f.Validator(v)
		} else {
			out, err = coerce(f.Type, v)
		}
		if err != nil {
			return nil, &ConstructionError{Schema: schema.Name, Field: f.Name, Err: err}
		}
		typed[f.Name] = out
	}
	for _, key := range sortedKeys(values) {
		if _, declared := typed[key]; declared {
			continue
		}
		if _, ok := schema.Lookup(key); ok {
			continue
		}
		typed[key] = values[key]
	}
	return typed, nil
}

// mapFieldKey splits a dotted key such as "labels.team" written for a map
// field into the field and the path below it.
func mapFieldKey(schema *Schema, key string) (*Field, string, bool) {
	name, sub, found := strings.Cut(key, ".")
	if !found || sub == "" {
		return nil, "", false
	}
	f, ok := schema.Lookup(name)
	if !ok || f.Ignore || f.Type != KindMap {
		return nil, "", false
	}
	return f, sub, true
}
