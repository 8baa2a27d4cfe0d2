// FILE: lixenwraith/cornflakes/register.go
package cornflakes

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// SchemaOf builds a schema once from the struct type of defaults. Field values
// of defaults become field defaults. The tag (cfg by default) has the form
//
//	cfg:"name,required,alias=a|b,ignore,noncomparable"
//
// and "-" skips the field. Untagged fields use their lowercased Go name, which
// mapstructure matches case-insensitively on Construct.
func SchemaOf[T any](defaults T, opts ...SchemaOption) (*Schema, error) {
	v := reflect.ValueOf(defaults)

	// Handle pointer or direct struct value
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, fmt.Errorf("%w: SchemaOf requires a non-nil struct pointer or value", ErrInvalidSchema)
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: SchemaOf requires a struct or struct pointer, got %T", ErrInvalidSchema, defaults)
	}

	probe := &Schema{TagName: DefaultTagName}
	for _, opt := range opts {
		opt(probe)
	}

	fields, err := fieldsOf(v, probe.tagName())
	if err != nil {
		return nil, err
	}

	return NewSchema(normalizedName(v.Type().Name()), fields, opts...)
}

// MustSchemaOf is like SchemaOf but panics on error.
func MustSchemaOf[T any](defaults T, opts ...SchemaOption) *Schema {
	s, err := SchemaOf(defaults, opts...)
	if err != nil {
		panic(fmt.Sprintf("cornflakes: %v", err))
	}
	return s
}

func fieldsOf(v reflect.Value, tagName string) ([]Field, error) {
	t := v.Type()
	fields := make([]Field, 0, t.NumField())
	var errs []string

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}

		tag := sf.Tag.Get(tagName)
		if tag == "-" {
			continue // Skip this field
		}

		f := Field{
			Name: strings.ToLower(sf.Name),
			Type: kindOf(sf.Type),
		}
		parts := strings.Split(tag, ",")
		if parts[0] != "" {
			f.Name = parts[0]
		}
		for _, opt := range parts[1:] {
			opt = strings.TrimSpace(opt)
			switch {
			case opt == "required":
				f.Required = true
			case opt == "ignore":
				f.Ignore = true
			case opt == "noncomparable":
				f.NonComparable = true
			case strings.HasPrefix(opt, "alias="):
				f.Aliases = strings.Split(strings.TrimPrefix(opt, "alias="), "|")
			case opt == "", opt == "omitempty", opt == "squash", opt == "remain":
				// decoder options
			default:
				errs = append(errs, fmt.Sprintf("field %s: unknown tag option %q", sf.Name, opt))
			}
		}

		if !f.Required {
			f.Default = v.Field(i).Interface()
		}
		fields = append(fields, f)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSchema, strings.Join(errs, "; "))
	}
	return fields, nil
}

// kindOf maps a Go type to the schema kind used for coercion.
func kindOf(t reflect.Type) Kind {
	if t == durationType {
		return KindDuration
	}
	switch t.Kind() {
	case reflect.String:
		return KindString
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return KindInt
	case reflect.Float32, reflect.Float64:
		return KindFloat
	case reflect.Bool:
		return KindBool
	case reflect.Slice:
		switch t.Elem().Kind() {
		case reflect.String:
			return KindStringList
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return KindIntList
		}
	case reflect.Map:
		if t.Key().Kind() == reflect.String {
			return KindMap
		}
	}
	return KindAny
}
