// FILE: lixenwraith/cornflakes/io.go
package cornflakes

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// ToDict returns every value of rec as a plain map. Durations and text
// marshalers are rendered as strings.
func ToDict(rec Record) map[string]any {
	out := make(map[string]any, len(rec.Values))
	for key, v := range rec.Values {
		out[key] = exportValue(v)
	}
	return out
}

// ToTuple returns the values of rec in schema field order.
func ToTuple(schema *Schema, rec Record) []any {
	out := make([]any, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		out = append(out, rec.Values[f.Name])
	}
	return out
}

// Marshal renders records in the given format. Each record becomes a section
// named after its source section; records without one use the schema name,
// suffixed with the index for multi schemas. Keys follow schema field order
// where the format keeps order.
func Marshal(loader Loader, schema *Schema, records ...Record) ([]byte, error) {
	names := sectionNames(schema, records)
	switch loader {
	case LoaderINI:
		return marshalINI(schema, names, records)
	case LoaderYAML:
		return marshalYAML(schema, names, records)
	case LoaderJSON:
		return marshalJSON(schema, names, records)
	case LoaderTOML:
		return marshalTOML(schema, names, records)
	case LoaderHCL:
		return marshalHCL(schema, names, records)
	default:
		return nil, fmt.Errorf("%w: cannot write %s", ErrUnsupportedFormat, loader)
	}
}

// Save writes records to path atomically. LoaderAuto picks the format from the extension.
func Save(path string, loader Loader, schema *Schema, records ...Record) error {
	if loader == LoaderAuto {
		loader = detectFileFormat(path)
		if loader == LoaderAuto {
			return fmt.Errorf("%w: cannot detect format of '%s'", ErrUnsupportedFormat, path)
		}
	}
	data, err := Marshal(loader, schema, records...)
	if err != nil {
		return fmt.Errorf("failed to marshal config data to %s: %w", strings.ToUpper(loader.String()), err)
	}
	return atomicWriteFile(path, data)
}

// SaveResult writes every record of res to path.
func SaveResult(path string, loader Loader, schema *Schema, res Result) error {
	return Save(path, loader, schema, res.Records...)
}

func sectionNames(schema *Schema, records []Record) []string {
	names := make([]string, len(records))
	for i, rec := range records {
		switch {
		case rec.Section != "":
			names[i] = rec.Section
		case len(records) > 1 || schema.Multi:
			names[i] = fmt.Sprintf("%s.%d", schema.Name, i)
		default:
			names[i] = schema.Name
		}
	}
	return names
}

// recordKeys returns declared fields in order, then extra keys sorted.
// The section_name field is left out since it comes from the section title.
func recordKeys(schema *Schema, rec Record) []string {
	keys := make([]string, 0, len(rec.Values))
	for _, f := range schema.Fields {
		if f.Name == SectionNameKey {
			continue
		}
		if _, ok := rec.Values[f.Name]; ok {
			keys = append(keys, f.Name)
		}
	}
	for _, k := range sortedKeys(rec.Values) {
		if _, declared := schema.Lookup(k); !declared {
			keys = append(keys, k)
		}
	}
	return keys
}

func exportValue(v any) any {
	switch val := v.(type) {
	case time.Duration:
		return val.String()
	case encoding.TextMarshaler:
		if text, err := val.MarshalText(); err == nil {
			return string(text)
		}
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			out[k] = exportValue(sub)
		}
		return out
	}
	return v
}

func marshalINI(schema *Schema, names []string, records []Record) ([]byte, error) {
	file := ini.Empty()
	for i, rec := range records {
		sec, err := file.NewSection(names[i])
		if err != nil {
			return nil, err
		}
		for _, key := range recordKeys(schema, rec) {
			v := exportValue(rec.Values[key])
			// nested maps are flattened to dotted keys
			flat := map[string]any{key: v}
			if m, ok := v.(map[string]any); ok {
				flat = flattenMap(m, key)
			}
			for _, k := range sortedKeys(flat) {
				text, err := iniValue(flat[k])
				if err != nil {
					return nil, fmt.Errorf("section %s key %s: %w", names[i], k, err)
				}
				if _, err := sec.NewKey(k, text); err != nil {
					return nil, err
				}
			}
		}
	}

	var buf bytes.Buffer
	if _, err := file.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func iniValue(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	if isList(v) {
		list, err := toStringSlice(v)
		if err != nil {
			return "", err
		}
		return strings.Join(list, ","), nil
	}
	return toString(v)
}

func isList(v any) bool {
	switch v.(type) {
	case []any, []string, []int64, []int, []float64, []bool:
		return true
	}
	return false
}

func marshalYAML(schema *Schema, names []string, records []Record) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for i, rec := range records {
		sec := &yaml.Node{Kind: yaml.MappingNode}
		for _, key := range recordKeys(schema, rec) {
			var val yaml.Node
			if err := val.Encode(exportValue(rec.Values[key])); err != nil {
				return nil, fmt.Errorf("section %s key %s: %w", names[i], key, err)
			}
			sec.Content = append(sec.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, &val)
		}
		root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: names[i]}, sec)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// marshalJSON writes objects by hand to keep field order; values use encoding/json.
func marshalJSON(schema *Schema, names []string, records []Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, rec := range records {
		name, _ := json.Marshal(names[i])
		fmt.Fprintf(&buf, "  %s: {", name)
		keys := recordKeys(schema, rec)
		for j, key := range keys {
			k, _ := json.Marshal(key)
			v, err := json.Marshal(exportValue(rec.Values[key]))
			if err != nil {
				return nil, fmt.Errorf("section %s key %s: %w", names[i], key, err)
			}
			sep := ","
			if j == len(keys)-1 {
				sep = ""
			}
			fmt.Fprintf(&buf, "\n    %s: %s%s", k, v, sep)
		}
		if len(keys) > 0 {
			buf.WriteString("\n  ")
		}
		buf.WriteString("}")
		if i < len(records)-1 {
			buf.WriteString(",")
		}
		buf.WriteString("\n")
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

func marshalTOML(schema *Schema, names []string, records []Record) ([]byte, error) {
	nestedData := make(map[string]any, len(records))
	for i, rec := range records {
		values := make(map[string]any, len(rec.Values))
		for _, key := range recordKeys(schema, rec) {
			values[key] = exportValue(rec.Values[key])
		}
		nestedData[names[i]] = values
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(nestedData); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// marshalHCL writes one block per record; "server.0" becomes block server "0".
func marshalHCL(schema *Schema, names []string, records []Record) ([]byte, error) {
	file := hclwrite.NewEmptyFile()
	body := file.Body()
	for i, rec := range records {
		parts := strings.Split(names[i], ".")
		block := body.AppendNewBlock(parts[0], parts[1:])
		for _, key := range recordKeys(schema, rec) {
			val, err := goToCty(exportValue(rec.Values[key]))
			if err != nil {
				return nil, fmt.Errorf("block %s attribute %s: %w", names[i], key, err)
			}
			block.Body().SetAttributeValue(key, val)
		}
	}
	return file.Bytes(), nil
}

// goToCty converts the plain values of a record into cty values.
func goToCty(v any) (cty.Value, error) {
	switch val := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case string:
		return cty.StringVal(val), nil
	case bool:
		return cty.BoolVal(val), nil
	case int:
		return cty.NumberIntVal(int64(val)), nil
	case int64:
		return cty.NumberIntVal(val), nil
	case float64:
		return cty.NumberFloatVal(val), nil
	case []string, []int64, []int, []float64, []bool:
		rv := reflect.ValueOf(val)
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return goToCty(items)
	case []any:
		if len(val) == 0 {
			return cty.EmptyTupleVal, nil
		}
		items := make([]cty.Value, len(val))
		for i, item := range val {
			c, err := goToCty(item)
			if err != nil {
				return cty.NilVal, err
			}
			items[i] = c
		}
		return cty.TupleVal(items), nil
	case map[string]any:
		if len(val) == 0 {
			return cty.EmptyObjectVal, nil
		}
		attrs := make(map[string]cty.Value, len(val))
		for k, item := range val {
			c, err := goToCty(item)
			if err != nil {
				return cty.NilVal, err
			}
			attrs[k] = c
		}
		return cty.ObjectVal(attrs), nil
	}

	if s, err := toString(v); err == nil {
		return cty.StringVal(s), nil
	}
	return cty.NilVal, fmt.Errorf("unsupported value type %T", v)
}

// atomicWriteFile performs atomic file write
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory '%s': %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	tempPath := tempFile.Name()
	defer os.Remove(tempPath) // Clean up on any error

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to sync temporary file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}

	if err := os.Chmod(tempPath, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}
