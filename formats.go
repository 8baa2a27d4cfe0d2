// FILE: lixenwraith/cornflakes/formats.go
package cornflakes

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// FormatFunc parses the content of one source into sections. name is used in diagnostics.
type FormatFunc func(name string, data []byte) (*RawConfig, error)

// Formats maps each loader to its parser.
type Formats map[Loader]FormatFunc

// DefaultFormats returns a fresh table with every built-in file format.
func DefaultFormats() Formats {
	return Formats{
		LoaderINI:  parseINI,
		LoaderYAML: parseYAML,
		LoaderTOML: parseTOML,
		LoaderJSON: parseJSON,
		LoaderHCL:  parseHCL,
	}
}

// parseINI keeps keys before the first header in the default section.
// Values stay strings; schema kinds convert them.
func parseINI(_ string, data []byte) (*RawConfig, error) {
	file, err := ini.LoadSources(ini.LoadOptions{}, data)
	if err != nil {
		return nil, err
	}

	raw := NewRawConfig()
	for _, s := range file.Sections() {
		name := s.Name()
		if name == ini.DefaultSection {
			if len(s.Keys()) == 0 {
				continue
			}
			name = DefaultSectionName
		}
		sec := raw.Section(name)
		for _, key := range s.Keys() {
			sec.Set(key.Name(), key.Value())
		}
	}
	return raw, nil
}

// parseYAML walks the document node so section and key order survive.
// Top-level mappings are sections, lists of mappings under k become k.0, k.1, ...
// and any other top-level value goes to the default section.
func parseYAML(_ string, data []byte) (*RawConfig, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	raw := NewRawConfig()
	if len(doc.Content) == 0 {
		return raw, nil
	}
	root := resolveAlias(doc.Content[0])
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("top level must be a mapping")
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		val := resolveAlias(root.Content[i+1])
		switch {
		case val.Kind == yaml.MappingNode:
			if err := setMappingNode(raw.Section(key), val); err != nil {
				return nil, fmt.Errorf("section %s: %w", key, err)
			}
		case isMappingList(val):
			for j, item := range val.Content {
				name := fmt.Sprintf("%s.%d", key, j)
				if err := setMappingNode(raw.Section(name), resolveAlias(item)); err != nil {
					return nil, fmt.Errorf("section %s: %w", name, err)
				}
			}
		default:
			var v any
			if err := val.Decode(&v); err != nil {
				return nil, fmt.Errorf("key %s: %w", key, err)
			}
			raw.Section(DefaultSectionName).Set(key, v)
		}
	}
	return raw, nil
}

// parseJSON validates strictly, then reuses the YAML walk for ordering.
func parseJSON(name string, data []byte) (*RawConfig, error) {
	if !json.Valid(data) {
		var v any
		return nil, json.Unmarshal(data, &v)
	}
	return parseYAML(name, data)
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	return n
}

func isMappingList(n *yaml.Node) bool {
	if n.Kind != yaml.SequenceNode || len(n.Content) == 0 {
		return false
	}
	for _, item := range n.Content {
		if resolveAlias(item).Kind != yaml.MappingNode {
			return false
		}
	}
	return true
}

func setMappingNode(sec *Section, n *yaml.Node) error {
	for i := 0; i+1 < len(n.Content); i += 2 {
		var v any
		if err := n.Content[i+1].Decode(&v); err != nil {
			return fmt.Errorf("key %s: %w", n.Content[i].Value, err)
		}
		sec.Set(n.Content[i].Value, v)
	}
	return nil
}

// parseTOML orders sections and keys by the decoder's key metadata.
func parseTOML(_ string, data []byte) (*RawConfig, error) {
	var m map[string]any
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, err
	}

	var top []string
	inner := make(map[string][]string)
	for _, key := range md.Keys() {
		switch len(key) {
		case 1:
			if !slices.Contains(top, key[0]) {
				top = append(top, key[0])
			}
		case 2:
			if !slices.Contains(inner[key[0]], key[1]) {
				inner[key[0]] = append(inner[key[0]], key[1])
			}
		}
	}

	return sectionsFromMap(m, completeOrder(top, m), func(section string, values map[string]any) []string {
		return completeOrder(inner[section], values)
	}), nil
}

// sectionsFromMap applies the section rules to a decoded document. keyOrder
// orders the keys of each section; nil sorts them.
func sectionsFromMap(m map[string]any, order []string, keyOrder ...func(section string, values map[string]any) []string) *RawConfig {
	orderKeys := func(_ string, values map[string]any) []string {
		return sortedKeys(values)
	}
	if len(keyOrder) > 0 && keyOrder[0] != nil {
		orderKeys = keyOrder[0]
	}

	fill := func(sec *Section, key string, values map[string]any) {
		for _, k := range orderKeys(key, values) {
			sec.Set(k, values[k])
		}
	}

	raw := NewRawConfig()
	for _, key := range order {
		value, ok := m[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case map[string]any:
			fill(raw.Section(key), key, v)
		case []map[string]any:
			for i, item := range v {
				fill(raw.Section(fmt.Sprintf("%s.%d", key, i)), key, item)
			}
		case []any:
			if items, ok := asMapList(v); ok {
				for i, item := range items {
					fill(raw.Section(fmt.Sprintf("%s.%d", key, i)), key, item)
				}
				continue
			}
			raw.Section(DefaultSectionName).Set(key, value)
		default:
			raw.Section(DefaultSectionName).Set(key, value)
		}
	}
	return raw
}

func asMapList(items []any) ([]map[string]any, bool) {
	if len(items) == 0 {
		return nil, false
	}
	out := make([]map[string]any, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		out[i] = m
	}
	return out, true
}

// completeOrder returns order followed by the remaining keys of m, sorted.
func completeOrder(order []string, m map[string]any) []string {
	out := make([]string, 0, len(m))
	for _, k := range order {
		if _, ok := m[k]; ok {
			out = append(out, k)
		}
	}
	for _, k := range sortedKeys(m) {
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}

// parseHCL maps blocks to sections named type[.label...] and top-level
// attributes to the default section, in source order.
func parseHCL(name string, data []byte) (*RawConfig, error) {
	if name == "" {
		name = "config.hcl"
	}
	file, diags := hclparse.NewParser().ParseHCL(data, name)
	if diags.HasErrors() {
		return nil, diags
	}
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return nil, fmt.Errorf("unexpected HCL body type %T", file.Body)
	}

	raw := NewRawConfig()
	for _, item := range hclItems(body) {
		switch it := item.(type) {
		case *hclsyntax.Attribute:
			v, err := hclAttributeValue(it)
			if err != nil {
				return nil, err
			}
			raw.Section(DefaultSectionName).Set(it.Name, v)
		case *hclsyntax.Block:
			sec := raw.Section(hclBlockName(it))
			for _, inner := range hclItems(it.Body) {
				key, v, err := hclItemValue(inner)
				if err != nil {
					return nil, fmt.Errorf("block %s: %w", sec.Name, err)
				}
				sec.Set(key, v)
			}
		}
	}
	return raw, nil
}

func hclBlockName(b *hclsyntax.Block) string {
	name := b.Type
	for _, label := range b.Labels {
		name += "." + label
	}
	return name
}

// hclItems returns the attributes and blocks of body in source order.
func hclItems(body *hclsyntax.Body) []hclsyntax.Node {
	items := make([]hclsyntax.Node, 0, len(body.Attributes)+len(body.Blocks))
	for _, attr := range body.Attributes {
		items = append(items, attr)
	}
	for _, block := range body.Blocks {
		items = append(items, block)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Range().Start.Byte < items[j].Range().Start.Byte
	})
	return items
}

func hclItemValue(item hclsyntax.Node) (string, any, error) {
	switch it := item.(type) {
	case *hclsyntax.Attribute:
		v, err := hclAttributeValue(it)
		return it.Name, v, err
	case *hclsyntax.Block:
		values := make(map[string]any)
		for _, inner := range hclItems(it.Body) {
			key, v, err := hclItemValue(inner)
			if err != nil {
				return "", nil, err
			}
			values[key] = v
		}
		return hclBlockName(it), values, nil
	}
	return "", nil, fmt.Errorf("unexpected HCL node %T", item)
}

func hclAttributeValue(attr *hclsyntax.Attribute) (any, error) {
	val, diags := attr.Expr.Value(&hcl.EvalContext{})
	if diags.HasErrors() {
		return nil, fmt.Errorf("attribute %s: %w", attr.Name, diags)
	}
	return ctyToGo(val)
}

// ctyToGo converts a cty.Value to plain Go values. Whole numbers become int64.
func ctyToGo(val cty.Value) (any, error) {
	if !val.IsKnown() || val.IsNull() {
		return nil, nil
	}
	ty := val.Type()
	if ty.IsPrimitiveType() {
		switch ty {
		case cty.String:
			return val.AsString(), nil
		case cty.Number:
			bf := val.AsBigFloat()
			if bf.IsInt() {
				if i, acc := bf.Int64(); acc == 0 {
					return i, nil
				}
			}
			f, _ := bf.Float64()
			return f, nil
		case cty.Bool:
			return val.True(), nil
		default:
			return nil, fmt.Errorf("unsupported primitive type: %s", ty.FriendlyName())
		}
	}
	if ty.IsObjectType() || ty.IsMapType() {
		out := make(map[string]any)
		for it := val.ElementIterator(); it.Next(); {
			k, v := it.Element()
			converted, err := ctyToGo(v)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = converted
		}
		return out, nil
	}
	if ty.IsTupleType() || ty.IsListType() || ty.IsSetType() {
		out := make([]any, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			converted, err := ctyToGo(v)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported cty.Type for conversion: %s", ty.FriendlyName())
}
