// FILE: lixenwraith/cornflakes/env.go
package cornflakes

import (
	"os"
	"strings"
)

// EnvLookup returns the value of an environment variable and whether it is set.
type EnvLookup func(name string) (string, bool)

// EnvTransformFunc converts a field key to an environment variable name
type EnvTransformFunc func(key string) string

func osLookupEnv(name string) (string, bool) {
	return os.LookupEnv(name)
}

// MapLookup serves environment lookups from a fixed map, mostly for tests.
func MapLookup(env map[string]string) EnvLookup {
	return func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}

// defaultEnvTransform creates the default environment variable transformer
func defaultEnvTransform(prefix string) EnvTransformFunc {
	return func(key string) string {
		env := strings.NewReplacer(".", "_", "-", "_").Replace(key)
		env = strings.ToUpper(env)
		if prefix != "" {
			env = prefix + env
		}
		return env
	}
}

// EnvName returns the environment variable consulted for key under schema.
func (s *Schema) EnvName(key string) string {
	return defaultEnvTransform(s.EnvPrefix)(key)
}

// overlayEnv writes environment values over values for every non-ignored field.
// The field name is tried first, then each alias; the first set variable wins.
func overlayEnv(schema *Schema, lookup EnvLookup, values map[string]any, origins map[string]Source) {
	transform := defaultEnvTransform(schema.EnvPrefix)
	for i := range schema.Fields {
		f := &schema.Fields[i]
		if f.Ignore {
			continue
		}
		for _, key := range f.keys() {
			if value, exists := lookup(transform(key)); exists {
				for _, alias := range f.Aliases {
					delete(values, alias)
				}
				values[f.Name] = value
				origins[f.Name] = SourceEnv
				break
			}
		}
	}
}

// DiscoverEnv returns field name -> variable name for every set variable
// that would overlay a field of schema.
func DiscoverEnv(schema *Schema, lookup EnvLookup) map[string]string {
	if lookup == nil {
		lookup = osLookupEnv
	}
	transform := defaultEnvTransform(schema.EnvPrefix)
	discovered := make(map[string]string)
	for _, f := range schema.Fields {
		if f.Ignore {
			continue
		}
		for _, key := range f.keys() {
			envVar := transform(key)
			if _, exists := lookup(envVar); exists {
				discovered[f.Name] = envVar
				break
			}
		}
	}
	return discovered
}
