// File: lixenwraith/cornflakes/convenience.go
package cornflakes

import (
	"fmt"
	"io"
	"strings"
)

// Quick derives a schema from defaults, resolves files and the environment
// under envPrefix, and constructs a T in a single call. Missing files are not
// an error. An empty envPrefix disables the environment overlay.
func Quick[T any](defaults T, envPrefix string, files ...string) (T, error) {
	opts := []SchemaOption{WithAllowEmpty(), WithFiles(files...)}
	if envPrefix != "" {
		opts = append(opts, WithEnvPrefix(envPrefix), WithEvalEnv())
	}

	var zero T
	schema, err := SchemaOf(defaults, opts...)
	if err != nil {
		return zero, fmt.Errorf("failed to derive schema from defaults: %w", err)
	}

	res, err := Resolve(schema, Request{})
	if err != nil {
		return zero, err
	}
	return Construct[T](schema, res.Values())
}

// MustQuick is like Quick but panics on error
func MustQuick[T any](defaults T, envPrefix string, files ...string) T {
	v, err := Quick(defaults, envPrefix, files...)
	if err != nil {
		panic(fmt.Sprintf("config initialization failed: %v", err))
	}
	return v
}

// Debug returns a formatted string showing all values of res and their sources
func Debug(schema *Schema, res Result) string {
	var b strings.Builder
	b.WriteString("Configuration Debug Info:\n")
	b.WriteString(fmt.Sprintf("Schema: %s\n", res.Schema))
	b.WriteString(fmt.Sprintf("Files: [%s]\n", strings.Join(res.Files, ", ")))
	b.WriteString(fmt.Sprintf("Records: %d\n", len(res.Records)))

	for i, rec := range res.Records {
		section := rec.Section
		if section == "" {
			section = "-"
		}
		b.WriteString(fmt.Sprintf("[%d] section %s:\n", i, section))
		for _, key := range recordKeys(schema, rec) {
			b.WriteString(fmt.Sprintf("  %s = %v (%s)\n", key, rec.Values[key], rec.Origins[key]))
		}
	}

	return b.String()
}

// Dump writes the records of res to w in the given format
func Dump(w io.Writer, loader Loader, schema *Schema, res Result) error {
	data, err := Marshal(loader, schema, res.Records...)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
