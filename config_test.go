// FILE: lixenwraith/cornflakes/config_test.go
package cornflakes

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// personSchema declares name (default "blub") and a required age
func personSchema(t *testing.T, opts ...SchemaOption) *Schema {
	t.Helper()
	s, err := NewSchema("person", []Field{
		{Name: "name", Type: KindString, Default: "blub"},
		{Name: "age", Type: KindInt, Required: true},
	}, opts...)
	require.NoError(t, err)
	return s
}

func testResolver(env map[string]string) *Resolver {
	return NewResolver(WithEnvLookup(MapLookup(env)))
}

// TestResolveSingle tests the basic file -> record path
func TestResolveSingle(t *testing.T) {
	dir := t.TempDir()
	r := testResolver(nil)
	schema := personSchema(t)

	t.Run("DefaultSection", func(t *testing.T) {
		path := writeConfig(t, dir, "person.ini", "[default]\nage = 5\n")
		res, err := r.Resolve(schema, Request{Files: []string{path}})
		require.NoError(t, err)

		require.Len(t, res.Records, 1)
		assert.Equal(t, "person", res.Schema)
		assert.Equal(t, []string{path}, res.Files)
		assert.Equal(t, Values{"name": "blub", "age": int64(5)}, res.Values())

		rec, _ := res.First()
		assert.Equal(t, "default", rec.Section)
		assert.Equal(t, SourceDefault, rec.Origins["name"])
		assert.Equal(t, SourceFile, rec.Origins["age"])
	})

	t.Run("Override", func(t *testing.T) {
		path := writeConfig(t, dir, "person.ini", "[default]\nage = 5\n")
		res, err := r.Resolve(schema, Request{Files: []string{path}, Overrides: map[string]any{"age": 9}})
		require.NoError(t, err)
		assert.Equal(t, Values{"name": "blub", "age": int64(9)}, res.Values())
		assert.Equal(t, SourceOverride, res.Records[0].Origins["age"])
	})

	t.Run("FirstSectionWins", func(t *testing.T) {
		path := writeConfig(t, dir, "two.ini", "[a]\nage = 1\n[b]\nage = 2\n")
		res, err := r.Resolve(schema, Request{Files: []string{path}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Values()["age"])
		assert.Equal(t, []string{"a"}, res.Sections())
	})

	t.Run("SectionFilter", func(t *testing.T) {
		path := writeConfig(t, dir, "two.ini", "[a]\nage = 1\n[b]\nage = 2\n")
		res, err := r.Resolve(schema, Request{Files: []string{path}, Sections: []string{"b"}})
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.Values()["age"])
	})

	t.Run("SchemaLocator", func(t *testing.T) {
		path := writeConfig(t, dir, "declared.yaml", "person:\n  name: yaml\n  age: 30\n")
		declared := personSchema(t, WithFiles(path))
		res, err := r.Resolve(declared, Request{})
		require.NoError(t, err)
		assert.Equal(t, Values{"name": "yaml", "age": int64(30)}, res.Values())
		assert.Equal(t, []string{path}, res.Files)
	})

	t.Run("LaterFilesWin", func(t *testing.T) {
		base := writeConfig(t, dir, "base.ini", "[default]\nname = base\nage = 1\n")
		local := writeConfig(t, dir, "local.toml", "[default]\nage = 2\n")
		res, err := r.Resolve(schema, Request{Files: []string{base, local}})
		require.NoError(t, err)
		assert.Equal(t, Values{"name": "base", "age": int64(2)}, res.Values())
	})
}

// TestResolveErrors tests the error taxonomy and its precedence
func TestResolveErrors(t *testing.T) {
	dir := t.TempDir()
	r := testResolver(nil)

	t.Run("MissingRequired", func(t *testing.T) {
		path := writeConfig(t, dir, "noage.ini", "[default]\nname = x\n")
		_, err := r.Resolve(personSchema(t), Request{Files: []string{path}})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissingRequired)

		var missing *MissingFieldsError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "person", missing.Schema)
		assert.Equal(t, []string{"age"}, missing.Missing)
		assert.Equal(t, []string{path}, missing.Files)
	})

	t.Run("MissingInDeclarationOrder", func(t *testing.T) {
		schema := MustSchema("person", []Field{
			{Name: "name", Type: KindString, Required: true},
			{Name: "age", Type: KindInt, Required: true},
			{Name: "city", Type: KindString},
		})
		path := writeConfig(t, dir, "city.ini", "[default]\ncity = x\n")
		_, err := r.Resolve(schema, Request{Files: []string{path}})

		var missing *MissingFieldsError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, []string{"name", "age"}, missing.Missing)
	})

	t.Run("EmptySource", func(t *testing.T) {
		path := writeConfig(t, dir, "empty.ini", "")
		_, err := r.Resolve(personSchema(t), Request{Files: []string{path}})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEmptySource)
		assert.NotErrorIs(t, err, ErrMissingRequired)
	})

	t.Run("EmptySourceBeforeOverrides", func(t *testing.T) {
		path := writeConfig(t, dir, "empty.ini", "")
		_, err := r.Resolve(personSchema(t), Request{Files: []string{path}, Overrides: map[string]any{"age": 1}})
		assert.ErrorIs(t, err, ErrEmptySource)
	})

	t.Run("EmptySectionsCountAsEmpty", func(t *testing.T) {
		path := writeConfig(t, dir, "headers.ini", "[a]\n[b]\n")
		_, err := r.Resolve(personSchema(t), Request{Files: []string{path}})
		assert.ErrorIs(t, err, ErrEmptySource)
	})

	t.Run("EmptyAllowed", func(t *testing.T) {
		path := writeConfig(t, dir, "empty.ini", "")
		_, err := r.Resolve(personSchema(t), Request{Files: []string{path}, AllowEmpty: true})
		assert.ErrorIs(t, err, ErrMissingRequired)

		res, err := r.Resolve(personSchema(t), Request{Files: []string{path}, AllowEmpty: true, Overrides: map[string]any{"age": 3}})
		require.NoError(t, err)
		assert.Equal(t, Values{"name": "blub", "age": int64(3)}, res.Values())
	})

	t.Run("EmptyWithoutRequiredFields", func(t *testing.T) {
		path := writeConfig(t, dir, "empty.ini", "")
		schema := MustSchema("opts", []Field{{Name: "debug", Type: KindBool}})
		res, err := r.Resolve(schema, Request{Files: []string{path}})
		require.NoError(t, err)
		assert.Equal(t, Values{"debug": false}, res.Values())
	})

	t.Run("SourceNotFound", func(t *testing.T) {
		missing := filepath.Join(dir, "nope.ini")
		_, err := r.Resolve(personSchema(t), Request{Files: []string{missing}})
		assert.ErrorIs(t, err, ErrSourceNotFound)
	})

	t.Run("NoLocator", func(t *testing.T) {
		_, err := r.Resolve(personSchema(t), Request{})
		assert.ErrorIs(t, err, ErrMissingRequired, "no locator never reports an empty source")

		res, err := r.Resolve(personSchema(t), Request{Overrides: map[string]any{"age": "4"}})
		require.NoError(t, err)
		assert.Equal(t, Values{"name": "blub", "age": int64(4)}, res.Values())
		assert.Empty(t, res.Files)
	})

	t.Run("CoercionFailure", func(t *testing.T) {
		path := writeConfig(t, dir, "badage.ini", "[default]\nage = old\n")
		_, err := r.Resolve(personSchema(t), Request{Files: []string{path}})
		assert.ErrorIs(t, err, ErrConstruction)

		var ce *ConstructionError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "age", ce.Field)
		assert.Error(t, errors.Unwrap(err))
	})

	t.Run("UnknownOverride", func(t *testing.T) {
		_, err := r.Resolve(personSchema(t), Request{Overrides: map[string]any{"age": 1, "zip": 2, "city": "x"}})
		assert.ErrorIs(t, err, ErrConstruction)

		var ce *ConstructionError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, []string{"city", "zip"}, ce.Unknown)
	})

	t.Run("MissingBeforeUnknown", func(t *testing.T) {
		_, err := r.Resolve(personSchema(t), Request{Overrides: map[string]any{"zip": 2}})
		assert.ErrorIs(t, err, ErrMissingRequired)
	})

	t.Run("NilSchema", func(t *testing.T) {
		_, err := r.Resolve(nil, Request{})
		assert.ErrorIs(t, err, ErrInvalidSchema)
	})

	t.Run("MustResolvePanics", func(t *testing.T) {
		assert.Panics(t, func() {
			MustResolve(personSchema(t), Request{})
		})
	})
}

// TestResolvePrecedence tests overrides > env > file > default
func TestResolvePrecedence(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "person.ini", "[default]\nname = file\nage = 5\n")
	schema := personSchema(t, WithEnvPrefix("APP_"))

	env := map[string]string{"APP_AGE": "7", "APP_NAME": "env"}
	r := testResolver(env)

	t.Run("EnvOffByDefault", func(t *testing.T) {
		res, err := r.Resolve(schema, Request{Files: []string{path}})
		require.NoError(t, err)
		assert.Equal(t, Values{"name": "file", "age": int64(5)}, res.Values())
	})

	t.Run("EnvOverFile", func(t *testing.T) {
		res, err := r.Resolve(schema, Request{Files: []string{path}, EvalEnv: true})
		require.NoError(t, err)
		assert.Equal(t, Values{"name": "env", "age": int64(7)}, res.Values())
		assert.Equal(t, SourceEnv, res.Records[0].Origins["age"])
	})

	t.Run("OverrideOverEnv", func(t *testing.T) {
		res, err := r.Resolve(schema, Request{Files: []string{path}, EvalEnv: true, Overrides: map[string]any{"age": 9}})
		require.NoError(t, err)
		assert.Equal(t, Values{"name": "env", "age": int64(9)}, res.Values())
	})

	t.Run("EnvFillsRequired", func(t *testing.T) {
		res, err := testResolver(map[string]string{"APP_AGE": "11"}).Resolve(schema, Request{EvalEnv: true})
		require.NoError(t, err)
		assert.Equal(t, Values{"name": "blub", "age": int64(11)}, res.Values())
	})

	t.Run("SchemaEvalEnv", func(t *testing.T) {
		withEnv := personSchema(t, WithEnvPrefix("APP_"), WithEvalEnv())
		res, err := r.Resolve(withEnv, Request{Files: []string{path}})
		require.NoError(t, err)
		assert.Equal(t, int64(7), res.Values()["age"])
	})

	t.Run("Idempotent", func(t *testing.T) {
		req := Request{Files: []string{path}, EvalEnv: true, Overrides: map[string]any{"name": "o"}}
		first, err := r.Resolve(schema, req)
		require.NoError(t, err)
		second, err := r.Resolve(schema, req)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("ConcurrentResolve", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := r.Resolve(schema, Request{Files: []string{path}, Overrides: map[string]any{"age": i}})
				if err != nil {
					errs <- err
					return
				}
				if res.Values()["age"] != int64(i) {
					errs <- fmt.Errorf("record %d got age %v", i, res.Values()["age"])
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Error(err)
		}
	})
}

// TestResolveAliases tests alias lookup in files, env and overrides
func TestResolveAliases(t *testing.T) {
	dir := t.TempDir()
	schema := MustSchema("server", []Field{
		{Name: "host", Type: KindString, Required: true, Aliases: []string{"address", "addr"}},
		{Name: "port", Type: KindInt, Default: 80},
	}, WithEnvPrefix("SRV_"))
	r := testResolver(nil)

	t.Run("FileAlias", func(t *testing.T) {
		path := writeConfig(t, dir, "alias.ini", "[server]\naddr = a.example\n")
		res, err := r.Resolve(schema, Request{Files: []string{path}})
		require.NoError(t, err)
		assert.Equal(t, Values{"host": "a.example", "port": int64(80)}, res.Values())
	})

	t.Run("NameBeatsAlias", func(t *testing.T) {
		path := writeConfig(t, dir, "both.ini", "[server]\nhost = direct\naddr = alias\n")
		res, err := r.Resolve(schema, Request{Files: []string{path}})
		require.NoError(t, err)
		assert.Equal(t, "direct", res.Values()["host"])

		path = writeConfig(t, dir, "both2.ini", "[server]\naddr = alias\nhost = direct\n")
		res, err = r.Resolve(schema, Request{Files: []string{path}})
		require.NoError(t, err)
		assert.Equal(t, "direct", res.Values()["host"])
	})

	t.Run("EnvAlias", func(t *testing.T) {
		r := testResolver(map[string]string{"SRV_ADDRESS": "from-env"})
		res, err := r.Resolve(schema, Request{EvalEnv: true})
		require.NoError(t, err)
		assert.Equal(t, "from-env", res.Values()["host"])
	})

	t.Run("EnvNameBeatsAlias", func(t *testing.T) {
		r := testResolver(map[string]string{"SRV_ADDR": "alias", "SRV_HOST": "name"})
		res, err := r.Resolve(schema, Request{EvalEnv: true})
		require.NoError(t, err)
		assert.Equal(t, "name", res.Values()["host"])
	})

	t.Run("OverrideAlias", func(t *testing.T) {
		res, err := r.Resolve(schema, Request{Overrides: map[string]any{"address": "o"}})
		require.NoError(t, err)
		assert.Equal(t, Values{"host": "o", "port": int64(80)}, res.Values())

		res, err = r.Resolve(schema, Request{Overrides: map[string]any{"address": "alias", "host": "name"}})
		require.NoError(t, err)
		assert.Equal(t, "name", res.Values()["host"])
	})
}

// TestResolveMulti tests list schemas with regex sections and section_name
func TestResolveMulti(t *testing.T) {
	dir := t.TempDir()
	schema := MustSchema("server", []Field{
		{Name: SectionNameKey, Type: KindString},
		{Name: "host", Type: KindString, Required: true},
		{Name: "port", Type: KindInt, Default: 80},
	}, WithMulti(), WithRegexSections(), WithSections(`server\.\d+`))
	r := testResolver(nil)

	t.Run("RecordPerSection", func(t *testing.T) {
		path := writeConfig(t, dir, "servers.ini", "[server.0]\nhost = a\n[db]\nurl = x\n[server.1]\nhost = b\nport = 81\n")
		res, err := r.Resolve(schema, Request{Files: []string{path}})
		require.NoError(t, err)
		require.Len(t, res.Records, 2)
		assert.Equal(t, []string{"server.0", "server.1"}, res.Sections())
		assert.Equal(t, Values{SectionNameKey: "server.0", "host": "a", "port": int64(80)}, res.Records[0].Values)
		assert.Equal(t, Values{SectionNameKey: "server.1", "host": "b", "port": int64(81)}, res.Records[1].Values)
	})

	t.Run("YAMLList", func(t *testing.T) {
		path := writeConfig(t, dir, "servers.yaml", "server:\n  - host: a\n  - host: b\n")
		res, err := r.Resolve(schema, Request{Files: []string{path}})
		require.NoError(t, err)
		assert.Equal(t, []string{"server.0", "server.1"}, res.Sections())
	})

	t.Run("OverridesApplyToEveryRecord", func(t *testing.T) {
		path := writeConfig(t, dir, "servers.ini", "[server.0]\nhost = a\n[server.1]\nhost = b\n")
		res, err := r.Resolve(schema, Request{Files: []string{path}, Overrides: map[string]any{"port": 9}})
		require.NoError(t, err)
		for _, rec := range res.Records {
			assert.Equal(t, int64(9), rec.Values["port"])
		}
	})

	t.Run("EmptyList", func(t *testing.T) {
		path := writeConfig(t, dir, "none.ini", "[db]\nurl = x\n")
		res, err := r.Resolve(schema, Request{Files: []string{path}})
		require.NoError(t, err)
		assert.NotNil(t, res.Records)
		assert.Empty(t, res.Records)
		_, ok := res.First()
		assert.False(t, ok)
		assert.Nil(t, res.Values())
	})

	t.Run("EmptyFile", func(t *testing.T) {
		path := writeConfig(t, dir, "empty.ini", "")
		res, err := r.Resolve(schema, Request{Files: []string{path}})
		require.NoError(t, err)
		assert.Empty(t, res.Records)
	})

	t.Run("SectionError", func(t *testing.T) {
		path := writeConfig(t, dir, "bad.ini", "[server.0]\nhost = a\n[server.1]\nport = 1\n")
		_, err := r.Resolve(schema, Request{Files: []string{path}})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissingRequired)
		assert.True(t, strings.HasPrefix(err.Error(), "section server.1:"))
	})

	t.Run("ResolveInto", func(t *testing.T) {
		type Server struct {
			SectionName string `cfg:"section_name"`
			Host        string `cfg:"host"`
			Port        int    `cfg:"port"`
		}
		path := writeConfig(t, dir, "servers.ini", "[server.0]\nhost = a\n[server.1]\nhost = b\nport = 81\n")
		servers, err := ResolveInto[Server](r, schema, Request{Files: []string{path}})
		require.NoError(t, err)
		assert.Equal(t, []Server{{"server.0", "a", 80}, {"server.1", "b", 81}}, servers)
	})
}

// TestResolveFieldOptions tests ignore, validators, extra keys and map fields
func TestResolveFieldOptions(t *testing.T) {
	dir := t.TempDir()
	r := testResolver(nil)

	t.Run("IgnoredField", func(t *testing.T) {
		schema := MustSchema("app", []Field{
			{Name: "name", Type: KindString},
			{Name: "cache", Type: KindBool, Ignore: true, Default: true},
		}, WithEnvPrefix("APP_"))
		path := writeConfig(t, dir, "ignored.ini", "[app]\nname = x\ncache = false\n")

		res, err := testResolver(map[string]string{"APP_CACHE": "false"}).
			Resolve(schema, Request{Files: []string{path}, EvalEnv: true})
		require.NoError(t, err)
		assert.Equal(t, Values{"name": "x", "cache": true}, res.Values())

		res, err = r.Resolve(schema, Request{Files: []string{path}, Overrides: map[string]any{"cache": "no"}})
		require.NoError(t, err)
		assert.Equal(t, false, res.Values()["cache"], "ignored fields still accept overrides")
	})

	t.Run("Validator", func(t *testing.T) {
		schema := MustSchema("app", []Field{
			{Name: "level", Required: true, Validator: func(raw any) (any, error) {
				s, _ := raw.(string)
				switch strings.ToLower(s) {
				case "debug", "info":
					return strings.ToUpper(s), nil
				}
				return nil, fmt.Errorf("invalid level %v", raw)
			}},
		})
		path := writeConfig(t, dir, "level.ini", "[app]\nlevel = debug\n")
		res, err := r.Resolve(schema, Request{Files: []string{path}})
		require.NoError(t, err)
		assert.Equal(t, "DEBUG", res.Values()["level"])

		_, err = r.Resolve(schema, Request{Files: []string{path}, Overrides: map[string]any{"level": "loud"}})
		var ce *ConstructionError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "level", ce.Field)
	})

	t.Run("DefaultFuncPerRecord", func(t *testing.T) {
		n := 0
		schema := MustSchema("app", []Field{
			{Name: "id", Type: KindInt, DefaultFunc: func() any { n++; return n }},
		}, WithMulti())
		path := writeConfig(t, dir, "ids.ini", "[a]\nx = 1\n[b]\nx = 2\n")
		res, err := r.Resolve(schema, Request{Files: []string{path}})
		require.NoError(t, err)
		require.Len(t, res.Records, 2)
		assert.Equal(t, int64(1), res.Records[0].Values["id"])
		assert.Equal(t, int64(2), res.Records[1].Values["id"])
	})

	t.Run("UndeclaredKeysDropped", func(t *testing.T) {
		path := writeConfig(t, dir, "extra.ini", "[default]\nage = 5\nzip = 123\n")
		res, err := r.Resolve(personSchema(t), Request{Files: []string{path}})
		require.NoError(t, err)
		assert.NotContains(t, res.Values(), "zip")
	})

	t.Run("ExtraKeysAllowed", func(t *testing.T) {
		path := writeConfig(t, dir, "extra.ini", "[default]\nage = 5\nzip = 123\n")
		schema := personSchema(t, WithExtraKeys())
		res, err := r.Resolve(schema, Request{Files: []string{path}, Overrides: map[string]any{"city": "x"}})
		require.NoError(t, err)
		assert.Equal(t, Values{"name": "blub", "age": int64(5), "zip": "123", "city": "x"}, res.Values())
	})

	t.Run("MapFieldDottedKeys", func(t *testing.T) {
		schema := MustSchema("app", []Field{
			{Name: "labels", Type: KindMap},
			{Name: "tags", Type: KindStringList},
		})
		path := writeConfig(t, dir, "labels.ini", "[app]\nlabels.team = core\nlabels.tier.level = 1\ntags = a, b\n")
		res, err := r.Resolve(schema, Request{Files: []string{path}})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"team": "core",
			"tier": map[string]any{"level": "1"},
		}, res.Values()["labels"])
		assert.Equal(t, []string{"a", "b"}, res.Values()["tags"])
	})
}

// TestResolveDict tests the in-memory source
func TestResolveDict(t *testing.T) {
	r := testResolver(map[string]string{"AGE": "12"})
	schema := personSchema(t)

	t.Run("Sections", func(t *testing.T) {
		res, err := r.Resolve(schema, Request{Dict: map[string]any{"default": map[string]any{"age": 3}}})
		require.NoError(t, err)
		assert.Equal(t, Values{"name": "blub", "age": int64(3)}, res.Values())
		assert.Equal(t, []string{DictLocator}, res.Files)
	})

	t.Run("TopLevelScalars", func(t *testing.T) {
		res, err := r.Resolve(schema, Request{Dict: map[string]any{"age": 4, "name": "flat"}})
		require.NoError(t, err)
		assert.Equal(t, Values{"name": "flat", "age": int64(4)}, res.Values())
	})

	t.Run("EmptyDict", func(t *testing.T) {
		_, err := r.Resolve(schema, Request{Dict: map[string]any{}})
		assert.ErrorIs(t, err, ErrEmptySource)
	})

	t.Run("Expansion", func(t *testing.T) {
		res, err := r.Resolve(schema, Request{Dict: map[string]any{"age": "${AGE}"}, EvalEnv: true})
		require.NoError(t, err)
		assert.Equal(t, int64(12), res.Values()["age"])
	})

	t.Run("DictOverFiles", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "person.ini", "[default]\nname = file\nage = 5\n")
		res, err := r.Resolve(schema, Request{Files: []string{path}, Dict: map[string]any{"default": map[string]any{"age": 6}}})
		require.NoError(t, err)
		assert.Equal(t, Values{"name": "file", "age": int64(6)}, res.Values())
		assert.Equal(t, []string{path, DictLocator}, res.Files)
	})
}

// TestResolveFormats tests the same record in every source format
func TestResolveFormats(t *testing.T) {
	dir := t.TempDir()
	schema := MustSchema("server", []Field{
		{Name: "host", Type: KindString, Required: true},
		{Name: "port", Type: KindInt, Default: 80},
		{Name: "debug", Type: KindBool},
		{Name: "tags", Type: KindStringList},
	})
	expected := Values{"host": "h", "port": int64(81), "debug": true, "tags": []string{"a", "b"}}

	files := map[string]string{
		"server.ini":  "[server]\nhost = h\nport = 81\ndebug = yes\ntags = a,b\n",
		"server.yaml": "server:\n  host: h\n  port: 81\n  debug: true\n  tags: [a, b]\n",
		"server.json": `{"server": {"host": "h", "port": 81, "debug": true, "tags": ["a", "b"]}}`,
		"server.toml": "[server]\nhost = \"h\"\nport = 81\ndebug = true\ntags = [\"a\", \"b\"]\n",
		"server.hcl":  "server {\n  host  = \"h\"\n  port  = 81\n  debug = true\n  tags  = [\"a\", \"b\"]\n}\n",
		"server.conf": "[server]\nhost = h\nport = 81\ndebug = on\ntags = [a, b]\n",
	}

	r := testResolver(nil)
	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, dir, name, content)
			res, err := r.Resolve(schema, Request{Files: []string{path}})
			require.NoError(t, err)
			assert.Equal(t, expected, res.Values())
		})
	}
}

type stubParser struct {
	files []string
	opts  ParseOptions
}

func (p *stubParser) Parse(files []string, opts ParseOptions) (*RawConfig, error) {
	p.files, p.opts = files, opts
	raw := NewRawConfig()
	raw.Section("person").Set("age", "12")
	return raw, nil
}

// TestResolverCollaborators tests replacing the parser and the format table
func TestResolverCollaborators(t *testing.T) {
	schema := personSchema(t, WithSections("person"))

	t.Run("Parser", func(t *testing.T) {
		p := &stubParser{}
		r := NewResolver(WithParser(p), WithEnvLookup(MapLookup(nil)))
		res, err := r.Resolve(schema, Request{Files: []string{"virtual.ini"}, EvalEnv: true})
		require.NoError(t, err)
		assert.Equal(t, int64(12), res.Values()["age"])
		assert.Equal(t, []string{"virtual.ini"}, p.files)
		assert.Equal(t, []string{"person"}, p.opts.Sections)
		assert.True(t, p.opts.EvalEnv)
		assert.False(t, p.opts.AllowEmpty)
	})

	t.Run("Formats", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "person.ini", "ignored")
		formats := Formats{LoaderINI: func(name string, data []byte) (*RawConfig, error) {
			raw := NewRawConfig()
			raw.Section("person").Set("age", len(data))
			return raw, nil
		}}
		res, err := NewResolver(WithFormats(formats)).Resolve(schema, Request{Files: []string{path}})
		require.NoError(t, err)
		assert.Equal(t, int64(len("ignored")), res.Values()["age"])

		yamlPath := writeConfig(t, t.TempDir(), "person.yaml", "person:\n  age: 1\n")
		_, err = NewResolver(WithFormats(formats)).Resolve(schema, Request{Files: []string{yamlPath}})
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})
}

// TestResolveSectionFiles tests the grouped locator, one file set per section
func TestResolveSectionFiles(t *testing.T) {
	dir := t.TempDir()
	r := testResolver(nil)
	schema := personSchema(t)

	t.Run("GroupSelectsItsSection", func(t *testing.T) {
		path := writeConfig(t, dir, "mixed.ini", "[other]\nage = 1\n[person]\nage = 2\n")
		res, err := r.Resolve(schema, Request{SectionFiles: map[string][]string{"person": {path}}})
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.Values()["age"])
		assert.Equal(t, "person", res.Records[0].Section)
		assert.Equal(t, []string{path}, res.Files)
	})

	t.Run("GroupsAfterFiles", func(t *testing.T) {
		base := writeConfig(t, dir, "base.ini", "[person]\nname = base\nage = 1\n")
		patch := writeConfig(t, dir, "patch.yaml", "person:\n  age: 3\n")
		res, err := r.Resolve(schema, Request{
			Files:        []string{base},
			SectionFiles: map[string][]string{"person": {patch}},
		})
		require.NoError(t, err)
		assert.Equal(t, Values{"name": "base", "age": int64(3)}, res.Values())
		assert.Equal(t, []string{base, patch}, res.Files)
	})

	t.Run("MultiGroups", func(t *testing.T) {
		servers, err := NewSchema("server", []Field{{Name: "host", Type: KindString}}, WithMulti())
		require.NoError(t, err)
		first := writeConfig(t, dir, "first.ini", "[beta]\nhost = wrong\n[alpha]\nhost = a\n")
		second := writeConfig(t, dir, "second.ini", "[alpha]\nhost = wrong\n[beta]\nhost = b\n")

		res, err := r.Resolve(servers, Request{SectionFiles: map[string][]string{
			"beta":  {second},
			"alpha": {first},
		}})
		require.NoError(t, err)
		require.Len(t, res.Records, 2)
		assert.Equal(t, []string{"alpha", "beta"}, res.Sections())
		assert.Equal(t, "a", res.Records[0].Values["host"])
		assert.Equal(t, "b", res.Records[1].Values["host"])
	})

	t.Run("UnnamedGroupUsesSectionFilter", func(t *testing.T) {
		path := writeConfig(t, dir, "two.ini", "[a]\nage = 1\n[b]\nage = 2\n")
		res, err := r.Resolve(schema, Request{SectionFiles: map[string][]string{"": {path}}, Sections: []string{"b"}})
		require.NoError(t, err)
		assert.Equal(t, int64(2), res.Values()["age"])
	})

	t.Run("MissingGroupFile", func(t *testing.T) {
		missing := filepath.Join(dir, "missing.ini")
		_, err := r.Resolve(schema, Request{SectionFiles: map[string][]string{"person": {missing}}})
		assert.ErrorIs(t, err, ErrSourceNotFound)

		res, err := r.Resolve(schema, Request{
			SectionFiles: map[string][]string{"person": {missing}},
			AllowEmpty:   true,
			Overrides:    map[string]any{"age": 4},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(4), res.Values()["age"])
	})

	t.Run("SchemaDefault", func(t *testing.T) {
		grouped := writeConfig(t, dir, "grouped.ini", "[person]\nage = 8\n")
		plain := writeConfig(t, dir, "plain.ini", "[person]\nage = 9\n")
		withGroups := personSchema(t, WithSectionFiles(map[string][]string{"person": {grouped}}))

		res, err := r.Resolve(withGroups, Request{})
		require.NoError(t, err)
		assert.Equal(t, int64(8), res.Values()["age"])

		res, err = r.Resolve(withGroups, Request{Files: []string{plain}})
		require.NoError(t, err)
		assert.Equal(t, int64(9), res.Values()["age"], "request files replace the schema's groups")
	})
}

func TestCoercionErrorNamesFirstField(t *testing.T) {
	schema := MustSchema("ports", []Field{
		{Name: "http", Type: KindInt},
		{Name: "https", Type: KindInt},
		{Name: "admin", Type: KindInt},
	})
	overrides := map[string]any{"admin": "x", "https": "y", "http": "z"}

	for iter := 0; iter < 20; iter++ {
		_, err := testResolver(nil).Resolve(schema, Request{Overrides: overrides})
		var cerr *ConstructionError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "http", cerr.Field)
	}
}
