// FILE: lixenwraith/cornflakes/loader.go
package cornflakes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/lixenwraith/cornflakes/internal/templexp"
)

// Loader names a source format.
type Loader int

const (
	// LoaderAuto detects the format from the file extension, then the content
	LoaderAuto Loader = iota
	LoaderINI
	LoaderYAML
	LoaderTOML
	LoaderJSON
	LoaderHCL
	// LoaderDict is the in-memory source of Request.Dict; it reads no files
	LoaderDict
)

var loaderNames = map[Loader]string{
	LoaderAuto: "auto",
	LoaderINI:  "ini",
	LoaderYAML: "yaml",
	LoaderTOML: "toml",
	LoaderJSON: "json",
	LoaderHCL:  "hcl",
	LoaderDict: "dict",
}

func (l Loader) String() string {
	if name, ok := loaderNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Loader(%d)", int(l))
}

// ParseLoader maps a format name to a Loader.
func ParseLoader(s string) (Loader, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "auto":
		return LoaderAuto, nil
	case "yml":
		return LoaderYAML, nil
	case "cfg":
		return LoaderINI, nil
	}
	for l, name := range loaderNames {
		if name == s {
			return l, nil
		}
	}
	return LoaderAuto, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// ErrUnsupportedFormat is returned for formats without a parser or writer.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// ParseOptions are the per-call arguments of the parser collaborator.
type ParseOptions struct {
	Sections   []string
	UseRegex   bool
	EvalEnv    bool
	AllowEmpty bool
	Loader     Loader
	// Lookup serves ${VAR} expansion when EvalEnv is set. Nil reads the process environment.
	Lookup EnvLookup
}

// Parser turns a locator into a raw config. Implementations must keep section
// and key encounter order and return a SourceNotFoundError when no file exists
// and AllowEmpty is false.
type Parser interface {
	Parse(files []string, opts ParseOptions) (*RawConfig, error)
}

// SecurityOptions restricts which files the parser accepts.
type SecurityOptions struct {
	// PreventPathTraversal rejects relative paths escaping the working directory
	PreventPathTraversal bool
	// MaxFileSize in bytes, 0 for no limit
	MaxFileSize int64
	// EnforceFileOwnership requires files owned by the current user (Unix only)
	EnforceFileOwnership bool
}

// FileParser reads files from disk and parses them with a format table.
type FileParser struct {
	formats  Formats
	security *SecurityOptions
	logger   *zap.Logger
}

// FileParserOption configures a FileParser.
type FileParserOption func(*FileParser)

// WithParserLogger sets the parser logger.
func WithParserLogger(l *zap.Logger) FileParserOption {
	return func(p *FileParser) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithSecurityOptions enables file checks before reading.
func WithSecurityOptions(opts SecurityOptions) FileParserOption {
	return func(p *FileParser) {
		p.security = &opts
	}
}

// NewFileParser creates a parser over formats. Nil formats uses DefaultFormats.
func NewFileParser(formats Formats, opts ...FileParserOption) *FileParser {
	if formats == nil {
		formats = DefaultFormats()
	}
	p := &FileParser{formats: formats, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse reads every existing file in order and merges them; later files update
// sections of earlier ones. Missing files are skipped.
func (p *FileParser) Parse(files []string, opts ParseOptions) (*RawConfig, error) {
	raw := NewRawConfig()
	found := 0

	for _, path := range files {
		data, err := p.readFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				p.logger.Debug("config file not found", zap.String("path", path))
				continue
			}
			return nil, err
		}
		found++

		if opts.EvalEnv {
			expanded, err := templexp.Expand(string(data), templexp.LookupFunc(opts.Lookup))
			if err != nil {
				return nil, fmt.Errorf("failed to expand config file '%s': %w", path, err)
			}
			data = []byte(expanded)
		}

		loader := opts.Loader
		if loader == LoaderAuto {
			loader = detectFileFormat(path)
			if loader == LoaderAuto {
				loader = detectFormatFromContent(data)
			}
		}
		parse, ok := p.formats[loader]
		if !ok {
			return nil, fmt.Errorf("%w: %s for config file '%s'", ErrUnsupportedFormat, loader, path)
		}

		parsed, err := parse(path, data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s config file '%s': %w", strings.ToUpper(loader.String()), path, err)
		}
		p.logger.Debug("parsed config file",
			zap.String("path", path),
			zap.Stringer("format", loader),
			zap.Strings("sections", parsed.Names()),
		)
		raw.Merge(parsed)
	}

	if found == 0 && !opts.AllowEmpty {
		return nil, &SourceNotFoundError{Files: files}
	}

	return raw.Filter(opts.Sections, opts.UseRegex)
}

// readFile applies the security checks and reads path.
func (p *FileParser) readFile(path string) ([]byte, error) {
	if p.security != nil && p.security.PreventPathTraversal {
		cleanPath := filepath.Clean(path)
		if strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) || cleanPath == ".." {
			return nil, fmt.Errorf("potential path traversal detected in config path: %s", path)
		}
	}

	fileInfo, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to stat config file '%s': %w", path, err)
	}
	if fileInfo.IsDir() {
		return nil, fmt.Errorf("config path '%s' is a directory", path)
	}

	if p.security != nil && p.security.MaxFileSize > 0 && fileInfo.Size() > p.security.MaxFileSize {
		return nil, fmt.Errorf("config file '%s' exceeds maximum size %d bytes", path, p.security.MaxFileSize)
	}

	if p.security != nil && p.security.EnforceFileOwnership && runtime.GOOS != "windows" {
		if stat, ok := fileInfo.Sys().(*syscall.Stat_t); ok {
			if stat.Uid != uint32(os.Geteuid()) {
				return nil, fmt.Errorf("config file '%s' is not owned by current user (file UID: %d, process UID: %d)",
					path, stat.Uid, os.Geteuid())
			}
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file '%s': %w", path, err)
	}
	defer file.Close()

	var reader io.Reader = file
	if p.security != nil && p.security.MaxFileSize > 0 {
		reader = io.LimitReader(file, p.security.MaxFileSize)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	return data, nil
}

// expandRaw expands ${VAR} references in every string value of raw.
func expandRaw(raw *RawConfig, lookup EnvLookup) error {
	for _, sec := range raw.Sections() {
		for _, key := range sec.Keys() {
			v, _ := sec.Get(key)
			s, ok := v.(string)
			if !ok {
				continue
			}
			expanded, err := templexp.Expand(s, templexp.LookupFunc(lookup))
			if err != nil {
				return fmt.Errorf("section %s key %s: %w", sec.Name, key, err)
			}
			sec.Set(key, expanded)
		}
	}
	return nil
}

// detectFileFormat determines format from file extension
func detectFileFormat(path string) Loader {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".ini", ".cfg":
		return LoaderINI
	case ".toml", ".tml":
		return LoaderTOML
	case ".json":
		return LoaderJSON
	case ".yaml", ".yml":
		return LoaderYAML
	case ".hcl":
		return LoaderHCL
	default:
		// .conf and friends are detected from content
		return LoaderAuto
	}
}

// detectFormatFromContent attempts to detect format by parsing. INI is the
// fallback since it accepts nearly anything line based.
func detectFormatFromContent(data []byte) Loader {
	// Try JSON first (strict format)
	if json.Valid(data) {
		return LoaderJSON
	}

	var tomlTest map[string]any
	if err := toml.Unmarshal(data, &tomlTest); err == nil && len(tomlTest) > 0 {
		return LoaderTOML
	}

	// YAML only counts when the document is a mapping; a bare INI line is a valid YAML scalar
	var yamlTest yaml.Node
	if err := yaml.Unmarshal(data, &yamlTest); err == nil &&
		len(yamlTest.Content) > 0 && yamlTest.Content[0].Kind == yaml.MappingNode {
		return LoaderYAML
	}

	return LoaderINI
}
