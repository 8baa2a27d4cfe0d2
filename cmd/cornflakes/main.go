// FILE: lixenwraith/cornflakes/cmd/cornflakes/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/lixenwraith/cornflakes"
	"github.com/lixenwraith/cornflakes/internal/logging"
)

type resolveArgs struct {
	schema     string
	files      []string
	sections   []string
	env        bool
	allowEmpty bool
	set        map[string]string
	format     string
	output     string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "cornflakes: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	app := kingpin.New("cornflakes", "Resolve configuration files against a declared schema")
	verbose := app.Flag("verbose", "Enable debug logging").Short('v').Bool()

	var ra resolveArgs
	resolveCmd := app.Command("resolve", "Resolve a schema and print the resulting records")
	bindResolveFlags(resolveCmd, &ra)
	resolveCmd.Flag("output", "Write records to this file instead of stdout").Short('o').StringVar(&ra.output)

	var wa resolveArgs
	watchCmd := app.Command("watch", "Resolve a schema and print it again whenever its files change")
	bindResolveFlags(watchCmd, &wa)
	pollInterval := watchCmd.Flag("poll", "File polling interval").Default(cornflakes.DefaultPollInterval.String()).Duration()

	discoverCmd := app.Command("discover", "List candidate config files for an application name")
	appName := discoverCmd.Arg("name", "Application name").Required().String()
	searchPaths := discoverCmd.Flag("path", "Extra directory to search").Strings()

	command, err := app.Parse(args)
	if err != nil {
		return err
	}

	logger, err := logging.New(*verbose)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	switch command {
	case resolveCmd.FullCommand():
		return runResolve(ra, logger, stdout)
	case watchCmd.FullCommand():
		return runWatch(ctx, wa, *pollInterval, logger, stdout)
	case discoverCmd.FullCommand():
		opts := cornflakes.DefaultDiscoveryOptions(*appName)
		opts.Paths = *searchPaths
		for _, path := range cornflakes.DiscoverFiles(opts) {
			fmt.Fprintln(stdout, path)
		}
		return nil
	}
	return fmt.Errorf("unknown command %q", command)
}

func bindResolveFlags(cmd *kingpin.CmdClause, ra *resolveArgs) {
	cmd.Flag("schema", "YAML schema description").Short('s').Required().ExistingFileVar(&ra.schema)
	cmd.Arg("files", "Config files, overriding the schema's own").StringsVar(&ra.files)
	cmd.Flag("section", "Section filter, repeatable").StringsVar(&ra.sections)
	cmd.Flag("env", "Overlay environment variables and expand ${VAR}").BoolVar(&ra.env)
	cmd.Flag("allow-empty", "Accept missing or empty sources").BoolVar(&ra.allowEmpty)
	ra.set = make(map[string]string)
	cmd.Flag("set", "Override a field, as key=value").StringMapVar(&ra.set)
	cmd.Flag("format", "Output format").Default("yaml").EnumVar(&ra.format, "ini", "yaml", "toml", "json", "hcl")
}

func (ra resolveArgs) prepare(logger *zap.Logger) (*cornflakes.Resolver, *cornflakes.Schema, cornflakes.Request, cornflakes.Loader, error) {
	schema, err := cornflakes.LoadSchemaFile(ra.schema)
	if err != nil {
		return nil, nil, cornflakes.Request{}, 0, err
	}
	loader, err := cornflakes.ParseLoader(ra.format)
	if err != nil {
		return nil, nil, cornflakes.Request{}, 0, err
	}

	req := cornflakes.Request{
		Files:      ra.files,
		Sections:   ra.sections,
		EvalEnv:    ra.env,
		AllowEmpty: ra.allowEmpty,
	}
	if len(ra.set) > 0 {
		req.Overrides = make(map[string]any, len(ra.set))
		for k, v := range ra.set {
			req.Overrides[k] = v
		}
	}

	return cornflakes.NewResolver(cornflakes.WithLogger(logger)), schema, req, loader, nil
}

func runResolve(ra resolveArgs, logger *zap.Logger, stdout io.Writer) error {
	resolver, schema, req, loader, err := ra.prepare(logger)
	if err != nil {
		return err
	}

	res, err := resolver.Resolve(schema, req)
	if err != nil {
		return err
	}
	logger.Debug("schema resolved",
		zap.String("schema", schema.Name),
		zap.Strings("files", res.Files),
		zap.Int("records", len(res.Records)),
	)

	if ra.output != "" {
		return cornflakes.SaveResult(ra.output, loader, schema, res)
	}
	return cornflakes.Dump(stdout, loader, schema, res)
}

func runWatch(ctx context.Context, ra resolveArgs, poll time.Duration, logger *zap.Logger, stdout io.Writer) error {
	resolver, schema, req, loader, err := ra.prepare(logger)
	if err != nil {
		return err
	}

	opts := cornflakes.DefaultWatchOptions()
	opts.PollInterval = poll
	w, err := cornflakes.Watch(ctx, resolver, schema, req, opts)
	if err != nil {
		return err
	}
	defer w.Stop()

	updates := w.Subscribe()
	if err := cornflakes.Dump(stdout, loader, schema, w.Current()); err != nil {
		return err
	}

	for upd := range updates {
		switch upd.Event {
		case cornflakes.EventReload:
			if len(upd.Changed) == 0 {
				continue
			}
			logger.Info("configuration changed", zap.Strings("keys", upd.Changed))
			if err := cornflakes.Dump(stdout, loader, schema, upd.Result); err != nil {
				return err
			}
		case cornflakes.EventReloadError, cornflakes.EventReloadTimeout:
			logger.Warn("reload failed", zap.String("path", upd.Path), zap.Error(upd.Err))
		default:
			logger.Warn("config file event", zap.String("event", upd.Event), zap.String("path", upd.Path))
		}
	}
	return nil
}
