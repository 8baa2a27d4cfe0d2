// FILE: example/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/lixenwraith/cornflakes"
)

const configFilePath = "example_servers.toml"

// ServerConfig is one [server.N] section of the demo file.
type ServerConfig struct {
	SectionName string            `cfg:"section_name"`
	Host        string            `cfg:"host,required"`
	Port        int               `cfg:"port,alias=listen_port"`
	LogLevel    string            `cfg:"log_level"`
	Timeout     time.Duration     `cfg:"timeout"`
	Labels      map[string]string `cfg:"labels"`
}

func main() {
	defer os.Remove(configFilePath)

	// =========================================================================
	// PART 1: DERIVE A SCHEMA AND WRITE AN INITIAL FILE
	// =========================================================================
	defaults := ServerConfig{Port: 8080, LogLevel: "info", Timeout: 30 * time.Second}
	schema := cornflakes.MustSchemaOf(defaults,
		cornflakes.WithMulti(),
		cornflakes.WithRegexSections(),
		cornflakes.WithSections(`server\.\d+`),
		cornflakes.WithEnvPrefix("APP_"),
	)

	factory, err := cornflakes.NewFactory[ServerConfig](schema, cornflakes.WithoutAutoload())
	if err != nil {
		log.Fatalf("factory failed: %v", err)
	}
	initial := []cornflakes.Record{
		mustRecord(factory, map[string]any{"host": "alpha.internal", "labels": map[string]any{"team": "core"}}),
		mustRecord(factory, map[string]any{"host": "beta.internal", "port": 9090}),
	}
	initial[0].Section, initial[1].Section = "server.0", "server.1"
	if err := cornflakes.Save(configFilePath, cornflakes.LoaderAuto, schema, initial...); err != nil {
		log.Fatalf("save failed: %v", err)
	}
	log.Printf("wrote %s", configFilePath)

	// =========================================================================
	// PART 2: BUILD WITH A VALIDATOR AND DECODE INTO STRUCTS
	// =========================================================================
	var servers []ServerConfig
	err = cornflakes.NewBuilder().
		WithSchema(schema).
		WithFile(configFilePath).
		WithValidator(func(res cornflakes.Result) error {
			for _, rec := range res.Records {
				if port := rec.Values["port"].(int64); port < 1024 || port > 65535 {
					return fmt.Errorf("section %s: port %d out of range", rec.Section, port)
				}
			}
			return nil
		}).
		BuildInto(&servers)
	if err != nil {
		log.Fatalf("build failed: %v", err)
	}
	for _, s := range servers {
		printServer(s)
	}

	// =========================================================================
	// PART 3: WATCH THE FILE FOR CHANGES
	// =========================================================================
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := cornflakes.DefaultWatchOptions()
	opts.PollInterval = 250 * time.Millisecond
	opts.Debounce = 100 * time.Millisecond
	w, err := cornflakes.Watch(ctx, nil, schema, cornflakes.Request{Files: []string{configFilePath}}, opts)
	if err != nil {
		log.Fatalf("watch failed: %v", err)
	}
	defer w.Stop()
	updates := w.Subscribe()

	go func() {
		time.Sleep(time.Second)
		initial[0].Values["log_level"] = "debug"
		if err := cornflakes.Save(configFilePath, cornflakes.LoaderAuto, schema, initial...); err != nil {
			log.Printf("modifier failed: %v", err)
		}
	}()

	for {
		select {
		case upd := <-updates:
			if upd.Event != cornflakes.EventReload {
				log.Printf("watcher event %s: %v", upd.Event, upd.Err)
				continue
			}
			log.Printf("changed keys: %v", upd.Changed)
			fmt.Print(cornflakes.Debug(schema, upd.Result))
			return
		case <-ctx.Done():
			log.Fatalf("timed out waiting for watcher notification")
		}
	}
}

func mustRecord(f *cornflakes.Factory[ServerConfig], overrides map[string]any) cornflakes.Record {
	rec, err := f.Record(cornflakes.Request{Overrides: overrides})
	if err != nil {
		log.Fatalf("record failed: %v", err)
	}
	return rec
}

func printServer(s ServerConfig) {
	fmt.Printf("[%s] %s:%d level=%s timeout=%s labels=%v\n",
		s.SectionName, s.Host, s.Port, s.LogLevel, s.Timeout, s.Labels)
}
