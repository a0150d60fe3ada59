// Command djvmctl exercises the rewriter end to end: rewrite one class
// named by -class and print its diagnostics, run preload manifest
// resolution over the configured archives, or verify one class named by
// -class by loading it through the sandbox loader and reporting whether
// it rewrites cleanly. It is intentionally thin; the rewriter's own packages hold
// all the behavior this just wires together.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/sandboxrt/djvm/config"
	"github.com/sandboxrt/djvm/djvmerrors"
	"github.com/sandboxrt/djvm/loader"
	"github.com/sandboxrt/djvm/preload"
)

// fileConfig is the process-level TOML document: archive paths, log
// level and minimum severity, distinct from the rewriter-level YAML policy
// documents config.LoadDocument parses.
type fileConfig struct {
	BootstrapArchives []string `toml:"bootstrapArchives"`
	UserArchives      []string `toml:"userArchives"`
	LogLevel          string   `toml:"logLevel"`
	MinimumSeverity   string   `toml:"minimumSeverity"`
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "rewrite":
		runRewrite(os.Args[2:])
	case "preload":
		runPreload(os.Args[2:])
	case "verify":
		runVerify(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: djvmctl <rewrite|preload|verify> [flags]")
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	_, err := toml.DecodeFile(path, &fc)
	return fc, err
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).
		With().Timestamp().Str("component", "djvmctl").Logger()
}

func buildConfiguration(fc fileConfig, log zerolog.Logger) (*config.Configuration, error) {
	opts := []config.Option{
		config.WithBootstrapSource(fc.BootstrapArchives...),
		config.WithUserSource(fc.UserArchives...),
		config.WithLogger(log),
	}
	if fc.MinimumSeverity != "" {
		sev, err := djvmerrors.ParseSeverity(fc.MinimumSeverity)
		if err != nil {
			return nil, err
		}
		opts = append(opts, config.WithMinimumSeverity(sev))
	}
	return config.New(opts...)
}

func runRewrite(args []string) {
	fs := flag.NewFlagSet("rewrite", flag.ExitOnError)
	configPath := fs.String("config", "", "TOML process configuration file")
	class := fs.String("class", "", "host internal class name to rewrite (e.g. com/acme/Foo)")
	fs.Parse(args)

	fc, err := loadFileConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "djvmctl: load config:", err)
		os.Exit(1)
	}
	log := newLogger(fc.LogLevel)

	cfg, err := buildConfiguration(fc, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "djvmctl: build configuration:", err)
		os.Exit(1)
	}

	if *class == "" {
		fmt.Fprintln(os.Stderr, "djvmctl rewrite: -class is required")
		os.Exit(2)
	}

	l := loader.New(cfg.Driver, cfg.Source, nil, log)
	bytes, err := l.LoadClass(context.Background(), *class)
	if err != nil {
		for _, d := range loader.Diagnostics(err) {
			fmt.Fprintln(os.Stderr, d.String())
		}
		fmt.Fprintln(os.Stderr, "djvmctl: rewrite failed:", err)
		os.Exit(1)
	}
	fmt.Printf("rewrote %s: %d bytes\n", *class, len(bytes))
}

func runPreload(args []string) {
	fs := flag.NewFlagSet("preload", flag.ExitOnError)
	configPath := fs.String("config", "", "TOML process configuration file")
	fs.Parse(args)

	fc, err := loadFileConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "djvmctl: load config:", err)
		os.Exit(1)
	}
	log := newLogger(fc.LogLevel)

	cfg, err := buildConfiguration(fc, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "djvmctl: build configuration:", err)
		os.Exit(1)
	}

	r := &preload.Resolver{Source: cfg.Source, Driver: cfg.Driver, Cache: cfg.Cache, Log: log}
	if err := r.Run(context.Background(), cfg.Source); err != nil {
		fmt.Fprintln(os.Stderr, "djvmctl: preload failed:", err)
		os.Exit(1)
	}
}

func runVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configPath := fs.String("config", "", "TOML process configuration file")
	class := fs.String("class", "", "host internal class name to verify")
	fs.Parse(args)

	fc, err := loadFileConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "djvmctl: load config:", err)
		os.Exit(1)
	}
	log := newLogger(fc.LogLevel)

	cfg, err := buildConfiguration(fc, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "djvmctl: build configuration:", err)
		os.Exit(1)
	}

	if *class == "" {
		fmt.Fprintln(os.Stderr, "djvmctl verify: -class is required")
		os.Exit(2)
	}

	l := loader.New(cfg.Driver, cfg.Source, nil, log)
	if _, err := l.LoadClass(context.Background(), *class); err != nil {
		fmt.Fprintln(os.Stderr, "djvmctl verify: FAIL:", err)
		os.Exit(1)
	}
	fmt.Printf("djvmctl verify: %s rewrites cleanly\n", *class)
}
