package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/jsbridge/internal/debugger"
	"github.com/GriffinCanCode/jsbridge/internal/engine"
	"github.com/GriffinCanCode/jsbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/jsbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/jsbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/jsbridge/internal/jserror"
	"github.com/GriffinCanCode/jsbridge/internal/loader"
	"github.com/GriffinCanCode/jsbridge/internal/server"
)

type options struct {
	configPath string
	precompile bool
	serve      bool
	quiet      bool
	scripts    []string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "YAML or TOML configuration file")
	flag.BoolVar(&opts.precompile, "precompile", false, "write a precompilation artifact next to each script instead of running it")
	flag.BoolVar(&opts.serve, "serve", false, "start the inspector after running the scripts")
	flag.BoolVar(&opts.quiet, "quiet", false, "do not print the value of the last script")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] script.js|glob ...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	opts.scripts = flag.Args()

	if len(opts.scripts) == 0 && !opts.serve {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		var jsErr *jserror.Error
		if errors.As(err, &jsErr) {
			fmt.Fprintln(os.Stderr, jsErr.Error())
			if jsErr.StackTrace != "" {
				fmt.Fprintln(os.Stderr, jsErr.StackTrace)
			}
		} else {
			fmt.Fprintln(os.Stderr, "jsbridge:", err)
		}
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.FromSettings(cfg.Logging))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	iso := engine.NewIsolate(
		engine.WithLogger(logger.Component("engine")),
		engine.WithMetrics(metrics),
		engine.WithResourceLimits(engine.ResourceLimits{
			MaxYoungSpaceSize: cfg.Engine.MaxYoungSpaceSize,
			MaxOldSpaceSize:   cfg.Engine.MaxOldSpaceSize,
			MaxCallStackSize:  cfg.Engine.MaxCallStackSize,
			PollInterval:      cfg.Engine.PollInterval.Std(),
		}),
	)
	defer iso.Dispose()

	contextOptions := []engine.ContextOption{
		engine.WithIsolate(iso),
		engine.WithExtensions(cfg.Engine.Extensions...),
		engine.WithConsole(cfg.Engine.Console),
	}

	paths, err := loader.Expand(opts.scripts)
	if err != nil {
		return err
	}

	if opts.precompile {
		return precompileAll(iso, paths, logger.Logger)
	}
	if len(paths) > 0 {
		if err := runScripts(paths, contextOptions, opts.quiet, logger.Logger); err != nil {
			return err
		}
	}
	if !opts.serve {
		return nil
	}
	return serve(cfg, iso, contextOptions, metrics, logger)
}

func precompileAll(iso *engine.Isolate, paths []string, logger *zap.Logger) error {
	for _, path := range paths {
		src, err := loader.Read(path)
		if err != nil {
			return err
		}
		data, err := iso.Precompile(src.Text)
		if err != nil {
			return err
		}
		out := loader.ArtifactPath(path)
		if err := loader.WriteArtifact(out, data); err != nil {
			return err
		}
		logger.Info("precompiled", zap.String("script", path), zap.String("artifact", out), zap.Int("bytes", len(data)))
	}
	return nil
}

// runScripts runs every script in one context so later scripts see the
// globals of earlier ones.
func runScripts(paths []string, contextOptions []engine.ContextOption, quiet bool, logger *zap.Logger) error {
	c, err := engine.NewContext(contextOptions...)
	if err != nil {
		return err
	}
	defer c.Close()

	return c.Do(func() error {
		var last any = engine.Undefined
		for _, path := range paths {
			script, err := compile(c.Isolate(), path, logger)
			if err != nil {
				return err
			}
			if last, err = script.Run(); err != nil {
				return err
			}
		}
		if !quiet && last != engine.Undefined {
			fmt.Println(engine.Convert(last))
		}
		return nil
	})
}

// compile uses the script's artifact when one exists and still matches.
func compile(iso *engine.Isolate, path string, logger *zap.Logger) (*engine.Script, error) {
	src, err := loader.Read(path)
	if err != nil {
		return nil, err
	}
	logger.Debug("loaded script", zap.String("script", path), zap.String("charset", src.Charset))

	data, err := loader.ReadArtifact(loader.ArtifactPath(path))
	switch {
	case err == nil:
		script, err := iso.Compile(src.Text, engine.WithScriptName(path), engine.WithPrecompiled(data))
		if !errors.Is(err, engine.ErrPrecompileMismatch) {
			return script, err
		}
		logger.Warn("ignoring stale artifact", zap.String("script", path), zap.Error(err))
	case !errors.Is(err, os.ErrNotExist):
		logger.Warn("ignoring unreadable artifact", zap.String("script", path), zap.Error(err))
	}
	return iso.Compile(src.Text, engine.WithScriptName(path))
}

func serve(cfg *config.Config, iso *engine.Isolate, contextOptions []engine.ContextOption, metrics *monitoring.Metrics, logger *logging.Logger) error {
	pool, err := engine.NewPool(iso, engine.PoolConfig{
		Size:           cfg.Pool.Size,
		AcquireTimeout: cfg.Pool.AcquireTimeout.Std(),
		Options:        contextOptions,
	})
	if err != nil {
		return fmt.Errorf("failed to create context pool: %w", err)
	}
	defer pool.Close()

	host := server.Host{
		Pool:    pool,
		Metrics: metrics,
		Logger:  logger.Component("inspector"),
	}
	if cfg.Debug.Enabled {
		host.Debugger = debugger.New(iso, debugger.WithLogger(logger.Component("debugger")))
	}

	srv, err := server.New(cfg, host)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go metrics.RunUptime(ctx.Done())

	return srv.Run(ctx)
}
