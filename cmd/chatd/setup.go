package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"chatd/internal/common/fsutil"
	"chatd/internal/config"
	"chatd/internal/engine"
	"chatd/internal/engine/inproc"
	"chatd/internal/engine/llamaserver"
	"chatd/internal/engine/spawn"
	"chatd/internal/engineargs"
	"chatd/internal/serving"
)

// engineAPIEnv is the engine API toggle. It is reported, never acted on.
const engineAPIEnv = "CHATD_ENGINE_USE_V1"

// loadConfig resolves defaults, the config file, global flags and the
// --engine-arg overrides, in that order of precedence.
func loadConfig(apply func(*config.Config)) (config.Config, error) {
	var cfg config.Config
	if cfgFile != "" {
		var err error
		if cfg, err = config.Load(cfgFile); err != nil {
			return cfg, fmt.Errorf("load config %s: %w", cfgFile, err)
		}
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if apply != nil {
		apply(&cfg)
	}
	for _, a := range engineArgs {
		k, v, err := config.ParseEngineArg(a)
		if err != nil {
			return cfg, err
		}
		cfg.EngineArgs = engineargs.Override(cfg.EngineArgs, k, v)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Config, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if strings.EqualFold(cfg.LogFormat, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// engineSetup is the validated engine side of the configuration.
type engineSetup struct {
	accel    string
	ec       engineargs.Config
	template *template.Template
}

// translate splits the accelerator off the raw engine args, validates the
// rest and compiles the chat template. Any error here is fatal at startup.
func translate(cfg config.Config) (engineSetup, error) {
	accel, rest, err := engineargs.SplitAccelerator(cfg.EngineArgs)
	if err != nil {
		return engineSetup{}, err
	}
	ec, err := engineargs.Translate(rest, engineargs.Options{LegacyNoneString: cfg.NoneAsFlag()})
	if err != nil {
		return engineSetup{}, err
	}
	tmpl, err := serving.LoadTemplate(ec.ChatTemplate)
	if err != nil {
		return engineSetup{}, err
	}
	return engineSetup{accel: accel, ec: ec, template: tmpl}, nil
}

// newEngine constructs the engine for the configured mode. Spawn starts the
// child process here; the model is loaded in the background.
func newEngine(cfg config.Config, accel string, ec engineargs.Config, log zerolog.Logger) (engine.Engine, error) {
	switch cfg.Engine.Mode {
	case config.ModeLlamaServer:
		return llamaserver.New(llamaserver.Options{
			BaseURL:        cfg.Engine.URL,
			APIKey:         cfg.Engine.APIKey,
			RequestTimeout: cfg.Engine.RequestTimeout.Duration,
			ConnectTimeout: cfg.Engine.ConnectTimeout.Duration,
			Logger:         log,
		}), nil
	case config.ModeSpawn:
		path, err := fsutil.ResolveModel(cfg.Engine.ModelsDir, ec.Model)
		if err != nil {
			return nil, err
		}
		e, err := spawn.New(spawn.Options{
			Bin:            cfg.Engine.Bin,
			Host:           cfg.Engine.Host,
			PortStart:      cfg.Engine.PortStart,
			PortEnd:        cfg.Engine.PortEnd,
			Accelerator:    accel,
			Config:         ec,
			ModelPath:      path,
			ExtraArgs:      cfg.Engine.ExtraArgs,
			ReadyTimeout:   cfg.Engine.ReadyTimeout.Duration,
			RequestTimeout: cfg.Engine.RequestTimeout.Duration,
			ConnectTimeout: cfg.Engine.ConnectTimeout.Duration,
			Logger:         log,
		})
		if err != nil {
			return nil, err
		}
		return e, nil
	case config.ModeInproc:
		path, err := fsutil.ResolveModel(cfg.Engine.ModelsDir, ec.Model)
		if err != nil {
			return nil, err
		}
		e, err := inproc.New(inproc.Options{
			Config:      ec,
			ModelPath:   path,
			Accelerator: accel,
			Threads:     cfg.Engine.Threads,
			Logger:      log,
		})
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unsupported engine mode %q", cfg.Engine.Mode)
	}
}

func engineAPIToggle() string { return os.Getenv(engineAPIEnv) }

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
