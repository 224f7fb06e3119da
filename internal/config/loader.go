package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Engine modes.
const (
	ModeLlamaServer = "llama_server"
	ModeSpawn       = "spawn"
	ModeInproc      = "inproc"
)

// Duration is a time.Duration decoded from strings such as "30s" in every
// supported file format.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// CORS configures the optional CORS middleware.
type CORS struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// Engine selects and tunes the engine implementation.
type Engine struct {
	// Mode is llama_server, spawn or inproc.
	Mode string `json:"mode" yaml:"mode" toml:"mode"`
	// URL of an already-running llama.cpp server (llama_server mode).
	URL    string `json:"url" yaml:"url" toml:"url"`
	APIKey string `json:"api_key" yaml:"api_key" toml:"api_key"`
	// Bin, Host and the port range are used in spawn mode.
	Bin            string   `json:"bin" yaml:"bin" toml:"bin"`
	Host           string   `json:"host" yaml:"host" toml:"host"`
	PortStart      int      `json:"port_start" yaml:"port_start" toml:"port_start"`
	PortEnd        int      `json:"port_end" yaml:"port_end" toml:"port_end"`
	ExtraArgs      []string `json:"extra_args" yaml:"extra_args" toml:"extra_args"`
	ReadyTimeout   Duration `json:"ready_timeout" yaml:"ready_timeout" toml:"ready_timeout"`
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`
	ConnectTimeout Duration `json:"connect_timeout" yaml:"connect_timeout" toml:"connect_timeout"`
	// Threads for the in-process engine; 0 uses the CPU count.
	Threads int `json:"threads" yaml:"threads" toml:"threads"`
	// ModelsDir is searched for "<model>.gguf" when the model engine arg is
	// not a file path (spawn and inproc modes).
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
}

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
	// LogLevel is the process log level (zerolog level names).
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
	// LogFormat is json or console.
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
	// RequestLog is the default per-request HTTP log level: off, error, info or debug.
	RequestLog        string   `json:"request_log" yaml:"request_log" toml:"request_log"`
	MaxBodyBytes      int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	CompletionTimeout Duration `json:"completion_timeout" yaml:"completion_timeout" toml:"completion_timeout"`
	BuildTimeout      Duration `json:"build_timeout" yaml:"build_timeout" toml:"build_timeout"`
	ReadyWait         Duration `json:"ready_wait" yaml:"ready_wait" toml:"ready_wait"`
	// LegacyNoneString renders the engine arg value "None" as a bare flag. Defaults to true.
	LegacyNoneString *bool  `json:"legacy_none_string" yaml:"legacy_none_string" toml:"legacy_none_string"`
	CORS             CORS   `json:"cors" yaml:"cors" toml:"cors"`
	Engine           Engine `json:"engine" yaml:"engine" toml:"engine"`
	// EngineArgs is the raw engine argument mapping handed to the translator.
	EngineArgs map[string]any `json:"engine_args" yaml:"engine_args" toml:"engine_args"`
}

// Defaults returns the configuration used when nothing is specified.
func Defaults() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unspecified fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8000"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.RequestLog == "" {
		c.RequestLog = "error"
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.ReadyWait.Duration == 0 {
		c.ReadyWait.Duration = 250 * time.Millisecond
	}
	if c.LegacyNoneString == nil {
		v := true
		c.LegacyNoneString = &v
	}
	if c.Engine.Mode == "" {
		c.Engine.Mode = ModeLlamaServer
	}
	if c.Engine.Mode == ModeLlamaServer && c.Engine.URL == "" {
		c.Engine.URL = "http://127.0.0.1:8080"
	}
	if c.Engine.Host == "" {
		c.Engine.Host = "127.0.0.1"
	}
	if c.Engine.ReadyTimeout.Duration == 0 {
		c.Engine.ReadyTimeout.Duration = 2 * time.Minute
	}
	if c.Engine.ConnectTimeout.Duration == 0 {
		c.Engine.ConnectTimeout.Duration = 5 * time.Second
	}
	if c.EngineArgs == nil {
		c.EngineArgs = map[string]any{}
	}
}

// NoneAsFlag reports whether "None" engine arg values render as bare flags.
func (c Config) NoneAsFlag() bool { return c.LegacyNoneString == nil || *c.LegacyNoneString }

// Validate checks field ranges. It does not inspect EngineArgs; the engine
// argument translator owns that.
func (c Config) Validate() error {
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "json", "console":
	default:
		return fmt.Errorf("log_format: unsupported format %q (want json or console)", c.LogFormat)
	}
	switch strings.ToLower(c.RequestLog) {
	case "", "off", "error", "info", "debug":
	default:
		return fmt.Errorf("request_log: unsupported level %q", c.RequestLog)
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("max_body_bytes: must be >= 0, got %d", c.MaxBodyBytes)
	}
	for name, d := range map[string]Duration{
		"completion_timeout":     c.CompletionTimeout,
		"build_timeout":          c.BuildTimeout,
		"ready_wait":             c.ReadyWait,
		"engine.ready_timeout":   c.Engine.ReadyTimeout,
		"engine.request_timeout": c.Engine.RequestTimeout,
		"engine.connect_timeout": c.Engine.ConnectTimeout,
	} {
		if d.Duration < 0 {
			return fmt.Errorf("%s: must be >= 0, got %s", name, d)
		}
	}
	switch c.Engine.Mode {
	case ModeLlamaServer:
		if strings.TrimSpace(c.Engine.URL) == "" {
			return fmt.Errorf("engine.url: required in %s mode", ModeLlamaServer)
		}
	case ModeSpawn:
		if (c.Engine.PortStart == 0) != (c.Engine.PortEnd == 0) {
			return fmt.Errorf("engine.port_start and engine.port_end must be set together")
		}
		if c.Engine.PortStart < 0 || c.Engine.PortEnd > 65535 || c.Engine.PortStart > c.Engine.PortEnd {
			return fmt.Errorf("engine port range %d-%d is invalid", c.Engine.PortStart, c.Engine.PortEnd)
		}
	case ModeInproc:
		if c.Engine.Threads < 0 {
			return fmt.Errorf("engine.threads: must be >= 0, got %d", c.Engine.Threads)
		}
	default:
		return fmt.Errorf("engine.mode: unsupported mode %q (want %s, %s or %s)", c.Engine.Mode, ModeLlamaServer, ModeSpawn, ModeInproc)
	}
	return nil
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		dec := json.NewDecoder(strings.NewReader(string(b)))
		dec.UseNumber()
		if err := dec.Decode(&cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ParseEngineArg parses one "key=value" override. A bare "key" means a
// present flag with no value.
func ParseEngineArg(s string) (string, any, error) {
	key, val, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if key == "" {
		return "", nil, fmt.Errorf("engine arg %q: empty key", s)
	}
	if !ok {
		return key, nil, nil
	}
	switch strings.ToLower(val) {
	case "true":
		return key, true, nil
	case "false":
		return key, false, nil
	}
	return key, val, nil
}
