package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

const yamlCfg = `addr: :9999
log_level: debug
completion_timeout: 90s
cors:
  enabled: true
  origins: ["https://app.example"]
engine:
  mode: spawn
  bin: /opt/llama/llama-server
  port_start: 9100
  port_end: 9199
  ready_timeout: 5m
engine_args:
  model: demo-7b
  response-role: assistant
  max-model-len: 4096
  accelerator: CPU
  enforce-eager: true
`

func TestLoadYAML(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "cfg.yaml", yamlCfg)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.LogLevel != "debug" || cfg.CompletionTimeout.Duration != 90*time.Second {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if !cfg.CORS.Enabled || len(cfg.CORS.Origins) != 1 {
		t.Fatalf("cors: %+v", cfg.CORS)
	}
	if cfg.Engine.Mode != ModeSpawn || cfg.Engine.PortStart != 9100 || cfg.Engine.ReadyTimeout.Duration != 5*time.Minute {
		t.Fatalf("engine: %+v", cfg.Engine)
	}
	if cfg.EngineArgs["model"] != "demo-7b" || cfg.EngineArgs["max-model-len"] != 4096 || cfg.EngineArgs["enforce-eager"] != true {
		t.Fatalf("engine args: %#v", cfg.EngineArgs)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "cfg.json", `{"addr":":7070","engine":{"url":"http://llama:8080","request_timeout":"10s"},"engine_args":{"model":"m2","seed":7,"gpu_memory_utilization":0.85}}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.Engine.URL != "http://llama:8080" || cfg.Engine.RequestTimeout.Duration != 10*time.Second {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	// numbers keep their literal spelling so they render unchanged as flag values
	if got := cfg.EngineArgs["gpu_memory_utilization"]; got == nil || strings.TrimSpace(toString(got)) != "0.85" {
		t.Fatalf("gpu_memory_utilization=%v", got)
	}
}

func TestLoadTOML(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "cfg.toml", "addr=\":8081\"\nbuild_timeout=\"3m\"\n[engine]\nmode=\"inproc\"\nthreads=8\n[engine_args]\nmodel=\"m3\"\nresponse_role=\"assistant\"\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.BuildTimeout.Duration != 3*time.Minute || cfg.Engine.Mode != ModeInproc || cfg.Engine.Threads != 8 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.EngineArgs["model"] != "m3" {
		t.Fatalf("engine args: %#v", cfg.EngineArgs)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	if _, err := Load("/definitely/not/a/real/file-12345.yaml"); err == nil {
		t.Fatalf("expected error for nonexistent file")
	}
	d := t.TempDir()
	cases := map[string]string{
		"cfg.txt":  "not supported",
		"bad.yaml": "addr: :8080\n: broken\n",
		"bad.json": `{ "addr": ":8080", "engine": }`,
		"bad.toml": "addr=:8080\nengine\n",
		"dur.yaml": "completion_timeout: soon\n",
	}
	for name, content := range cases {
		if _, err := Load(writeTempFile(t, d, name, content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestDefaults(t *testing.T) {
	c := Defaults()
	if c.Addr != ":8000" || c.Engine.Mode != ModeLlamaServer || c.Engine.URL == "" || c.MaxBodyBytes != 1<<20 {
		t.Fatalf("defaults: %+v", c)
	}
	if !c.NoneAsFlag() {
		t.Fatalf("legacy None handling should default on")
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	off := false
	c = Config{LegacyNoneString: &off}
	c.ApplyDefaults()
	if c.NoneAsFlag() {
		t.Fatalf("explicit legacy_none_string=false was overwritten")
	}
}

func TestValidate(t *testing.T) {
	bad := []func(c *Config){
		func(c *Config) { c.LogLevel = "loud" },
		func(c *Config) { c.RequestLog = "trace" },
		func(c *Config) { c.LogFormat = "xml" },
		func(c *Config) { c.MaxBodyBytes = -1 },
		func(c *Config) { c.CompletionTimeout.Duration = -time.Second },
		func(c *Config) { c.Engine.Mode = "remote" },
		func(c *Config) { c.Engine.URL = " " },
		func(c *Config) { c.Engine.Mode = ModeSpawn; c.Engine.PortStart = 9000 },
		func(c *Config) { c.Engine.Mode = ModeSpawn; c.Engine.PortStart, c.Engine.PortEnd = 9100, 9000 },
		func(c *Config) { c.Engine.Mode = ModeInproc; c.Engine.Threads = -2 },
	}
	for i, mut := range bad {
		c := Defaults()
		mut(&c)
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error for %+v", i, c)
		}
	}
}

func TestParseEngineArg(t *testing.T) {
	cases := []struct {
		in   string
		key  string
		want any
	}{
		{"model=demo-7b", "model", "demo-7b"},
		{"enforce-eager", "enforce-eager", nil},
		{"trust-remote-code=false", "trust-remote-code", false},
		{"enable-lora=TRUE", "enable-lora", true},
		{"lora-modules=a=/x,b=/y", "lora-modules", "a=/x,b=/y"},
	}
	for _, tc := range cases {
		k, v, err := ParseEngineArg(tc.in)
		if err != nil || k != tc.key || v != tc.want {
			t.Fatalf("ParseEngineArg(%q) = %q, %#v, %v", tc.in, k, v, err)
		}
	}
	if _, _, err := ParseEngineArg("=x"); err == nil {
		t.Fatalf("expected empty key error")
	}
}

func toString(v any) string {
	if s, ok := v.(interface{ String() string }); ok {
		return s.String()
	}
	return ""
}
