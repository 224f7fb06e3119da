package engineargs

import (
	"reflect"
	"strings"
	"testing"
)

func baseRaw() map[string]any {
	return map[string]any{"model": "demo-7b", "response_role": "assistant"}
}

func countToken(args []string, tok string) int {
	n := 0
	for _, a := range args {
		if a == tok {
			n++
		}
	}
	return n
}

func TestArgs_RenderingRules(t *testing.T) {
	raw := map[string]any{
		"enforce_eager":     true,
		"trust-remote-code": nil,
		"chat_template":     "None",
		"enable-lora":       false,
		"max_model_len":     4096,
		"model":             "demo-7b",
	}
	args := Args(raw, DefaultOptions())
	want := []string{
		"--chat-template",
		"--enable-lora=false",
		"--enforce-eager",
		"--max-model-len", "4096",
		"--model", "demo-7b",
		"--trust-remote-code",
	}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("args=%q want %q", args, want)
	}
	for _, bare := range []string{"--enforce-eager", "--trust-remote-code", "--chat-template"} {
		if n := countToken(args, bare); n != 1 {
			t.Fatalf("%s appears %d times", bare, n)
		}
	}
}

func TestArgs_NoneStringLiteralWhenLegacyDisabled(t *testing.T) {
	args := Args(map[string]any{"chat_template": "None"}, Options{LegacyNoneString: false})
	want := []string{"--chat-template", "None"}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("args=%q want %q", args, want)
	}
}

func TestArgs_ListValues(t *testing.T) {
	args := Args(map[string]any{"lora_modules": []any{"a=/p/a", "b=/p/b"}}, DefaultOptions())
	want := []string{"--lora-modules", "a=/p/a,b=/p/b"}
	if !reflect.DeepEqual(args, want) {
		t.Fatalf("args=%q want %q", args, want)
	}
}

func TestTranslate_Minimal(t *testing.T) {
	cfg, err := Translate(baseRaw(), DefaultOptions())
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if cfg.Model != "demo-7b" || cfg.ResponseRole != "assistant" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.TensorParallelSize != 1 || cfg.Dtype != "auto" || cfg.GPUMemoryUtilization != 0.9 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.HasSeed || cfg.EnableLoRA || len(cfg.LoRAModules()) != 0 {
		t.Fatalf("unexpected optional fields: %+v", cfg)
	}
}

func TestTranslate_Idempotent(t *testing.T) {
	raw := baseRaw()
	raw["lora_modules"] = "a=/p/a b=/p/b"
	raw["prompt_adapters"] = []any{"pa=/p/pa"}
	raw["tensor_parallel_size"] = 2
	raw["seed"] = "7"
	raw["enforce_eager"] = true
	a, err := Translate(raw, DefaultOptions())
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	b, err := Translate(raw, DefaultOptions())
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("not idempotent:\n%+v\n%+v", a, b)
	}
	if !a.HasSeed || a.Seed != 7 || a.TensorParallelSize != 2 || !a.EnforceEager {
		t.Fatalf("unexpected cfg: %+v", a)
	}
}

func TestTranslate_MissingRequired(t *testing.T) {
	cases := map[string]map[string]any{
		"model":         {"response_role": "assistant"},
		"response-role": {"model": "demo-7b"},
		"model-blank":   {"model": "  ", "response_role": "assistant"},
	}
	for name, raw := range cases {
		_, err := Translate(raw, DefaultOptions())
		if !IsConfigurationError(err) {
			t.Fatalf("%s: expected ConfigurationError, got %v", name, err)
		}
	}
}

func TestTranslate_MissingModelNamesKey(t *testing.T) {
	_, err := Translate(map[string]any{"response_role": "assistant", "seed": 3}, DefaultOptions())
	ce, ok := err.(*ConfigurationError)
	if !ok || ce.Key != "model" {
		t.Fatalf("expected model ConfigurationError, got %v", err)
	}
}

func TestTranslate_UnknownFlagNamesKey(t *testing.T) {
	raw := baseRaw()
	raw["frobnicate"] = true
	_, err := Translate(raw, DefaultOptions())
	ce, ok := err.(*ConfigurationError)
	if !ok {
		t.Fatalf("expected *ConfigurationError, got %T %v", err, err)
	}
	if ce.Key != "frobnicate" || !strings.Contains(err.Error(), "frobnicate") {
		t.Fatalf("error does not name key: %v", err)
	}
}

func TestTranslate_NoneIsBareFlag(t *testing.T) {
	for _, v := range []any{nil, "None"} {
		raw := baseRaw()
		raw["enforce_eager"] = v
		cfg, err := Translate(raw, DefaultOptions())
		if err != nil {
			t.Fatalf("value %v: %v", v, err)
		}
		if !cfg.EnforceEager {
			t.Fatalf("value %v: bare flag not applied", v)
		}
	}
	// A value-taking flag cannot be bare.
	raw := baseRaw()
	raw["chat_template"] = "None"
	if _, err := Translate(raw, DefaultOptions()); !IsConfigurationError(err) {
		t.Fatalf("expected ConfigurationError for bare --chat-template, got %v", err)
	}
	cfg, err := Translate(raw, Options{LegacyNoneString: false})
	if err != nil {
		t.Fatalf("literal None: %v", err)
	}
	if cfg.ChatTemplate != "None" {
		t.Fatalf("chat template=%q", cfg.ChatTemplate)
	}
}

func TestTranslate_BoolValues(t *testing.T) {
	raw := baseRaw()
	raw["enforce_eager"] = false
	raw["trust_remote_code"] = "true"
	cfg, err := Translate(raw, DefaultOptions())
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if cfg.EnforceEager || !cfg.TrustRemoteCode {
		t.Fatalf("unexpected bools: %+v", cfg)
	}
	raw["trust_remote_code"] = "maybe"
	if _, err := Translate(raw, DefaultOptions()); !IsConfigurationError(err) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestTranslate_Adapters(t *testing.T) {
	raw := baseRaw()
	raw["lora_modules"] = "A=/loras/a,B=/loras/b"
	cfg, err := Translate(raw, DefaultOptions())
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	got := cfg.LoRAModules()
	want := []AdapterPath{{Name: "A", Path: "/loras/a"}, {Name: "B", Path: "/loras/b"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("lora=%+v want %+v", got, want)
	}
	if !cfg.EnableLoRA {
		t.Fatalf("lora modules should imply enable-lora")
	}
	got[0].Name = "mutated"
	if cfg.LoRAModules()[0].Name != "A" {
		t.Fatalf("config mutated through accessor")
	}

	raw["lora_modules"] = "A=/x A=/y"
	if _, err := Translate(raw, DefaultOptions()); !IsConfigurationError(err) {
		t.Fatalf("expected duplicate-name error, got %v", err)
	}
	raw["lora_modules"] = "just-a-path"
	if _, err := Translate(raw, DefaultOptions()); !IsConfigurationError(err) {
		t.Fatalf("expected malformed entry error, got %v", err)
	}
}

func TestTranslate_Validation(t *testing.T) {
	cases := map[string]any{
		"tensor_parallel_size":   0,
		"gpu_memory_utilization": 1.5,
		"dtype":                  "int3",
		"max_model_len":          "many",
		"max_loras":              0,
	}
	for key, val := range cases {
		raw := baseRaw()
		raw[key] = val
		if _, err := Translate(raw, DefaultOptions()); !IsConfigurationError(err) {
			t.Fatalf("%s=%v: expected ConfigurationError, got %v", key, val, err)
		}
	}
}

func TestTranslate_DuplicateNormalizedKey(t *testing.T) {
	raw := baseRaw()
	raw["response-role"] = "assistant"
	if _, err := Translate(raw, DefaultOptions()); !IsConfigurationError(err) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}

func TestTranslate_RPCServersRequireDistributed(t *testing.T) {
	raw := baseRaw()
	raw["rpc_servers"] = "10.0.0.1:50052,10.0.0.2:50052"
	if _, err := Translate(raw, DefaultOptions()); !IsConfigurationError(err) {
		t.Fatalf("expected error without distributed-engine, got %v", err)
	}
	raw["distributed_engine"] = true
	cfg, err := Translate(raw, DefaultOptions())
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if !cfg.DistributedEngine || len(cfg.RPCServers()) != 2 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestSplitAccelerator(t *testing.T) {
	raw := baseRaw()
	accel, rest, err := SplitAccelerator(raw)
	if err != nil || accel != AcceleratorGPU || len(rest) != 2 {
		t.Fatalf("default: accel=%q rest=%v err=%v", accel, rest, err)
	}
	raw["accelerator"] = "cpu"
	accel, rest, err = SplitAccelerator(raw)
	if err != nil || accel != AcceleratorCPU {
		t.Fatalf("cpu: accel=%q err=%v", accel, err)
	}
	if _, ok := rest["accelerator"]; ok {
		t.Fatalf("accelerator not removed")
	}
	if _, ok := raw["accelerator"]; !ok {
		t.Fatalf("input map mutated")
	}
	if _, err := Translate(rest, DefaultOptions()); err != nil {
		t.Fatalf("translate rest: %v", err)
	}
	raw["accelerator"] = "TPU"
	if _, _, err := SplitAccelerator(raw); !IsConfigurationError(err) {
		t.Fatalf("expected ConfigurationError for TPU, got %v", err)
	}
}

func TestOverride_ReplacesNormalizedKey(t *testing.T) {
	raw := baseRaw()
	raw["max_model_len"] = 2048
	out := Override(raw, "max-model-len", "4096")
	if _, ok := out["max_model_len"]; ok {
		t.Fatalf("old spelling kept: %v", out)
	}
	if _, ok := raw["max-model-len"]; ok {
		t.Fatalf("input map mutated")
	}
	cfg, err := Translate(out, DefaultOptions())
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if cfg.MaxModelLen != 4096 {
		t.Fatalf("max model len=%d", cfg.MaxModelLen)
	}
}
