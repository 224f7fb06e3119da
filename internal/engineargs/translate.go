package engineargs

import (
	"io"
	"strings"

	"github.com/spf13/pflag"
)

var validDtypes = map[string]bool{
	"auto": true, "half": true, "float16": true, "bfloat16": true, "float": true, "float32": true,
}

// flagValues holds the destinations bound to one parser instance.
type flagValues struct {
	model, responseRole, chatTemplate, dtype   string
	loraModules, promptAdapters, rpcServers    []string
	tensorParallel, maxModelLen, maxLoRAs      int
	maxLogLen                                  int
	seed                                       int64
	gpuMemUtil                                 float64
	distributed, enforceEager, trustRemoteCode bool
	enableLoRA, disableLogRequests             bool
}

func newFlagSet(v *flagValues) *pflag.FlagSet {
	fs := pflag.NewFlagSet("engine", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = true

	fs.StringVar(&v.model, "model", "", "Model identifier (path or repository id) served as the base model")
	fs.StringVar(&v.responseRole, "response-role", "", "Role used to tag generated messages, e.g. assistant")
	fs.StringVar(&v.chatTemplate, "chat-template", "", "Chat template, inline or a path to a template file")
	fs.StringSliceVar(&v.loraModules, "lora-modules", nil, "LoRA modules as name=path, comma or space separated")
	fs.StringSliceVar(&v.promptAdapters, "prompt-adapters", nil, "Prompt adapters as name=path, comma or space separated")
	fs.IntVar(&v.tensorParallel, "tensor-parallel-size", 1, "Number of tensor parallel replicas")
	fs.BoolVar(&v.distributed, "distributed-engine", false, "Distribute the engine across worker processes")
	fs.StringSliceVar(&v.rpcServers, "rpc-servers", nil, "Engine worker endpoints (host:port) for a distributed engine")
	fs.IntVar(&v.maxModelLen, "max-model-len", 0, "Model context length; 0 lets the engine decide")
	fs.Int64Var(&v.seed, "seed", 0, "Engine random seed")
	fs.StringVar(&v.dtype, "dtype", "auto", "Weight and activation data type")
	fs.Float64Var(&v.gpuMemUtil, "gpu-memory-utilization", 0.9, "Fraction of accelerator memory the engine may use")
	fs.BoolVar(&v.enforceEager, "enforce-eager", false, "Disable graph capture and always run eagerly")
	fs.BoolVar(&v.trustRemoteCode, "trust-remote-code", false, "Trust remote code shipped with the model")
	fs.BoolVar(&v.enableLoRA, "enable-lora", false, "Enable LoRA adapters")
	fs.IntVar(&v.maxLoRAs, "max-loras", 1, "Maximum number of LoRA adapters in a single batch")
	fs.BoolVar(&v.disableLogRequests, "disable-log-requests", false, "Disable request logging")
	fs.IntVar(&v.maxLogLen, "max-log-len", 0, "Maximum number of prompt characters logged per request; 0 is unlimited")
	return fs
}

// Translate parses a raw key/value mapping into a validated Config. It is
// pure: the same input always yields an equal Config.
func Translate(raw map[string]any, opts Options) (Config, error) {
	var v flagValues
	fs := newFlagSet(&v)

	seen := make(map[string]string, len(raw))
	for _, rawKey := range sortedKeys(raw) {
		key := normalizeKey(rawKey)
		if key == "" {
			return Config{}, configErr(rawKey, "empty flag name")
		}
		if prev, dup := seen[key]; dup {
			return Config{}, configErr(key, "specified more than once (%q and %q)", prev, rawKey)
		}
		seen[key] = rawKey
		fl := fs.Lookup(key)
		if fl == nil {
			return Config{}, configErr(key, "unrecognized argument")
		}
		tokens := renderEntry(key, raw[rawKey], opts)
		if fl.Value.Type() == "bool" && len(tokens) == 2 {
			tokens = []string{tokens[0] + "=" + tokens[1]}
		}
		if err := fs.Parse(tokens); err != nil {
			return Config{}, configErr(key, "%v", err)
		}
		if fs.NArg() > 0 {
			return Config{}, configErr(key, "unexpected value %q", fs.Arg(0))
		}
	}
	return v.build(fs)
}

func (v *flagValues) build(fs *pflag.FlagSet) (Config, error) {
	if strings.TrimSpace(v.model) == "" {
		return Config{}, configErr("model", "required")
	}
	if strings.TrimSpace(v.responseRole) == "" {
		return Config{}, configErr("response-role", "required")
	}
	if v.tensorParallel < 1 {
		return Config{}, configErr("tensor-parallel-size", "must be >= 1, got %d", v.tensorParallel)
	}
	if v.maxModelLen < 0 {
		return Config{}, configErr("max-model-len", "must be >= 0, got %d", v.maxModelLen)
	}
	if v.maxLogLen < 0 {
		return Config{}, configErr("max-log-len", "must be >= 0, got %d", v.maxLogLen)
	}
	if v.maxLoRAs < 1 {
		return Config{}, configErr("max-loras", "must be >= 1, got %d", v.maxLoRAs)
	}
	if v.gpuMemUtil <= 0 || v.gpuMemUtil > 1 {
		return Config{}, configErr("gpu-memory-utilization", "must be in (0, 1], got %g", v.gpuMemUtil)
	}
	dtype := strings.ToLower(strings.TrimSpace(v.dtype))
	if !validDtypes[dtype] {
		return Config{}, configErr("dtype", "unsupported dtype %q", v.dtype)
	}

	lora, err := parseAdapters("lora-modules", v.loraModules)
	if err != nil {
		return Config{}, err
	}
	prompt, err := parseAdapters("prompt-adapters", v.promptAdapters)
	if err != nil {
		return Config{}, err
	}
	rpc := splitList(v.rpcServers)
	if len(rpc) > 0 && !v.distributed {
		return Config{}, configErr("rpc-servers", "requires --distributed-engine")
	}

	return Config{
		Model:                strings.TrimSpace(v.model),
		ResponseRole:         strings.TrimSpace(v.responseRole),
		ChatTemplate:         v.chatTemplate,
		TensorParallelSize:   v.tensorParallel,
		DistributedEngine:    v.distributed,
		MaxModelLen:          v.maxModelLen,
		Seed:                 v.seed,
		HasSeed:              fs.Changed("seed"),
		Dtype:                dtype,
		GPUMemoryUtilization: v.gpuMemUtil,
		EnforceEager:         v.enforceEager,
		TrustRemoteCode:      v.trustRemoteCode,
		EnableLoRA:           v.enableLoRA || len(lora) > 0,
		MaxLoRAs:             v.maxLoRAs,
		DisableLogRequests:   v.disableLogRequests,
		MaxLogLen:            v.maxLogLen,
		loraModules:          lora,
		promptAdapters:       prompt,
		rpcServers:           rpc,
	}, nil
}

// parseAdapters parses name=path items, preserving order and rejecting
// duplicate names.
func parseAdapters(key string, items []string) ([]AdapterPath, error) {
	var out []AdapterPath
	names := make(map[string]bool)
	for _, item := range splitList(items) {
		name, path, ok := strings.Cut(item, "=")
		name, path = strings.TrimSpace(name), strings.TrimSpace(path)
		if !ok || name == "" || path == "" {
			return nil, configErr(key, "invalid entry %q (want name=path)", item)
		}
		if names[name] {
			return nil, configErr(key, "duplicate name %q", name)
		}
		names[name] = true
		out = append(out, AdapterPath{Name: name, Path: path})
	}
	return out, nil
}

// splitList flattens comma-split slice values further on whitespace.
func splitList(items []string) []string {
	var out []string
	for _, it := range items {
		out = append(out, strings.Fields(it)...)
	}
	return out
}
