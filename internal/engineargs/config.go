package engineargs

// AdapterPath names an auxiliary model artifact (LoRA module or prompt
// adapter) served alongside the base model.
type AdapterPath struct {
	Name string
	Path string
}

// Config is the validated engine configuration. It is a value type; the
// list-valued fields are only reachable through accessors returning copies,
// so a Config never changes after Translate returns it.
type Config struct {
	Model        string
	ResponseRole string
	ChatTemplate string

	TensorParallelSize int
	DistributedEngine  bool

	MaxModelLen          int
	Seed                 int64
	HasSeed              bool
	Dtype                string
	GPUMemoryUtilization float64
	EnforceEager         bool
	TrustRemoteCode      bool
	EnableLoRA           bool
	MaxLoRAs             int

	DisableLogRequests bool
	MaxLogLen          int

	loraModules    []AdapterPath
	promptAdapters []AdapterPath
	rpcServers     []string
}

// LoRAModules returns the configured LoRA modules in configured order.
func (c Config) LoRAModules() []AdapterPath { return append([]AdapterPath(nil), c.loraModules...) }

// PromptAdapters returns the configured prompt adapters in configured order.
func (c Config) PromptAdapters() []AdapterPath {
	return append([]AdapterPath(nil), c.promptAdapters...)
}

// RPCServers returns the worker endpoints of a distributed engine.
func (c Config) RPCServers() []string { return append([]string(nil), c.rpcServers...) }
