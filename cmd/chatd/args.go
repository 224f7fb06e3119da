package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chatd/internal/common/fsutil"
	"chatd/internal/engine/spawn"
	"chatd/internal/engineargs"
)

var argsFlags struct {
	check bool
	spawn bool
}

var argsCmd = &cobra.Command{
	Use:   "args",
	Short: "Print the engine flags the configured engine arguments render to",
	Long: `Print the flag tokens rendered from engine_args and --engine-arg, one per
line, without contacting an engine.

  --check  also validate them and print the resulting engine configuration
  --spawn  print the llama-server command line spawn mode would run`,
	Args: cobra.NoArgs,
	RunE: runArgs,
}

func init() {
	rootCmd.AddCommand(argsCmd)
	argsCmd.Flags().BoolVar(&argsFlags.check, "check", false, "validate the arguments")
	argsCmd.Flags().BoolVar(&argsFlags.spawn, "spawn", false, "print the llama-server command line")
}

func runArgs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	_, rest, err := engineargs.SplitAccelerator(cfg.EngineArgs)
	if err != nil {
		return err
	}
	for _, tok := range engineargs.Args(rest, engineargs.Options{LegacyNoneString: cfg.NoneAsFlag()}) {
		fmt.Fprintln(out, tok)
	}
	if !argsFlags.check && !argsFlags.spawn {
		return nil
	}
	es, err := translate(cfg)
	if err != nil {
		return err
	}
	accel, ec := es.accel, es.ec
	if argsFlags.check {
		fmt.Fprintln(out)
		printEngineConfig(cmd, accel, ec)
	}
	if argsFlags.spawn {
		bin := cfg.Engine.Bin
		if bin == "" {
			bin = "llama-server"
		}
		port := cfg.Engine.PortStart
		if port == 0 {
			port = 8080
		}
		path, err := fsutil.ResolveModel(cfg.Engine.ModelsDir, ec.Model)
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, bin+" "+strings.Join(spawn.BuildArgs(ec, path, accel, cfg.Engine.Host, port, cfg.Engine.ExtraArgs), " "))
	}
	return nil
}

func printEngineConfig(cmd *cobra.Command, accel string, ec engineargs.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "model:                %s\n", ec.Model)
	fmt.Fprintf(out, "response-role:        %s\n", ec.ResponseRole)
	fmt.Fprintf(out, "accelerator:          %s\n", accel)
	fmt.Fprintf(out, "tensor-parallel-size: %d\n", ec.TensorParallelSize)
	fmt.Fprintf(out, "distributed-engine:   %t\n", ec.DistributedEngine)
	if ec.MaxModelLen > 0 {
		fmt.Fprintf(out, "max-model-len:        %d\n", ec.MaxModelLen)
	}
	for _, a := range ec.LoRAModules() {
		fmt.Fprintf(out, "lora:                 %s=%s\n", a.Name, a.Path)
	}
	for _, a := range ec.PromptAdapters() {
		fmt.Fprintf(out, "prompt-adapter:       %s=%s\n", a.Name, a.Path)
	}
}
