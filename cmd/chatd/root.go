package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	logLevel   string
	engineArgs []string
)

var rootCmd = &cobra.Command{
	Use:   "chatd",
	Short: "OpenAI-compatible chat completion gateway",
	Long: `chatd exposes POST /v1/chat/completions and GET /v1/models in front of a
llama.cpp engine. The engine is either an already-running llama-server, a
llama-server child process, or an in-process runtime (llama build tag).

Engine arguments (model, response-role, lora-modules, ...) come from the
engine_args section of the config file and from repeated --engine-arg flags.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (.yaml, .json or .toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringArrayVarP(&engineArgs, "engine-arg", "e", nil, "engine argument as key=value; repeatable, overrides the config file")
}
