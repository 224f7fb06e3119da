package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chatd/internal/config"
	"chatd/internal/deployment"
	"chatd/internal/httpapi"
	"chatd/internal/serving"
)

var serveFlags struct {
	addr              string
	engineMode        string
	engineURL         string
	engineBin         string
	requestLog        string
	corsOrigins       string
	maxBodyBytes      int64
	completionTimeout time.Duration
	buildTimeout      time.Duration
	shutdownTimeout   time.Duration
	warmup            bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server. The serving facade is built lazily: the first
request (or GET /readyz, or --warmup) asks the engine for model metadata.

Examples:
  # Against a running llama-server
  chatd serve --engine-url http://127.0.0.1:8080 -e model=demo-7b -e response-role=assistant

  # Spawn llama-server on CPU
  chatd serve --engine-mode spawn --engine-bin ./bin/llama-server \
    -e model=/models/demo-7b.gguf -e response-role=assistant -e accelerator=CPU`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.StringVarP(&serveFlags.addr, "addr", "a", "", "HTTP listen address, e.g. :8000")
	f.StringVar(&serveFlags.engineMode, "engine-mode", "", "engine mode: llama_server, spawn or inproc")
	f.StringVar(&serveFlags.engineURL, "engine-url", "", "llama-server base URL (llama_server mode)")
	f.StringVar(&serveFlags.engineBin, "engine-bin", "", "llama-server binary (spawn mode)")
	f.StringVar(&serveFlags.requestLog, "request-log", "", "default per-request log level: off, error, info or debug")
	f.StringVar(&serveFlags.corsOrigins, "cors-origins", "", "comma separated allowed CORS origins; enables CORS")
	f.Int64Var(&serveFlags.maxBodyBytes, "max-body-bytes", 0, "maximum JSON request body size")
	f.DurationVar(&serveFlags.completionTimeout, "completion-timeout", 0, "per-request completion timeout (0 disables)")
	f.DurationVar(&serveFlags.buildTimeout, "build-timeout", 0, "bound on one serving facade build (0 waits for the engine)")
	f.DurationVar(&serveFlags.shutdownTimeout, "shutdown-timeout", 10*time.Second, "grace period for in-flight requests on shutdown")
	f.BoolVar(&serveFlags.warmup, "warmup", false, "build the serving facade at startup instead of on first request")
}

// applyServeFlags copies explicitly set serve flags over file values.
func applyServeFlags(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("addr") {
		c.Addr = serveFlags.addr
	}
	if f.Changed("engine-mode") {
		c.Engine.Mode = serveFlags.engineMode
	}
	if f.Changed("engine-url") {
		c.Engine.URL = serveFlags.engineURL
	}
	if f.Changed("engine-bin") {
		c.Engine.Bin = serveFlags.engineBin
	}
	if f.Changed("request-log") {
		c.RequestLog = serveFlags.requestLog
	}
	if f.Changed("cors-origins") {
		c.CORS.Origins = splitCSV(serveFlags.corsOrigins)
		c.CORS.Enabled = len(c.CORS.Origins) > 0
	}
	if f.Changed("max-body-bytes") {
		c.MaxBodyBytes = serveFlags.maxBodyBytes
	}
	if f.Changed("completion-timeout") {
		c.CompletionTimeout.Duration = serveFlags.completionTimeout
	}
	if f.Changed("build-timeout") {
		c.BuildTimeout.Duration = serveFlags.buildTimeout
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(func(c *config.Config) { applyServeFlags(cmd, c) })
	if err != nil {
		return err
	}
	log := newLogger(cfg, os.Stderr)

	es, err := translate(cfg)
	if err != nil {
		return fmt.Errorf("engine arguments: %w", err)
	}
	accel, ec := es.accel, es.ec
	api := engineAPIToggle()
	log.Info().
		Str("model", ec.Model).
		Str("accelerator", accel).
		Int("tensor_parallel_size", ec.TensorParallelSize).
		Bool("distributed_engine", ec.DistributedEngine).
		Str("engine_mode", cfg.Engine.Mode).
		Str(engineAPIEnv, valueOrNotSet(api)).
		Msg("starting chatd")

	eng, err := newEngine(cfg, accel, ec, log)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	dep := deployment.New(eng, ec, deployment.Options{
		Accelerator:  accel,
		EngineAPIV1:  api,
		BuildTimeout: cfg.BuildTimeout.Duration,
		Serving:      serving.Options{Logger: log, Template: es.template},
		Logger:       log,
	})
	defer func() {
		if err := dep.Close(); err != nil {
			log.Warn().Err(err).Msg("engine close")
		}
	}()

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	configureHTTP(cfg, log, baseCtx)

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           httpapi.NewMux(dep),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("chatd listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	if serveFlags.warmup {
		go func() {
			if err := dep.EnsureReady(baseCtx); err != nil {
				log.Warn().Err(err).Msg("warmup build failed; the next request retries")
			}
		}()
	}

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-errCh:
		return err
	case <-sigCtx.Done():
	}

	log.Info().Dur("grace", serveFlags.shutdownTimeout).Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), serveFlags.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		// streams still open after the grace period are cut off
		log.Warn().Err(err).Msg("graceful shutdown incomplete")
		cancelBase()
		_ = srv.Close()
	}
	return nil
}

func configureHTTP(cfg config.Config, log zerolog.Logger, base context.Context) {
	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetDefaultLogLevel(cfg.RequestLog)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetCompletionTimeout(cfg.CompletionTimeout.Duration)
	httpapi.SetReadyWait(cfg.ReadyWait.Duration)
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.Origins, cfg.CORS.Methods, cfg.CORS.Headers)
	httpapi.SetBaseContext(base)
}

func valueOrNotSet(s string) string {
	if s == "" {
		return "not set"
	}
	return s
}
