// Package deployment is the externally addressable unit: it owns one engine
// handle and builds the chat serving facade lazily, exactly once, on first
// use.
package deployment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"chatd/internal/engine"
	"chatd/internal/engineargs"
	"chatd/internal/serving"
	"chatd/pkg/types"
)

// State is the readiness of the serving facade.
type State int32

const (
	StateUninitialized State = iota
	StateBuilding
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

const buildKey = "facade"

// Options configures a Deployment.
type Options struct {
	// Accelerator is the accelerator class split off the raw engine args.
	Accelerator string
	// EngineAPIV1 is the raw value of the engine API toggle, for diagnostics.
	EngineAPIV1 string
	// BuildTimeout bounds one facade build; 0 waits for the engine indefinitely.
	BuildTimeout time.Duration
	Serving      serving.Options
	Events       EventPublisher
	Logger       zerolog.Logger
}

// BuildError reports a failed facade build. The deployment stays
// uninitialized and the next request starts a new build.
type BuildError struct{ Err error }

func (e *BuildError) Error() string { return "serving facade not ready: " + e.Err.Error() }
func (e *BuildError) Unwrap() error { return e.Err }

// IsBuildError reports whether err is (or wraps) a BuildError.
func IsBuildError(err error) bool {
	var be *BuildError
	return errors.As(err, &be)
}

// Deployment holds the engine and the lazily built facade.
type Deployment struct {
	eng     engine.Engine
	cfg     engineargs.Config
	opts    Options
	log     zerolog.Logger
	started time.Time

	group    singleflight.Group
	chat     atomic.Pointer[serving.Chat]
	building atomic.Bool
	builds   atomic.Uint64

	mu      sync.Mutex
	lastErr string
}

// New wraps eng. It does not contact the engine.
func New(eng engine.Engine, cfg engineargs.Config, opts Options) *Deployment {
	if opts.Events == nil {
		opts.Events = noopPublisher{}
	}
	if opts.Accelerator == "" {
		opts.Accelerator = engineargs.AcceleratorGPU
	}
	return &Deployment{
		eng:     eng,
		cfg:     cfg,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "deployment").Logger(),
		started: time.Now(),
	}
}

// Config returns the engine configuration the deployment serves.
func (d *Deployment) Config() engineargs.Config { return d.cfg }

// State reports the current facade state.
func (d *Deployment) State() State {
	if d.chat.Load() != nil {
		return StateReady
	}
	if d.building.Load() {
		return StateBuilding
	}
	return StateUninitialized
}

// Chat returns the serving facade, building it on first use. Concurrent
// callers share one in-flight build. The build is detached from ctx: a
// caller giving up does not cancel it for the others.
func (d *Deployment) Chat(ctx context.Context) (*serving.Chat, error) {
	if c := d.chat.Load(); c != nil {
		return c, nil
	}
	ch := d.group.DoChan(buildKey, func() (any, error) {
		if c := d.chat.Load(); c != nil {
			return c, nil
		}
		return d.build()
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, &BuildError{Err: r.Err}
		}
		return r.Val.(*serving.Chat), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Deployment) build() (*serving.Chat, error) {
	d.building.Store(true)
	defer d.building.Store(false)

	n := d.builds.Add(1)
	d.opts.Events.Publish(Event{Name: "build_start", Fields: map[string]any{"attempt": n}})
	d.log.Info().Uint64("attempt", n).Str("model", d.cfg.Model).Msg("building serving facade")

	ctx := context.Background()
	if d.opts.BuildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.BuildTimeout)
		defer cancel()
	}
	start := time.Now()
	c, err := serving.Build(ctx, d.eng, d.cfg, d.opts.Serving)
	dur := time.Since(start)
	if err != nil {
		buildsTotal.WithLabelValues("error").Inc()
		d.mu.Lock()
		d.lastErr = err.Error()
		d.mu.Unlock()
		d.opts.Events.Publish(Event{Name: "build_failed", Fields: map[string]any{"attempt": n, "error": err.Error()}})
		d.log.Error().Err(err).Dur("took", dur).Msg("serving facade build failed")
		return nil, err
	}
	d.chat.Store(c)
	buildsTotal.WithLabelValues("ok").Inc()
	facadeReady.Set(1)
	d.mu.Lock()
	d.lastErr = ""
	d.mu.Unlock()
	d.opts.Events.Publish(Event{Name: "build_ready", Fields: map[string]any{"attempt": n, "models": len(c.Registry().ListModels())}})
	d.log.Info().Dur("took", dur).Int("max_model_len", c.Registry().EngineConfig().MaxModelLen).Msg("serving facade ready")
	return c, nil
}

// Complete ensures the facade is ready and runs one chat completion. A
// failed build is reported as a 503 error result.
func (d *Deployment) Complete(ctx context.Context, req *types.ChatCompletionRequest) serving.Result {
	c, err := d.Chat(ctx)
	if err != nil {
		return notReadyResult(err)
	}
	return c.Complete(ctx, req)
}

// EnsureReady triggers the facade build if needed and waits for it up to ctx.
func (d *Deployment) EnsureReady(ctx context.Context) error {
	_, err := d.Chat(ctx)
	return err
}

// ListModels ensures the facade is ready and returns the model list.
func (d *Deployment) ListModels(ctx context.Context) (types.ModelList, error) {
	c, err := d.Chat(ctx)
	if err != nil {
		return types.ModelList{}, err
	}
	return c.ListModels(), nil
}

// Status reports deployment diagnostics without triggering a build.
func (d *Deployment) Status() types.StatusResponse {
	d.mu.Lock()
	lastErr := d.lastErr
	d.mu.Unlock()
	api := d.opts.EngineAPIV1
	if api == "" {
		api = "not set"
	}
	now := time.Now()
	return types.StatusResponse{
		State:              d.State().String(),
		Model:              d.cfg.Model,
		Accelerator:        d.opts.Accelerator,
		TensorParallelSize: d.cfg.TensorParallelSize,
		DistributedEngine:  d.cfg.DistributedEngine,
		EngineAPIV1:        api,
		BuildsTotal:        d.builds.Load(),
		LastError:          lastErr,
		UptimeSeconds:      int64(now.Sub(d.started).Seconds()),
		ServerTimeUnix:     now.Unix(),
	}
}

// Close releases the engine.
func (d *Deployment) Close() error {
	d.opts.Events.Publish(Event{Name: "closed"})
	return d.eng.Close()
}

func notReadyResult(err error) serving.Result {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return serving.ErrorResult(http.StatusServiceUnavailable, "request canceled while the serving facade was loading")
	}
	return serving.ErrorResult(http.StatusServiceUnavailable, err.Error())
}
