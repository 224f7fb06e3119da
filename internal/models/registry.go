// Package models assembles the set of servable model identifiers: the base
// model plus any configured LoRA modules and prompt adapters.
package models

import (
	"errors"
	"fmt"
	"time"

	"chatd/internal/engine"
	"chatd/internal/engineargs"
	"chatd/pkg/types"
)

// ErrNoModelConfig is returned when the registry is built before the engine
// reported its model metadata.
var ErrNoModelConfig = errors.New("models: engine model config not retrieved")

// OwnedBy is the owner reported for every listed model.
const OwnedBy = "chatd"

// Kind distinguishes the three sources of servable names.
type Kind int

const (
	KindBase Kind = iota
	KindLoRA
	KindPromptAdapter
)

func (k Kind) String() string {
	switch k {
	case KindBase:
		return "base"
	case KindLoRA:
		return "lora"
	case KindPromptAdapter:
		return "prompt_adapter"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ModelPath is a named reference to model weights.
type ModelPath struct {
	Name string
	Path string
	Kind Kind
	// Index is the position within its kind in configured order.
	Index int
}

// Registry is an immutable projection of the configuration and engine
// metadata. It is safe for concurrent use.
type Registry struct {
	engineCfg engine.ModelConfig
	paths     []ModelPath
	byName    map[string]ModelPath
	created   int64
}

// New builds the registry. Names must be unique within a kind; when an
// adapter shadows the base model name the base model wins on Resolve.
func New(modelCfg engine.ModelConfig, cfg engineargs.Config) (*Registry, error) {
	if !modelCfg.Retrieved {
		return nil, ErrNoModelConfig
	}
	r := &Registry{
		engineCfg: modelCfg,
		byName:    make(map[string]ModelPath),
		created:   time.Now().Unix(),
	}
	r.add(ModelPath{Name: cfg.Model, Path: cfg.Model, Kind: KindBase})
	for i, a := range cfg.LoRAModules() {
		r.add(ModelPath{Name: a.Name, Path: a.Path, Kind: KindLoRA, Index: i})
	}
	for i, a := range cfg.PromptAdapters() {
		r.add(ModelPath{Name: a.Name, Path: a.Path, Kind: KindPromptAdapter, Index: i})
	}
	return r, nil
}

func (r *Registry) add(p ModelPath) {
	r.paths = append(r.paths, p)
	if _, exists := r.byName[p.Name]; !exists {
		r.byName[p.Name] = p
	}
}

// Base returns the base model path.
func (r *Registry) Base() ModelPath { return r.paths[0] }

// EngineConfig returns the engine metadata the registry was built from.
func (r *Registry) EngineConfig() engine.ModelConfig { return r.engineCfg }

// ListModels returns base, LoRA and prompt-adapter paths in that order,
// each group in configured order.
func (r *Registry) ListModels() []ModelPath {
	return append([]ModelPath(nil), r.paths...)
}

// Resolve looks up a requested model name. The empty name selects the base.
func (r *Registry) Resolve(name string) (ModelPath, bool) {
	if name == "" {
		return r.Base(), true
	}
	p, ok := r.byName[name]
	return p, ok
}

// Response projects the registry into the GET /v1/models payload.
func (r *Registry) Response() types.ModelList {
	base := r.Base().Name
	out := types.ModelList{Object: "list", Data: make([]types.ModelCard, 0, len(r.paths))}
	for _, p := range r.paths {
		card := types.ModelCard{
			ID:      p.Name,
			Object:  "model",
			Created: r.created,
			OwnedBy: OwnedBy,
			Root:    p.Path,
		}
		if p.Kind == KindBase {
			if n := r.engineCfg.MaxModelLen; n > 0 {
				card.MaxModelLen = &n
			}
		} else {
			parent := base
			card.Parent = &parent
		}
		out.Data = append(out.Data, card)
	}
	return out
}
