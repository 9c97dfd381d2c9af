package models

import (
	"sort"
	"strings"
	"sync"

	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/xla"
	"github.com/janpfeifer/kge/interactions"
	"github.com/janpfeifer/kge/internal/parameters"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// defaultBackend is created lazily and shared by all models built through FromConfigString.
var defaultBackend = sync.OnceValue(func() backends.Backend {
	return backends.New()
})

// FromConfigString builds a model from a configuration string of the form
// "<model>,num_entities=N,num_relations=M,dim=D[,key=value...]", e.g.
//
//	"transe,num_entities=100,num_relations=7,dim=32,p=1"
//	"conve,num_entities=100,num_relations=7,dim=64,height=8,width=8"
//	"kg2e,num_entities=100,num_relations=7,dim=16,similarity=EL"
//
// Unknown keys are rejected. The model runs on a process-wide default backend.
func FromConfigString(config string) (*Model, error) {
	return FromConfigStringWithBackend(defaultBackend(), config)
}

// FromConfigStringWithBackend is FromConfigString on an explicit backend.
func FromConfigStringWithBackend(backend backends.Backend, config string) (*Model, error) {
	name, rest, _ := strings.Cut(config, ",")
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, errors.Errorf("empty model name in configuration %q", config)
	}
	params := make(parameters.Params)
	if rest != "" {
		params = parameters.NewFromConfigString(rest)
	}

	var cfg Config
	var err error
	if cfg.NumEntities, err = parameters.PopParamOr(params, "num_entities", 0); err != nil {
		return nil, err
	}
	if cfg.NumRelations, err = parameters.PopParamOr(params, "num_relations", 0); err != nil {
		return nil, err
	}
	if cfg.EmbeddingDim, err = parameters.PopParamOr(params, "dim", 0); err != nil {
		return nil, err
	}
	if cfg.RelationDim, err = parameters.PopParamOr(params, "relation_dim", 0); err != nil {
		return nil, err
	}

	build, found := builders[name]
	if !found {
		return nil, errors.Errorf("unknown model %q, valid models are %s", name, modelNames())
	}
	m, err := build(backend, cfg, params)
	if err != nil {
		return nil, errors.WithMessagef(err, "building model %q", name)
	}
	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for key := range params {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		return nil, errors.Errorf("unknown parameters %v for model %q", keys, name)
	}
	klog.V(1).Infof("Built model %q: %d entities, %d relations, dim=%d",
		name, cfg.NumEntities, cfg.NumRelations, cfg.EmbeddingDim)
	return m, nil
}

type builderFn func(backend backends.Backend, cfg Config, params parameters.Params) (*Model, error)

var builders = map[string]builderFn{
	"transe": func(backend backends.Backend, cfg Config, params parameters.Params) (*Model, error) {
		p, err := parameters.PopParamOr(params, "p", 2)
		if err != nil {
			return nil, err
		}
		return NewTransE(backend, cfg, p)
	},
	"um": func(backend backends.Backend, cfg Config, params parameters.Params) (*Model, error) {
		return NewUnstructuredModel(backend, cfg)
	},
	"se": func(backend backends.Backend, cfg Config, params parameters.Params) (*Model, error) {
		p, err := parameters.PopParamOr(params, "p", 2)
		if err != nil {
			return nil, err
		}
		return NewStructuredEmbedding(backend, cfg, p)
	},
	"transd": func(backend backends.Backend, cfg Config, params parameters.Params) (*Model, error) {
		p, err := parameters.PopParamOr(params, "p", 2)
		if err != nil {
			return nil, err
		}
		return NewTransD(backend, cfg, p)
	},
	"transr": func(backend backends.Backend, cfg Config, params parameters.Params) (*Model, error) {
		return NewTransR(backend, cfg)
	},
	"distmult": func(backend backends.Backend, cfg Config, params parameters.Params) (*Model, error) {
		return NewDistMult(backend, cfg)
	},
	"complex": func(backend backends.Backend, cfg Config, params parameters.Params) (*Model, error) {
		return NewComplEx(backend, cfg)
	},
	"rotate": func(backend backends.Backend, cfg Config, params parameters.Params) (*Model, error) {
		return NewRotatE(backend, cfg)
	},
	"hole": func(backend backends.Backend, cfg Config, params parameters.Params) (*Model, error) {
		return NewHolE(backend, cfg)
	},
	"rescal": func(backend backends.Backend, cfg Config, params parameters.Params) (*Model, error) {
		return NewRESCAL(backend, cfg)
	},
	"proje": func(backend backends.Backend, cfg Config, params parameters.Params) (*Model, error) {
		return NewProjE(backend, cfg)
	},
	"ermlp": func(backend backends.Backend, cfg Config, params parameters.Params) (*Model, error) {
		hiddenDim, err := parameters.PopParamOr(params, "hidden_dim", 0)
		if err != nil {
			return nil, err
		}
		return NewERMLP(backend, cfg, hiddenDim)
	},
	"ermlpe": func(backend backends.Backend, cfg Config, params parameters.Params) (*Model, error) {
		var icfg interactions.ERMLPEConfig
		var err error
		if icfg.HiddenDim, err = parameters.PopParamOr(params, "hidden_dim", 0); err != nil {
			return nil, err
		}
		if icfg.InputDropout, err = parameters.PopParamOr(params, "input_dropout", 0.0); err != nil {
			return nil, err
		}
		if icfg.HiddenDropout, err = parameters.PopParamOr(params, "hidden_dropout", 0.0); err != nil {
			return nil, err
		}
		return NewERMLPE(backend, cfg, icfg)
	},
	"conve": func(backend backends.Backend, cfg Config, params parameters.Params) (*Model, error) {
		var icfg interactions.ConvEConfig
		var err error
		if icfg.InputChannels, err = parameters.PopParamOr(params, "channels", 0); err != nil {
			return nil, err
		}
		if icfg.EmbeddingHeight, err = parameters.PopParamOr(params, "height", 0); err != nil {
			return nil, err
		}
		if icfg.EmbeddingWidth, err = parameters.PopParamOr(params, "width", 0); err != nil {
			return nil, err
		}
		if icfg.OutputChannels, err = parameters.PopParamOr(params, "output_channels", 0); err != nil {
			return nil, err
		}
		if icfg.KernelHeight, err = parameters.PopParamOr(params, "kernel_height", 0); err != nil {
			return nil, err
		}
		if icfg.KernelWidth, err = parameters.PopParamOr(params, "kernel_width", 0); err != nil {
			return nil, err
		}
		return NewConvE(backend, cfg, icfg)
	},
	"convkb": func(backend backends.Backend, cfg Config, params parameters.Params) (*Model, error) {
		var icfg interactions.ConvKBConfig
		var err error
		if icfg.NumFilters, err = parameters.PopParamOr(params, "num_filters", 0); err != nil {
			return nil, err
		}
		if icfg.HiddenDropout, err = parameters.PopParamOr(params, "hidden_dropout", 0.0); err != nil {
			return nil, err
		}
		return NewConvKB(backend, cfg, icfg)
	},
	"tucker": func(backend backends.Backend, cfg Config, params parameters.Params) (*Model, error) {
		return NewTucker(backend, cfg, interactions.TuckerConfig{})
	},
	"ntn": func(backend backends.Backend, cfg Config, params parameters.Params) (*Model, error) {
		numSlices, err := parameters.PopParamOr(params, "num_slices", 0)
		if err != nil {
			return nil, err
		}
		return NewNTN(backend, cfg, numSlices)
	},
	"kg2e": func(backend backends.Backend, cfg Config, params parameters.Params) (*Model, error) {
		var kcfg KG2EConfig
		var err error
		if kcfg.Similarity, err = parameters.PopParamOr(params, "similarity", ""); err != nil {
			return nil, err
		}
		if kcfg.CMin, err = parameters.PopParamOr(params, "c_min", float32(0)); err != nil {
			return nil, err
		}
		if kcfg.CMax, err = parameters.PopParamOr(params, "c_max", float32(0)); err != nil {
			return nil, err
		}
		return NewKG2E(backend, cfg, kcfg)
	},
}

func modelNames() string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
