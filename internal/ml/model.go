package ml

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	ErrUnknownModel = errors.New("unknown model")
	ErrBadInput     = errors.New("bad model input")
)

// Record is one input item of a prediction request.
type Record map[string]any

type Prediction struct {
	Prediction float64 `json:"prediction"`
	Confidence float64 `json:"confidence"`
}

// Model returns exactly one prediction per input record, in input order.
type Model interface {
	Predict(ctx context.Context, data []Record) ([]Prediction, error)
}

// ExampleModel is the stub model: it alternates 0/1 with a fixed confidence.
type ExampleModel struct{}

func (ExampleModel) Predict(ctx context.Context, data []Record) ([]Prediction, error) {
	out := make([]Prediction, len(data))
	for i := range data {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = Prediction{Prediction: float64(i % 2), Confidence: 0.95}
	}
	return out, nil
}

type Registry struct {
	mu     sync.RWMutex
	models map[string]Model
}

func NewRegistry() *Registry {
	return &Registry{models: make(map[string]Model)}
}

func (r *Registry) Register(name string, m Model) error {
	if name == "" || m == nil {
		return errors.New("model name and implementation required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[name]; ok {
		return errors.New("model already registered: " + name)
	}
	r.models[name] = m
	return nil
}

func (r *Registry) Get(name string) (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	if !ok {
		return nil, ErrUnknownModel
	}
	return m, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
