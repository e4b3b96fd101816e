// Package corridor holds the read-only catalog of payment corridors
package corridor

import (
	"github.com/deltran/corridorsim/internal/types"
	"github.com/deltran/corridorsim/internal/validation"
	"go.uber.org/zap"
)

// Registry is an ordered, immutable set of validated corridors
type Registry struct {
	corridors []types.Corridor
	index     map[string]int
}

// Load builds a registry from the embedded catalog
func Load(logger *zap.Logger) (*Registry, error) {
	corridors, err := Decode(embeddedCatalog)
	if err != nil {
		return nil, err
	}
	return New(corridors, logger)
}

// LoadFile builds a registry from a catalog file on disk
func LoadFile(path string, logger *zap.Logger) (*Registry, error) {
	corridors, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return New(corridors, logger)
}

// New validates corridors and builds the registry. A single defect rejects
// the whole catalog.
func New(corridors []types.Corridor, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := validation.New(logger).ValidateCatalog(corridors); err != nil {
		return nil, err
	}

	r := &Registry{
		corridors: make([]types.Corridor, len(corridors)),
		index:     make(map[string]int, len(corridors)),
	}
	copy(r.corridors, corridors)
	for i, c := range r.corridors {
		r.index[c.ID] = i
	}

	logger.Info("Corridor catalog loaded", zap.Int("corridors", len(r.corridors)))
	return r, nil
}

// Get returns the corridor with the given id
func (r *Registry) Get(id string) (*types.Corridor, error) {
	i, ok := r.index[id]
	if !ok {
		return nil, types.NewError(types.ErrorCodeNotFound, "corridor not found", id)
	}
	return &r.corridors[i], nil
}

// List returns all corridors in authored order
func (r *Registry) List() []*types.Corridor {
	out := make([]*types.Corridor, len(r.corridors))
	for i := range r.corridors {
		out[i] = &r.corridors[i]
	}
	return out
}

// IDs returns the corridor ids in authored order
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.corridors))
	for i, c := range r.corridors {
		ids[i] = c.ID
	}
	return ids
}

// Len returns the number of corridors
func (r *Registry) Len() int {
	return len(r.corridors)
}

// First returns the first corridor in authored order
func (r *Registry) First() *types.Corridor {
	return &r.corridors[0]
}

// Steps returns the step sequence of a corridor for a settlement method
func (r *Registry) Steps(id string, method types.SettlementMethod) ([]types.Step, error) {
	c, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return c.Steps(method)
}
