// Package provider holds the immutable registry of paid generation
// back-ends and the adapters that call them.
package provider

import (
	"cmp"
	"context"
	"math"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-cache/internal/model"
)

// Backend generates content for one provider.
type Backend interface {
	Generate(ctx context.Context, capability model.Capability, req model.GenerationRequest) (*model.GenerationOutput, error)
}

// FuncBackend adapts a plain function to Backend.
type FuncBackend func(ctx context.Context, capability model.Capability, req model.GenerationRequest) (*model.GenerationOutput, error)

// Generate calls f.
func (f FuncBackend) Generate(ctx context.Context, capability model.Capability, req model.GenerationRequest) (*model.GenerationOutput, error) {
	return f(ctx, capability, req)
}

// Spec declares a provider: its price per unit and what it can generate.
type Spec struct {
	Name         string             `yaml:"name" json:"name"`
	Backend      string             `yaml:"backend" json:"backend"`
	Model        string             `yaml:"model,omitempty" json:"model,omitempty"`
	UnitCost     float64            `yaml:"unit_cost" json:"unit_cost"`
	Capabilities []model.Capability `yaml:"capabilities" json:"capabilities"`
}

// Supports reports whether the spec lists capability.
func (s Spec) Supports(capability model.Capability) bool {
	return slices.Contains(s.Capabilities, capability)
}

// Entry is a registry row. Backend is nil when the provider is not
// configured.
type Entry struct {
	Spec
	Configured bool    `json:"configured"`
	Backend    Backend `json:"-"`
}

// Registry lists providers in declaration order and answers routing
// queries. It is immutable after NewRegistry and safe for concurrent use.
type Registry struct {
	entries   []Entry
	available map[model.Capability][]Entry
}

// NewRegistry builds a registry from specs. A spec is configured when
// backends has an entry for its name. Duplicate names, negative costs and
// unknown capabilities are rejected.
func NewRegistry(specs []Spec, backends map[string]Backend) (*Registry, error) {
	seen := make(map[string]struct{}, len(specs))
	r := &Registry{
		entries:   make([]Entry, 0, len(specs)),
		available: make(map[model.Capability][]Entry),
	}

	for _, s := range specs {
		if s.Name == "" {
			return nil, eris.New("provider: spec with empty name")
		}
		if _, dup := seen[s.Name]; dup {
			return nil, eris.Errorf("provider: duplicate provider %q", s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.UnitCost < 0 || math.IsNaN(s.UnitCost) || math.IsInf(s.UnitCost, 0) {
			return nil, eris.Errorf("provider: %s: invalid unit cost %v", s.Name, s.UnitCost)
		}
		for _, c := range s.Capabilities {
			if _, ok := model.ParseCapability(string(c)); !ok {
				return nil, eris.Errorf("provider: %s: unknown capability %q", s.Name, c)
			}
		}

		b := backends[s.Name]
		e := Entry{Spec: s, Configured: b != nil, Backend: b}
		r.entries = append(r.entries, e)
		if !e.Configured {
			continue
		}
		for _, c := range s.Capabilities {
			r.available[c] = append(r.available[c], e)
		}
	}

	for c := range r.available {
		slices.SortStableFunc(r.available[c], func(a, b Entry) int {
			return cmp.Compare(a.UnitCost, b.UnitCost)
		})
	}
	return r, nil
}

// Available returns configured providers supporting capability, cheapest
// first. Equal costs keep declaration order.
func (r *Registry) Available(capability model.Capability) []Entry {
	return slices.Clone(r.available[capability])
}

// ReferenceCost returns the highest unit cost among configured providers
// supporting capability, or 0 when there are none.
func (r *Registry) ReferenceCost(capability model.Capability) float64 {
	avail := r.available[capability]
	if len(avail) == 0 {
		return 0
	}
	return avail[len(avail)-1].UnitCost
}

// Entries returns every declared provider in declaration order.
func (r *Registry) Entries() []Entry {
	return slices.Clone(r.entries)
}
