package provider

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-cache/internal/model"
)

func nopBackend() Backend {
	return FuncBackend(func(_ context.Context, _ model.Capability, _ model.GenerationRequest) (*model.GenerationOutput, error) {
		return &model.GenerationOutput{Text: "ok"}, nil
	})
}

func textSpec(name string, cost float64) Spec {
	return Spec{Name: name, UnitCost: cost, Capabilities: []model.Capability{model.CapabilityText}}
}

func names(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestRegistry_AvailableSortedByCost(t *testing.T) {
	specs := []Spec{
		textSpec("premium", 0.040),
		textSpec("cheap", 0.002),
		textSpec("mid", 0.004),
	}
	r, err := NewRegistry(specs, map[string]Backend{
		"premium": nopBackend(), "cheap": nopBackend(), "mid": nopBackend(),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"cheap", "mid", "premium"}, names(r.Available(model.CapabilityText)))
	assert.InDelta(t, 0.040, r.ReferenceCost(model.CapabilityText), 1e-12)
}

func TestRegistry_EqualCostKeepsDeclarationOrder(t *testing.T) {
	specs := []Spec{textSpec("b", 0.01), textSpec("a", 0.01), textSpec("c", 0.001)}
	r, err := NewRegistry(specs, map[string]Backend{"a": nopBackend(), "b": nopBackend(), "c": nopBackend()})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, names(r.Available(model.CapabilityText)))
}

func TestRegistry_UnconfiguredAndIncapableExcluded(t *testing.T) {
	specs := []Spec{
		textSpec("no-creds", 0.001),
		{Name: "imager", UnitCost: 0.02, Capabilities: []model.Capability{model.CapabilityImage}},
		{Name: "both", UnitCost: 0.05, Capabilities: []model.Capability{model.CapabilityText, model.CapabilityImage}},
	}
	r, err := NewRegistry(specs, map[string]Backend{"imager": nopBackend(), "both": nopBackend()})
	require.NoError(t, err)

	assert.Equal(t, []string{"both"}, names(r.Available(model.CapabilityText)))
	assert.Equal(t, []string{"imager", "both"}, names(r.Available(model.CapabilityImage)))
	assert.InDelta(t, 0.05, r.ReferenceCost(model.CapabilityText), 1e-12)

	entries := r.Entries()
	require.Len(t, entries, 3)
	assert.False(t, entries[0].Configured)
	assert.True(t, entries[1].Configured)
}

func TestRegistry_ReferenceCostEmpty(t *testing.T) {
	r, err := NewRegistry(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, r.Available(model.CapabilityText))
	assert.Zero(t, r.ReferenceCost(model.CapabilityText))
}

func TestRegistry_AvailableReturnsCopy(t *testing.T) {
	r, err := NewRegistry([]Spec{textSpec("a", 1), textSpec("b", 2)}, map[string]Backend{"a": nopBackend(), "b": nopBackend()})
	require.NoError(t, err)
	got := r.Available(model.CapabilityText)
	got[0], got[1] = got[1], got[0]
	assert.Equal(t, []string{"a", "b"}, names(r.Available(model.CapabilityText)))
}

func TestNewRegistry_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		specs []Spec
		want  string
	}{
		{"duplicate", []Spec{textSpec("a", 1), textSpec("a", 2)}, "duplicate"},
		{"negative", []Spec{textSpec("a", -1)}, "invalid unit cost"},
		{"empty name", []Spec{textSpec("", 1)}, "empty name"},
		{"bad capability", []Spec{{Name: "a", Capabilities: []model.Capability{"video"}}}, "unknown capability"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.specs, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadSpecs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
providers:
  - name: sonar
    backend: perplexity
    model: sonar
    unit_cost: 0.002
    capabilities: [text]
  - name: gpt-image
    backend: openai
    model: gpt-image-1
    unit_cost: 0.04
    capabilities: [image]
`), 0o600))

	specs, err := LoadSpecs(path)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "sonar", specs[0].Name)
	assert.Equal(t, KindPerplexity, specs[0].Backend)
	assert.InDelta(t, 0.002, specs[0].UnitCost, 1e-12)
	assert.True(t, specs[1].Supports(model.CapabilityImage))
	assert.False(t, specs[1].Supports(model.CapabilityText))
}

func TestLoadSpecs_Errors(t *testing.T) {
	_, err := LoadSpecs(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = ParseSpecs([]byte("providers: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse registry")
}
