package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/neuralode/internal/ode"
)

func TestDefaults_Valid(t *testing.T) {
	h := Defaults()
	require.NoError(t, h.Validate())
	assert.Equal(t, "odenet", h.Network)
	assert.Equal(t, 1e-3, h.Tol)
	assert.Equal(t, []int{60, 100, 140}, h.BoundaryEpochs)
	assert.Equal(t, 128, h.BatchDenom)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
network: resnet
adjoint: true
width: 32
boundary_epochs: [1, 2]
decay_rates: [1, 0.5, 0.25]
`), 0o644))

	h, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "resnet", h.Network)
	assert.True(t, h.Adjoint)
	assert.Equal(t, 32, h.Width)
	assert.Equal(t, []int{1, 2}, h.BoundaryEpochs)
	assert.Equal(t, 160, h.NEpochs, "unset keys keep their defaults")
}

func TestParse_Errors(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown key":    "widht: 3\n",
		"bad network":    "network: mlp\n",
		"bad method":     "method: adams\n",
		"zero tol":       "tol: 0\n",
		"rates mismatch": "decay_rates: [1, 0.1]\n",
		"decreasing":     "boundary_epochs: [5, 3, 9]\n",
		"momentum":       "momentum: 1.5\n",
		"batch size":     "batch_size: 0\n",
		"wrong type":     "width: wide\n",
		"norm groups":    "width: 48\n",
	} {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, name)
	}

	h, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), h)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	h := Defaults()
	width, adjoint, lr, seed, method := 16, true, 0.05, int64(9), "rk4"
	h.ApplyOverrides(Overrides{Width: &width, Adjoint: &adjoint, LR: &lr, Seed: &seed, Method: &method})
	assert.Equal(t, 16, h.Width)
	assert.True(t, h.Adjoint)
	assert.Equal(t, 0.05, h.LR)
	assert.Equal(t, int64(9), h.Seed)
	assert.Equal(t, "rk4", h.Method)
	assert.Equal(t, 128, h.BatchSize)

	off := false
	h.ApplyOverrides(Overrides{DataAug: &off})
	assert.False(t, h.DataAug)
}

func TestMarshalRoundTrip(t *testing.T) {
	h := Defaults()
	h.Width = 8
	h.Synthetic = true
	out, err := h.Marshal()
	require.NoError(t, err)
	assert.Contains(t, out, "width: 8")

	back, err := Parse([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, h, back)
}

func TestConversions(t *testing.T) {
	h := Defaults()
	h.Tol = 1e-4
	h.Method = "rk4"
	h.StepSize = 0.25
	opts := h.SolverOptions()
	assert.Equal(t, ode.RK4, opts.Method)
	assert.Equal(t, 1e-4, opts.RTol)
	assert.Equal(t, 1e-4, opts.ATol)
	assert.Equal(t, 0.25, opts.StepSize)

	mc := h.ModelConfig()
	assert.Equal(t, 64, mc.Width)
	assert.Equal(t, 10, mc.Classes)
	assert.Equal(t, ode.RK4, mc.Solver.Method)
}
