package bnn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultWeights(t *testing.T) {
	w := DefaultWeights()
	require.NoError(t, w.Validate())
	assert.Equal(t, "ref-2024.1", w.Version)
}

func TestWeightConfiguration_Validate(t *testing.T) {
	valid := DefaultWeights()

	tests := []struct {
		name   string
		mutate func(*WeightConfiguration)
		errStr string
	}{
		{
			name:   "missing version",
			mutate: func(w *WeightConfiguration) { w.Version = "" },
			errStr: "no version",
		},
		{
			name:   "wide input-hidden row",
			mutate: func(w *WeightConfiguration) { w.InputHidden[2] = 0x10 },
			errStr: "input-hidden row 2",
		},
		{
			name:   "wide hidden-output row",
			mutate: func(w *WeightConfiguration) { w.HiddenOutput[1] = 0xFF },
			errStr: "hidden-output row 1",
		},
		{
			name:   "bias below range",
			mutate: func(w *WeightConfiguration) { w.HiddenBias[0] = -9 },
			errStr: "hidden bias 0",
		},
		{
			name:   "bias above range",
			mutate: func(w *WeightConfiguration) { w.HiddenBias[3] = 8 },
			errStr: "hidden bias 3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := valid
			tt.mutate(&w)
			err := w.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errStr)
		})
	}

	assert.NoError(t, valid.Validate())
}

func TestLoadWeights(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weights.json")
	doc := `{
		"version": "field-2025.2",
		"input_hidden": [11, 13, 7, 14],
		"hidden_output": [1, 14],
		"hidden_bias": [-2, -2, -2, -3]
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	w, err := LoadWeights(path)
	require.NoError(t, err)
	assert.Equal(t, "field-2025.2", w.Version)
	assert.Equal(t, [4]uint8{11, 13, 7, 14}, w.InputHidden)
	assert.Equal(t, [2]uint8{1, 14}, w.HiddenOutput)
	assert.Equal(t, [4]int8{-2, -2, -2, -3}, w.HiddenBias)
}

func TestLoadWeights_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("wrong extension", func(t *testing.T) {
		_, err := LoadWeights(filepath.Join(dir, "weights.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), ".json extension")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadWeights(filepath.Join(dir, "absent.json"))
		require.Error(t, err)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		path := filepath.Join(dir, "broken.json")
		require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o644))
		_, err := LoadWeights(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse weights JSON")
	})

	t.Run("out-of-range values", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.json")
		doc := `{"version": "x", "input_hidden": [16, 0, 0, 0], "hidden_output": [0, 0], "hidden_bias": [0, 0, 0, 0]}`
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
		_, err := LoadWeights(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid weights")
	})
}
