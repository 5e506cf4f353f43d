// Package bnn evaluates the 4→4→2 binarized network that turns a feature
// vector into a two-class maturity decision. Weight rows are 4-bit sign
// masks and matching is XNOR-popcount, so the whole forward pass is a
// handful of bit operations per neuron.
package bnn

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WeightConfiguration is a trained parameter set. It is produced by an
// offline training process, loaded once at startup, and never mutated.
// A weight bit of 1 stands for +1 and 0 for −1; a match between an input
// bit and a weight bit contributes +1 to the neuron's score.
type WeightConfiguration struct {
	// Version tags the training run the parameters came from.
	Version string `json:"version"`

	// InputHidden holds one 4-bit weight row per hidden neuron.
	InputHidden [4]uint8 `json:"input_hidden"`

	// HiddenOutput holds one 4-bit weight row per output class.
	HiddenOutput [2]uint8 `json:"hidden_output"`

	// HiddenBias holds one signed bias per hidden neuron, added to the
	// match count before the sign activation.
	HiddenBias [4]int8 `json:"hidden_bias"`
}

// DefaultWeights returns the compiled-in reference parameter set.
func DefaultWeights() WeightConfiguration {
	return WeightConfiguration{
		Version:      "ref-2024.1",
		InputHidden:  [4]uint8{0b1011, 0b1101, 0b0111, 0b1110},
		HiddenOutput: [2]uint8{0b0001, 0b1110},
		HiddenBias:   [4]int8{-2, -2, -2, -3},
	}
}

// Validate checks the parameter set is structurally sound: 4-bit weight
// rows, biases within the signed-nibble range, and a version tag present.
// It cannot detect a mismatch with the binarization cut points; that
// contract is checked at training time, not here.
func (w WeightConfiguration) Validate() error {
	if w.Version == "" {
		return fmt.Errorf("weight configuration has no version tag")
	}
	for i, row := range w.InputHidden {
		if row > 0xF {
			return fmt.Errorf("input-hidden row %d is %#x, exceeds 4 bits", i, row)
		}
	}
	for i, row := range w.HiddenOutput {
		if row > 0xF {
			return fmt.Errorf("hidden-output row %d is %#x, exceeds 4 bits", i, row)
		}
	}
	for i, bias := range w.HiddenBias {
		if bias < -8 || bias > 7 {
			return fmt.Errorf("hidden bias %d is %d, outside [-8, 7]", i, bias)
		}
	}
	return nil
}

// LoadWeights loads a WeightConfiguration from a JSON file. The file must
// have a .json extension and stay under the max file size; the decoded
// parameters are validated before use.
func LoadWeights(path string) (WeightConfiguration, error) {
	var w WeightConfiguration

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return w, fmt.Errorf("weights file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return w, fmt.Errorf("failed to stat weights file: %w", err)
	}
	const maxFileSize = 64 * 1024
	if fileInfo.Size() > maxFileSize {
		return w, fmt.Errorf("weights file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return w, fmt.Errorf("failed to read weights file: %w", err)
	}

	if err := json.Unmarshal(data, &w); err != nil {
		return w, fmt.Errorf("failed to parse weights JSON: %w", err)
	}

	if err := w.Validate(); err != nil {
		return w, fmt.Errorf("invalid weights: %w", err)
	}

	return w, nil
}
