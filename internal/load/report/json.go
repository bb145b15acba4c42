// Package report writes run results to disk.
package report

import (
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/wesleyorama2/prload/internal/load/engine"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MarshalSummary encodes result as indented JSON.
func MarshalSummary(result *engine.TestResult) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("result cannot be nil")
	}
	return json.MarshalIndent(result, "", "  ")
}

// WriteSummary writes the JSON summary of result to w.
func WriteSummary(w io.Writer, result *engine.TestResult) error {
	data, err := MarshalSummary(result)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// ExportSummary writes the JSON summary of result to path, replacing any
// existing file.
func ExportSummary(result *engine.TestResult, path string) error {
	data, err := MarshalSummary(result)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write summary file: %w", err)
	}
	return nil
}
