package transcribe

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Reference is an audio sample with its known transcript.
type Reference struct {
	Label      string  `json:"label"`
	File       string  `json:"file"` // relative to the references file
	Transcript string  `json:"transcript"`
	DurationS  float64 `json:"duration_sec"`
}

type referenceSet struct {
	Samples []Reference `json:"samples"`
}

// LoadReferences reads a references.json file. Sample paths are resolved
// against the file's directory.
func LoadReferences(path string) ([]Reference, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("transcribe: read references: %w", err)
	}

	var set referenceSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("transcribe: parse references: %w", err)
	}

	dir := filepath.Dir(path)
	for i, s := range set.Samples {
		if s.File == "" {
			return nil, fmt.Errorf("transcribe: reference %d (%q) has no file", i, s.Label)
		}
		if s.Label == "" {
			set.Samples[i].Label = s.File
		}
		if !filepath.IsAbs(s.File) {
			set.Samples[i].File = filepath.Join(dir, s.File)
		}
	}
	return set.Samples, nil
}
