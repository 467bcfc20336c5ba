package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the name of the run manifest written next to the outputs.
const ManifestFile = "manifest.yaml"

// Manifest describes one pipeline run and the artifacts it produced.
type Manifest struct {
	RunID      string            `yaml:"run_id" json:"run_id"`
	StartedAt  time.Time         `yaml:"started_at" json:"started_at"`
	FinishedAt time.Time         `yaml:"finished_at" json:"finished_at"`
	Years      []int             `yaml:"years" json:"years"`
	TopN       int               `yaml:"top_n" json:"top_n"`
	Labels     map[string]string `yaml:"labels" json:"labels"`
	Inputs     []InputFile       `yaml:"inputs" json:"inputs"`
	Outputs    []string          `yaml:"outputs" json:"outputs"`
	Rows       int               `yaml:"rows" json:"rows"`
	Fallbacks  int               `yaml:"numeric_fallbacks" json:"numeric_fallbacks"`
}

// InputFile records how one input file was read.
type InputFile struct {
	Path     string `yaml:"path" json:"path"`
	Encoding string `yaml:"encoding,omitempty" json:"encoding,omitempty"`
	Rows     int    `yaml:"rows" json:"rows"`
	Error    string `yaml:"error,omitempty" json:"error,omitempty"`
}

// WriteManifest writes m as YAML to dir/manifest.yaml.
func WriteManifest(dir string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return writeAtomic(filepath.Join(dir, ManifestFile), func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// LoadManifest reads a manifest written by WriteManifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if m.RunID == "" {
		return nil, fmt.Errorf("manifest %s: missing run_id", path)
	}
	return &m, nil
}
