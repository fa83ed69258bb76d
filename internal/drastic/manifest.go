package drastic

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/drastic-cli/internal/raster"
)

// Manifest is the run summary written next to the rasters.
type Manifest struct {
	RunID       string            `yaml:"run_id" json:"run_id"`
	CreatedAt   time.Time         `yaml:"created_at" json:"created_at"`
	Expression  string            `yaml:"expression" json:"expression"`
	Grid        raster.GridSpec   `yaml:"grid" json:"grid"`
	Inputs      map[string]string `yaml:"inputs" json:"inputs"`
	Stages      []StageRecord     `yaml:"stages" json:"stages"`
	Factors     map[string]string `yaml:"factors" json:"factors"`
	Output      string            `yaml:"output" json:"output"`
	Destination string            `yaml:"destination" json:"destination"`
	Checksum    string            `yaml:"checksum" json:"checksum"`
	Stats       raster.Stats      `yaml:"stats" json:"stats"`
}

// ReadManifest loads a manifest written by a previous run.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "drastic: read manifest %s", path)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "drastic: parse manifest %s", path)
	}
	return &m, nil
}

func writeManifest(r *runState, res *Result) (string, error) {
	m := Manifest{
		RunID:       res.RunID,
		CreatedAt:   time.Now().UTC(),
		Expression:  r.cfg.Weights.Expression(),
		Grid:        r.spec,
		Inputs:      r.cfg.Inputs().Sources,
		Stages:      res.Stages,
		Factors:     factorMap(res.Factors),
		Output:      res.Output,
		Destination: res.Destination,
		Checksum:    res.Checksum,
		Stats:       res.Stats,
	}
	data, err := yaml.Marshal(&m)
	if err != nil {
		return "", eris.Wrap(err, "drastic: encode manifest")
	}
	path := r.path(ManifestFile)
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
		return "", eris.Wrapf(err, "drastic: write manifest %s", path)
	}
	return path, nil
}
