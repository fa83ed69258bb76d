package model

import (
	"time"

	"github.com/sells-group/drastic-cli/internal/raster"
)

// RunStatus represents the current state of a vulnerability run.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusComplete  RunStatus = "complete"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether no further transitions are expected.
func (s RunStatus) Terminal() bool {
	return s == RunStatusComplete || s == RunStatusFailed || s == RunStatusCancelled
}

// RunInputs captures what a run was asked to compute.
type RunInputs struct {
	Sources     map[string]string  `json:"sources" yaml:"sources"`
	Extent      string             `json:"extent" yaml:"extent"`
	CellSize    float64            `json:"cell_size" yaml:"cell_size"`
	EPSG        int                `json:"epsg" yaml:"epsg"`
	OutputDir   string             `json:"output_dir" yaml:"output_dir"`
	Destination string             `json:"destination" yaml:"destination"`
	Weights     map[string]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
}

// Run represents a single pipeline execution.
type Run struct {
	ID        string     `json:"id"`
	Inputs    RunInputs  `json:"inputs"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the outputs of a completed run.
type RunResult struct {
	OutputDir   string            `json:"output_dir" yaml:"output_dir"`
	Destination string            `json:"destination" yaml:"destination"`
	Factors     map[string]string `json:"factors" yaml:"factors"`
	Checksum    string            `json:"checksum" yaml:"checksum"`
	Stats       raster.Stats      `json:"stats" yaml:"stats"`
	Duration    int64             `json:"duration_ms" yaml:"duration_ms"`
}

// RunPhase represents one stage within a run.
type RunPhase struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Name      string       `json:"name"`
	Status    PhaseStatus  `json:"status"`
	Result    *PhaseResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// PhaseStatus represents the current state of a pipeline stage.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// PhaseResult holds the outcome of a pipeline stage.
type PhaseResult struct {
	Name     string         `json:"name"`
	Status   PhaseStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Progress int            `json:"progress"`
	Output   string         `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
